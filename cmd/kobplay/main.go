// Command kobplay is a standalone CLI for replaying a .pkrec recording
// through the console: it doesn't touch hardware or the wire, only the
// recorder.Player and decoder pipeline, so a recording can be reviewed
// offline.
package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/kobnet/kobengine/internal/code"
	"github.com/kobnet/kobengine/internal/codetable"
	"github.com/kobnet/kobengine/internal/morse"
	"github.com/kobnet/kobengine/internal/recorder"
	"github.com/spf13/pflag"
)

func main() {
	var (
		speedPct  = pflag.IntP("speed", "s", 100, "playback speed as a percentage of recorded speed")
		maxSilent = pflag.Duration("max-silence", 10*time.Second, "cap on any single recorded gap")
		codeType  = pflag.String("code", "INTERNATIONAL", "code table: AMERICAN or INTERNATIONAL")
	)
	pflag.Parse()

	if pflag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: kobplay [flags] <recording.pkrec>")
		os.Exit(2)
	}
	path := pflag.Arg(0)

	ctype := code.International
	if *codeType == "AMERICAN" {
		ctype = code.American
	}
	tbl, err := codetable.Default(ctype)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kobplay: %v\n", err)
		os.Exit(1)
	}
	dec := morse.NewDecoder(tbl, morse.Speed{CharWPM: 18, Type: ctype}, func(text string, _ float64) {
		fmt.Print(text)
	})

	player := recorder.New(
		func(seq code.Sequence, _ code.Source) { dec.Decode(seq) },
		func(stationID string) { fmt.Printf("\n--- %s ---\n", stationID) },
		*maxSilent,
	)
	player.SetSpeedFactor(*speedPct)

	if err := player.Start(path); err != nil {
		fmt.Fprintf(os.Stderr, "kobplay: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintln(os.Stderr, "playing; p=pause r=resume <=seek back =>seek fwd q=quit")
	go interactiveControls(player)

	<-player.Done()
}

func interactiveControls(player *recorder.Player) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch scanner.Text() {
		case "p":
			player.Pause()
		case "r":
			player.Resume()
		case "<":
			player.SeekSeconds(-10 * time.Second)
		case ">":
			player.SeekSeconds(10 * time.Second)
		case "q":
			player.Stop()
			return
		}
	}
}
