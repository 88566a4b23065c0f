// Command kobwire is a standalone smoke-test CLI for the wire protocol: it
// connects to a server, prints every station-presence and code event it
// receives, and lets the operator type text to send as a keyboard source.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/kobnet/kobengine/internal/code"
	"github.com/kobnet/kobengine/internal/codetable"
	"github.com/kobnet/kobengine/internal/morse"
	"github.com/kobnet/kobengine/internal/wire"
	"github.com/spf13/pflag"
)

type observer struct{}

func (observer) OnSenderChanged(stationID string) {
	fmt.Printf("\n[sender: %s]\n", stationID)
}

func (observer) OnCodeReceived(seq code.Sequence) {
	fmt.Printf("code: %v\n", []code.Element(seq))
}

func main() {
	var (
		server   = pflag.StringP("server", "s", "", "server address, host:port")
		station  = pflag.StringP("station", "i", "N0CALL", "this station's id")
		wireNo   = pflag.IntP("wire", "w", 1, "wire number")
		codeType = pflag.String("code", "AMERICAN", "code table: AMERICAN or INTERNATIONAL")
	)
	pflag.Parse()

	if *server == "" {
		fmt.Fprintln(os.Stderr, "usage: kobwire -s host:port -i STATION [-w WIRE]")
		os.Exit(2)
	}

	client, err := wire.New(*server, *station, observer{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "kobwire: %v\n", err)
		os.Exit(1)
	}
	if err := client.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "kobwire: connect: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	go func() {
		if err := client.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "kobwire: read loop ended: %v\n", err)
		}
	}()

	ctype := code.American
	if *codeType == "INTERNATIONAL" {
		ctype = code.International
	}
	tbl, err := codetable.Default(ctype)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kobwire: %v\n", err)
		os.Exit(1)
	}
	enc := morse.NewEncoder(tbl, morse.Speed{CharWPM: 18, Type: ctype})

	fmt.Printf("connected to wire %d as %s; type text and press enter to send\n", *wireNo, *station)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		for _, ch := range line {
			seq := enc.Encode(ch)
			if len(seq) == 0 {
				continue
			}
			if err := client.Write(seq); err != nil {
				fmt.Fprintf(os.Stderr, "kobwire: write: %v\n", err)
			}
		}
		// Word space between lines so consecutive sends don't run together.
		client.Write(code.Sequence{-2000})
	}
}
