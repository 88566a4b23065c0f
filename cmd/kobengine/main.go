// Command kobengine is the primary entry point: it loads a configuration
// file, builds an Engine around the hardware/wire/recorder components that
// configuration selects, and runs until interrupted.
package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kobnet/kobengine/internal/code"
	"github.com/kobnet/kobengine/internal/codetable"
	"github.com/kobnet/kobengine/internal/config"
	"github.com/kobnet/kobengine/internal/engine"
	"github.com/kobnet/kobengine/internal/hardware"
	"github.com/kobnet/kobengine/internal/keyer"
	"github.com/kobnet/kobengine/internal/klog"
	"github.com/kobnet/kobengine/internal/kobio"
	"github.com/kobnet/kobengine/internal/morse"
	"github.com/kobnet/kobengine/internal/sounder"
	"github.com/kobnet/kobengine/internal/wire"
	"github.com/spf13/pflag"
)

func main() {
	var (
		configPath  = pflag.StringP("config", "c", "kobengine.json", "configuration file")
		closerTest  = pflag.Bool("closer-test", false, "run the closer self-test and exit")
		stationsCSV = pflag.String("stations", "stations.yaml", "station directory cache file")
	)
	pflag.Parse()

	snap, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kobengine: %v\n", err)
		os.Exit(1)
	}

	log := klog.New(os.Stderr, klog.ParseLevel(snap.LoggingLevel))

	if *closerTest {
		runCloserTest(log)
		return
	}

	stations, err := kobio.LoadStationDirectory(*stationsCSV)
	if err != nil {
		log.Error("station directory load failed, starting empty", "err", err)
		stations = kobio.NewStationDirectory(*stationsCSV)
	}

	e, err := buildEngine(snap, log, stations)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}
	e.Start()
	defer e.Exit()

	if !snap.UseGPIO && !snap.UseSerial {
		go func() {
			if err := runKeyboardSender(e); err != nil {
				log.Error("keyboard sender ended", "err", err)
			}
		}()
	}

	if snap.AutoConnect {
		if err := e.Connect(); err != nil {
			log.Error("connect failed", "err", err)
		} else {
			e.SetRemoteSendEnabled(snap.Remote)
		}
	}

	log.Status("kobengine running", "station", snap.Station, "wire", snap.Wire)
	waitForSignal()
	log.Status("shutting down")
	stations.Save()
}

func buildEngine(snap config.Snapshot, log *klog.Logger, stations *kobio.StationDirectory) (*engine.Engine, error) {
	tbl, err := codetable.Default(snap.CodeTypeValue())
	if err != nil {
		return nil, fmt.Errorf("code table: %w", err)
	}

	speed := snap.Speed()
	enc := morse.NewEncoder(tbl, speed)
	dec := morse.NewDecoder(tbl, speed, nil)
	dec.SetDecodeAtDetected(snap.DecodeAtDetected)

	snd := buildSounder(snap, log)

	e := engine.New(snap.Station, enc, dec, snd, engine.Callbacks{
		OnChar: func(text string, _ float64) { fmt.Print(text) },
		OnSenderChanged: func(stationID string) {
			stations.Touch(stationID, time.Now())
			log.Info("sender changed", "station", stations.DisplayName(stationID))
		},
		OnError:  func(err error) { log.Error("engine error", "err", err) },
		OnStatus: func(msg string) { log.Status(msg) },
	})

	if err := attachHardware(e, snap, log); err != nil {
		log.Error("hardware attach failed, continuing without it", "err", err)
	}

	if snap.Wire > 0 && snap.ServerURL != "" {
		client, err := wire.New(snap.ServerURL, snap.Station, e)
		if err != nil {
			log.Error("wire client build failed", "err", err)
		} else {
			e.AttachWire(client)
		}
	}

	return e, nil
}

func buildSounder(snap config.Snapshot, log *klog.Logger) *sounder.Driver {
	var physical sounder.PhysicalOutput
	var synth sounder.SynthVoice

	if snap.UseGPIO {
		if s, err := sounder.OpenGPIOSounder("gpiochip0", 17, false); err == nil {
			physical = s
		} else {
			log.Error("gpio sounder unavailable", "err", err)
		}
	}
	if snap.AudioType == "TONE" {
		if v, err := sounder.NewToneVoice(600); err == nil {
			synth = v
		} else {
			log.Error("tone synth unavailable", "err", err)
		}
	} else if v, err := sounder.NewClickClackVoice(); err == nil {
		synth = v
	} else {
		log.Error("click/clack synth unavailable", "err", err)
	}

	powerSave := time.Duration(snap.SounderPowerSave) * time.Second
	return sounder.New(snap.InterfaceKind(), physical, synth, powerSave)
}

func attachHardware(e *engine.Engine, snap config.Snapshot, log *klog.Logger) error {
	if !snap.UseGPIO && !snap.UseSerial {
		return nil
	}

	var transport hardware.Transport
	var err error
	switch {
	case snap.UseSerial:
		port := snap.SerialPort
		if port == "" {
			if found, ok := hardware.FindVendorSerialPort("kob"); ok {
				port = found
			}
		}
		transport, err = hardware.OpenSerial(port)
	case snap.UseGPIO:
		transport, err = hardware.OpenGPIO("gpiochip0", 27)
	}
	if err != nil {
		return err
	}

	if snap.HardwareMode() == hardware.ModeKeyer {
		serialTransport, ok := transport.(*hardware.SerialTransport)
		if !ok {
			return fmt.Errorf("hardware: keyer mode requires a serial adapter (dit on key line, dah on the second modem line)")
		}
		k := keyer.New(time.Duration(1200/speedOf(snap))*time.Millisecond, e.KeyerCallback)
		poller := hardware.NewPaddlePoller(serialTransport, serialTransport.DahTransport(), snap.InvertKeyInput, k)
		e.AttachPaddle(poller)
		e.AttachKeyer(k.Run)
		return nil
	}

	poller := hardware.NewPoller(transport, snap.InvertKeyInput, e.KeyCallback)
	e.AttachHardware(poller)
	return nil
}

func speedOf(snap config.Snapshot) int {
	if snap.MinCharSpeed > 0 {
		return snap.MinCharSpeed
	}
	return 18
}

// runCloserTest exercises the closer open/close transitions against stdin,
// printing what the engine's decoder emits for each command. Grounded on
// original_source/Closer-Test.py's manual interactive probe.
func runCloserTest(log *klog.Logger) {
	tbl, err := codetable.Default(code.American)
	if err != nil {
		log.Error("closer test: code table", "err", err)
		return
	}
	enc := morse.NewEncoder(tbl, morse.Speed{CharWPM: 18, Type: code.American})
	dec := morse.NewDecoder(tbl, morse.Speed{CharWPM: 18, Type: code.American}, func(text string, _ float64) {
		fmt.Print(text)
	})
	snd := sounder.New(sounder.KindKeyAndSounder, nil, nil, 0)
	e := engine.New("TEST", enc, dec, snd, engine.Callbacks{
		OnChar:   func(text string, _ float64) { fmt.Print(text) },
		OnStatus: func(msg string) { log.Status(msg) },
	})
	e.Start()
	defer e.Exit()

	fmt.Println("closer self-test: 'o' opens, 'c' closes, 'q' quits")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch scanner.Text() {
		case "o":
			e.SetVirtualCloserOpen(true)
		case "c":
			e.SetVirtualCloserOpen(false)
		case "q":
			return
		}
	}
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
}
