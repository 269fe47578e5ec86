package main

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"
	"golang.org/x/term"

	"github.com/cbegin/samplebox-go"
	"github.com/cbegin/samplebox-go/internal/midictl"
)

// readSerial feeds raw MIDI bytes from a serial device, e.g. a UART wired
// to a DIN socket. The line speed is expected to be set up already.
func readSerial(ctx context.Context, dev string, pl *samplebox.Player) error {
	f, err := os.Open(dev)
	if err != nil {
		return errors.Wrapf(samplebox.ErrDeviceUnavailable, "serial %s: %v", dev, err)
	}
	go func() {
		<-ctx.Done()
		_ = f.Close()
	}()
	logger.Info("serial MIDI input connected", "device", dev)
	var fr midictl.Framer
	err = fr.Run(ctx, f, func(msg midi.Message) { pl.HandleMIDI(msg) })
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// runKeyboard steps presets with + and - typed on the terminal. Space
// silences every voice, q quits.
func runKeyboard(ctx context.Context, pl *samplebox.Player, quit context.CancelFunc) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		logger.Warn("keyboard stepping needs a terminal on stdin")
		return nil
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return errors.Wrap(err, "terminal raw mode")
	}
	defer term.Restore(fd, old)

	keys := make(chan byte)
	go func() {
		defer close(keys)
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}
			if n == 0 {
				continue
			}
			select {
			case keys <- buf[0]:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case k, ok := <-keys:
			if !ok {
				return nil
			}
			switch k {
			case '+', '=':
				pl.NextPreset()
			case '-', '_':
				pl.PrevPreset()
			case ' ':
				pl.Panic()
			case 'q', 3: // ctrl-c arrives as a byte in raw mode
				quit()
				return nil
			}
		}
	}
}
