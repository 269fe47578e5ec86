package main

import (
	"context"
	"strings"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/cbegin/samplebox-go"
)

// midiWatcher keeps every available MIDI input connected, picking up
// devices plugged in later and dropping the ones that went away.
type midiWatcher struct {
	drv    drivers.Driver
	pl     *samplebox.Player
	filter string
	rescan time.Duration
	open   map[string]func()
}

func newMIDIWatcher(drv drivers.Driver, pl *samplebox.Player, filter string, rescan time.Duration) *midiWatcher {
	return &midiWatcher{
		drv:    drv,
		pl:     pl,
		filter: filter,
		rescan: rescan,
		open:   make(map[string]func()),
	}
}

func (w *midiWatcher) Run(ctx context.Context) error {
	defer w.closeAll()
	t := time.NewTicker(w.rescan)
	defer t.Stop()
	for {
		w.scan()
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (w *midiWatcher) scan() {
	ins, err := w.drv.Ins()
	if err != nil {
		logger.Error("failed to enumerate MIDI inputs", "err", err)
		return
	}
	present := make(map[string]bool, len(ins))
	for _, in := range ins {
		name := in.String()
		present[name] = true
		if _, ok := w.open[name]; ok || !w.wanted(name) {
			continue
		}
		w.connect(in)
	}
	for name, closeFn := range w.open {
		if present[name] {
			continue
		}
		logger.Warn("MIDI device disappeared", "device", name)
		closeFn()
		delete(w.open, name)
		w.pl.Panic()
	}
}

func (w *midiWatcher) wanted(name string) bool {
	if strings.Contains(name, "Midi Through") {
		return false
	}
	return w.filter == "" || strings.Contains(strings.ToLower(name), strings.ToLower(w.filter))
}

func (w *midiWatcher) connect(in drivers.In) {
	name := in.String()
	if err := in.Open(); err != nil {
		logger.Error("failed to open MIDI port", "device", name, "err", err)
		return
	}
	stop, err := midi.ListenTo(in, func(msg midi.Message, _ int32) {
		w.pl.HandleMIDI(msg)
	}, midi.HandleError(func(err error) {
		logger.Warn("MIDI listener error", "device", name, "err", err)
	}))
	if err != nil {
		logger.Error("failed to start MIDI listener", "device", name, "err", err)
		_ = in.Close()
		return
	}
	w.open[name] = func() {
		stop()
		_ = in.Close()
	}
	logger.Info("MIDI input connected", "device", name)
}

func (w *midiWatcher) closeAll() {
	for name, closeFn := range w.open {
		closeFn()
		delete(w.open, name)
	}
}
