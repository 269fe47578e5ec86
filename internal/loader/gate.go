package loader

import (
	"context"
	"sync/atomic"
	"time"
)

// Gate holds background loading back while the instrument is being played:
// while voices are sounding, or until the grace period after the last MIDI
// message has passed. Once the instrument is quiet again it waits one more
// settle interval before letting the loader continue.
type Gate struct {
	grace  time.Duration
	poll   time.Duration
	settle time.Duration

	sounding func() int
	lastMIDI atomic.Int64 // unix nanoseconds
	wake     chan struct{}
}

type GateConfig struct {
	Grace  time.Duration // quiet time required after a MIDI message
	Poll   time.Duration // re-check interval while voices are sounding
	Settle time.Duration // extra wait after a pause ends
}

func DefaultGateConfig() GateConfig {
	return GateConfig{
		Grace:  500 * time.Millisecond,
		Poll:   500 * time.Millisecond,
		Settle: 500 * time.Millisecond,
	}
}

func NewGate(cfg GateConfig) *Gate {
	return &Gate{
		grace:  cfg.Grace,
		poll:   max(cfg.Poll, time.Millisecond),
		settle: cfg.Settle,
		wake:   make(chan struct{}, 1),
	}
}

// Watch installs the sounding-voice counter. Call it before loading starts.
func (g *Gate) Watch(sounding func() int) { g.sounding = sounding }

// MarkMIDI records MIDI activity now.
func (g *Gate) MarkMIDI() { g.lastMIDI.Store(time.Now().UnixNano()) }

// Wake re-evaluates a waiting loader early, e.g. when the last voice ended.
// It never blocks.
func (g *Gate) Wake() {
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

func (g *Gate) busy() (bool, time.Duration) {
	if g.sounding != nil && g.sounding() > 0 {
		return true, g.poll
	}
	last := g.lastMIDI.Load()
	if last == 0 {
		return false, 0
	}
	if quiet := time.Since(time.Unix(0, last)); quiet < g.grace {
		return true, g.grace - quiet
	}
	return false, 0
}

// Wait returns once the instrument is quiet, or with ctx's error when ctx
// ends first.
func (g *Gate) Wait(ctx context.Context) error {
	paused := false
	for {
		busy, d := g.busy()
		if !busy {
			break
		}
		paused = true
		if err := g.sleep(ctx, d, true); err != nil {
			return err
		}
	}
	if paused && g.settle > 0 {
		return g.sleep(ctx, g.settle, false)
	}
	return ctx.Err()
}

func (g *Gate) sleep(ctx context.Context, d time.Duration, wakeable bool) error {
	t := time.NewTimer(d)
	defer t.Stop()
	var wake <-chan struct{}
	if wakeable {
		wake = g.wake
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
		return nil
	case <-t.C:
		return nil
	}
}
