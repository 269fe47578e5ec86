// Package audio connects a block renderer to the sound device.
package audio

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// Backend names an audio output implementation.
type Backend string

const (
	BackendEbiten Backend = "ebiten"
	BackendOto    Backend = "oto"
	BackendNone   Backend = "none" // renders in real time without a device
)

func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case BackendEbiten, BackendOto, BackendNone:
		return b, nil
	case "":
		return BackendEbiten, nil
	}
	return "", errors.Errorf("unknown audio backend %q", s)
}

type Config struct {
	Backend     Backend
	SampleRate  int
	BlockFrames int
}

// output is one device player pulling from a StreamReader.
type output interface {
	Play()
	Pause()
	IsPlaying() bool
	Close() error
}

type Player struct {
	out    output
	reader *StreamReader
}

// NewPlayer opens the configured backend. The player starts paused.
func NewPlayer(cfg Config, source Source) (*Player, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	if cfg.BlockFrames <= 0 {
		cfg.BlockFrames = 512
	}
	reader := NewStreamReader(source, cfg.BlockFrames)
	buffer := time.Duration(cfg.BlockFrames) * time.Second / time.Duration(cfg.SampleRate)

	var (
		out output
		err error
	)
	switch cfg.Backend {
	case BackendEbiten, "":
		out, err = newEbitenOutput(cfg.SampleRate, buffer, reader)
	case BackendOto:
		out, err = newOtoOutput(cfg.SampleRate, buffer, reader)
	case BackendNone:
		out = newNullOutput(buffer, reader)
	default:
		err = errors.Errorf("unknown audio backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return &Player{out: out, reader: reader}, nil
}

func (p *Player) Play()           { p.out.Play() }
func (p *Player) Pause()          { p.out.Pause() }
func (p *Player) IsPlaying() bool { return p.out.IsPlaying() }

func (p *Player) Stop() error {
	p.out.Pause()
	if err := p.out.Close(); err != nil {
		return err
	}
	return p.reader.Close()
}

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

func newEbitenOutput(sampleRate int, buffer time.Duration, reader *StreamReader) (output, error) {
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	// 16-bit signed little-endian stereo.
	pl, err := ctx.NewPlayer(reader)
	if err != nil {
		return nil, errors.Wrap(err, "ebiten player")
	}
	pl.SetBufferSize(buffer)
	return pl, nil
}

// nullOutput pulls blocks at the device rate and discards them.
type nullOutput struct {
	reader *StreamReader
	period time.Duration
	buf    []byte

	mu      sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

func newNullOutput(period time.Duration, reader *StreamReader) *nullOutput {
	return &nullOutput{
		reader: reader,
		period: max(period, time.Millisecond),
		buf:    make([]byte, len(reader.out)),
	}
}

func (n *nullOutput) Play() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stop != nil {
		return
	}
	n.stop = make(chan struct{})
	n.stopped = make(chan struct{})
	go n.loop(n.stop, n.stopped)
}

func (n *nullOutput) loop(stop, stopped chan struct{}) {
	defer close(stopped)
	t := time.NewTicker(n.period)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			_, _ = n.reader.Read(n.buf)
		}
	}
}

func (n *nullOutput) Pause() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stop == nil {
		return
	}
	close(n.stop)
	<-n.stopped
	n.stop = nil
}

func (n *nullOutput) IsPlaying() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stop != nil
}

func (n *nullOutput) Close() error {
	n.Pause()
	return nil
}
