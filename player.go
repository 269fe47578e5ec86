// Package samplebox is a polyphonic sample player for headless stage
// instruments. A Player maps MIDI notes onto the samples of the active
// preset, mixes them in real time and streams the remaining presets into
// memory in the background.
package samplebox

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"

	intaudio "github.com/cbegin/samplebox-go/internal/audio"
	intfx "github.com/cbegin/samplebox-go/internal/effects"
	"github.com/cbegin/samplebox-go/internal/loader"
	"github.com/cbegin/samplebox-go/internal/midictl"
	"github.com/cbegin/samplebox-go/internal/mixer"
	"github.com/cbegin/samplebox-go/internal/playback"
	"github.com/cbegin/samplebox-go/internal/preset"
	"github.com/cbegin/samplebox-go/internal/sampleset"
)

// ErrDeviceUnavailable is returned when an audio or MIDI device cannot be
// opened.
var ErrDeviceUnavailable = errors.New("device unavailable")

type Player struct {
	mu     sync.Mutex
	cfg    playerConfig
	log    *slog.Logger
	state  *playback.State
	master *intfx.Master
	mixer  *mixer.Mixer
	gate   *loader.Gate
	cache  *loader.Cache
	ctl    *midictl.Controller
	audio  *intaudio.Player
}

// NewPlayer discovers the presets below samplesDir, one per directory in
// name order. Nothing is loaded or played until Start or SetPreset.
func NewPlayer(samplesDir string, opts ...PlayerOption) (*Player, error) {
	cfg := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	log := cfg.logger
	if log == nil {
		log = slog.Default()
	}
	presets, err := loader.Discover(samplesDir)
	if err != nil {
		return nil, err
	}

	state := playback.New(preset.DefaultKeywords(), cfg.volume)
	if cfg.preset > 0 && cfg.preset < len(presets) {
		state.SetActive(cfg.preset)
	}
	gate := loader.NewGate(cfg.gate)
	master := intfx.NewMaster(cfg.sampleRate)
	mix := mixer.New(state, mixer.Config{
		Polyphony: cfg.polyphony,
		BlockSize: cfg.blockSize,
		Bus:       master.Bus,
		OnIdle:    gate.Wake,
	})
	gate.Watch(mix.Sounding)

	cache := loader.New(loader.Config{
		Presets:     presets,
		Channel:     cfg.midiChannel,
		MemoryLimit: cfg.memoryLimit,
		Probe:       cfg.probe,
		Resolver: sampleset.New(sampleset.Config{
			Channel: cfg.midiChannel,
			Release: state.Base().Release,
			Mode:    state.Base().Mode,
			Logger:  log,
		}),
		Gate:   gate,
		State:  state,
		Hooks:  loaderHooks(cfg.hooks),
		Logger: log,
	})
	ctl := midictl.New(midictl.Config{
		Presets:  cache,
		Sink:     mix,
		State:    state,
		Activity: gate,
		Policy:   cfg.policy,
		Seed:     uint64(time.Now().UnixNano()),
		Step:     cfg.step,
		Logger:   log,
	})
	log.Info("presets discovered", "dir", samplesDir, "count", len(presets))
	return &Player{
		cfg:    cfg,
		log:    log,
		state:  state,
		master: master,
		mixer:  mix,
		gate:   gate,
		cache:  cache,
		ctl:    ctl,
	}, nil
}

func loaderHooks(h Hooks) loader.Hooks {
	out := loader.Hooks{
		OnPresetChange: h.OnPresetChange,
		OnProgress:     h.OnProgress,
	}
	if h.OnLoaded != nil {
		out.OnLoaded = func(i int, name string, res *sampleset.Result) {
			h.OnLoaded(i, name, res.Assets)
		}
	}
	return out
}

// Start opens the audio device, starts playback and loads the active
// preset. A stopped Player may be started again.
func (p *Player) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio != nil {
		return nil
	}
	out, err := intaudio.NewPlayer(intaudio.Config{
		Backend:     p.cfg.backend,
		SampleRate:  p.cfg.sampleRate,
		BlockFrames: p.cfg.blockSize,
	}, p.mixer)
	if err != nil {
		return errors.Wrapf(ErrDeviceUnavailable, "audio %s: %v", p.cfg.backend, err)
	}
	p.audio = out
	p.cache.Reopen()
	p.audio.Play()
	p.log.Info("audio started", "backend", p.cfg.backend, "rate", p.cfg.sampleRate, "block", p.cfg.blockSize)
	p.cache.Select(p.state.Active())
	return nil
}

// Stop releases every voice, halts loading and closes the audio device.
func (p *Player) Stop() error {
	p.ctl.Panic()
	p.cache.Close()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio == nil {
		return nil
	}
	err := p.audio.Stop()
	p.audio = nil
	return err
}

// HandleMIDI feeds one raw MIDI message to the player. It is safe to call
// from several goroutines.
func (p *Player) HandleMIDI(msg []byte) {
	p.ctl.Handle(midi.Message(msg))
}

// NoteOn plays a note on the default channel.
func (p *Player) NoteOn(note, velocity int) {
	p.gate.MarkMIDI()
	p.ctl.NoteOn(p.cfg.midiChannel, note, velocity)
}

func (p *Player) NoteOff(note int) {
	p.gate.MarkMIDI()
	p.ctl.NoteOff(note)
}

func (p *Player) Sustain(down bool) { p.ctl.Sustain(down) }

// Panic releases all sounding voices.
func (p *Player) Panic() { p.ctl.Panic() }

// Process renders one block of interleaved stereo frames. It is what the
// audio device pulls; offline renderers may call it directly instead of
// Start.
func (p *Player) Process(dst []int16) { p.mixer.Process(dst) }

func (p *Player) Presets() []Preset { return p.cache.Presets() }

// ActivePreset returns the index of the selected preset.
func (p *Player) ActivePreset() int { return p.state.Active() }

// SetPreset selects preset i and starts loading it. It reports false for
// indexes outside the setlist.
func (p *Player) SetPreset(i int) bool { return p.cache.Select(i) }

func (p *Player) NextPreset() { p.cache.Step(1) }
func (p *Player) PrevPreset() { p.cache.Step(-1) }

// PresetLoaded reports whether preset i is fully in memory.
func (p *Player) PresetLoaded(i int) bool { return p.cache.State(i) == loader.Loaded }

// WaitLoaded blocks until the running load and its prefetch chain end.
func (p *Player) WaitLoaded() { p.cache.Wait() }

// Sounding is the number of voices currently mixed.
func (p *Player) Sounding() int { return p.mixer.Sounding() }

// SetMasterVolume sets runtime volume scalar. Negative values clamp to 0.
func (p *Player) SetMasterVolume(volume float64) { p.state.SetVolume(volume) }

func (p *Player) MasterVolume() float64 { return p.state.Volume() }

// Master tone bands.
const (
	ToneBass   = intfx.Bass
	ToneMid    = intfx.Mid
	ToneTreble = intfx.Treble
)

// SetToneBand boosts or cuts a master tone band by db, within ±15dB.
func (p *Player) SetToneBand(band int, db float32) { p.master.Tone.SetGain(band, db) }

func (p *Player) ToneBand(band int) float32 { return p.master.Tone.Gain(band) }

// SetReverb sets the wet level of the master room, 0 turns it off.
func (p *Player) SetReverb(wet float32) { p.master.Room.SetWet(wet) }

// SetLimiter sets the master limiter ceiling in dBFS; 0 or above turns it off.
func (p *Player) SetLimiter(ceilingDB float64) { p.master.Limiter.SetCeiling(ceilingDB) }
