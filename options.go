package samplebox

import (
	"log/slog"
	"time"

	intaudio "github.com/cbegin/samplebox-go/internal/audio"
	"github.com/cbegin/samplebox-go/internal/loader"
	"github.com/cbegin/samplebox-go/internal/midictl"
	"github.com/cbegin/samplebox-go/internal/mixer"
	"github.com/cbegin/samplebox-go/internal/playback"
	"github.com/cbegin/samplebox-go/internal/preset"
)

type (
	Backend         = intaudio.Backend
	AlternatePolicy = preset.AlternatePolicy
	StepMapping     = midictl.StepMapping
	Preset          = loader.Preset
	MemoryProbe     = loader.MemoryProbe
)

const (
	BackendEbiten = intaudio.BackendEbiten
	BackendOto    = intaudio.BackendOto
	BackendNone   = intaudio.BackendNone

	PickFirst      = preset.PickFirst
	PickRoundRobin = preset.PickRoundRobin
	PickRandom     = preset.PickRandom
)

// DefaultStepMapping steps presets with pitch-bend messages whose MSB is 0
// (previous) or 126 (next).
func DefaultStepMapping() StepMapping { return midictl.DefaultStepMapping() }

// Hooks report loader progress to displays and front ends. They run on the
// loader goroutine, except OnPresetChange which runs on the caller of the
// preset switch, and must return quickly.
type Hooks struct {
	OnPresetChange func(index int, name string)
	OnProgress     func(index int, percent float64)
	OnLoaded       func(index int, name string, assets int)
}

type PlayerOption func(*playerConfig)

type playerConfig struct {
	sampleRate  int
	blockSize   int
	polyphony   int
	midiChannel int
	memoryLimit float64
	probe       MemoryProbe
	gate        loader.GateConfig
	backend     Backend
	policy      AlternatePolicy
	step        StepMapping
	volume      float64
	preset      int
	hooks       Hooks
	logger      *slog.Logger
}

func defaultPlayerConfig() playerConfig {
	return playerConfig{
		sampleRate:  44100,
		blockSize:   mixer.DefaultBlockSize,
		polyphony:   mixer.DefaultPolyphony,
		midiChannel: 1,
		memoryLimit: loader.DefaultMemoryLimit,
		gate:        loader.DefaultGateConfig(),
		backend:     BackendEbiten,
		policy:      PickFirst,
		step:        DefaultStepMapping(),
		volume:      playback.DefaultVolume,
	}
}

func WithSampleRate(rate int) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.sampleRate = rate
	}
}

// WithBlockSize sets the frames rendered per audio callback.
func WithBlockSize(frames int) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.blockSize = frames
	}
}

// WithPolyphony sets how many voices are mixed at once. The oldest voices
// beyond it are cut.
func WithPolyphony(voices int) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.polyphony = voices
	}
}

// WithMIDIChannel sets the default channel samples are mapped and filled on.
func WithMIDIChannel(channel int) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.midiChannel = channel
	}
}

// WithMemoryLimit sets the used-memory percentage above which presets stop
// being prefetched and older ones are evicted. Zero disables the limit.
func WithMemoryLimit(percent float64) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.memoryLimit = percent
	}
}

func WithMemoryProbe(probe MemoryProbe) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.probe = probe
	}
}

// WithLoadPause tunes how background loading yields to playing: it waits
// grace after the last MIDI message, polls every poll while voices sound
// and settles for settle before resuming.
func WithLoadPause(grace, poll, settle time.Duration) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.gate = loader.GateConfig{Grace: grace, Poll: poll, Settle: settle}
	}
}

func WithBackend(b Backend) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.backend = b
	}
}

// WithAlternatePolicy selects among sequence-chained samples of one key.
func WithAlternatePolicy(p AlternatePolicy) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.policy = p
	}
}

// WithStepMapping replaces the MIDI message used to step presets. A zero
// StepMapping disables stepping.
func WithStepMapping(m StepMapping) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.step = m
	}
}

// WithVolume sets the initial master volume as a linear factor.
func WithVolume(v float64) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.volume = v
	}
}

// WithPreset selects the preset Start loads first.
func WithPreset(i int) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.preset = i
	}
}

func WithHooks(h Hooks) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.hooks = h
	}
}

func WithLogger(l *slog.Logger) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.logger = l
	}
}
