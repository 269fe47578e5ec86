// Package playback holds the process-wide playback state shared by the MIDI
// controller, the preset loader and the mixer.
//
// Writers replace an immutable Settings snapshot; the audio path only ever
// loads pointers and never waits.
package playback

import (
	"math"
	"slices"
	"sync/atomic"

	"github.com/cbegin/samplebox-go/internal/preset"
)

// DefaultVolume is -12 dB.
var DefaultVolume = math.Pow(10, -12.0/20)

// Settings is one consistent view of the effective playback parameters.
// A published Settings is never modified.
type Settings struct {
	preset.Keywords
	Volume float64
	Voices []int // voice-layers of the active preset
}

// State is the active preset index plus the current Settings snapshot.
type State struct {
	base     preset.Keywords
	active   atomic.Int64
	settings atomic.Pointer[Settings]
	bend     atomic.Uint64 // float64 bits of the pitch-bend ratio
}

// New creates a State whose presets fall back to base for every keyword
// they do not set.
func New(base preset.Keywords, volume float64) *State {
	s := &State{base: base}
	s.settings.Store(&Settings{Keywords: base, Volume: clampVolume(volume), Voices: []int{1}})
	s.bend.Store(math.Float64bits(1))
	return s
}

func (s *State) Base() preset.Keywords { return s.base }

func (s *State) Active() int { return int(s.active.Load()) }

// SetActive stores the active preset index and returns the previous one.
func (s *State) SetActive(i int) int { return int(s.active.Swap(int64(i))) }

// Settings returns the current snapshot. It never returns nil.
func (s *State) Settings() *Settings { return s.settings.Load() }

// Publish makes the overrides of a freshly loaded active preset effective.
// The master volume is carried over from the previous snapshot.
func (s *State) Publish(kw preset.Keywords, voices []int) {
	eff := kw.Overlay(s.base)
	if len(voices) == 0 {
		voices = []int{1}
	}
	voices = slices.Clone(voices)
	s.update(func(next *Settings) {
		next.Keywords = eff
		next.Voices = voices
	})
}

func (s *State) SetVolume(v float64) {
	v = clampVolume(v)
	s.update(func(next *Settings) { next.Volume = v })
}

func (s *State) Volume() float64 { return s.Settings().Volume }

// SetBend stores the pitch ratio applied to every sounding voice.
func (s *State) SetBend(ratio float64) {
	if ratio <= 0 || math.IsNaN(ratio) {
		ratio = 1
	}
	s.bend.Store(math.Float64bits(ratio))
}

func (s *State) Bend() float64 { return math.Float64frombits(s.bend.Load()) }

func (s *State) update(fn func(next *Settings)) {
	for {
		cur := s.settings.Load()
		next := *cur
		fn(&next)
		if s.settings.CompareAndSwap(cur, &next) {
			return
		}
	}
}

func clampVolume(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}
