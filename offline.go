package samplebox

import (
	"cmp"
	"slices"
	"time"

	"github.com/pkg/errors"

	"github.com/cbegin/samplebox-go/internal/wav"
)

// NoteEvent schedules a note for offline rendering. Velocity 0 releases
// the note.
type NoteEvent struct {
	At       time.Duration
	Note     int
	Velocity int
}

// Render plays events through the mixer without an audio device and returns
// length worth of interleaved stereo frames. Events take effect at the start
// of the block they fall into.
func (p *Player) Render(events []NoteEvent, length time.Duration) []int16 {
	rate := p.cfg.sampleRate
	frames := int(length.Seconds() * float64(rate))
	out := make([]int16, frames*2)
	pending := slices.Clone(events)
	slices.SortStableFunc(pending, func(a, b NoteEvent) int {
		return cmp.Compare(a.At, b.At)
	})
	block := p.cfg.blockSize
	for pos := 0; pos < frames; pos += block {
		for len(pending) > 0 && int(pending[0].At.Seconds()*float64(rate)) <= pos {
			ev := pending[0]
			pending = pending[1:]
			if ev.Velocity > 0 {
				p.NoteOn(ev.Note, ev.Velocity)
			} else {
				p.NoteOff(ev.Note)
			}
		}
		n := min(block, frames-pos)
		p.Process(out[pos*2 : (pos+n)*2])
	}
	return out
}

// RenderNotes loads one preset from samplesDir and renders events with it.
// Memory limits and load pauses are off unless opts turn them on.
func RenderNotes(samplesDir string, presetIndex int, events []NoteEvent, length time.Duration, opts ...PlayerOption) ([]int16, error) {
	all := append([]PlayerOption{
		WithMemoryLimit(0),
		WithLoadPause(0, 0, 0),
		WithBackend(BackendNone),
	}, opts...)
	p, err := NewPlayer(samplesDir, all...)
	if err != nil {
		return nil, err
	}
	defer p.Stop()
	if !p.SetPreset(presetIndex) {
		return nil, errors.Errorf("preset %d out of range (%d presets)", presetIndex, len(p.Presets()))
	}
	p.WaitLoaded()
	if !p.PresetLoaded(presetIndex) {
		return nil, errors.Errorf("preset %d did not load", presetIndex)
	}
	return p.Render(events, length), nil
}

// EncodeWAV wraps interleaved stereo frames in a 16-bit PCM WAV container.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	return wav.Encode(samples, 2, sampleRate)
}
