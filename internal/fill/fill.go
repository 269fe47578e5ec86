// Package fill spreads the sparse samples of a preset over the whole
// keyboard: every velocity of a defined note, then every note within reach
// of an eligible neighbour.
package fill

import "github.com/cbegin/samplebox-go/internal/preset"

const (
	notes      = 128
	velocities = 128

	// Sentinels outside the note range; a gap wider than window means no
	// source was found on one side.
	lowSentinel  = -130
	highSentinel = 260
	window       = 260
)

// Checkpoint is consulted once per note and voice-layer. A non-nil error
// stops filling and is returned as is.
type Checkpoint interface {
	Check() error
}

// Fill completes rec for the given channel. Only keys on that channel are
// considered; other channels keep exactly what was defined. Running Fill on
// an already filled record changes nothing.
func Fill(rec *preset.Record, channel int, cp Checkpoint) error {
	if len(rec.Samples) == 0 {
		return nil
	}
	global := rec.Keywords.FillDefault()
	for _, voice := range rec.Voices() {
		if err := fillVelocities(rec, voice, channel, cp); err != nil {
			return err
		}
		if err := fillNotes(rec, voice, channel, global, cp); err != nil {
			return err
		}
	}
	return nil
}

// fillVelocities back-fills every velocity below the first defined one and
// forward-fills each gap with the last definition seen.
func fillVelocities(rec *preset.Record, voice, channel int, cp Checkpoint) error {
	defined := make([]bool, velocities)
	for note := 0; note < notes; note++ {
		if err := check(cp); err != nil {
			return err
		}
		for v := range defined {
			_, defined[v] = rec.Samples[preset.Key{Note: note, Velocity: v, Voice: voice, Channel: channel}]
		}
		var last []*preset.Asset
		for v := 0; v < velocities; v++ {
			k := preset.Key{Note: note, Velocity: v, Voice: voice, Channel: channel}
			if defined[v] {
				list := rec.Samples[k]
				if last == nil {
					for below := 0; below < v; below++ {
						k.Velocity = below
						rec.Samples[k] = list
					}
				}
				last = list
				continue
			}
			if last != nil {
				rec.Samples[k] = last
			}
		}
	}
	return nil
}

// fillNotes copies whole velocity columns from the nearest eligible source
// note onto notes without a velocity-1 sample. Equidistant targets take the
// lower source.
func fillNotes(rec *preset.Record, voice, channel int, global preset.FillFlag, cp Checkpoint) error {
	has := make([]bool, notes)
	eligible := make([]bool, notes)
	for n := 0; n < notes; n++ {
		_, has[n] = rec.Samples[preset.Key{Note: n, Velocity: 1, Voice: voice, Channel: channel}]
		if has[n] {
			f, ok := rec.Fill[preset.FillKey{Note: n, Voice: voice}]
			eligible[n] = ok && f.Eligible(global)
		}
	}

	lastLow, nextHigh := lowSentinel, 0
	haveHigh := false
	for note := 0; note < notes; note++ {
		if err := check(cp); err != nil {
			return err
		}
		if has[note] {
			if eligible[note] {
				lastLow, haveHigh = note, false
			}
			continue
		}
		if !haveHigh {
			nextHigh, haveHigh = highSentinel, true
			for m := note + 1; m < notes; m++ {
				if has[m] && eligible[m] {
					nextHigh = m
					break
				}
			}
		}
		if nextHigh-lastLow > window {
			continue
		}
		src := nextHigh
		if float64(note) <= 0.5+float64((nextHigh+lastLow)/2) {
			src = lastLow
		}
		for v := 0; v < velocities; v++ {
			from := preset.Key{Note: src, Velocity: v, Voice: voice, Channel: channel}
			if list, ok := rec.Samples[from]; ok {
				to := from
				to.Note = note
				rec.Samples[to] = list
			}
		}
	}
	return nil
}

func check(cp Checkpoint) error {
	if cp == nil {
		return nil
	}
	return cp.Check()
}
