// Package midictl turns incoming MIDI messages into voices and preset
// switches.
package midictl

import (
	"log/slog"
	"math"
	"sync"

	"gitlab.com/gomidi/midi/v2"

	"github.com/cbegin/samplebox-go/internal/mixer"
	"github.com/cbegin/samplebox-go/internal/playback"
	"github.com/cbegin/samplebox-go/internal/preset"
)

const (
	ccSustain      = 64
	ccAllSoundOff  = 120
	ccAllNotesOff  = 123
	sustainOnLevel = 64
)

// Presets is the part of the preset cache the controller drives.
type Presets interface {
	Current() *preset.Record
	Select(i int) bool
	Step(delta int)
}

// Sink receives new voices. The mixer implements it.
type Sink interface {
	Play(v *mixer.Voice) bool
}

// Activity is told about every incoming message.
type Activity interface {
	MarkMIDI()
}

// StepMapping maps a channel message onto preset stepping: a message of the
// given status type whose second data byte equals Prev or Next steps the
// active preset down or up. A zero Type disables stepping.
type StepMapping struct {
	Type uint8 // status high nibble, 0x8..0xE
	Prev uint8
	Next uint8
}

// DefaultStepMapping steps presets with pitch-bend messages whose MSB is 0
// (previous) or 126 (next).
func DefaultStepMapping() StepMapping {
	return StepMapping{Type: 0xE, Prev: 0, Next: 126}
}

func (s StepMapping) match(msg midi.Message) (int, bool) {
	if s.Type == 0 || len(msg) < 3 || msg[0]>>4 != s.Type {
		return 0, false
	}
	switch msg[2] {
	case s.Prev:
		return -1, true
	case s.Next:
		return 1, true
	}
	return 0, false
}

type Config struct {
	Presets  Presets
	Sink     Sink
	State    *playback.State
	Activity Activity
	Policy   preset.AlternatePolicy
	Seed     uint64
	Step     StepMapping
	Logger   *slog.Logger
}

// Controller is the MIDI state machine: the active-note registry, the
// sustain pedal and the list of voices it holds. Handle may be called from
// several driver goroutines; each call holds the controller's lock only for
// bookkeeping, never while a preset load is requested.
type Controller struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	playing   map[int][]*mixer.Voice
	sustain   bool
	sustained []*mixer.Voice
	picker    *preset.Picker
	record    *preset.Record
}

func New(cfg Config) *Controller {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.State == nil {
		cfg.State = playback.New(preset.DefaultKeywords(), playback.DefaultVolume)
	}
	return &Controller{
		cfg:     cfg,
		log:     log,
		playing: make(map[int][]*mixer.Voice),
		picker:  preset.NewPicker(cfg.Policy, cfg.Seed),
	}
}

// Handle dispatches one message.
func (c *Controller) Handle(msg midi.Message) {
	if len(msg) == 0 {
		return
	}
	if c.cfg.Activity != nil {
		c.cfg.Activity.MarkMIDI()
	}
	if delta, ok := c.cfg.Step.match(msg); ok {
		c.log.Debug("preset step", "delta", delta)
		if c.cfg.Presets != nil {
			c.cfg.Presets.Step(delta)
		}
		return
	}

	var ch, key, vel, cc, val, program uint8
	var rel int16
	var abs uint16
	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		c.NoteOn(int(ch)+1, int(key), int(vel))
	case msg.GetNoteEnd(&ch, &key):
		c.NoteOff(int(key))
	case msg.GetControlChange(&ch, &cc, &val):
		c.control(cc, val)
	case msg.GetProgramChange(&ch, &program):
		c.ProgramChange(int(program))
	case msg.GetPitchBend(&ch, &rel, &abs):
		c.bend(rel)
	default:
		c.log.Debug("unhandled MIDI message", "msg", msg.String())
	}
}

// NoteOn starts one voice per voice-layer of the active preset. channel is
// 1-based. Velocity 0 is a note-off.
func (c *Controller) NoteOn(channel, key, velocity int) {
	if velocity == 0 {
		c.NoteOff(key)
		return
	}
	set := c.cfg.State.Settings()
	note := key + set.Transpose
	if note < 0 || note > 127 {
		return
	}
	var rec *preset.Record
	if c.cfg.Presets != nil {
		rec = c.cfg.Presets.Current()
	}
	if rec == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if rec != c.record {
		c.record = rec
		c.picker.Reset()
	}
	if c.restrike(note) {
		return
	}
	assets := make([]*preset.Asset, 0, len(set.Voices))
	for _, layer := range set.Voices {
		k := preset.Key{Note: note, Velocity: velocity, Voice: layer, Channel: channel}
		if a := c.picker.Pick(k, rec.Lookup(k)); a != nil {
			assets = append(assets, a)
		}
	}
	// Choke before registering, so layers of this strike survive.
	for _, a := range assets {
		if a.MuteGroup > 0 {
			c.mute(a.MuteGroup)
		}
	}
	for _, a := range assets {
		v := mixer.NewVoice(a, mixer.VoiceParams{
			Note:     note,
			Velocity: velocity,
			Mode:     set.Mode,
			Release:  set.Release,
			VelMode:  set.VelMode,
		})
		if !c.cfg.Sink.Play(v) {
			c.log.Debug("voice dropped, mixer queue full", "note", note)
			continue
		}
		c.playing[note] = append(c.playing[note], v)
	}
}

// restrike releases looping voices of a note struck a second time and
// reports whether the strike was consumed by that.
func (c *Controller) restrike(note int) bool {
	hit := false
	kept := c.playing[note][:0]
	for _, v := range c.playing[note] {
		if v.Done() {
			continue
		}
		if v.Mode() == preset.ModeLoop2x && !v.Releasing() {
			v.Release()
			hit = true
			continue
		}
		kept = append(kept, v)
	}
	c.setPlaying(note, kept)
	return hit
}

// mute fades every registered voice of the group.
func (c *Controller) mute(group int) {
	for _, list := range c.playing {
		for _, v := range list {
			if v.MuteGroup() == group {
				v.Release()
			}
		}
	}
	for _, v := range c.sustained {
		if v.MuteGroup() == group {
			v.Release()
		}
	}
}

// NoteOff releases the voices of a note, or hands them to the sustain pedal.
// Voices whose mode ignores note-off stay registered.
func (c *Controller) NoteOff(key int) {
	note := key + c.cfg.State.Settings().Transpose
	c.mu.Lock()
	defer c.mu.Unlock()
	list, ok := c.playing[note]
	if !ok {
		return
	}
	kept := list[:0]
	for _, v := range list {
		switch {
		case v.Done():
		case v.Mode().IgnoresNoteOff():
			kept = append(kept, v)
		case c.sustain:
			c.sustained = append(c.sustained, v)
		default:
			v.Release()
		}
	}
	c.setPlaying(note, kept)
}

func (c *Controller) setPlaying(note int, list []*mixer.Voice) {
	if len(list) == 0 {
		delete(c.playing, note)
		return
	}
	c.playing[note] = list
}

func (c *Controller) control(cc, val uint8) {
	switch cc {
	case ccSustain:
		c.Sustain(val >= sustainOnLevel)
	case ccAllSoundOff, ccAllNotesOff:
		c.Panic()
	}
}

// Sustain sets the pedal. Lifting it releases every held voice and every
// voice played in On64 mode.
func (c *Controller) Sustain(down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if down {
		c.sustain = true
		return
	}
	for _, v := range c.sustained {
		v.Release()
	}
	clear(c.sustained)
	c.sustained = c.sustained[:0]
	c.sustain = false
	for note, list := range c.playing {
		kept := list[:0]
		for _, v := range list {
			if v.Done() {
				continue
			}
			if v.Mode() == preset.ModeOn64 {
				v.Release()
				continue
			}
			kept = append(kept, v)
		}
		c.setPlaying(note, kept)
	}
}

// Sustained reports the pedal state and the number of voices it holds.
func (c *Controller) Sustained() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sustain, len(c.sustained)
}

// Playing returns the voices registered under a sounding note.
func (c *Controller) Playing(note int) []*mixer.Voice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*mixer.Voice(nil), c.playing[note]...)
}

// Panic releases every voice the controller knows about and lifts the pedal.
func (c *Controller) Panic() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for note, list := range c.playing {
		for _, v := range list {
			v.Release()
		}
		delete(c.playing, note)
	}
	for _, v := range c.sustained {
		v.Release()
	}
	c.sustained = nil
	c.sustain = false
}

// ProgramChange selects a preset by number; numbers past the setlist are
// ignored.
func (c *Controller) ProgramChange(program int) {
	if c.cfg.Presets == nil {
		return
	}
	if !c.cfg.Presets.Select(program) {
		c.log.Debug("program change out of range", "program", program)
	}
}

func (c *Controller) bend(rel int16) {
	semis := float64(c.cfg.State.Settings().PitchBend) * float64(rel) / 8192
	c.cfg.State.SetBend(math.Exp2(semis / 12))
}
