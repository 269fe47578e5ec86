package midictl

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math"
	"slices"
	"testing"

	"gitlab.com/gomidi/midi/v2"

	"github.com/cbegin/samplebox-go/internal/mixer"
	"github.com/cbegin/samplebox-go/internal/playback"
	"github.com/cbegin/samplebox-go/internal/preset"
)

type fakePresets struct {
	rec      *preset.Record
	n        int
	selected []int
	steps    []int
}

func (f *fakePresets) Current() *preset.Record { return f.rec }

func (f *fakePresets) Select(i int) bool {
	if i < 0 || i >= f.n {
		return false
	}
	f.selected = append(f.selected, i)
	return true
}

func (f *fakePresets) Step(delta int) { f.steps = append(f.steps, delta) }

type fakeSink struct{ voices []*mixer.Voice }

func (s *fakeSink) Play(v *mixer.Voice) bool {
	s.voices = append(s.voices, v)
	return true
}

type activity struct{ n int }

func (a *activity) MarkMIDI() { a.n++ }

type rig struct {
	ctl     *Controller
	presets *fakePresets
	sink    *fakeSink
	state   *playback.State
	act     *activity
	rec     *preset.Record
}

func newRig(step StepMapping) *rig {
	rec := preset.NewRecord(0, "test", "")
	r := &rig{
		presets: &fakePresets{rec: rec, n: 3},
		sink:    &fakeSink{},
		state:   playback.New(preset.DefaultKeywords(), 1),
		act:     &activity{},
		rec:     rec,
	}
	r.ctl = New(Config{
		Presets:  r.presets,
		Sink:     r.sink,
		State:    r.state,
		Activity: r.act,
		Step:     step,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return r
}

func (r *rig) add(note, vel, voice int, meta preset.Meta) *preset.Asset {
	meta.Note, meta.Velocity, meta.Seq = note, vel, 1
	a := &preset.Asset{Meta: meta, Frames: make([]int16, 200), FrameCount: 100, Loop: -1}
	r.rec.Add(preset.Key{Note: note, Velocity: vel, Voice: voice, Channel: 1}, a, preset.FillYes)
	return a
}

func (r *rig) send(b ...byte) { r.ctl.Handle(midi.Message(b)) }

func TestNoteOnAppliesTranspose(t *testing.T) {
	r := newRig(DefaultStepMapping())
	r.add(60, 100, 1, preset.Meta{})
	want := r.add(62, 100, 1, preset.Meta{})
	var kw preset.Keywords
	kw.SetTranspose(2)
	r.state.Publish(kw, []int{1})

	r.send(0x90, 60, 100)
	if len(r.sink.voices) != 1 {
		t.Fatalf("voices = %d, want 1", len(r.sink.voices))
	}
	v := r.sink.voices[0]
	if v.Asset() != want || v.Note() != 62 {
		t.Fatalf("voice plays note %d asset %+v, want the (62, 100) sample", v.Note(), v.Asset().Meta)
	}
	if got := r.ctl.Playing(62); len(got) != 1 || got[0] != v {
		t.Fatalf("registry for 62 = %v", got)
	}
}

func TestNoteOnWithoutSampleIsSilent(t *testing.T) {
	r := newRig(DefaultStepMapping())
	r.add(60, 100, 1, preset.Meta{})
	r.send(0x90, 61, 100)
	r.presets.rec = nil
	r.send(0x90, 60, 100)
	if len(r.sink.voices) != 0 {
		t.Fatalf("voices = %d, want none", len(r.sink.voices))
	}
}

func TestNoteOffReleases(t *testing.T) {
	for _, off := range [][]byte{{0x80, 60, 64}, {0x90, 60, 0}} {
		r := newRig(DefaultStepMapping())
		r.add(60, 100, 1, preset.Meta{})
		r.send(0x90, 60, 100)
		r.send(off...)
		if !r.sink.voices[0].Releasing() {
			t.Fatalf("% x did not release the voice", off)
		}
		if len(r.ctl.Playing(60)) != 0 {
			t.Fatalf("% x left the note registered", off)
		}
	}
}

func TestSustainHoldsUntilPedalUp(t *testing.T) {
	r := newRig(DefaultStepMapping())
	r.add(60, 100, 1, preset.Meta{})
	r.send(0xB0, 64, 127)
	r.send(0x90, 60, 100)
	r.send(0x80, 60, 0)
	v := r.sink.voices[0]
	if v.Releasing() {
		t.Fatal("sustained voice released on note-off")
	}
	if on, n := r.ctl.Sustained(); !on || n != 1 {
		t.Fatalf("sustain = %v, held = %d", on, n)
	}
	r.send(0xB0, 64, 63)
	if !v.Releasing() {
		t.Fatal("pedal up did not release the held voice")
	}
	if on, n := r.ctl.Sustained(); on || n != 0 {
		t.Fatalf("after pedal up sustain = %v, held = %d", on, n)
	}
}

func TestModesIgnoringNoteOff(t *testing.T) {
	r := newRig(DefaultStepMapping())
	r.add(60, 100, 1, preset.Meta{Mode: preset.ModeOnce})
	r.add(62, 100, 1, preset.Meta{Mode: preset.ModeOn64})
	r.send(0x90, 60, 100)
	r.send(0x90, 62, 100)
	r.send(0x80, 60, 0)
	r.send(0x80, 62, 0)
	once, on64 := r.sink.voices[0], r.sink.voices[1]
	if once.Releasing() || on64.Releasing() {
		t.Fatal("note-off released a voice whose mode ignores it")
	}
	r.send(0xB0, 64, 0)
	if !on64.Releasing() {
		t.Fatal("pedal up did not release the On64 voice")
	}
	if once.Releasing() {
		t.Fatal("pedal up released a one-shot")
	}
}

func TestLoop2xStopsOnSecondStrike(t *testing.T) {
	r := newRig(DefaultStepMapping())
	r.add(60, 100, 1, preset.Meta{Mode: preset.ModeLoop2x})
	r.send(0x90, 60, 100)
	r.send(0x80, 60, 0)
	first := r.sink.voices[0]
	if first.Releasing() {
		t.Fatal("note-off released a Lo2x voice")
	}
	r.send(0x90, 60, 100)
	if !first.Releasing() {
		t.Fatal("second strike did not release the loop")
	}
	if len(r.sink.voices) != 1 {
		t.Fatalf("second strike started %d voices", len(r.sink.voices)-1)
	}
	r.send(0x90, 60, 100)
	if len(r.sink.voices) != 2 {
		t.Fatal("third strike did not start the loop again")
	}
}

func TestMuteGroupFadesOthers(t *testing.T) {
	r := newRig(DefaultStepMapping())
	r.add(42, 100, 1, preset.Meta{MuteGroup: 1}) // closed hat
	r.add(46, 100, 1, preset.Meta{MuteGroup: 1}) // open hat
	r.add(36, 100, 1, preset.Meta{})
	r.send(0x90, 46, 100)
	r.send(0x90, 36, 100)
	r.send(0x90, 42, 100)
	open, kick, closed := r.sink.voices[0], r.sink.voices[1], r.sink.voices[2]
	if !open.Releasing() {
		t.Fatal("open hat not choked")
	}
	if kick.Releasing() || closed.Releasing() {
		t.Fatal("voices outside the group were released")
	}

	// Two layers of one strike share the group and must not choke each other.
	r = newRig(DefaultStepMapping())
	r.add(42, 100, 1, preset.Meta{MuteGroup: 1})
	r.add(42, 100, 2, preset.Meta{MuteGroup: 1})
	r.state.Publish(preset.Keywords{}, r.rec.Voices())
	r.send(0x90, 42, 100)
	if len(r.sink.voices) != 2 {
		t.Fatalf("voices = %d, want one per layer", len(r.sink.voices))
	}
	for i, v := range r.sink.voices {
		if v.Releasing() {
			t.Fatalf("layer %d choked by its own strike", i+1)
		}
	}
	r.send(0x90, 42, 100)
	if !r.sink.voices[0].Releasing() || !r.sink.voices[1].Releasing() {
		t.Fatal("a new strike should choke the previous layers")
	}
	if r.sink.voices[2].Releasing() || r.sink.voices[3].Releasing() {
		t.Fatal("the new layers were choked")
	}
}

func TestVoiceLayersStack(t *testing.T) {
	r := newRig(DefaultStepMapping())
	r.add(60, 100, 1, preset.Meta{})
	r.add(60, 100, 2, preset.Meta{})
	r.state.Publish(preset.Keywords{}, r.rec.Voices())
	r.send(0x90, 60, 100)
	if len(r.sink.voices) != 2 {
		t.Fatalf("voices = %d, want one per layer", len(r.sink.voices))
	}
}

func TestProgramChangeSelects(t *testing.T) {
	r := newRig(DefaultStepMapping())
	r.send(0xC0, 2)
	r.send(0xC0, 9)
	if !slices.Equal(r.presets.selected, []int{2}) {
		t.Fatalf("selected = %v", r.presets.selected)
	}
}

func TestStepMapping(t *testing.T) {
	r := newRig(DefaultStepMapping())
	r.send(0xE0, 0, 126)
	r.send(0xE0, 0, 0)
	r.send(0xE0, 0, 64)
	if !slices.Equal(r.presets.steps, []int{1, -1}) {
		t.Fatalf("steps = %v", r.presets.steps)
	}
	if r.act.n != 3 {
		t.Fatalf("activity marked %d times, want 3", r.act.n)
	}

	off := newRig(StepMapping{})
	off.send(0xE0, 0, 126)
	if len(off.presets.steps) != 0 {
		t.Fatal("disabled mapping stepped")
	}
}

func TestPitchBendSetsRatio(t *testing.T) {
	r := newRig(DefaultStepMapping())
	// 14-bit value 12288 is half way up.
	r.send(0xE0, 0, 96)
	want := math.Exp2(float64(preset.DefaultPitchBend) * 0.5 / 12)
	if got := r.state.Bend(); math.Abs(got-want) > 1e-9 {
		t.Fatalf("bend = %v, want %v", got, want)
	}
	r.send(0xE0, 0, 64)
	if got := r.state.Bend(); got != 1 {
		t.Fatalf("centred bend = %v", got)
	}
}

func TestAllNotesOffPanics(t *testing.T) {
	r := newRig(DefaultStepMapping())
	r.add(60, 100, 1, preset.Meta{Mode: preset.ModeOnce})
	r.send(0xB0, 64, 127)
	r.send(0x90, 60, 100)
	r.send(0xB0, 123, 0)
	if !r.sink.voices[0].Releasing() {
		t.Fatal("all notes off left a voice sounding")
	}
	if on, _ := r.ctl.Sustained(); on {
		t.Fatal("all notes off kept the pedal down")
	}
}

func TestFramer(t *testing.T) {
	stream := []byte{
		0x45,          // stray data byte
		0x90, 60, 100, // note on
		0xC0, 5, // program change
		0x80, 60, 0, // note off
		0x90, 0xF8, 61, 100, // clock byte inside a message
		0xB0, 64, 0x90, 62, 90, // status resets an unfinished message
	}
	var got [][]byte
	var f Framer
	err := f.Run(context.Background(), bytes.NewReader(stream), func(m midi.Message) {
		got = append(got, []byte(m))
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := [][]byte{{0x90, 60, 100}, {0xC0, 5}, {0x80, 60, 0}, {0x90, 61, 100}, {0x90, 62, 90}}
	if len(got) != len(want) {
		t.Fatalf("messages = % x, want % x", got, want)
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Fatalf("message %d = % x, want % x", i, got[i], want[i])
		}
	}
}
