package sampleset

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cbegin/samplebox-go/internal/preset"
	"github.com/cbegin/samplebox-go/internal/wav"
)

func writeSample(t *testing.T, dir, name string, frames int) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, wav.Encode(make([]int16, frames*2), 2, 44100), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func writeText(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func quietResolver() *Resolver {
	return New(Config{Channel: 1, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
}

func resolveDir(t *testing.T, dir string, cp Checkpoint) (*preset.Record, *Result) {
	t.Helper()
	rec := preset.NewRecord(0, filepath.Base(dir), dir)
	res, err := quietResolver().Resolve(rec, cp)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return rec, res
}

func key(note, vel int) preset.Key {
	return preset.Key{Note: note, Velocity: vel, Voice: 1, Channel: 1}
}

func TestParseDefinitionIsolatesBadLines(t *testing.T) {
	src := strings.Join([]string{
		"# comment",
		"%%gain=-0.5",
		"%%pitchbend=30",
		"%%mode=Bogus",
		"%%release=abc",
		"%%unknown=1",
		"%%fillnotes=G",
		"",
		"%midinote.wav",
	}, "\n")
	def, err := ParseDefinition(strings.NewReader(src), 1)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if def.Keywords.Gain != 0.5 || def.Keywords.PitchBend != 24 {
		t.Fatalf("gain=%v pitchbend=%d, want 0.5 and 24", def.Keywords.Gain, def.Keywords.PitchBend)
	}
	if def.Keywords.Has(preset.KeyMode) || def.Keywords.Has(preset.KeyRelease) {
		t.Fatalf("rejected keywords must stay unset")
	}
	if len(def.Errors) != 4 {
		t.Fatalf("errors = %v, want 4", def.Errors)
	}
	wantLines := []int{4, 5, 6, 7}
	for i, le := range def.Errors {
		if le.Line != wantLines[i] {
			t.Fatalf("error %d on line %d, want %d", i, le.Line, wantLines[i])
		}
		if !errors.Is(le, ErrDefinitionParse) {
			t.Fatalf("line error %v does not wrap ErrDefinitionParse", le)
		}
	}
	if len(def.Patterns) != 1 {
		t.Fatalf("patterns = %d, want 1", len(def.Patterns))
	}
}

func TestPatternDefaultsAndPlaceholders(t *testing.T) {
	def, err := ParseDefinition(strings.NewReader("piano_%midinote_*.wav, velocity=90, %fillnote=N, mode=once\n"), 3)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p := def.Patterns[0]
	got, ok, err := p.Match("piano_64_soft.wav")
	if !ok || err != nil {
		t.Fatalf("match = %v, %v", ok, err)
	}
	if got.Note != 64 || got.Velocity != 90 || got.Channel != 3 || got.Fill != preset.FillNo || got.Mode != "once" {
		t.Fatalf("params = %+v", got)
	}
	if _, ok, _ := p.Match("xpiano_64_soft.wav"); ok {
		t.Fatalf("pattern must be anchored at the start of the name")
	}
}

func TestNoteNamePlaceholder(t *testing.T) {
	def, _ := ParseDefinition(strings.NewReader("%notename.wav\n"), 1)
	for name, want := range map[string]int{"C3.wav": 60, "c#3.wav": 61, "A0.wav": 33} {
		got, ok, err := def.Patterns[0].Match(name)
		if !ok || err != nil || got.Note != want {
			t.Fatalf("%s: note=%d ok=%v err=%v, want %d", name, got.Note, ok, err, want)
		}
	}
}

func TestResolveDefinitionMidinoteVelocity(t *testing.T) {
	dir := t.TempDir()
	writeText(t, dir, DefinitionFile, "%%transpose=2\n%midinote-%velocity.wav\n")
	writeSample(t, dir, "60-127.wav", 100)
	writeSample(t, dir, "60-1.wav", 100)
	writeText(t, dir, "readme.txt", "not a sample")

	rec, res := resolveDir(t, dir, nil)
	if res.Strategy != StrategyDefinition || res.Assets != 2 {
		t.Fatalf("strategy=%v assets=%d", res.Strategy, res.Assets)
	}
	if len(rec.Lookup(key(60, 127))) != 1 || len(rec.Lookup(key(60, 1))) != 1 {
		t.Fatalf("samples = %v", rec.Samples)
	}
	if rec.Fill[preset.FillKey{Note: 60, Voice: 1}] != preset.FillGlobal {
		t.Fatalf("fill flag = %c, want G", rec.Fill[preset.FillKey{Note: 60, Voice: 1}])
	}
	if !rec.Keywords.Has(preset.KeyTranspose) || rec.Keywords.Transpose != 2 {
		t.Fatalf("keywords = %+v", rec.Keywords)
	}
}

func TestResolveChainsSequencesOnce(t *testing.T) {
	dir := t.TempDir()
	writeText(t, dir, DefinitionFile, "%midinote_%seq.wav\n%midinote_*.wav\n")
	writeSample(t, dir, "60_1.wav", 10)
	writeSample(t, dir, "60_2.wav", 10)

	rec, res := resolveDir(t, dir, nil)
	list := rec.Lookup(key(60, 127))
	if len(list) != 2 || list[0].Seq != 1 || list[1].Seq != 2 {
		t.Fatalf("chain = %v", list)
	}
	if res.Assets != 2 {
		t.Fatalf("assets = %d, want 2", res.Assets)
	}
}

func TestResolveModeOverride(t *testing.T) {
	dir := t.TempDir()
	writeText(t, dir, DefinitionFile, "once_%midinote.wav, mode=Once\nloop_%midinote.wav, mode=Loop\n")
	writeSample(t, dir, "once_60.wav", 10)
	writeSample(t, dir, "loop_61.wav", 10)

	rec, _ := resolveDir(t, dir, nil)
	if m := rec.Lookup(key(60, 127))[0].Mode; m != preset.ModeOnce {
		t.Fatalf("once sample mode = %q", m)
	}
	if m := rec.Lookup(key(61, 127))[0].Mode; m != "" {
		t.Fatalf("loop sample must not carry an override, got %q", m)
	}
}

func TestResolveSkipsUndecodableSamples(t *testing.T) {
	dir := t.TempDir()
	writeText(t, dir, DefinitionFile, "%midinote.wav\n")
	writeSample(t, dir, "60.wav", 10)
	writeText(t, dir, "61.wav", "garbage")

	rec, res := resolveDir(t, dir, nil)
	if res.Assets != 1 || len(res.AssetErrors) != 1 {
		t.Fatalf("assets=%d errors=%v", res.Assets, res.AssetErrors)
	}
	if rec.Lookup(key(61, 127)) != nil {
		t.Fatalf("broken sample must not be stored")
	}
}

func TestResolveRegionFile(t *testing.T) {
	dir := t.TempDir()
	writeText(t, dir, "kit.sfz", strings.Join([]string{
		"// drum kit",
		"<global> ampeg_release=0.5 volume=-0.25",
		`<region> sample=sub\My Kick.wav pitch_keycenter=36 hivel=100`,
		"<region> sample=snare.wav pitch_keycenter=d2 // trailing",
	}, "\n"))
	writeSample(t, dir, "sub/My Kick.wav", 10)
	writeSample(t, dir, "snare.wav", 10)

	rec, res := resolveDir(t, dir, nil)
	if res.Strategy != StrategyRegions || res.Assets != 2 {
		t.Fatalf("strategy=%v assets=%d errors=%v", res.Strategy, res.Assets, res.AssetErrors)
	}
	kick := rec.Lookup(key(36, 100))
	if len(kick) != 1 || kick[0].Release != 29 {
		t.Fatalf("kick = %v", kick)
	}
	if len(rec.Lookup(key(38, 127))) != 1 {
		t.Fatalf("snare missing: %v", rec.Samples)
	}
	if rec.Keywords.Release != 29 || rec.Keywords.Gain != 0.75 {
		t.Fatalf("keywords = %+v", rec.Keywords)
	}
	if rec.Fill[preset.FillKey{Note: 36, Voice: 1}] != preset.FillYes {
		t.Fatalf("region fill flag must be Y")
	}
}

func TestDefinitionTakesPriorityOverRegions(t *testing.T) {
	dir := t.TempDir()
	writeText(t, dir, DefinitionFile, "%midinote.wav\n")
	writeText(t, dir, "a.sfz", "<region> sample=60.wav pitch_keycenter=10\n")
	writeSample(t, dir, "60.wav", 10)

	rec, res := resolveDir(t, dir, nil)
	if res.Strategy != StrategyDefinition || rec.Lookup(key(60, 127)) == nil {
		t.Fatalf("strategy=%v samples=%v", res.Strategy, rec.Samples)
	}
}

func TestResolveImplicitFiles(t *testing.T) {
	dir := t.TempDir()
	writeSample(t, dir, "60.wav", 10)
	writeSample(t, dir, "D5.WAV", 10)

	rec, res := resolveDir(t, dir, nil)
	if res.Strategy != StrategyImplicit || res.Assets != 2 {
		t.Fatalf("strategy=%v assets=%d", res.Strategy, res.Assets)
	}
	if rec.Lookup(key(60, 127)) == nil || rec.Lookup(key(62, 127)) == nil {
		t.Fatalf("samples = %v", rec.Samples)
	}
	for n := 0; n < 128; n++ {
		if rec.Fill[preset.FillKey{Note: n, Voice: 1}] != preset.FillYes {
			t.Fatalf("note %d not fillable", n)
		}
	}
}

func TestResolveEmptyDirectory(t *testing.T) {
	rec, res := resolveDir(t, t.TempDir(), nil)
	if res.Assets != 0 || len(rec.Samples) != 0 {
		t.Fatalf("empty dir resolved %d assets", res.Assets)
	}
}

type stopAfter struct {
	n        int
	err      error
	progress []float64
}

func (s *stopAfter) Check() error {
	if s.n == 0 {
		return s.err
	}
	s.n--
	return nil
}

func (s *stopAfter) Progress(pct float64) { s.progress = append(s.progress, pct) }

func TestResolveStopsAtCheckpoint(t *testing.T) {
	dir := t.TempDir()
	writeText(t, dir, DefinitionFile, "%midinote.wav\n")
	for _, n := range []string{"60", "61", "62"} {
		writeSample(t, dir, n+".wav", 10)
	}
	stop := errors.New("stop")
	rec := preset.NewRecord(0, "p", dir)
	_, err := quietResolver().Resolve(rec, &stopAfter{n: 3, err: stop})
	if !errors.Is(err, stop) {
		t.Fatalf("err = %v, want checkpoint error", err)
	}
	if len(rec.Samples) > 1 {
		t.Fatalf("resolution continued past the checkpoint: %v", rec.Samples)
	}
}

func TestResolveReportsProgress(t *testing.T) {
	dir := t.TempDir()
	writeText(t, dir, DefinitionFile, "%midinote.wav\n")
	writeSample(t, dir, "60.wav", 10)
	writeSample(t, dir, "61.wav", 10)

	cp := &stopAfter{n: 1 << 30}
	rec := preset.NewRecord(0, "p", dir)
	if _, err := quietResolver().Resolve(rec, cp); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(cp.progress) == 0 || cp.progress[len(cp.progress)-1] != 100 {
		t.Fatalf("progress = %v", cp.progress)
	}
	for i := 1; i < len(cp.progress); i++ {
		if cp.progress[i] < cp.progress[i-1] {
			t.Fatalf("progress went backwards: %v", cp.progress)
		}
	}
}
