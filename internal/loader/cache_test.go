package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cbegin/samplebox-go/internal/playback"
	"github.com/cbegin/samplebox-go/internal/preset"
	"github.com/cbegin/samplebox-go/internal/sampleset"
	"github.com/cbegin/samplebox-go/internal/wav"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeResolver struct {
	mu     sync.Mutex
	events []string
	calls  map[int]int

	block   atomic.Bool // keeps preset 0 resolving until interrupted
	running atomic.Int32
	peak    atomic.Int32
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{calls: make(map[int]int)}
}

func (f *fakeResolver) record(ev string) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *fakeResolver) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.events)
}

func (f *fakeResolver) callCount(i int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func (f *fakeResolver) Resolve(rec *preset.Record, cp sampleset.Checkpoint) (*sampleset.Result, error) {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	f.mu.Lock()
	f.calls[rec.Index]++
	f.mu.Unlock()
	f.record(fmt.Sprintf("start %d", rec.Index))

	for rec.Index == 0 && f.block.Load() {
		if err := cp.Check(); err != nil {
			f.block.Store(false)
			f.record("interrupted 0")
			return nil, err
		}
		time.Sleep(time.Millisecond)
	}
	if err := cp.Check(); err != nil {
		return nil, err
	}
	rec.Keywords.SetTranspose(rec.Index)
	rec.Add(preset.Key{Note: 60, Velocity: 127, Voice: 1, Channel: 1}, &preset.Asset{Meta: preset.Meta{Seq: 1}}, preset.FillYes)
	return &sampleset.Result{Assets: 1}, nil
}

type switchProbe struct{ bits atomic.Uint64 }

func (p *switchProbe) set(v float64) { p.bits.Store(math.Float64bits(v)) }

func (p *switchProbe) UsedPercent() (float64, error) {
	return math.Float64frombits(p.bits.Load()), nil
}

func newTestCache(n int, probe MemoryProbe, res Resolver, hooks Hooks) (*Cache, *playback.State) {
	presets := make([]Preset, n)
	for i := range presets {
		presets[i] = Preset{Name: fmt.Sprintf("p%d", i)}
	}
	st := playback.New(preset.DefaultKeywords(), 1)
	c := New(Config{
		Presets:     presets,
		MemoryLimit: 90,
		Probe:       probe,
		Resolver:    res,
		State:       st,
		Hooks:       hooks,
		Logger:      quiet,
	})
	return c, st
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSelectLoadsActiveAndPrefetchesRest(t *testing.T) {
	res := newFakeResolver()
	var changed []int
	c, st := newTestCache(3, FixedMemory(10), res, Hooks{
		OnPresetChange: func(i int, _ string) { changed = append(changed, i) },
	})
	defer c.Close()

	c.Select(1)
	c.Wait()
	for i := 0; i < 3; i++ {
		if c.State(i) != Loaded || c.Lookup(i) == nil || !c.Lookup(i).Loaded {
			t.Fatalf("preset %d state %v", i, c.State(i))
		}
	}
	got := res.snapshot()
	want := []string{"start 1", "start 2", "start 0"}
	if !slices.Equal(got, want) {
		t.Fatalf("load order %v, want %v", got, want)
	}
	if st.Settings().Transpose != 1 {
		t.Fatalf("published transpose %d, want the active preset's 1", st.Settings().Transpose)
	}
	if !slices.Equal(changed, []int{1}) {
		t.Fatalf("preset change hook calls %v", changed)
	}
}

func TestPrefetchStopsAtMemoryLimit(t *testing.T) {
	res := newFakeResolver()
	c, _ := newTestCache(3, FixedMemory(99), res, Hooks{})
	defer c.Close()

	c.Select(0)
	c.Wait()
	if c.State(0) != Loaded {
		t.Fatal("the active preset must load even under memory pressure")
	}
	if c.State(1) != Empty || c.State(2) != Empty {
		t.Fatalf("prefetch ran past the memory limit: %v %v", c.State(1), c.State(2))
	}
}

func TestEvictionPrefersTwoBeforeAndSparesActive(t *testing.T) {
	probe := &switchProbe{}
	probe.set(10)
	res := newFakeResolver()
	c, st := newTestCache(4, probe, res, Hooks{})
	defer c.Close()

	c.Select(0)
	c.Wait()
	if c.LoadedCount() != 4 {
		t.Fatalf("loaded = %d, want 4", c.LoadedCount())
	}
	if c.Kill(0) {
		t.Fatal("the active preset was evicted")
	}
	if !c.Kill(3) {
		t.Fatal("kill of a loaded preset failed")
	}

	probe.set(99)
	c.Select(3)
	c.Wait()
	if st.Active() != 3 || c.State(3) != Loaded {
		t.Fatalf("active %d state %v", st.Active(), c.State(3))
	}
	if c.State(1) != Empty {
		t.Fatal("preset two before the active one should have been evicted")
	}
	if c.State(2) != Loaded || c.State(0) != Loaded {
		t.Fatalf("unexpected evictions: %v %v", c.State(0), c.State(2))
	}

	// With the preset two before the active one already gone, the one just
	// before it is evicted.
	c.Kill(0)
	c.Kill(2)
	c.Select(0)
	c.Wait()
	if c.State(3) != Empty {
		t.Fatalf("one-before fallback not evicted, state %v", c.State(3))
	}
	if c.State(0) != Loaded {
		t.Fatal("active preset not loaded")
	}
}

func TestRequestInterruptsRunningLoad(t *testing.T) {
	res := newFakeResolver()
	res.block.Store(true)
	c, _ := newTestCache(2, FixedMemory(10), res, Hooks{})
	defer c.Close()

	c.Select(0)
	waitFor(t, func() bool { return len(res.snapshot()) > 0 })
	c.Select(1)
	c.Wait()

	got := res.snapshot()
	if len(got) < 3 || got[0] != "start 0" || got[1] != "interrupted 0" || got[2] != "start 1" {
		t.Fatalf("events %v, want the first load interrupted before the second starts", got)
	}
	if peak := res.peak.Load(); peak != 1 {
		t.Fatalf("%d loads ran at once", peak)
	}
	// Preset 0 was retried by the prefetch after preset 1.
	if c.State(0) != Loaded || c.State(1) != Loaded {
		t.Fatalf("states %v %v", c.State(0), c.State(1))
	}
}

func TestFastPathOnlyRepublishes(t *testing.T) {
	res := newFakeResolver()
	c, st := newTestCache(3, FixedMemory(10), res, Hooks{})
	defer c.Close()

	c.Select(0)
	c.Wait()
	c.Select(2)
	c.Wait()
	for i := 0; i < 3; i++ {
		if n := res.callCount(i); n != 1 {
			t.Fatalf("preset %d resolved %d times", i, n)
		}
	}
	if st.Settings().Transpose != 2 {
		t.Fatalf("transpose %d, want 2", st.Settings().Transpose)
	}
}

func TestStepWraps(t *testing.T) {
	c, st := newTestCache(3, FixedMemory(10), newFakeResolver(), Hooks{})
	defer c.Close()
	c.Step(-1)
	if st.Active() != 2 {
		t.Fatalf("active = %d, want 2", st.Active())
	}
	c.Step(1)
	if st.Active() != 0 {
		t.Fatalf("active = %d, want 0", st.Active())
	}
	if c.Select(7) {
		t.Fatal("out of range select accepted")
	}
	c.Wait()
}

func TestReopenAcceptsRequestsAfterClose(t *testing.T) {
	c, _ := newTestCache(2, FixedMemory(10), newFakeResolver(), Hooks{})
	c.Close()
	c.Select(0)
	c.Wait()
	if c.State(0) != Empty {
		t.Fatalf("closed cache loaded preset 0: %v", c.State(0))
	}
	c.Reopen()
	defer c.Close()
	c.Select(0)
	c.Wait()
	if c.State(0) != Loaded || c.State(1) != Loaded {
		t.Fatalf("states after reopen: %v %v", c.State(0), c.State(1))
	}
}

func TestLoadsRealDirectoriesWithProgress(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"b-strings", "a-piano"} {
		dir := filepath.Join(root, name)
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "60.wav"), wav.Encode(make([]int16, 20), 2, 44100), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(root, ".trash"), 0o755); err != nil {
		t.Fatal(err)
	}
	presets, err := Discover(root)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(presets) != 2 || presets[0].Name != "a-piano" || presets[1].Name != "b-strings" {
		t.Fatalf("presets = %v", presets)
	}

	var mu sync.Mutex
	var progress []float64
	c := New(Config{
		Presets: presets,
		Probe:   FixedMemory(10),
		Logger:  quiet,
		Hooks: Hooks{OnProgress: func(i int, pct float64) {
			mu.Lock()
			progress = append(progress, pct)
			mu.Unlock()
		}},
	})
	defer c.Close()
	c.Select(0)
	c.Wait()

	rec := c.Lookup(0)
	if rec == nil {
		t.Fatal("preset 0 not loaded")
	}
	// The implicit sample at 60 fills the whole keyboard.
	for _, note := range []int{0, 60, 127} {
		if rec.Lookup(preset.Key{Note: note, Velocity: 100, Voice: 1, Channel: 1}) == nil {
			t.Fatalf("note %d not filled", note)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(progress) == 0 || progress[len(progress)-1] != 100 {
		t.Fatalf("progress = %v", progress)
	}
}

func TestMissingDirectoryLeavesPresetEmpty(t *testing.T) {
	c := New(Config{
		Presets: []Preset{{Name: "gone", Dir: filepath.Join(t.TempDir(), "gone")}},
		Probe:   FixedMemory(10),
		Logger:  quiet,
	})
	defer c.Close()
	c.Select(0)
	c.Wait()
	if c.State(0) != Empty || c.Current() != nil {
		t.Fatalf("state %v", c.State(0))
	}
}

func TestGateWaitsForVoicesAndWakes(t *testing.T) {
	g := NewGate(GateConfig{Grace: time.Millisecond, Poll: time.Hour, Settle: time.Millisecond})
	var sounding atomic.Int32
	sounding.Store(2)
	g.Watch(func() int { return int(sounding.Load()) })

	done := make(chan error, 1)
	go func() { done <- g.Wait(context.Background()) }()
	select {
	case err := <-done:
		t.Fatalf("gate opened while voices sound: %v", err)
	case <-time.After(30 * time.Millisecond):
	}
	sounding.Store(0)
	g.Wake()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("gate did not open after the voices stopped")
	}
}

func TestGateHonoursMIDIGrace(t *testing.T) {
	g := NewGate(GateConfig{Grace: 40 * time.Millisecond, Poll: time.Millisecond})
	g.MarkMIDI()
	start := time.Now()
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("gate opened after %v, inside the grace window", elapsed)
	}
}

func TestGateCancel(t *testing.T) {
	g := NewGate(GateConfig{Poll: time.Hour})
	g.Watch(func() int { return 1 })
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	if err := g.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
