// Package loader keeps resolved presets in memory. One background goroutine
// at a time resolves and fills presets, starting with the active one and
// prefetching the following ones until memory runs short.
package loader

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/cbegin/samplebox-go/internal/fill"
	"github.com/cbegin/samplebox-go/internal/playback"
	"github.com/cbegin/samplebox-go/internal/preset"
	"github.com/cbegin/samplebox-go/internal/sampleset"
)

// ErrInterrupted ends a load that was superseded by a newer request.
var ErrInterrupted = errors.New("load interrupted")

// DefaultMemoryLimit is the used-memory percentage above which prefetching
// stops and older presets are evicted.
const DefaultMemoryLimit = 95

// SlotState is the lifecycle of one preset slot.
type SlotState int32

const (
	Empty SlotState = iota
	Loading
	Loaded
)

func (s SlotState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	default:
		return "empty"
	}
}

// Resolver fills a record from its directory.
type Resolver interface {
	Resolve(rec *preset.Record, cp sampleset.Checkpoint) (*sampleset.Result, error)
}

// Hooks are invoked from the loader goroutine, or from Select for
// OnPresetChange. They must return quickly.
type Hooks struct {
	OnPresetChange func(index int, name string)
	OnProgress     func(index int, percent float64)
	OnLoaded       func(index int, name string, res *sampleset.Result)
}

type Config struct {
	Presets     []Preset
	Channel     int     // default MIDI channel, the one notes are filled on
	MemoryLimit float64 // percent of system memory; <= 0 disables the check
	Probe       MemoryProbe
	Resolver    Resolver
	Gate        *Gate
	State       *playback.State
	Hooks       Hooks
	Logger      *slog.Logger
}

type Cache struct {
	cfg    Config
	log    *slog.Logger
	slots  []atomic.Pointer[preset.Record]
	states []atomic.Int32
	loaded atomic.Int32

	reqMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

func New(cfg Config) *Cache {
	if cfg.Channel <= 0 {
		cfg.Channel = 1
	}
	if cfg.Probe == nil {
		cfg.Probe = SystemMemory{}
	}
	if cfg.Gate == nil {
		cfg.Gate = NewGate(GateConfig{})
	}
	if cfg.State == nil {
		cfg.State = playback.New(preset.DefaultKeywords(), playback.DefaultVolume)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = sampleset.New(sampleset.Config{
			Channel: cfg.Channel,
			Release: cfg.State.Base().Release,
			Mode:    cfg.State.Base().Mode,
			Logger:  log,
		})
	}
	return &Cache{
		cfg:    cfg,
		log:    log,
		slots:  make([]atomic.Pointer[preset.Record], len(cfg.Presets)),
		states: make([]atomic.Int32, len(cfg.Presets)),
	}
}

func (c *Cache) Len() int { return len(c.cfg.Presets) }

func (c *Cache) Presets() []Preset { return c.cfg.Presets }

func (c *Cache) Name(i int) string {
	if i < 0 || i >= len(c.cfg.Presets) {
		return ""
	}
	return c.cfg.Presets[i].Name
}

func (c *Cache) State(i int) SlotState {
	if i < 0 || i >= len(c.states) {
		return Empty
	}
	return SlotState(c.states[i].Load())
}

// Lookup returns the record of a fully loaded preset, or nil.
func (c *Cache) Lookup(i int) *preset.Record {
	if i < 0 || i >= len(c.slots) {
		return nil
	}
	return c.slots[i].Load()
}

// Current returns the active preset's record once it is loaded.
func (c *Cache) Current() *preset.Record { return c.Lookup(c.cfg.State.Active()) }

// LoadedCount is the number of presets currently held in memory.
func (c *Cache) LoadedCount() int { return int(c.loaded.Load()) }

// Select makes preset i active and loads it. Out-of-range indexes are
// ignored and reported as false.
func (c *Cache) Select(i int) bool {
	if i < 0 || i >= len(c.cfg.Presets) {
		return false
	}
	c.cfg.State.SetActive(i)
	if h := c.cfg.Hooks.OnPresetChange; h != nil {
		h(i, c.Name(i))
	}
	c.RequestLoad(i)
	return true
}

// Step moves the active preset by delta, wrapping around the setlist.
func (c *Cache) Step(delta int) {
	n := len(c.cfg.Presets)
	if n == 0 {
		return
	}
	i := ((c.cfg.State.Active()+delta)%n + n) % n
	c.Select(i)
}

// RequestLoad interrupts any running load, waits for it to exit and starts
// loading preset i in the background.
func (c *Cache) RequestLoad(i int) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	if c.closed {
		return
	}
	c.stopLocked()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	go c.run(ctx, i, done)
}

// Wait blocks until the current load chain has finished.
func (c *Cache) Wait() {
	c.reqMu.Lock()
	done := c.done
	c.reqMu.Unlock()
	if done != nil {
		<-done
	}
}

// Close interrupts loading and waits for the loader goroutine to exit.
func (c *Cache) Close() {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	c.stopLocked()
	c.closed = true
}

// Reopen lets a closed cache accept load requests again. Loaded presets
// were kept across Close.
func (c *Cache) Reopen() {
	c.reqMu.Lock()
	c.closed = false
	c.reqMu.Unlock()
}

func (c *Cache) stopLocked() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.cfg.Gate.Wake()
	<-c.done
	c.cancel = nil
}

// Kill evicts preset i. The active preset is never evicted.
func (c *Cache) Kill(i int) bool {
	if i < 0 || i >= len(c.slots) || i == c.cfg.State.Active() {
		return false
	}
	if !c.states[i].CompareAndSwap(int32(Loaded), int32(Empty)) {
		return false
	}
	c.slots[i].Store(nil)
	c.loaded.Add(-1)
	c.log.Info("evicted preset", "index", i, "name", c.Name(i))
	return true
}

func (c *Cache) run(ctx context.Context, start int, done chan struct{}) {
	defer close(done)
	n := len(c.cfg.Presets)
	if n == 0 {
		return
	}
	if int(c.loaded.Load()) == n {
		c.publish(c.cfg.State.Active())
		return
	}
	for i := start; ; {
		err := c.load(ctx, i)
		if errors.Is(err, ErrInterrupted) {
			c.log.Debug("load interrupted", "index", i, "name", c.Name(i))
			return
		}
		if err != nil {
			c.log.Error("load failed", "index", i, "name", c.Name(i), "err", err)
		}
		if c.memoryOver() {
			c.log.Info("memory limit reached, prefetch stopped", "limit", c.cfg.MemoryLimit)
			return
		}
		next := (i + 1) % n
		if next == c.cfg.State.Active() {
			return
		}
		i = next
	}
}

func (c *Cache) load(ctx context.Context, i int) error {
	over := c.memoryOver()
	active := c.cfg.State.Active()
	if i == active && over {
		n := len(c.cfg.Presets)
		if !c.Kill(((active-2)%n + n) % n) {
			c.Kill(((active-1)%n + n) % n)
		}
	}
	if c.State(i) == Loaded {
		if i == c.cfg.State.Active() {
			c.publish(i)
		}
		return nil
	}
	if err := ctx.Err(); err != nil {
		return ErrInterrupted
	}

	p := c.cfg.Presets[i]
	c.states[i].Store(int32(Loading))
	c.log.Info("loading preset", "index", i, "name", p.Name)
	rec := preset.NewRecord(i, p.Name, p.Dir)
	cp := &checkpoint{ctx: ctx, cache: c, index: i}
	res, err := c.cfg.Resolver.Resolve(rec, cp)
	if err == nil {
		err = fill.Fill(rec, c.cfg.Channel, cp)
	}
	if err != nil {
		c.states[i].Store(int32(Empty))
		if errors.Is(err, ErrInterrupted) || ctx.Err() != nil {
			return ErrInterrupted
		}
		return errors.Wrapf(err, "preset %s", p.Name)
	}

	rec.Loaded = true
	c.slots[i].Store(rec)
	c.states[i].Store(int32(Loaded))
	c.loaded.Add(1)
	c.log.Info("loaded preset", "index", i, "name", p.Name, "strategy", res.Strategy, "assets", res.Assets)
	if i == c.cfg.State.Active() {
		c.publish(i)
	}
	if h := c.cfg.Hooks.OnLoaded; h != nil {
		h(i, p.Name, res)
	}
	return nil
}

func (c *Cache) publish(i int) {
	rec := c.Lookup(i)
	if rec == nil {
		return
	}
	c.cfg.State.Publish(rec.Keywords, rec.Voices())
}

func (c *Cache) memoryOver() bool {
	if c.cfg.MemoryLimit <= 0 {
		return false
	}
	used, err := c.cfg.Probe.UsedPercent()
	if err != nil {
		c.log.Warn("memory probe failed", "err", err)
		return false
	}
	return used > c.cfg.MemoryLimit
}

// checkpoint ties resolution work to the request context and the gate.
// Only presets other than the active one yield to playback.
type checkpoint struct {
	ctx   context.Context
	cache *Cache
	index int
}

func (cp *checkpoint) Check() error {
	if cp.ctx.Err() != nil {
		return ErrInterrupted
	}
	if cp.index == cp.cache.cfg.State.Active() {
		return nil
	}
	if err := cp.cache.cfg.Gate.Wait(cp.ctx); err != nil {
		return ErrInterrupted
	}
	return nil
}

func (cp *checkpoint) Progress(percent float64) {
	if cp.index != cp.cache.cfg.State.Active() {
		return
	}
	if h := cp.cache.cfg.Hooks.OnProgress; h != nil {
		h(cp.index, percent)
	}
}
