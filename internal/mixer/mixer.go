// Package mixer renders the sounding voices into fixed-size 16-bit stereo
// blocks. Process runs on the audio goroutine: it never blocks, and it only
// allocates when a block larger than any before arrives.
package mixer

import (
	"sync/atomic"

	"github.com/cbegin/samplebox-go/internal/effects"
	"github.com/cbegin/samplebox-go/internal/playback"
)

const (
	DefaultPolyphony = 80
	DefaultBlockSize = 512
)

type Config struct {
	Polyphony int // voices mixed per block; older voices beyond it are cut
	BlockSize int // frames per block the buffers are sized for
	Queue     int // voices that may wait for the next block

	// Bus, if set, processes every mixed block after volume and gain.
	Bus *effects.Bus

	// OnIdle is called from the audio goroutine when the last voice stops.
	// It must not block.
	OnIdle func()
}

type Mixer struct {
	cfg     Config
	state   *playback.State
	pending chan *Voice
	active  []*Voice
	mix     []float32

	sounding atomic.Int32
}

func New(state *playback.State, cfg Config) *Mixer {
	if cfg.Polyphony <= 0 {
		cfg.Polyphony = DefaultPolyphony
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.Queue <= 0 {
		cfg.Queue = cfg.Polyphony
	}
	return &Mixer{
		cfg:     cfg,
		state:   state,
		pending: make(chan *Voice, cfg.Queue),
		active:  make([]*Voice, 0, cfg.Polyphony+cfg.Queue),
		mix:     make([]float32, cfg.BlockSize*2),
	}
}

// Play hands v to the audio goroutine. It reports false when the hand-off
// queue is full, in which case the voice is dropped.
func (m *Mixer) Play(v *Voice) bool {
	// Counted before the send so the audio goroutine never sees the voice
	// finish ahead of its increment.
	m.sounding.Add(1)
	select {
	case m.pending <- v:
		return true
	default:
		m.sounding.Add(-1)
		v.done.Store(true)
		return false
	}
}

// Sounding is the number of voices mixed or waiting to be mixed.
func (m *Mixer) Sounding() int { return int(m.sounding.Load()) }

func (m *Mixer) Polyphony() int { return m.cfg.Polyphony }

// Process renders one interleaved stereo block into dst.
func (m *Mixer) Process(dst []int16) {
	frames := len(dst) / 2
	if cap(m.mix) < frames*2 {
		m.mix = make([]float32, frames*2)
	}
	mix := m.mix[:frames*2]
	clear(mix)

	m.drain()
	m.truncate()

	bend := m.state.Bend()
	live := m.active[:0]
	for _, v := range m.active {
		if v.render(mix, bend) {
			live = append(live, v)
		} else {
			v.done.Store(true)
		}
	}
	clear(m.active[len(live):])
	before := len(m.active)
	m.active = live
	if removed := before - len(live); removed > 0 {
		if m.sounding.Add(-int32(removed)) == 0 && m.cfg.OnIdle != nil {
			m.cfg.OnIdle()
		}
	}

	s := m.state.Settings()
	gain := float32(s.Volume * s.Gain)
	for i := range mix {
		mix[i] *= gain
	}
	m.cfg.Bus.Process(mix)
	for i, v := range mix {
		dst[i] = saturate(v)
	}
	if len(dst)%2 == 1 {
		dst[len(dst)-1] = 0
	}
}

func (m *Mixer) drain() {
	for {
		select {
		case v := <-m.pending:
			if len(m.active) == cap(m.active) {
				m.drop(m.active[0])
				copy(m.active, m.active[1:])
				m.active = m.active[:len(m.active)-1]
			}
			m.active = append(m.active, v)
		default:
			return
		}
	}
}

// truncate keeps the newest voices up to the polyphony ceiling. Dropped
// voices are cut without a fade.
func (m *Mixer) truncate() {
	excess := len(m.active) - m.cfg.Polyphony
	if excess <= 0 {
		return
	}
	for _, v := range m.active[:excess] {
		m.drop(v)
	}
	n := copy(m.active, m.active[excess:])
	clear(m.active[n:])
	m.active = m.active[:n]
}

func (m *Mixer) drop(v *Voice) {
	v.done.Store(true)
	m.sounding.Add(-1)
}

func saturate(v float32) int16 {
	s := v * 32768
	if s >= 32767 {
		return 32767
	}
	if s <= -32768 {
		return -32768
	}
	return int16(s)
}
