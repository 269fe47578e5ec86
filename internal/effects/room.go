package effects

import (
	"math"
	"sync/atomic"
)

// Room is a Schroeder reverb: four parallel combs into two allpasses, fed
// with the mono sum. A zero wet level bypasses it.
type Room struct {
	combs   [4]comb
	allpass [2]allpass
	wet     atomic.Uint32
}

type comb struct {
	buf []float32
	pos int
	fb  float32
}

type allpass struct {
	buf []float32
	pos int
	fb  float32
}

// NewRoom sizes the delay lines from roomSize (0..1); feedback (0..0.95)
// sets the tail length.
func NewRoom(sampleRate int, roomSize, feedback float32) *Room {
	base := max(int(float32(sampleRate)*roomSize*0.05), 10)
	fb := clamp(feedback, 0, 0.95)
	r := &Room{}
	combLens := [4]int{base, base * 1117 / 1000, base * 1271 / 1000, base * 1437 / 1000}
	for i := range r.combs {
		r.combs[i] = comb{buf: make([]float32, combLens[i]), fb: fb}
	}
	apLens := [2]int{base * 347 / 1000, base * 213 / 1000}
	for i := range r.allpass {
		r.allpass[i] = allpass{buf: make([]float32, max(apLens[i], 1)), fb: 0.5}
	}
	return r
}

// SetWet sets the wet/dry mix, 0..1.
func (r *Room) SetWet(wet float32) {
	r.wet.Store(math.Float32bits(clamp(wet, 0, 1)))
}

func (r *Room) Wet() float32 { return math.Float32frombits(r.wet.Load()) }

func (r *Room) ProcessBlock(buf []float32) {
	wet := r.Wet()
	if wet == 0 {
		return
	}
	dry := 1 - wet
	for i := 0; i+1 < len(buf); i += 2 {
		mono := (buf[i] + buf[i+1]) * 0.5
		var out float32
		for c := range r.combs {
			out += r.combs[c].process(mono)
		}
		out *= 0.25
		for a := range r.allpass {
			out = r.allpass[a].process(out)
		}
		buf[i] = buf[i]*dry + out*wet
		buf[i+1] = buf[i+1]*dry + out*wet
	}
}

func (r *Room) Reset() {
	for i := range r.combs {
		clear(r.combs[i].buf)
		r.combs[i].pos = 0
	}
	for i := range r.allpass {
		clear(r.allpass[i].buf)
		r.allpass[i].pos = 0
	}
}

func (c *comb) process(in float32) float32 {
	out := c.buf[c.pos]
	c.buf[c.pos] = in + out*c.fb
	c.pos++
	if c.pos >= len(c.buf) {
		c.pos = 0
	}
	return out
}

func (a *allpass) process(in float32) float32 {
	held := a.buf[a.pos]
	out := -in + held
	a.buf[a.pos] = in + held*a.fb
	a.pos++
	if a.pos >= len(a.buf) {
		a.pos = 0
	}
	return out
}
