// Package effects implements the master bus applied to every mixed block
// before it is narrowed to 16-bit.
package effects

// Stage processes an interleaved stereo block in place. Samples are
// normalised so that ±1 is full scale.
type Stage interface {
	ProcessBlock(buf []float32)
	Reset()
}

// Bus applies a sequence of stages in order. Stages must not allocate in
// ProcessBlock; parameters may be changed from other goroutines through
// their atomic setters.
type Bus struct {
	stages []Stage
}

func NewBus(stages ...Stage) *Bus {
	return &Bus{stages: stages}
}

func (b *Bus) Process(buf []float32) {
	if b == nil {
		return
	}
	for _, s := range b.stages {
		s.ProcessBlock(buf)
	}
}

func (b *Bus) Reset() {
	if b == nil {
		return
	}
	for _, s := range b.stages {
		s.Reset()
	}
}

// Master is the bus used by the instrument: tone shaping, room, then a
// peak limiter. Every stage starts neutral.
type Master struct {
	*Bus
	Tone    *Tone
	Room    *Room
	Limiter *Limiter
}

func NewMaster(sampleRate int) *Master {
	m := &Master{
		Tone:    NewTone(sampleRate),
		Room:    NewRoom(sampleRate, 0.5, 0.7),
		Limiter: NewLimiter(sampleRate, 5, 80),
	}
	m.Bus = NewBus(m.Tone, m.Room, m.Limiter)
	return m
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
