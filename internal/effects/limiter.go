package effects

import (
	"math"
	"sync/atomic"
)

// Limiter pulls loud passages under a ceiling before the block is clipped
// to 16-bit. It follows the louder channel so the stereo image does not
// shift. A ceiling of zero disables it.
type Limiter struct {
	ceiling atomic.Uint32
	attack  float32
	release float32
	env     float32
}

func NewLimiter(sampleRate int, attackMs, releaseMs float64) *Limiter {
	sr := float64(sampleRate)
	return &Limiter{
		attack:  float32(1 - math.Exp(-1/(attackMs*sr/1000))),
		release: float32(1 - math.Exp(-1/(releaseMs*sr/1000))),
	}
}

// SetCeiling sets the ceiling in dBFS, e.g. -1. Values at or above 0 turn
// the limiter off.
func (l *Limiter) SetCeiling(db float64) {
	if db >= 0 {
		l.ceiling.Store(0)
		return
	}
	l.ceiling.Store(math.Float32bits(float32(math.Pow(10, db/20))))
}

func (l *Limiter) Enabled() bool { return l.ceiling.Load() != 0 }

func (l *Limiter) ProcessBlock(buf []float32) {
	bits := l.ceiling.Load()
	if bits == 0 {
		return
	}
	ceiling := math.Float32frombits(bits)
	for i := 0; i+1 < len(buf); i += 2 {
		peak := max(abs32(buf[i]), abs32(buf[i+1]))
		if peak > l.env {
			l.env += l.attack * (peak - l.env)
		} else {
			l.env += l.release * (peak - l.env)
		}
		if l.env > ceiling {
			g := ceiling / l.env
			buf[i] *= g
			buf[i+1] *= g
		}
	}
}

func (l *Limiter) Reset() { l.env = 0 }

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
