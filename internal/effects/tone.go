package effects

import (
	"math"
	"sync/atomic"
)

// Bands of the master tone control.
const (
	Bass = iota
	Mid
	Treble
	ToneBands
)

// MaxToneDB bounds the boost or cut of a tone band.
const MaxToneDB = 15

const (
	toneLowHz  = 250
	toneHighHz = 4000
)

// Tone is a bass/mid/treble control. Bass is the signal below 250Hz, treble
// the signal above 4kHz, mid whatever remains. Band gains are set in dB and
// glide to their new value across one block, so turning a knob while
// playing does not click. With every band at 0dB the block is left as is.
type Tone struct {
	target [ToneBands]atomic.Uint32 // dB as float32 bits
	cur    [ToneBands]float32       // linear gains reached at the end of the last block

	aLow, aHigh float32
	low, high   [2]float32 // one-pole lowpass state per channel
}

func NewTone(sampleRate int) *Tone {
	t := &Tone{
		aLow:  onePole(sampleRate, toneLowHz),
		aHigh: onePole(sampleRate, toneHighHz),
	}
	for i := range t.cur {
		t.cur[i] = 1
	}
	return t
}

func onePole(sampleRate int, hz float64) float32 {
	return float32(1 - math.Exp(-2*math.Pi*hz/float64(sampleRate)))
}

// SetGain sets band (Bass, Mid or Treble) to db, clamped to ±MaxToneDB.
func (t *Tone) SetGain(band int, db float32) {
	if band < 0 || band >= ToneBands {
		return
	}
	t.target[band].Store(math.Float32bits(clamp(db, -MaxToneDB, MaxToneDB)))
}

// Gain returns the dB setting of band, 0 for unknown bands.
func (t *Tone) Gain(band int) float32 {
	if band < 0 || band >= ToneBands {
		return 0
	}
	return math.Float32frombits(t.target[band].Load())
}

func (t *Tone) ProcessBlock(buf []float32) {
	var to [ToneBands]float32
	flat := true
	for b := range to {
		db := math.Float32frombits(t.target[b].Load())
		to[b] = float32(math.Pow(10, float64(db)/20))
		if to[b] != 1 || t.cur[b] != 1 {
			flat = false
		}
	}
	if flat {
		// Keep the filters tracking so leaving bypass is smooth.
		for i := 0; i+1 < len(buf); i += 2 {
			for ch := range 2 {
				x := buf[i+ch]
				t.low[ch] += t.aLow * (x - t.low[ch])
				t.high[ch] += t.aHigh * (x - t.high[ch])
			}
		}
		return
	}

	frames := len(buf) / 2
	if frames == 0 {
		return
	}
	var step [ToneBands]float32
	for b := range step {
		step[b] = (to[b] - t.cur[b]) / float32(frames)
	}
	g := t.cur
	for i := 0; i+1 < len(buf); i += 2 {
		for b := range g {
			g[b] += step[b]
		}
		for ch := range 2 {
			x := buf[i+ch]
			t.low[ch] += t.aLow * (x - t.low[ch])
			t.high[ch] += t.aHigh * (x - t.high[ch])
			lo := t.low[ch]
			hi := x - t.high[ch]
			buf[i+ch] = lo*g[Bass] + (x-lo-hi)*g[Mid] + hi*g[Treble]
		}
	}
	t.cur = to
}

func (t *Tone) Reset() {
	t.low = [2]float32{}
	t.high = [2]float32{}
	for b := range t.cur {
		db := math.Float32frombits(t.target[b].Load())
		t.cur[b] = float32(math.Pow(10, float64(db)/20))
	}
}
