package mixer

import (
	"sync/atomic"

	"github.com/cbegin/samplebox-go/internal/preset"
)

// Voice is one sounding sample. It is created by the MIDI controller and
// owned by the mixer once handed over with Play; the controller may only
// call Release, Stop and the read-only accessors afterwards.
type Voice struct {
	asset *preset.Asset
	note  int
	mode  preset.Mode
	speed float64
	gain  float32
	step  int
	loop  bool

	// Mixer-owned playback position.
	pos     float64
	fading  bool
	fadePos int

	release atomic.Bool
	stop    atomic.Bool
	done    atomic.Bool
}

// VoiceParams are the playback parameters resolved at note-on.
type VoiceParams struct {
	Note     int         // sounding note after transpose
	Velocity int         // 1..127
	Mode     preset.Mode // preset-wide mode; the asset's own mode wins
	Release  int         // preset-wide release; the asset's own release wins
	VelMode  preset.VelMode
}

func NewVoice(a *preset.Asset, p VoiceParams) *Voice {
	mode := p.Mode
	if a.Mode != "" {
		mode = a.Mode
	}
	if mode == "" {
		mode = preset.ModeKeyboard
	}
	gain := float32(1)
	if p.VelMode == preset.VelAccurate {
		gain = float32(min(max(p.Velocity, 0), 127)) / 127
	}
	return &Voice{
		asset: a,
		note:  p.Note,
		mode:  mode,
		speed: Speed(p.Note, a.Note),
		gain:  gain,
		step:  fadeStep(a.ReleaseOr(p.Release)),
		loop:  a.Looped() && mode.Loops(),
	}
}

func (v *Voice) Asset() *preset.Asset { return v.asset }
func (v *Voice) Note() int            { return v.note }
func (v *Voice) Mode() preset.Mode    { return v.mode }
func (v *Voice) MuteGroup() int       { return v.asset.MuteGroup }

// Release starts the fade-out on the next block.
func (v *Voice) Release() { v.release.Store(true) }

// Stop removes the voice on the next block without a fade.
func (v *Voice) Stop() { v.stop.Store(true) }

// Done reports whether the mixer has dropped the voice.
func (v *Voice) Done() bool { return v.done.Load() }

func (v *Voice) Releasing() bool { return v.release.Load() }

// render adds the voice into mix and reports whether it is still sounding.
func (v *Voice) render(mix []float32, bend float64) bool {
	if v.stop.Load() {
		return false
	}
	if !v.fading && v.release.Load() {
		v.fading = true
		v.fadePos = FadeStart
	}
	a := v.asset
	frames := a.Frames
	end := a.FrameCount
	loopLen := 0
	if v.loop {
		end = a.LoopEnd()
		loopLen = end - a.Loop
	}
	speed := v.speed * bend
	const scale = 1.0 / 32768
	n := len(mix) / 2
	for i := 0; i < n; i++ {
		idx := int(v.pos)
		if idx >= end {
			if loopLen <= 0 {
				return false
			}
			for idx >= end {
				v.pos -= float64(loopLen)
				idx = int(v.pos)
			}
		}
		amp := v.gain * scale
		if v.fading {
			amp *= fadeTable[min(v.fadePos+i*v.step, len(fadeTable)-1)]
		}
		mix[2*i] += float32(frames[2*idx]) * amp
		mix[2*i+1] += float32(frames[2*idx+1]) * amp
		v.pos += speed
	}
	if v.fading {
		v.fadePos += n * v.step
		if v.fadePos >= FadeLength {
			return false
		}
	}
	return true
}
