package preset

import (
	"github.com/pkg/errors"

	"github.com/cbegin/samplebox-go/internal/wav"
)

// NoRelease is the per-sample release value meaning "use the preset's".
const NoRelease = 128

// Meta is the playback metadata attached to a decoded sample.
type Meta struct {
	Note      int
	Velocity  int
	Seq       int
	Channel   int
	Release   int
	Mode      Mode // empty when the sample has no override
	MuteGroup int
}

// Asset is an immutable decoded sample. Frames are stereo interleaved 16-bit
// PCM, len(Frames) == FrameCount*2. Assets are shared by reference between a
// Record and any sounding voice.
type Asset struct {
	Meta
	Path       string
	Frames     []int16
	FrameCount int
	Loop       int // first frame of the loop, -1 without loop
}

// LoadAsset decodes the container at path.
func LoadAsset(path string, meta Meta) (*Asset, error) {
	data, err := wav.DecodeFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return NewAsset(path, meta, data), nil
}

func NewAsset(path string, meta Meta, data *wav.Data) *Asset {
	return &Asset{
		Meta:       meta,
		Path:       path,
		Frames:     data.Frames,
		FrameCount: data.FrameCount,
		Loop:       data.LoopStart,
	}
}

// Looped reports whether the sample carries a usable loop region.
func (a *Asset) Looped() bool {
	return a.Loop >= 0 && a.Loop < a.LoopEnd()
}

// LoopEnd is the frame at which a looping voice jumps back to Loop.
func (a *Asset) LoopEnd() int {
	return a.FrameCount - wav.LoopGuardFrames
}

// ReleaseOr returns the sample's own release, or fallback when unset.
func (a *Asset) ReleaseOr(fallback int) int {
	if a.Release < 0 || a.Release > MaxRelease {
		return fallback
	}
	return a.Release
}
