package preset

// Keyword names a preset-wide override that a definition file may set.
type Keyword uint8

const (
	KeyGain Keyword = iota
	KeyTranspose
	KeyRelease
	KeyFillNotes
	KeyPitchBend
	KeyMode
	KeyVelMode
)

var keywordNames = [...]string{
	KeyGain:      "gain",
	KeyTranspose: "transpose",
	KeyRelease:   "release",
	KeyFillNotes: "fillnotes",
	KeyPitchBend: "pitchbend",
	KeyMode:      "mode",
	KeyVelMode:   "velmode",
}

func (k Keyword) String() string {
	if int(k) < len(keywordNames) {
		return keywordNames[k]
	}
	return "unknown"
}

// Keywords holds the overrides resolved for one preset. Only keywords that
// were explicitly set are reported by Has; the rest fall back to defaults in
// Overlay.
type Keywords struct {
	Gain      float64
	Transpose int
	Release   int
	FillNotes FillFlag
	PitchBend int
	Mode      Mode
	VelMode   VelMode

	set uint16
}

// Defaults used when neither the preset nor the box configuration overrides
// a keyword.
const (
	DefaultRelease   = 30
	DefaultPitchBend = 7
	MaxRelease       = 127
	MaxPitchBend     = 24
)

func DefaultKeywords() Keywords {
	return Keywords{
		Gain:      1,
		Release:   DefaultRelease,
		FillNotes: FillYes,
		PitchBend: DefaultPitchBend,
		Mode:      ModeKeyboard,
		VelMode:   VelSample,
	}
}

func (k *Keywords) Has(kw Keyword) bool { return k.set&(1<<kw) != 0 }

func (k *Keywords) mark(kw Keyword) { k.set |= 1 << kw }

func (k *Keywords) SetGain(v float64) {
	if v < 0 {
		v = -v
	}
	k.Gain = v
	k.mark(KeyGain)
}

func (k *Keywords) SetTranspose(v int) {
	k.Transpose = v
	k.mark(KeyTranspose)
}

func (k *Keywords) SetRelease(v int) {
	k.Release = clamp(v, 0, MaxRelease)
	k.mark(KeyRelease)
}

func (k *Keywords) SetFillNotes(v FillFlag) {
	k.FillNotes = v
	k.mark(KeyFillNotes)
}

func (k *Keywords) SetPitchBend(v int) {
	if v < 0 {
		v = -v
	}
	k.PitchBend = clamp(v, 0, MaxPitchBend)
	k.mark(KeyPitchBend)
}

func (k *Keywords) SetMode(v Mode) {
	k.Mode = v
	k.mark(KeyMode)
}

func (k *Keywords) SetVelMode(v VelMode) {
	k.VelMode = v
	k.mark(KeyVelMode)
}

// Overlay returns base with every keyword explicitly set on k applied.
func (k Keywords) Overlay(base Keywords) Keywords {
	out := base
	if k.Has(KeyGain) {
		out.SetGain(k.Gain)
	}
	if k.Has(KeyTranspose) {
		out.SetTranspose(k.Transpose)
	}
	if k.Has(KeyRelease) {
		out.SetRelease(k.Release)
	}
	if k.Has(KeyFillNotes) {
		out.SetFillNotes(k.FillNotes)
	}
	if k.Has(KeyPitchBend) {
		out.SetPitchBend(k.PitchBend)
	}
	if k.Has(KeyMode) {
		out.SetMode(k.Mode)
	}
	if k.Has(KeyVelMode) {
		out.SetVelMode(k.VelMode)
	}
	return out
}

// FillDefault is the preset-wide fill eligibility; unset means Y.
func (k *Keywords) FillDefault() FillFlag {
	if k.Has(KeyFillNotes) {
		return k.FillNotes
	}
	return FillYes
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
