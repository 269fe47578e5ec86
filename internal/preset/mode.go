package preset

import "strings"

// Mode selects how a sounding sample reacts to note-off and loop markers.
type Mode string

const (
	ModeKeyboard Mode = "Keyb" // release on note-off, loop if the sample has a loop
	ModeOnce     Mode = "Once" // play to the end, ignore note-off and loops
	ModeOn64     Mode = "On64" // ignore note-off, released by the sustain pedal
	ModeLoop     Mode = "Loop" // loop until note-off
	ModeLoop2x   Mode = "Lo2x" // loop until the same key is struck again
)

// ParseMode accepts any capitalisation of the enumerated modes.
func ParseMode(s string) (Mode, bool) {
	m := Mode(titleCase(s))
	switch m {
	case ModeKeyboard, ModeOnce, ModeOn64, ModeLoop, ModeLoop2x:
		return m, true
	}
	return "", false
}

// IgnoresNoteOff reports whether a note-off leaves voices in this mode sounding.
func (m Mode) IgnoresNoteOff() bool {
	return m == ModeOnce || m == ModeOn64 || m == ModeLoop2x
}

// Loops reports whether voices in this mode honour the sample's loop marker.
func (m Mode) Loops() bool {
	return m != ModeOnce
}

// VelMode selects how note velocity shapes the output level.
type VelMode string

const (
	VelSample   VelMode = "Sample"   // velocity only picks the sample layer
	VelAccurate VelMode = "Accurate" // velocity also scales amplitude
)

func ParseVelMode(s string) (VelMode, bool) {
	m := VelMode(titleCase(s))
	switch m {
	case VelSample, VelAccurate:
		return m, true
	}
	return "", false
}

// FillFlag marks whether a note may donate its samples to empty neighbours.
type FillFlag byte

const (
	FillYes    FillFlag = 'Y'
	FillNo     FillFlag = 'N'
	FillGlobal FillFlag = 'G' // defer to the preset-wide fillnotes keyword
)

func ParseFillFlag(s string) (FillFlag, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 1 {
		return 0, false
	}
	switch f := FillFlag(s[0]); f {
	case FillYes, FillNo, FillGlobal:
		return f, true
	}
	return 0, false
}

// Eligible resolves a per-note flag against the preset default.
func (f FillFlag) Eligible(global FillFlag) bool {
	return f == FillYes || (f == FillGlobal && global == FillYes)
}

func (f FillFlag) String() string { return string(rune(f)) }

func titleCase(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
