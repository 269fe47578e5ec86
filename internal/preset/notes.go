package preset

import (
	"strconv"
	"strings"
)

var noteNames = [12]string{"c", "c#", "d", "d#", "e", "f", "f#", "g", "g#", "a", "a#", "b"}

// NoteFromName converts a literal like "C#4" to a MIDI note. The octave digit
// is offset by two octaves, which puts note 60 on C3.
func NoteFromName(name string) (int, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if len(name) < 2 {
		return 0, false
	}
	octave, err := strconv.Atoi(name[len(name)-1:])
	if err != nil {
		return 0, false
	}
	pitch := name[:len(name)-1]
	for i, n := range noteNames {
		if n == pitch {
			return i + (octave+2)*12, true
		}
	}
	return 0, false
}

// FileNoteName is the note-name used by implicitly numbered sample sets:
// the pitch class followed by note/12, without the definition-file offset.
func FileNoteName(note int) string {
	return noteNames[note%12] + strconv.Itoa(note/12)
}
