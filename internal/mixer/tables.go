package mixer

import "math"

const (
	// FadeLength is the length of the release curve in frames. The table is
	// padded with as many zeros so a block never reads past its end.
	FadeLength = 30000

	// FadeStart is the offset into the curve at which a released voice
	// begins fading.
	FadeStart = 50

	speedSteps  = 84
	speedCenter = 48
)

var (
	fadeTable  = newFadeTable()
	speedTable = newSpeedTable()
)

// newFadeTable is a linear ramp from 1 to 0 raised to the 6th power.
func newFadeTable() []float32 {
	t := make([]float32, 2*FadeLength)
	for i := 0; i < FadeLength; i++ {
		lin := 1 - float64(i)/float64(FadeLength-1)
		t[i] = float32(math.Pow(lin, 6))
	}
	return t
}

// newSpeedTable holds 2^(i/12) for seven octaves, centred on the root.
func newSpeedTable() []float64 {
	t := make([]float64, speedSteps)
	for i := range t {
		t[i] = math.Pow(2, float64(i)/12)
	}
	return t
}

// Speed is the playback rate of a sample recorded at root and played at note.
func Speed(note, root int) float64 {
	i := note - root + speedCenter
	i = min(max(i, 0), speedSteps-1)
	return speedTable[i] / speedTable[speedCenter]
}

// fadeStep maps a release value (0..127) to the number of curve entries a
// fading voice advances per frame. Longer releases advance slower.
func fadeStep(release int) int {
	release = min(max(release, 0), 127)
	return 1 + (127-release)/16
}
