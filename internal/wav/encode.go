package wav

import "encoding/binary"

// Loop is a sustain loop written into the smpl chunk, in frames.
type Loop struct {
	Start int
	End   int
}

// Encode writes interleaved 16-bit PCM as a WAVE container. Loops, when
// given, are stored in a smpl chunk after the data chunk.
func Encode(samples []int16, channels, sampleRate int, loops ...Loop) []byte {
	le := binary.LittleEndian
	dataSize := len(samples) * 2
	smplSize := 0
	if len(loops) > 0 {
		smplSize = 36 + 24*len(loops)
	}
	total := 12 + 24 + 8 + dataSize
	if smplSize > 0 {
		total += 8 + smplSize
	}
	out := make([]byte, total)

	copy(out[0:], "RIFF")
	le.PutUint32(out[4:], uint32(total-8))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	le.PutUint32(out[16:], 16)
	le.PutUint16(out[20:], 1)
	le.PutUint16(out[22:], uint16(channels))
	le.PutUint32(out[24:], uint32(sampleRate))
	le.PutUint32(out[28:], uint32(sampleRate*channels*2))
	le.PutUint16(out[32:], uint16(channels*2))
	le.PutUint16(out[34:], 16)
	copy(out[36:], "data")
	le.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		le.PutUint16(out[44+i*2:], uint16(s))
	}
	if smplSize == 0 {
		return out
	}

	off := 44 + dataSize
	copy(out[off:], "smpl")
	le.PutUint32(out[off+4:], uint32(smplSize))
	body := out[off+8:]
	le.PutUint32(body[8:], uint32(1_000_000_000/max(sampleRate, 1)))
	le.PutUint32(body[12:], 60)
	le.PutUint32(body[28:], uint32(len(loops)))
	for i, l := range loops {
		lb := body[36+i*24:]
		le.PutUint32(lb[0:], uint32(i))
		le.PutUint32(lb[8:], uint32(l.Start))
		le.PutUint32(lb[12:], uint32(l.End))
	}
	return out
}
