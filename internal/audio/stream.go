package audio

import (
	"encoding/binary"
	"sync"
)

// Source renders interleaved stereo 16-bit frames.
type Source interface {
	Process(dst []int16)
}

// StreamReader adapts a Source to the io.Reader the audio devices pull from.
// The source is always asked for whole blocks of the configured size,
// however the device slices its reads.
type StreamReader struct {
	mu     sync.Mutex
	source Source
	block  []int16
	out    []byte
	off    int
}

func NewStreamReader(source Source, blockFrames int) *StreamReader {
	if blockFrames <= 0 {
		blockFrames = 512
	}
	out := make([]byte, blockFrames*4)
	return &StreamReader{
		source: source,
		block:  make([]int16, blockFrames*2),
		out:    out,
		off:    len(out),
	}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for n < len(p) {
		if r.off == len(r.out) {
			r.render()
		}
		c := copy(p[n:], r.out[r.off:])
		r.off += c
		n += c
	}
	return n, nil
}

func (r *StreamReader) render() {
	r.source.Process(r.block)
	for i, s := range r.block {
		binary.LittleEndian.PutUint16(r.out[i*2:], uint16(s))
	}
	r.off = 0
}

func (r *StreamReader) Close() error { return nil }
