package wav

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/vazrupe/endibuf"
)

var (
	ErrMalformed        = errors.New("malformed container")
	ErrUnsupportedWidth = errors.New("unsupported sample width")
)

// LoopGuardFrames are kept past the loop end so a voice reading one frame
// ahead of the loop point never runs off the buffer.
const LoopGuardFrames = 2

// Data is a decoded container normalised to 16-bit stereo interleaved PCM.
type Data struct {
	SampleRate  int
	Channels    int // channel count of the source
	Width       int // bytes per sample in the source
	TotalFrames int // frames present in the data chunk
	Frames      []int16
	FrameCount  int // frames kept in Frames
	LoopStart   int // -1 without loop
	LoopEnd     int // -1 without loop
	Cues        []int
}

type format struct {
	audioFormat uint16
	channels    uint16
	sampleRate  uint32
	byteRate    uint32
	blockAlign  uint16
	bits        uint16
}

type loop struct{ start, end int }

// DecodeFile opens and decodes the container at path.
func DecodeFile(path string) (*Data, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode walks the chunks of a RIFF/WAVE stream until both fmt and data
// were seen, collecting cue and smpl metadata on the way. When a loop is
// present only the frames up to the loop end plus LoopGuardFrames are kept.
func Decode(rs io.ReadSeeker) (*Data, error) {
	r := endibuf.NewReader(rs)
	r.Endian = binary.LittleEndian

	magic, err := r.ReadBytes(4)
	if err != nil || string(magic) != "RIFF" {
		return nil, errors.Wrap(ErrMalformed, "missing RIFF id")
	}
	var riffSize uint32
	if err := r.ReadData(&riffSize); err != nil {
		return nil, errors.Wrap(ErrMalformed, "truncated RIFF header")
	}
	kind, err := r.ReadBytes(4)
	if err != nil || string(kind) != "WAVE" {
		return nil, errors.Wrap(ErrMalformed, "not a WAVE file")
	}

	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, errors.Wrap(err, "seek")
	}
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, errors.Wrap(err, "seek")
	}
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "seek")
	}

	var (
		fmtChunk *format
		raw      []byte
		haveData bool
		cues     []int
		loops    []loop
	)
chunks:
	for {
		id, err := r.ReadBytes(4)
		if err != nil || len(id) < 4 {
			break
		}
		var size uint32
		if err := r.ReadData(&size); err != nil {
			break
		}
		remaining := max(end-r.GetOffset(), 0)
		switch string(id) {
		case "fmt ", "cue ", "smpl":
			if int64(size) > remaining {
				return nil, errors.Wrapf(ErrMalformed, "%q chunk size exceeds file", id)
			}
		case "data":
			if fmtChunk == nil {
				return nil, errors.Wrap(ErrMalformed, "data chunk before fmt chunk")
			}
			if int64(size) > remaining {
				// Truncated data chunk: keep what arrived.
				raw, _ = r.ReadBytes(int(remaining))
				haveData = true
				break chunks
			}
		default:
			skip := int64(size) + int64(size%2)
			if skip > remaining {
				break chunks
			}
			if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
				return nil, errors.Wrap(err, "skip chunk")
			}
			continue
		}

		body, err := r.ReadBytes(int(size))
		if err != nil {
			break
		}
		if size%2 == 1 {
			_, _ = r.ReadBytes(1)
		}
		switch string(id) {
		case "fmt ":
			f, err := parseFormat(body)
			if err != nil {
				return nil, err
			}
			fmtChunk = f
		case "data":
			raw, haveData = body, true
		case "cue ":
			cues = parseCues(body)
		case "smpl":
			loops = parseLoops(body)
		}
	}
	if fmtChunk == nil || !haveData {
		return nil, errors.Wrap(ErrMalformed, "fmt chunk and/or data chunk missing")
	}
	return convert(fmtChunk, raw, cues, loops)
}

func parseFormat(b []byte) (*format, error) {
	if len(b) < 16 {
		return nil, errors.Wrap(ErrMalformed, "short fmt chunk")
	}
	le := binary.LittleEndian
	f := &format{
		audioFormat: le.Uint16(b[0:]),
		channels:    le.Uint16(b[2:]),
		sampleRate:  le.Uint32(b[4:]),
		byteRate:    le.Uint32(b[8:]),
		blockAlign:  le.Uint16(b[12:]),
		bits:        le.Uint16(b[14:]),
	}
	if f.channels == 0 {
		return nil, errors.Wrap(ErrMalformed, "zero channels")
	}
	return f, nil
}

func parseCues(b []byte) []int {
	if len(b) < 4 {
		return nil
	}
	le := binary.LittleEndian
	n := int(le.Uint32(b))
	var out []int
	for i := 0; i < n; i++ {
		off := 4 + i*24
		if off+24 > len(b) {
			break
		}
		out = append(out, int(le.Uint32(b[off+20:])))
	}
	return out
}

func parseLoops(b []byte) []loop {
	if len(b) < 36 {
		return nil
	}
	le := binary.LittleEndian
	n := int(le.Uint32(b[28:]))
	var out []loop
	for i := 0; i < n; i++ {
		off := 36 + i*24
		if off+24 > len(b) {
			break
		}
		out = append(out, loop{
			start: int(le.Uint32(b[off+8:])),
			end:   int(le.Uint32(b[off+12:])),
		})
	}
	return out
}

func convert(f *format, raw []byte, cues []int, loops []loop) (*Data, error) {
	width := int(f.bits+7) / 8
	if width != 2 && width != 3 {
		return nil, errors.Wrapf(ErrUnsupportedWidth, "%d bits", f.bits)
	}
	channels := int(f.channels)
	frameSize := width * channels
	total := len(raw) / frameSize

	d := &Data{
		SampleRate:  int(f.sampleRate),
		Channels:    channels,
		Width:       width,
		TotalFrames: total,
		FrameCount:  total,
		LoopStart:   -1,
		LoopEnd:     -1,
		Cues:        cues,
	}
	if len(loops) > 0 {
		d.LoopStart = loops[0].start
		d.LoopEnd = loops[0].end
		d.FrameCount = min(loops[0].end+LoopGuardFrames, total)
	}

	d.Frames = make([]int16, d.FrameCount*2)
	for i := 0; i < d.FrameCount; i++ {
		base := i * frameSize
		l := sampleAt(raw, base, width)
		r := l
		if channels > 1 {
			r = sampleAt(raw, base+width, width)
		}
		d.Frames[2*i] = l
		d.Frames[2*i+1] = r
	}
	return d, nil
}

// sampleAt reads one little-endian sample; 24-bit input keeps its top 16 bits.
func sampleAt(raw []byte, off, width int) int16 {
	if width == 3 {
		return int16(uint16(raw[off+1]) | uint16(raw[off+2])<<8)
	}
	return int16(binary.LittleEndian.Uint16(raw[off:]))
}
