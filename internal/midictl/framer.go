package midictl

import (
	"bufio"
	"context"
	"io"

	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"
)

// Framer reassembles channel messages from a raw MIDI byte stream, such as a
// UART at 31250 baud. A status byte always starts a new message. Program
// change and channel pressure carry one data byte, every other channel
// message two. Data bytes without a preceding status and system messages
// are dropped.
type Framer struct {
	buf  [3]byte
	n    int
	want int
}

// Feed adds one byte and returns a complete message when it has one.
func (f *Framer) Feed(b byte) (midi.Message, bool) {
	switch {
	case b >= 0xF8:
		return nil, false // realtime bytes may appear anywhere
	case b >= 0xF0:
		f.n, f.want = 0, 0
		return nil, false
	case b&0x80 != 0:
		f.buf[0] = b
		f.n = 1
		f.want = 3
		if t := b >> 4; t == 0xC || t == 0xD {
			f.want = 2
		}
		return nil, false
	case f.want == 0:
		return nil, false
	}
	f.buf[f.n] = b
	f.n++
	if f.n < f.want {
		return nil, false
	}
	msg := midi.Message(append([]byte(nil), f.buf[:f.n]...))
	f.n, f.want = 0, 0
	return msg, true
}

// Run feeds r into the framer and passes every message to handle until r
// ends or ctx is done.
func (f *Framer) Run(ctx context.Context, r io.Reader, handle func(midi.Message)) error {
	br := bufio.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := br.ReadByte()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read serial MIDI")
		}
		if msg, ok := f.Feed(b); ok {
			handle(msg)
		}
	}
}
