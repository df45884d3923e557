// Package protocol implements the length-prefixed frame used by mini-session-rpc.
//
// TCP is a byte stream, so every message is prefixed with its length. The
// receiver reads the varint length first, then reads exactly that many bytes.
//
// Frame format:
//
//	┌──────────────┬──────┬────────────────────┐
//	│ length       │ type │ body ...           │
//	│ varint 1-10B │ 1B   │ length-1 bytes     │
//	└──────────────┴──────┴────────────────────┘
//
// length counts the type byte plus the body.
package protocol

import (
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxFrameSize bounds a single frame so a corrupt length cannot make the
// receiver allocate without limit.
const MaxFrameSize = 64 << 20

// MsgType distinguishes request and response frames.
type MsgType byte

const (
	MsgTypeRequest  MsgType = 0 // Client → Server call
	MsgTypeResponse MsgType = 1 // Server → Client result
)

func (t MsgType) valid() bool {
	return t == MsgTypeRequest || t == MsgTypeResponse
}

// Reader is what Decode needs: bytes for the varint, bulk reads for the body.
// *bufio.Reader satisfies it.
type Reader interface {
	io.Reader
	io.ByteReader
}

var ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")

// Encode writes one complete frame to w with a single Write call.
// The caller must hold a write lock if multiple goroutines share the same
// writer, otherwise frames from different calls will interleave.
func Encode(w io.Writer, t MsgType, body []byte) error {
	if len(body)+1 > MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 0, protowire.SizeVarint(uint64(len(body)+1))+1+len(body))
	buf = protowire.AppendVarint(buf, uint64(len(body)+1))
	buf = append(buf, byte(t))
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// Decode reads one complete frame from r. It blocks until the whole frame is
// available; io.EOF is returned only when the stream ends on a frame boundary.
func Decode(r Reader) (MsgType, []byte, error) {
	n, err := readLength(r)
	if err != nil {
		return 0, nil, err
	}
	if n == 0 {
		return 0, nil, fmt.Errorf("protocol: empty frame")
	}
	if n > MaxFrameSize {
		return 0, nil, ErrFrameTooLarge
	}

	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}

	t := MsgType(frame[0])
	if !t.valid() {
		return 0, nil, fmt.Errorf("protocol: unsupported message type: %d", frame[0])
	}
	return t, frame[1:], nil
}

// readLength reads a varint byte by byte so no bytes past the prefix are
// consumed from r.
func readLength(r io.ByteReader) (uint64, error) {
	var buf [binaryMaxVarintLen]byte
	for i := 0; i < len(buf); i++ {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && i > 0 {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
		buf[i] = b
		if b < 0x80 {
			v, n := protowire.ConsumeVarint(buf[:i+1])
			if n < 0 {
				return 0, fmt.Errorf("protocol: bad length prefix: %w", protowire.ParseError(n))
			}
			return v, nil
		}
	}
	return 0, fmt.Errorf("protocol: length prefix overflows 64 bits")
}

const binaryMaxVarintLen = 10
