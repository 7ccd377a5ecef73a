package common

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// MaxFrameSize bounds a single JSON frame. File bytes never travel inside a frame.
const MaxFrameSize = 1 << 20

var (
	ErrFrameTooLarge  = errors.New("frame exceeds maximum size")
	ErrMalformedFrame = errors.New("malformed frame")
)

// Send writes v as a 4-byte big-endian length followed by its JSON encoding.
func Send(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode frame")
	}
	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	// one write so a frame is never interleaved on a shared conn
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)

	_, err = w.Write(buf)
	return err
}

// Recv reads one frame written by Send and decodes it into v.
// A clean close before the length prefix is returned as io.EOF.
func Recv(r io.Reader, v any) error {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return err
	}

	n := binary.BigEndian.Uint32(lenBuf)
	if n > MaxFrameSize {
		return ErrFrameTooLarge
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}

	// the frame was consumed whole, the stream stays usable after this error
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(ErrMalformedFrame, "%v", err)
	}
	return nil
}
