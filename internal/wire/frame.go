// Package wire implements the pixelvault transport: length-prefixed image
// frames travelling client to server and one acknowledgment per frame
// travelling back.
package wire

import (
	"encoding/binary"
	"io"
	"math"
	"net"

	"github.com/pkg/errors"
)

// HeaderSize is the size of the big-endian length prefix.
const HeaderSize = 4

// DefaultMaxFrameSize bounds the payload a reader will allocate for.
const DefaultMaxFrameSize uint32 = 64 << 20

var (
	// ErrTruncatedStream means the peer closed the stream inside a frame.
	ErrTruncatedStream = errors.New("wire: stream truncated mid-frame")
	// ErrOversizedFrame means a declared length exceeded the configured limit.
	ErrOversizedFrame = errors.New("wire: frame exceeds size limit")
	// ErrTimeout means a read or write deadline expired.
	ErrTimeout = errors.New("wire: deadline exceeded")
)

// IsProtocolError reports whether err is a framing violation that must
// terminate the connection.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrTruncatedStream) || errors.Is(err, ErrOversizedFrame)
}

// EncodeFrame returns payload prefixed with its 4-byte big-endian length.
func EncodeFrame(payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// WriteFrame writes a single frame to w.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return errors.Wrapf(ErrOversizedFrame, "payload of %d bytes", len(payload))
	}

	var header [HeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return classify(err, false, "write header")
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return classify(err, false, "write payload")
	}
	return nil
}

// ReadFrame blocks until one complete frame is available and returns its
// payload. A stream that ends exactly on a frame boundary yields io.EOF; one
// that ends anywhere else yields ErrTruncatedStream. When max is non-zero a
// declared length above it fails with ErrOversizedFrame before any payload
// buffer is allocated.
func ReadFrame(r io.Reader, max uint32) ([]byte, error) {
	var header [HeaderSize]byte
	n, err := io.ReadFull(r, header[:])
	if err != nil {
		return nil, classify(err, n == 0, "read header")
	}

	length := binary.BigEndian.Uint32(header[:])
	if max > 0 && length > max {
		return nil, errors.Wrapf(ErrOversizedFrame, "declared %d bytes, limit %d", length, max)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, classify(err, false, "read payload")
	}
	return payload, nil
}

// classify maps low-level I/O errors onto the wire error taxonomy.
func classify(err error, atBoundary bool, op string) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return errors.Wrap(ErrTimeout, op)
	}
	switch {
	case err == io.EOF && atBoundary:
		return io.EOF
	case err == io.EOF, err == io.ErrUnexpectedEOF:
		return errors.Wrap(ErrTruncatedStream, op)
	}
	return errors.Wrap(err, op)
}
