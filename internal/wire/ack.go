package wire

import (
	"bytes"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Status is the server's verdict on one frame.
type Status byte

const (
	// StatusUnknown is never sent. Readers return it for anything they
	// cannot map onto the closed set below.
	StatusUnknown Status = iota
	StatusOK
	StatusDuplicate
	StatusError
)

// MaxTextAck is the largest text acknowledgment a reader accepts.
const MaxTextAck = 31

// ErrUnknownAck is returned when an acknowledgment cannot be decoded.
var ErrUnknownAck = errors.New("wire: unknown acknowledgment")

var tokens = map[Status]string{
	StatusOK:        "OK",
	StatusDuplicate: "DUPLICATE",
	StatusError:     "ERROR",
}

func (s Status) String() string {
	if t, ok := tokens[s]; ok {
		return t
	}
	return "UNKNOWN"
}

// Valid reports whether s may be sent on the wire.
func (s Status) Valid() bool {
	_, ok := tokens[s]
	return ok
}

// AckCodec writes and reads one acknowledgment per frame.
type AckCodec interface {
	WriteAck(w io.Writer, s Status) error
	ReadAck(r io.Reader) (Status, error)
	Name() string
}

// BinaryAck encodes each status as a single byte equal to its Status value.
type BinaryAck struct{}

func (BinaryAck) Name() string { return "binary" }

func (BinaryAck) WriteAck(w io.Writer, s Status) error {
	if !s.Valid() {
		return errors.Wrapf(ErrUnknownAck, "refusing to send status %d", s)
	}
	if _, err := w.Write([]byte{byte(s)}); err != nil {
		return classify(err, false, "write ack")
	}
	return nil
}

func (BinaryAck) ReadAck(r io.Reader) (Status, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return StatusUnknown, ackReadError(err)
	}
	s := Status(b[0])
	if !s.Valid() {
		return StatusUnknown, errors.Wrapf(ErrUnknownAck, "byte 0x%02x", b[0])
	}
	return s, nil
}

// TextAck speaks the legacy token protocol: the server writes OK, DUPLICATE
// or ERROR and the client performs a single read of up to MaxTextAck bytes.
type TextAck struct{}

func (TextAck) Name() string { return "text" }

func (TextAck) WriteAck(w io.Writer, s Status) error {
	if !s.Valid() {
		return errors.Wrapf(ErrUnknownAck, "refusing to send status %d", s)
	}
	if _, err := io.WriteString(w, tokens[s]); err != nil {
		return classify(err, false, "write ack")
	}
	return nil
}

func (TextAck) ReadAck(r io.Reader) (Status, error) {
	buf := make([]byte, MaxTextAck)
	n, err := r.Read(buf)
	if n == 0 {
		return StatusUnknown, ackReadError(err)
	}
	token := strings.TrimSpace(string(bytes.TrimRight(buf[:n], "\x00")))
	for s, t := range tokens {
		if t == token {
			return s, nil
		}
	}
	return StatusUnknown, errors.Wrapf(ErrUnknownAck, "token %q", token)
}

// ackReadError maps a read that produced no ack bytes. A peer that closed
// cleanly is reported as an unknown (empty) ack; anything else is a
// transport failure.
func ackReadError(err error) error {
	if err == nil || err == io.EOF {
		return errors.Wrap(ErrUnknownAck, "empty read")
	}
	return classify(err, false, "read ack")
}

// ParseAckMode returns the codec registered under name. An empty name
// selects the binary codec.
func ParseAckMode(name string) (AckCodec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "binary":
		return BinaryAck{}, nil
	case "text":
		return TextAck{}, nil
	}
	return nil, errors.Errorf("unknown ack mode %q (want binary or text)", name)
}
