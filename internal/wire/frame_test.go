package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "Empty payload", payload: []byte{}},
		{name: "Single byte", payload: []byte{0x42}},
		{name: "PNG signature", payload: []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}},
		{name: "One megabyte", payload: bytes.Repeat([]byte{0xAB}, 1<<20)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteFrame(&buf, tt.payload); err != nil {
				t.Fatalf("WriteFrame failed: %v", err)
			}
			if !bytes.Equal(buf.Bytes(), EncodeFrame(tt.payload)) {
				t.Fatal("WriteFrame and EncodeFrame disagree")
			}

			got, err := ReadFrame(&buf, 0)
			if err != nil {
				t.Fatalf("ReadFrame failed: %v", err)
			}
			if !bytes.Equal(got, tt.payload) {
				t.Errorf("Payload mismatch: got %d bytes, want %d", len(got), len(tt.payload))
			}

			// The stream now ends on a frame boundary.
			if _, err := ReadFrame(&buf, 0); err != io.EOF {
				t.Errorf("Expected io.EOF at boundary, got %v", err)
			}
		})
	}
}

func TestEncodeFrameHeader(t *testing.T) {
	frame := EncodeFrame(make([]byte, 100))
	if len(frame) != HeaderSize+100 {
		t.Fatalf("Expected %d bytes, got %d", HeaderSize+100, len(frame))
	}
	if got := binary.BigEndian.Uint32(frame[:HeaderSize]); got != 100 {
		t.Errorf("Expected big-endian length 100, got %d", got)
	}
	if !bytes.Equal(frame[:HeaderSize], []byte{0, 0, 0, 100}) {
		t.Errorf("Unexpected header bytes % x", frame[:HeaderSize])
	}
}

func TestReadFrameTruncation(t *testing.T) {
	full := EncodeFrame([]byte("hello world"))

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "Clean end of stream", data: nil, want: io.EOF},
		{name: "Partial header", data: full[:2], want: ErrTruncatedStream},
		{name: "Header only", data: full[:HeaderSize], want: ErrTruncatedStream},
		{name: "Partial payload", data: full[:HeaderSize+5], want: ErrTruncatedStream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(tt.data), 0)
			if tt.want == io.EOF {
				if err != io.EOF {
					t.Fatalf("Expected bare io.EOF, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}
			if !IsProtocolError(err) {
				t.Errorf("Expected %v to be a protocol error", err)
			}
		})
	}
}

func TestReadFrameOversized(t *testing.T) {
	var header [HeaderSize]byte
	binary.BigEndian.PutUint32(header[:], 0xFFFFFFFF)

	_, err := ReadFrame(bytes.NewReader(header[:]), 1024)
	if !errors.Is(err, ErrOversizedFrame) {
		t.Fatalf("Expected ErrOversizedFrame, got %v", err)
	}
	if !IsProtocolError(err) {
		t.Error("Oversized frame should be a protocol error")
	}

	// Exactly at the limit is fine.
	frame := EncodeFrame(make([]byte, 1024))
	if _, err := ReadFrame(bytes.NewReader(frame), 1024); err != nil {
		t.Errorf("Frame at the limit rejected: %v", err)
	}
}

func TestReadFrameTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	if err := server.SetReadDeadline(time.Now().Add(20 * time.Millisecond)); err != nil {
		t.Fatal(err)
	}

	_, err := ReadFrame(server, 0)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if IsProtocolError(err) {
		t.Error("Timeout should not be classified as a protocol error")
	}
}
