// ABOUTME: Frame codec: 4-byte length, 4-byte CRC-32, then the JSON payload
// ABOUTME: Distinguishes a closed stream from a corrupted or oversized frame

package protocol

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	// HeaderSize is the fixed length of the frame header.
	HeaderSize = 8

	// DefaultMaxFrameSize bounds a payload when no limit is configured.
	DefaultMaxFrameSize = 1 << 20
)

// Checksum returns the CRC-32 (IEEE) of payload.
func Checksum(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}

// Encode returns payload wrapped in a frame header.
func Encode(payload []byte) []byte {
	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(frame[4:8], Checksum(payload))
	copy(frame[HeaderSize:], payload)
	return frame
}

// WriteFrame encodes payload and writes it to w in a single call.
func WriteFrame(w io.Writer, payload []byte) error {
	if _, err := w.Write(Encode(payload)); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return nil
}

// ReadFrame reads one frame from r and returns its verified payload.
// A maxSize of zero means DefaultMaxFrameSize.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	if maxSize == 0 {
		maxSize = DefaultMaxFrameSize
	}

	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, closedError(err)
	}

	length := binary.BigEndian.Uint32(header[0:4])
	want := binary.BigEndian.Uint32(header[4:8])

	// Checked before allocating so a hostile length cannot exhaust memory.
	if length > maxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrOversize, length, maxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, closedError(err)
	}

	if got := Checksum(payload); got != want {
		return nil, fmt.Errorf("%w: got %08x, header says %08x", ErrChecksumMismatch, got, want)
	}

	return payload, nil
}

// closedError wraps a read failure. Any failure to read a complete frame
// leaves the stream unusable, whether the peer closed cleanly (io.EOF),
// vanished mid-frame (io.ErrUnexpectedEOF), reset, or the socket was closed
// locally.
func closedError(err error) error {
	return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
}
