package net

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxPayload is the largest payload a frame can carry.
const MaxPayload = 1<<16 - 1 - headerLen

const headerLen = 2

// ReadFrame reads one frame from r.
// Wire format: [2 bytes LE: total length including header][payload].
// Returns the payload bytes (without the 2-byte length header).
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [headerLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	totalLen := int(binary.LittleEndian.Uint16(header[:]))
	payloadLen := totalLen - headerLen
	if payloadLen <= 0 {
		return nil, fmt.Errorf("invalid frame length: %d", totalLen)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload (%d bytes): %w", payloadLen, err)
	}
	return payload, nil
}

// WriteFrame writes data as one frame in a single Write call.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) == 0 || len(data) > MaxPayload {
		return fmt.Errorf("frame payload of %d bytes out of range", len(data))
	}
	buf := make([]byte, headerLen+len(data))
	binary.LittleEndian.PutUint16(buf, uint16(len(buf)))
	copy(buf[headerLen:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
