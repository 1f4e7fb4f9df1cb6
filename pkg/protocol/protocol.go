// Package protocol defines control message framing between the routing layer
// and the coordinator host.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	pb "github.com/NicolasHaas/screenshare/pkg/protocol/pb"
)

// MaxControlMessage is the default maximum control message size (64KB).
const MaxControlMessage = 65536

var ErrMessageTooLarge = errors.New("protocol: message too large")

// WriteControlMessage writes a length-prefixed JSON control message to a writer.
// Format: [4-byte big-endian length][JSON payload]
func WriteControlMessage(w io.Writer, msg *pb.ControlMessage) error {
	return WriteControlMessageMax(w, msg, MaxControlMessage)
}

// WriteControlMessageMax is WriteControlMessage with an explicit size limit.
func WriteControlMessageMax(w io.Writer, msg *pb.ControlMessage, maxSize int) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("protocol: marshal: %w", err)
	}
	if len(data) > maxSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}

	// Length prefix and payload in a single write.
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data))) //nolint:gosec // length already bounds-checked above
	copy(buf[4:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("protocol: write: %w", err)
	}
	return nil
}

// ReadControlMessage reads a length-prefixed JSON control message from a reader.
func ReadControlMessage(r io.Reader) (*pb.ControlMessage, error) {
	return ReadControlMessageMax(r, MaxControlMessage)
}

// ReadControlMessageMax is ReadControlMessage with an explicit size limit.
func ReadControlMessageMax(r io.Reader, maxSize int) (*pb.ControlMessage, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, fmt.Errorf("protocol: read length: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if uint64(length) > uint64(maxSize) { //nolint:gosec // maxSize is positive
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("protocol: read payload: %w", err)
	}

	msg := &pb.ControlMessage{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal: %w", err)
	}
	return msg, nil
}
