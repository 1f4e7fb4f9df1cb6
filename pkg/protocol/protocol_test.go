package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"

	pb "github.com/NicolasHaas/screenshare/pkg/protocol/pb"
)

func TestControlMessageFraming(t *testing.T) {
	msgs := []*pb.ControlMessage{
		{Hello: &pb.Hello{UserID: "0b3c4f2e-6c1d-4a4e-9d55-1f2a3b4c5d6e", Username: "Steve"}},
		{HelloAck: &pb.HelloAck{Server: "dev", Channels: []string{"BungeeCord"}}},
		{PluginMessage: &pb.PluginMessage{Channel: "BungeeCord", Data: []byte{0, 9, 'G', 'e', 't', 'S', 'e', 'r', 'v', 'e', 'r'}}},
		{Ping: &pb.Ping{Timestamp: 42}},
		{ErrorResponse: &pb.ErrorResponse{Code: pb.CodeReplaced, Message: "replaced"}},
	}

	var buf bytes.Buffer
	for _, m := range msgs {
		if err := WriteControlMessage(&buf, m); err != nil {
			t.Fatalf("WriteControlMessage: %v", err)
		}
	}
	for i, want := range msgs {
		got, err := ReadControlMessage(&buf)
		if err != nil {
			t.Fatalf("ReadControlMessage #%d: %v", i, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("message #%d mismatch (-want +got):\n%s", i, diff)
		}
	}
	if _, err := ReadControlMessage(&buf); !errors.Is(err, io.EOF) {
		t.Fatalf("read past end: %v, want EOF", err)
	}
}

func TestWriteControlMessageTooLarge(t *testing.T) {
	msg := &pb.ControlMessage{PluginMessage: &pb.PluginMessage{Channel: "x", Data: make([]byte, 200)}}
	var buf bytes.Buffer
	if err := WriteControlMessageMax(&buf, msg, 64); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("err = %v, want ErrMessageTooLarge", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("partial frame written: %d bytes", buf.Len())
	}
}

func TestReadControlMessageRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(MaxControlMessage+1))
	if _, err := ReadControlMessage(&buf); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("err = %v, want ErrMessageTooLarge", err)
	}
}

func TestReadControlMessageTruncated(t *testing.T) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(10))
	buf.WriteString("{}")
	if _, err := ReadControlMessage(&buf); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want ErrUnexpectedEOF", err)
	}
}
