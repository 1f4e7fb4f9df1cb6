// Package wire encodes and decodes the plugin messages exchanged with the
// routing layer on the BungeeCord channel.
//
// Every message is a sequence of strings, each written as a big-endian
// uint16 byte length followed by that many UTF-8 bytes. The first string is
// the subchannel tag.
//
//	Relocate(endpoint)       "Connect"   endpoint   (host -> proxy)
//	LocationQuery()          "GetServer"            (host -> proxy)
//	LocationReply(endpoint)  "GetServer" endpoint   (proxy -> host)
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Channel is the plugin message channel the routing layer listens on.
const Channel = "BungeeCord"

const (
	TagConnect   = "Connect"
	TagGetServer = "GetServer"
)

// MaxStringLength is the largest string a uint16 length prefix can describe.
const MaxStringLength = 0xFFFF

var (
	ErrMalformedMessage = errors.New("wire: malformed message")
	ErrStringTooLong    = errors.New("wire: string too long")
	ErrUnknownKind      = errors.New("wire: unknown message kind")
)

// Kind identifies one of the three message shapes.
type Kind uint8

const (
	KindRelocate Kind = iota + 1
	KindLocationQuery
	KindLocationReply
)

func (k Kind) String() string {
	switch k {
	case KindRelocate:
		return "relocate"
	case KindLocationQuery:
		return "location_query"
	case KindLocationReply:
		return "location_reply"
	default:
		return "unknown"
	}
}

// Message is a decoded plugin message. Endpoint is empty for LocationQuery.
type Message struct {
	Kind     Kind
	Endpoint string
}

// Relocate asks the routing layer to move the user to endpoint.
func Relocate(endpoint string) Message {
	return Message{Kind: KindRelocate, Endpoint: endpoint}
}

// LocationQuery asks the routing layer which endpoint the user occupies.
func LocationQuery() Message {
	return Message{Kind: KindLocationQuery}
}

// LocationReply answers a LocationQuery.
func LocationReply(endpoint string) Message {
	return Message{Kind: KindLocationReply, Endpoint: endpoint}
}

// Encode serializes m into its wire form.
func Encode(m Message) ([]byte, error) {
	var fields []string
	switch m.Kind {
	case KindRelocate:
		fields = []string{TagConnect, m.Endpoint}
	case KindLocationQuery:
		fields = []string{TagGetServer}
	case KindLocationReply:
		fields = []string{TagGetServer, m.Endpoint}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, m.Kind)
	}

	size := 0
	for _, f := range fields {
		if len(f) > MaxStringLength {
			return nil, fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(f))
		}
		size += 2 + len(f)
	}
	buf := make([]byte, 0, size)
	for _, f := range fields {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(f))) //nolint:gosec // bounded above
		buf = append(buf, f...)
	}
	return buf, nil
}

// Decode parses a wire message. A GetServer tag without a payload decodes as
// LocationQuery, with a payload as LocationReply. Bytes after the last
// expected string are ignored.
func Decode(data []byte) (Message, error) {
	r := reader{buf: data}
	tag, err := r.readString()
	if err != nil {
		return Message{}, fmt.Errorf("%w: tag: %w", ErrMalformedMessage, err)
	}

	switch tag {
	case TagConnect:
		endpoint, err := r.readString()
		if err != nil {
			return Message{}, fmt.Errorf("%w: connect endpoint: %w", ErrMalformedMessage, err)
		}
		return Relocate(endpoint), nil
	case TagGetServer:
		if r.remaining() == 0 {
			return LocationQuery(), nil
		}
		endpoint, err := r.readString()
		if err != nil {
			return Message{}, fmt.Errorf("%w: server name: %w", ErrMalformedMessage, err)
		}
		return LocationReply(endpoint), nil
	default:
		return Message{}, fmt.Errorf("%w: unknown tag %q", ErrMalformedMessage, tag)
	}
}

var (
	errShortLength = errors.New("short length prefix")
	errShortValue  = errors.New("short string value")
	errInvalidUTF8 = errors.New("invalid utf-8")
)

type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) readString() (string, error) {
	if r.remaining() < 2 {
		return "", errShortLength
	}
	n := int(binary.BigEndian.Uint16(r.buf[r.off:]))
	r.off += 2
	if r.remaining() < n {
		return "", errShortValue
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	if !utf8.Valid(b) {
		return "", errInvalidUTF8
	}
	return string(b), nil
}
