package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

var ErrUnknownType = errors.New("unknown message type")

// Codec is the per-connection wire encoding negotiated in HELLO.
type Codec interface {
	Name() string
	// Binary codecs travel in binary websocket frames.
	Binary() bool
	Marshal(v any) ([]byte, error)
	Unmarshal(b []byte, v any) error
}

var (
	JSON    Codec = jsonCodec{}
	Msgpack Codec = msgpackCodec{}
)

// CodecByName resolves a HELLO encoding; empty means JSON.
func CodecByName(name string) (Codec, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON, true
	case "msgpack":
		return Msgpack, true
	default:
		return nil, false
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string                    { return "json" }
func (jsonCodec) Binary() bool                    { return false }
func (jsonCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (jsonCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }

// msgpackCodec reuses the json struct tags so both encodings share field names.
type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }
func (msgpackCodec) Binary() bool { return true }

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) Unmarshal(b []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

// DecodeClient decodes one client -> server packet after the handshake.
func DecodeClient(c Codec, b []byte) (Packet, error) {
	var base BaseMessage
	if err := c.Unmarshal(b, &base); err != nil {
		return nil, err
	}
	var p Packet
	switch base.Type {
	case TypeMove:
		p = &MoveMsg{}
	case TypeSetBlock:
		p = &SetBlockMsg{}
	case TypeChat:
		p = &ChatMsg{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, base.Type)
	}
	if err := c.Unmarshal(b, p); err != nil {
		return nil, fmt.Errorf("%s: %w", base.Type, err)
	}
	return p, nil
}
