package signal

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes frames for one connection. Both ends must agree on it.
type Codec interface {
	Name() string
	Marshal(f Frame) ([]byte, error)
	Unmarshal(data []byte, f *Frame) error
	// MessageType is the websocket message type frames travel as.
	MessageType() int
}

type JSONCodec struct{}

func (JSONCodec) Name() string                          { return "json" }
func (JSONCodec) Marshal(f Frame) ([]byte, error)       { return json.Marshal(f) }
func (JSONCodec) Unmarshal(data []byte, f *Frame) error { return json.Unmarshal(data, f) }
func (JSONCodec) MessageType() int                      { return websocket.TextMessage }

type MsgpackCodec struct{}

func (MsgpackCodec) Name() string                          { return "msgpack" }
func (MsgpackCodec) Marshal(f Frame) ([]byte, error)       { return msgpack.Marshal(f) }
func (MsgpackCodec) Unmarshal(data []byte, f *Frame) error { return msgpack.Unmarshal(data, f) }
func (MsgpackCodec) MessageType() int                      { return websocket.BinaryMessage }

// CodecByName resolves the codec query parameter. Empty means json.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}
