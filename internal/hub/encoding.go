package hub

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Encoding is the wire format a client asked for.
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// ParseEncoding maps a query value to an Encoding; empty means JSON.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingMsgpack:
		return EncodingMsgpack, nil
	}
	return "", fmt.Errorf("unsupported encoding %q", s)
}

// Encode serialises v in the given encoding.
func Encode(enc Encoding, v any) ([]byte, error) {
	if enc == EncodingMsgpack {
		return msgpack.Marshal(v)
	}
	return json.Marshal(v)
}

// messageType is the WebSocket frame type used for enc.
func (enc Encoding) messageType() int {
	if enc == EncodingMsgpack {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
