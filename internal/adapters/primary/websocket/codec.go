package websocket

import (
	"encoding/json"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

// Subprotocols offered at the handshake, in order of preference.
const (
	SubprotocolJSON = "notify.v1.json"
	SubprotocolCBOR = "notify.v1.cbor"
)

// Subprotocols lists every subprotocol the upgrader may select.
var Subprotocols = []string{SubprotocolJSON, SubprotocolCBOR}

// Codec turns frames into websocket messages and back.
type Codec interface {
	Name() string
	// MessageType is the websocket frame type written for every message.
	MessageType() int
	Encode(frame ServerFrame) ([]byte, error)
	Decode(data []byte, msg *ClientMessage) error
}

// CodecFor returns the codec negotiated for subprotocol. Clients that did
// not negotiate one get JSON.
func CodecFor(subprotocol string) Codec {
	if subprotocol == SubprotocolCBOR {
		return cborCodec{}
	}
	return jsonCodec{}
}

type jsonCodec struct{}

func (jsonCodec) Name() string     { return SubprotocolJSON }
func (jsonCodec) MessageType() int { return websocket.TextMessage }

func (jsonCodec) Encode(frame ServerFrame) ([]byte, error) {
	return json.Marshal(frame)
}

func (jsonCodec) Decode(data []byte, msg *ClientMessage) error {
	return json.Unmarshal(data, msg)
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	var err error
	cborEnc, err = encOptions.EncMode()
	if err != nil {
		panic("websocket: CBOR encoder initialization failed: " + err.Error())
	}

	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("websocket: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborCodec struct{}

func (cborCodec) Name() string     { return SubprotocolCBOR }
func (cborCodec) MessageType() int { return websocket.BinaryMessage }

func (cborCodec) Encode(frame ServerFrame) ([]byte, error) {
	return cborEnc.Marshal(frame)
}

func (cborCodec) Decode(data []byte, msg *ClientMessage) error {
	return cborDec.Unmarshal(data, msg)
}
