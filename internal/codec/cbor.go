// Package codec holds the CBOR configuration shared by every atom and event transport.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the same logical
// message always produces identical bytes. The same modes back the gRPC codec
// registered under the "cbor" content subtype.
package codec

import (
	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

// Name is the gRPC content subtype of the CBOR codec.
const Name = "cbor"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 20,
		MaxMapPairs:      1 << 16,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}

	encoding.RegisterCodec(grpcCodec{})
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// grpcCodec adapts the CBOR modes to the gRPC codec interface.
type grpcCodec struct{}

func (grpcCodec) Marshal(v any) ([]byte, error)      { return Marshal(v) }
func (grpcCodec) Unmarshal(data []byte, v any) error { return Unmarshal(data, v) }
func (grpcCodec) Name() string                       { return Name }
