package net

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// selfCodec is implemented by every message this package puts on the wire.
// Rather than generating protobuf bindings for a two-message service, Frame
// and Ack serialize themselves; rawCodec just delegates to them.
type selfCodec interface {
	rawMarshal() ([]byte, error)
	rawUnmarshal([]byte) error
}

// rawCodec registers under codecName so grpc.CallContentSubtype(codecName)
// routes Send calls through it instead of the default proto codec, which
// this module has no generated bindings for.
type rawCodec struct{}

const codecName = "llmq-raw"

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(selfCodec)
	if !ok {
		return nil, fmt.Errorf("net: message %T does not implement selfCodec", v)
	}
	return m.rawMarshal()
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(selfCodec)
	if !ok {
		return fmt.Errorf("net: message %T does not implement selfCodec", v)
	}
	return m.rawUnmarshal(data)
}

func (rawCodec) Name() string { return codecName }

//nolint:gochecknoinits
func init() {
	encoding.RegisterCodec(rawCodec{})
}
