package net

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRawCodecRoundTripsFrame(t *testing.T) {
	c := rawCodec{}
	in := &Frame{SenderAddr: "10.0.0.1:7777", Tag: "qcontrib", Payload: []byte("hello")}

	b, err := c.Marshal(in)
	require.NoError(t, err)

	out := new(Frame)
	require.NoError(t, c.Unmarshal(b, out))
	require.Equal(t, in.SenderAddr, out.SenderAddr)
	require.Equal(t, in.Tag, out.Tag)
	require.Equal(t, in.Payload, out.Payload)
}

func TestRawCodecRoundTripsAck(t *testing.T) {
	c := rawCodec{}
	in := &Ack{OK: false, Err: "boom"}

	b, err := c.Marshal(in)
	require.NoError(t, err)

	out := new(Ack)
	require.NoError(t, c.Unmarshal(b, out))
	require.Equal(t, in.OK, out.OK)
	require.Equal(t, in.Err, out.Err)
}

func TestRawCodecRejectsForeignMessage(t *testing.T) {
	c := rawCodec{}
	_, err := c.Marshal("not a selfCodec")
	require.Error(t, err)
}

func TestCodecName(t *testing.T) {
	require.Equal(t, codecName, rawCodec{}.Name())
}
