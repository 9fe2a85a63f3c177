package net

import "encoding/json"

// Frame is the envelope carried over the wire for one DKG protocol message.
// It is deliberately thin: the command tag and payload bytes are opaque to
// this package, which never interprets a DKG message, only transports it.
type Frame struct {
	SenderAddr string `json:"sender_addr"`
	Tag        string `json:"tag"`
	Payload    []byte `json:"payload"`
}

func (f *Frame) rawMarshal() ([]byte, error) { return json.Marshal(f) }
func (f *Frame) rawUnmarshal(b []byte) error { return json.Unmarshal(b, f) }

// Ack is the acknowledgement a Broadcast server returns: OK, or the
// dispatch error in Err.
type Ack struct {
	OK  bool   `json:"ok"`
	Err string `json:"err,omitempty"`
}

func (a *Ack) rawMarshal() ([]byte, error) { return json.Marshal(a) }
func (a *Ack) rawUnmarshal(b []byte) error { return json.Unmarshal(b, a) }
