// Package wire defines the DKG protocol message shapes and the codec
// boundary that serializes them.
package wire

import (
	"encoding/json"
	"fmt"
)

// CommandTag names one of the four DKG message kinds carried over the wire.
type CommandTag string

const (
	CommandContribution        CommandTag = "qcontrib"
	CommandComplaint           CommandTag = "qcomplaint"
	CommandJustification       CommandTag = "qjustify"
	CommandPrematureCommitment CommandTag = "qpcommit"
)

// Message is implemented by every wire-level DKG message type.
type Message interface {
	Command() CommandTag
}

// Contribution carries a member's verification vector plus one encrypted
// secret share per recipient.
type Contribution struct {
	QuorumHash      [32]byte `json:"quorum_hash"`
	SenderIndex     int      `json:"sender_index"`
	VerificationVec [][]byte `json:"verification_vec"` // marshaled PubPoly commitments
	EncryptedShares [][]byte `json:"encrypted_shares"` // one ECIES ciphertext per recipient, ordered by member index
}

func (Contribution) Command() CommandTag { return CommandContribution }

// Complaint is broadcast against contributors whose share failed
// verification or who did not contribute.
type Complaint struct {
	QuorumHash    [32]byte `json:"quorum_hash"`
	SenderIndex   int      `json:"sender_index"`
	AccusedBitset []bool   `json:"accused_bitset"`
	ReasonCode    string   `json:"reason_code"`
}

func (Complaint) Command() CommandTag { return CommandComplaint }

// Justification re-discloses the plaintext share an accused member sent to
// one accuser, so every peer can re-verify it publicly.
type Justification struct {
	QuorumHash   [32]byte `json:"quorum_hash"`
	SenderIndex  int      `json:"sender_index"`
	AccuserIndex int      `json:"accuser_index"`
	PlainShare   []byte   `json:"plain_share"` // marshaled share scalar (share.PriShare.V)
}

func (Justification) Command() CommandTag { return CommandJustification }

// PrematureCommitment is a surviving member's view of the valid-member
// bitset plus a partial signature proving membership consensus.
type PrematureCommitment struct {
	QuorumHash      [32]byte `json:"quorum_hash"`
	SenderIndex     int      `json:"sender_index"`
	ValidBitset     []bool   `json:"valid_bitset"`
	AggregatePubKey []byte   `json:"aggregate_pub_key"`
	PartialSig      []byte   `json:"partial_sig"`
}

func (PrematureCommitment) Command() CommandTag { return CommandPrematureCommitment }

// Envelope wraps one marshaled DKG message together with the sender's
// signature over it, so a receiver can authenticate the claimed sender index
// before the payload reaches the session.
type Envelope struct {
	Payload []byte `json:"payload"`
	Sig     []byte `json:"sig"`
}

// SealEnvelope encodes (payload, sig) into the bytes carried on the wire.
func SealEnvelope(payload, sig []byte) ([]byte, error) {
	return json.Marshal(Envelope{Payload: payload, Sig: sig})
}

// OpenEnvelope decodes raw into its payload and signature.
func OpenEnvelope(raw []byte) (payload, sig []byte, err error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, nil, fmt.Errorf("wire: open envelope: %w", err)
	}
	return e.Payload, e.Sig, nil
}

// Codec is the protocol-codec boundary. This module provides one concrete
// default (jsonCodec) but never requires it; a host process can substitute
// its own wire format.
type Codec interface {
	Marshal(Message) ([]byte, error)
	Unmarshal(tag CommandTag, raw []byte) (Message, error)
}

// jsonCodec is the default Codec: plain JSON envelopes, adequate for a
// reference transport and for tests; a production deployment may swap in a
// denser binary codec without touching this module.
type jsonCodec struct{}

// NewJSONCodec returns the default JSON-based Codec implementation.
func NewJSONCodec() Codec { return jsonCodec{} }

func (jsonCodec) Marshal(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func (jsonCodec) Unmarshal(tag CommandTag, raw []byte) (Message, error) {
	var m Message
	switch tag {
	case CommandContribution:
		m = &Contribution{}
	case CommandComplaint:
		m = &Complaint{}
	case CommandJustification:
		m = &Justification{}
	case CommandPrematureCommitment:
		m = &PrematureCommitment{}
	default:
		return nil, fmt.Errorf("wire: unknown command tag %q", tag)
	}
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("wire: unmarshal %q: %w", tag, err)
	}
	return derefMessage(m), nil
}

// derefMessage returns the pointed-to value so callers receive the same
// Message shape Marshal accepted (value, not pointer), matching the plain
// struct contract the session engine expects.
func derefMessage(m Message) Message {
	switch v := m.(type) {
	case *Contribution:
		return *v
	case *Complaint:
		return *v
	case *Justification:
		return *v
	case *PrematureCommitment:
		return *v
	default:
		return m
	}
}
