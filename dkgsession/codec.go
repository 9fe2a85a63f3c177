package dkgsession

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/drand/kyber"
	"github.com/drand/kyber/share"

	"github.com/dashpay/llmq/ecies"
)

// marshalCommits marshals the dealer's polynomial commitment coefficients,
// i.e. the verification vector carried on the wire. Recipients reconstruct
// the dealer's public polynomial from these via unmarshalPubPoly and can
// then both verify their own share and combine it with every other qualified
// dealer's polynomial.
func marshalCommits(pub *share.PubPoly) ([][]byte, error) {
	_, commits := pub.Info()
	out := make([][]byte, len(commits))
	for i, c := range commits {
		b, err := c.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("dkgsession: marshal commitment %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

// unmarshalPubPoly reconstructs a dealer's public polynomial from the
// commitment coefficients in a Contribution.VerificationVec.
func unmarshalPubPoly(g kyber.Group, commits [][]byte) (*share.PubPoly, error) {
	if len(commits) == 0 {
		return nil, fmt.Errorf("dkgsession: empty verification vector")
	}
	points := make([]kyber.Point, len(commits))
	for i, b := range commits {
		p := g.Point()
		if err := p.UnmarshalBinary(b); err != nil {
			return nil, fmt.Errorf("dkgsession: unmarshal commitment %d: %w", i, err)
		}
		points[i] = p
	}
	return share.NewPubPoly(g, g.Point().Base(), points), nil
}

// encodeCiphertext flattens an ecies.Ciphertext into a single length-prefixed
// byte string for the Contribution.EncryptedShares wire slot.
func encodeCiphertext(ct *ecies.Ciphertext) []byte {
	var buf bytes.Buffer
	writeLenPrefixed(&buf, ct.Ephemeral)
	writeLenPrefixed(&buf, ct.Nonce)
	writeLenPrefixed(&buf, ct.Ciphertext)
	return buf.Bytes()
}

func decodeCiphertext(raw []byte) (*ecies.Ciphertext, error) {
	r := bytes.NewReader(raw)
	eph, err := readLenPrefixed(r)
	if err != nil {
		return nil, err
	}
	nonce, err := readLenPrefixed(r)
	if err != nil {
		return nil, err
	}
	cipherBytes, err := readLenPrefixed(r)
	if err != nil {
		return nil, err
	}
	return &ecies.Ciphertext{Ephemeral: eph, Nonce: nonce, Ciphertext: cipherBytes}, nil
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(b)))
	buf.Write(lenBytes[:])
	buf.Write(b)
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var lenBytes [4]byte
	if _, err := io.ReadFull(r, lenBytes[:]); err != nil {
		return nil, fmt.Errorf("dkgsession: reading length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBytes[:])
	b := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, fmt.Errorf("dkgsession: reading %d bytes: %w", n, err)
		}
	}
	return b, nil
}
