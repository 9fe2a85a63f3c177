// Package ecies provides the ephemeral-static ECIES scheme this module uses
// to encrypt DKG secret shares to a recipient's operator key.
package ecies

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"

	"github.com/drand/kyber"
	"github.com/drand/kyber/util/random"
	"golang.org/x/crypto/hkdf"
)

// DefaultHash is the default hash used to derive the AES key via HKDF.
var DefaultHash = sha256.New

// Ciphertext is the wire shape of an ECIES-encrypted secret share: the
// ephemeral DH point, the AES-GCM nonce, and the sealed message.
type Ciphertext struct {
	Ephemeral  []byte
	Nonce      []byte
	Ciphertext []byte
}

// Encrypt performs an ephemeral-static DH exchange, creates the shared key
// from it using HKDF and then seals msg using AES-GCM. It returns the
// ephemeral point of the DH exchange, the ciphertext and its nonce.
func Encrypt(g kyber.Group, fn func() hash.Hash, public kyber.Point, msg []byte) (*Ciphertext, error) {
	if fn == nil {
		fn = DefaultHash
	}

	r := g.Scalar().Pick(random.New())
	eph := g.Point().Mul(r, nil)

	ephBytes, err := eph.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("ecies: encrypt failed to marshal eph. point: %w", err)
	}
	dh := g.Point().Mul(r, public)
	dhBuff, err := dh.MarshalBinary()
	if err != nil {
		return nil, err
	}

	key, err := deriveKey(fn, dhBuff)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("ecies: generating nonce: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	ciphertext := aesgcm.Seal(nil, nonce, msg, nil)
	return &Ciphertext{
		Ephemeral:  ephBytes,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}, nil
}

// Decrypt does almost the same as Encrypt: the ephemeral-static DH exchange,
// and the derivation of the symmetric key. It finally tries to decrypt the
// ciphertext and returns the plaintext if successful, an error otherwise.
func Decrypt(g kyber.Group, fn func() hash.Hash, priv kyber.Scalar, o *Ciphertext) ([]byte, error) {
	if fn == nil {
		fn = DefaultHash
	}

	eph := g.Point()
	if err := eph.UnmarshalBinary(o.Ephemeral); err != nil {
		return nil, err
	}
	dh := g.Point().Mul(priv, eph)
	dhBuff, err := dh.MarshalBinary()
	if err != nil {
		return nil, err
	}

	key, err := deriveKey(fn, dhBuff)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return aesgcm.Open(nil, o.Nonce, o.Ciphertext, nil)
}

func deriveKey(fn func() hash.Hash, dhBuff []byte) ([]byte, error) {
	reader := hkdf.New(fn, dhBuff, nil, nil)
	const byteLength = 32
	key := make([]byte, byteLength)
	n, err := reader.Read(key)
	if err != nil {
		return nil, err
	} else if n != byteLength {
		return nil, errors.New("ecies: not enough bits from the shared secret")
	}
	return key, nil
}
