package ecies

import (
	"crypto/sha256"
	"testing"

	suite "github.com/drand/kyber-bls12381"
	"github.com/drand/kyber/util/random"
	"github.com/stretchr/testify/require"
)

func TestECIES(t *testing.T) {
	msg := []byte("shake that cipher")

	pairing := suite.NewBLS12381SuiteWithDST(
		[]byte("BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_NUL_"),
		[]byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_"),
	)
	keyGroup := pairing.G1()

	priv := keyGroup.Scalar().Pick(random.New())
	pub := keyGroup.Point().Mul(priv, nil)

	h := sha256.New
	cipher, err := Encrypt(keyGroup, h, pub, msg)
	require.NoError(t, err)

	plain, err := Decrypt(keyGroup, h, priv, cipher)
	require.NoError(t, err)
	require.Equal(t, msg, plain)
}

func TestECIESWrongKeyFailsToDecrypt(t *testing.T) {
	msg := []byte("shake that cipher")

	pairing := suite.NewBLS12381SuiteWithDST(
		[]byte("BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_NUL_"),
		[]byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_"),
	)
	keyGroup := pairing.G1()

	priv := keyGroup.Scalar().Pick(random.New())
	pub := keyGroup.Point().Mul(priv, nil)
	wrongPriv := keyGroup.Scalar().Pick(random.New())

	cipher, err := Encrypt(keyGroup, sha256.New, pub, msg)
	require.NoError(t, err)

	_, err = Decrypt(keyGroup, sha256.New, wrongPriv, cipher)
	require.Error(t, err)
}
