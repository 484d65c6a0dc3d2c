package crypto

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// SignatureLength is the size of a BIP-340 Schnorr signature.
const SignatureLength = 64

var (
	// ErrInvalidSignature is returned when a signature does not verify.
	ErrInvalidSignature = errors.New("crypto: invalid signature")
	// ErrNotSigningKey is returned when an address has no corresponding
	// curve point and therefore cannot have produced a signature.
	ErrNotSigningKey = errors.New("crypto: address is not a public key")
)

// --- Key Management ---

type PrivateKey struct {
	*btcec.PrivateKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("crypto: private key must be %d bytes", btcec.PrivKeyBytesLen)
	}
	key, _ := btcec.PrivKeyFromBytes(b)
	if key.Key.IsZero() {
		return nil, fmt.Errorf("crypto: private key is zero")
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return k.Serialize()
}

// Address returns the x-only public key identity of the key holder.
func (k *PrivateKey) Address() Address {
	var addr Address
	copy(addr[:], schnorr.SerializePubKey(k.PubKey()))
	return addr
}

// Sign produces a BIP-340 signature over a 32-byte digest.
func (k *PrivateKey) Sign(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("crypto: digest must be 32 bytes")
	}
	sig, err := schnorr.Sign(k.PrivateKey, digest)
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

// Verify checks that sig is a valid signature by addr over digest.
func Verify(addr Address, digest, sig []byte) error {
	if len(sig) != SignatureLength {
		return ErrInvalidSignature
	}
	pub, err := schnorr.ParsePubKey(addr[:])
	if err != nil {
		return ErrNotSigningKey
	}
	parsed, err := schnorr.ParseSignature(sig)
	if err != nil {
		return ErrInvalidSignature
	}
	if !parsed.Verify(digest, pub) {
		return ErrInvalidSignature
	}
	return nil
}

// IsOnCurve reports whether addr is the x coordinate of a secp256k1 point,
// i.e. whether some private key could sign for it.
func IsOnCurve(addr Address) bool {
	_, err := schnorr.ParsePubKey(addr[:])
	return err == nil
}
