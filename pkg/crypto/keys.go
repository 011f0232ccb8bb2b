package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// P-256 sizes. Public keys travel on the wire in uncompressed point format.
const (
	// PrivateKeySizeBytes is the P-256 private scalar size.
	PrivateKeySizeBytes = 32

	// PublicKeySizeBytes is the uncompressed public key size.
	// Format: 0x04 || X (32 bytes) || Y (32 bytes) = 65 bytes.
	PublicKeySizeBytes = 65

	// SharedSecretSizeBytes is the size of the derived pairing secret.
	SharedSecretSizeBytes = 32
)

// KeyPair is the agent's long-lived P-256 identity key pair.
// The public key is exchanged during pairing; the private key never
// leaves the device.
type KeyPair struct {
	private *ecdh.PrivateKey
}

// GenerateKeyPair generates a new P-256 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to generate key pair: %w", err)
	}
	return &KeyPair{private: priv}, nil
}

// KeyPairFromPrivateKey restores a key pair from a persisted 32-byte scalar.
func KeyPairFromPrivateKey(privateKey []byte) (*KeyPair, error) {
	if len(privateKey) != PrivateKeySizeBytes {
		return nil, fmt.Errorf("crypto: private key must be %d bytes, got %d", PrivateKeySizeBytes, len(privateKey))
	}
	priv, err := ecdh.P256().NewPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &KeyPair{private: priv}, nil
}

// PrivateKeyBytes returns the private key as a 32-byte scalar for persistence.
func (kp *KeyPair) PrivateKeyBytes() []byte {
	return kp.private.Bytes()
}

// PublicKeyBytes returns the public key in uncompressed format (65 bytes).
func (kp *KeyPair) PublicKeyBytes() []byte {
	return kp.private.PublicKey().Bytes()
}

// SharedSecret performs ECDH against a peer's uncompressed public key and
// returns the SHA-256 digest of the raw agreement output. Both sides of a
// pairing derive the same 32 bytes.
func (kp *KeyPair) SharedSecret(peerPublicKey []byte) ([]byte, error) {
	peerPub, err := ParsePublicKey(peerPublicKey)
	if err != nil {
		return nil, err
	}
	raw, err := kp.private.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("crypto: ECDH computation failed: %w", err)
	}
	digest := sha256.Sum256(raw)
	return digest[:], nil
}

// ParsePublicKey validates an uncompressed P-256 public key.
func ParsePublicKey(publicKey []byte) (*ecdh.PublicKey, error) {
	if len(publicKey) != PublicKeySizeBytes {
		return nil, fmt.Errorf("crypto: public key must be %d bytes, got %d", PublicKeySizeBytes, len(publicKey))
	}
	if publicKey[0] != 0x04 {
		return nil, fmt.Errorf("crypto: public key must be in uncompressed format")
	}
	pub, err := ecdh.P256().NewPublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid public key: %w", err)
	}
	return pub, nil
}

// ValidatePublicKey checks that publicKey is a well-formed uncompressed
// P-256 point without returning the parsed key.
func ValidatePublicKey(publicKey []byte) error {
	_, err := ParsePublicKey(publicKey)
	return err
}
