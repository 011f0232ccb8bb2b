package crypto

import (
	"bytes"
	"testing"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	pub := kp.PublicKeyBytes()
	if len(pub) != PublicKeySizeBytes {
		t.Errorf("PublicKeyBytes() length = %d, want %d", len(pub), PublicKeySizeBytes)
	}
	if pub[0] != 0x04 {
		t.Errorf("PublicKeyBytes() prefix = 0x%02x, want 0x04", pub[0])
	}
	if len(kp.PrivateKeyBytes()) != PrivateKeySizeBytes {
		t.Errorf("PrivateKeyBytes() length = %d, want %d", len(kp.PrivateKeyBytes()), PrivateKeySizeBytes)
	}
}

func TestKeyPairFromPrivateKey(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		kp, err := GenerateKeyPair()
		if err != nil {
			t.Fatalf("GenerateKeyPair() error = %v", err)
		}

		restored, err := KeyPairFromPrivateKey(kp.PrivateKeyBytes())
		if err != nil {
			t.Fatalf("KeyPairFromPrivateKey() error = %v", err)
		}

		if !bytes.Equal(restored.PublicKeyBytes(), kp.PublicKeyBytes()) {
			t.Error("restored key pair has different public key")
		}
	})

	t.Run("wrong size", func(t *testing.T) {
		if _, err := KeyPairFromPrivateKey(make([]byte, 16)); err == nil {
			t.Error("KeyPairFromPrivateKey() accepted a 16-byte key")
		}
	})
}

func TestSharedSecret(t *testing.T) {
	a, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	b, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	secretA, err := a.SharedSecret(b.PublicKeyBytes())
	if err != nil {
		t.Fatalf("SharedSecret() error = %v", err)
	}
	secretB, err := b.SharedSecret(a.PublicKeyBytes())
	if err != nil {
		t.Fatalf("SharedSecret() error = %v", err)
	}

	if !bytes.Equal(secretA, secretB) {
		t.Error("both sides derived different secrets")
	}
	if len(secretA) != SharedSecretSizeBytes {
		t.Errorf("SharedSecret() length = %d, want %d", len(secretA), SharedSecretSizeBytes)
	}
}

func TestValidatePublicKey(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	if err := ValidatePublicKey(kp.PublicKeyBytes()); err != nil {
		t.Errorf("ValidatePublicKey() error = %v", err)
	}

	t.Run("truncated", func(t *testing.T) {
		if err := ValidatePublicKey(kp.PublicKeyBytes()[:64]); err == nil {
			t.Error("ValidatePublicKey() accepted a truncated key")
		}
	})

	t.Run("compressed prefix", func(t *testing.T) {
		bad := append([]byte{}, kp.PublicKeyBytes()...)
		bad[0] = 0x02
		if err := ValidatePublicKey(bad); err == nil {
			t.Error("ValidatePublicKey() accepted a compressed-format key")
		}
	})

	t.Run("not on curve", func(t *testing.T) {
		bad := append([]byte{}, kp.PublicKeyBytes()...)
		bad[64] ^= 0xff
		if err := ValidatePublicKey(bad); err == nil {
			t.Error("ValidatePublicKey() accepted a point off the curve")
		}
	})
}
