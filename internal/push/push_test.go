package push

import (
	"encoding/base64"
	"testing"
)

func TestGenerateVAPIDKeys(t *testing.T) {
	pub, priv, err := GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("GenerateVAPIDKeys() error = %v", err)
	}

	pubBytes, err := base64.RawURLEncoding.DecodeString(pub)
	if err != nil {
		t.Fatalf("public key is not base64url: %v", err)
	}
	// Uncompressed P-256 point: 0x04 prefix + 32-byte X + 32-byte Y.
	if len(pubBytes) != 65 || pubBytes[0] != 0x04 {
		t.Errorf("public key = %d bytes, prefix %#x; want 65 bytes with 0x04 prefix", len(pubBytes), pubBytes[0])
	}

	if _, err := base64.RawURLEncoding.DecodeString(priv); err != nil {
		t.Errorf("private key is not base64url: %v", err)
	}
}

func TestGenerateVAPIDKeysUnique(t *testing.T) {
	pub1, _, err := GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("GenerateVAPIDKeys() error = %v", err)
	}
	pub2, _, err := GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("GenerateVAPIDKeys() error = %v", err)
	}
	if pub1 == pub2 {
		t.Error("two generated key pairs share a public key")
	}
}
