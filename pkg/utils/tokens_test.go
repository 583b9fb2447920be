package utils

import (
	"encoding/hex"
	"testing"
)

func TestGenerateRandomToken(t *testing.T) {
	token, err := GenerateRandomToken(32)
	if err != nil {
		t.Fatalf("GenerateRandomToken() error = %v", err)
	}

	// 32 random bytes hex-encode to 64 characters.
	if len(token) != 64 {
		t.Fatalf("expected 64-char token, got %d", len(token))
	}
	if _, err := hex.DecodeString(token); err != nil {
		t.Fatalf("expected hex-encoded token, got %q", token)
	}

	other, err := GenerateRandomToken(32)
	if err != nil {
		t.Fatalf("GenerateRandomToken() error = %v", err)
	}
	if token == other {
		t.Fatal("expected distinct tokens across calls")
	}
}

func TestHashToken(t *testing.T) {
	digest := HashToken("some-raw-token")

	// sha256 hex digest is 64 characters and stable for the same input.
	if len(digest) != 64 {
		t.Fatalf("expected 64-char digest, got %d", len(digest))
	}
	if digest != HashToken("some-raw-token") {
		t.Fatal("expected deterministic digest")
	}
	if digest == HashToken("some-other-token") {
		t.Fatal("expected different digests for different inputs")
	}
	if digest == "some-raw-token" {
		t.Fatal("digest must not equal the raw token")
	}
}
