package utils

import (
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"golang.org/x/crypto/argon2"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	if !strings.HasPrefix(hash, "$argon2id$v=") {
		t.Fatalf("expected encoded argon2id hash, got %q", hash)
	}
	if strings.Contains(hash, "correct horse") {
		t.Fatal("hash must not contain the plaintext password")
	}

	// Salted: hashing the same password twice yields different encodings.
	other, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash == other {
		t.Fatal("expected distinct hashes for the same password")
	}
}

func TestCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cret-password")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	tests := []struct {
		name     string
		password string
		hash     string
		want     bool
	}{
		{
			name:     "correct password verifies",
			password: "s3cret-password",
			hash:     hash,
			want:     true,
		},
		{
			name:     "wrong password fails",
			password: "not-the-password",
			hash:     hash,
			want:     false,
		},
		{
			name:     "empty password fails",
			password: "",
			hash:     hash,
			want:     false,
		},
		{
			name:     "malformed hash fails",
			password: "s3cret-password",
			hash:     "not-an-encoded-hash",
			want:     false,
		},
		{
			name:     "wrong algorithm fails",
			password: "s3cret-password",
			hash:     "$bcrypt$v=19$m=65536,t=2,p=2$c2FsdA$aGFzaA",
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckPassword(tt.password, tt.hash); got != tt.want {
				t.Errorf("CheckPassword() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckPasswordHonorsEmbeddedParams(t *testing.T) {
	// A hash produced under lighter parameters must keep verifying after the
	// defaults change, because verification reads the params out of the hash.
	salt := []byte("somesalt12345678")
	digest := argon2.IDKey([]byte("params-test"), salt, 1, 8, 1, 32)
	legacy := fmt.Sprintf("$argon2id$v=%d$m=8,t=1,p=1$%s$%s",
		argon2.Version,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest))

	if !CheckPassword("params-test", legacy) {
		t.Fatal("expected legacy-parameter hash to verify")
	}
}

func TestConfigureEncryption(t *testing.T) {
	tests := []struct {
		name       string
		secret     string
		wantKeySet bool
	}{
		{
			name:       "empty secret does not set key",
			secret:     "",
			wantKeySet: false,
		},
		{
			name:       "valid secret sets key",
			secret:     "test-secret-key-32-bytes-long!!",
			wantKeySet: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encryptionKey = nil
			ConfigureEncryption(tt.secret)

			if tt.wantKeySet && encryptionKey == nil {
				t.Error("expected encryption key to be set")
			}
			if !tt.wantKeySet && encryptionKey != nil {
				t.Error("expected encryption key to not be set")
			}
		})
	}
}

func TestDecryptAESGCM(t *testing.T) {
	ConfigureEncryption("test-encryption-secret-32-bytes-long!!")

	originalText := "JBSWY3DPEHPK3PXP"
	ciphertext, err := EncryptAESGCM(originalText)
	if err != nil {
		t.Fatalf("failed to encrypt: %v", err)
	}

	tests := []struct {
		name       string
		ciphertext string
		wantPlain  string
		wantErr    bool
		setupKey   string
	}{
		{
			name:       "valid ciphertext decrypts correctly",
			ciphertext: ciphertext,
			wantPlain:  originalText,
			wantErr:    false,
			setupKey:   "test-encryption-secret-32-bytes-long!!",
		},
		{
			name:       "invalid base64 returns error",
			ciphertext: "not-valid-base64!!!",
			wantPlain:  "",
			wantErr:    true,
			setupKey:   "test-encryption-secret-32-bytes-long!!",
		},
		{
			name:       "ciphertext shorter than nonce returns error",
			ciphertext: "YWJj",
			wantPlain:  "",
			wantErr:    true,
			setupKey:   "test-encryption-secret-32-bytes-long!!",
		},
		{
			name:       "wrong key produces error",
			ciphertext: ciphertext,
			wantPlain:  "",
			wantErr:    true,
			setupKey:   "different-key-32-bytes-long!!!",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ConfigureEncryption(tt.setupKey)
			plaintext, err := DecryptAESGCM(tt.ciphertext)
			if (err != nil) != tt.wantErr {
				t.Errorf("DecryptAESGCM() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && plaintext != tt.wantPlain {
				t.Errorf("DecryptAESGCM() = %v, want %v", plaintext, tt.wantPlain)
			}
		})
	}
}

func TestDecryptOrPlaintext(t *testing.T) {
	ConfigureEncryption("test-encryption-secret-32-bytes-long!!")

	encrypted, err := EncryptAESGCM("JBSWY3DPEHPK3PXP")
	if err != nil {
		t.Fatalf("failed to encrypt: %v", err)
	}

	tests := []struct {
		name       string
		value      string
		wantReturn string
	}{
		{
			name:       "empty string returns empty",
			value:      "",
			wantReturn: "",
		},
		{
			name:       "encrypted value decrypts",
			value:      encrypted,
			wantReturn: "JBSWY3DPEHPK3PXP",
		},
		{
			name:       "plaintext value returns as-is",
			value:      "plaintext",
			wantReturn: "plaintext",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DecryptOrPlaintext(tt.value)
			if result != tt.wantReturn {
				t.Errorf("DecryptOrPlaintext() = %v, want %v", result, tt.wantReturn)
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ConfigureEncryption("test-encryption-secret-32-bytes-long!!")

	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "base32 TOTP secret",
			content: "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP",
		},
		{
			name:    "empty string",
			content: "",
		},
		{
			name:    "unicode",
			content: "日本語テスト🔐",
		},
		{
			name:    "binary-like",
			content: string([]byte{0, 1, 2, 255, 128, 64, 32, 16, 8, 4, 2, 1}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypted, err := EncryptAESGCM(tt.content)
			if err != nil {
				t.Fatalf("EncryptAESGCM() error = %v", err)
			}

			decrypted, err := DecryptAESGCM(encrypted)
			if err != nil {
				t.Fatalf("DecryptAESGCM() error = %v", err)
			}

			if decrypted != tt.content {
				t.Errorf("round trip failed: got %v, want %v", decrypted, tt.content)
			}
		})
	}
}
