package service

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/smallbiznis/contentmarket/internal/billingkey/domain"
	"golang.org/x/crypto/chacha20poly1305"
)

const sealVersion = "v1"

// Sealer encrypts billing keys at rest with XChaCha20-Poly1305. The key is
// derived from the configured secret with SHA-256.
type Sealer struct {
	aead cipher.AEAD
}

func NewSealer(secret string) (*Sealer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, nil
	}
	sum := sha256.Sum256([]byte(secret))
	aead, err := chacha20poly1305.NewX(sum[:])
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns "v1:" followed by base64(nonce || ciphertext). The user id is
// bound as associated data so a ciphertext cannot be moved between users.
func (s *Sealer) Seal(plaintext string, associated []byte) (string, error) {
	if s == nil {
		return "", domain.ErrEncryptionUnavailable
	}
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), associated)
	return sealVersion + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *Sealer) Open(encoded string, associated []byte) (string, error) {
	if s == nil {
		return "", domain.ErrEncryptionUnavailable
	}
	raw, ok := strings.CutPrefix(encoded, sealVersion+":")
	if !ok {
		return "", domain.ErrDecrypt
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(data) < s.aead.NonceSize() {
		return "", domain.ErrDecrypt
	}
	nonce, ciphertext := data[:s.aead.NonceSize()], data[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, associated)
	if err != nil {
		return "", domain.ErrDecrypt
	}
	return string(plain), nil
}
