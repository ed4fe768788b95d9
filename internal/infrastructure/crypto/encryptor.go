// Package crypto seals credential payloads at rest.
package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/erp/syncengine/internal/domain/integration"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrUnknownKey        = errors.New("crypto: unknown encryption key")
	ErrInvalidKey        = errors.New("crypto: master key must be 32 bytes (hex or base64)")
	ErrInvalidCiphertext = errors.New("crypto: invalid ciphertext")
)

const hkdfInfoPrefix = "erp-syncengine/credentials/"

// KeyRingEncryptor encrypts with AES-256-GCM under keys derived by HKDF from
// named master keys. The key id is bound as additional authenticated data,
// so a payload only opens under the key it was sealed with.
type KeyRingEncryptor struct {
	mu    sync.RWMutex
	aeads map[string]cipher.AEAD
}

var _ integration.Encryptor = (*KeyRingEncryptor)(nil)

// NewKeyRingEncryptor builds an encryptor from key id -> encoded master key
func NewKeyRingEncryptor(masterKeys map[string]string) (*KeyRingEncryptor, error) {
	e := &KeyRingEncryptor{aeads: make(map[string]cipher.AEAD, len(masterKeys))}
	for id, encoded := range masterKeys {
		if err := e.AddKey(id, encoded); err != nil {
			return nil, fmt.Errorf("key %q: %w", id, err)
		}
	}
	return e, nil
}

// AddKey registers a master key. Existing payloads keep opening under their
// original key id, which allows key rotation without re-encryption.
func (e *KeyRingEncryptor) AddKey(keyID, encoded string) error {
	if strings.TrimSpace(keyID) == "" {
		return errors.New("crypto: key id is required")
	}
	master, err := decodeKey(encoded)
	if err != nil {
		return err
	}
	derived := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(hkdfInfoPrefix+keyID)), derived); err != nil {
		return fmt.Errorf("crypto: derive key: %w", err)
	}
	block, err := aes.NewCipher(derived)
	if err != nil {
		return fmt.Errorf("crypto: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("crypto: create GCM: %w", err)
	}
	e.mu.Lock()
	e.aeads[keyID] = gcm
	e.mu.Unlock()
	return nil
}

func decodeKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if b, err := hex.DecodeString(encoded); err == nil && len(b) == 32 {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(encoded); err == nil && len(b) == 32 {
		return b, nil
	}
	return nil, ErrInvalidKey
}

func (e *KeyRingEncryptor) aead(keyID string) (cipher.AEAD, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.aeads[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, keyID)
	}
	return a, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext)
func (e *KeyRingEncryptor) Encrypt(_ context.Context, keyID string, plaintext []byte) (string, error) {
	gcm, err := e.aead(keyID)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, []byte(keyID))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a payload produced by Encrypt
func (e *KeyRingEncryptor) Decrypt(_ context.Context, keyID string, ciphertext string) ([]byte, error) {
	gcm, err := e.aead(keyID)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if len(raw) < gcm.NonceSize() {
		return nil, ErrInvalidCiphertext
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, []byte(keyID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return plaintext, nil
}

// GenerateKey returns a random hex-encoded 32 byte master key
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
