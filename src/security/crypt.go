package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Exchange API credentials are stored encrypted at rest. The AES key is
// derived from EXCHANGE_CREDENTIALS_KEY with PBKDF2 so the env var can be an
// arbitrary passphrase rather than exact key material.

const (
	keyIterations = 4096
	keyLength     = 32
)

// keySalt is fixed: the passphrase is a server-side secret, the salt only
// separates this derivation from other uses of the same passphrase.
var keySalt = []byte("signalengine.api-credentials")

var ErrCiphertextTooShort = errors.New("ciphertext too short")

func derivedKey() []byte {
	config := GetConfig()
	return pbkdf2.Key([]byte(config.ExchangeCRKey), keySalt, keyIterations, keyLength, sha256.New)
}

// EncryptString encrypts plain with AES-GCM and returns a base64 string
// suitable for storing in the api_keys table.
func EncryptString(plain string) (string, error) {
	block, err := aes.NewCipher(derivedKey())
	if err != nil {
		return "", fmt.Errorf("failed to build cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to build GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString.
func DecryptString(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(derivedKey())
	if err != nil {
		return "", fmt.Errorf("failed to build cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to build GCM: %w", err)
	}

	if len(raw) < gcm.NonceSize() {
		return "", ErrCiphertextTooShort
	}

	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	return string(plain), nil
}
