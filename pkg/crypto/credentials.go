// Package crypto provides encryption for tenant connection strings at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/ekaya-inc/ekaya-pulse/pkg/apperrors"
)

const (
	// MinKeyLength is the minimum length of the master key.
	MinKeyLength = 32

	saltSize      = 64
	ivSize        = 16
	tagSize       = 16
	keySize       = 32
	kdfIterations = 100000

	segmentSeparator = ":"
)

var (
	// ErrInvalidKey is returned when the master key is shorter than MinKeyLength.
	ErrInvalidKey = apperrors.NewConfigError(fmt.Sprintf("invalid encryption key: must be at least %d characters", MinKeyLength))
	// ErrDecryptionFailed is returned when a blob is malformed, tampered with, or was encrypted with another key.
	ErrDecryptionFailed = apperrors.NewDecryptionError("decryption failed: invalid ciphertext or wrong key", nil)
)

// CredentialEncryptor binds a validated master key to Encrypt and Decrypt.
type CredentialEncryptor struct {
	key string
}

// NewCredentialEncryptor creates an encryptor for the given master key.
func NewCredentialEncryptor(key string) (*CredentialEncryptor, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return &CredentialEncryptor{key: key}, nil
}

// Encrypt encrypts plaintext with the bound key.
func (e *CredentialEncryptor) Encrypt(plaintext string) (string, error) {
	return Encrypt(plaintext, e.key)
}

// Decrypt decrypts a blob produced by Encrypt with the bound key.
func (e *CredentialEncryptor) Decrypt(blob string) (string, error) {
	return Decrypt(blob, e.key)
}

// Fingerprint returns a keyed HMAC-SHA256 of value, hex encoded. It is
// deterministic, unlike Encrypt, so it can back a uniqueness constraint
// without storing value.
func (e *CredentialEncryptor) Fingerprint(value string) string {
	mac := hmac.New(sha256.New, []byte(e.key))
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// Encrypt seals plaintext with AES-256-GCM and returns
// base64(salt):base64(iv):base64(tag):base64(ciphertext).
//
// The AES key is derived per call from key and a fresh random salt with
// PBKDF2-HMAC-SHA512, so the master key alone cannot decrypt a blob without
// its salt.
func Encrypt(plaintext, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	gcm, err := newGCM(key, salt)
	if err != nil {
		return "", err
	}

	// Seal returns ciphertext || tag
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(ciphertext),
	}, segmentSeparator), nil
}

// Decrypt reverses Encrypt. The blob's shape is validated before any
// decryption is attempted.
func Decrypt(blob, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	parts := strings.Split(blob, segmentSeparator)
	if len(parts) != 4 {
		return "", fmt.Errorf("%w: expected 4 segments, got %d", ErrDecryptionFailed, len(parts))
	}

	decoded := make([][]byte, len(parts))
	for i, part := range parts {
		b, err := base64.StdEncoding.DecodeString(part)
		if err != nil {
			return "", fmt.Errorf("%w: segment %d is not valid base64", ErrDecryptionFailed, i)
		}
		decoded[i] = b
	}
	salt, iv, tag, ciphertext := decoded[0], decoded[1], decoded[2], decoded[3]

	if len(salt) != saltSize {
		return "", fmt.Errorf("%w: salt must be %d bytes", ErrDecryptionFailed, saltSize)
	}
	if len(iv) != ivSize {
		return "", fmt.Errorf("%w: iv must be %d bytes", ErrDecryptionFailed, ivSize)
	}
	if len(tag) != tagSize {
		return "", fmt.Errorf("%w: tag must be %d bytes", ErrDecryptionFailed, tagSize)
	}

	gcm, err := newGCM(key, salt)
	if err != nil {
		return "", err
	}

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}

	return string(plaintext), nil
}

func validateKey(key string) error {
	if len(key) < MinKeyLength {
		return ErrInvalidKey
	}
	return nil
}

func newGCM(key string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(key), salt, kdfIterations, keySize, sha512.New)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return gcm, nil
}
