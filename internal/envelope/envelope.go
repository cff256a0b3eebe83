// Package envelope seals archive bytes with a machine-bound, optionally
// passphrase-protected AES-256-GCM envelope, and wraps them with an
// optional compression layer.
package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"jugaad-backup/internal/errors"
)

const (
	// MagicPrefix marks any encrypted archive, whatever the version
	MagicPrefix = "JUGAAD_ENCRYPTED"
	// Magic is the header line written by this version
	Magic = MagicPrefix + "_v3\n"
	// legacyMagic is the Fernet envelope of older releases
	legacyMagic = MagicPrefix + "_v2\n"

	SaltSize          = 16
	KeySize           = 32
	DefaultIterations = 100000
)

// Sealer derives keys from the machine fingerprint plus an optional
// passphrase and seals or opens envelopes
type Sealer struct {
	fingerprint string
	iterations  int
}

// NewSealer creates a sealer. An empty fingerprint selects the local
// machine fingerprint; iterations <= 0 selects DefaultIterations.
func NewSealer(fingerprint string, iterations int) *Sealer {
	if fingerprint == "" {
		fingerprint = MachineFingerprint()
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &Sealer{fingerprint: fingerprint, iterations: iterations}
}

// Fingerprint returns the fingerprint used for key derivation
func (s *Sealer) Fingerprint() string {
	return s.fingerprint
}

func (s *Sealer) deriveKey(passphrase string, salt []byte) []byte {
	secret := s.fingerprint
	if passphrase != "" {
		secret = secret + ":" + passphrase
	}
	return pbkdf2.Key([]byte(secret), salt, s.iterations, KeySize, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext and returns the complete on-disk envelope:
// magic line, salt, nonce, then ciphertext with its authentication tag
func (s *Sealer) Seal(plaintext []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeUnknown, "failed to generate salt", err)
	}

	gcm, err := newGCM(s.deriveKey(passphrase, salt))
	if err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeUnknown, "failed to create GCM cipher", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeUnknown, "failed to generate nonce", err)
	}

	out := make([]byte, 0, len(Magic)+SaltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, Magic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Open decrypts an envelope. A wrong key, tampering or truncation all fail
// with a decryption error and never return plaintext.
func (s *Sealer) Open(data []byte, passphrase string) ([]byte, error) {
	if bytes.HasPrefix(data, []byte(legacyMagic)) {
		return nil, errors.NewDecryptionError("unsupported envelope version v2", nil).
			WithUserMessage("This archive uses the legacy v2 envelope, which is not supported")
	}
	if !bytes.HasPrefix(data, []byte(Magic)) {
		if IsEncrypted(data) {
			return nil, errors.NewDecryptionError("unsupported envelope version", nil)
		}
		return nil, errors.NewDecryptionError("data is not an encrypted archive", nil)
	}

	body := data[len(Magic):]
	if len(body) < SaltSize {
		return nil, errors.NewDecryptionError("envelope truncated", nil)
	}
	salt, body := body[:SaltSize], body[SaltSize:]

	gcm, err := newGCM(s.deriveKey(passphrase, salt))
	if err != nil {
		return nil, errors.NewDecryptionError("failed to create GCM cipher", err)
	}

	if len(body) < gcm.NonceSize()+gcm.Overhead() {
		return nil, errors.NewDecryptionError("envelope truncated", nil)
	}
	nonce, ciphertext := body[:gcm.NonceSize()], body[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.NewDecryptionError("authentication failed", err)
	}
	return plaintext, nil
}

// IsEncrypted is a prefix check, done before any parsing
func IsEncrypted(data []byte) bool {
	return bytes.HasPrefix(data, []byte(MagicPrefix))
}

// IsEncryptedFile reads only the first bytes of path. Unreadable files
// report false.
func IsEncryptedFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, len(MagicPrefix))
	if _, err := io.ReadFull(f, head); err != nil {
		return false
	}
	return IsEncrypted(head)
}
