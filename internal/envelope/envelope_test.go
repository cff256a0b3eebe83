package envelope

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jugaad-backup/internal/errors"
)

const testIterations = 1000

func TestSealer_RoundTrip(t *testing.T) {
	s := NewSealer("test-machine", testIterations)
	text := []byte("::Jugaad Backup Metadata Manifest::\nhello\n")

	sealed, err := s.Seal(text, "secret123")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(sealed, []byte(Magic)))
	assert.True(t, IsEncrypted(sealed))
	assert.NotContains(t, string(sealed), "hello")

	opened, err := s.Open(sealed, "secret123")
	require.NoError(t, err)
	assert.Equal(t, text, opened)
}

func TestSealer_WrongPassphrase(t *testing.T) {
	s := NewSealer("test-machine", testIterations)

	sealed, err := s.Seal([]byte("payload"), "secret123")
	require.NoError(t, err)

	opened, err := s.Open(sealed, "wrong")
	assert.Nil(t, opened)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDecryption))
}

func TestSealer_WrongMachine(t *testing.T) {
	sealed, err := NewSealer("machine-a", testIterations).Seal([]byte("payload"), "")
	require.NoError(t, err)

	opened, err := NewSealer("machine-b", testIterations).Open(sealed, "")
	assert.Nil(t, opened)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDecryption))

	opened, err = NewSealer("machine-a", testIterations).Open(sealed, "")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(opened))
}

func TestSealer_FreshSaltPerSeal(t *testing.T) {
	s := NewSealer("m", testIterations)

	a, err := s.Seal([]byte("same"), "p")
	require.NoError(t, err)
	b, err := s.Seal([]byte("same"), "p")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestSealer_Tampered(t *testing.T) {
	s := NewSealer("m", testIterations)
	sealed, err := s.Seal([]byte("payload that matters"), "p")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"flipped ciphertext byte", func(b []byte) []byte { b[len(b)-1] ^= 0x01; return b }},
		{"flipped salt byte", func(b []byte) []byte { b[len(Magic)] ^= 0x01; return b }},
		{"truncated body", func(b []byte) []byte { return b[:len(Magic)+SaltSize+4] }},
		{"truncated salt", func(b []byte) []byte { return b[:len(Magic)+3] }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte(nil), sealed...))
			opened, err := s.Open(data, "p")
			assert.Nil(t, opened)
			assert.True(t, errors.IsType(err, errors.ErrorTypeDecryption))
		})
	}
}

func TestSealer_RejectsLegacyAndPlain(t *testing.T) {
	s := NewSealer("m", testIterations)

	_, err := s.Open([]byte(legacyMagic+"gAAAAAB..."), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "v2")

	_, err = s.Open([]byte("::Jugaad Backup Metadata Manifest::\n"), "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeDecryption))
}

func TestNewSealer_Defaults(t *testing.T) {
	s := NewSealer("", 0)
	assert.Equal(t, MachineFingerprint(), s.Fingerprint())
	assert.Equal(t, DefaultIterations, s.iterations)
}

func TestMachineFingerprint_Stable(t *testing.T) {
	a := MachineFingerprint()
	assert.Len(t, a, 64)
	assert.Equal(t, a, MachineFingerprint())
}

func TestIsEncryptedFile(t *testing.T) {
	dir := t.TempDir()

	sealedPath := filepath.Join(dir, "sealed.3dev")
	require.NoError(t, os.WriteFile(sealedPath, []byte(Magic+"xxxx"), 0o644))
	plainPath := filepath.Join(dir, "plain.3dev")
	require.NoError(t, os.WriteFile(plainPath, []byte("::Jugaad"), 0o644))
	legacyPath := filepath.Join(dir, "legacy.3dev")
	require.NoError(t, os.WriteFile(legacyPath, []byte(legacyMagic), 0o644))

	assert.True(t, IsEncryptedFile(sealedPath))
	assert.True(t, IsEncryptedFile(legacyPath))
	assert.False(t, IsEncryptedFile(plainPath))
	assert.False(t, IsEncryptedFile(filepath.Join(dir, "missing")))
}
