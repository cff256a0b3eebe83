package verify

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jugaad-backup/internal/archive"
	"jugaad-backup/internal/envelope"
)

var sealer = envelope.NewSealer("machine", 1000)

func buildArchive(t *testing.T, blocks ...archive.FileBlock) []byte {
	t.Helper()
	body := &archive.Body{Blocks: blocks}
	m := archive.NewManifest(archive.BuildInfo{ProjectName: "demo", Version: 1, Time: time.Now(), CreatedBy: "tester"}, body.Files())
	data, err := archive.Encode(m, body)
	require.NoError(t, err)
	return data
}

func writeFile(t *testing.T, data []byte, opts archive.WriteOptions) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "demo_2026-01-01_v1.3dev")
	_, err := archive.NewWriter(sealer, nil).Write(path, data, opts)
	require.NoError(t, err)
	return path
}

func newVerifier() *Verifier {
	return NewVerifier(archive.NewOpener(sealer), nil)
}

func TestVerify_Passed(t *testing.T) {
	path := writeFile(t, buildArchive(t,
		archive.NewFileBlock("a.py", []byte("print(1)\n")),
		archive.NewFileBlock("b.bin", []byte{0xff, 0xfe}),
	), archive.WriteOptions{})

	report := newVerifier().Verify(path, Options{})
	assert.Equal(t, StatusPassed, report.Status)
	assert.True(t, report.OK())
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.Passed)
	for _, f := range report.Files {
		assert.Equal(t, f.Expected, f.Actual)
	}
}

func TestVerify_TamperedContent(t *testing.T) {
	data := string(buildArchive(t, archive.NewFileBlock("a.py", []byte("print(1)\n"))))
	tampered := strings.Replace(data, "print(1)\n--- FILE END", "print(2)\n--- FILE END", 1)
	path := writeFile(t, []byte(tampered), archive.WriteOptions{})

	report := newVerifier().Verify(path, Options{})
	assert.Equal(t, StatusFailed, report.Status)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Files, 1)
	assert.False(t, report.Files[0].Valid)
}

func TestVerify_MissingHashIsValid(t *testing.T) {
	data := "'::Backup Stats::':\n  Files Included: 1\n--- END MANIFEST ---\n\n" +
		"--- FILE START: a.py ---\nanything\n--- FILE END: a.py ---\n"
	path := writeFile(t, []byte(data), archive.WriteOptions{})

	report := newVerifier().Verify(path, Options{})
	assert.Equal(t, StatusPassed, report.Status)
	assert.Equal(t, 1, report.Unhashed)
}

func TestVerify_EncryptedDeferred(t *testing.T) {
	path := writeFile(t, buildArchive(t, archive.NewFileBlock("a.py", []byte("x\n"))),
		archive.WriteOptions{Encrypt: true, Passphrase: "secret123"})

	v := newVerifier()

	report := v.Verify(path, Options{})
	assert.Equal(t, StatusDeferred, report.Status)
	assert.Equal(t, DeferredMessage, report.Message)
	assert.True(t, report.Encrypted)
	assert.False(t, report.OK())

	report = v.Verify(path, Options{Decrypt: true, Passphrase: "secret123"})
	assert.Equal(t, StatusPassed, report.Status)

	report = v.Verify(path, Options{Decrypt: true, Passphrase: "wrong"})
	assert.Equal(t, StatusError, report.Status)
	assert.NotEmpty(t, report.Message)
	assert.Empty(t, report.Files)
}

func TestVerify_CompressedArchive(t *testing.T) {
	path := writeFile(t, buildArchive(t, archive.NewFileBlock("a.py", []byte("x\n"))),
		archive.WriteOptions{Compression: envelope.CompressionTypeLZ4})

	report := newVerifier().Verify(path, Options{})
	assert.Equal(t, StatusPassed, report.Status)
}

func TestVerify_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.3dev")
	require.NoError(t, os.WriteFile(path, []byte("no terminator here"), 0o644))

	report := newVerifier().Verify(path, Options{})
	assert.Equal(t, StatusError, report.Status)

	report = newVerifier().Verify(filepath.Join(t.TempDir(), "missing.3dev"), Options{})
	assert.Equal(t, StatusError, report.Status)
}

func TestValidate(t *testing.T) {
	good := buildArchive(t,
		archive.NewFileBlock("a.py", []byte("print(1)\n")),
		archive.NewFileBlock("doc.md", []byte("# notes\n")))

	t.Run("valid", func(t *testing.T) {
		report := newVerifier().Validate(writeFile(t, good, archive.WriteOptions{}), Options{})
		assert.True(t, report.Valid, report.Errors)
		assert.Equal(t, 2, report.Stats.Blocks)
		assert.Equal(t, 2, report.Stats.Declared)
		assert.Equal(t, 1, report.Stats.FormatVersion)
		assert.Empty(t, report.Errors)
	})

	t.Run("marker-like content", func(t *testing.T) {
		data := buildArchive(t, archive.NewFileBlock("doc.md", []byte("--- FILE START: fake ---\n--- FILE END: fake ---\n")))
		report := newVerifier().Validate(writeFile(t, data, archive.WriteOptions{}), Options{})
		assert.True(t, report.Valid, report.Errors)
		assert.Equal(t, 1, report.Stats.Blocks)
		assert.Contains(t, report.Warnings, "File content contains lines that look like block markers")
	})

	t.Run("declared count mismatch", func(t *testing.T) {
		bad := strings.Replace(string(buildArchive(t, archive.NewFileBlock("a.py", []byte("x\n")))),
			"Files Included: 1", "Files Included: 2", 1)
		report := newVerifier().Validate(writeFile(t, []byte(bad), archive.WriteOptions{}), Options{})
		assert.False(t, report.Valid)
		assert.Contains(t, report.Errors, "Manifest declares 2 files but the archive holds 1")
	})

	t.Run("missing terminator", func(t *testing.T) {
		bad := strings.Replace(string(good), "--- END MANIFEST ---", "", 1)
		report := newVerifier().Validate(writeFile(t, []byte(bad), archive.WriteOptions{}), Options{})
		assert.False(t, report.Valid)
		assert.NotEmpty(t, report.Errors)
	})

	t.Run("encrypted", func(t *testing.T) {
		path := writeFile(t, good, archive.WriteOptions{Encrypt: true})
		report := newVerifier().Validate(path, Options{})
		assert.True(t, report.Encrypted)
		assert.Contains(t, report.Warnings, "Encrypted backup - limited validation")

		report = newVerifier().Validate(path, Options{Decrypt: true})
		assert.Equal(t, 2, report.Stats.Blocks)
	})

	t.Run("missing file", func(t *testing.T) {
		report := newVerifier().Validate(filepath.Join(t.TempDir(), "nope.3dev"), Options{})
		assert.False(t, report.Valid)
		assert.Equal(t, []string{"File does not exist"}, report.Errors)
	})
}
