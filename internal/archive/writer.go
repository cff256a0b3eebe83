package archive

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"jugaad-backup/internal/envelope"
	"jugaad-backup/internal/errors"
	"jugaad-backup/internal/fsutil"
	"jugaad-backup/internal/logging"
	"jugaad-backup/internal/scanner"
)

// Framing markers
const (
	ManifestTerminator = "--- END MANIFEST ---"
	fileStartPrefix    = "--- FILE START: "
	fileEndPrefix      = "--- FILE END: "
	skippedPrefix      = "--- SKIPPED: "
	markerSuffix       = " ---"
	hashPrefix         = "SHA256: "
	sizePrefix         = "SIZE: "
	sizeSuffix         = " bytes"
	binaryOpen         = "<BINARY:"
	binaryClose        = ">"
)

var trailerRule = strings.Repeat("=", 70)

// FileBlock is one framed file record. Content is always the raw file
// bytes; Binary records whether it is framed as base64.
type FileBlock struct {
	Path    string
	SHA256  string
	Size    int64
	Content []byte
	Binary  bool
}

// Body is the file section of an archive
type Body struct {
	Blocks []FileBlock
	// Missing lists files that vanished between scan and write
	Missing []string
}

// Files returns the scan records of the embedded blocks
func (b *Body) Files() []scanner.ScannedFile {
	files := make([]scanner.ScannedFile, 0, len(b.Blocks))
	for _, blk := range b.Blocks {
		files = append(files, scanner.ScannedFile{Path: blk.Path, Size: blk.Size, SHA256: blk.SHA256})
	}
	return files
}

// NewFileBlock frames raw content, choosing the binary sentinel for
// anything that is not valid UTF-8
func NewFileBlock(path string, content []byte) FileBlock {
	return FileBlock{
		Path:    path,
		SHA256:  scanner.HashBytes(content),
		Size:    int64(len(content)),
		Content: content,
		Binary:  !utf8.Valid(content),
	}
}

// LoadRecords reads the selected files from root. Hash and size are taken
// from the bytes actually read, so the stored hash always matches the
// embedded content even if a file changed after the scan.
func LoadRecords(root string, files []scanner.ScannedFile) *Body {
	body := &Body{}
	for _, f := range files {
		if !scanner.Frameable(f.Path) {
			body.Missing = append(body.Missing, f.Path)
			continue
		}
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(f.Path)))
		if err != nil {
			body.Missing = append(body.Missing, f.Path)
			continue
		}
		body.Blocks = append(body.Blocks, NewFileBlock(f.Path, data))
	}
	return body
}

// Encode renders the complete plaintext archive. Block paths must fit on
// one line; missing paths that do not are left out of the skip markers.
func Encode(m *Manifest, body *Body) ([]byte, error) {
	for _, blk := range body.Blocks {
		if !scanner.Frameable(blk.Path) {
			return nil, errors.NewFormatError("file path contains a line break", nil).WithContext("path", blk.Path)
		}
	}

	header, err := m.Marshal()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(header)
	buf.WriteString("\n" + ManifestTerminator + "\n\n")

	for _, blk := range body.Blocks {
		writeBlock(&buf, blk)
	}
	for _, p := range body.Missing {
		if !scanner.Frameable(p) {
			continue
		}
		buf.WriteString(skippedPrefix + p + markerSuffix + "\n\n")
	}

	buf.WriteString("\n" + trailerRule + "\n")
	buf.WriteString("  Generated by " + Generator + " v" + GeneratorVersion + "\n")
	buf.WriteString("  Created by: " + m.Generation.CreatedBy + "\n")
	buf.WriteString("  Timestamp: " + m.Generation.Timestamp + "\n")
	buf.WriteString(trailerRule + "\n")

	return buf.Bytes(), nil
}

func writeBlock(buf *bytes.Buffer, blk FileBlock) {
	buf.WriteString(fileStartPrefix + blk.Path + markerSuffix + "\n")
	buf.WriteString(hashPrefix + blk.SHA256 + "\n")
	buf.WriteString(sizePrefix + strconv.FormatInt(blk.Size, 10) + sizeSuffix + "\n")

	if blk.Binary {
		buf.WriteString(binaryOpen)
		buf.WriteString(base64.StdEncoding.EncodeToString(blk.Content))
		buf.WriteString(binaryClose + "\n")
	} else {
		buf.Write(blk.Content)
		if len(blk.Content) == 0 || blk.Content[len(blk.Content)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}

	buf.WriteString(fileEndPrefix + blk.Path + markerSuffix + "\n\n")
}

// WriteOptions selects the outer layers of an archive
type WriteOptions struct {
	Compression envelope.CompressionType
	Level       int
	Encrypt     bool
	Passphrase  string
}

// Writer persists encoded archives atomically
type Writer struct {
	sealer      *envelope.Sealer
	compression *envelope.CompressionManager
	logger      *logging.Logger
}

// NewWriter creates a writer
func NewWriter(sealer *envelope.Sealer, logger *logging.Logger) *Writer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Writer{
		sealer:      sealer,
		compression: envelope.NewCompressionManager(),
		logger:      logger,
	}
}

// Seal applies compression then encryption to plaintext
func (w *Writer) Seal(plaintext []byte, opts WriteOptions) ([]byte, error) {
	data, err := w.compression.Wrap(plaintext, opts.Compression, opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.Encrypt {
		if w.sealer == nil {
			return nil, errors.NewConfigurationError("encryption requested but no sealer configured", nil)
		}
		data, err = w.sealer.Seal(data, opts.Passphrase)
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}

// Write seals plaintext and writes it to path through a temp file and
// rename. It returns the number of bytes written.
func (w *Writer) Write(path string, plaintext []byte, opts WriteOptions) (int64, error) {
	data, err := w.Seal(plaintext, opts)
	if err != nil {
		w.logger.LogArchiveWrite(path, 0, 0, opts.Encrypt, err)
		return 0, err
	}

	if err := fsutil.AtomicWriteFile(path, data, 0o644); err != nil {
		werr := errors.NewWriteError(path, err)
		w.logger.LogArchiveWrite(path, 0, 0, opts.Encrypt, werr)
		return 0, werr
	}

	return int64(len(data)), nil
}
