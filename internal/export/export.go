// Package export writes the compact TOON encoding of an archive: a short
// key=value header followed by one index line and one delimited block per
// file.
package export

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/klauspost/compress/zlib"

	"jugaad-backup/internal/archive"
	"jugaad-backup/internal/errors"
	"jugaad-backup/internal/fsutil"
	"jugaad-backup/internal/logging"
)

const (
	// CompressThreshold is the size above which content is always compressed
	CompressThreshold = 1024

	Extension = ".toon"

	metaSection  = "@meta"
	filesSection = "@files"
	blockOpen    = "---"
	blockClose   = "==="
	noHash       = "N/A"

	timestampLayout = "2006-01-02T15:04:05.000000"
)

// Meta is the @meta header
type Meta struct {
	Project    string
	Timestamp  string
	Version    string
	Files      int
	Size       string
	Generator  string
	CreatedBy  string
	SourceHost string
}

// Entry is one exported file
type Entry struct {
	Path       string
	SHA256     string
	Units      int
	Compressed bool
	Content    []byte
}

// Document is a decoded export
type Document struct {
	Meta    Meta
	Entries []Entry
}

// Exporter renders archives in the compact format
type Exporter struct {
	logger *logging.Logger
	now    func() time.Time
}

// NewExporter creates an exporter
func NewExporter(logger *logging.Logger) *Exporter {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Exporter{logger: logger, now: time.Now}
}

// Encode renders every block of a. Content larger than CompressThreshold,
// binary content, and content holding either block delimiter is stored as
// base64 of its zlib stream with the compressed flag set.
func (e *Exporter) Encode(ctx context.Context, a *archive.Archive) ([]byte, error) {
	blocks, err := a.ReadAll()
	if err != nil {
		return nil, err
	}

	m := a.Manifest
	host := m.Generation.SourceHostname
	if host == "" {
		host = m.Project.Hostname
	}
	meta := Meta{
		Project:    m.Project.Name,
		Timestamp:  e.now().Format(timestampLayout),
		Version:    orDefault(m.Stats.BackupVersion, "v1"),
		Files:      len(m.Files),
		Size:       orDefault(m.Stats.RepoSize, noHash),
		Generator:  "jugaad/" + archive.GeneratorVersion,
		CreatedBy:  m.Generation.CreatedBy,
		SourceHost: host,
	}

	var buf bytes.Buffer
	writeMeta(&buf, meta)
	buf.WriteString("\n" + filesSection)

	for _, blk := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewErrorClassifier().ClassifyError(err)
		}

		content := blk.Content
		compressed := needsCompression(blk)
		if compressed {
			packed, err := deflate(content)
			if err != nil {
				return nil, errors.NewWriteError(blk.Path, err)
			}
			content = []byte(base64.StdEncoding.EncodeToString(packed))
		}

		fmt.Fprintf(&buf, "\n%s|%s|%d|%s", blk.Path, orDefault(blk.SHA256, noHash), len(blk.Content)/4, flag(compressed))
		buf.WriteString("\n" + blockOpen + "\n")
		buf.Write(content)
		buf.WriteString("\n" + blockClose)
	}

	e.logger.WithFields(map[string]interface{}{
		"project": meta.Project,
		"files":   len(blocks),
		"bytes":   buf.Len(),
	}).Info("Compact export rendered")
	return buf.Bytes(), nil
}

// Save writes data to dir/JugaadBKP_<YYYYmmddHHMMSS>.toon atomically
func (e *Exporter) Save(dir string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.NewWriteError(dir, err)
	}
	path := filepath.Join(dir, "JugaadBKP_"+e.now().Format("20060102150405")+Extension)
	if err := fsutil.AtomicWriteFile(path, data, 0o644); err != nil {
		return "", errors.NewWriteError(path, err)
	}
	return path, nil
}

func writeMeta(buf *bytes.Buffer, m Meta) {
	buf.WriteString(metaSection + "\n")
	fmt.Fprintf(buf, "project=%s\n", m.Project)
	fmt.Fprintf(buf, "timestamp=%s\n", m.Timestamp)
	fmt.Fprintf(buf, "version=%s\n", m.Version)
	fmt.Fprintf(buf, "files=%d\n", m.Files)
	fmt.Fprintf(buf, "size=%s\n", m.Size)
	fmt.Fprintf(buf, "generator=%s\n", m.Generator)
	fmt.Fprintf(buf, "created_by=%s\n", m.CreatedBy)
	fmt.Fprintf(buf, "source_host=%s\n", m.SourceHost)
}

func needsCompression(blk archive.FileBlock) bool {
	return len(blk.Content) > CompressThreshold ||
		blk.Binary || !utf8.Valid(blk.Content) ||
		bytes.Contains(blk.Content, []byte(blockOpen)) ||
		bytes.Contains(blk.Content, []byte(blockClose))
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Decode parses a compact export back into its entries, inflating
// compressed content
func Decode(data []byte) (*Document, error) {
	text := string(data)
	head, rest, ok := strings.Cut(text, "\n\n"+filesSection)
	if !ok {
		return nil, errors.NewFormatError("missing @files section", nil)
	}

	doc := &Document{}
	if err := parseMeta(head, &doc.Meta); err != nil {
		return nil, err
	}

	for rest != "" {
		if !strings.HasPrefix(rest, "\n") {
			return nil, errors.NewFormatError("expected an index line", nil)
		}
		rest = rest[1:]

		index, after, ok := strings.Cut(rest, "\n"+blockOpen+"\n")
		if !ok {
			return nil, errors.NewFormatError("missing content block", nil).WithContext("entry", index)
		}
		entry, err := parseIndex(index)
		if err != nil {
			return nil, err
		}

		end := strings.Index(after, "\n"+blockClose)
		if end < 0 {
			return nil, errors.NewFormatError("unterminated content block", nil).WithContext("entry", entry.Path)
		}
		body := after[:end]
		rest = after[end+len(blockClose)+1:]

		if entry.Compressed {
			packed, err := base64.StdEncoding.DecodeString(body)
			if err != nil {
				return nil, errors.NewFormatError("invalid base64 content", err).WithContext("entry", entry.Path)
			}
			if entry.Content, err = inflate(packed); err != nil {
				return nil, errors.NewFormatError("invalid compressed content", err).WithContext("entry", entry.Path)
			}
		} else {
			entry.Content = []byte(body)
		}
		doc.Entries = append(doc.Entries, entry)
	}
	return doc, nil
}

func parseMeta(head string, m *Meta) error {
	lines := strings.Split(head, "\n")
	if len(lines) == 0 || lines[0] != metaSection {
		return errors.NewFormatError("missing @meta section", nil)
	}
	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return errors.NewFormatError("malformed meta line", nil).WithContext("line", line)
		}
		switch key {
		case "project":
			m.Project = value
		case "timestamp":
			m.Timestamp = value
		case "version":
			m.Version = value
		case "files":
			n, err := strconv.Atoi(value)
			if err != nil {
				return errors.NewFormatError("malformed file count", err)
			}
			m.Files = n
		case "size":
			m.Size = value
		case "generator":
			m.Generator = value
		case "created_by":
			m.CreatedBy = value
		case "source_host":
			m.SourceHost = value
		}
	}
	return nil
}

// parseIndex splits path|sha|units|comp from the right so paths may hold '|'
func parseIndex(line string) (Entry, error) {
	parts := strings.Split(line, "|")
	if len(parts) < 4 {
		return Entry{}, errors.NewFormatError("malformed index line", nil).WithContext("line", line)
	}
	n := len(parts)
	units, err := strconv.Atoi(parts[n-2])
	if err != nil {
		return Entry{}, errors.NewFormatError("malformed size unit", err).WithContext("line", line)
	}
	if parts[n-1] != "0" && parts[n-1] != "1" {
		return Entry{}, errors.NewFormatError("malformed compressed flag", nil).WithContext("line", line)
	}

	e := Entry{
		Path:       strings.Join(parts[:n-3], "|"),
		SHA256:     parts[n-3],
		Units:      units,
		Compressed: parts[n-1] == "1",
	}
	if e.SHA256 == noHash {
		e.SHA256 = ""
	}
	return e, nil
}
