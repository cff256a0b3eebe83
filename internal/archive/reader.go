package archive

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"jugaad-backup/internal/envelope"
	"jugaad-backup/internal/errors"
	"jugaad-backup/internal/scanner"
)

// Trailer is the generator footer of an archive
type Trailer struct {
	Generator string
	CreatedBy string
	Timestamp string
}

// Archive is a parsed plaintext archive. Blocks are decoded lazily.
type Archive struct {
	Manifest *Manifest
	data     []byte
	body     int
}

// Parse locates the manifest terminator and decodes the manifest. The
// file section is not read until Blocks or ReadAll is called.
func Parse(data []byte) (*Archive, error) {
	if envelope.IsEncrypted(data) {
		return nil, errors.NewEncryptedInputError("archive data")
	}
	if envelope.IsCompressed(data) {
		return nil, errors.NewFormatError("archive is compressed and must be decoded before parsing", nil)
	}

	idx := findLine(data, 0, ManifestTerminator)
	if idx < 0 {
		return nil, errors.NewFormatError("manifest terminator not found", nil)
	}

	m, err := UnmarshalManifest(data[:idx])
	if err != nil {
		return nil, err
	}

	body := idx + len(ManifestTerminator)
	for i := 0; i < 2 && body < len(data) && data[body] == '\n'; i++ {
		body++
	}

	return &Archive{Manifest: m, data: data, body: body}, nil
}

// findLine returns the offset of the first line at or after from that
// equals line exactly, or -1
func findLine(data []byte, from int, line string) int {
	for from <= len(data) {
		i := bytes.Index(data[from:], []byte(line))
		if i < 0 {
			return -1
		}
		i += from
		end := i + len(line)
		if (i == 0 || data[i-1] == '\n') && (end == len(data) || data[end] == '\n') {
			return i
		}
		from = i + 1
	}
	return -1
}

// Blocks returns a fresh scanner over the file section
func (a *Archive) Blocks() *BlockScanner {
	return &BlockScanner{data: a.data, pos: a.body}
}

// ReadAll decodes every block. On any framing error nothing is returned.
func (a *Archive) ReadAll() ([]FileBlock, error) {
	var blocks []FileBlock
	s := a.Blocks()
	for s.Next() {
		blocks = append(blocks, s.Block())
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return blocks, nil
}

// ManifestText returns the raw manifest block
func (a *Archive) ManifestText() []byte {
	idx := findLine(a.data, 0, ManifestTerminator)
	return a.data[:idx]
}

// Data returns the plaintext bytes the archive was parsed from
func (a *Archive) Data() []byte {
	return a.data
}

// BlockScanner walks the file section with a single forward cursor.
// Block contents alias the archive bytes.
type BlockScanner struct {
	data    []byte
	pos     int
	block   FileBlock
	err     error
	done    bool
	skipped []string
	trailer *Trailer
}

// Next advances to the next block. It returns false at the end of the
// file section or on the first framing error.
func (s *BlockScanner) Next() bool {
	if s.done || s.err != nil {
		return false
	}

	for s.pos < len(s.data) {
		line := s.readLine()

		switch {
		case strings.TrimSpace(line) == "":
			continue

		case isMarker(line, fileStartPrefix):
			path := markerPath(line, fileStartPrefix)
			if path == "" {
				return s.fail("FILE START marker with empty path")
			}
			blk, err := s.readBlock(path)
			if err != nil {
				s.err = err
				return false
			}
			s.block = blk
			return true

		case isMarker(line, skippedPrefix):
			s.skipped = append(s.skipped, markerPath(line, skippedPrefix))

		case line == trailerRule:
			if err := s.readTrailer(); err != nil {
				s.err = err
				return false
			}
			s.done = true
			return false

		case isMarker(line, fileEndPrefix):
			return s.fail(fmt.Sprintf("FILE END without FILE START: %s", markerPath(line, fileEndPrefix)))

		default:
			return s.fail("unexpected content between file blocks")
		}
	}

	s.done = true
	return false
}

// Block returns the current block
func (s *BlockScanner) Block() FileBlock {
	return s.block
}

// Err returns the framing error that stopped the scan, if any
func (s *BlockScanner) Err() error {
	return s.err
}

// Skipped lists the SKIPPED markers seen so far
func (s *BlockScanner) Skipped() []string {
	return s.skipped
}

// Trailer returns the footer once the scan has reached it
func (s *BlockScanner) Trailer() *Trailer {
	return s.trailer
}

func (s *BlockScanner) fail(msg string) bool {
	s.err = s.formatError(msg)
	return false
}

func (s *BlockScanner) formatError(msg string) *errors.AppError {
	line := bytes.Count(s.data[:s.pos], []byte("\n"))
	return errors.NewFormatError(msg, nil).WithContext("line", line)
}

// readLine consumes one line and returns it without the newline
func (s *BlockScanner) readLine() string {
	rest := s.data[s.pos:]
	if i := bytes.IndexByte(rest, '\n'); i >= 0 {
		s.pos += i + 1
		return string(rest[:i])
	}
	s.pos = len(s.data)
	return string(rest)
}

// peekLine returns the next line without consuming it
func (s *BlockScanner) peekLine() string {
	rest := s.data[s.pos:]
	if i := bytes.IndexByte(rest, '\n'); i >= 0 {
		return string(rest[:i])
	}
	return string(rest)
}

func isMarker(line, prefix string) bool {
	return len(line) >= len(prefix)+len(markerSuffix) &&
		strings.HasPrefix(line, prefix) && strings.HasSuffix(line, markerSuffix)
}

func markerPath(line, prefix string) string {
	return line[len(prefix) : len(line)-len(markerSuffix)]
}

func (s *BlockScanner) readBlock(path string) (FileBlock, error) {
	var hash string
	size := int64(-1)

	if next := s.peekLine(); strings.HasPrefix(next, hashPrefix) {
		hash = strings.TrimSpace(strings.TrimPrefix(next, hashPrefix))
		s.readLine()
	}
	if next := s.peekLine(); strings.HasPrefix(next, sizePrefix) {
		raw := strings.TrimSuffix(strings.TrimPrefix(next, sizePrefix), sizeSuffix)
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || n < 0 {
			return FileBlock{}, s.formatError(fmt.Sprintf("invalid SIZE line for %s", path))
		}
		size = n
		s.readLine()
	}

	endLine := fileEndPrefix + path + markerSuffix
	start := s.pos

	if size >= 0 {
		if content, next, ok := s.sizedContent(start, size, endLine); ok {
			s.pos = next
			return FileBlock{Path: path, SHA256: hash, Size: size, Content: content}, nil
		}
	}

	// delimit by the matching FILE END line
	i := start
	for {
		if i >= len(s.data) {
			s.pos = start
			return FileBlock{}, s.formatError(fmt.Sprintf("FILE START without FILE END: %s", path))
		}
		lineEnd := len(s.data)
		if j := bytes.IndexByte(s.data[i:], '\n'); j >= 0 {
			lineEnd = i + j
		}
		line := s.data[i:lineEnd]
		if string(line) == endLine {
			s.pos = lineEnd
			if s.pos < len(s.data) {
				s.pos++
			}
			return decodeDelimited(path, hash, s.data[start:i]), nil
		}
		if bytes.HasPrefix(line, []byte(fileStartPrefix)) {
			s.pos = i
			return FileBlock{}, s.formatError(fmt.Sprintf("nested FILE START inside %s", path))
		}
		i = lineEnd + 1
	}
}

// sizedContent reads exactly size bytes of text followed by the newline
// the writer adds when missing and the FILE END line
func (s *BlockScanner) sizedContent(start int, size int64, endLine string) ([]byte, int, bool) {
	if size > int64(len(s.data)-start) {
		return nil, 0, false
	}
	end := start + int(size)
	content := s.data[start:end]

	next := end
	if size == 0 || content[size-1] != '\n' {
		if next >= len(s.data) || s.data[next] != '\n' {
			return nil, 0, false
		}
		next++
	}

	if !bytes.HasPrefix(s.data[next:], []byte(endLine)) {
		return nil, 0, false
	}
	next += len(endLine)
	if next < len(s.data) {
		if s.data[next] != '\n' {
			return nil, 0, false
		}
		next++
	}
	return content, next, true
}

// decodeDelimited turns raw framed content into the original bytes
func decodeDelimited(path, hash string, raw []byte) FileBlock {
	trimmed := bytes.TrimSuffix(raw, []byte("\n"))

	if bytes.HasPrefix(trimmed, []byte(binaryOpen)) && bytes.HasSuffix(trimmed, []byte(binaryClose)) {
		encoded := trimmed[len(binaryOpen) : len(trimmed)-len(binaryClose)]
		if decoded, err := base64.StdEncoding.DecodeString(string(encoded)); err == nil {
			return FileBlock{Path: path, SHA256: hash, Size: int64(len(decoded)), Content: decoded, Binary: true}
		}
	}

	// the writer appends a newline to content that lacks one; the stored
	// hash tells whether this one was added
	content := raw
	if hash != "" && len(trimmed) != len(raw) &&
		scanner.HashBytes(raw) != hash && scanner.HashBytes(trimmed) == hash {
		content = trimmed
	}
	return FileBlock{Path: path, SHA256: hash, Size: int64(len(content)), Content: content}
}

func (s *BlockScanner) readTrailer() error {
	t := &Trailer{}
	for s.pos < len(s.data) {
		line := s.readLine()
		if line == trailerRule {
			s.trailer = t
			if rest := bytes.TrimSpace(s.data[s.pos:]); len(rest) > 0 {
				return s.formatError("unexpected content after trailer")
			}
			s.pos = len(s.data)
			return nil
		}

		field := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(field, "Generated by "):
			t.Generator = strings.TrimPrefix(field, "Generated by ")
		case strings.HasPrefix(field, "Created by: "):
			t.CreatedBy = strings.TrimPrefix(field, "Created by: ")
		case strings.HasPrefix(field, "Timestamp: "):
			t.Timestamp = strings.TrimPrefix(field, "Timestamp: ")
		}
	}
	return s.formatError("trailer is not terminated")
}
