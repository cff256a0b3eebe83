// Package scanner walks a project tree and records the files eligible for
// backup together with their size and SHA-256.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"jugaad-backup/internal/errors"
	"jugaad-backup/internal/filter"
	"jugaad-backup/internal/logging"
)

// hashChunkSize bounds per-file memory while hashing
const hashChunkSize = 32 * 1024

var errLineBreak = fmt.Errorf("path contains a line break and cannot be framed")

// Frameable reports whether rel can appear on a single framing line
func Frameable(rel string) bool {
	return !strings.ContainsAny(rel, "\r\n")
}

// ScannedFile is one included file. Path is relative to the scan root and
// always uses forward slashes.
type ScannedFile struct {
	Path   string `yaml:"path" json:"path"`
	Size   int64  `yaml:"size" json:"size"`
	SHA256 string `yaml:"sha256" json:"sha256"`
}

// Result holds the outcome of one scan
type Result struct {
	Root          string
	Files         []ScannedFile
	Skipped       []string
	TotalScanned  int
	TotalIncluded int
	TotalSkipped  int
	TotalBytes    int64
	Errors        []error
	Duration      time.Duration
}

// Scanner walks a tree through a PathFilter
type Scanner struct {
	filter *filter.PathFilter
	logger *logging.Logger
}

// New creates a scanner
func New(f *filter.PathFilter, logger *logging.Logger) *Scanner {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Scanner{filter: f, logger: logger}
}

// Scan walks root in lexical order. Pruned directories are listed in
// Skipped with a trailing slash and are not counted; unreadable files are
// counted as skipped and recorded in Errors without aborting the walk.
func (s *Scanner) Scan(ctx context.Context, root string) (*Result, error) {
	start := time.Now()

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.NewScanError(root, err)
	}
	if info, err := os.Stat(absRoot); err != nil {
		return nil, errors.NewScanError(absRoot, err)
	} else if !info.IsDir() {
		return nil, errors.NewValidationError("project root is not a directory: "+absRoot, nil)
	}

	res := &Result{Root: absRoot}

	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if path == absRoot {
			return err
		}

		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if err != nil {
			// unreadable directory or entry
			res.Errors = append(res.Errors, errors.NewScanError(rel, err))
			if d != nil && d.IsDir() {
				res.Skipped = append(res.Skipped, rel+"/")
				return fs.SkipDir
			}
			res.skip(rel)
			return nil
		}

		if d.IsDir() {
			if filter.AlwaysPruned(d.Name()) {
				return fs.SkipDir
			}
			if !Frameable(rel) {
				res.Errors = append(res.Errors, errors.NewScanError(rel, errLineBreak))
				res.Skipped = append(res.Skipped, rel+"/")
				return fs.SkipDir
			}
			if pruned, reason := s.filter.PruneDir(rel); pruned {
				s.logger.LogFileDecision(rel+"/", false, string(reason))
				res.Skipped = append(res.Skipped, rel+"/")
				return fs.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			// symlinks, sockets and devices are never archived
			res.TotalScanned++
			res.skip(rel)
			return nil
		}

		res.TotalScanned++

		if !Frameable(rel) {
			s.logger.WithField("path", rel).Warn("Skipping file with a line break in its path")
			res.Errors = append(res.Errors, errors.NewScanError(rel, errLineBreak))
			res.skip(rel)
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			res.Errors = append(res.Errors, errors.NewScanError(rel, infoErr))
			res.skip(rel)
			return nil
		}

		if ok, reason := s.filter.Include(rel, info); !ok {
			s.logger.LogFileDecision(rel, false, string(reason))
			res.skip(rel)
			return nil
		}

		sum, size, hashErr := HashFile(path)
		if hashErr != nil {
			s.logger.WithField("path", rel).Warnf("Skipping unreadable file: %v", hashErr)
			res.Errors = append(res.Errors, errors.NewScanError(rel, hashErr))
			res.skip(rel)
			return nil
		}

		s.logger.LogFileDecision(rel, true, "")
		res.Files = append(res.Files, ScannedFile{Path: rel, Size: size, SHA256: sum})
		res.TotalIncluded++
		res.TotalBytes += size
		return nil
	})

	if walkErr != nil {
		if ctx.Err() != nil {
			return nil, errors.NewErrorClassifier().ClassifyError(ctx.Err())
		}
		return nil, errors.NewScanError(absRoot, walkErr)
	}

	res.Duration = time.Since(start)
	s.logger.LogScan(absRoot, res.TotalScanned, res.TotalIncluded, res.TotalSkipped, res.Duration)

	return res, nil
}

func (r *Result) skip(rel string) {
	r.Skipped = append(r.Skipped, rel)
	r.TotalSkipped++
}

// HashMap returns path -> sha256 for the included files
func (r *Result) HashMap() map[string]string {
	m := make(map[string]string, len(r.Files))
	for _, f := range r.Files {
		m[f.Path] = f.SHA256
	}
	return m
}

// HashFile streams a file through SHA-256 in fixed-size chunks
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.CopyBuffer(h, f, make([]byte, hashChunkSize))
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashBytes returns the hex SHA-256 of data
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
