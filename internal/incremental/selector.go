// Package incremental selects the files that changed since the newest
// readable archive.
package incremental

import (
	"path/filepath"
	"sort"

	"jugaad-backup/internal/archive"
	"jugaad-backup/internal/logging"
	"jugaad-backup/internal/scanner"
)

// Base is the archive an incremental build is compared against
type Base struct {
	Path    string
	Name    string
	Version string
	Files   map[string]scanner.ScannedFile
}

// Ref returns the manifest reference recorded in the incremental archive
func (b *Base) Ref() *archive.BaseArchive {
	if b == nil {
		return nil
	}
	return &archive.BaseArchive{Name: b.Name, Version: b.Version}
}

// Selection classifies a fresh scan against a base
type Selection struct {
	Base      *Base
	Added     []scanner.ScannedFile
	Modified  []scanner.ScannedFile
	Unchanged []scanner.ScannedFile
	// Removed lists base paths that no longer exist; informational only
	Removed []string
	changed []scanner.ScannedFile
}

// HasChanges reports whether anything needs to be written
func (s *Selection) HasChanges() bool {
	return len(s.Added)+len(s.Modified) > 0
}

// Changed returns added and modified files in scan order
func (s *Selection) Changed() []scanner.ScannedFile {
	return s.changed
}

// Selector finds bases in an archive directory
type Selector struct {
	opener *archive.Opener
	logger *logging.Logger
}

// NewSelector creates a selector
func NewSelector(opener *archive.Opener, logger *logging.Logger) *Selector {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Selector{opener: opener, logger: logger}
}

// LoadBase returns the newest archive in dir that is not encrypted and
// whose manifest parses, or nil when there is none. Encrypted archives are
// skipped since no key is available at scan time.
func (s *Selector) LoadBase(dir string) (*Base, error) {
	infos, err := s.opener.List(dir)
	if err != nil {
		return nil, err
	}

	for _, info := range infos {
		if info.Encrypted {
			s.logger.WithField("archive", info.Name).Debug("Skipping encrypted archive as incremental base")
			continue
		}
		if info.Manifest == nil {
			s.logger.WithField("archive", info.Name).Debugf("Skipping unreadable archive as incremental base: %v", info.Err)
			continue
		}
		return &Base{
			Path:    info.Path,
			Name:    filepath.Base(info.Path),
			Version: info.Version(),
			Files:   info.Manifest.FileMap(),
		}, nil
	}
	return nil, nil
}

// Classify compares files against base. A nil base marks every file added.
func Classify(files []scanner.ScannedFile, base *Base) *Selection {
	sel := &Selection{Base: base}
	seen := make(map[string]bool, len(files))

	for _, f := range files {
		seen[f.Path] = true

		var prev scanner.ScannedFile
		var ok bool
		if base != nil {
			prev, ok = base.Files[f.Path]
		}

		switch {
		case !ok:
			sel.Added = append(sel.Added, f)
			sel.changed = append(sel.changed, f)
		case prev.SHA256 != f.SHA256:
			sel.Modified = append(sel.Modified, f)
			sel.changed = append(sel.changed, f)
		default:
			sel.Unchanged = append(sel.Unchanged, f)
		}
	}

	if base != nil {
		for path := range base.Files {
			if !seen[path] {
				sel.Removed = append(sel.Removed, path)
			}
		}
	}
	sort.Strings(sel.Removed)

	return sel
}

// Select loads the base from dir and classifies files against it
func (s *Selector) Select(dir string, files []scanner.ScannedFile) (*Selection, error) {
	base, err := s.LoadBase(dir)
	if err != nil {
		return nil, err
	}
	return Classify(files, base), nil
}
