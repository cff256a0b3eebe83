package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"jugaad-backup/internal/errors"
	"jugaad-backup/internal/filter"
)

// Extension of archive files
const Extension = ".3dev"

// Subdirectories of the backup directory
const (
	ArchiveSubdir    = "3dev"
	SkippedSubdir    = "skipped"
	IncludedSubdir   = "included"
	RehydratedSubdir = "rehydrated"
	AIOSubdir        = "AIO_rehydrated"
	ExportSubdir     = "TOON"
)

var subdirs = []string{ArchiveSubdir, SkippedSubdir, IncludedSubdir, RehydratedSubdir, AIOSubdir, ExportSubdir}

// Layout locates everything under a project's .JugaadBKP directory
type Layout struct {
	root string
}

// NewLayout returns the layout for the project at projectRoot
func NewLayout(projectRoot string) *Layout {
	return &Layout{root: filepath.Join(projectRoot, filter.BackupDirName)}
}

// Root is the .JugaadBKP directory
func (l *Layout) Root() string { return l.root }

func (l *Layout) ArchiveDir() string    { return filepath.Join(l.root, ArchiveSubdir) }
func (l *Layout) SkippedDir() string    { return filepath.Join(l.root, SkippedSubdir) }
func (l *Layout) IncludedDir() string   { return filepath.Join(l.root, IncludedSubdir) }
func (l *Layout) RehydratedDir() string { return filepath.Join(l.root, RehydratedSubdir) }
func (l *Layout) AIODir() string        { return filepath.Join(l.root, AIOSubdir) }
func (l *Layout) ExportDir() string     { return filepath.Join(l.root, ExportSubdir) }

// LockPath is the advisory lock file guarding the backup directory
func (l *Layout) LockPath() string { return filepath.Join(l.root, ".lock") }

// Ensure creates the backup directory tree
func (l *Layout) Ensure() error {
	for _, sub := range subdirs {
		dir := filepath.Join(l.root, sub)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.NewWriteError(dir, err)
		}
	}
	return nil
}

// Exists reports whether the backup directory has been created
func (l *Layout) Exists() bool {
	info, err := os.Stat(l.root)
	return err == nil && info.IsDir()
}

// NextVersion returns max(existing versions for project on date) + 1, or 1
func (l *Layout) NextVersion(project, date string) (int, error) {
	entries, err := os.ReadDir(l.ArchiveDir())
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, fmt.Errorf("failed to list archives: %w", err)
	}

	// the date must directly follow the prefix so "app" does not count "app_x"
	prefix := NamePrefix(project) + "_" + date + "_v"
	next := 1
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		d, v, _, ok := ParseArchiveName(name)
		if !ok || d != date {
			continue
		}
		if v+1 > next {
			next = v + 1
		}
	}
	return next, nil
}

// ArchivePath returns the archive file path for a build
func (l *Layout) ArchivePath(project, date, label string) string {
	return filepath.Join(l.ArchiveDir(), SafeFilename(project, Extension, date, label))
}

// LogPaths returns the included- and skipped-file log paths for a build
func (l *Layout) LogPaths(date, label string) (included, skipped string) {
	included = filepath.Join(l.IncludedDir(), SafeFilename("included_files", ".log", date, label))
	skipped = filepath.Join(l.SkippedDir(), SafeFilename("skipped_files", ".log", date, label))
	return included, skipped
}

// ListArchives returns the .3dev files of the archive directory
func (l *Layout) ListArchives() ([]string, error) {
	entries, err := os.ReadDir(l.ArchiveDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), Extension) {
			out = append(out, filepath.Join(l.ArchiveDir(), e.Name()))
		}
	}
	return out, nil
}
