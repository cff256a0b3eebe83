package cmd

import (
	"path/filepath"

	"jugaad-backup/internal/archive"
)

// archiveName shortens an archive path to its file name; other labels such
// as a project root are returned unchanged
func archiveName(path string) string {
	if filepath.Ext(path) == archive.Extension {
		return filepath.Base(path)
	}
	return path
}

// shortHash abbreviates a SHA-256 for tables
func shortHash(h string) string {
	if h == "" {
		return "-"
	}
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
