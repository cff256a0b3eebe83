// Package fsutil provides file system helpers shared by the archive writer,
// the rehydrator and the exporter.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// AtomicWriteFile writes data to path through a temp file in the same
// directory followed by a rename, so readers never see a partial file.
// On failure the temp file is removed and any existing file is untouched.
//
// The caller is responsible for ensuring the parent directory exists.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".jugaad-atomic-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpName := tmp.Name()
	defer func() {
		// still present only if the rename did not happen
		if _, statErr := os.Stat(tmpName); statErr == nil {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}

	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}

// ReplaceFile atomically replaces an existing file and keeps its permissions
// and modification time
func ReplaceFile(path string, data []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if err := AtomicWriteFile(path, data, info.Mode().Perm()); err != nil {
		return err
	}

	return os.Chtimes(path, time.Now(), info.ModTime())
}
