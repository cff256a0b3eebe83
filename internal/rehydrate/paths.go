package rehydrate

import (
	"os"
	"path/filepath"
	"strings"

	"jugaad-backup/internal/errors"
)

// ResolveInside maps an archive path onto root and rejects anything that
// would land outside it: absolute paths, ".." ascents, and parents that
// resolve through a symlink to a location outside root.
func ResolveInside(root, rel string) (string, error) {
	if rel == "" || strings.ContainsRune(rel, 0) {
		return "", errors.NewPathTraversalError(rel)
	}
	native := filepath.FromSlash(rel)
	if filepath.IsAbs(native) || strings.HasPrefix(rel, "/") || filepath.VolumeName(native) != "" {
		return "", errors.NewPathTraversalError(rel)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", errors.NewPathTraversalError(rel)
	}
	target := filepath.Join(absRoot, native)
	if !within(absRoot, target) {
		return "", errors.NewPathTraversalError(rel)
	}

	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		// root not created yet, nothing below it can be a symlink
		return target, nil
	}

	parent := deepestExisting(filepath.Dir(target), absRoot)
	realParent, err := filepath.EvalSymlinks(parent)
	if err != nil || (realParent != realRoot && !within(realRoot, realParent)) {
		return "", errors.NewPathTraversalError(rel)
	}

	if fi, err := os.Lstat(target); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		return "", errors.NewPathTraversalError(rel)
	}
	return target, nil
}

// within reports whether path is strictly below root
func within(root, path string) bool {
	r, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return r != "." && r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator)) && !filepath.IsAbs(r)
}

// deepestExisting walks up from dir until it finds an existing entry,
// stopping at root
func deepestExisting(dir, root string) string {
	for {
		if _, err := os.Lstat(dir); err == nil {
			return dir
		}
		if dir == root {
			return root
		}
		next := filepath.Dir(dir)
		if next == dir {
			return root
		}
		dir = next
	}
}
