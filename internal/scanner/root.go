package scanner

import (
	"os"
	"path/filepath"
)

// projectMarkers identify the top of a project
var projectMarkers = []string{".git", "pyproject.toml", "package.json", "Cargo.toml", "go.mod"}

// DetectProjectRoot walks upward from start to the nearest directory that
// holds a project marker. It returns start itself when none is found.
func DetectProjectRoot(start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}

	dir := abs
	for {
		for _, marker := range projectMarkers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		dir = parent
	}
}
