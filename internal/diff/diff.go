// Package diff compares the file lists of two archive manifests.
package diff

import (
	"sort"

	"jugaad-backup/internal/archive"
	"jugaad-backup/internal/errors"
	"jugaad-backup/internal/scanner"
)

// Change describes a path present in both sides with differing content
type Change struct {
	Path    string `json:"path" yaml:"path" toml:"path"`
	OldHash string `json:"old_sha256" yaml:"old_sha256" toml:"old_sha256"`
	NewHash string `json:"new_sha256" yaml:"new_sha256" toml:"new_sha256"`
	OldSize int64  `json:"old_size" yaml:"old_size" toml:"old_size"`
	NewSize int64  `json:"new_size" yaml:"new_size" toml:"new_size"`
}

// Counts holds the size of each set
type Counts struct {
	Added     int `json:"added" yaml:"added" toml:"added"`
	Removed   int `json:"removed" yaml:"removed" toml:"removed"`
	Modified  int `json:"modified" yaml:"modified" toml:"modified"`
	Unchanged int `json:"unchanged" yaml:"unchanged" toml:"unchanged"`
}

// Result holds four disjoint, sorted path sets
type Result struct {
	From      string   `json:"from,omitempty" yaml:"from,omitempty" toml:"from,omitempty"`
	To        string   `json:"to,omitempty" yaml:"to,omitempty" toml:"to,omitempty"`
	Added     []string `json:"added" yaml:"added" toml:"added"`
	Removed   []string `json:"removed" yaml:"removed" toml:"removed"`
	Modified  []string `json:"modified" yaml:"modified" toml:"modified"`
	Unchanged []string `json:"unchanged" yaml:"unchanged" toml:"unchanged"`
	Changes   []Change `json:"changes" yaml:"changes" toml:"changes"`
	Counts    Counts   `json:"counts" yaml:"counts" toml:"counts"`
}

// HasChanges reports whether the two sides differ at all
func (r *Result) HasChanges() bool {
	return r.Counts.Added+r.Counts.Removed+r.Counts.Modified > 0
}

// Compare computes the difference from a to b over the union of paths.
// Only in b is added, only in a is removed, differing hash is modified.
func Compare(a, b map[string]scanner.ScannedFile) *Result {
	r := &Result{
		Added:     []string{},
		Removed:   []string{},
		Modified:  []string{},
		Unchanged: []string{},
		Changes:   []Change{},
	}

	for path, old := range a {
		cur, ok := b[path]
		switch {
		case !ok:
			r.Removed = append(r.Removed, path)
		case cur.SHA256 != old.SHA256:
			r.Modified = append(r.Modified, path)
			r.Changes = append(r.Changes, Change{
				Path:    path,
				OldHash: old.SHA256,
				NewHash: cur.SHA256,
				OldSize: old.Size,
				NewSize: cur.Size,
			})
		default:
			r.Unchanged = append(r.Unchanged, path)
		}
	}
	for path := range b {
		if _, ok := a[path]; !ok {
			r.Added = append(r.Added, path)
		}
	}

	sort.Strings(r.Added)
	sort.Strings(r.Removed)
	sort.Strings(r.Modified)
	sort.Strings(r.Unchanged)
	sort.Slice(r.Changes, func(i, j int) bool { return r.Changes[i].Path < r.Changes[j].Path })

	r.Counts = Counts{
		Added:     len(r.Added),
		Removed:   len(r.Removed),
		Modified:  len(r.Modified),
		Unchanged: len(r.Unchanged),
	}
	return r
}

// Manifests compares two decoded manifests. An incremental manifest is
// compared by its Baseline Files, the full tree state at build time, so
// files carried over from the base do not show up as removed.
func Manifests(a, b *archive.Manifest) (*Result, error) {
	if a == nil || b == nil {
		return nil, errors.NewValidationError("manifests cannot be nil", nil)
	}
	return Compare(a.FileMap(), b.FileMap()), nil
}

// Archives loads the manifests of two archive files and compares them.
// Encrypted inputs are rejected with an encrypted_input error.
func Archives(opener *archive.Opener, pathA, pathB string) (*Result, error) {
	ma, err := opener.ReadManifest(pathA)
	if err != nil {
		return nil, err
	}
	mb, err := opener.ReadManifest(pathB)
	if err != nil {
		return nil, err
	}

	r, err := Manifests(ma, mb)
	if err != nil {
		return nil, err
	}
	r.From = pathA
	r.To = pathB
	return r, nil
}
