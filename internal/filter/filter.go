// Package filter decides which paths of a project tree are eligible for backup.
package filter

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// Reason explains why a path was skipped
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonBuiltin   Reason = "builtin-ignore"
	ReasonGitignore Reason = "gitignore"
	ReasonExtension Reason = "extension"
	ReasonCriteria  Reason = "criteria"
)

// Options configures a PathFilter
type Options struct {
	RespectGitignore bool
	ExtraIgnore      []string
	Criteria         *Criteria
}

// PathFilter applies the built-in ignore list, the project .gitignore and
// the extension allow-list. It is safe for concurrent use once built.
type PathFilter struct {
	builtin  gitignore.Matcher
	project  gitignore.Matcher
	allow    allowList
	criteria *Criteria
}

// New builds a filter for the project rooted at root
func New(root string, opts Options) (*PathFilter, error) {
	builtin := append(append([]string(nil), DefaultIgnorePatterns...), opts.ExtraIgnore...)

	f := &PathFilter{
		builtin:  gitignore.NewMatcher(parsePatterns(builtin)),
		allow:    newAllowList(IncludedExtensions),
		criteria: opts.Criteria,
	}

	if opts.RespectGitignore {
		lines, err := ReadIgnoreFile(filepath.Join(root, ".gitignore"))
		if err != nil {
			return nil, err
		}
		if len(lines) > 0 {
			f.project = gitignore.NewMatcher(parsePatterns(lines))
		}
	}

	return f, nil
}

// ReadIgnoreFile returns the pattern lines of a gitignore file. A missing
// file yields no patterns.
func ReadIgnoreFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func parsePatterns(lines []string) []gitignore.Pattern {
	patterns := make([]gitignore.Pattern, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t\r")
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(trimmed, nil))
	}
	return patterns
}

func split(rel string) []string {
	return strings.Split(path.Clean(filepath.ToSlash(rel)), "/")
}

// AlwaysPruned reports directories that are skipped without being logged
func AlwaysPruned(name string) bool {
	return alwaysPruned[name]
}

// PruneDir reports whether the scanner must not descend into rel
func (f *PathFilter) PruneDir(rel string) (bool, Reason) {
	parts := split(rel)
	if f.builtin.Match(parts, true) {
		return true, ReasonBuiltin
	}
	if f.project != nil && f.project.Match(parts, true) {
		return true, ReasonGitignore
	}
	return false, ReasonNone
}

// Ignored reports whether a file is excluded by either ignore set
func (f *PathFilter) Ignored(rel string) (bool, Reason) {
	parts := split(rel)
	if f.builtin.Match(parts, false) {
		return true, ReasonBuiltin
	}
	if f.project != nil && f.project.Match(parts, false) {
		return true, ReasonGitignore
	}
	return false, ReasonNone
}

// Allowed reports whether the basename passes the allow-list
func (f *PathFilter) Allowed(name string) bool {
	return f.allow.match(name)
}

// Include runs every file check in order: ignore sets, allow-list, criteria
func (f *PathFilter) Include(rel string, info fs.FileInfo) (bool, Reason) {
	if ignored, reason := f.Ignored(rel); ignored {
		return false, reason
	}
	if !f.Allowed(path.Base(filepath.ToSlash(rel))) {
		return false, ReasonExtension
	}
	if f.criteria != nil && info != nil && !f.criteria.Match(rel, info.Size(), info.ModTime()) {
		return false, ReasonCriteria
	}
	return true, ReasonNone
}

type allowList struct {
	suffixes  []string
	basenames map[string]bool
}

func newAllowList(entries []string) allowList {
	al := allowList{basenames: make(map[string]bool)}
	for _, e := range entries {
		lower := strings.ToLower(e)
		if strings.HasPrefix(e, ".") {
			al.suffixes = append(al.suffixes, lower)
		} else {
			al.basenames[lower] = true
		}
	}
	return al
}

func (al allowList) match(name string) bool {
	lower := strings.ToLower(name)
	if al.basenames[lower] {
		return true
	}
	for _, s := range al.suffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// Criteria narrows the selection by glob, size and modification time
type Criteria struct {
	Include        []string
	Exclude        []string
	MinSize        int64
	MaxSize        int64
	ModifiedAfter  time.Time
	ModifiedBefore time.Time
}

// Match reports whether a file satisfies every configured criterion. Globs
// are matched against both the relative path and the basename.
func (c *Criteria) Match(rel string, size int64, modTime time.Time) bool {
	rel = filepath.ToSlash(rel)
	base := path.Base(rel)

	if len(c.Include) > 0 && !globAny(c.Include, rel, base) {
		return false
	}
	if len(c.Exclude) > 0 && globAny(c.Exclude, rel, base) {
		return false
	}
	if c.MinSize > 0 && size < c.MinSize {
		return false
	}
	if c.MaxSize > 0 && size > c.MaxSize {
		return false
	}
	if !c.ModifiedAfter.IsZero() && modTime.Before(c.ModifiedAfter) {
		return false
	}
	if !c.ModifiedBefore.IsZero() && modTime.After(c.ModifiedBefore) {
		return false
	}
	return true
}

// IsZero reports whether no criterion is set
func (c *Criteria) IsZero() bool {
	return c == nil || (len(c.Include) == 0 && len(c.Exclude) == 0 && c.MinSize == 0 && c.MaxSize == 0 &&
		c.ModifiedAfter.IsZero() && c.ModifiedBefore.IsZero())
}

func globAny(patterns []string, rel, base string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, rel); ok {
			return true
		}
		if ok, _ := path.Match(p, base); ok {
			return true
		}
	}
	return false
}

// SensitiveEntries returns .gitignore lines under root that look like they
// protect secrets
func SensitiveEntries(root string) ([]string, error) {
	lines, err := ReadIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil, err
	}

	var hits []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		lower := strings.ToLower(trimmed)
		for _, ind := range SensitiveIndicators {
			if strings.Contains(lower, ind) {
				hits = append(hits, trimmed)
				break
			}
		}
	}
	return hits, nil
}
