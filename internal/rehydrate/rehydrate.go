// Package rehydrate reconstructs a project tree, or a single flattened
// document, from a parsed archive.
package rehydrate

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"jugaad-backup/internal/archive"
	"jugaad-backup/internal/errors"
	"jugaad-backup/internal/fsutil"
	"jugaad-backup/internal/logging"
)

// Mode selects the output shape
type Mode string

const (
	// ModeTree recreates the directory tree
	ModeTree Mode = "tree"
	// ModeFlat concatenates every file into one text document
	ModeFlat Mode = "flat"
)

// ParseMode accepts "tree", "flat" and the older "aio"
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tree":
		return ModeTree, nil
	case "flat", "aio", "flattened":
		return ModeFlat, nil
	default:
		return "", errors.NewValidationError(fmt.Sprintf("unknown rehydrate mode %q", s), nil)
	}
}

// flatHeaderFormat precedes each file in flat mode
const flatHeaderFormat = "\n--- FILE: %s ---\n"

// Options controls a rehydration
type Options struct {
	Mode Mode
	// Output is the target directory (tree) or file (flat)
	Output string
	// Only restricts output to these archive paths; empty means all
	Only []string
}

// Result counts what happened to each block
type Result struct {
	Mode     Mode     `json:"mode" yaml:"mode" toml:"mode"`
	Output   string   `json:"output" yaml:"output" toml:"output"`
	Written  int      `json:"written" yaml:"written" toml:"written"`
	Rejected int      `json:"rejected" yaml:"rejected" toml:"rejected"`
	Filtered int      `json:"filtered" yaml:"filtered" toml:"filtered"`
	Failed   int      `json:"failed" yaml:"failed" toml:"failed"`
	Paths    []string `json:"rejected_paths,omitempty" yaml:"rejected_paths,omitempty" toml:"rejected_paths,omitempty"`
}

// Rehydrator writes archive contents back to disk
type Rehydrator struct {
	logger *logging.Logger
}

// NewRehydrator creates a rehydrator
func NewRehydrator(logger *logging.Logger) *Rehydrator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Rehydrator{logger: logger}
}

// DefaultOutput returns <project>_Rehydrated_<time>_<version> under the
// layout's tree or flat directory
func DefaultOutput(layout *archive.Layout, m *archive.Manifest, mode Mode) string {
	project := m.Project.Name
	if project == "" {
		project = "project"
	}
	version := m.Stats.BackupVersion
	if version == "" {
		version = "vX"
	}
	stamp := strings.NewReplacer(":", "", "-", "", " ", "").Replace(m.Stats.BackupTime)
	if stamp == "" {
		stamp = "Unknown"
	}

	name := fmt.Sprintf("%s_Rehydrated_%s_%s", project, stamp, version)
	if mode == ModeFlat {
		return filepath.Join(layout.AIODir(), name+".txt")
	}
	return filepath.Join(layout.RehydratedDir(), name)
}

// Rehydrate parses every block of a before writing anything, then emits
// the selected blocks in archive order. Paths that would escape the
// output root are skipped and counted; they never abort the run.
func (r *Rehydrator) Rehydrate(ctx context.Context, a *archive.Archive, opts Options) (*Result, error) {
	if opts.Output == "" {
		return nil, errors.NewValidationError("rehydrate output path is required", nil)
	}
	if opts.Mode == "" {
		opts.Mode = ModeTree
	}

	blocks, err := a.ReadAll()
	if err != nil {
		return nil, err
	}

	selected, filtered := selectBlocks(blocks, opts.Only)
	res := &Result{Mode: opts.Mode, Output: opts.Output, Filtered: filtered}

	switch opts.Mode {
	case ModeTree:
		err = r.writeTree(ctx, selected, opts.Output, res)
	case ModeFlat:
		err = r.writeFlat(selected, opts.Output, res)
	default:
		err = errors.NewValidationError(fmt.Sprintf("unknown rehydrate mode %q", opts.Mode), nil)
	}
	if err != nil {
		return res, err
	}

	r.logger.LogRehydrate(a.Manifest.Project.Name, opts.Output, res.Written, res.Rejected)
	return res, nil
}

func selectBlocks(blocks []archive.FileBlock, only []string) ([]archive.FileBlock, int) {
	if len(only) == 0 {
		return blocks, 0
	}
	allow := make(map[string]bool, len(only))
	for _, p := range only {
		allow[filepath.ToSlash(strings.TrimSpace(p))] = true
	}

	var out []archive.FileBlock
	for _, blk := range blocks {
		if allow[blk.Path] {
			out = append(out, blk)
		}
	}
	return out, len(blocks) - len(out)
}

func (r *Rehydrator) writeTree(ctx context.Context, blocks []archive.FileBlock, root string, res *Result) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return errors.NewWriteError(root, err)
	}

	for _, blk := range blocks {
		if err := ctx.Err(); err != nil {
			return errors.NewErrorClassifier().ClassifyError(err)
		}

		target, err := ResolveInside(root, blk.Path)
		if err != nil {
			res.Rejected++
			res.Paths = append(res.Paths, blk.Path)
			r.logger.WithField("path", blk.Path).Warn("Rejected path outside the output root")
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			res.Failed++
			r.logger.WithField("path", blk.Path).Warnf("Failed to create parent directory: %v", err)
			continue
		}
		if err := os.WriteFile(target, blk.Content, 0o644); err != nil {
			res.Failed++
			r.logger.WithField("path", blk.Path).Warnf("Failed to write file: %v", err)
			continue
		}
		res.Written++
	}
	return nil
}

func (r *Rehydrator) writeFlat(blocks []archive.FileBlock, out string, res *Result) error {
	var buf bytes.Buffer
	for _, blk := range blocks {
		fmt.Fprintf(&buf, flatHeaderFormat, blk.Path)
		if blk.Binary {
			buf.WriteString("<BINARY:" + base64.StdEncoding.EncodeToString(blk.Content) + ">\n")
		} else {
			buf.Write(blk.Content)
			if len(blk.Content) == 0 || blk.Content[len(blk.Content)-1] != '\n' {
				buf.WriteByte('\n')
			}
		}
		res.Written++
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return errors.NewWriteError(out, err)
	}
	if err := fsutil.AtomicWriteFile(out, buf.Bytes(), 0o644); err != nil {
		res.Written = 0
		return errors.NewWriteError(out, err)
	}
	return nil
}
