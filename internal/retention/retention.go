// Package retention rotates old archives out of a backup directory.
package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"jugaad-backup/internal/archive"
	"jugaad-backup/internal/errors"
	"jugaad-backup/internal/logging"
)

// Policy decides which archives survive a rotation. The newest KeepCount
// archives are always kept; beyond that an archive is deleted only when
// it is strictly older than KeepDays.
type Policy struct {
	KeepCount int
	KeepDays  int
}

// DefaultPolicy keeps ten archives and thirty days
func DefaultPolicy() Policy {
	return Policy{KeepCount: 10, KeepDays: 30}
}

// Validate checks the policy values
func (p Policy) Validate() error {
	if p.KeepCount < 0 {
		return errors.NewValidationError("keep_count cannot be negative", nil)
	}
	if p.KeepDays < 0 {
		return errors.NewValidationError("keep_days cannot be negative", nil)
	}
	return nil
}

// Candidate is one archive considered by a rotation
type Candidate struct {
	Path    string    `json:"path" yaml:"path" toml:"path"`
	Name    string    `json:"name" yaml:"name" toml:"name"`
	Size    int64     `json:"size" yaml:"size" toml:"size"`
	ModTime time.Time `json:"mod_time" yaml:"mod_time" toml:"mod_time"`
	Rank    int       `json:"rank" yaml:"rank" toml:"rank"`
	Reason  string    `json:"reason" yaml:"reason" toml:"reason"`
}

// Result is the outcome of a rotation
type Result struct {
	Processed  int           `json:"processed" yaml:"processed" toml:"processed"`
	Deleted    []Candidate   `json:"deleted" yaml:"deleted" toml:"deleted"`
	Kept       []Candidate   `json:"kept" yaml:"kept" toml:"kept"`
	Reclaimed  int64         `json:"reclaimed_bytes" yaml:"reclaimed_bytes" toml:"reclaimed_bytes"`
	Errors     []string      `json:"errors" yaml:"errors" toml:"errors"`
	DryRun     bool          `json:"dry_run" yaml:"dry_run" toml:"dry_run"`
	Cutoff     time.Time     `json:"cutoff" yaml:"cutoff" toml:"cutoff"`
	Processing time.Duration `json:"processing_time" yaml:"processing_time" toml:"processing_time"`
}

// Manager applies a retention policy to one archive directory
type Manager struct {
	dir    string
	policy Policy
	logger *logging.Logger
	now    func() time.Time
}

// NewManager creates a manager for dir
func NewManager(dir string, policy Policy, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Manager{dir: dir, policy: policy, logger: logger, now: time.Now}
}

// SetClock replaces the clock used to compute the age cutoff
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Candidates ranks the archives of the directory and splits them into
// kept and deleted sets without touching anything
func (m *Manager) Candidates() (toDelete, toKeep []Candidate, err error) {
	infos, err := m.list()
	if err != nil {
		return nil, nil, err
	}
	toDelete, toKeep = m.applyRules(infos)
	return toDelete, toKeep, nil
}

// Apply rotates the directory. With dryRun nothing is deleted.
func (m *Manager) Apply(ctx context.Context, dryRun bool) (*Result, error) {
	start := time.Now()
	if err := m.policy.Validate(); err != nil {
		return nil, err
	}

	toDelete, toKeep, err := m.Candidates()
	if err != nil {
		return nil, err
	}

	result := &Result{
		Processed: len(toDelete) + len(toKeep),
		Kept:      toKeep,
		Deleted:   []Candidate{},
		Errors:    []string{},
		DryRun:    dryRun,
		Cutoff:    m.cutoff(),
	}

	for _, c := range toDelete {
		if err := ctx.Err(); err != nil {
			return result, errors.NewErrorClassifier().ClassifyError(err)
		}
		if !dryRun {
			if err := os.Remove(c.Path); err != nil && !os.IsNotExist(err) {
				msg := fmt.Sprintf("failed to delete archive %s: %v", c.Name, err)
				result.Errors = append(result.Errors, msg)
				m.logger.Error(msg)
				continue
			}
			m.logger.WithFields(map[string]interface{}{
				"archive":  c.Name,
				"modified": c.ModTime.Format(time.RFC3339),
			}).Info("Deleted archive")
		}
		result.Deleted = append(result.Deleted, c)
		result.Reclaimed += c.Size
	}

	result.Processing = time.Since(start)
	m.logger.Info(fmt.Sprintf("Retention applied to %s: %d processed, %d deleted, %d kept (dry run: %v)",
		m.dir, result.Processed, len(result.Deleted), len(result.Kept), dryRun))
	return result, nil
}

func (m *Manager) cutoff() time.Time {
	return m.now().Add(-time.Duration(m.policy.KeepDays) * 24 * time.Hour)
}

// applyRules expects infos newest first
func (m *Manager) applyRules(infos []archive.Info) (toDelete, toKeep []Candidate) {
	cutoff := m.cutoff()
	for i, info := range infos {
		c := Candidate{Path: info.Path, Name: info.Name, Size: info.Size, ModTime: info.ModTime, Rank: i + 1}
		switch {
		case i < m.policy.KeepCount:
			c.Reason = "within keep_count"
			toKeep = append(toKeep, c)
		case info.ModTime.Before(cutoff):
			c.Reason = fmt.Sprintf("older than %d days", m.policy.KeepDays)
			toDelete = append(toDelete, c)
		default:
			c.Reason = "within keep_days"
			toKeep = append(toKeep, c)
		}
	}
	return toDelete, toKeep
}

// list reads names and timestamps only; rotation never opens an archive
func (m *Manager) list() ([]archive.Info, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewErrorClassifier().ClassifyError(err)
	}

	var infos []archive.Info
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != archive.Extension {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, archive.Info{
			Path:    filepath.Join(m.dir, e.Name()),
			Name:    e.Name(),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
	}
	archive.SortNewestFirst(infos)
	return infos, nil
}
