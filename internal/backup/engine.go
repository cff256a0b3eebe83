// Package backup is the engine behind every jugaad command: it builds full
// and incremental archives and routes the read-side operations through the
// archive, verify, diff, rehydrate and export packages.
package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"jugaad-backup/internal/archive"
	"jugaad-backup/internal/envelope"
	"jugaad-backup/internal/errors"
	"jugaad-backup/internal/filter"
	"jugaad-backup/internal/fsutil"
	"jugaad-backup/internal/incremental"
	"jugaad-backup/internal/lock"
	"jugaad-backup/internal/logging"
	"jugaad-backup/internal/retention"
	"jugaad-backup/internal/scanner"
)

// Options configures an Engine
type Options struct {
	ProjectRoot string
	ProjectName string
	Hostname    string
	CreatedBy   string
	Notes       string
	Tags        []string

	Filter      filter.Options
	Compression envelope.CompressionType
	Level       int
	// Encrypt seals every new archive unless a request overrides it
	Encrypt bool

	Sealer    *envelope.Sealer
	Retention retention.Policy
	Lock      lock.Options

	Logger *logging.Logger
	Audit  *AuditLogger
	Now    func() time.Time
}

// Engine owns one project and its backup directory
type Engine struct {
	opts     Options
	layout   *archive.Layout
	opener   *archive.Opener
	writer   *archive.Writer
	selector *incremental.Selector
	logger   *logging.Logger
	audit    *AuditLogger
	now      func() time.Time
}

// NewEngine validates opts and wires the engine components
func NewEngine(opts Options) (*Engine, error) {
	if opts.ProjectRoot == "" {
		return nil, errors.NewConfigurationError("project root is required", nil)
	}
	root, err := filepath.Abs(opts.ProjectRoot)
	if err != nil {
		return nil, errors.NewConfigurationError("invalid project root", err)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, errors.NewNotFoundError("project directory "+root, err)
	}
	opts.ProjectRoot = root

	if opts.ProjectName == "" {
		opts.ProjectName = filepath.Base(root)
	}
	if opts.Hostname == "" {
		opts.Hostname, _ = os.Hostname()
	}
	if opts.Compression == "" {
		opts.Compression = envelope.CompressionTypeNone
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retention == (retention.Policy{}) {
		opts.Retention = retention.DefaultPolicy()
	}

	opener := archive.NewOpener(opts.Sealer)
	return &Engine{
		opts:     opts,
		layout:   archive.NewLayout(root),
		opener:   opener,
		writer:   archive.NewWriter(opts.Sealer, opts.Logger),
		selector: incremental.NewSelector(opener, opts.Logger),
		logger:   opts.Logger,
		audit:    opts.Audit,
		now:      opts.Now,
	}, nil
}

// Layout returns the backup directory layout
func (e *Engine) Layout() *archive.Layout { return e.layout }

// Opener returns the archive opener
func (e *Engine) Opener() *archive.Opener { return e.opener }

// ProjectName returns the project name written to manifests
func (e *Engine) ProjectName() string { return e.opts.ProjectName }

// ProjectRoot returns the absolute project root
func (e *Engine) ProjectRoot() string { return e.opts.ProjectRoot }

// BuildRequest describes one build
type BuildRequest struct {
	Incremental bool
	// Encrypt overrides the engine default when set
	Encrypt    *bool
	Passphrase string
	Notes      string
	Tags       []string
}

// BuildResult reports a finished build
type BuildResult struct {
	Path        string        `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
	Label       string        `json:"label,omitempty" yaml:"label,omitempty" toml:"label,omitempty"`
	Incremental bool          `json:"incremental" yaml:"incremental" toml:"incremental"`
	Encrypted   bool          `json:"encrypted" yaml:"encrypted" toml:"encrypted"`
	Compression string        `json:"compression" yaml:"compression" toml:"compression"`
	NoChanges   bool          `json:"no_changes" yaml:"no_changes" toml:"no_changes"`
	Base        string        `json:"base,omitempty" yaml:"base,omitempty" toml:"base,omitempty"`
	Files       int           `json:"files" yaml:"files" toml:"files"`
	Scanned     int           `json:"scanned" yaml:"scanned" toml:"scanned"`
	Skipped     int           `json:"skipped" yaml:"skipped" toml:"skipped"`
	Vanished    int           `json:"vanished" yaml:"vanished" toml:"vanished"`
	Added       int           `json:"added" yaml:"added" toml:"added"`
	Modified    int           `json:"modified" yaml:"modified" toml:"modified"`
	Unchanged   int           `json:"unchanged" yaml:"unchanged" toml:"unchanged"`
	Removed     int           `json:"removed" yaml:"removed" toml:"removed"`
	TotalBytes  int64         `json:"total_bytes" yaml:"total_bytes" toml:"total_bytes"`
	Written     int64         `json:"written_bytes" yaml:"written_bytes" toml:"written_bytes"`
	Duration    time.Duration `json:"duration" yaml:"duration" toml:"duration"`
	ScanErrors  []string      `json:"scan_errors,omitempty" yaml:"scan_errors,omitempty" toml:"scan_errors,omitempty"`
}

// Scan runs the tree scanner with the engine's filter
func (e *Engine) Scan(ctx context.Context) (*scanner.Result, error) {
	f, err := filter.New(e.opts.ProjectRoot, e.opts.Filter)
	if err != nil {
		return nil, err
	}
	return scanner.New(f, e.logger).Scan(ctx, e.opts.ProjectRoot)
}

// Estimate predicts the size of a full build
func (e *Engine) Estimate(ctx context.Context) (*scanner.Estimate, error) {
	f, err := filter.New(e.opts.ProjectRoot, e.opts.Filter)
	if err != nil {
		return nil, err
	}
	return scanner.New(f, e.logger).Estimate(ctx, e.opts.ProjectRoot)
}

// Build scans the project and writes a full or incremental archive while
// holding the backup directory lock. An incremental build with nothing
// added or modified writes nothing and reports NoChanges.
func (e *Engine) Build(ctx context.Context, req BuildRequest) (result *BuildResult, err error) {
	encrypt := e.opts.Encrypt
	if req.Encrypt != nil {
		encrypt = *req.Encrypt
	}
	op := "backup_full"
	if req.Incremental {
		op = "backup_incremental"
	}
	done := e.audit.Track(ctx, op, "", map[string]interface{}{
		"project":   e.opts.ProjectName,
		"encrypted": encrypt,
	})
	defer func() {
		extra := map[string]interface{}{}
		if result != nil {
			extra["files"] = result.Files
			extra["no_changes"] = result.NoChanges
			extra["path"] = result.Path
		}
		done(err, extra)
	}()

	err = lock.With(ctx, e.layout.LockPath(), e.opts.Lock, func() error {
		var buildErr error
		result, buildErr = e.build(ctx, req, encrypt)
		return buildErr
	})
	return result, err
}

func (e *Engine) build(ctx context.Context, req BuildRequest, encrypt bool) (*BuildResult, error) {
	start := time.Now()
	if err := e.layout.Ensure(); err != nil {
		return nil, err
	}

	scan, err := e.Scan(ctx)
	if err != nil {
		return nil, err
	}

	res := &BuildResult{
		Incremental: req.Incremental,
		Encrypted:   encrypt,
		Compression: string(e.opts.Compression),
		Scanned:     scan.TotalScanned,
		Skipped:     scan.TotalSkipped,
	}
	for _, se := range scan.Errors {
		res.ScanErrors = append(res.ScanErrors, se.Error())
	}

	files := scan.Files
	var base *archive.BaseArchive
	var baseline []scanner.ScannedFile
	if req.Incremental {
		sel, err := e.selector.Select(e.layout.ArchiveDir(), scan.Files)
		if err != nil {
			return nil, err
		}
		res.Added, res.Modified = len(sel.Added), len(sel.Modified)
		res.Unchanged, res.Removed = len(sel.Unchanged), len(sel.Removed)
		if sel.Base != nil {
			res.Base = sel.Base.Name
		}
		if !sel.HasChanges() {
			res.NoChanges = true
			res.Duration = time.Since(start)
			e.logger.WithField("base", res.Base).Info("No changes since the last readable archive; nothing written")
			return res, nil
		}
		files = sel.Changed()
		base = sel.Base.Ref()
		baseline = scan.Files
	}

	now := e.now()
	date := now.Format("2006-01-02")
	version, err := e.layout.NextVersion(e.opts.ProjectName, date)
	if err != nil {
		return nil, errors.NewWriteError(e.layout.ArchiveDir(), err)
	}
	label := archive.Label(version, req.Incremental)

	body := archive.LoadRecords(e.opts.ProjectRoot, files)
	res.Vanished = len(body.Missing)

	notes := req.Notes
	if notes == "" {
		notes = e.opts.Notes
	}
	tags := req.Tags
	if len(tags) == 0 {
		tags = e.opts.Tags
	}

	manifest := archive.NewManifest(archive.BuildInfo{
		ProjectName:      e.opts.ProjectName,
		ProjectRoot:      e.opts.ProjectRoot,
		Hostname:         e.opts.Hostname,
		CreatedBy:        e.opts.CreatedBy,
		Version:          version,
		Incremental:      req.Incremental,
		Encrypted:        encrypt,
		Compression:      string(e.opts.Compression),
		RespectGitignore: e.opts.Filter.RespectGitignore,
		Skipped:          scan.TotalSkipped + len(body.Missing),
		Notes:            notes,
		Tags:             tags,
		Time:             now,
		Base:             base,
		Baseline:         baseline,
	}, body.Files())

	plaintext, err := archive.Encode(manifest, body)
	if err != nil {
		return nil, err
	}

	path := e.layout.ArchivePath(e.opts.ProjectName, date, label)
	written, err := e.writer.Write(path, plaintext, archive.WriteOptions{
		Compression: e.opts.Compression,
		Level:       e.opts.Level,
		Encrypt:     encrypt,
		Passphrase:  req.Passphrase,
	})
	if err != nil {
		return nil, err
	}

	res.Path = path
	res.Label = label
	res.Files = len(body.Blocks)
	res.TotalBytes = manifest.Stats.TotalBytes
	res.Written = written
	res.Duration = time.Since(start)

	e.writeLogs(date, label, body, scan)
	e.logger.LogArchiveWrite(path, res.Files, written, encrypt, nil)
	return res, nil
}

// writeLogs records the included and skipped paths of a build. Failures
// are logged; the archive is already in place.
func (e *Engine) writeLogs(date, label string, body *archive.Body, scan *scanner.Result) {
	includedPath, skippedPath := e.layout.LogPaths(date, label)

	included := make([]string, 0, len(body.Blocks))
	for _, blk := range body.Blocks {
		included = append(included, blk.Path)
	}
	skipped := append(append([]string{}, scan.Skipped...), body.Missing...)

	for path, lines := range map[string][]string{includedPath: included, skippedPath: skipped} {
		data := []byte(strings.Join(lines, "\n") + "\n")
		if err := fsutil.AtomicWriteFile(path, data, 0o644); err != nil {
			e.logger.WithField("path", path).Warnf("Failed to write build log: %v", err)
		}
	}
}
