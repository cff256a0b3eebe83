package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"jugaad-backup/internal/archive"
	"jugaad-backup/internal/diff"
	"jugaad-backup/internal/envelope"
	"jugaad-backup/internal/errors"
	"jugaad-backup/internal/export"
	"jugaad-backup/internal/fsutil"
	"jugaad-backup/internal/lock"
	"jugaad-backup/internal/rehydrate"
	"jugaad-backup/internal/retention"
	"jugaad-backup/internal/scanner"
	"jugaad-backup/internal/search"
	"jugaad-backup/internal/verify"
	"jugaad-backup/internal/workflow"
)

// LatestArchive is the archive reference that resolves to the newest archive
const LatestArchive = "latest"

// List returns the archives of the project, newest first
func (e *Engine) List() ([]archive.Info, error) {
	return e.opener.List(e.layout.ArchiveDir())
}

// ResolveArchive turns a reference into an archive path. A reference is a
// path, a file name inside the archive directory or "latest".
func (e *Engine) ResolveArchive(ref string) (string, error) {
	if ref == "" || ref == LatestArchive {
		infos, err := e.List()
		if err != nil {
			return "", err
		}
		if len(infos) == 0 {
			return "", errors.NewNotFoundError("archive in "+e.layout.ArchiveDir(), nil)
		}
		return infos[0].Path, nil
	}

	candidates := []string{ref}
	if !filepath.IsAbs(ref) && !strings.ContainsRune(ref, filepath.Separator) {
		candidates = append([]string{filepath.Join(e.layout.ArchiveDir(), ref)}, candidates...)
		if filepath.Ext(ref) != archive.Extension {
			candidates = append(candidates, filepath.Join(e.layout.ArchiveDir(), ref+archive.Extension))
		}
	}
	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && !fi.IsDir() {
			return c, nil
		}
	}
	return "", errors.NewNotFoundError("archive "+ref, nil)
}

// RehydrateRequest describes one rehydration
type RehydrateRequest struct {
	Archive    string
	Passphrase string
	Mode       rehydrate.Mode
	Output     string
	Only       []string
}

// Rehydrate restores an archive as a directory tree or a single flat file
func (e *Engine) Rehydrate(ctx context.Context, req RehydrateRequest) (result *rehydrate.Result, err error) {
	done := e.audit.Track(ctx, "rehydrate", req.Archive, map[string]interface{}{"mode": string(req.Mode)})
	defer func() {
		extra := map[string]interface{}{}
		if result != nil {
			extra["written"] = result.Written
			extra["rejected"] = result.Rejected
			extra["output"] = result.Output
		}
		done(err, extra)
	}()

	a, err := e.opener.Open(req.Archive, req.Passphrase)
	if err != nil {
		return nil, err
	}

	mode := req.Mode
	if mode == "" {
		mode = rehydrate.ModeTree
	}
	output := req.Output
	if output == "" {
		output = rehydrate.DefaultOutput(e.layout, a.Manifest, mode)
	}

	return rehydrate.NewRehydrator(e.logger).Rehydrate(ctx, a, rehydrate.Options{
		Mode:   mode,
		Output: output,
		Only:   req.Only,
	})
}

// Export writes the compact export of an archive and returns its path
func (e *Engine) Export(ctx context.Context, path, passphrase, dir string) (out string, err error) {
	done := e.audit.Track(ctx, "export", path, nil)
	defer func() { done(err, map[string]interface{}{"output": out}) }()

	a, err := e.opener.Open(path, passphrase)
	if err != nil {
		return "", err
	}
	exporter := export.NewExporter(e.logger)
	data, err := exporter.Encode(ctx, a)
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir = e.layout.ExportDir()
	}
	return exporter.Save(dir, data)
}

// Verify checks the stored hashes of an archive
func (e *Engine) Verify(ctx context.Context, path string, opts verify.Options) *verify.Report {
	done := e.audit.Track(ctx, "verify", path, map[string]interface{}{"decrypt": opts.Decrypt})
	report := verify.NewVerifier(e.opener, e.logger).Verify(path, opts)

	var err error
	if report.Status == verify.StatusError {
		err = errors.NewFormatError(report.Message, nil)
	}
	done(err, map[string]interface{}{"status": string(report.Status), "failed": report.Failed})
	return report
}

// Validate checks the framing of an archive
func (e *Engine) Validate(ctx context.Context, path string, opts verify.Options) *verify.ValidationReport {
	done := e.audit.Track(ctx, "validate", path, nil)
	report := verify.NewVerifier(e.opener, e.logger).Validate(path, opts)
	done(nil, map[string]interface{}{"valid": report.Valid, "errors": len(report.Errors)})
	return report
}

// Diff compares the manifests of two plaintext archives
func (e *Engine) Diff(ctx context.Context, pathA, pathB string) (result *diff.Result, err error) {
	done := e.audit.Track(ctx, "diff", pathA, map[string]interface{}{"against": pathB})
	defer func() {
		extra := map[string]interface{}{}
		if result != nil {
			extra["added"] = result.Counts.Added
			extra["removed"] = result.Counts.Removed
			extra["modified"] = result.Counts.Modified
		}
		done(err, extra)
	}()
	return diff.Archives(e.opener, pathA, pathB)
}

// DiffWorkingTree compares an archive with the current state of the project
func (e *Engine) DiffWorkingTree(ctx context.Context, path string) (*diff.Result, error) {
	m, err := e.opener.ReadManifest(path)
	if err != nil {
		return nil, err
	}
	scan, err := e.Scan(ctx)
	if err != nil {
		return nil, err
	}

	current := make(map[string]scanner.ScannedFile, len(scan.Files))
	for _, f := range scan.Files {
		current[f.Path] = f
	}
	result := diff.Compare(m.FileMap(), current)
	result.From = path
	result.To = e.opts.ProjectRoot
	return result, nil
}

// Rotate applies the retention policy to the archive directory
func (e *Engine) Rotate(ctx context.Context, dryRun bool) (result *retention.Result, err error) {
	done := e.audit.Track(ctx, "rotate", "", map[string]interface{}{
		"keep_count": e.opts.Retention.KeepCount,
		"keep_days":  e.opts.Retention.KeepDays,
		"dry_run":    dryRun,
	})
	defer func() {
		extra := map[string]interface{}{}
		if result != nil {
			extra["deleted"] = len(result.Deleted)
			extra["reclaimed_bytes"] = result.Reclaimed
		}
		done(err, extra)
	}()

	manager := retention.NewManager(e.layout.ArchiveDir(), e.opts.Retention, e.logger)
	manager.SetClock(e.now)
	if dryRun {
		return manager.Apply(ctx, true)
	}
	err = lock.With(ctx, e.layout.LockPath(), e.opts.Lock, func() error {
		var applyErr error
		result, applyErr = manager.Apply(ctx, false)
		return applyErr
	})
	return result, err
}

// Flush deletes the whole backup directory. The lock is released before
// the directory that holds it is removed.
func (e *Engine) Flush(ctx context.Context) (err error) {
	done := e.audit.Track(ctx, "flush", "", map[string]interface{}{"dir": e.layout.Root()})
	defer func() { done(err, nil) }()

	if !e.layout.Exists() {
		return nil
	}
	l, err := lock.Acquire(ctx, e.layout.LockPath(), e.opts.Lock)
	if err != nil {
		return err
	}
	if err := l.Release(); err != nil {
		return err
	}
	if err := os.RemoveAll(e.layout.Root()); err != nil {
		return errors.NewWriteError(e.layout.Root(), err)
	}
	e.logger.WithField("dir", e.layout.Root()).Info("Backup directory flushed")
	return nil
}

// Search looks for a term in the contents of the newest plaintext archives
func (e *Engine) Search(ctx context.Context, term string, limit int) (result *search.Result, err error) {
	done := e.audit.Track(ctx, "search", "", map[string]interface{}{"term": term})
	defer func() {
		extra := map[string]interface{}{}
		if result != nil {
			extra["matches"] = result.Total
		}
		done(err, extra)
	}()

	if strings.TrimSpace(term) == "" {
		return nil, errors.NewValidationError("search term cannot be empty", nil)
	}
	searcher := search.NewSearcher(e.opener, e.logger)
	if limit > 0 {
		searcher.ArchiveLimit = limit
	}
	return searcher.Search(ctx, e.layout.ArchiveDir(), term)
}

// EncryptInPlace seals an existing plaintext archive with the passphrase,
// keeping any compression layer inside the envelope
func (e *Engine) EncryptInPlace(ctx context.Context, path, passphrase string) (err error) {
	done := e.audit.Track(ctx, "encrypt", path, nil)
	defer func() { done(err, nil) }()

	if e.opts.Sealer == nil {
		return errors.NewConfigurationError("encryption requested but no sealer configured", nil)
	}
	return lock.With(ctx, e.layout.LockPath(), e.opts.Lock, func() error {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return errors.NewNotFoundError("archive "+path, err)
			}
			return errors.NewErrorClassifier().ClassifyError(err)
		}
		if envelope.IsEncrypted(data) {
			return errors.NewConflictError("archive is already encrypted: " + path)
		}
		// refuse to seal something that is not an archive
		plain, err := e.opener.Decode(data, "")
		if err != nil {
			return err
		}
		if _, err := archive.Parse(plain); err != nil {
			return err
		}

		sealed, err := e.opts.Sealer.Seal(data, passphrase)
		if err != nil {
			return err
		}
		if err := fsutil.ReplaceFile(path, sealed); err != nil {
			return errors.NewWriteError(path, err)
		}
		e.logger.WithField("archive", path).Info("Archive encrypted in place")
		return nil
	})
}

// ExecuteResult carries the outcome of whichever operation a plan ran
type ExecuteResult struct {
	Rehydrate *rehydrate.Result
	Export    string
	Verify    *verify.Report
	Diff      *diff.Result
}

// Execute runs a plan produced by a finished workflow
func (e *Engine) Execute(ctx context.Context, plan workflow.Plan) (*ExecuteResult, error) {
	res := &ExecuteResult{}
	switch plan.Kind {
	case workflow.KindRehydrate:
		mode, err := rehydrate.ParseMode(plan.Mode)
		if err != nil {
			return nil, err
		}
		r, err := e.Rehydrate(ctx, RehydrateRequest{Archive: plan.Archive, Passphrase: plan.Passphrase, Mode: mode})
		if err != nil {
			return nil, err
		}
		res.Rehydrate = r
	case workflow.KindExport:
		out, err := e.Export(ctx, plan.Archive, plan.Passphrase, "")
		if err != nil {
			return nil, err
		}
		res.Export = out
	case workflow.KindVerify:
		res.Verify = e.Verify(ctx, plan.Archive, verify.Options{Decrypt: plan.Encrypted, Passphrase: plan.Passphrase})
	case workflow.KindDiff:
		d, err := e.Diff(ctx, plan.Archive, plan.Second)
		if err != nil {
			return nil, err
		}
		res.Diff = d
	case workflow.KindEncrypt:
		if err := e.EncryptInPlace(ctx, plan.Archive, plan.Passphrase); err != nil {
			return nil, err
		}
	default:
		return nil, errors.NewValidationError("unknown workflow: "+string(plan.Kind), nil)
	}
	return res, nil
}
