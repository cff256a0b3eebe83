// Package verify checks archive integrity: per-file hashes and the
// structural consistency of the framing.
package verify

import (
	"jugaad-backup/internal/archive"
	"jugaad-backup/internal/envelope"
	"jugaad-backup/internal/errors"
	"jugaad-backup/internal/logging"
	"jugaad-backup/internal/scanner"
)

// Status is the overall outcome of a verification
type Status string

const (
	StatusPassed   Status = "passed"
	StatusFailed   Status = "failed"
	StatusDeferred Status = "deferred"
	StatusError    Status = "error"
)

// DeferredMessage explains a skipped encrypted archive
const DeferredMessage = "unverifiable without the passphrase"

// FileResult is the hash check of one block
type FileResult struct {
	Path     string `json:"path" yaml:"path" toml:"path"`
	Expected string `json:"expected,omitempty" yaml:"expected,omitempty" toml:"expected,omitempty"`
	Actual   string `json:"actual" yaml:"actual" toml:"actual"`
	Valid    bool   `json:"valid" yaml:"valid" toml:"valid"`
}

// Report is the result of Verify. It is always returned, never an error.
type Report struct {
	Archive   string       `json:"archive" yaml:"archive" toml:"archive"`
	Status    Status       `json:"status" yaml:"status" toml:"status"`
	Encrypted bool         `json:"encrypted" yaml:"encrypted" toml:"encrypted"`
	Message   string       `json:"message,omitempty" yaml:"message,omitempty" toml:"message,omitempty"`
	Total     int          `json:"total" yaml:"total" toml:"total"`
	Passed    int          `json:"passed" yaml:"passed" toml:"passed"`
	Failed    int          `json:"failed" yaml:"failed" toml:"failed"`
	Unhashed  int          `json:"unhashed" yaml:"unhashed" toml:"unhashed"`
	Files     []FileResult `json:"files" yaml:"files" toml:"files"`
}

// OK reports whether every file passed
func (r *Report) OK() bool {
	return r.Status == StatusPassed
}

// Options controls access to encrypted archives
type Options struct {
	// Decrypt opens encrypted archives instead of deferring them
	Decrypt    bool
	Passphrase string
}

// Verifier checks archives
type Verifier struct {
	opener *archive.Opener
	logger *logging.Logger
}

// NewVerifier creates a verifier
func NewVerifier(opener *archive.Opener, logger *logging.Logger) *Verifier {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Verifier{opener: opener, logger: logger}
}

// Verify recomputes the SHA-256 of every block and compares it with the
// stored hash. Blocks without a stored hash are trivially valid.
func (v *Verifier) Verify(path string, opts Options) *Report {
	report := &Report{Archive: path, Encrypted: envelope.IsEncryptedFile(path)}

	if report.Encrypted && !opts.Decrypt {
		report.Status = StatusDeferred
		report.Message = DeferredMessage
		return report
	}

	a, err := v.opener.Open(path, opts.Passphrase)
	if err != nil {
		report.Status = StatusError
		report.Message = errors.FormatUserError(err)
		v.logger.WithField("archive", path).Warnf("Verification aborted: %v", err)
		return report
	}

	v.check(a, report)
	v.logger.WithFields(map[string]interface{}{
		"archive": path,
		"status":  report.Status,
		"passed":  report.Passed,
		"failed":  report.Failed,
	}).Info("Archive verified")
	return report
}

// VerifyArchive checks an already parsed archive
func (v *Verifier) VerifyArchive(a *archive.Archive) *Report {
	report := &Report{}
	v.check(a, report)
	return report
}

func (v *Verifier) check(a *archive.Archive, report *Report) {
	blocks, err := a.ReadAll()
	if err != nil {
		report.Status = StatusError
		report.Message = errors.FormatUserError(err)
		return
	}

	for _, blk := range blocks {
		res := FileResult{Path: blk.Path, Expected: blk.SHA256, Actual: scanner.HashBytes(blk.Content)}
		switch {
		case blk.SHA256 == "":
			res.Valid = true
			report.Unhashed++
		case blk.SHA256 == res.Actual:
			res.Valid = true
		}

		if res.Valid {
			report.Passed++
		} else {
			report.Failed++
		}
		report.Files = append(report.Files, res)
	}

	report.Total = len(blocks)
	report.Status = StatusPassed
	if report.Failed > 0 {
		report.Status = StatusFailed
	}
}

// ValidationStats are the counts gathered by Validate
type ValidationStats struct {
	StartMarkers  int   `json:"start_markers" yaml:"start_markers" toml:"start_markers"`
	EndMarkers    int   `json:"end_markers" yaml:"end_markers" toml:"end_markers"`
	Blocks        int   `json:"blocks" yaml:"blocks" toml:"blocks"`
	Declared      int   `json:"declared" yaml:"declared" toml:"declared"`
	Skipped       int   `json:"skipped_markers" yaml:"skipped_markers" toml:"skipped_markers"`
	FileSize      int64 `json:"file_size" yaml:"file_size" toml:"file_size"`
	FormatVersion int   `json:"format_version" yaml:"format_version" toml:"format_version"`
}

// ValidationReport is the structural check of an archive
type ValidationReport struct {
	Archive   string          `json:"archive" yaml:"archive" toml:"archive"`
	Valid     bool            `json:"valid" yaml:"valid" toml:"valid"`
	Encrypted bool            `json:"encrypted" yaml:"encrypted" toml:"encrypted"`
	Errors    []string        `json:"errors" yaml:"errors" toml:"errors"`
	Warnings  []string        `json:"warnings" yaml:"warnings" toml:"warnings"`
	Stats     ValidationStats `json:"stats" yaml:"stats" toml:"stats"`
}

func (r *ValidationReport) addError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Valid = false
}
