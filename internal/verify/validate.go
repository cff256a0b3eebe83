package verify

import (
	"bytes"
	"fmt"
	"os"

	"jugaad-backup/internal/archive"
	"jugaad-backup/internal/envelope"
	"jugaad-backup/internal/errors"
)

var (
	startMarker = []byte("--- FILE START: ")
	endMarker   = []byte("--- FILE END: ")
)

// Validate checks the framing of an archive without comparing hashes:
// terminator present, marker counts balanced, block count equal to the
// manifest's declared count and the tokenizer succeeding end to end
func (v *Verifier) Validate(path string, opts Options) *ValidationReport {
	report := &ValidationReport{Archive: path, Valid: true, Errors: []string{}, Warnings: []string{}}

	info, err := os.Stat(path)
	if err != nil {
		report.addError("File does not exist")
		return report
	}
	report.Stats.FileSize = info.Size()
	report.Encrypted = envelope.IsEncryptedFile(path)

	if report.Encrypted && !opts.Decrypt {
		report.Warnings = append(report.Warnings, "Encrypted backup - limited validation")
		return report
	}

	plain, err := v.opener.ReadFile(path, opts.Passphrase)
	if err != nil {
		report.addError(errors.FormatUserError(err))
		return report
	}

	starts, ends := countMarkers(plain)
	report.Stats.StartMarkers = starts
	report.Stats.EndMarkers = ends

	a, err := archive.Parse(plain)
	if err != nil {
		report.addError(errors.FormatUserError(err))
		return report
	}
	report.Stats.Declared = a.Manifest.Stats.FilesIncluded
	report.Stats.FormatVersion = a.Manifest.Header.FormatVersion

	if a.Manifest.Header.FormatVersion == 0 {
		report.Warnings = append(report.Warnings, "Manifest has no format version tag (older release)")
	}
	if len(a.Manifest.Files) != a.Manifest.Stats.FilesIncluded {
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"Included Files lists %d entries but Files Included is %d", len(a.Manifest.Files), a.Manifest.Stats.FilesIncluded))
	}

	s := a.Blocks()
	unhashed := 0
	for s.Next() {
		report.Stats.Blocks++
		if s.Block().SHA256 == "" {
			unhashed++
		}
	}
	if err := s.Err(); err != nil {
		report.addError(errors.FormatUserError(err))
		return report
	}
	report.Stats.Skipped = len(s.Skipped())

	if report.Stats.Blocks != report.Stats.Declared {
		report.addError(fmt.Sprintf("Manifest declares %d files but the archive holds %d", report.Stats.Declared, report.Stats.Blocks))
	}
	if starts != ends {
		report.addError(fmt.Sprintf("Mismatched file markers: %d starts, %d ends", starts, ends))
	} else if starts != report.Stats.Blocks {
		report.Warnings = append(report.Warnings, "File content contains lines that look like block markers")
	}
	if unhashed > 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%d blocks have no stored hash", unhashed))
	}
	if report.Stats.Skipped > 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%d files vanished while the archive was written", report.Stats.Skipped))
	}
	if s.Trailer() == nil {
		report.Warnings = append(report.Warnings, "Archive has no generator trailer")
	}

	return report
}

// countMarkers counts START and END marker lines in the whole archive
func countMarkers(data []byte) (starts, ends int) {
	for len(data) > 0 {
		line := data
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line, data = data[:i], data[i+1:]
		} else {
			data = nil
		}
		switch {
		case bytes.HasPrefix(line, startMarker):
			starts++
		case bytes.HasPrefix(line, endMarker):
			ends++
		}
	}
	return starts, ends
}
