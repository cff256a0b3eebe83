package confirmation

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/ktr0731/go-fuzzyfinder"

	"jugaad-backup/internal/archive"
	"jugaad-backup/internal/errors"
)

// Picker chooses one archive out of a list
type Picker interface {
	Pick(prompt string, infos []archive.Info) (archive.Info, error)
}

// FuzzyPicker picks with an fzf-style finder and a manifest preview
type FuzzyPicker struct{}

// Pick shows the finder. Aborting returns an interruption error.
func (FuzzyPicker) Pick(prompt string, infos []archive.Info) (archive.Info, error) {
	if len(infos) == 0 {
		return archive.Info{}, errors.NewNotFoundError("archive to choose from", nil)
	}

	idx, err := fuzzyfinder.Find(
		infos,
		func(i int) string { return ArchiveLine(infos[i]) },
		fuzzyfinder.WithPromptString(prompt+"> "),
		fuzzyfinder.WithPreviewWindow(func(i, w, h int) string {
			if i == -1 {
				return ""
			}
			return ArchivePreview(infos[i])
		}),
	)
	if err != nil {
		if stderrors.Is(err, fuzzyfinder.ErrAbort) {
			return archive.Info{}, errors.NewAppError(errors.ErrorTypeInterruption, "selection aborted", err)
		}
		return archive.Info{}, errors.NewAppError(errors.ErrorTypeInterruption, "archive picker failed", err)
	}
	return infos[idx], nil
}

// ArchiveLine is the one-line label of an archive in the picker
func ArchiveLine(info archive.Info) string {
	flags := ""
	if info.Encrypted {
		flags += " [encrypted]"
	}
	if info.Compressed {
		flags += " [compressed]"
	}
	return fmt.Sprintf("%s  %s  %s%s", info.ModTime.Format("2006-01-02 15:04"), info.Name, archive.HumanSize(info.Size), flags)
}

// ArchivePreview describes an archive for the preview pane
func ArchivePreview(info archive.Info) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\nSize: %s\nVersion: %s\n", info.Name, archive.HumanSize(info.Size), info.Version())
	switch {
	case info.Encrypted:
		b.WriteString("\nEncrypted: manifest unavailable without the passphrase\n")
	case info.Manifest != nil:
		m := info.Manifest
		fmt.Fprintf(&b, "Project: %s\nCreated: %s\nType: %s\nFiles: %d\nRepo size: %s\n",
			m.Project.Name, m.Stats.BackupTime, m.Generation.BackupType, m.Stats.FilesIncluded, m.Stats.RepoSize)
		if m.Base != nil {
			fmt.Fprintf(&b, "Base: %s\n", m.Base.Name)
		}
		if m.Stats.Notes != "" {
			fmt.Fprintf(&b, "\nNotes:\n%s\n", m.Stats.Notes)
		}
	case info.Err != nil:
		fmt.Fprintf(&b, "\nUnreadable: %v\n", info.Err)
	}
	return b.String()
}
