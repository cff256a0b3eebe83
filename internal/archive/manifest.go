// Package archive implements the .3dev archive format: the manifest
// schema, the framing writer and the forward-cursor reader.
package archive

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"jugaad-backup/internal/errors"
	"jugaad-backup/internal/scanner"
)

const (
	// FormatVersion is the manifest schema version written by this release
	FormatVersion = 1

	Generator        = "Jugaad Backup"
	GeneratorVersion = "2.0.0"

	BackupTypeFull        = "Full"
	BackupTypeIncremental = "Incremental"

	// timestampLayout matches the ISO timestamps of earlier releases
	timestampLayout  = "2006-01-02T15:04:05.000000"
	backupTimeLayout = "2006-01-02_15-04-05"
)

// Manifest is the structured header of an archive
type Manifest struct {
	Header     ManifestHeader        `yaml:"::Jugaad Backup Metadata Manifest::"`
	Generation GenerationInfo        `yaml:"::Generation Info::"`
	Project    ProjectInfo           `yaml:"::Project Info::"`
	Stats      BackupStats           `yaml:"::Backup Stats::"`
	Base       *BaseArchive          `yaml:"::Base Archive::,omitempty"`
	Files      []scanner.ScannedFile `yaml:"Included Files"`
	Baseline   []scanner.ScannedFile `yaml:"Baseline Files,omitempty"`
}

// ManifestHeader carries the schema version. Archives from releases before
// the version tag decode with FormatVersion 0.
type ManifestHeader struct {
	FormatVersion int `yaml:"Format Version"`
}

type GenerationInfo struct {
	Generator        string `yaml:"Generator"`
	GeneratorVersion string `yaml:"Generator Version"`
	CreatedBy        string `yaml:"Created By"`
	Timestamp        string `yaml:"Generation Timestamp"`
	Date             string `yaml:"Generation Date"`
	Time             string `yaml:"Generation Time"`
	SourcePath       string `yaml:"Source Path"`
	SourceHostname   string `yaml:"Source Hostname"`
	BackupType       string `yaml:"Backup Type"`
	Encrypted        bool   `yaml:"Encrypted"`
	Compression      string `yaml:"Compression,omitempty"`
	RespectGitignore bool   `yaml:"Respect Gitignore"`
}

type ProjectInfo struct {
	Name     string `yaml:"Project Name"`
	Root     string `yaml:"Project Root"`
	Hostname string `yaml:"Hostname"`
}

type BackupStats struct {
	BackupTime    string   `yaml:"Backup Time"`
	BackupVersion string   `yaml:"Backup Version"`
	FilesIncluded int      `yaml:"Files Included"`
	FilesSkipped  int      `yaml:"Files Skipped"`
	RepoSize      string   `yaml:"Repo Size"`
	TotalBytes    int64    `yaml:"Total Bytes"`
	Notes         string   `yaml:"Notes"`
	Tags          []string `yaml:"Tags"`
}

// BaseArchive names the archive an incremental build was compared against.
// It is informational; nothing merges an incremental with its base.
type BaseArchive struct {
	Name    string `yaml:"Name"`
	Version string `yaml:"Version"`
}

// BuildInfo is everything a build knows besides the file list
type BuildInfo struct {
	ProjectName      string
	ProjectRoot      string
	Hostname         string
	CreatedBy        string
	Version          int
	Incremental      bool
	Encrypted        bool
	Compression      string
	RespectGitignore bool
	Skipped          int
	Notes            string
	Tags             []string
	Time             time.Time
	Base             *BaseArchive
	Baseline         []scanner.ScannedFile
}

// NewManifest builds the manifest for the files that will be embedded
func NewManifest(info BuildInfo, files []scanner.ScannedFile) *Manifest {
	backupType := BackupTypeFull
	if info.Incremental {
		backupType = BackupTypeIncremental
	}

	var total int64
	for _, f := range files {
		total += f.Size
	}

	compression := info.Compression
	if compression == "none" {
		compression = ""
	}

	m := &Manifest{
		Header: ManifestHeader{FormatVersion: FormatVersion},
		Generation: GenerationInfo{
			Generator:        Generator,
			GeneratorVersion: GeneratorVersion,
			CreatedBy:        info.CreatedBy,
			Timestamp:        info.Time.Format(timestampLayout),
			Date:             info.Time.Format("2006-01-02"),
			Time:             info.Time.Format("15:04:05"),
			SourcePath:       info.ProjectRoot,
			SourceHostname:   info.Hostname,
			BackupType:       backupType,
			Encrypted:        info.Encrypted,
			Compression:      compression,
			RespectGitignore: info.RespectGitignore,
		},
		Project: ProjectInfo{
			Name:     info.ProjectName,
			Root:     info.ProjectRoot,
			Hostname: info.Hostname,
		},
		Stats: BackupStats{
			BackupTime:    info.Time.Format(backupTimeLayout),
			BackupVersion: Label(info.Version, info.Incremental),
			FilesIncluded: len(files),
			FilesSkipped:  info.Skipped,
			RepoSize:      HumanSize(total),
			TotalBytes:    total,
			Notes:         info.Notes,
			Tags:          info.Tags,
		},
		Files: files,
	}

	if m.Stats.Tags == nil {
		m.Stats.Tags = []string{}
	}
	if m.Files == nil {
		m.Files = []scanner.ScannedFile{}
	}
	if info.Incremental {
		m.Base = info.Base
		m.Baseline = info.Baseline
	}
	return m
}

// IsIncremental reports whether the archive holds only changed files
func (m *Manifest) IsIncremental() bool {
	return m.Generation.BackupType == BackupTypeIncremental
}

// FileMap returns the path -> file record map used for diffing and as an
// incremental base. Baseline Files win over Included Files when present.
func (m *Manifest) FileMap() map[string]scanner.ScannedFile {
	files := m.Files
	if len(m.Baseline) > 0 {
		files = m.Baseline
	}
	out := make(map[string]scanner.ScannedFile, len(files))
	for _, f := range files {
		out[f.Path] = f
	}
	return out
}

// IncludedMap returns only the files embedded in this archive
func (m *Manifest) IncludedMap() map[string]scanner.ScannedFile {
	out := make(map[string]scanner.ScannedFile, len(m.Files))
	for _, f := range m.Files {
		out[f.Path] = f
	}
	return out
}

// Marshal renders the manifest block, without the terminator
func (m *Manifest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, errors.NewFormatError("failed to encode manifest", err)
	}
	if err := enc.Close(); err != nil {
		return nil, errors.NewFormatError("failed to encode manifest", err)
	}
	return bytes.TrimSpace(buf.Bytes()), nil
}

// UnmarshalManifest decodes a manifest block. Unknown keys are ignored.
func UnmarshalManifest(data []byte) (*Manifest, error) {
	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, errors.NewFormatError("manifest is not valid YAML", err)
	}
	if m.Header.FormatVersion > FormatVersion {
		return nil, errors.NewFormatError(
			fmt.Sprintf("unsupported manifest format version %d", m.Header.FormatVersion), nil)
	}
	return m, nil
}

// HumanSize renders a byte count with one decimal, 1024-based
func HumanSize(n int64) string {
	size := float64(n)
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB"} {
		if size < 1024 {
			return fmt.Sprintf("%.1f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.1f PB", size)
}
