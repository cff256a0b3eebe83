package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "jugaad-backup/internal/errors"
)

// Config holds the complete jugaad configuration
type Config struct {
	Project    ProjectConfig    `mapstructure:"project" yaml:"project"`
	Scan       ScanConfig       `mapstructure:"scan" yaml:"scan"`
	Archive    ArchiveConfig    `mapstructure:"archive" yaml:"archive"`
	Encryption EncryptionConfig `mapstructure:"encryption" yaml:"encryption"`
	Retention  RetentionConfig  `mapstructure:"retention" yaml:"retention"`
	Lock       LockConfig       `mapstructure:"lock" yaml:"lock"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Display    DisplayConfig    `mapstructure:"display" yaml:"display"`
	Watch      WatchConfig      `mapstructure:"watch" yaml:"watch"`
}

// ProjectConfig identifies the tree being backed up
type ProjectConfig struct {
	Name  string   `mapstructure:"name" yaml:"name"`
	Root  string   `mapstructure:"root" yaml:"root"`
	Notes string   `mapstructure:"notes" yaml:"notes"`
	Tags  []string `mapstructure:"tags" yaml:"tags"`
}

// ScanConfig controls file selection
type ScanConfig struct {
	RespectGitignore bool     `mapstructure:"respect_gitignore" yaml:"respect_gitignore"`
	ExtraIgnore      []string `mapstructure:"extra_ignore" yaml:"extra_ignore"`
	Include          []string `mapstructure:"include" yaml:"include"`
	Exclude          []string `mapstructure:"exclude" yaml:"exclude"`
	MinSize          int64    `mapstructure:"min_size" yaml:"min_size"`
	MaxSize          int64    `mapstructure:"max_size" yaml:"max_size"`
	ModifiedAfter    string   `mapstructure:"modified_after" yaml:"modified_after"`
	ModifiedBefore   string   `mapstructure:"modified_before" yaml:"modified_before"`
}

// ArchiveConfig controls archive output
type ArchiveConfig struct {
	Compression      string `mapstructure:"compression" yaml:"compression"`
	CompressionLevel int    `mapstructure:"compression_level" yaml:"compression_level"`
	CreatedBy        string `mapstructure:"created_by" yaml:"created_by"`
}

// EncryptionConfig controls the crypto envelope
type EncryptionConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	MachineID     string `mapstructure:"machine_id" yaml:"machine_id"`
	Iterations    int    `mapstructure:"iterations" yaml:"iterations"`
	PassphraseEnv string `mapstructure:"passphrase_env" yaml:"passphrase_env"`
}

// RetentionConfig defines archive rotation
type RetentionConfig struct {
	KeepCount int `mapstructure:"keep_count" yaml:"keep_count"`
	KeepDays  int `mapstructure:"keep_days" yaml:"keep_days"`
}

// LockConfig controls advisory lock acquisition
type LockConfig struct {
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// LoggingConfig controls the logrus logger and the audit trail
type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	File        string `mapstructure:"file" yaml:"file"`
	AuditLog    string `mapstructure:"audit_log" yaml:"audit_log"`
	EnableAudit bool   `mapstructure:"enable_audit" yaml:"enable_audit"`
}

// DisplayConfig controls terminal output
type DisplayConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled" yaml:"color_enabled"`
	Theme        string `mapstructure:"theme" yaml:"theme"`
	OutputFormat string `mapstructure:"output_format" yaml:"output_format"`
	TableStyle   string `mapstructure:"table_style" yaml:"table_style"`
	Icons        string `mapstructure:"icons" yaml:"icons"`
	Interactive  bool   `mapstructure:"interactive" yaml:"interactive"`
}

// WatchConfig controls the watch command
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

const (
	// DefaultIterations is the PBKDF2 iteration count
	DefaultIterations = 100000
	// DefaultPassphraseEnv is checked when no passphrase flag is given
	DefaultPassphraseEnv = "JUGAAD_PASSPHRASE"
	// DefaultCreatedBy is written to the manifest and the trailer
	DefaultCreatedBy = "v3nd377a.5y573m5"
)

// NewDefaultConfig returns a configuration with every default applied
func NewDefaultConfig() *Config {
	cfg := &Config{
		Scan:    ScanConfig{RespectGitignore: true},
		Display: DisplayConfig{ColorEnabled: true, Interactive: true},
	}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills unset values
func (c *Config) SetDefaults() {
	c.Archive.SetDefaults()
	c.Encryption.SetDefaults()
	c.Retention.SetDefaults()
	c.Lock.SetDefaults()
	c.Logging.SetDefaults()
	c.Display.SetDefaults()

	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = 2 * time.Second
	}
}

// Validate validates every section
func (c *Config) Validate() error {
	var errs apperrors.ValidationErrors

	c.Scan.validate(&errs)
	c.Archive.validate(&errs)
	c.Encryption.validate(&errs)
	c.Retention.validate(&errs)
	c.Lock.validate(&errs)
	c.Logging.validate(&errs)
	c.Display.validate(&errs)

	if c.Watch.Debounce < 0 {
		errs.Add("watch.debounce", "cannot be negative")
	}

	return errs.Err()
}

// LoadFromEnvironment overrides values from JUGAAD_* environment variables
func (c *Config) LoadFromEnvironment() {
	if val := os.Getenv("JUGAAD_PROJECT_NAME"); val != "" {
		c.Project.Name = val
	}
	if val := os.Getenv("JUGAAD_PROJECT_ROOT"); val != "" {
		c.Project.Root = val
	}
	if val := os.Getenv("JUGAAD_RESPECT_GITIGNORE"); val != "" {
		c.Scan.RespectGitignore = strings.ToLower(val) == "true"
	}

	c.Archive.LoadFromEnvironment()
	c.Encryption.LoadFromEnvironment()
	c.Retention.LoadFromEnvironment()

	if val := os.Getenv("JUGAAD_LOG_LEVEL"); val != "" {
		c.Logging.Level = strings.ToLower(val)
	}
	if val := os.Getenv("JUGAAD_LOG_FORMAT"); val != "" {
		c.Logging.Format = strings.ToLower(val)
	}
	if val := os.Getenv("JUGAAD_OUTPUT_FORMAT"); val != "" {
		c.Display.OutputFormat = strings.ToLower(val)
	}
	if val := os.Getenv("NO_COLOR"); val != "" {
		c.Display.ColorEnabled = false
	}
}

// CriteriaTimes parses the modification-time bounds of the scan section
func (s *ScanConfig) CriteriaTimes() (after, before time.Time, err error) {
	if s.ModifiedAfter != "" {
		if after, err = ParseDate(s.ModifiedAfter); err != nil {
			return after, before, err
		}
	}
	if s.ModifiedBefore != "" {
		if before, err = ParseDate(s.ModifiedBefore); err != nil {
			return after, before, err
		}
	}
	return after, before, nil
}

func (s *ScanConfig) validate(errs *apperrors.ValidationErrors) {
	if s.MinSize < 0 {
		errs.Add("scan.min_size", "cannot be negative")
	}
	if s.MaxSize < 0 {
		errs.Add("scan.max_size", "cannot be negative")
	}
	if s.MaxSize > 0 && s.MinSize > s.MaxSize {
		errs.Add("scan.min_size", "cannot exceed max_size")
	}
	if _, _, err := s.CriteriaTimes(); err != nil {
		errs.Add("scan.modified_after/before", err.Error())
	}
}

// SetDefaults sets default values for archive configuration
func (a *ArchiveConfig) SetDefaults() {
	if a.Compression == "" {
		a.Compression = "none"
	}
	if a.CompressionLevel == 0 {
		switch strings.ToLower(a.Compression) {
		case "gzip", "zlib":
			a.CompressionLevel = 6
		case "lz4":
			a.CompressionLevel = 1
		case "zstd":
			a.CompressionLevel = 3
		}
	}
	if a.CreatedBy == "" {
		a.CreatedBy = DefaultCreatedBy
	}
}

// LoadFromEnvironment loads archive configuration from environment variables
func (a *ArchiveConfig) LoadFromEnvironment() {
	if val := os.Getenv("JUGAAD_COMPRESSION"); val != "" {
		a.Compression = strings.ToLower(val)
	}
	if val := os.Getenv("JUGAAD_COMPRESSION_LEVEL"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			a.CompressionLevel = parsed
		}
	}
}

func (a *ArchiveConfig) validate(errs *apperrors.ValidationErrors) {
	switch strings.ToLower(a.Compression) {
	case "none", "":
	case "zlib", "gzip":
		if a.CompressionLevel < 1 || a.CompressionLevel > 9 {
			errs.Add("archive.compression_level", fmt.Sprintf("%s level must be between 1 and 9", a.Compression))
		}
	case "lz4":
		if a.CompressionLevel < 1 || a.CompressionLevel > 12 {
			errs.Add("archive.compression_level", "lz4 level must be between 1 and 12")
		}
	case "zstd":
		if a.CompressionLevel < 1 || a.CompressionLevel > 22 {
			errs.Add("archive.compression_level", "zstd level must be between 1 and 22")
		}
	default:
		errs.Add("archive.compression", fmt.Sprintf("invalid compression algorithm: %s", a.Compression))
	}
}

// SetDefaults sets default values for encryption configuration
func (e *EncryptionConfig) SetDefaults() {
	if e.Iterations == 0 {
		e.Iterations = DefaultIterations
	}
	if e.PassphraseEnv == "" {
		e.PassphraseEnv = DefaultPassphraseEnv
	}
}

// LoadFromEnvironment loads encryption configuration from environment variables
func (e *EncryptionConfig) LoadFromEnvironment() {
	if val := os.Getenv("JUGAAD_ENCRYPT"); val != "" {
		e.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("JUGAAD_MACHINE_ID"); val != "" {
		e.MachineID = val
	}
}

// Passphrase returns the passphrase from the configured environment variable
func (e *EncryptionConfig) Passphrase() string {
	if e.PassphraseEnv == "" {
		return ""
	}
	return os.Getenv(e.PassphraseEnv)
}

func (e *EncryptionConfig) validate(errs *apperrors.ValidationErrors) {
	if e.Iterations < 10000 {
		errs.Add("encryption.iterations", "must be at least 10000")
	}
}

// SetDefaults sets default values for retention configuration
func (r *RetentionConfig) SetDefaults() {
	if r.KeepCount == 0 && r.KeepDays == 0 {
		r.KeepCount = 10
		r.KeepDays = 30
	}
}

// LoadFromEnvironment loads retention configuration from environment variables
func (r *RetentionConfig) LoadFromEnvironment() {
	if val := os.Getenv("JUGAAD_KEEP_COUNT"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			r.KeepCount = parsed
		}
	}
	if val := os.Getenv("JUGAAD_KEEP_DAYS"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			r.KeepDays = parsed
		}
	}
}

func (r *RetentionConfig) validate(errs *apperrors.ValidationErrors) {
	if r.KeepCount < 0 {
		errs.Add("retention.keep_count", "cannot be negative")
	}
	if r.KeepDays < 0 {
		errs.Add("retention.keep_days", "cannot be negative")
	}
}

// SetDefaults sets default values for lock configuration
func (l *LockConfig) SetDefaults() {
	if l.Timeout == 0 {
		l.Timeout = 10 * time.Second
	}
	if l.RetryDelay == 0 {
		l.RetryDelay = 200 * time.Millisecond
	}
}

func (l *LockConfig) validate(errs *apperrors.ValidationErrors) {
	if l.Timeout < 0 {
		errs.Add("lock.timeout", "cannot be negative")
	}
	if l.RetryDelay <= 0 {
		errs.Add("lock.retry_delay", "must be positive")
	}
}

// SetDefaults sets default values for logging configuration
func (l *LoggingConfig) SetDefaults() {
	if l.Level == "" {
		l.Level = "normal"
	}
	if l.Format == "" {
		l.Format = "text"
	}
}

func (l *LoggingConfig) validate(errs *apperrors.ValidationErrors) {
	switch l.Level {
	case "quiet", "normal", "verbose", "debug":
	default:
		errs.Add("logging.level", fmt.Sprintf("invalid level: %s", l.Level))
	}
	switch l.Format {
	case "text", "json":
	default:
		errs.Add("logging.format", fmt.Sprintf("invalid format: %s", l.Format))
	}
}

// SetDefaults sets default values for display configuration
func (d *DisplayConfig) SetDefaults() {
	if d.Theme == "" {
		d.Theme = "auto"
	}
	if d.OutputFormat == "" {
		d.OutputFormat = "table"
	}
	if d.TableStyle == "" {
		d.TableStyle = "default"
	}
	if d.Icons == "" {
		d.Icons = "auto"
	}
}

func (d *DisplayConfig) validate(errs *apperrors.ValidationErrors) {
	switch d.OutputFormat {
	case "table", "json", "yaml", "toml":
	default:
		errs.Add("display.output_format", fmt.Sprintf("invalid output format: %s", d.OutputFormat))
	}
	switch d.Theme {
	case "auto", "dark", "light", "high-contrast":
	default:
		errs.Add("display.theme", fmt.Sprintf("invalid theme: %s", d.Theme))
	}
	switch d.TableStyle {
	case "default", "rounded", "minimal", "none":
	default:
		errs.Add("display.table_style", fmt.Sprintf("invalid table style: %s", d.TableStyle))
	}
	switch d.Icons {
	case "auto", "unicode", "ascii":
	default:
		errs.Add("display.icons", fmt.Sprintf("invalid icon mode: %s", d.Icons))
	}
}

// ParseDate parses RFC3339, YYYY-MM-DD, or a relative age such as 7d, 2w or 1m
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}

	if len(s) >= 2 {
		n, err := strconv.Atoi(s[:len(s)-1])
		if err == nil && n >= 0 {
			now := time.Now()
			switch s[len(s)-1] {
			case 'd':
				return now.AddDate(0, 0, -n), nil
			case 'w':
				return now.AddDate(0, 0, -7*n), nil
			case 'm':
				return now.AddDate(0, -n, 0), nil
			}
		}
	}

	return time.Time{}, fmt.Errorf("unsupported date format: %s (use RFC3339, YYYY-MM-DD, or relative like 7d, 2w, 1m)", s)
}
