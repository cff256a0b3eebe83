package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// AppName names the config directory, the config file and the env prefix
const AppName = "jugaad"

// Loader reads configuration through viper
type Loader struct {
	viper *viper.Viper
}

// NewLoader creates a loader over a fresh viper instance
func NewLoader() *Loader {
	return &Loader{viper: viper.New()}
}

// NewLoaderFrom wraps an existing viper instance, typically the global one
// that cobra flags are bound to
func NewLoaderFrom(v *viper.Viper) *Loader {
	return &Loader{viper: v}
}

// Viper exposes the underlying viper instance
func (l *Loader) Viper() *viper.Viper {
	return l.viper
}

// ConfigDir returns $XDG_CONFIG_HOME/jugaad
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// StateDir returns $XDG_STATE_HOME/jugaad
func StateDir() string {
	return filepath.Join(xdg.StateHome, AppName)
}

// DefaultAuditLogPath returns the default audit log location
func DefaultAuditLogPath() string {
	return filepath.Join(StateDir(), "audit.log")
}

// Setup configures search paths and environment binding
func (l *Loader) Setup(configFile, projectDir string) {
	if configFile != "" {
		l.viper.SetConfigFile(configFile)
	} else {
		l.viper.SetConfigName(AppName)
		l.viper.SetConfigType("yaml")
		if projectDir != "" {
			l.viper.AddConfigPath(projectDir)
		}
		l.viper.AddConfigPath(".")
		l.viper.AddConfigPath(ConfigDir())
	}

	l.viper.SetEnvPrefix(strings.ToUpper(AppName))
	l.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.viper.AutomaticEnv()
	l.setDefaults()
}

func (l *Loader) setDefaults() {
	def := NewDefaultConfig()

	l.viper.SetDefault("scan.respect_gitignore", def.Scan.RespectGitignore)
	l.viper.SetDefault("archive.compression", def.Archive.Compression)
	l.viper.SetDefault("archive.created_by", def.Archive.CreatedBy)
	l.viper.SetDefault("encryption.iterations", def.Encryption.Iterations)
	l.viper.SetDefault("encryption.passphrase_env", def.Encryption.PassphraseEnv)
	l.viper.SetDefault("retention.keep_count", def.Retention.KeepCount)
	l.viper.SetDefault("retention.keep_days", def.Retention.KeepDays)
	l.viper.SetDefault("lock.timeout", def.Lock.Timeout)
	l.viper.SetDefault("lock.retry_delay", def.Lock.RetryDelay)
	l.viper.SetDefault("logging.level", def.Logging.Level)
	l.viper.SetDefault("logging.format", def.Logging.Format)
	l.viper.SetDefault("display.color_enabled", def.Display.ColorEnabled)
	l.viper.SetDefault("display.theme", def.Display.Theme)
	l.viper.SetDefault("display.output_format", def.Display.OutputFormat)
	l.viper.SetDefault("display.table_style", def.Display.TableStyle)
	l.viper.SetDefault("display.icons", def.Display.Icons)
	l.viper.SetDefault("display.interactive", def.Display.Interactive)
	l.viper.SetDefault("watch.debounce", def.Watch.Debounce)
}

// Load reads the config file if present, applies environment overrides and
// defaults, and validates the result. The returned path is empty when no
// config file was found.
func (l *Loader) Load() (*Config, string, error) {
	if err := l.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, "", fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := l.viper.Unmarshal(cfg); err != nil {
		return nil, "", fmt.Errorf("failed to decode configuration: %w", err)
	}

	cfg.LoadFromEnvironment()
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}

	return cfg, l.viper.ConfigFileUsed(), nil
}

// WriteConfig writes cfg as YAML, creating parent directories
func WriteConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}

// GenerateConfigTemplate returns an annotated configuration template
func GenerateConfigTemplate() string {
	return `# jugaad configuration
# Searched in the project directory, the working directory and
# ` + ConfigDir() + `

project:
  name: ""                  # Defaults to the project directory name
  root: ""                  # Defaults to the detected project root
  notes: ""                 # Free text stored in every manifest
  tags: []                  # Labels stored in every manifest

scan:
  respect_gitignore: true   # Apply the project .gitignore on top of the built-in list
  extra_ignore: []          # Additional gitignore-style patterns
  include: []               # Only archive files matching these globs
  exclude: []               # Never archive files matching these globs
  min_size: 0               # Bytes, 0 = no lower bound
  max_size: 0               # Bytes, 0 = no upper bound
  modified_after: ""        # RFC3339, YYYY-MM-DD or relative (7d, 2w, 1m)
  modified_before: ""

archive:
  compression: none         # none, zlib, gzip, lz4, zstd
  compression_level: 0      # Algorithm default when 0
  created_by: ` + DefaultCreatedBy + `

encryption:
  enabled: false            # Seal new archives with the crypto envelope
  machine_id: ""            # Override the machine fingerprint
  iterations: 100000        # PBKDF2 iterations
  passphrase_env: JUGAAD_PASSPHRASE

retention:
  keep_count: 10            # Newest archives always kept
  keep_days: 30             # Older archives beyond keep_count are deleted

lock:
  timeout: 10s
  retry_delay: 200ms

logging:
  level: normal             # quiet, normal, verbose, debug
  format: text              # text, json
  file: ""
  audit_log: ""             # Defaults to ` + DefaultAuditLogPath() + `
  enable_audit: false

display:
  color_enabled: true
  theme: auto               # auto, dark, light, high-contrast
  output_format: table      # table, json, yaml, toml
  table_style: default      # default, rounded, minimal, none
  icons: auto               # auto, unicode, ascii
  interactive: true         # Prompt for missing arguments on a terminal

watch:
  debounce: 2s

# Environment overrides:
#   JUGAAD_PROJECT_NAME, JUGAAD_PROJECT_ROOT, JUGAAD_RESPECT_GITIGNORE,
#   JUGAAD_COMPRESSION, JUGAAD_COMPRESSION_LEVEL, JUGAAD_ENCRYPT,
#   JUGAAD_MACHINE_ID, JUGAAD_KEEP_COUNT, JUGAAD_KEEP_DAYS,
#   JUGAAD_LOG_LEVEL, JUGAAD_LOG_FORMAT, JUGAAD_OUTPUT_FORMAT, NO_COLOR
`
}

// ParseDuration accepts Go durations and a plain day count such as "30d"
func ParseDuration(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}
