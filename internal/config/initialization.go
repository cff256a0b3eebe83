package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Initializer checks that a project is ready to be backed up
type Initializer struct {
	config    *Config
	backupDir string
	verbose   bool
}

// NewInitializer creates a new initializer for the given backup directory
func NewInitializer(config *Config, backupDir string, verbose bool) *Initializer {
	return &Initializer{
		config:    config,
		backupDir: backupDir,
		verbose:   verbose,
	}
}

// InitializationResult represents the result of a readiness check
type InitializationResult struct {
	Success          bool     `json:"success" yaml:"success" toml:"success"`
	ConfigValid      bool     `json:"config_valid" yaml:"config_valid" toml:"config_valid"`
	ProjectReadable  bool     `json:"project_readable" yaml:"project_readable" toml:"project_readable"`
	StorageReady     bool     `json:"storage_ready" yaml:"storage_ready" toml:"storage_ready"`
	Warnings         []string `json:"warnings" yaml:"warnings" toml:"warnings"`
	Errors           []string `json:"errors" yaml:"errors" toml:"errors"`
	RecommendedFixes []string `json:"recommended_fixes" yaml:"recommended_fixes" toml:"recommended_fixes"`
}

// Initialize validates configuration, creates the backup directory and
// checks that it is writable
func (in *Initializer) Initialize() *InitializationResult {
	result := &InitializationResult{
		Success:         true,
		ConfigValid:     true,
		ProjectReadable: true,
		StorageReady:    true,
	}

	if err := in.config.Validate(); err != nil {
		result.Success = false
		result.ConfigValid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Configuration validation failed: %v", err))
	}

	if err := in.checkProject(); err != nil {
		result.Success = false
		result.ProjectReadable = false
		result.Errors = append(result.Errors, err.Error())
	}

	if err := in.initializeStorage(); err != nil {
		result.Success = false
		result.StorageReady = false
		result.Errors = append(result.Errors, fmt.Sprintf("Backup directory not usable: %v", err))
	}

	in.checkEncryption(result)
	in.generateRecommendations(result)

	return result
}

func (in *Initializer) checkProject() error {
	root := in.config.Project.Root
	if root == "" {
		return fmt.Errorf("project root is not set")
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("cannot access project root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("project root is not a directory: %s", root)
	}
	return nil
}

// initializeStorage creates the backup directory and tests write permissions
func (in *Initializer) initializeStorage() error {
	if err := os.MkdirAll(in.backupDir, 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	testFile := filepath.Join(in.backupDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return fmt.Errorf("insufficient write permissions for backup directory: %w", err)
	}
	_ = os.Remove(testFile)

	if in.verbose {
		fmt.Printf("    Backup directory ready at: %s\n", in.backupDir)
	}
	return nil
}

func (in *Initializer) checkEncryption(result *InitializationResult) {
	enc := in.config.Encryption
	if !enc.Enabled {
		return
	}
	if enc.Passphrase() == "" {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Encryption is enabled but %s is not set; archives will be bound to this machine only", enc.PassphraseEnv))
		result.RecommendedFixes = append(result.RecommendedFixes,
			fmt.Sprintf("Set a passphrase: export %s=...", enc.PassphraseEnv))
	}
	if enc.MachineID != "" {
		result.Warnings = append(result.Warnings, "A fixed machine_id is configured; anyone with the config can derive the key without a passphrase")
	}
}

func (in *Initializer) generateRecommendations(result *InitializationResult) {
	if !in.config.Encryption.Enabled {
		result.RecommendedFixes = append(result.RecommendedFixes,
			"Consider enabling encryption for archives that leave this machine")
	}

	if in.config.Retention.KeepCount == 0 && in.config.Retention.KeepDays == 0 {
		result.RecommendedFixes = append(result.RecommendedFixes,
			"Configure retention to prevent unlimited archive growth")
	}

	if !in.config.Scan.RespectGitignore {
		result.Warnings = append(result.Warnings, "respect_gitignore is disabled; files excluded by .gitignore will be archived")
	}

	if in.config.Project.Root != "" && !insideDir(in.backupDir, in.config.Project.Root) {
		result.Warnings = append(result.Warnings, "Backup directory is outside the project root")
	}
}

func insideDir(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
