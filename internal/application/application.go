// Package application is the composition root: it turns a loaded
// configuration into a logger, an audit trail and a backup engine.
package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"jugaad-backup/internal/backup"
	"jugaad-backup/internal/config"
	"jugaad-backup/internal/display"
	"jugaad-backup/internal/envelope"
	appErrors "jugaad-backup/internal/errors"
	"jugaad-backup/internal/filter"
	"jugaad-backup/internal/lock"
	"jugaad-backup/internal/logging"
	"jugaad-backup/internal/retention"
	"jugaad-backup/internal/scanner"
)

// Options are the command-line overrides applied on top of the config
type Options struct {
	Config      *config.Config
	ConfigFile  string
	ProjectRoot string
	Verbose     bool
	Quiet       bool
	// LogOutput defaults to stderr
	LogOutput io.Writer
	Now       func() time.Time
}

// Application wires every component for one CLI invocation
type Application struct {
	config          *config.Config
	configFile      string
	engine          *backup.Engine
	logger          *logging.Logger
	audit           *backup.AuditLogger
	colors          display.ColorSystem
	shutdownHandler *appErrors.GracefulShutdownHandler
}

// NewApplication creates a new application instance
func NewApplication(opts Options) (*Application, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}

	level := logging.LogLevel(cfg.Logging.Level)
	if opts.Quiet {
		level = logging.LogLevelQuiet
	} else if opts.Verbose && level != logging.LogLevelDebug {
		level = logging.LogLevelVerbose
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:   level,
		Output:  opts.LogOutput,
		Format:  cfg.Logging.Format,
		LogFile: cfg.Logging.File,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	audit, err := backup.NewAuditLogger(backup.AuditConfig{
		Logger:       logger,
		AuditLogFile: auditPath(cfg),
		Enabled:      cfg.Logging.EnableAudit,
	})
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("failed to create audit logger: %w", err)
	}

	root, err := resolveRoot(opts.ProjectRoot, cfg.Project.Root)
	if err != nil {
		audit.Close()
		logger.Close()
		return nil, err
	}

	engineOpts, err := EngineOptions(cfg, root)
	if err != nil {
		audit.Close()
		logger.Close()
		return nil, err
	}
	engineOpts.Logger = logger
	engineOpts.Audit = audit
	engineOpts.Now = opts.Now

	engine, err := backup.NewEngine(engineOpts)
	if err != nil {
		audit.Close()
		logger.Close()
		return nil, err
	}

	app := &Application{
		config:          cfg,
		configFile:      opts.ConfigFile,
		engine:          engine,
		logger:          logger,
		audit:           audit,
		colors:          display.NewColorSystem(cfg.Display.Theme, cfg.Display.ColorEnabled, os.Stdout),
		shutdownHandler: appErrors.NewGracefulShutdownHandler(),
	}

	logger.WithFields(map[string]interface{}{
		"project":        engine.ProjectName(),
		"root":           engine.ProjectRoot(),
		"config_file":    opts.ConfigFile,
		"correlation_id": audit.CorrelationID(),
	}).Debug("Application initialized")

	return app, nil
}

// EngineOptions maps the configuration onto engine options for root
func EngineOptions(cfg *config.Config, root string) (backup.Options, error) {
	compression, err := envelope.ParseCompressionType(cfg.Archive.Compression)
	if err != nil {
		return backup.Options{}, err
	}

	criteria, err := scanCriteria(&cfg.Scan)
	if err != nil {
		return backup.Options{}, err
	}

	return backup.Options{
		ProjectRoot: root,
		ProjectName: cfg.Project.Name,
		CreatedBy:   cfg.Archive.CreatedBy,
		Notes:       cfg.Project.Notes,
		Tags:        cfg.Project.Tags,
		Filter: filter.Options{
			RespectGitignore: cfg.Scan.RespectGitignore,
			ExtraIgnore:      cfg.Scan.ExtraIgnore,
			Criteria:         criteria,
		},
		Compression: compression,
		Level:       cfg.Archive.CompressionLevel,
		Encrypt:     cfg.Encryption.Enabled,
		Sealer:      envelope.NewSealer(cfg.Encryption.MachineID, cfg.Encryption.Iterations),
		Retention:   retention.Policy{KeepCount: cfg.Retention.KeepCount, KeepDays: cfg.Retention.KeepDays},
		Lock:        lock.Options{Timeout: cfg.Lock.Timeout, RetryDelay: cfg.Lock.RetryDelay},
	}, nil
}

func scanCriteria(s *config.ScanConfig) (*filter.Criteria, error) {
	after, before, err := s.CriteriaTimes()
	if err != nil {
		return nil, appErrors.NewConfigurationError("invalid scan date bound", err)
	}
	c := &filter.Criteria{
		Include:        s.Include,
		Exclude:        s.Exclude,
		MinSize:        s.MinSize,
		MaxSize:        s.MaxSize,
		ModifiedAfter:  after,
		ModifiedBefore: before,
	}
	if c.IsZero() {
		return nil, nil
	}
	return c, nil
}

func auditPath(cfg *config.Config) string {
	if cfg.Logging.AuditLog != "" {
		return cfg.Logging.AuditLog
	}
	return config.DefaultAuditLogPath()
}

// resolveRoot prefers the flag, then the config, then the nearest project
// marker above the working directory
func resolveRoot(flag, configured string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if configured != "" {
		return configured, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", appErrors.NewConfigurationError("cannot determine working directory", err)
	}
	return scanner.DetectProjectRoot(wd)
}

// Engine returns the backup engine
func (app *Application) Engine() *backup.Engine {
	return app.engine
}

// Config returns the effective configuration
func (app *Application) Config() *config.Config {
	return app.config
}

// ConfigFile returns the config file in use, or ""
func (app *Application) ConfigFile() string {
	return app.configFile
}

// GetLogger returns the application logger
func (app *Application) GetLogger() *logging.Logger {
	return app.logger
}

// Colors returns the color system for stdout
func (app *Application) Colors() display.ColorSystem {
	return app.colors
}

// OutputFormat returns the configured output format
func (app *Application) OutputFormat() display.OutputFormat {
	return display.ParseOutputFormat(app.config.Display.OutputFormat)
}

// Passphrase resolves the passphrase from the flag, then the configured
// environment variable
func (app *Application) Passphrase(flag string) string {
	if flag != "" {
		return flag
	}
	return app.config.Encryption.Passphrase()
}

// Context returns a context that is cancelled on SIGINT or SIGTERM. The
// returned stop function releases the signal handler.
func (app *Application) Context(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	ctx = logging.ContextWithCorrelationID(ctx, app.audit.CorrelationID())

	app.shutdownHandler.RegisterShutdownFunc(func() error {
		app.logger.Info("Received shutdown signal, stopping")
		cancel()
		return nil
	})
	app.shutdownHandler.Start()

	return ctx, func() {
		app.shutdownHandler.Stop()
		cancel()
	}
}

// HandleError prints a user-facing message and troubleshooting hints
func (app *Application) HandleError(w io.Writer, err error) {
	if err == nil {
		return
	}
	processed := appErrors.NewErrorClassifier().ClassifyError(err)
	fmt.Fprintf(w, "%s %s\n", app.colors.Colorize("Error:", app.colors.Theme().Error), appErrors.FormatUserError(processed))

	var appErr *appErrors.AppError
	if errors.As(processed, &appErr) {
		app.logger.WithFields(map[string]interface{}{
			"error_type":  string(appErr.Type),
			"recoverable": appErr.IsRecoverable(),
			"context":     appErr.Context,
		}).Debug("Command failed")

		if hints := TroubleshootingHints(appErr.Type); len(hints) > 0 {
			fmt.Fprintf(w, "\nTroubleshooting hints:\n- %s\n", strings.Join(hints, "\n- "))
		}
	}
}

// TroubleshootingHints returns advice for an error type
func TroubleshootingHints(t appErrors.ErrorType) []string {
	switch t {
	case appErrors.ErrorTypeDecryption:
		return []string{
			"Check the passphrase (flag or " + config.DefaultPassphraseEnv + ")",
			"Archives sealed without encryption.machine_id only open on the host that wrote them",
		}
	case appErrors.ErrorTypeLock:
		return []string{
			"Another jugaad process is working on this backup directory",
			"Raise lock.timeout if builds routinely take longer",
		}
	case appErrors.ErrorTypeFormat:
		return []string{
			"Run 'jugaad validate' on the archive for a structural report",
			"The file may be truncated or edited by hand",
		}
	case appErrors.ErrorTypeEncryptedInput:
		return []string{"Rehydrate or export the archive with its passphrase first"}
	case appErrors.ErrorTypePermission:
		return []string{"Check file permissions on the project and its .JugaadBKP directory"}
	case appErrors.ErrorTypeConfiguration, appErrors.ErrorTypeValidation:
		return []string{"Review the command line arguments", "Run 'jugaad doctor' to check the configuration"}
	}
	return nil
}

// Close releases the audit file and the log file
func (app *Application) Close() error {
	var errs []error
	if err := app.audit.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := app.logger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
