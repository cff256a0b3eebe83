package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"jugaad-backup/internal/application"
	"jugaad-backup/internal/config"
	"jugaad-backup/internal/display"
	appErrors "jugaad-backup/internal/errors"
)

var cfgFile string

// CLI flag variables
var (
	// Project flags
	projectDir string

	// Operation flags
	verbose     bool
	quiet       bool
	autoApprove bool
	passphrase  string
	logFile     string

	// Display flags
	noColor       bool
	theme         string
	outputFormat  string
	tableStyle    string
	noInteractive bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "jugaad",
	Short: "Back up a source tree into a single human-readable archive",
	Long: `Jugaad backs up a source-code project into one portable .3dev archive
and reconstructs the tree, or a flattened dump, from it.

Archives live in the project's .JugaadBKP directory. Each archive carries a
YAML manifest and one framed block per file with its SHA-256, so archives
can be verified, diffed and searched without restoring them. Archives can
be compressed and sealed with a passphrase.

Examples:
  # Full backup of the current project
  jugaad backup

  # Incremental backup holding only added and modified files
  jugaad backup --incremental

  # List archives and verify the newest one
  jugaad list
  jugaad verify latest

  # Restore an archive into a fresh directory tree
  jugaad rehydrate jugaad_2026-03-14_v1.3dev --mode tree

  # Machine-readable output
  jugaad list --format json`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var reported *reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", appErrors.FormatUserError(err))
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is jugaad.yaml in the project or "+config.ConfigDir()+")")
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "p", "", "project root (default is the nearest directory with a project marker)")

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().BoolVarP(&autoApprove, "yes", "y", false, "approve confirmations without prompting")
	rootCmd.PersistentFlags().StringVar(&passphrase, "passphrase", "", "archive passphrase (default is $"+config.DefaultPassphraseEnv+")")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file")

	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")
	rootCmd.PersistentFlags().StringVar(&theme, "theme", "", "color theme (auto, dark, light, high-contrast)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "", "output format (table, json, yaml, toml)")
	rootCmd.PersistentFlags().StringVar(&tableStyle, "table-style", "", "table style (default, rounded, minimal, none)")
	rootCmd.PersistentFlags().BoolVar(&noInteractive, "no-interactive", false, "never prompt for missing arguments")

	viper.BindPFlag("project.root", rootCmd.PersistentFlags().Lookup("project"))
	viper.BindPFlag("logging.file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("display.theme", rootCmd.PersistentFlags().Lookup("theme"))
	viper.BindPFlag("display.output_format", rootCmd.PersistentFlags().Lookup("format"))
	viper.BindPFlag("display.table_style", rootCmd.PersistentFlags().Lookup("table-style"))

	rootCmd.AddCommand(createVersionCommand())
	rootCmd.SetUsageTemplate(getUsageTemplate())
}

// initConfig sets up config file search and environment binding. The file
// itself is read when a command builds its application.
func initConfig() {
	config.NewLoaderFrom(viper.GetViper()).Setup(cfgFile, projectDir)
}

// reportedError marks an error already printed with troubleshooting hints
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// runEnv is what a command body gets: the wired application, a printer
// bound to the command's streams and a signal-aware context
type runEnv struct {
	ctx     context.Context
	cmd     *cobra.Command
	app     *application.Application
	printer *display.Printer
}

// validateFlags validates CLI flags and their combinations
func validateFlags() error {
	if verbose && quiet {
		return appErrors.NewValidationError("--verbose and --quiet flags are mutually exclusive", nil)
	}
	return nil
}

// loadConfig reads the configuration through the global viper instance
// and applies flags that have no config key of their own
func loadConfig() (*config.Config, string, error) {
	cfg, used, err := config.NewLoaderFrom(viper.GetViper()).Load()
	if err != nil {
		return nil, "", err
	}
	if noColor || os.Getenv("NO_COLOR") != "" {
		cfg.Display.ColorEnabled = false
	}
	if noInteractive {
		cfg.Display.Interactive = false
	}
	return cfg, used, nil
}

func newApp() (*application.Application, error) {
	if err := validateFlags(); err != nil {
		return nil, err
	}

	cfg, used, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if verbose && used != "" {
		fmt.Fprintln(os.Stderr, "Using config file:", used)
	}

	return application.NewApplication(application.Options{
		Config:      cfg,
		ConfigFile:  used,
		ProjectRoot: projectDir,
		Verbose:     verbose,
		Quiet:       quiet,
	})
}

func newPrinter(cmd *cobra.Command, cfg *config.Config) *display.Printer {
	return display.NewPrinter(display.Options{
		ColorEnabled: cfg.Display.ColorEnabled,
		Theme:        cfg.Display.Theme,
		Format:       display.ParseOutputFormat(cfg.Display.OutputFormat),
		TableStyle:   cfg.Display.TableStyle,
		Quiet:        quiet,
		Icons:        display.IconMode(cfg.Display.Icons),
		Out:          cmd.OutOrStdout(),
		Err:          cmd.ErrOrStderr(),
	})
}

// withApp wraps a command body with application setup, signal handling and
// error reporting
func withApp(fn func(env *runEnv, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, stop := app.Context(cmd.Context())
		defer stop()

		env := &runEnv{
			ctx:     ctx,
			cmd:     cmd,
			app:     app,
			printer: newPrinter(cmd, app.Config()),
		}
		if err := fn(env, args); err != nil {
			app.HandleError(cmd.ErrOrStderr(), err)
			return &reportedError{err: err}
		}
		return nil
	}
}

// splitList splits a comma-separated flag value, dropping empty entries
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getUsageTemplate returns a custom usage template with examples
func getUsageTemplate() string {
	return `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}

Available Commands:{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}

Archive references:
  An archive argument may be a file name in .JugaadBKP/Archive, a path,
  a name without the .3dev extension, or "latest".

Configuration File:
  Generate a sample configuration file with: jugaad config
`
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Long:  "Print the version information for jugaad",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "jugaad version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}
