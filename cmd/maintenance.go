package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"jugaad-backup/internal/archive"
	"jugaad-backup/internal/backup"
	"jugaad-backup/internal/config"
)

// Maintenance command flags
var (
	rotateDryRun  bool
	watchDebounce time.Duration
)

// rotateCmd applies the retention policy
var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Delete old archives according to the retention policy",
	Long: `Apply the retention policy to the archive directory. The newest
retention.keep_count archives are always kept; older ones are deleted only
when they are older than retention.keep_days.

Examples:
  # Show what would be deleted
  jugaad rotate --dry-run

  # Rotate now
  jugaad rotate`,
	Args: cobra.NoArgs,
	RunE: withApp(runRotate),
}

// flushCmd removes the backup directory
var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Remove the whole backup directory",
	Long: `Delete .JugaadBKP with every archive, log, rehydrated tree and export
in it. This cannot be undone; the command asks for confirmation unless
--yes is given.

Examples:
  # Remove all backups of the project
  jugaad flush

  # Without confirmation, for scripts
  jugaad flush --yes`,
	Args: cobra.NoArgs,
	RunE: withApp(runFlush),
}

// watchCmd rebuilds on change
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Write incremental archives while the project changes",
	Long: `Watch the project tree and write an incremental archive once changes
settle. Ignored paths and the backup directory are not watched. Stop with
Ctrl+C.

Examples:
  # Watch with the configured debounce
  jugaad watch

  # Wait ten seconds of quiet before each build
  jugaad watch --debounce 10s`,
	Args: cobra.NoArgs,
	RunE: withApp(runWatch),
}

// doctorCmd checks readiness
var doctorCmd = &cobra.Command{
	Use:     "doctor",
	Aliases: []string{"init"},
	Short:   "Check the configuration and prepare the backup directory",
	Long: `Validate the configuration, check that the project is readable, create
the backup directory and check that it is writable. Warnings and
recommendations are printed for settings worth reviewing.

Examples:
  jugaad doctor`,
	Args: cobra.NoArgs,
	RunE: withApp(runDoctor),
}

func init() {
	rootCmd.AddCommand(rotateCmd)
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(doctorCmd)

	rotateCmd.Flags().BoolVar(&rotateDryRun, "dry-run", false, "show what would be deleted without deleting")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 0, "quiet period before a build (default from config)")
}

func runRotate(env *runEnv, args []string) error {
	result, err := env.app.Engine().Rotate(env.ctx, rotateDryRun)
	if err != nil {
		return err
	}
	if ok, err := env.printer.Structured(result); ok {
		return err
	}

	p := env.printer
	verb := "Deleted"
	if result.DryRun {
		verb = "Would delete"
	}
	if len(result.Deleted) == 0 {
		p.Info("Nothing to rotate: %d archives kept", len(result.Kept))
	} else {
		t := p.NewTable()
		t.SetHeaders("Archive", "Size", "Modified", "Reason")
		for _, c := range result.Deleted {
			t.AddRow(c.Name, archive.HumanSize(c.Size), c.ModTime.Format("2006-01-02 15:04"), c.Reason)
		}
		t.RenderTo(p.Out())
		p.Success("%s %d archives, %s reclaimed, %d kept",
			verb, len(result.Deleted), archive.HumanSize(result.Reclaimed), len(result.Kept))
	}
	for _, msg := range result.Errors {
		p.Error("%s", msg)
	}
	return nil
}

func runFlush(env *runEnv, args []string) error {
	layout := env.app.Engine().Layout()
	if !layout.Exists() {
		env.printer.Info("Nothing to flush: %s does not exist", layout.Root())
		return nil
	}

	infos, err := env.app.Engine().List()
	if err != nil {
		return err
	}
	summary := []string{
		fmt.Sprintf("Directory: %s", layout.Root()),
		fmt.Sprintf("Archives: %d", len(infos)),
	}
	details := make([]string, 0, len(infos))
	for _, info := range infos {
		details = append(details, fmt.Sprintf("%s  %s", info.Name, archive.HumanSize(info.Size)))
	}

	ok, err := newPrompter(env).Confirm("Delete the backup directory and everything in it?", summary, details, autoApprove)
	if err != nil || !ok {
		return err
	}

	if err := env.app.Engine().Flush(env.ctx); err != nil {
		return err
	}
	env.printer.Success("Removed %s", layout.Root())
	return nil
}

func runWatch(env *runEnv, args []string) error {
	debounce := watchDebounce
	if debounce <= 0 {
		debounce = env.app.Config().Watch.Debounce
	}

	env.printer.Info("Watching %s (debounce %s), press Ctrl+C to stop", env.app.Engine().ProjectRoot(), debounce)
	return env.app.Engine().Watch(env.ctx, backup.WatchOptions{
		Debounce:   debounce,
		Passphrase: env.app.Passphrase(passphrase),
		OnBuild: func(res *backup.BuildResult, err error) {
			if err != nil {
				env.app.HandleError(env.cmd.ErrOrStderr(), err)
				return
			}
			if res.NoChanges {
				return
			}
			env.printer.Success("%s: %d files (%d added, %d modified)",
				res.Label, res.Files, res.Added, res.Modified)
		},
	})
}

func runDoctor(env *runEnv, args []string) error {
	cfg := *env.app.Config()
	cfg.Project.Root = env.app.Engine().ProjectRoot()

	result := config.NewInitializer(&cfg, env.app.Engine().Layout().Root(), verbose).Initialize()
	if ok, err := env.printer.Structured(result); ok {
		if err != nil {
			return err
		}
		return doctorOutcome(result)
	}

	p := env.printer
	configFile := env.app.ConfigFile()
	if configFile == "" {
		configFile = "(defaults, no file found)"
	}
	p.Header("jugaad doctor")
	p.KeyValues([][2]string{
		{"Project", cfg.Project.Root},
		{"Backup dir", env.app.Engine().Layout().Root()},
		{"Config", configFile},
		{"Config valid", strconv.FormatBool(result.ConfigValid)},
		{"Project readable", strconv.FormatBool(result.ProjectReadable)},
		{"Storage ready", strconv.FormatBool(result.StorageReady)},
	})
	for _, e := range result.Errors {
		p.Error("%s", e)
	}
	for _, w := range result.Warnings {
		p.Warning("%s", w)
	}
	for _, r := range result.RecommendedFixes {
		p.Info("%s", r)
	}
	if result.Success {
		p.Success("Ready to back up")
	}
	return doctorOutcome(result)
}

func doctorOutcome(r *config.InitializationResult) error {
	if r.Success {
		return nil
	}
	return fmt.Errorf("%d readiness checks failed", len(r.Errors))
}
