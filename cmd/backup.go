package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"jugaad-backup/internal/archive"
	"jugaad-backup/internal/backup"
	"jugaad-backup/internal/filter"
)

// Backup command flags
var (
	backupIncremental bool
	backupEncrypt     bool
	backupNoEncrypt   bool
	backupNotes       string
	backupTags        string
)

// backupCmd writes a new archive
var backupCmd = &cobra.Command{
	Use:     "backup",
	Aliases: []string{"build"},
	Short:   "Create a full or incremental archive of the project",
	Long: `Scan the project and write a new .3dev archive to .JugaadBKP/Archive.

A full archive embeds every included file. An incremental archive embeds
only files added or modified since the newest readable archive and records
that archive as its base; when nothing changed no archive is written.

The backup directory is locked while the archive is built, so concurrent
builds of the same project are serialised.

Examples:
  # Full backup
  jugaad backup

  # Incremental backup with notes and tags
  jugaad backup --incremental --notes "before refactor" --tags wip,refactor

  # Sealed archive, passphrase read from $JUGAAD_PASSPHRASE
  jugaad backup --encrypt

  # Plain archive even when encryption is enabled in the config
  jugaad backup --no-encrypt`,
	Args: cobra.NoArgs,
	RunE: withApp(runBackup),
}

// estimateCmd predicts the archive size without hashing
var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate the size of a full backup",
	Long: `Walk the project with the backup filter and report how many files a
full backup would include, their total size and a rough archive size with
and without compression. Nothing is hashed or written.

Examples:
  # Size estimate as a table
  jugaad estimate

  # Per-extension breakdown as YAML
  jugaad estimate --format yaml`,
	Args: cobra.NoArgs,
	RunE: withApp(runEstimate),
}

func init() {
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(estimateCmd)

	backupCmd.Flags().BoolVarP(&backupIncremental, "incremental", "i", false, "only archive files changed since the newest archive")
	backupCmd.Flags().BoolVar(&backupEncrypt, "encrypt", false, "seal the archive with the crypto envelope")
	backupCmd.Flags().BoolVar(&backupNoEncrypt, "no-encrypt", false, "write a plain archive regardless of the config")
	backupCmd.Flags().StringVar(&backupNotes, "notes", "", "notes stored in the manifest (default from config)")
	backupCmd.Flags().StringVar(&backupTags, "tags", "", "comma-separated tags stored in the manifest")

	backupCmd.MarkFlagsMutuallyExclusive("encrypt", "no-encrypt")
}

// buildRequest maps the backup flags onto an engine request
func buildRequest(env *runEnv) backup.BuildRequest {
	req := backup.BuildRequest{
		Incremental: backupIncremental,
		Notes:       backupNotes,
		Tags:        splitList(backupTags),
	}

	switch {
	case backupEncrypt:
		v := true
		req.Encrypt = &v
	case backupNoEncrypt:
		v := false
		req.Encrypt = &v
	}

	encrypting := env.app.Config().Encryption.Enabled
	if req.Encrypt != nil {
		encrypting = *req.Encrypt
	}
	if encrypting {
		req.Passphrase = env.app.Passphrase(passphrase)
	}
	return req
}

func runBackup(env *runEnv, args []string) error {
	warnSensitiveEntries(env)

	spinner := env.printer.Spinner("Building archive of " + env.app.Engine().ProjectName())
	spinner.Start()
	result, err := env.app.Engine().Build(env.ctx, buildRequest(env))
	spinner.Stop()
	if err != nil {
		return err
	}
	return printBuildResult(env, result)
}

// warnSensitiveEntries points out secrets the .gitignore protects when
// gitignore handling is switched off
func warnSensitiveEntries(env *runEnv) {
	if env.app.Config().Scan.RespectGitignore {
		return
	}
	entries, err := filter.SensitiveEntries(env.app.Engine().ProjectRoot())
	if err != nil || len(entries) == 0 {
		return
	}
	env.printer.Warning("scan.respect_gitignore is off; .gitignore entries that look sensitive will be archived:")
	for _, e := range entries {
		env.printer.Warning("  %s", e)
	}
}

func printBuildResult(env *runEnv, res *backup.BuildResult) error {
	if ok, err := env.printer.Structured(res); ok {
		return err
	}

	p := env.printer
	if res.NoChanges {
		p.Info("No changes since %s, nothing written", res.Base)
		return nil
	}

	kind := "Full"
	if res.Incremental {
		kind = "Incremental"
	}
	p.Success("%s backup %s written", kind, res.Label)

	pairs := [][2]string{
		{"Archive", res.Path},
		{"Files", strconv.Itoa(res.Files)},
		{"Skipped", strconv.Itoa(res.Skipped)},
		{"Content", archive.HumanSize(res.TotalBytes)},
		{"Written", archive.HumanSize(res.Written)},
		{"Compression", res.Compression},
		{"Encrypted", strconv.FormatBool(res.Encrypted)},
		{"Duration", res.Duration.Round(time.Millisecond).String()},
	}
	if res.Incremental {
		base := res.Base
		if base == "" {
			base = "(none)"
		}
		pairs = append(pairs,
			[2]string{"Base", base},
			[2]string{"Changes", fmt.Sprintf("%d added, %d modified, %d unchanged, %d removed",
				res.Added, res.Modified, res.Unchanged, res.Removed)},
		)
	}
	p.KeyValues(pairs)

	if res.Vanished > 0 {
		p.Warning("%d files vanished between scan and write", res.Vanished)
	}
	for _, msg := range res.ScanErrors {
		p.Warning("%s", msg)
	}
	return nil
}

func runEstimate(env *runEnv, args []string) error {
	est, err := env.app.Engine().Estimate(env.ctx)
	if err != nil {
		return err
	}
	if ok, err := env.printer.Structured(est); ok {
		return err
	}

	p := env.printer
	p.Header("Backup estimate: " + est.Root)
	p.KeyValues([][2]string{
		{"Files", strconv.Itoa(est.Files)},
		{"Skipped", strconv.Itoa(est.Skipped)},
		{"Content", archive.HumanSize(est.TotalBytes)},
		{"Archive", "~" + archive.HumanSize(est.EstimatedArchive)},
		{"Compressed", "~" + archive.HumanSize(est.EstimatedCompacted)},
	})

	if len(est.ByExtension) == 0 {
		return nil
	}
	p.Println()
	t := p.NewTable()
	t.SetHeaders("Extension", "Files", "Size")
	for _, ext := range est.ByExtension {
		t.AddRow(ext.Extension, strconv.Itoa(ext.Files), archive.HumanSize(ext.Bytes))
	}
	return p.PrintTable(t)
}
