package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"jugaad-backup/internal/archive"
	"jugaad-backup/internal/confirmation"
	"jugaad-backup/internal/diff"
	"jugaad-backup/internal/display"
	appErrors "jugaad-backup/internal/errors"
	"jugaad-backup/internal/verify"
	"jugaad-backup/internal/workflow"
)

// Archive inspection flags
var (
	listLimit     int
	verifyDecrypt bool
	verifyAll     bool
	diffShowSame  bool
	searchLimit   int
)

// listCmd lists archives
var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List the archives of the project",
	Long: `List the archives in .JugaadBKP/Archive, newest first.

Plain archives show their version, type and file count from the manifest.
Encrypted archives are listed without opening them.

Examples:
  # List all archives
  jugaad list

  # The five most recent archives as JSON
  jugaad list --limit 5 --format json`,
	Args: cobra.NoArgs,
	RunE: withApp(runList),
}

// verifyCmd checks per-file hashes
var verifyCmd = &cobra.Command{
	Use:   "verify [archive]",
	Short: "Verify the file hashes of an archive",
	Long: `Recompute the SHA-256 of every file block and compare it with the hash
stored in the archive.

Encrypted archives are reported as deferred unless --decrypt is given.
Without an archive argument an archive is chosen interactively.

Examples:
  # Verify the newest archive
  jugaad verify latest

  # Verify every archive
  jugaad verify --all

  # Verify an encrypted archive
  jugaad verify proj_2026-03-14_v2.3dev --decrypt`,
	Args: cobra.MaximumNArgs(1),
	RunE: withApp(runVerify),
}

// validateCmd checks archive structure
var validateCmd = &cobra.Command{
	Use:   "validate [archive]",
	Short: "Check the structure of an archive",
	Long: `Check the framing of an archive: the manifest, balanced file markers and
the declared file count. File contents are not hashed; use verify for that.

Examples:
  # Validate the newest archive
  jugaad validate

  # Validate an encrypted archive
  jugaad validate proj_2026-03-14_v2.3dev --decrypt`,
	Args: cobra.MaximumNArgs(1),
	RunE: withApp(runValidate),
}

// diffCmd compares two archives, or an archive with the working tree
var diffCmd = &cobra.Command{
	Use:   "diff [archive] [other]",
	Short: "Compare two archives or an archive with the project",
	Long: `Compare the file lists of two archives by path and hash. With one
archive the comparison is against the current project tree. Without
arguments both archives are chosen interactively.

Encrypted archives cannot be compared.

Examples:
  # What changed since the newest archive
  jugaad diff latest

  # Compare two archives
  jugaad diff proj_2026-03-10_v1 proj_2026-03-14_v1`,
	Args: cobra.MaximumNArgs(2),
	RunE: withApp(runDiff),
}

// searchCmd greps archive contents
var searchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Search the contents of recent archives",
	Long: `Search the file contents of the most recent plain archives for a term,
case-insensitively, and show each hit with surrounding context.

Examples:
  # Find where a function was defined in past backups
  jugaad search "def load_config"

  # Search the twenty most recent archives
  jugaad search TODO --archives 20`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(runSearch),
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(searchCmd)

	listCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of archives to show (0 = all)")

	verifyCmd.Flags().BoolVar(&verifyDecrypt, "decrypt", false, "decrypt encrypted archives instead of deferring them")
	verifyCmd.Flags().BoolVar(&verifyAll, "all", false, "verify every archive")
	validateCmd.Flags().BoolVar(&verifyDecrypt, "decrypt", false, "decrypt encrypted archives before validating")

	diffCmd.Flags().BoolVar(&diffShowSame, "unchanged", false, "also list unchanged files")

	searchCmd.Flags().IntVar(&searchLimit, "archives", 0, "number of recent archives searched (default 10)")
}

func runList(env *runEnv, args []string) error {
	infos, err := env.app.Engine().List()
	if err != nil {
		return err
	}
	if listLimit > 0 && len(infos) > listLimit {
		infos = infos[:listLimit]
	}

	p := env.printer
	if len(infos) == 0 && !p.Format().IsStructured() {
		p.Info("No archives in %s", env.app.Engine().Layout().ArchiveDir())
		return nil
	}

	t := p.NewTable()
	t.SetHeaders("Archive", "Version", "Type", "Files", "Size", "Modified", "Flags")
	for _, info := range infos {
		kind, files := "?", "?"
		if m := info.Manifest; m != nil {
			kind = m.Generation.BackupType
			files = strconv.Itoa(m.Stats.FilesIncluded)
		}
		t.AddRow(info.Name, info.Version(), kind, files, archive.HumanSize(info.Size),
			info.ModTime.Format("2006-01-02 15:04"), archiveFlags(info))
	}
	return p.PrintTable(t)
}

func archiveFlags(info archive.Info) string {
	switch {
	case info.Encrypted:
		return "encrypted"
	case info.Err != nil:
		return "unreadable"
	case info.Compressed:
		return "compressed"
	}
	return ""
}

func verifyOptions(env *runEnv) verify.Options {
	opts := verify.Options{Decrypt: verifyDecrypt}
	if verifyDecrypt {
		opts.Passphrase = env.app.Passphrase(passphrase)
	}
	return opts
}

func runVerify(env *runEnv, args []string) error {
	engine := env.app.Engine()

	var reports []*verify.Report
	switch {
	case verifyAll:
		infos, err := engine.List()
		if err != nil {
			return err
		}
		spinner := env.printer.Spinner("Verifying archives")
		spinner.Start()
		for i, info := range infos {
			spinner.Update(fmt.Sprintf("Verifying %s (%d/%d)", info.Name, i+1, len(infos)))
			reports = append(reports, engine.Verify(env.ctx, info.Path, verifyOptions(env)))
		}
		spinner.Stop()
	case len(args) == 1:
		path, err := engine.ResolveArchive(args[0])
		if err != nil {
			return err
		}
		reports = append(reports, engine.Verify(env.ctx, path, verifyOptions(env)))
	default:
		res, ok, err := runWorkflow(env, workflow.KindVerify, confirmation.Answers{Passphrase: env.app.Passphrase(passphrase)})
		if err != nil || !ok {
			return err
		}
		reports = append(reports, res.Verify)
	}

	if ok, err := env.printer.Structured(reports); ok {
		if err != nil {
			return err
		}
		return verifyOutcome(reports)
	}

	for _, r := range reports {
		printVerifyReport(env, r)
	}
	return verifyOutcome(reports)
}

func printVerifyReport(env *runEnv, r *verify.Report) {
	p := env.printer
	name := archiveName(r.Archive)
	switch r.Status {
	case verify.StatusPassed:
		p.Success("%s: %d of %d files verified (%d without hash)", name, r.Passed, r.Total, r.Unhashed)
	case verify.StatusDeferred:
		p.Warning("%s: %s", name, r.Message)
	case verify.StatusError:
		p.Error("%s: %s", name, r.Message)
	case verify.StatusFailed:
		p.Error("%s: %d of %d files failed verification", name, r.Failed, r.Total)
		t := p.NewTable()
		t.SetHeaders("File", "Expected", "Actual")
		for _, f := range r.Files {
			if !f.Valid {
				t.AddRow(f.Path, shortHash(f.Expected), shortHash(f.Actual))
			}
		}
		t.RenderTo(p.Out())
	}
}

// verifyOutcome turns failed or unreadable archives into a non-zero exit
func verifyOutcome(reports []*verify.Report) error {
	bad := 0
	for _, r := range reports {
		if r.Status == verify.StatusFailed || r.Status == verify.StatusError {
			bad++
		}
	}
	if bad > 0 {
		return appErrors.NewValidationError(fmt.Sprintf("%d of %d archives failed verification", bad, len(reports)), nil)
	}
	return nil
}

func runValidate(env *runEnv, args []string) error {
	ref := ""
	if len(args) == 1 {
		ref = args[0]
	}
	path, err := env.app.Engine().ResolveArchive(ref)
	if err != nil {
		return err
	}

	report := env.app.Engine().Validate(env.ctx, path, verifyOptions(env))
	if ok, err := env.printer.Structured(report); ok {
		if err != nil {
			return err
		}
		return validateOutcome(report)
	}

	p := env.printer
	if report.Valid {
		p.Success("%s is structurally valid", archiveName(report.Archive))
	} else {
		p.Error("%s is not valid", archiveName(report.Archive))
	}
	p.KeyValues([][2]string{
		{"Format version", strconv.Itoa(report.Stats.FormatVersion)},
		{"Declared files", strconv.Itoa(report.Stats.Declared)},
		{"File blocks", strconv.Itoa(report.Stats.Blocks)},
		{"Start markers", strconv.Itoa(report.Stats.StartMarkers)},
		{"End markers", strconv.Itoa(report.Stats.EndMarkers)},
		{"Skipped markers", strconv.Itoa(report.Stats.Skipped)},
		{"Size", archive.HumanSize(report.Stats.FileSize)},
	})
	for _, e := range report.Errors {
		p.Error("%s", e)
	}
	for _, w := range report.Warnings {
		p.Warning("%s", w)
	}
	return validateOutcome(report)
}

func validateOutcome(r *verify.ValidationReport) error {
	if r.Valid {
		return nil
	}
	return appErrors.NewFormatError(fmt.Sprintf("archive has %d structural errors", len(r.Errors)), nil).
		WithContext("archive", r.Archive)
}

func runDiff(env *runEnv, args []string) error {
	engine := env.app.Engine()

	var result *diff.Result
	switch len(args) {
	case 2:
		a, err := engine.ResolveArchive(args[0])
		if err != nil {
			return err
		}
		b, err := engine.ResolveArchive(args[1])
		if err != nil {
			return err
		}
		if result, err = engine.Diff(env.ctx, a, b); err != nil {
			return err
		}
	case 1:
		a, err := engine.ResolveArchive(args[0])
		if err != nil {
			return err
		}
		if result, err = engine.DiffWorkingTree(env.ctx, a); err != nil {
			return err
		}
	default:
		res, ok, err := runWorkflow(env, workflow.KindDiff, confirmation.Answers{})
		if err != nil || !ok {
			return err
		}
		result = res.Diff
	}

	return printDiff(env, result)
}

func printDiff(env *runEnv, r *diff.Result) error {
	if ok, err := env.printer.Structured(r); ok {
		return err
	}

	p := env.printer
	p.Header(fmt.Sprintf("%s -> %s", archiveName(r.From), archiveName(r.To)))
	if !r.HasChanges() {
		p.Success("No differences (%d files unchanged)", r.Counts.Unchanged)
		return nil
	}

	theme := p.Colors().Theme()
	icons := p.Icons()
	t := p.NewTable()
	t.SetHeaders("Change", "Path", "Size")
	for _, path := range r.Added {
		t.AddRow(p.Colors().Colorize(icons.Label(display.IconAdded, "added"), theme.Success), path, "")
	}
	for _, c := range r.Changes {
		t.AddRow(p.Colors().Colorize(icons.Label(display.IconModified, "modified"), theme.Warning), c.Path,
			fmt.Sprintf("%s -> %s", archive.HumanSize(c.OldSize), archive.HumanSize(c.NewSize)))
	}
	for _, path := range r.Removed {
		t.AddRow(p.Colors().Colorize(icons.Label(display.IconRemoved, "removed"), theme.Error), path, "")
	}
	if diffShowSame {
		for _, path := range r.Unchanged {
			t.AddRow(icons.Label(display.IconUnchanged, "unchanged"), path, "")
		}
	}
	t.RenderTo(p.Out())

	p.Printf("\n%d added, %d modified, %d removed, %d unchanged\n",
		r.Counts.Added, r.Counts.Modified, r.Counts.Removed, r.Counts.Unchanged)
	return nil
}

func runSearch(env *runEnv, args []string) error {
	result, err := env.app.Engine().Search(env.ctx, args[0], searchLimit)
	if err != nil {
		return err
	}
	if ok, err := env.printer.Structured(result); ok {
		return err
	}

	p := env.printer
	if result.Total == 0 {
		p.Info("No matches for %q in %d archives", result.Term, result.Searched)
	}
	theme := p.Colors().Theme()
	for _, hits := range result.Archives {
		p.Println(p.Colors().Colorize(fmt.Sprintf("%s (%d matches)", hits.Name, hits.Count), theme.Primary))
		for _, m := range hits.Matches {
			p.Printf("  %s: %s\n", p.Colors().Colorize(m.Path, theme.Info), m.Context)
		}
		if hidden := hits.Count - len(hits.Matches); hidden > 0 {
			p.Printf("  ... %d more\n", hidden)
		}
	}
	if result.Encrypted > 0 {
		p.Warning("%d encrypted archives were not searched", result.Encrypted)
	}
	if result.Failed > 0 {
		p.Warning("%d archives could not be read", result.Failed)
	}
	return nil
}
