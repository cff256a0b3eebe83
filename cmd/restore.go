package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"jugaad-backup/internal/backup"
	"jugaad-backup/internal/confirmation"
	"jugaad-backup/internal/envelope"
	"jugaad-backup/internal/rehydrate"
	"jugaad-backup/internal/workflow"
)

// Restore command flags
var (
	rehydrateMode   string
	rehydrateOutput string
	rehydrateOnly   string
	exportDir       string
)

// rehydrateCmd restores an archive
var rehydrateCmd = &cobra.Command{
	Use:     "rehydrate [archive]",
	Aliases: []string{"restore"},
	Short:   "Restore an archive as a directory tree or a flat file",
	Long: `Write the files of an archive back to disk.

In tree mode every file is restored under a new directory, by default in
.JugaadBKP/Rehydrated. In flat mode all files are concatenated into one
text file with a header per file, by default in .JugaadBKP/AIO. Paths
that would escape the output directory are rejected and counted.

Without an archive argument the archive, the mode and the passphrase are
asked for interactively.

Examples:
  # Restore the newest archive as a tree
  jugaad rehydrate latest

  # Single text file for pasting into a review
  jugaad rehydrate proj_2026-03-14_v1 --mode flat

  # Restore two files into a chosen directory
  jugaad rehydrate latest --output /tmp/restore --only src/app.py,README.md`,
	Args: cobra.MaximumNArgs(1),
	RunE: withApp(runRehydrate),
}

// exportCmd writes the compact TOON form of an archive
var exportCmd = &cobra.Command{
	Use:   "export [archive]",
	Short: "Export an archive in the compact TOON format",
	Long: `Export an archive as a compact .toon document: a metadata header, a file
index and the file contents, with large or binary files deflated. The
document is written to .JugaadBKP/TOON unless --dir is given.

Examples:
  # Export the newest archive
  jugaad export latest

  # Export into a shared directory
  jugaad export proj_2026-03-14_v1 --dir ~/exports`,
	Args: cobra.MaximumNArgs(1),
	RunE: withApp(runExport),
}

// encryptCmd seals a plain archive in place
var encryptCmd = &cobra.Command{
	Use:   "encrypt [archive]",
	Short: "Encrypt an existing archive in place",
	Long: `Seal a plain archive with the crypto envelope. The archive file is
replaced atomically and keeps its modification time, so its position in
listings and rotation does not change.

The passphrase is read from --passphrase, then $JUGAAD_PASSPHRASE, and is
otherwise asked for twice on the terminal.

Examples:
  # Encrypt the newest archive
  jugaad encrypt latest

  # Choose an archive interactively
  jugaad encrypt`,
	Args: cobra.MaximumNArgs(1),
	RunE: withApp(runEncrypt),
}

func init() {
	rootCmd.AddCommand(rehydrateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(encryptCmd)

	rehydrateCmd.Flags().StringVarP(&rehydrateMode, "mode", "m", "", "tree or flat (default tree)")
	rehydrateCmd.Flags().StringVarP(&rehydrateOutput, "output", "o", "", "output directory (tree) or file (flat)")
	rehydrateCmd.Flags().StringVar(&rehydrateOnly, "only", "", "comma-separated archive paths to restore")

	exportCmd.Flags().StringVar(&exportDir, "dir", "", "output directory (default .JugaadBKP/TOON)")
}

func runRehydrate(env *runEnv, args []string) error {
	if len(args) == 0 {
		res, ok, err := runWorkflow(env, workflow.KindRehydrate, confirmation.Answers{
			Mode:       rehydrateMode,
			Passphrase: env.app.Passphrase(passphrase),
		})
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return printRehydrate(env, res.Rehydrate)
	}

	engine := env.app.Engine()
	path, err := engine.ResolveArchive(args[0])
	if err != nil {
		return err
	}
	mode, err := rehydrate.ParseMode(rehydrateMode)
	if err != nil {
		return err
	}
	pass, err := archivePassphrase(env, path)
	if err != nil {
		return err
	}

	result, err := engine.Rehydrate(env.ctx, backup.RehydrateRequest{
		Archive:    path,
		Passphrase: pass,
		Mode:       mode,
		Output:     rehydrateOutput,
		Only:       splitList(rehydrateOnly),
	})
	if err != nil {
		return err
	}
	return printRehydrate(env, result)
}

// archivePassphrase returns the passphrase for an encrypted archive, asking
// once on a terminal when neither the flag nor the environment has one
func archivePassphrase(env *runEnv, path string) (string, error) {
	pass := env.app.Passphrase(passphrase)
	if pass != "" || !envelope.IsEncryptedFile(path) {
		return pass, nil
	}
	p := newPrompter(env)
	if !canPrompt(env, p) {
		return "", nil
	}
	return p.Passphrase("Passphrase for "+filepath.Base(path)+": ", false)
}

func printRehydrate(env *runEnv, r *rehydrate.Result) error {
	if ok, err := env.printer.Structured(r); ok {
		return err
	}

	p := env.printer
	p.Success("Rehydrated %d files (%s) to %s", r.Written, r.Mode, r.Output)
	if r.Filtered > 0 {
		p.Info("%d files not selected", r.Filtered)
	}
	if r.Rejected > 0 {
		p.Warning("%d entries rejected for escaping the output directory", r.Rejected)
		for _, path := range r.Paths {
			p.Warning("  %s", path)
		}
	}
	if r.Failed > 0 {
		p.Error("%d files could not be written", r.Failed)
	}
	return nil
}

func runExport(env *runEnv, args []string) error {
	var out string
	if len(args) == 0 {
		res, ok, err := runWorkflow(env, workflow.KindExport, confirmation.Answers{
			Passphrase: env.app.Passphrase(passphrase),
		})
		if err != nil || !ok {
			return err
		}
		out = res.Export
	} else {
		engine := env.app.Engine()
		path, err := engine.ResolveArchive(args[0])
		if err != nil {
			return err
		}
		pass, err := archivePassphrase(env, path)
		if err != nil {
			return err
		}
		if out, err = engine.Export(env.ctx, path, pass, exportDir); err != nil {
			return err
		}
	}

	if ok, err := env.printer.Structured(map[string]string{"export": out}); ok {
		return err
	}
	env.printer.Success("Exported to %s", out)
	return nil
}

func runEncrypt(env *runEnv, args []string) error {
	if len(args) == 0 {
		_, ok, err := runWorkflow(env, workflow.KindEncrypt, confirmation.Answers{
			Passphrase: env.app.Passphrase(passphrase),
		})
		if err != nil || !ok {
			return err
		}
		env.printer.Success("Archive encrypted")
		return nil
	}

	engine := env.app.Engine()
	path, err := engine.ResolveArchive(args[0])
	if err != nil {
		return err
	}

	prompter := newPrompter(env)
	pass := env.app.Passphrase(passphrase)
	if pass == "" && canPrompt(env, prompter) {
		if pass, err = prompter.Passphrase("New passphrase: ", true); err != nil {
			return err
		}
	}

	summary := []string{
		fmt.Sprintf("Archive: %s", filepath.Base(path)),
		"The archive will be replaced by its encrypted form.",
	}
	if pass == "" {
		summary = append(summary, "No passphrase: only this machine's key will open it.")
	}
	ok, err := prompter.Confirm("Encrypt this archive in place?", summary, nil, autoApprove)
	if err != nil || !ok {
		return err
	}

	if err := engine.EncryptInPlace(env.ctx, path, pass); err != nil {
		return err
	}
	if structured, err := env.printer.Structured(map[string]string{"encrypted": path}); structured {
		return err
	}
	env.printer.Success("Encrypted %s", filepath.Base(path))
	return nil
}
