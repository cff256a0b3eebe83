package confirmation

import (
	"fmt"
	"path/filepath"
	"strings"

	"jugaad-backup/internal/archive"
	"jugaad-backup/internal/envelope"
	"jugaad-backup/internal/errors"
	"jugaad-backup/internal/workflow"
)

// Answers are values already known from flags; empty fields are asked for
type Answers struct {
	Archive     string
	Second      string
	Mode        string
	Passphrase  string
	AutoApprove bool
}

// Driver runs a workflow machine against the prompter and picker
type Driver struct {
	prompter *Prompter
	picker   Picker
	archives []archive.Info
}

// NewDriver creates a driver choosing among archives
func NewDriver(prompter *Prompter, picker Picker, archives []archive.Info) *Driver {
	if picker == nil {
		picker = FuzzyPicker{}
	}
	return &Driver{prompter: prompter, picker: picker, archives: archives}
}

// Run submits one input per step until the machine is done. A declined
// confirmation returns ok=false and no error.
func (d *Driver) Run(m *workflow.Machine, answers Answers) (plan workflow.Plan, ok bool, err error) {
	var first, mode string
	for !m.Done() {
		var in workflow.Input

		switch m.Current() {
		case workflow.StepSelectArchive:
			in, err = d.chooseArchive("archive", answers.Archive, d.candidates(m.Kind(), ""))
			if c, isChoice := in.(workflow.ArchiveChoice); isChoice {
				first = c.Path
			}
		case workflow.StepSelectSecond:
			in, err = d.chooseArchive("compare with", answers.Second, d.candidates(workflow.KindDiff, first))
		case workflow.StepSelectMode:
			in, err = d.chooseMode(answers.Mode)
			if c, isChoice := in.(workflow.ModeChoice); isChoice {
				mode = c.Mode
			}
		case workflow.StepPassphrase:
			in, err = d.passphrase(m.Kind(), answers.Passphrase)
		case workflow.StepConfirm:
			in, err = d.confirm(m.Kind(), first, mode, answers.AutoApprove)
		case workflow.StepCancelled:
			return workflow.Plan{}, false, nil
		}
		if err != nil {
			return workflow.Plan{}, false, err
		}
		if err := m.Submit(in); err != nil {
			return workflow.Plan{}, false, err
		}
		if m.Current() == workflow.StepCancelled {
			return workflow.Plan{}, false, nil
		}
	}

	plan, err = m.Plan()
	return plan, err == nil, err
}

// candidates lists the archives a step may choose from
func (d *Driver) candidates(kind workflow.Kind, exclude string) []archive.Info {
	var out []archive.Info
	for _, info := range d.archives {
		if info.Path == exclude {
			continue
		}
		if (kind == workflow.KindDiff || kind == workflow.KindEncrypt) && info.Encrypted {
			continue
		}
		out = append(out, info)
	}
	return out
}

func (d *Driver) chooseArchive(prompt, preset string, infos []archive.Info) (workflow.Input, error) {
	if preset != "" {
		return workflow.ArchiveChoice{Path: preset, Encrypted: envelope.IsEncryptedFile(preset)}, nil
	}
	if _, fuzzy := d.picker.(FuzzyPicker); fuzzy && !d.prompter.IsTerminal() {
		return nil, errors.NewValidationError("no archive given and no terminal to choose one", nil)
	}
	info, err := d.picker.Pick(prompt, infos)
	if err != nil {
		return nil, err
	}
	return workflow.ArchiveChoice{Path: info.Path, Encrypted: info.Encrypted}, nil
}

func (d *Driver) chooseMode(preset string) (workflow.Input, error) {
	mode := preset
	if mode == "" {
		fmt.Fprint(d.prompter.out, "Rehydrate as a directory tree or a single flat file? [tree/flat]: ")
		answer, err := d.prompter.readLine()
		if err != nil {
			return nil, err
		}
		mode = answer
	}
	switch strings.ToLower(mode) {
	case "", "tree":
		mode = "tree"
	case "flat", "aio", "flattened":
		mode = "flat"
	}
	return workflow.ModeChoice{Mode: mode}, nil
}

func (d *Driver) passphrase(kind workflow.Kind, preset string) (workflow.Input, error) {
	if preset != "" {
		return workflow.Passphrase{Value: preset}, nil
	}
	value, err := d.prompter.Passphrase("Passphrase: ", kind == workflow.KindEncrypt)
	if err != nil {
		return nil, err
	}
	return workflow.Passphrase{Value: value}, nil
}

func (d *Driver) confirm(kind workflow.Kind, path, mode string, autoApprove bool) (workflow.Input, error) {
	summary := []string{fmt.Sprintf("Archive: %s", filepath.Base(path))}
	question := "Proceed?"
	switch kind {
	case workflow.KindRehydrate:
		summary = append(summary, fmt.Sprintf("Mode: %s", mode))
		question = "Rehydrate this archive?"
	case workflow.KindEncrypt:
		summary = append(summary, "The archive will be replaced by its encrypted form.")
		question = "Encrypt this archive in place?"
	}

	accepted, err := d.prompter.Confirm(question, summary, nil, autoApprove)
	if err != nil {
		return nil, err
	}
	return workflow.Confirmation{Accepted: accepted}, nil
}
