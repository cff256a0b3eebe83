// Package workflow models the multi-step interactive operations as an
// explicit state machine. Each step accepts one typed input; the finished
// machine yields an immutable Plan for the engine to execute. Nothing here
// knows about terminals or prompts.
package workflow

import (
	"fmt"

	"jugaad-backup/internal/errors"
)

// Kind names a workflow
type Kind string

const (
	KindRehydrate Kind = "rehydrate"
	KindExport    Kind = "export"
	KindVerify    Kind = "verify"
	KindDiff      Kind = "diff"
	KindEncrypt   Kind = "encrypt"
)

// Step names a state of the machine
type Step string

const (
	StepSelectArchive Step = "select_archive"
	StepSelectSecond  Step = "select_second_archive"
	StepSelectMode    Step = "select_mode"
	StepPassphrase    Step = "passphrase"
	StepConfirm       Step = "confirm"
	StepDone          Step = "done"
	StepCancelled     Step = "cancelled"
)

var stepsByKind = map[Kind][]Step{
	KindRehydrate: {StepSelectArchive, StepSelectMode, StepPassphrase, StepConfirm},
	KindExport:    {StepSelectArchive, StepPassphrase},
	KindVerify:    {StepSelectArchive, StepPassphrase},
	KindDiff:      {StepSelectArchive, StepSelectSecond},
	KindEncrypt:   {StepSelectArchive, StepPassphrase, StepConfirm},
}

// Input is the value submitted for one step
type Input interface {
	step() Step
}

// ArchiveChoice selects an archive for StepSelectArchive or StepSelectSecond
type ArchiveChoice struct {
	Path      string
	Encrypted bool
}

// ModeChoice selects the rehydrate mode
type ModeChoice struct {
	Mode string
}

// Passphrase supplies the user secret; empty means machine key only
type Passphrase struct {
	Value string
}

// Confirmation accepts or declines the plan
type Confirmation struct {
	Accepted bool
}

func (ArchiveChoice) step() Step { return StepSelectArchive }
func (ModeChoice) step() Step    { return StepSelectMode }
func (Passphrase) step() Step    { return StepPassphrase }
func (Confirmation) step() Step  { return StepConfirm }

// Plan is the complete, validated description of an operation
type Plan struct {
	Kind       Kind
	Archive    string
	Encrypted  bool
	Second     string
	Mode       string
	Passphrase string
}

// Machine walks the steps of one workflow
type Machine struct {
	kind  Kind
	steps []Step
	pos   int
	plan  Plan
	state Step
}

// New starts a workflow of the given kind
func New(kind Kind) (*Machine, error) {
	steps, ok := stepsByKind[kind]
	if !ok {
		return nil, errors.NewValidationError(fmt.Sprintf("unknown workflow %q", kind), nil)
	}
	m := &Machine{kind: kind, steps: steps, plan: Plan{Kind: kind}}
	m.state = steps[0]
	return m, nil
}

// Kind returns the workflow kind
func (m *Machine) Kind() Kind { return m.kind }

// Current returns the step awaiting input
func (m *Machine) Current() Step { return m.state }

// Done reports whether the plan is complete
func (m *Machine) Done() bool { return m.state == StepDone }

// Cancel abandons the workflow
func (m *Machine) Cancel() { m.state = StepCancelled }

// Submit validates in against the current step and advances
func (m *Machine) Submit(in Input) error {
	switch m.state {
	case StepDone, StepCancelled:
		return errors.NewConflictError(fmt.Sprintf("workflow is %s", m.state))
	}

	want := m.state
	if want == StepSelectSecond {
		want = StepSelectArchive
	}
	if in == nil || in.step() != want {
		return errors.NewValidationError(fmt.Sprintf("step %s does not accept %T", m.state, in), nil)
	}

	switch v := in.(type) {
	case ArchiveChoice:
		if err := m.chooseArchive(v); err != nil {
			return err
		}
	case ModeChoice:
		if v.Mode != "tree" && v.Mode != "flat" {
			return errors.NewValidationError(fmt.Sprintf("unknown rehydrate mode %q", v.Mode), nil)
		}
		m.plan.Mode = v.Mode
	case Passphrase:
		m.plan.Passphrase = v.Value
	case Confirmation:
		if !v.Accepted {
			m.Cancel()
			return nil
		}
	}

	m.advance()
	return nil
}

func (m *Machine) chooseArchive(c ArchiveChoice) error {
	if c.Path == "" {
		return errors.NewValidationError("no archive selected", nil)
	}

	if m.state == StepSelectSecond {
		if c.Encrypted {
			return errors.NewEncryptedInputError(c.Path)
		}
		m.plan.Second = c.Path
		return nil
	}

	switch {
	case m.kind == KindDiff && c.Encrypted:
		return errors.NewEncryptedInputError(c.Path)
	case m.kind == KindEncrypt && c.Encrypted:
		return errors.NewConflictError("archive is already encrypted").WithContext("archive", c.Path)
	}
	m.plan.Archive = c.Path
	m.plan.Encrypted = c.Encrypted
	return nil
}

// advance moves to the next step, skipping the passphrase for plain
// archives unless the workflow is creating an envelope
func (m *Machine) advance() {
	for {
		m.pos++
		if m.pos >= len(m.steps) {
			m.state = StepDone
			return
		}
		next := m.steps[m.pos]
		if next == StepPassphrase && !m.plan.Encrypted && m.kind != KindEncrypt {
			continue
		}
		m.state = next
		return
	}
}

// Plan returns the finished plan
func (m *Machine) Plan() (Plan, error) {
	if m.state != StepDone {
		return Plan{}, errors.NewValidationError(fmt.Sprintf("workflow incomplete at step %s", m.state), nil)
	}
	return m.plan, nil
}
