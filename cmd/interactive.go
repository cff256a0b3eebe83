package cmd

import (
	"jugaad-backup/internal/backup"
	"jugaad-backup/internal/confirmation"
	appErrors "jugaad-backup/internal/errors"
	"jugaad-backup/internal/workflow"
)

// newPrompter returns the terminal prompter used for confirmations and
// passphrases
func newPrompter(env *runEnv) *confirmation.Prompter {
	return confirmation.NewPrompter(env.cmd.InOrStdin(), env.cmd.ErrOrStderr(), env.app.Colors())
}

// canPrompt reports whether missing arguments may be asked for
func canPrompt(env *runEnv, p *confirmation.Prompter) bool {
	return env.app.Config().Display.Interactive && p.IsTerminal()
}

// runWorkflow drives a workflow for a command whose archive argument was
// omitted, then executes the resulting plan. ok is false when the user
// declined at the confirmation step.
func runWorkflow(env *runEnv, kind workflow.Kind, answers confirmation.Answers) (res *backup.ExecuteResult, ok bool, err error) {
	prompter := newPrompter(env)
	if !canPrompt(env, prompter) {
		return nil, false, appErrors.NewValidationError("an archive argument is required when not running interactively", nil)
	}

	infos, err := env.app.Engine().List()
	if err != nil {
		return nil, false, err
	}
	if len(infos) == 0 {
		return nil, false, appErrors.NewNotFoundError("archive in "+env.app.Engine().Layout().ArchiveDir(), nil)
	}

	m, err := workflow.New(kind)
	if err != nil {
		return nil, false, err
	}
	answers.AutoApprove = answers.AutoApprove || autoApprove

	plan, ok, err := confirmation.NewDriver(prompter, nil, infos).Run(m, answers)
	if err != nil || !ok {
		return nil, ok, err
	}

	res, err = env.app.Engine().Execute(env.ctx, plan)
	return res, err == nil, err
}
