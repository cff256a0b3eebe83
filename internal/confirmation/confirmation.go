// Package confirmation is the interactive front end of the CLI: yes/no
// confirmations, passphrase prompts, the archive picker and the driver that
// feeds a workflow machine from those prompts.
package confirmation

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"jugaad-backup/internal/display"
	"jugaad-backup/internal/errors"
)

// Prompter asks the user questions on a terminal
type Prompter struct {
	in     *bufio.Reader
	out    io.Writer
	colors display.ColorSystem
	// fd is the terminal file descriptor of in, or -1
	fd int
}

// NewPrompter creates a prompter reading from in and writing prompts to out
func NewPrompter(in io.Reader, out io.Writer, colors display.ColorSystem) *Prompter {
	fd := -1
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd = int(f.Fd())
	}
	if colors == nil {
		colors = display.NewColorSystem("plain", false, out)
	}
	return &Prompter{in: bufio.NewReader(in), out: out, colors: colors, fd: fd}
}

// NewTerminalPrompter prompts on stdin and stderr
func NewTerminalPrompter(colors display.ColorSystem) *Prompter {
	return NewPrompter(os.Stdin, os.Stderr, colors)
}

// IsTerminal reports whether the input is an interactive terminal
func (p *Prompter) IsTerminal() bool {
	return p.fd >= 0
}

// Confirm shows the summary lines and asks for y/N. Answering "d" prints
// details, when given, and asks again. autoApprove skips the question.
func (p *Prompter) Confirm(question string, summary, details []string, autoApprove bool) (bool, error) {
	for _, line := range summary {
		fmt.Fprintln(p.out, line)
	}
	if autoApprove {
		fmt.Fprintln(p.out, p.colors.Colorize("Auto-approved.", p.colors.Theme().Success))
		return true, nil
	}

	choices := "[y/N]"
	if len(details) > 0 {
		choices = "[y/N/d]"
	}

	for {
		fmt.Fprint(p.out, p.colors.Colorize(fmt.Sprintf("%s %s: ", question, choices), p.colors.Theme().Primary))
		input, err := p.readLine()
		if err != nil {
			return false, err
		}

		switch strings.ToLower(input) {
		case "y", "yes":
			return true, nil
		case "n", "no", "":
			fmt.Fprintln(p.out, p.colors.Colorize("Cancelled.", p.colors.Theme().Warning))
			return false, nil
		case "d", "details":
			if len(details) == 0 {
				break
			}
			fmt.Fprintln(p.out, strings.Repeat("=", 50))
			for _, line := range details {
				fmt.Fprintln(p.out, "  "+line)
			}
			fmt.Fprintln(p.out, strings.Repeat("=", 50))
			continue
		}
		fmt.Fprintf(p.out, "Invalid input '%s'. Please enter 'y' for yes or 'n' for no.\n", input)
	}
}

// Passphrase reads a passphrase without echo. With confirm the user has to
// type it twice.
func (p *Prompter) Passphrase(prompt string, confirm bool) (string, error) {
	first, err := p.readSecret(prompt)
	if err != nil {
		return "", err
	}
	if first == "" {
		return "", errors.NewValidationError("passphrase cannot be empty", nil)
	}
	if !confirm {
		return first, nil
	}

	second, err := p.readSecret("Confirm passphrase: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.NewValidationError("passphrases do not match", nil)
	}
	return first, nil
}

func (p *Prompter) readSecret(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	if p.fd < 0 {
		return p.readLine()
	}
	data, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", errors.NewAppError(errors.ErrorTypeInterruption, "failed to read passphrase", err)
	}
	return string(data), nil
}

func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		if err == io.EOF {
			return "", errors.NewAppError(errors.ErrorTypeInterruption, "input closed", err)
		}
		return "", errors.NewAppError(errors.ErrorTypeInterruption, "failed to read input", err)
	}
	return strings.TrimSpace(line), nil
}
