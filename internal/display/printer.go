package display

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Options configures a Printer
type Options struct {
	ColorEnabled bool
	Theme        string
	Format       OutputFormat
	TableStyle   string
	Quiet        bool
	Icons        IconMode
	Out          io.Writer
	Err          io.Writer
}

// Printer writes command results to stdout and status messages to stderr
type Printer struct {
	opts   Options
	out    io.Writer
	err    io.Writer
	colors ColorSystem
	icons  IconSet
}

// NewPrinter creates a printer; nil writers default to stdout and stderr
func NewPrinter(opts Options) *Printer {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	if opts.Format == "" {
		opts.Format = FormatTable
	}
	return &Printer{
		opts:   opts,
		out:    opts.Out,
		err:    opts.Err,
		colors: NewColorSystem(opts.Theme, opts.ColorEnabled, opts.Out),
		icons:  NewIconSet(opts.Icons),
	}
}

// Format returns the configured output format
func (p *Printer) Format() OutputFormat {
	return p.opts.Format
}

// Out returns the result writer
func (p *Printer) Out() io.Writer {
	return p.out
}

// Colors returns the color system
func (p *Printer) Colors() ColorSystem {
	return p.colors
}

// Icons returns the icon set
func (p *Printer) Icons() IconSet {
	return p.icons
}

func (p *Printer) status(icon string, clr Color, format string, args ...interface{}) {
	if p.opts.Quiet {
		return
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.err, p.colors.Colorize(p.icons.Label(icon, msg), clr))
}

// Success prints a success message
func (p *Printer) Success(format string, args ...interface{}) {
	p.status(IconSuccess, p.colors.Theme().Success, format, args...)
}

// Info prints an informational message
func (p *Printer) Info(format string, args ...interface{}) {
	p.status(IconInfo, p.colors.Theme().Info, format, args...)
}

// Warning prints a warning message
func (p *Printer) Warning(format string, args ...interface{}) {
	p.status(IconWarning, p.colors.Theme().Warning, format, args...)
}

// Error prints an error message; never suppressed by quiet mode
func (p *Printer) Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.err, p.colors.Colorize(p.icons.Label(IconError, msg), p.colors.Theme().Error))
}

// Spinner returns a spinner on the status stream. It stays silent in quiet
// mode, for structured output and when the stream is not a color terminal.
func (p *Printer) Spinner(message string) *Spinner {
	colors := NewColorSystem(p.opts.Theme, p.opts.ColorEnabled, p.err)
	if p.opts.Quiet || p.opts.Format.IsStructured() {
		colors = NewColorSystem("plain", false, p.err)
	}
	return NewSpinner(colors, p.err, message)
}

// Header prints a section header to the result stream
func (p *Printer) Header(title string) {
	if p.opts.Format.IsStructured() {
		return
	}
	line := strings.Repeat("=", len(title)+4)
	fmt.Fprintln(p.out, p.colors.Colorize(fmt.Sprintf("%s\n  %s\n%s", line, title, line), p.colors.Theme().Primary))
}

// KeyValues prints aligned key/value pairs in table mode
func (p *Printer) KeyValues(pairs [][2]string) {
	width := 0
	for _, kv := range pairs {
		if len(kv[0]) > width {
			width = len(kv[0])
		}
	}
	for _, kv := range pairs {
		key := p.colors.Colorize(fmt.Sprintf("%-*s", width, kv[0]), p.colors.Theme().Muted)
		fmt.Fprintf(p.out, "  %s  %s\n", key, kv[1])
	}
}

// NewTable returns a table styled per the printer options
func (p *Printer) NewTable() *Table {
	return NewTable(p.colors, TableStyleByName(p.opts.TableStyle), 0)
}

// PrintTable writes the table, or its records when a structured format is set
func (p *Printer) PrintTable(t *Table) error {
	if p.opts.Format.IsStructured() {
		return Encode(p.out, p.opts.Format, TableRecords(t.Headers(), t.Rows()))
	}
	t.RenderTo(p.out)
	return nil
}

// Structured writes v in the configured structured format. It reports
// false in table mode so callers can render their own view.
func (p *Printer) Structured(v interface{}) (bool, error) {
	if !p.opts.Format.IsStructured() {
		return false, nil
	}
	return true, Encode(p.out, p.opts.Format, v)
}

// Println writes a plain line to the result stream
func (p *Printer) Println(a ...interface{}) {
	fmt.Fprintln(p.out, a...)
}

// Printf writes formatted text to the result stream
func (p *Printer) Printf(format string, args ...interface{}) {
	fmt.Fprintf(p.out, format, args...)
}
