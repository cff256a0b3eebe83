package display

// OutputFormat represents different output format options
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
	FormatTOML  OutputFormat = "toml"
)

// ParseOutputFormat maps a config or flag value to an OutputFormat
func ParseOutputFormat(s string) OutputFormat {
	switch OutputFormat(s) {
	case FormatJSON, FormatYAML, FormatTOML:
		return OutputFormat(s)
	default:
		return FormatTable
	}
}

// IsStructured reports whether the format is machine readable
func (f OutputFormat) IsStructured() bool {
	return f == FormatJSON || f == FormatYAML || f == FormatTOML
}

// Color represents terminal color options
type Color int

const (
	ColorReset Color = iota
	ColorBlack
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorMagenta
	ColorCyan
	ColorWhite
	ColorBrightRed
	ColorBrightGreen
	ColorBrightYellow
	ColorBrightBlue
	ColorBrightMagenta
	ColorBrightCyan
	ColorBrightWhite
)

// ColorTheme defines color scheme for different message types
type ColorTheme struct {
	Primary   Color
	Success   Color
	Warning   Color
	Error     Color
	Info      Color
	Muted     Color
	Highlight Color
}

// SpinnerStyle defines the visual style of a spinner
type SpinnerStyle struct {
	Frames []string
	Delay  int // milliseconds between frames
}

// DefaultSpinnerStyles provides common spinner styles
var DefaultSpinnerStyles = map[string]SpinnerStyle{
	"dots": {
		Frames: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		Delay:  80,
	},
	"line": {
		Frames: []string{"-", "\\", "|", "/"},
		Delay:  100,
	},
}
