package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// TableStyle defines the visual style of a table
type TableStyle struct {
	Name            string
	BorderStyle     BorderStyle
	HeaderSeparator bool
	Padding         int
}

// BorderStyle defines table border characters
type BorderStyle struct {
	TopLeft     string
	TopRight    string
	BottomLeft  string
	BottomRight string
	Horizontal  string
	Vertical    string
	Cross       string
	TopTee      string
	BottomTee   string
	LeftTee     string
	RightTee    string
}

// Border styles
var (
	ASCIIBorderStyle = BorderStyle{
		TopLeft: "+", TopRight: "+", BottomLeft: "+", BottomRight: "+",
		Horizontal: "-", Vertical: "|", Cross: "+",
		TopTee: "+", BottomTee: "+", LeftTee: "+", RightTee: "+",
	}

	RoundedBorderStyle = BorderStyle{
		TopLeft: "╭", TopRight: "╮", BottomLeft: "╰", BottomRight: "╯",
		Horizontal: "─", Vertical: "│", Cross: "┼",
		TopTee: "┬", BottomTee: "┴", LeftTee: "├", RightTee: "┤",
	}

	NoBorderStyle = BorderStyle{}
)

// TableStyleByName returns one of the predefined styles
func TableStyleByName(name string) TableStyle {
	switch name {
	case "rounded":
		return TableStyle{Name: name, BorderStyle: RoundedBorderStyle, HeaderSeparator: true, Padding: 1}
	case "minimal":
		return TableStyle{Name: name, BorderStyle: NoBorderStyle, HeaderSeparator: false, Padding: 1}
	case "none":
		return TableStyle{Name: name, BorderStyle: NoBorderStyle, Padding: 0}
	default:
		return TableStyle{Name: "default", BorderStyle: ASCIIBorderStyle, HeaderSeparator: true, Padding: 1}
	}
}

// Table renders rows into a bordered, width-aware text table
type Table struct {
	headers    []string
	rows       [][]string
	alignments map[int]Alignment
	style      TableStyle
	colors     ColorSystem
	maxWidth   int
}

// NewTable creates a table; maxWidth 0 means the terminal width
func NewTable(colors ColorSystem, style TableStyle, maxWidth int) *Table {
	if maxWidth <= 0 {
		maxWidth = terminalWidth()
	}
	return &Table{
		alignments: make(map[int]Alignment),
		style:      style,
		colors:     colors,
		maxWidth:   maxWidth,
	}
}

// SetHeaders sets the table headers
func (t *Table) SetHeaders(headers ...string) {
	t.headers = headers
}

// AddRow adds a row to the table
func (t *Table) AddRow(row ...string) {
	t.rows = append(t.rows, row)
}

// SetColumnAlignment sets the alignment for a specific column
func (t *Table) SetColumnAlignment(column int, alignment Alignment) {
	t.alignments[column] = alignment
}

// Rows returns the raw rows, for structured output
func (t *Table) Rows() [][]string {
	return t.rows
}

// Headers returns the headers
func (t *Table) Headers() []string {
	return t.headers
}

// Render returns the formatted table as a string
func (t *Table) Render() string {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return ""
	}

	widths := t.fitToWidth(t.columnWidths())
	border := t.style.BorderStyle

	var b strings.Builder
	if border.Horizontal != "" {
		b.WriteString(t.rule(widths, border.TopLeft, border.TopTee, border.TopRight))
	}
	if len(t.headers) > 0 {
		b.WriteString(t.renderRow(t.headers, widths, true))
		if t.style.HeaderSeparator && border.Horizontal != "" {
			b.WriteString(t.rule(widths, border.LeftTee, border.Cross, border.RightTee))
		}
	}
	for _, row := range t.rows {
		b.WriteString(t.renderRow(row, widths, false))
	}
	if border.Horizontal != "" {
		b.WriteString(t.rule(widths, border.BottomLeft, border.BottomTee, border.BottomRight))
	}
	return b.String()
}

// RenderTo renders the table to the specified writer
func (t *Table) RenderTo(w io.Writer) {
	fmt.Fprint(w, t.Render())
}

func (t *Table) columnCount() int {
	n := len(t.headers)
	for _, row := range t.rows {
		if len(row) > n {
			n = len(row)
		}
	}
	return n
}

func (t *Table) columnWidths() []int {
	widths := make([]int, t.columnCount())
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if w := utf8.RuneCountInString(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	for i := range widths {
		widths[i] += t.style.Padding * 2
	}
	return widths
}

// fitToWidth shrinks the widest columns until the table fits
func (t *Table) fitToWidth(widths []int) []int {
	minWidth := t.style.Padding*2 + 4
	for t.totalWidth(widths) > t.maxWidth {
		widest := 0
		for i, w := range widths {
			if w > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= minWidth {
			break
		}
		widths[widest]--
	}
	return widths
}

func (t *Table) totalWidth(widths []int) int {
	total := 0
	for _, w := range widths {
		total += w
	}
	if t.style.BorderStyle.Vertical != "" {
		total += len(widths) + 1
	}
	return total
}

func (t *Table) rule(widths []int, left, mid, right string) string {
	var b strings.Builder
	b.WriteString(left)
	for i, w := range widths {
		b.WriteString(strings.Repeat(t.style.BorderStyle.Horizontal, w))
		if i < len(widths)-1 {
			b.WriteString(mid)
		}
	}
	b.WriteString(right)
	b.WriteString("\n")
	return b.String()
}

func (t *Table) renderRow(row []string, widths []int, isHeader bool) string {
	var b strings.Builder
	v := t.style.BorderStyle.Vertical
	b.WriteString(v)
	for i, w := range widths {
		var cell string
		if i < len(row) {
			cell = row[i]
		}
		b.WriteString(t.formatCell(cell, w, t.alignments[i], isHeader))
		if v != "" {
			b.WriteString(v)
		} else if i < len(widths)-1 {
			b.WriteString(" ")
		}
	}
	return strings.TrimRight(b.String(), " ") + "\n"
}

func (t *Table) formatCell(content string, width int, alignment Alignment, isHeader bool) string {
	contentWidth := width - t.style.Padding*2
	if contentWidth < 0 {
		contentWidth = 0
	}

	if utf8.RuneCountInString(content) > contentWidth {
		runes := []rune(content)
		if contentWidth > 3 {
			content = string(runes[:contentWidth-3]) + "..."
		} else {
			content = string(runes[:contentWidth])
		}
	}

	pad := contentWidth - utf8.RuneCountInString(content)
	if isHeader && t.colors != nil {
		content = t.colors.Colorize(content, t.colors.Theme().Primary)
	}

	left, right := 0, pad
	if alignment == AlignRight {
		left, right = pad, 0
	}
	left += t.style.Padding
	right += t.style.Padding

	return strings.Repeat(" ", left) + content + strings.Repeat(" ", right)
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 120
	}
	return width
}
