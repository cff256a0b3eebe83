package display

import (
	"os"
	"strings"
)

// Icon is a status glyph with an ASCII fallback
type Icon struct {
	Unicode string
	ASCII   string
}

// Icon names used by the printer and the CLI
const (
	IconSuccess   = "success"
	IconInfo      = "info"
	IconWarning   = "warning"
	IconError     = "error"
	IconAdded     = "added"
	IconRemoved   = "removed"
	IconModified  = "modified"
	IconUnchanged = "unchanged"
	IconEncrypted = "encrypted"
	IconArchive   = "archive"
)

var defaultIcons = map[string]Icon{
	IconSuccess:   {Unicode: "✓", ASCII: "[OK]"},
	IconInfo:      {Unicode: "•", ASCII: "*"},
	IconWarning:   {Unicode: "!", ASCII: "!"},
	IconError:     {Unicode: "✗", ASCII: "[X]"},
	IconAdded:     {Unicode: "+", ASCII: "+"},
	IconRemoved:   {Unicode: "−", ASCII: "-"},
	IconModified:  {Unicode: "~", ASCII: "~"},
	IconUnchanged: {Unicode: "=", ASCII: "="},
	IconEncrypted: {Unicode: "🔒", ASCII: "[enc]"},
	IconArchive:   {Unicode: "▣", ASCII: "#"},
}

// IconMode selects between Unicode and ASCII glyphs
type IconMode string

const (
	IconsAuto    IconMode = "auto"
	IconsUnicode IconMode = "unicode"
	IconsASCII   IconMode = "ascii"
)

// IconSet renders icons in one mode
type IconSet struct {
	unicode bool
}

// NewIconSet resolves mode; auto and empty consult the locale environment
func NewIconSet(mode IconMode) IconSet {
	switch mode {
	case IconsUnicode:
		return IconSet{unicode: true}
	case IconsASCII:
		return IconSet{unicode: false}
	default:
		return IconSet{unicode: detectUnicodeSupport()}
	}
}

// detectUnicodeSupport checks the environment for a UTF-8 capable terminal
func detectUnicodeSupport() bool {
	if os.Getenv("FORCE_UNICODE") != "" {
		return true
	}
	if os.Getenv("NO_UNICODE") != "" {
		return false
	}
	if term := os.Getenv("TERM"); term == "dumb" || term == "vt100" {
		return false
	}
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		if v == "C" || v == "POSIX" {
			return false
		}
		v = strings.ToLower(v)
		return strings.Contains(v, "utf-8") || strings.Contains(v, "utf8")
	}
	return true
}

// Unicode reports whether the set renders Unicode glyphs
func (s IconSet) Unicode() bool {
	return s.unicode
}

// Get returns the glyph for name, or an empty string for unknown names
func (s IconSet) Get(name string) string {
	icon, ok := defaultIcons[name]
	if !ok {
		return ""
	}
	if s.unicode {
		return icon.Unicode
	}
	return icon.ASCII
}

// Label prefixes text with the named glyph
func (s IconSet) Label(name, text string) string {
	glyph := s.Get(name)
	if glyph == "" {
		return text
	}
	return glyph + " " + text
}
