package archive

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
)

const (
	incrementalSuffix = "-inc"
	maxFilenameLen    = 120
	// room kept for "_YYYY-MM-DD_v9999-inc.3dev"
	reservedSuffixLen = 26
)

var (
	labelPattern      = regexp.MustCompile(`^v(\d+)(-inc)?$`)
	unsafeChars       = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	archiveNameSuffix = regexp.MustCompile(`_(\d{4}-\d{2}-\d{2})_v(\d+)(-inc)?\.3dev$`)
)

// Label renders a version label: v<N> or v<N>-inc
func Label(n int, incremental bool) string {
	l := "v" + strconv.Itoa(n)
	if incremental {
		l += incrementalSuffix
	}
	return l
}

// ParseLabel is the inverse of Label
func ParseLabel(s string) (n int, incremental bool, ok bool) {
	m := labelPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false, false
	}
	return n, m[2] != "", true
}

// sanitize replaces characters that are unsafe in file names
func sanitize(s string) string {
	return unsafeChars.ReplaceAllString(s, "_")
}

// NamePrefix is the file-name prefix used for a base name. Long bases are
// shortened to their first 20 characters plus a digest, so every name for
// the same base shares one prefix and keeps its version suffix.
func NamePrefix(base string) string {
	clean := sanitize(base)
	if len(clean) <= maxFilenameLen-reservedSuffixLen {
		return clean
	}
	sum := sha1.Sum([]byte(base))
	short := clean
	if len(short) > 20 {
		short = short[:20]
	}
	return short + "_" + hex.EncodeToString(sum[:])[:10]
}

// SafeFilename builds <base>_<date>_<label><suffix> with unsafe characters
// replaced
func SafeFilename(base, suffix, date, label string) string {
	return fmt.Sprintf("%s_%s_%s%s", NamePrefix(base), sanitize(date), sanitize(label), suffix)
}

// ParseArchiveName extracts date, version and incremental flag from an
// archive file name
func ParseArchiveName(name string) (date string, version int, incremental bool, ok bool) {
	m := archiveNameSuffix.FindStringSubmatch(name)
	if m == nil {
		return "", 0, false, false
	}
	v, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false, false
	}
	return m[1], v, m[3] != "", true
}
