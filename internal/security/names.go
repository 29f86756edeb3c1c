// Package security holds input hygiene helpers for names that end up on
// the filesystem.
package security

import (
	"strings"
	"unicode/utf8"
)

// maxNameLen bounds a sanitised name in bytes.
const maxNameLen = 96

// SafeName reduces an arbitrary source label (a directory, file name or
// client-supplied session source) to a single path element. ASCII letters,
// digits, '.', '_' and '-' are kept; any other run of characters becomes
// one '_'. Leading and trailing dots and underscores are trimmed so the
// result can never be "." or "..". An empty result reads "unknown".
func SafeName(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range s {
		ok := r < utf8.RuneSelf && (r == '.' || r == '_' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
		if !ok {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		if b.Len() >= maxNameLen {
			break
		}
		b.WriteRune(r)
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
