package logger

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxFieldLen bounds one sanitized value. Encoder diagnostics can run to
// kilobytes and only their tail is useful.
const maxFieldLen = 2048

// SanitizeForLog makes a user-supplied path or an encoder message safe to
// embed in a log line. Line breaks and tabs become \n \r \t, other C0 and C1
// control characters and DEL become \xNN, and invalid UTF-8 bytes become
// \xNN as well. Printable Unicode is kept.
func SanitizeForLog(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == utf8.RuneError && size == 1:
			fmt.Fprintf(&b, "\\x%02x", s[i])
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f || (r >= 0x80 && r <= 0x9f):
			fmt.Fprintf(&b, "\\x%02x", r)
		default:
			b.WriteRune(r)
		}
		i += size
	}
	return b.String()
}

// TailForLog sanitizes s and keeps at most its last maxFieldLen bytes,
// cut on a rune boundary.
func TailForLog(s string) string {
	out := SanitizeForLog(strings.TrimSpace(s))
	if len(out) <= maxFieldLen {
		return out
	}
	cut := len(out) - maxFieldLen
	for cut < len(out) && !utf8.RuneStart(out[cut]) {
		cut++
	}
	return "..." + out[cut:]
}
