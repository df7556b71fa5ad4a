package protocol

import (
	"strings"
	"unicode/utf8"

	"github.com/anstrom/netstick/internal/config"
)

// Sanitizer clamps user-supplied strings before they are embedded in a
// response. Control characters other than \n, \r and \t are dropped and the
// result is cut to the field cap in bytes, never splitting a rune. Quoting
// and backslash escaping are left to the JSON encoder.
type Sanitizer struct {
	limits config.FieldLimits
}

// NewSanitizer creates a sanitizer with the given per-field caps.
func NewSanitizer(limits config.FieldLimits) Sanitizer {
	return Sanitizer{limits: limits}
}

func (s Sanitizer) Vendor(v string) string  { return Clean(v, s.limits.Vendor) }
func (s Sanitizer) Banner(v string) string  { return Clean(v, s.limits.Banner) }
func (s Sanitizer) Version(v string) string { return Clean(v, s.limits.Version) }
func (s Sanitizer) Error(v string) string   { return Clean(v, s.limits.Error) }
func (s Sanitizer) SSID(v string) string    { return Clean(v, s.limits.SSID) }
func (s Sanitizer) Service(v string) string { return Clean(v, s.limits.Service) }

// Clean drops disallowed control characters and truncates to maxLen bytes.
// A non-positive maxLen disables truncation.
func Clean(v string, maxLen int) string {
	var b strings.Builder
	b.Grow(min(len(v), max(maxLen, 0)))

	for _, r := range v {
		if r == utf8.RuneError {
			continue
		}
		if isDroppedControl(r) {
			continue
		}
		if maxLen > 0 && b.Len()+utf8.RuneLen(r) > maxLen {
			break
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isDroppedControl(r rune) bool {
	switch r {
	case '\n', '\r', '\t':
		return false
	}
	return r < 0x20 || r == 0x7f || (r >= 0x80 && r <= 0x9f)
}
