package macros

import (
	"strings"
)

// ExpandOptions is a bitmask selecting post-processing applied to each
// resolved macro value (not to the surrounding literal text) before it is
// substituted into the command line.
type ExpandOptions uint

const (
	// OptStripIllegal removes characters from illegalMacroOutputChars,
	// matching Nagios's illegal_macro_output_chars handling for untrusted
	// plugin-controlled values like $HOSTOUTPUT$.
	OptStripIllegal ExpandOptions = 1 << iota
	// OptEscape shell-escapes the value (wraps in single quotes, escaping
	// any embedded single quote) so it is safe to pass as one argument to
	// /bin/sh -c.
	OptEscape
	// OptURLEncode percent-encodes the value for safe inclusion in a URL,
	// used by notification commands that build links back to the API.
	OptURLEncode
)

// illegalMacroOutputChars mirrors the historical Nagios default for
// illegal_macro_output_chars: characters plugin output might contain that
// would otherwise corrupt downstream shell/HTML/URL contexts.
const illegalMacroOutputChars = "`~$&|'\"<>"

// StripIllegalChars removes every byte in illegalMacroOutputChars from s.
func StripIllegalChars(s string) string {
	if !strings.ContainsAny(s, illegalMacroOutputChars) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(illegalMacroOutputChars, s[i]) >= 0 {
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// URLEncode percent-encodes s for safe embedding in a URL query component.
// Unreserved characters (RFC 3986 ALPHA / DIGIT / "-" "." "_" "~") pass
// through unescaped; everything else becomes %XX.
func URLEncode(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	default:
		return false
	}
}

// shellEscape wraps s in single quotes, escaping any embedded single quote
// as '\'' so the result is safe as one /bin/sh -c argument.
func shellEscape(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func applyOptions(v string, opts ExpandOptions) string {
	if opts&OptStripIllegal != 0 {
		v = StripIllegalChars(v)
	}
	if opts&OptURLEncode != 0 {
		v = URLEncode(v)
	}
	if opts&OptEscape != 0 {
		v = shellEscape(v)
	}
	return v
}
