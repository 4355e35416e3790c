package macros

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvidwatch/sentryd/internal/objects"
)

func TestURLEncodeUnreservedPassthrough(t *testing.T) {
	require.Equal(t, "abcABC123-._~", URLEncode("abcABC123-._~"))
}

func TestURLEncodeSpecialChars(t *testing.T) {
	require.Equal(t, "name%27%26%25", URLEncode("name'&%"))
}

func TestStripIllegalCharsRemovesDefaultSet(t *testing.T) {
	require.Equal(t, "helloworld", StripIllegalChars("hello`~$&|'\"<>world"))
	require.Equal(t, "plain text", StripIllegalChars("plain text"))
}

func TestShellEscapeWrapsAndEscapesQuotes(t *testing.T) {
	require.Equal(t, `'it'\''s ok'`, shellEscape("it's ok"))
	require.Equal(t, "''", shellEscape(""))
}

// ExpandWithOptions under URL_ENCODE must only transform the resolved
// macro value, leaving surrounding literal text (including shell
// metacharacters) untouched.
func TestExpandWithOptionsURLEncodeOnlyAffectsMacroValue(t *testing.T) {
	cfg := objects.DefaultConfig()
	e := &Expander{
		Cfg:        cfg,
		HostLookup: func(string) *objects.Host { return nil },
		SvcLookup:  func(string, string) *objects.Service { return nil },
	}
	host := &objects.Host{Name: "name'&%"}

	got := e.ExpandWithOptions("$HOSTNAME$ '&%", host, nil, nil, OptURLEncode)
	require.Equal(t, "name%27%26%25 '&%", got)
}
