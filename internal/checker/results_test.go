package checker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvidwatch/sentryd/internal/objects"
)

func TestParseCheckOutputShortOnly(t *testing.T) {
	p := ParseCheckOutput("DISK OK - 42% used")
	require.Equal(t, "DISK OK - 42% used", p.ShortOutput)
	require.Empty(t, p.LongOutput)
	require.Empty(t, p.PerfData)
}

func TestParseCheckOutputFirstLinePerfdata(t *testing.T) {
	p := ParseCheckOutput("DISK OK | /=2643MB;5948;5958;0;5968")
	require.Equal(t, "DISK OK", p.ShortOutput)
	require.Equal(t, "/=2643MB;5948;5958;0;5968", p.PerfData)
}

func TestParseCheckOutputLongAndTrailingPerf(t *testing.T) {
	raw := "DISK OK | /=2643MB\n" +
		"/ 15272 MB (77%)\n" +
		"/boot 68 MB (69%)\n" +
		"| /boot=68MB\n" +
		"/var=12MB"
	p := ParseCheckOutput(raw)
	require.Equal(t, "DISK OK", p.ShortOutput)
	require.Equal(t, "/ 15272 MB (77%)\\n/boot 68 MB (69%)", p.LongOutput)
	require.Equal(t, "/=2643MB /boot=68MB /var=12MB", p.PerfData)
}

func TestParseCheckOutputSemicolonsBecomeColons(t *testing.T) {
	// Output text is sanitized for the status file's ;-separated log lines;
	// perfdata keeps its semicolons, they are structural there.
	p := ParseCheckOutput("WARN; partial | d=1;2;3")
	require.Equal(t, "WARN: partial", p.ShortOutput)
	require.Equal(t, "d=1;2;3", p.PerfData)
}

func TestParseCheckOutputEmpty(t *testing.T) {
	require.Equal(t, ParsedOutput{}, ParseCheckOutput(""))
}

func TestServiceReturnCodeMapping(t *testing.T) {
	cases := []struct {
		code int
		want int
	}{
		{0, objects.ServiceOK},
		{1, objects.ServiceWarning},
		{2, objects.ServiceCritical},
		{3, objects.ServiceUnknown},
		{126, objects.ServiceCritical},
		{127, objects.ServiceCritical},
		{-1, objects.ServiceCritical},
	}
	for _, tc := range cases {
		cr := &objects.CheckResult{ReturnCode: tc.code, ExitedOK: true}
		require.Equal(t, tc.want, GetServiceCheckReturnCode(cr, objects.ServiceCritical), "code %d", tc.code)
	}
}

func TestServiceReturnCodeTimeoutAndCrash(t *testing.T) {
	timedOut := &objects.CheckResult{EarlyTimeout: true, ExitedOK: false}
	require.Equal(t, objects.ServiceUnknown, GetServiceCheckReturnCode(timedOut, objects.ServiceUnknown),
		"early timeout maps to the configured timeout state")

	crashed := &objects.CheckResult{ExitedOK: false}
	require.Equal(t, objects.ServiceCritical, GetServiceCheckReturnCode(crashed, objects.ServiceUnknown))
}

func TestHostReturnCodeMapping(t *testing.T) {
	up := &objects.CheckResult{ReturnCode: 0, ExitedOK: true}
	require.Equal(t, objects.HostUp, GetHostCheckReturnCode(up, false))

	warn := &objects.CheckResult{ReturnCode: 1, ExitedOK: true}
	require.Equal(t, objects.HostUp, GetHostCheckReturnCode(warn, false), "WARNING hosts count as UP by default")
	require.Equal(t, objects.HostDown, GetHostCheckReturnCode(warn, true), "aggressive checking flips WARNING to DOWN")

	crit := &objects.CheckResult{ReturnCode: 2, ExitedOK: true}
	require.Equal(t, objects.HostDown, GetHostCheckReturnCode(crit, false))

	timedOut := &objects.CheckResult{EarlyTimeout: true}
	require.Equal(t, objects.HostDown, GetHostCheckReturnCode(timedOut, false))
}

func TestPassiveHostReturnCodeMapping(t *testing.T) {
	require.Equal(t, objects.HostUp, GetPassiveHostCheckReturnCode(0))
	require.Equal(t, objects.HostDown, GetPassiveHostCheckReturnCode(1))
	require.Equal(t, objects.HostUnreachable, GetPassiveHostCheckReturnCode(2))
	require.Equal(t, objects.HostDown, GetPassiveHostCheckReturnCode(7))
}

func TestAugmentReturnCodeOutput(t *testing.T) {
	quiet126 := &objects.CheckResult{ReturnCode: 126}
	require.Contains(t, AugmentReturnCodeOutput(quiet126), "not be executable")

	quiet127 := &objects.CheckResult{ReturnCode: 127}
	require.Contains(t, AugmentReturnCodeOutput(quiet127), "may be missing")

	spoke := &objects.CheckResult{ReturnCode: 127, Output: "sh: nope"}
	require.Equal(t, "sh: nope", AugmentReturnCodeOutput(spoke), "real output wins over the canned text")

	quiet0 := &objects.CheckResult{ReturnCode: 0}
	require.Empty(t, AugmentReturnCodeOutput(quiet0))
}
