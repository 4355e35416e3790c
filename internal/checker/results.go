package checker

import (
	"strings"

	"github.com/corvidwatch/sentryd/internal/objects"
)

// ParsedOutput contains the parsed components of plugin output.
type ParsedOutput struct {
	ShortOutput string
	LongOutput  string
	PerfData    string
}

// outputScanner walks a plugin's raw stdout line by line, splitting it into
// short output, long output, and perfdata. First-line perfdata ends at the
// line break; once a "|" appears on a later line, every remaining line
// belongs to perfdata.
type outputScanner struct {
	longLines []string
	perfLines []string
	inPerf    bool
}

func (s *outputScanner) takePerf(rest string) {
	s.inPerf = true
	if rest = strings.TrimSpace(rest); rest != "" {
		s.perfLines = append(s.perfLines, rest)
	}
}

func (s *outputScanner) feed(line string) {
	if s.inPerf {
		s.perfLines = append(s.perfLines, strings.TrimSpace(line))
		return
	}

	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "|") {
		s.takePerf(trimmed[1:])
		return
	}

	if idx := strings.Index(line, "|"); idx >= 0 {
		s.longLines = append(s.longLines, strings.TrimSpace(line[:idx]))
		s.takePerf(line[idx+1:])
		return
	}

	s.longLines = append(s.longLines, line)
}

// ParseCheckOutput parses plugin output into short output, long output, and perfdata.
//
// Format:
//
//	SHORT OUTPUT | perfdata
//	LONG OUTPUT LINE 1
//	LONG OUTPUT LINE 2
//	| more perfdata
//	more perfdata lines
//
// Semicolons in plugin output (NOT perfdata) are replaced with colons.
func ParseCheckOutput(raw string) ParsedOutput {
	if raw == "" {
		return ParsedOutput{}
	}

	lines := strings.Split(raw, "\n")
	var p ParsedOutput
	s := &outputScanner{}

	if idx := strings.Index(lines[0], "|"); idx >= 0 {
		p.ShortOutput = strings.TrimSpace(lines[0][:idx])
		// First-line perfdata does not open the perfdata section; long
		// output may still follow on later lines.
		if rest := strings.TrimSpace(lines[0][idx+1:]); rest != "" {
			s.perfLines = append(s.perfLines, rest)
		}
	} else {
		p.ShortOutput = strings.TrimSpace(lines[0])
	}
	for _, line := range lines[1:] {
		s.feed(line)
	}

	// Replace semicolons with colons in plugin output (NOT perfdata)
	p.ShortOutput = strings.ReplaceAll(p.ShortOutput, ";", ":")
	for i, l := range s.longLines {
		s.longLines[i] = strings.ReplaceAll(l, ";", ":")
	}

	p.LongOutput = strings.Join(s.longLines, "\\n")
	p.PerfData = strings.Join(s.perfLines, " ")

	return p
}

// GetServiceCheckReturnCode maps a raw return code to a service state.
func GetServiceCheckReturnCode(cr *objects.CheckResult, timeoutState int) int {
	if cr.EarlyTimeout {
		return timeoutState
	}
	if !cr.ExitedOK {
		return objects.ServiceCritical
	}
	switch cr.ReturnCode {
	case 0:
		return objects.ServiceOK
	case 1:
		return objects.ServiceWarning
	case 2:
		return objects.ServiceCritical
	case 3:
		return objects.ServiceUnknown
	default: // includes 126/127 and any other out-of-range code
		return objects.ServiceCritical
	}
}

// GetHostCheckReturnCode maps a raw return code to a host state.
func GetHostCheckReturnCode(cr *objects.CheckResult, aggressiveHostChecking bool) int {
	if cr.EarlyTimeout || !cr.ExitedOK {
		return objects.HostDown
	}
	switch cr.ReturnCode {
	case 0:
		return objects.HostUp
	case 1:
		if aggressiveHostChecking {
			return objects.HostDown
		}
		return objects.HostUp
	default: // 2, 3, and any other out-of-range code
		return objects.HostDown
	}
}

// GetPassiveHostCheckReturnCode maps passive host check return codes directly.
func GetPassiveHostCheckReturnCode(returnCode int) int {
	switch returnCode {
	case 0:
		return objects.HostUp
	case 1:
		return objects.HostDown
	case 2:
		return objects.HostUnreachable
	default:
		return objects.HostDown
	}
}

// outOfBoundsReturnCode names the special messages Nagios substitutes when a
// plugin's return code falls outside the 0-3 range it understands.
var outOfBoundsReturnCode = map[int]string{
	126: "(Return code of 126 is out of bounds - plugin may not be executable)",
	127: "(Return code of 127 is out of bounds - plugin may be missing)",
}

// AugmentReturnCodeOutput adds special messages for return codes 126/127.
func AugmentReturnCodeOutput(cr *objects.CheckResult) string {
	if cr.Output != "" {
		return cr.Output
	}
	if msg, ok := outOfBoundsReturnCode[cr.ReturnCode]; ok {
		return msg
	}
	return cr.Output
}
