package checker

import "github.com/corvidwatch/sentryd/internal/objects"

// ServiceShouldStalk reports whether a stalking alert should be logged for
// a service check: stalking is enabled for newState via StalingOptions, and
// the plugin output changed from the previous check. This is independent
// of whether the state itself changed — a flapping plugin can stay
// CRITICAL while its message keeps changing, and stalking exists to
// surface that.
func ServiceShouldStalk(svc *objects.Service, newState int, prevOutput, newOutput string) bool {
	if prevOutput == newOutput {
		return false
	}
	var bit uint32
	switch newState {
	case objects.ServiceOK:
		bit = objects.StalkOptionServiceOK
	case objects.ServiceWarning:
		bit = objects.StalkOptionServiceWarning
	case objects.ServiceUnknown:
		bit = objects.StalkOptionServiceUnknown
	case objects.ServiceCritical:
		bit = objects.StalkOptionServiceCritical
	default:
		return false
	}
	return svc.StalingOptions&bit != 0
}

// HostShouldStalk is the host-check analog of ServiceShouldStalk.
func HostShouldStalk(h *objects.Host, newState int, prevOutput, newOutput string) bool {
	if prevOutput == newOutput {
		return false
	}
	var bit uint32
	switch newState {
	case objects.HostUp:
		bit = objects.StalkOptionHostUp
	case objects.HostDown:
		bit = objects.StalkOptionHostDown
	case objects.HostUnreachable:
		bit = objects.StalkOptionHostUnreachable
	default:
		return false
	}
	return h.StalingOptions&bit != 0
}
