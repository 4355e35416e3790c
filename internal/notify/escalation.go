// Package notify implements the notification engine: contact fan-out,
// viability filtering, and escalation tiers.
package notify

import (
	"time"

	"github.com/corvidwatch/sentryd/internal/objects"
	"github.com/corvidwatch/sentryd/internal/timeperiod"
)

// escalationGate holds the fields every escalation kind shares, so the
// window/state/period checks are written once.
type escalationGate struct {
	first, last  int
	stateMatches bool
	period       *objects.Timeperiod
}

// open reports whether the gate admits notification number num. Recovery
// notifications evaluate against the previous number, which the callers
// adjust before handing num in.
func (g escalationGate) open(num int, options int) bool {
	if options&objects.NotificationOptionBroadcast != 0 {
		return true
	}
	if g.first > 0 && num < g.first {
		return false
	}
	if g.last > 0 && num > g.last {
		return false
	}
	if !g.stateMatches {
		return false
	}
	if g.period != nil && !timeperiod.Contains(g.period, time.Now()) {
		return false
	}
	return true
}

// IsValidServiceEscalation reports whether esc applies to svc's outgoing
// notification number notifNum.
func IsValidServiceEscalation(svc *objects.Service, esc *objects.ServiceEscalation, notifNum int, options int) bool {
	num := notifNum
	if svc.CurrentState == objects.ServiceOK {
		num-- // recovery: judge against the number of the problem it closes
	}
	gate := escalationGate{
		first:        esc.FirstNotification,
		last:         esc.LastNotification,
		stateMatches: esc.EscalationOptions == 0 || objects.StateMatchesSvcOptions(svc.CurrentState, esc.EscalationOptions),
		period:       esc.EscalationPeriod,
	}
	return gate.open(num, options)
}

// IsValidHostEscalation reports whether esc applies to hst's outgoing
// notification number notifNum.
func IsValidHostEscalation(hst *objects.Host, esc *objects.HostEscalation, notifNum int, options int) bool {
	num := notifNum
	if hst.CurrentState == objects.HostUp {
		num--
	}
	gate := escalationGate{
		first:        esc.FirstNotification,
		last:         esc.LastNotification,
		stateMatches: esc.EscalationOptions == 0 || objects.StateMatchesHostOptions(hst.CurrentState, esc.EscalationOptions),
		period:       esc.EscalationPeriod,
	}
	return gate.open(num, options)
}

// ShouldServiceNotificationBeEscalated reports whether any escalation tier
// is currently active for svc.
func ShouldServiceNotificationBeEscalated(svc *objects.Service, options int) bool {
	for _, esc := range svc.Escalations {
		if IsValidServiceEscalation(svc, esc, svc.CurrentNotificationNumber, options) {
			return true
		}
	}
	return false
}

// ShouldHostNotificationBeEscalated reports whether any escalation tier is
// currently active for hst.
func ShouldHostNotificationBeEscalated(hst *objects.Host, options int) bool {
	for _, esc := range hst.Escalations {
		if IsValidHostEscalation(hst, esc, hst.CurrentNotificationNumber, options) {
			return true
		}
	}
	return false
}

// effectiveInterval picks the notification interval to use: the entity's
// own, overridden by the shortest interval of any active escalation tier.
// A zero result means "notify once, then stop".
func effectiveInterval(base float64, escIntervals []float64) float64 {
	interval := base
	picked := false
	for _, candidate := range escIntervals {
		if candidate < 0 {
			continue // tier declines to override
		}
		if !picked || candidate < interval {
			interval = candidate
			picked = true
		}
	}
	return interval
}

// GetNextServiceNotificationTime computes when svc may notify again after a
// notification sent at offset. Sets NoMoreNotifications when the effective
// interval is zero.
func GetNextServiceNotificationTime(svc *objects.Service, offset time.Time, intervalLength int) time.Time {
	var overrides []float64
	for _, esc := range svc.Escalations {
		if IsValidServiceEscalation(svc, esc, svc.CurrentNotificationNumber, 0) {
			overrides = append(overrides, esc.NotificationInterval)
		}
	}
	interval := effectiveInterval(svc.NotificationInterval, overrides)
	if interval == 0 {
		svc.NoMoreNotifications = true
	}
	return offset.Add(time.Duration(interval*float64(intervalLength)) * time.Second)
}

// GetNextHostNotificationTime is the host-side twin of
// GetNextServiceNotificationTime.
func GetNextHostNotificationTime(hst *objects.Host, offset time.Time, intervalLength int) time.Time {
	var overrides []float64
	for _, esc := range hst.Escalations {
		if IsValidHostEscalation(hst, esc, hst.CurrentNotificationNumber, 0) {
			overrides = append(overrides, esc.NotificationInterval)
		}
	}
	interval := effectiveInterval(hst.NotificationInterval, overrides)
	if interval == 0 {
		hst.NoMoreNotifications = true
	}
	return offset.Add(time.Duration(interval*float64(intervalLength)) * time.Second)
}
