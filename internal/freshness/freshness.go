package freshness

import (
	"time"

	"github.com/corvidwatch/sentryd/internal/objects"
)

const goldenRatio = 0.618

// Checker checks for stale service/host check results and triggers fresh checks.
type Checker struct {
	Cfg        *objects.Config
	EventStart time.Time // when the monitoring engine started

	// ScheduleServiceCheck triggers a forced freshness check for a stale service.
	ScheduleServiceCheck func(svc *objects.Service, t time.Time, options int)
	// ScheduleHostCheck triggers a forced freshness check for a stale host.
	ScheduleHostCheck func(h *objects.Host, t time.Time, options int)
}

// target gathers the fields isStale/expirationTime need off either a Host or
// a Service, so the freshness math itself (shared between the two) doesn't
// have to be written twice.
type target struct {
	checkFreshness   bool
	isExecuting      bool
	activeEnabled    bool
	passiveEnabled   bool
	isBeingFreshened *bool
	checkInterval    float64
	threshold        int
	retryInterval    float64
	latency          float64
	currentStateOK   bool
	stateType        int
	lastCheck        time.Time
	maxCheckSpread   int
	schedule         func(now time.Time, options int)
}

func serviceTarget(c *Checker, svc *objects.Service) target {
	return target{
		checkFreshness:   svc.CheckFreshness,
		isExecuting:      svc.IsExecuting,
		activeEnabled:    svc.ActiveChecksEnabled,
		passiveEnabled:   svc.PassiveChecksEnabled,
		isBeingFreshened: &svc.IsBeingFreshened,
		checkInterval:    svc.CheckInterval,
		threshold:        svc.FreshnessThreshold,
		retryInterval:    svc.RetryInterval,
		latency:          svc.Latency,
		currentStateOK:   svc.CurrentState == objects.ServiceOK,
		stateType:        svc.StateType,
		lastCheck:        svc.LastCheck,
		maxCheckSpread:   c.Cfg.MaxServiceCheckSpread,
		schedule: func(now time.Time, options int) {
			if c.ScheduleServiceCheck != nil {
				c.ScheduleServiceCheck(svc, now, options)
			}
		},
	}
}

func hostTarget(c *Checker, host *objects.Host) target {
	return target{
		checkFreshness:   host.CheckFreshness,
		isExecuting:      host.IsExecuting,
		activeEnabled:    host.ActiveChecksEnabled,
		passiveEnabled:   host.PassiveChecksEnabled,
		isBeingFreshened: &host.IsBeingFreshened,
		checkInterval:    host.CheckInterval,
		threshold:        host.FreshnessThreshold,
		retryInterval:    host.RetryInterval,
		latency:          host.Latency,
		currentStateOK:   host.CurrentState == objects.HostUp,
		stateType:        host.StateType,
		lastCheck:        host.LastCheck,
		maxCheckSpread:   c.Cfg.MaxHostCheckSpread,
		schedule: func(now time.Time, options int) {
			if c.ScheduleHostCheck != nil {
				c.ScheduleHostCheck(host, now, options)
			}
		},
	}
}

// CheckServiceFreshness iterates all services and checks for stale results.
func (c *Checker) CheckServiceFreshness(services []*objects.Service, now time.Time) int {
	staleCount := 0
	for _, svc := range services {
		if c.freshen(serviceTarget(c, svc), now) {
			staleCount++
		}
	}
	return staleCount
}

// CheckHostFreshness iterates all hosts and checks for stale results.
func (c *Checker) CheckHostFreshness(hosts []*objects.Host, now time.Time) int {
	staleCount := 0
	for _, host := range hosts {
		if c.freshen(hostTarget(c, host), now) {
			staleCount++
		}
	}
	return staleCount
}

func (c *Checker) freshen(t target, now time.Time) bool {
	if !c.isStale(t, now) {
		return false
	}
	*t.isBeingFreshened = true
	t.schedule(now, objects.CheckOptionForceExecution|objects.CheckOptionFreshnessCheck)
	return true
}

func (c *Checker) isStale(t target, now time.Time) bool {
	if !t.checkFreshness {
		return false
	}
	if t.isExecuting {
		return false
	}
	if !t.activeEnabled && !t.passiveEnabled {
		return false
	}
	if *t.isBeingFreshened {
		return false
	}
	if t.checkInterval == 0 && t.threshold == 0 {
		return false
	}

	threshold := c.thresholdSeconds(t)
	if threshold <= 0 {
		return false
	}

	return now.After(c.expirationTime(t, threshold))
}

// thresholdSeconds returns the freshness threshold in seconds.
func (c *Checker) thresholdSeconds(t target) float64 {
	if t.threshold > 0 {
		return float64(t.threshold)
	}
	il := c.Cfg.IntervalLength
	if il <= 0 {
		il = 60
	}
	additional := float64(c.Cfg.AdditionalFreshnessLatency)

	if !t.currentStateOK && t.stateType == objects.StateTypeSoft {
		return t.retryInterval*float64(il) + t.latency + additional
	}
	return t.checkInterval*float64(il) + t.latency + additional
}

// expirationTime calculates when a check result expires.
func (c *Checker) expirationTime(t target, threshold float64) time.Time {
	threshDur := time.Duration(threshold * float64(time.Second))

	// Never checked
	if t.lastCheck.IsZero() {
		return c.EventStart.Add(threshDur)
	}

	// Passive check special case: golden ratio heuristic.
	// If last_check < event_start and downtime > 61.8% of threshold,
	// use event_start to prevent notification storms after long outage.
	if t.lastCheck.Before(c.EventStart) {
		downtime := c.EventStart.Sub(t.lastCheck)
		if downtime.Seconds() > goldenRatio*threshold {
			return c.EventStart.Add(threshDur)
		}
	}

	// Active checks enabled, event_start > last_check, no user threshold
	if t.activeEnabled && c.EventStart.After(t.lastCheck) && t.threshold == 0 {
		il := c.Cfg.IntervalLength
		if il <= 0 {
			il = 60
		}
		spreadExtra := time.Duration(t.maxCheckSpread*il) * time.Second
		return c.EventStart.Add(threshDur + spreadExtra)
	}

	return t.lastCheck.Add(threshDur)
}
