package scheduler

import (
	"math"
	"math/rand"
	"time"

	"github.com/corvidwatch/sentryd/internal/objects"
)

// ICD methods
const (
	ICDNone  = 0
	ICDDumb  = 1
	ICDSmart = 2
	ICDUser  = 3
)

// ILF methods
const (
	ILFUser  = 0
	ILFSmart = 2
)

// NUDGE constants for overloaded check rescheduling.
const (
	NudgeMin = 5
	NudgeMax = 17
)

// SchedulingParams holds computed scheduling parameters.
type SchedulingParams struct {
	ServiceICD          float64
	HostICD             float64
	InterleaveFactor    int
	TotalScheduledSvcs  int
	TotalScheduledHosts int
}

// interCheckDelay computes the per-check stagger for one of the ICD
// methods (none/dumb/smart/user), shared by the host and service sides of
// CalculateSchedulingParams since both apply the identical formula to
// different counts/intervals.
func interCheckDelay(method, scheduledCount int, totalInterval float64, maxSpreadMinutes int, userDelay float64) float64 {
	switch method {
	case ICDDumb:
		return 1.0
	case ICDSmart:
		if scheduledCount <= 0 {
			return 0
		}
		avgInterval := totalInterval / float64(scheduledCount)
		icd := avgInterval / float64(scheduledCount)
		if maxDelay := float64(maxSpreadMinutes*60) / float64(scheduledCount); icd > maxDelay {
			icd = maxDelay
		}
		return icd
	case ICDUser:
		return userDelay
	default: // ICDNone
		return 0
	}
}

// CalculateSchedulingParams computes inter-check delay and interleave factor.
func CalculateSchedulingParams(cfg *objects.Config, services []*objects.Service, hosts []*objects.Host) SchedulingParams {
	var p SchedulingParams

	var totalSvcInterval float64
	for _, svc := range services {
		if svc.CheckInterval <= 0 || !svc.ActiveChecksEnabled {
			svc.ShouldBeScheduled = false
			continue
		}
		svc.ShouldBeScheduled = true
		p.TotalScheduledSvcs++
		totalSvcInterval += svc.CheckInterval
	}

	var totalHostInterval float64
	for _, h := range hosts {
		if h.CheckInterval <= 0 || !h.ActiveChecksEnabled {
			h.ShouldBeScheduled = false
			continue
		}
		h.ShouldBeScheduled = true
		p.TotalScheduledHosts++
		totalHostInterval += h.CheckInterval
	}

	p.ServiceICD = interCheckDelay(cfg.ServiceInterCheckDelayMethod, p.TotalScheduledSvcs, totalSvcInterval, cfg.MaxServiceCheckSpread, cfg.ServiceInterCheckDelay)
	p.HostICD = interCheckDelay(cfg.HostInterCheckDelayMethod, p.TotalScheduledHosts, totalHostInterval, cfg.MaxHostCheckSpread, cfg.HostInterCheckDelay)

	switch cfg.ServiceInterleaveMethod {
	case ILFSmart:
		if p.TotalScheduledHosts > 0 {
			avg := float64(p.TotalScheduledSvcs) / float64(p.TotalScheduledHosts)
			p.InterleaveFactor = int(math.Ceil(avg))
		}
		if p.InterleaveFactor < 1 {
			p.InterleaveFactor = 1
		}
	default:
		if cfg.ServiceInterleaveFactor > 0 {
			p.InterleaveFactor = cfg.ServiceInterleaveFactor
		} else {
			p.InterleaveFactor = 1
		}
	}

	return p
}

// checkWindow returns the appropriate check window in seconds based on state.
func checkWindow(currentState, stateType int, checkInterval, retryInterval float64, intervalLength int) float64 {
	if currentState != 0 && stateType == objects.StateTypeSoft {
		return retryInterval * float64(intervalLength)
	}
	return checkInterval * float64(intervalLength)
}

// spreadCheckTime clamps a computed stagger delay to the object's check
// window (falling back to a random point inside the window when the
// stagger would overshoot it) and returns the resulting absolute time.
func spreadCheckTime(now time.Time, currentState, stateType int, checkInterval, retryInterval float64, intervalLength int, delay float64) time.Time {
	if window := checkWindow(currentState, stateType, checkInterval, retryInterval, intervalLength); delay > window {
		delay = rand.Float64() * window
	}
	return now.Add(time.Duration(delay * float64(time.Second)))
}

// InitTimingLoop schedules all initial service and host checks, spreading them
// across time to prevent thundering herd.
func InitTimingLoop(cfg *objects.Config, services []*objects.Service, hosts []*objects.Host, now time.Time) ([]*Event, SchedulingParams) {
	params := CalculateSchedulingParams(cfg, services, hosts)
	il := cfg.IntervalLength
	if il <= 0 {
		il = 60
	}

	var events []*Event

	if params.TotalScheduledSvcs > 0 && params.InterleaveFactor > 0 {
		totalInterleaveBlocks := int(math.Ceil(float64(params.TotalScheduledSvcs) / float64(params.InterleaveFactor)))
		currentInterleaveBlock := 0
		interleaveBlockIndex := 0

		for _, svc := range services {
			if !svc.ShouldBeScheduled {
				continue
			}
			interleaveBlockIndex++
			multFactor := currentInterleaveBlock + (interleaveBlockIndex * totalInterleaveBlocks)
			checkDelay := float64(multFactor) * params.ServiceICD

			svc.NextCheck = spreadCheckTime(now, svc.CurrentState, svc.StateType, svc.CheckInterval, svc.RetryInterval, il, checkDelay)

			events = append(events, &Event{
				Type:               EventServiceCheck,
				RunTime:            svc.NextCheck,
				HostName:           svc.Host.Name,
				ServiceDescription: svc.Description,
			})

			if interleaveBlockIndex >= params.InterleaveFactor {
				currentInterleaveBlock++
				interleaveBlockIndex = 0
			}
		}
	}

	multFactor := 0
	for _, h := range hosts {
		if !h.ShouldBeScheduled {
			continue
		}
		checkDelay := float64(multFactor) * params.HostICD
		h.NextCheck = spreadCheckTime(now, h.CurrentState, h.StateType, h.CheckInterval, h.RetryInterval, il, checkDelay)

		events = append(events, &Event{
			Type:     EventHostCheck,
			RunTime:  h.NextCheck,
			HostName: h.Name,
		})
		multFactor++
	}

	return events, params
}

// ScheduleServiceCheck creates or replaces a service check event with deconfliction.
// Returns the event to add (caller adds to heap).
func ScheduleServiceCheck(existing *Event, newTime time.Time, newOptions int) (*Event, bool) {
	newForced := newOptions&objects.CheckOptionForceExecution != 0
	if existing == nil {
		return &Event{Type: EventServiceCheck, RunTime: newTime, CheckOptions: newOptions}, true
	}

	existForced := existing.CheckOptions&objects.CheckOptionForceExecution != 0
	switch {
	case existForced && newForced:
		if newTime.Before(existing.RunTime) {
			return &Event{Type: EventServiceCheck, RunTime: newTime, CheckOptions: newOptions}, true
		}
		return nil, false
	case existForced && !newForced:
		return nil, false
	case !existForced && newForced:
		return &Event{Type: EventServiceCheck, RunTime: newTime, CheckOptions: newOptions}, true
	default: // both non-forced: use whichever runs earlier
		if newTime.Before(existing.RunTime) {
			return &Event{Type: EventServiceCheck, RunTime: newTime, CheckOptions: newOptions}, true
		}
		return nil, false
	}
}

// NudgeDuration returns a random nudge between NudgeMin and NudgeMax seconds.
func NudgeDuration() time.Duration {
	n := NudgeMin + rand.Intn(NudgeMax-NudgeMin+1)
	return time.Duration(n) * time.Second
}
