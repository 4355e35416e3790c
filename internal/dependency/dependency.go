// Package dependency implements host and service dependency checking.
package dependency

import (
	"time"

	"github.com/corvidwatch/sentryd/internal/objects"
	"github.com/corvidwatch/sentryd/internal/timeperiod"
)

const (
	DependenciesOK     = 0
	DependenciesFailed = 1
)

// walk holds the set of accessors needed to run the inherits-parent
// dependency traversal generically over either *objects.HostDependency or
// *objects.ServiceDependency, so the recursive walk itself (visited-set
// tracking, period gating, failure-option matching) is written once instead
// of twice.
type walk[D any, M comparable] struct {
	failOpts func(d D, depType int) uint32
	period   func(d D) *objects.Timeperiod
	inherits func(d D) bool
	master   func(d D) M
	subDeps  func(m M, depType int) []D
	state    func(m M, softStateDeps bool) int
	matches  func(state int, opts uint32) bool
}

func (w walk[D, M]) check(deps []D, depType int, softStateDeps bool, visited map[M]bool) int {
	if visited == nil {
		visited = make(map[M]bool)
	}
	for _, dep := range deps {
		master := w.master(dep)
		var zero M
		if master == zero || visited[master] {
			continue
		}

		failOpts := w.failOpts(dep, depType)
		if failOpts == 0 {
			continue
		}

		if p := w.period(dep); p != nil && !timeperiod.Contains(p, time.Now()) {
			continue
		}

		if w.matches(w.state(master, softStateDeps), failOpts) {
			return DependenciesFailed
		}

		if w.inherits(dep) {
			visited[master] = true
			if w.check(w.subDeps(master, depType), depType, softStateDeps, visited) == DependenciesFailed {
				return DependenciesFailed
			}
		}
	}
	return DependenciesOK
}

var serviceWalk = walk[*objects.ServiceDependency, *objects.Service]{
	failOpts: func(d *objects.ServiceDependency, depType int) uint32 {
		if depType == objects.NotificationDependency {
			return d.NotificationFailureOptions
		}
		return d.ExecutionFailureOptions
	},
	period:   func(d *objects.ServiceDependency) *objects.Timeperiod { return d.DependencyPeriod },
	inherits: func(d *objects.ServiceDependency) bool { return d.InheritsParent },
	master:   func(d *objects.ServiceDependency) *objects.Service { return d.Service },
	subDeps: func(m *objects.Service, depType int) []*objects.ServiceDependency {
		if depType == objects.NotificationDependency {
			return m.NotifyDeps
		}
		return m.ExecDeps
	},
	state: func(m *objects.Service, softStateDeps bool) int {
		if m.StateType == objects.StateTypeSoft && !softStateDeps {
			return m.LastHardState
		}
		return m.CurrentState
	},
	matches: stateMatchesSvcFailOpts,
}

var hostWalk = walk[*objects.HostDependency, *objects.Host]{
	failOpts: func(d *objects.HostDependency, depType int) uint32 {
		if depType == objects.NotificationDependency {
			return d.NotificationFailureOptions
		}
		return d.ExecutionFailureOptions
	},
	period:   func(d *objects.HostDependency) *objects.Timeperiod { return d.DependencyPeriod },
	inherits: func(d *objects.HostDependency) bool { return d.InheritsParent },
	master:   func(d *objects.HostDependency) *objects.Host { return d.Host },
	subDeps: func(m *objects.Host, depType int) []*objects.HostDependency {
		if depType == objects.NotificationDependency {
			return m.NotifyDeps
		}
		return m.ExecDeps
	},
	state: func(m *objects.Host, softStateDeps bool) int {
		if m.StateType == objects.StateTypeSoft && !softStateDeps {
			return m.LastHardState
		}
		return m.CurrentState
	},
	matches: stateMatchesHostFailOpts,
}

// CheckServiceDependencies checks notification or execution dependencies for
// a service. depType is objects.NotificationDependency or
// objects.ExecutionDependency.
func CheckServiceDependencies(svc *objects.Service, depType int, softStateDeps bool) int {
	var deps []*objects.ServiceDependency
	if depType == objects.NotificationDependency {
		deps = svc.NotifyDeps
	} else {
		deps = svc.ExecDeps
	}
	return serviceWalk.check(deps, depType, softStateDeps, nil)
}

// CheckHostDependencies checks notification or execution dependencies for a host.
func CheckHostDependencies(hst *objects.Host, depType int, softStateDeps bool) int {
	var deps []*objects.HostDependency
	if depType == objects.NotificationDependency {
		deps = hst.NotifyDeps
	} else {
		deps = hst.ExecDeps
	}
	return hostWalk.check(deps, depType, softStateDeps, nil)
}

func stateMatchesSvcFailOpts(state int, opts uint32) bool {
	switch state {
	case objects.ServiceOK:
		return opts&objects.OptOK != 0
	case objects.ServiceWarning:
		return opts&objects.OptWarning != 0
	case objects.ServiceCritical:
		return opts&objects.OptCritical != 0
	case objects.ServiceUnknown:
		return opts&objects.OptUnknown != 0
	}
	return false
}

func stateMatchesHostFailOpts(state int, opts uint32) bool {
	switch state {
	case objects.HostUp:
		return opts&objects.OptOK != 0
	case objects.HostDown:
		return opts&objects.OptDown != 0
	case objects.HostUnreachable:
		return opts&objects.OptUnreachable != 0
	}
	return false
}
