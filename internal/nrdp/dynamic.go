package nrdp

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/corvidwatch/sentryd/internal/objects"
)

// DynamicTracker manages auto-created NRDP hosts and services with TTL-based pruning.
type DynamicTracker struct {
	mu       sync.Mutex
	records  map[string]time.Time // key = recordKey(hostname, servicename)
	store    *objects.ObjectStore
	ttl      time.Duration
	interval time.Duration
	stopCh   chan struct{}
	logFunc  func(format string, args ...interface{})

	// Host check configuration for dynamic hosts.
	hostCheckCmd string // command name, e.g. "check-host-alive"; empty = passive only

	// OnScheduleHost is called after a new dynamic host is created with
	// active checks enabled, so the scheduler can enqueue a host check event.
	OnScheduleHost func(host *objects.Host)
}

// recordKey builds the tracker's map key for a host (servicename == "") or a
// service belonging to it.
func recordKey(hostname, servicename string) string {
	if servicename == "" {
		return hostname
	}
	return hostname + "\t" + servicename
}

// splitRecordKey is the inverse of recordKey.
func splitRecordKey(key string) (hostname, servicename string, isService bool) {
	if i := strings.IndexByte(key, '\t'); i >= 0 {
		return key[:i], key[i+1:], true
	}
	return key, "", false
}

// NewDynamicTracker creates a tracker that auto-creates hosts/services and prunes
// them after ttl of inactivity, checking every pruneInterval.
func NewDynamicTracker(store *objects.ObjectStore, ttl, pruneInterval time.Duration) *DynamicTracker {
	return &DynamicTracker{
		records:  make(map[string]time.Time),
		store:    store,
		ttl:      ttl,
		interval: pruneInterval,
		stopCh:   make(chan struct{}),
		logFunc:  log.Printf,
	}
}

// SetLogger overrides the default log function.
func (d *DynamicTracker) SetLogger(fn func(string, ...interface{})) {
	d.logFunc = fn
}

// SetHostCheckCommand configures the check command name used for dynamic
// hosts. If non-empty, dynamic hosts get active checks enabled with this
// command. Pass empty string to keep hosts passive-only.
func (d *DynamicTracker) SetHostCheckCommand(name string) {
	d.hostCheckCmd = name
}

func (d *DynamicTracker) touch(key string) {
	d.mu.Lock()
	d.records[key] = time.Now()
	d.mu.Unlock()
}

// EnsureHost creates a minimal dynamic host if it does not already exist.
// If a host check command is configured, the host gets active checks
// enabled and is scheduled for checking.
// IMPORTANT: The caller must hold store.Mu write lock.
func (d *DynamicTracker) EnsureHost(hostname string) {
	if d.store.GetHost(hostname) != nil {
		d.touch(recordKey(hostname, ""))
		return
	}

	host := &objects.Host{
		Name:                 hostname,
		DisplayName:          hostname,
		Alias:                hostname,
		Address:              hostname,
		MaxCheckAttempts:     3,
		CheckInterval:        5,
		RetryInterval:        1,
		PassiveChecksEnabled: true,
		ActiveChecksEnabled:  false,
		Dynamic:              true,
		LastSeen:             time.Now(),
		ShouldBeScheduled:    false,
		CurrentState:         4, // pending
		StateType:            objects.StateTypeHard,
	}

	// If a host check command is configured and exists in the store,
	// enable active checks so the host gets pinged on schedule.
	if d.hostCheckCmd != "" {
		if cmd := d.store.GetCommand(d.hostCheckCmd); cmd != nil {
			host.CheckCommand = cmd
			host.ActiveChecksEnabled = true
			host.ShouldBeScheduled = true
		}
	}

	d.store.AddHost(host)
	d.touch(recordKey(hostname, ""))

	if host.ShouldBeScheduled && d.OnScheduleHost != nil {
		d.OnScheduleHost(host)
	}
}

// EnsureService creates a minimal dynamic service (and its host) if they do not exist.
// IMPORTANT: The caller must hold store.Mu write lock.
func (d *DynamicTracker) EnsureService(hostname, servicename string) {
	d.EnsureHost(hostname)

	if d.store.GetService(hostname, servicename) != nil {
		d.touch(recordKey(hostname, servicename))
		return
	}

	host := d.store.GetHost(hostname)
	svc := &objects.Service{
		Host:                 host,
		Description:          servicename,
		DisplayName:          servicename,
		MaxCheckAttempts:     1,
		PassiveChecksEnabled: true,
		ActiveChecksEnabled:  false,
		Dynamic:              true,
		LastSeen:             time.Now(),
		ShouldBeScheduled:    false,
		CurrentState:         4, // pending
		StateType:            objects.StateTypeHard,
	}
	d.store.AddService(svc)
	host.Services = append(host.Services, svc)

	d.touch(recordKey(hostname, servicename))
}

// Touch updates the last-seen timestamp for a dynamic host (and its
// service, if servicename is non-empty) in the tracker's pruning map and on
// the domain object itself. It acquires store.Mu internally; callers must
// not already hold it.
func (d *DynamicTracker) Touch(hostname, servicename string) {
	now := time.Now()
	d.touch(recordKey(hostname, servicename))

	d.store.Mu.Lock()
	defer d.store.Mu.Unlock()
	if host := d.store.GetHost(hostname); host != nil {
		host.LastSeen = now
	}
	if servicename != "" {
		if svc := d.store.GetService(hostname, servicename); svc != nil {
			svc.LastSeen = now
		}
	}
}

// staleKeys returns record keys whose last-seen time is at or before cutoff.
// Caller must hold d.mu.
func (d *DynamicTracker) staleKeys(cutoff time.Time) []string {
	var keys []string
	for key, lastSeen := range d.records {
		if !lastSeen.After(cutoff) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Prune removes dynamic hosts and services that have not been seen within the TTL.
// It acquires store.Mu write lock internally.
func (d *DynamicTracker) Prune() {
	cutoff := time.Now().Add(-d.ttl)
	var prunedHosts, prunedServices int

	d.mu.Lock()
	defer d.mu.Unlock()
	d.store.Mu.Lock()
	defer d.store.Mu.Unlock()

	// Services first: a host pruned on this pass must not leave orphaned
	// service records behind for the host pass below to stumble over.
	for _, key := range d.staleKeys(cutoff) {
		hostname, desc, isService := splitRecordKey(key)
		if !isService {
			continue
		}
		if svc := d.store.GetService(hostname, desc); svc != nil && !svc.Dynamic {
			continue
		}
		d.store.RemoveService(hostname, desc)
		delete(d.records, key)
		prunedServices++
	}

	for _, key := range d.staleKeys(cutoff) {
		hostname, _, isService := splitRecordKey(key)
		if isService {
			continue
		}
		host := d.store.GetHost(hostname)
		if host == nil || !host.Dynamic {
			continue
		}
		// RemoveHost also removes all its services from the store.
		d.store.RemoveHost(hostname)
		for svcKey := range d.records {
			if h, _, isSvc := splitRecordKey(svcKey); isSvc && h == hostname {
				delete(d.records, svcKey)
			}
		}
		delete(d.records, key)
		prunedHosts++
	}

	if prunedHosts > 0 || prunedServices > 0 {
		d.logFunc("dynamic pruner: removed %d hosts, %d services", prunedHosts, prunedServices)
	}
}

// StartPruner launches a background goroutine that calls Prune at the configured interval.
func (d *DynamicTracker) StartPruner() {
	go func() {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.Prune()
			case <-d.stopCh:
				return
			}
		}
	}()
}

// Stop signals the pruner goroutine to exit.
func (d *DynamicTracker) Stop() {
	close(d.stopCh)
}
