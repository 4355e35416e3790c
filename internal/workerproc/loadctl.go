package workerproc

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/load"
)

// LoadControlConfig mirrors the comma-separated key=value dialect of the
// main-config "loadctl_options" directive: load control reduces the
// in-flight job count when the 1/5/15-minute load crosses configured
// thresholds. Unset fields take the defaults below.
type LoadControlConfig struct {
	JobsMax       int           // ceiling on concurrently in-flight jobs
	JobsMin       int           // floor on concurrently in-flight jobs
	JobsMaxDelta  float64       // load average, relative to NumCPU, that triggers backoff
	JobsMinDelta  float64       // load average, relative to NumCPU, below which rampup resumes
	CheckInterval time.Duration // how often to sample load and re-evaluate the limit
}

// DefaultLoadControlConfig returns sane defaults (jobs_max=128, jobs_min=4,
// matching naemon's own loadctl.c defaults).
func DefaultLoadControlConfig() LoadControlConfig {
	return LoadControlConfig{
		JobsMax:       128,
		JobsMin:       4,
		JobsMaxDelta:  0.5,
		JobsMinDelta:  0.1,
		CheckInterval: 3 * time.Second,
	}
}

// ParseLoadctlOptions parses the main-config "loadctl_options" value, e.g.
// "jobs_max=128,jobs_min=4,jobs_max_delta=0.5,jobs_min_delta=0.1". Unknown
// keys are ignored (forward compatibility, matching the rest of this
// codebase's config parsing). Returns DefaultLoadControlConfig() overlaid
// with whatever keys were present; ok is false for an empty string (load
// control disabled).
func ParseLoadctlOptions(s string) (cfg LoadControlConfig, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return LoadControlConfig{}, false
	}
	cfg = DefaultLoadControlConfig()
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		switch key {
		case "jobs_max":
			if n, err := strconv.Atoi(val); err == nil {
				cfg.JobsMax = n
			}
		case "jobs_min":
			if n, err := strconv.Atoi(val); err == nil {
				cfg.JobsMin = n
			}
		case "jobs_max_delta":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.JobsMaxDelta = f
			}
		case "jobs_min_delta":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.JobsMinDelta = f
			}
		case "check_interval":
			if f, err := strconv.ParseFloat(val, 64); err == nil && f > 0 {
				cfg.CheckInterval = time.Duration(f * float64(time.Second))
			}
		}
	}
	if cfg.JobsMin > cfg.JobsMax {
		cfg.JobsMin = cfg.JobsMax
	}
	return cfg, true
}

// LoadController samples system load averages (via gopsutil, in place of
// shelling out to /proc/loadavg or uptime(1)) and adjusts the number of jobs
// the worker pool is willing to have in flight, maintaining the invariant
// jobs_min <= jobs_limit <= jobs_max at every observation.
type LoadController struct {
	cfg     LoadControlConfig
	limit   atomic.Int64
	numCPU  float64
	stopCh  chan struct{}
	loadAvg func() (*load.AvgStat, error)
}

// NewLoadController builds a controller that starts at jobs_max (optimistic
// until the first sample proves otherwise).
func NewLoadController(cfg LoadControlConfig) *LoadController {
	lc := &LoadController{
		cfg:     cfg,
		numCPU:  float64(runtime.NumCPU()),
		stopCh:  make(chan struct{}),
		loadAvg: load.Avg,
	}
	lc.limit.Store(int64(cfg.JobsMax))
	return lc
}

// Limit returns the current in-flight job ceiling.
func (lc *LoadController) Limit() int {
	return int(lc.limit.Load())
}

// Start begins the periodic sample/adjust loop. Safe to call at most once.
func (lc *LoadController) Start() {
	go lc.run()
}

// Stop halts the sample loop.
func (lc *LoadController) Stop() {
	close(lc.stopCh)
}

func (lc *LoadController) run() {
	ticker := time.NewTicker(lc.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-lc.stopCh:
			return
		case <-ticker.C:
			lc.sample()
		}
	}
}

func (lc *LoadController) sample() {
	stat, err := lc.loadAvg()
	if err != nil || lc.numCPU <= 0 {
		return
	}
	normalized := stat.Load1 / lc.numCPU
	current := lc.Limit()
	next := current
	switch {
	case normalized >= lc.cfg.JobsMaxDelta:
		// Back off: halve the distance to jobs_min.
		next = current - (current-lc.cfg.JobsMin)/2
		if next < lc.cfg.JobsMin {
			next = lc.cfg.JobsMin
		}
	case normalized <= lc.cfg.JobsMinDelta:
		// Ramp up: halve the distance to jobs_max.
		next = current + (lc.cfg.JobsMax-current)/2
		if next > lc.cfg.JobsMax {
			next = lc.cfg.JobsMax
		}
		if next == current && current < lc.cfg.JobsMax {
			next = current + 1
		}
	}
	if next < lc.cfg.JobsMin {
		next = lc.cfg.JobsMin
	}
	if next > lc.cfg.JobsMax {
		next = lc.cfg.JobsMax
	}
	lc.limit.Store(int64(next))
}

// String renders the controller's effective configuration for startup logs.
func (lc *LoadController) String() string {
	return fmt.Sprintf("jobs_min=%d jobs_max=%d jobs_max_delta=%.2f jobs_min_delta=%.2f interval=%s",
		lc.cfg.JobsMin, lc.cfg.JobsMax, lc.cfg.JobsMaxDelta, lc.cfg.JobsMinDelta, lc.cfg.CheckInterval)
}
