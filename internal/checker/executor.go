package checker

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/corvidwatch/sentryd/internal/objects"
)

// checkJob holds all parameters for a single check execution.
type checkJob struct {
	hostName     string
	svcDesc      string
	command      string
	timeout      time.Duration
	checkOptions int
	checkType    int
	latency      float64
}

// baseResult seeds the CheckResult fields every execution path fills in the
// same way.
func (j checkJob) baseResult() *objects.CheckResult {
	return &objects.CheckResult{
		HostName:           j.hostName,
		ServiceDescription: j.svcDesc,
		CheckType:          j.checkType,
		CheckOptions:       j.checkOptions,
		Latency:            j.latency,
		ExitedOK:           true,
	}
}

// Executor is the in-process fallback check runner: a fixed pool of workers
// reading jobs off a buffered channel, each owning a persistent shell
// (internal/checker/forkserver.go) so plugin runs don't fork from the large
// Go parent. The worker-process pool (WorkerPoolExecutor) is preferred;
// this executor takes over when worker children cannot be spawned.
type Executor struct {
	jobCh       chan checkJob
	jobsRunning atomic.Int64
	resultCh    chan *objects.CheckResult
	workers     int
	sentinel    string
}

// NewExecutor starts maxConcurrent workers feeding resultCh.
func NewExecutor(maxConcurrent int, resultCh chan *objects.CheckResult) *Executor {
	if maxConcurrent <= 0 {
		maxConcurrent = 256
	}
	e := &Executor{
		jobCh:    make(chan checkJob, maxConcurrent*4),
		resultCh: resultCh,
		workers:  maxConcurrent,
		// An unguessable sentinel keeps plugin output from spoofing the
		// shell protocol's end-of-command marker.
		sentinel: uuid.NewString(),
	}
	for i := 0; i < maxConcurrent; i++ {
		go e.worker()
	}
	return e
}

// Workers returns the configured pool size.
func (e *Executor) Workers() int { return e.workers }

// JobsRunning returns the number of checks currently executing.
func (e *Executor) JobsRunning() int64 { return e.jobsRunning.Load() }

// Submit queues a check without ever blocking the scheduler's event loop;
// when the buffer is full a short-lived goroutine absorbs the wait.
func (e *Executor) Submit(hostName, svcDesc, command string, timeout time.Duration, checkOptions int, checkType int, latency float64) {
	job := checkJob{
		hostName:     hostName,
		svcDesc:      svcDesc,
		command:      command,
		timeout:      timeout,
		checkOptions: checkOptions,
		checkType:    checkType,
		latency:      latency,
	}
	select {
	case e.jobCh <- job:
	default:
		go func() { e.jobCh <- job }()
	}
}

// Stop shuts the pool down; in-flight checks finish first.
func (e *Executor) Stop() {
	close(e.jobCh)
}

// RunDetached runs command in the background and discards its result. Used
// for fire-and-forget integrations (the obsessive-compulsive processor
// commands) that hand plugin output to an external system without feeding a
// CheckResult back into the scheduler.
func RunDetached(command string, timeout time.Duration) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := exec.CommandContext(ctx, "/bin/sh", "-c", command).Run(); err != nil {
			log.Printf("obsessive-compulsive processor command failed: %v", err)
		}
	}()
}

// worker drains the job channel through a persistent shell, respawning it
// once on failure before falling back to direct exec for that job.
func (e *Executor) worker() {
	sw, err := newShellWorker(e.sentinel)
	if err != nil {
		log.Printf("Fork server: could not start shell worker, falling back to direct exec: %v", err)
		sw = nil
	}
	defer func() {
		if sw != nil {
			sw.Close()
		}
	}()

	for job := range e.jobCh {
		e.jobsRunning.Add(1)
		cr := e.runViaShell(sw, job)
		if cr == nil {
			sw = e.respawnShell(sw)
			if cr = e.runViaShell(sw, job); cr == nil {
				cr = e.runDirect(job)
			}
		}
		e.jobsRunning.Add(-1)
		e.resultCh <- cr
	}
}

func (e *Executor) respawnShell(old *shellWorker) *shellWorker {
	if old != nil {
		old.Close()
	}
	sw, err := newShellWorker(e.sentinel)
	if err != nil {
		return nil
	}
	return sw
}

// runViaShell executes one check through the persistent shell. A nil return
// tells the caller the shell is unusable and the job should be retried
// elsewhere; a timeout that killed the shell still yields a result.
func (e *Executor) runViaShell(sw *shellWorker, job checkJob) *objects.CheckResult {
	if sw == nil || !sw.alive {
		return nil
	}

	cr := job.baseResult()
	cr.StartTime = time.Now()
	output, exitCode, err := sw.Run(job.command, job.timeout)
	cr.FinishTime = time.Now()
	cr.ExecutionTime = cr.FinishTime.Sub(cr.StartTime).Seconds()

	if err != nil {
		if !sw.alive {
			// The timeout killed the shell's process group.
			cr.EarlyTimeout = true
			cr.ReturnCode = 2
			cr.Output = fmt.Sprintf("(Check timed out after %.0f seconds)", job.timeout.Seconds())
			return cr
		}
		return nil
	}

	cr.ReturnCode = exitCode
	cr.Output = output
	return cr
}

// runDirect is the last-resort path: plain fork+exec with output capture.
func (e *Executor) runDirect(job checkJob) *objects.CheckResult {
	cr := job.baseResult()

	ctx, cancel := context.WithTimeout(context.Background(), job.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", job.command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	cr.StartTime = time.Now()
	err := cmd.Run()
	cr.FinishTime = time.Now()
	cr.ExecutionTime = cr.FinishTime.Sub(cr.StartTime).Seconds()

	switch {
	case err == nil:
		cr.ReturnCode = 0
	case ctx.Err() == context.DeadlineExceeded:
		cr.EarlyTimeout = true
		cr.ReturnCode = 2
		cr.Output = fmt.Sprintf("(Check timed out after %.0f seconds)", job.timeout.Seconds())
		return cr
	default:
		exitErr, isExit := err.(*exec.ExitError)
		if !isExit {
			cr.ReturnCode = 127
			cr.ExitedOK = false
			cr.Output = fmt.Sprintf("(Could not execute plugin: %v)", err)
			return cr
		}
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			cr.ReturnCode = ws.ExitStatus()
		} else {
			cr.ReturnCode = 2
			cr.ExitedOK = false
		}
	}

	switch {
	case stdout.Len() > 0:
		cr.Output = capOutput(stdout.String())
	case stderr.Len() > 0:
		cr.Output = "(No output on stdout) stderr: " + capOutput(stderr.String())
	}
	return cr
}

func capOutput(s string) string {
	if len(s) > shellOutputCap {
		return s[:shellOutputCap]
	}
	return s
}
