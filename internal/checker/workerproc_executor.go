package checker

import (
	"fmt"
	"syscall"
	"time"

	"github.com/corvidwatch/sentryd/internal/objects"
	"github.com/corvidwatch/sentryd/internal/workerproc"
)

// WorkerPoolExecutor adapts a workerproc.Manager to the same Submit surface
// as Executor, so the scheduler can dispatch checks to real forked worker
// processes instead of the in-process fork-server shell.
type WorkerPoolExecutor struct {
	mgr      *workerproc.Manager
	resultCh chan *objects.CheckResult
}

// NewWorkerPoolExecutor starts n worker children re-executing binary and
// returns an executor that forwards completed jobs onto resultCh.
func NewWorkerPoolExecutor(mgr *workerproc.Manager, n int, resultCh chan *objects.CheckResult) (*WorkerPoolExecutor, error) {
	if err := mgr.Start(n); err != nil {
		return nil, err
	}
	return &WorkerPoolExecutor{mgr: mgr, resultCh: resultCh}, nil
}

// Submit dispatches one check to the worker pool. Matches Executor.Submit's
// signature so callers can swap between the two implementations.
func (e *WorkerPoolExecutor) Submit(hostName, svcDesc, command string, timeout time.Duration, checkOptions int, checkType int, latency float64) {
	start := time.Now()
	e.mgr.Submit(command, timeout, nil, func(res workerproc.Result, err error) {
		cr := &objects.CheckResult{
			HostName:           hostName,
			ServiceDescription: svcDesc,
			CheckType:          checkType,
			CheckOptions:       checkOptions,
			Latency:            latency,
			StartTime:          start,
			FinishTime:         time.Now(),
		}
		cr.ExecutionTime = cr.FinishTime.Sub(cr.StartTime).Seconds()

		if err != nil {
			cr.ExitedOK = false
			cr.ReturnCode = 2
			cr.Output = fmt.Sprintf("(could not dispatch check: %v)", err)
			e.resultCh <- cr
			return
		}

		cr.EarlyTimeout = res.EarlyTimeout
		cr.ExitedOK = res.ExitedOK
		if res.ExitedOK {
			if ws := syscall.WaitStatus(res.WaitStatus); ws.Exited() {
				cr.ReturnCode = ws.ExitStatus()
			}
			cr.Output = res.Stdout
			if cr.Output == "" && res.Stderr != "" {
				cr.Output = "(No output on stdout) stderr: " + res.Stderr
			}
		} else {
			cr.ReturnCode = 2
			cr.Output = res.Stdout
		}
		e.resultCh <- cr
	})
}

// Stop terminates the worker pool.
func (e *WorkerPoolExecutor) Stop() {
	e.mgr.Stop()
}

// Workers returns the number of live worker processes.
func (e *WorkerPoolExecutor) Workers() int {
	return e.mgr.WorkerCount()
}

// InFlight returns the number of checks currently dispatched to workers
// awaiting a result.
func (e *WorkerPoolExecutor) InFlight() int {
	return e.mgr.InFlightJobs()
}
