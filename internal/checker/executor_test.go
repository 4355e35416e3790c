package checker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvidwatch/sentryd/internal/objects"
)

func drain(t *testing.T, ch chan *objects.CheckResult, n int) []*objects.CheckResult {
	t.Helper()
	out := make([]*objects.CheckResult, 0, n)
	for len(out) < n {
		select {
		case cr := <-ch:
			out = append(out, cr)
		case <-time.After(30 * time.Second):
			t.Fatalf("timed out after %d/%d results", len(out), n)
		}
	}
	return out
}

// Submit must never block the event loop, even with far more jobs than
// workers and a result channel nobody is draining yet; blocking there is
// the classic "workers wait on results, scheduler waits on Submit"
// deadlock.
func TestExecutorSubmitNeverBlocks(t *testing.T) {
	resultCh := make(chan *objects.CheckResult, 4)
	e := NewExecutor(4, resultCh)

	submitted := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			e.Submit("host", "svc", "/usr/bin/true", 5*time.Second, 0, 0, 0)
		}
		close(submitted)
	}()

	select {
	case <-submitted:
	case <-time.After(3 * time.Second):
		t.Fatal("Submit blocked with a full pool")
	}
	drain(t, resultCh, 20)
}

func TestExecutorHonorsConcurrencyCeiling(t *testing.T) {
	resultCh := make(chan *objects.CheckResult, 100)
	e := NewExecutor(4, resultCh)

	for i := 0; i < 12; i++ {
		e.Submit("host", "svc", "sleep 0.1", 5*time.Second, 0, 0, 0)
	}
	time.Sleep(50 * time.Millisecond)
	require.LessOrEqual(t, e.JobsRunning(), int64(4))
	drain(t, resultCh, 12)
}

func TestExecutorResultContents(t *testing.T) {
	resultCh := make(chan *objects.CheckResult, 2)
	e := NewExecutor(2, resultCh)

	e.Submit("web-01", "Echo", "echo SERVICE OK", 5*time.Second, 0, objects.CheckTypeActive, 0.25)
	cr := drain(t, resultCh, 1)[0]

	require.Equal(t, "web-01", cr.HostName)
	require.Equal(t, "Echo", cr.ServiceDescription)
	require.Equal(t, 0, cr.ReturnCode)
	require.Equal(t, "SERVICE OK", cr.Output)
	require.Equal(t, 0.25, cr.Latency)
	require.True(t, cr.ExitedOK)
	require.False(t, cr.StartTime.IsZero())

	e.Submit("web-01", "Fail", "exit 2", 5*time.Second, 0, objects.CheckTypeActive, 0)
	cr = drain(t, resultCh, 1)[0]
	require.Equal(t, 2, cr.ReturnCode)
}

func TestExecutorDefaultPoolSize(t *testing.T) {
	e := NewExecutor(0, make(chan *objects.CheckResult, 1))
	require.Equal(t, 256, e.Workers())
}

func TestExecutorCompletesEverySubmittedJob(t *testing.T) {
	const jobs = 50
	resultCh := make(chan *objects.CheckResult, jobs)
	e := NewExecutor(8, resultCh)
	for i := 0; i < jobs; i++ {
		e.Submit("host", "svc", "/usr/bin/true", 5*time.Second, 0, 0, 0)
	}
	drain(t, resultCh, jobs)
}

func TestRunDetachedFiresCommand(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ocsp-ran")
	RunDetached("touch "+marker, 5*time.Second)

	require.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 3*time.Second, 10*time.Millisecond, "expected detached command to create the marker file")
}
