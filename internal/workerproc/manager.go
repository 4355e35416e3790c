// Package workerproc implements the fork/exec worker pool and framed
// socketpair protocol: the manager process forks N worker children, frames
// jobs and results across a unix datagram socketpair, and reaps dead
// workers, respawning up to a retry cap.
package workerproc

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/corvidwatch/sentryd/internal/kvcodec"
)

// WorkerEnvVar, when present in a re-exec'd child's environment, carries the
// inherited-fd number the child should treat as its manager socket.
const WorkerEnvVar = "SENTRYD_WORKER_FD"

// maxRespawnAttempts bounds how many times the manager will replace a dead
// worker before giving up on that slot entirely.
const maxRespawnAttempts = 5

// ResultCallback is invoked once per completed job, on the manager's
// receive-path goroutine dispatch (never on the domain/event-loop
// goroutine — callers that touch the object graph must hop back via their
// own channel, matching scheduler.Scheduler's resultCh pattern).
type ResultCallback func(Result, error)

type worker struct {
	cmd      *exec.Cmd
	c        *conn
	outstand atomic.Int64
	name     string
	pid      int
	dead     atomic.Bool
	attempts int
	jobs     sync.Map // job_id(uint64) -> struct{}, outstanding jobs assigned to this worker
}

// Manager owns the worker pool and the job_id/round-robin bookkeeping.
type Manager struct {
	log    zerolog.Logger
	binary string // path to re-exec for worker children

	mu      sync.Mutex
	workers []*worker

	nextJobID atomic.Uint64
	pending   sync.Map // job_id(uint64) -> ResultCallback

	stopped atomic.Bool

	loadCtl  *LoadController
	inFlight atomic.Int64
}

// SetLoadController attaches a load-aware in-flight job ceiling
// (jobs_min <= jobs_limit <= jobs_max). Submit rejects new jobs once
// m.inFlight reaches the controller's current Limit(). Must be called
// before Start.
func (m *Manager) SetLoadController(lc *LoadController) {
	m.loadCtl = lc
}

// NewManager creates a Manager that will re-exec binary (typically
// os.Args[0]) to spawn worker children.
func NewManager(binary string, log zerolog.Logger) *Manager {
	return &Manager{binary: binary, log: log}
}

// Start forks n worker children and waits for each to complete its
// registration banner handshake.
func (m *Manager) Start(n int) error {
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		w, err := m.spawnWorker()
		if err != nil {
			m.log.Error().Err(err).Int("index", i).Msg("failed to spawn worker")
			continue
		}
		m.mu.Lock()
		m.workers = append(m.workers, w)
		m.mu.Unlock()
	}
	if len(m.workers) == 0 {
		return fmt.Errorf("workerproc: failed to start any workers")
	}
	return nil
}

func (m *Manager) spawnWorker() (*worker, error) {
	ours, theirs, err := socketpair()
	if err != nil {
		return nil, fmt.Errorf("socketpair: %w", err)
	}
	defer theirs.Close()

	cmd := exec.Command(m.binary, "--worker-internal")
	cmd.ExtraFiles = []*os.File{theirs}
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=3", WorkerEnvVar))
	if err := cmd.Start(); err != nil {
		ours.Close()
		return nil, fmt.Errorf("start worker: %w", err)
	}

	nc, err := net.FileConn(ours)
	ours.Close()
	if err != nil {
		cmd.Process.Kill()
		return nil, fmt.Errorf("wrap worker socket: %w", err)
	}

	banner, err := readBannerRaw(nc)
	if err != nil {
		nc.Write([]byte(fmt.Sprintf("registration failed: %v", err)))
		cmd.Process.Kill()
		return nil, fmt.Errorf("worker registration: %w", err)
	}
	name, _ := banner.Get("name")
	if _, err := nc.Write([]byte("OK")); err != nil {
		cmd.Process.Kill()
		return nil, fmt.Errorf("ack worker registration: %w", err)
	}

	w := &worker{
		cmd:  cmd,
		c:    newConn(nc),
		name: name,
		pid:  cmd.Process.Pid,
	}
	go m.watchWorker(w)
	go m.receiveLoop(w)
	return w, nil
}

// watchWorker waits for a worker process to exit and, unless the manager is
// shutting down, surfaces job failures for its outstanding jobs and
// respawns a replacement.
func (m *Manager) watchWorker(w *worker) {
	err := w.cmd.Wait()
	w.dead.Store(true)
	w.c.close()
	if m.stopped.Load() {
		return
	}
	m.log.Warn().Str("worker", w.name).Int("pid", w.pid).Err(err).Msg("worker process exited")

	w.jobs.Range(func(key, _ any) bool {
		jobID := key.(uint64)
		w.jobs.Delete(jobID)
		if cb, ok := m.pending.LoadAndDelete(jobID); ok {
			m.inFlight.Add(-1)
			cb.(ResultCallback)(Result{}, fmt.Errorf("workerproc: worker %q died before completing job %d", w.name, jobID))
		}
		return true
	})

	m.mu.Lock()
	for i, cur := range m.workers {
		if cur == w {
			m.workers = append(m.workers[:i], m.workers[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	if w.attempts >= maxRespawnAttempts {
		m.log.Error().Str("worker", w.name).Msg("worker exceeded respawn retry cap, not replacing")
		return
	}
	nw, err := m.spawnWorker()
	if err != nil {
		m.log.Error().Err(err).Msg("failed to respawn worker")
		return
	}
	nw.attempts = w.attempts + 1
	m.mu.Lock()
	m.workers = append(m.workers, nw)
	m.mu.Unlock()
}

// receiveLoop dispatches framed results arriving from one worker to their
// registered ResultCallback.
func (m *Manager) receiveLoop(w *worker) {
	for v := range w.c.msgCh {
		w.outstand.Add(-1)
		m.inFlight.Add(-1)
		res, err := decodeResult(v)
		w.jobs.Delete(res.JobID)
		cb, ok := m.pending.LoadAndDelete(res.JobID)
		if !ok {
			continue
		}
		callback := cb.(ResultCallback)
		if err != nil {
			callback(Result{}, err)
			continue
		}
		callback(res, nil)
	}
}

// Submit assigns a job_id, selects the least-loaded live worker by
// round-robin-over-outstanding-count, and frames+sends the job. cb is
// invoked exactly once, either with the worker's result or with an error if
// the job could not be delivered or the worker died before responding.
func (m *Manager) Submit(command string, timeout time.Duration, env []string, cb ResultCallback) {
	if m.loadCtl != nil && m.inFlight.Load() >= int64(m.loadCtl.Limit()) {
		cb(Result{}, fmt.Errorf("workerproc: load control active (limit=%d), deferring job", m.loadCtl.Limit()))
		return
	}

	w := m.pickWorker()
	if w == nil {
		cb(Result{}, fmt.Errorf("workerproc: no live workers available"))
		return
	}

	job := Job{
		ID:      m.nextJobID.Add(1),
		Token:   uuid.NewString(),
		Command: command,
		Timeout: timeout.Seconds(),
		Env:     env,
	}
	m.pending.Store(job.ID, cb)
	w.outstand.Add(1)
	w.jobs.Store(job.ID, struct{}{})
	m.inFlight.Add(1)

	if err := w.c.send(encodeJob(job)); err != nil {
		m.pending.Delete(job.ID)
		w.outstand.Add(-1)
		w.jobs.Delete(job.ID)
		m.inFlight.Add(-1)
		cb(Result{}, fmt.Errorf("workerproc: submit job: %w", err))
	}
}

func (m *Manager) pickWorker() *worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *worker
	for _, w := range m.workers {
		if w.dead.Load() {
			continue
		}
		if best == nil || w.outstand.Load() < best.outstand.Load() {
			best = w
		}
	}
	return best
}

// Stop terminates all worker processes. Outstanding jobs are not waited on.
func (m *Manager) Stop() {
	m.stopped.Store(true)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.workers {
		w.c.close()
		if w.cmd.Process != nil {
			w.cmd.Process.Kill()
		}
	}
}

// InFlightJobs returns the number of jobs currently submitted but not yet
// completed across all workers.
func (m *Manager) InFlightJobs() int {
	return int(m.inFlight.Load())
}

// WorkerCount returns the number of currently live workers.
func (m *Manager) WorkerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, w := range m.workers {
		if !w.dead.Load() {
			n++
		}
	}
	return n
}

func socketpair() (ours, theirs *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, nil, err
	}
	ours = os.NewFile(uintptr(fds[0]), "sentryd-worker-manager")
	theirs = os.NewFile(uintptr(fds[1]), "sentryd-worker-child")
	return ours, theirs, nil
}

// readBannerRaw reads exactly one datagram (the ekvstr-framed registration
// banner) without going through the framed-kvvec conn wrapper.
func readBannerRaw(nc net.Conn) (kvcodec.Vec, error) {
	buf := make([]byte, 4096)
	nc.SetReadDeadline(time.Now().Add(10 * time.Second))
	n, err := nc.Read(buf)
	nc.SetReadDeadline(time.Time{})
	if err != nil {
		return nil, err
	}
	return decodeBanner(string(buf[:n]))
}

func writeBannerRaw(nc net.Conn, v kvcodec.Vec) error {
	_, err := nc.Write([]byte(kvcodec.EncodeEkvstr(v)))
	return err
}
