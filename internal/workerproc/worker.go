package workerproc

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/corvidwatch/sentryd/internal/bufferqueue"
	"github.com/corvidwatch/sentryd/internal/iomux"
	"github.com/corvidwatch/sentryd/internal/kvcodec"
)

// pollCeilingMS caps how long the worker's event loop sleeps in one Poll, so
// deferred result frames queued by finished jobs go out promptly.
const pollCeilingMS = 250

// RunWorker is the entrypoint executed inside a forked worker child. fd is
// the inherited socket (the worker's end of the manager socketpair). After
// the registration handshake, all socket I/O happens on a single iomux event
// loop: the mux's deferred write queue carries result frames, the readable
// handler pops job frames off a bufferqueue. Only plugin process waits run
// on side goroutines; they hand their frames back via the thread-safe
// WritePacket. Returns when the manager closes its end.
func RunWorker(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("workerproc: set nonblocking: %w", err)
	}

	name := uuid.NewString()
	banner := encodeBanner(kvcodec.Vec{
		{Key: "name", Value: name},
		{Key: "pid", Value: strconv.Itoa(os.Getpid())},
	})
	if err := writeDatagram(fd, []byte(banner), 10*time.Second); err != nil {
		return fmt.Errorf("workerproc: send registration banner: %w", err)
	}
	ack, err := readDatagram(fd, 10*time.Second)
	if err != nil {
		return fmt.Errorf("workerproc: await registration ack: %w", err)
	}
	if string(ack) != "OK" {
		return fmt.Errorf("workerproc: registration rejected: %s", ack)
	}

	w := &workerSide{
		fd:    fd,
		mux:   iomux.New(8),
		readQ: bufferqueue.New(),
	}
	if err := w.mux.RegisterIn(fd, w.onJobReadable, nil); err != nil {
		return err
	}
	for !w.eof {
		if _, err := w.mux.Poll(pollCeilingMS); err != nil {
			return fmt.Errorf("workerproc: poll: %w", err)
		}
	}
	return nil
}

type workerSide struct {
	fd    int
	mux   *iomux.Mux
	readQ *bufferqueue.Queue
	eof   bool
}

// onJobReadable drains the manager socket into the read queue and forks one
// execution per complete job frame. Runs on the event-loop goroutine.
func (w *workerSide) onJobReadable(fd int, _ interface{}) {
	buf := make([]byte, 65536)
	n, err := unix.Read(fd, buf)
	if err == unix.EINTR || err == unix.EAGAIN {
		return
	}
	if err != nil || n == 0 {
		w.eof = true
		return
	}
	w.readQ.PushOwned(buf[:n])
	for {
		msg, derr := w.readQ.UnshiftToDelim(kvcodec.FrameDelimiter)
		if derr != nil {
			return
		}
		v, decErr := kvcodec.DecodeFramed(msg)
		if decErr != nil {
			continue
		}
		job, jerr := decodeJob(v)
		if jerr != nil {
			continue
		}
		go w.execute(job)
	}
}

// writeDatagram sends one datagram on a nonblocking fd, waiting for
// writability up to the deadline.
func writeDatagram(fd int, p []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		_, err := unix.Write(fd, p)
		if err == nil {
			return nil
		}
		if err != unix.EINTR && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			return err
		}
		remain := time.Until(deadline)
		if remain <= 0 {
			return unix.ETIMEDOUT
		}
		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		unix.Poll(pfd, int(remain/time.Millisecond)+1)
	}
}

// readDatagram receives one datagram on a nonblocking fd, waiting for
// readability up to the deadline.
func readDatagram(fd int, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(fd, buf)
		if err == nil && n > 0 {
			return buf[:n], nil
		}
		if err != nil && err != unix.EINTR && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			return nil, err
		}
		remain := time.Until(deadline)
		if remain <= 0 {
			return nil, unix.ETIMEDOUT
		}
		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		unix.Poll(pfd, int(remain/time.Millisecond)+1)
	}
}

// execute runs one job to completion and writes back exactly one result
// message. A STALE reap attempt never produces a second result.
func (w *workerSide) execute(job Job) {
	start := time.Now()
	res := Result{
		JobID:   job.ID,
		Token:   job.Token,
		Command: job.Command,
		Timeout: job.Timeout,
		Start:   floatUnix(start),
	}

	cmd := exec.Command("/bin/sh", "-c", job.Command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = append(os.Environ(), job.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		res.Stop = floatUnix(time.Now())
		res.ExitedOK = false
		res.ErrorCode = "ENOEXEC"
		res.Stdout = fmt.Sprintf("(could not execute plugin: %v)", err)
		w.send(res)
		return
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timeout := time.Duration(job.Timeout * float64(time.Second))
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		res.Stop = floatUnix(time.Now())
		res.Runtime = res.Stop - res.Start
		res.ExitedOK = true
		res.WaitStatus = waitStatusOf(err)
		if ru := rusageOf(cmd); ru != nil {
			res.RUtime = tvToFloat(ru.Utime)
			res.RStime = tvToFloat(ru.Stime)
			res.RMinflt = int64(ru.Minflt)
			res.RMajflt = int64(ru.Majflt)
			res.RInblock = int64(ru.Inblock)
			res.ROublock = int64(ru.Oublock)
		}
		res.Stdout = stdout.String()
		res.Stderr = stderr.String()
		w.send(res)

	case <-timer.C:
		err := w.killProcessGroup(cmd, done)
		res.Stop = floatUnix(time.Now())
		res.Runtime = res.Stop - res.Start
		res.ExitedOK = false
		res.ErrorCode = "ETIME"
		res.EarlyTimeout = true
		res.WaitStatus = waitStatusOf(err)
		res.Stdout = fmt.Sprintf("(check timed out after %.0f seconds)", job.Timeout)
		w.send(res)
	}
}

// killProcessGroup runs the timeout kill sequence: SIGKILL the
// whole process group, wait briefly for the reap, and if waitpid hasn't
// reaped the child yet, hand off to a STALE follow-up reap that retries in
// the background without emitting a second result (Scenario F).
func (w *workerSide) killProcessGroup(cmd *exec.Cmd, done chan error) error {
	pgid := cmd.Process.Pid
	syscall.Kill(-pgid, syscall.SIGKILL)

	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		if killErr := syscall.Kill(-pgid, 0); killErr == syscall.ESRCH {
			// Already gone; cmd.Wait() will complete shortly regardless.
			return <-done
		}
		go w.staleReap(pgid, done)
		return fmt.Errorf("ETIME")
	}
}

// staleReap retries the kill a few seconds later, as a STALE attempt. It
// produces no result of its own — execute() already sent one.
func (w *workerSide) staleReap(pgid int, done chan error) {
	time.Sleep(5 * time.Second)
	err := syscall.Kill(-pgid, syscall.SIGKILL)
	if err == syscall.ESRCH {
		return
	}
	select {
	case <-done:
	case <-time.After(10 * time.Second):
	}
}

// send frames one result and enqueues it on the mux's deferred write queue;
// safe to call from the per-job goroutines.
func (w *workerSide) send(res Result) {
	framed, err := kvcodec.EncodeFramed(encodeResult(res))
	if err != nil {
		return
	}
	w.mux.WritePacket(w.fd, framed)
}

func waitStatusOf(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return int(ws)
		}
	}
	return -1
}

func rusageOf(cmd *exec.Cmd) *syscall.Rusage {
	if cmd.ProcessState == nil {
		return nil
	}
	if ru, ok := cmd.ProcessState.SysUsage().(*syscall.Rusage); ok {
		return ru
	}
	return nil
}

func tvToFloat(tv syscall.Timeval) float64 {
	return float64(tv.Sec) + float64(tv.Usec)/1e6
}

func floatUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
