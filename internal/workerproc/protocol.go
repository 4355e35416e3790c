package workerproc

import (
	"strconv"

	"github.com/corvidwatch/sentryd/internal/kvcodec"
)

// Job is a unit of work submitted to a worker: execute Command under a shell,
// with a wall-clock Timeout, and report back.
type Job struct {
	ID      uint64
	Token   string // opaque uuid correlation id, carried alongside the numeric job_id
	Command string
	Timeout float64 // seconds
	Env     []string
}

// Result mirrors every request key (minus env) plus the execution metadata
// the manager needs to build a CheckResult.
type Result struct {
	JobID      uint64
	Token      string
	Command    string
	Timeout    float64
	WaitStatus int
	Start      float64
	Stop       float64
	Runtime    float64
	ExitedOK   bool
	ErrorCode  string // set when ExitedOK is false

	RUtime   float64
	RStime   float64
	RMinflt  int64
	RMajflt  int64
	RInblock int64
	ROublock int64

	Stdout       string
	Stderr       string
	EarlyTimeout bool
}

func encodeJob(j Job) kvcodec.Vec {
	v := kvcodec.Vec{
		{Key: "job_id", Value: strconv.FormatUint(j.ID, 10)},
		{Key: "job_token", Value: j.Token},
		{Key: "timeout", Value: strconv.FormatFloat(j.Timeout, 'f', -1, 64)},
		{Key: "command", Value: j.Command},
	}
	for _, e := range j.Env {
		v = append(v, kvcodec.Pair{Key: "env", Value: stripNUL(e)})
	}
	return v
}

func decodeJob(v kvcodec.Vec) (Job, error) {
	var j Job
	idStr, _ := v.Get("job_id")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return Job{}, err
	}
	j.ID = id
	j.Token, _ = v.Get("job_token")
	j.Command, _ = v.Get("command")
	timeoutStr, _ := v.Get("timeout")
	j.Timeout, _ = strconv.ParseFloat(timeoutStr, 64)
	for _, p := range v {
		if p.Key == "env" {
			j.Env = append(j.Env, p.Value)
		}
	}
	return j, nil
}

func encodeResult(r Result) kvcodec.Vec {
	v := kvcodec.Vec{
		{Key: "job_id", Value: strconv.FormatUint(r.JobID, 10)},
		{Key: "job_token", Value: r.Token},
		{Key: "command", Value: r.Command},
		{Key: "timeout", Value: strconv.FormatFloat(r.Timeout, 'f', -1, 64)},
		{Key: "wait_status", Value: strconv.Itoa(r.WaitStatus)},
		{Key: "start", Value: strconv.FormatFloat(r.Start, 'f', 6, 64)},
		{Key: "stop", Value: strconv.FormatFloat(r.Stop, 'f', 6, 64)},
		{Key: "runtime", Value: strconv.FormatFloat(r.Runtime, 'f', 6, 64)},
		{Key: "exited_ok", Value: boolStr(r.ExitedOK)},
	}
	if r.ExitedOK {
		v = append(v,
			kvcodec.Pair{Key: "ru_utime", Value: strconv.FormatFloat(r.RUtime, 'f', 6, 64)},
			kvcodec.Pair{Key: "ru_stime", Value: strconv.FormatFloat(r.RStime, 'f', 6, 64)},
			kvcodec.Pair{Key: "ru_minflt", Value: strconv.FormatInt(r.RMinflt, 10)},
			kvcodec.Pair{Key: "ru_majflt", Value: strconv.FormatInt(r.RMajflt, 10)},
			kvcodec.Pair{Key: "ru_inblock", Value: strconv.FormatInt(r.RInblock, 10)},
			kvcodec.Pair{Key: "ru_oublock", Value: strconv.FormatInt(r.ROublock, 10)},
		)
	} else {
		v = append(v, kvcodec.Pair{Key: "error_code", Value: r.ErrorCode})
	}
	if r.EarlyTimeout {
		v = append(v, kvcodec.Pair{Key: "early_timeout", Value: "1"})
	}
	v = append(v,
		kvcodec.Pair{Key: "outerr", Value: truncateAtNUL(r.Stderr)},
		kvcodec.Pair{Key: "outstd", Value: truncateAtNUL(r.Stdout)},
	)
	return v
}

func decodeResult(v kvcodec.Vec) (Result, error) {
	var r Result
	idStr, _ := v.Get("job_id")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return Result{}, err
	}
	r.JobID = id
	r.Token, _ = v.Get("job_token")
	r.Command, _ = v.Get("command")
	timeoutStr, _ := v.Get("timeout")
	r.Timeout, _ = strconv.ParseFloat(timeoutStr, 64)
	waitStr, _ := v.Get("wait_status")
	r.WaitStatus, _ = strconv.Atoi(waitStr)
	startStr, _ := v.Get("start")
	r.Start, _ = strconv.ParseFloat(startStr, 64)
	stopStr, _ := v.Get("stop")
	r.Stop, _ = strconv.ParseFloat(stopStr, 64)
	runStr, _ := v.Get("runtime")
	r.Runtime, _ = strconv.ParseFloat(runStr, 64)
	exitedStr, _ := v.Get("exited_ok")
	r.ExitedOK = exitedStr == "1"
	if r.ExitedOK {
		r.RUtime = parseFloatOr(v, "ru_utime")
		r.RStime = parseFloatOr(v, "ru_stime")
		r.RMinflt = parseIntOr(v, "ru_minflt")
		r.RMajflt = parseIntOr(v, "ru_majflt")
		r.RInblock = parseIntOr(v, "ru_inblock")
		r.ROublock = parseIntOr(v, "ru_oublock")
	} else {
		r.ErrorCode, _ = v.Get("error_code")
	}
	if et, ok := v.Get("early_timeout"); ok && et == "1" {
		r.EarlyTimeout = true
	}
	r.Stderr, _ = v.Get("outerr")
	r.Stdout, _ = v.Get("outstd")
	return r, nil
}

func parseFloatOr(v kvcodec.Vec, key string) float64 {
	s, _ := v.Get(key)
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseIntOr(v kvcodec.Vec, key string) int64 {
	s, _ := v.Get(key)
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// stripNUL removes embedded NUL bytes from a value destined for the framed
// kvvec wire format; NUL is the pair separator and can't appear in a value.
func stripNUL(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != 0 {
			out = append(out, s[i])
		}
	}
	return string(out)
}

// truncateAtNUL returns s truncated at the first embedded NUL byte. Plugin
// stdout/stderr are raw bytes and may contain one.
func truncateAtNUL(s string) string {
	if i := indexByte(s, 0); i >= 0 {
		return s[:i]
	}
	return s
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
