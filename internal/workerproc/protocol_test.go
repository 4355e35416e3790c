package workerproc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvidwatch/sentryd/internal/kvcodec"
)

func TestJobRoundTrip(t *testing.T) {
	j := Job{
		ID:      7,
		Token:   "abc-123",
		Command: "/usr/lib/nagios/plugins/check_disk -w 10% -c 5% /",
		Timeout: 30,
		Env:     []string{"NAGIOS_HOSTNAME=web01", "NAGIOS_SERVICEDESC=Disk"},
	}
	v := encodeJob(j)
	got, err := decodeJob(v)
	require.NoError(t, err)
	require.Equal(t, j, got)
}

func TestResultRoundTripSuccess(t *testing.T) {
	r := Result{
		JobID:    3,
		Token:    "xyz",
		Command:  "check_ping -H 1.1.1.1",
		Timeout:  10,
		Start:    1000.0,
		Stop:     1001.5,
		Runtime:  1.5,
		ExitedOK: true,
		RUtime:   0.01,
		RStime:   0.02,
		RMinflt:  4,
		RMajflt:  0,
		RInblock: 1,
		ROublock: 2,
		Stdout:   "PING OK - Packet loss = 0%, RTA = 0.5 ms",
	}
	v := encodeResult(r)
	got, err := decodeResult(v)
	require.NoError(t, err)
	require.Equal(t, r, got)
}

func TestResultRoundTripFailure(t *testing.T) {
	r := Result{
		JobID:        9,
		Command:      "sleep 100",
		Timeout:      1,
		ExitedOK:     false,
		ErrorCode:    "ETIME",
		EarlyTimeout: true,
		Stdout:       "(check timed out after 1 seconds)",
	}
	v := encodeResult(r)
	got, err := decodeResult(v)
	require.NoError(t, err)
	require.Equal(t, r, got)
}

func TestResultTruncatesOutputAtEmbeddedNUL(t *testing.T) {
	r := Result{JobID: 1, ExitedOK: true, Stdout: "before\x00after"}
	v := encodeResult(r)
	got, err := decodeResult(v)
	require.NoError(t, err)
	require.Equal(t, "before", got.Stdout)
}

func TestBannerRoundTrip(t *testing.T) {
	banner := encodeBanner(kvcodec.Vec{
		{Key: "name", Value: "worker-1"},
		{Key: "pid", Value: "4242"},
	})
	require.True(t, strings.HasPrefix(banner, bannerPrefix))

	v, err := decodeBanner(banner)
	require.NoError(t, err)
	name, ok := v.Get("name")
	require.True(t, ok)
	require.Equal(t, "worker-1", name)
}
