package bufferqueue

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnshiftToDelimSpansBlocks(t *testing.T) {
	q := New()
	q.PushCopy([]byte("Charlie Chaplin"))
	q.PushCopy([]byte("XXXxXXX"))

	got, err := q.UnshiftToDelim([]byte("XXXxXXX"))
	require.NoError(t, err)
	require.Equal(t, "Charlie ChaplinXXXxXXX", string(got))
	require.Equal(t, 0, q.Available())
}

func TestUnshiftToDelimChunkIndependence(t *testing.T) {
	s := "hello world\x01\x00\x00trailing"
	delim := []byte("\x01\x00\x00")

	for split := 0; split <= len(s); split++ {
		q := New()
		q.PushCopy([]byte(s[:split]))
		q.PushCopy([]byte(s[split:]))

		got, err := q.UnshiftToDelim(delim)
		require.NoErrorf(t, err, "split at %d", split)
		require.Equal(t, "hello world\x01\x00\x00", string(got), "split at %d", split)
	}
}

func TestUnshiftToDelimNoMatchLeavesQueueUnchanged(t *testing.T) {
	q := New()
	q.PushCopy([]byte("no delimiter here"))

	_, err := q.UnshiftToDelim([]byte("XYZ"))
	require.ErrorIs(t, err, ErrNoDelim)
	require.Equal(t, len("no delimiter here"), q.Available())
}

func TestPeekDropInvariant(t *testing.T) {
	q := New()
	q.PushCopy([]byte("abc"))
	q.PushCopy([]byte("defgh"))
	q.PushCopy([]byte("ij"))

	full := "abcdefghij"
	require.Equal(t, len(full), q.Available())

	require.NoError(t, q.Drop(3))
	require.Equal(t, len(full)-3, q.Available())

	out := make([]byte, 4)
	require.NoError(t, q.Peek(4, out))
	require.Equal(t, full[3:7], string(out))
	// peek must not consume
	require.Equal(t, len(full)-3, q.Available())
}

func TestUnshiftAtomic(t *testing.T) {
	q := New()
	q.PushCopy([]byte("0123456789"))

	out := make([]byte, 5)
	require.NoError(t, q.Unshift(5, out))
	require.Equal(t, "01234", string(out))
	require.Equal(t, 5, q.Available())

	require.NoError(t, q.Unshift(5, nil))
	require.Equal(t, 0, q.Available())
}

func TestShortQueueErrors(t *testing.T) {
	q := New()
	q.PushCopy([]byte("ab"))

	require.ErrorIs(t, q.Drop(5), ErrShortQueue)
	require.ErrorIs(t, q.Peek(5, make([]byte, 5)), ErrShortQueue)
}

func TestReadFromWriteToRoundtrip(t *testing.T) {
	payload := strings.Repeat("the quick brown fox ", 500)

	q := New()
	r := strings.NewReader(payload)
	total := 0
	for {
		n, err := q.ReadFrom(r)
		total += n
		require.NoError(t, err)
		if n == 0 {
			break
		}
	}
	require.Equal(t, len(payload), total)

	var out bytes.Buffer
	n, err := q.WriteTo(&out)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, out.String())
	require.Equal(t, 0, q.Available())
}

func TestEmbeddedZeroBytesInDelimiter(t *testing.T) {
	q := New()
	q.PushCopy([]byte("job_id=1\x00command=ls\x00"))
	q.PushCopy([]byte("\x01\x00\x00"))
	q.PushCopy([]byte("next message"))

	got, err := q.UnshiftToDelim([]byte("\x01\x00\x00"))
	require.NoError(t, err)
	require.Equal(t, "job_id=1\x00command=ls\x00\x01\x00\x00", string(got))
	require.Equal(t, len("next message"), q.Available())
}
