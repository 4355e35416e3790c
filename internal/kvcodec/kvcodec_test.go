package kvcodec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEkvstrEdgeCases(t *testing.T) {
	v, err := DecodeEkvstr(`a\;b=c`)
	require.NoError(t, err)
	require.Equal(t, Vec{{Key: "a;b", Value: "c"}}, v)

	v, err = DecodeEkvstr("=")
	require.NoError(t, err)
	require.Equal(t, Vec{{Key: "", Value: ""}}, v)

	_, err = DecodeEkvstr("==")
	require.Error(t, err)

	_, err = DecodeEkvstr("===")
	require.Error(t, err)
}

func TestEkvstrRoundtripAllBytes(t *testing.T) {
	var allBytes []byte
	for b := 0; b < 256; b++ {
		allBytes = append(allBytes, byte(b))
	}
	v := Vec{
		{Key: "plain", Value: string(allBytes)},
		{Key: "with;semi=and\\back", Value: "tab\ttab\nnewline\rcr"},
	}
	encoded := EncodeEkvstr(v)
	decoded, err := DecodeEkvstr(encoded)
	require.NoError(t, err)
	require.Equal(t, v, decoded)
}

func TestFramedRoundtrip(t *testing.T) {
	v := Vec{
		{Key: "job_id", Value: "42"},
		{Key: "timeout", Value: "60"},
		{Key: "command", Value: "/usr/lib/nagios/plugins/check_ping -H 10.0.0.1"},
	}
	encoded, err := EncodeFramed(v)
	require.NoError(t, err)
	require.Contains(t, string(encoded), "job_id=42")

	decoded, err := DecodeFramed(encoded)
	require.NoError(t, err)
	require.Equal(t, v, decoded)
}

func TestFramedRejectsEmbeddedNUL(t *testing.T) {
	_, err := EncodeFramed(Vec{{Key: "outstd", Value: "abc\x00def"}})
	require.Error(t, err)
}

func TestFramedMultipleMessagesDelimited(t *testing.T) {
	m1, _ := EncodeFramed(Vec{{Key: "a", Value: "1"}})
	m2, _ := EncodeFramed(Vec{{Key: "b", Value: "2"}})
	stream := append(append([]byte{}, m1...), m2...)

	idx := indexOfDelim(stream)
	require.True(t, idx > 0)
	first := stream[:idx+len(FrameDelimiter)]
	rest := stream[idx+len(FrameDelimiter):]

	v1, err := DecodeFramed(first)
	require.NoError(t, err)
	require.Equal(t, "1", mustGet(v1, "a"))

	v2, err := DecodeFramed(rest)
	require.NoError(t, err)
	require.Equal(t, "2", mustGet(v2, "b"))
}

func indexOfDelim(b []byte) int {
	for i := 0; i+len(FrameDelimiter) <= len(b); i++ {
		match := true
		for j, d := range FrameDelimiter {
			if b[i+j] != d {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func mustGet(v Vec, key string) string {
	val, _ := v.Get(key)
	return val
}
