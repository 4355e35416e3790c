package checker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvidwatch/sentryd/internal/objects"
)

func TestFlapPercentStableWindowScoresZero(t *testing.T) {
	var window [flapWindow]int
	cursor := 0
	var pct float64
	for i := 0; i < flapWindow*2; i++ {
		UpdateFlapHistory(&window, &cursor, &pct, objects.ServiceOK)
	}
	require.Zero(t, pct)
}

func TestFlapPercentAlternatingWindowScoresFull(t *testing.T) {
	var window [flapWindow]int
	cursor := 0
	var pct float64
	for i := 0; i < flapWindow*2; i++ {
		state := objects.ServiceOK
		if i%2 == 1 {
			state = objects.ServiceCritical
		}
		UpdateFlapHistory(&window, &cursor, &pct, state)
	}
	// Every adjacent pair differs; the weights average to 1.0, so the score
	// lands on 100%.
	require.InDelta(t, 100.0, pct, 0.5)
}

func TestFlapPercentWeighsRecentTransitionsMore(t *testing.T) {
	// Exactly one transition at the very start of the window vs. one at the
	// end: the newer transition must score higher.
	var old, recent [flapWindow]int
	for i := 1; i < flapWindow; i++ {
		old[i] = 1
	}
	recent[flapWindow-1] = 1

	oldScore := CalculateFlapPercent(&old, 0)
	recentScore := CalculateFlapPercent(&recent, 0)
	require.Greater(t, recentScore, oldScore)
}

func TestCheckFlappingHysteresis(t *testing.T) {
	// Climb past high: start flapping.
	flapping, changed := CheckFlapping(false, 35, 20, 30)
	require.True(t, flapping)
	require.True(t, changed)

	// Between the thresholds: state holds, both directions.
	flapping, changed = CheckFlapping(true, 25, 20, 30)
	require.True(t, flapping)
	require.False(t, changed)
	flapping, changed = CheckFlapping(false, 25, 20, 30)
	require.False(t, flapping)
	require.False(t, changed)

	// Fall below low: stop flapping.
	flapping, changed = CheckFlapping(true, 15, 20, 30)
	require.False(t, flapping)
	require.True(t, changed)
}

func TestCheckFlappingDefaultThresholds(t *testing.T) {
	// Unset thresholds fall back to 20/30.
	flapping, _ := CheckFlapping(false, 29, 0, 0)
	require.False(t, flapping)
	flapping, _ = CheckFlapping(false, 31, 0, 0)
	require.True(t, flapping)
}

func TestShouldRecordServiceFlapState(t *testing.T) {
	require.False(t, ShouldRecordServiceFlapState(objects.ServiceCritical, objects.StateTypeSoft, objects.ServiceOK, objects.ServiceOK),
		"SOFT retries are noise, not flap evidence")
	require.True(t, ShouldRecordServiceFlapState(objects.ServiceOK, objects.StateTypeSoft, objects.ServiceCritical, objects.ServiceCritical),
		"SOFT recoveries do count")
	require.True(t, ShouldRecordServiceFlapState(objects.ServiceCritical, objects.StateTypeHard, objects.ServiceOK, objects.ServiceOK))
}
