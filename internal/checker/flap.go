package checker

import "github.com/corvidwatch/sentryd/internal/objects"

// Flap detection keeps a sliding window of the last N states per entity and
// scores how often consecutive entries differ. The score weights newer
// transitions more heavily than older ones, so a burst of recent bouncing
// registers faster than ancient history.
const (
	flapWindow = objects.MaxStateHistoryEntries // 21 entries

	// weight applied to the oldest/newest transition in the window; the
	// slots between interpolate linearly.
	flapWeightOldest = 0.75
	flapWeightNewest = 1.25

	defaultLowFlapThreshold  = 20.0
	defaultHighFlapThreshold = 30.0
)

// UpdateFlapHistory pushes newState into the circular window at *cursor and
// refreshes *percentChange with the window's weighted transition score.
func UpdateFlapHistory(window *[flapWindow]int, cursor *int, percentChange *float64, newState int) {
	window[*cursor] = newState
	*cursor = (*cursor + 1) % flapWindow
	*percentChange = CalculateFlapPercent(window, *cursor)
}

// CalculateFlapPercent scores the window starting from its oldest entry
// (the slot cursor points at). A fully stable window scores 0; a window
// alternating on every check scores 100.
func CalculateFlapPercent(window *[flapWindow]int, cursor int) float64 {
	step := (flapWeightNewest - flapWeightOldest) / float64(flapWindow-2)
	score := 0.0
	for age := 1; age < flapWindow; age++ {
		cur := window[(cursor+age)%flapWindow]
		prev := window[(cursor+age-1)%flapWindow]
		if cur != prev {
			score += flapWeightOldest + float64(age-1)*step
		}
	}
	return score * 100.0 / float64(flapWindow-1)
}

// CheckFlapping applies the hysteresis thresholds: flapping starts when the
// score climbs past high, and only stops once it falls below low. Returns
// the new flapping state and whether it changed.
func CheckFlapping(flapping bool, percentChange, low, high float64) (bool, bool) {
	if low <= 0 {
		low = defaultLowFlapThreshold
	}
	if high <= 0 {
		high = defaultHighFlapThreshold
	}
	switch {
	case !flapping && percentChange >= high:
		return true, true
	case flapping && percentChange < low:
		return false, true
	}
	return flapping, false
}

// ShouldRecordServiceFlapState filters which results feed the service flap
// window: SOFT non-OK states are retry noise, not state change evidence.
func ShouldRecordServiceFlapState(newState, stateType, lastState, lastHardState int) bool {
	return stateType != objects.StateTypeSoft || newState == objects.ServiceOK
}
