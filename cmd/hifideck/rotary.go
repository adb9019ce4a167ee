package main

import "time"

// RotaryConfig tunes how encoder detents move the selector.
type RotaryConfig struct {
	// VelocityWindowMS is the time window for fast-spin detection.
	VelocityWindowMS int
	// VelocityThreshold is how many same-direction detents inside the window
	// engage the multiplier.
	VelocityThreshold int
	// VelocityMultiplier scales notches per detent while spinning fast.
	VelocityMultiplier int
}

// stepRotary records one encoder detent and returns the updated history plus
// the number of same-direction detents within the velocity window (including
// this one). Older detents are pruned.
func stepRotary(st RotaryReducerState, direction int, now time.Time, windowMS int) (RotaryReducerState, int) {
	cutoff := now.Add(-time.Duration(windowMS) * time.Millisecond)

	kept := make([]RotaryReducerStep, 0, len(st.RecentSteps)+1)
	for _, s := range st.RecentSteps {
		if s.At.After(cutoff) {
			kept = append(kept, s)
		}
	}
	kept = append(kept, RotaryReducerStep{At: now, Direction: direction})

	sameDir := 0
	for _, s := range kept {
		if s.Direction == direction {
			sameDir++
		}
	}

	return RotaryReducerState{RecentSteps: kept}, sameDir
}

// rotaryNotches converts a RotaryTurn into a signed notch delta, applying the
// fast-spin multiplier.
func rotaryNotches(st RotaryReducerState, steps int, now time.Time, cfg RotaryConfig) (RotaryReducerState, int) {
	if steps == 0 {
		return st, 0
	}
	dir := 1
	n := steps
	if steps < 0 {
		dir = -1
		n = -steps
	}

	total := 0
	for i := 0; i < n; i++ {
		var count int
		st, count = stepRotary(st, dir, now, cfg.VelocityWindowMS)
		mult := 1
		if cfg.VelocityThreshold > 0 && count >= cfg.VelocityThreshold && cfg.VelocityMultiplier > 1 {
			mult = cfg.VelocityMultiplier
		}
		total += mult
	}
	return st, dir * total
}
