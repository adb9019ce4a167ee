package main

import "math"

// noTrack is the session index when the catalog is empty or not loaded.
const noTrack = -1

// MapToIndex maps a selector value onto a catalog of size m, given a selector
// resolution of steps notches.
//
// The notch is clamped to the last track and then wrapped modulo m, so when the
// catalog has fewer tracks than the knob has notches several notches alias onto
// the same track. Callers must not pass m <= 0; noTrack is returned if they do.
func MapToIndex(value float64, m, steps int) int {
	if m <= 0 {
		return noTrack
	}
	notch := 0
	if steps > 1 {
		notch = int(math.Round(value / 100 * float64(steps-1)))
	}
	if notch < 0 {
		notch = 0
	}
	safe := notch
	if safe > m-1 {
		safe = m - 1
	}
	return safe % m
}

// NextNotch steps one notch clockwise, wrapping past the last notch to 0.
func NextNotch(notch, steps int) int {
	if steps <= 1 {
		return 0
	}
	notch++
	if notch > steps-1 {
		return 0
	}
	return notch
}

// PrevNotch steps one notch counter-clockwise, wrapping below 0 to the last notch.
func PrevNotch(notch, steps int) int {
	if steps <= 1 {
		return 0
	}
	notch--
	if notch < 0 {
		return steps - 1
	}
	return notch
}
