package main

import (
	"math"
	"time"
)

// VelocityMode selects how "press-and-hold" on the volume keys behaves.
//
// Accelerating mode (default):
//   - MaxPerS: maximum velocity in %/s
//   - AccelTime: time to reach max velocity
//   - DecayTau: exponential decay time constant after release
//
// Constant mode:
//   - MaxPerS: base hold rate in %/s
//   - AccelTime: turbo multiplier (if > 1)
//   - DecayTau: turbo activation delay in seconds (0 = immediate turbo)
type VelocityMode string

const (
	VelocityModeAccelerating VelocityMode = "accelerating"
	VelocityModeConstant     VelocityMode = "constant"
)

// VelocityConfig contains all tunable parameters for the hold controller.
type VelocityConfig struct {
	Mode VelocityMode

	MaxPerS   float64
	AccelTime float64
	DecayTau  float64

	// Auto-release if no hold events arrive in this duration. 0 disables it.
	HoldTimeout time.Duration

	// Max dt integrated per step (seconds). 0 disables clamping.
	MaxDt float64
}

// StepVolumeController advances the hold controller by dt seconds and returns
// the next controller state and the new target volume (percent, 0..100).
//
// baseline is the position the controller integrates from. The reducer passes
// the controller's own Target so sub-percent steps accumulate across ticks.
func StepVolumeController(ctrl VolumeControllerState, baseline float64, dt float64, now time.Time, cfg VelocityConfig) (VolumeControllerState, float64) {
	ctrl.Target = baseline

	if dt <= 0 {
		return ctrl, ctrl.Target
	}
	if cfg.MaxDt > 0 && dt > cfg.MaxDt {
		dt = cfg.MaxDt
	}

	// Hold-timeout: treat a silent hold as released.
	if ctrl.HeldDirection != 0 && cfg.HoldTimeout > 0 && !ctrl.LastHeldAt.IsZero() {
		if now.Sub(ctrl.LastHeldAt) > cfg.HoldTimeout {
			ctrl.HeldDirection = 0
			ctrl.HoldBeganAt = time.Time{}
		}
	}

	switch cfg.Mode {
	case VelocityModeConstant:
		rate := float64(ctrl.HeldDirection) * cfg.MaxPerS

		if ctrl.HeldDirection != 0 {
			mult := cfg.AccelTime
			if mult < 1 {
				mult = 1
			}
			delay := cfg.DecayTau
			if delay < 0 {
				delay = 0
			}
			if mult > 1 {
				if delay == 0 {
					rate *= mult
				} else if !ctrl.HoldBeganAt.IsZero() && now.Sub(ctrl.HoldBeganAt) >= time.Duration(delay*float64(time.Second)) {
					rate *= mult
				}
			}
		}
		ctrl.Velocity = 0
		ctrl.Target += rate * dt

	default:
		accel := 0.0
		if cfg.AccelTime > 0 {
			accel = cfg.MaxPerS / cfg.AccelTime
		}

		// Reverse immediately on direction change.
		if (ctrl.HeldDirection == 1 && ctrl.Velocity < 0) || (ctrl.HeldDirection == -1 && ctrl.Velocity > 0) {
			ctrl.Velocity = 0
		}

		switch ctrl.HeldDirection {
		case 1:
			ctrl.Velocity += accel * dt
			if ctrl.Velocity > cfg.MaxPerS {
				ctrl.Velocity = cfg.MaxPerS
			}
		case -1:
			ctrl.Velocity -= accel * dt
			if ctrl.Velocity < -cfg.MaxPerS {
				ctrl.Velocity = -cfg.MaxPerS
			}
		default:
			if cfg.DecayTau <= 0 {
				ctrl.Velocity = 0
			} else {
				ctrl.Velocity *= math.Exp(-dt / cfg.DecayTau)
			}
		}

		ctrl.Target += ctrl.Velocity * dt
	}

	if ctrl.Target < 0 {
		ctrl.Target = 0
		ctrl.Velocity = 0
	}
	if ctrl.Target > 100 {
		ctrl.Target = 100
		ctrl.Velocity = 0
	}

	return ctrl, ctrl.Target
}
