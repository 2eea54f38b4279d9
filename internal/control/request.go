// Package control runs the scan/fire acquisition sessions.
//
// A session is the bridge between the continuously updated detection snapshot
// and the actuator link: it polls the snapshot on a fixed cadence independent
// of camera frame rate, emits one command line per tick, and enforces hard
// wall-clock deadlines on both the scan and fire phases.
package control

import (
	"fmt"
	"time"
)

// Request describes one acquisition request. Immutable input to one session.
type Request struct {
	// TargetMarkerID is the fiducial the session must acquire.
	TargetMarkerID int

	// SendRateHz is the command cadence; the tick period is 1/SendRateHz.
	SendRateHz float64

	// ScanTimeout bounds the scan phase. If the target is not acquired
	// before the deadline the session ends in a timeout outcome.
	ScanTimeout time.Duration

	// FireDuration is how long to keep firing once the target is acquired.
	FireDuration time.Duration

	// DefaultPitch is the pitch in degrees sent while the target is
	// still unacquired.
	DefaultPitch float64
}

// Validate reports whether the request parameters can drive a session.
func (r Request) Validate() error {
	if r.SendRateHz <= 0 {
		return fmt.Errorf("send rate must be positive, got %v", r.SendRateHz)
	}
	if r.ScanTimeout <= 0 {
		return fmt.Errorf("scan timeout must be positive, got %v", r.ScanTimeout)
	}
	if r.FireDuration <= 0 {
		return fmt.Errorf("fire duration must be positive, got %v", r.FireDuration)
	}
	return nil
}

// tickPeriod returns the cadence interval dt = 1/SendRateHz.
func (r Request) tickPeriod() time.Duration {
	return time.Duration(float64(time.Second) / r.SendRateHz)
}

// Outcome is the single terminal report of one session.
type Outcome struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// Phase is the session state.
type Phase int

const (
	// PhaseScan is the initial phase: searching for the target before the
	// scan deadline.
	PhaseScan Phase = iota

	// PhaseFire holds after acquisition for the full fire window.
	PhaseFire

	// PhaseDoneSuccess is terminal: the fire window completed.
	PhaseDoneSuccess

	// PhaseDoneTimeout is terminal: the scan deadline elapsed without
	// acquisition.
	PhaseDoneTimeout
)

func (p Phase) String() string {
	switch p {
	case PhaseScan:
		return "SCAN"
	case PhaseFire:
		return "FIRE"
	case PhaseDoneSuccess:
		return "DONE_SUCCESS"
	case PhaseDoneTimeout:
		return "DONE_TIMEOUT"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// terminal reports whether the phase ends the session.
func (p Phase) terminal() bool {
	return p == PhaseDoneSuccess || p == PhaseDoneTimeout
}
