package control

import (
	"context"
	"fmt"
	"time"

	"github.com/planthopper/planthopper/internal/monitoring"
	"github.com/planthopper/planthopper/internal/pose"
	"github.com/planthopper/planthopper/internal/timeutil"
	"github.com/planthopper/planthopper/internal/wire"
)

// PoseReader is the non-blocking snapshot read a session depends on.
type PoseReader interface {
	Get(markerID int) (pose.MarkerPose, bool)
}

// LineSender is the serialized write path to the actuator.
type LineSender interface {
	Send(line string) error
}

// Session is the run-time state of one scan/fire acquisition. It is owned
// exclusively by the goroutine running it and destroyed after its single
// terminal outcome is reported.
type Session struct {
	req    Request
	store  PoseReader
	sender LineSender
	clock  timeutil.Clock

	// onCommand, if set, observes every encoded line before it is sent.
	onCommand func(line string)

	phase        Phase
	scanDeadline time.Time
	fireDeadline time.Time

	lastDX    float64
	lastDZ    float64
	lastPitch float64
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionClock replaces the wall clock, for tests.
func WithSessionClock(clock timeutil.Clock) SessionOption {
	return func(s *Session) { s.clock = clock }
}

// WithCommandObserver registers a hook invoked with every emitted line, used
// by the dispatcher to persist the command stream.
func WithCommandObserver(fn func(line string)) SessionOption {
	return func(s *Session) { s.onCommand = fn }
}

// NewSession builds a session for one request.
func NewSession(req Request, store PoseReader, sender LineSender, opts ...SessionOption) *Session {
	s := &Session{
		req:    req,
		store:  store,
		sender: sender,
		clock:  timeutil.RealClock{},
		phase:  PhaseScan,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drives the session to its terminal phase and returns its single
// outcome. Ticks are anchored to the wall clock: the next tick time advances
// by exactly one period per tick, never by the elapsed processing time, so
// the cadence does not drift under variable latency.
//
// Cancellation is cooperative: the context is checked every tick, giving a
// shutdown latency of at most one tick period. A cancelled session returns
// the context error and no outcome.
func (s *Session) Run(ctx context.Context) (Outcome, error) {
	if err := s.req.Validate(); err != nil {
		return Outcome{}, err
	}

	dt := s.req.tickPeriod()
	start := s.clock.Now()
	s.phase = PhaseScan
	s.scanDeadline = start.Add(s.req.ScanTimeout)
	s.lastPitch = s.req.DefaultPitch

	next := start
	for {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		s.step(s.clock.Now())
		if s.phase.terminal() {
			return s.outcome(), nil
		}

		next = next.Add(dt)
		wait := next.Sub(s.clock.Now())
		if wait < 0 {
			wait = 0
		}
		timer := s.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Outcome{}, ctx.Err()
		case <-timer.C():
		}
	}
}

// step executes one tick of the state machine at the given wall-clock time.
func (s *Session) step(now time.Time) {
	switch s.phase {
	case PhaseScan:
		if p, ok := s.store.Get(s.req.TargetMarkerID); ok {
			// Acquired: transition and emit the first fire-phase
			// intent on this same tick, not a scan intent.
			s.phase = PhaseFire
			s.fireDeadline = now.Add(s.req.FireDuration)
			s.lastDX, s.lastDZ, s.lastPitch = p.DX(), p.DZ(), p.Pitch
			s.emitFire()
			return
		}
		if !now.Before(s.scanDeadline) {
			// Deadline passed before a detection: no further intents.
			s.phase = PhaseDoneTimeout
			return
		}
		s.emit(wire.WaterIntent{
			Found:    false,
			Pitch:    s.req.DefaultPitch,
			Sweep:    s.scanDeadline.Sub(now).Seconds(),
			HasSweep: true,
		})

	case PhaseFire:
		if !now.Before(s.fireDeadline) {
			s.phase = PhaseDoneSuccess
			return
		}
		// Once acquired, keep firing for the full window: a transient
		// detection gap reuses the last known offsets rather than
		// reverting to scan.
		if p, ok := s.store.Get(s.req.TargetMarkerID); ok {
			s.lastDX, s.lastDZ, s.lastPitch = p.DX(), p.DZ(), p.Pitch
		}
		s.emitFire()
	}
}

func (s *Session) emitFire() {
	s.emit(wire.WaterIntent{
		Found: true,
		DX:    s.lastDX,
		DZ:    s.lastDZ,
		Pitch: s.lastPitch,
	})
}

// emit encodes and sends one intent. A write failure is logged and the tick
// proceeds: I/O failure never perturbs the state machine's timing or
// transitions.
func (s *Session) emit(intent wire.Intent) {
	line := intent.Encode()
	if s.onCommand != nil {
		s.onCommand(line)
	}
	if err := s.sender.Send(line); err != nil {
		monitoring.Logf("session target %d: serial write failed: %v", s.req.TargetMarkerID, err)
	}
}

func (s *Session) outcome() Outcome {
	if s.phase == PhaseDoneSuccess {
		return Outcome{Success: true}
	}
	return Outcome{
		Success: false,
		Reason:  fmt.Sprintf("scan timeout: target marker %d not acquired", s.req.TargetMarkerID),
	}
}
