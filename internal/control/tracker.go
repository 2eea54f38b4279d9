package control

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/planthopper/planthopper/internal/monitoring"
	"github.com/planthopper/planthopper/internal/timeutil"
	"github.com/planthopper/planthopper/internal/wire"
)

// DefaultAlignTolerance is the horizontal offset in meters inside which the
// target counts as aligned.
const DefaultAlignTolerance = 0.02

// TrackRequest describes one continuous-tracking run: stream TRACK alignment
// reports for a target on a fixed cadence, asserting shoot while the target
// sits within the alignment tolerance.
type TrackRequest struct {
	TargetMarkerID int
	SendRateHz     float64
	Duration       time.Duration

	// AlignTolerance is the |dx| in meters inside which shoot is asserted.
	AlignTolerance float64

	// DefaultPitch is sent while the target is not detected.
	DefaultPitch float64
}

// Validate reports whether the request parameters can drive a tracking run.
func (r TrackRequest) Validate() error {
	if r.SendRateHz <= 0 {
		return fmt.Errorf("send rate must be positive, got %v", r.SendRateHz)
	}
	if r.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %v", r.Duration)
	}
	if r.AlignTolerance <= 0 {
		return fmt.Errorf("alignment tolerance must be positive, got %v", r.AlignTolerance)
	}
	return nil
}

func (r TrackRequest) tickPeriod() time.Duration {
	return time.Duration(float64(time.Second) / r.SendRateHz)
}

// Tracker streams TRACK lines for one target. Unlike a watering session it
// has no phases and no terminal outcome: it reports alignment state every
// tick for the full duration, shoot asserted only while aligned.
type Tracker struct {
	req    TrackRequest
	store  PoseReader
	sender LineSender
	clock  timeutil.Clock
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerClock replaces the wall clock, for tests.
func WithTrackerClock(clock timeutil.Clock) TrackerOption {
	return func(t *Tracker) { t.clock = clock }
}

// NewTracker builds a tracker for one request.
func NewTracker(req TrackRequest, store PoseReader, sender LineSender, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		req:    req,
		store:  store,
		sender: sender,
		clock:  timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run streams TRACK lines until the duration elapses or the context is
// cancelled. The cadence is anchored the same way a session's is: the next
// tick advances by exactly one period per tick.
func (t *Tracker) Run(ctx context.Context) error {
	if err := t.req.Validate(); err != nil {
		return err
	}

	dt := t.req.tickPeriod()
	start := t.clock.Now()
	deadline := start.Add(t.req.Duration)

	next := start
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !t.clock.Now().Before(deadline) {
			return nil
		}

		t.step()

		next = next.Add(dt)
		wait := next.Sub(t.clock.Now())
		if wait < 0 {
			wait = 0
		}
		timer := t.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C():
		}
	}
}

// step emits one TRACK report from the current snapshot.
func (t *Tracker) step() {
	intent := wire.TrackIntent{
		TargetID: t.req.TargetMarkerID,
		Pitch:    t.req.DefaultPitch,
	}
	if p, ok := t.store.Get(t.req.TargetMarkerID); ok {
		intent.Found = true
		intent.DX = p.DX()
		intent.Pitch = p.Pitch
		intent.Shoot = math.Abs(p.DX()) <= t.req.AlignTolerance
	}
	if err := t.sender.Send(intent.Encode()); err != nil {
		monitoring.Logf("tracker target %d: serial write failed: %v", t.req.TargetMarkerID, err)
	}
}
