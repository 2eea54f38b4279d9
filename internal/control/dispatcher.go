package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planthopper/planthopper/internal/monitoring"
	"github.com/planthopper/planthopper/internal/timeutil"
)

// WaterRequest is an acquisition request as delivered by the request source,
// addressed by plant id. Zero-valued tuning fields fall back to the
// dispatcher defaults.
type WaterRequest struct {
	PlantID      string        `json:"plant_id"`
	SendRateHz   float64       `json:"send_rate_hz,omitempty"`
	ScanTimeout  time.Duration `json:"scan_timeout,omitempty"`
	FireDuration time.Duration `json:"fire_duration,omitempty"`
	DefaultPitch float64       `json:"default_pitch_deg,omitempty"`
}

// Result pairs a request with its single terminal outcome.
type Result struct {
	PlantID   string  `json:"plant_id"`
	SessionID string  `json:"session_id"`
	Outcome   Outcome `json:"outcome"`
}

// SessionRecorder persists session outcomes and the command stream. All
// methods are best-effort from the dispatcher's point of view: a recording
// failure is logged and never affects the session.
type SessionRecorder interface {
	RecordSession(sessionID, plantID string, markerID int, out Outcome, started, finished time.Time) error
	RecordCommand(sessionID, line string, at time.Time) error
}

// Dispatcher turns water requests into scan/fire sessions. It does not assume
// only one session is active at a time: each request gets its own session
// goroutine, and the serial link serializes the physical writes.
type Dispatcher struct {
	store    PoseReader
	sender   LineSender
	clock    timeutil.Clock
	recorder SessionRecorder

	// markers maps plant id to target marker id.
	markers map[string]int

	defaults Request
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherClock replaces the wall clock, for tests.
func WithDispatcherClock(clock timeutil.Clock) DispatcherOption {
	return func(d *Dispatcher) { d.clock = clock }
}

// WithRecorder wires a persistence collaborator.
func WithRecorder(rec SessionRecorder) DispatcherOption {
	return func(d *Dispatcher) { d.recorder = rec }
}

// NewDispatcher builds a dispatcher. markers maps plant ids to marker ids;
// defaults supplies the session tuning used when a request leaves a field
// unset.
func NewDispatcher(store PoseReader, sender LineSender, markers map[string]int, defaults Request, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:    store,
		sender:   sender,
		clock:    timeutil.RealClock{},
		markers:  markers,
		defaults: defaults,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs one request to completion and returns its result. An unmapped
// plant id is a configuration error terminal to this request only; it never
// touches the store or the link. A cancelled session reports no outcome and
// returns the context error.
func (d *Dispatcher) Dispatch(ctx context.Context, wr WaterRequest) (Result, error) {
	sessionID := uuid.NewString()

	markerID, ok := d.markers[wr.PlantID]
	if !ok {
		out := Outcome{
			Success: false,
			Reason:  fmt.Sprintf("no marker mapping for plant %q", wr.PlantID),
		}
		d.record(sessionID, wr.PlantID, -1, out, d.clock.Now(), d.clock.Now())
		return Result{PlantID: wr.PlantID, SessionID: sessionID, Outcome: out}, nil
	}

	req := d.requestFor(markerID, wr)
	started := d.clock.Now()

	opts := []SessionOption{WithSessionClock(d.clock)}
	if d.recorder != nil {
		opts = append(opts, WithCommandObserver(func(line string) {
			if err := d.recorder.RecordCommand(sessionID, line, d.clock.Now()); err != nil {
				monitoring.Logf("session %s: record command: %v", sessionID, err)
			}
		}))
	}

	session := NewSession(req, d.store, d.sender, opts...)
	out, err := session.Run(ctx)
	if err != nil {
		return Result{}, err
	}

	d.record(sessionID, wr.PlantID, markerID, out, started, d.clock.Now())
	monitoring.Logf("session %s: plant %s marker %d finished: success=%t %s",
		sessionID, wr.PlantID, markerID, out.Success, out.Reason)
	return Result{PlantID: wr.PlantID, SessionID: sessionID, Outcome: out}, nil
}

// Run consumes requests until the context is cancelled or the channel closes,
// running each in its own goroutine and delivering results on out. It returns
// after all in-flight sessions have unwound.
func (d *Dispatcher) Run(ctx context.Context, requests <-chan WaterRequest, out chan<- Result) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case wr, ok := <-requests:
			if !ok {
				return
			}
			wg.Add(1)
			go func(wr WaterRequest) {
				defer wg.Done()
				res, err := d.Dispatch(ctx, wr)
				if err != nil {
					// Cancelled mid-session: no terminal report.
					return
				}
				select {
				case out <- res:
				case <-ctx.Done():
				}
			}(wr)
		}
	}
}

// requestFor merges a water request with the dispatcher defaults.
func (d *Dispatcher) requestFor(markerID int, wr WaterRequest) Request {
	req := d.defaults
	req.TargetMarkerID = markerID
	if wr.SendRateHz > 0 {
		req.SendRateHz = wr.SendRateHz
	}
	if wr.ScanTimeout > 0 {
		req.ScanTimeout = wr.ScanTimeout
	}
	if wr.FireDuration > 0 {
		req.FireDuration = wr.FireDuration
	}
	if wr.DefaultPitch != 0 {
		req.DefaultPitch = wr.DefaultPitch
	}
	return req
}

func (d *Dispatcher) record(sessionID, plantID string, markerID int, out Outcome, started, finished time.Time) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.RecordSession(sessionID, plantID, markerID, out, started, finished); err != nil {
		monitoring.Logf("session %s: record outcome: %v", sessionID, err)
	}
}
