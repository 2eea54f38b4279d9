// Package pipeline runs the continuous pose production loop: per-frame corner
// detections in, one complete snapshot published to the detection store out.
//
// The marker detector itself is an external collaborator; it delivers corner
// correspondences through a CornerSource. A source failure stops snapshot
// production but must not crash active control sessions, so Run simply
// returns the error and leaves the store holding the last snapshot.
package pipeline

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/planthopper/planthopper/internal/detection"
	"github.com/planthopper/planthopper/internal/monitoring"
	"github.com/planthopper/planthopper/internal/pose"
)

// ErrSourceClosed is returned by a CornerSource that has no more frames.
var ErrSourceClosed = errors.New("corner source closed")

// Frame is one frame's worth of corner detections.
type Frame struct {
	At      time.Time
	Corners map[int]pose.Quad
}

// CornerSource delivers per-frame corner detections. Next blocks until a
// frame is available, the source fails, or the context is cancelled.
type CornerSource interface {
	Next(ctx context.Context) (Frame, error)
}

// Movement thresholds for change logging.
const (
	positionLogThreshold = 0.01 // meters
	rotationLogThreshold = 2.0  // degrees
)

// Pipeline converts frames from a source into published snapshots.
type Pipeline struct {
	source    CornerSource
	estimator *pose.Estimator
	store     *detection.Store
	intr      pose.Intrinsics

	// prev holds the last logged state per marker for change detection.
	prev map[int]pose.MarkerPose
}

// New builds a pipeline.
func New(source CornerSource, estimator *pose.Estimator, store *detection.Store, intr pose.Intrinsics) *Pipeline {
	return &Pipeline{
		source:    source,
		estimator: estimator,
		store:     store,
		intr:      intr,
		prev:      make(map[int]pose.MarkerPose),
	}
}

// Run consumes frames until the source fails or the context is cancelled.
// Every frame produces a complete snapshot, including an empty one when
// nothing was detected, so stale markers disappear from the store.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := p.source.Next(ctx)
		if err != nil {
			return err
		}

		poses := p.estimator.Estimate(frame.Corners, p.intr, frame.At)
		snap := make(detection.Snapshot, len(poses))
		for _, mp := range poses {
			snap[mp.MarkerID] = mp
		}
		p.store.Publish(snap)
		p.logChanges(poses)
	}
}

// logChanges reports newly seen markers and markers that moved past the
// position or rotation thresholds.
func (p *Pipeline) logChanges(poses []pose.MarkerPose) {
	for _, mp := range poses {
		prev, seen := p.prev[mp.MarkerID]
		if !seen {
			monitoring.Logf("marker %d detected: dx=%+.3fm dist=%.3fm pitch=%+.1f°",
				mp.MarkerID, mp.DX(), mp.Distance, mp.Pitch)
			p.prev[mp.MarkerID] = mp
			continue
		}

		dist := translationDelta(prev, mp)
		rot := rotationDelta(prev, mp)
		if dist > positionLogThreshold || rot > rotationLogThreshold {
			monitoring.Logf("marker %d moved: Δpos=%.4fm Δrot=%.2f°", mp.MarkerID, dist, rot)
			p.prev[mp.MarkerID] = mp
		}
	}
}

func translationDelta(a, b pose.MarkerPose) float64 {
	var sum float64
	for i := 0; i < 3; i++ {
		d := a.Translation[i] - b.Translation[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func rotationDelta(a, b pose.MarkerPose) float64 {
	return math.Max(math.Abs(a.Roll-b.Roll),
		math.Max(math.Abs(a.Pitch-b.Pitch), math.Abs(a.Yaw-b.Yaw)))
}
