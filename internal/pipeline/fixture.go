package pipeline

import (
	"context"
	"time"

	"github.com/planthopper/planthopper/internal/pose"
)

// FixtureSource replays a canned cycle of frames at a fixed interval. It
// stands in for a live detector in dev mode so the rest of the system can
// run without cameras attached.
type FixtureSource struct {
	frames   []Frame
	interval time.Duration
	next     int
}

// NewFixtureSource replays frames in order, wrapping around after the last
// one. interval defaults to 100ms when zero or negative.
func NewFixtureSource(frames []Frame, interval time.Duration) *FixtureSource {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &FixtureSource{frames: frames, interval: interval}
}

// NewPlantFixture builds a replay cycle that holds markerID fronto-parallel
// to the camera at the given distance, with a dropout frame every tenth
// frame to mimic detector flicker.
func NewPlantFixture(markerID int, intr pose.Intrinsics, edgeMeters, distanceMeters float64, interval time.Duration) *FixtureSource {
	hx := intr.Fx * (edgeMeters / 2) / distanceMeters
	hy := intr.Fy * (edgeMeters / 2) / distanceMeters
	quad := pose.Quad{
		{X: intr.Cx - hx, Y: intr.Cy + hy},
		{X: intr.Cx + hx, Y: intr.Cy + hy},
		{X: intr.Cx + hx, Y: intr.Cy - hy},
		{X: intr.Cx - hx, Y: intr.Cy - hy},
	}

	frames := make([]Frame, 10)
	for i := range frames {
		if i == 9 {
			frames[i] = Frame{Corners: map[int]pose.Quad{}}
			continue
		}
		frames[i] = Frame{Corners: map[int]pose.Quad{markerID: quad}}
	}
	return NewFixtureSource(frames, interval)
}

// Next returns the next frame in the cycle after the replay interval
// elapses, or ctx's error if cancelled first. Frame timestamps are set at
// delivery time.
func (s *FixtureSource) Next(ctx context.Context) (Frame, error) {
	if len(s.frames) == 0 {
		return Frame{}, ErrSourceClosed
	}

	t := time.NewTimer(s.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-t.C:
	}

	f := s.frames[s.next]
	s.next = (s.next + 1) % len(s.frames)

	out := Frame{At: time.Now(), Corners: make(map[int]pose.Quad, len(f.Corners))}
	for id, q := range f.Corners {
		out.Corners[id] = q
	}
	return out, nil
}
