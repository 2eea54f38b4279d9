package pipeline

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planthopper/planthopper/internal/detection"
	"github.com/planthopper/planthopper/internal/pose"
)

var testIntrinsics = pose.Intrinsics{Fx: 920, Fy: 920, Cx: 640, Cy: 360}

// scriptedSource hands out a fixed list of frames, then reports closed.
type scriptedSource struct {
	frames []Frame
	next   int
}

func (s *scriptedSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.next >= len(s.frames) {
		return Frame{}, ErrSourceClosed
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

// frontoQuad projects a marker sitting square-on to the camera at the given
// distance.
func frontoQuad(edge, dist float64) pose.Quad {
	hx := testIntrinsics.Fx * (edge / 2) / dist
	hy := testIntrinsics.Fy * (edge / 2) / dist
	return pose.Quad{
		{X: testIntrinsics.Cx - hx, Y: testIntrinsics.Cy + hy},
		{X: testIntrinsics.Cx + hx, Y: testIntrinsics.Cy + hy},
		{X: testIntrinsics.Cx + hx, Y: testIntrinsics.Cy - hy},
		{X: testIntrinsics.Cx - hx, Y: testIntrinsics.Cy - hy},
	}
}

func TestPipelinePublishesDetectedMarkers(t *testing.T) {
	at := time.Now()
	src := &scriptedSource{frames: []Frame{
		{At: at, Corners: map[int]pose.Quad{3: frontoQuad(0.072, 0.8)}},
	}}
	store := detection.NewStore()
	p := New(src, pose.NewEstimator(0.072), store, testIntrinsics)

	err := p.Run(context.Background())
	require.ErrorIs(t, err, ErrSourceClosed)

	mp, ok := store.Get(3)
	require.True(t, ok)
	assert.Equal(t, 3, mp.MarkerID)
	assert.Equal(t, at, mp.CapturedAt)
	assert.InDelta(t, 0.8, mp.Distance, 0.01)
}

func TestPipelineEmptyFrameClearsStore(t *testing.T) {
	src := &scriptedSource{frames: []Frame{
		{At: time.Now(), Corners: map[int]pose.Quad{2: frontoQuad(0.072, 1.0)}},
		{At: time.Now(), Corners: map[int]pose.Quad{}},
	}}
	store := detection.NewStore()
	p := New(src, pose.NewEstimator(0.072), store, testIntrinsics)

	err := p.Run(context.Background())
	require.ErrorIs(t, err, ErrSourceClosed)

	assert.Equal(t, 0, store.Len())
	_, ok := store.Get(2)
	assert.False(t, ok)
}

func TestPipelineSkipsUnsolvableMarker(t *testing.T) {
	// Marker 7's corners are all the same point; marker 4 is fine.
	degenerate := pose.Quad{{X: 100, Y: 100}, {X: 100, Y: 100}, {X: 100, Y: 100}, {X: 100, Y: 100}}
	src := &scriptedSource{frames: []Frame{
		{At: time.Now(), Corners: map[int]pose.Quad{
			7: degenerate,
			4: frontoQuad(0.072, 0.6),
		}},
	}}
	store := detection.NewStore()
	p := New(src, pose.NewEstimator(0.072), store, testIntrinsics)

	err := p.Run(context.Background())
	require.ErrorIs(t, err, ErrSourceClosed)

	_, ok := store.Get(7)
	assert.False(t, ok)
	_, ok = store.Get(4)
	assert.True(t, ok)
}

func TestPipelineRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &scriptedSource{frames: []Frame{
		{At: time.Now(), Corners: map[int]pose.Quad{1: frontoQuad(0.072, 0.8)}},
	}}
	p := New(src, pose.NewEstimator(0.072), detection.NewStore(), testIntrinsics)

	err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestUDPSourceDeliversFrames(t *testing.T) {
	src, err := ListenUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer src.Close()

	conn, err := net.Dial("udp", src.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	// A malformed datagram is skipped, not fatal.
	_, err = conn.Write([]byte("{not json"))
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]any{
		"markers": []map[string]any{
			{"id": 5, "corners": [4][2]float64{{600, 400}, {680, 400}, {680, 320}, {600, 320}}},
		},
	})
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	frame, err := src.Next(ctx)
	require.NoError(t, err)
	require.Contains(t, frame.Corners, 5)
	assert.Equal(t, pose.Point2{X: 600, Y: 400}, frame.Corners[5][0])
	assert.False(t, frame.At.IsZero())
}

func TestUDPSourceNextHonorsCancel(t *testing.T) {
	src, err := ListenUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = src.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPlantFixtureCycle(t *testing.T) {
	src := NewPlantFixture(3, testIntrinsics, 0.072, 0.8, time.Millisecond)
	est := pose.NewEstimator(0.072)

	present, empty := 0, 0
	for i := 0; i < 10; i++ {
		frame, err := src.Next(context.Background())
		require.NoError(t, err)

		if len(frame.Corners) == 0 {
			empty++
			continue
		}
		present++

		poses := est.Estimate(frame.Corners, testIntrinsics, frame.At)
		require.Len(t, poses, 1)
		assert.Equal(t, 3, poses[0].MarkerID)
		assert.InDelta(t, 0.8, poses[0].Distance, 0.01)
		assert.InDelta(t, 0, poses[0].DX(), 0.001)
	}

	assert.Equal(t, 9, present)
	assert.Equal(t, 1, empty)
}
