package pose

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testIntrinsics = Intrinsics{Fx: 920, Fy: 920, Cx: 640, Cy: 360}

// rotZYX builds the rotation matrix Rz(yaw)*Ry(pitch)*Rx(roll) (intrinsic
// X->Y->Z), angles in degrees.
func rotZYX(rollDeg, pitchDeg, yawDeg float64) [3][3]float64 {
	r := rollDeg * math.Pi / 180
	p := pitchDeg * math.Pi / 180
	y := yawDeg * math.Pi / 180

	cr, sr := math.Cos(r), math.Sin(r)
	cp, sp := math.Cos(p), math.Sin(p)
	cy, sy := math.Cos(y), math.Sin(y)

	return [3][3]float64{
		{cy * cp, cy*sp*sr - sy*cr, cy*sp*cr + sy*sr},
		{sy * cp, sy*sp*sr + cy*cr, sy*sp*cr - cy*sr},
		{-sp, cp * sr, cp * cr},
	}
}

// projectQuad projects the four object-plane corners of a marker through the
// pinhole model for a given pose.
func projectQuad(e *Estimator, rot [3][3]float64, t [3]float64, intr Intrinsics) Quad {
	var q Quad
	for i := 0; i < 4; i++ {
		ox, oy := e.objectXY(i)
		cx := rot[0][0]*ox + rot[0][1]*oy + t[0]
		cyy := rot[1][0]*ox + rot[1][1]*oy + t[1]
		cz := rot[2][0]*ox + rot[2][1]*oy + t[2]
		q[i] = Point2{
			X: intr.Fx*cx/cz + intr.Cx,
			Y: intr.Fy*cyy/cz + intr.Cy,
		}
	}
	return q
}

func TestEulerRoundTrip(t *testing.T) {
	cases := []struct {
		name             string
		roll, pitch, yaw float64
	}{
		{"identity", 0, 0, 0},
		{"small angles", 5, -10, 15},
		{"large roll", 170, 20, -30},
		{"negative pitch", -12.5, -45, 60},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := rotZYX(tc.roll, tc.pitch, tc.yaw)
			roll, pitch, yaw := eulerXYZ(&r)

			assert.InDelta(t, tc.roll, degrees(roll), 1e-9)
			assert.InDelta(t, tc.pitch, degrees(pitch), 1e-9)
			assert.InDelta(t, tc.yaw, degrees(yaw), 1e-9)
		})
	}
}

func TestEulerGimbalLockYawIsZero(t *testing.T) {
	for _, pitchDeg := range []float64{90, -90} {
		r := rotZYX(25, pitchDeg, 40)
		_, pitch, yaw := eulerXYZ(&r)

		// At the singularity yaw is exactly zero, not merely small.
		assert.Equal(t, 0.0, yaw)
		assert.InDelta(t, pitchDeg, degrees(pitch), 1e-6)
	}
}

func TestEstimateRecoversKnownPose(t *testing.T) {
	e := NewEstimator(0.072)
	wantRot := rotZYX(5, -10, 15)
	wantT := [3]float64{0.12, -0.05, 0.80}

	quad := projectQuad(e, wantRot, wantT, testIntrinsics)
	at := time.Now()

	poses := e.Estimate(map[int]Quad{3: quad}, testIntrinsics, at)
	require.Len(t, poses, 1)

	got := poses[0]
	assert.Equal(t, 3, got.MarkerID)
	assert.Equal(t, at, got.CapturedAt)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, wantT[i], got.Translation[i], 1e-4)
	}
	assert.InDelta(t, 5, got.Roll, 0.01)
	assert.InDelta(t, -10, got.Pitch, 0.01)
	assert.InDelta(t, 15, got.Yaw, 0.01)
}

func TestEstimateDistanceIsTranslationNorm(t *testing.T) {
	e := NewEstimator(0.072)
	wantT := [3]float64{0.3, 0.1, 1.5}
	quad := projectQuad(e, rotZYX(0, 0, 0), wantT, testIntrinsics)

	poses := e.Estimate(map[int]Quad{1: quad}, testIntrinsics, time.Now())
	require.Len(t, poses, 1)

	p := poses[0]
	norm := math.Sqrt(p.Translation[0]*p.Translation[0] +
		p.Translation[1]*p.Translation[1] +
		p.Translation[2]*p.Translation[2])
	assert.InEpsilon(t, norm, p.Distance, 1e-12)
}

func TestEstimateSkipsDegenerateMarker(t *testing.T) {
	e := NewEstimator(0.072)

	good := projectQuad(e, rotZYX(0, 0, 0), [3]float64{0, 0, 1}, testIntrinsics)

	// All four corners collapsed onto one pixel: no unique homography.
	var bad Quad
	for i := range bad {
		bad[i] = Point2{X: 100, Y: 100}
	}

	poses := e.Estimate(map[int]Quad{
		1: good,
		2: bad,
	}, testIntrinsics, time.Now())

	require.Len(t, poses, 1)
	assert.Equal(t, 1, poses[0].MarkerID)
}

func TestEstimateEmptyInput(t *testing.T) {
	e := NewEstimator(0.072)

	assert.Empty(t, e.Estimate(nil, testIntrinsics, time.Now()))
	assert.Empty(t, e.Estimate(map[int]Quad{}, testIntrinsics, time.Now()))
}

func TestEstimateInvalidIntrinsics(t *testing.T) {
	e := NewEstimator(0.072)
	quad := projectQuad(e, rotZYX(0, 0, 0), [3]float64{0, 0, 1}, testIntrinsics)

	poses := e.Estimate(map[int]Quad{1: quad}, Intrinsics{}, time.Now())
	assert.Empty(t, poses)
}
