package pose

import (
	"errors"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrDegenerate indicates the corner configuration does not admit a
	// unique homography (repeated or colinear corners).
	ErrDegenerate = errors.New("degenerate corner configuration")

	// ErrBehindCamera indicates the recovered pose places the marker at or
	// behind the image plane.
	ErrBehindCamera = errors.New("marker not in front of camera")
)

// Estimator solves the square-target planar pose for detected markers.
type Estimator struct {
	edge float64 // physical marker edge length in meters
}

// NewEstimator returns an Estimator for markers with the given physical edge
// length in meters.
func NewEstimator(edgeMeters float64) *Estimator {
	return &Estimator{edge: edgeMeters}
}

// Estimate solves one pose per detected marker. A per-marker solve failure is
// isolated: the marker is skipped and the remaining markers are still solved.
// No detections yields an empty result, not an error.
func (e *Estimator) Estimate(corners map[int]Quad, intr Intrinsics, capturedAt time.Time) []MarkerPose {
	if len(corners) == 0 || !intr.Valid() {
		return nil
	}

	poses := make([]MarkerPose, 0, len(corners))
	for id, quad := range corners {
		r, t, err := e.solveSquare(quad, intr)
		if err != nil {
			continue
		}

		roll, pitch, yaw := eulerXYZ(r)
		poses = append(poses, MarkerPose{
			MarkerID:    id,
			Translation: t,
			Roll:        degrees(roll),
			Pitch:       degrees(pitch),
			Yaw:         degrees(yaw),
			Distance:    math.Sqrt(t[0]*t[0] + t[1]*t[1] + t[2]*t[2]),
			CapturedAt:  capturedAt,
		})
	}
	return poses
}

// objectXY returns the marker-plane coordinates of corner i, matching the
// detector corner order (top-left, top-right, bottom-right, bottom-left) with
// +Y up and the marker centre at the origin.
func (e *Estimator) objectXY(i int) (x, y float64) {
	h := e.edge / 2
	switch i {
	case 0:
		return -h, h
	case 1:
		return h, h
	case 2:
		return h, -h
	default:
		return -h, -h
	}
}

// solveSquare recovers rotation and translation from the four corner
// correspondences of one marker: the homography from the marker plane to
// normalized image coordinates is estimated by DLT, then decomposed into
// [r1 r2 t] with the rotation re-orthonormalized by SVD.
func (e *Estimator) solveSquare(q Quad, intr Intrinsics) (*[3][3]float64, [3]float64, error) {
	var zero [3]float64

	// Build the 8x9 DLT system in normalized image coordinates.
	a := mat.NewDense(8, 9, nil)
	for i := 0; i < 4; i++ {
		ox, oy := e.objectXY(i)
		nx := (q[i].X - intr.Cx) / intr.Fx
		ny := (q[i].Y - intr.Cy) / intr.Fy

		a.SetRow(2*i, []float64{ox, oy, 1, 0, 0, 0, -nx * ox, -nx * oy, -nx})
		a.SetRow(2*i+1, []float64{0, 0, 0, ox, oy, 1, -ny * ox, -ny * oy, -ny})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFullV) {
		return nil, zero, ErrDegenerate
	}

	// Rank below 8 means the null space is not unique: the corners are
	// repeated or colinear.
	sigma := svd.Values(nil)
	if sigma[0] == 0 || sigma[7]/sigma[0] < 1e-9 {
		return nil, zero, ErrDegenerate
	}

	var v mat.Dense
	svd.VTo(&v)
	h := make([]float64, 9)
	for i := range h {
		h[i] = v.At(i, 8)
	}

	// Columns of the homography: r1 ~ (h0,h3,h6), r2 ~ (h1,h4,h7),
	// t ~ (h2,h5,h8).
	n1 := math.Sqrt(h[0]*h[0] + h[3]*h[3] + h[6]*h[6])
	n2 := math.Sqrt(h[1]*h[1] + h[4]*h[4] + h[7]*h[7])
	if n1 < 1e-12 || n2 < 1e-12 {
		return nil, zero, ErrDegenerate
	}
	lambda := 2 / (n1 + n2)

	r1 := [3]float64{lambda * h[0], lambda * h[3], lambda * h[6]}
	r2 := [3]float64{lambda * h[1], lambda * h[4], lambda * h[7]}
	t := [3]float64{lambda * h[2], lambda * h[5], lambda * h[8]}

	// The DLT null vector has arbitrary sign; the marker must sit in front
	// of the camera.
	if t[2] < 0 {
		for i := 0; i < 3; i++ {
			r1[i], r2[i], t[i] = -r1[i], -r2[i], -t[i]
		}
	}
	if t[2] < 1e-9 {
		return nil, zero, ErrBehindCamera
	}

	r3 := cross(r1, r2)
	r0 := mat.NewDense(3, 3, []float64{
		r1[0], r2[0], r3[0],
		r1[1], r2[1], r3[1],
		r1[2], r2[2], r3[2],
	})

	rot, err := orthonormalize(r0)
	if err != nil {
		return nil, zero, err
	}
	return rot, t, nil
}

// orthonormalize projects an approximate rotation onto SO(3) via SVD:
// R = U * diag(1, 1, det(U V^T)) * V^T.
func orthonormalize(r0 *mat.Dense) (*[3][3]float64, error) {
	var svd mat.SVD
	if !svd.Factorize(r0, mat.SVDFull) {
		return nil, ErrDegenerate
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var uvt mat.Dense
	uvt.Mul(&u, v.T())
	d := mat.Det(&uvt)

	sign := mat.NewDiagDense(3, []float64{1, 1, d})
	var tmp, r mat.Dense
	tmp.Mul(&u, sign)
	r.Mul(&tmp, v.T())

	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = r.At(i, j)
		}
	}
	return &out, nil
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}
