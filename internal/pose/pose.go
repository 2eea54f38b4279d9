// Package pose estimates the 6-DOF pose of planar fiducial markers from
// per-frame corner detections and camera intrinsics.
//
// The detection primitive that turns pixels into corner correspondences is an
// external collaborator; this package starts from the four image-plane corners
// of each marker and a known physical edge length, and solves the planar
// perspective pose for each marker independently.
package pose

import (
	"math"
	"time"
)

// Point2 is an image-plane point in pixels.
type Point2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Quad holds the four detected corners of one marker in detector order:
// top-left, top-right, bottom-right, bottom-left.
type Quad [4]Point2

// Intrinsics is the pinhole camera model used for pose recovery. Corner
// detections are expected to be undistorted before they reach the estimator.
type Intrinsics struct {
	Fx float64 `json:"fx"`
	Fy float64 `json:"fy"`
	Cx float64 `json:"cx"`
	Cy float64 `json:"cy"`
}

// Valid reports whether the intrinsics describe a usable camera model.
func (in Intrinsics) Valid() bool {
	return in.Fx > 0 && in.Fy > 0
}

// MarkerPose is the estimated pose of one marker relative to the camera.
// Immutable once constructed.
type MarkerPose struct {
	MarkerID int

	// Translation is the marker origin in the camera frame, in meters.
	Translation [3]float64

	// Roll, Pitch and Yaw are intrinsic X->Y->Z Euler angles in degrees.
	Roll  float64
	Pitch float64
	Yaw   float64

	// Distance is the Euclidean norm of Translation, in meters.
	Distance float64

	// CapturedAt is the monotonic-capable timestamp of the source frame.
	CapturedAt time.Time
}

// DX returns the horizontal offset of the marker in the camera frame.
func (p MarkerPose) DX() float64 { return p.Translation[0] }

// DZ returns the depth offset of the marker in the camera frame.
func (p MarkerPose) DZ() float64 { return p.Translation[2] }

// eulerXYZ decodes a 3x3 row-major rotation matrix into intrinsic X->Y->Z
// Euler angles in radians. At the gimbal-lock boundary (sy < 1e-6) yaw is
// defined to be exactly zero.
func eulerXYZ(r *[3][3]float64) (roll, pitch, yaw float64) {
	sy := math.Sqrt(r[0][0]*r[0][0] + r[1][0]*r[1][0])
	if sy >= 1e-6 {
		roll = math.Atan2(r[2][1], r[2][2])
		pitch = math.Atan2(-r[2][0], sy)
		yaw = math.Atan2(r[1][0], r[0][0])
		return
	}
	roll = math.Atan2(-r[1][2], r[1][1])
	pitch = math.Atan2(-r[2][0], sy)
	yaw = 0
	return
}

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
