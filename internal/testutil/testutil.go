// Package testutil provides shared test utilities and fixtures.
//
// The pose fixtures build synthetic keypoint sets with a known spine angle so
// feature, detector and API tests can assert on exact geometry.
package testutil

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/posture.report/internal/posture/keypoints"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// Fixture geometry in normalised image coordinates.
const (
	ShoulderY     = 0.30
	ShoulderWidth = 0.20
	TorsoLength   = 0.30
	FixtureConf   = 0.90
)

// Pose returns a 2D keypoint set whose shoulder-to-hip vector leans spineDeg
// degrees away from vertical along the image x axis.
func Pose(spineDeg float64) keypoints.Keypoints {
	return PoseWithConfidence(spineDeg, FixtureConf)
}

// PoseWithConfidence is Pose with every required point at conf.
func PoseWithConfidence(spineDeg, conf float64) keypoints.Keypoints {
	rad := spineDeg * math.Pi / 180
	dx := TorsoLength * math.Sin(rad)
	dy := TorsoLength * math.Cos(rad)
	half := ShoulderWidth / 2
	return keypoints.New(map[keypoints.Name]keypoints.Point{
		keypoints.Nose:          {X: 0.5, Y: ShoulderY - 0.1, Confidence: conf},
		keypoints.LeftShoulder:  {X: 0.5 - half, Y: ShoulderY, Confidence: conf},
		keypoints.RightShoulder: {X: 0.5 + half, Y: ShoulderY, Confidence: conf},
		keypoints.LeftHip:       {X: 0.5 - half + dx, Y: ShoulderY + dy, Confidence: conf},
		keypoints.RightHip:      {X: 0.5 + half + dx, Y: ShoulderY + dy, Confidence: conf},
	})
}

// DepthPose returns a keypoint set with z components where the torso leans
// spineDeg degrees towards the camera and the nose sits noseForward in front
// of the shoulder midpoint.
func DepthPose(spineDeg, noseForward float64) keypoints.Keypoints {
	rad := spineDeg * math.Pi / 180
	dz := TorsoLength * math.Sin(rad)
	dy := TorsoLength * math.Cos(rad)
	half := ShoulderWidth / 2
	c := FixtureConf
	return keypoints.New(map[keypoints.Name]keypoints.Point{
		keypoints.Nose:          {X: 0.5, Y: ShoulderY - 0.1, Z: -noseForward, HasZ: true, Confidence: c},
		keypoints.LeftShoulder:  {X: 0.5 - half, Y: ShoulderY, Z: 0, HasZ: true, Confidence: c},
		keypoints.RightShoulder: {X: 0.5 + half, Y: ShoulderY, Z: 0, HasZ: true, Confidence: c},
		keypoints.LeftHip:       {X: 0.5 - half, Y: ShoulderY + dy, Z: dz, HasZ: true, Confidence: c},
		keypoints.RightHip:      {X: 0.5 + half, Y: ShoulderY + dy, Z: dz, HasZ: true, Confidence: c},
	})
}

// TiltedPose returns an upright pose whose shoulder line is rotated tiltDeg
// degrees from horizontal.
func TiltedPose(tiltDeg float64) keypoints.Keypoints {
	rad := tiltDeg * math.Pi / 180
	half := ShoulderWidth / 2
	ox := half * math.Cos(rad)
	oy := half * math.Sin(rad)
	c := FixtureConf
	return keypoints.New(map[keypoints.Name]keypoints.Point{
		keypoints.Nose:          {X: 0.5, Y: ShoulderY - 0.1, Confidence: c},
		keypoints.LeftShoulder:  {X: 0.5 - ox, Y: ShoulderY - oy, Confidence: c},
		keypoints.RightShoulder: {X: 0.5 + ox, Y: ShoulderY + oy, Confidence: c},
		keypoints.LeftHip:       {X: 0.5 - half, Y: ShoulderY + TorsoLength, Confidence: c},
		keypoints.RightHip:      {X: 0.5 + half, Y: ShoulderY + TorsoLength, Confidence: c},
	})
}

// PoseJSON returns Pose(spineDeg) encoded as a named keypoint mapping.
func PoseJSON(t *testing.T, spineDeg float64) []byte {
	t.Helper()
	b, err := Pose(spineDeg).MarshalJSON()
	if err != nil {
		t.Fatalf("marshal pose: %v", err)
	}
	return b
}
