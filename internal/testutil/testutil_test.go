package testutil

import (
	"math"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posture.report/internal/posture/keypoints"
)

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
}

func TestNewTestRequest(t *testing.T) {
	t.Parallel()
	req := NewTestRequest(http.MethodGet, "/api/detector/status")
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/api/detector/status", req.URL.Path)
}

func TestPoseGeometry(t *testing.T) {
	t.Parallel()

	for _, deg := range []float64{0, 10, 30} {
		kp := Pose(deg)
		require.NoError(t, kp.Require())

		ls, _ := kp.Get(keypoints.LeftShoulder)
		rs, _ := kp.Get(keypoints.RightShoulder)
		lh, _ := kp.Get(keypoints.LeftHip)
		rh, _ := kp.Get(keypoints.RightHip)
		dx := (lh.X+rh.X)/2 - (ls.X+rs.X)/2
		dy := (lh.Y+rh.Y)/2 - (ls.Y+rs.Y)/2
		got := math.Atan2(math.Abs(dx), math.Abs(dy)) * 180 / math.Pi
		assert.InDelta(t, deg, got, 1e-9)
	}
}

func TestDepthPoseHasDepth(t *testing.T) {
	t.Parallel()
	assert.True(t, DepthPose(10, 0.05).HasDepth())
	assert.False(t, Pose(10).HasDepth())
}

func TestPoseJSONParses(t *testing.T) {
	t.Parallel()
	kp, err := keypoints.Parse(PoseJSON(t, 12))
	require.NoError(t, err)
	require.NoError(t, kp.Require())
	nose, _ := kp.Get(keypoints.Nose)
	assert.InDelta(t, FixtureConf, nose.Confidence, 1e-12)
}
