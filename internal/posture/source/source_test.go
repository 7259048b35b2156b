package source

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posture.report/internal/posture/keypoints"
	"github.com/banshee-data/posture.report/internal/testutil"
	"github.com/banshee-data/posture.report/internal/timeutil"
)

func TestLatestFrame_OverwritesAndHandsOutOnce(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	inbox := NewLatestFrame(clock, time.Second)

	_, ok := inbox.Poll()
	assert.False(t, ok, "empty inbox")

	inbox.Push(testutil.Pose(5))
	inbox.Push(testutil.Pose(25))
	kp, ok := inbox.Poll()
	require.True(t, ok)
	lh, _ := kp.Get(keypoints.LeftHip)
	want, _ := testutil.Pose(25).Get(keypoints.LeftHip)
	assert.Equal(t, want, lh, "newest frame wins")

	_, ok = inbox.Poll()
	assert.False(t, ok, "a frame is delivered once")
	assert.Equal(t, Stats{Pushed: 2, Dropped: 1, Consumed: 1}, inbox.Stats())
}

func TestLatestFrame_DropsStaleFrames(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	inbox := NewLatestFrame(clock, 500*time.Millisecond)

	inbox.Push(testutil.Pose(5))
	clock.Advance(time.Second)
	_, ok := inbox.Poll()
	assert.False(t, ok)
	assert.Equal(t, uint64(1), inbox.Stats().Dropped)
}

func TestLatestFrame_PeekDoesNotConsume(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	inbox := NewLatestFrame(clock, time.Second)

	_, ok := inbox.Peek()
	assert.False(t, ok, "empty inbox")

	inbox.Push(testutil.Pose(5))
	_, ok = inbox.Peek()
	require.True(t, ok)
	_, ok = inbox.Poll()
	assert.True(t, ok, "peek left the frame pending")

	_, ok = inbox.Peek()
	assert.True(t, ok, "polled frame is still visible while fresh")
	assert.Equal(t, Stats{Pushed: 1, Consumed: 1}, inbox.Stats())

	clock.Advance(2 * time.Second)
	_, ok = inbox.Peek()
	assert.False(t, ok, "stale frame")
	assert.Equal(t, Stats{Pushed: 1, Consumed: 1}, inbox.Stats())
}

func TestFuncSource(t *testing.T) {
	t.Parallel()
	var s Source = Func(func() (keypoints.Keypoints, bool) { return testutil.Pose(1), true })
	_, ok := s.Poll()
	assert.True(t, ok)
}

func TestReplay(t *testing.T) {
	t.Parallel()
	pose := string(testutil.PoseJSON(t, 10))
	input := strings.Join([]string{
		pose,
		"",
		`{"image": "nope"}`,
		`not json`,
		pose,
	}, "\n")

	rp, err := NewReplay(strings.NewReader(input), false)
	require.NoError(t, err)
	assert.Equal(t, 3, rp.Len())

	_, ok := rp.Poll()
	assert.True(t, ok)
	_, ok = rp.Poll()
	assert.False(t, ok, "blank line is a no-pose tick")
	_, ok = rp.Poll()
	assert.True(t, ok)
	_, ok = rp.Poll()
	assert.False(t, ok, "exhausted replay")
}

func TestReplayLoops(t *testing.T) {
	t.Parallel()
	rp, err := NewReplay(strings.NewReader(string(testutil.PoseJSON(t, 10))), true)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, ok := rp.Poll()
		assert.True(t, ok)
	}
}

func TestReplayPeek(t *testing.T) {
	t.Parallel()
	pose := string(testutil.PoseJSON(t, 10))
	rp, err := NewReplay(strings.NewReader(pose+"\n\n"+pose), false)
	require.NoError(t, err)

	_, ok := rp.Peek()
	assert.True(t, ok, "first frame before any poll")
	_, ok = rp.Poll()
	require.True(t, ok)
	_, ok = rp.Poll()
	require.False(t, ok)
	_, ok = rp.Peek()
	assert.False(t, ok, "last polled tick had no pose")
	_, ok = rp.Poll()
	assert.True(t, ok, "peek did not advance")
}
