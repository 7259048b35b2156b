package keypoints

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posture.report/internal/posture"
)

func TestParseNamedObjects(t *testing.T) {
	t.Parallel()

	raw := `{
		"nose": {"x": 0.5, "y": 0.2, "score": 0.8},
		"left_shoulder": {"X": 0.4, "Y": 0.3},
		"right_shoulder": {"x": 0.6, "y": 0.3, "visibility": 0.7},
		"left_hip": {"x": 0.4, "y": 0.6, "z": 0.1, "confidence": 0.9},
		"right_hip": {"x": 0.6, "y": 0.6, "z": 0.1, "confidence": 0.9}
	}`
	kp, err := Parse([]byte(raw))
	require.NoError(t, err)
	require.NoError(t, kp.Require())

	nose, _ := kp.Get(Nose)
	assert.Equal(t, 0.8, nose.Confidence)
	ls, _ := kp.Get(LeftShoulder)
	assert.Equal(t, 0.4, ls.X)
	assert.Equal(t, 1.0, ls.Confidence, "confidence defaults to 1")
	rs, _ := kp.Get(RightShoulder)
	assert.Equal(t, 0.7, rs.Confidence)
	lh, _ := kp.Get(LeftHip)
	assert.True(t, lh.HasZ)
	assert.False(t, kp.HasDepth(), "only hips carry depth")
}

func TestParseNamedPositional(t *testing.T) {
	t.Parallel()

	raw := `{
		"head": [0.5, 0.2],
		"left_shoulder": [0.4, 0.3, 0.9],
		"right_shoulder": [0.6, 0.3, 0.9],
		"left_hip": [0.4, 0.6, 0.0, 0.8],
		"right_hip": [0.6, 0.6, 0.0, 0.8]
	}`
	kp, err := Parse([]byte(raw))
	require.NoError(t, err)
	require.NoError(t, kp.Require(), "head is accepted for nose")

	nose, _ := kp.Get(Nose)
	assert.Equal(t, 1.0, nose.Confidence)
	lh, _ := kp.Get(LeftHip)
	assert.Equal(t, 0.8, lh.Confidence)
	assert.True(t, lh.HasZ)
}

func indexedPayload(n int, fill func(i int) string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fill(i)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func TestParseIndexedLayouts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		n      int
		layout Layout
	}{
		{"mediapipe", 33, MediaPipeLayout},
		{"coco", 17, COCOLayout},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			raw := indexedPayload(tt.n, func(i int) string {
				return "[0.1, 0.2, 0.5]"
			})
			kp, err := Parse([]byte(raw))
			require.NoError(t, err)
			require.NoError(t, kp.Require())
			assert.Equal(t, len(tt.layout), kp.Len())
		})
	}
}

func TestParseIndexedUsesLayoutPositions(t *testing.T) {
	t.Parallel()

	raw := indexedPayload(17, func(i int) string {
		if i == 6 {
			return `{"x": 0.66, "y": 0.3, "score": 0.4}`
		}
		return `{"x": 0.1, "y": 0.1, "score": 0.9}`
	})
	kp, err := Parse([]byte(raw))
	require.NoError(t, err)
	rs, _ := kp.Get(RightShoulder)
	assert.Equal(t, 0.66, rs.X)
	assert.Equal(t, 0.4, rs.Confidence)
}

func TestParseNamedArray(t *testing.T) {
	t.Parallel()

	raw := `[
		{"name": "nose", "x": 0.5, "y": 0.2, "score": 0.9},
		{"name": "left_shoulder", "x": 0.4, "y": 0.3, "score": 0.9},
		{"name": "right_shoulder", "x": 0.6, "y": 0.3, "score": 0.9},
		{"name": "left_hip", "x": 0.4, "y": 0.6, "score": 0.9},
		{"name": "right_hip", "x": 0.6, "y": 0.6, "score": 0.9}
	]`
	kp, err := Parse([]byte(raw))
	require.NoError(t, err)
	require.NoError(t, kp.Require())
	ls, _ := kp.Get(LeftShoulder)
	assert.Equal(t, 0.9, ls.Confidence)
}

func TestParseRejectsUnparseable(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		``,
		`null`,
		`42`,
		`"nose"`,
		`[[0.1, 0.2]]`,
		`{"nose": "here"}`,
		`{"nose": {"x": 0.5}}`,
		`{"nose": [0.5]}`,
		`{"nose": [1, 2, 3, 4, 5]}`,
	} {
		_, err := Parse([]byte(raw))
		assert.True(t, errors.Is(err, ErrUnparseable), "payload %q: %v", raw, err)
	}
}

const fivePoints = `"nose": [0.5, 0.2, 0.9],
		"left_shoulder": [0.4, 0.3, 0.9],
		"right_shoulder": [0.6, 0.3, 0.9],
		"left_hip": [0.4, 0.6, 0.9],
		"right_hip": [0.6, 0.6, 0.9]`

func TestParseIgnoresExtraEntries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{"timestamp field", `{` + fivePoints + `, "timestamp": 1700000000}`},
		{"null landmark", `{` + fivePoints + `, "left_eye": null}`},
		{"string metadata", `{` + fivePoints + `, "source": "webcam"}`},
		{"short landmark", `{` + fivePoints + `, "left_ear": [0.1]}`},
		{"pose wrapper with named map", `{"score": 0.93, "keypoints": {` + fivePoints + `}}`},
		{"pose wrapper with named array", `{"score": 0.93, "keypoints": [
			{"name": "nose", "x": 0.5, "y": 0.2, "score": 0.9},
			{"name": "left_shoulder", "x": 0.4, "y": 0.3, "score": 0.9},
			{"name": "right_shoulder", "x": 0.6, "y": 0.3, "score": 0.9},
			{"name": "left_hip", "x": 0.4, "y": 0.6, "score": 0.9},
			{"name": "right_hip", "x": 0.6, "y": 0.6, "score": 0.9},
			{"x": 0.1, "y": 0.1}
		]}`},
		{"pose wrapper with coco array", `{"score": 0.9, "keypoints": ` + indexedPayload(17, func(int) string { return "[0.1, 0.2, 0.8]" }) + `}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			kp, err := Parse([]byte(tt.raw))
			require.NoError(t, err)
			assert.NoError(t, kp.Require())
		})
	}
}

func TestParseRequiredPointStillStrict(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`{"nose": "here", "timestamp": 1}`))
	assert.ErrorIs(t, err, ErrUnparseable)

	_, err = Parse([]byte(`{"head": [0.5], "left_shoulder": [0.4, 0.3]}`))
	assert.ErrorIs(t, err, ErrUnparseable)

	kp, err := Parse([]byte(`{"nose": null, "left_shoulder": [0.4, 0.3]}`))
	require.NoError(t, err)
	assert.Equal(t, posture.ReasonMissingKeypoint, posture.ReasonOf(kp.Require()), "null counts as absent")
}

func TestParseCaseCollisionsAreDeterministic(t *testing.T) {
	t.Parallel()

	for i := 0; i < 20; i++ {
		kp, err := Parse([]byte(`{"NOSE": [0.3, 0.1], "nose": [0.5, 0.2], "Nose": [0.7, 0.3]}`))
		require.NoError(t, err)
		nose, _ := kp.Get(Nose)
		require.Equal(t, 0.5, nose.X, "exact lowercase key wins")

		kp, err = Parse([]byte(`{"Nose": [0.7, 0.3], "NOSE": [0.3, 0.1]}`))
		require.NoError(t, err)
		nose, _ = kp.Get(Nose)
		require.Equal(t, 0.3, nose.X, "first mixed-case key in sorted order wins")
	}
}

func TestRequireReportsMissingKeypoint(t *testing.T) {
	t.Parallel()

	kp, err := Parse([]byte(`{"nose": [0.5, 0.2], "left_shoulder": [0.4, 0.3]}`))
	require.NoError(t, err)

	err = kp.Require()
	require.Error(t, err)
	assert.Equal(t, posture.ReasonMissingKeypoint, posture.ReasonOf(err))
	assert.Contains(t, err.Error(), "right_shoulder")
}

func TestNewCopiesInput(t *testing.T) {
	t.Parallel()

	src := map[Name]Point{Nose: {X: 1}}
	kp := New(src)
	src[Nose] = Point{X: 2}
	p, ok := kp.Get(Nose)
	require.True(t, ok)
	assert.Equal(t, 1.0, p.X)
}
