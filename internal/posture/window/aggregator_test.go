package window

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posture.report/internal/posture"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func sampleAt(offset time.Duration, spine, rel, weight float64) Sample {
	var fv posture.FeatureVector
	fv[posture.SpineAngle] = spine
	fv[posture.SpineAngleRelative] = rel
	fv[posture.ShoulderWidthRatio] = 0.8
	fv[posture.AvgConfidence] = 0.9
	return Sample{Features: fv, Confidence: 0.9, Weight: weight, Timestamp: t0.Add(offset)}
}

func TestAggregator_WindowCompletesOnDuration(t *testing.T) {
	t.Parallel()
	a := NewAggregator(DefaultConfig())
	assert.False(t, a.IsWindowComplete(t0), "idle aggregator is never complete")

	a.Start(t0)
	assert.False(t, a.IsWindowComplete(t0.Add(4999*time.Millisecond)))
	assert.True(t, a.IsWindowComplete(t0.Add(5*time.Second)), "completion is independent of sample count")
}

func TestAggregator_CloseComputesStatistics(t *testing.T) {
	t.Parallel()
	a := NewAggregator(DefaultConfig())
	a.Start(t0)

	require.NoError(t, a.AddSample(sampleAt(100*time.Millisecond, 12, 2, 0.9)))
	require.NoError(t, a.AddSample(sampleAt(300*time.Millisecond, 14, 4, 0.9)))
	require.NoError(t, a.AddSample(sampleAt(500*time.Millisecond, 16, 6, 0.9)))

	end := t0.Add(5 * time.Second)
	res := a.Close(end)
	require.False(t, res.Insufficient())
	assert.Equal(t, 3, res.FrameCount)
	assert.Equal(t, 5*time.Second, res.Duration())
	assert.InDelta(t, 4, res.Stats.Mean, 1e-12)
	assert.InDelta(t, 4, res.Stats.TrimmedMean, 1e-12)
	assert.InDelta(t, 14, res.AbsoluteMedian, 1e-12)
	assert.InDelta(t, 14, res.MeanFeatures[posture.SpineAngle], 1e-12)
	assert.InDelta(t, 0.8, res.MeanFeatures[posture.ShoulderWidthRatio], 1e-12)

	// The next window opens at the close time with an empty buffer.
	assert.Equal(t, 0, a.Len())
	assert.Equal(t, end, a.WindowStart())
}

func TestAggregator_InsufficientFrames(t *testing.T) {
	t.Parallel()
	a := NewAggregator(DefaultConfig())
	a.Start(t0)
	require.NoError(t, a.AddSample(sampleAt(0, 40, 30, 1)))
	require.NoError(t, a.AddSample(sampleAt(time.Second, 40, 30, 1)))

	_, err := a.ComputeStatistics()
	assert.True(t, errors.Is(err, ErrInsufficientFrames))

	res := a.Close(t0.Add(5 * time.Second))
	assert.True(t, res.Insufficient())
	assert.Equal(t, 2, res.FrameCount)
}

func TestAggregator_RejectsStaleSamples(t *testing.T) {
	t.Parallel()
	a := NewAggregator(DefaultConfig())
	a.Start(t0)

	err := a.AddSample(sampleAt(-time.Millisecond, 10, 1, 1))
	assert.True(t, errors.Is(err, ErrStaleSample))
	assert.Equal(t, 0, a.Len())
}

func TestAggregator_RejectsRawFramePayloads(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		metadata map[string]string
	}{
		{"image key", map[string]string{"image": "x"}},
		{"data uri", map[string]string{"thumb": "data:image/jpeg;base64,/9j/"}},
		{"oversized", map[string]string{"blob": strings.Repeat("z", 4900)}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := NewAggregator(DefaultConfig())
			a.Start(t0)
			s := sampleAt(0, 10, 1, 1)
			s.Metadata = tt.metadata
			err := a.AddSample(s)
			assert.True(t, errors.Is(err, ErrRawFramePayload), "got %v", err)
			assert.Equal(t, 0, a.Len())
		})
	}
}

func TestAggregator_AcceptsSmallMetadata(t *testing.T) {
	t.Parallel()
	a := NewAggregator(DefaultConfig())
	a.Start(t0)
	s := sampleAt(0, 10, 1, 1)
	s.Metadata = map[string]string{"source": "webcam"}
	require.NoError(t, a.AddSample(s))
}

func TestAggregator_RejectsNonFiniteFeatures(t *testing.T) {
	t.Parallel()
	a := NewAggregator(DefaultConfig())
	a.Start(t0)
	s := sampleAt(0, 10, 1, 1)
	s.Features[posture.HeadForwardRatio] = math.NaN()
	err := a.AddSample(s)
	assert.Equal(t, posture.ReasonInvalidFeatures, posture.ReasonOf(err))
}

func TestAggregator_FirstSampleStartsWindow(t *testing.T) {
	t.Parallel()
	a := NewAggregator(DefaultConfig())
	require.NoError(t, a.AddSample(sampleAt(2*time.Second, 10, 1, 1)))
	assert.True(t, a.Started())
	assert.Equal(t, t0.Add(2*time.Second), a.WindowStart())

	a.Reset()
	assert.False(t, a.Started())
	assert.Equal(t, 0, a.Len())
}
