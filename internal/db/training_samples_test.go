package db

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posture.report/internal/posture"
)

func TestTrainingSamplesRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	good := []posture.FeatureVector{{4, 1, 0.1, 0.8, 0.9}, {5, 0, 0.2, 0.8, 0.95}}
	slouch := []posture.FeatureVector{{24, 19, 0.9, 0.7, 0.85}}
	require.NoError(t, db.InsertTrainingSamples(ctx, "good", good, testNow))
	require.NoError(t, db.InsertTrainingSamples(ctx, "slouch", slouch, testNow))
	require.NoError(t, db.InsertTrainingSamples(ctx, "slouch", nil, testNow))

	got, err := db.TrainingSamples(ctx)
	require.NoError(t, err)
	assert.Equal(t, good, got["good"])
	assert.Equal(t, slouch, got["slouch"])

	n, err := db.DeleteTrainingSamples(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err = db.TrainingSamples(ctx)
	require.NoError(t, err)
	assert.Empty(t, got["good"])
}

func TestInsertTrainingSamplesRejectsBadInput(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	assert.Error(t, db.InsertTrainingSamples(ctx, "mild", []posture.FeatureVector{{}}, testNow))

	bad := []posture.FeatureVector{{1, 1, 1, 1, 1}, {math.NaN(), 0, 0, 0, 0}}
	assert.Error(t, db.InsertTrainingSamples(ctx, "good", bad, testNow))

	got, err := db.TrainingSamples(ctx)
	require.NoError(t, err)
	assert.Empty(t, got["good"], "failed batch is rolled back")
}
