package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	s, err := db.StartSession(ctx, "desk-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, SessionActive, s.Status)
	assert.NotEmpty(t, s.ID)

	cur, err := db.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.ID, cur.ID)

	paused, err := db.PauseSession(ctx, s.ID, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, SessionPaused, paused.Status)
	require.NotNil(t, paused.PausedAt)

	_, err = db.PauseSession(ctx, s.ID, testNow.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	resumed, err := db.ResumeSession(ctx, s.ID, testNow.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, SessionActive, resumed.Status)
	assert.Nil(t, resumed.PausedAt)
	assert.Equal(t, int64(2*time.Minute/time.Millisecond), resumed.PausedTotalMs)

	_, err = db.ResumeSession(ctx, s.ID, testNow.Add(4*time.Minute))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	ended, err := db.EndSession(ctx, s.ID, testNow.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, SessionEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)
	assert.True(t, ended.EndedAt.Equal(testNow.Add(10*time.Minute)))

	_, err = db.EndSession(ctx, s.ID, testNow.Add(11*time.Minute))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = db.CurrentSession(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEndPausedSessionCountsPause(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	s, err := db.StartSession(ctx, "", testNow)
	require.NoError(t, err)
	_, err = db.PauseSession(ctx, s.ID, testNow.Add(time.Minute))
	require.NoError(t, err)
	ended, err := db.EndSession(ctx, s.ID, testNow.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(5*60*1000), ended.PausedTotalMs)
}

func TestGetSessionNotFound(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.PauseSession(ctx, "missing", testNow)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSessionsNewestFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		s, err := db.StartSession(ctx, "", testNow.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}
	got, err := db.ListSessions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[2], got[0].ID)
	assert.Equal(t, ids[1], got[1].ID)
}
