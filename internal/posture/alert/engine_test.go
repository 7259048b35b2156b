package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posture.report/internal/posture"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// feed records labels as consecutive windows of length d starting at t0 and
// returns the end time of the last one plus every payload that fired.
func feed(e *Engine, start time.Time, d time.Duration, labels ...posture.Label) (time.Time, []Payload) {
	now := start
	var fired []Payload
	for _, l := range labels {
		now = now.Add(d)
		e.RecordWindow(WindowRecord{Label: l, Timestamp: now, Duration: d})
		if p, ok, _ := e.Evaluate(now); ok {
			fired = append(fired, p)
		}
	}
	return now, fired
}

func TestScenarioB_ThreeBadWindowsFireOnce(t *testing.T) {
	t.Parallel()
	e := NewEngine(DefaultConfig())

	_, fired := feed(e, t0, 5*time.Second, posture.LabelBad, posture.LabelBad, posture.LabelBad)
	require.Len(t, fired, 1)
	assert.Equal(t, posture.LabelBad, fired[0].Label)
	assert.Equal(t, Message, fired[0].Message)
	assert.Equal(t, t0.Add(10*time.Second), fired[0].Timestamp)
	assert.Equal(t, int64(10000), fired[0].BadPersistenceMs)
}

func TestPersistenceGate(t *testing.T) {
	t.Parallel()
	e := NewEngine(DefaultConfig())

	now, fired := feed(e, t0, 3*time.Second, posture.LabelBad, posture.LabelBad)
	assert.Empty(t, fired, "6s of bad is below the 8s persistence threshold")
	ok, reason := e.ShouldAlert(now)
	assert.False(t, ok)
	assert.Contains(t, reason, "persistence")

	_, fired = feed(e, now, 3*time.Second, posture.LabelBad)
	assert.Len(t, fired, 1, "9s of bad crosses the threshold")
}

func TestCooldownGate(t *testing.T) {
	t.Parallel()
	e := NewEngine(DefaultConfig())

	now, fired := feed(e, t0, 5*time.Second, posture.LabelBad, posture.LabelBad)
	require.Len(t, fired, 1)

	// Still eligible every window for the next 25s, but cooldown blocks.
	now, fired = feed(e, now, 5*time.Second, posture.LabelBad, posture.LabelBad, posture.LabelBad, posture.LabelBad, posture.LabelBad)
	assert.Empty(t, fired)

	_, fired = feed(e, now, 5*time.Second, posture.LabelBad)
	assert.Len(t, fired, 1, "cooldown elapsed after 30s")
}

func TestHistoryDepthGate(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Persistence = time.Second
	e := NewEngine(cfg)

	_, fired := feed(e, t0, 10*time.Second, posture.LabelBad)
	assert.Empty(t, fired)
	ok, reason := e.ShouldAlert(t0.Add(10 * time.Second))
	assert.False(t, ok)
	assert.Contains(t, reason, "history depth")
}

func TestVotesAcrossHistory(t *testing.T) {
	t.Parallel()

	e := NewEngine(DefaultConfig())
	_, fired := feed(e, t0, 5*time.Second, posture.LabelBad, posture.LabelGood, posture.LabelBad)
	assert.Len(t, fired, 1, "two bad votes in history suffice")

	cfg := DefaultConfig()
	cfg.RequiredVotes = 3
	e = NewEngine(cfg)
	now, fired := feed(e, t0, 5*time.Second, posture.LabelBad, posture.LabelGood, posture.LabelBad)
	assert.Empty(t, fired)
	ok, reason := e.ShouldAlert(now)
	assert.False(t, ok)
	assert.Contains(t, reason, "votes")
}

func TestInsufficientWindowsCountAsNonBad(t *testing.T) {
	t.Parallel()
	e := NewEngine(DefaultConfig())

	_, fired := feed(e, t0, 5*time.Second, posture.LabelBad, posture.LabelInsufficient, posture.LabelInsufficient)
	assert.Empty(t, fired)
	assert.Equal(t, 3, e.Status(t0).HistoryDepth)
	assert.Equal(t, 5*time.Second, e.BadPersistence())
}

func TestHistoryIsBoundedFIFO(t *testing.T) {
	t.Parallel()
	e := NewEngine(DefaultConfig())

	feed(e, t0, time.Second, posture.LabelBad, posture.LabelGood, posture.LabelMild, posture.LabelGood)
	h := e.History()
	require.Len(t, h, 3)
	assert.Equal(t, []posture.Label{posture.LabelGood, posture.LabelMild, posture.LabelGood},
		[]posture.Label{h[0].Label, h[1].Label, h[2].Label})
	assert.Equal(t, time.Duration(0), e.BadPersistence(), "evicted bad window no longer persists")
}

func TestMuteAndSnooze(t *testing.T) {
	t.Parallel()
	e := NewEngine(DefaultConfig())

	e.Mute(true)
	now, fired := feed(e, t0, 5*time.Second, posture.LabelBad, posture.LabelBad)
	assert.Empty(t, fired)
	_, reason := e.ShouldAlert(now)
	assert.Equal(t, "muted", reason)
	assert.True(t, e.Status(now).Muted)

	e.Mute(false)
	e.Snooze(now.Add(10 * time.Minute))
	ok, reason := e.ShouldAlert(now)
	assert.False(t, ok)
	assert.Contains(t, reason, "snoozed")
	st := e.Status(now)
	assert.True(t, st.Snoozed)
	assert.Equal(t, now.Add(10*time.Minute), st.SnoozeUntil)

	later := now.Add(10 * time.Minute)
	assert.False(t, e.Status(later).Snoozed)
	ok, _ = e.ShouldAlert(later)
	assert.True(t, ok, "snooze expires")
}

func TestAudioAllowedFollowsGesture(t *testing.T) {
	t.Parallel()
	e := NewEngine(DefaultConfig())
	p := e.Fire(t0)
	assert.False(t, p.AudioAllowed)

	e.SetUserGestureGranted()
	p = e.Fire(t0.Add(time.Minute))
	assert.True(t, p.AudioAllowed)
	assert.True(t, e.Status(t0).GestureGranted)
	assert.Equal(t, t0.Add(time.Minute), e.Status(t0).LastAlert)
}

func TestClearHistoryKeepsCooldown(t *testing.T) {
	t.Parallel()
	e := NewEngine(DefaultConfig())
	now, fired := feed(e, t0, 5*time.Second, posture.LabelBad, posture.LabelBad)
	require.Len(t, fired, 1)

	e.ClearHistory()
	assert.Equal(t, 0, e.Status(now).HistoryDepth)

	_, fired = feed(e, now, 5*time.Second, posture.LabelBad, posture.LabelBad)
	assert.Empty(t, fired, "cooldown survives a history reset")
}
