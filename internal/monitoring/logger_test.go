package monitoring

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogWriters_RoutesStreams(t *testing.T) {
	defer SetLogWriters(LogWriters{})

	var ops, diag, trace bytes.Buffer
	SetLogWriters(LogWriters{Ops: &ops, Diag: &diag, Trace: &trace})

	Opsf("callback failed: %s", "boom")
	Diagf("window closed label=%s", "good")
	Tracef("frame rejected reason=%s", "low_confidence")

	assert.Contains(t, ops.String(), "[posture] ")
	assert.Contains(t, ops.String(), "callback failed: boom")
	assert.Contains(t, diag.String(), "window closed label=good")
	assert.Contains(t, trace.String(), "frame rejected reason=low_confidence")
	assert.NotContains(t, ops.String(), "window closed")
	assert.True(t, TraceEnabled())
}

func TestSetLogWriters_NilDisables(t *testing.T) {
	defer SetLogWriters(LogWriters{})

	var diag bytes.Buffer
	SetLogWriters(LogWriters{Diag: &diag})

	// Disabled streams must not panic.
	Opsf("dropped")
	Tracef("dropped")
	Diagf("kept")

	assert.Equal(t, 1, bytes.Count(diag.Bytes(), []byte("\n")))
	assert.False(t, TraceEnabled())
}

func TestSetAllWriters(t *testing.T) {
	defer SetLogWriters(LogWriters{})

	var buf bytes.Buffer
	SetAllWriters(&buf)
	Opsf("a")
	Diagf("b")
	Tracef("c")
	assert.Equal(t, 3, bytes.Count(buf.Bytes(), []byte("\n")))

	SetAllWriters(nil)
	Opsf("d")
	assert.Equal(t, 3, bytes.Count(buf.Bytes(), []byte("\n")))
}
