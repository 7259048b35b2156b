package source

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/posture/keypoints"
)

// maxReplayLine bounds a single JSONL record.
const maxReplayLine = 1 << 20

// Replay serves frames recorded as JSON lines, one keypoint payload per
// line. Blank lines are "no pose" ticks. Unparseable lines are skipped and
// logged on the trace stream.
type Replay struct {
	mu     sync.Mutex
	frames []replayFrame
	next   int
	loop   bool
}

type replayFrame struct {
	kp keypoints.Keypoints
	ok bool
}

// NewReplay reads every line from r. When loop is true Poll wraps around at
// the end; otherwise it returns false forever after the last frame.
func NewReplay(r io.Reader, loop bool) (*Replay, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxReplayLine)

	rp := &Replay{loop: loop}
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			rp.frames = append(rp.frames, replayFrame{})
			continue
		}
		if err := keypoints.EnsureNoRawFramesJSON(raw); err != nil {
			monitoring.Tracef("replay line %d skipped: %v", line, err)
			continue
		}
		kp, err := keypoints.Parse(raw)
		if err != nil {
			monitoring.Tracef("replay line %d skipped: %v", line, err)
			continue
		}
		rp.frames = append(rp.frames, replayFrame{kp: kp, ok: true})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read replay: %w", err)
	}
	return rp, nil
}

// Len returns the number of recorded ticks.
func (r *Replay) Len() int { return len(r.frames) }

// Poll returns the next recorded frame.
func (r *Replay) Poll() (keypoints.Keypoints, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return keypoints.Keypoints{}, false
	}
	if r.next >= len(r.frames) {
		if !r.loop {
			return keypoints.Keypoints{}, false
		}
		r.next = 0
	}
	f := r.frames[r.next]
	r.next++
	return f.kp, f.ok
}

// Peek returns the frame most recently handed out by Poll, or the first
// frame before any Poll, without advancing the replay.
func (r *Replay) Peek() (keypoints.Keypoints, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return keypoints.Keypoints{}, false
	}
	i := r.next - 1
	if i < 0 {
		i = 0
	}
	f := r.frames[i]
	return f.kp, f.ok
}
