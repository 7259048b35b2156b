package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/banshee-data/posture.report/internal/db"
	"github.com/banshee-data/posture.report/internal/httputil"
	"github.com/banshee-data/posture.report/internal/posture"
	"github.com/banshee-data/posture.report/internal/posture/adapters"
	"github.com/banshee-data/posture.report/internal/posture/detector"
	"github.com/banshee-data/posture.report/internal/posture/keypoints"
	"github.com/banshee-data/posture.report/internal/posture/source"
)

// inferTimeout bounds a forced inference request, including model calls.
const inferTimeout = 2 * time.Second

type statusResponse struct {
	detector.Status
	Inbox source.Stats     `json:"inbox"`
	Feed  adapters.Summary `json:"feed"`
}

func (s *Server) status() statusResponse {
	return statusResponse{Status: s.det.Status(), Inbox: s.inbox.Stats(), Feed: s.feed.Summary()}
}

func (s *Server) handleDetectorStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.status())
}

func (s *Server) handleDetectorStart(w http.ResponseWriter, r *http.Request) {
	s.det.Start()
	httputil.WriteJSONOK(w, s.status())
}

func (s *Server) handleDetectorStop(w http.ResponseWriter, r *http.Request) {
	s.det.Stop()
	httputil.WriteJSONOK(w, s.status())
}

func (s *Server) handleGesture(w http.ResponseWriter, r *http.Request) {
	s.det.SetUserGestureGranted()
	httputil.WriteJSONOK(w, map[string]bool{"gesture_granted": true})
}

func (s *Server) handleInfer(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), inferTimeout)
	defer cancel()

	c, err := s.det.ForceSingleInference(ctx)
	switch {
	case errors.Is(err, detector.ErrNoPose):
		httputil.NotFound(w, err.Error())
		return
	case err != nil:
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":  err.Error(),
			"reason": string(posture.ReasonOf(err)),
		})
		return
	}
	httputil.WriteJSONOK(w, c)
}

type muteRequest struct {
	Muted *bool `json:"muted"`
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	if err := httputil.DecodeJSONBody(r, &req); err != nil {
		httputil.WriteDecodeError(w, err)
		return
	}
	if req.Muted == nil {
		httputil.BadRequest(w, "missing 'muted' field")
		return
	}
	s.det.Mute(*req.Muted)
	httputil.WriteJSONOK(w, map[string]bool{"muted": *req.Muted})
}

type snoozeRequest struct {
	Minutes *float64 `json:"minutes"`
}

func (s *Server) handleSnooze(w http.ResponseWriter, r *http.Request) {
	var req snoozeRequest
	if err := httputil.DecodeJSONBody(r, &req); err != nil {
		httputil.WriteDecodeError(w, err)
		return
	}
	if req.Minutes == nil {
		httputil.BadRequest(w, "missing 'minutes' field")
		return
	}
	until := s.det.Snooze(*req.Minutes)
	resp := map[string]interface{}{"snoozed": !until.IsZero()}
	if !until.IsZero() {
		resp["snooze_until"] = until
	}
	httputil.WriteJSONOK(w, resp)
}

// handleKeypoints accepts one keypoint frame and places it in the detector
// inbox. The body is the keypoint payload itself, either a named mapping or
// a MediaPipe/COCO indexed array.
func (s *Server) handleKeypoints(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.AllowN(s.clock.Now(), 1) {
		httputil.TooManyRequests(w, "keypoint rate limit exceeded")
		return
	}

	sess, err := s.db.CurrentSession(r.Context())
	switch {
	case err == nil && sess.Status == db.SessionPaused:
		httputil.Conflict(w, "session is paused")
		return
	case err != nil && !errors.Is(err, db.ErrNotFound):
		httputil.InternalServerError(w, err.Error())
		return
	}

	data, err := httputil.ReadBody(r)
	if err != nil {
		httputil.WriteDecodeError(w, err)
		return
	}
	if data == nil {
		httputil.BadRequest(w, "empty keypoint payload")
		return
	}
	kp, err := keypoints.Parse(data)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	s.inbox.Push(kp)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]int{"points": kp.Len()})
}
