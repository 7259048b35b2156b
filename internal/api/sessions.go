package api

import (
	"errors"
	"net/http"

	"github.com/banshee-data/posture.report/internal/db"
	"github.com/banshee-data/posture.report/internal/httputil"
)

const (
	defaultListLimit   = 50
	maxListLimit       = 500
	defaultWindowLimit = 720
	maxWindowLimit     = 10000
)

type startSessionRequest struct {
	DeviceID string `json:"device_id"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := httputil.DecodeJSONBody(r, &req); err != nil {
		httputil.WriteDecodeError(w, err)
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = s.deviceID
	}

	if cur, err := s.db.CurrentSession(r.Context()); err == nil {
		httputil.WriteJSON(w, http.StatusConflict, map[string]string{
			"error":      "a session is already open",
			"session_id": cur.ID,
		})
		return
	} else if !errors.Is(err, db.ErrNotFound) {
		httputil.InternalServerError(w, err.Error())
		return
	}

	sess, err := s.db.StartSession(r.Context(), req.DeviceID, s.clock.Now())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultListLimit, maxListLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	sessions, err := s.db.ListSessions(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if sessions == nil {
		sessions = []*db.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, sess)
}

func (s *Server) handleSessionTransition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	now := s.clock.Now()

	var (
		sess *db.Session
		err  error
	)
	switch r.PathValue("action") {
	case "pause":
		sess, err = s.db.PauseSession(r.Context(), id, now)
	case "resume":
		sess, err = s.db.ResumeSession(r.Context(), id, now)
	case "end":
		sess, err = s.db.EndSession(r.Context(), id, now)
	default:
		httputil.NotFound(w, "unknown session action")
		return
	}

	switch {
	case errors.Is(err, db.ErrNotFound):
		httputil.NotFound(w, "session not found")
	case errors.Is(err, db.ErrInvalidTransition):
		httputil.Conflict(w, err.Error())
	case err != nil:
		httputil.InternalServerError(w, err.Error())
	default:
		httputil.WriteJSONOK(w, sess)
	}
}

func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*db.Session, bool) {
	sess, err := s.db.GetSession(r.Context(), r.PathValue("id"))
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, "session not found")
		return nil, false
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return nil, false
	}
	return sess, true
}

func (s *Server) handleListWindows(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultWindowLimit, maxWindowLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	windows, err := s.db.ListWindows(r.Context(), sess.ID, limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if windows == nil {
		windows = []*db.PostureWindow{}
	}
	httputil.WriteJSONOK(w, windows)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	alerts, err := s.db.ListAlerts(r.Context(), sess.ID)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if alerts == nil {
		alerts = []*db.PostureAlert{}
	}
	httputil.WriteJSONOK(w, alerts)
}
