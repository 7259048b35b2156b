package api

import (
	"math"
	"net/http"

	"github.com/banshee-data/posture.report/internal/db"
	"github.com/banshee-data/posture.report/internal/httputil"
	"github.com/banshee-data/posture.report/internal/monitoring"
)

// Calibration sources.
const (
	CalibrationManual  = "manual"
	CalibrationCapture = "capture"
)

type calibrationRequest struct {
	DeviceID      string   `json:"device_id"`
	BaselineAngle *float64 `json:"baseline_angle"`
	Source        string   `json:"source"`
}

func (s *Server) handleListCalibrations(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultListLimit, maxListLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	cals, err := s.db.ListCalibrations(r.Context(), r.URL.Query().Get("device_id"), limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if cals == nil {
		cals = []*db.Calibration{}
	}
	httputil.WriteJSONOK(w, cals)
}

// handleCreateCalibration stores a baseline angle and applies it to the
// detector. Without a baseline_angle the detector's current baseline is
// captured instead.
func (s *Server) handleCreateCalibration(w http.ResponseWriter, r *http.Request) {
	var req calibrationRequest
	if err := httputil.DecodeJSONBody(r, &req); err != nil {
		httputil.WriteDecodeError(w, err)
		return
	}

	c := &db.Calibration{
		DeviceID:  req.DeviceID,
		Source:    req.Source,
		CreatedAt: s.clock.Now(),
	}
	if c.DeviceID == "" {
		c.DeviceID = s.deviceID
	}
	if req.BaselineAngle == nil {
		c.BaselineAngle = s.det.Status().Baseline
		if c.Source == "" {
			c.Source = CalibrationCapture
		}
	} else {
		if math.IsNaN(*req.BaselineAngle) || math.Abs(*req.BaselineAngle) > 90 {
			httputil.BadRequest(w, "baseline_angle must be within [-90, 90]")
			return
		}
		c.BaselineAngle = *req.BaselineAngle
		if c.Source == "" {
			c.Source = CalibrationManual
		}
		s.det.SetBaseline(c.BaselineAngle)
	}

	if err := s.db.InsertCalibration(r.Context(), c); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	monitoring.Diagf("calibration stored device=%s baseline=%.2f source=%s", c.DeviceID, c.BaselineAngle, c.Source)
	httputil.WriteJSON(w, http.StatusCreated, c)
}
