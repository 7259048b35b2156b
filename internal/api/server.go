// Package api exposes the detector control surface, session history and the
// live posture feed over HTTP.
package api

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/banshee-data/posture.report/internal/db"
	"github.com/banshee-data/posture.report/internal/posture/adapters"
	"github.com/banshee-data/posture.report/internal/posture/detector"
	"github.com/banshee-data/posture.report/internal/posture/source"
	"github.com/banshee-data/posture.report/internal/timeutil"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Keypoint ingestion limits.
const (
	DefaultKeypointRate  = 10
	DefaultKeypointBurst = 10
)

// Options wires a Server to its collaborators. Detector, Inbox and DB are
// required.
type Options struct {
	Detector *detector.Detector
	Inbox    *source.LatestFrame
	DB       *db.DB
	Feed     *adapters.LiveFeed
	Live     *LiveServer
	Clock    timeutil.Clock
	DeviceID string

	// KeypointRate is pushes per second; zero uses DefaultKeypointRate.
	KeypointRate  float64
	KeypointBurst int
}

type Server struct {
	det      *detector.Detector
	inbox    *source.LatestFrame
	db       *db.DB
	feed     *adapters.LiveFeed
	live     *LiveServer
	clock    timeutil.Clock
	deviceID string
	limiter  *rate.Limiter
}

func NewServer(opts Options) (*Server, error) {
	if opts.Detector == nil || opts.Inbox == nil || opts.DB == nil {
		return nil, fmt.Errorf("api: detector, inbox and db are required")
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Feed == nil {
		opts.Feed = adapters.NewLiveFeed(adapters.DefaultFeedCapacity)
	}
	if opts.KeypointRate <= 0 {
		opts.KeypointRate = DefaultKeypointRate
	}
	if opts.KeypointBurst <= 0 {
		opts.KeypointBurst = DefaultKeypointBurst
	}
	return &Server{
		det:      opts.Detector,
		inbox:    opts.Inbox,
		db:       opts.DB,
		feed:     opts.Feed,
		live:     opts.Live,
		clock:    opts.Clock,
		deviceID: opts.DeviceID,
		limiter:  rate.NewLimiter(rate.Limit(opts.KeypointRate), opts.KeypointBurst),
	}, nil
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration.
// Keypoint pushes arrive several times a second and are not logged.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/keypoints" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API routes. The socket.io handler is mounted when a
// LiveServer was supplied.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/detector/status", s.handleDetectorStatus)
	mux.HandleFunc("POST /api/detector/start", s.handleDetectorStart)
	mux.HandleFunc("POST /api/detector/stop", s.handleDetectorStop)
	mux.HandleFunc("POST /api/detector/gesture", s.handleGesture)
	mux.HandleFunc("POST /api/detector/infer", s.handleInfer)
	mux.HandleFunc("POST /api/detector/mute", s.handleMute)
	mux.HandleFunc("POST /api/detector/snooze", s.handleSnooze)
	mux.HandleFunc("POST /api/keypoints", s.handleKeypoints)

	mux.HandleFunc("POST /api/sessions/start", s.handleStartSession)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /api/sessions/{id}/{action}", s.handleSessionTransition)
	mux.HandleFunc("GET /api/sessions/{id}/windows", s.handleListWindows)
	mux.HandleFunc("GET /api/sessions/{id}/alerts", s.handleListAlerts)
	mux.HandleFunc("GET /api/sessions/{id}/chart", s.handleSessionChart)

	mux.HandleFunc("GET /api/calibrations", s.handleListCalibrations)
	mux.HandleFunc("POST /api/calibrations", s.handleCreateCalibration)

	if s.live != nil {
		mux.Handle("/socket.io/", s.live)
	}
	return mux
}

func queryLimit(r *http.Request, def, max int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid 'limit' parameter")
	}
	if n > max {
		n = max
	}
	return n, nil
}
