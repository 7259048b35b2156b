package api

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"

	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/posture/adapters"
)

// Live feed room and events.
const (
	LiveRoom         = "live_posture"
	EventHistory     = "posture_history"
	EventSummary     = "posture_summary"
	liveHistoryDepth = 5
)

// LiveServer pushes window statuses and alerts to socket.io clients. Every
// client joins LiveRoom on connect and receives the most recent statuses.
type LiveServer struct {
	io   *socketio.Server
	feed *adapters.LiveFeed
}

// NewLiveServer creates a socket.io server backed by feed and registers
// itself as the feed's broadcaster. Browser clients must be same-origin or
// send an Origin listed in allowedOrigins.
func NewLiveServer(feed *adapters.LiveFeed, allowedOrigins []string) *LiveServer {
	allowOrigin := originChecker(allowedOrigins)
	server := socketio.NewServer(&engineio.Options{
		PingTimeout:  60 * time.Second,
		PingInterval: 25 * time.Second,
		Transports: []transport.Transport{
			&websocket.Transport{CheckOrigin: allowOrigin},
			&polling.Transport{CheckOrigin: allowOrigin},
		},
	})
	l := &LiveServer{io: server, feed: feed}

	server.OnConnect("/", func(conn socketio.Conn) error {
		conn.SetContext("")
		conn.Join(LiveRoom)
		monitoring.Diagf("live client connected id=%s remote=%s", conn.ID(), conn.RemoteAddr())
		conn.Emit(EventHistory, feed.Recent(liveHistoryDepth))
		return nil
	})
	server.OnEvent("/", "requestSummary", func(conn socketio.Conn) {
		conn.Emit(EventSummary, feed.Summary())
	})
	server.OnError("/", func(conn socketio.Conn, err error) {
		if conn != nil {
			monitoring.Opsf("live client error id=%s: %v", conn.ID(), err)
			return
		}
		monitoring.Opsf("live feed error: %v", err)
	})
	server.OnDisconnect("/", func(conn socketio.Conn, reason string) {
		monitoring.Diagf("live client disconnected id=%s reason=%s", conn.ID(), reason)
	})

	feed.SetBroadcaster(l)
	return l
}

// originChecker accepts requests without an Origin header (non-browser
// clients), same-origin requests and origins in allowed. Entries are
// compared as scheme://host[:port] without a trailing slash.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			set[strings.ToLower(o)] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			monitoring.Opsf("live feed rejected malformed origin %q", origin)
			return false
		}
		if strings.EqualFold(u.Host, r.Host) || set[strings.ToLower(u.Scheme+"://"+u.Host)] {
			return true
		}
		monitoring.Opsf("live feed rejected origin %q for host %q", origin, r.Host)
		return false
	}
}

// Broadcast sends payload to every client in LiveRoom.
func (l *LiveServer) Broadcast(event string, payload interface{}) {
	l.io.BroadcastToRoom("/", LiveRoom, event, payload)
}

// Serve runs the socket.io event loop until Close.
func (l *LiveServer) Serve() error { return l.io.Serve() }

// Close detaches from the feed and shuts the server down.
func (l *LiveServer) Close() error {
	l.feed.SetBroadcaster(nil)
	return l.io.Close()
}

func (l *LiveServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.io.ServeHTTP(w, r)
}
