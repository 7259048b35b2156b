// Command posture runs the posture detector with its HTTP API, session
// recording and live feed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"

	"github.com/banshee-data/posture.report/internal/api"
	"github.com/banshee-data/posture.report/internal/db"
	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/posture/adapters"
	"github.com/banshee-data/posture.report/internal/posture/detector"
	"github.com/banshee-data/posture.report/internal/posture/source"
	"github.com/banshee-data/posture.report/internal/timeutil"
	"github.com/banshee-data/posture.report/internal/version"
)

var (
	listen      = flag.String("listen", ":8090", "Listen address")
	dbPath      = flag.String("db-path", "posture.db", "SQLite database path")
	modelPath   = flag.String("model", "", "Trained model artifact (optional)")
	configPath  = flag.String("config", "", "Tuning config JSON (optional)")
	deviceID    = flag.String("device", "default", "Device ID for sessions and calibrations")
	replayPath  = flag.String("replay", "", "Replay keypoints from a JSONL file instead of HTTP pushes")
	replayLoop  = flag.Bool("replay-loop", true, "Loop the replay file")
	maxFrameAge = flag.Duration("max-frame-age", 2*time.Second, "Drop pushed frames older than this")
	autostart   = flag.Bool("autostart", true, "Start the detector on launch")
	debug       = flag.Bool("debug", false, "Log per-frame rejections to stderr")
	liveOrigins = flag.String("live-origins", "", "Comma-separated extra origins allowed on the live feed (same-origin is always allowed)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// envFlags maps flag names to the environment variables that override their
// defaults. Flags given on the command line win.
var envFlags = map[string]string{
	"listen":       "POSTURE_LISTEN",
	"db-path":      "POSTURE_DB_PATH",
	"model":        "POSTURE_MODEL_PATH",
	"config":       "POSTURE_CONFIG_PATH",
	"device":       "POSTURE_DEVICE_ID",
	"live-origins": "POSTURE_LIVE_ORIGINS",
}

func fatal(what string, err error) {
	log.Fatalf("%s: %+v", what, xerrors.New(err))
}

func main() {
	_ = godotenv.Load()
	flag.Parse()
	if err := applyEnv(flag.CommandLine, os.Getenv); err != nil {
		fatal("environment", err)
	}

	if *showVersion {
		fmt.Println(version.String("posture"))
		return
	}

	if flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
			fatal("migrate", err)
		}
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	writers := monitoring.LogWriters{Ops: os.Stderr, Diag: os.Stdout}
	if *debug {
		writers.Trace = os.Stderr
	}
	monitoring.SetLogWriters(writers)

	tuning, err := loadTuning(*configPath)
	if err != nil {
		fatal("load tuning config", err)
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		fatal("open database", err)
	}
	defer database.Close()

	clock := timeutil.RealClock{}
	inbox := source.NewLatestFrame(clock, *maxFrameAge)
	var src source.Source = inbox
	if *replayPath != "" {
		replay, err := openReplay(*replayPath, *replayLoop)
		if err != nil {
			fatal("open replay", err)
		}
		log.Printf("replaying %d frames from %s", replay.Len(), *replayPath)
		src = replay
	}

	feed := adapters.NewLiveFeed(adapters.DefaultFeedCapacity)
	live := api.NewLiveServer(feed, splitList(*liveOrigins))

	det, err := detector.New(detector.Options{
		Source: src,
		Tuning: tuning,
		Clock:  clock,
		Sinks:  []detector.Sink{feed, adapters.NewSessionRecorder(database, 0)},
	})
	if err != nil {
		fatal("create detector", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := configureDetector(ctx, det, database, *modelPath, *deviceID); err != nil {
		fatal("configure detector", err)
	}
	if *autostart {
		det.Start()
	}
	defer det.Stop()

	srv, err := api.NewServer(api.Options{
		Detector: det,
		Inbox:    inbox,
		DB:       database,
		Feed:     feed,
		Live:     live,
		Clock:    clock,
		DeviceID: *deviceID,
	})
	if err != nil {
		fatal("create api server", err)
	}

	var wg sync.WaitGroup

	// socket.io event loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := live.Serve(); err != nil {
			log.Printf("live feed stopped: %v", err)
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := srv.ServeMux()
		database.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("%s listening on %s", version.String("posture"), *listen)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fatal("start server", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		if err := live.Close(); err != nil {
			log.Printf("live feed close error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
