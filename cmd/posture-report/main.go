// Command posture-report renders a recorded session's window timeline to a
// PNG file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/posture.report/internal/db"
	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/report"
	"github.com/banshee-data/posture.report/internal/security"
	"github.com/banshee-data/posture.report/internal/units"
	"github.com/banshee-data/posture.report/internal/version"
)

type options struct {
	dbPath    string
	sessionID string
	out       string
	outDir    string
	tz        string
	widthIn   float64
	heightIn  float64
}

var errVersion = errors.New("version requested")

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("posture-report", flag.ContinueOnError)
	var (
		o       options
		showVer bool
	)
	dbDefault := os.Getenv("POSTURE_DB_PATH")
	if dbDefault == "" {
		dbDefault = "posture.db"
	}
	fs.StringVar(&o.dbPath, "db-path", dbDefault, "SQLite database path")
	fs.StringVar(&o.sessionID, "session", "", "Session ID (default: most recent session)")
	fs.StringVar(&o.out, "out", "", "Output PNG name (default: session-<id>.png)")
	fs.StringVar(&o.outDir, "out-dir", ".", "Directory the PNG is written to")
	fs.StringVar(&o.tz, "tz", "UTC", "Timezone for displayed times (tz name, UTC or Local)")
	fs.Float64Var(&o.widthIn, "width", 14, "Image width in inches")
	fs.Float64Var(&o.heightIn, "height", 6, "Image height in inches")
	fs.BoolVar(&showVer, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if showVer {
		return nil, errVersion
	}
	if o.widthIn <= 0 || o.heightIn <= 0 {
		return nil, fmt.Errorf("width and height must be positive")
	}
	return &o, nil
}

func main() {
	_ = godotenv.Load()
	log.SetFlags(0)
	monitoring.SetAllWriters(os.Stderr)

	o, err := parseFlags(os.Args[1:])
	if errors.Is(err, errVersion) {
		fmt.Println(version.String("posture-report"))
		return
	}
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("%+v", xerrors.New(err))
	}
	if err := run(context.Background(), o, os.Stdout); err != nil {
		log.Fatalf("%+v", xerrors.New(err))
	}
}

func run(ctx context.Context, o *options, out io.Writer) error {
	loc, err := units.LoadDisplayLocation(o.tz)
	if err != nil {
		return err
	}
	database, err := db.NewDB(o.dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	sess, err := pickSession(ctx, database, o.sessionID)
	if err != nil {
		return err
	}
	windows, err := database.ListWindows(ctx, sess.ID, 100000)
	if err != nil {
		return fmt.Errorf("list windows: %w", err)
	}

	name := o.out
	if name == "" {
		name = security.SanitizeFilename("session-"+sess.ID) + ".png"
	}
	outDir := o.outDir
	if outDir == "" {
		outDir = "."
	}
	path, err := security.ResolveOutputPath(outDir, name)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.WritePNG(f, sess, windows, report.Options{
		Width:    vg.Length(o.widthIn) * vg.Inch,
		Height:   vg.Length(o.heightIn) * vg.Inch,
		Location: loc,
	}); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s (%d windows, good=%s mild=%s bad=%s alerts=%d)\n",
		path, len(windows), units.FormatMillis(sess.GoodMs), units.FormatMillis(sess.MildMs),
		units.FormatMillis(sess.BadMs), sess.AlertCount)
	return nil
}

func pickSession(ctx context.Context, database *db.DB, id string) (*db.Session, error) {
	if id != "" {
		return database.GetSession(ctx, id)
	}
	sessions, err := database.ListSessions(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("no sessions recorded: %w", db.ErrNotFound)
	}
	return sessions[0], nil
}
