// Command posture-train fits a posture model from labelled feature samples
// and writes the model artifact.
//
// Samples come from dataset exports (-dataset), the training_samples table
// (-db-path) or are recorded from a keypoint replay file (-record with
// -label). Recorded and imported samples can be stored back to the database
// with -save-samples.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"

	"github.com/banshee-data/posture.report/internal/config"
	"github.com/banshee-data/posture.report/internal/db"
	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/posture/features"
	"github.com/banshee-data/posture.report/internal/posture/model"
	"github.com/banshee-data/posture.report/internal/posture/source"
	"github.com/banshee-data/posture.report/internal/posture/trainer"
	"github.com/banshee-data/posture.report/internal/timeutil"
	"github.com/banshee-data/posture.report/internal/version"
)

type options struct {
	datasets    []string
	dbPath      string
	configPath  string
	out         string
	export      string
	record      string
	label       string
	duration    time.Duration
	baseline    float64
	saveSamples bool
	dryRun      bool
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("posture-train", flag.ContinueOnError)
	var (
		o        options
		datasets string
		showVer  bool
	)
	fs.StringVar(&datasets, "dataset", "", "Comma-separated dataset export files to import")
	fs.StringVar(&o.dbPath, "db-path", os.Getenv("POSTURE_DB_PATH"), "SQLite database with stored training samples (optional)")
	fs.StringVar(&o.configPath, "config", os.Getenv("POSTURE_CONFIG_PATH"), "Tuning config JSON (optional)")
	fs.StringVar(&o.out, "out", "model.json", "Model artifact output path")
	fs.StringVar(&o.export, "export", "", "Also write the merged dataset to this file")
	fs.StringVar(&o.record, "record", "", "Record samples from a keypoint JSONL replay file")
	fs.StringVar(&o.label, "label", "", "Class label for -record (good or slouch)")
	fs.DurationVar(&o.duration, "duration", 30*time.Second, "Recording duration for -record")
	fs.Float64Var(&o.baseline, "baseline", 0, "Baseline spine angle used while recording")
	fs.BoolVar(&o.saveSamples, "save-samples", false, "Store imported and recorded samples in the database")
	fs.BoolVar(&o.dryRun, "dry-run", false, "Report sample counts without training")
	fs.BoolVar(&showVer, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if showVer {
		return nil, errVersion
	}
	for _, p := range strings.Split(datasets, ",") {
		if p = strings.TrimSpace(p); p != "" {
			o.datasets = append(o.datasets, p)
		}
	}
	if o.record != "" && o.label == "" {
		return nil, fmt.Errorf("-record requires -label")
	}
	if o.saveSamples && o.dbPath == "" {
		return nil, fmt.Errorf("-save-samples requires -db-path")
	}
	return &o, nil
}

var errVersion = errors.New("version requested")

func main() {
	_ = godotenv.Load()
	log.SetFlags(0)
	monitoring.SetLogWriters(monitoring.LogWriters{Ops: os.Stderr})

	o, err := parseFlags(os.Args[1:])
	if errors.Is(err, errVersion) {
		fmt.Println(version.String("posture-train"))
		return
	}
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("%+v", xerrors.New(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, os.Stdout); err != nil {
		if errors.Is(err, trainer.ErrInsufficientTrainingData) {
			log.Fatalf("not enough samples: %v", err)
		}
		log.Fatalf("%+v", xerrors.New(err))
	}
}

func run(ctx context.Context, o *options, out io.Writer) error {
	tuning := config.DefaultTuningConfig()
	if o.configPath != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(o.configPath); err != nil {
			return err
		}
	}

	var database *db.DB
	if o.dbPath != "" {
		var err error
		if database, err = db.NewDB(o.dbPath); err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer database.Close()
	}

	dataset := &trainer.Dataset{}
	fresh := &trainer.Dataset{}
	for _, path := range o.datasets {
		d, err := importFile(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "imported %s: good=%d slouch=%d\n", path, d.Count(trainer.ClassGood), d.Count(trainer.ClassSlouch))
		fresh.Merge(d)
	}

	if o.record != "" {
		label, err := trainer.ParseClassLabel(o.label)
		if err != nil {
			return err
		}
		n, err := record(ctx, o.record, label, o.duration, o.baseline, tuning, fresh)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "recorded %d %s samples from %s\n", n, label, o.record)
	}

	if database != nil {
		stored, err := database.TrainingSamples(ctx)
		if err != nil {
			return fmt.Errorf("load stored samples: %w", err)
		}
		for label, vectors := range stored {
			for _, fv := range vectors {
				if err := dataset.Add(trainer.ClassLabel(label), fv); err != nil {
					return err
				}
			}
		}
		fmt.Fprintf(out, "loaded stored samples: good=%d slouch=%d\n", dataset.Count(trainer.ClassGood), dataset.Count(trainer.ClassSlouch))

		if o.saveSamples {
			now := time.Now()
			if err := database.InsertTrainingSamples(ctx, string(trainer.ClassGood), fresh.Good, now); err != nil {
				return fmt.Errorf("save good samples: %w", err)
			}
			if err := database.InsertTrainingSamples(ctx, string(trainer.ClassSlouch), fresh.Slouch, now); err != nil {
				return fmt.Errorf("save slouch samples: %w", err)
			}
		}
	}
	dataset.Merge(fresh)

	if o.export != "" {
		if err := exportFile(o.export, dataset); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "dataset: good=%d slouch=%d\n", dataset.Count(trainer.ClassGood), dataset.Count(trainer.ClassSlouch))
	if o.dryRun {
		return nil
	}

	art, err := trainer.Train(dataset, trainer.ConfigFromTuning(tuning), time.Now())
	if err != nil {
		return err
	}
	if err := model.Save(o.out, art); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s: accuracy=%.3f baseline=%.2f\n", o.out, art.Accuracy, art.BaselineAngle)
	return nil
}

func importFile(path string) (*trainer.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	d, err := trainer.ImportDataset(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

func exportFile(path string, d *trainer.Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := d.Export(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// record replays a keypoint file through the feature extractor at the
// configured frame rate, adding one sample per accepted frame.
func record(ctx context.Context, path string, label trainer.ClassLabel, duration time.Duration, baseline float64, tuning *config.TuningConfig, into *trainer.Dataset) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	replay, err := source.NewReplay(f, true)
	_ = f.Close()
	if err != nil {
		return 0, err
	}
	rec, err := trainer.NewRecorder(replay, features.ConfigFromTuning(tuning), timeutil.RealClock{}, tuning.GetTargetFPS(), into)
	if err != nil {
		return 0, err
	}
	rec.SetBaseline(baseline)
	n, err := rec.RecordSamples(ctx, label, duration)
	if errors.Is(err, context.Canceled) {
		return n, nil
	}
	return n, err
}
