package trainer

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/posture.report/internal/config"
	"github.com/banshee-data/posture.report/internal/posture"
	"github.com/banshee-data/posture.report/internal/posture/model"
)

// Config holds training parameters.
type Config struct {
	MinSamplesPerClass int
	Epochs             int
	LearningRate       float64
	L2                 float64 // weight decay
}

// DefaultConfig returns the built-in training parameters.
func DefaultConfig() Config {
	return ConfigFromTuning(config.DefaultTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig. The optimiser
// settings are fixed.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		MinSamplesPerClass: cfg.GetMinSamplesPerClass(),
		Epochs:             500,
		LearningRate:       0.5,
		L2:                 1e-3,
	}
}

// ComputeNormalizationStats returns per-feature means and population standard
// deviations over both classes. Constant features get a std of 1.
func ComputeNormalizationStats(d *Dataset) (model.NormalizationStats, error) {
	n := len(d.Good) + len(d.Slouch)
	if n == 0 {
		return model.NormalizationStats{}, fmt.Errorf("%w: empty dataset", ErrInsufficientTrainingData)
	}
	stats := model.NormalizationStats{
		Means: make([]float64, posture.FeatureCount),
		Stds:  make([]float64, posture.FeatureCount),
	}
	col := make([]float64, 0, n)
	for f := 0; f < posture.FeatureCount; f++ {
		col = col[:0]
		for _, fv := range d.Good {
			col = append(col, fv[f])
		}
		for _, fv := range d.Slouch {
			col = append(col, fv[f])
		}
		stats.Means[f] = stat.Mean(col, nil)
		std := stat.PopStdDev(col, nil)
		if std < 1e-10 || math.IsNaN(std) {
			std = 1
		}
		stats.Stds[f] = std
	}
	return stats, nil
}

// TrainingData is the normalised design matrix and its one-hot labels.
type TrainingData struct {
	Features *mat.Dense // n x FeatureCount
	Labels   *mat.Dense // n x NumClasses; good=[1,0], slouch=[0,1]
}

// PrepareTrainingData normalises every sample and builds one-hot labels.
// Good samples come first, then slouch samples.
func PrepareTrainingData(d *Dataset, stats model.NormalizationStats) (TrainingData, error) {
	if err := stats.Validate(); err != nil {
		return TrainingData{}, err
	}
	n := len(d.Good) + len(d.Slouch)
	if n == 0 {
		return TrainingData{}, fmt.Errorf("%w: empty dataset", ErrInsufficientTrainingData)
	}
	x := mat.NewDense(n, posture.FeatureCount, nil)
	y := mat.NewDense(n, model.NumClasses, nil)
	row := 0
	for _, c := range []struct {
		samples []posture.FeatureVector
		class   int
	}{{d.Good, model.ClassGood}, {d.Slouch, model.ClassSlouch}} {
		for _, fv := range c.samples {
			x.SetRow(row, stats.Apply(fv))
			y.Set(row, c.class, 1)
			row++
		}
	}
	return TrainingData{Features: x, Labels: y}, nil
}

// Train fits a softmax classifier by full-batch gradient descent and returns
// the artifact. It fails with ErrInsufficientTrainingData before doing any
// work when either class is below the minimum.
func Train(d *Dataset, cfg Config, now time.Time) (*model.Artifact, error) {
	if err := d.CheckMinimum(cfg.MinSamplesPerClass); err != nil {
		return nil, err
	}
	stats, err := ComputeNormalizationStats(d)
	if err != nil {
		return nil, err
	}
	td, err := PrepareTrainingData(d, stats)
	if err != nil {
		return nil, err
	}

	w, b := fit(td, cfg)
	acc := accuracy(td, w, b)

	weights := make([][]float64, posture.FeatureCount)
	for i := range weights {
		weights[i] = mat.Row(nil, i, w)
	}
	a := &model.Artifact{
		Version:       model.ArtifactVersion,
		FeatureNames:  posture.FeatureNames(),
		Weights:       weights,
		Bias:          append([]float64(nil), b.RawVector().Data...),
		Normalization: stats,
		BaselineAngle: goodBaseline(d),
		Accuracy:      acc,
		TrainedAt:     now.UTC(),
		SampleCounts:  d.Counts(),
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("trained artifact invalid: %w", err)
	}
	return a, nil
}

func fit(td TrainingData, cfg Config) (*mat.Dense, *mat.VecDense) {
	n, features := td.Features.Dims()
	w := mat.NewDense(features, model.NumClasses, nil)
	b := mat.NewVecDense(model.NumClasses, nil)

	var grad, gradW mat.Dense
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		probs := model.Forward(td.Features, w, b)
		grad.Sub(probs, td.Labels)
		grad.Scale(1/float64(n), &grad)

		gradW.Mul(td.Features.T(), &grad)
		if cfg.L2 > 0 {
			gradW.Add(&gradW, scaled(cfg.L2, w))
		}
		gradW.Scale(cfg.LearningRate, &gradW)
		w.Sub(w, &gradW)

		for c := 0; c < model.NumClasses; c++ {
			db := mat.Sum(grad.ColView(c))
			b.SetVec(c, b.AtVec(c)-cfg.LearningRate*db)
		}
	}
	return w, b
}

func scaled(f float64, m *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Scale(f, m)
	return &out
}

func accuracy(td TrainingData, w *mat.Dense, b *mat.VecDense) float64 {
	probs := model.Forward(td.Features, w, b)
	n, _ := probs.Dims()
	correct := 0
	for i := 0; i < n; i++ {
		predicted := model.ClassGood
		if probs.At(i, model.ClassSlouch) > probs.At(i, model.ClassGood) {
			predicted = model.ClassSlouch
		}
		if td.Labels.At(i, predicted) == 1 {
			correct++
		}
	}
	return float64(correct) / float64(n)
}

// goodBaseline is the median spine angle of the good samples.
func goodBaseline(d *Dataset) float64 {
	if len(d.Good) == 0 {
		return 0
	}
	angles := make([]float64, len(d.Good))
	for i, fv := range d.Good {
		angles[i] = fv[posture.SpineAngle]
	}
	sort.Float64s(angles)
	mid := len(angles) / 2
	if len(angles)%2 == 1 {
		return angles[mid]
	}
	return (angles[mid-1] + angles[mid]) / 2
}
