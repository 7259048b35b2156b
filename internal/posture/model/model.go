package model

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/posture.report/internal/posture"
)

// Class indices in model outputs and one-hot labels.
const (
	ClassGood = iota
	ClassSlouch

	NumClasses
)

// ErrModelInference is returned when the model cannot produce probabilities.
var ErrModelInference = errors.New("model inference failed")

// Probabilities is the softmax output for one feature vector.
type Probabilities struct {
	Good   float64 `json:"good"`
	Slouch float64 `json:"slouch"`
}

// Model evaluates a trained softmax classifier.
type Model struct {
	w    *mat.Dense    // FeatureCount x NumClasses
	b    *mat.VecDense // NumClasses
	norm NormalizationStats
	art  *Artifact
}

// New builds a Model from a validated artifact.
func New(a *Artifact) (*Model, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	w := mat.NewDense(posture.FeatureCount, NumClasses, nil)
	for i, row := range a.Weights {
		w.SetRow(i, row)
	}
	b := mat.NewVecDense(NumClasses, append([]float64(nil), a.Bias...))
	return &Model{w: w, b: b, norm: a.Normalization, art: a}, nil
}

// Artifact returns the artifact the model was built from.
func (m *Model) Artifact() *Artifact { return m.art }

// Predict normalises fv and returns class probabilities. It honours ctx
// cancellation.
func (m *Model) Predict(ctx context.Context, fv posture.FeatureVector) (Probabilities, error) {
	if err := ctx.Err(); err != nil {
		return Probabilities{}, fmt.Errorf("%w: %v", ErrModelInference, err)
	}
	if !fv.Finite() {
		return Probabilities{}, fmt.Errorf("%w: non-finite input", ErrModelInference)
	}

	x := mat.NewDense(1, posture.FeatureCount, m.norm.Apply(fv))
	p := Forward(x, m.w, m.b)
	probs := Probabilities{Good: p.At(0, ClassGood), Slouch: p.At(0, ClassSlouch)}
	if math.IsNaN(probs.Slouch) || math.IsNaN(probs.Good) {
		return Probabilities{}, fmt.Errorf("%w: NaN output", ErrModelInference)
	}
	return probs, nil
}

// Forward computes row-wise softmax(X*W + b) for a batch of normalised
// feature rows.
func Forward(x, w *mat.Dense, b *mat.VecDense) *mat.Dense {
	rows, _ := x.Dims()
	_, classes := w.Dims()
	var logits mat.Dense
	logits.Mul(x, w)
	out := mat.NewDense(rows, classes, nil)
	row := make([]float64, classes)
	for r := 0; r < rows; r++ {
		maxLogit := math.Inf(-1)
		for c := 0; c < classes; c++ {
			row[c] = logits.At(r, c) + b.AtVec(c)
			maxLogit = math.Max(maxLogit, row[c])
		}
		var sum float64
		for c := range row {
			row[c] = math.Exp(row[c] - maxLogit)
			sum += row[c]
		}
		for c := range row {
			out.Set(r, c, row[c]/sum)
		}
	}
	return out
}
