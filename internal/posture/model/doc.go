// Package model holds the binary good/slouch softmax classifier, its
// feature normalisation and the on-disk artifact format.
//
// Dependency rule: model depends only on the posture root package and
// gonum. Training lives in the trainer package; this package only evaluates.
package model
