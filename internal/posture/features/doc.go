// Package features turns canonical keypoints into the fixed-order posture
// feature vector and a per-frame quality weight.
//
// Responsibilities: confidence gating, median-filtered spine angle,
// head-forward and shoulder-width ratios, shoulder-line alignment scoring.
// Key types: Extractor, Result.
//
// Dependency rule: features may depend on keypoints and the posture root
// package only. The median filter ring is owned by each Extractor; there is
// no package-level state.
package features
