// Package posture holds the domain types shared by every stage of the
// posture pipeline: window labels, the fixed-order feature vector and the
// per-frame rejection taxonomy.
//
// Pipeline stages live in sub-packages, in dependency order:
//
//	keypoints -> features -> window -> model -> classify -> alert -> detector
//
// with trainer as a peer of detector that produces model artifacts.
//
// Dependency rule: this package imports nothing from the module. No IO,
// SQL or HTTP code is allowed here.
package posture
