// Package detector wires the posture pipeline into a single detector
// instance: keypoint source, feature extractor, window aggregator,
// classifier and alert engine.
//
// A Detector owns every piece of pipeline state. Independent instances share
// nothing, so tests and multiple users can run side by side. The frame tick
// and the window check run on the injected timeutil.Clock; Tick and
// CheckWindow are exported so callers can drive the pipeline by hand.
//
// Dependency rule: detector may import every pipeline package; of the
// posture packages only adapters imports detector.
package detector
