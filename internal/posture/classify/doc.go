// Package classify turns closed-window statistics into a posture label.
//
// A threshold state machine with hysteresis produces the base label; when a
// trained model is attached its slouch probability is blended in. The
// classifier also owns the adaptive per-user baseline angle and the
// personalised thresholds derived from it.
//
// Dependency rule: classify may depend on window and model, never on alert
// or detector.
package classify
