// Package window buffers accepted frames over a fixed duration and computes
// quality-weighted statistics when the window closes.
//
// Dependency rule: window may depend on keypoints (payload guard) and the
// posture root package. It performs no classification.
package window
