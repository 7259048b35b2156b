package features

import (
	"math"
	"sort"

	"github.com/banshee-data/posture.report/internal/config"
	"github.com/banshee-data/posture.report/internal/posture"
	"github.com/banshee-data/posture.report/internal/posture/keypoints"
)

// Geometry limits that are not user-tunable.
const (
	// MaxSpineAngleDeg is the largest plausible seated spine angle.
	MaxSpineAngleDeg = 70.0
	// minShoulderWidth guards the head-forward normalisation.
	minShoulderWidth = 1e-6
)

// Config holds feature extraction parameters.
type Config struct {
	MinConfidence          float64 // Minimum mean confidence over required points
	MaxShoulderTiltDeg     float64 // Tilt at which alignment reaches zero
	MinAlignment           float64 // Alignment floor below which frames are rejected
	MedianFilterSize       int     // Raw spine angle history length
	ReferenceShoulderWidth float64 // Normalised shoulder width of a typical seated user
	HeadForwardCap         float64
	ShoulderRatioCap       float64
}

// DefaultConfig returns the built-in extraction parameters.
func DefaultConfig() Config {
	return ConfigFromTuning(config.DefaultTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		MinConfidence:          cfg.GetMinConfidence(),
		MaxShoulderTiltDeg:     cfg.GetMaxShoulderTiltDeg(),
		MinAlignment:           cfg.GetMinAlignment(),
		MedianFilterSize:       cfg.GetMedianFilterSize(),
		ReferenceShoulderWidth: cfg.GetReferenceShoulderWidth(),
		HeadForwardCap:         cfg.GetHeadForwardCap(),
		ShoulderRatioCap:       cfg.GetShoulderRatioCap(),
	}
}

// Result is the output of a successful extraction.
type Result struct {
	Features      posture.FeatureVector
	FrameQuality  float64 // confidence x alignment, used as the sample weight
	Alignment     float64
	RawSpineAngle float64 // unfiltered measurement for this frame
	HasDepth      bool
}

// Extractor computes features for a single keypoint stream. It is not safe
// for concurrent use; each detector owns one.
type Extractor struct {
	cfg  Config
	ring angleRing
}

// NewExtractor creates an Extractor with an empty median filter.
func NewExtractor(cfg Config) *Extractor {
	size := cfg.MedianFilterSize
	if size < 1 {
		size = 1
	}
	return &Extractor{cfg: cfg, ring: newAngleRing(size)}
}

// Reset clears the median filter history.
func (e *Extractor) Reset() {
	e.ring.reset()
}

// FilterDepth returns the number of raw angles currently held by the filter.
func (e *Extractor) FilterDepth() int {
	return e.ring.n
}

// Extract validates kp and computes its feature vector relative to
// baseline. Rejections are returned as *posture.RejectError.
func (e *Extractor) Extract(kp keypoints.Keypoints, baseline float64) (Result, error) {
	if err := kp.Require(); err != nil {
		return Result{}, err
	}

	nose, _ := kp.Get(keypoints.Nose)
	ls, _ := kp.Get(keypoints.LeftShoulder)
	rs, _ := kp.Get(keypoints.RightShoulder)
	lh, _ := kp.Get(keypoints.LeftHip)
	rh, _ := kp.Get(keypoints.RightHip)

	avgConf := (nose.Confidence + ls.Confidence + rs.Confidence + lh.Confidence + rh.Confidence) / 5
	if avgConf < e.cfg.MinConfidence {
		return Result{}, posture.Reject(posture.ReasonLowConfidence, "avg confidence %.2f below %.2f", avgConf, e.cfg.MinConfidence)
	}

	depth := kp.HasDepth()
	shMid := midpoint(ls, rs)
	hipMid := midpoint(lh, rh)

	dy := hipMid.Y - shMid.Y
	horiz := hipMid.X - shMid.X
	if depth {
		horiz = hipMid.Z - shMid.Z
	}
	raw := degrees(math.Atan2(math.Abs(horiz), math.Abs(dy)))
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return Result{}, posture.Reject(posture.ReasonInvalidFeatures, "spine angle not finite")
	}

	e.ring.push(raw)
	spine := math.Min(e.ring.median(), 90)
	if spine < 0 || spine > MaxSpineAngleDeg {
		return Result{}, posture.Reject(posture.ReasonInvalidAngle, "spine angle %.1f outside [0, %.0f]", spine, MaxSpineAngleDeg)
	}

	sdx := rs.X - ls.X
	sdy := rs.Y - ls.Y
	tilt := degrees(math.Atan2(math.Abs(sdy), math.Abs(sdx)))
	alignment := math.Max(0, 1-tilt/e.cfg.MaxShoulderTiltDeg)
	if alignment < e.cfg.MinAlignment {
		return Result{}, posture.Reject(posture.ReasonPoorAlignment, "shoulder tilt %.1f deg, alignment %.2f", tilt, alignment)
	}

	width := math.Hypot(sdx, sdy)
	if width < minShoulderWidth {
		return Result{}, posture.Reject(posture.ReasonInvalidFeatures, "degenerate shoulder width")
	}

	var forward float64
	if depth {
		forward = math.Abs(nose.Z-shMid.Z) / width
	} else {
		forward = math.Abs(nose.X-shMid.X) / width
	}

	var fv posture.FeatureVector
	fv[posture.SpineAngle] = spine
	fv[posture.SpineAngleRelative] = math.Abs(spine - baseline)
	fv[posture.HeadForwardRatio] = math.Min(forward, e.cfg.HeadForwardCap)
	fv[posture.ShoulderWidthRatio] = math.Min(width/e.cfg.ReferenceShoulderWidth, e.cfg.ShoulderRatioCap)
	fv[posture.AvgConfidence] = avgConf
	if !fv.Finite() {
		return Result{}, posture.Reject(posture.ReasonInvalidFeatures, "non-finite feature in %v", fv)
	}

	return Result{
		Features:      fv,
		FrameQuality:  avgConf * alignment,
		Alignment:     alignment,
		RawSpineAngle: raw,
		HasDepth:      depth,
	}, nil
}

// Preview is Extract against a copy of the median filter. The extractor's
// own filter history is left as it was.
func (e *Extractor) Preview(kp keypoints.Keypoints, baseline float64) (Result, error) {
	scratch := Extractor{cfg: e.cfg, ring: e.ring.clone()}
	return scratch.Extract(kp, baseline)
}

func midpoint(a, b keypoints.Point) keypoints.Point {
	return keypoints.Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2, Z: (a.Z + b.Z) / 2}
}

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// angleRing is a fixed-capacity ring of recent raw spine angles.
type angleRing struct {
	buf     []float64
	next, n int
	scratch []float64
}

func newAngleRing(size int) angleRing {
	return angleRing{buf: make([]float64, size), scratch: make([]float64, 0, size)}
}

func (r *angleRing) push(v float64) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

func (r *angleRing) median() float64 {
	if r.n == 0 {
		return math.NaN()
	}
	r.scratch = append(r.scratch[:0], r.buf[:r.n]...)
	sort.Float64s(r.scratch)
	mid := r.n / 2
	if r.n%2 == 1 {
		return r.scratch[mid]
	}
	return (r.scratch[mid-1] + r.scratch[mid]) / 2
}

func (r *angleRing) clone() angleRing {
	c := newAngleRing(len(r.buf))
	copy(c.buf, r.buf)
	c.next, c.n = r.next, r.n
	return c
}

func (r *angleRing) reset() {
	r.next, r.n = 0, 0
}
