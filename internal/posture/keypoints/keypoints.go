// Package keypoints parses heterogeneous body-keypoint payloads into a
// canonical named-point record.
//
// Two input shapes are accepted: a named mapping ({"nose": {...}, ...}) and
// an indexed sequence whose layout is inferred from its length (33 points
// for MediaPipe, 17 for COCO) or from per-element "name" fields. Either may
// sit under a top-level "keypoints" member. Points may be objects or
// positional arrays. Only the required points must decode; other entries
// such as timestamps or unused landmarks are ignored when they do not.
package keypoints

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/banshee-data/posture.report/internal/posture"
)

// ErrUnparseable is returned when a payload is neither a named mapping nor
// a recognised indexed layout, or when a point cannot be decoded.
var ErrUnparseable = errors.New("unparseable keypoints")

// Name identifies an anatomical keypoint.
type Name string

const (
	Nose          Name = "nose"
	LeftShoulder  Name = "left_shoulder"
	RightShoulder Name = "right_shoulder"
	LeftHip       Name = "left_hip"
	RightHip      Name = "right_hip"
)

// Required lists the points every frame must carry, in a stable order.
var Required = []Name{Nose, LeftShoulder, RightShoulder, LeftHip, RightHip}

// Point is one keypoint in normalised image coordinates.
type Point struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z,omitempty"`
	HasZ       bool    `json:"-"`
	Confidence float64 `json:"confidence"`
}

// Keypoints is the canonical named-point record produced by Parse.
type Keypoints struct {
	points map[Name]Point
}

// New builds a record from already-canonical points.
func New(points map[Name]Point) Keypoints {
	k := Keypoints{points: make(map[Name]Point, len(points))}
	for n, p := range points {
		k.points[n] = p
	}
	return k
}

// Get returns the named point.
func (k Keypoints) Get(name Name) (Point, bool) {
	p, ok := k.points[name]
	return p, ok
}

// Len returns the number of parsed points.
func (k Keypoints) Len() int { return len(k.points) }

// Require checks that every required point is present.
func (k Keypoints) Require() error {
	for _, n := range Required {
		if _, ok := k.points[n]; !ok {
			return posture.Reject(posture.ReasonMissingKeypoint, "%s", n)
		}
	}
	return nil
}

// HasDepth reports whether every required point carries a z component.
func (k Keypoints) HasDepth() bool {
	for _, n := range Required {
		p, ok := k.points[n]
		if !ok || !p.HasZ {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the record as a named mapping.
func (k Keypoints) MarshalJSON() ([]byte, error) {
	out := make(map[string]Point, len(k.points))
	for n, p := range k.points {
		out[string(n)] = p
	}
	return json.Marshal(out)
}

// Layout maps array indices to point names.
type Layout map[int]Name

var (
	// MediaPipeLayout is the 33-landmark BlazePose ordering.
	MediaPipeLayout = Layout{0: Nose, 11: LeftShoulder, 12: RightShoulder, 23: LeftHip, 24: RightHip}
	// COCOLayout is the 17-keypoint COCO ordering used by MoveNet and PoseNet.
	COCOLayout = Layout{0: Nose, 5: LeftShoulder, 6: RightShoulder, 11: LeftHip, 12: RightHip}
)

func layoutFor(n int) (Layout, bool) {
	switch n {
	case 33:
		return MediaPipeLayout, true
	case 17:
		return COCOLayout, true
	}
	return nil, false
}

// Parse decodes a raw keypoint payload.
func Parse(raw []byte) (Keypoints, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Keypoints{}, fmt.Errorf("%w: empty payload", ErrUnparseable)
	}
	switch raw[0] {
	case '{':
		var named map[string]json.RawMessage
		if err := json.Unmarshal(raw, &named); err != nil {
			return Keypoints{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
		// Pose wrappers such as {"score": 0.9, "keypoints": [...]}.
		if inner, ok := named[wrapperKey]; ok {
			return Parse(inner)
		}
		return parseNamed(named)
	case '[':
		var indexed []json.RawMessage
		if err := json.Unmarshal(raw, &indexed); err != nil {
			return Keypoints{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
		return parseIndexed(indexed)
	}
	return Keypoints{}, fmt.Errorf("%w: expected object or array", ErrUnparseable)
}

const (
	wrapperKey = "keypoints"
	headName   = Name("head")
)

// wanted reports whether a named entry feeds the canonical record.
func wanted(n Name) bool {
	if n == headName {
		return true
	}
	for _, r := range Required {
		if n == r {
			return true
		}
	}
	return false
}

// parseNamed reads the required points (and head) from a named mapping.
// Other entries are kept when they decode and skipped when they do not.
// Keys are matched case-insensitively; an exact lowercase key beats a
// mixed-case one, and ties between mixed-case keys go to the first in
// sorted order. A null entry counts as absent.
func parseNamed(named map[string]json.RawMessage) (Keypoints, error) {
	keys := make([]string, 0, len(named))
	for key := range named {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		ei := keys[i] == strings.ToLower(keys[i])
		ej := keys[j] == strings.ToLower(keys[j])
		if ei != ej {
			return ei
		}
		return keys[i] < keys[j]
	})

	k := Keypoints{points: make(map[Name]Point, len(named))}
	for _, key := range keys {
		name := Name(strings.ToLower(key))
		if _, seen := k.points[name]; seen {
			continue
		}
		raw := bytes.TrimSpace(named[key])
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			continue
		}
		p, err := parsePoint(raw)
		if err != nil {
			if wanted(name) {
				return Keypoints{}, fmt.Errorf("%w: point %q: %v", ErrUnparseable, key, err)
			}
			continue
		}
		k.points[name] = p
	}
	if _, ok := k.points[Nose]; !ok {
		if head, ok := k.points[headName]; ok {
			k.points[Nose] = head
		}
	}
	return k, nil
}

func parseIndexed(items []json.RawMessage) (Keypoints, error) {
	// Arrays of {"name": ...} objects are named points in disguise.
	if len(items) > 0 {
		var first struct {
			Name *string `json:"name"`
		}
		if err := json.Unmarshal(items[0], &first); err == nil && first.Name != nil {
			named := make(map[string]json.RawMessage, len(items))
			for _, item := range items {
				var el struct {
					Name *string `json:"name"`
				}
				if err := json.Unmarshal(item, &el); err != nil || el.Name == nil {
					continue
				}
				if _, dup := named[*el.Name]; !dup {
					named[*el.Name] = item
				}
			}
			return parseNamed(named)
		}
	}

	layout, ok := layoutFor(len(items))
	if !ok {
		return Keypoints{}, fmt.Errorf("%w: unsupported indexed layout of %d points", ErrUnparseable, len(items))
	}
	k := Keypoints{points: make(map[Name]Point, len(layout))}
	for idx, name := range layout {
		p, err := parsePoint(items[idx])
		if err != nil {
			return Keypoints{}, fmt.Errorf("%w: index %d: %v", ErrUnparseable, idx, err)
		}
		k.points[name] = p
	}
	return k, nil
}

// parsePoint accepts {x,y[,z][,confidence|score|visibility]} objects and
// [x,y], [x,y,conf] or [x,y,z,conf] arrays.
func parsePoint(raw json.RawMessage) (Point, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Point{}, errors.New("empty point")
	}
	switch raw[0] {
	case '{':
		var obj map[string]*float64
		if err := json.Unmarshal(raw, &obj); err != nil {
			// Objects carrying a string "name" field fail the typed decode.
			var loose map[string]interface{}
			if err2 := json.Unmarshal(raw, &loose); err2 != nil {
				return Point{}, err
			}
			obj = make(map[string]*float64, len(loose))
			for key, v := range loose {
				if f, ok := v.(float64); ok {
					f := f
					obj[key] = &f
				}
			}
		}
		x := firstOf(obj, "x", "X")
		y := firstOf(obj, "y", "Y")
		if x == nil || y == nil {
			return Point{}, errors.New("point must provide x and y")
		}
		p := Point{X: *x, Y: *y, Confidence: 1}
		if z := firstOf(obj, "z", "Z"); z != nil {
			p.Z, p.HasZ = *z, true
		}
		if c := firstOf(obj, "confidence", "score", "visibility"); c != nil {
			p.Confidence = *c
		}
		return p, validPoint(p)
	case '[':
		var arr []float64
		if err := json.Unmarshal(raw, &arr); err != nil {
			return Point{}, err
		}
		var p Point
		switch len(arr) {
		case 2:
			p = Point{X: arr[0], Y: arr[1], Confidence: 1}
		case 3:
			p = Point{X: arr[0], Y: arr[1], Confidence: arr[2]}
		case 4:
			p = Point{X: arr[0], Y: arr[1], Z: arr[2], HasZ: true, Confidence: arr[3]}
		default:
			return Point{}, fmt.Errorf("positional point has %d values", len(arr))
		}
		return p, validPoint(p)
	}
	return Point{}, errors.New("point must be an object or array")
}

func firstOf(obj map[string]*float64, keys ...string) *float64 {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func validPoint(p Point) error {
	for _, v := range []float64{p.X, p.Y, p.Z, p.Confidence} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("point has non-finite component")
		}
	}
	return nil
}
