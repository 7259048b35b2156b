package keypoints

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrRawFrame is returned when a payload looks like it carries image data.
var ErrRawFrame = errors.New("raw frame payload rejected")

// MaxStringLen is the longest string value accepted anywhere in a payload.
const MaxStringLen = 5000

var forbiddenKeys = map[string]bool{"image": true, "frame": true}

// EnsureNoRawFrames walks a decoded JSON value and rejects image-like keys,
// data URIs and oversized strings at any depth.
func EnsureNoRawFrames(v interface{}) error {
	switch t := v.(type) {
	case map[string]interface{}:
		for key, child := range t {
			if forbiddenKeys[strings.ToLower(key)] {
				return fmt.Errorf("%w: forbidden key %q", ErrRawFrame, key)
			}
			if err := EnsureNoRawFrames(child); err != nil {
				return err
			}
		}
	case map[string]string:
		for key, s := range t {
			if forbiddenKeys[strings.ToLower(key)] {
				return fmt.Errorf("%w: forbidden key %q", ErrRawFrame, key)
			}
			if err := checkString(s); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, child := range t {
			if err := EnsureNoRawFrames(child); err != nil {
				return err
			}
		}
	case string:
		return checkString(t)
	}
	return nil
}

func checkString(s string) error {
	if len(s) > MaxStringLen {
		return fmt.Errorf("%w: string of %d bytes exceeds %d", ErrRawFrame, len(s), MaxStringLen)
	}
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), "data:image/") {
		return fmt.Errorf("%w: inline image data", ErrRawFrame)
	}
	return nil
}

// EnsureNoRawFramesJSON decodes raw and applies EnsureNoRawFrames.
func EnsureNoRawFramesJSON(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return EnsureNoRawFrames(v)
}
