// Package units formats session durations and times for display.
package units

import (
	"fmt"
	"time"
)

// LoadDisplayLocation resolves a tz database name. Empty and "UTC" give UTC;
// "Local" gives the host zone.
func LoadDisplayLocation(tz string) (*time.Location, error) {
	switch tz {
	case "", "UTC":
		return time.UTC, nil
	case "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", tz, err)
	}
	return loc, nil
}

// Minutes converts milliseconds to fractional minutes.
func Minutes(ms int64) float64 { return float64(ms) / float64(time.Minute/time.Millisecond) }

// FormatMillis renders a millisecond total as 1h02m, 12m05s or 45s.
func FormatMillis(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	d := time.Duration(ms) * time.Millisecond
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
