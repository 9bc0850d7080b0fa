package common

import (
	"errors"
	"math"
	"strconv"
	"time"
)

// RoundCoord rounds a coordinate to the given number of decimal places
// so that lookups for the same city map to one key regardless of minor
// coordinate jitter.
func RoundCoord(v float64, places int) float64 {
	scale := math.Pow10(places)
	return math.Round(v*scale) / scale
}

// ParseTime parses either RFC3339 or Unix seconds.
func ParseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
