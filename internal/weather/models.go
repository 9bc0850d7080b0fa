package weather

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Observation is a single reading from one source at one instant.
// Metric fields are optional; a nil pointer means the source did not
// report that metric, which is distinct from reporting zero.
type Observation struct {
	CityID      string    `json:"city_id"`
	Source      string    `json:"source"`
	ObservedAt  time.Time `json:"observed_at"` // always UTC
	TempC       *float64  `json:"temp_c"`
	Humidity    *float64  `json:"humidity"` // relative humidity as fraction 0..1
	WindKph     *float64  `json:"wind_kph"`
	PressureHpa *float64  `json:"pressure_hpa"`
	RainMM      *float64  `json:"rain_mm"`
}

// BucketStart floors a timestamp to the given bucket width in UTC.
// The result depends only on the timestamp and the width, never on
// wall-clock run time.
func BucketStart(t time.Time, width time.Duration) time.Time {
	return t.UTC().Truncate(width)
}

// Window is a bucket width. It marshals as a duration string ("15m0s")
// and parses both Go durations and the "15 minutes" / "1 hour" forms
// used by API clients.
type Window time.Duration

func (w Window) Duration() time.Duration { return time.Duration(w) }

func (w Window) String() string { return time.Duration(w).String() }

func (w Window) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(w.String())), nil
}

func (w *Window) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return err
	}
	parsed, err := ParseWindow(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// ParseWindow parses a bucket width such as "15m", "1h", "15 minutes"
// or "1 hour".
func ParseWindow(s string) (Window, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty window")
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("window must be positive: %q", s)
		}
		return Window(d), nil
	}

	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, fmt.Errorf("invalid window format: %q", s)
	}
	value, err := strconv.Atoi(fields[0])
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid window value: %q", s)
	}
	unit := strings.ToLower(fields[1])
	switch {
	case strings.HasPrefix(unit, "min"):
		return Window(time.Duration(value) * time.Minute), nil
	case strings.HasPrefix(unit, "hour"):
		return Window(time.Duration(value) * time.Hour), nil
	case strings.HasPrefix(unit, "day"):
		return Window(time.Duration(value) * 24 * time.Hour), nil
	}
	return 0, fmt.Errorf("invalid window unit: %q", s)
}

// Aggregate is the rollup of all observations for one city within one
// bucket. Exactly one aggregate exists per (city, bucket_start,
// bucket_width); recomputation overwrites it. A nil metric means no
// observation in the bucket reported that metric.
type Aggregate struct {
	CityID      string    `json:"city_id"`
	BucketStart time.Time `json:"bucket_start"`
	BucketWidth Window    `json:"bucket_width"`
	TempAvg     *float64  `json:"temp_avg"`
	TempMin     *float64  `json:"temp_min"`
	TempMax     *float64  `json:"temp_max"`
	HumidityAvg *float64  `json:"humidity_avg"`
	WindAvg     *float64  `json:"wind_avg"`
}

// Level is the severity of an alert.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Valid returns true when the level is a known severity.
func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelCritical:
		return true
	default:
		return false
	}
}

// Alert is an emitted notification tied to a rule violation. Immutable
// once created.
type Alert struct {
	ID          string    `json:"id"`
	CityID      string    `json:"city_id"`
	Level       Level     `json:"level"`
	Rule        string    `json:"rule"`
	Message     string    `json:"message"`
	TriggeredAt time.Time `json:"triggered_at"`
}
