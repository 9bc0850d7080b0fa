package aggregate

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/citygrid/weather-aggregator/internal/weather"
)

// Aggregator recomputes per-city, per-window rollups from the
// observation store and upserts them into the aggregate store. Upserts
// are keyed deterministically, so re-running over an unchanged
// observation set is idempotent and overlapping runs are safe.
type Aggregator struct {
	observations weather.ObservationStore
	aggregates   weather.AggregateStore

	widths   []time.Duration
	trailing int // trailing buckets recomputed to absorb late arrivals
	logger   *log.Logger
	now      func() time.Time
}

// Option configures the aggregator.
type Option func(*Aggregator)

// WithClock overrides the clock that selects the open bucket.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// New constructs an aggregator for the given bucket widths.
func New(observations weather.ObservationStore, aggregates weather.AggregateStore, widths []time.Duration, trailing int, logger *log.Logger, opts ...Option) (*Aggregator, error) {
	if observations == nil || aggregates == nil {
		return nil, errors.New("aggregator: nil store")
	}
	if len(widths) == 0 {
		widths = []time.Duration{15 * time.Minute, time.Hour}
	}
	for _, w := range widths {
		if w <= 0 {
			return nil, errors.New("aggregator: bucket width must be positive")
		}
	}
	if trailing < 0 {
		trailing = 0
	}
	if logger == nil {
		logger = log.Default()
	}
	a := &Aggregator{
		observations: observations,
		aggregates:   aggregates,
		widths:       widths,
		trailing:     trailing,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Widths returns the configured bucket widths.
func (a *Aggregator) Widths() []time.Duration { return a.widths }

// Run recomputes the open bucket plus the trailing buckets for every
// city with recent observations, for every configured width. A failure
// for one (city, bucket) pair is logged and skipped; it never aborts
// the rest of the run.
func (a *Aggregator) Run(ctx context.Context) {
	now := a.now()
	for _, width := range a.widths {
		lookback := now.Add(-time.Duration(a.trailing+1) * width)
		cities, err := a.observations.Cities(ctx, lookback)
		if err != nil {
			a.logger.Printf("aggregator: listing cities for width %s failed: %v", width, err)
			continue
		}
		for _, city := range cities {
			a.runCity(ctx, city, width, now)
		}
	}
}

func (a *Aggregator) runCity(ctx context.Context, city string, width time.Duration, now time.Time) {
	open := weather.BucketStart(now, width)
	for i := 0; i <= a.trailing; i++ {
		start := open.Add(-time.Duration(i) * width)
		if err := a.recomputeBucket(ctx, city, start, width); err != nil {
			a.logger.Printf("aggregator: bucket %s/%s@%s failed: %v",
				city, width, start.Format(time.RFC3339), err)
		}
	}
}

func (a *Aggregator) recomputeBucket(ctx context.Context, city string, start time.Time, width time.Duration) error {
	observations, err := a.observations.Bucket(ctx, city, start, start.Add(width))
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		// No contributing observations: nothing to upsert. An earlier row
		// for this bucket stays as-is.
		return nil
	}
	return a.aggregates.Upsert(ctx, Compute(city, start, width, observations))
}

// Compute rolls the observations of one bucket up into an aggregate.
// Averages are arithmetic means over the non-null values only; min/max
// ignore nulls; a metric with no contributing values stays nil, never
// zero.
func Compute(city string, start time.Time, width time.Duration, observations []weather.Observation) weather.Aggregate {
	agg := weather.Aggregate{
		CityID:      city,
		BucketStart: start.UTC(),
		BucketWidth: weather.Window(width),
	}

	var temps, humidities, winds []float64
	for _, obs := range observations {
		if obs.TempC != nil {
			temps = append(temps, *obs.TempC)
		}
		if obs.Humidity != nil {
			humidities = append(humidities, *obs.Humidity)
		}
		if obs.WindKph != nil {
			winds = append(winds, *obs.WindKph)
		}
	}

	agg.TempAvg = mean(temps)
	agg.TempMin = minOf(temps)
	agg.TempMax = maxOf(temps)
	agg.HumidityAvg = mean(humidities)
	agg.WindAvg = mean(winds)
	return agg
}

func mean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	m := sum / float64(len(values))
	return &m
}

func minOf(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return &m
}

func maxOf(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return &m
}
