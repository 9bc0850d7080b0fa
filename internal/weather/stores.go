package weather

import (
	"context"
	"time"
)

// ObservationStore is an append-only, time-ordered record store for
// observations. Records are never mutated after insert.
type ObservationStore interface {
	// Append inserts one observation. Duplicates are tolerated.
	Append(ctx context.Context, obs Observation) error

	// List returns observations for a city, newest first. Zero from/to
	// leave that bound open; both bounds are inclusive. limit <= 0 means
	// no limit.
	List(ctx context.Context, cityID string, from, to time.Time, limit int) ([]Observation, error)

	// Bucket returns observations for a city with observed_at in
	// [start, end), in no particular order.
	Bucket(ctx context.Context, cityID string, start, end time.Time) ([]Observation, error)

	// Cities returns the distinct city identifiers with at least one
	// observation at or after since.
	Cities(ctx context.Context, since time.Time) ([]string, error)
}

// AggregateStore persists per-bucket rollups. Upsert must be atomic at
// the store level (last writer wins on the deterministic key), so
// overlapping aggregator runs stay safe without locking.
type AggregateStore interface {
	// Upsert writes the aggregate keyed by (city_id, bucket_start,
	// bucket_width), overwriting any existing row.
	Upsert(ctx context.Context, agg Aggregate) error

	// List returns aggregates for a city, newest first by bucket_start.
	// width 0 matches all widths; limit <= 0 means no limit.
	List(ctx context.Context, cityID string, width time.Duration, from, to time.Time, limit int) ([]Aggregate, error)

	// LatestPerCity returns the most recent aggregate of the given width
	// for each city.
	LatestPerCity(ctx context.Context, width time.Duration) ([]Aggregate, error)
}

// AlertStore persists emitted alerts. Insert carries the cooldown check
// so that the check and the write are a single atomic step; under
// concurrent evaluation cycles exactly one attempt wins and the losers
// see inserted == false.
type AlertStore interface {
	// Insert writes the alert unless another alert for the same
	// (city_id, rule) was emitted within the cooldown interval. Returns
	// true when the alert was written.
	Insert(ctx context.Context, alert Alert, cooldown time.Duration) (bool, error)

	// List returns alerts for a city, newest first. limit <= 0 means no
	// limit.
	List(ctx context.Context, cityID string, limit int) ([]Alert, error)
}
