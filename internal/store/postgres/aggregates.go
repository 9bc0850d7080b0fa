package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/citygrid/weather-aggregator/internal/weather"
)

// AggregateStore is a Postgres-backed aggregate store. Bucket widths are
// stored as whole seconds.
type AggregateStore struct {
	db *sql.DB
}

// NewAggregateStore constructs the store.
func NewAggregateStore(db *sql.DB) *AggregateStore {
	return &AggregateStore{db: db}
}

// Upsert writes the aggregate keyed by (city_id, bucket_start,
// bucket_width). ON CONFLICT makes the operation atomic, so overlapping
// aggregator runs cannot duplicate rows.
func (s *AggregateStore) Upsert(ctx context.Context, agg weather.Aggregate) error {
	if s == nil || s.db == nil {
		return errors.New("aggregate store: nil db")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO aggregates (
	city_id, bucket_start, bucket_width_s,
	temp_avg, temp_min, temp_max, humidity_avg, wind_avg, updated_at
) VALUES (
	$1, $2, $3,
	$4, $5, $6, $7, $8, now()
)
ON CONFLICT (city_id, bucket_start, bucket_width_s)
DO UPDATE SET
	temp_avg = EXCLUDED.temp_avg,
	temp_min = EXCLUDED.temp_min,
	temp_max = EXCLUDED.temp_max,
	humidity_avg = EXCLUDED.humidity_avg,
	wind_avg = EXCLUDED.wind_avg,
	updated_at = now()`,
		agg.CityID,
		agg.BucketStart.UTC(),
		int64(agg.BucketWidth.Duration()/time.Second),
		nullFloat(agg.TempAvg),
		nullFloat(agg.TempMin),
		nullFloat(agg.TempMax),
		nullFloat(agg.HumidityAvg),
		nullFloat(agg.WindAvg),
	)
	return err
}

// List returns aggregates for a city, newest first by bucket_start.
func (s *AggregateStore) List(ctx context.Context, cityID string, width time.Duration, from, to time.Time, limit int) ([]weather.Aggregate, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("aggregate store: nil db")
	}
	conditions := []string{"city_id = $1"}
	args := []any{cityID}
	if width > 0 {
		args = append(args, int64(width/time.Second))
		conditions = append(conditions, fmt.Sprintf("bucket_width_s = $%d", len(args)))
	}
	if !from.IsZero() {
		args = append(args, from.UTC())
		conditions = append(conditions, fmt.Sprintf("bucket_start >= $%d", len(args)))
	}
	if !to.IsZero() {
		args = append(args, to.UTC())
		conditions = append(conditions, fmt.Sprintf("bucket_start <= $%d", len(args)))
	}

	query := fmt.Sprintf(`
SELECT city_id, bucket_start, bucket_width_s, temp_avg, temp_min, temp_max, humidity_avg, wind_avg
FROM aggregates
WHERE %s
ORDER BY bucket_start DESC, bucket_width_s`, strings.Join(conditions, " AND "))
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAggregates(rows)
}

// LatestPerCity returns the newest aggregate of the given width per city.
func (s *AggregateStore) LatestPerCity(ctx context.Context, width time.Duration) ([]weather.Aggregate, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("aggregate store: nil db")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT ON (city_id)
	city_id, bucket_start, bucket_width_s, temp_avg, temp_min, temp_max, humidity_avg, wind_avg
FROM aggregates
WHERE bucket_width_s = $1
ORDER BY city_id, bucket_start DESC`, int64(width/time.Second))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAggregates(rows)
}

func scanAggregates(rows *sql.Rows) ([]weather.Aggregate, error) {
	var result []weather.Aggregate
	for rows.Next() {
		var agg weather.Aggregate
		var widthSeconds int64
		var tempAvg, tempMin, tempMax, humidityAvg, windAvg sql.NullFloat64
		if err := rows.Scan(
			&agg.CityID,
			&agg.BucketStart,
			&widthSeconds,
			&tempAvg,
			&tempMin,
			&tempMax,
			&humidityAvg,
			&windAvg,
		); err != nil {
			return nil, err
		}
		agg.BucketStart = agg.BucketStart.UTC()
		agg.BucketWidth = weather.Window(time.Duration(widthSeconds) * time.Second)
		agg.TempAvg = floatPtr(tempAvg)
		agg.TempMin = floatPtr(tempMin)
		agg.TempMax = floatPtr(tempMax)
		agg.HumidityAvg = floatPtr(humidityAvg)
		agg.WindAvg = floatPtr(windAvg)
		result = append(result, agg)
	}
	return result, rows.Err()
}
