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

// ObservationStore is a Postgres-backed append-only observation store.
type ObservationStore struct {
	db *sql.DB
}

// NewObservationStore constructs the store.
func NewObservationStore(db *sql.DB) *ObservationStore {
	return &ObservationStore{db: db}
}

// Append inserts one observation. Rows are never updated afterwards.
func (s *ObservationStore) Append(ctx context.Context, obs weather.Observation) error {
	if s == nil || s.db == nil {
		return errors.New("observation store: nil db")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO observations (city_id, source, observed_at, temp_c, humidity, wind_kph, pressure_hpa, rain_mm)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		obs.CityID,
		obs.Source,
		obs.ObservedAt.UTC(),
		nullFloat(obs.TempC),
		nullFloat(obs.Humidity),
		nullFloat(obs.WindKph),
		nullFloat(obs.PressureHpa),
		nullFloat(obs.RainMM),
	)
	return err
}

// List returns observations for a city, newest first.
func (s *ObservationStore) List(ctx context.Context, cityID string, from, to time.Time, limit int) ([]weather.Observation, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("observation store: nil db")
	}
	conditions := []string{"city_id = $1"}
	args := []any{cityID}
	if !from.IsZero() {
		args = append(args, from.UTC())
		conditions = append(conditions, fmt.Sprintf("observed_at >= $%d", len(args)))
	}
	if !to.IsZero() {
		args = append(args, to.UTC())
		conditions = append(conditions, fmt.Sprintf("observed_at <= $%d", len(args)))
	}

	query := fmt.Sprintf(`
SELECT city_id, source, observed_at, temp_c, humidity, wind_kph, pressure_hpa, rain_mm
FROM observations
WHERE %s
ORDER BY observed_at DESC`, strings.Join(conditions, " AND "))
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanObservations(rows)
}

// Bucket returns observations with observed_at in [start, end).
func (s *ObservationStore) Bucket(ctx context.Context, cityID string, start, end time.Time) ([]weather.Observation, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("observation store: nil db")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT city_id, source, observed_at, temp_c, humidity, wind_kph, pressure_hpa, rain_mm
FROM observations
WHERE city_id = $1 AND observed_at >= $2 AND observed_at < $3`,
		cityID, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanObservations(rows)
}

// Cities returns distinct city ids with observations at or after since.
func (s *ObservationStore) Cities(ctx context.Context, since time.Time) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("observation store: nil db")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT city_id
FROM observations
WHERE observed_at >= $1
ORDER BY city_id`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cities []string
	for rows.Next() {
		var city string
		if err := rows.Scan(&city); err != nil {
			return nil, err
		}
		cities = append(cities, city)
	}
	return cities, rows.Err()
}

func scanObservations(rows *sql.Rows) ([]weather.Observation, error) {
	var result []weather.Observation
	for rows.Next() {
		var obs weather.Observation
		var temp, humidity, wind, pressure, rain sql.NullFloat64
		if err := rows.Scan(
			&obs.CityID,
			&obs.Source,
			&obs.ObservedAt,
			&temp,
			&humidity,
			&wind,
			&pressure,
			&rain,
		); err != nil {
			return nil, err
		}
		obs.ObservedAt = obs.ObservedAt.UTC()
		obs.TempC = floatPtr(temp)
		obs.Humidity = floatPtr(humidity)
		obs.WindKph = floatPtr(wind)
		obs.PressureHpa = floatPtr(pressure)
		obs.RainMM = floatPtr(rain)
		result = append(result, obs)
	}
	return result, rows.Err()
}
