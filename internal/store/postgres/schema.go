package postgres

import (
	"context"
	"database/sql"
	"errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS observations (
	city_id      TEXT NOT NULL,
	source       TEXT NOT NULL,
	observed_at  TIMESTAMPTZ NOT NULL,
	temp_c       DOUBLE PRECISION,
	humidity     DOUBLE PRECISION,
	wind_kph     DOUBLE PRECISION,
	pressure_hpa DOUBLE PRECISION,
	rain_mm      DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS observations_city_time_idx
	ON observations (city_id, observed_at DESC);

CREATE TABLE IF NOT EXISTS aggregates (
	city_id       TEXT NOT NULL,
	bucket_start  TIMESTAMPTZ NOT NULL,
	bucket_width_s BIGINT NOT NULL,
	temp_avg     DOUBLE PRECISION,
	temp_min     DOUBLE PRECISION,
	temp_max     DOUBLE PRECISION,
	humidity_avg DOUBLE PRECISION,
	wind_avg     DOUBLE PRECISION,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (city_id, bucket_start, bucket_width_s)
);

CREATE TABLE IF NOT EXISTS alerts (
	id           TEXT PRIMARY KEY,
	city_id      TEXT NOT NULL,
	level        TEXT NOT NULL,
	rule         TEXT NOT NULL,
	message      TEXT NOT NULL,
	triggered_at TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS alerts_city_rule_created_idx
	ON alerts (city_id, rule, created_at DESC);
`

// EnsureSchema creates the tables used by the store adapters when they
// do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("postgres: nil db")
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
