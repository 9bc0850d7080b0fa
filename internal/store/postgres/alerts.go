package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/citygrid/weather-aggregator/internal/weather"
)

// AlertStore is a Postgres-backed alert store.
type AlertStore struct {
	db *sql.DB
}

// NewAlertStore constructs the store.
func NewAlertStore(db *sql.DB) *AlertStore {
	return &AlertStore{db: db}
}

// Insert writes the alert unless the same (city_id, rule) emitted within
// the cooldown. The check and the write are one statement, so a losing
// concurrent attempt resolves to a no-op instead of a duplicate row.
func (s *AlertStore) Insert(ctx context.Context, alert weather.Alert, cooldown time.Duration) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("alert store: nil db")
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO alerts (id, city_id, level, rule, message, triggered_at, created_at)
SELECT $1, $2, $3, $4, $5, $6, now()
WHERE NOT EXISTS (
	SELECT 1 FROM alerts
	WHERE city_id = $2 AND rule = $4
	  AND created_at >= now() - ($7 * interval '1 second')
)`,
		alert.ID,
		alert.CityID,
		string(alert.Level),
		alert.Rule,
		alert.Message,
		alert.TriggeredAt.UTC(),
		cooldown.Seconds(),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// List returns alerts for a city, newest first.
func (s *AlertStore) List(ctx context.Context, cityID string, limit int) ([]weather.Alert, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("alert store: nil db")
	}
	query := `
SELECT id, city_id, level, rule, message, triggered_at
FROM alerts
WHERE city_id = $1
ORDER BY triggered_at DESC`
	args := []any{cityID}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $2"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []weather.Alert
	for rows.Next() {
		var alert weather.Alert
		var level string
		if err := rows.Scan(
			&alert.ID,
			&alert.CityID,
			&level,
			&alert.Rule,
			&alert.Message,
			&alert.TriggeredAt,
		); err != nil {
			return nil, err
		}
		alert.Level = weather.Level(level)
		alert.TriggeredAt = alert.TriggeredAt.UTC()
		result = append(result, alert)
	}
	return result, rows.Err()
}
