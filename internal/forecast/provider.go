package forecast

import (
	"context"
	"time"
)

// Day is one calendar day of a forecast.
type Day struct {
	Date            string  `json:"date"` // YYYY-MM-DD
	TempHighC       float64 `json:"temp_high_c"`
	TempLowC        float64 `json:"temp_low_c"`
	PrecipitationMM float64 `json:"precipitation_mm"`
	Summary         string  `json:"summary"`
}

// Forecast is a short-range daily forecast for one city.
type Forecast struct {
	CityID      string    `json:"city_id"`
	Provider    string    `json:"provider"`
	RetrievedAt time.Time `json:"retrieved_at"`
	Stale       bool      `json:"stale,omitempty"`
	Daily       []Day     `json:"daily"`
}

// Provider fetches a fresh forecast from an upstream service.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, cityID string, lat, lon float64) (Forecast, error)
}

// Placeholder returns the deterministic fallback forecast used when no
// provider is configured or no data could be fetched.
func Placeholder(cityID string, now time.Time) Forecast {
	now = now.UTC()
	daily := make([]Day, 0, 3)
	for i := 0; i < 3; i++ {
		daily = append(daily, Day{
			Date:            now.AddDate(0, 0, i).Format("2006-01-02"),
			TempHighC:       25 + float64(i),
			TempLowC:        16 + float64(i),
			PrecipitationMM: 2 * float64(i),
			Summary:         "Placeholder forecast",
		})
	}
	return Forecast{
		CityID:      cityID,
		Provider:    "placeholder",
		RetrievedAt: now,
		Daily:       daily,
	}
}
