package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/citygrid/weather-aggregator/internal/forecast"
	"github.com/citygrid/weather-aggregator/internal/store"
	"github.com/citygrid/weather-aggregator/internal/weather"
)

func newTestAPI(t *testing.T) (*fiber.App, *API) {
	t.Helper()
	api := &API{
		Observations: store.NewMemoryObservationStore(),
		Aggregates:   store.NewMemoryAggregateStore(),
		Alerts:       store.NewMemoryAlertStore(),
		Forecasts:    forecast.NewCache(nil, 10*time.Minute, nil),
		MaxRange:     30 * 24 * time.Hour,
	}
	app := fiber.New()
	api.RegisterRoutes(app)
	return app, api
}

func seedObservations(t *testing.T, observations weather.ObservationStore, count int) {
	t.Helper()
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	temp := 20.0
	for i := 0; i < count; i++ {
		err := observations.Append(context.Background(), weather.Observation{
			CityID:     "toronto",
			Source:     "sensor-1",
			ObservedAt: base.Add(time.Duration(i) * time.Minute),
			TempC:      &temp,
		})
		if err != nil {
			t.Fatalf("seed observation: %v", err)
		}
	}
}

func TestListObservationsNewestFirst(t *testing.T) {
	app, api := newTestAPI(t)
	seedObservations(t, api.Observations, 5)

	req := httptest.NewRequest(http.MethodGet, "/cities/toronto/observations", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var got []weather.Observation
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("observations = %d, want 5", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].ObservedAt.After(got[i-1].ObservedAt) {
			t.Fatalf("observations are not newest first at index %d", i)
		}
	}
}

func TestListObservationsLimit(t *testing.T) {
	app, api := newTestAPI(t)
	seedObservations(t, api.Observations, 10)

	req := httptest.NewRequest(http.MethodGet, "/cities/toronto/observations?limit=3", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []weather.Observation
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("observations = %d, want 3", len(got))
	}

	// Limits above the cap are rejected.
	req = httptest.NewRequest(http.MethodGet, "/cities/toronto/observations?limit=1001", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("limit above cap: expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}
}

func TestListObservationsRangeValidation(t *testing.T) {
	app, _ := newTestAPI(t)

	cases := []struct {
		name  string
		query string
	}{
		{"bad from", "?from=yesterday"},
		{"to before from", "?from=2024-06-02T00:00:00Z&to=2024-06-01T00:00:00Z"},
		{"span too wide", "?from=2024-01-01T00:00:00Z&to=2024-12-01T00:00:00Z"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/cities/toronto/observations"+tc.query, nil)
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
			}
		})
	}
}

func TestListObservationsEmptyCityReturnsEmptyArray(t *testing.T) {
	app, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/cities/nowhere/observations", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	var got []weather.Observation
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty array, got %v", got)
	}
}

func TestListAggregatesWindowFilter(t *testing.T) {
	app, api := newTestAPI(t)

	tempAvg := 21.0
	for _, width := range []time.Duration{15 * time.Minute, time.Hour} {
		err := api.Aggregates.Upsert(context.Background(), weather.Aggregate{
			CityID:      "toronto",
			BucketStart: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
			BucketWidth: weather.Window(width),
			TempAvg:     &tempAvg,
		})
		if err != nil {
			t.Fatalf("seed aggregate: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/cities/toronto/aggregates?window=1h", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []weather.Aggregate
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("aggregates = %d, want 1", len(got))
	}
	if got[0].BucketWidth.Duration() != time.Hour {
		t.Errorf("bucket width = %v, want 1h", got[0].BucketWidth.Duration())
	}

	// The SQL-style spelling works too.
	req = httptest.NewRequest(http.MethodGet, "/cities/toronto/aggregates?window=15+minutes", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(got) != 1 || got[0].BucketWidth.Duration() != 15*time.Minute {
		t.Errorf("window=15 minutes returned %v", got)
	}

	// An unparseable window is a client error.
	req = httptest.NewRequest(http.MethodGet, "/cities/toronto/aggregates?window=fortnight", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}
}

func TestListAlerts(t *testing.T) {
	app, api := newTestAPI(t)

	for i := 0; i < 3; i++ {
		inserted, err := api.Alerts.Insert(context.Background(), weather.Alert{
			ID:          "a" + string(rune('0'+i)),
			CityID:      "toronto",
			Level:       weather.LevelWarning,
			Rule:        "rule" + string(rune('0'+i)),
			TriggeredAt: time.Date(2024, 6, 1, 10+i, 0, 0, 0, time.UTC),
		}, 0)
		if err != nil || !inserted {
			t.Fatalf("seed alert %d: inserted=%v err=%v", i, inserted, err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/cities/toronto/alerts?limit=2", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []weather.Alert
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("alerts = %d, want 2", len(got))
	}
	if got[0].TriggeredAt.Before(got[1].TriggeredAt) {
		t.Error("alerts are not newest first")
	}
}

func TestForecastWithoutCoordinatesServesPlaceholder(t *testing.T) {
	app, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/cities/toronto/forecast", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var got forecast.Forecast
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.Provider != "placeholder" {
		t.Errorf("provider = %q, want placeholder", got.Provider)
	}
	if len(got.Daily) != 3 {
		t.Errorf("days = %d, want 3", len(got.Daily))
	}
}

func TestForecastRejectsBadCoordinates(t *testing.T) {
	app, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/cities/toronto/forecast?lat=north&lon=-79.38", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}
}
