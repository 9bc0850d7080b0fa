// Package poller pulls current conditions from OpenWeatherMap for a
// configured set of cities and feeds them through the ingestion
// pipeline as first-class observations.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/citygrid/weather-aggregator/internal/common"
	"github.com/citygrid/weather-aggregator/internal/ingest"
	"github.com/citygrid/weather-aggregator/internal/metrics"
)

// City is one polled location.
type City struct {
	ID  string
	Lat float64
	Lon float64
}

// OpenWeatherPoller fetches /data/2.5/weather per city and hands each
// reading to the ingestor. Per-city failures are logged and isolated.
type OpenWeatherPoller struct {
	apiKey   string
	baseURL  string
	cities   []City
	ingestor *ingest.Ingestor
	httpCfg  common.HTTPClientConfig
	circuit  *gobreaker.CircuitBreaker
	logger   *log.Logger
	now      func() time.Time
}

func NewOpenWeatherPoller(client *http.Client, apiKey, baseURL string, cities []City, ingestor *ingest.Ingestor, logger *log.Logger) (*OpenWeatherPoller, error) {
	if ingestor == nil {
		return nil, errors.New("poller: nil ingestor")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if baseURL == "" {
		baseURL = "https://api.openweathermap.org"
	}
	if logger == nil {
		logger = log.Default()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweather-current",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &OpenWeatherPoller{
		apiKey:  apiKey,
		baseURL: baseURL,
		cities:  cities,
		httpCfg: common.HTTPClientConfig{
			Client: client,
			Backoff: common.HTTPBackoff{
				MaxRetries:      3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
		},
		circuit:  cb,
		ingestor: ingestor,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// RunOnce polls every configured city once. One failing city never
// blocks the rest; the last error is returned for visibility.
func (p *OpenWeatherPoller) RunOnce(ctx context.Context) error {
	if p.apiKey == "" {
		return nil
	}

	var lastErr error
	for _, city := range p.cities {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.pollCity(ctx, city); err != nil {
			p.logger.Printf("poller: city %s failed: %v", city.ID, err)
			lastErr = err
		}
	}
	return lastErr
}

func (p *OpenWeatherPoller) pollCity(ctx context.Context, city City) error {
	msg, err := p.fetchCurrent(ctx, city)
	if err != nil {
		return err
	}
	if err := p.ingestor.Ingest(ctx, msg); err != nil {
		metrics.IngestFailures.Inc()
		return err
	}
	metrics.IngestedMessages.Inc()
	return nil
}

func (p *OpenWeatherPoller) fetchCurrent(ctx context.Context, city City) (ingest.Message, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("lat", fmt.Sprintf("%f", city.Lat))
		values.Set("lon", fmt.Sprintf("%f", city.Lon))
		values.Set("appid", p.apiKey)
		values.Set("units", "metric")

		u := fmt.Sprintf("%s/data/2.5/weather?%s", p.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := common.DoRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return ingest.Message{}, err
	}
	defer resp.Body.Close()

	var payload struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp     *float64 `json:"temp"`
			Humidity *float64 `json:"humidity"`
			Pressure *float64 `json:"pressure"`
		} `json:"main"`
		Wind struct {
			Speed *float64 `json:"speed"`
		} `json:"wind"`
		Rain struct {
			OneH   *float64 `json:"1h"`
			ThreeH *float64 `json:"3h"`
		} `json:"rain"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return ingest.Message{}, err
	}

	observedAt := p.now().UTC()
	if payload.Dt > 0 {
		observedAt = time.Unix(payload.Dt, 0).UTC()
	}

	return ingest.Message{
		CityID:      city.ID,
		Source:      "openweather",
		ObservedAt:  observedAt.Format(time.RFC3339),
		TempC:       payload.Main.Temp,
		Humidity:    scale(payload.Main.Humidity, 1.0/100),
		WindKph:     scale(payload.Wind.Speed, 3.6),
		PressureHpa: payload.Main.Pressure,
		RainMM:      firstOf(payload.Rain.OneH, payload.Rain.ThreeH),
	}, nil
}

func scale(v *float64, factor float64) *float64 {
	if v == nil {
		return nil
	}
	scaled := *v * factor
	return &scaled
}

func firstOf(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
