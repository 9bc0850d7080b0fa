package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/sony/gobreaker"

	"github.com/citygrid/weather-aggregator/internal/common"
)

// OpenWeatherProvider fetches 5-day/3-hour forecasts from OpenWeatherMap
// and folds them into daily highs, lows, and precipitation totals.
type OpenWeatherProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg common.HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewOpenWeatherProvider(client *http.Client, apiKey, baseURL string) *OpenWeatherProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if baseURL == "" {
		baseURL = "https://api.openweathermap.org"
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweather-forecast",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &OpenWeatherProvider{
		name:    "openweather",
		apiKey:  apiKey,
		baseURL: baseURL,
		httpCfg: common.HTTPClientConfig{
			Client: client,
			Backoff: common.HTTPBackoff{
				MaxRetries:      3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
		},
		circuit: cb,
	}
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

func (p *OpenWeatherProvider) Fetch(ctx context.Context, cityID string, lat, lon float64) (Forecast, error) {
	if p.apiKey == "" {
		return Forecast{}, fmt.Errorf("openweather api key is not configured")
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("lat", fmt.Sprintf("%f", lat))
		values.Set("lon", fmt.Sprintf("%f", lon))
		values.Set("appid", p.apiKey)
		values.Set("units", "metric")

		u := fmt.Sprintf("%s/data/2.5/forecast?%s", p.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := common.DoRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return Forecast{}, err
	}
	defer resp.Body.Close()

	var payload struct {
		List []struct {
			DtTxt string `json:"dt_txt"`
			Main  struct {
				Temp *float64 `json:"temp"`
			} `json:"main"`
			Rain struct {
				ThreeH float64 `json:"3h"`
			} `json:"rain"`
		} `json:"list"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Forecast{}, err
	}

	type dayAcc struct {
		high   float64
		low    float64
		precip float64
	}
	days := make(map[string]*dayAcc)

	for _, entry := range payload.List {
		if entry.DtTxt == "" {
			continue
		}
		ts, err := time.Parse("2006-01-02 15:04:05", entry.DtTxt)
		if err != nil {
			continue
		}
		key := ts.Format("2006-01-02")
		acc, ok := days[key]
		if !ok {
			acc = &dayAcc{high: math.Inf(-1), low: math.Inf(1)}
			days[key] = acc
		}
		if entry.Main.Temp != nil {
			acc.high = math.Max(acc.high, *entry.Main.Temp)
			acc.low = math.Min(acc.low, *entry.Main.Temp)
		}
		acc.precip += entry.Rain.ThreeH
	}

	keys := make([]string, 0, len(days))
	for key := range days {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if len(keys) > 3 {
		keys = keys[:3]
	}

	daily := make([]Day, 0, len(keys))
	for _, key := range keys {
		acc := days[key]
		day := Day{
			Date:            key,
			PrecipitationMM: math.Round(acc.precip*100) / 100,
			Summary:         "OpenWeather forecast",
		}
		if !math.IsInf(acc.high, -1) {
			day.TempHighC = acc.high
		}
		if !math.IsInf(acc.low, 1) {
			day.TempLowC = acc.low
		}
		daily = append(daily, day)
	}

	if len(daily) == 0 {
		return Forecast{}, fmt.Errorf("openweather forecast for %s returned no entries", cityID)
	}

	return Forecast{
		CityID:      cityID,
		Provider:    p.name,
		RetrievedAt: time.Now().UTC(),
		Daily:       daily,
	}, nil
}
