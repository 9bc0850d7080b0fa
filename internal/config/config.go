package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/citygrid/weather-aggregator/internal/poller"
	"github.com/citygrid/weather-aggregator/internal/weather"
)

type AppConfig struct {
	Port string

	// DatabaseURL selects the Postgres stores; empty keeps everything
	// in memory.
	DatabaseURL string

	MQTTBrokerURL string
	MQTTUsername  string
	MQTTPassword  string

	// AggregateInterval controls how often buckets are recomputed and
	// rules evaluated.
	AggregateInterval time.Duration
	BucketWidths      []time.Duration
	TrailingBuckets   int
	AlertCooldown     time.Duration

	// IngestMaxSkew bounds how far in the future an observation may
	// claim to be before it is rejected.
	IngestMaxSkew time.Duration

	ForecastAPIKey  string
	ForecastBaseURL string
	ForecastTTL     time.Duration
	ForecastTimeout time.Duration

	PollInterval time.Duration
	PollCities   []poller.City

	// MaxQueryRange bounds from/to spans on list endpoints.
	MaxQueryRange time.Duration
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	cfg.MQTTBrokerURL = os.Getenv("MQTT_BROKER_URL")
	cfg.MQTTUsername = os.Getenv("MQTT_USERNAME")
	cfg.MQTTPassword = os.Getenv("MQTT_PASSWORD")

	var err error
	if cfg.AggregateInterval, err = getenvDuration("AGGREGATE_INTERVAL", "60s"); err != nil {
		return nil, err
	}
	if cfg.AlertCooldown, err = getenvDuration("ALERT_COOLDOWN", "60m"); err != nil {
		return nil, err
	}
	if cfg.IngestMaxSkew, err = getenvDuration("INGEST_MAX_SKEW", "5m"); err != nil {
		return nil, err
	}
	cfg.TrailingBuckets = getenvInt("TRAILING_BUCKETS", 3)

	widths, err := parseWidths(getenvDefault("BUCKET_WIDTHS", "15m,1h"))
	if err != nil {
		return nil, err
	}
	cfg.BucketWidths = widths

	cfg.ForecastAPIKey = os.Getenv("FORECAST_API_KEY")
	cfg.ForecastBaseURL = getenvDefault("FORECAST_BASE_URL", "https://api.openweathermap.org")
	if cfg.ForecastTTL, err = getenvDuration("FORECAST_TTL", "10m"); err != nil {
		return nil, err
	}
	if cfg.ForecastTimeout, err = getenvDuration("FORECAST_TIMEOUT", "10s"); err != nil {
		return nil, err
	}

	if cfg.PollInterval, err = getenvDuration("POLL_INTERVAL", "5m"); err != nil {
		return nil, err
	}
	cities, err := parseCities(getenvDefault("POLL_CITIES",
		"toronto:43.6532:-79.3832,brampton:43.7315:-79.7624,mississauga:43.5890:-79.6441"))
	if err != nil {
		return nil, err
	}
	cfg.PollCities = cities

	if cfg.MaxQueryRange, err = getenvDuration("MAX_QUERY_RANGE", "4320h"); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseWidths parses a comma-separated list of bucket widths, for
// example "15m,1h".
func parseWidths(raw string) ([]time.Duration, error) {
	var widths []time.Duration
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		window, err := weather.ParseWindow(part)
		if err != nil {
			return nil, fmt.Errorf("invalid BUCKET_WIDTHS entry %q: %w", part, err)
		}
		widths = append(widths, window.Duration())
	}
	if len(widths) == 0 {
		return nil, fmt.Errorf("BUCKET_WIDTHS must name at least one width")
	}
	return widths, nil
}

// parseCities parses "id:lat:lon" triples separated by commas.
func parseCities(raw string) ([]poller.City, error) {
	var cities []poller.City
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("invalid POLL_CITIES entry %q: want id:lat:lon", part)
		}
		lat, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid latitude in POLL_CITIES entry %q", part)
		}
		lon, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid longitude in POLL_CITIES entry %q", part)
		}
		cities = append(cities, poller.City{ID: fields[0], Lat: lat, Lon: lon})
	}
	return cities, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
