package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/citygrid/weather-aggregator/internal/weather"
)

// ErrRejected marks a message that failed validation. Rejected messages
// must not be redelivered; the transport should drop or dead-letter them.
var ErrRejected = errors.New("message rejected")

var validate = validator.New()

// Message is the inbound observation shape, one per reading.
type Message struct {
	CityID      string   `json:"city_id" validate:"required"`
	Source      string   `json:"source"`
	ObservedAt  string   `json:"observed_at" validate:"required"`
	TempC       *float64 `json:"temp_c"`
	Humidity    *float64 `json:"humidity"`
	WindKph     *float64 `json:"wind_kph"`
	PressureHpa *float64 `json:"pressure_hpa"`
	RainMM      *float64 `json:"rain_mm"`
}

// BackoffConfig controls retry behaviour for store appends.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultBackoff bounds append retries to roughly a second in total.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

// Ingestor validates and normalizes inbound readings and appends them
// to the observation store. It holds no unacknowledged state across
// restarts; a failed append is surfaced to the transport for
// redelivery after retries are exhausted.
type Ingestor struct {
	store   weather.ObservationStore
	maxSkew time.Duration
	backoff BackoffConfig
	logger  *log.Logger
	now     func() time.Time
}

// Option configures the ingestor.
type Option func(*Ingestor)

// WithBackoff overrides the append retry policy.
func WithBackoff(cfg BackoffConfig) Option {
	return func(i *Ingestor) { i.backoff = cfg }
}

// WithClock overrides the clock used for skew checks.
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) {
		if now != nil {
			i.now = now
		}
	}
}

// NewIngestor constructs an ingestor. maxSkew bounds how far in the
// future observed_at may be before the message is rejected.
func NewIngestor(store weather.ObservationStore, maxSkew time.Duration, logger *log.Logger, opts ...Option) (*Ingestor, error) {
	if store == nil {
		return nil, errors.New("ingestor: nil store")
	}
	if logger == nil {
		logger = log.Default()
	}
	ing := &Ingestor{
		store:   store,
		maxSkew: maxSkew,
		backoff: DefaultBackoff(),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing, nil
}

// IngestRaw decodes a JSON payload and ingests it.
func (i *Ingestor) IngestRaw(ctx context.Context, payload []byte) error {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrRejected, err)
	}
	return i.Ingest(ctx, msg)
}

// Ingest validates the message and appends one observation. A
// validation failure returns an error wrapping ErrRejected; a store
// failure after exhausted retries returns the store error so the
// transport can redeliver.
func (i *Ingestor) Ingest(ctx context.Context, msg Message) error {
	obs, err := i.normalize(msg)
	if err != nil {
		return err
	}
	return i.appendWithRetry(ctx, obs)
}

func (i *Ingestor) normalize(msg Message) (weather.Observation, error) {
	if err := validate.Struct(msg); err != nil {
		return weather.Observation{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	observedAt, err := time.Parse(time.RFC3339, msg.ObservedAt)
	if err != nil {
		return weather.Observation{}, fmt.Errorf("%w: invalid observed_at %q", ErrRejected, msg.ObservedAt)
	}
	observedAt = observedAt.UTC().Truncate(time.Second)

	if i.maxSkew > 0 && observedAt.After(i.now().Add(i.maxSkew)) {
		return weather.Observation{}, fmt.Errorf("%w: observed_at %s too far in the future", ErrRejected, observedAt.Format(time.RFC3339))
	}

	return weather.Observation{
		CityID:      msg.CityID,
		Source:      msg.Source,
		ObservedAt:  observedAt,
		TempC:       finiteOrNil(msg.TempC),
		Humidity:    finiteOrNil(msg.Humidity),
		WindKph:     finiteOrNil(msg.WindKph),
		PressureHpa: finiteOrNil(msg.PressureHpa),
		RainMM:      finiteOrNil(msg.RainMM),
	}, nil
}

func (i *Ingestor) appendWithRetry(ctx context.Context, obs weather.Observation) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = i.store.Append(ctx, obs)
		if lastErr == nil {
			return nil
		}
		if attempt >= i.backoff.MaxRetries {
			return fmt.Errorf("append observation for %s: %w", obs.CityID, lastErr)
		}

		delay := i.backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if i.backoff.MaxInterval > 0 && delay > i.backoff.MaxInterval {
			delay = i.backoff.MaxInterval
		}
		i.logger.Printf("ingest: append failed (attempt %d/%d), retrying in %s: %v",
			attempt+1, i.backoff.MaxRetries, delay, lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// finiteOrNil treats non-finite numbers as absent rather than zero.
func finiteOrNil(v *float64) *float64 {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return v
}
