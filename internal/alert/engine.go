package alert

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/citygrid/weather-aggregator/internal/weather"
)

// Publisher is the outbound notification sink. Delivery is best-effort;
// the alert store stays authoritative.
type Publisher interface {
	Publish(ctx context.Context, alert weather.Alert) error
}

// Engine evaluates the rule set against the newest aggregate per city
// and window, emitting deduplicated alerts. Emission is one atomic
// conditional insert into the alert store followed by a best-effort
// publish, in that order.
type Engine struct {
	aggregates weather.AggregateStore
	alerts     weather.AlertStore
	sink       Publisher
	rules      []Rule
	cooldown   time.Duration
	logger     *log.Logger
}

// NewEngine constructs an alert engine. A nil sink disables publishing.
func NewEngine(aggregates weather.AggregateStore, alerts weather.AlertStore, sink Publisher, rules []Rule, cooldown time.Duration, logger *log.Logger) (*Engine, error) {
	if aggregates == nil || alerts == nil {
		return nil, errors.New("alert engine: nil store")
	}
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		aggregates: aggregates,
		alerts:     alerts,
		sink:       sink,
		rules:      rules,
		cooldown:   cooldown,
		logger:     logger,
	}, nil
}

// Evaluate runs every rule against the latest aggregates and returns
// the number of alerts emitted. A rule evaluation error is logged and
// skipped; it never blocks other rules or cities.
func (e *Engine) Evaluate(ctx context.Context) int {
	emitted := 0
	for _, window := range e.windows() {
		latest, err := e.aggregates.LatestPerCity(ctx, window)
		if err != nil {
			e.logger.Printf("alert engine: reading latest aggregates for %s failed: %v", window, err)
			continue
		}
		for _, agg := range latest {
			for _, rule := range e.rules {
				if rule.Window != window {
					continue
				}
				if e.evaluateRule(ctx, rule, agg) {
					emitted++
				}
			}
		}
	}
	return emitted
}

func (e *Engine) evaluateRule(ctx context.Context, rule Rule, agg weather.Aggregate) bool {
	firing, err := rule.Evaluate(agg)
	if err != nil {
		e.logger.Printf("alert engine: rule %s for %s failed: %v", rule.Name, agg.CityID, err)
		return false
	}
	if !firing {
		return false
	}

	alert := weather.Alert{
		ID:          uuid.NewString(),
		CityID:      agg.CityID,
		Level:       rule.Level,
		Rule:        rule.Name,
		Message:     rule.Message,
		TriggeredAt: agg.BucketStart,
	}

	inserted, err := e.alerts.Insert(ctx, alert, e.cooldown)
	if err != nil {
		e.logger.Printf("alert engine: storing alert %s/%s failed: %v", alert.CityID, alert.Rule, err)
		return false
	}
	if !inserted {
		// Within cooldown, or a concurrent cycle won the emission.
		return false
	}

	if e.sink != nil {
		if err := e.sink.Publish(ctx, alert); err != nil {
			// Store write is authoritative; publish failure is not rolled back.
			e.logger.Printf("alert engine: publishing alert %s/%s failed: %v", alert.CityID, alert.Rule, err)
		}
	}
	return true
}

func (e *Engine) windows() []time.Duration {
	var windows []time.Duration
	seen := make(map[time.Duration]bool)
	for _, rule := range e.rules {
		if !seen[rule.Window] {
			seen[rule.Window] = true
			windows = append(windows, rule.Window)
		}
	}
	return windows
}
