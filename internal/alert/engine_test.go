package alert

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/citygrid/weather-aggregator/internal/store"
	"github.com/citygrid/weather-aggregator/internal/weather"
)

type capturingPublisher struct {
	mu        sync.Mutex
	published []weather.Alert
	err       error
}

func (p *capturingPublisher) Publish(_ context.Context, alert weather.Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, alert)
	return nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func seedAggregate(t *testing.T, aggregates weather.AggregateStore, tempAvg float64) weather.Aggregate {
	t.Helper()
	agg := weather.Aggregate{
		CityID:      "toronto",
		BucketStart: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		BucketWidth: weather.Window(time.Hour),
		TempAvg:     fptr(tempAvg),
	}
	if err := aggregates.Upsert(context.Background(), agg); err != nil {
		t.Fatalf("seed aggregate: %v", err)
	}
	return agg
}

func TestEngineEmitsWarning(t *testing.T) {
	aggregates := store.NewMemoryAggregateStore()
	alerts := store.NewMemoryAlertStore()
	sink := &capturingPublisher{}
	seedAggregate(t, aggregates, 36)

	rules := []Rule{{
		Name:      "temp_high",
		Level:     weather.LevelWarning,
		Metric:    MetricTempAvg,
		Op:        OpGreater,
		Threshold: 35,
		Window:    time.Hour,
		Message:   "Temperature exceeded 35C",
	}}

	engine, err := NewEngine(aggregates, alerts, sink, rules, 10*time.Minute, quietLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	if emitted := engine.Evaluate(context.Background()); emitted != 1 {
		t.Fatalf("emitted = %d, want 1", emitted)
	}

	stored, err := alerts.List(context.Background(), "toronto", 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored alerts = %d, want 1", len(stored))
	}
	got := stored[0]
	if got.Rule != "temp_high" || got.Level != weather.LevelWarning || got.CityID != "toronto" {
		t.Errorf("unexpected alert %+v", got)
	}
	if got.ID == "" {
		t.Error("alert ID should be assigned")
	}
	if len(sink.published) != 1 {
		t.Errorf("published = %d, want 1", len(sink.published))
	}
}

func TestEngineCooldownSuppressesRepeat(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	aggregates := store.NewMemoryAggregateStore()
	alerts := store.NewMemoryAlertStore().WithClock(func() time.Time { return now })
	seedAggregate(t, aggregates, 36)

	rules := []Rule{{
		Name:      "temp_high",
		Level:     weather.LevelWarning,
		Metric:    MetricTempAvg,
		Op:        OpGreater,
		Threshold: 35,
		Window:    time.Hour,
	}}

	engine, err := NewEngine(aggregates, alerts, nil, rules, 10*time.Minute, quietLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	if emitted := engine.Evaluate(context.Background()); emitted != 1 {
		t.Fatalf("first cycle emitted = %d, want 1", emitted)
	}

	now = now.Add(time.Minute)
	if emitted := engine.Evaluate(context.Background()); emitted != 0 {
		t.Fatalf("cycle within cooldown emitted = %d, want 0", emitted)
	}

	now = now.Add(10 * time.Minute)
	if emitted := engine.Evaluate(context.Background()); emitted != 1 {
		t.Fatalf("cycle after cooldown emitted = %d, want 1", emitted)
	}

	stored, err := alerts.List(context.Background(), "toronto", 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("stored alerts = %d, want 2", len(stored))
	}
}

func TestEnginePublishFailureKeepsAlert(t *testing.T) {
	aggregates := store.NewMemoryAggregateStore()
	alerts := store.NewMemoryAlertStore()
	sink := &capturingPublisher{err: errors.New("broker down")}
	seedAggregate(t, aggregates, 36)

	engine, err := NewEngine(aggregates, alerts, sink, []Rule{{
		Name:      "temp_high",
		Level:     weather.LevelWarning,
		Metric:    MetricTempAvg,
		Op:        OpGreater,
		Threshold: 35,
		Window:    time.Hour,
	}}, time.Hour, quietLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	if emitted := engine.Evaluate(context.Background()); emitted != 1 {
		t.Fatalf("emitted = %d, want 1", emitted)
	}

	stored, err := alerts.List(context.Background(), "toronto", 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(stored) != 1 {
		t.Errorf("stored alerts = %d, want 1; publish failure must not roll back the store", len(stored))
	}
}

func TestEngineConcurrentEvaluateEmitsOnce(t *testing.T) {
	aggregates := store.NewMemoryAggregateStore()
	alerts := store.NewMemoryAlertStore()
	seedAggregate(t, aggregates, 36)

	engine, err := NewEngine(aggregates, alerts, nil, []Rule{{
		Name:      "temp_high",
		Level:     weather.LevelWarning,
		Metric:    MetricTempAvg,
		Op:        OpGreater,
		Threshold: 35,
		Window:    time.Hour,
	}}, time.Hour, quietLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	const cycles = 8
	var wg sync.WaitGroup
	emitted := make([]int, cycles)
	for i := 0; i < cycles; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			emitted[i] = engine.Evaluate(context.Background())
		}(i)
	}
	wg.Wait()

	total := 0
	for _, n := range emitted {
		total += n
	}
	if total != 1 {
		t.Errorf("total emitted across concurrent cycles = %d, want 1", total)
	}

	stored, err := alerts.List(context.Background(), "toronto", 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(stored) != 1 {
		t.Errorf("stored alerts = %d, want 1", len(stored))
	}
}

func TestEngineRuleErrorIsolated(t *testing.T) {
	aggregates := store.NewMemoryAggregateStore()
	alerts := store.NewMemoryAlertStore()
	seedAggregate(t, aggregates, 36)

	rules := []Rule{
		{Name: "broken", Level: weather.LevelInfo, Metric: "dew_point", Op: OpGreater, Threshold: 0, Window: time.Hour},
		{Name: "temp_high", Level: weather.LevelWarning, Metric: MetricTempAvg, Op: OpGreater, Threshold: 35, Window: time.Hour},
	}

	engine, err := NewEngine(aggregates, alerts, nil, rules, time.Hour, quietLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	if emitted := engine.Evaluate(context.Background()); emitted != 1 {
		t.Errorf("emitted = %d, want 1; the broken rule must not block the healthy one", emitted)
	}
}
