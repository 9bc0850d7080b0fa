package alert

import (
	"fmt"
	"time"

	"github.com/citygrid/weather-aggregator/internal/weather"
)

// Metric names an aggregate field a rule evaluates.
type Metric string

const (
	MetricTempAvg     Metric = "temp_avg"
	MetricTempMin     Metric = "temp_min"
	MetricTempMax     Metric = "temp_max"
	MetricHumidityAvg Metric = "humidity_avg"
	MetricWindAvg     Metric = "wind_avg"
)

// Op is a threshold comparison operator.
type Op string

const (
	OpGreater        Op = ">"
	OpGreaterOrEqual Op = ">="
	OpLess           Op = "<"
	OpLessOrEqual    Op = "<="
)

// Rule is a pure threshold check against the latest aggregate of one
// bucket width. Rules are independent; several may fire from the same
// aggregate.
type Rule struct {
	Name      string
	Level     weather.Level
	Metric    Metric
	Op        Op
	Threshold float64
	Window    time.Duration // must match the aggregate's bucket width
	Message   string
}

// Evaluate reports whether the rule fires for the aggregate. A nil
// metric value never fires. Unknown metrics or operators are evaluation
// errors, isolated per rule by the engine.
func (r Rule) Evaluate(agg weather.Aggregate) (bool, error) {
	value, err := metricValue(agg, r.Metric)
	if err != nil {
		return false, err
	}
	if value == nil {
		return false, nil
	}
	switch r.Op {
	case OpGreater:
		return *value > r.Threshold, nil
	case OpGreaterOrEqual:
		return *value >= r.Threshold, nil
	case OpLess:
		return *value < r.Threshold, nil
	case OpLessOrEqual:
		return *value <= r.Threshold, nil
	default:
		return false, fmt.Errorf("rule %s: unknown operator %q", r.Name, r.Op)
	}
}

func metricValue(agg weather.Aggregate, metric Metric) (*float64, error) {
	switch metric {
	case MetricTempAvg:
		return agg.TempAvg, nil
	case MetricTempMin:
		return agg.TempMin, nil
	case MetricTempMax:
		return agg.TempMax, nil
	case MetricHumidityAvg:
		return agg.HumidityAvg, nil
	case MetricWindAvg:
		return agg.WindAvg, nil
	default:
		return nil, fmt.Errorf("unknown metric %q", metric)
	}
}

// DefaultRules is the built-in rule set.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:      "temp_high",
			Level:     weather.LevelWarning,
			Metric:    MetricTempMax,
			Op:        OpGreater,
			Threshold: 35.0,
			Window:    time.Hour,
			Message:   "Temperature exceeded 35C",
		},
		{
			Name:      "wind_high",
			Level:     weather.LevelWarning,
			Metric:    MetricWindAvg,
			Op:        OpGreater,
			Threshold: 40.0,
			Window:    time.Hour,
			Message:   "Wind speed exceeded 40 kph",
		},
		{
			Name:      "humidity_high",
			Level:     weather.LevelInfo,
			Metric:    MetricHumidityAvg,
			Op:        OpGreater,
			Threshold: 0.85,
			Window:    15 * time.Minute,
			Message:   "Humidity exceeded 85%",
		},
	}
}
