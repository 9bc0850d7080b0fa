package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/citygrid/weather-aggregator/internal/aggregate"
	"github.com/citygrid/weather-aggregator/internal/alert"
	"github.com/citygrid/weather-aggregator/internal/metrics"
	"github.com/citygrid/weather-aggregator/internal/poller"
)

// Scheduler drives the periodic aggregate-then-alert cycle and the
// optional upstream poller.
type Scheduler struct {
	scheduler         *gocron.Scheduler
	aggregator        *aggregate.Aggregator
	engine            *alert.Engine
	poller            *poller.OpenWeatherPoller
	aggregateInterval time.Duration
	pollInterval      time.Duration
	logger            *log.Logger
}

// New creates a Scheduler. The poller is optional; pass nil to run the
// aggregation cycle only.
func New(aggregator *aggregate.Aggregator, engine *alert.Engine, pol *poller.OpenWeatherPoller, aggregateInterval, pollInterval time.Duration, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		scheduler:         gocron.NewScheduler(time.UTC),
		aggregator:        aggregator,
		engine:            engine,
		poller:            pol,
		aggregateInterval: aggregateInterval,
		pollInterval:      pollInterval,
		logger:            logger,
	}
}

// Start schedules the periodic jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	seconds := int(s.aggregateInterval.Seconds())
	if seconds <= 0 {
		seconds = 60
	}

	_, err := s.scheduler.Every(seconds).Seconds().Do(s.runCycle)
	if err != nil {
		return err
	}

	if s.poller != nil {
		pollSeconds := int(s.pollInterval.Seconds())
		if pollSeconds <= 0 {
			pollSeconds = 300
		}
		_, err := s.scheduler.Every(pollSeconds).Seconds().Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			if err := s.poller.RunOnce(ctx); err != nil {
				s.logger.Printf("scheduler: poll cycle finished with errors: %v", err)
			}
		})
		if err != nil {
			return err
		}
	}

	s.scheduler.StartAsync()
	return nil
}

// runCycle recomputes the open and trailing buckets, then evaluates the
// alert rules against the fresh aggregates.
func (s *Scheduler) runCycle() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	s.aggregator.Run(ctx)
	metrics.AggregateRuns.Inc()

	emitted := s.engine.Evaluate(ctx)
	if emitted > 0 {
		s.logger.Printf("scheduler: emitted %d alerts", emitted)
	}
	metrics.AlertsEmitted.Add(float64(emitted))
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
