package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/citygrid/weather-aggregator/internal/weather"
)

// MemoryObservationStore is a concurrency-safe in-memory observation
// store used in tests and broker-less runs.
type MemoryObservationStore struct {
	mu sync.RWMutex

	// key: city id, value: observations in insertion order
	data map[string][]weather.Observation
}

// NewMemoryObservationStore creates an empty observation store.
func NewMemoryObservationStore() *MemoryObservationStore {
	return &MemoryObservationStore{data: make(map[string][]weather.Observation)}
}

// Append inserts one observation. Records are never mutated afterwards.
func (s *MemoryObservationStore) Append(_ context.Context, obs weather.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	obs.ObservedAt = obs.ObservedAt.UTC()
	s.data[obs.CityID] = append(s.data[obs.CityID], obs)
	return nil
}

// List returns observations for a city, newest first.
func (s *MemoryObservationStore) List(_ context.Context, cityID string, from, to time.Time, limit int) ([]weather.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []weather.Observation
	for _, obs := range s.data[cityID] {
		if !from.IsZero() && obs.ObservedAt.Before(from) {
			continue
		}
		if !to.IsZero() && obs.ObservedAt.After(to) {
			continue
		}
		result = append(result, obs)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ObservedAt.After(result[j].ObservedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Bucket returns observations with observed_at in [start, end).
func (s *MemoryObservationStore) Bucket(_ context.Context, cityID string, start, end time.Time) ([]weather.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []weather.Observation
	for _, obs := range s.data[cityID] {
		if obs.ObservedAt.Before(start) || !obs.ObservedAt.Before(end) {
			continue
		}
		result = append(result, obs)
	}
	return result, nil
}

// Cities returns city ids with at least one observation at or after since.
func (s *MemoryObservationStore) Cities(_ context.Context, since time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cities []string
	for city, observations := range s.data {
		for _, obs := range observations {
			if !obs.ObservedAt.Before(since) {
				cities = append(cities, city)
				break
			}
		}
	}
	sort.Strings(cities)
	return cities, nil
}

type aggregateKey struct {
	cityID      string
	bucketStart time.Time
	bucketWidth time.Duration
}

// MemoryAggregateStore keeps one aggregate per (city, bucket_start,
// bucket_width); Upsert overwrites under the write lock, so the
// operation is atomic and last-writer-wins.
type MemoryAggregateStore struct {
	mu   sync.RWMutex
	data map[aggregateKey]weather.Aggregate
}

// NewMemoryAggregateStore creates an empty aggregate store.
func NewMemoryAggregateStore() *MemoryAggregateStore {
	return &MemoryAggregateStore{data: make(map[aggregateKey]weather.Aggregate)}
}

// Upsert writes the aggregate keyed by its deterministic bucket key.
func (s *MemoryAggregateStore) Upsert(_ context.Context, agg weather.Aggregate) error {
	key := aggregateKey{
		cityID:      agg.CityID,
		bucketStart: agg.BucketStart.UTC(),
		bucketWidth: agg.BucketWidth.Duration(),
	}
	agg.BucketStart = agg.BucketStart.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = agg
	return nil
}

// List returns aggregates for a city, newest first by bucket_start.
func (s *MemoryAggregateStore) List(_ context.Context, cityID string, width time.Duration, from, to time.Time, limit int) ([]weather.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []weather.Aggregate
	for key, agg := range s.data {
		if key.cityID != cityID {
			continue
		}
		if width > 0 && key.bucketWidth != width {
			continue
		}
		if !from.IsZero() && agg.BucketStart.Before(from) {
			continue
		}
		if !to.IsZero() && agg.BucketStart.After(to) {
			continue
		}
		result = append(result, agg)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].BucketStart.Equal(result[j].BucketStart) {
			return result[i].BucketStart.After(result[j].BucketStart)
		}
		return result[i].BucketWidth < result[j].BucketWidth
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// LatestPerCity returns the newest aggregate of the given width per city.
func (s *MemoryAggregateStore) LatestPerCity(_ context.Context, width time.Duration) ([]weather.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]weather.Aggregate)
	for key, agg := range s.data {
		if key.bucketWidth != width {
			continue
		}
		current, ok := latest[key.cityID]
		if !ok || agg.BucketStart.After(current.BucketStart) {
			latest[key.cityID] = agg
		}
	}

	result := make([]weather.Aggregate, 0, len(latest))
	for _, agg := range latest {
		result = append(result, agg)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CityID < result[j].CityID
	})
	return result, nil
}

type alertKey struct {
	cityID string
	rule   string
}

// MemoryAlertStore keeps emitted alerts and the last emission time per
// (city, rule). The cooldown check and the insert happen under one
// lock, so concurrent emission attempts cannot both win.
type MemoryAlertStore struct {
	mu       sync.Mutex
	alerts   map[string][]weather.Alert // key: city id
	lastEmit map[alertKey]time.Time

	now func() time.Time
}

// NewMemoryAlertStore creates an empty alert store.
func NewMemoryAlertStore() *MemoryAlertStore {
	return &MemoryAlertStore{
		alerts:   make(map[string][]weather.Alert),
		lastEmit: make(map[alertKey]time.Time),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the emission clock; tests use this to step
// through cooldown intervals deterministically.
func (s *MemoryAlertStore) WithClock(now func() time.Time) *MemoryAlertStore {
	s.now = now
	return s
}

// Insert writes the alert unless the same (city, rule) emitted within
// the cooldown. The cooldown is measured from the last emission.
func (s *MemoryAlertStore) Insert(_ context.Context, alert weather.Alert, cooldown time.Duration) (bool, error) {
	key := alertKey{cityID: alert.CityID, rule: alert.Rule}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if last, ok := s.lastEmit[key]; ok && cooldown > 0 && now.Sub(last) < cooldown {
		return false, nil
	}
	s.alerts[alert.CityID] = append(s.alerts[alert.CityID], alert)
	s.lastEmit[key] = now
	return true, nil
}

// List returns alerts for a city, newest first.
func (s *MemoryAlertStore) List(_ context.Context, cityID string, limit int) ([]weather.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.alerts[cityID]
	result := make([]weather.Alert, len(stored))
	copy(result, stored)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].TriggeredAt.After(result[j].TriggeredAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
