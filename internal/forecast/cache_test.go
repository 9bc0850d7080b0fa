package forecast

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type stubProvider struct {
	mu    sync.Mutex
	calls int32
	delay time.Duration
	err   error
	next  Forecast
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Fetch(ctx context.Context, cityID string, lat, lon float64) (Forecast, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return Forecast{}, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return Forecast{}, p.err
	}
	forecast := p.next
	forecast.CityID = cityID
	return forecast, nil
}

func (p *stubProvider) callCount() int32 {
	return atomic.LoadInt32(&p.calls)
}

func testForecast(provider string) Forecast {
	return Forecast{
		Provider:    provider,
		RetrievedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Daily: []Day{
			{Date: "2024-06-01", TempHighC: 24, TempLowC: 15, PrecipitationMM: 0.4, Summary: "sunny"},
		},
	}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestCacheServesLiveEntryWithoutRefetch(t *testing.T) {
	provider := &stubProvider{next: testForecast("stub")}
	cache := NewCache(provider, 10*time.Minute, quietLogger())

	first := cache.Get(context.Background(), "toronto", 43.6532, -79.3832)
	second := cache.Get(context.Background(), "toronto", 43.6532, -79.3832)

	if first.Provider != "stub" || second.Provider != "stub" {
		t.Fatalf("expected provider forecasts, got %q and %q", first.Provider, second.Provider)
	}
	if provider.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1", provider.callCount())
	}
}

func TestCacheExpiryTriggersRefresh(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	provider := &stubProvider{next: testForecast("stub")}
	cache := NewCache(provider, 10*time.Minute, quietLogger(), WithClock(func() time.Time { return now }))

	cache.Get(context.Background(), "toronto", 43.65, -79.38)
	now = now.Add(9 * time.Minute)
	cache.Get(context.Background(), "toronto", 43.65, -79.38)
	if provider.callCount() != 1 {
		t.Fatalf("provider calls before expiry = %d, want 1", provider.callCount())
	}

	now = now.Add(2 * time.Minute)
	cache.Get(context.Background(), "toronto", 43.65, -79.38)
	if provider.callCount() != 2 {
		t.Errorf("provider calls after expiry = %d, want 2", provider.callCount())
	}
}

func TestCacheConcurrentMissesShareOneFetch(t *testing.T) {
	provider := &stubProvider{next: testForecast("stub"), delay: 50 * time.Millisecond}
	cache := NewCache(provider, 10*time.Minute, quietLogger())

	const callers = 16
	var wg sync.WaitGroup
	results := make([]Forecast, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = cache.Get(context.Background(), "toronto", 43.65, -79.38)
		}(i)
	}
	wg.Wait()

	if provider.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1 shared fetch", provider.callCount())
	}
	for i, forecast := range results {
		if forecast.Provider != "stub" {
			t.Fatalf("caller %d got provider %q, want stub", i, forecast.Provider)
		}
	}
}

func TestCacheFailureServesStaleCopy(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	provider := &stubProvider{next: testForecast("stub")}
	cache := NewCache(provider, 10*time.Minute, quietLogger(), WithClock(func() time.Time { return now }))

	cache.Get(context.Background(), "toronto", 43.65, -79.38)

	provider.mu.Lock()
	provider.err = errors.New("upstream down")
	provider.mu.Unlock()

	now = now.Add(11 * time.Minute)
	got := cache.Get(context.Background(), "toronto", 43.65, -79.38)
	if !got.Stale {
		t.Error("expired entry served after a failed refresh must be flagged stale")
	}
	if got.Provider != "stub" {
		t.Errorf("stale copy provider = %q, want stub", got.Provider)
	}

	// The stored entry keeps its original flag; a later successful
	// refresh must not inherit staleness.
	provider.mu.Lock()
	provider.err = nil
	provider.mu.Unlock()
	fresh := cache.Get(context.Background(), "toronto", 43.65, -79.38)
	if fresh.Stale {
		t.Error("successful refresh must serve a fresh, unflagged forecast")
	}
}

func TestCacheFailureWithoutEntryServesPlaceholder(t *testing.T) {
	provider := &stubProvider{err: errors.New("upstream down")}
	cache := NewCache(provider, 10*time.Minute, quietLogger())

	got := cache.Get(context.Background(), "calgary", 51.0447, -114.0719)
	if got.Provider != "placeholder" {
		t.Fatalf("provider = %q, want placeholder", got.Provider)
	}
	if len(got.Daily) != 3 {
		t.Fatalf("placeholder days = %d, want 3", len(got.Daily))
	}
	for i, day := range got.Daily {
		if day.TempHighC != 25+float64(i) || day.TempLowC != 16+float64(i) {
			t.Errorf("day %d temps = %v/%v, want %v/%v", i, day.TempHighC, day.TempLowC, 25+float64(i), 16+float64(i))
		}
		if day.PrecipitationMM != 2*float64(i) {
			t.Errorf("day %d precipitation = %v, want %v", i, day.PrecipitationMM, 2*float64(i))
		}
	}
}

func TestCacheNilProviderServesPlaceholder(t *testing.T) {
	cache := NewCache(nil, 10*time.Minute, quietLogger())

	got := cache.Get(context.Background(), "toronto", 43.65, -79.38)
	if got.Provider != "placeholder" {
		t.Errorf("provider = %q, want placeholder", got.Provider)
	}
}

func TestCacheFailureDoesNotEvictLiveEntry(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	provider := &stubProvider{next: testForecast("stub")}
	cache := NewCache(provider, 10*time.Minute, quietLogger(), WithClock(func() time.Time { return now }))

	cache.Get(context.Background(), "toronto", 43.65, -79.38)

	provider.mu.Lock()
	provider.err = errors.New("upstream down")
	provider.mu.Unlock()

	now = now.Add(5 * time.Minute)
	got := cache.Get(context.Background(), "toronto", 43.65, -79.38)
	if got.Stale {
		t.Error("live entry must be served unflagged regardless of provider health")
	}
	if provider.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1; live entries are never refreshed", provider.callCount())
	}
}

func TestKeyRoundsCoordinates(t *testing.T) {
	if Key("toronto", 43.65321, -79.38329) != Key("toronto", 43.65299, -79.38301) {
		t.Error("nearby coordinates should map to one cache slot")
	}
	if Key("toronto", 43.65, -79.38) == Key("montreal", 43.65, -79.38) {
		t.Error("different cities must not share a cache slot")
	}
}
