package marketdata

import (
	"context"
	"testing"
	"time"

	"nlquant/internal/domain"
)

func TestSyntheticDeterministic(t *testing.T) {
	p := NewSynthetic()
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	a, err := p.MinuteBars(context.Background(), "QQQ", start, end)
	if err != nil {
		t.Fatalf("MinuteBars() returned error: %v", err)
	}
	b, err := p.MinuteBars(context.Background(), "QQQ", start, end)
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("bar %d differs across identical requests: %+v vs %+v", i, a[i], b[i])
		}
	}

	// Different symbols walk differently.
	c, err := p.MinuteBars(context.Background(), "TQQQ", start, end)
	if err != nil {
		t.Fatal(err)
	}
	if a[0].Open == c[0].Open && a[len(a)-1].Close == c[len(c)-1].Close {
		t.Error("QQQ and TQQQ produced identical walks")
	}
}

func TestSyntheticSessionHoursOnly(t *testing.T) {
	p := NewSynthetic()
	// Monday 2024-03-04, full UTC day.
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 4, 23, 59, 0, 0, time.UTC)
	bars, err := p.MinuteBars(context.Background(), "QQQ", start, end)
	if err != nil {
		t.Fatalf("MinuteBars() returned error: %v", err)
	}
	if len(bars) != 390 {
		t.Errorf("bars = %d, want 390 (one regular session)", len(bars))
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].TS.After(bars[i-1].TS) {
			t.Fatalf("bars not ascending at %d", i)
		}
	}

	// Saturday yields nothing.
	sat := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	_, err = p.MinuteBars(context.Background(), "QQQ", sat, sat.Add(23*time.Hour))
	if !domain.IsCode(err, domain.ErrDataUnavailable) {
		t.Errorf("weekend error = %v, want DATA_UNAVAILABLE", err)
	}
}

// countingProvider records how many times the inner provider is hit.
type countingProvider struct {
	inner Provider
	calls int
}

func (p *countingProvider) MinuteBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.MinuteBar, error) {
	p.calls++
	return p.inner.MinuteBars(ctx, symbol, start, end)
}

func TestCachedProvider(t *testing.T) {
	counting := &countingProvider{inner: NewSynthetic()}
	cache := NewBarCache(2, time.Hour)
	p := NewCached(counting, cache)

	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 4, 23, 59, 0, 0, time.UTC)

	if _, err := p.MinuteBars(context.Background(), "QQQ", start, end); err != nil {
		t.Fatal(err)
	}
	if _, err := p.MinuteBars(context.Background(), "QQQ", start, end); err != nil {
		t.Fatal(err)
	}
	if counting.calls != 1 {
		t.Errorf("inner calls = %d, want 1 (second request served from cache)", counting.calls)
	}

	// Size bound evicts the oldest entry.
	if _, err := p.MinuteBars(context.Background(), "TQQQ", start, end); err != nil {
		t.Fatal(err)
	}
	if _, err := p.MinuteBars(context.Background(), "SPY", start, end); err != nil {
		t.Fatal(err)
	}
	if cache.Len() != 2 {
		t.Errorf("cache size = %d, want bounded at 2", cache.Len())
	}
	if _, err := p.MinuteBars(context.Background(), "QQQ", start, end); err != nil {
		t.Fatal(err)
	}
	if counting.calls != 4 {
		t.Errorf("inner calls = %d, want 4 (evicted QQQ refetched)", counting.calls)
	}
}

func TestCacheTTL(t *testing.T) {
	cache := NewBarCache(4, time.Minute)
	clock := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	cache.put("k", []domain.MinuteBar{{Close: 1}})
	if _, ok := cache.get("k"); !ok {
		t.Fatal("fresh entry missing")
	}
	clock = clock.Add(2 * time.Minute)
	if _, ok := cache.get("k"); ok {
		t.Error("expired entry still served")
	}
}

type fakeReader struct {
	bars []domain.MinuteBar
}

func (f *fakeReader) ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.MinuteBar, error) {
	return f.bars, nil
}

func TestStoreProviderEmptySnapshot(t *testing.T) {
	p := NewStoreProvider(&fakeReader{})
	_, err := p.MinuteBars(context.Background(), "QQQ", time.Now().Add(-time.Hour), time.Now())
	if !domain.IsCode(err, domain.ErrDataUnavailable) {
		t.Fatalf("error = %v, want DATA_UNAVAILABLE", err)
	}
}
