package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kkkkikiki/stampcard/internal/model"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type countingLoader struct {
	calls int
	err   error
}

func (l *countingLoader) load(context.Context) (*model.BusinessStats, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return &model.BusinessStats{BusinessID: "b1", Members: int64(l.calls)}, nil
}

func TestStatsCacheReadThroughWithTTL(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)}
	c := NewStatsCache(NewMemoryBackend(clock.Now), time.Minute, zap.NewNop())
	loader := &countingLoader{}
	ctx := context.Background()

	first, err := c.Get(ctx, "b1", loader.load)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, _ := c.Get(ctx, "b1", loader.load)
	if loader.calls != 1 || first.Members != 1 || second.Members != 1 {
		t.Errorf("expected one load within ttl, got %d loads", loader.calls)
	}

	clock.Advance(time.Minute)
	third, _ := c.Get(ctx, "b1", loader.load)
	if loader.calls != 2 || third.Members != 2 {
		t.Errorf("expected reload after ttl, got %d loads", loader.calls)
	}
}

func TestStatsCacheDisabled(t *testing.T) {
	c := NewStatsCache(NewMemoryBackend(nil), 0, zap.NewNop())
	loader := &countingLoader{}
	for i := 0; i < 3; i++ {
		c.Get(context.Background(), "b1", loader.load)
	}
	if loader.calls != 3 {
		t.Errorf("expected every call to load, got %d", loader.calls)
	}
}

func TestStatsCacheLoadErrorNotCached(t *testing.T) {
	c := NewStatsCache(NewMemoryBackend(nil), time.Minute, zap.NewNop())
	loader := &countingLoader{err: errors.New("db down")}
	if _, err := c.Get(context.Background(), "b1", loader.load); err == nil {
		t.Fatal("expected load error")
	}
	loader.err = nil
	stats, err := c.Get(context.Background(), "b1", loader.load)
	if err != nil || stats == nil {
		t.Fatalf("expected recovery, got %v", err)
	}
}

type brokenBackend struct{}

func (brokenBackend) Get(context.Context, string) (*model.BusinessStats, bool, error) {
	return nil, false, errors.New("redis down")
}

func (brokenBackend) Set(context.Context, string, *model.BusinessStats, time.Duration) error {
	return errors.New("redis down")
}

func TestStatsCacheBackendFailureFallsThrough(t *testing.T) {
	c := NewStatsCache(brokenBackend{}, time.Minute, zap.NewNop())
	loader := &countingLoader{}
	stats, err := c.Get(context.Background(), "b1", loader.load)
	if err != nil || stats.Members != 1 {
		t.Fatalf("expected direct load, got %+v %v", stats, err)
	}
}
