package service

import (
	"clash-tracker/internal/api"
	"clash-tracker/internal/config"
	"clash-tracker/internal/domain"
	"clash-tracker/internal/repository"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var (
	testKey  = strings.Repeat("k", 64)
	testTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

// fakeProvider serves scripted errors first, then known stats, then 404.
type fakeProvider struct {
	mu     sync.Mutex
	stats  map[string]domain.Stats
	script map[string][]error
	calls  map[string]int
	block  bool

	lastKey string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		stats:  make(map[string]domain.Stats),
		script: make(map[string][]error),
		calls:  make(map[string]int),
	}
}

func (f *fakeProvider) set(tag, name string, trophies int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats[tag] = domain.Stats{Tag: tag, Name: name, Trophies: trophies, Level: 13, Wins: 100, Losses: 90}
}

func (f *fakeProvider) failWith(tag string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[tag] = append(f.script[tag], errs...)
}

func (f *fakeProvider) setBlock(block bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = block
}

func (f *fakeProvider) lastAPIKey() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastKey
}

func (f *fakeProvider) callCount(tag string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[tag]
}

func (f *fakeProvider) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeProvider) FetchStats(ctx context.Context, tag, apiKey string) (domain.Stats, error) {
	f.mu.Lock()
	f.calls[tag]++
	f.lastKey = apiKey
	block := f.block
	var scripted error
	if errs := f.script[tag]; len(errs) > 0 {
		scripted, f.script[tag] = errs[0], errs[1:]
	}
	stats, ok := f.stats[tag]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return domain.Stats{}, ctx.Err()
	}
	if scripted != nil {
		return domain.Stats{}, scripted
	}
	if !ok {
		return domain.Stats{}, &api.StatusError{StatusCode: 404, Reason: "notFound"}
	}
	return stats, nil
}

func testConfig() *config.Config {
	return &config.Config{
		StoreBackend:       config.BackendJSON,
		AutoRefreshEnabled: true,
		AutoRefreshEvery:   30 * time.Minute,
		SchedulerTick:      time.Hour,
		FetchTimeout:       time.Second,
		FetchAttempts:      1,
		RefreshConcurrency: 2,
	}
}

func newTestRefresher(provider StatsProvider, cfg *config.Config) *Refresher {
	r := NewRefresher(provider, cfg, zerolog.Nop())
	r.backoff = time.Millisecond
	r.now = func() time.Time { return testTime }
	return r
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T, provider StatsProvider, cfg *config.Config) (*TrackerService, *repository.JSONRepository, *testClock) {
	t.Helper()
	repo := repository.NewJSONRepository(filepath.Join(t.TempDir(), "data.json"), zerolog.Nop())
	clock := &testClock{now: testTime}
	refresher := newTestRefresher(provider, cfg)
	refresher.now = clock.Now
	svc := NewTrackerService(repo, refresher, cfg, zerolog.Nop())
	svc.now = clock.Now
	return svc, repo, clock
}
