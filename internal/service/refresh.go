package service

import (
	"clash-tracker/internal/api"
	"clash-tracker/internal/config"
	"clash-tracker/internal/constants"
	"clash-tracker/internal/domain"
	"clash-tracker/internal/store"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

// StatsProvider returns the current statistics for one player.
type StatsProvider interface {
	FetchStats(ctx context.Context, tag, apiKey string) (domain.Stats, error)
}

// rateLimitReporter is implemented by providers that track the upstream quota.
type rateLimitReporter interface {
	GetRateLimitInfo() api.RateLimitInfo
}

// ShouldAutoRefresh reports whether an automatic refresh is due. A zero last
// time means no cycle has completed or the stored value could not be read.
func ShouldAutoRefresh(now, last time.Time, interval time.Duration) bool {
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= interval
}

type RefreshFailure struct {
	Tag  string
	Name string
	Err  error
}

type RefreshResult struct {
	Succeeded int
	Failed    int
	Failures  []RefreshFailure
}

type fetchResult struct {
	stats domain.Stats
	at    time.Time
	err   error
}

// Refresher fetches every tracked player and records an observation for each
// success. A failed player never stops the others.
type Refresher struct {
	provider    StatsProvider
	timeout     time.Duration
	attempts    int
	backoff     time.Duration
	concurrency int
	now         func() time.Time
	logger      zerolog.Logger
}

func NewRefresher(provider StatsProvider, cfg *config.Config, logger zerolog.Logger) *Refresher {
	return &Refresher{
		provider:    provider,
		timeout:     cfg.FetchTimeout,
		attempts:    cfg.FetchAttempts,
		backoff:     constants.FetchBackoffBase,
		concurrency: cfg.RefreshConcurrency,
		now:         time.Now,
		logger:      logger,
	}
}

// Fetch asks the provider for one player, retrying temporary failures with
// exponential backoff. Each attempt is bounded by the fetch timeout.
func (r *Refresher) Fetch(ctx context.Context, tag, apiKey string) (domain.Stats, error) {
	attempts := max(r.attempts, 1)
	b := retry.NewExponential(r.backoff)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithMaxRetries(uint64(attempts-1), b)

	var stats domain.Stats
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		s, err := r.provider.FetchStats(fetchCtx, tag, apiKey)
		if err != nil {
			if api.IsTemporary(err) && attempt < attempts {
				r.logger.Debug().Err(err).Str("tag", tag).Int("attempt", attempt).Msg("fetch failed, retrying")
				return retry.RetryableError(err)
			}
			return err
		}
		stats = s
		return nil
	})
	if err != nil {
		return domain.Stats{}, fmt.Errorf("%w: %s: %w", domain.ErrFetchFailed, tag, err)
	}
	return stats, nil
}

// Run refreshes the whole roster of st and marks the cycle complete at now.
// Observations are appended in roster order once all fetches have finished.
func (r *Refresher) Run(ctx context.Context, st *store.Store, apiKey string, now time.Time) RefreshResult {
	players := st.Players()
	results := make([]fetchResult, len(players))

	g := new(errgroup.Group)
	g.SetLimit(max(r.concurrency, 1))
	for i, p := range players {
		g.Go(func() error {
			stats, err := r.Fetch(ctx, p.Tag, apiKey)
			results[i] = fetchResult{stats: stats, at: r.now(), err: err}
			return nil
		})
	}
	_ = g.Wait()

	var result RefreshResult
	for i, p := range players {
		res := results[i]
		if res.err != nil {
			result.Failed++
			result.Failures = append(result.Failures, RefreshFailure{Tag: p.Tag, Name: p.Name, Err: res.err})
			r.logger.Warn().Err(res.err).Str("tag", p.Tag).Str("name", p.Name).Msg("failed to refresh player")
			continue
		}

		obs := res.stats.Observation(res.at)
		obs.Tag = p.Tag
		if obs.Name == "" {
			obs.Name = p.Name
		}
		st.AppendObservation(obs)
		if st.RenamePlayer(p.Tag, obs.Name) {
			r.logger.Info().Str("tag", p.Tag).Str("old_name", p.Name).Str("new_name", obs.Name).Msg("player renamed")
		}
		result.Succeeded++
	}

	st.MarkAutoRefreshed(now)

	event := r.logger.Info().
		Int("players", len(players)).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed)
	if rl, ok := r.provider.(rateLimitReporter); ok {
		if info := rl.GetRateLimitInfo(); !info.UpdatedAt.IsZero() {
			event = event.Int("rate_limit", info.Limit).Int("rate_limit_remaining", info.Remaining)
		}
	}
	event.Msg("refresh cycle completed")
	return result
}
