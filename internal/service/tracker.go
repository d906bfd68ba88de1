package service

import (
	"clash-tracker/internal/config"
	"clash-tracker/internal/credential"
	"clash-tracker/internal/domain"
	"clash-tracker/internal/repository"
	"clash-tracker/internal/store"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// TrackerService runs every tracker operation as one load, mutate, save cycle.
// Cycles within the process are serialized and a caller gives up waiting when
// its context ends; writers in other processes are caught by the repository's
// version check.
type TrackerService struct {
	repo      repository.StateRepository
	refresher *Refresher
	cfg       *config.Config
	logger    zerolog.Logger
	now       func() time.Time

	sem *semaphore.Weighted
}

func NewTrackerService(repo repository.StateRepository, refresher *Refresher, cfg *config.Config, logger zerolog.Logger) *TrackerService {
	return &TrackerService{
		repo:      repo,
		refresher: refresher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		sem:       semaphore.NewWeighted(1),
	}
}

func (s *TrackerService) Authorized(apiKey string) bool {
	return credential.IsAuthorized(apiKey)
}

func (s *TrackerService) authorize(apiKey string) error {
	if !credential.IsAuthorized(apiKey) {
		return domain.ErrUnauthorized
	}
	return nil
}

// mutate loads the document, applies fn and saves when fn reports a change.
func (s *TrackerService) mutate(ctx context.Context, op string, fn func(st *store.Store) (bool, error)) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.logger.Warn().Err(err).Str("op", op).Msg("gave up waiting for tracker data")
		return err
	}
	defer s.sem.Release(1)

	state, err := s.repo.Load(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("op", op).Msg("failed to load tracker data")
		return err
	}

	st := store.New(state)
	changed, err := fn(st)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	if err := s.repo.Save(ctx, st.State()); err != nil {
		s.logger.Error().Err(err).Str("op", op).Msg("failed to save tracker data")
		return err
	}
	return nil
}

func (s *TrackerService) read(ctx context.Context) (*store.Store, error) {
	state, err := s.repo.Load(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load tracker data")
		return nil, err
	}
	return store.New(state), nil
}

// AddPlayer starts tracking rawTag and records its current statistics.
func (s *TrackerService) AddPlayer(ctx context.Context, apiKey, rawTag string) (domain.Player, domain.Observation, error) {
	if err := s.authorize(apiKey); err != nil {
		return domain.Player{}, domain.Observation{}, err
	}
	tag, err := domain.NormalizeTag(rawTag)
	if err != nil {
		return domain.Player{}, domain.Observation{}, err
	}

	var (
		player domain.Player
		obs    domain.Observation
	)
	err = s.mutate(ctx, "add_player", func(st *store.Store) (bool, error) {
		if st.HasPlayer(tag) {
			return false, fmt.Errorf("%w: %s", domain.ErrDuplicatePlayer, tag)
		}

		stats, err := s.refresher.Fetch(ctx, tag, apiKey)
		if err != nil {
			s.logger.Warn().Err(err).Str("tag", tag).Msg("failed to fetch new player")
			return false, err
		}

		id := tag
		if canonical, err := domain.NormalizeTag(stats.Tag); err == nil {
			id = canonical
		}
		player, err = st.AddPlayer(id, stats.Name)
		if err != nil {
			return false, err
		}
		obs = stats.Observation(s.now())
		obs.Tag = id
		st.AppendObservation(obs)
		return true, nil
	})
	if err != nil {
		return domain.Player{}, domain.Observation{}, err
	}

	s.logger.Info().Str("tag", player.Tag).Str("name", player.Name).Int("trophies", obs.Trophies).Msg("player added")
	return player, obs, nil
}

// RemovePlayer stops tracking rawTag and deletes its history. Removing a tag
// that is not tracked succeeds without changes.
func (s *TrackerService) RemovePlayer(ctx context.Context, apiKey, rawTag string) (int, error) {
	if err := s.authorize(apiKey); err != nil {
		return 0, err
	}
	tag, err := domain.NormalizeTag(rawTag)
	if err != nil {
		return 0, err
	}

	removed := 0
	err = s.mutate(ctx, "remove_player", func(st *store.Store) (bool, error) {
		tracked := st.HasPlayer(tag)
		removed = st.RemovePlayer(tag)
		return tracked || removed > 0, nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info().Str("tag", tag).Int("removed_observations", removed).Msg("player removed")
	return removed, nil
}

// RefreshAll fetches every tracked player now, regardless of the schedule.
func (s *TrackerService) RefreshAll(ctx context.Context, apiKey string) (RefreshResult, error) {
	if err := s.authorize(apiKey); err != nil {
		return RefreshResult{}, err
	}

	var result RefreshResult
	err := s.mutate(ctx, "refresh", func(st *store.Store) (bool, error) {
		result = s.refresher.Run(ctx, st, apiKey, s.now())
		return true, nil
	})
	return result, err
}

// AutoRefreshIfDue runs a refresh cycle when the configured interval has
// elapsed since the last one. It reports whether a cycle ran.
func (s *TrackerService) AutoRefreshIfDue(ctx context.Context) (RefreshResult, bool, error) {
	var (
		result RefreshResult
		ran    bool
	)
	err := s.mutate(ctx, "auto_refresh", func(st *store.Store) (bool, error) {
		now := s.now()
		if !ShouldAutoRefresh(now, st.LastAutoRefresh(), s.cfg.AutoRefreshEvery) {
			s.logger.Debug().Time("last_auto_refresh", st.LastAutoRefresh()).Msg("auto refresh not due")
			return false, nil
		}

		apiKey := s.cfg.ClashRoyaleAPIKey
		if apiKey == "" {
			apiKey = st.APIKey()
		}
		if !credential.IsAuthorized(apiKey) {
			s.logger.Warn().Msg("auto refresh due but no usable api key is configured")
			return false, nil
		}

		result = s.refresher.Run(ctx, st, apiKey, now)
		ran = true
		return true, nil
	})
	return result, ran, err
}

// SetAPIKey stores the key the background refresh uses when the server has
// none configured. Surrounding whitespace is dropped before storing.
func (s *TrackerService) SetAPIKey(ctx context.Context, apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if err := s.authorize(apiKey); err != nil {
		return err
	}
	err := s.mutate(ctx, "set_api_key", func(st *store.Store) (bool, error) {
		if st.APIKey() == apiKey {
			return false, nil
		}
		st.SetAPIKey(apiKey)
		return true, nil
	})
	if err != nil {
		return err
	}
	s.logger.Info().Msg("shared api key updated")
	return nil
}

// ClearData forgets every player, observation and refresh marker.
func (s *TrackerService) ClearData(ctx context.Context, apiKey string) error {
	if err := s.authorize(apiKey); err != nil {
		return err
	}
	err := s.mutate(ctx, "clear", func(st *store.Store) (bool, error) {
		st.Reset()
		return true, nil
	})
	if err != nil {
		return err
	}
	s.logger.Info().Msg("tracker data cleared")
	return nil
}
