// Package store holds the roster of tracked players and their observation
// history for the duration of one load/mutate/save cycle.
//
// A Store wraps a domain.State loaded from a repository. It is not safe for
// concurrent use; callers serialize access.
package store

import (
	"clash-tracker/internal/domain"
	"fmt"
	"sort"
	"time"
)

type Store struct {
	state *domain.State

	// latest maps a tag to the most recently appended observation for it.
	latest map[string]domain.Observation
}

func New(state *domain.State) *Store {
	if state == nil {
		state = domain.NewState()
	}
	if state.Players == nil {
		state.Players = make(map[string]domain.Player)
	}

	s := &Store{
		state:  state,
		latest: make(map[string]domain.Observation),
	}
	for _, obs := range state.History {
		s.latest[obs.Tag] = obs
	}
	return s
}

// State returns the underlying document for persisting.
func (s *Store) State() *domain.State {
	return s.state
}

func (s *Store) AddPlayer(tag, name string) (domain.Player, error) {
	if _, ok := s.state.Players[tag]; ok {
		return domain.Player{}, fmt.Errorf("%w: %s", domain.ErrDuplicatePlayer, tag)
	}
	player := domain.Player{Tag: tag, Name: name}
	s.state.Players[tag] = player
	return player, nil
}

func (s *Store) HasPlayer(tag string) bool {
	_, ok := s.state.Players[tag]
	return ok
}

func (s *Store) Player(tag string) (domain.Player, bool) {
	p, ok := s.state.Players[tag]
	return p, ok
}

// RenamePlayer updates the display name and reports whether it changed.
func (s *Store) RenamePlayer(tag, name string) bool {
	p, ok := s.state.Players[tag]
	if !ok || name == "" || p.Name == name {
		return false
	}
	p.Name = name
	s.state.Players[tag] = p
	return true
}

// Players returns the roster ordered by tag.
func (s *Store) Players() []domain.Player {
	players := make([]domain.Player, 0, len(s.state.Players))
	for _, p := range s.state.Players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		return players[i].Tag < players[j].Tag
	})
	return players
}

// AppendObservation records obs whether or not its player is still tracked.
func (s *Store) AppendObservation(obs domain.Observation) {
	s.state.History = append(s.state.History, obs)
	s.latest[obs.Tag] = obs
}

// RemovePlayer drops the player and every observation recorded for it.
// Removing an unknown tag is a no-op. It returns the number of observations removed.
func (s *Store) RemovePlayer(tag string) int {
	delete(s.state.Players, tag)
	delete(s.latest, tag)

	kept := s.state.History[:0]
	removed := 0
	for _, obs := range s.state.History {
		if obs.Tag == tag {
			removed++
			continue
		}
		kept = append(kept, obs)
	}
	for i := len(kept); i < len(s.state.History); i++ {
		s.state.History[i] = domain.Observation{}
	}
	s.state.History = kept
	return removed
}

func (s *Store) LatestObservation(tag string) (domain.Observation, bool) {
	obs, ok := s.latest[tag]
	return obs, ok
}

// HistoryFor returns the observations for tag sorted by timestamp, oldest first.
func (s *Store) HistoryFor(tag string) []domain.Observation {
	out := []domain.Observation{}
	for _, obs := range s.state.History {
		if obs.Tag == tag {
			out = append(out, obs)
		}
	}
	sortByTime(out)
	return out
}

// History returns every observation sorted by timestamp, oldest first.
func (s *Store) History() []domain.Observation {
	out := make([]domain.Observation, len(s.state.History))
	copy(out, s.state.History)
	sortByTime(out)
	return out
}

func (s *Store) LastAutoRefresh() time.Time {
	return s.state.LastAutoRefresh
}

// MarkAutoRefreshed records a completed cycle. The stored time never moves backwards.
func (s *Store) MarkAutoRefreshed(at time.Time) {
	if at.After(s.state.LastAutoRefresh) {
		s.state.LastAutoRefresh = at
	}
}

func (s *Store) APIKey() string {
	return s.state.APIKey
}

func (s *Store) SetAPIKey(key string) {
	s.state.APIKey = key
}

// Reset empties the roster, the history and the refresh marker. The version is kept
// so the next save still detects concurrent writers.
func (s *Store) Reset() {
	version := s.state.Version
	*s.state = *domain.NewState()
	s.state.Version = version
	s.latest = make(map[string]domain.Observation)
}

func sortByTime(obs []domain.Observation) {
	sort.SliceStable(obs, func(i, j int) bool {
		return obs[i].Timestamp.Before(obs[j].Timestamp)
	})
}
