package service

import (
	"clash-tracker/internal/domain"
	"context"
	"fmt"
	"time"
)

type PlayerCard struct {
	Player domain.Player
	Latest *domain.Observation
}

type Dashboard struct {
	Players         []PlayerCard
	LastAutoRefresh time.Time
	NextAutoRefresh time.Time
	Observations    int
}

type TrophyPoint struct {
	Timestamp time.Time
	Trophies  int
}

type TrophySeries struct {
	Tag    string
	Name   string
	Points []TrophyPoint
}

// Dashboard returns one card per tracked player with its latest observation.
func (s *TrackerService) Dashboard(ctx context.Context) (Dashboard, error) {
	st, err := s.read(ctx)
	if err != nil {
		return Dashboard{}, err
	}

	players := st.Players()
	d := Dashboard{
		Players:         make([]PlayerCard, 0, len(players)),
		LastAutoRefresh: st.LastAutoRefresh(),
		Observations:    len(st.State().History),
	}
	if !d.LastAutoRefresh.IsZero() {
		d.NextAutoRefresh = d.LastAutoRefresh.Add(s.cfg.AutoRefreshEvery)
	}
	for _, p := range players {
		card := PlayerCard{Player: p}
		if obs, ok := st.LatestObservation(p.Tag); ok {
			card.Latest = &obs
		}
		d.Players = append(d.Players, card)
	}
	return d, nil
}

// TrophyHistory returns one series per player, oldest point first. An empty
// rawTag returns every player that has history. A tag that is neither tracked
// nor present in the history is ErrPlayerNotFound. Observations whose time
// could not be read are left off the chart.
func (s *TrackerService) TrophyHistory(ctx context.Context, rawTag string) ([]TrophySeries, error) {
	var only string
	if rawTag != "" {
		tag, err := domain.NormalizeTag(rawTag)
		if err != nil {
			return nil, err
		}
		only = tag
	}

	st, err := s.read(ctx)
	if err != nil {
		return nil, err
	}

	var tags []string
	if only != "" {
		if !st.HasPlayer(only) && len(st.HistoryFor(only)) == 0 {
			return nil, fmt.Errorf("%w: %s", domain.ErrPlayerNotFound, only)
		}
		tags = []string{only}
	} else {
		seen := make(map[string]bool)
		for _, p := range st.Players() {
			seen[p.Tag] = true
			tags = append(tags, p.Tag)
		}
		for _, obs := range st.History() {
			if !seen[obs.Tag] {
				seen[obs.Tag] = true
				tags = append(tags, obs.Tag)
			}
		}
	}

	series := make([]TrophySeries, 0, len(tags))
	for _, tag := range tags {
		history := st.HistoryFor(tag)
		if len(history) == 0 {
			continue
		}
		ts := TrophySeries{Tag: tag, Name: history[len(history)-1].Name}
		if p, ok := st.Player(tag); ok {
			ts.Name = p.Name
		}
		ts.Points = make([]TrophyPoint, 0, len(history))
		for _, obs := range history {
			if obs.Timestamp.IsZero() {
				continue
			}
			ts.Points = append(ts.Points, TrophyPoint{Timestamp: obs.Timestamp, Trophies: obs.Trophies})
		}
		series = append(series, ts)
	}
	return series, nil
}

// RawHistory returns every observation, oldest first.
func (s *TrackerService) RawHistory(ctx context.Context) ([]domain.Observation, error) {
	st, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	return st.History(), nil
}
