package domain

import (
	"time"
)

// Player is a tracked account. Tag is the normalized identifier ("#2PPYL").
type Player struct {
	Tag  string
	Name string
}

// Observation is one statistics snapshot. Tag need not belong to a live Player.
type Observation struct {
	Tag       string
	Name      string
	Timestamp time.Time
	Trophies  int
	Level     int
	Wins      int
	Losses    int

	// RawTimestamp keeps the stored text when it could not be parsed, so the
	// value survives the next save untouched. Timestamp is zero in that case.
	RawTimestamp string
}

// State is the whole persisted document.
type State struct {
	Players map[string]Player
	History []Observation

	// LastAutoRefresh is zero when no auto-refresh has completed or the stored value was unreadable.
	LastAutoRefresh time.Time
	APIKey          string

	// Version is the persisted revision this state was loaded from.
	Version int64
}

func NewState() *State {
	return &State{Players: make(map[string]Player)}
}

// Stats is what the remote provider reports for one player.
type Stats struct {
	Tag      string
	Name     string
	Trophies int
	Level    int
	Wins     int
	Losses   int
}

func (s Stats) Observation(at time.Time) Observation {
	return Observation{
		Tag:       s.Tag,
		Name:      s.Name,
		Timestamp: at,
		Trophies:  s.Trophies,
		Level:     s.Level,
		Wins:      s.Wins,
		Losses:    s.Losses,
	}
}
