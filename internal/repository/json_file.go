package repository

import (
	"clash-tracker/internal/domain"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// JSONRepository keeps the tracker document in a single JSON file. Every save
// rewrites the whole file through a temporary file and a rename.
type JSONRepository struct {
	path   string
	mu     sync.Mutex
	logger zerolog.Logger
}

type jsonDocument struct {
	Players        map[string]jsonPlayer `json:"players"`
	History        []jsonObservation     `json:"history"`
	LastAutoUpdate *string               `json:"last_auto_update"`
	APIKey         *string               `json:"api_key"`
	Version        int64                 `json:"version,omitempty"`
}

type jsonPlayer struct {
	Name string `json:"name"`
	Tag  string `json:"tag"`
}

type jsonObservation struct {
	Timestamp string `json:"timestamp"`
	Tag       string `json:"tag"`
	Name      string `json:"name"`
	Trophies  int    `json:"trophies"`
	Level     int    `json:"level"`
	Wins      int    `json:"wins"`
	Losses    int    `json:"losses"`
}

func NewJSONRepository(path string, logger zerolog.Logger) *JSONRepository {
	return &JSONRepository{path: path, logger: logger}
}

func (r *JSONRepository) Load(ctx context.Context) (*domain.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return nil, err
	}
	if doc == nil {
		r.logger.Debug().Str("path", r.path).Msg("data file not found, starting empty")
		return domain.NewState(), nil
	}
	return r.toState(doc), nil
}

func (r *JSONRepository) Save(ctx context.Context, state *domain.State) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.read()
	if err != nil {
		return err
	}
	var storedVersion int64
	if current != nil {
		storedVersion = current.Version
	}
	if storedVersion != state.Version {
		r.logger.Warn().
			Int64("stored_version", storedVersion).
			Int64("loaded_version", state.Version).
			Msg("refusing to overwrite newer data file")
		return fmt.Errorf("%w: stored version %d, loaded version %d", domain.ErrConflict, storedVersion, state.Version)
	}

	doc := fromState(state)
	doc.Version = state.Version + 1

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode document: %w", domain.ErrPersistence, err)
	}
	if err := writeFileAtomic(r.path, data); err != nil {
		r.logger.Error().Err(err).Str("path", r.path).Msg("failed to write data file")
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	state.Version = doc.Version
	r.logger.Debug().
		Str("path", r.path).
		Int64("version", state.Version).
		Int("players", len(doc.Players)).
		Int("history", len(doc.History)).
		Msg("data file saved")
	return nil
}

// read returns nil, nil when the file does not exist.
func (r *JSONRepository) read() (*jsonDocument, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrPersistence, r.path, err)
	}

	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", domain.ErrPersistence, r.path, err)
	}
	return &doc, nil
}

func (r *JSONRepository) toState(doc *jsonDocument) *domain.State {
	state := domain.NewState()
	state.Version = doc.Version

	for id, p := range doc.Players {
		tag := p.Tag
		if tag == "" {
			tag = id
		}
		state.Players[id] = domain.Player{Tag: tag, Name: p.Name}
	}

	state.History = make([]domain.Observation, 0, len(doc.History))
	for i, h := range doc.History {
		o := domain.Observation{
			Tag:      h.Tag,
			Name:     h.Name,
			Trophies: h.Trophies,
			Level:    h.Level,
			Wins:     h.Wins,
			Losses:   h.Losses,
		}
		ts, err := ParseTimestamp(h.Timestamp)
		if err != nil {
			r.logger.Warn().Err(err).Int("index", i).Str("tag", h.Tag).Msg("observation has unreadable timestamp, keeping it as stored")
			o.RawTimestamp = h.Timestamp
		}
		o.Timestamp = ts
		state.History = append(state.History, o)
	}

	if doc.LastAutoUpdate != nil {
		ts, err := ParseTimestamp(*doc.LastAutoUpdate)
		if err != nil {
			r.logger.Warn().Err(err).Msg("last_auto_update unreadable, treating as never refreshed")
		} else {
			state.LastAutoRefresh = ts
		}
	}
	if doc.APIKey != nil {
		state.APIKey = *doc.APIKey
	}
	return state
}

func fromState(state *domain.State) *jsonDocument {
	doc := &jsonDocument{
		Players: make(map[string]jsonPlayer, len(state.Players)),
		History: make([]jsonObservation, 0, len(state.History)),
	}
	for id, p := range state.Players {
		doc.Players[id] = jsonPlayer{Name: p.Name, Tag: p.Tag}
	}
	for _, o := range state.History {
		doc.History = append(doc.History, jsonObservation{
			Timestamp: observedAt(o),
			Tag:       o.Tag,
			Name:      o.Name,
			Trophies:  o.Trophies,
			Level:     o.Level,
			Wins:      o.Wins,
			Losses:    o.Losses,
		})
	}
	if !state.LastAutoRefresh.IsZero() {
		ts := FormatTimestamp(state.LastAutoRefresh)
		doc.LastAutoUpdate = &ts
	}
	if state.APIKey != "" {
		key := state.APIKey
		doc.APIKey = &key
	}
	return doc
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
