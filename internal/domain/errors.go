package domain

import "errors"

var (
	ErrUnauthorized    = errors.New("api key missing or invalid")
	ErrDuplicatePlayer = errors.New("player already tracked")
	ErrPlayerNotFound  = errors.New("player not tracked")
	ErrInvalidTag      = errors.New("invalid player tag")
	ErrFetchFailed     = errors.New("failed to fetch player stats")
	ErrPersistence     = errors.New("failed to persist tracker data")
	ErrConflict        = errors.New("tracker data was modified concurrently")
)
