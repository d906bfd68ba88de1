package constants

import "time"

const (
	DatabaseTimeout     = 5 * time.Second
	RequestTimeout      = 30 * time.Second
	RefreshCycleTimeout = 5 * time.Minute
)

const (
	FetchBackoffBase = 500 * time.Millisecond
)

const (
	DBMaxOpenConns    = 1
	DBMaxIdleConns    = 1
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
	DBBatchSize       = 100
)

const (
	ShutdownTimeout = 5 * time.Second
)

// CredentialMinLength is the length a key must exceed to pass the gate.
const CredentialMinLength = 50

const (
	DisplayTimeFormat = "2006-01-02 15:04"
)
