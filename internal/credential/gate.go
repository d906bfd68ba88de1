// Package credential decides whether a caller may mutate tracker data.
//
// The check is structural only: Clash Royale developer keys are long JWTs, so
// anything of CredentialMinLength characters or fewer is rejected without
// contacting the upstream API. A key that passes can still be refused by the
// provider; that surfaces as a fetch failure, not here.
package credential

import (
	"clash-tracker/internal/constants"
	"strings"
)

// IsAuthorized reports whether key looks like a usable API key.
func IsAuthorized(key string) bool {
	key = strings.TrimSpace(key)
	return len(key) > constants.CredentialMinLength
}
