// Package domain models the data schema registry consulted during device
// onboarding.
package domain

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
)

var (
	// ErrNotFound is returned when a schema does not exist or is outside the
	// caller's provider scope.
	ErrNotFound = errors.New("schema not found")
	// ErrInvalidArgument is returned for malformed listing parameters.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Schema is one registered data schema version. Versions of the same title
// are distinct rows; the newest version carries the highest number.
type Schema struct {
	ID       string `json:"id"`
	Provider string `json:"jwtGroup"`
	Title    string `json:"title"`
	Version  int    `json:"version"`
	Body     string `json:"jsonSchema"`
	Hash     string `json:"schemaHash,omitempty"`
}

// HashOf computes the registry fingerprint of a schema body owned by
// provider. md5 matches the fingerprints already stored in the registry; it
// deduplicates uploads and carries no security weight.
func HashOf(body, provider string) string {
	sum := md5.Sum([]byte(body + provider))
	return hex.EncodeToString(sum[:])
}
