// Package repository stores registered data schemas and answers scoped
// lookups against the registry table.
package repository

import (
	"context"

	"streaming-status/backend/internal/schema/domain"
)

// Page is one page of schemas plus the key resuming the listing; NextKey is
// empty when the listing is complete.
type Page struct {
	Schemas []*domain.Schema `json:"schemas"`
	NextKey string           `json:"nextPage,omitempty"`
}

// Store is the registry surface consumed by handlers and the device query
// layer. Provider "" means unscoped (admin) access.
type Store interface {
	// List returns schemas visible to provider ordered by
	// (provider, title, version descending).
	List(ctx context.Context, provider string, limit int, startKey string) (*Page, error)
	// Find returns a schema by id, nil when it does not exist or belongs to
	// another provider.
	Find(ctx context.Context, provider, id string) (*domain.Schema, error)
	// FindByHash resolves the schema whose body is already registered under
	// provider, nil when no match.
	FindByHash(ctx context.Context, provider, body string) (*domain.Schema, error)
}
