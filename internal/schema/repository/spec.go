package repository

import (
	"context"

	devicedomain "streaming-status/backend/internal/device/domain"
)

// SpecSource adapts a Store to the device query layer's schema lookup.
type SpecSource struct {
	Store Store
}

// FindSpec returns the spec for the schema assigned to a device, nil when
// the registry has no matching row.
func (s SpecSource) FindSpec(ctx context.Context, provider, id string) (*devicedomain.SchemaSpec, error) {
	schema, err := s.Store.Find(ctx, provider, id)
	if err != nil || schema == nil {
		return nil, err
	}
	return &devicedomain.SchemaSpec{
		ID:       schema.ID,
		Provider: schema.Provider,
		Schema:   schema.Body,
		Title:    schema.Title,
		Version:  schema.Version,
	}, nil
}
