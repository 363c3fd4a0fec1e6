package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"streaming-status/backend/internal/schema/domain"
)

// MemoryStore is an in-memory Store for tests and offline runs.
type MemoryStore struct {
	mu      sync.Mutex
	schemas map[string]*domain.Schema
}

// NewMemoryStore builds a store preloaded with the given schemas.
func NewMemoryStore(schemas ...domain.Schema) *MemoryStore {
	m := &MemoryStore{schemas: map[string]*domain.Schema{}}
	m.Put(schemas...)
	return m
}

// Put upserts schemas, filling in missing hashes.
func (m *MemoryStore) Put(schemas ...domain.Schema) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, schema := range schemas {
		stored := schema
		if stored.Hash == "" {
			stored.Hash = domain.HashOf(stored.Body, stored.Provider)
		}
		m.schemas[stored.ID] = &stored
	}
}

// List implements Store. Pages advance in id order using the same base64 key
// encoding as the DynamoDB store.
func (m *MemoryStore) List(ctx context.Context, provider string, limit int, startKey string) (*Page, error) {
	after, err := idFromPageKey(startKey)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.schemas))
	for id := range m.schemas {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	page := &Page{}
	for _, id := range ids {
		if after != "" && id <= after {
			continue
		}
		schema := m.schemas[id]
		if provider != "" && schema.Provider != provider {
			continue
		}
		found := *schema
		page.Schemas = append(page.Schemas, &found)
		if limit > 0 && len(page.Schemas) >= limit {
			page.NextKey, _ = encodePageKey(idKey(id))
			break
		}
	}
	sortSchemas(page.Schemas)
	return page, nil
}

// Find implements Store.
func (m *MemoryStore) Find(ctx context.Context, provider, id string) (*domain.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	schema, ok := m.schemas[id]
	if !ok {
		return nil, nil
	}
	if provider != "" && schema.Provider != provider {
		return nil, nil
	}
	found := *schema
	return &found, nil
}

// FindByHash implements Store.
func (m *MemoryStore) FindByHash(ctx context.Context, provider, body string) (*domain.Schema, error) {
	hash := domain.HashOf(body, provider)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, schema := range m.schemas {
		if schema.Hash == hash && schema.Provider == provider {
			found := *schema
			found.Body = body
			return &found, nil
		}
	}
	return nil, nil
}

func idFromPageKey(startKey string) (string, error) {
	if startKey == "" {
		return "", nil
	}
	key, err := decodePageKey(startKey)
	if err != nil {
		return "", err
	}
	if s, ok := key["id"].(*types.AttributeValueMemberS); ok {
		return s.Value, nil
	}
	return "", fmt.Errorf("%w: malformed page key", domain.ErrInvalidArgument)
}
