// Package memory provides in-memory store implementations, used as
// test fixtures and as the default when no data directory is
// configured.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/bankfeed/internal/core/domain"
	"github.com/custodia-labs/bankfeed/internal/core/ports/driven"
)

// Ensure ConnectorStore implements the interface.
var _ driven.ConnectorStore = (*ConnectorStore)(nil)

// ConnectorStore is an in-memory implementation of
// driven.ConnectorStore.
type ConnectorStore struct {
	mu         sync.RWMutex
	connectors map[string]domain.Connector
}

// NewConnectorStore creates a new in-memory connector store.
func NewConnectorStore() *ConnectorStore {
	return &ConnectorStore{
		connectors: make(map[string]domain.Connector),
	}
}

// Save stores or updates a connector.
func (s *ConnectorStore) Save(_ context.Context, c domain.Connector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectors[c.ID] = c
	return nil
}

// Get retrieves a connector by ID.
func (s *ConnectorStore) Get(_ context.Context, id string) (*domain.Connector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connectors[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

// Delete removes a connector.
func (s *ConnectorStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connectors, id)
	return nil
}

// List returns all configured connectors, ordered by creation time.
func (s *ConnectorStore) List(_ context.Context) ([]domain.Connector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Connector, 0, len(s.connectors))
	for _, c := range s.connectors {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
