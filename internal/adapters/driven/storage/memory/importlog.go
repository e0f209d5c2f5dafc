package memory

import (
	"context"
	"sync"

	"github.com/custodia-labs/bankfeed/internal/core/domain"
	"github.com/custodia-labs/bankfeed/internal/core/ports/driven"
)

// Ensure ImportLogStore implements the interface.
var _ driven.ImportLogStore = (*ImportLogStore)(nil)

// ImportLogStore is an in-memory implementation of driven.ImportLogStore.
type ImportLogStore struct {
	mu      sync.RWMutex
	records []domain.ImportRecord
}

// NewImportLogStore creates a new in-memory import log store.
func NewImportLogStore() *ImportLogStore {
	return &ImportLogStore{}
}

// Record stores one completed import batch.
func (s *ImportLogStore) Record(_ context.Context, rec domain.ImportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// List returns the most recent batches, newest first.
func (s *ImportLogStore) List(_ context.Context, limit int) ([]domain.ImportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ImportRecord, 0, len(s.records))
	for i := len(s.records) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, s.records[i])
	}
	return out, nil
}
