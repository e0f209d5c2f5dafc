package driven

import (
	"context"

	"github.com/custodia-labs/bankfeed/internal/core/domain"
)

// ConnectorStore persists connector configurations. Secrets are never
// part of a domain.Connector, so nothing here touches credentials.
type ConnectorStore interface {
	// Save stores or updates a connector.
	Save(ctx context.Context, c domain.Connector) error

	// Get retrieves a connector by ID. Returns domain.ErrNotFound if
	// the connector does not exist.
	Get(ctx context.Context, id string) (*domain.Connector, error)

	// Delete removes a connector.
	Delete(ctx context.Context, id string) error

	// List returns all configured connectors.
	List(ctx context.Context) ([]domain.Connector, error)
}

// ImportLogStore keeps the bookkeeping trail of completed file imports.
type ImportLogStore interface {
	// Record stores one completed import batch.
	Record(ctx context.Context, rec domain.ImportRecord) error

	// List returns the most recent batches, newest first, up to limit.
	// limit <= 0 means no limit.
	List(ctx context.Context, limit int) ([]domain.ImportRecord, error)
}

// SyncStateStore persists the last fetched window per connector.
type SyncStateStore interface {
	// Save stores or updates sync state.
	Save(ctx context.Context, state domain.SyncState) error

	// Get retrieves sync state for a connector. Returns
	// domain.ErrNotFound if no fetch has completed yet.
	Get(ctx context.Context, connectorID string) (*domain.SyncState, error)

	// Delete removes sync state for a connector.
	Delete(ctx context.Context, connectorID string) error
}
