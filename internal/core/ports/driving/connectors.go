package driving

import (
	"context"

	"github.com/custodia-labs/bankfeed/internal/core/domain"
)

// ConnectorService is the orchestration-facing surface for connector
// lifecycle and data fetching. Operations on one connector id are
// serialized; operations on different ids run concurrently.
type ConnectorService interface {
	// Create registers a new connector configuration.
	Create(ctx context.Context, c domain.Connector) error

	// Delete disconnects and removes a connector and its state.
	Delete(ctx context.Context, id string) error

	// List returns all configured connectors.
	List(ctx context.Context) ([]domain.Connector, error)

	// Connect begins authentication for the connector using the given
	// credentials. The secret is handed to the adapter and never
	// persisted.
	Connect(ctx context.Context, id string, creds domain.Credentials) (*domain.ConnectResult, error)

	// SubmitMFA resolves the pending challenge. code may be empty for
	// decoupled challenges. The resolution resumes whichever operation
	// raised the challenge (connect or fetch).
	SubmitMFA(ctx context.Context, id, code string) (*domain.MFAResolution, error)

	// Fetch retrieves canonical transactions for the range. May pause
	// in MFA_REQUIRED for TAN-gated fetches.
	Fetch(ctx context.Context, id string, r domain.DateRange, accountID string) (*domain.FetchResult, error)

	// Disconnect releases the connector's session and invalidates any
	// pending challenge. Idempotent.
	Disconnect(ctx context.Context, id string) error

	// Status returns the poll-friendly observable state. Cheap: no
	// network I/O.
	Status(ctx context.Context, id string) (*domain.ConnectorState, error)

	// Accounts returns the accounts discovered for the connector.
	Accounts(ctx context.Context, id string) ([]domain.AccountInfo, error)

	// Types lists the supported connector families.
	Types() []domain.ConnectorType
}

// ImportService turns offline export files into canonical transactions.
type ImportService interface {
	// ImportFile parses the file at path, routing by content sniffing,
	// and returns deduplicated canonical transactions with statistics.
	ImportFile(ctx context.Context, path string) ([]domain.FetchedTransaction, domain.ImportStats, error)
}
