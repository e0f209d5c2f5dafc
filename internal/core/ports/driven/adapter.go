package driven

import (
	"context"

	"github.com/custodia-labs/bankfeed/internal/core/domain"
)

// BankAdapter is the capability contract every protocol adapter
// implements. Each adapter family (fints, tokenapi, browser) runs a
// structurally different protocol behind this interface.
//
// Contract guarantees:
//   - Calling any method out of sequence returns a typed domain error,
//     never a panic crossing the port boundary.
//   - SubmitMFA with no pending challenge returns
//     domain.ErrNoPendingChallenge and leaves state unchanged.
//   - Disconnect is idempotent and releases all held resources.
type BankAdapter interface {
	// Type returns the connector family identifier.
	Type() string

	// ConnectorID returns the configured connector id.
	ConnectorID() string

	// Capabilities returns what this adapter supports.
	Capabilities() AdapterCapabilities

	// Initialize stores identity and secret for later use. It may
	// validate credential shape but performs no network I/O, so the
	// secret cannot leak into transport logs before Connect.
	Initialize(creds domain.Credentials) error

	// Connect begins authentication. It may return immediately
	// connected, may issue an MFA challenge, or may fail.
	Connect(ctx context.Context) (*domain.ConnectResult, error)

	// SubmitMFA resolves a pending authentication challenge. For
	// decoupled challenges code may be empty; the call then re-polls
	// the external confirmation state and either completes, re-issues
	// the same challenge with a "still waiting" message, or fails on
	// timeout.
	SubmitMFA(ctx context.Context, code, reference string) (*domain.ConnectResult, error)

	// FetchTransactions fetches the canonical batch for the range.
	// Some sources demand a second factor specifically on fetch; then
	// the result carries RequiresMFA and a challenge instead of data.
	FetchTransactions(ctx context.Context, r domain.DateRange, accountID string) (*domain.FetchResult, error)

	// FetchTransactionsWithMFA is the continuation for fetch-time
	// challenges.
	FetchTransactionsWithMFA(ctx context.Context, code, reference string) (*domain.FetchResult, error)

	// Disconnect releases the network session, browser page, and any
	// in-memory tokens. Idempotent.
	Disconnect(ctx context.Context) error

	// IsConnected reports whether an authenticated session is held.
	IsConnected() bool

	// Accounts returns the accounts discovered during authentication.
	Accounts() []domain.AccountInfo
}

// AdapterCapabilities describes what an adapter family supports.
type AdapterCapabilities struct {
	// MFAOnFetch indicates fetches can be TAN-gated independently of
	// login.
	MFAOnFetch bool

	// AccountDiscovery indicates Connect returns the reachable
	// accounts.
	AccountDiscovery bool

	// PersistentSession indicates the adapter holds an exclusive
	// OS-level resource (browser page) across calls that must be
	// released on disconnect and fatal errors.
	PersistentSession bool

	// DecoupledMFA indicates the source can issue decoupled challenges
	// resolved by polling rather than code entry.
	DecoupledMFA bool
}

// AdapterFactory creates adapter instances for a connector. The set of
// families is closed: adding one is a compile-time change to the
// factory, not a runtime string match with an "unknown" default.
type AdapterFactory interface {
	// New creates an adapter for the connector. Returns
	// domain.ErrUnsupportedType for unknown families.
	New(connectorID, connectorType string, config map[string]string) (BankAdapter, error)

	// SupportedTypes lists the connector families this factory builds.
	SupportedTypes() []domain.ConnectorType
}
