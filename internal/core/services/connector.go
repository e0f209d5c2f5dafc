package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/bankfeed/internal/core/domain"
	"github.com/custodia-labs/bankfeed/internal/core/ports/driven"
	"github.com/custodia-labs/bankfeed/internal/core/ports/driving"
	"github.com/custodia-labs/bankfeed/internal/logger"
)

// Ensure ConnectorService implements the interface.
var _ driving.ConnectorService = (*ConnectorService)(nil)

// instance is one live connector: the adapter plus its observable
// state machine. opMu serializes the protocol operations; stateMu
// guards the observable fields so Status stays cheap and non-blocking
// even while an operation is in flight.
type instance struct {
	adapter driven.BankAdapter

	opMu sync.Mutex

	stateMu   sync.Mutex
	status    domain.ConnectionStatus
	message   string
	challenge *domain.MFAChallenge
	pending   *domain.PendingOperation
	accounts  []domain.AccountInfo
}

// ConnectorService owns the connector registry: exactly one live
// adapter per connector id, a per-id state machine, and serialization
// of operations on the same id. Operations on different ids run
// concurrently.
type ConnectorService struct {
	factory driven.AdapterFactory
	store   driven.ConnectorStore
	syncs   driven.SyncStateStore
	now     func() time.Time

	mu        sync.Mutex
	instances map[string]*instance
}

// NewConnectorService creates the connector registry service.
func NewConnectorService(factory driven.AdapterFactory, store driven.ConnectorStore, syncs driven.SyncStateStore) *ConnectorService {
	return &ConnectorService{
		factory:   factory,
		store:     store,
		syncs:     syncs,
		now:       time.Now,
		instances: make(map[string]*instance),
	}
}

// Create registers a new connector configuration after validating the
// family and its required config keys.
func (s *ConnectorService) Create(ctx context.Context, c domain.Connector) error {
	if c.Name == "" {
		return fmt.Errorf("%w: connector name is required", domain.ErrInvalidInput)
	}

	spec, err := s.typeSpec(c.Type)
	if err != nil {
		return err
	}
	for _, key := range spec.ConfigKeys {
		if key.Required && c.Config[key.Key] == "" {
			return fmt.Errorf("%w: config key %q is required for %s connectors",
				domain.ErrInvalidInput, key.Key, c.Type)
		}
	}

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if existing, err := s.store.Get(ctx, c.ID); err == nil && existing != nil {
		return fmt.Errorf("%w: connector %s", domain.ErrAlreadyExists, c.ID)
	}

	c.CreatedAt = s.now()
	c.UpdatedAt = c.CreatedAt
	logger.Info("registry: created connector %s (%s)", c.ID, c.Type)
	return s.store.Save(ctx, c)
}

// Delete disconnects the live instance and removes the connector and
// its sync state.
func (s *ConnectorService) Delete(ctx context.Context, id string) error {
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	inst := s.instances[id]
	delete(s.instances, id)
	s.mu.Unlock()

	if inst != nil {
		if err := inst.adapter.Disconnect(ctx); err != nil {
			logger.Warn("registry: disconnect during delete failed: %v", err)
		}
	}

	if err := s.syncs.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return s.store.Delete(ctx, id)
}

// List returns all configured connectors.
func (s *ConnectorService) List(ctx context.Context) ([]domain.Connector, error) {
	return s.store.List(ctx)
}

// Connect begins authentication. The secret inside creds goes to the
// adapter and nowhere else.
func (s *ConnectorService) Connect(ctx context.Context, id string, creds domain.Credentials) (*domain.ConnectResult, error) {
	inst, err := s.instanceFor(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inst.opMu.TryLock() {
		return nil, fmt.Errorf("%w: connector %s has an operation in flight", domain.ErrBusy, id)
	}
	defer inst.opMu.Unlock()

	if err := inst.transition(domain.StatusConnecting, "authenticating"); err != nil {
		return nil, err
	}

	if err := inst.adapter.Initialize(creds); err != nil {
		inst.fail(err)
		return nil, err
	}
	result, err := inst.adapter.Connect(ctx)
	if err != nil {
		inst.fail(err)
		s.recordError(ctx, id, err)
		return nil, err
	}

	s.applyConnectResult(inst, result)
	return result, nil
}

// SubmitMFA resolves the pending challenge, resuming whichever
// operation raised it. An expired challenge is terminal: the instance
// moves to error and the submission fails.
func (s *ConnectorService) SubmitMFA(ctx context.Context, id, code string) (*domain.MFAResolution, error) {
	inst := s.liveInstance(id)
	if inst == nil {
		return nil, domain.ErrNoPendingChallenge
	}
	if !inst.opMu.TryLock() {
		return nil, fmt.Errorf("%w: connector %s has an operation in flight", domain.ErrBusy, id)
	}
	defer inst.opMu.Unlock()

	pending, challenge := inst.pendingOp()
	if pending == nil {
		return nil, domain.ErrNoPendingChallenge
	}
	if challenge != nil && challenge.Expired(s.now()) {
		inst.fail(domain.ErrMFAExpired)
		inst.clearPending()
		return nil, fmt.Errorf("%w: challenge expired before submission", domain.ErrMFAExpired)
	}

	if pending.Kind == domain.OpFetch {
		return s.resumeFetch(ctx, id, inst, pending, code)
	}
	return s.resumeConnect(ctx, id, inst, pending, code)
}

func (s *ConnectorService) resumeConnect(ctx context.Context, id string, inst *instance, pending *domain.PendingOperation, code string) (*domain.MFAResolution, error) {
	result, err := inst.adapter.SubmitMFA(ctx, code, pending.Reference)
	if err != nil {
		if errors.Is(err, domain.ErrMFAInvalid) {
			// Wrong code; the challenge stays active for a retry.
			return nil, err
		}
		inst.fail(err)
		inst.clearPending()
		s.recordError(ctx, id, err)
		return nil, err
	}

	if result.RequiresMFA {
		still := result.Challenge != nil && result.Challenge.Reference == pending.Reference
		inst.setChallenge(result.Challenge, domain.OpConnect, domain.DateRange{}, "", s.now())
		return &domain.MFAResolution{Connect: result, StillPending: still}, nil
	}

	s.applyConnectResult(inst, result)
	return &domain.MFAResolution{Connect: result}, nil
}

func (s *ConnectorService) resumeFetch(ctx context.Context, id string, inst *instance, pending *domain.PendingOperation, code string) (*domain.MFAResolution, error) {
	result, err := inst.adapter.FetchTransactionsWithMFA(ctx, code, pending.Reference)
	if err != nil {
		if errors.Is(err, domain.ErrMFAInvalid) {
			return nil, err
		}
		inst.fail(err)
		inst.clearPending()
		s.recordError(ctx, id, err)
		return nil, err
	}

	if result.RequiresMFA {
		still := result.Challenge != nil && result.Challenge.Reference == pending.Reference
		inst.setChallenge(result.Challenge, domain.OpFetch, pending.Range, pending.AccountID, s.now())
		return &domain.MFAResolution{Fetch: result, StillPending: still}, nil
	}

	inst.set(domain.StatusConnected, "")
	inst.clearPending()
	s.recordSync(ctx, id, pending.Range)
	return &domain.MFAResolution{Fetch: result}, nil
}

// Fetch retrieves canonical transactions for the range. TAN-gated
// fetches pause in MFA_REQUIRED with a fetch continuation pending.
func (s *ConnectorService) Fetch(ctx context.Context, id string, r domain.DateRange, accountID string) (*domain.FetchResult, error) {
	inst := s.liveInstance(id)
	if inst == nil {
		return nil, fmt.Errorf("%w: connector %s", domain.ErrNotConnected, id)
	}
	if !inst.opMu.TryLock() {
		return nil, fmt.Errorf("%w: connector %s has an operation in flight", domain.ErrBusy, id)
	}
	defer inst.opMu.Unlock()

	if err := r.Validate(); err != nil {
		return nil, err
	}
	if pending, _ := inst.pendingOp(); pending != nil {
		// The challenge must be resolved via SubmitMFA first; the
		// instance stays in MFA_REQUIRED with the challenge intact.
		return nil, fmt.Errorf("%w: connector %s has an unresolved challenge", domain.ErrBusy, id)
	}
	if err := inst.transition(domain.StatusFetching, "fetching transactions"); err != nil {
		return nil, err
	}

	result, err := inst.adapter.FetchTransactions(ctx, r, accountID)
	if err != nil {
		inst.fail(err)
		s.recordError(ctx, id, err)
		return nil, err
	}

	if result.RequiresMFA {
		inst.setChallenge(result.Challenge, domain.OpFetch, r, accountID, s.now())
		return result, nil
	}

	inst.set(domain.StatusConnected, "")
	s.recordSync(ctx, id, r)
	return result, nil
}

// Disconnect releases the connector's session and invalidates any
// pending challenge so a late submission fails cleanly. Idempotent.
func (s *ConnectorService) Disconnect(ctx context.Context, id string) error {
	inst := s.liveInstance(id)
	if inst == nil {
		return nil
	}

	// Deliberately not TryLock: disconnect is the cancellation path and
	// must win even while an operation is pending resolution.
	inst.opMu.Lock()
	defer inst.opMu.Unlock()

	err := inst.adapter.Disconnect(ctx)
	inst.set(domain.StatusDisconnected, "")
	inst.clearPending()
	inst.stateMu.Lock()
	inst.accounts = nil
	inst.stateMu.Unlock()
	return err
}

// Status returns the observable state. Cheap: no network I/O and no
// waiting on in-flight operations. A challenge past its expiry is
// resolved to error here, lazily.
func (s *ConnectorService) Status(ctx context.Context, id string) (*domain.ConnectorState, error) {
	inst := s.liveInstance(id)
	if inst == nil {
		c, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		state := &domain.ConnectorState{Status: domain.StatusDisconnected}
		if c.LastError != "" {
			state.Message = c.LastError
		}
		return state, nil
	}

	inst.stateMu.Lock()
	defer inst.stateMu.Unlock()

	if inst.status == domain.StatusMFARequired && inst.challenge != nil && inst.challenge.Expired(s.now()) {
		inst.status = domain.StatusError
		inst.message = "authentication challenge expired"
		inst.challenge = nil
		inst.pending = nil
	}

	state := &domain.ConnectorState{
		Status:  inst.status,
		Message: inst.message,
	}
	if inst.challenge != nil {
		c := *inst.challenge
		state.Challenge = &c
	}
	return state, nil
}

// Accounts returns the cached accounts discovered for the connector.
func (s *ConnectorService) Accounts(ctx context.Context, id string) ([]domain.AccountInfo, error) {
	inst := s.liveInstance(id)
	if inst == nil {
		return nil, fmt.Errorf("%w: connector %s", domain.ErrNotConnected, id)
	}
	inst.stateMu.Lock()
	defer inst.stateMu.Unlock()
	out := make([]domain.AccountInfo, len(inst.accounts))
	copy(out, inst.accounts)
	return out, nil
}

// Types lists the supported connector families.
func (s *ConnectorService) Types() []domain.ConnectorType {
	return s.factory.SupportedTypes()
}

// instanceFor returns the live instance for the id, creating the
// adapter on first use.
func (s *ConnectorService) instanceFor(ctx context.Context, id string) (*instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inst, ok := s.instances[id]; ok {
		return inst, nil
	}

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	adapter, err := s.factory.New(c.ID, c.Type, c.Config)
	if err != nil {
		return nil, err
	}

	inst := &instance{adapter: adapter, status: domain.StatusDisconnected}
	s.instances[id] = inst
	return inst, nil
}

func (s *ConnectorService) liveInstance(id string) *instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instances[id]
}

func (s *ConnectorService) typeSpec(id string) (*domain.ConnectorType, error) {
	for _, t := range s.factory.SupportedTypes() {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: connector type %q", domain.ErrUnsupportedType, id)
}

func (s *ConnectorService) applyConnectResult(inst *instance, result *domain.ConnectResult) {
	if result.RequiresMFA {
		inst.setChallenge(result.Challenge, domain.OpConnect, domain.DateRange{}, "", s.now())
		return
	}

	inst.set(domain.StatusConnected, "")
	inst.clearPending()
	inst.stateMu.Lock()
	inst.accounts = append(inst.accounts[:0], result.Accounts...)
	inst.stateMu.Unlock()
}

func (s *ConnectorService) recordSync(ctx context.Context, id string, r domain.DateRange) {
	err := s.syncs.Save(ctx, domain.SyncState{
		ConnectorID: id,
		LastStart:   r.Start,
		LastEnd:     r.End,
		LastFetch:   s.now(),
	})
	if err != nil {
		logger.Warn("registry: recording sync state for %s failed: %v", id, err)
	}
}

// recordError persists the terminal error message on the connector so
// it survives the live instance.
func (s *ConnectorService) recordError(ctx context.Context, id string, opErr error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return
	}
	c.LastError = opErr.Error()
	c.UpdatedAt = s.now()
	if err := s.store.Save(ctx, *c); err != nil {
		logger.Warn("registry: recording error for %s failed: %v", id, err)
	}
}

func (inst *instance) transition(to domain.ConnectionStatus, message string) error {
	inst.stateMu.Lock()
	defer inst.stateMu.Unlock()

	if !inst.status.CanTransition(to) {
		return fmt.Errorf("%w: cannot move from %s to %s", domain.ErrInvalidInput, inst.status, to)
	}
	inst.status = to
	inst.message = message
	return nil
}

func (inst *instance) set(status domain.ConnectionStatus, message string) {
	inst.stateMu.Lock()
	inst.status = status
	inst.message = message
	if status != domain.StatusMFARequired {
		inst.challenge = nil
	}
	inst.stateMu.Unlock()
}

func (inst *instance) fail(err error) {
	inst.stateMu.Lock()
	inst.status = domain.StatusError
	inst.message = err.Error()
	inst.challenge = nil
	inst.stateMu.Unlock()
}

func (inst *instance) setChallenge(c *domain.MFAChallenge, kind domain.OperationKind, r domain.DateRange, accountID string, issuedAt time.Time) {
	inst.stateMu.Lock()
	inst.status = domain.StatusMFARequired
	inst.message = "waiting for second factor"
	inst.challenge = c
	pending := &domain.PendingOperation{
		Kind:      kind,
		Range:     r,
		AccountID: accountID,
		IssuedAt:  issuedAt,
	}
	if c != nil {
		pending.Reference = c.Reference
	}
	inst.pending = pending
	inst.stateMu.Unlock()
}

func (inst *instance) clearPending() {
	inst.stateMu.Lock()
	inst.pending = nil
	inst.challenge = nil
	inst.stateMu.Unlock()
}

func (inst *instance) pendingOp() (*domain.PendingOperation, *domain.MFAChallenge) {
	inst.stateMu.Lock()
	defer inst.stateMu.Unlock()
	return inst.pending, inst.challenge
}
