package fints

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/bankfeed/internal/core/domain"
	"github.com/custodia-labs/bankfeed/internal/core/ports/driven"
	"github.com/custodia-labs/bankfeed/internal/logger"
	"github.com/custodia-labs/bankfeed/internal/parsers/statement"
)

// Ensure Adapter implements the interface.
var _ driven.BankAdapter = (*Adapter)(nil)

// Config holds the non-secret configuration for a banking-protocol
// connector.
type Config struct {
	// Endpoint is the bank's dialog endpoint URL.
	Endpoint string
	// ProductID identifies this client to the bank.
	ProductID string
	// TANMethodCode pins a preferred second-factor method. Empty picks
	// the first method the bank allows.
	TANMethodCode string
	// Phrases overrides the decoupled classification keyword lists.
	Phrases Phrases
}

// ConfigFromMap builds a Config from connector key/value configuration.
func ConfigFromMap(m map[string]string) *Config {
	cfg := &Config{
		Endpoint:      m["endpoint"],
		ProductID:     m["product_id"],
		TANMethodCode: m["tan_method"],
		Phrases:       DefaultPhrases(),
	}
	if cfg.ProductID == "" {
		cfg.ProductID = "bankfeed"
	}
	if extra := m["decoupled_phrases"]; extra != "" {
		cfg.Phrases.ChallengeText = append(cfg.Phrases.ChallengeText, strings.Split(extra, ",")...)
	}
	return cfg
}

// phase tracks which step of the two-phase handshake (or a fetch) a
// pending challenge belongs to, so the continuation resumes the right
// exchange instead of restarting the handshake.
type phase int

const (
	phaseNone phase = iota
	phaseFirstSync
	phaseMediaSync
	phaseFetch
)

type pendingFetch struct {
	Range     domain.DateRange
	AccountID string
}

// Adapter implements the stateful banking dialog protocol: a two-phase
// synchronization handshake where each phase can independently demand a
// TAN, and TAN-gated statement fetches even when already connected.
type Adapter struct {
	connectorID string
	config      *Config
	transport   dialogTransport
	client      *Client

	mu          sync.Mutex
	initialized bool
	connected   bool
	creds       domain.Credentials
	tanMethods  []TANMethod
	method      TANMethod
	accounts    []domain.AccountInfo

	pendingPhase phase
	pendingRef   string
	fetch        *pendingFetch
}

// New creates a banking-protocol adapter for the connector.
func New(connectorID string, cfg *Config) *Adapter {
	client := NewClient(cfg.Endpoint)
	return &Adapter{
		connectorID: connectorID,
		config:      cfg,
		transport:   client,
		client:      client,
	}
}

// newWithTransport is the test seam: a scripted transport replaces the
// HTTP dialog.
func newWithTransport(connectorID string, cfg *Config, t dialogTransport) *Adapter {
	return &Adapter{connectorID: connectorID, config: cfg, transport: t}
}

// Type returns the connector family identifier.
func (a *Adapter) Type() string { return "fints" }

// ConnectorID returns the configured connector id.
func (a *Adapter) ConnectorID() string { return a.connectorID }

// Capabilities returns what this adapter supports.
func (a *Adapter) Capabilities() driven.AdapterCapabilities {
	return driven.AdapterCapabilities{
		MFAOnFetch:       true,
		AccountDiscovery: true,
		DecoupledMFA:     true,
	}
}

// Initialize stores credentials for the dialog. Only shape is checked;
// no network I/O happens here.
func (a *Adapter) Initialize(creds domain.Credentials) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if creds.UserID == "" || creds.Secret == "" {
		return fmt.Errorf("%w: user id and PIN are required", domain.ErrInvalidInput)
	}
	if creds.BankCode == "" {
		return fmt.Errorf("%w: bank routing code is required", domain.ErrInvalidInput)
	}
	if a.config.Endpoint == "" && creds.Endpoint == "" {
		return fmt.Errorf("%w: no dialog endpoint configured", domain.ErrInvalidInput)
	}
	if creds.Endpoint != "" && a.client != nil {
		a.client.endpoint = creds.Endpoint
	}

	a.creds = creds
	a.initialized = true
	return nil
}

// Connect runs the first synchronization phase. The bank may complete
// immediately, demand a TAN for the sync itself, or (for methods
// needing media selection) require a second synchronization that can
// demand its own TAN.
func (a *Adapter) Connect(ctx context.Context) (*domain.ConnectResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return nil, domain.ErrNotInitialized
	}

	logger.Section("Banking Dialog")
	logger.Debug("fints: starting synchronization for %v", a.creds.Redacted())

	// A fresh handshake rediscovers the accounts; a stale list from a
	// previous dialog must not accumulate.
	a.accounts = nil

	resp, err := a.transport.Exchange(ctx, &Message{Segments: []Segment{
		{Name: "HKIDN", Number: 2, Version: 2, Fields: []string{a.creds.BankCode, a.creds.UserID}},
		{Name: "HKVVB", Number: 3, Version: 3, Fields: []string{a.config.ProductID, "1.0"}},
		{Name: "HKSYN", Number: 4, Version: 3},
	}})
	if err != nil {
		return nil, err
	}
	if rc, rejected := rejection(resp); rejected {
		return nil, fmt.Errorf("%w: %s (%s)", domain.ErrConnectionFailed, rc.Message, rc.Code)
	}

	a.absorbParameters(resp)

	if challenge, ok := a.raisedChallenge(resp); ok {
		a.pendingPhase = phaseFirstSync
		return &domain.ConnectResult{RequiresMFA: true, Challenge: challenge}, nil
	}

	return a.afterFirstSync(ctx)
}

// afterFirstSync runs the media-selection phase when the chosen TAN
// method requires it, then finishes the connect.
func (a *Adapter) afterFirstSync(ctx context.Context) (*domain.ConnectResult, error) {
	if !a.method.NeedsMedia {
		return a.finishConnect(), nil
	}

	logger.Debug("fints: method %s requires media selection, re-synchronizing", a.method.Code)
	resp, err := a.transport.Exchange(ctx, &Message{Segments: []Segment{
		{Name: "HKTAB", Number: 2, Version: 4, Fields: []string{a.method.Code}},
	}})
	if err != nil {
		return nil, err
	}
	if rc, rejected := rejection(resp); rejected {
		return nil, fmt.Errorf("%w: %s (%s)", domain.ErrConnectionFailed, rc.Message, rc.Code)
	}

	if challenge, ok := a.raisedChallenge(resp); ok {
		a.pendingPhase = phaseMediaSync
		return &domain.ConnectResult{RequiresMFA: true, Challenge: challenge}, nil
	}
	return a.finishConnect(), nil
}

func (a *Adapter) finishConnect() *domain.ConnectResult {
	a.connected = true
	a.pendingPhase = phaseNone
	a.pendingRef = ""
	logger.Info("fints: connected, %d accounts discovered", len(a.accounts))
	return &domain.ConnectResult{Connected: true, Accounts: a.accounts}
}

// SubmitMFA resolves a pending handshake challenge. For decoupled
// challenges code is empty and the exchange polls confirmation state.
func (a *Adapter) SubmitMFA(ctx context.Context, code, reference string) (*domain.ConnectResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.pendingPhase {
	case phaseNone:
		return nil, domain.ErrNoPendingChallenge
	case phaseFetch:
		return nil, fmt.Errorf("%w: pending challenge belongs to a fetch", domain.ErrInvalidInput)
	}
	if reference != "" && reference != a.pendingRef {
		return nil, fmt.Errorf("%w: unknown challenge reference", domain.ErrMFAInvalid)
	}

	resp, err := a.submitTAN(ctx, code)
	if err != nil {
		return nil, err
	}

	if still, pending := stillPending(resp); pending {
		return &domain.ConnectResult{
			RequiresMFA: true,
			Challenge:   a.pendingChallenge(still),
		}, nil
	}
	if err := tanRejection(resp); err != nil {
		if isTerminalTANError(err) {
			a.pendingPhase = phaseNone
			a.pendingRef = ""
		}
		return nil, err
	}

	resolved := a.pendingPhase
	a.pendingPhase = phaseNone
	a.pendingRef = ""

	if resolved == phaseFirstSync {
		return a.afterFirstSync(ctx)
	}
	return a.finishConnect(), nil
}

// FetchTransactions fetches statements for the range. Statement fetch
// is itself TAN-gated per call, independent of the login TAN, so the
// result may pause in a fetch-time challenge even when connected.
func (a *Adapter) FetchTransactions(ctx context.Context, r domain.DateRange, accountID string) (*domain.FetchResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return nil, domain.ErrNotInitialized
	}
	if !a.connected {
		return nil, domain.ErrNotConnected
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	return a.fetchLocked(ctx, r, accountID)
}

func (a *Adapter) fetchLocked(ctx context.Context, r domain.DateRange, accountID string) (*domain.FetchResult, error) {
	resp, err := a.transport.Exchange(ctx, &Message{Segments: []Segment{
		{Name: "HKKAZ", Number: 2, Version: 7, Fields: []string{
			accountID,
			r.Start.Format("20060102"),
			r.End.Format("20060102"),
		}},
	}})
	if err != nil {
		return nil, err
	}
	if rc, rejected := rejection(resp); rejected {
		return nil, fmt.Errorf("%w: %s (%s)", domain.ErrConnectionFailed, rc.Message, rc.Code)
	}

	if challenge, ok := a.raisedChallenge(resp); ok {
		a.pendingPhase = phaseFetch
		a.fetch = &pendingFetch{Range: r, AccountID: accountID}
		logger.Info("fints: statement fetch is TAN-gated, pausing")
		return &domain.FetchResult{RequiresMFA: true, Challenge: challenge}, nil
	}

	return a.statementsFrom(resp, r, accountID)
}

// FetchTransactionsWithMFA resolves a fetch-time challenge and resumes
// the original fetch with its stored parameters.
func (a *Adapter) FetchTransactionsWithMFA(ctx context.Context, code, reference string) (*domain.FetchResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pendingPhase != phaseFetch || a.fetch == nil {
		return nil, domain.ErrNoPendingChallenge
	}
	if reference != "" && reference != a.pendingRef {
		return nil, fmt.Errorf("%w: unknown challenge reference", domain.ErrMFAInvalid)
	}

	resp, err := a.submitTAN(ctx, code)
	if err != nil {
		return nil, err
	}

	if still, pending := stillPending(resp); pending {
		return &domain.FetchResult{
			RequiresMFA: true,
			Challenge:   a.pendingChallenge(still),
		}, nil
	}
	if err := tanRejection(resp); err != nil {
		if isTerminalTANError(err) {
			a.pendingPhase = phaseNone
			a.pendingRef = ""
			a.fetch = nil
		}
		return nil, err
	}

	req := *a.fetch
	a.pendingPhase = phaseNone
	a.pendingRef = ""
	a.fetch = nil

	// Banks usually attach the statements to the TAN response; fall
	// back to re-issuing the fetch in the now-authorized dialog.
	if resp.Find("HIKAZ") != nil {
		return a.statementsFrom(resp, req.Range, req.AccountID)
	}
	return a.fetchLocked(ctx, req.Range, req.AccountID)
}

// Disconnect ends the dialog and clears all held state. Idempotent;
// transport failures on the goodbye are ignored.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.connected {
		_, err := a.transport.Exchange(ctx, &Message{Segments: []Segment{
			{Name: "HKEND", Number: 2, Version: 1},
		}})
		if err != nil {
			logger.Warn("fints: dialog end failed: %v", err)
		}
	}

	a.connected = false
	a.pendingPhase = phaseNone
	a.pendingRef = ""
	a.fetch = nil
	a.creds.Secret = ""
	if a.client != nil {
		a.client.Reset()
	}
	return nil
}

// IsConnected reports whether the dialog is authenticated.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Accounts returns the accounts discovered during synchronization.
func (a *Adapter) Accounts() []domain.AccountInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.AccountInfo, len(a.accounts))
	copy(out, a.accounts)
	return out
}

// submitTAN sends the continuation for the pending challenge. An empty
// code selects the decoupled status poll variant.
func (a *Adapter) submitTAN(ctx context.Context, code string) (*Message, error) {
	variant := "2" // TAN submission
	if code == "" {
		variant = "S" // decoupled status poll
	}
	return a.transport.Exchange(ctx, &Message{Segments: []Segment{
		{Name: "HKTAN", Number: 2, Version: 7, Fields: []string{variant, a.pendingRef, code}},
	}})
}

// absorbParameters picks up TAN methods, the allowed method set, and
// the account list from a synchronization response.
func (a *Adapter) absorbParameters(resp *Message) {
	if methods := parseTANMethods(resp.Find("HITANS")); len(methods) > 0 {
		a.tanMethods = methods
	}

	allowed := map[string]bool{}
	if rc, ok := resp.HasCode("3920"); ok {
		for _, p := range rc.Params {
			allowed[p] = true
		}
	}
	a.method = a.selectMethod(allowed)

	for _, seg := range resp.FindAll("HIUPD") {
		if len(seg.Fields) == 0 {
			continue
		}
		parts := strings.Split(seg.Fields[0], ";")
		acct := domain.AccountInfo{Number: parts[0]}
		if len(parts) > 1 {
			acct.IBAN = parts[1]
		}
		if len(parts) > 2 {
			acct.BIC = parts[2]
		}
		if len(parts) > 3 {
			acct.Type = parts[3]
		}
		if len(parts) > 4 {
			acct.Currency = parts[4]
		}
		if len(parts) > 5 {
			acct.Owner = parts[5]
		}
		a.accounts = append(a.accounts, acct)
	}
}

func (a *Adapter) selectMethod(allowed map[string]bool) TANMethod {
	if a.config.TANMethodCode != "" {
		for _, m := range a.tanMethods {
			if m.Code == a.config.TANMethodCode {
				return m
			}
		}
		logger.Warn("fints: configured TAN method %s not advertised", a.config.TANMethodCode)
	}
	for _, m := range a.tanMethods {
		if len(allowed) == 0 || allowed[m.Code] {
			return m
		}
	}
	if len(a.tanMethods) > 0 {
		return a.tanMethods[0]
	}
	return TANMethod{}
}

// raisedChallenge detects a TAN demand (code 0030 with an HITAN
// segment) and builds the classified domain challenge.
func (a *Adapter) raisedChallenge(resp *Message) (*domain.MFAChallenge, bool) {
	if _, ok := resp.HasCode("0030"); !ok {
		return nil, false
	}
	hitan := resp.Find("HITAN")
	if hitan == nil || len(hitan.Fields) == 0 {
		return nil, false
	}

	reference := hitan.Fields[0]
	text := ""
	if len(hitan.Fields) > 1 {
		text = hitan.Fields[1]
	}
	var image []byte
	if len(hitan.Fields) > 2 && hitan.Fields[2] != "" {
		if decoded, err := base64.StdEncoding.DecodeString(hitan.Fields[2]); err == nil {
			image = decoded
		}
	}

	challenge := challengeFor(a.method, text, reference, image, a.config.Phrases)
	challenge.ExpiresAt = time.Now().Add(domain.DefaultChallengeTTL)
	a.pendingRef = reference
	return challenge, true
}

// pendingChallenge re-issues the active challenge with an updated
// still-waiting message, keeping the same reference and type.
func (a *Adapter) pendingChallenge(message string) *domain.MFAChallenge {
	challenge := challengeFor(a.method, message, a.pendingRef, nil, a.config.Phrases)
	challenge.ExpiresAt = time.Now().Add(domain.DefaultChallengeTTL)
	return challenge
}

func (a *Adapter) statementsFrom(resp *Message, r domain.DateRange, accountID string) (*domain.FetchResult, error) {
	result := &domain.FetchResult{}
	for _, seg := range resp.FindAll("HIKAZ") {
		if len(seg.Fields) == 0 {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(seg.Fields[0])
		if err != nil {
			result.Stats.AddRowError(fmt.Sprintf("statement block: %v", err))
			continue
		}

		enc, err := statement.DetectEncoding(data)
		if err != nil {
			result.Stats.AddRowError(err.Error())
			continue
		}
		txns, stats, err := statement.Parse(enc, data)
		if err != nil {
			result.Stats.AddRowError(err.Error())
			continue
		}
		result.Stats.Merge(stats)

		for _, tx := range txns {
			if !r.Contains(tx.Date) {
				continue
			}
			tx.AccountID = accountID
			result.Transactions = append(result.Transactions, tx)
		}
	}
	logger.Info("fints: fetched %d transactions (%d records seen)",
		len(result.Transactions), result.Stats.TotalRows)
	return result, nil
}

// rejection reports a terminal dialog rejection (any 9xxx code).
func rejection(resp *Message) (*ReturnCode, bool) {
	for _, rc := range resp.ReturnCodes() {
		if strings.HasPrefix(rc.Code, "9") && rc.Code != "9941" && rc.Code != "9942" {
			return &rc, true
		}
	}
	return nil, false
}

// stillPending detects the decoupled "confirmation outstanding" code.
func stillPending(resp *Message) (string, bool) {
	if rc, ok := resp.HasCode("3956"); ok {
		msg := rc.Message
		if msg == "" {
			msg = "Still waiting for confirmation in your banking app"
		}
		return msg, true
	}
	return "", false
}

func tanRejection(resp *Message) error {
	if rc, ok := resp.HasCode("9941"); ok {
		return fmt.Errorf("%w: %s", domain.ErrMFAInvalid, rc.Message)
	}
	if rc, ok := resp.HasCode("9942"); ok {
		return fmt.Errorf("%w: %s", domain.ErrMFAExpired, rc.Message)
	}
	return nil
}

func isTerminalTANError(err error) bool {
	return errors.Is(err, domain.ErrMFAExpired)
}
