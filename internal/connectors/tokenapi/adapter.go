package tokenapi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/bankfeed/internal/core/domain"
	"github.com/custodia-labs/bankfeed/internal/core/ports/driven"
	"github.com/custodia-labs/bankfeed/internal/logger"
	"github.com/custodia-labs/bankfeed/internal/parsers/money"
)

// Ensure Adapter implements the interface.
var _ driven.BankAdapter = (*Adapter)(nil)

// refreshMargin is how close to expiry an access token may get before
// an authenticated call transparently refreshes it first.
const refreshMargin = 5 * time.Minute

// Config holds the non-secret configuration for a token-API connector.
type Config struct {
	// BaseURL is the API root, e.g. https://api.bank.example.
	BaseURL string
	// ClientID identifies this client to the token endpoint.
	ClientID string
}

// ConfigFromMap builds a Config from connector key/value configuration.
func ConfigFromMap(m map[string]string) *Config {
	cfg := &Config{
		BaseURL:  m["base_url"],
		ClientID: m["client_id"],
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "bankfeed"
	}
	return cfg
}

// Adapter implements the token-endpoint protocol: password grant,
// asynchronous MFA via continuation grants, and transparent token
// refresh on authenticated calls.
type Adapter struct {
	connectorID string
	config      *Config
	client      *Client

	mu          sync.Mutex
	initialized bool
	creds       domain.Credentials
	token       *oauth2.Token
	accounts    []domain.AccountInfo

	pendingMFAToken string
	pendingType     domain.MFAType
}

// New creates a token-API adapter for the connector.
func New(connectorID string, cfg *Config) *Adapter {
	return &Adapter{
		connectorID: connectorID,
		config:      cfg,
		client:      NewClient(cfg.BaseURL, cfg.ClientID),
	}
}

// Type returns the connector family identifier.
func (a *Adapter) Type() string { return "tokenapi" }

// ConnectorID returns the configured connector id.
func (a *Adapter) ConnectorID() string { return a.connectorID }

// Capabilities returns what this adapter supports.
func (a *Adapter) Capabilities() driven.AdapterCapabilities {
	return driven.AdapterCapabilities{
		AccountDiscovery: true,
		DecoupledMFA:     true,
	}
}

// Initialize stores credentials for the password grant. Only shape is
// checked; no network I/O happens here.
func (a *Adapter) Initialize(creds domain.Credentials) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if creds.UserID == "" || creds.Secret == "" {
		return fmt.Errorf("%w: username and password are required", domain.ErrInvalidInput)
	}
	if a.config.BaseURL == "" && creds.Endpoint == "" {
		return fmt.Errorf("%w: no API endpoint configured", domain.ErrInvalidInput)
	}
	if creds.Endpoint != "" {
		a.client = NewClient(creds.Endpoint, a.config.ClientID)
	}

	a.creds = creds
	a.initialized = true
	return nil
}

// Connect runs the password grant. A token-less response carrying an
// MFA token pauses in a challenge instead of failing.
func (a *Adapter) Connect(ctx context.Context) (*domain.ConnectResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return nil, domain.ErrNotInitialized
	}

	logger.Section("Token API")
	logger.Debug("tokenapi: requesting password grant for %v", a.creds.Redacted())

	resp, err := a.client.RequestToken(ctx, a.creds.UserID, a.creds.Secret)
	if err != nil {
		return nil, err
	}

	if !resp.HasToken() {
		if resp.MFAToken == "" {
			return nil, fmt.Errorf("%w: endpoint returned neither token nor challenge", domain.ErrConnectionFailed)
		}
		challenge := a.challengeFrom(resp)
		logger.Info("tokenapi: second factor required (%s)", challenge.Type)
		return &domain.ConnectResult{RequiresMFA: true, Challenge: challenge}, nil
	}

	return a.finishConnect(ctx, resp)
}

// SubmitMFA resolves the pending challenge. Presence of a code selects
// the one-time-password grant; absence polls the out-of-band grant.
// authorization_pending re-issues the same challenge with an updated
// message so the caller keeps polling without re-prompting the user.
func (a *Adapter) SubmitMFA(ctx context.Context, code, reference string) (*domain.ConnectResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pendingMFAToken == "" {
		return nil, domain.ErrNoPendingChallenge
	}
	if reference != "" && reference != a.pendingMFAToken {
		return nil, fmt.Errorf("%w: unknown challenge reference", domain.ErrMFAInvalid)
	}

	var (
		resp *tokenResponse
		err  error
	)
	if code == "" {
		resp, err = a.client.PollOOB(ctx, a.pendingMFAToken)
	} else {
		resp, err = a.client.SubmitOTP(ctx, a.pendingMFAToken, code)
	}

	if errors.Is(err, errAuthorizationPending) {
		return &domain.ConnectResult{
			RequiresMFA: true,
			Challenge:   a.stillWaitingChallenge(),
		}, nil
	}
	if err != nil {
		if errors.Is(err, domain.ErrMFAExpired) {
			a.clearPending()
		}
		return nil, err
	}
	if !resp.HasToken() {
		return nil, fmt.Errorf("%w: continuation grant returned no token", domain.ErrConnectionFailed)
	}

	a.clearPending()
	return a.finishConnect(ctx, resp)
}

// FetchTransactions fetches the canonical batch for the range, with a
// transparent token refresh when expiry is near. This source never
// demands a second factor on fetch.
func (a *Adapter) FetchTransactions(ctx context.Context, r domain.DateRange, accountID string) (*domain.FetchResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return nil, domain.ErrNotInitialized
	}
	if a.token == nil {
		return nil, domain.ErrNotConnected
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if err := a.ensureFreshToken(ctx); err != nil {
		return nil, err
	}

	ids := []string{accountID}
	if accountID == "" {
		ids = ids[:0]
		for _, acct := range a.accounts {
			ids = append(ids, acct.Number)
		}
	}

	result := &domain.FetchResult{}
	for _, id := range ids {
		rows, err := a.client.Transactions(ctx, a.token.AccessToken, id, r)
		if err != nil {
			if errors.Is(err, domain.ErrSessionExpired) {
				a.token = nil
			}
			return nil, err
		}
		for _, row := range rows {
			result.Stats.TotalRows++
			tx, err := a.canonical(row, id)
			if err != nil {
				result.Stats.Skipped++
				result.Stats.AddRowError(fmt.Sprintf("account %s, record %s: %v", id, row.ID, err))
				continue
			}
			if !r.Contains(tx.Date) {
				result.Stats.Skipped++
				continue
			}
			result.Transactions = append(result.Transactions, tx)
			result.Stats.Imported++
		}
	}

	logger.Info("tokenapi: fetched %d transactions across %d accounts",
		len(result.Transactions), len(ids))
	return result, nil
}

// FetchTransactionsWithMFA is the fetch-time continuation. This family
// never gates fetches behind a second factor, so there is nothing to
// resume.
func (a *Adapter) FetchTransactionsWithMFA(ctx context.Context, code, reference string) (*domain.FetchResult, error) {
	return nil, domain.ErrNoPendingChallenge
}

// Disconnect revokes the token server-side (best effort) and clears
// all held state. Idempotent.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != nil {
		if err := a.client.Revoke(ctx, a.token.AccessToken); err != nil {
			logger.Warn("tokenapi: token revocation failed: %v", err)
		}
	}

	a.token = nil
	a.clearPending()
	a.creds.Secret = ""
	return nil
}

// IsConnected reports whether an access token is held.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token != nil
}

// Accounts returns the accounts discovered at connect time.
func (a *Adapter) Accounts() []domain.AccountInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.AccountInfo, len(a.accounts))
	copy(out, a.accounts)
	return out
}

func (a *Adapter) finishConnect(ctx context.Context, resp *tokenResponse) (*domain.ConnectResult, error) {
	a.token = tokenFrom(resp)

	accounts, err := a.client.Accounts(ctx, a.token.AccessToken)
	if err != nil {
		a.token = nil
		return nil, fmt.Errorf("account discovery failed: %w", err)
	}
	a.accounts = a.accounts[:0]
	for _, acct := range accounts {
		a.accounts = append(a.accounts, domain.AccountInfo{
			Number:   acct.ID,
			IBAN:     acct.IBAN,
			BIC:      acct.BIC,
			Type:     acct.Type,
			Currency: acct.Currency,
			Owner:    acct.Owner,
		})
	}

	logger.Info("tokenapi: connected, %d accounts discovered", len(a.accounts))
	return &domain.ConnectResult{Connected: true, Accounts: a.accounts}, nil
}

// ensureFreshToken refreshes the access token when expiry is within
// the safety margin. Callers never observe the refresh.
func (a *Adapter) ensureFreshToken(ctx context.Context) error {
	if a.token.Expiry.IsZero() || time.Until(a.token.Expiry) > refreshMargin {
		return nil
	}
	if a.token.RefreshToken == "" {
		a.token = nil
		return fmt.Errorf("%w: access token expired and no refresh token held", domain.ErrSessionExpired)
	}

	logger.Debug("tokenapi: access token near expiry, refreshing")
	resp, err := a.client.Refresh(ctx, a.token.RefreshToken)
	if err != nil || !resp.HasToken() {
		a.token = nil
		if err == nil {
			err = errors.New("refresh grant returned no token")
		}
		return fmt.Errorf("%w: token refresh failed: %v", domain.ErrSessionExpired, err)
	}

	refreshed := tokenFrom(resp)
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = a.token.RefreshToken
	}
	a.token = refreshed
	return nil
}

func (a *Adapter) challengeFrom(resp *tokenResponse) *domain.MFAChallenge {
	mfaType := challengeType(resp.MFAType)
	expiry := time.Now().Add(domain.DefaultChallengeTTL)
	if resp.ExpiresIn > 0 {
		expiry = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	message := resp.Message
	if message == "" {
		message = "Confirm the login with your second factor"
	}

	a.pendingMFAToken = resp.MFAToken
	a.pendingType = mfaType
	return &domain.MFAChallenge{
		Type:      mfaType,
		Decoupled: mfaType == domain.MFATypeDecoupled || mfaType == domain.MFATypePush,
		Message:   message,
		Reference: resp.MFAToken,
		ExpiresAt: expiry,
	}
}

// stillWaitingChallenge re-issues the active challenge unchanged except
// for the message, so pollers see one continuous challenge rather than
// a new one per poll.
func (a *Adapter) stillWaitingChallenge() *domain.MFAChallenge {
	return &domain.MFAChallenge{
		Type:      a.pendingType,
		Decoupled: true,
		Message:   "Still waiting for confirmation in your banking app",
		Reference: a.pendingMFAToken,
		ExpiresAt: time.Now().Add(domain.DefaultChallengeTTL),
	}
}

func (a *Adapter) clearPending() {
	a.pendingMFAToken = ""
	a.pendingType = ""
}

func (a *Adapter) canonical(row apiTransaction, accountID string) (domain.FetchedTransaction, error) {
	date, err := time.Parse("2006-01-02", row.BookingDate)
	if err != nil {
		return domain.FetchedTransaction{}, fmt.Errorf("unparseable booking date %q", row.BookingDate)
	}
	amount, err := money.ParseAmount(row.Amount)
	if err != nil {
		return domain.FetchedTransaction{}, err
	}

	return domain.FetchedTransaction{
		ExternalID:  row.ID,
		Date:        date,
		Description: row.Description,
		Amount:      amount,
		Currency:    row.Currency,
		Beneficiary: row.Beneficiary,
		AccountID:   accountID,
		Raw:         map[string]any{"source": "tokenapi", "record_id": row.ID},
	}, nil
}

func tokenFrom(resp *tokenResponse) *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
	}
	if resp.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return token
}

func challengeType(apiType string) domain.MFAType {
	switch apiType {
	case "sms":
		return domain.MFATypeSMS
	case "push", "oob":
		return domain.MFATypePush
	case "totp":
		return domain.MFATypeTOTP
	case "app":
		return domain.MFATypeAppTAN
	case "decoupled":
		return domain.MFATypeDecoupled
	}
	return domain.MFATypeSMS
}
