// Package browser implements the automation adapter for portals with
// no usable API: a real browser page, bound 1:1 to the connector id so
// cookies persist across calls, driven through the narrow Page port.
package browser

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/bankfeed/internal/aggregate"
	"github.com/custodia-labs/bankfeed/internal/core/domain"
	"github.com/custodia-labs/bankfeed/internal/core/ports/driven"
	"github.com/custodia-labs/bankfeed/internal/logger"
	"github.com/custodia-labs/bankfeed/internal/parsers/money"
)

// Ensure Adapter implements the interface.
var _ driven.BankAdapter = (*Adapter)(nil)

// maxPageIterations caps the load-more loop so a malformed page cannot
// drive an unbounded fetch.
const maxPageIterations = 10

var defaultPoll = driven.PollConfig{
	Timeout:  90 * time.Second,
	Interval: 2 * time.Second,
}

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"01/02/2006",
	"Jan 2, 2006",
}

// Config holds the non-secret configuration for a portal connector.
type Config struct {
	// LoginURL is where the login form lives.
	LoginURL string
	// ActivityURL lists the transactions.
	ActivityURL string
	// ActivityRangeURL, when set, is a template with {from} and {to}
	// placeholders (2006-01-02) for portals whose activity page accepts
	// a date filter in the URL. Empty means unsupported; the adapter
	// then scrapes everything and filters while parsing.
	ActivityRangeURL string

	Selectors FieldSelectors
	Poll      driven.PollConfig
}

// ConfigFromMap builds a Config from connector key/value configuration.
func ConfigFromMap(m map[string]string) *Config {
	cfg := &Config{
		LoginURL:         m["login_url"],
		ActivityURL:      m["activity_url"],
		ActivityRangeURL: m["activity_range_url"],
		Selectors:        DefaultSelectors(),
		Poll:             defaultPoll,
	}
	cfg.Selectors.LoggedIn = cfg.Selectors.LoggedIn.override(m["selector_logged_in"])
	cfg.Selectors.UsernameInput = cfg.Selectors.UsernameInput.override(m["selector_username"])
	cfg.Selectors.PasswordInput = cfg.Selectors.PasswordInput.override(m["selector_password"])
	cfg.Selectors.MFAInput = cfg.Selectors.MFAInput.override(m["selector_mfa_input"])
	if v := m["poll_timeout"]; v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Poll.Timeout = d
		}
	}
	return cfg
}

type outcome int

const (
	outcomeLoggedIn outcome = iota
	outcomeMFA
)

// Adapter drives a persistent browser session. The page is an
// exclusive OS-level resource: it is acquired on connect, reused
// across calls, and released on disconnect and on fatal errors.
type Adapter struct {
	connectorID string
	config      *Config
	pages       driven.PageFactory

	mu          sync.Mutex
	initialized bool
	connected   bool
	creds       domain.Credentials
	page        driven.Page

	pendingRef string
}

// New creates a portal-automation adapter for the connector.
func New(connectorID string, cfg *Config, pages driven.PageFactory) *Adapter {
	return &Adapter{connectorID: connectorID, config: cfg, pages: pages}
}

// Type returns the connector family identifier.
func (a *Adapter) Type() string { return "browser" }

// ConnectorID returns the configured connector id.
func (a *Adapter) ConnectorID() string { return a.connectorID }

// Capabilities returns what this adapter supports.
func (a *Adapter) Capabilities() driven.AdapterCapabilities {
	return driven.AdapterCapabilities{PersistentSession: true}
}

// Initialize stores credentials for the login form. Only shape is
// checked; no page is acquired here.
func (a *Adapter) Initialize(creds domain.Credentials) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if creds.UserID == "" || creds.Secret == "" {
		return fmt.Errorf("%w: username and password are required", domain.ErrInvalidInput)
	}
	if a.config.LoginURL == "" || a.config.ActivityURL == "" {
		return fmt.Errorf("%w: login_url and activity_url are required", domain.ErrInvalidInput)
	}

	a.creds = creds
	a.initialized = true
	return nil
}

// Connect acquires the page and logs in. A warm browser profile that
// is already authenticated short-circuits to success without touching
// the login form.
func (a *Adapter) Connect(ctx context.Context) (*domain.ConnectResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return nil, domain.ErrNotInitialized
	}

	logger.Section("Portal Session")

	if a.page == nil {
		page, err := a.pages.Page(ctx, a.connectorID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
		}
		a.page = page
	}

	if err := a.page.Navigate(ctx, a.config.LoginURL); err != nil {
		a.releasePage()
		return nil, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	if ok, _ := a.anyVisible(ctx, a.config.Selectors.LoggedIn); ok {
		logger.Info("browser: warm profile already authenticated")
		return a.finishConnect(), nil
	}

	if err := a.fillFirst(ctx, a.config.Selectors.UsernameInput, a.creds.UserID); err != nil {
		a.releasePage()
		return nil, fmt.Errorf("%w: login form not found: %v", domain.ErrConnectionFailed, err)
	}
	if err := a.fillFirst(ctx, a.config.Selectors.PasswordInput, a.creds.Secret); err != nil {
		a.releasePage()
		return nil, fmt.Errorf("%w: password field not found: %v", domain.ErrConnectionFailed, err)
	}
	if err := a.clickFirst(ctx, a.config.Selectors.LoginSubmit); err != nil {
		a.releasePage()
		return nil, fmt.Errorf("%w: submit button not found: %v", domain.ErrConnectionFailed, err)
	}

	return a.awaitLoginOutcome(ctx)
}

// SubmitMFA fills the code (when one was given) and re-enters the
// outcome wait. Some portals chain two factors; a second challenge is
// surfaced as a fresh RequiresMFA result.
func (a *Adapter) SubmitMFA(ctx context.Context, code, reference string) (*domain.ConnectResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pendingRef == "" {
		return nil, domain.ErrNoPendingChallenge
	}
	if reference != "" && reference != a.pendingRef {
		return nil, fmt.Errorf("%w: unknown challenge reference", domain.ErrMFAInvalid)
	}

	if code != "" {
		if err := a.fillFirst(ctx, a.config.Selectors.MFAInput, code); err != nil {
			return nil, fmt.Errorf("%w: code input not found: %v", domain.ErrMFAInvalid, err)
		}
		if err := a.clickFirst(ctx, a.config.Selectors.MFASubmit); err != nil {
			return nil, fmt.Errorf("%w: code submit not found: %v", domain.ErrMFAInvalid, err)
		}
	}

	a.pendingRef = ""
	return a.awaitLoginOutcome(ctx)
}

// FetchTransactions scrapes the activity page. The logged-in indicator
// is re-checked first so a lost session reports as expired instead of
// an empty result indistinguishable from "no transactions".
func (a *Adapter) FetchTransactions(ctx context.Context, r domain.DateRange, accountID string) (*domain.FetchResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return nil, domain.ErrNotInitialized
	}
	if !a.connected || a.page == nil {
		return nil, domain.ErrNotConnected
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	url := a.config.ActivityURL
	if a.config.ActivityRangeURL != "" {
		url = strings.ReplaceAll(a.config.ActivityRangeURL, "{from}", r.Start.Format("2006-01-02"))
		url = strings.ReplaceAll(url, "{to}", r.End.Format("2006-01-02"))
	}
	if err := a.page.Navigate(ctx, url); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	if ok, _ := a.anyVisible(ctx, a.config.Selectors.LoggedIn); !ok {
		a.connected = false
		return nil, fmt.Errorf("%w: logged-in indicator gone before scrape", domain.ErrSessionExpired)
	}

	rows, err := a.scrapeAllPages(ctx)
	if err != nil {
		return nil, err
	}

	result := &domain.FetchResult{}
	for _, row := range rows {
		result.Stats.TotalRows++
		tx, err := a.canonical(row)
		if err != nil {
			result.Stats.Skipped++
			result.Stats.AddRowError(fmt.Sprintf("row %d: %v", result.Stats.TotalRows, err))
			continue
		}
		if !r.Contains(tx.Date) {
			result.Stats.Skipped++
			continue
		}
		tx.AccountID = accountID
		result.Transactions = append(result.Transactions, tx)
		result.Stats.Imported++
	}

	logger.Info("browser: scraped %d rows, %d in range", result.Stats.TotalRows, result.Stats.Imported)
	return result, nil
}

// FetchTransactionsWithMFA is the fetch-time continuation. Portal
// fetches are never challenge-gated once the session exists.
func (a *Adapter) FetchTransactionsWithMFA(ctx context.Context, code, reference string) (*domain.FetchResult, error) {
	return nil, domain.ErrNoPendingChallenge
}

// Disconnect releases the browser page and clears all held state.
// Idempotent.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.releasePage()
	a.connected = false
	a.pendingRef = ""
	a.creds.Secret = ""
	return nil
}

// IsConnected reports whether an authenticated session is held.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Accounts returns nil: portals expose no account discovery, the
// session itself scopes what is fetchable.
func (a *Adapter) Accounts() []domain.AccountInfo { return nil }

func (a *Adapter) finishConnect() *domain.ConnectResult {
	a.connected = true
	a.pendingRef = ""
	return &domain.ConnectResult{Connected: true}
}

// awaitLoginOutcome polls until the logged-in indicator or an MFA
// input appears, on a bounded jittered loop. Timeout is terminal and
// releases the page.
func (a *Adapter) awaitLoginOutcome(ctx context.Context) (*domain.ConnectResult, error) {
	out, err := a.waitOutcome(ctx)
	if err != nil {
		a.releasePage()
		a.connected = false
		a.pendingRef = ""
		return nil, err
	}

	if out == outcomeLoggedIn {
		logger.Info("browser: authenticated")
		return a.finishConnect(), nil
	}

	challenge := a.buildChallenge(ctx)
	logger.Info("browser: second factor required (%s)", challenge.Type)
	return &domain.ConnectResult{RequiresMFA: true, Challenge: challenge}, nil
}

func (a *Adapter) waitOutcome(ctx context.Context) (outcome, error) {
	deadline := time.Now().Add(a.config.Poll.Timeout)
	for {
		if ok, err := a.anyVisible(ctx, a.config.Selectors.LoggedIn); err != nil {
			return 0, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
		} else if ok {
			return outcomeLoggedIn, nil
		}
		if ok, _ := a.anyVisible(ctx, a.config.Selectors.MFAInput); ok {
			return outcomeMFA, nil
		}

		if time.Now().After(deadline) {
			return 0, fmt.Errorf("%w: no login outcome within %s", domain.ErrTimeout, a.config.Poll.Timeout)
		}
		if err := sleepJittered(ctx, a.config.Poll.Interval); err != nil {
			return 0, err
		}
	}
}

func (a *Adapter) buildChallenge(ctx context.Context) *domain.MFAChallenge {
	challenge := &domain.MFAChallenge{
		Type:      domain.MFATypeAppTAN,
		Message:   "Enter the code from your second factor",
		Reference: uuid.NewString(),
		ExpiresAt: time.Now().Add(domain.DefaultChallengeTTL),
	}

	if sel, ok, _ := a.firstVisible(ctx, a.config.Selectors.MFAImage); ok {
		if png, err := a.page.Screenshot(ctx, sel); err == nil {
			challenge.Type = domain.MFATypePhotoTAN
			challenge.ImagePNG = png
		}
	}

	a.pendingRef = challenge.Reference
	return challenge
}

type scrapedRow struct {
	date   string
	desc   string
	amount string
}

// scrapeAllPages reads the visible rows, then works the load-more
// button up to the iteration cap, stopping early when the row count
// stops growing.
func (a *Adapter) scrapeAllPages(ctx context.Context) ([]scrapedRow, error) {
	rows, err := a.scrapeVisible(ctx)
	if err != nil {
		return nil, err
	}

	for i := 0; i < maxPageIterations; i++ {
		sel, ok, _ := a.firstVisible(ctx, a.config.Selectors.LoadMore)
		if !ok {
			break
		}
		if err := a.page.Click(ctx, sel); err != nil {
			break
		}
		if err := sleepJittered(ctx, a.config.Poll.Interval); err != nil {
			return nil, err
		}

		more, err := a.scrapeVisible(ctx)
		if err != nil {
			return nil, err
		}
		if len(more) <= len(rows) {
			break
		}
		rows = more
	}
	return rows, nil
}

// scrapeVisible reads the three cell columns as parallel lists aligned
// by index. A length mismatch truncates to the shortest column.
func (a *Adapter) scrapeVisible(ctx context.Context) ([]scrapedRow, error) {
	dates, err := a.firstTextAll(ctx, a.config.Selectors.RowDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}
	descs, err := a.firstTextAll(ctx, a.config.Selectors.RowDescription)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}
	amounts, err := a.firstTextAll(ctx, a.config.Selectors.RowAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	n := len(dates)
	if len(descs) < n {
		n = len(descs)
	}
	if len(amounts) < n {
		n = len(amounts)
	}
	if n < len(dates) || n < len(descs) || n < len(amounts) {
		logger.Warn("browser: column lengths differ (%d/%d/%d), truncating",
			len(dates), len(descs), len(amounts))
	}

	rows := make([]scrapedRow, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, scrapedRow{date: dates[i], desc: descs[i], amount: amounts[i]})
	}
	return rows, nil
}

func (a *Adapter) canonical(row scrapedRow) (domain.FetchedTransaction, error) {
	var (
		date time.Time
		err  error
	)
	for _, layout := range dateLayouts {
		if date, err = time.Parse(layout, strings.TrimSpace(row.date)); err == nil {
			break
		}
	}
	if err != nil {
		return domain.FetchedTransaction{}, fmt.Errorf("unparseable date %q", row.date)
	}

	amount, err := money.ParseAmount(row.amount)
	if err != nil {
		return domain.FetchedTransaction{}, err
	}

	day := date.Format("2006-01-02")
	return domain.FetchedTransaction{
		ExternalID:  aggregate.StableID("browser:"+a.connectorID, day+"|"+fmt.Sprintf("%.2f", amount), row.desc),
		Date:        date,
		Description: row.desc,
		Amount:      amount,
		Raw:         map[string]any{"source": "browser", "date": row.date, "amount": row.amount},
	}, nil
}

// firstVisible returns the first alternative selector that matches a
// visible element.
func (a *Adapter) firstVisible(ctx context.Context, list SelectorList) (string, bool, error) {
	for _, sel := range list {
		ok, err := a.page.Visible(ctx, sel)
		if err != nil {
			return "", false, err
		}
		if ok {
			return sel, true, nil
		}
	}
	return "", false, nil
}

func (a *Adapter) anyVisible(ctx context.Context, list SelectorList) (bool, error) {
	_, ok, err := a.firstVisible(ctx, list)
	return ok, err
}

func (a *Adapter) fillFirst(ctx context.Context, list SelectorList, value string) error {
	sel, ok, err := a.firstVisible(ctx, list)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no alternative of %v is visible", list)
	}
	return a.page.Fill(ctx, sel, value)
}

func (a *Adapter) clickFirst(ctx context.Context, list SelectorList) error {
	sel, ok, err := a.firstVisible(ctx, list)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no alternative of %v is visible", list)
	}
	return a.page.Click(ctx, sel)
}

func (a *Adapter) firstTextAll(ctx context.Context, list SelectorList) ([]string, error) {
	for _, sel := range list {
		texts, err := a.page.TextAll(ctx, sel)
		if err != nil {
			return nil, err
		}
		if len(texts) > 0 {
			return texts, nil
		}
	}
	return nil, nil
}

func (a *Adapter) releasePage() {
	if a.page == nil {
		return
	}
	if err := a.pages.Release(a.connectorID); err != nil {
		logger.Warn("browser: page release failed: %v", err)
	}
	a.page = nil
}

// sleepJittered waits the base interval plus up to half of it again,
// or returns early when the context is cancelled.
func sleepJittered(ctx context.Context, base time.Duration) error {
	d := base + time.Duration(rand.Int63n(int64(base/2)+1))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
