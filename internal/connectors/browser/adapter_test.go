package browser

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/bankfeed/internal/core/domain"
	"github.com/custodia-labs/bankfeed/internal/core/ports/driven"
)

// fakePage is an in-memory DOM: selectors are visible or not, carry
// text, and clicks mutate state through hooks.
type fakePage struct {
	mu         sync.Mutex
	visible    map[string]bool
	texts      map[string][]string
	filled     map[string]string
	clicked    []string
	navigated  []string
	screenshot []byte
	closed     bool
	onClick    func(p *fakePage, selector string)
}

func newFakePage() *fakePage {
	return &fakePage{
		visible: map[string]bool{},
		texts:   map[string][]string{},
		filled:  map[string]string{},
	}
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	return nil
}

func (p *fakePage) CurrentURL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.navigated) == 0 {
		return "", nil
	}
	return p.navigated[len(p.navigated)-1], nil
}

func (p *fakePage) Visible(_ context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible[selector], nil
}

func (p *fakePage) Fill(_ context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filled[selector] = value
	return nil
}

func (p *fakePage) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	hook := p.onClick
	p.clicked = append(p.clicked, selector)
	p.mu.Unlock()
	if hook != nil {
		hook(p, selector)
	}
	return nil
}

func (p *fakePage) Text(_ context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if texts := p.texts[selector]; len(texts) > 0 {
		return texts[0], nil
	}
	return "", nil
}

func (p *fakePage) TextAll(_ context.Context, selector string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.texts[selector]))
	copy(out, p.texts[selector])
	return out, nil
}

func (p *fakePage) Screenshot(context.Context, string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.screenshot, nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePage) set(selector string, visible bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visible[selector] = visible
}

type fakeFactory struct {
	mu       sync.Mutex
	page     *fakePage
	released int
}

func (f *fakeFactory) Page(context.Context, string) (driven.Page, error) {
	return f.page, nil
}

func (f *fakeFactory) Release(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
	f.page.Close()
	return nil
}

func testConfig() *Config {
	return &Config{
		LoginURL:    "https://portal.example/login",
		ActivityURL: "https://portal.example/activity",
		Selectors:   DefaultSelectors(),
		Poll:        driven.PollConfig{Timeout: 200 * time.Millisecond, Interval: 2 * time.Millisecond},
	}
}

func newTestAdapter(t *testing.T, cfg *Config, page *fakePage) (*Adapter, *fakeFactory) {
	t.Helper()
	factory := &fakeFactory{page: page}
	a := New("conn-1", cfg, factory)
	require.NoError(t, a.Initialize(domain.Credentials{UserID: "jane", Secret: "hunter2"}))
	return a, factory
}

func loginForm(page *fakePage) {
	page.set(`input[name="username"]`, true)
	page.set(`input[name="password"]`, true)
	page.set(`button[type="submit"]`, true)
}

func march2024() domain.DateRange {
	start, _ := time.Parse("2006-01-02", "2024-03-01")
	end, _ := time.Parse("2006-01-02", "2024-03-31")
	return domain.DateRange{Start: start, End: end}
}

func TestAdapter_Connect_WarmProfileFastPath(t *testing.T) {
	page := newFakePage()
	page.set(`#logout-link`, true)
	a, _ := newTestAdapter(t, testConfig(), page)

	result, err := a.Connect(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Connected)
	assert.True(t, a.IsConnected())
	assert.Empty(t, page.filled) // login form never touched
}

func TestAdapter_Connect_LoginThenMFAThenConnected(t *testing.T) {
	page := newFakePage()
	loginForm(page)
	page.onClick = func(p *fakePage, selector string) {
		switch selector {
		case `button[type="submit"]`:
			// The portal uses the autocomplete variant of the code
			// input, exercising the selector fallback.
			p.set(`input[autocomplete="one-time-code"]`, true)
		case `button[data-testid="mfa-submit"]`:
			p.set(`input[autocomplete="one-time-code"]`, false)
			p.set(`#logout-link`, true)
		}
	}
	page.set(`button[data-testid="mfa-submit"]`, true)
	a, _ := newTestAdapter(t, testConfig(), page)

	result, err := a.Connect(context.Background())
	require.NoError(t, err)
	require.True(t, result.RequiresMFA)
	require.NotNil(t, result.Challenge)
	assert.NotEmpty(t, result.Challenge.Reference)
	assert.False(t, a.IsConnected())
	assert.Equal(t, "jane", page.filled[`input[name="username"]`])
	assert.Equal(t, "hunter2", page.filled[`input[name="password"]`])

	resolved, err := a.SubmitMFA(context.Background(), "987654", result.Challenge.Reference)
	require.NoError(t, err)
	assert.True(t, resolved.Connected)
	assert.True(t, a.IsConnected())
	assert.Equal(t, "987654", page.filled[`input[autocomplete="one-time-code"]`])
}

func TestAdapter_Connect_PhotoTANAttachesImage(t *testing.T) {
	page := newFakePage()
	loginForm(page)
	page.screenshot = []byte{0x89, 'P', 'N', 'G'}
	page.onClick = func(p *fakePage, selector string) {
		if selector == `button[type="submit"]` {
			p.set(`input[name="tan"]`, true)
			p.set(`img.photo-tan`, true)
		}
	}
	a, _ := newTestAdapter(t, testConfig(), page)

	result, err := a.Connect(context.Background())
	require.NoError(t, err)
	require.True(t, result.RequiresMFA)
	assert.Equal(t, domain.MFATypePhotoTAN, result.Challenge.Type)
	assert.NotEmpty(t, result.Challenge.ImagePNG)
}

func TestAdapter_SubmitMFA_ChainedSecondFactor(t *testing.T) {
	page := newFakePage()
	loginForm(page)
	page.set(`form.mfa button[type="submit"]`, true)
	submits := 0
	page.onClick = func(p *fakePage, selector string) {
		switch selector {
		case `button[type="submit"]`:
			p.set(`input[name="tan"]`, true)
		case `form.mfa button[type="submit"]`:
			submits++
			p.set(`input[name="tan"]`, false)
			if submits == 1 {
				p.set(`input[name="otp"]`, true) // the portal chains a second factor
			} else {
				p.set(`input[name="otp"]`, false)
				p.set(`#logout-link`, true)
			}
		}
	}
	a, _ := newTestAdapter(t, testConfig(), page)

	first, err := a.Connect(context.Background())
	require.NoError(t, err)
	require.True(t, first.RequiresMFA)

	second, err := a.SubmitMFA(context.Background(), "111111", first.Challenge.Reference)
	require.NoError(t, err)
	require.True(t, second.RequiresMFA)
	assert.NotEqual(t, first.Challenge.Reference, second.Challenge.Reference)

	final, err := a.SubmitMFA(context.Background(), "222222", second.Challenge.Reference)
	require.NoError(t, err)
	assert.True(t, final.Connected)
}

func TestAdapter_Connect_TimeoutReleasesPage(t *testing.T) {
	page := newFakePage()
	loginForm(page) // after submit nothing ever appears
	a, factory := newTestAdapter(t, testConfig(), page)

	_, err := a.Connect(context.Background())
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.False(t, a.IsConnected())
	assert.Equal(t, 1, factory.released)
}

func TestAdapter_SubmitMFA_NoPendingChallenge(t *testing.T) {
	page := newFakePage()
	a, _ := newTestAdapter(t, testConfig(), page)

	_, err := a.SubmitMFA(context.Background(), "123456", "ref")
	assert.ErrorIs(t, err, domain.ErrNoPendingChallenge)
}

func activityRows(page *fakePage, dates, descs, amounts []string) {
	page.mu.Lock()
	defer page.mu.Unlock()
	page.texts[`.transaction-row .date`] = dates
	page.texts[`.transaction-row .description`] = descs
	page.texts[`.transaction-row .amount`] = amounts
}

func TestAdapter_Fetch_ScrapesAndFiltersRange(t *testing.T) {
	page := newFakePage()
	page.set(`#logout-link`, true)
	activityRows(page,
		[]string{"2024-03-05", "2024-03-12", "2024-05-01", "soon"},
		[]string{"Groceries", "Refund", "Out of range", "Broken"},
		[]string{"-12,34", "5,00", "-1,00", "-1,00"})
	a, _ := newTestAdapter(t, testConfig(), page)

	_, err := a.Connect(context.Background())
	require.NoError(t, err)

	result, err := a.FetchTransactions(context.Background(), march2024(), "acct-1")
	require.NoError(t, err)

	require.Len(t, result.Transactions, 2)
	assert.InDelta(t, -12.34, result.Transactions[0].Amount, 0.001)
	assert.InDelta(t, 5.00, result.Transactions[1].Amount, 0.001)
	assert.Equal(t, "acct-1", result.Transactions[0].AccountID)
	assert.Equal(t, 4, result.Stats.TotalRows)
	assert.Equal(t, 2, result.Stats.Imported)
	assert.Equal(t, 2, result.Stats.Skipped)
	require.Len(t, result.Stats.RowErrors, 1)
	assert.Contains(t, result.Stats.RowErrors[0], "soon")
}

func TestAdapter_Fetch_StableIDsAcrossFetches(t *testing.T) {
	page := newFakePage()
	page.set(`#logout-link`, true)
	activityRows(page, []string{"2024-03-05"}, []string{"Groceries"}, []string{"-12,34"})
	a, _ := newTestAdapter(t, testConfig(), page)

	_, err := a.Connect(context.Background())
	require.NoError(t, err)

	first, err := a.FetchTransactions(context.Background(), march2024(), "")
	require.NoError(t, err)
	second, err := a.FetchTransactions(context.Background(), march2024(), "")
	require.NoError(t, err)

	assert.Equal(t, first.Transactions[0].ExternalID, second.Transactions[0].ExternalID)
}

func TestAdapter_Fetch_RangeURLFastPath(t *testing.T) {
	page := newFakePage()
	page.set(`#logout-link`, true)
	activityRows(page, []string{"2024-03-05"}, []string{"Groceries"}, []string{"-12,34"})
	cfg := testConfig()
	cfg.ActivityRangeURL = "https://portal.example/activity?from={from}&to={to}"
	a, _ := newTestAdapter(t, cfg, page)

	_, err := a.Connect(context.Background())
	require.NoError(t, err)

	_, err = a.FetchTransactions(context.Background(), march2024(), "")
	require.NoError(t, err)

	assert.Contains(t, page.navigated,
		"https://portal.example/activity?from=2024-03-01&to=2024-03-31")
}

func TestAdapter_Fetch_PaginationLoadsMore(t *testing.T) {
	page := newFakePage()
	page.set(`#logout-link`, true)
	page.set(`button.load-more`, true)
	activityRows(page,
		[]string{"2024-03-05", "2024-03-06"},
		[]string{"One", "Two"},
		[]string{"-1,00", "-2,00"})
	page.onClick = func(p *fakePage, selector string) {
		if selector == `button.load-more` {
			activityRows(p,
				[]string{"2024-03-05", "2024-03-06", "2024-03-07"},
				[]string{"One", "Two", "Three"},
				[]string{"-1,00", "-2,00", "-3,00"})
			p.set(`button.load-more`, false)
		}
	}
	a, _ := newTestAdapter(t, testConfig(), page)

	_, err := a.Connect(context.Background())
	require.NoError(t, err)

	result, err := a.FetchTransactions(context.Background(), march2024(), "")
	require.NoError(t, err)
	assert.Len(t, result.Transactions, 3)
}

func TestAdapter_Fetch_PaginationStopsWhenNothingGrows(t *testing.T) {
	page := newFakePage()
	page.set(`#logout-link`, true)
	page.set(`button.load-more`, true) // button never disappears, rows never grow
	activityRows(page, []string{"2024-03-05"}, []string{"One"}, []string{"-1,00"})
	a, _ := newTestAdapter(t, testConfig(), page)

	_, err := a.Connect(context.Background())
	require.NoError(t, err)

	result, err := a.FetchTransactions(context.Background(), march2024(), "")
	require.NoError(t, err)
	assert.Len(t, result.Transactions, 1)

	clicks := 0
	for _, sel := range page.clicked {
		if sel == `button.load-more` {
			clicks++
		}
	}
	assert.Equal(t, 1, clicks) // one probe, no growth, loop ends
}

func TestAdapter_Fetch_SessionLossIsExpiredNotEmpty(t *testing.T) {
	page := newFakePage()
	page.set(`#logout-link`, true)
	a, factory := newTestAdapter(t, testConfig(), page)

	_, err := a.Connect(context.Background())
	require.NoError(t, err)

	page.set(`#logout-link`, false)
	_, err = a.FetchTransactions(context.Background(), march2024(), "")
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
	assert.False(t, a.IsConnected())
	assert.Equal(t, 0, factory.released) // page survives for a reconnect
}

func TestAdapter_Disconnect_ReleasesPage(t *testing.T) {
	page := newFakePage()
	page.set(`#logout-link`, true)
	a, factory := newTestAdapter(t, testConfig(), page)

	_, err := a.Connect(context.Background())
	require.NoError(t, err)

	require.NoError(t, a.Disconnect(context.Background()))
	assert.False(t, a.IsConnected())
	assert.Equal(t, 1, factory.released)
	assert.Empty(t, a.creds.Secret)

	require.NoError(t, a.Disconnect(context.Background()))
	assert.Equal(t, 1, factory.released)
}
