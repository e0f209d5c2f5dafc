package fints

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/bankfeed/internal/core/domain"
)

// fakeTransport replays scripted responses and records every request.
type fakeTransport struct {
	responses []*Message
	requests  []*Message
}

func (f *fakeTransport) Exchange(_ context.Context, msg *Message) (*Message, error) {
	f.requests = append(f.requests, msg)
	if len(f.responses) == 0 {
		return &Message{}, nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func ok(extra ...Segment) *Message {
	return &Message{Segments: append([]Segment{
		{Name: "HIRMG", Fields: []string{"0010::Auftrag ausgeführt"}},
	}, extra...)}
}

func syncOK() *Message {
	return ok(
		Segment{Name: "HITANS", Fields: []string{"921;pushTAN 2.0;J;N"}},
		Segment{Name: "HIRMS", Fields: []string{"3920::Zugelassene Verfahren:921"}},
		Segment{Name: "HIUPD", Fields: []string{"123456;DE02100100100006820101;PBNKDEFF;checking;EUR;Jane Doe"}},
	)
}

func tanChallenge(ref, text string) *Message {
	return &Message{Segments: []Segment{
		{Name: "HIRMG", Fields: []string{"0030::Sicherheitsfreigabe erforderlich"}},
		{Name: "HITANS", Fields: []string{"921;pushTAN 2.0;J;N"}},
		{Name: "HIRMS", Fields: []string{"3920::Zugelassene Verfahren:921"}},
		{Name: "HITAN", Fields: []string{ref, text}},
	}}
}

func stillPendingResp() *Message {
	return &Message{Segments: []Segment{
		{Name: "HIRMG", Fields: []string{"3956::Auftrag noch nicht freigegeben"}},
	}}
}

func newTestAdapter(t *testing.T, transport *fakeTransport) *Adapter {
	t.Helper()
	a := newWithTransport("conn-1", ConfigFromMap(map[string]string{
		"endpoint": "https://bank.example/dialog",
	}), transport)
	require.NoError(t, a.Initialize(domain.Credentials{
		UserID:   "jane",
		Secret:   "1234",
		BankCode: "10010010",
	}))
	return a
}

func TestAdapter_Initialize_Validation(t *testing.T) {
	a := newWithTransport("conn-1", ConfigFromMap(map[string]string{"endpoint": "x"}), &fakeTransport{})

	err := a.Initialize(domain.Credentials{UserID: "jane", Secret: "1234"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput) // missing bank code

	err = a.Initialize(domain.Credentials{UserID: "jane", BankCode: "1"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput) // missing secret
}

func TestAdapter_Connect_BeforeInitialize(t *testing.T) {
	a := newWithTransport("conn-1", ConfigFromMap(nil), &fakeTransport{})

	_, err := a.Connect(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestAdapter_Connect_ImmediateSuccess(t *testing.T) {
	transport := &fakeTransport{responses: []*Message{syncOK()}}
	a := newTestAdapter(t, transport)

	result, err := a.Connect(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Connected)
	assert.True(t, a.IsConnected())
	require.Len(t, result.Accounts, 1)
	assert.Equal(t, "DE02100100100006820101", result.Accounts[0].IBAN)
	assert.Equal(t, "Jane Doe", result.Accounts[0].Owner)
}

func TestAdapter_Reconnect_DoesNotDuplicateAccounts(t *testing.T) {
	transport := &fakeTransport{responses: []*Message{syncOK(), ok(), syncOK()}}
	a := newTestAdapter(t, transport)
	ctx := context.Background()

	_, err := a.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Disconnect(ctx))

	// The second handshake rediscovers the same account; the list must
	// not grow.
	result, err := a.Connect(ctx)
	require.NoError(t, err)
	require.Len(t, result.Accounts, 1)
	assert.Len(t, a.Accounts(), 1)
}

func TestAdapter_Connect_ChallengeThenSuccess(t *testing.T) {
	transport := &fakeTransport{responses: []*Message{
		tanChallenge("ref-1", "Bitte in Ihrer App bestätigen"),
		ok(),
	}}
	a := newTestAdapter(t, transport)

	result, err := a.Connect(context.Background())
	require.NoError(t, err)
	require.True(t, result.RequiresMFA)
	require.NotNil(t, result.Challenge)
	assert.True(t, result.Challenge.Decoupled)
	assert.Equal(t, "ref-1", result.Challenge.Reference)
	assert.False(t, a.IsConnected())

	resolved, err := a.SubmitMFA(context.Background(), "", "ref-1")
	require.NoError(t, err)
	assert.True(t, resolved.Connected)
	assert.True(t, a.IsConnected())
}

func TestAdapter_Connect_MediaSelectionPhaseTracksPending(t *testing.T) {
	// chipTAN needs media selection: after the first-phase TAN the
	// adapter must continue with HKTAB, not restart the handshake.
	transport := &fakeTransport{responses: []*Message{
		{Segments: []Segment{
			{Name: "HIRMG", Fields: []string{"0030::Sicherheitsfreigabe erforderlich"}},
			{Name: "HITANS", Fields: []string{"910;chipTAN manuell;N;J"}},
			{Name: "HIRMS", Fields: []string{"3920::Zugelassene Verfahren:910"}},
			{Name: "HITAN", Fields: []string{"ref-1", "Bitte TAN eingeben"}},
		}},
		ok(), // HKTAN for phase one
		tanChallenge("ref-2", "Bitte TAN eingeben"), // HKTAB raises its own challenge
		ok(), // HKTAN for media phase
	}}
	a := newTestAdapter(t, transport)

	result, err := a.Connect(context.Background())
	require.NoError(t, err)
	require.True(t, result.RequiresMFA)

	second, err := a.SubmitMFA(context.Background(), "111111", "ref-1")
	require.NoError(t, err)
	require.True(t, second.RequiresMFA)
	assert.Equal(t, "ref-2", second.Challenge.Reference)

	final, err := a.SubmitMFA(context.Background(), "222222", "ref-2")
	require.NoError(t, err)
	assert.True(t, final.Connected)

	// Request order proves the handshake resumed rather than restarted.
	var names []string
	for _, req := range transport.requests {
		names = append(names, req.Segments[0].Name)
	}
	assert.Equal(t, []string{"HKIDN", "HKTAN", "HKTAB", "HKTAN"}, names)
}

func TestAdapter_SubmitMFA_NoPendingChallenge(t *testing.T) {
	transport := &fakeTransport{responses: []*Message{syncOK()}}
	a := newTestAdapter(t, transport)

	_, err := a.SubmitMFA(context.Background(), "123456", "")
	assert.ErrorIs(t, err, domain.ErrNoPendingChallenge)
	assert.False(t, a.IsConnected())
	assert.Empty(t, transport.requests) // nothing was sent
}

func TestAdapter_SubmitMFA_DecoupledStillPendingLoop(t *testing.T) {
	transport := &fakeTransport{responses: []*Message{
		tanChallenge("ref-1", "Bitte in Ihrer App bestätigen"),
		stillPendingResp(),
		stillPendingResp(),
		ok(),
	}}
	a := newTestAdapter(t, transport)

	result, err := a.Connect(context.Background())
	require.NoError(t, err)
	require.True(t, result.RequiresMFA)

	// Two "still pending" polls keep the same challenge active.
	for i := 0; i < 2; i++ {
		poll, err := a.SubmitMFA(context.Background(), "", "ref-1")
		require.NoError(t, err)
		assert.True(t, poll.RequiresMFA)
		assert.Equal(t, "ref-1", poll.Challenge.Reference)
		assert.Contains(t, poll.Challenge.Message, "nicht freigegeben")
		assert.False(t, a.IsConnected())
	}

	// Eventual confirmation connects directly.
	final, err := a.SubmitMFA(context.Background(), "", "ref-1")
	require.NoError(t, err)
	assert.True(t, final.Connected)
	assert.True(t, a.IsConnected())
}

func TestAdapter_SubmitMFA_InvalidTANKeepsChallenge(t *testing.T) {
	transport := &fakeTransport{responses: []*Message{
		tanChallenge("ref-1", "TAN eingeben"),
		{Segments: []Segment{{Name: "HIRMG", Fields: []string{"9941::TAN ungültig"}}}},
		ok(),
	}}
	a := newTestAdapter(t, transport)

	_, err := a.Connect(context.Background())
	require.NoError(t, err)

	_, err = a.SubmitMFA(context.Background(), "000000", "ref-1")
	assert.ErrorIs(t, err, domain.ErrMFAInvalid)

	// A retry with the right TAN still succeeds.
	final, err := a.SubmitMFA(context.Background(), "123456", "ref-1")
	require.NoError(t, err)
	assert.True(t, final.Connected)
}

func statementPayload(t *testing.T) string {
	t.Helper()
	data := "DATE:2024-03-21|AMT:-12,34|CUR:EUR|NAME:ACME GmbH|SVWZ:Invoice 42|EREF:E1\n" +
		"DATE:2024-03-22|AMT:250,00|CUR:EUR|NAME:Employer|SVWZ:Salary|EREF:E2"
	return base64.StdEncoding.EncodeToString([]byte(data))
}

func TestAdapter_Fetch_RequiresConnection(t *testing.T) {
	a := newTestAdapter(t, &fakeTransport{})

	_, err := a.FetchTransactions(context.Background(), march2024(), "123456")
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestAdapter_Fetch_Success(t *testing.T) {
	transport := &fakeTransport{responses: []*Message{
		syncOK(),
		ok(Segment{Name: "HIKAZ", Fields: []string{statementPayload(t)}}),
	}}
	a := newTestAdapter(t, transport)

	_, err := a.Connect(context.Background())
	require.NoError(t, err)

	result, err := a.FetchTransactions(context.Background(), march2024(), "123456")
	require.NoError(t, err)

	require.Len(t, result.Transactions, 2)
	assert.Equal(t, "123456", result.Transactions[0].AccountID)
	assert.InDelta(t, -12.34, result.Transactions[0].Amount, 0.001)
}

func TestAdapter_Fetch_TANGatedThenResumed(t *testing.T) {
	transport := &fakeTransport{responses: []*Message{
		syncOK(),
		tanChallenge("fetch-ref", "Freigabe in Ihrer App erforderlich"),
		ok(Segment{Name: "HIKAZ", Fields: []string{statementPayload(t)}}),
	}}
	a := newTestAdapter(t, transport)

	_, err := a.Connect(context.Background())
	require.NoError(t, err)

	paused, err := a.FetchTransactions(context.Background(), march2024(), "123456")
	require.NoError(t, err)
	require.True(t, paused.RequiresMFA)
	assert.Empty(t, paused.Transactions)
	assert.True(t, a.IsConnected()) // login survives a fetch-time TAN

	resumed, err := a.FetchTransactionsWithMFA(context.Background(), "", "fetch-ref")
	require.NoError(t, err)
	assert.False(t, resumed.RequiresMFA)
	assert.Len(t, resumed.Transactions, 2)
}

func TestAdapter_FetchWithMFA_NoPending(t *testing.T) {
	a := newTestAdapter(t, &fakeTransport{})

	_, err := a.FetchTransactionsWithMFA(context.Background(), "123", "ref")
	assert.ErrorIs(t, err, domain.ErrNoPendingChallenge)
}

func TestAdapter_Disconnect_Idempotent(t *testing.T) {
	transport := &fakeTransport{responses: []*Message{syncOK(), ok()}}
	a := newTestAdapter(t, transport)

	_, err := a.Connect(context.Background())
	require.NoError(t, err)

	require.NoError(t, a.Disconnect(context.Background()))
	assert.False(t, a.IsConnected())
	require.NoError(t, a.Disconnect(context.Background()))

	// Secret is wiped with the session.
	assert.Empty(t, a.creds.Secret)
}

func mustDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func march2024() domain.DateRange {
	return domain.DateRange{
		Start: mustDate("2024-03-01"),
		End:   mustDate("2024-03-31"),
	}
}
