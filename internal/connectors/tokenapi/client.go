// Package tokenapi implements the mobile-bank-style API adapter: an
// OAuth-like password grant against a token endpoint, with asynchronous
// MFA resolved through continuation grants, and bearer-authenticated
// REST calls for accounts and transactions.
package tokenapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/custodia-labs/bankfeed/internal/core/domain"
)

const (
	grantPassword = "password"
	// grantOTP submits a numeric one-time code the user typed in.
	grantOTP = "mfa_otp"
	// grantOOB polls an out-of-band confirmation (push approval).
	grantOOB     = "mfa_oob"
	grantRefresh = "refresh_token"
)

// errAuthorizationPending marks an out-of-band poll where the user has
// not confirmed yet. Not a failure; the caller re-polls.
var errAuthorizationPending = errors.New("authorization pending")

// tokenResponse is the token endpoint's reply. Exactly one of the two
// shapes is populated: a granted token, or an MFA continuation.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`

	MFAToken string `json:"mfa_token"`
	MFAType  string `json:"mfa_type"`
	Message  string `json:"message"`
}

// HasToken reports whether the endpoint granted an access token.
func (r *tokenResponse) HasToken() bool { return r.AccessToken != "" }

type apiError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *apiError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return e.Code
}

type apiAccount struct {
	ID       string `json:"id"`
	IBAN     string `json:"iban"`
	BIC      string `json:"bic"`
	Type     string `json:"type"`
	Currency string `json:"currency"`
	Owner    string `json:"owner"`
}

type apiTransaction struct {
	ID          string `json:"id"`
	BookingDate string `json:"booking_date"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	Beneficiary string `json:"beneficiary"`
}

// Client speaks the token endpoint's HTTP contract. It is stateless;
// the adapter owns tokens and session lifecycle.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
}

// DefaultTimeout bounds a single HTTP round trip.
const DefaultTimeout = 30 * time.Second

// NewClient creates a token-endpoint client for the API base URL.
func NewClient(baseURL, clientID string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		clientID:   clientID,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// RequestToken runs the password grant.
func (c *Client) RequestToken(ctx context.Context, username, password string) (*tokenResponse, error) {
	return c.tokenCall(ctx, url.Values{
		"grant_type": {grantPassword},
		"username":   {username},
		"password":   {password},
	})
}

// SubmitOTP resolves an MFA continuation with a typed-in code.
func (c *Client) SubmitOTP(ctx context.Context, mfaToken, code string) (*tokenResponse, error) {
	return c.tokenCall(ctx, url.Values{
		"grant_type": {grantOTP},
		"mfa_token":  {mfaToken},
		"otp":        {code},
	})
}

// PollOOB polls an out-of-band (push) confirmation. Returns
// errAuthorizationPending while the user has not confirmed.
func (c *Client) PollOOB(ctx context.Context, mfaToken string) (*tokenResponse, error) {
	return c.tokenCall(ctx, url.Values{
		"grant_type": {grantOOB},
		"mfa_token":  {mfaToken},
	})
}

// Refresh exchanges a refresh token for a fresh access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*tokenResponse, error) {
	return c.tokenCall(ctx, url.Values{
		"grant_type":    {grantRefresh},
		"refresh_token": {refreshToken},
	})
}

// Revoke invalidates the session server-side. Best effort.
func (c *Client) Revoke(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/revoke", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Accounts lists the accounts reachable with the token.
func (c *Client) Accounts(ctx context.Context, accessToken string) ([]apiAccount, error) {
	var out []apiAccount
	if err := c.getJSON(ctx, accessToken, "/accounts", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Transactions fetches the booked transactions of an account for the
// inclusive date range.
func (c *Client) Transactions(ctx context.Context, accessToken, accountID string, r domain.DateRange) ([]apiTransaction, error) {
	path := fmt.Sprintf("/accounts/%s/transactions?from=%s&to=%s",
		url.PathEscape(accountID),
		r.Start.Format("2006-01-02"),
		r.End.Format("2006-01-02"))
	var out []apiTransaction
	if err := c.getJSON(ctx, accessToken, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) tokenCall(ctx context.Context, form url.Values) (*tokenResponse, error) {
	form.Set("client_id", c.clientID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != "" {
			return nil, mapTokenError(&apiErr)
		}
		return nil, fmt.Errorf("%w: token endpoint returned %d", domain.ErrConnectionFailed, resp.StatusCode)
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("%w: malformed token response: %v", domain.ErrConnectionFailed, err)
	}
	return &token, nil
}

func (c *Client) getJSON(ctx context.Context, accessToken, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: bearer token rejected", domain.ErrSessionExpired)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: API returned %d for %s", domain.ErrConnectionFailed, resp.StatusCode, path)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// mapTokenError translates the endpoint's error vocabulary into domain
// errors. authorization_pending stays a control-flow signal.
func mapTokenError(apiErr *apiError) error {
	switch apiErr.Code {
	case "authorization_pending":
		return errAuthorizationPending
	case "invalid_grant", "invalid_otp":
		return fmt.Errorf("%w: %s", domain.ErrMFAInvalid, apiErr.Error())
	case "expired_token", "expired_mfa_token":
		return fmt.Errorf("%w: %s", domain.ErrMFAExpired, apiErr.Error())
	case "invalid_credentials", "access_denied":
		return fmt.Errorf("%w: %s", domain.ErrConnectionFailed, apiErr.Error())
	}
	return fmt.Errorf("%w: %s", domain.ErrConnectionFailed, apiErr.Error())
}
