package fints

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/bankfeed/internal/core/domain"
)

const (
	// DefaultTimeout is the HTTP request timeout for one dialog step.
	DefaultTimeout = 30 * time.Second

	// dialogInterval spaces consecutive dialog steps. Bank endpoints
	// throttle aggressively on bursts.
	dialogInterval = 500 * time.Millisecond
)

// dialogTransport exchanges one dialog message for its response.
// Implemented by the HTTP transport; tests substitute a scripted fake.
type dialogTransport interface {
	Exchange(ctx context.Context, msg *Message) (*Message, error)
}

// Client drives the dialog over HTTP with rate limiting and running
// message numbering.
type Client struct {
	httpClient *http.Client
	endpoint   string
	limiter    *rate.Limiter

	dialogID string
	msgNo    int
}

var _ dialogTransport = (*Client)(nil)

// NewClient creates a dialog client for the bank endpoint.
func NewClient(endpoint string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		endpoint:   endpoint,
		limiter:    rate.NewLimiter(rate.Every(dialogInterval), 1),
		dialogID:   "0", // bank assigns the real id on first response
	}
}

// Exchange sends one message and decodes the response, maintaining the
// dialog id and message number across the exchange.
func (c *Client) Exchange(ctx context.Context, msg *Message) (*Message, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("dialog rate limit wait: %w", err)
	}

	c.msgNo++
	msg.DialogID = c.dialogID
	msg.MsgNo = c.msgNo

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint,
		strings.NewReader(msg.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build dialog request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read dialog response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: endpoint returned %d", domain.ErrConnectionFailed, resp.StatusCode)
	}

	decoded, err := Decode(string(body))
	if err != nil {
		return nil, err
	}
	if decoded.DialogID != "" {
		c.dialogID = decoded.DialogID
	}
	return decoded, nil
}

// Reset clears dialog state so the next exchange starts a fresh dialog.
func (c *Client) Reset() {
	c.dialogID = "0"
	c.msgNo = 0
}
