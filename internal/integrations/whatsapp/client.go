// Package whatsapp sends messages through the WhatsApp Cloud API and
// decodes its webhook deliveries into channel events.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"courier-dispatch/internal/channel"
)

const defaultBaseURL = "https://graph.facebook.com/v19.0"

// TokenSource supplies the Cloud API access token.
type TokenSource interface {
	Value(ctx context.Context) (string, error)
}

// HTTPStatusError is a non-2xx response from the Graph API.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("whatsapp: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// Temporary reports whether the request may succeed if repeated.
func (e *HTTPStatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Client implements channel.Sender for one business phone number.
type Client struct {
	baseURL    string
	phoneID    string
	httpClient *http.Client
	token      TokenSource
	limiter    *rate.Limiter
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRateLimit caps outbound messages per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithBackOff sets the retry policy for temporary failures.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *Client) {
		c.newBackOff = newBackOff
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func NewClient(token TokenSource, phoneID string, opts ...Option) (*Client, error) {
	if token == nil {
		return nil, errors.New("whatsapp: token source must not be nil")
	}
	phoneID = strings.TrimSpace(phoneID)
	if phoneID == "" {
		return nil, errors.New("whatsapp: phone number id must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		phoneID:    phoneID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		token:      token,
		limiter:    rate.NewLimiter(rate.Limit(20), 20),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 15 * time.Second
			return b
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) messagesURL() string {
	return c.baseURL + "/" + c.phoneID + "/messages"
}

// Send delivers content and returns the WhatsApp message id. Rate limited
// and temporary failures are retried; every failure wraps
// channel.ErrSendFailed.
func (c *Client) Send(ctx context.Context, to string, content channel.Content) (string, error) {
	msg, err := encode(to, content)
	if err != nil {
		return "", fmt.Errorf("%w: %w", channel.ErrSendFailed, err)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("%w: whatsapp: marshal message: %w", channel.ErrSendFailed, err)
	}
	token, err := c.token.Value(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: whatsapp: resolve token: %w", channel.ErrSendFailed, err)
	}

	var id string
	attempt := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		raw, err := c.post(ctx, token, body)
		if err != nil {
			var se *HTTPStatusError
			if errors.As(err, &se) && !se.Temporary() {
				return backoff.Permanent(err)
			}
			return err
		}
		var out sendResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("whatsapp: decode response: %w", err))
		}
		if len(out.Messages) == 0 || out.Messages[0].ID == "" {
			return backoff.Permanent(errors.New("whatsapp: response carries no message id"))
		}
		id = out.Messages[0].ID
		return nil
	}
	retry := func(err error, wait time.Duration) {
		c.logger.Warn("retrying whatsapp send", "counterparty", to, "wait", wait, "err", err)
	}
	if err := backoff.RetryNotify(attempt, backoff.WithContext(c.newBackOff(), ctx), retry); err != nil {
		return "", fmt.Errorf("%w: %w", channel.ErrSendFailed, err)
	}
	return id, nil
}

func (c *Client) post(ctx context.Context, token string, body []byte) ([]byte, error) {
	url := c.messagesURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: read response body: %w", err)
	}
	return buf, nil
}
