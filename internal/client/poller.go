// Package client is the caller side of the payment API: it starts upgrades and
// polls their status until the provider has answered.
package client

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

	"github.com/rs/zerolog"

	"daraja-payments/internal/domain"
	"daraja-payments/internal/domain/model"
	"daraja-payments/internal/usecase"
)

const (
	DefaultPollInterval = 4 * time.Second
	DefaultMaxAttempts  = 30
)

// StatusFetcher returns the current view of a payment.
type StatusFetcher interface {
	PaymentStatus(ctx context.Context, paymentID string) (*usecase.PaymentView, error)
}

// Poller asks for a payment's status every Interval until it is terminal.
// Running out of attempts yields ErrPollTimeout, never a failed payment.
type Poller struct {
	Fetcher     StatusFetcher
	Interval    time.Duration
	MaxAttempts int
	Log         *zerolog.Logger

	// OnTick observes every non-terminal answer.
	OnTick func(attempt int, view *usecase.PaymentView)
}

func NewPoller(f StatusFetcher, logger *zerolog.Logger) *Poller {
	return &Poller{Fetcher: f, Interval: DefaultPollInterval, MaxAttempts: DefaultMaxAttempts, Log: logger}
}

func (p *Poller) Wait(ctx context.Context, paymentID string) (*usecase.PaymentView, error) {
	interval, attempts := p.Interval, p.MaxAttempts
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 1; i <= attempts; i++ {
		view, err := p.Fetcher.PaymentStatus(ctx, paymentID)
		switch {
		case err == nil && view.Status.Terminal():
			return view, nil
		case err == nil:
			if p.OnTick != nil {
				p.OnTick(i, view)
			}
		case isPermanent(err):
			return nil, err
		default:
			// transient errors count as an attempt
			if p.Log != nil {
				p.Log.Debug().Err(err).Int("attempt", i).Str("payment_id", paymentID).Msg("status poll failed")
			}
		}

		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
	return nil, domain.ErrPollTimeout
}

func isPermanent(err error) bool {
	for _, target := range []error{domain.ErrNotAuthenticated, domain.ErrNotAuthorized, domain.ErrPaymentNotFound, domain.ErrInvalidArgument} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// HTTPClient calls the payment API with a bearer token.
type HTTPClient struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type apiError struct {
	Error string `json:"error"`
}

// InitiateMpesa starts an STK push for tier and returns the new payment id.
func (c *HTTPClient) InitiateMpesa(ctx context.Context, tier model.Tier, phone string) (paymentID, message string, err error) {
	var out struct {
		PaymentID       string `json:"paymentId"`
		CustomerMessage string `json:"customerMessage"`
	}
	body := map[string]string{"tier": string(tier), "phoneNumber": phone}
	if err := c.do(ctx, http.MethodPost, "/api/payments/mpesa/initiate", body, &out); err != nil {
		return "", "", err
	}
	return out.PaymentID, out.CustomerMessage, nil
}

func (c *HTTPClient) PaymentStatus(ctx context.Context, paymentID string) (*usecase.PaymentView, error) {
	var out usecase.PaymentView
	path := "/api/payments/mpesa/status?paymentId=" + url.QueryEscape(paymentID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out.Status == "" {
		return nil, fmt.Errorf("%w: status response without a status", domain.ErrOperationFailed)
	}
	return &out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var rd io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		rd = strings.NewReader(string(raw))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var e apiError
		_ = json.Unmarshal(raw, &e)
		return statusError(resp.StatusCode, e.Error)
	}
	return json.Unmarshal(raw, out)
}

// statusError maps an API status code back onto the domain sentinel.
func statusError(code int, msg string) error {
	var base error
	switch code {
	case http.StatusUnauthorized:
		base = domain.ErrNotAuthenticated
	case http.StatusForbidden:
		base = domain.ErrNotAuthorized
	case http.StatusNotFound:
		base = domain.ErrPaymentNotFound
	case http.StatusBadRequest:
		base = domain.ErrInvalidArgument
	case http.StatusConflict:
		base = domain.ErrAlreadyCompleted
	case http.StatusTooManyRequests:
		base = domain.ErrRateLimited
	case http.StatusBadGateway:
		base = domain.ErrProviderRequest
	default:
		base = domain.ErrOperationFailed
	}
	if msg == "" {
		return fmt.Errorf("%w (HTTP %d)", base, code)
	}
	return fmt.Errorf("%w: %s (HTTP %d)", base, msg, code)
}
