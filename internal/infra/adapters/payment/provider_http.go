package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"daraja-payments/internal/domain"
	"daraja-payments/internal/domain/ports/repository"
	"daraja-payments/internal/infra/metrics"
)

// tokenSafetyMargin is subtracted from a provider token lifetime before caching.
const tokenSafetyMargin = 60 * time.Second

const maxResponseBytes = 1 << 20

// providerCall is one outbound JSON request.
type providerCall struct {
	provider string
	op       string
	method   string
	url      string
	header   http.Header
	body     any // marshalled as JSON when not nil and not io.Reader
}

// do sends the call and returns the status code with the raw body. Transport
// failures wrap domain.ErrProviderRequest.
func do(ctx context.Context, client *http.Client, c providerCall) (int, []byte, error) {
	start := time.Now()
	var reader io.Reader
	switch b := c.body.(type) {
	case nil:
	case io.Reader:
		reader = b
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: encode %s body: %v", domain.ErrProviderRequest, c.op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, c.url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: build %s request: %v", domain.ErrProviderRequest, c.op, err)
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	if reader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		metrics.ObserveProviderCall(c.provider, c.op, "request_error", start)
		return 0, nil, fmt.Errorf("%w: %s %s: %v", domain.ErrProviderRequest, c.provider, c.op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.ObserveProviderCall(c.provider, c.op, "request_error", start)
		return resp.StatusCode, nil, fmt.Errorf("%w: %s %s: read body: %v", domain.ErrProviderRequest, c.provider, c.op, err)
	}

	result := "ok"
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		result = "auth_error"
	case resp.StatusCode >= 400:
		result = "request_error"
	}
	metrics.ObserveProviderCall(c.provider, c.op, result, start)
	return resp.StatusCode, body, nil
}

// tokenSource fetches and caches a provider OAuth token.
type tokenSource struct {
	cache repository.KeyValueStore // optional
	key   string
	fetch func(ctx context.Context) (token string, ttl time.Duration, err error)
}

func (s tokenSource) token(ctx context.Context) (string, error) {
	if s.cache != nil {
		if v, found, err := s.cache.Get(ctx, s.key); err == nil && found && v != "" {
			metrics.IncCacheRequest(s.key, "hit")
			return v, nil
		}
		metrics.IncCacheRequest(s.key, "miss")
	}
	tok, ttl, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	if s.cache != nil && ttl > tokenSafetyMargin {
		_ = s.cache.Set(ctx, s.key, tok, ttl-tokenSafetyMargin)
	}
	return tok, nil
}

func (s tokenSource) invalidate(ctx context.Context) {
	if s.cache != nil {
		_ = s.cache.Evict(ctx, s.key)
	}
}

// parseSeconds reads a lifetime that providers send either as a number or a string.
func parseSeconds(n json.Number) time.Duration {
	if n == "" {
		return 0
	}
	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return 0
	}
	return time.Duration(v) * time.Second
}
