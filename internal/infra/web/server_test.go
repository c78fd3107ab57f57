//go:build !integration

package web

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"daraja-payments/internal/infra/api"
)

func TestAuthenticate(t *testing.T) {
	h := newHarness(t)

	t.Run("no credentials -> 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/payments/history", nil)
		rr := httptest.NewRecorder()
		h.handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("token signed with another secret -> 401", func(t *testing.T) {
		other, _ := NewAuthManager("some-other-secret", time.Hour).Mint(testUser)
		req := httptest.NewRequest(http.MethodGet, "/api/payments/history", nil)
		req.Header.Set("Authorization", "Bearer "+other)
		rr := httptest.NewRecorder()
		h.handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("valid token -> 200", func(t *testing.T) {
		if rr := h.do(http.MethodGet, "/api/payments/history", ""); rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	})
}

func TestAuthManager_Parse(t *testing.T) {
	a := NewAuthManager(testSecret, time.Minute)

	t.Run("round trip", func(t *testing.T) {
		tok, err := a.Mint(testUser)
		if err != nil {
			t.Fatal(err)
		}
		c, err := a.Parse(tok)
		if err != nil {
			t.Fatal(err)
		}
		if c.Identity() != testUser {
			t.Errorf("expected %+v, got %+v", testUser, c.Identity())
		}
	})

	t.Run("expired", func(t *testing.T) {
		past := NewAuthManager(testSecret, time.Minute)
		past.now = func() time.Time { return time.Now().Add(-time.Hour) }
		tok, _ := past.Mint(testUser)
		if _, err := a.Parse(tok); err == nil {
			t.Fatal("expected expired token to be rejected")
		}
	})

	t.Run("unsigned token", func(t *testing.T) {
		claims := UserClaims{UserID: "user-1"}
		tok, _ := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		if _, err := a.Parse(tok); err == nil {
			t.Fatal("expected alg=none to be rejected")
		}
	})

	t.Run("missing user id", func(t *testing.T) {
		tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, UserClaims{Email: "x@y.z"}).SignedString([]byte(testSecret))
		if _, err := a.Parse(tok); err == nil {
			t.Fatal("expected token without userId to be rejected")
		}
	})

	t.Run("header forms", func(t *testing.T) {
		tok, _ := a.Mint(testUser)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "bearer "+tok)
		if _, err := a.ParseFromRequest(req); err != nil {
			t.Errorf("lower-case scheme should parse: %v", err)
		}
		req.Header.Set("Authorization", "Basic abc")
		if _, err := a.ParseFromRequest(req); !errors.Is(err, errMissingToken) {
			t.Errorf("expected missing token, got %v", err)
		}
	})
}

func TestHealthz(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Hour)
	s := NewServer(&mockPaymentUC{}, auth, nil, Options{}, newTestLogger())
	s.AddHealthCheck("postgres", func(ctx context.Context) error { return nil })

	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get(api.TraceHeader) == "" {
		t.Error("expected a request id on every response")
	}

	s.AddHealthCheck("redis", func(ctx context.Context) error { return errors.New("dial tcp: refused") })
	rr = httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"redis":"dial tcp: refused"`) {
		t.Errorf("expected failing check reported, got %s", rr.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "# HELP") {
		t.Error("expected prometheus exposition format")
	}
}

func TestCORS(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Hour)
	s := NewServer(&mockPaymentUC{}, auth, nil, Options{AllowedOrigins: []string{"https://daraja.example"}}, newTestLogger())
	h := s.Routes()

	req := httptest.NewRequest(http.MethodOptions, "/api/payments/paypal/create", nil)
	req.Header.Set("Origin", "https://daraja.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://daraja.example" {
		t.Fatalf("expected allowed origin echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/payments/paypal/create", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected origin allowed: %q", got)
	}
}

func TestBodyLimit(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Hour)
	tok, _ := auth.Mint(testUser)
	uc := &mockPaymentUC{}
	s := NewServer(uc, auth, nil, Options{MaxBodyBytes: 32}, newTestLogger())

	body := `{"tier":"SELF_ASSESSMENT","phoneNumber":"` + strings.Repeat("7", 64) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/payments/mpesa/initiate", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	s.Routes().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an oversized body, got %d", rr.Code)
	}
	if len(uc.requests) != 0 {
		t.Error("oversized body must not reach the use case")
	}
}
