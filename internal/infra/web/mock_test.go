//go:build !integration

package web

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"daraja-payments/internal/domain/model"
	"daraja-payments/internal/domain/ports/adapter"
	"daraja-payments/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// mockPaymentUC records the identity it was called with and delegates to the *Func hooks.
type mockPaymentUC struct {
	mu       sync.Mutex
	callers  []model.Identity
	requests []usecase.UpgradeRequest

	InitiateFunc func(ctx context.Context, id model.Identity, req usecase.UpgradeRequest) (*usecase.UpgradeHandle, error)
	CallbackFunc func(ctx context.Context, body []byte) (usecase.CallbackOutcome, error)
	CaptureFunc  func(ctx context.Context, id model.Identity, paymentID string) (*usecase.CaptureResult, error)
	StatusFunc   func(ctx context.Context, id model.Identity, paymentID string) (*usecase.PaymentView, error)
	HistoryFunc  func(ctx context.Context, id model.Identity, limit int) ([]*usecase.PaymentView, error)
}

var _ usecase.PaymentUseCase = (*mockPaymentUC)(nil)

func (m *mockPaymentUC) record(id model.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callers = append(m.callers, id)
}

func (m *mockPaymentUC) InitiateUpgrade(ctx context.Context, id model.Identity, req usecase.UpgradeRequest) (*usecase.UpgradeHandle, error) {
	m.record(id)
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.InitiateFunc != nil {
		return m.InitiateFunc(ctx, id, req)
	}
	return &usecase.UpgradeHandle{PaymentID: "pay-1", Reference: "ORG-org-1-SELF_ASSESSMENT-1"}, nil
}

func (m *mockPaymentUC) HandleMpesaCallback(ctx context.Context, body []byte) (usecase.CallbackOutcome, error) {
	if m.CallbackFunc != nil {
		return m.CallbackFunc(ctx, body)
	}
	return usecase.CallbackOutcome{Result: "not_found"}, nil
}

func (m *mockPaymentUC) CapturePayPal(ctx context.Context, id model.Identity, paymentID string) (*usecase.CaptureResult, error) {
	m.record(id)
	if m.CaptureFunc != nil {
		return m.CaptureFunc(ctx, id, paymentID)
	}
	return &usecase.CaptureResult{Status: model.PaymentStatusPending, Message: "Payment is still pending"}, nil
}

func (m *mockPaymentUC) Status(ctx context.Context, id model.Identity, paymentID string) (*usecase.PaymentView, error) {
	m.record(id)
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, id, paymentID)
	}
	return &usecase.PaymentView{ID: paymentID, Status: model.PaymentStatusPending}, nil
}

func (m *mockPaymentUC) History(ctx context.Context, id model.Identity, limit int) ([]*usecase.PaymentView, error) {
	m.record(id)
	if m.HistoryFunc != nil {
		return m.HistoryFunc(ctx, id, limit)
	}
	return []*usecase.PaymentView{}, nil
}

func (m *mockPaymentUC) Commit(ctx context.Context, paymentID string, res adapter.Result) (*model.Payment, bool, error) {
	return nil, false, nil
}

func (m *mockPaymentUC) ResolvePending(ctx context.Context, p *model.Payment) (*model.Payment, bool, error) {
	return p, false, nil
}

func (m *mockPaymentUC) PendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.Payment, error) {
	return nil, nil
}

func (m *mockPaymentUC) SweepTiers(ctx context.Context, limit int) (int, error) { return 0, nil }

func (m *mockPaymentUC) lastCaller() model.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.callers) == 0 {
		return model.Identity{}
	}
	return m.callers[len(m.callers)-1]
}

// memLimiter counts per key without expiry.
type memLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	keys   []string
}

func (l *memLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts == nil {
		l.counts = map[string]int{}
	}
	l.counts[key]++
	l.keys = append(l.keys, key)
	return l.counts[key] <= limit, nil
}
