//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"daraja-payments/internal/domain"
	"daraja-payments/internal/domain/model"
	"daraja-payments/internal/domain/ports/adapter"
	"daraja-payments/internal/domain/ports/repository"
)

// =============================
// Adapters
// =============================

// ---- Mock PaymentProvider ----

type MockProvider struct {
	mu sync.Mutex

	method model.PaymentMethod
	seq    int

	InitiateFunc      func(ctx context.Context, in adapter.Intent) (adapter.Handle, error)
	ResolveFunc       func(ctx context.Context, p *model.Payment) (adapter.Result, error)
	LookupFunc        func(ctx context.Context, p *model.Payment) (adapter.Result, error)
	ParseCallbackFunc func(body []byte) (adapter.CallbackResult, error)

	Intents      []adapter.Intent
	ResolveCalls int
	LookupCalls  int
}

var (
	_ adapter.PushProvider     = (*MockProvider)(nil)
	_ adapter.RedirectProvider = (*MockProvider)(nil)
)

func NewMockProvider(method model.PaymentMethod) *MockProvider {
	return &MockProvider{method: method}
}

func (m *MockProvider) Method() model.PaymentMethod { return m.method }

func (m *MockProvider) Initiate(ctx context.Context, in adapter.Intent) (adapter.Handle, error) {
	m.mu.Lock()
	m.Intents = append(m.Intents, in)
	m.seq++
	n := m.seq
	m.mu.Unlock()
	if m.InitiateFunc != nil {
		return m.InitiateFunc(ctx, in)
	}
	if m.method == model.MethodPayPal {
		id := "ORDER-" + string(rune('A'+n-1))
		approve := "https://www.sandbox.paypal.com/checkoutnow?token=" + id
		return adapter.Handle{
			TransactionID: id,
			ApprovalURL:   approve,
			Metadata:      model.PaymentMetadata{PayPal: &model.PayPalMetadata{OrderID: id, ApprovalURL: approve}},
		}, nil
	}
	id := "ws_CO_" + uuid.NewString()
	return adapter.Handle{
		CheckoutRequestID: id,
		CustomerMessage:   "Success. Request accepted for processing",
		Metadata:          model.PaymentMetadata{Mpesa: &model.MpesaMetadata{CheckoutRequestID: id, PhoneNumber: in.Phone}},
	}, nil
}

func (m *MockProvider) Resolve(ctx context.Context, p *model.Payment) (adapter.Result, error) {
	m.mu.Lock()
	m.ResolveCalls++
	m.mu.Unlock()
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, p)
	}
	return adapter.Result{Outcome: model.OutcomeSuccess, TransactionID: "TX-" + p.ID}, nil
}

func (m *MockProvider) Lookup(ctx context.Context, p *model.Payment) (adapter.Result, error) {
	m.mu.Lock()
	m.LookupCalls++
	m.mu.Unlock()
	if m.LookupFunc != nil {
		return m.LookupFunc(ctx, p)
	}
	return adapter.Result{Outcome: model.OutcomePending}, nil
}

func (m *MockProvider) ParseCallback(body []byte) (adapter.CallbackResult, error) {
	if m.ParseCallbackFunc != nil {
		return m.ParseCallbackFunc(body)
	}
	return adapter.CallbackResult{}, domain.ErrInvalidCallback
}

func (m *MockProvider) resolveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ResolveCalls
}

// =============================
// Repositories
// =============================

// ---- Mock PaymentRepository ----

type MockPaymentRepo struct {
	mu   sync.Mutex
	data map[string]*model.Payment

	SaveFunc                  func(ctx context.Context, tx repository.Tx, p *model.Payment) error
	AttachProviderDataFunc    func(ctx context.Context, tx repository.Tx, id string, transactionID, checkoutRequestID *string, meta model.PaymentMetadata) error
	UpdateStatusIfPendingFunc func(ctx context.Context, tx repository.Tx, id string, status model.PaymentStatus) (bool, error)
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{data: map[string]*model.Payment{}}
}

func clonePayment(p *model.Payment) *model.Payment {
	cp := *p
	cp.Metadata = p.Metadata.Merge(model.PaymentMetadata{})
	return &cp
}

func (r *MockPaymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.data[p.ID] = clonePayment(p)
	return nil
}

func (r *MockPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.data[id]; ok {
		return clonePayment(p), nil
	}
	return nil, domain.ErrPaymentNotFound
}

func (r *MockPaymentRepo) FindByCheckoutRequestID(ctx context.Context, tx repository.Tx, checkoutRequestID string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.data {
		if p.CheckoutRequestID != nil && *p.CheckoutRequestID == checkoutRequestID {
			return clonePayment(p), nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (r *MockPaymentRepo) AttachProviderData(ctx context.Context, tx repository.Tx, id string, transactionID, checkoutRequestID *string, meta model.PaymentMetadata) error {
	if r.AttachProviderDataFunc != nil {
		return r.AttachProviderDataFunc(ctx, tx, id, transactionID, checkoutRequestID, meta)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if transactionID != nil {
		p.TransactionID = transactionID
	}
	if checkoutRequestID != nil {
		p.CheckoutRequestID = checkoutRequestID
	}
	p.Metadata = p.Metadata.Merge(meta)
	return nil
}

func (r *MockPaymentRepo) UpdateStatusIfPending(ctx context.Context, tx repository.Tx, id string, status model.PaymentStatus, transactionID *string, completedAt *time.Time, meta model.PaymentMetadata) (bool, error) {
	if r.UpdateStatusIfPendingFunc != nil {
		return r.UpdateStatusIfPendingFunc(ctx, tx, id, status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return false, domain.ErrPaymentNotFound
	}
	if p.Status != model.PaymentStatusPending {
		return false, nil
	}
	p.Status = status
	if transactionID != nil {
		p.TransactionID = transactionID
	}
	if completedAt != nil {
		p.CompletedAt = completedAt
	}
	p.Metadata = p.Metadata.Merge(meta)
	return true, nil
}

func (r *MockPaymentRepo) List(ctx context.Context, tx repository.Tx, f model.PaymentFilter) ([]*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.data {
		if p.OrganizationID != f.OrganizationID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, clonePayment(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MockPaymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, p := range r.data {
		if p.Status == model.PaymentStatusPending && p.CreatedAt.Before(olderThan) {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// put stores p as is, bypassing Save.
func (r *MockPaymentRepo) put(p *model.Payment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[p.ID] = clonePayment(p)
}

func (r *MockPaymentRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

func (r *MockPaymentRepo) snapshot() map[string]*model.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*model.Payment, len(r.data))
	for k, v := range r.data {
		out[k] = clonePayment(v)
	}
	return out
}

func (r *MockPaymentRepo) restore(s map[string]*model.Payment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = s
}

// ---- Mock OrganizationRepository ----

type MockOrgRepo struct {
	mu   sync.Mutex
	data map[string]*model.Organization

	UpdateTierFunc func(ctx context.Context, tx repository.Tx, id string, tier model.Tier) error
	TierUpdates    int
}

var _ repository.OrganizationRepository = (*MockOrgRepo)(nil)

func NewMockOrgRepo() *MockOrgRepo {
	return &MockOrgRepo{data: map[string]*model.Organization{}}
}

func (r *MockOrgRepo) Save(ctx context.Context, tx repository.Tx, o *model.Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	cp := *o
	r.data[o.ID] = &cp
	return nil
}

func (r *MockOrgRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.data[id]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, domain.ErrOrganizationNotFound
}

func (r *MockOrgRepo) FindByOwner(ctx context.Context, tx repository.Tx, userID string) (*model.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.data {
		if o.OwnerUserID == userID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, domain.ErrOrganizationNotFound
}

func (r *MockOrgRepo) UpdateTier(ctx context.Context, tx repository.Tx, id string, tier model.Tier) error {
	if r.UpdateTierFunc != nil {
		if err := r.UpdateTierFunc(ctx, tx, id, tier); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.data[id]
	if !ok {
		return domain.ErrOrganizationNotFound
	}
	o.Tier = tier
	r.TierUpdates++
	return nil
}

func (r *MockOrgRepo) ListTierDrift(ctx context.Context, tx repository.Tx, limit int) ([]model.TierDrift, error) {
	return nil, nil
}

func (r *MockOrgRepo) tier(id string) model.Tier {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data[id].Tier
}

func (r *MockOrgRepo) snapshot() map[string]model.Organization {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]model.Organization, len(r.data))
	for k, v := range r.data {
		out[k] = *v
	}
	return out
}

func (r *MockOrgRepo) restore(s map[string]model.Organization) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = make(map[string]*model.Organization, len(s))
	for k, v := range s {
		v := v
		r.data[k] = &v
	}
}

// driftOrgRepo reports a fixed drift list.
type driftOrgRepo struct {
	*MockOrgRepo
	drift []model.TierDrift
}

func (r *driftOrgRepo) ListTierDrift(ctx context.Context, tx repository.Tx, limit int) ([]model.TierDrift, error) {
	return r.drift, nil
}

// ---- Mock OutboxRepository ----

type MockOutboxRepo struct {
	mu       sync.Mutex
	Messages []model.OutboxMessage

	EnqueueFunc func(ctx context.Context, tx repository.Tx, msg *model.OutboxMessage) error
}

var _ repository.OutboxRepository = (*MockOutboxRepo)(nil)

func NewMockOutboxRepo() *MockOutboxRepo { return &MockOutboxRepo{} }

func (r *MockOutboxRepo) Enqueue(ctx context.Context, tx repository.Tx, msg *model.OutboxMessage) error {
	if r.EnqueueFunc != nil {
		if err := r.EnqueueFunc(ctx, tx, msg); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, *msg)
	return nil
}

func (r *MockOutboxRepo) Claim(ctx context.Context, limit int, staleAfter time.Duration) ([]model.OutboxMessage, error) {
	return nil, nil
}

func (r *MockOutboxRepo) MarkPublished(ctx context.Context, id string) error { return nil }

func (r *MockOutboxRepo) MarkFailed(ctx context.Context, id string, retryAfter time.Duration, reason string) error {
	return nil
}

func (r *MockOutboxRepo) routingKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Messages))
	for _, m := range r.Messages {
		out = append(out, m.RoutingKey)
	}
	return out
}

// =============================
// Infrastructure
// =============================

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// ---- In-memory Locker ----

type MockLocker struct {
	mu    sync.Mutex
	held  map[string]string
	ErrOn map[string]error
}

var _ repository.Locker = (*MockLocker)(nil)

func NewMockLocker() *MockLocker {
	return &MockLocker{held: map[string]string{}, ErrOn: map[string]error{}}
}

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, bad := l.ErrOn[key]; bad {
		return "", err
	}
	if tok, ok := l.held[key]; ok && tok != "" {
		return "", domain.ErrPaymentBusy
	}
	tok := uuid.NewString()
	l.held[key] = tok
	return tok, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		return nil
	}
	return errors.New("unlock token mismatch")
}

// ---- Waker ----

type MockWaker struct {
	mu    sync.Mutex
	Count int
}

func (w *MockWaker) Wake() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Count++
}

func (w *MockWaker) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Count
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}
