package payment

import (
	"context"
	"fmt"
	"sync"

	"daraja-payments/internal/domain/model"
	"daraja-payments/internal/domain/ports/adapter"
)

var (
	_ adapter.PushProvider     = (*NoopProvider)(nil)
	_ adapter.RedirectProvider = (*NoopProvider)(nil)
)

// NoopProvider is an in-memory provider for dev mode and tests. Every
// payment resolves to the configured outcome.
type NoopProvider struct {
	method  model.PaymentMethod
	mu      sync.Mutex
	seq     int64
	outcome model.Outcome
	intents map[string]int64 // correlation id -> amount
}

func NewNoopProvider(method model.PaymentMethod) *NoopProvider {
	return &NoopProvider{method: method, outcome: model.OutcomeSuccess, intents: make(map[string]int64)}
}

// SetOutcome changes what Resolve and Lookup report.
func (g *NoopProvider) SetOutcome(o model.Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outcome = o
}

func (g *NoopProvider) Method() model.PaymentMethod { return g.method }

func (g *NoopProvider) next() string {
	g.seq++
	return fmt.Sprintf("noop-%s-%d", g.method, g.seq)
}

func (g *NoopProvider) Initiate(ctx context.Context, in adapter.Intent) (adapter.Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next()
	g.intents[id] = in.Amount

	if g.method == model.MethodPayPal {
		approve := "https://example.test/checkoutnow?token=" + id
		return adapter.Handle{
			TransactionID: id,
			ApprovalURL:   approve,
			Metadata:      model.PaymentMetadata{PayPal: &model.PayPalMetadata{OrderID: id, ApprovalURL: approve, OrderStatus: "CREATED"}},
		}, nil
	}
	phone, err := NormalizePhone(in.Phone)
	if err != nil {
		return adapter.Handle{}, err
	}
	msg := "Success. Request accepted for processing"
	return adapter.Handle{
		CheckoutRequestID: id,
		CustomerMessage:   msg,
		Metadata: model.PaymentMetadata{Mpesa: &model.MpesaMetadata{
			PhoneNumber: phone, CheckoutRequestID: id, MerchantRequestID: "mr-" + id, CustomerMessage: msg,
		}},
	}, nil
}

func (g *NoopProvider) Resolve(ctx context.Context, p *model.Payment) (adapter.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	res := adapter.Result{Outcome: g.outcome}
	switch g.outcome {
	case model.OutcomeSuccess:
		res.TransactionID = "noop-tx-" + p.ID
		if g.method == model.MethodPayPal {
			res.Details.PayPal = &model.PayPalMetadata{CaptureID: res.TransactionID, CaptureStatus: "COMPLETED"}
		}
	case model.OutcomeFailure:
		res.Details.FailureReason = "declined by noop provider"
	}
	return res, nil
}

func (g *NoopProvider) Lookup(ctx context.Context, p *model.Payment) (adapter.Result, error) {
	return g.Resolve(ctx, p)
}

func (g *NoopProvider) ParseCallback(body []byte) (adapter.CallbackResult, error) {
	return ParseStkCallback(body)
}
