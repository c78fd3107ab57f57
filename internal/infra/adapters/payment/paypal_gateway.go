package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"daraja-payments/internal/config"
	"daraja-payments/internal/domain"
	"daraja-payments/internal/domain/model"
	"daraja-payments/internal/domain/ports/adapter"
	"daraja-payments/internal/domain/ports/repository"
)

var _ adapter.RedirectProvider = (*PayPalGateway)(nil)

const (
	paypalSandboxURL    = "https://api-m.sandbox.paypal.com"
	paypalProductionURL = "https://api-m.paypal.com"
)

// PayPalGateway implements the redirect-capture flow on the Orders v2 API.
type PayPalGateway struct {
	cfg     config.PayPalConfig
	appURL  string
	baseURL string
	client  *http.Client
	tokens  tokenSource
	log     *zerolog.Logger
}

func NewPayPalGateway(cfg config.PayPalConfig, appURL string, tokens repository.KeyValueStore, logger *zerolog.Logger) *PayPalGateway {
	base := paypalSandboxURL
	if strings.EqualFold(cfg.Mode, "production") || strings.EqualFold(cfg.Mode, "live") {
		base = paypalProductionURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	lg := logger.With().Str("component", "paypal").Logger()
	g := &PayPalGateway{
		cfg:     cfg,
		appURL:  strings.TrimRight(appURL, "/"),
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
		log:     &lg,
	}
	g.tokens = tokenSource{cache: tokens, key: "paypal:token", fetch: g.fetchToken}
	return g
}

// WithBaseURL points the gateway at another host.
func (g *PayPalGateway) WithBaseURL(u string) *PayPalGateway {
	g.baseURL = strings.TrimRight(u, "/")
	return g
}

func (g *PayPalGateway) Method() model.PaymentMethod { return model.MethodPayPal }

func (g *PayPalGateway) fetchToken(ctx context.Context) (string, time.Duration, error) {
	if g.cfg.ClientID == "" || g.cfg.ClientSecret == "" {
		return "", 0, fmt.Errorf("%w: paypal credentials not configured", domain.ErrProviderAuth)
	}
	basic := base64.StdEncoding.EncodeToString([]byte(g.cfg.ClientID + ":" + g.cfg.ClientSecret))
	status, body, err := do(ctx, g.client, providerCall{
		provider: "paypal",
		op:       "token",
		method:   http.MethodPost,
		url:      g.baseURL + "/v1/oauth2/token",
		header: http.Header{
			"Authorization": {"Basic " + basic},
			"Content-Type":  {"application/x-www-form-urlencoded"},
		},
		body: strings.NewReader(url.Values{"grant_type": {"client_credentials"}}.Encode()),
	})
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", domain.ErrProviderAuth, err)
	}
	var out struct {
		AccessToken string      `json:"access_token"`
		ExpiresIn   json.Number `json:"expires_in"`
	}
	if status/100 != 2 || json.Unmarshal(body, &out) != nil || out.AccessToken == "" {
		return "", 0, fmt.Errorf("%w: paypal token endpoint returned %d", domain.ErrProviderAuth, status)
	}
	return out.AccessToken, parseSeconds(out.ExpiresIn), nil
}

// ReturnURL is where PayPal sends the payer after approval.
func (g *PayPalGateway) ReturnURL(paymentID string) string {
	return g.appURL + "/dashboard/payments/success?paymentId=" + url.QueryEscape(paymentID)
}

// CancelURL is where PayPal sends the payer after cancelling.
func (g *PayPalGateway) CancelURL() string {
	return g.appURL + "/dashboard/upgrade?cancelled=true"
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalPurchaseUnit struct {
	ReferenceID string       `json:"reference_id,omitempty"`
	InvoiceID   string       `json:"invoice_id,omitempty"`
	Description string       `json:"description"`
	Amount      paypalAmount `json:"amount"`
}

type paypalOrderRequest struct {
	Intent             string               `json:"intent"`
	PurchaseUnits      []paypalPurchaseUnit `json:"purchase_units"`
	ApplicationContext struct {
		ReturnURL   string `json:"return_url"`
		CancelURL   string `json:"cancel_url"`
		BrandName   string `json:"brand_name"`
		LandingPage string `json:"landing_page"`
		UserAction  string `json:"user_action"`
	} `json:"application_context"`
}

type paypalOrder struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
	// error responses
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue string `json:"issue"`
	} `json:"details"`
}

func (o paypalOrder) approveLink() string {
	for _, l := range o.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

func (o paypalOrder) capture() (id, status string) {
	for _, pu := range o.PurchaseUnits {
		if c := pu.Payments.Captures; len(c) > 0 {
			return c[0].ID, c[0].Status
		}
	}
	return "", ""
}

func (o paypalOrder) issue() string {
	if len(o.Details) > 0 && o.Details[0].Issue != "" {
		return o.Details[0].Issue
	}
	if o.Name != "" {
		return o.Name
	}
	return o.Message
}

// Initiate creates a CAPTURE-intent order and returns its approval link.
func (g *PayPalGateway) Initiate(ctx context.Context, in adapter.Intent) (adapter.Handle, error) {
	if in.Currency != model.CurrencyUSD {
		return adapter.Handle{}, fmt.Errorf("%w: paypal charges USD, got %s", domain.ErrProviderRequest, in.Currency)
	}
	var req paypalOrderRequest
	req.Intent = "CAPTURE"
	req.PurchaseUnits = []paypalPurchaseUnit{{
		ReferenceID: in.PaymentID,
		InvoiceID:   in.Reference,
		Description: in.Description,
		Amount: paypalAmount{
			CurrencyCode: string(in.Currency),
			Value:        fmt.Sprintf("%.2f", model.MajorUnits(in.Amount)),
		},
	}}
	req.ApplicationContext.ReturnURL = g.ReturnURL(in.PaymentID)
	req.ApplicationContext.CancelURL = g.CancelURL()
	req.ApplicationContext.BrandName = "Daraja Directory"
	req.ApplicationContext.LandingPage = "BILLING"
	req.ApplicationContext.UserAction = "PAY_NOW"

	order, status, err := g.orderCall(ctx, "create_order", http.MethodPost, "/v2/checkout/orders", req)
	if err != nil {
		return adapter.Handle{}, err
	}
	approve := order.approveLink()
	if status/100 != 2 || order.ID == "" || approve == "" {
		return adapter.Handle{}, fmt.Errorf("%w: paypal create order failed (%d): %s", domain.ErrProviderRequest, status, order.issue())
	}

	g.log.Info().Str("payment_id", in.PaymentID).Str("order_id", order.ID).Msg("paypal order created")

	return adapter.Handle{
		TransactionID: order.ID,
		ApprovalURL:   approve,
		Metadata: model.PaymentMetadata{PayPal: &model.PayPalMetadata{
			OrderID:     order.ID,
			ApprovalURL: approve,
			OrderStatus: order.Status,
		}},
	}, nil
}

// paypalDeclineIssues are capture rejections that end the payment. Any other
// error answer leaves it pending.
var paypalDeclineIssues = map[string]bool{
	"INSTRUMENT_DECLINED":                    true,
	"TRANSACTION_REFUSED":                    true,
	"PAYER_CANNOT_PAY":                       true,
	"PAYER_ACCOUNT_RESTRICTED":               true,
	"PAYER_ACCOUNT_LOCKED_OR_CLOSED":         true,
	"PAYEE_BLOCKED_TRANSACTION":              true,
	"COMPLIANCE_VIOLATION":                   true,
	"MAX_NUMBER_OF_PAYMENT_ATTEMPTS_EXCEEDED": true,
}

// Resolve captures the approved order. A 2xx COMPLETED answer is success, any
// other 2xx answer or a decline issue is a failure. An order that was already
// captured is read back with Lookup. Other error answers return
// ErrProviderRequest and the payment stays pending.
func (g *PayPalGateway) Resolve(ctx context.Context, p *model.Payment) (adapter.Result, error) {
	orderID, err := orderIDOf(p)
	if err != nil {
		return adapter.Result{}, err
	}
	order, status, err := g.orderCall(ctx, "capture", http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", struct{}{})
	if err != nil {
		return adapter.Result{}, err
	}
	if status/100 != 2 {
		issue := order.issue()
		switch {
		case issue == "ORDER_ALREADY_CAPTURED":
			g.log.Info().Str("payment_id", p.ID).Str("order_id", orderID).Msg("order already captured; reading it back")
			return g.Lookup(ctx, p)
		case issue == "ORDER_NOT_APPROVED":
			return adapter.Result{
				Outcome:       model.OutcomePending,
				TransactionID: orderID,
				Details:       model.PaymentMetadata{PayPal: &model.PayPalMetadata{OrderID: orderID, OrderStatus: "CREATED"}},
			}, nil
		case !paypalDeclineIssues[issue]:
			return adapter.Result{}, fmt.Errorf("%w: paypal capture returned %d: %s", domain.ErrProviderRequest, status, issue)
		}
	}

	captureID, captureStatus := order.capture()
	details := &model.PayPalMetadata{OrderID: orderID, OrderStatus: order.Status, CaptureID: captureID, CaptureStatus: captureStatus}
	if status/100 == 2 && order.Status == "COMPLETED" {
		return adapter.Result{
			Outcome:       model.OutcomeSuccess,
			TransactionID: orderID,
			Details:       model.PaymentMetadata{PayPal: details},
		}, nil
	}

	reason := order.issue()
	if reason == "" {
		reason = order.Status
	}
	if details.CaptureStatus == "" {
		details.CaptureStatus = reason
	}
	return adapter.Result{
		Outcome:       model.OutcomeFailure,
		TransactionID: orderID,
		Details:       model.PaymentMetadata{PayPal: details, FailureReason: reason},
	}, nil
}

// Lookup reads the order without capturing it. APPROVED orders are still
// PENDING here; the caller decides whether to capture them.
func (g *PayPalGateway) Lookup(ctx context.Context, p *model.Payment) (adapter.Result, error) {
	orderID, err := orderIDOf(p)
	if err != nil {
		return adapter.Result{}, err
	}
	order, status, err := g.orderCall(ctx, "get_order", http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return adapter.Result{}, err
	}
	if status == http.StatusNotFound {
		// unapproved orders expire on PayPal's side
		return adapter.Result{
			Outcome: model.OutcomeFailure,
			Details: model.PaymentMetadata{
				PayPal:        &model.PayPalMetadata{OrderID: orderID, OrderStatus: "EXPIRED"},
				FailureReason: "paypal order expired",
			},
		}, nil
	}
	if status/100 != 2 {
		return adapter.Result{}, fmt.Errorf("%w: paypal get order returned %d", domain.ErrProviderRequest, status)
	}

	captureID, captureStatus := order.capture()
	res := adapter.Result{
		Outcome:       model.OutcomePending,
		TransactionID: orderID,
		Details: model.PaymentMetadata{PayPal: &model.PayPalMetadata{
			OrderID: orderID, OrderStatus: order.Status, CaptureID: captureID, CaptureStatus: captureStatus,
		}},
	}
	switch order.Status {
	case "COMPLETED":
		res.Outcome = model.OutcomeSuccess
	case "VOIDED":
		res.Outcome = model.OutcomeFailure
		res.Details.FailureReason = "paypal order voided"
	}
	return res, nil
}

func (g *PayPalGateway) orderCall(ctx context.Context, op, method, path string, body any) (paypalOrder, int, error) {
	tok, err := g.tokens.token(ctx)
	if err != nil {
		return paypalOrder{}, 0, err
	}
	status, raw, err := do(ctx, g.client, providerCall{
		provider: "paypal",
		op:       op,
		method:   method,
		url:      g.baseURL + path,
		header:   http.Header{"Authorization": {"Bearer " + tok}},
		body:     body,
	})
	if err != nil {
		return paypalOrder{}, 0, err
	}
	if status == http.StatusUnauthorized {
		g.tokens.invalidate(ctx)
		return paypalOrder{}, status, fmt.Errorf("%w: paypal rejected the access token", domain.ErrProviderAuth)
	}
	var order paypalOrder
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &order); err != nil && status/100 == 2 {
			return paypalOrder{}, status, fmt.Errorf("%w: paypal %s returned unreadable body", domain.ErrProviderRequest, op)
		}
	}
	return order, status, nil
}

func orderIDOf(p *model.Payment) (string, error) {
	if p.TransactionID != nil && *p.TransactionID != "" {
		return *p.TransactionID, nil
	}
	if p.Metadata.PayPal != nil && p.Metadata.PayPal.OrderID != "" {
		return p.Metadata.PayPal.OrderID, nil
	}
	return "", fmt.Errorf("%w: payment %s has no paypal order id", domain.ErrProviderRequest, p.ID)
}
