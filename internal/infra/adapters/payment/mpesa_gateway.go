package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"daraja-payments/internal/config"
	"daraja-payments/internal/domain"
	"daraja-payments/internal/domain/model"
	"daraja-payments/internal/domain/ports/adapter"
	"daraja-payments/internal/domain/ports/repository"
	"daraja-payments/internal/infra/logging"
)

var _ adapter.PushProvider = (*MpesaGateway)(nil)

const (
	mpesaSandboxURL    = "https://sandbox.safaricom.co.ke"
	mpesaProductionURL = "https://api.safaricom.co.ke"

	// returned by the STK query while the payer has not answered the prompt
	mpesaStillProcessing = "500.001.1001"
)

// MpesaGateway drives Lipa Na M-PESA Online (STK push) on the Daraja API.
type MpesaGateway struct {
	cfg     config.MpesaConfig
	baseURL string
	client  *http.Client
	tokens  tokenSource
	now     func() time.Time
	log     *zerolog.Logger
	dev     bool
}

// NewMpesaGateway builds the adapter. tokens may be nil, in which case every
// call fetches a fresh OAuth token.
func NewMpesaGateway(cfg config.MpesaConfig, tokens repository.KeyValueStore, logger *zerolog.Logger, dev bool) *MpesaGateway {
	base := mpesaSandboxURL
	if strings.EqualFold(cfg.Environment, "production") {
		base = mpesaProductionURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	lg := logger.With().Str("component", "mpesa").Logger()
	g := &MpesaGateway{
		cfg:     cfg,
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
		log:     &lg,
		dev:     dev,
	}
	g.tokens = tokenSource{cache: tokens, key: "mpesa:token", fetch: g.fetchToken}
	return g
}

// WithBaseURL points the gateway at another host.
func (g *MpesaGateway) WithBaseURL(u string) *MpesaGateway {
	g.baseURL = strings.TrimRight(u, "/")
	return g
}

func (g *MpesaGateway) Method() model.PaymentMethod { return model.MethodMpesa }

func (g *MpesaGateway) fetchToken(ctx context.Context) (string, time.Duration, error) {
	if g.cfg.ConsumerKey == "" || g.cfg.ConsumerSecret == "" {
		return "", 0, fmt.Errorf("%w: mpesa credentials not configured", domain.ErrProviderAuth)
	}
	basic := base64.StdEncoding.EncodeToString([]byte(g.cfg.ConsumerKey + ":" + g.cfg.ConsumerSecret))
	status, body, err := do(ctx, g.client, providerCall{
		provider: "mpesa",
		op:       "token",
		method:   http.MethodGet,
		url:      g.baseURL + "/oauth/v1/generate?grant_type=client_credentials",
		header:   http.Header{"Authorization": {"Basic " + basic}},
	})
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", domain.ErrProviderAuth, err)
	}
	var out struct {
		AccessToken string      `json:"access_token"`
		ExpiresIn   json.Number `json:"expires_in"`
	}
	if status/100 != 2 || json.Unmarshal(body, &out) != nil || out.AccessToken == "" {
		return "", 0, fmt.Errorf("%w: mpesa token endpoint returned %d", domain.ErrProviderAuth, status)
	}
	return out.AccessToken, parseSeconds(out.ExpiresIn), nil
}

// timestamp renders t as YYYYMMDDHHmmss.
func timestamp(t time.Time) string { return t.Format("20060102150405") }

// password is base64(shortcode + passkey + timestamp).
func (g *MpesaGateway) password(ts string) string {
	return base64.StdEncoding.EncodeToString([]byte(g.cfg.ShortCode + g.cfg.PassKey + ts))
}

// NormalizePhone converts a Kenyan number to the 2547XXXXXXXX form.
func NormalizePhone(phone string) (string, error) {
	cleaned := strings.NewReplacer(" ", "", "-", "", "+", "").Replace(strings.TrimSpace(phone))
	if strings.HasPrefix(cleaned, "0") {
		cleaned = "254" + cleaned[1:]
	}
	if !strings.HasPrefix(cleaned, "254") {
		cleaned = "254" + cleaned
	}
	if len(cleaned) != 12 {
		return "", fmt.Errorf("%w: phone number %q must have 12 digits after normalisation", domain.ErrProviderRequest, phone)
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: phone number %q contains non-digits", domain.ErrProviderRequest, phone)
		}
	}
	return cleaned, nil
}

// wholeShillings rounds minor units up to whole shillings; STK push only takes integers.
func wholeShillings(minor int64) int64 {
	return (minor + 99) / 100
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

// Initiate sends the STK push prompt to the payer's phone.
func (g *MpesaGateway) Initiate(ctx context.Context, in adapter.Intent) (adapter.Handle, error) {
	if in.Currency != model.CurrencyKES {
		return adapter.Handle{}, fmt.Errorf("%w: mpesa charges KES, got %s", domain.ErrProviderRequest, in.Currency)
	}
	phone, err := NormalizePhone(in.Phone)
	if err != nil {
		return adapter.Handle{}, err
	}
	if g.cfg.ShortCode == "" || g.cfg.CallbackURL == "" {
		return adapter.Handle{}, fmt.Errorf("%w: mpesa shortcode or callback url not configured", domain.ErrProviderRequest)
	}
	tok, err := g.tokens.token(ctx)
	if err != nil {
		return adapter.Handle{}, err
	}

	ts := timestamp(g.now())
	payload := stkPushRequest{
		BusinessShortCode: g.cfg.ShortCode,
		Password:          g.password(ts),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            wholeShillings(in.Amount),
		PartyA:            phone,
		PartyB:            g.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       g.cfg.CallbackURL,
		AccountReference:  in.Reference,
		TransactionDesc:   in.Description,
	}
	status, body, err := do(ctx, g.client, providerCall{
		provider: "mpesa",
		op:       "stk_push",
		method:   http.MethodPost,
		url:      g.baseURL + "/mpesa/stkpush/v1/processrequest",
		header:   http.Header{"Authorization": {"Bearer " + tok}},
		body:     payload,
	})
	if err != nil {
		return adapter.Handle{}, err
	}
	if status == http.StatusUnauthorized {
		g.tokens.invalidate(ctx)
		return adapter.Handle{}, fmt.Errorf("%w: mpesa rejected the access token", domain.ErrProviderAuth)
	}

	var out stkPushResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return adapter.Handle{}, fmt.Errorf("%w: mpesa stk push returned %d with unreadable body", domain.ErrProviderRequest, status)
	}
	if status/100 != 2 || out.ResponseCode != "0" || out.CheckoutRequestID == "" {
		msg := out.ResponseDescription
		if msg == "" {
			msg = out.ErrorMessage
		}
		return adapter.Handle{}, fmt.Errorf("%w: mpesa stk push rejected (%d): %s", domain.ErrProviderRequest, status, msg)
	}

	g.log.Info().
		Str("payment_id", in.PaymentID).
		Str("checkout_request_id", out.CheckoutRequestID).
		Str("phone", logging.Redact(phone, g.dev)).
		Msg("stk push accepted")

	return adapter.Handle{
		CheckoutRequestID: out.CheckoutRequestID,
		CustomerMessage:   out.CustomerMessage,
		Metadata: model.PaymentMetadata{Mpesa: &model.MpesaMetadata{
			PhoneNumber:       phone,
			CheckoutRequestID: out.CheckoutRequestID,
			MerchantRequestID: out.MerchantRequestID,
			CustomerMessage:   out.CustomerMessage,
		}},
	}, nil
}

// Resolve queries the STK push status of a payment.
func (g *MpesaGateway) Resolve(ctx context.Context, p *model.Payment) (adapter.Result, error) {
	if p.CheckoutRequestID == nil || *p.CheckoutRequestID == "" {
		return adapter.Result{}, fmt.Errorf("%w: payment %s has no checkout request id", domain.ErrProviderRequest, p.ID)
	}
	tok, err := g.tokens.token(ctx)
	if err != nil {
		return adapter.Result{}, err
	}
	ts := timestamp(g.now())
	status, body, err := do(ctx, g.client, providerCall{
		provider: "mpesa",
		op:       "stk_query",
		method:   http.MethodPost,
		url:      g.baseURL + "/mpesa/stkpushquery/v1/query",
		header:   http.Header{"Authorization": {"Bearer " + tok}},
		body: map[string]string{
			"BusinessShortCode": g.cfg.ShortCode,
			"Password":          g.password(ts),
			"Timestamp":         ts,
			"CheckoutRequestID": *p.CheckoutRequestID,
		},
	})
	if err != nil {
		return adapter.Result{}, err
	}
	if status == http.StatusUnauthorized {
		g.tokens.invalidate(ctx)
		return adapter.Result{}, fmt.Errorf("%w: mpesa rejected the access token", domain.ErrProviderAuth)
	}

	var out struct {
		ResultCode   json.RawMessage `json:"ResultCode"`
		ResultDesc   string          `json:"ResultDesc"`
		ErrorCode    string          `json:"errorCode"`
		ErrorMessage string          `json:"errorMessage"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return adapter.Result{}, fmt.Errorf("%w: mpesa stk query returned %d with unreadable body", domain.ErrProviderRequest, status)
	}
	if out.ErrorCode == mpesaStillProcessing {
		return adapter.Result{Outcome: model.OutcomePending}, nil
	}
	code := strings.Trim(string(out.ResultCode), `"`)
	if status/100 != 2 || code == "" {
		return adapter.Result{}, fmt.Errorf("%w: mpesa stk query failed (%d): %s", domain.ErrProviderRequest, status, out.ErrorMessage)
	}

	var rc int
	if _, err := fmt.Sscan(code, &rc); err != nil {
		return adapter.Result{}, fmt.Errorf("%w: mpesa stk query result code %q", domain.ErrProviderRequest, code)
	}
	res := adapter.Result{
		Outcome: model.OutcomeFailure,
		Details: model.PaymentMetadata{Mpesa: &model.MpesaMetadata{ResultCode: &rc, ResultDesc: out.ResultDesc}},
	}
	if rc == 0 {
		res.Outcome = model.OutcomeSuccess
	} else {
		res.Details.FailureReason = out.ResultDesc
	}
	return res, nil
}

// stkCallback is the Daraja result notification.
type stkCallback struct {
	Body *struct {
		StkCallback *struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        *int   `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback validates a Daraja STK callback.
func (g *MpesaGateway) ParseCallback(body []byte) (adapter.CallbackResult, error) {
	return ParseStkCallback(body)
}

// ParseStkCallback validates a Daraja STK callback body. A body without
// Body.stkCallback.ResultCode is rejected; missing metadata items stay nil.
func ParseStkCallback(body []byte) (adapter.CallbackResult, error) {
	var cb stkCallback
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&cb); err != nil {
		return adapter.CallbackResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidCallback, err)
	}
	if cb.Body == nil || cb.Body.StkCallback == nil || cb.Body.StkCallback.ResultCode == nil {
		return adapter.CallbackResult{}, fmt.Errorf("%w: missing Body.stkCallback.ResultCode", domain.ErrInvalidCallback)
	}
	s := cb.Body.StkCallback
	if s.CheckoutRequestID == "" {
		return adapter.CallbackResult{}, fmt.Errorf("%w: missing CheckoutRequestID", domain.ErrInvalidCallback)
	}

	out := adapter.CallbackResult{
		CheckoutRequestID: s.CheckoutRequestID,
		MerchantRequestID: s.MerchantRequestID,
		ResultCode:        *s.ResultCode,
		ResultDesc:        s.ResultDesc,
	}
	if s.CallbackMetadata == nil {
		return out, nil
	}
	for _, item := range s.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			if v := itemString(item.Value); v != "" {
				out.ReceiptNumber = &v
			}
		case "PhoneNumber":
			if v := itemString(item.Value); v != "" {
				out.PhoneNumber = &v
			}
		case "Amount":
			if n, ok := item.Value.(json.Number); ok {
				if f, err := n.Float64(); err == nil {
					out.Amount = &f
				}
			}
		}
	}
	return out, nil
}

func itemString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	}
	return ""
}

