package model

import (
	"encoding/json"
	"time"
)

// MpesaMetadata holds M-PESA correlation data.
// Set at initiation: PhoneNumber, CheckoutRequestID, MerchantRequestID.
// Set by the callback: ReceiptNumber, CallbackPhone, ConfirmedAmount, ResultCode, ResultDesc.
type MpesaMetadata struct {
	PhoneNumber       string   `json:"phoneNumber,omitempty"`
	CheckoutRequestID string   `json:"checkoutRequestId,omitempty"`
	MerchantRequestID string   `json:"merchantRequestId,omitempty"`
	CustomerMessage   string   `json:"customerMessage,omitempty"`
	ReceiptNumber     string   `json:"mpesaReceiptNumber,omitempty"`
	CallbackPhone     string   `json:"callbackPhoneNumber,omitempty"`
	ConfirmedAmount   *float64 `json:"confirmedAmount,omitempty"`
	ResultCode        *int     `json:"resultCode,omitempty"`
	ResultDesc        string   `json:"resultDesc,omitempty"`
}

// PayPalMetadata holds PayPal correlation data.
// Set at initiation: OrderID, ApprovalURL. Set by capture: CaptureID, CaptureStatus.
type PayPalMetadata struct {
	OrderID       string `json:"orderId,omitempty"`
	ApprovalURL   string `json:"approvalUrl,omitempty"`
	OrderStatus   string `json:"orderStatus,omitempty"`
	CaptureID     string `json:"captureId,omitempty"`
	CaptureStatus string `json:"captureStatus,omitempty"`
}

// PaymentMetadata is the per-method metadata of a payment. It serialises to a
// single flat JSON object so stores can merge it key by key; keys that belong
// to neither method land in Extra.
type PaymentMetadata struct {
	Mpesa         *MpesaMetadata
	PayPal        *PayPalMetadata
	CompletedAt   *time.Time
	FailedAt      *time.Time
	FailureReason string
	Extra         map[string]any
}

type commonMetadata struct {
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	FailedAt      *time.Time `json:"failedAt,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
}

var (
	mpesaKeys  = keySet("phoneNumber", "checkoutRequestId", "merchantRequestId", "customerMessage", "mpesaReceiptNumber", "callbackPhoneNumber", "confirmedAmount", "resultCode", "resultDesc")
	paypalKeys = keySet("orderId", "approvalUrl", "orderStatus", "captureId", "captureStatus")
	commonKeys = keySet("completedAt", "failedAt", "failureReason")
)

func keySet(keys ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}

func (m PaymentMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+8)
	for k, v := range m.Extra {
		out[k] = v
	}
	parts := []any{commonMetadata{CompletedAt: m.CompletedAt, FailedAt: m.FailedAt, FailureReason: m.FailureReason}}
	if m.Mpesa != nil {
		parts = append(parts, m.Mpesa)
	}
	if m.PayPal != nil {
		parts = append(parts, m.PayPal)
	}
	for _, part := range parts {
		if err := overlay(out, part); err != nil {
			return nil, err
		}
	}
	return json.Marshal(out)
}

func (m *PaymentMetadata) UnmarshalJSON(b []byte) error {
	*m = PaymentMetadata{}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		return nil
	}

	var common commonMetadata
	if err := json.Unmarshal(b, &common); err != nil {
		return err
	}
	m.CompletedAt, m.FailedAt, m.FailureReason = common.CompletedAt, common.FailedAt, common.FailureReason

	if hasAny(raw, mpesaKeys) {
		m.Mpesa = &MpesaMetadata{}
		if err := json.Unmarshal(b, m.Mpesa); err != nil {
			return err
		}
	}
	if hasAny(raw, paypalKeys) {
		m.PayPal = &PayPalMetadata{}
		if err := json.Unmarshal(b, m.PayPal); err != nil {
			return err
		}
	}
	for k, v := range raw {
		if _, ok := mpesaKeys[k]; ok {
			continue
		}
		if _, ok := paypalKeys[k]; ok {
			continue
		}
		if _, ok := commonKeys[k]; ok {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		if m.Extra == nil {
			m.Extra = map[string]any{}
		}
		m.Extra[k] = val
	}
	return nil
}

// Merge returns m with every key present in patch written over it.
// Keys absent from patch are kept.
func (m PaymentMetadata) Merge(patch PaymentMetadata) PaymentMetadata {
	base, err := toMap(m)
	if err != nil {
		return m
	}
	top, err := toMap(patch)
	if err != nil {
		return m
	}
	for k, v := range top {
		base[k] = v
	}
	b, err := json.Marshal(base)
	if err != nil {
		return m
	}
	var out PaymentMetadata
	if err := json.Unmarshal(b, &out); err != nil {
		return m
	}
	return out
}

// IsZero reports whether the metadata carries no keys.
func (m PaymentMetadata) IsZero() bool {
	mp, err := toMap(m)
	return err == nil && len(mp) == 0
}

func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func overlay(dst map[string]any, v any) error {
	mp, err := toMap(v)
	if err != nil {
		return err
	}
	for k, val := range mp {
		dst[k] = val
	}
	return nil
}

func hasAny(raw map[string]json.RawMessage, keys map[string]struct{}) bool {
	for k := range keys {
		if _, ok := raw[k]; ok {
			return true
		}
	}
	return false
}
