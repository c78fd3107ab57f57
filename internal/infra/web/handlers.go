package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"daraja-payments/internal/domain"
	"daraja-payments/internal/domain/model"
	"daraja-payments/internal/infra/api"
	"daraja-payments/internal/infra/logging"
	"daraja-payments/internal/infra/metrics"
	"daraja-payments/internal/usecase"
)

type mpesaInitiateRequest struct {
	Tier        string `json:"tier"`
	PhoneNumber string `json:"phoneNumber"`
}

type paypalCreateRequest struct {
	Tier string `json:"tier"`
}

type paypalCaptureRequest struct {
	PaymentID string `json:"paymentId"`
}

func (s *Server) handleMpesaInitiate(w http.ResponseWriter, r *http.Request) {
	var req mpesaInitiateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PhoneNumber) == "" || strings.TrimSpace(req.Tier) == "" {
		s.writeError(w, r, http.StatusBadRequest, "error.phone_and_tier_required")
		return
	}
	h, err := s.payments.InitiateUpgrade(r.Context(), IdentityFrom(r.Context()), usecase.UpgradeRequest{
		Tier:   req.Tier,
		Method: model.MethodMpesa,
		Phone:  req.PhoneNumber,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	metrics.IncPayment(string(model.MethodMpesa), "pending")
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"paymentId":         h.PaymentID,
		"checkoutRequestId": h.CheckoutRequestID,
		"customerMessage":   h.CustomerMessage,
		"reference":         h.Reference,
	})
}

func (s *Server) handlePayPalCreate(w http.ResponseWriter, r *http.Request) {
	var req paypalCreateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Tier) == "" {
		s.writeError(w, r, http.StatusBadRequest, "error.tier_required")
		return
	}
	h, err := s.payments.InitiateUpgrade(r.Context(), IdentityFrom(r.Context()), usecase.UpgradeRequest{
		Tier:   req.Tier,
		Method: model.MethodPayPal,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	metrics.IncPayment(string(model.MethodPayPal), "pending")
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"paymentId":   h.PaymentID,
		"orderId":     h.OrderID,
		"approvalUrl": h.ApprovalURL,
		"reference":   h.Reference,
	})
}

func (s *Server) handlePayPalCapture(w http.ResponseWriter, r *http.Request) {
	var req paypalCaptureRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PaymentID) == "" {
		s.writeError(w, r, http.StatusBadRequest, "error.payment_id_required")
		return
	}
	res, err := s.payments.CapturePayPal(r.Context(), IdentityFrom(r.Context()), req.PaymentID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if res.Settled {
		recordSettlement(res.Payment, "capture")
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"success": res.Success,
		"status":  res.Status,
		"message": s.captureMessage(r, res),
	})
}

func (s *Server) captureMessage(r *http.Request, res *usecase.CaptureResult) string {
	switch res.Status {
	case model.PaymentStatusCompleted:
		return s.tr.T(s.lang(r), "capture.completed")
	case model.PaymentStatusPending:
		return s.tr.T(s.lang(r), "capture.pending")
	case model.PaymentStatusFailed:
		return s.tr.T(s.lang(r), "capture.failed")
	}
	return res.Message
}

func (s *Server) handleMpesaCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		metrics.IncCallback("mpesa", "invalid")
		s.writeError(w, r, http.StatusBadRequest, "error.invalid_callback")
		return
	}
	out, err := s.payments.HandleMpesaCallback(r.Context(), body)
	metrics.IncCallback("mpesa", out.Result)
	if err != nil {
		lg := logging.With(r.Context(), s.log)
		lg.Warn().Err(err).Msg("rejected mpesa callback")
		s.writeError(w, r, http.StatusBadRequest, "error.invalid_callback")
		return
	}
	if out.Result == "completed" || out.Result == "failed" {
		recordSettlement(out.Payment, "callback")
	}
	// anything parseable is acknowledged so the provider stops retrying
	api.WriteJSON(w, http.StatusOK, map[string]any{"ResultCode": 0, "ResultDesc": "Accepted"})
}

func (s *Server) handleMpesaStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, r, r.URL.Query().Get("paymentId"))
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, r, chi.URLParam(r, "id"))
}

func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request, paymentID string) {
	if strings.TrimSpace(paymentID) == "" {
		s.writeError(w, r, http.StatusBadRequest, "error.payment_id_required")
		return
	}
	view, err := s.payments.Status(r.Context(), IdentityFrom(r.Context()), paymentID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, view)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, http.StatusBadRequest, "error.invalid_limit")
			return
		}
		if n < limit {
			limit = n
		}
	}
	list, err := s.payments.History(r.Context(), IdentityFrom(r.Context()), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"payments": list})
}

// decode reads a bounded JSON body into v, answering 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "error.invalid_body")
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, key := errorStatus(err)
	if code >= http.StatusInternalServerError {
		lg := logging.With(r.Context(), s.log)
		lg.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	s.writeError(w, r, code, key)
}

// errorStatus maps domain errors onto HTTP status codes and message keys.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		return http.StatusUnauthorized, "error.unauthorized"
	case errors.Is(err, domain.ErrNotAuthorized):
		return http.StatusForbidden, "error.forbidden"
	case errors.Is(err, domain.ErrInvalidTier):
		return http.StatusBadRequest, "error.invalid_tier"
	case errors.Is(err, domain.ErrNotUpgrade):
		return http.StatusBadRequest, "error.not_upgrade"
	case errors.Is(err, domain.ErrFreeTier):
		return http.StatusBadRequest, "error.free_tier"
	case errors.Is(err, domain.ErrMethodMismatch):
		return http.StatusBadRequest, "error.method_mismatch"
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "error.invalid_argument"
	case errors.Is(err, domain.ErrPaymentNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "error.payment_not_found"
	case errors.Is(err, domain.ErrAlreadyCompleted):
		return http.StatusConflict, "error.already_completed"
	case errors.Is(err, domain.ErrPaymentBusy):
		return http.StatusConflict, "error.payment_busy"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "error.rate_limited"
	case errors.Is(err, domain.ErrProviderAuth), errors.Is(err, domain.ErrProviderRequest):
		return http.StatusBadGateway, "error.provider_unavailable"
	}
	return http.StatusInternalServerError, "error.internal"
}

// lang picks the response language from Accept-Language.
func (s *Server) lang(r *http.Request) string {
	return s.tr.Negotiate(r.Header.Get("Accept-Language"))
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, code int, key string) {
	api.WriteJSON(w, code, map[string]any{"success": false, "error": s.tr.T(s.lang(r), key)})
}

func recordSettlement(p *model.Payment, source string) {
	if p == nil {
		return
	}
	metrics.RecordSettlement(string(p.Method), strings.ToLower(string(p.Status)), string(p.Currency), string(p.Tier), source, p.Amount)
}
