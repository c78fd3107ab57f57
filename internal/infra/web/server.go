package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"daraja-payments/internal/infra/api"
	"daraja-payments/internal/infra/i18n"
	"daraja-payments/internal/infra/logging"
	"daraja-payments/internal/infra/metrics"
	"daraja-payments/internal/infra/redis"
	"daraja-payments/internal/usecase"
)

// Options tunes the HTTP surface.
type Options struct {
	AllowedOrigins    []string
	MaxBodyBytes      int64
	RequestTimeout    time.Duration
	InitiatePerWindow int
	RateWindow        time.Duration
	Translator        *i18n.Translator
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	payments usecase.PaymentUseCase
	auth     *AuthManager
	limiter  api.Limiter
	opts     Options
	tr       *i18n.Translator
	checks   map[string]HealthCheck
	log      *zerolog.Logger
}

func NewServer(
	payments usecase.PaymentUseCase,
	auth *AuthManager,
	limiter api.Limiter,
	opts Options,
	logger *zerolog.Logger,
) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.InitiatePerWindow <= 0 {
		opts.InitiatePerWindow = 5
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	if opts.Translator == nil {
		opts.Translator = i18n.MustDefault()
	}
	lg := logger.With().Str("component", "web").Logger()
	return &Server{
		payments: payments,
		auth:     auth,
		limiter:  limiter,
		opts:     opts,
		tr:       opts.Translator,
		checks:   map[string]HealthCheck{},
		log:      &lg,
	}
}

// AddHealthCheck registers a dependency probed by /healthz.
func (s *Server) AddHealthCheck(name string, fn HealthCheck) {
	s.checks[name] = fn
}

// Routes builds the router for the payment API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		api.TraceID(),
		api.RequestLog(s.log),
		api.Recover(s.log),
		api.Timeout(s.opts.RequestTimeout),
	)
	if len(s.opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.opts.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", api.TraceHeader},
			ExposedHeaders:   []string{api.TraceHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/payments", func(r chi.Router) {
		// the provider posts callbacks without credentials
		r.Post("/mpesa/callback", s.handleMpesaCallback)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.With(s.initiateLimit("mpesa_initiate")).Post("/mpesa/initiate", s.handleMpesaInitiate)
			r.Get("/mpesa/status", s.handleMpesaStatus)
			r.With(s.initiateLimit("paypal_create")).Post("/paypal/create", s.handlePayPalCreate)
			r.Post("/paypal/capture", s.handlePayPalCapture)
			r.Get("/history", s.handleHistory)
			r.Get("/{id}", s.handlePayment)
		})
	})
	return r
}

// authenticate rejects requests without a valid bearer token.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.auth.ParseFromRequest(r)
		if err != nil {
			s.writeError(w, r, http.StatusUnauthorized, "error.unauthorized")
			return
		}
		ctx := withIdentity(r.Context(), claims.Identity())
		ctx = logging.WithUserID(ctx, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) initiateLimit(action string) func(http.Handler) http.Handler {
	key := func(r *http.Request) string {
		id := IdentityFrom(r.Context())
		if id.IsZero() {
			return ""
		}
		return redis.UserActionKey(id.UserID, action)
	}
	return api.RateLimit(s.limiter, key, s.opts.InitiatePerWindow, s.opts.RateWindow, s.log)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{}
	healthy := true
	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := check(ctx)
		cancel()
		if err != nil {
			healthy = false
			status[name] = err.Error()
			continue
		}
		status[name] = "ok"
	}
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	api.WriteJSON(w, code, map[string]any{"healthy": healthy, "checks": status})
}
