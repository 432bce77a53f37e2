// Package server wires the gateway routes and middleware chain.
package server

import (
	"log/slog"
	"net/http"

	"github.com/aeternacy/aeterngw/pkg/accounts"
	"github.com/aeternacy/aeterngw/pkg/ai"
	"github.com/aeternacy/aeterngw/pkg/billing"
	"github.com/aeternacy/aeterngw/pkg/gate"
	"github.com/aeternacy/aeterngw/pkg/gateway/config"
	"github.com/aeternacy/aeterngw/pkg/gateway/handlers"
	"github.com/aeternacy/aeterngw/pkg/gateway/lifecycle"
	"github.com/aeternacy/aeterngw/pkg/gateway/mw"
	"github.com/aeternacy/aeterngw/pkg/gateway/ratelimit"
	"github.com/aeternacy/aeterngw/pkg/gateway/voice/sessions"
)

// Deps carries the service singletons the routes share.
type Deps struct {
	Accounts *accounts.Service
	Gate     *gate.Gate
	AI       ai.Client
	Dialer   ai.RealtimeDialer
	Webhook  *billing.Webhook
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	deps      Deps
	limiter   *ratelimit.Limiter
	lifecycle *lifecycle.Lifecycle
	sessions  *sessions.Tracker
}

func New(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		deps:   deps,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                        cfg.LimitRPS,
			Burst:                      cfg.LimitBurst,
			MaxConcurrentVoiceSessions: cfg.VoiceSessionsPerAccount,
		}),
		lifecycle: &lifecycle.Lifecycle{},
		sessions:  sessions.NewTracker(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/v1/tokens", s.tokensHandler())
	s.mux.Handle("/v1/tokens/", s.tokensHandler())

	s.mux.Handle("/v1/features/", handlers.FeaturesHandler{
		Config:   s.cfg,
		Accounts: s.deps.Accounts,
		Gate:     s.deps.Gate,
		AI:       s.deps.AI,
		Logger:   s.logger,
	})

	s.mux.Handle("/v1/voice", handlers.VoiceHandler{
		Config:    s.cfg,
		Dialer:    s.deps.Dialer,
		Gate:      s.deps.Gate,
		Limiter:   s.limiter,
		Lifecycle: s.lifecycle,
		Sessions:  s.sessions,
		Logger:    s.logger,
	})
}

func (s *Server) tokensHandler() http.Handler {
	return handlers.TokensHandler{
		Config:   s.cfg,
		Accounts: s.deps.Accounts,
		Usage:    s.deps.Gate.Usage(),
		Logger:   s.logger,
	}
}

// Handler assembles the middleware chain. Health probes and the Stripe
// webhook sit outside bearer auth; everything else goes through the
// full chain.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, h)
	h = mw.Auth(s.cfg, h)

	outer := http.NewServeMux()
	outer.Handle("/healthz", handlers.HealthHandler{})
	outer.Handle("/readyz", handlers.ReadyHandler{Lifecycle: s.lifecycle})
	if s.deps.Webhook != nil {
		outer.Handle("/v1/billing/webhook", handlers.BillingHandler{
			Webhook:      s.deps.Webhook,
			MaxBodyBytes: s.cfg.MaxBodyBytes,
			Logger:       s.logger,
		})
	}
	outer.Handle("/", h)

	var root http.Handler = outer
	root = mw.CORS(s.cfg, root)
	root = mw.Recover(s.logger, root)
	root = mw.AccessLog(s.logger, root)
	root = mw.RequestID(root)
	return root
}

// Lifecycle exposes the drain flag for shutdown coordination.
func (s *Server) Lifecycle() *lifecycle.Lifecycle {
	return s.lifecycle
}

// Sessions exposes the live session tracker for shutdown coordination.
func (s *Server) Sessions() *sessions.Tracker {
	return s.sessions
}
