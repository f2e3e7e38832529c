// Package api provides HTTP handlers and the main API server logic for
// Chairside.
//
// It exposes the widget endpoints (chat, guided intake, signup, contact) and
// the JWT-protected admin console, wired over the store, resolver, completion
// client, and billing modules.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ChairsideAI/Chairside/internal/auth"
	"github.com/ChairsideAI/Chairside/internal/billing"
	"github.com/ChairsideAI/Chairside/internal/flow"
	"github.com/ChairsideAI/Chairside/internal/genai"
	"github.com/ChairsideAI/Chairside/internal/notify"
	"github.com/ChairsideAI/Chairside/internal/resolver"
	"github.com/ChairsideAI/Chairside/internal/signup"
	"github.com/ChairsideAI/Chairside/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

const requestTimeout = 60 * time.Second

// Opts holds configuration for the API server.
type Opts struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// AllowedOrigins configures CORS for the embedded widget. Empty allows all
	// origins, since the widget runs on client practice websites.
	AllowedOrigins []string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAllowedOrigins restricts CORS to the given origins.
func WithAllowedOrigins(origins []string) Option {
	return func(o *Opts) { o.AllowedOrigins = origins }
}

// Server holds the wired modules behind the HTTP surface.
type Server struct {
	store    store.Store
	sessions *flow.SessionManager
	guided   *flow.GuidedFlow
	signup   *signup.Pipeline
	auth     *auth.Authenticator
	notifier notify.LeadNotifier
	addr     string
	origins  []string
}

// Deps carries the modules the server runs on.
type Deps struct {
	Store    store.Store
	Resolver *resolver.Resolver
	GenAI    genai.ClientInterface
	Checkout billing.CheckoutClient
	Auth     *auth.Authenticator
	Notifier notify.LeadNotifier
}

// NewServer wires a server from its dependencies. Store and Auth are
// required; the rest degrade gracefully (no completion client means the chat
// falls back to templates, no notifier means no lead alerts).
func NewServer(deps Deps, opts ...Option) (*Server, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store must be provided")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("authenticator must be provided")
	}
	if deps.Resolver == nil {
		deps.Resolver = resolver.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NoopNotifier{}
	}

	stateManager := flow.NewStoreBasedStateManager(deps.Store)
	s := &Server{
		store:    deps.Store,
		sessions: flow.NewSessionManager(deps.Resolver, deps.GenAI, deps.Store),
		guided:   flow.NewGuidedFlow(stateManager, deps.Store, deps.Notifier),
		auth:     deps.Auth,
		notifier: deps.Notifier,
		addr:     cfg.Addr,
		origins:  cfg.AllowedOrigins,
	}
	if deps.Checkout != nil {
		s.signup = signup.NewPipeline(deps.Store, deps.Checkout)
	}
	return s, nil
}

// Router builds the chi router with middleware and all routes mounted.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	origins := s.origins
	if len(origins) == 0 {
		// The widget is embedded on arbitrary client practice sites.
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.chatHandler)
		r.Post("/chat/stream", s.chatStreamHandler)
		r.Post("/guided", s.guidedHandler)
		r.Post("/signup", s.signupHandler)
		r.Post("/contact", s.contactHandler)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", s.adminLoginHandler)

			r.Group(func(r chi.Router) {
				r.Use(s.auth.Middleware)
				r.Get("/practices", s.listPracticesHandler)
				r.Get("/practices/active", s.listActivePracticesHandler)
				r.Post("/deploy", s.deployHandler)
				r.Get("/stats", s.statsHandler)
				r.Get("/leads", s.listLeadsHandler)
				r.Post("/practices/{practiceID}/status", s.updateStatusHandler)
				r.Get("/practices/{practiceID}/chatlog", s.chatLogHandler)
				r.Route("/practices/{practiceID}/qa", func(r chi.Router) {
					r.Get("/", s.listQAPairsHandler)
					r.Post("/", s.addQAPairHandler)
					r.Delete("/{pairID}", s.deleteQAPairHandler)
				})
			})
		})
	})

	return r
}

// Run starts the HTTP server and blocks until ctx is canceled or the listener
// fails.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Chairside API listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
