// Package rpc exposes the staking engine over HTTP. Reads are public; every
// state change requires a bearer token whose subject is the caller address.
package rpc

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"licensestake/core/events"
	"licensestake/indexer"
)

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Auth                AuthConfig
	RateLimitPerSecond  float64
	RateLimitBurst      int
	TrustProxyHeaders   bool
	TrustedProxies      []string
	MaxRequestBodyBytes int64
	ReadHeaderTimeout   time.Duration
	WriteTimeout        time.Duration
}

type Server struct {
	service *Service
	stream  *events.Stream
	archive *indexer.Archive
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	cfg     ServerConfig
	handler http.Handler
}

// NewServer wires routes over service. stream and archive are optional.
func NewServer(cfg ServerConfig, service *Service, stream *events.Stream, archive *indexer.Archive, logger *slog.Logger) (*Server, error) {
	if service == nil {
		return nil, errors.New("rpc: service required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rpc")
	auth, err := NewAuthenticator(cfg.Auth, logger)
	if err != nil {
		return nil, err
	}
	s := &Server{
		service: service,
		stream:  stream,
		archive: archive,
		auth:    auth,
		limiter: NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, cfg.TrustProxyHeaders, cfg.TrustedProxies),
		logger:  logger,
		cfg:     cfg,
	}
	s.handler = otelhttp.NewHandler(s.routes(), "licensed")
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.observe)
	r.Use(limitBody(s.cfg.MaxRequestBodyBytes))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := s.service.Health(); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(public chi.Router) {
			public.Use(s.limiter.Middleware)
			public.Get("/status", s.handleStatus)
			public.Get("/accounts/{address}", s.handleAccount)
			public.Get("/accounts/{address}/pending", s.handlePending)
			public.Get("/accounts/{address}/balance", s.handleBalance)
			public.Get("/positions/{tokenID}", s.handlePosition)
			public.Get("/licenses/{tokenID}", s.handleLicense)
			public.Get("/settlements", s.handleSettlements)
			public.Get("/settlements/{epoch}", s.handleSettlement)
			public.Get("/events", s.handleEvents)
			public.Get("/events/stream", s.handleEventStream)
		})
		api.Group(func(protected chi.Router) {
			protected.Use(s.auth.Middleware)
			protected.Use(s.limiter.Middleware)
			protected.Post("/licenses/{tokenID}/approve", s.handleApprove)
			protected.Post("/stake/lock", s.handleLock)
			protected.Post("/stake/unlock", s.handleUnlock)
			protected.Post("/stake/claim", s.handleClaim)
			protected.Post("/epochs/close", s.handleCloseEpoch)
			protected.Post("/admin/licenses", s.handleMintLicense)
			protected.Post("/admin/fund", s.handleFund)
			protected.Post("/admin/pause", s.handlePause(true))
			protected.Post("/admin/unpause", s.handlePause(false))
		})
	})
	return r
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving API", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
