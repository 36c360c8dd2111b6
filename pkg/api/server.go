package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/cuemby/granary/pkg/auth"
	"github.com/cuemby/granary/pkg/config"
	"github.com/cuemby/granary/pkg/log"
	"github.com/cuemby/granary/pkg/metrics"
	"github.com/cuemby/granary/pkg/registry"
)

const (
	requestTimeout    = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Server is the registry HTTP API server.
type Server struct {
	cfg      *config.Config
	registry *registry.Registry
	auth     *auth.Service
	logger   zerolog.Logger
}

// NewServer creates the API server.
func NewServer(cfg *config.Config, reg *registry.Registry, authService *auth.Service) *Server {
	return &Server{
		cfg:      cfg,
		registry: reg,
		auth:     authService,
		logger:   log.WithComponent("api"),
	}
}

// Router builds the HTTP routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		s.observe,
		middleware.Timeout(requestTimeout),
	)

	// Unauthenticated surface: health, metrics, and the browser login flow.
	r.Get("/health", metrics.HealthHandler())
	r.Get("/ready", metrics.ReadyHandler())
	r.Get("/live", metrics.LivenessHandler())
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/login", s.handleLogin)
	r.Get("/callback", s.handleCallback)

	// The cargo-facing API. auth-required is advertised in the index
	// config.json, so every route resolves a principal first.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.limitBody)

		r.Get("/me", s.handleMe)

		r.Route("/crates", func(r chi.Router) {
			r.Get("/", s.handleSearch)
			r.Put("/new", s.handlePublish)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.handleCrateInfo)
				r.Get("/versions", s.handleVersions)
				r.Get("/{version}/download", s.handleDownload)
				r.Delete("/{version}/yank", s.handleYank)
				r.Put("/{version}/unyank", s.handleUnyank)
				r.Get("/owners", s.handleOwnersList)
				r.Put("/owners", s.handleOwnersAdd)
				r.Delete("/owners", s.handleOwnersRemove)
			})
		})

		r.Route("/tokens", func(r chi.Router) {
			r.Get("/", s.handleTokensList)
			r.Post("/", s.handleTokenCreate)
			r.Delete("/{id}", s.handleTokenRevoke)
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/", s.handleUsersList)
			r.Patch("/{id}", s.handleUserUpdate)
		})
	})

	return r
}

// Serve runs the HTTP server until the context is canceled.
func (s *Server) Serve(ctx context.Context) error {
	address := net.JoinHostPort(s.cfg.WebListenOnIP, strconv.Itoa(s.cfg.WebListenOnPort))
	server := &http.Server{
		Addr:              address,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", address).Msg("API server listening")
		metrics.UpdateComponent("api", true, "")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		metrics.UpdateComponent("api", false, err.Error())
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
