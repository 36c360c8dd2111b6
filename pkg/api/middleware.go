package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/cuemby/granary/pkg/apierr"
	"github.com/cuemby/granary/pkg/metrics"
	"github.com/cuemby/granary/pkg/types"
)

// principalKey is the context key carrying the authenticated principal.
type principalKey struct{}

// principal extracts the authenticated principal from a request context.
func principal(r *http.Request) *types.AuthenticatedUser {
	caller, _ := r.Context().Value(principalKey{}).(*types.AuthenticatedUser)
	return caller
}

// authenticate resolves the principal for every API route.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.auth.Authenticate(r)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// limitBody caps request bodies at the configured limit.
func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.WebBodyLimit)
		next.ServeHTTP(w, r)
	})
}

// observe records request metrics and logs each request with its id.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(wrapped, r)

		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(wrapped.Status())).Inc()
		s.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.Status()).
			Dur("duration", timer.Duration()).
			Msg("request handled")
	})
}

// requireWrite rejects callers without the write capability before the
// handler does any work.
func requireWrite(caller *types.AuthenticatedUser) error {
	if caller == nil || !caller.CanWrite {
		return apierr.Forbidden()
	}
	return nil
}
