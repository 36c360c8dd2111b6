package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/granary/pkg/apierr"
	"github.com/cuemby/granary/pkg/auth"
	"github.com/cuemby/granary/pkg/types"
)

// handleLogin starts the OAuth flow by redirecting the browser to the
// configured login page with a fresh CSRF state.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, s.auth.LoginURL(), http.StatusFound)
}

// handleCallback finishes the OAuth flow and issues the session cookie.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		writeError(w, apierr.InvalidRequest("missing state or code"))
		return
	}

	user, session, err := s.auth.HandleCallback(r.Context(), state, code)
	if err != nil {
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    session.ID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, user)
}

// handleMe returns the resolved principal and its capabilities.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, principal(r))
}

// tokenCreateRequest is the payload for creating an API token.
type tokenCreateRequest struct {
	Name     string `json:"name"`
	CanWrite bool   `json:"canWrite"`
	CanAdmin bool   `json:"canAdmin"`
}

// tokenResponse is the secret-free rendering of a token.
type tokenResponse struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	LastUsed string `json:"lastUsed"`
	CanWrite bool   `json:"canWrite"`
	CanAdmin bool   `json:"canAdmin"`
}

func renderToken(token *types.Token) tokenResponse {
	return tokenResponse{
		ID:       token.ID,
		Name:     token.Name,
		LastUsed: token.LastUsed.Format("2006-01-02T15:04:05Z"),
		CanWrite: token.CanWrite,
		CanAdmin: token.CanAdmin,
	}
}

func (s *Server) handleTokensList(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.registry.ListTokens(principal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	rendered := make([]tokenResponse, 0, len(tokens))
	for _, token := range tokens {
		rendered = append(rendered, renderToken(token))
	}
	writeJSON(w, http.StatusOK, rendered)
}

func (s *Server) handleTokenCreate(w http.ResponseWriter, r *http.Request) {
	var req tokenCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.InvalidRequest("token payload is not valid JSON"))
		return
	}
	issued, err := s.registry.IssueToken(principal(r), req.Name, req.CanWrite, req.CanAdmin)
	if err != nil {
		writeError(w, err)
		return
	}
	// The secret appears in this response and nowhere else.
	writeJSON(w, http.StatusOK, struct {
		tokenResponse
		Secret string `json:"secret"`
	}{renderToken(&issued.Token), issued.Secret})
}

func (s *Server) handleTokenRevoke(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, apierr.InvalidRequest("token id must be an integer"))
		return
	}
	result, err := s.registry.RevokeToken(principal(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// userUpdateRequest patches a user's active flag or roles. Admin only.
type userUpdateRequest struct {
	IsActive *bool     `json:"isActive,omitempty"`
	Roles    *[]string `json:"roles,omitempty"`
}

func (s *Server) handleUsersList(w http.ResponseWriter, r *http.Request) {
	users, err := s.registry.ListUsers(principal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleUserUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, apierr.InvalidRequest("user id must be an integer"))
		return
	}
	var req userUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.InvalidRequest("user payload is not valid JSON"))
		return
	}

	caller := principal(r)
	if req.IsActive != nil {
		if _, err := s.registry.SetUserActive(caller, id, *req.IsActive); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Roles != nil {
		if _, err := s.registry.SetUserRoles(caller, id, *req.Roles); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, types.YesNoResult{OK: true})
}
