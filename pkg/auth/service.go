package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/cuemby/granary/pkg/apierr"
	"github.com/cuemby/granary/pkg/config"
	"github.com/cuemby/granary/pkg/events"
	"github.com/cuemby/granary/pkg/log"
	"github.com/cuemby/granary/pkg/security"
	"github.com/cuemby/granary/pkg/storage"
	"github.com/cuemby/granary/pkg/types"
)

const (
	// SessionCookie is the name of the browser session cookie.
	SessionCookie = "granary-session"

	oauthTimeout  = 10 * time.Second
	stateLifetime = 10 * time.Minute
)

// Service resolves principals and capabilities for every request: browser
// sessions from the OAuth flow, API tokens from the metadata store, and the
// process-lifetime self-service principal.
type Service struct {
	store    storage.Store
	oauth    *oauth2.Config
	userInfo string
	broker   *events.Broker
	Sessions *SessionStore

	selfLogin string
	selfToken string

	states   map[string]time.Time
	statesMu sync.Mutex

	logger zerolog.Logger
}

// NewService creates the auth service. The self-service credential comes from
// the configuration, freshly generated for this process. The broker may be
// nil; login events are then dropped.
func NewService(cfg *config.Config, store storage.Store, broker *events.Broker) *Service {
	return &Service{
		store:  store,
		broker: broker,
		oauth: &oauth2.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			RedirectURL:  cfg.OAuth.CallbackURI,
			Scopes:       strings.Fields(cfg.OAuth.ClientScope),
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.OAuth.LoginURI,
				TokenURL: cfg.OAuth.TokenURI,
			},
		},
		userInfo:  cfg.OAuth.UserInfoURI,
		Sessions:  NewSessionStore(),
		selfLogin: cfg.SelfServiceLogin,
		selfToken: cfg.SelfServiceToken,
		states:    make(map[string]time.Time),
		logger:    log.WithComponent("auth"),
	}
}

// SelfServicePrincipal is the principal string of the internal service
// account.
const SelfServicePrincipal = "self-service"

// IsSelfService reports whether a principal is the internal service account.
func IsSelfService(principal string) bool {
	return principal == SelfServicePrincipal
}

// LoginURL creates a fresh CSRF state and returns the browser redirect
// target for the OAuth login page.
func (s *Service) LoginURL() string {
	state := security.MustGenerateToken(32)

	s.statesMu.Lock()
	s.states[state] = time.Now().Add(stateLifetime)
	s.statesMu.Unlock()

	return s.oauth.AuthCodeURL(state)
}

// consumeState validates a callback state. States are single-use.
func (s *Service) consumeState(state string) bool {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()

	expiry, exists := s.states[state]
	if !exists {
		return false
	}
	delete(s.states, state)
	return time.Now().Before(expiry)
}

// userInfoResponse is the subset of the userinfo document the registry needs.
type userInfoResponse struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// HandleCallback finishes the OAuth flow: verifies state, exchanges the code,
// fetches the userinfo document, upserts the user keyed by email, and opens a
// session.
func (s *Service) HandleCallback(ctx context.Context, state, code string) (*types.User, *Session, error) {
	if !s.consumeState(state) {
		return nil, nil, apierr.InvalidRequest("invalid or expired OAuth state")
	}

	ctx, cancel := context.WithTimeout(ctx, oauthTimeout)
	defer cancel()

	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, nil, apierr.Upstream("OAuth code exchange failed", err)
	}

	info, err := s.fetchUserInfo(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if info.Email == "" {
		return nil, nil, apierr.Upstream("userinfo document carries no email", nil)
	}

	user, err := s.store.UpsertUserFromOAuth(info.Email, info.Name)
	if err != nil {
		return nil, nil, err
	}
	if !user.IsActive {
		return nil, nil, apierr.Unauthorized()
	}

	session := s.Sessions.Create(user.Email)
	s.logger.Info().Str("principal", user.Email).Msg("user logged in")
	if s.broker != nil {
		s.broker.Publish(events.Event{
			Type:      events.EventUserLoggedIn,
			Principal: user.Email,
		})
	}
	return user, session, nil
}

func (s *Service) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*userInfoResponse, error) {
	client := s.oauth.Client(ctx, token)
	resp, err := client.Get(s.userInfo)
	if err != nil {
		return nil, apierr.Upstream("userinfo request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, apierr.Upstream(
			fmt.Sprintf("userinfo returned %d", resp.StatusCode),
			fmt.Errorf("%s", strings.TrimSpace(string(body))),
		)
	}

	var info userInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, apierr.Upstream("userinfo document is not valid JSON", err)
	}
	return &info, nil
}

// Authenticate resolves the principal of a request from, in order: the
// session cookie, a Bearer token, or Basic login:token credentials.
func (s *Service) Authenticate(r *http.Request) (*types.AuthenticatedUser, error) {
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		if session := s.Sessions.Get(cookie.Value); session != nil {
			return s.resolveSessionUser(session.Principal)
		}
	}

	header := r.Header.Get("Authorization")
	switch {
	case strings.HasPrefix(header, "Bearer "):
		return s.authenticateToken("", strings.TrimPrefix(header, "Bearer "))
	case strings.HasPrefix(header, "Basic "):
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Basic "))
		if err != nil {
			return nil, apierr.Unauthorized()
		}
		login, secret, ok := strings.Cut(string(decoded), ":")
		if !ok {
			return nil, apierr.Unauthorized()
		}
		return s.authenticateToken(login, secret)
	case header != "":
		// Cargo sends the raw token without a scheme.
		return s.authenticateToken("", header)
	}
	return nil, apierr.Unauthorized()
}

func (s *Service) resolveSessionUser(principal string) (*types.AuthenticatedUser, error) {
	user, err := s.store.UserByEmail(principal)
	if err != nil || !user.IsActive {
		return nil, apierr.Unauthorized()
	}
	return &types.AuthenticatedUser{
		Principal: user.Email,
		CanWrite:  true,
		CanAdmin:  user.IsAdmin(),
	}, nil
}

func (s *Service) authenticateToken(login, secret string) (*types.AuthenticatedUser, error) {
	if s.isSelfServiceCredential(login, secret) {
		return &types.AuthenticatedUser{
			Principal: SelfServicePrincipal,
			CanWrite:  true,
			CanAdmin:  true,
		}, nil
	}

	var (
		user  *types.User
		token *types.Token
		err   error
	)
	if login == "" {
		user, token, err = s.store.CheckToken(secret)
	} else {
		user, token, err = s.store.CheckTokenForLogin(login, secret)
	}
	if err != nil {
		return nil, apierr.Unauthorized()
	}
	return &types.AuthenticatedUser{
		Principal: user.Email,
		CanWrite:  token.CanWrite,
		CanAdmin:  token.CanAdmin,
	}, nil
}

// isSelfServiceCredential compares against the process credential in
// constant time. The Bearer form matches on the token alone.
func (s *Service) isSelfServiceCredential(login, secret string) bool {
	tokenMatch := subtle.ConstantTimeCompare([]byte(secret), []byte(s.selfToken)) == 1
	if login == "" {
		return tokenMatch
	}
	loginMatch := subtle.ConstantTimeCompare([]byte(login), []byte(s.selfLogin)) == 1
	return tokenMatch && loginMatch
}
