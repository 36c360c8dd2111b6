package registry

import (
	"github.com/cuemby/granary/pkg/apierr"
	"github.com/cuemby/granary/pkg/types"
)

// ListUsers returns every registry user. Admin only.
func (r *Registry) ListUsers(caller *types.AuthenticatedUser) ([]*types.User, error) {
	if !r.isAdmin(caller) {
		return nil, apierr.Forbidden()
	}
	return r.store.ListUsers()
}

// SetUserActive activates or deactivates a user. Admin only; users are never
// deleted so version audit rows keep a valid uploader.
func (r *Registry) SetUserActive(caller *types.AuthenticatedUser, userID int64, active bool) (*types.YesNoResult, error) {
	if !r.isAdmin(caller) {
		return nil, apierr.Forbidden()
	}
	if err := r.store.SetUserActive(userID, active); err != nil {
		return nil, err
	}
	return &types.YesNoResult{OK: true}, nil
}

// SetUserRoles replaces a user's role tags. Admin only.
func (r *Registry) SetUserRoles(caller *types.AuthenticatedUser, userID int64, roles []string) (*types.YesNoResult, error) {
	if !r.isAdmin(caller) {
		return nil, apierr.Forbidden()
	}
	if err := r.store.SetUserRoles(userID, roles); err != nil {
		return nil, err
	}
	return &types.YesNoResult{OK: true}, nil
}

// IssueToken creates an API token for the caller. The secret appears only in
// this response.
func (r *Registry) IssueToken(caller *types.AuthenticatedUser, name string, canWrite, canAdmin bool) (*types.TokenWithSecret, error) {
	user, err := r.resolveUser(caller)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, apierr.InvalidRequest("token name must not be empty")
	}
	// A credential cannot mint a stronger one.
	if canWrite && !caller.CanWrite {
		return nil, apierr.Forbidden()
	}
	if canAdmin && !caller.CanAdmin {
		return nil, apierr.Forbidden()
	}
	return r.store.IssueToken(user.ID, name, canWrite, canAdmin)
}

// ListTokens returns the caller's tokens, without secrets.
func (r *Registry) ListTokens(caller *types.AuthenticatedUser) ([]*types.Token, error) {
	user, err := r.resolveUser(caller)
	if err != nil {
		return nil, err
	}
	return r.store.TokensByUser(user.ID)
}

// RevokeToken deletes one of the caller's tokens.
func (r *Registry) RevokeToken(caller *types.AuthenticatedUser, tokenID int64) (*types.YesNoResult, error) {
	user, err := r.resolveUser(caller)
	if err != nil {
		return nil, err
	}
	if err := r.store.RevokeToken(user.ID, tokenID); err != nil {
		return nil, err
	}
	return &types.YesNoResult{OK: true}, nil
}
