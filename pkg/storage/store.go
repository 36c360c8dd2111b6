package storage

import (
	"github.com/cuemby/granary/pkg/types"
)

// Store defines the interface for registry metadata persistence.
// This is implemented by BoltDB-backed storage.
type Store interface {
	// Users
	UserByID(id int64) (*types.User, error)
	UserByEmail(email string) (*types.User, error)
	UserByLogin(login string) (*types.User, error)
	UpsertUserFromOAuth(email, name string) (*types.User, error)
	SetUserActive(id int64, active bool) error
	SetUserRoles(id int64, roles []string) error
	ListUsers() ([]*types.User, error)

	// Tokens
	IssueToken(userID int64, name string, canWrite, canAdmin bool) (*types.TokenWithSecret, error)
	TokensByUser(userID int64) ([]*types.Token, error)
	RevokeToken(userID, tokenID int64) error
	CheckToken(secret string) (*types.User, *types.Token, error)
	CheckTokenForLogin(login, secret string) (*types.User, *types.Token, error)

	// Crates and versions
	GetCrate(name string) (*types.Crate, error)
	ListCrates() ([]*types.Crate, error)
	GetCrateMetadata(name string) (*types.CrateMetadata, error)
	VersionsOf(name string) ([]*types.CrateVersion, error)
	GetVersion(name, version string) (*types.CrateVersion, error)
	ApplyPublish(version *types.CrateVersion, metadata *types.CrateMetadata, ownerID int64) error
	SetVersionYanked(name, version string, yanked bool) error

	// Owners
	OwnersOf(name string) ([]int64, error)
	AddOwner(name string, userID int64) error
	RemoveOwner(name string, userID int64) error

	// Docs jobs
	EnqueueDocsJob(name, version string) (*types.DocsJob, error)
	TakeDocsJob() (*types.DocsJob, error)
	CompleteDocsJob(id string, succeeded bool) error
	ListDocsJobs() ([]*types.DocsJob, error)

	Close() error
}
