package types

import (
	"time"
)

// User represents a registry account. Users are created on first successful
// OAuth login and deactivated, never deleted, so that published versions keep
// a valid uploader reference.
type User struct {
	ID       int64    `json:"id"`
	Email    string   `json:"email"` // unique, compared case-insensitively
	Login    string   `json:"login"` // unique, used for Basic authentication
	Name     string   `json:"name"`
	Roles    []string `json:"roles"`
	IsActive bool     `json:"isActive"`
}

// RoleAdmin grants every privilege, including user management.
const RoleAdmin = "admin"

// IsAdmin reports whether the user carries the admin role.
func (u *User) IsAdmin() bool {
	for _, role := range u.Roles {
		if role == RoleAdmin {
			return true
		}
	}
	return false
}

// Token is an API credential issued to a user. Only the SHA-256 digest of the
// secret is persisted; the secret itself is returned once at creation.
type Token struct {
	ID           int64
	UserID       int64
	Name         string // unique per user
	SecretDigest string // hex SHA-256 of the secret
	LastUsed     time.Time
	CanWrite     bool
	CanAdmin     bool // implies CanWrite
}

// TokenWithSecret is the creation-time view of a token, carrying the secret.
type TokenWithSecret struct {
	Token
	Secret string
}

// AuthenticatedUser is the resolved principal for a request.
type AuthenticatedUser struct {
	Principal string `json:"principal"` // email of the user
	CanWrite  bool   `json:"canWrite"`
	CanAdmin  bool   `json:"canAdmin"`
}

// Crate is a uniquely named package.
type Crate struct {
	Name      string
	CreatedAt time.Time
}

// CrateVersion is the audit row for one published version. Immutable except
// for Yanked.
type CrateVersion struct {
	CrateName  string
	Version    string
	UploadedBy int64
	UploadedAt time.Time
	Yanked     bool
	Checksum   string // hex SHA-256 of the archive bytes
	Links      string
}

// CrateMetadata is the metadata block of a publish request, as sent by the
// package-manager client. Fields beyond name, vers and deps are passed
// through without semantic checks.
type CrateMetadata struct {
	Name          string                    `json:"name"`
	Vers          string                    `json:"vers"`
	Deps          []Dependency              `json:"deps"`
	Features      map[string][]string       `json:"features"`
	Authors       []string                  `json:"authors"`
	Description   string                    `json:"description,omitempty"`
	Documentation string                    `json:"documentation,omitempty"`
	Homepage      string                    `json:"homepage,omitempty"`
	Readme        string                    `json:"readme,omitempty"`
	ReadmeFile    string                    `json:"readme_file,omitempty"`
	Keywords      []string                  `json:"keywords"`
	Categories    []string                  `json:"categories"`
	License       string                    `json:"license,omitempty"`
	LicenseFile   string                    `json:"license_file,omitempty"`
	Repository    string                    `json:"repository"`
	Badges        map[string]map[string]any `json:"badges"`
	Links         string                    `json:"links,omitempty"`
}

// Dependency is a direct dependency as declared in the publish metadata.
type Dependency struct {
	Name               string   `json:"name"`
	VersionReq         string   `json:"version_req"`
	Features           []string `json:"features"`
	Optional           bool     `json:"optional"`
	DefaultFeatures    bool     `json:"default_features"`
	Target             string   `json:"target,omitempty"`
	Kind               string   `json:"kind"`
	Registry           string   `json:"registry,omitempty"`
	ExplicitNameInToml string   `json:"explicit_name_in_toml,omitempty"`
}

// Dependency kinds accepted on publish.
const (
	DepKindNormal = "normal"
	DepKindDev    = "dev"
	DepKindBuild  = "build"
)

// IndexRecord is the per-version JSON line written to the index repository.
// Field order is the wire contract consumed by package-manager clients.
type IndexRecord struct {
	Name     string              `json:"name"`
	Vers     string              `json:"vers"`
	Deps     []IndexDependency   `json:"deps"`
	Checksum string              `json:"cksum"`
	Features map[string][]string `json:"features"`
	Yanked   bool                `json:"yanked"`
	Links    string              `json:"links,omitempty"`
}

// IndexDependency is the index-side rendering of a Dependency. Renamed
// dependencies carry the original name in Name and the new one in Package.
type IndexDependency struct {
	Name            string   `json:"name"`
	Req             string   `json:"req"`
	Features        []string `json:"features"`
	Optional        bool     `json:"optional"`
	DefaultFeatures bool     `json:"default_features"`
	Target          string   `json:"target,omitempty"`
	Kind            string   `json:"kind"`
	Registry        string   `json:"registry,omitempty"`
	Package         string   `json:"package,omitempty"`
}

// IndexDependencyFrom converts a publish-side dependency to its index form.
func IndexDependencyFrom(dep *Dependency) IndexDependency {
	return IndexDependency{
		Name:            dep.Name,
		Req:             dep.VersionReq,
		Features:        dep.Features,
		Optional:        dep.Optional,
		DefaultFeatures: dep.DefaultFeatures,
		Target:          dep.Target,
		Kind:            dep.Kind,
		Registry:        dep.Registry,
		Package:         dep.ExplicitNameInToml,
	}
}

// CrateInfo merges the latest stored metadata with the index records and
// per-version audit fields.
type CrateInfo struct {
	Metadata *CrateMetadata     `json:"metadata"`
	Versions []CrateInfoVersion `json:"versions"`
}

// CrateInfoVersion is one version in a CrateInfo response.
type CrateInfoVersion struct {
	Index      IndexRecord `json:"index"`
	Upload     time.Time   `json:"upload"`
	UploadedBy *User       `json:"uploadedBy"`
}

// SearchResults is the response of the search endpoint.
type SearchResults struct {
	Crates []SearchResultCrate `json:"crates"`
	Meta   SearchResultsMeta   `json:"meta"`
}

// SearchResultCrate is one crate in search results. MaxVersion is the
// greatest non-yanked version, or the greatest version if all are yanked.
type SearchResultCrate struct {
	Name        string `json:"name"`
	MaxVersion  string `json:"max_version"`
	Description string `json:"description"`
}

// SearchResultsMeta carries the total number of matches on the server.
type SearchResultsMeta struct {
	Total int `json:"total"`
}

// UploadResult is the publish response.
type UploadResult struct {
	Warnings UploadWarnings `json:"warnings"`
}

// UploadWarnings accumulates non-fatal findings during publish validation.
type UploadWarnings struct {
	InvalidCategories []string `json:"invalid_categories"`
	InvalidBadges     []string `json:"invalid_badges"`
	Other             []string `json:"other"`
}

// YesNoResult is the cargo-protocol acknowledgement for mutations.
type YesNoResult struct {
	OK bool `json:"ok"`
}

// YesNoMsgResult is an acknowledgement with a user-facing message.
type YesNoMsgResult struct {
	OK  bool   `json:"ok"`
	Msg string `json:"msg"`
}

// OwnersQueryResult lists the owners of a crate.
type OwnersQueryResult struct {
	Users []*User `json:"users"`
}

// OwnersChangeQuery names users to add to or remove from a crate's owners.
type OwnersChangeQuery struct {
	Users []string `json:"users"`
}

// DocsJobState is the lifecycle of a documentation generation job.
type DocsJobState string

const (
	DocsJobQueued    DocsJobState = "queued"
	DocsJobRunning   DocsJobState = "running"
	DocsJobSucceeded DocsJobState = "succeeded"
	DocsJobFailed    DocsJobState = "failed"
)

// DocsJob is a queued documentation build for one crate version. Jobs are
// idempotent by (CrateName, Version).
type DocsJob struct {
	ID        string
	CrateName string
	Version   string
	State     DocsJobState
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExternalRegistry describes an upstream registry the internal builder may
// authenticate against.
type ExternalRegistry struct {
	Name     string
	Index    string
	DocsRoot string
	Login    string
	Token    string
}
