package registry

import (
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/cuemby/granary/pkg/apierr"
	"github.com/cuemby/granary/pkg/blob"
	"github.com/cuemby/granary/pkg/events"
	"github.com/cuemby/granary/pkg/types"
)

// downloadExpiry is how long a pre-signed download URL stays valid.
const downloadExpiry = 10 * time.Minute

// DownloadURL returns a pre-signed blob store URL for a crate archive.
func (r *Registry) DownloadURL(name, vers string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	if _, err := r.store.GetVersion(name, vers); err != nil {
		return "", err
	}
	return r.blobs.PresignGet(blob.ArchiveKey(name, vers), downloadExpiry), nil
}

// IndexVersions returns the raw index records of a crate, in publish order.
func (r *Registry) IndexVersions(name string) ([]types.IndexRecord, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return r.index.Versions(name)
}

// Info merges the latest stored metadata with the index records and the
// per-version audit fields.
func (r *Registry) Info(name string) (*types.CrateInfo, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	metadata, err := r.store.GetCrateMetadata(name)
	if err != nil {
		return nil, err
	}
	records, err := r.index.Versions(name)
	if err != nil {
		return nil, err
	}

	rows, err := r.store.VersionsOf(name)
	if err != nil {
		return nil, err
	}
	byVersion := make(map[string]*types.CrateVersion, len(rows))
	for _, row := range rows {
		byVersion[row.Version] = row
	}

	info := &types.CrateInfo{Metadata: metadata, Versions: make([]types.CrateInfoVersion, 0, len(records))}
	for _, record := range records {
		entry := types.CrateInfoVersion{Index: record}
		if row := byVersion[record.Vers]; row != nil {
			entry.Upload = row.UploadedAt
			if user, err := r.store.UserByID(row.UploadedBy); err == nil {
				entry.UploadedBy = user
			}
		}
		info.Versions = append(info.Versions, entry)
	}
	return info, nil
}

// Search matches the query as a substring of crate name or description and
// returns results ordered by most-recently-published version, newest first.
func (r *Registry) Search(query string, perPage int) (*types.SearchResults, error) {
	if perPage <= 0 {
		perPage = 10
	}

	crates, err := r.store.ListCrates()
	if err != nil {
		return nil, err
	}

	type match struct {
		result    types.SearchResultCrate
		published time.Time
	}
	needle := strings.ToLower(query)
	var matches []match
	for _, crate := range crates {
		description := ""
		if metadata, err := r.store.GetCrateMetadata(crate.Name); err == nil {
			description = metadata.Description
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(crate.Name), needle) &&
			!strings.Contains(strings.ToLower(description), needle) {
			continue
		}

		rows, err := r.store.VersionsOf(crate.Name)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			continue
		}
		var newest time.Time
		for _, row := range rows {
			if row.UploadedAt.After(newest) {
				newest = row.UploadedAt
			}
		}
		matches = append(matches, match{
			result: types.SearchResultCrate{
				Name:        crate.Name,
				MaxVersion:  maxVersion(rows),
				Description: description,
			},
			published: newest,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].published.After(matches[j].published)
	})

	results := &types.SearchResults{
		Crates: make([]types.SearchResultCrate, 0, len(matches)),
		Meta:   types.SearchResultsMeta{Total: len(matches)},
	}
	for i, m := range matches {
		if i >= perPage {
			break
		}
		results.Crates = append(results.Crates, m.result)
	}
	return results, nil
}

// maxVersion returns the greatest non-yanked semver version, or the greatest
// version overall when every version is yanked.
func maxVersion(rows []*types.CrateVersion) string {
	var best, bestAny *semver.Version
	var bestRaw, bestAnyRaw string
	for _, row := range rows {
		version, err := semver.NewVersion(row.Version)
		if err != nil {
			continue
		}
		if bestAny == nil || version.GreaterThan(bestAny) {
			bestAny, bestAnyRaw = version, row.Version
		}
		if !row.Yanked && (best == nil || version.GreaterThan(best)) {
			best, bestRaw = version, row.Version
		}
	}
	if best != nil {
		return bestRaw
	}
	return bestAnyRaw
}

// Owners lists the owners of a crate.
func (r *Registry) Owners(name string) (*types.OwnersQueryResult, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	ids, err := r.store.OwnersOf(name)
	if err != nil {
		return nil, err
	}
	result := &types.OwnersQueryResult{Users: make([]*types.User, 0, len(ids))}
	for _, id := range ids {
		user, err := r.store.UserByID(id)
		if err != nil {
			return nil, err
		}
		result.Users = append(result.Users, user)
	}
	return result, nil
}

// AddOwners adds users, by login, to a crate's owners. Requires owner or
// admin.
func (r *Registry) AddOwners(caller *types.AuthenticatedUser, name string, logins []string) (*types.YesNoMsgResult, error) {
	if err := r.authorizeOwnerChange(caller, name); err != nil {
		return nil, err
	}
	added := make([]string, 0, len(logins))
	for _, login := range logins {
		user, err := r.store.UserByLogin(login)
		if err != nil {
			return nil, apierr.NotFound("user " + login + " not found")
		}
		if err := r.store.AddOwner(name, user.ID); err != nil {
			return nil, err
		}
		added = append(added, login)
		r.broker.Publish(events.Event{
			Type:      events.EventOwnerAdded,
			Crate:     name,
			Principal: caller.Principal,
			Message:   login,
		})
	}
	return &types.YesNoMsgResult{
		OK:  true,
		Msg: "added " + strings.Join(added, ", ") + " as owners of " + name,
	}, nil
}

// RemoveOwners removes users, by login, from a crate's owners, never leaving
// the crate ownerless. Requires owner or admin.
func (r *Registry) RemoveOwners(caller *types.AuthenticatedUser, name string, logins []string) (*types.YesNoResult, error) {
	if err := r.authorizeOwnerChange(caller, name); err != nil {
		return nil, err
	}
	for _, login := range logins {
		user, err := r.store.UserByLogin(login)
		if err != nil {
			return nil, apierr.NotFound("user " + login + " not found")
		}
		if err := r.store.RemoveOwner(name, user.ID); err != nil {
			return nil, err
		}
		r.broker.Publish(events.Event{
			Type:      events.EventOwnerRemoved,
			Crate:     name,
			Principal: caller.Principal,
			Message:   login,
		})
	}
	return &types.YesNoResult{OK: true}, nil
}

func (r *Registry) authorizeOwnerChange(caller *types.AuthenticatedUser, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if r.isAdmin(caller) {
		return nil
	}
	user, err := r.resolveUser(caller)
	if err != nil {
		return err
	}
	if !r.isOwner(user.ID, name) {
		return apierr.Forbidden()
	}
	return nil
}
