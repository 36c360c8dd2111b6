package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/granary/pkg/apierr"
	"github.com/cuemby/granary/pkg/auth"
	"github.com/cuemby/granary/pkg/blob"
	"github.com/cuemby/granary/pkg/events"
	"github.com/cuemby/granary/pkg/index"
	"github.com/cuemby/granary/pkg/log"
	"github.com/cuemby/granary/pkg/metrics"
	"github.com/cuemby/granary/pkg/security"
	"github.com/cuemby/granary/pkg/storage"
	"github.com/cuemby/granary/pkg/types"
)

// compensationTimeout bounds the rollback work that runs after the request
// context is no longer trustworthy.
const compensationTimeout = 30 * time.Second

// BlobStore is the subset of the blob client the registry core needs.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	PresignGet(key string, expiry time.Duration) string
}

// Registry implements the registry operations on top of the metadata store,
// the index repository, and the blob store.
type Registry struct {
	store  storage.Store
	index  *index.Repository
	blobs  BlobStore
	broker *events.Broker
	pushes bool // whether index commits are pushed to a remote
	logger zerolog.Logger
}

// New creates the registry core.
func New(store storage.Store, idx *index.Repository, blobs BlobStore, broker *events.Broker, remotePush bool) *Registry {
	return &Registry{
		store:  store,
		index:  idx,
		blobs:  blobs,
		broker: broker,
		pushes: remotePush,
		logger: log.WithComponent("registry"),
	}
}

// resolveUser maps a principal to its user row. The self-service principal
// has no row; operations that need one reject it.
func (r *Registry) resolveUser(caller *types.AuthenticatedUser) (*types.User, error) {
	if auth.IsSelfService(caller.Principal) {
		return nil, apierr.Forbidden()
	}
	user, err := r.store.UserByEmail(caller.Principal)
	if err != nil {
		return nil, apierr.Unauthorized()
	}
	if !user.IsActive {
		return nil, apierr.Unauthorized()
	}
	return user, nil
}

// isAdmin reports whether the caller may exercise admin privileges: the
// credential must carry can_admin, and the user must hold the admin role.
// The self-service principal is always an admin.
func (r *Registry) isAdmin(caller *types.AuthenticatedUser) bool {
	if !caller.CanAdmin {
		return false
	}
	if auth.IsSelfService(caller.Principal) {
		return true
	}
	user, err := r.store.UserByEmail(caller.Principal)
	return err == nil && user.IsActive && user.IsAdmin()
}

// isOwner reports whether a user owns a crate.
func (r *Registry) isOwner(userID int64, name string) bool {
	owners, err := r.store.OwnersOf(name)
	if err != nil {
		return false
	}
	for _, id := range owners {
		if id == userID {
			return true
		}
	}
	return false
}

// Publish runs the publish pipeline over a raw envelope payload. From the
// archive hashing onward the index mutex is held, so the blob upload, the
// index commit, and the metadata store transaction are serialized with every
// other publish and yank; compensation runs in reverse order of the forward
// path.
func (r *Registry) Publish(ctx context.Context, caller *types.AuthenticatedUser, payload []byte) (*types.UploadResult, error) {
	if !caller.CanWrite {
		return nil, apierr.Forbidden()
	}
	user, err := r.resolveUser(caller)
	if err != nil {
		return nil, err
	}

	upload, err := ParseEnvelope(payload)
	if err != nil {
		return nil, err
	}
	result, err := ValidateMetadata(&upload.Metadata)
	if err != nil {
		return nil, err
	}
	name, vers := upload.Metadata.Name, upload.Metadata.Vers
	logger := log.WithCrate(name, vers)
	timer := metrics.NewTimer()
	defer func() { timer.ObserveDuration(metrics.PublishDuration) }()

	// Ownership: an existing crate requires the caller among its owners; a
	// new crate records the caller as first owner.
	if _, err := r.store.GetCrate(name); err == nil {
		if !r.isOwner(user.ID, name) && !r.isAdmin(caller) {
			return nil, apierr.Forbidden()
		}
	} else if !errors.Is(err, apierr.NotFound("")) {
		return nil, err
	}

	// Uniqueness: a version can never be republished, yanked or not.
	if _, err := r.store.GetVersion(name, vers); err == nil {
		return nil, apierr.Conflict(fmt.Sprintf("%s %s already exists", name, vers))
	}

	r.index.Lock()
	defer r.index.Unlock()

	checksum := security.Sha256Hex(upload.Content)
	record := upload.BuildIndexRecord(checksum)
	key := blob.ArchiveKey(name, vers)

	if err := r.blobs.Put(ctx, key, upload.Content); err != nil {
		// Nothing to undo: no index line, no database row.
		metrics.PublishFailuresTotal.WithLabelValues("blob").Inc()
		return nil, err
	}

	if err := r.index.Append(ctx, record); err != nil {
		// Append rolled its own commit back on push failure; the uploaded
		// blob is the only side effect left.
		metrics.PublishFailuresTotal.WithLabelValues("index").Inc()
		r.compensateBlob(key)
		return nil, err
	}

	version := &types.CrateVersion{
		CrateName:  name,
		Version:    vers,
		UploadedBy: user.ID,
		UploadedAt: time.Now().UTC(),
		Checksum:   checksum,
		Links:      upload.Metadata.Links,
	}
	if err := r.store.ApplyPublish(version, &upload.Metadata, user.ID); err != nil {
		metrics.PublishFailuresTotal.WithLabelValues("database").Inc()
		r.compensateIndex()
		r.compensateBlob(key)
		return nil, err
	}

	logger.Info().Str("principal", caller.Principal).Str("cksum", checksum).Msg("published crate version")
	metrics.PublishesTotal.Inc()
	r.broker.Publish(events.Event{
		Type:      events.EventCratePublished,
		Crate:     name,
		Version:   vers,
		Principal: caller.Principal,
	})
	r.broker.Publish(events.Event{
		Type:    events.EventDocsQueued,
		Crate:   name,
		Version: vers,
	})
	return result, nil
}

// compensateIndex rolls back the last index commit on a detached context.
func (r *Registry) compensateIndex() {
	ctx, cancel := context.WithTimeout(context.Background(), compensationTimeout)
	defer cancel()
	metrics.IndexRollbacksTotal.Inc()
	if err := r.index.Rollback(ctx, r.pushes); err != nil {
		r.logger.Error().Err(err).Msg("failed to roll back index commit")
	}
}

// compensateBlob deletes an uploaded archive on a detached context.
func (r *Registry) compensateBlob(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), compensationTimeout)
	defer cancel()
	if err := r.blobs.Delete(ctx, key); err != nil {
		r.logger.Error().Err(err).Str("key", key).Msg("failed to delete uploaded archive during rollback")
	}
}

// SetYanked yanks or unyanks a version: the index line is rewritten and the
// database row updated under the same mutex, with the index commit rolled
// back if the database update fails.
func (r *Registry) SetYanked(ctx context.Context, caller *types.AuthenticatedUser, name, vers string, yanked bool) (*types.YesNoResult, error) {
	if !caller.CanWrite {
		return nil, apierr.Forbidden()
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if !r.isAdmin(caller) {
		user, err := r.resolveUser(caller)
		if err != nil {
			return nil, err
		}
		if !r.isOwner(user.ID, name) {
			return nil, apierr.Forbidden()
		}
	}

	r.index.Lock()
	defer r.index.Unlock()

	row, err := r.store.GetVersion(name, vers)
	if err != nil {
		return nil, err
	}
	if row.Yanked == yanked {
		// Already in the requested state.
		return &types.YesNoResult{OK: true}, nil
	}

	if err := r.index.SetYanked(ctx, name, vers, yanked); err != nil {
		return nil, err
	}
	if err := r.store.SetVersionYanked(name, vers, yanked); err != nil {
		r.compensateIndex()
		return nil, err
	}

	eventType := events.EventVersionYanked
	if !yanked {
		eventType = events.EventVersionUnyanked
	}
	metrics.YanksTotal.Inc()
	r.broker.Publish(events.Event{
		Type:      eventType,
		Crate:     name,
		Version:   vers,
		Principal: caller.Principal,
	})
	return &types.YesNoResult{OK: true}, nil
}
