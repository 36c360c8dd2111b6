package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/granary/pkg/apierr"
	"github.com/cuemby/granary/pkg/security"
	"github.com/cuemby/granary/pkg/types"
)

var (
	// Bucket names
	bucketUsers          = []byte("users")
	bucketUsersByEmail   = []byte("users_by_email")
	bucketUsersByLogin   = []byte("users_by_login")
	bucketTokens         = []byte("tokens")
	bucketTokensByDigest = []byte("tokens_by_digest")
	bucketCrates         = []byte("crates")
	bucketCrateMetadata  = []byte("crate_metadata")
	bucketVersions       = []byte("versions")
	bucketOwners         = []byte("owners")
	bucketDocsJobs       = []byte("docs_jobs")
	bucketDocsJobsByRef  = []byte("docs_jobs_by_ref")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store at {dataDir}/registry.db
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "registry.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketUsers,
			bucketUsersByEmail,
			bucketUsersByLogin,
			bucketTokens,
			bucketTokensByDigest,
			bucketCrates,
			bucketCrateMetadata,
			bucketVersions,
			bucketOwners,
			bucketDocsJobs,
			bucketDocsJobsByRef,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// i64Key encodes an int64 id as a big-endian key so ids sort numerically.
func i64Key(id int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

// versionKey is the composite key for a crate version.
func versionKey(name, version string) []byte {
	return []byte(name + "@" + version)
}

// emailKey normalizes an email for the unique index.
func emailKey(email string) []byte {
	return []byte(strings.ToLower(email))
}

// User operations

func (s *BoltStore) UserByID(id int64) (*types.User, error) {
	var user types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		return getUser(tx, id, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func getUser(tx *bolt.Tx, id int64, user *types.User) error {
	data := tx.Bucket(bucketUsers).Get(i64Key(id))
	if data == nil {
		return apierr.NotFound(fmt.Sprintf("user %d not found", id))
	}
	return json.Unmarshal(data, user)
}

func (s *BoltStore) UserByEmail(email string) (*types.User, error) {
	return s.userByIndex(bucketUsersByEmail, emailKey(email))
}

func (s *BoltStore) UserByLogin(login string) (*types.User, error) {
	return s.userByIndex(bucketUsersByLogin, []byte(login))
}

func (s *BoltStore) userByIndex(index, key []byte) (*types.User, error) {
	var user types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		ref := tx.Bucket(index).Get(key)
		if ref == nil {
			return apierr.NotFound("user not found")
		}
		data := tx.Bucket(bucketUsers).Get(ref)
		if data == nil {
			return apierr.NotFound("user not found")
		}
		return json.Unmarshal(data, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpsertUserFromOAuth finds the user by email or creates an active one. The
// login defaults to the email's local part, suffixed on collision.
func (s *BoltStore) UpsertUserFromOAuth(email, name string) (*types.User, error) {
	var user types.User
	err := s.db.Update(func(tx *bolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		byEmail := tx.Bucket(bucketUsersByEmail)
		byLogin := tx.Bucket(bucketUsersByLogin)

		if ref := byEmail.Get(emailKey(email)); ref != nil {
			if err := json.Unmarshal(users.Get(ref), &user); err != nil {
				return err
			}
			if user.Name != name && name != "" {
				user.Name = name
				return putUser(tx, &user)
			}
			return nil
		}

		seq, err := users.NextSequence()
		if err != nil {
			return err
		}
		login := strings.SplitN(email, "@", 2)[0]
		if byLogin.Get([]byte(login)) != nil {
			login = fmt.Sprintf("%s-%d", login, seq)
		}
		user = types.User{
			ID:       int64(seq),
			Email:    strings.ToLower(email),
			Login:    login,
			Name:     name,
			IsActive: true,
		}
		return putUser(tx, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// putUser writes the user row and its unique indexes.
func putUser(tx *bolt.Tx, user *types.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	key := i64Key(user.ID)
	if err := tx.Bucket(bucketUsers).Put(key, data); err != nil {
		return err
	}
	if err := tx.Bucket(bucketUsersByEmail).Put(emailKey(user.Email), key); err != nil {
		return err
	}
	return tx.Bucket(bucketUsersByLogin).Put([]byte(user.Login), key)
}

func (s *BoltStore) SetUserActive(id int64, active bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var user types.User
		if err := getUser(tx, id, &user); err != nil {
			return err
		}
		user.IsActive = active
		return putUser(tx, &user)
	})
}

func (s *BoltStore) SetUserRoles(id int64, roles []string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var user types.User
		if err := getUser(tx, id, &user); err != nil {
			return err
		}
		user.Roles = roles
		return putUser(tx, &user)
	})
}

func (s *BoltStore) ListUsers() ([]*types.User, error) {
	var result []*types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var user types.User
			if err := json.Unmarshal(v, &user); err != nil {
				return err
			}
			result = append(result, &user)
			return nil
		})
	})
	return result, err
}

// Token operations

// IssueToken creates a token for an active user. The secret is returned once
// and persisted only as its SHA-256 digest. Token names are unique per user.
func (s *BoltStore) IssueToken(userID int64, name string, canWrite, canAdmin bool) (*types.TokenWithSecret, error) {
	secret, err := security.GenerateToken(64)
	if err != nil {
		return nil, err
	}
	if canAdmin {
		canWrite = true
	}

	var issued types.TokenWithSecret
	err = s.db.Update(func(tx *bolt.Tx) error {
		var user types.User
		if err := getUser(tx, userID, &user); err != nil {
			return err
		}
		if !user.IsActive {
			return apierr.Unauthorized()
		}

		tokens := tx.Bucket(bucketTokens)
		cursor := tokens.Cursor()
		prefix := tokenKeyPrefix(userID)
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			var existing types.Token
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.Name == name {
				return apierr.Conflict(fmt.Sprintf("token %q already exists", name))
			}
		}

		seq, err := tokens.NextSequence()
		if err != nil {
			return err
		}
		token := types.Token{
			ID:           int64(seq),
			UserID:       userID,
			Name:         name,
			SecretDigest: security.DigestSecret(secret),
			LastUsed:     time.Now().UTC(),
			CanWrite:     canWrite,
			CanAdmin:     canAdmin,
		}
		if err := putToken(tx, &token); err != nil {
			return err
		}
		issued = types.TokenWithSecret{Token: token, Secret: secret}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &issued, nil
}

// tokenKeyPrefix scopes token keys by owner so per-user listing is a range
// scan.
func tokenKeyPrefix(userID int64) []byte {
	return append(i64Key(userID), '/')
}

func tokenKey(userID, tokenID int64) []byte {
	return append(tokenKeyPrefix(userID), i64Key(tokenID)...)
}

func putToken(tx *bolt.Tx, token *types.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	key := tokenKey(token.UserID, token.ID)
	if err := tx.Bucket(bucketTokens).Put(key, data); err != nil {
		return err
	}
	return tx.Bucket(bucketTokensByDigest).Put([]byte(token.SecretDigest), key)
}

func (s *BoltStore) TokensByUser(userID int64) ([]*types.Token, error) {
	var result []*types.Token
	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketTokens).Cursor()
		prefix := tokenKeyPrefix(userID)
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			var token types.Token
			if err := json.Unmarshal(v, &token); err != nil {
				return err
			}
			result = append(result, &token)
		}
		return nil
	})
	return result, err
}

func (s *BoltStore) RevokeToken(userID, tokenID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		tokens := tx.Bucket(bucketTokens)
		key := tokenKey(userID, tokenID)
		data := tokens.Get(key)
		if data == nil {
			return apierr.NotFound("token not found")
		}
		var token types.Token
		if err := json.Unmarshal(data, &token); err != nil {
			return err
		}
		if err := tx.Bucket(bucketTokensByDigest).Delete([]byte(token.SecretDigest)); err != nil {
			return err
		}
		return tokens.Delete(key)
	})
}

// CheckToken resolves a bearer secret to its user and updates last_used.
// Tokens of inactive users fail with unauthorized.
func (s *BoltStore) CheckToken(secret string) (*types.User, *types.Token, error) {
	return s.checkToken(secret, "")
}

// CheckTokenForLogin additionally requires the token owner's login to match,
// for Basic authentication.
func (s *BoltStore) CheckTokenForLogin(login, secret string) (*types.User, *types.Token, error) {
	return s.checkToken(secret, login)
}

func (s *BoltStore) checkToken(secret, login string) (*types.User, *types.Token, error) {
	var (
		user  types.User
		token types.Token
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		digest := security.DigestSecret(secret)
		key := tx.Bucket(bucketTokensByDigest).Get([]byte(digest))
		if key == nil {
			return apierr.Unauthorized()
		}
		data := tx.Bucket(bucketTokens).Get(key)
		if data == nil {
			return apierr.Unauthorized()
		}
		if err := json.Unmarshal(data, &token); err != nil {
			return err
		}
		if !security.VerifySecret(secret, token.SecretDigest) {
			return apierr.Unauthorized()
		}
		if err := getUser(tx, token.UserID, &user); err != nil {
			return apierr.Unauthorized()
		}
		if !user.IsActive {
			return apierr.Unauthorized()
		}
		if login != "" && user.Login != login {
			return apierr.Unauthorized()
		}
		token.LastUsed = time.Now().UTC()
		return putToken(tx, &token)
	})
	if err != nil {
		return nil, nil, err
	}
	return &user, &token, nil
}

// Crate operations

func (s *BoltStore) GetCrate(name string) (*types.Crate, error) {
	var crate types.Crate
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCrates).Get([]byte(name))
		if data == nil {
			return apierr.NotFound(fmt.Sprintf("crate %s not found", name))
		}
		return json.Unmarshal(data, &crate)
	})
	if err != nil {
		return nil, err
	}
	return &crate, nil
}

func (s *BoltStore) ListCrates() ([]*types.Crate, error) {
	var result []*types.Crate
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCrates).ForEach(func(k, v []byte) error {
			var crate types.Crate
			if err := json.Unmarshal(v, &crate); err != nil {
				return err
			}
			result = append(result, &crate)
			return nil
		})
	})
	return result, err
}

func (s *BoltStore) GetCrateMetadata(name string) (*types.CrateMetadata, error) {
	var metadata types.CrateMetadata
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCrateMetadata).Get([]byte(name))
		if data == nil {
			return apierr.NotFound(fmt.Sprintf("crate %s not found", name))
		}
		return json.Unmarshal(data, &metadata)
	})
	if err != nil {
		return nil, err
	}
	return &metadata, nil
}

func (s *BoltStore) VersionsOf(name string) ([]*types.CrateVersion, error) {
	var result []*types.CrateVersion
	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketVersions).Cursor()
		prefix := []byte(name + "@")
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			var version types.CrateVersion
			if err := json.Unmarshal(v, &version); err != nil {
				return err
			}
			result = append(result, &version)
		}
		return nil
	})
	return result, err
}

func (s *BoltStore) GetVersion(name, version string) (*types.CrateVersion, error) {
	var row types.CrateVersion
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketVersions).Get(versionKey(name, version))
		if data == nil {
			return apierr.NotFound(fmt.Sprintf("%s %s not found", name, version))
		}
		return json.Unmarshal(data, &row)
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ApplyPublish lands the whole publish write-set in a single transaction:
// crate row (created if absent), version row, latest metadata, the initial
// owner edge for a new crate, and the docs job. The version row must not
// exist yet, yanked or not.
func (s *BoltStore) ApplyPublish(version *types.CrateVersion, metadata *types.CrateMetadata, ownerID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		versions := tx.Bucket(bucketVersions)
		key := versionKey(version.CrateName, version.Version)
		if versions.Get(key) != nil {
			return apierr.Conflict(fmt.Sprintf("%s %s already exists", version.CrateName, version.Version))
		}

		crates := tx.Bucket(bucketCrates)
		nameKey := []byte(version.CrateName)
		if crates.Get(nameKey) == nil {
			crate := types.Crate{Name: version.CrateName, CreatedAt: version.UploadedAt}
			data, err := json.Marshal(&crate)
			if err != nil {
				return err
			}
			if err := crates.Put(nameKey, data); err != nil {
				return err
			}
			if err := putOwners(tx, version.CrateName, []int64{ownerID}); err != nil {
				return err
			}
		}

		data, err := json.Marshal(version)
		if err != nil {
			return err
		}
		if err := versions.Put(key, data); err != nil {
			return err
		}

		metaData, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketCrateMetadata).Put(nameKey, metaData); err != nil {
			return err
		}

		_, err = enqueueDocsJob(tx, version.CrateName, version.Version)
		return err
	})
}

func (s *BoltStore) SetVersionYanked(name, version string, yanked bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		versions := tx.Bucket(bucketVersions)
		key := versionKey(name, version)
		data := versions.Get(key)
		if data == nil {
			return apierr.NotFound(fmt.Sprintf("%s %s not found", name, version))
		}
		var row types.CrateVersion
		if err := json.Unmarshal(data, &row); err != nil {
			return err
		}
		row.Yanked = yanked
		updated, err := json.Marshal(&row)
		if err != nil {
			return err
		}
		return versions.Put(key, updated)
	})
}

// Owner operations

func (s *BoltStore) OwnersOf(name string) ([]int64, error) {
	var owners []int64
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketOwners).Get([]byte(name))
		if data == nil {
			return apierr.NotFound(fmt.Sprintf("crate %s not found", name))
		}
		return json.Unmarshal(data, &owners)
	})
	if err != nil {
		return nil, err
	}
	return owners, nil
}

func putOwners(tx *bolt.Tx, name string, owners []int64) error {
	data, err := json.Marshal(owners)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketOwners).Put([]byte(name), data)
}

func (s *BoltStore) AddOwner(name string, userID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketOwners).Get([]byte(name))
		if data == nil {
			return apierr.NotFound(fmt.Sprintf("crate %s not found", name))
		}
		var owners []int64
		if err := json.Unmarshal(data, &owners); err != nil {
			return err
		}
		for _, id := range owners {
			if id == userID {
				return apierr.Conflict("user is already an owner")
			}
		}
		return putOwners(tx, name, append(owners, userID))
	})
}

// RemoveOwner drops an owner edge, refusing to leave the crate ownerless.
func (s *BoltStore) RemoveOwner(name string, userID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketOwners).Get([]byte(name))
		if data == nil {
			return apierr.NotFound(fmt.Sprintf("crate %s not found", name))
		}
		var owners []int64
		if err := json.Unmarshal(data, &owners); err != nil {
			return err
		}
		remaining := make([]int64, 0, len(owners))
		for _, id := range owners {
			if id != userID {
				remaining = append(remaining, id)
			}
		}
		if len(remaining) == len(owners) {
			return apierr.NotFound("user is not an owner")
		}
		if len(remaining) == 0 {
			return apierr.Conflict("cannot remove the last owner")
		}
		return putOwners(tx, name, remaining)
	})
}

// Docs job operations

// EnqueueDocsJob queues a docs build, reusing the existing job for the same
// crate version if one exists.
func (s *BoltStore) EnqueueDocsJob(name, version string) (*types.DocsJob, error) {
	var job *types.DocsJob
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		job, err = enqueueDocsJob(tx, name, version)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func enqueueDocsJob(tx *bolt.Tx, name, version string) (*types.DocsJob, error) {
	byRef := tx.Bucket(bucketDocsJobsByRef)
	ref := versionKey(name, version)
	if id := byRef.Get(ref); id != nil {
		data := tx.Bucket(bucketDocsJobs).Get(id)
		if data != nil {
			var existing types.DocsJob
			if err := json.Unmarshal(data, &existing); err != nil {
				return nil, err
			}
			switch existing.State {
			case types.DocsJobQueued, types.DocsJobRunning:
				return &existing, nil
			default:
				// Terminal job re-enqueued: reset it to queued.
				existing.State = types.DocsJobQueued
				existing.UpdatedAt = time.Now().UTC()
				if err := putDocsJob(tx, &existing); err != nil {
					return nil, err
				}
				return &existing, nil
			}
		}
	}

	now := time.Now().UTC()
	job := types.DocsJob{
		ID:        uuid.NewString(),
		CrateName: name,
		Version:   version,
		State:     types.DocsJobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := putDocsJob(tx, &job); err != nil {
		return nil, err
	}
	if err := byRef.Put(ref, []byte(job.ID)); err != nil {
		return nil, err
	}
	return &job, nil
}

func putDocsJob(tx *bolt.Tx, job *types.DocsJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketDocsJobs).Put([]byte(job.ID), data)
}

// TakeDocsJob claims the oldest queued job with a compare-and-set to running.
// Returns nil when the queue is empty.
func (s *BoltStore) TakeDocsJob() (*types.DocsJob, error) {
	var claimed *types.DocsJob
	err := s.db.Update(func(tx *bolt.Tx) error {
		var oldest *types.DocsJob
		err := tx.Bucket(bucketDocsJobs).ForEach(func(k, v []byte) error {
			var job types.DocsJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if job.State != types.DocsJobQueued {
				return nil
			}
			if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
				oldest = &job
			}
			return nil
		})
		if err != nil || oldest == nil {
			return err
		}
		oldest.State = types.DocsJobRunning
		oldest.Attempts++
		oldest.UpdatedAt = time.Now().UTC()
		if err := putDocsJob(tx, oldest); err != nil {
			return err
		}
		claimed = oldest
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// CompleteDocsJob releases a running job to its terminal state.
func (s *BoltStore) CompleteDocsJob(id string, succeeded bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDocsJobs).Get([]byte(id))
		if data == nil {
			return apierr.NotFound("docs job not found")
		}
		var job types.DocsJob
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		if succeeded {
			job.State = types.DocsJobSucceeded
		} else {
			job.State = types.DocsJobFailed
		}
		job.UpdatedAt = time.Now().UTC()
		return putDocsJob(tx, &job)
	})
}

func (s *BoltStore) ListDocsJobs() ([]*types.DocsJob, error) {
	var result []*types.DocsJob
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDocsJobs).ForEach(func(k, v []byte) error {
			var job types.DocsJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			result = append(result, &job)
			return nil
		})
	})
	return result, err
}
