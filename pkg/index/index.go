package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/rs/zerolog"

	"github.com/cuemby/granary/pkg/apierr"
	"github.com/cuemby/granary/pkg/config"
	"github.com/cuemby/granary/pkg/log"
	"github.com/cuemby/granary/pkg/metrics"
	"github.com/cuemby/granary/pkg/types"
)

const pushTimeout = 60 * time.Second

// Repository is the git-backed index working tree. The registry process is
// its only writer; all mutations are serialized through the repository mutex
// which the publish pipeline holds across the whole commit-push-persist
// sequence.
type Repository struct {
	cfg    config.IndexConfig
	repo   *git.Repository
	auth   transport.AuthMethod
	mu     sync.RWMutex
	logger zerolog.Logger
}

// Open clones the remote (if configured), opens an existing working tree, or
// initializes an empty repository, and ensures config.json is present and
// committed.
func Open(cfg config.IndexConfig) (*Repository, error) {
	r := &Repository{
		cfg:    cfg,
		logger: log.WithComponent("index"),
	}

	if cfg.RemoteOrigin != "" && cfg.RemoteSSHKeyFileName != "" {
		auth, err := gitssh.NewPublicKeysFromFile("git", cfg.RemoteSSHKeyFileName, "")
		if err != nil {
			return nil, fmt.Errorf("failed to load index SSH key: %w", err)
		}
		r.auth = auth
	}

	repo, err := git.PlainOpen(cfg.Location)
	switch {
	case err == nil:
		r.repo = repo
	case errors.Is(err, git.ErrRepositoryNotExists):
		if r.repo, err = r.create(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("failed to open index repository: %w", err)
	}

	if err := r.ensureConfigFile(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) create() (*git.Repository, error) {
	if r.cfg.RemoteOrigin != "" {
		r.logger.Info().Str("remote", r.cfg.RemoteOrigin).Msg("cloning index repository")
		repo, err := git.PlainClone(r.cfg.Location, false, &git.CloneOptions{
			URL:  r.cfg.RemoteOrigin,
			Auth: r.auth,
		})
		if err != nil && !errors.Is(err, transport.ErrEmptyRemoteRepository) {
			return nil, fmt.Errorf("failed to clone index repository: %w", err)
		}
		if err == nil {
			return repo, nil
		}
		// Empty remote: fall through to a fresh local repository that will
		// be pushed on the first publish.
	}

	r.logger.Info().Str("location", r.cfg.Location).Msg("initializing index repository")
	repo, err := git.PlainInit(r.cfg.Location, false)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize index repository: %w", err)
	}
	if r.cfg.RemoteOrigin != "" {
		_, err := repo.CreateRemote(&gitconfig.RemoteConfig{
			Name: "origin",
			URLs: []string{r.cfg.RemoteOrigin},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure index remote: %w", err)
		}
	}
	return repo, nil
}

// ensureConfigFile writes config.json and commits it when missing or stale.
func (r *Repository) ensureConfigFile() error {
	data, err := json.MarshalIndent(r.cfg.Public, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	path := filepath.Join(r.cfg.Location, ConfigFileName)
	existing, err := os.ReadFile(path)
	if err == nil && string(existing) == string(data) {
		return nil
	}
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read index config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write index config: %w", err)
	}
	return r.commit("Update index configuration", ConfigFileName)
}

// Lock acquires the index mutex. The publish pipeline holds it from archive
// hashing through the metadata store commit.
func (r *Repository) Lock() {
	r.mu.Lock()
}

// Unlock releases the index mutex.
func (r *Repository) Unlock() {
	r.mu.Unlock()
}

// Append adds one index record to the crate file, commits, and pushes when
// configured. The caller must hold the index mutex. On push failure the
// local commit is rolled back before the error surfaces.
func (r *Repository) Append(ctx context.Context, record *types.IndexRecord) error {
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}

	rel := CratePath(record.Name)
	path := filepath.Join(r.cfg.Location, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open crate file: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		file.Close()
		return fmt.Errorf("failed to append index record: %w", err)
	}
	if err := file.Close(); err != nil {
		return err
	}

	timer := metrics.NewTimer()
	defer func() { timer.ObserveDuration(metrics.IndexCommitDuration) }()
	message := fmt.Sprintf("Publish %s v%s", record.Name, record.Vers)
	if err := r.commit(message, rel); err != nil {
		return err
	}
	return r.pushOrRollback(ctx)
}

// SetYanked rewrites the single record matching the version with its yanked
// flag set, preserving every other line byte-for-byte. The caller must hold
// the index mutex.
func (r *Repository) SetYanked(ctx context.Context, name, version string, yanked bool) error {
	rel := CratePath(name)
	path := filepath.Join(r.cfg.Location, rel)
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return apierr.NotFound(fmt.Sprintf("crate %s not in index", name))
		}
		return fmt.Errorf("failed to read crate file: %w", err)
	}

	lines := strings.Split(strings.TrimSuffix(string(content), "\n"), "\n")
	found := false
	for i, raw := range lines {
		var record types.IndexRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return fmt.Errorf("corrupt index line for %s: %w", name, err)
		}
		if record.Vers != version {
			continue
		}
		record.Yanked = yanked
		updated, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		lines[i] = string(updated)
		found = true
		break
	}
	if !found {
		return apierr.NotFound(fmt.Sprintf("%s %s not in index", name, version))
	}

	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to rewrite crate file: %w", err)
	}

	timer := metrics.NewTimer()
	defer func() { timer.ObserveDuration(metrics.IndexCommitDuration) }()
	verb := "Yank"
	if !yanked {
		verb = "Unyank"
	}
	if err := r.commit(fmt.Sprintf("%s %s v%s", verb, name, version), rel); err != nil {
		return err
	}
	return r.pushOrRollback(ctx)
}

// Versions reads the crate file and returns its records in file order. A
// missing file yields an empty list, not an error.
func (r *Repository) Versions(name string) ([]types.IndexRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	content, err := os.ReadFile(filepath.Join(r.cfg.Location, CratePath(name)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read crate file: %w", err)
	}

	var records []types.IndexRecord
	for _, raw := range strings.Split(strings.TrimSuffix(string(content), "\n"), "\n") {
		if raw == "" {
			continue
		}
		var record types.IndexRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("corrupt index line for %s: %w", name, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// Rollback discards the most recent commit (reset --hard HEAD~1). When the
// commit was already pushed, the rollback is force-pushed; an impossible
// force-push is logged prominently, as the remote then diverges from the
// database.
func (r *Repository) Rollback(ctx context.Context, pushed bool) error {
	head, err := r.repo.Head()
	if err != nil {
		return fmt.Errorf("failed to resolve index HEAD: %w", err)
	}
	commit, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return err
	}
	parent, err := commit.Parent(0)
	if err != nil {
		return fmt.Errorf("cannot roll back the root index commit: %w", err)
	}

	worktree, err := r.repo.Worktree()
	if err != nil {
		return err
	}
	if err := worktree.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: parent.Hash}); err != nil {
		return fmt.Errorf("failed to roll back index commit: %w", err)
	}
	r.logger.Warn().Str("commit", head.Hash().String()).Msg("rolled back index commit")

	if pushed && r.cfg.RemotePushChanges {
		if err := r.push(ctx, true); err != nil {
			r.logger.Error().Err(err).
				Msg("FORCE-PUSH OF INDEX ROLLBACK FAILED; remote index diverges from the database")
			return err
		}
	}
	return nil
}

// pushOrRollback pushes the new commit when configured; on push failure the
// local commit is rolled back and the push error surfaces as a fatal
// operational error for this publish.
func (r *Repository) pushOrRollback(ctx context.Context) error {
	if !r.cfg.RemotePushChanges {
		return nil
	}
	if err := r.push(ctx, false); err != nil {
		if rbErr := r.Rollback(ctx, false); rbErr != nil {
			r.logger.Error().Err(rbErr).Msg("rollback after failed push also failed")
		}
		return apierr.Upstream("failed to push index", err)
	}
	return nil
}

func (r *Repository) push(ctx context.Context, force bool) error {
	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()

	err := r.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		Auth:       r.auth,
		Force:      force,
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}

// commit stages one path and commits it with the configured identity.
func (r *Repository) commit(message, rel string) error {
	worktree, err := r.repo.Worktree()
	if err != nil {
		return err
	}
	if _, err := worktree.Add(rel); err != nil {
		return fmt.Errorf("failed to stage %s: %w", rel, err)
	}
	_, err = worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  r.cfg.UserName,
			Email: r.cfg.UserEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to commit index change: %w", err)
	}
	return nil
}
