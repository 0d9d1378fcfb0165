// Package repoclient wraps the repository API client with a per-session
// cache of the current repository.
package repoclient

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/repodrop/repodrop/internal/logging"
	"github.com/repodrop/repodrop/internal/metrics"
	"github.com/repodrop/repodrop/pkg/repoapi"
)

// ErrNoRepository is returned when the repository listing yields no usable id or name.
var ErrNoRepository = errors.New("no repository available")

// Client is a repository API client that remembers the current repository.
type Client struct {
	*repoapi.Client

	mu       sync.Mutex
	repoID   string
	repoName string
	gen      uint64 // bumped by ClearCurrentRepo
	group    singleflight.Group
}

// New wraps api.
func New(api *repoapi.Client) *Client {
	return &Client{Client: api}
}

// CurrentRepoID returns the cached repository id, looking it up on first use.
func (c *Client) CurrentRepoID(ctx context.Context) (string, error) {
	c.mu.Lock()
	id := c.repoID
	c.mu.Unlock()
	if id != "" {
		metrics.RecordRepoLookup(true)
		return id, nil
	}

	repo, err := c.lookup(ctx)
	if err != nil {
		return "", err
	}
	if repo.RepoID == "" {
		return "", fmt.Errorf("current repo id: %w", ErrNoRepository)
	}
	return repo.RepoID, nil
}

// CurrentRepoName returns the cached repository name, looking it up on first use.
func (c *Client) CurrentRepoName(ctx context.Context) (string, error) {
	c.mu.Lock()
	name := c.repoName
	c.mu.Unlock()
	if name != "" {
		metrics.RecordRepoLookup(true)
		return name, nil
	}

	repo, err := c.lookup(ctx)
	if err != nil {
		return "", err
	}
	if repo.RepoName == "" {
		return "", fmt.Errorf("current repo name: %w", ErrNoRepository)
	}
	return repo.RepoName, nil
}

// ClearCurrentRepo forgets the cached repository.
func (c *Client) ClearCurrentRepo() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.repoID = ""
	c.repoName = ""
	c.gen++
}

// lookup lists repositories and caches the first one. Concurrent callers
// share a single request.
func (c *Client) lookup(ctx context.Context) (repoapi.Repository, error) {
	metrics.RecordRepoLookup(false)
	v, err, _ := c.group.Do("current", func() (any, error) {
		c.mu.Lock()
		gen := c.gen
		c.mu.Unlock()

		repos, err := c.ListRepositories(ctx)
		if err != nil {
			return repoapi.Repository{}, err
		}
		if len(repos) == 0 {
			return repoapi.Repository{}, fmt.Errorf("list repositories: %w", ErrNoRepository)
		}
		first := repos[0]

		// A logout while the listing was in flight must not repopulate the cache.
		c.mu.Lock()
		if gen == c.gen {
			if first.RepoID != "" {
				c.repoID = first.RepoID
			}
			if first.RepoName != "" {
				c.repoName = first.RepoName
			}
		}
		c.mu.Unlock()

		logging.Debug("current repository resolved",
			zap.String("repo_id", first.RepoID),
			zap.String("repo_name", first.RepoName))
		return first, nil
	})
	if err != nil {
		return repoapi.Repository{}, err
	}
	return v.(repoapi.Repository), nil
}
