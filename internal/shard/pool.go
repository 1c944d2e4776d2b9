package shard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

var ErrBadProjectID = errors.New("invalid project id")

// Project ids become file names, so they are held to a strict charset.
var safeIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Pool hands out shard handles keyed by project id, keeping at most size
// handles open. Evicted handles are closed; reopening later is safe because
// the schema is idempotent.
type Pool struct {
	mu    sync.Mutex
	dir   string
	cache *lru.Cache[string, *Shard]
}

// NewPool creates a pool storing shard files under dir.
func NewPool(dir string, size int) (*Pool, error) {
	if size <= 0 {
		size = 64
	}
	cache, err := lru.NewWithEvict[string, *Shard](size, func(_ string, sh *Shard) {
		sh.Close()
	})
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create shard dir: %w", err)
	}
	return &Pool{dir: dir, cache: cache}, nil
}

// Get returns the open shard for a project, opening it on first use.
func (p *Pool) Get(projectID string) (*Shard, error) {
	if !safeIDRe.MatchString(projectID) {
		return nil, fmt.Errorf("%w: %q", ErrBadProjectID, projectID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if sh, ok := p.cache.Get(projectID); ok {
		return sh, nil
	}
	sh, err := Open(filepath.Join(p.dir, projectID+".db"))
	if err != nil {
		return nil, err
	}
	p.cache.Add(projectID, sh)
	return sh, nil
}

// Destroy closes the project's shard and deletes its database files. Used
// when a project is deleted; the registry guarantees no more writes arrive
// for it.
func (p *Pool) Destroy(projectID string) error {
	if !safeIDRe.MatchString(projectID) {
		return fmt.Errorf("%w: %q", ErrBadProjectID, projectID)
	}
	p.mu.Lock()
	p.cache.Remove(projectID)
	p.mu.Unlock()

	base := filepath.Join(p.dir, projectID+".db")
	for _, f := range []string{base, base + "-wal", base + "-shm"} {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove shard file: %w", err)
		}
	}
	return nil
}

// Remove evicts and closes a project's handle without touching its files.
// The next Get reopens it.
func (p *Pool) Remove(projectID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Remove(projectID)
}

// Len reports how many shard handles are currently open.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Len()
}

// Close closes every open handle.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Purge()
}
