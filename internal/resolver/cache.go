package resolver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/pkgset/pkgset/internal/utils"
)

// Cached wraps a resolver with an in-memory LRU and an optional on-disk
// layer. Workloads sharing an environment repeat near-identical requests, so
// hit rates are high in practice. Disk entries survive across runs; the
// fingerprint does not include catalog content, so a cache directory must be
// cleared when the underlying snapshot changes.
type Cached struct {
	inner Resolver
	lru   *lru.Cache[string, *Result]
	dir   string
}

// NewCached creates a caching resolver. dir may be empty to disable the disk
// layer.
func NewCached(inner Resolver, size int, dir string) (*Cached, error) {
	cache, err := lru.New[string, *Result](size)
	if err != nil {
		return nil, err
	}
	if dir != "" {
		if err := utils.EnsureDir(dir); err != nil {
			return nil, err
		}
	}
	return &Cached{inner: inner, lru: cache, dir: dir}, nil
}

// Resolve serves the request from cache when possible. Cached results are
// shared; callers must not mutate them.
func (c *Cached) Resolve(ctx context.Context, req Request) (*Result, error) {
	key := req.Fingerprint()

	if result, ok := c.lru.Get(key); ok {
		return result, nil
	}
	if result, ok := c.loadDisk(key); ok {
		c.lru.Add(key, result)
		return result, nil
	}

	result, err := c.inner.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, result)
	c.storeDisk(key, result)
	return result, nil
}

func (c *Cached) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

func (c *Cached) loadDisk(key string) (*Result, bool) {
	if c.dir == "" {
		return nil, false
	}
	raw, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		logrus.Warnf("Discarding corrupt cache entry %s: %v", key, err)
		os.Remove(c.path(key))
		return nil, false
	}
	return &result, true
}

func (c *Cached) storeDisk(key string, result *Result) {
	if c.dir == "" {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := utils.WriteFile(c.path(key), raw, 0644); err != nil {
		logrus.Warnf("Failed to write cache entry %s: %v", key, err)
	}
}
