// Package disk provides a disk-backed cache implementation.
package disk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultDirPerm = 0o700

// Cache implements cache.Cache using the local filesystem.
//
// Writes go through a temp file and rename, so a crash mid-download never
// leaves a truncated entry behind to be trusted as durable.
type Cache struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
}

// Option configures a disk cache.
type Option func(*Cache)

// WithShardPrefixLen sets the number of leading name characters used per
// shard directory level. Zero (the default) stores entries flat, which is
// the layout the resolver expects for its index cache.
func WithShardPrefixLen(n int) Option {
	return func(c *Cache) {
		c.shardPrefixLen = n
	}
}

// WithDirPerm sets the directory permissions used for cache directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.dirPerm = mode
	}
}

// New creates a disk-backed cache rooted at dir.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("casc: cache dir is empty")
	}
	c := &Cache{
		dir:     dir,
		dirPerm: defaultDirPerm,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.shardPrefixLen < 0 {
		return nil, errors.New("casc: shard prefix length must be >= 0")
	}
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, err
	}
	return c, nil
}

// Get retrieves a blob by name.
func (c *Cache) Get(name string) ([]byte, bool) {
	path, err := c.path(name)
	if err != nil {
		return nil, false
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is derived from a validated name, not user input
	if err != nil {
		return nil, false
	}
	return data, true
}

// Put stores a blob under the given name. Existing entries win: the cache
// is treated as durable once written, with no freshness check.
func (c *Cache) Put(name string, data []byte) error {
	path, err := c.path(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "cache-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			_ = os.Remove(tmpPath)
			return nil
		}
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func (c *Cache) path(name string) (string, error) {
	if name == "" {
		return "", errors.New("casc: cache entry name is empty")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("casc: cache entry name %q is not a plain file name", name)
	}
	if c.shardPrefixLen > 0 && len(name) > c.shardPrefixLen*2 {
		return filepath.Join(c.dir, name[:c.shardPrefixLen], name[c.shardPrefixLen:c.shardPrefixLen*2], name), nil
	}
	return filepath.Join(c.dir, name), nil
}
