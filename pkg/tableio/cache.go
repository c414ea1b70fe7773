package tableio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"timelapsemap/pkg/profile"
)

// Cache keeps recently read profile tables in memory. Entries are keyed by
// absolute path and modification time, so a rewritten file is read again.
// Callers receive copies and may modify them freely.
type Cache struct {
	prefix string
	lru    *lru.Cache[string, *profile.Table]
}

// NewCache returns a cache holding at most size tables.
func NewCache(size int, prefix string) (*Cache, error) {
	if size <= 0 {
		size = 1
	}
	l, err := lru.New[string, *profile.Table](size)
	if err != nil {
		return nil, err
	}
	return &Cache{prefix: prefix, lru: l}, nil
}

// Read returns the table at path, reading it on a miss.
func (c *Cache) Read(ctx context.Context, path string) (*profile.Table, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, path)
	}
	key := fmt.Sprintf("%s@%d", abs, info.ModTime().UnixNano())
	if t, ok := c.lru.Get(key); ok {
		return t.Clone(), nil
	}
	t, err := ReadParquet(ctx, abs, c.prefix)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, t)
	return t.Clone(), nil
}

// Len returns the number of cached tables.
func (c *Cache) Len() int { return c.lru.Len() }
