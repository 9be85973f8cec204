package tle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ErrNoCachedFeed is returned by LoadLatest when the cache holds no feed file.
var ErrNoCachedFeed = errors.New("tle: no cached feed")

const (
	cachePrefix = "feed_"
	cacheSuffix = ".tle"
)

// Cache keeps the most recent raw feed bodies on disk so a restarted process
// can serve data before its first successful fetch.
type Cache struct {
	dir      string
	maxFiles int
}

// NewCache creates a Cache that stores files in dir and keeps at most maxFiles.
func NewCache(dir string, maxFiles int) *Cache {
	if maxFiles <= 0 {
		maxFiles = 5
	}
	return &Cache{dir: dir, maxFiles: maxFiles}
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Write stores a feed body fetched at ts and prunes files beyond maxFiles.
func (c *Cache) Write(body []byte, ts time.Time) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	name := cachePrefix + strconv.FormatInt(ts.Unix(), 10) + cacheSuffix
	tmp, err := os.CreateTemp(c.dir, ".feed-*")
	if err != nil {
		return fmt.Errorf("creating cache file: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(c.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renaming cache file: %w", err)
	}

	return c.prune()
}

// LoadLatest returns the newest cached feed body and the time it was fetched.
func (c *Cache) LoadLatest() ([]byte, time.Time, error) {
	files, err := c.list()
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(files) == 0 {
		return nil, time.Time{}, ErrNoCachedFeed
	}

	latest := files[len(files)-1]
	body, err := os.ReadFile(filepath.Join(c.dir, latest.name))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading cache file: %w", err)
	}
	return body, latest.ts, nil
}

type cachedFeed struct {
	name string
	ts   time.Time
}

// list returns cached feeds sorted oldest first.
func (c *Cache) list() ([]cachedFeed, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing cache dir: %w", err)
	}

	var files []cachedFeed
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, cachePrefix) || !strings.HasSuffix(name, cacheSuffix) {
			continue
		}
		unix, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, cachePrefix), cacheSuffix), 10, 64)
		if err != nil {
			continue
		}
		files = append(files, cachedFeed{name: name, ts: time.Unix(unix, 0).UTC()})
	}

	slices.SortFunc(files, func(a, b cachedFeed) int {
		return a.ts.Compare(b.ts)
	})
	return files, nil
}

func (c *Cache) prune() error {
	files, err := c.list()
	if err != nil {
		return err
	}
	if len(files) <= c.maxFiles {
		return nil
	}

	for _, f := range files[:len(files)-c.maxFiles] {
		if err := os.Remove(filepath.Join(c.dir, f.name)); err != nil {
			return fmt.Errorf("pruning cache file %s: %w", f.name, err)
		}
	}
	return nil
}
