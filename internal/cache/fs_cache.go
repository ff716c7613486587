package cache

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"viewfs/internal/common"
	"viewfs/internal/fsys"
)

// Key identifies a backing filesystem instance. All handles share the identity
// of the mount table owner, so scheme and authority are enough.
type Key struct {
	Scheme    string
	Authority string
}

// KeyOf returns the lower-cased cache key of uri
func KeyOf(uri *url.URL) Key {
	return Key{
		Scheme:    strings.ToLower(uri.Scheme),
		Authority: strings.ToLower(uri.Host),
	}
}

// FileSystemCache lazily constructs backing filesystems and, when enabled,
// shares one handle per Key.
//
// Thread-safe: a single mutex covers lookup and construction.
type FileSystemCache struct {
	mu      sync.Mutex
	enabled bool
	newFS   fsys.Factory
	entries map[Key]fsys.FileSystem
	owned   []fsys.FileSystem // every handle handed out, in construction order
	closed  bool
}

// NewFileSystemCache creates a registry that builds handles with newFS.
// enabled: share handles per (scheme, authority); false builds a fresh handle per Get.
func NewFileSystemCache(enabled bool, newFS fsys.Factory) *FileSystemCache {
	if Disabled {
		enabled = false
	}
	return &FileSystemCache{
		enabled: enabled,
		newFS:   newFS,
		entries: make(map[Key]fsys.FileSystem),
	}
}

// Enabled reports whether handles are shared
func (c *FileSystemCache) Enabled() bool {
	return c.enabled
}

// Get returns the handle for uri, constructing it on first use
func (c *FileSystemCache) Get(ctx context.Context, uri *url.URL) (fsys.FileSystem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, common.ErrClosed
	}

	key := KeyOf(uri)
	if c.enabled {
		if fs, ok := c.entries[key]; ok {
			return fs, nil
		}
	}

	log.Debugf("[FSCache] constructing filesystem for %s://%s (shared=%v)", key.Scheme, key.Authority, c.enabled)
	fs, err := c.newFS(ctx, uri)
	if err != nil {
		return nil, err
	}
	if c.enabled {
		c.entries[key] = fs
	}
	c.owned = append(c.owned, fs)
	return fs, nil
}

// Len returns the number of live handles
func (c *FileSystemCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.owned)
}

// CloseAll closes every handle exactly once. Individual failures are logged and
// collected in the returned error; they never stop the remaining closes.
// Calling CloseAll again is a no-op.
func (c *FileSystemCache) CloseAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var result *multierror.Error
	for _, fs := range c.owned {
		if err := fs.Close(); err != nil {
			log.Infof("[FSCache] failed closing child filesystem %s: %v", fs.URI(), err)
			result = multierror.Append(result, err)
		}
	}
	c.owned = nil
	c.entries = make(map[Key]fsys.FileSystem)
	return result.ErrorOrNil()
}
