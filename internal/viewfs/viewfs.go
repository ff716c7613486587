// Copyright 2024 ViewFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package viewfs is the unified filesystem: one namespace stitched together
// from the links of a mount table.
//
// Every call resolves its path through the mount table, delegates to the
// matched target with the remaining path and re-expresses returned paths
// under viewfs://<mount table name>/. Internal directories of the mount
// table are served by a synthetic read-only view.
package viewfs

import (
	"context"
	"fmt"
	"net/url"
	"os/user"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"viewfs/internal/billyfs"
	"viewfs/internal/cache"
	"viewfs/internal/chroot"
	"viewfs/internal/common"
	"viewfs/internal/fsys"
	"viewfs/internal/mounttable"
	"viewfs/internal/nfly"
)

// Scheme is the URI scheme of the unified namespace
const Scheme = "viewfs"

// DefaultHomeDirPrefix is used when the mount table sets none
const DefaultHomeDirPrefix = "/user"

// TrashPrefix is the per-mount trash directory name
const TrashPrefix = ".Trash"

// Config is everything the façade needs to build a mount table
type Config struct {
	// Name is the mount table name and the authority of the façade URI
	Name          string
	HomeDirPrefix string
	Links         []mounttable.MountEntry

	// DisableInnerCache gives every link its own backing handle
	DisableInnerCache          bool
	TrashForceInsideMountPoint bool
	RenameStrategy             RenameStrategy

	// User and Group default to the current OS user
	User  string
	Group string
}

// Option customizes New
type Option func(*options)

type options struct {
	schemes fsys.Schemes
	now     func() time.Time
}

// WithSchemes replaces the scheme table used to construct backing filesystems
func WithSchemes(s fsys.Schemes) Option {
	return func(o *options) { o.schemes = s.Clone() }
}

// WithFactory registers one scheme on top of the defaults
func WithFactory(scheme string, f fsys.Factory) Option {
	return func(o *options) { o.schemes.Register(scheme, f) }
}

// WithClock sets the clock used for the creation time of internal directories
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// DefaultSchemes returns the built-in factories: mem:// and file://
func DefaultSchemes(user, group string) fsys.Schemes {
	opts := billyfs.Options{User: user, Group: group}
	s := fsys.Schemes{}
	s.Register("mem", billyfs.NewMemFactory(opts))
	s.Register("file", billyfs.NewOSFactory(opts))
	return s
}

// FileSystem is the unified view. It implements fsys.FileSystem.
type FileSystem struct {
	cfg      Config
	uri      *url.URL
	tree     *mounttable.Tree
	registry *cache.FileSystemCache
	created  time.Time
	user     string
	group    string
	homeDir  string

	mu         sync.RWMutex
	workingDir string

	closed atomic.Bool
}

var _ fsys.FileSystem = (*FileSystem)(nil)

// New builds the mount table described by cfg. Backing filesystems are
// created lazily as paths resolve into them.
func New(ctx context.Context, cfg Config, opts ...Option) (*FileSystem, error) {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.RenameStrategy == "" {
		cfg.RenameStrategy = SameMountpoint
	}
	if err := cfg.RenameStrategy.Validate(); err != nil {
		return nil, err
	}

	userName, groupName := currentUser(cfg.User, cfg.Group)

	o := options{schemes: DefaultSchemes(userName, groupName), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	v := &FileSystem{
		cfg:     cfg,
		uri:     &url.URL{Scheme: Scheme, Host: strings.ToLower(cfg.Name), Path: common.Root},
		created: o.now(),
		user:    userName,
		group:   groupName,
	}
	v.registry = cache.NewFileSystemCache(!cfg.DisableInnerCache, o.schemes.New)

	tree, err := mounttable.Build(cfg.Name, cfg.HomeDirPrefix, cfg.Links, mounttable.Builder{
		NewLink:        v.newLink,
		NewMerge:       v.newMerge,
		NewInternalDir: v.newInternalDir,
	})
	if err != nil {
		return nil, err
	}
	v.tree = tree

	prefix := cfg.HomeDirPrefix
	if prefix == "" {
		prefix = DefaultHomeDirPrefix
	}
	v.homeDir = common.JoinPath(prefix, userName)
	v.workingDir = v.homeDir

	log.Infof("[ViewFS] mount table %s ready: %d links, inner cache=%v", v.uri, len(tree.Links()), v.registry.Enabled())
	return v, nil
}

func currentUser(name, group string) (string, string) {
	if name == "" {
		if u, err := user.Current(); err == nil {
			name = u.Username
			if group == "" {
				if g, err := user.LookupGroupId(u.Gid); err == nil {
					group = g.Name
				}
			}
		}
	}
	if name == "" {
		name = "nobody"
	}
	if group == "" {
		group = name
	}
	return name, group
}

func (v *FileSystem) newLink(ctx context.Context, target *url.URL) (fsys.FileSystem, error) {
	fs, err := v.registry.Get(ctx, target)
	if err != nil {
		return nil, err
	}
	return chroot.New(fs, target), nil
}

func (v *FileSystem) newMerge(ctx context.Context, targets []*url.URL, settings string) (fsys.FileSystem, error) {
	replicas := make([]fsys.FileSystem, 0, len(targets))
	for _, t := range targets {
		fs, err := v.newLink(ctx, t)
		if err != nil {
			return nil, err
		}
		replicas = append(replicas, fs)
	}
	return nfly.New(replicas, settings)
}

func (v *FileSystem) newInternalDir(t *mounttable.Tree, d *mounttable.Dir) fsys.FileSystem {
	return &internalDir{view: v, tree: t, dir: d}
}

// Tree exposes the mount table
func (v *FileSystem) Tree() *mounttable.Tree { return v.tree }

// User returns the user the mount table acts as
func (v *FileSystem) User() string { return v.user }

// Group returns the primary group of User
func (v *FileSystem) Group() string { return v.group }

func (v *FileSystem) URI() *url.URL {
	u := *v.uri
	return &u
}

// qualify renders a mount table path under the façade URI
func (v *FileSystem) qualify(p string) string {
	return common.Qualify(v.uri, p)
}

// uriPath turns a bare, relative or viewfs-qualified input into an absolute
// mount table path
func (v *FileSystem) uriPath(p string) (string, error) {
	if strings.Contains(p, "://") {
		u, err := url.Parse(p)
		if err != nil {
			return "", err
		}
		if !strings.EqualFold(u.Scheme, Scheme) || !strings.EqualFold(u.Host, v.uri.Host) {
			return "", &common.MountError{Op: "resolve", Path: p, Err: fmt.Errorf("%w: expected %s", common.ErrWrongFS, v.uri)}
		}
		return common.CleanPath(u.Path), nil
	}
	if !strings.HasPrefix(p, "/") {
		v.mu.RLock()
		wd := v.workingDir
		v.mu.RUnlock()
		return common.JoinPath(wd, p), nil
	}
	return common.CleanPath(p), nil
}

// resolve checks the façade is open and resolves p
func (v *FileSystem) resolve(ctx context.Context, p string, last bool) (*mounttable.ResolveResult, string, error) {
	if v.closed.Load() {
		return nil, "", common.ErrClosed
	}
	up, err := v.uriPath(p)
	if err != nil {
		return nil, "", err
	}
	res, err := v.tree.Resolve(ctx, up, last)
	if err != nil {
		return nil, "", err
	}
	log.Debugf("[ViewFS] resolve %s -> %s %s remaining %s", up, res.Kind, res.ResolvedPath, res.RemainingPath)
	return res, up, nil
}

// childPath maps a status path returned by a link target onto the façade
func (v *FileSystem) childPath(res *mounttable.ResolveResult, p string) string {
	if strings.Contains(p, "://") {
		return p
	}
	return v.qualify(common.JoinPath(res.ResolvedPath, p))
}

// GetHomeDirectory returns the qualified home directory of the current user
func (v *FileSystem) GetHomeDirectory() string {
	return v.qualify(v.homeDir)
}

// GetWorkingDirectory returns the qualified working directory
func (v *FileSystem) GetWorkingDirectory() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.qualify(v.workingDir)
}

// SetWorkingDirectory changes the base for relative paths
func (v *FileSystem) SetWorkingDirectory(p string) error {
	if v.closed.Load() {
		return common.ErrClosed
	}
	up, err := v.uriPath(p)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.workingDir = up
	v.mu.Unlock()
	return nil
}

// GetMountPoints returns every configured link sorted by source path
func (v *FileSystem) GetMountPoints() []mounttable.MountPoint {
	return v.tree.MountPoints()
}

// GetChildFileSystems returns the distinct backing handles of every link,
// creating them if needed
func (v *FileSystem) GetChildFileSystems(ctx context.Context) ([]fsys.FileSystem, error) {
	if v.closed.Load() {
		return nil, common.ErrClosed
	}
	links := v.tree.Links()
	if fb := v.tree.Fallback(); fb != nil {
		links = append(links, fb)
	}

	var out []fsys.FileSystem
	seen := make(map[fsys.FileSystem]bool)
	add := func(fs fsys.FileSystem) {
		if c, ok := fs.(*chroot.FileSystem); ok {
			fs = c.Underlying()
		}
		if !seen[fs] {
			seen[fs] = true
			out = append(out, fs)
		}
	}
	for _, l := range links {
		target, err := l.Target(ctx)
		if err != nil {
			return nil, err
		}
		switch t := target.(type) {
		case *nfly.FileSystem:
			for _, r := range t.Targets() {
				add(r)
			}
		default:
			add(t)
		}
	}
	return out, nil
}

// Close releases every backing handle. It is idempotent; close failures
// are logged, never returned.
func (v *FileSystem) Close() error {
	if v.closed.Swap(true) {
		return nil
	}
	if err := v.registry.CloseAll(); err != nil {
		log.Warnf("[ViewFS] closing %s: %v", v.uri, err)
	}
	return nil
}
