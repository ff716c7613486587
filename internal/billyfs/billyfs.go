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

// Package billyfs implements the backing filesystem capability on top of
// go-billy filesystems: memfs for the mem:// scheme and osfs for file://.
//
// Billy has no notion of owners, ACLs, extended attributes or replication, so
// those live in an in-process side table keyed by path.
package billyfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"sync"
	"syscall"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"viewfs/internal/common"
	"viewfs/internal/fsys"
)

const (
	// DefaultBlockSize is reported for files when Options.BlockSize is zero
	DefaultBlockSize int64 = 128 << 20
	// DefaultReplication is reported for files when Options.Replication is zero
	DefaultReplication int16 = 1
	// HomePrefix is the parent of user home directories
	HomePrefix = "/user"
	// TrashDir is the trash directory name under a home directory
	TrashDir = ".Trash"
	// SnapshotDir holds the snapshots of a directory
	SnapshotDir = ".snapshot"
)

// Options configures a billy-backed filesystem
type Options struct {
	User        string
	Group       string
	BlockSize   int64
	Replication int16
}

func (o *Options) applyDefaults() {
	if o.User == "" {
		o.User = "nobody"
	}
	if o.Group == "" {
		o.Group = o.User
	}
	if o.BlockSize == 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.Replication == 0 {
		o.Replication = DefaultReplication
	}
}

// FileSystem adapts a billy.Filesystem to fsys.FileSystem
type FileSystem struct {
	uri  *url.URL
	fs   billy.Filesystem
	opts Options

	mu     sync.RWMutex
	meta   map[string]*entryMeta
	closed bool
}

// New wraps bfs. Only the scheme and authority of uri are kept.
func New(uri *url.URL, bfs billy.Filesystem, opts Options) *FileSystem {
	opts.applyDefaults()
	return &FileSystem{
		uri:  &url.URL{Scheme: uri.Scheme, Host: uri.Host, Path: "/"},
		fs:   bfs,
		opts: opts,
		meta: make(map[string]*entryMeta),
	}
}

// NewMemFactory returns a factory for in-memory filesystems. Handles built for
// the same authority share one billy memfs, so data survives across handles
// even when the mount table does not cache them.
func NewMemFactory(opts Options) fsys.Factory {
	var mu sync.Mutex
	stores := make(map[string]billy.Filesystem)
	return func(ctx context.Context, uri *url.URL) (fsys.FileSystem, error) {
		mu.Lock()
		defer mu.Unlock()
		key := uri.Host
		bfs, ok := stores[key]
		if !ok {
			bfs = memfs.New()
			stores[key] = bfs
		}
		return New(uri, bfs, opts), nil
	}
}

// NewOSFactory returns a factory for the local filesystem. Paths are taken
// relative to the host root.
func NewOSFactory(opts Options) fsys.Factory {
	return func(ctx context.Context, uri *url.URL) (fsys.FileSystem, error) {
		if uri.Host != "" {
			return nil, fmt.Errorf("file scheme does not take an authority: %q", uri.Host)
		}
		return New(uri, osfs.New("/"), opts), nil
	}
}

// Billy returns the wrapped billy filesystem
func (f *FileSystem) Billy() billy.Filesystem {
	return f.fs
}

func (f *FileSystem) URI() *url.URL {
	u := *f.uri
	return &u
}

func (f *FileSystem) qualify(p string) string {
	return common.Qualify(f.uri, p)
}

func (f *FileSystem) checkOpen() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return common.ErrClosed
	}
	return nil
}

func pathErr(op, p string, err error) error {
	return &fs.PathError{Op: op, Path: p, Err: err}
}

// --- File I/O ---

func (f *FileSystem) Open(ctx context.Context, p string) (fsys.File, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	info, err := f.fs.Stat(p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, pathErr("open", p, syscall.EISDIR)
	}
	file, err := f.fs.Open(p)
	if err != nil {
		return nil, err
	}
	f.touchAccess(p)
	return file, nil
}

func (f *FileSystem) Create(ctx context.Context, p string, opts fsys.CreateOptions) (fsys.File, error) {
	return f.create(p, opts, true)
}

func (f *FileSystem) CreateNonRecursive(ctx context.Context, p string, opts fsys.CreateOptions) (fsys.File, error) {
	return f.create(p, opts, false)
}

func (f *FileSystem) create(p string, opts fsys.CreateOptions, recursive bool) (fsys.File, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	if p == common.Root {
		return nil, pathErr("create", p, syscall.EISDIR)
	}

	parent := common.ParentPath(p)
	pinfo, err := f.fs.Stat(parent)
	switch {
	case err == nil && !pinfo.IsDir():
		return nil, pathErr("create", parent, syscall.ENOTDIR)
	case err != nil && !recursive:
		return nil, err
	case err != nil:
		if err := f.fs.MkdirAll(parent, 0755); err != nil {
			return nil, err
		}
	}

	if info, err := f.fs.Stat(p); err == nil {
		if info.IsDir() {
			return nil, pathErr("create", p, syscall.EISDIR)
		}
		if !opts.Overwrite {
			return nil, pathErr("create", p, fs.ErrExist)
		}
	}

	perm := opts.Permission
	if perm == 0 {
		perm = 0644
	}
	file, err := f.fs.OpenFile(p, os.O_CREATE|os.O_RDWR|os.O_TRUNC, perm)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	m := f.metaLocked(p)
	m.perm = &perm
	m.owner = f.opts.User
	m.group = f.opts.Group
	if opts.Replication > 0 {
		m.replication = opts.Replication
	}
	m.blockSize = opts.BlockSize
	m.mtime = time.Time{}
	m.version = uuid.NewString()
	f.mu.Unlock()

	log.Tracef("[BillyFS] create %s", f.qualify(p))
	return file, nil
}

func (f *FileSystem) Append(ctx context.Context, p string) (fsys.File, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	info, err := f.fs.Stat(p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, pathErr("append", p, syscall.EISDIR)
	}
	file, err := f.fs.OpenFile(p, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return nil, err
	}
	f.bumpVersion(p)
	return file, nil
}

func (f *FileSystem) Truncate(ctx context.Context, p string, size int64) error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	if size < 0 {
		return pathErr("truncate", p, syscall.EINVAL)
	}
	info, err := f.fs.Stat(p)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return pathErr("truncate", p, syscall.EISDIR)
	}
	if size > info.Size() {
		return pathErr("truncate", p, syscall.EINVAL)
	}
	file, err := f.fs.OpenFile(p, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer file.Close()
	if err := file.Truncate(size); err != nil {
		return err
	}
	f.bumpVersion(p)
	return nil
}

// --- Namespace ---

func (f *FileSystem) Delete(ctx context.Context, p string, recursive bool) error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	if p == common.Root {
		return pathErr("delete", p, fs.ErrPermission)
	}
	info, err := f.fs.Stat(p)
	if err != nil {
		return err
	}
	if info.IsDir() {
		children, err := f.fs.ReadDir(p)
		if err != nil {
			return err
		}
		if len(children) > 0 && !recursive {
			return pathErr("delete", p, syscall.ENOTEMPTY)
		}
		if err := util.RemoveAll(f.fs, p); err != nil {
			return err
		}
	} else if err := f.fs.Remove(p); err != nil {
		return err
	}
	f.dropMeta(p)
	return nil
}

func (f *FileSystem) Rename(ctx context.Context, src, dst string) error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	if src == common.Root || dst == common.Root {
		return &os.LinkError{Op: "rename", Old: src, New: dst, Err: fs.ErrPermission}
	}
	if common.IsUnder(dst, src) && src != dst {
		return &os.LinkError{Op: "rename", Old: src, New: dst, Err: syscall.EINVAL}
	}
	if _, err := f.fs.Stat(src); err != nil {
		return err
	}
	if _, err := f.fs.Stat(dst); err == nil {
		return &os.LinkError{Op: "rename", Old: src, New: dst, Err: fs.ErrExist}
	}
	if _, err := f.fs.Stat(common.ParentPath(dst)); err != nil {
		return err
	}
	if err := f.fs.Rename(src, dst); err != nil {
		return err
	}
	f.moveMeta(src, dst)
	return nil
}

func (f *FileSystem) Mkdirs(ctx context.Context, p string, perm os.FileMode) error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	if info, err := f.fs.Stat(p); err == nil {
		if !info.IsDir() {
			return pathErr("mkdirs", p, fs.ErrExist)
		}
		return nil
	}
	if perm == 0 {
		perm = 0755
	}
	if err := f.fs.MkdirAll(p, perm|os.ModeDir); err != nil {
		return err
	}
	perm = perm.Perm()
	f.mu.Lock()
	m := f.metaLocked(p)
	m.perm = &perm
	m.owner = f.opts.User
	m.group = f.opts.Group
	f.mu.Unlock()
	return nil
}

// --- Status ---

func (f *FileSystem) status(p string, info os.FileInfo) *fsys.FileStatus {
	st := &fsys.FileStatus{
		Path:       f.qualify(p),
		IsDir:      info.IsDir(),
		ModTime:    info.ModTime(),
		AccessTime: info.ModTime(),
		Permission: info.Mode().Perm(),
		Owner:      f.opts.User,
		Group:      f.opts.Group,
	}
	if info.Mode()&os.ModeSymlink != 0 {
		st.IsSymlink = true
		if target, err := f.fs.Readlink(p); err == nil {
			st.SymlinkTarget = target
		}
	}
	if !st.IsDir {
		st.Length = info.Size()
		st.Replication = f.opts.Replication
		st.BlockSize = f.opts.BlockSize
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if m, ok := f.meta[p]; ok {
		m.applyTo(st)
	}
	return st
}

func (f *FileSystem) GetFileStatus(ctx context.Context, p string) (*fsys.FileStatus, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	info, err := f.fs.Lstat(p)
	if err != nil {
		return nil, err
	}
	return f.status(p, info), nil
}

func (f *FileSystem) ListStatus(ctx context.Context, p string) ([]*fsys.FileStatus, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	info, err := f.fs.Stat(p)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []*fsys.FileStatus{f.status(p, info)}, nil
	}
	infos, err := f.fs.ReadDir(p)
	if err != nil {
		return nil, err
	}
	out := make([]*fsys.FileStatus, 0, len(infos))
	for _, ci := range infos {
		out = append(out, f.status(common.JoinPath(p, ci.Name()), ci))
	}
	return out, nil
}

func (f *FileSystem) ListLocatedStatus(ctx context.Context, p string) ([]*fsys.FileStatus, error) {
	statuses, err := f.ListStatus(ctx, p)
	if err != nil {
		return nil, err
	}
	for _, st := range statuses {
		st.Locations = f.blockLocations(st)
	}
	return statuses, nil
}

func (f *FileSystem) GetFileBlockLocations(ctx context.Context, p string, start, length int64) ([]fsys.BlockLocation, error) {
	if start < 0 || length < 0 {
		return nil, pathErr("getFileBlockLocations", p, fs.ErrInvalid)
	}
	st, err := f.GetFileStatus(ctx, p)
	if err != nil {
		return nil, err
	}
	if st.Length <= start {
		return nil, nil
	}
	return fsys.BlocksInRange(f.blockLocations(st), start, length), nil
}

// Access checks mode against the owner bits; every caller is the owner
func (f *FileSystem) Access(ctx context.Context, p string, mode fsys.AccessMode) error {
	st, err := f.GetFileStatus(ctx, p)
	if err != nil {
		return err
	}
	owner := fsys.AccessMode(st.Permission.Perm()>>6) & 07
	if owner&mode != mode {
		return pathErr("access", p, fs.ErrPermission)
	}
	return nil
}

func (f *FileSystem) blockLocations(st *fsys.FileStatus) []fsys.BlockLocation {
	if st.IsDir || st.Length == 0 {
		return nil
	}
	host := f.uri.Host
	if host == "" {
		host = "localhost"
	}
	var locs []fsys.BlockLocation
	for off := int64(0); off < st.Length; off += st.BlockSize {
		n := st.BlockSize
		if off+n > st.Length {
			n = st.Length - off
		}
		locs = append(locs, fsys.BlockLocation{Offset: off, Length: n, Hosts: []string{host}})
	}
	return locs
}

func (f *FileSystem) ResolvePath(ctx context.Context, p string) (string, error) {
	if err := f.checkOpen(); err != nil {
		return "", err
	}
	if _, err := f.fs.Lstat(p); err != nil {
		return "", err
	}
	return f.qualify(p), nil
}

func (f *FileSystem) GetDefaultBlockSize(ctx context.Context, p string) (int64, error) {
	return f.opts.BlockSize, f.checkOpen()
}

func (f *FileSystem) GetDefaultReplication(ctx context.Context, p string) (int16, error) {
	return f.opts.Replication, f.checkOpen()
}

// --- Home and trash ---

func (f *FileSystem) homePath() string {
	return common.JoinPath(HomePrefix, f.opts.User)
}

func (f *FileSystem) GetHomeDirectory() string {
	return f.qualify(f.homePath())
}

func (f *FileSystem) GetTrashRoot(ctx context.Context, p string) (string, error) {
	if err := f.checkOpen(); err != nil {
		return "", err
	}
	return f.qualify(common.JoinPath(f.homePath(), TrashDir)), nil
}

func (f *FileSystem) GetTrashRoots(ctx context.Context, allUsers bool) ([]*fsys.FileStatus, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	var homes []string
	if allUsers {
		infos, err := f.fs.ReadDir(HomePrefix)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		for _, info := range infos {
			if info.IsDir() {
				homes = append(homes, common.JoinPath(HomePrefix, info.Name()))
			}
		}
	} else {
		homes = []string{f.homePath()}
	}

	var out []*fsys.FileStatus
	for _, home := range homes {
		trash := common.JoinPath(home, TrashDir)
		info, err := f.fs.Stat(trash)
		if err != nil {
			continue
		}
		out = append(out, f.status(trash, info))
	}
	return out, nil
}

func (f *FileSystem) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	log.Debugf("[BillyFS] closed %s", f.uri)
	return nil
}
