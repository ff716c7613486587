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

// Package chroot confines a backing filesystem to the sub-tree named by a
// target URI path.
//
// Paths going in are joined under the root; statuses coming back have the
// root stripped and carry absolute paths relative to it. Home directory,
// trash roots and ResolvePath stay in the backing filesystem's qualified form.
package chroot

import (
	"context"
	"net/url"
	"os"
	"time"

	"viewfs/internal/common"
	"viewfs/internal/fsys"
)

// FileSystem is a chrooted view over a shared backing handle
type FileSystem struct {
	fs   fsys.FileSystem
	uri  *url.URL
	root string
}

// New chroots fs at the path of target. The returned filesystem reports
// target as its URI.
func New(fs fsys.FileSystem, target *url.URL) *FileSystem {
	u := *target
	root := common.URIPath(&u)
	u.Path = root
	return &FileSystem{fs: fs, uri: &u, root: root}
}

// Underlying returns the shared backing handle
func (c *FileSystem) Underlying() fsys.FileSystem { return c.fs }

// Root returns the chroot path inside the backing filesystem
func (c *FileSystem) Root() string { return c.root }

// FullPath maps p into the backing filesystem
func (c *FileSystem) FullPath(p string) string {
	return common.JoinPath(c.root, common.CleanPath(p))
}

// strip maps a path from the backing filesystem (bare or qualified) back
// under the chroot. Paths outside the root are returned unchanged.
func (c *FileSystem) strip(p string) string {
	_, _, bare, err := common.PathKey(p)
	if err != nil {
		return p
	}
	rest, ok := common.StripPrefix(bare, c.root)
	if !ok {
		return p
	}
	return rest
}

func (c *FileSystem) fixStatus(st *fsys.FileStatus) *fsys.FileStatus {
	return st.WithPath(c.strip(st.Path))
}

func (c *FileSystem) fixStatuses(in []*fsys.FileStatus) []*fsys.FileStatus {
	out := make([]*fsys.FileStatus, len(in))
	for i, st := range in {
		out[i] = c.fixStatus(st)
	}
	return out
}

func (c *FileSystem) URI() *url.URL {
	u := *c.uri
	return &u
}

func (c *FileSystem) Open(ctx context.Context, p string) (fsys.File, error) {
	return c.fs.Open(ctx, c.FullPath(p))
}

func (c *FileSystem) Create(ctx context.Context, p string, opts fsys.CreateOptions) (fsys.File, error) {
	return c.fs.Create(ctx, c.FullPath(p), opts)
}

func (c *FileSystem) CreateNonRecursive(ctx context.Context, p string, opts fsys.CreateOptions) (fsys.File, error) {
	return c.fs.CreateNonRecursive(ctx, c.FullPath(p), opts)
}

func (c *FileSystem) Append(ctx context.Context, p string) (fsys.File, error) {
	return c.fs.Append(ctx, c.FullPath(p))
}

func (c *FileSystem) Delete(ctx context.Context, p string, recursive bool) error {
	return c.fs.Delete(ctx, c.FullPath(p), recursive)
}

func (c *FileSystem) Rename(ctx context.Context, src, dst string) error {
	return c.fs.Rename(ctx, c.FullPath(src), c.FullPath(dst))
}

func (c *FileSystem) Truncate(ctx context.Context, p string, size int64) error {
	return c.fs.Truncate(ctx, c.FullPath(p), size)
}

func (c *FileSystem) Mkdirs(ctx context.Context, p string, perm os.FileMode) error {
	return c.fs.Mkdirs(ctx, c.FullPath(p), perm)
}

func (c *FileSystem) GetFileStatus(ctx context.Context, p string) (*fsys.FileStatus, error) {
	st, err := c.fs.GetFileStatus(ctx, c.FullPath(p))
	if err != nil {
		return nil, err
	}
	return c.fixStatus(st), nil
}

func (c *FileSystem) ListStatus(ctx context.Context, p string) ([]*fsys.FileStatus, error) {
	list, err := c.fs.ListStatus(ctx, c.FullPath(p))
	if err != nil {
		return nil, err
	}
	return c.fixStatuses(list), nil
}

func (c *FileSystem) ListLocatedStatus(ctx context.Context, p string) ([]*fsys.FileStatus, error) {
	list, err := c.fs.ListLocatedStatus(ctx, c.FullPath(p))
	if err != nil {
		return nil, err
	}
	return c.fixStatuses(list), nil
}

func (c *FileSystem) SetOwner(ctx context.Context, p, user, group string) error {
	return c.fs.SetOwner(ctx, c.FullPath(p), user, group)
}

func (c *FileSystem) SetPermission(ctx context.Context, p string, perm os.FileMode) error {
	return c.fs.SetPermission(ctx, c.FullPath(p), perm)
}

func (c *FileSystem) SetReplication(ctx context.Context, p string, replication int16) error {
	return c.fs.SetReplication(ctx, c.FullPath(p), replication)
}

func (c *FileSystem) SetTimes(ctx context.Context, p string, mtime, atime time.Time) error {
	return c.fs.SetTimes(ctx, c.FullPath(p), mtime, atime)
}

func (c *FileSystem) ModifyAclEntries(ctx context.Context, p string, spec []fsys.AclEntry) error {
	return c.fs.ModifyAclEntries(ctx, c.FullPath(p), spec)
}

func (c *FileSystem) RemoveAclEntries(ctx context.Context, p string, spec []fsys.AclEntry) error {
	return c.fs.RemoveAclEntries(ctx, c.FullPath(p), spec)
}

func (c *FileSystem) RemoveDefaultAcl(ctx context.Context, p string) error {
	return c.fs.RemoveDefaultAcl(ctx, c.FullPath(p))
}

func (c *FileSystem) RemoveAcl(ctx context.Context, p string) error {
	return c.fs.RemoveAcl(ctx, c.FullPath(p))
}

func (c *FileSystem) SetAcl(ctx context.Context, p string, spec []fsys.AclEntry) error {
	return c.fs.SetAcl(ctx, c.FullPath(p), spec)
}

func (c *FileSystem) GetAclStatus(ctx context.Context, p string) (*fsys.AclStatus, error) {
	return c.fs.GetAclStatus(ctx, c.FullPath(p))
}

func (c *FileSystem) SetXAttr(ctx context.Context, p, name string, value []byte, flag fsys.XAttrSetFlag) error {
	return c.fs.SetXAttr(ctx, c.FullPath(p), name, value, flag)
}

func (c *FileSystem) GetXAttr(ctx context.Context, p, name string) ([]byte, error) {
	return c.fs.GetXAttr(ctx, c.FullPath(p), name)
}

func (c *FileSystem) GetXAttrs(ctx context.Context, p string, names []string) (map[string][]byte, error) {
	return c.fs.GetXAttrs(ctx, c.FullPath(p), names)
}

func (c *FileSystem) ListXAttrs(ctx context.Context, p string) ([]string, error) {
	return c.fs.ListXAttrs(ctx, c.FullPath(p))
}

func (c *FileSystem) RemoveXAttr(ctx context.Context, p, name string) error {
	return c.fs.RemoveXAttr(ctx, c.FullPath(p), name)
}

func (c *FileSystem) GetFileChecksum(ctx context.Context, p string) (*fsys.FileChecksum, error) {
	return c.fs.GetFileChecksum(ctx, c.FullPath(p))
}

func (c *FileSystem) GetContentSummary(ctx context.Context, p string) (*fsys.ContentSummary, error) {
	return c.fs.GetContentSummary(ctx, c.FullPath(p))
}

func (c *FileSystem) GetQuotaUsage(ctx context.Context, p string) (*fsys.QuotaUsage, error) {
	return c.fs.GetQuotaUsage(ctx, c.FullPath(p))
}

func (c *FileSystem) GetHomeDirectory() string {
	return c.fs.GetHomeDirectory()
}

func (c *FileSystem) GetTrashRoot(ctx context.Context, p string) (string, error) {
	return c.fs.GetTrashRoot(ctx, c.FullPath(p))
}

func (c *FileSystem) GetTrashRoots(ctx context.Context, allUsers bool) ([]*fsys.FileStatus, error) {
	return c.fs.GetTrashRoots(ctx, allUsers)
}

// CreateSnapshot returns the snapshot path stripped of the chroot when it
// lies inside it
func (c *FileSystem) CreateSnapshot(ctx context.Context, p, name string) (string, error) {
	snap, err := c.fs.CreateSnapshot(ctx, c.FullPath(p), name)
	if err != nil {
		return "", err
	}
	return c.strip(snap), nil
}

func (c *FileSystem) RenameSnapshot(ctx context.Context, p, oldName, newName string) error {
	return c.fs.RenameSnapshot(ctx, c.FullPath(p), oldName, newName)
}

func (c *FileSystem) DeleteSnapshot(ctx context.Context, p, name string) error {
	return c.fs.DeleteSnapshot(ctx, c.FullPath(p), name)
}

func (c *FileSystem) ResolvePath(ctx context.Context, p string) (string, error) {
	return c.fs.ResolvePath(ctx, c.FullPath(p))
}

func (c *FileSystem) GetFileBlockLocations(ctx context.Context, p string, start, length int64) ([]fsys.BlockLocation, error) {
	return c.fs.GetFileBlockLocations(ctx, c.FullPath(p), start, length)
}

func (c *FileSystem) Access(ctx context.Context, p string, mode fsys.AccessMode) error {
	return c.fs.Access(ctx, c.FullPath(p), mode)
}

func (c *FileSystem) GetDefaultBlockSize(ctx context.Context, p string) (int64, error) {
	return c.fs.GetDefaultBlockSize(ctx, c.FullPath(p))
}

func (c *FileSystem) GetDefaultReplication(ctx context.Context, p string) (int16, error) {
	return c.fs.GetDefaultReplication(ctx, c.FullPath(p))
}

// Close is a no-op: the backing handle belongs to the registry
func (c *FileSystem) Close() error {
	return nil
}
