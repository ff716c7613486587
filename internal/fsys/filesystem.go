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

// Package fsys defines the capability interface every backing filesystem
// exposes to the mount table, and the value types that flow through it.
//
// All paths passed to a FileSystem are absolute, slash separated and already
// normalized (see common.CleanPath).
package fsys

import (
	"context"
	"net/url"
	"os"
	"time"
)

// FileSystem is the capability set consumed by the mount table
type FileSystem interface {
	// URI identifies the filesystem (scheme, authority and, for adapters, root)
	URI() *url.URL

	Open(ctx context.Context, p string) (File, error)
	Create(ctx context.Context, p string, opts CreateOptions) (File, error)
	// CreateNonRecursive fails when the parent directory is missing
	CreateNonRecursive(ctx context.Context, p string, opts CreateOptions) (File, error)
	Append(ctx context.Context, p string) (File, error)
	Delete(ctx context.Context, p string, recursive bool) error
	Rename(ctx context.Context, src, dst string) error
	Truncate(ctx context.Context, p string, size int64) error
	Mkdirs(ctx context.Context, p string, perm os.FileMode) error

	GetFileStatus(ctx context.Context, p string) (*FileStatus, error)
	ListStatus(ctx context.Context, p string) ([]*FileStatus, error)
	// ListLocatedStatus is ListStatus with block locations filled for files
	ListLocatedStatus(ctx context.Context, p string) ([]*FileStatus, error)
	// GetFileBlockLocations returns the blocks of p overlapping [start, start+length)
	GetFileBlockLocations(ctx context.Context, p string, start, length int64) ([]BlockLocation, error)
	// Access fails with fs.ErrPermission when the caller lacks mode on p
	Access(ctx context.Context, p string, mode AccessMode) error

	SetOwner(ctx context.Context, p, user, group string) error
	SetPermission(ctx context.Context, p string, perm os.FileMode) error
	SetReplication(ctx context.Context, p string, replication int16) error
	SetTimes(ctx context.Context, p string, mtime, atime time.Time) error

	ModifyAclEntries(ctx context.Context, p string, spec []AclEntry) error
	RemoveAclEntries(ctx context.Context, p string, spec []AclEntry) error
	RemoveDefaultAcl(ctx context.Context, p string) error
	RemoveAcl(ctx context.Context, p string) error
	SetAcl(ctx context.Context, p string, spec []AclEntry) error
	GetAclStatus(ctx context.Context, p string) (*AclStatus, error)

	SetXAttr(ctx context.Context, p, name string, value []byte, flag XAttrSetFlag) error
	GetXAttr(ctx context.Context, p, name string) ([]byte, error)
	// GetXAttrs returns the named attributes, or all of them when names is empty
	GetXAttrs(ctx context.Context, p string, names []string) (map[string][]byte, error)
	ListXAttrs(ctx context.Context, p string) ([]string, error)
	RemoveXAttr(ctx context.Context, p, name string) error

	GetFileChecksum(ctx context.Context, p string) (*FileChecksum, error)
	GetContentSummary(ctx context.Context, p string) (*ContentSummary, error)
	GetQuotaUsage(ctx context.Context, p string) (*QuotaUsage, error)

	// GetHomeDirectory returns the qualified home directory of the current user
	GetHomeDirectory() string
	// GetTrashRoot returns the qualified trash root for p
	GetTrashRoot(ctx context.Context, p string) (string, error)
	GetTrashRoots(ctx context.Context, allUsers bool) ([]*FileStatus, error)

	CreateSnapshot(ctx context.Context, p, name string) (string, error)
	RenameSnapshot(ctx context.Context, p, oldName, newName string) error
	DeleteSnapshot(ctx context.Context, p, name string) error

	// ResolvePath returns the fully qualified path of p after resolution
	ResolvePath(ctx context.Context, p string) (string, error)
	GetDefaultBlockSize(ctx context.Context, p string) (int64, error)
	GetDefaultReplication(ctx context.Context, p string) (int16, error)

	Close() error
}
