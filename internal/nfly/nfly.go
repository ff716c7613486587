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

// Package nfly implements the merge link: one mount point backed by an
// ordered list of replica filesystems.
//
// Reads go to the first replica that answers. Listings are the union of
// every replica's children; when a name appears in several replicas the
// first-listed replica wins. Writes fan out to the configured write targets
// and succeed once MinReplication of them did.
package nfly

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"viewfs/internal/common"
	"viewfs/internal/fsys"
)

// FileSystem is the merged view over replicas
type FileSystem struct {
	targets  []fsys.FileSystem
	settings Settings
	uri      *url.URL
}

// New builds a merge view over targets with the given settings string
func New(targets []fsys.FileSystem, settings string) (*FileSystem, error) {
	if len(targets) < 2 {
		return nil, fmt.Errorf("nfly link needs at least two targets, got %d", len(targets))
	}
	s, err := ParseSettings(settings, len(targets))
	if err != nil {
		return nil, err
	}
	uris := make([]string, len(targets))
	for i, t := range targets {
		uris[i] = t.URI().String()
	}
	return &FileSystem{
		targets:  targets,
		settings: s,
		uri:      &url.URL{Scheme: "nfly", Opaque: strings.Join(uris, ",")},
	}, nil
}

// Settings returns the parsed settings
func (n *FileSystem) Settings() Settings { return n.settings }

// Targets returns the replicas in configured order
func (n *FileSystem) Targets() []fsys.FileSystem {
	return append([]fsys.FileSystem(nil), n.targets...)
}

func (n *FileSystem) URI() *url.URL {
	u := *n.uri
	return &u
}

// --- fan-in helpers ---

// first returns the result of the first replica fn succeeds on, or the last
// error when every replica fails
func first[T any](n *FileSystem, fn func(fsys.FileSystem) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for _, t := range n.targets {
		v, err := fn(t)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return zero, lastErr
}

// write runs fn on every write target. It succeeds when at least
// MinReplication targets succeed; partial failures are logged.
func (n *FileSystem) write(op, p string, fn func(fsys.FileSystem) error) error {
	if len(n.settings.WriteTargets) == 0 {
		return common.Unsupported(op, p)
	}
	var result *multierror.Error
	ok := 0
	for _, idx := range n.settings.WriteTargets {
		if err := fn(n.targets[idx]); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		ok++
	}
	if ok >= n.settings.MinReplication {
		if result != nil {
			log.Warnf("[Nfly] %s %s: %d of %d replicas failed: %v", op, p, len(result.Errors), len(n.settings.WriteTargets), result)
		}
		return nil
	}
	if len(result.Errors) == 1 {
		return result.Errors[0]
	}
	return result.ErrorOrNil()
}

// mostRecent returns the index of the replica holding the newest version of
// p, or an error when no replica has it
func (n *FileSystem) mostRecent(ctx context.Context, p string) (int, *fsys.FileStatus, error) {
	best := -1
	var bestSt *fsys.FileStatus
	var lastErr error
	for i, t := range n.targets {
		st, err := t.GetFileStatus(ctx, p)
		if err != nil {
			lastErr = err
			continue
		}
		if best < 0 || st.ModTime.After(bestSt.ModTime) {
			best, bestSt = i, st
		}
	}
	if best < 0 {
		return -1, nil, lastErr
	}
	return best, bestSt, nil
}

// --- File I/O ---

func (n *FileSystem) Open(ctx context.Context, p string) (fsys.File, error) {
	if n.settings.ReadMostRecent {
		idx, _, err := n.mostRecent(ctx, p)
		if err != nil {
			return nil, err
		}
		f, err := n.targets[idx].Open(ctx, p)
		if err == nil {
			return f, nil
		}
	}
	return first(n, func(t fsys.FileSystem) (fsys.File, error) { return t.Open(ctx, p) })
}

func (n *FileSystem) Create(ctx context.Context, p string, opts fsys.CreateOptions) (fsys.File, error) {
	return n.openWriters("create", p, func(t fsys.FileSystem) (fsys.File, error) {
		return t.Create(ctx, p, opts)
	})
}

func (n *FileSystem) CreateNonRecursive(ctx context.Context, p string, opts fsys.CreateOptions) (fsys.File, error) {
	return n.openWriters("create", p, func(t fsys.FileSystem) (fsys.File, error) {
		return t.CreateNonRecursive(ctx, p, opts)
	})
}

func (n *FileSystem) Append(ctx context.Context, p string) (fsys.File, error) {
	return n.openWriters("append", p, func(t fsys.FileSystem) (fsys.File, error) {
		return t.Append(ctx, p)
	})
}

func (n *FileSystem) openWriters(op, p string, open func(fsys.FileSystem) (fsys.File, error)) (fsys.File, error) {
	if len(n.settings.WriteTargets) == 0 {
		return nil, common.Unsupported(op, p)
	}
	var files []fsys.File
	var result *multierror.Error
	for _, idx := range n.settings.WriteTargets {
		f, err := open(n.targets[idx])
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		files = append(files, f)
	}
	if len(files) < n.settings.MinReplication {
		for _, f := range files {
			if cerr := f.Close(); cerr != nil {
				log.Debugf("[Nfly] %s %s: closing replica writer: %v", op, p, cerr)
			}
		}
		if len(result.Errors) == 1 {
			return nil, result.Errors[0]
		}
		return nil, result.ErrorOrNil()
	}
	if result != nil {
		log.Warnf("[Nfly] %s %s: continuing with %d replicas: %v", op, p, len(files), result)
	}
	return newTeeFile(p, files, n.settings.MinReplication), nil
}

func (n *FileSystem) Truncate(ctx context.Context, p string, size int64) error {
	return n.write("truncate", p, func(t fsys.FileSystem) error { return t.Truncate(ctx, p, size) })
}

// --- Namespace ---

func (n *FileSystem) Delete(ctx context.Context, p string, recursive bool) error {
	return n.write("delete", p, func(t fsys.FileSystem) error { return t.Delete(ctx, p, recursive) })
}

func (n *FileSystem) Rename(ctx context.Context, src, dst string) error {
	return n.write("rename", src, func(t fsys.FileSystem) error { return t.Rename(ctx, src, dst) })
}

func (n *FileSystem) Mkdirs(ctx context.Context, p string, perm os.FileMode) error {
	return n.write("mkdirs", p, func(t fsys.FileSystem) error { return t.Mkdirs(ctx, p, perm) })
}

// --- Status ---

func (n *FileSystem) GetFileStatus(ctx context.Context, p string) (*fsys.FileStatus, error) {
	if n.settings.ReadMostRecent {
		_, st, err := n.mostRecent(ctx, p)
		return st, err
	}
	return first(n, func(t fsys.FileSystem) (*fsys.FileStatus, error) { return t.GetFileStatus(ctx, p) })
}

func (n *FileSystem) ListStatus(ctx context.Context, p string) ([]*fsys.FileStatus, error) {
	return n.union(func(t fsys.FileSystem) ([]*fsys.FileStatus, error) { return t.ListStatus(ctx, p) })
}

func (n *FileSystem) ListLocatedStatus(ctx context.Context, p string) ([]*fsys.FileStatus, error) {
	return n.union(func(t fsys.FileSystem) ([]*fsys.FileStatus, error) { return t.ListLocatedStatus(ctx, p) })
}

// union merges replica listings by entry name in replica order
func (n *FileSystem) union(list func(fsys.FileSystem) ([]*fsys.FileStatus, error)) ([]*fsys.FileStatus, error) {
	var out []*fsys.FileStatus
	seen := make(map[string]bool)
	var lastErr error
	answered := false
	for _, t := range n.targets {
		entries, err := list(t)
		if err != nil {
			lastErr = err
			continue
		}
		answered = true
		for _, st := range entries {
			name := common.BaseName(st.Path)
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, st)
		}
	}
	if !answered {
		return nil, lastErr
	}
	return out, nil
}

// --- Attributes ---

func (n *FileSystem) SetOwner(ctx context.Context, p, user, group string) error {
	return n.write("setOwner", p, func(t fsys.FileSystem) error { return t.SetOwner(ctx, p, user, group) })
}

func (n *FileSystem) SetPermission(ctx context.Context, p string, perm os.FileMode) error {
	return n.write("setPermission", p, func(t fsys.FileSystem) error { return t.SetPermission(ctx, p, perm) })
}

func (n *FileSystem) SetReplication(ctx context.Context, p string, replication int16) error {
	return n.write("setReplication", p, func(t fsys.FileSystem) error { return t.SetReplication(ctx, p, replication) })
}

func (n *FileSystem) SetTimes(ctx context.Context, p string, mtime, atime time.Time) error {
	return n.write("setTimes", p, func(t fsys.FileSystem) error { return t.SetTimes(ctx, p, mtime, atime) })
}

func (n *FileSystem) ModifyAclEntries(ctx context.Context, p string, spec []fsys.AclEntry) error {
	return n.write("modifyAclEntries", p, func(t fsys.FileSystem) error { return t.ModifyAclEntries(ctx, p, spec) })
}

func (n *FileSystem) RemoveAclEntries(ctx context.Context, p string, spec []fsys.AclEntry) error {
	return n.write("removeAclEntries", p, func(t fsys.FileSystem) error { return t.RemoveAclEntries(ctx, p, spec) })
}

func (n *FileSystem) RemoveDefaultAcl(ctx context.Context, p string) error {
	return n.write("removeDefaultAcl", p, func(t fsys.FileSystem) error { return t.RemoveDefaultAcl(ctx, p) })
}

func (n *FileSystem) RemoveAcl(ctx context.Context, p string) error {
	return n.write("removeAcl", p, func(t fsys.FileSystem) error { return t.RemoveAcl(ctx, p) })
}

func (n *FileSystem) SetAcl(ctx context.Context, p string, spec []fsys.AclEntry) error {
	return n.write("setAcl", p, func(t fsys.FileSystem) error { return t.SetAcl(ctx, p, spec) })
}

func (n *FileSystem) GetAclStatus(ctx context.Context, p string) (*fsys.AclStatus, error) {
	return first(n, func(t fsys.FileSystem) (*fsys.AclStatus, error) { return t.GetAclStatus(ctx, p) })
}

func (n *FileSystem) SetXAttr(ctx context.Context, p, name string, value []byte, flag fsys.XAttrSetFlag) error {
	return n.write("setXAttr", p, func(t fsys.FileSystem) error { return t.SetXAttr(ctx, p, name, value, flag) })
}

func (n *FileSystem) GetXAttr(ctx context.Context, p, name string) ([]byte, error) {
	return first(n, func(t fsys.FileSystem) ([]byte, error) { return t.GetXAttr(ctx, p, name) })
}

func (n *FileSystem) GetXAttrs(ctx context.Context, p string, names []string) (map[string][]byte, error) {
	return first(n, func(t fsys.FileSystem) (map[string][]byte, error) { return t.GetXAttrs(ctx, p, names) })
}

func (n *FileSystem) ListXAttrs(ctx context.Context, p string) ([]string, error) {
	return first(n, func(t fsys.FileSystem) ([]string, error) { return t.ListXAttrs(ctx, p) })
}

func (n *FileSystem) RemoveXAttr(ctx context.Context, p, name string) error {
	return n.write("removeXAttr", p, func(t fsys.FileSystem) error { return t.RemoveXAttr(ctx, p, name) })
}

func (n *FileSystem) GetFileChecksum(ctx context.Context, p string) (*fsys.FileChecksum, error) {
	return first(n, func(t fsys.FileSystem) (*fsys.FileChecksum, error) { return t.GetFileChecksum(ctx, p) })
}

func (n *FileSystem) GetContentSummary(ctx context.Context, p string) (*fsys.ContentSummary, error) {
	return first(n, func(t fsys.FileSystem) (*fsys.ContentSummary, error) { return t.GetContentSummary(ctx, p) })
}

func (n *FileSystem) GetQuotaUsage(ctx context.Context, p string) (*fsys.QuotaUsage, error) {
	return first(n, func(t fsys.FileSystem) (*fsys.QuotaUsage, error) { return t.GetQuotaUsage(ctx, p) })
}

// --- Home and trash ---

func (n *FileSystem) GetHomeDirectory() string {
	return n.targets[0].GetHomeDirectory()
}

func (n *FileSystem) GetTrashRoot(ctx context.Context, p string) (string, error) {
	return first(n, func(t fsys.FileSystem) (string, error) { return t.GetTrashRoot(ctx, p) })
}

func (n *FileSystem) GetTrashRoots(ctx context.Context, allUsers bool) ([]*fsys.FileStatus, error) {
	var out []*fsys.FileStatus
	seen := make(map[string]bool)
	for _, t := range n.targets {
		roots, err := t.GetTrashRoots(ctx, allUsers)
		if err != nil {
			log.Debugf("[Nfly] trash roots of %s: %v", t.URI(), err)
			continue
		}
		for _, st := range roots {
			if !seen[st.Path] {
				seen[st.Path] = true
				out = append(out, st)
			}
		}
	}
	return out, nil
}

// --- Snapshots are not replicated ---

func (n *FileSystem) CreateSnapshot(ctx context.Context, p, name string) (string, error) {
	return "", common.Unsupported("createSnapshot", p)
}

func (n *FileSystem) RenameSnapshot(ctx context.Context, p, oldName, newName string) error {
	return common.Unsupported("renameSnapshot", p)
}

func (n *FileSystem) DeleteSnapshot(ctx context.Context, p, name string) error {
	return common.Unsupported("deleteSnapshot", p)
}

func (n *FileSystem) ResolvePath(ctx context.Context, p string) (string, error) {
	return first(n, func(t fsys.FileSystem) (string, error) { return t.ResolvePath(ctx, p) })
}

func (n *FileSystem) GetFileBlockLocations(ctx context.Context, p string, start, length int64) ([]fsys.BlockLocation, error) {
	return first(n, func(t fsys.FileSystem) ([]fsys.BlockLocation, error) {
		return t.GetFileBlockLocations(ctx, p, start, length)
	})
}

// Access is granted when any replica grants it
func (n *FileSystem) Access(ctx context.Context, p string, mode fsys.AccessMode) error {
	_, err := first(n, func(t fsys.FileSystem) (struct{}, error) {
		return struct{}{}, t.Access(ctx, p, mode)
	})
	return err
}

func (n *FileSystem) GetDefaultBlockSize(ctx context.Context, p string) (int64, error) {
	return n.targets[0].GetDefaultBlockSize(ctx, p)
}

func (n *FileSystem) GetDefaultReplication(ctx context.Context, p string) (int16, error) {
	return n.targets[0].GetDefaultReplication(ctx, p)
}

// Close is a no-op; replica handles belong to the registry
func (n *FileSystem) Close() error {
	return nil
}
