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

package billyfs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"syscall"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/google/uuid"

	"viewfs/internal/common"
	"viewfs/internal/fsys"
)

// ErrNoXAttr is returned when a named extended attribute is absent
var ErrNoXAttr = fmt.Errorf("no such attribute: %w", fs.ErrNotExist)

var xattrNamespaces = []string{"user.", "trusted.", "system.", "security.", "raw."}

// entryMeta overlays the attributes billy cannot store
type entryMeta struct {
	owner       string
	group       string
	perm        *os.FileMode
	replication int16
	blockSize   int64
	mtime       time.Time
	atime       time.Time
	version     string
	acl         []fsys.AclEntry
	xattrs      map[string][]byte
}

func (m *entryMeta) applyTo(st *fsys.FileStatus) {
	if m.owner != "" {
		st.Owner = m.owner
	}
	if m.group != "" {
		st.Group = m.group
	}
	if m.perm != nil {
		st.Permission = *m.perm
	}
	if !st.IsDir {
		if m.replication > 0 {
			st.Replication = m.replication
		}
		if m.blockSize > 0 {
			st.BlockSize = m.blockSize
		}
	}
	if !m.mtime.IsZero() {
		st.ModTime = m.mtime
	}
	if !m.atime.IsZero() {
		st.AccessTime = m.atime
	}
	st.Version = m.version
}

// metaLocked returns the side-table entry for p, creating it. Caller holds mu.
func (f *FileSystem) metaLocked(p string) *entryMeta {
	m, ok := f.meta[p]
	if !ok {
		m = &entryMeta{}
		f.meta[p] = m
	}
	return m
}

func (f *FileSystem) touchAccess(p string) {
	f.mu.Lock()
	f.metaLocked(p).atime = time.Now()
	f.mu.Unlock()
}

func (f *FileSystem) bumpVersion(p string) {
	f.mu.Lock()
	m := f.metaLocked(p)
	m.version = uuid.NewString()
	m.mtime = time.Time{}
	f.mu.Unlock()
}

func (f *FileSystem) dropMeta(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.meta {
		if common.IsUnder(k, p) {
			delete(f.meta, k)
		}
	}
}

func (f *FileSystem) moveMeta(src, dst string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	moved := make(map[string]*entryMeta)
	for k, m := range f.meta {
		if rest, ok := common.StripPrefix(k, src); ok {
			moved[common.JoinPath(dst, rest)] = m
			delete(f.meta, k)
		}
	}
	for k, m := range moved {
		f.meta[k] = m
	}
}

// withMeta runs fn against the side-table entry of an existing path
func (f *FileSystem) withMeta(p string, fn func(m *entryMeta, info os.FileInfo) error) error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	info, err := f.fs.Lstat(p)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(f.metaLocked(p), info)
}

func (f *FileSystem) currentPerm(m *entryMeta, info os.FileInfo) os.FileMode {
	if m.perm != nil {
		return *m.perm
	}
	return info.Mode().Perm()
}

// --- Attributes ---

func (f *FileSystem) SetOwner(ctx context.Context, p, user, group string) error {
	if user == "" && group == "" {
		return pathErr("setowner", p, syscall.EINVAL)
	}
	return f.withMeta(p, func(m *entryMeta, _ os.FileInfo) error {
		if user != "" {
			m.owner = user
		}
		if group != "" {
			m.group = group
		}
		return nil
	})
}

func (f *FileSystem) SetPermission(ctx context.Context, p string, perm os.FileMode) error {
	return f.withMeta(p, func(m *entryMeta, _ os.FileInfo) error {
		if ch, ok := f.fs.(billy.Change); ok {
			// best effort; the side table is authoritative
			_ = ch.Chmod(p, perm.Perm())
		}
		mode := perm & (os.ModePerm | os.ModeSticky)
		m.perm = &mode
		return nil
	})
}

func (f *FileSystem) SetReplication(ctx context.Context, p string, replication int16) error {
	if replication <= 0 {
		return pathErr("setreplication", p, syscall.EINVAL)
	}
	return f.withMeta(p, func(m *entryMeta, info os.FileInfo) error {
		if info.IsDir() {
			return pathErr("setreplication", p, syscall.EISDIR)
		}
		m.replication = replication
		return nil
	})
}

func (f *FileSystem) SetTimes(ctx context.Context, p string, mtime, atime time.Time) error {
	return f.withMeta(p, func(m *entryMeta, _ os.FileInfo) error {
		if !mtime.IsZero() {
			m.mtime = mtime
		}
		if !atime.IsZero() {
			m.atime = atime
		}
		if ch, ok := f.fs.(billy.Change); ok && !mtime.IsZero() && !atime.IsZero() {
			_ = ch.Chtimes(p, atime, mtime)
		}
		return nil
	})
}

// --- ACLs ---

// isBaseEntry reports whether e maps onto the permission bits
func isBaseEntry(e fsys.AclEntry) bool {
	return e.Scope == fsys.AclScopeAccess && e.Name == "" && e.Type != fsys.AclMask
}

func applyBase(perm os.FileMode, e fsys.AclEntry) os.FileMode {
	bits := e.Permission & 7
	switch e.Type {
	case fsys.AclUser:
		return perm&^0700 | bits<<6
	case fsys.AclGroup:
		return perm&^0070 | bits<<3
	case fsys.AclOther:
		return perm&^0007 | bits
	}
	return perm
}

func mergeAcl(existing, spec []fsys.AclEntry) []fsys.AclEntry {
	out := append([]fsys.AclEntry(nil), existing...)
	for _, e := range spec {
		replaced := false
		for i := range out {
			if out[i].SameKey(e) {
				out[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, e)
		}
	}
	sortAcl(out)
	return out
}

func sortAcl(entries []fsys.AclEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Scope != b.Scope {
			return a.Scope < b.Scope
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Name < b.Name
	})
}

// splitSpec applies base entries to perm and returns the extended remainder
func splitSpec(perm os.FileMode, spec []fsys.AclEntry) (os.FileMode, []fsys.AclEntry) {
	var extended []fsys.AclEntry
	for _, e := range spec {
		if isBaseEntry(e) {
			perm = applyBase(perm, e)
			continue
		}
		extended = append(extended, e)
	}
	return perm, extended
}

func (f *FileSystem) ModifyAclEntries(ctx context.Context, p string, spec []fsys.AclEntry) error {
	return f.withMeta(p, func(m *entryMeta, info os.FileInfo) error {
		perm, extended := splitSpec(f.currentPerm(m, info), spec)
		m.perm = &perm
		m.acl = mergeAcl(m.acl, extended)
		return nil
	})
}

func (f *FileSystem) RemoveAclEntries(ctx context.Context, p string, spec []fsys.AclEntry) error {
	return f.withMeta(p, func(m *entryMeta, _ os.FileInfo) error {
		kept := m.acl[:0]
		for _, e := range m.acl {
			drop := false
			for _, s := range spec {
				if e.SameKey(s) {
					drop = true
					break
				}
			}
			if !drop {
				kept = append(kept, e)
			}
		}
		m.acl = kept
		return nil
	})
}

func (f *FileSystem) RemoveDefaultAcl(ctx context.Context, p string) error {
	return f.withMeta(p, func(m *entryMeta, _ os.FileInfo) error {
		kept := m.acl[:0]
		for _, e := range m.acl {
			if e.Scope != fsys.AclScopeDefault {
				kept = append(kept, e)
			}
		}
		m.acl = kept
		return nil
	})
}

func (f *FileSystem) RemoveAcl(ctx context.Context, p string) error {
	return f.withMeta(p, func(m *entryMeta, _ os.FileInfo) error {
		m.acl = nil
		return nil
	})
}

func (f *FileSystem) SetAcl(ctx context.Context, p string, spec []fsys.AclEntry) error {
	return f.withMeta(p, func(m *entryMeta, info os.FileInfo) error {
		perm, extended := splitSpec(f.currentPerm(m, info), spec)
		sortAcl(extended)
		m.perm = &perm
		m.acl = extended
		return nil
	})
}

func (f *FileSystem) GetAclStatus(ctx context.Context, p string) (*fsys.AclStatus, error) {
	var st *fsys.AclStatus
	err := f.withMeta(p, func(m *entryMeta, info os.FileInfo) error {
		perm := f.currentPerm(m, info)
		owner, group := f.opts.User, f.opts.Group
		if m.owner != "" {
			owner = m.owner
		}
		if m.group != "" {
			group = m.group
		}
		st = &fsys.AclStatus{
			Owner:      owner,
			Group:      group,
			StickyBit:  perm&os.ModeSticky != 0,
			Permission: perm.Perm(),
			Entries:    append([]fsys.AclEntry(nil), m.acl...),
		}
		return nil
	})
	return st, err
}

// --- Extended attributes ---

func validXAttrName(name string) bool {
	for _, ns := range xattrNamespaces {
		if strings.HasPrefix(name, ns) && len(name) > len(ns) {
			return true
		}
	}
	return false
}

func (f *FileSystem) SetXAttr(ctx context.Context, p, name string, value []byte, flag fsys.XAttrSetFlag) error {
	if !validXAttrName(name) {
		return pathErr("setxattr", p, syscall.EINVAL)
	}
	if flag == 0 {
		flag = fsys.XAttrCreate | fsys.XAttrReplace
	}
	return f.withMeta(p, func(m *entryMeta, _ os.FileInfo) error {
		_, exists := m.xattrs[name]
		if exists && flag&fsys.XAttrCreate != 0 && flag&fsys.XAttrReplace == 0 {
			return pathErr("setxattr", p, fs.ErrExist)
		}
		if !exists && flag&fsys.XAttrReplace != 0 && flag&fsys.XAttrCreate == 0 {
			return pathErr("setxattr", p, ErrNoXAttr)
		}
		if m.xattrs == nil {
			m.xattrs = make(map[string][]byte)
		}
		m.xattrs[name] = append([]byte(nil), value...)
		return nil
	})
}

func (f *FileSystem) GetXAttr(ctx context.Context, p, name string) ([]byte, error) {
	var out []byte
	err := f.withMeta(p, func(m *entryMeta, _ os.FileInfo) error {
		v, ok := m.xattrs[name]
		if !ok {
			return pathErr("getxattr", p, ErrNoXAttr)
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (f *FileSystem) GetXAttrs(ctx context.Context, p string, names []string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := f.withMeta(p, func(m *entryMeta, _ os.FileInfo) error {
		if len(names) == 0 {
			for k, v := range m.xattrs {
				out[k] = append([]byte(nil), v...)
			}
			return nil
		}
		for _, name := range names {
			if v, ok := m.xattrs[name]; ok {
				out[name] = append([]byte(nil), v...)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *FileSystem) ListXAttrs(ctx context.Context, p string) ([]string, error) {
	var names []string
	err := f.withMeta(p, func(m *entryMeta, _ os.FileInfo) error {
		for k := range m.xattrs {
			names = append(names, k)
		}
		return nil
	})
	sort.Strings(names)
	return names, err
}

func (f *FileSystem) RemoveXAttr(ctx context.Context, p, name string) error {
	return f.withMeta(p, func(m *entryMeta, _ os.FileInfo) error {
		if _, ok := m.xattrs[name]; !ok {
			return pathErr("removexattr", p, ErrNoXAttr)
		}
		delete(m.xattrs, name)
		return nil
	})
}
