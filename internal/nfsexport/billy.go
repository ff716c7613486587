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

package nfsexport

import (
	"context"
	"encoding/binary"
	"errors"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	billy "github.com/go-git/go-billy/v5"
	log "github.com/sirupsen/logrus"
	nfsfile "github.com/willscott/go-nfs/file"
	"github.com/zeebo/blake3"

	"viewfs/internal/common"
	"viewfs/internal/fsys"
)

// BillyAdapter adapts an fsys.FileSystem, usually the unified view, to the
// billy filesystem interface go-nfs serves
type BillyAdapter struct {
	fs  fsys.FileSystem
	ctx context.Context
	uid uint32 // cached os.Getuid(), avoids a syscall per Sys()
	gid uint32
}

// NewBillyAdapter creates a billy adapter for fs. ctx is passed to every
// backing call.
func NewBillyAdapter(ctx context.Context, fs fsys.FileSystem) *BillyAdapter {
	return &BillyAdapter{
		fs:  fs,
		ctx: ctx,
		uid: uint32(os.Getuid()),
		gid: uint32(os.Getgid()),
	}
}

// abs turns a go-nfs path, which may be relative or empty for the root,
// into an absolute path of the exported namespace
func abs(name string) string {
	return common.CleanPath("/" + name)
}

func (b *BillyAdapter) Create(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
}

func (b *BillyAdapter) Open(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_RDONLY, 0)
}

// OpenFile maps open flags onto Create, Append and Open. Write access to an
// existing file goes through Append, whose handle can seek.
func (b *BillyAdapter) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	p := abs(filename)
	writable := flag&(os.O_WRONLY|os.O_RDWR) != 0

	var (
		f   fsys.File
		err error
	)
	switch {
	case flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0:
		f, err = b.fs.Create(b.ctx, p, fsys.CreateOptions{Permission: perm})
	case flag&os.O_TRUNC != 0 && writable:
		f, err = b.fs.Create(b.ctx, p, fsys.CreateOptions{Permission: perm, Overwrite: true})
	case writable:
		f, err = b.fs.Append(b.ctx, p)
		if errors.Is(err, fs.ErrNotExist) && flag&os.O_CREATE != 0 {
			f, err = b.fs.Create(b.ctx, p, fsys.CreateOptions{Permission: perm})
		}
	default:
		f, err = b.fs.Open(b.ctx, p)
	}
	if err != nil {
		log.Debugf("[NFS] open %s flag=%#x: %v", p, flag, err)
		return nil, err
	}
	return &BillyFile{adapter: b, file: f, name: filename, path: p}, nil
}

func (b *BillyAdapter) Stat(filename string) (os.FileInfo, error) {
	st, err := b.fs.GetFileStatus(b.ctx, abs(filename))
	if err != nil {
		return nil, err
	}
	return b.fileInfo(path.Base(abs(filename)), st), nil
}

// Lstat and Stat are identical: mount points resolve to their target
func (b *BillyAdapter) Lstat(filename string) (os.FileInfo, error) {
	return b.Stat(filename)
}

func (b *BillyAdapter) Rename(oldpath, newpath string) error {
	return b.fs.Rename(b.ctx, abs(oldpath), abs(newpath))
}

func (b *BillyAdapter) Remove(filename string) error {
	return b.fs.Delete(b.ctx, abs(filename), false)
}

func (b *BillyAdapter) Join(elem ...string) string {
	return path.Join(elem...)
}

func (b *BillyAdapter) TempFile(dir, prefix string) (billy.File, error) {
	return nil, os.ErrInvalid
}

func (b *BillyAdapter) ReadDir(dirname string) ([]os.FileInfo, error) {
	list, err := b.fs.ListStatus(b.ctx, abs(dirname))
	if err != nil {
		return nil, err
	}
	result := make([]os.FileInfo, 0, len(list))
	for _, st := range list {
		_, _, p, err := common.PathKey(st.Path)
		if err != nil {
			continue
		}
		result = append(result, b.fileInfo(common.BaseName(p), st))
	}
	return result, nil
}

func (b *BillyAdapter) MkdirAll(filename string, perm os.FileMode) error {
	return b.fs.Mkdirs(b.ctx, abs(filename), perm)
}

func (b *BillyAdapter) Symlink(target, link string) error {
	return common.Unsupported("symlink", abs(link))
}

func (b *BillyAdapter) Readlink(link string) (string, error) {
	st, err := b.fs.GetFileStatus(b.ctx, abs(link))
	if err != nil {
		return "", err
	}
	if !st.IsSymlink || isMountLink(st) {
		return "", &fs.PathError{Op: "readlink", Path: link, Err: os.ErrInvalid}
	}
	return st.SymlinkTarget, nil
}

func (b *BillyAdapter) Chroot(path string) (billy.Filesystem, error) {
	return nil, os.ErrInvalid
}

func (b *BillyAdapter) Root() string {
	return "/"
}

// billy.Change interface
func (b *BillyAdapter) Chmod(name string, mode os.FileMode) error {
	return b.fs.SetPermission(b.ctx, abs(name), mode&os.ModePerm)
}

func (b *BillyAdapter) Lchown(name string, uid, gid int) error { return nil }
func (b *BillyAdapter) Chown(name string, uid, gid int) error  { return nil }

func (b *BillyAdapter) Chtimes(name string, atime, mtime time.Time) error {
	return b.fs.SetTimes(b.ctx, abs(name), mtime, atime)
}

func (b *BillyAdapter) Capabilities() billy.Capability {
	return billy.WriteCapability | billy.ReadCapability |
		billy.ReadAndWriteCapability | billy.SeekCapability | billy.TruncateCapability
}

// isMountLink reports whether st is a mount point listed by an internal
// directory; its target is a URI, not a path an NFS client can follow
func isMountLink(st *fsys.FileStatus) bool {
	return st.IsSymlink && strings.Contains(st.SymlinkTarget, "://")
}

func (b *BillyAdapter) fileInfo(name string, st *fsys.FileStatus) *BillyFileInfo {
	return &BillyFileInfo{name: name, st: st, uid: b.uid, gid: b.gid}
}

// BillyFile wraps an open fsys.File
type BillyFile struct {
	adapter *BillyAdapter
	file    fsys.File
	name    string
	path    string
}

func (f *BillyFile) Name() string { return f.name }

func (f *BillyFile) Write(p []byte) (int, error) { return f.file.Write(p) }

func (f *BillyFile) Read(p []byte) (int, error) { return f.file.Read(p) }

func (f *BillyFile) ReadAt(p []byte, off int64) (int, error) { return f.file.ReadAt(p, off) }

func (f *BillyFile) Seek(offset int64, whence int) (int64, error) {
	return f.file.Seek(offset, whence)
}

func (f *BillyFile) Close() error { return f.file.Close() }

func (f *BillyFile) Lock() error   { return nil }
func (f *BillyFile) Unlock() error { return nil }

// Truncate uses the open handle when it can truncate, otherwise the path
func (f *BillyFile) Truncate(size int64) error {
	if t, ok := f.file.(interface{ Truncate(int64) error }); ok {
		return t.Truncate(size)
	}
	return f.adapter.fs.Truncate(f.adapter.ctx, f.path, size)
}

// BillyFileInfo is an os.FileInfo over a FileStatus
type BillyFileInfo struct {
	name     string
	st       *fsys.FileStatus
	uid, gid uint32
}

func (fi *BillyFileInfo) Name() string { return fi.name }

func (fi *BillyFileInfo) Size() int64 { return fi.st.Length }

// IsDir is true for directories and for mount points listed as links
func (fi *BillyFileInfo) IsDir() bool {
	return fi.st.IsDir || isMountLink(fi.st)
}

func (fi *BillyFileInfo) Mode() os.FileMode {
	perm := fi.st.Permission & os.ModePerm
	switch {
	case fi.IsDir():
		if perm == 0 {
			perm = 0755
		}
		return os.ModeDir | perm
	case fi.st.IsSymlink:
		return os.ModeSymlink | 0777
	}
	if perm == 0 {
		perm = 0644
	}
	return perm
}

func (fi *BillyFileInfo) ModTime() time.Time { return fi.st.ModTime }

// Sys returns go-nfs's file.FileInfo; GetInfo only recognizes that type.
// The file id is derived from the qualified path so it is stable across
// calls.
func (fi *BillyFileInfo) Sys() interface{} {
	return &nfsfile.FileInfo{
		Nlink:  1,
		UID:    fi.uid,
		GID:    fi.gid,
		Fileid: fileID(fi.st.Path),
	}
}

func fileID(p string) uint64 {
	sum := blake3.Sum256([]byte(p))
	id := binary.BigEndian.Uint64(sum[:8])
	if id == 0 {
		id = 1
	}
	return id
}

var (
	_ billy.Filesystem = (*BillyAdapter)(nil)
	_ billy.Change     = (*BillyAdapter)(nil)
	_ billy.File       = (*BillyFile)(nil)
)
