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
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"

	"viewfs/internal/common"
	"viewfs/internal/fsys"
)

// ChecksumAlgorithm names the digest returned by GetFileChecksum
const ChecksumAlgorithm = "BLAKE3-256"

func (f *FileSystem) GetFileChecksum(ctx context.Context, p string) (*fsys.FileChecksum, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	info, err := f.fs.Stat(p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, pathErr("checksum", p, syscall.EISDIR)
	}
	file, err := f.fs.Open(p)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	h := blake3.New()
	n, err := io.Copy(h, file)
	if err != nil {
		return nil, err
	}
	return &fsys.FileChecksum{
		Algorithm: ChecksumAlgorithm,
		Length:    n,
		Bytes:     h.Sum(nil),
	}, nil
}

type usage struct {
	length, files, dirs, space int64
}

func (f *FileSystem) walkUsage(p string) (usage, error) {
	var u usage
	err := util.Walk(f.fs, p, func(name string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			u.dirs++
			return nil
		}
		u.files++
		u.length += info.Size()
		repl := f.opts.Replication
		f.mu.RLock()
		if m, ok := f.meta[filepath.ToSlash(name)]; ok && m.replication > 0 {
			repl = m.replication
		}
		f.mu.RUnlock()
		u.space += info.Size() * int64(repl)
		return nil
	})
	return u, err
}

func (f *FileSystem) GetContentSummary(ctx context.Context, p string) (*fsys.ContentSummary, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	u, err := f.walkUsage(p)
	if err != nil {
		return nil, err
	}
	return &fsys.ContentSummary{
		Length:         u.length,
		FileCount:      u.files,
		DirectoryCount: u.dirs,
		Quota:          -1,
		SpaceConsumed:  u.space,
		SpaceQuota:     -1,
	}, nil
}

func (f *FileSystem) GetQuotaUsage(ctx context.Context, p string) (*fsys.QuotaUsage, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	u, err := f.walkUsage(p)
	if err != nil {
		return nil, err
	}
	return &fsys.QuotaUsage{
		FileAndDirectoryCount: u.files + u.dirs,
		Quota:                 -1,
		SpaceConsumed:         u.space,
		SpaceQuota:            -1,
	}, nil
}

// --- Snapshots ---
//
// A snapshot is a full copy of the directory under <dir>/.snapshot/<name>.

func snapshotPath(dir, name string) string {
	return common.JoinPath(dir, SnapshotDir, name)
}

func (f *FileSystem) snapshotDir(p string) error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	info, err := f.fs.Stat(p)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return pathErr("snapshot", p, syscall.ENOTDIR)
	}
	return nil
}

func (f *FileSystem) CreateSnapshot(ctx context.Context, p, name string) (string, error) {
	if err := f.snapshotDir(p); err != nil {
		return "", err
	}
	if name == "" {
		name = "s" + uuid.NewString()
	}
	dst := snapshotPath(p, name)
	if _, err := f.fs.Stat(dst); err == nil {
		return "", pathErr("snapshot", dst, fs.ErrExist)
	}

	skip := common.JoinPath(p, SnapshotDir)
	err := util.Walk(f.fs, p, func(name string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		src := filepath.ToSlash(name)
		if common.IsUnder(src, skip) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rest, _ := common.StripPrefix(src, p)
		target := common.JoinPath(dst, rest)
		if info.IsDir() {
			return f.fs.MkdirAll(target, info.Mode().Perm()|os.ModeDir)
		}
		return f.copyFile(src, target, info.Mode().Perm())
	})
	if err != nil {
		return "", err
	}
	log.Debugf("[BillyFS] created snapshot %s", f.qualify(dst))
	return f.qualify(dst), nil
}

func (f *FileSystem) copyFile(src, dst string, perm os.FileMode) error {
	in, err := f.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := f.fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (f *FileSystem) RenameSnapshot(ctx context.Context, p, oldName, newName string) error {
	if err := f.snapshotDir(p); err != nil {
		return err
	}
	return f.Rename(ctx, snapshotPath(p, oldName), snapshotPath(p, newName))
}

func (f *FileSystem) DeleteSnapshot(ctx context.Context, p, name string) error {
	if err := f.snapshotDir(p); err != nil {
		return err
	}
	return f.Delete(ctx, snapshotPath(p, name), true)
}
