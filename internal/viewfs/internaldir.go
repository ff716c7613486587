package viewfs

import (
	"context"
	"errors"
	"io/fs"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"viewfs/internal/common"
	"viewfs/internal/fsys"
	"viewfs/internal/mounttable"
)

// InternalDirPermission is the mode of every internal directory
const InternalDirPermission os.FileMode = 0555

// internalDir is the read-only view of one internal directory. It receives
// "/" for calls on the directory itself and "/<child>" for create-type calls.
type internalDir struct {
	view *FileSystem
	tree *mounttable.Tree
	dir  *mounttable.Dir
}

var _ fsys.FileSystem = (*internalDir)(nil)

func (d *internalDir) path(p string) string {
	return common.JoinPath(d.dir.FullPath(), p)
}

func (d *internalDir) readOnly(op, p string) error {
	return common.ReadOnly(op, d.path(p))
}

func (d *internalDir) notFile(op, p string) error {
	return &common.MountError{Op: op, Path: d.path(p), Err: common.ErrNotFile}
}

func (d *internalDir) status(p string, isDir bool) *fsys.FileStatus {
	return &fsys.FileStatus{
		Path:       d.view.qualify(p),
		IsDir:      isDir,
		ModTime:    d.view.created,
		AccessTime: d.view.created,
		Permission: InternalDirPermission,
		Owner:      d.view.user,
		Group:      d.view.group,
	}
}

func (d *internalDir) URI() *url.URL {
	return d.view.URI()
}

func (d *internalDir) Open(ctx context.Context, p string) (fsys.File, error) {
	return nil, d.notFile("open", p)
}

func (d *internalDir) Create(ctx context.Context, p string, opts fsys.CreateOptions) (fsys.File, error) {
	return nil, d.readOnly("create", p)
}

func (d *internalDir) CreateNonRecursive(ctx context.Context, p string, opts fsys.CreateOptions) (fsys.File, error) {
	return nil, d.readOnly("create", p)
}

func (d *internalDir) Append(ctx context.Context, p string) (fsys.File, error) {
	return nil, d.readOnly("append", p)
}

func (d *internalDir) Delete(ctx context.Context, p string, recursive bool) error {
	return d.readOnly("delete", p)
}

func (d *internalDir) Rename(ctx context.Context, src, dst string) error {
	return d.readOnly("rename", src)
}

func (d *internalDir) Truncate(ctx context.Context, p string, size int64) error {
	return d.readOnly("truncate", p)
}

// Mkdirs succeeds for an existing child and reports root itself as existing
func (d *internalDir) Mkdirs(ctx context.Context, p string, perm os.FileMode) error {
	if p == common.Root {
		if d.dir.FullPath() == common.Root {
			return &fs.PathError{Op: "mkdirs", Path: common.Root, Err: fs.ErrExist}
		}
		return nil
	}
	if d.dir.Child(strings.TrimPrefix(p, "/")) != nil {
		return nil
	}
	return d.readOnly("mkdirs", p)
}

func (d *internalDir) GetFileStatus(ctx context.Context, p string) (*fsys.FileStatus, error) {
	return d.status(d.dir.FullPath(), true), nil
}

// ListStatus lists the children of the directory sorted by name. Links show
// up as symlinks to their comma-joined targets. With a fallback, entries of
// the fallback at the same path are added unless a child shadows them.
func (d *internalDir) ListStatus(ctx context.Context, p string) ([]*fsys.FileStatus, error) {
	var out []*fsys.FileStatus
	names := make(map[string]bool)
	for _, name := range d.dir.ChildNames() {
		names[name] = true
		switch child := d.dir.Child(name).(type) {
		case *mounttable.Link:
			st := d.status(child.FullPath(), false)
			st.IsSymlink = true
			st.SymlinkTarget = strings.Join(child.Targets(), ",")
			out = append(out, st)
		case *mounttable.Dir:
			out = append(out, d.status(child.FullPath(), true))
		}
	}

	fb := d.tree.Fallback()
	if fb == nil {
		return out, nil
	}
	target, err := fb.Target(ctx)
	if err != nil {
		return nil, err
	}
	extra, err := target.ListStatus(ctx, d.dir.FullPath())
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	for _, st := range extra {
		name := common.BaseName(st.Path)
		if names[name] {
			continue
		}
		out = append(out, st.WithPath(d.view.qualify(common.JoinPath(d.dir.FullPath(), name))))
	}
	sortByPath(out)
	return out, nil
}

func sortByPath(list []*fsys.FileStatus) {
	sort.Slice(list, func(i, j int) bool { return list[i].Path < list[j].Path })
}

func (d *internalDir) ListLocatedStatus(ctx context.Context, p string) ([]*fsys.FileStatus, error) {
	return d.ListStatus(ctx, p)
}

func (d *internalDir) SetOwner(ctx context.Context, p, user, group string) error {
	return d.readOnly("setOwner", p)
}

func (d *internalDir) SetPermission(ctx context.Context, p string, perm os.FileMode) error {
	return d.readOnly("setPermission", p)
}

func (d *internalDir) SetReplication(ctx context.Context, p string, replication int16) error {
	return d.readOnly("setReplication", p)
}

func (d *internalDir) SetTimes(ctx context.Context, p string, mtime, atime time.Time) error {
	return d.readOnly("setTimes", p)
}

func (d *internalDir) ModifyAclEntries(ctx context.Context, p string, spec []fsys.AclEntry) error {
	return d.readOnly("modifyAclEntries", p)
}

func (d *internalDir) RemoveAclEntries(ctx context.Context, p string, spec []fsys.AclEntry) error {
	return d.readOnly("removeAclEntries", p)
}

func (d *internalDir) RemoveDefaultAcl(ctx context.Context, p string) error {
	return d.readOnly("removeDefaultAcl", p)
}

func (d *internalDir) RemoveAcl(ctx context.Context, p string) error {
	return d.readOnly("removeAcl", p)
}

func (d *internalDir) SetAcl(ctx context.Context, p string, spec []fsys.AclEntry) error {
	return d.readOnly("setAcl", p)
}

func (d *internalDir) GetAclStatus(ctx context.Context, p string) (*fsys.AclStatus, error) {
	return &fsys.AclStatus{
		Owner:      d.view.user,
		Group:      d.view.group,
		Permission: InternalDirPermission,
		Entries:    fsys.MinimalAcl(InternalDirPermission),
	}, nil
}

func (d *internalDir) SetXAttr(ctx context.Context, p, name string, value []byte, flag fsys.XAttrSetFlag) error {
	return d.readOnly("setXAttr", p)
}

func (d *internalDir) GetXAttr(ctx context.Context, p, name string) ([]byte, error) {
	return nil, common.NotInMountpoint("getXAttr", d.path(p))
}

func (d *internalDir) GetXAttrs(ctx context.Context, p string, names []string) (map[string][]byte, error) {
	return nil, common.NotInMountpoint("getXAttrs", d.path(p))
}

func (d *internalDir) ListXAttrs(ctx context.Context, p string) ([]string, error) {
	return nil, common.NotInMountpoint("listXAttrs", d.path(p))
}

func (d *internalDir) RemoveXAttr(ctx context.Context, p, name string) error {
	return d.readOnly("removeXAttr", p)
}

func (d *internalDir) GetFileChecksum(ctx context.Context, p string) (*fsys.FileChecksum, error) {
	return nil, d.notFile("getFileChecksum", p)
}

// GetContentSummary adds up the summaries of every child through the façade
// and of the fallback entries no child shadows. The directory itself counts
// as one directory.
func (d *internalDir) GetContentSummary(ctx context.Context, p string) (*fsys.ContentSummary, error) {
	sum := &fsys.ContentSummary{DirectoryCount: 1, Quota: -1, SpaceQuota: -1}
	add := func(cs *fsys.ContentSummary) {
		sum.Length += cs.Length
		sum.FileCount += cs.FileCount
		sum.DirectoryCount += cs.DirectoryCount
		sum.SpaceConsumed += cs.SpaceConsumed
	}

	names := make(map[string]bool)
	for _, name := range d.dir.ChildNames() {
		names[name] = true
		child := d.dir.Child(name)
		cs, err := d.view.GetContentSummary(ctx, child.FullPath())
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				log.Debugf("[ViewFS] content summary skips %s: %v", child.FullPath(), err)
				continue
			}
			return nil, err
		}
		add(cs)
	}

	fb := d.tree.Fallback()
	if fb == nil {
		return sum, nil
	}
	target, err := fb.Target(ctx)
	if err != nil {
		return nil, err
	}
	extra, err := target.ListStatus(ctx, d.dir.FullPath())
	if errors.Is(err, fs.ErrNotExist) {
		return sum, nil
	}
	if err != nil {
		return nil, err
	}
	for _, st := range extra {
		name := common.BaseName(st.Path)
		if names[name] {
			continue
		}
		cs, err := target.GetContentSummary(ctx, common.JoinPath(d.dir.FullPath(), name))
		if err != nil {
			return nil, err
		}
		add(cs)
	}
	return sum, nil
}

func (d *internalDir) GetQuotaUsage(ctx context.Context, p string) (*fsys.QuotaUsage, error) {
	return nil, common.NotInMountpoint("getQuotaUsage", d.path(p))
}

func (d *internalDir) GetHomeDirectory() string {
	return d.view.GetHomeDirectory()
}

func (d *internalDir) GetTrashRoot(ctx context.Context, p string) (string, error) {
	return "", common.NotInMountpoint("getTrashRoot", d.path(p))
}

func (d *internalDir) GetTrashRoots(ctx context.Context, allUsers bool) ([]*fsys.FileStatus, error) {
	return nil, nil
}

func (d *internalDir) CreateSnapshot(ctx context.Context, p, name string) (string, error) {
	return "", d.readOnly("createSnapshot", p)
}

func (d *internalDir) RenameSnapshot(ctx context.Context, p, oldName, newName string) error {
	return d.readOnly("renameSnapshot", p)
}

func (d *internalDir) DeleteSnapshot(ctx context.Context, p, name string) error {
	return d.readOnly("deleteSnapshot", p)
}

func (d *internalDir) ResolvePath(ctx context.Context, p string) (string, error) {
	return d.view.qualify(d.path(p)), nil
}

// GetFileBlockLocations of a directory has no blocks
func (d *internalDir) GetFileBlockLocations(ctx context.Context, p string, start, length int64) ([]fsys.BlockLocation, error) {
	if start < 0 || length < 0 {
		return nil, &common.MountError{Op: "getFileBlockLocations", Path: d.path(p), Err: fs.ErrInvalid}
	}
	return nil, nil
}

// Access grants read and execute; internal directories are never writable
func (d *internalDir) Access(ctx context.Context, p string, mode fsys.AccessMode) error {
	if mode&fsys.AccessWrite != 0 {
		return common.ReadOnly("access", d.path(p))
	}
	return nil
}

func (d *internalDir) GetDefaultBlockSize(ctx context.Context, p string) (int64, error) {
	return 0, common.NotInMountpoint("getDefaultBlockSize", d.path(p))
}

func (d *internalDir) GetDefaultReplication(ctx context.Context, p string) (int16, error) {
	return 0, common.NotInMountpoint("getDefaultReplication", d.path(p))
}

func (d *internalDir) Close() error {
	return nil
}
