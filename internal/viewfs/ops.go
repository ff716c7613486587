package viewfs

import (
	"context"
	"errors"
	"os"
	"time"

	"viewfs/internal/common"
	"viewfs/internal/fsys"
)

// unsupported names the façade path in an error a merge link raised for
// an operation it does not accept
func unsupported(err error, op, up string) error {
	if err != nil && errors.Is(err, common.ErrUnsupportedOperation) {
		return common.Unsupported(op, up)
	}
	return err
}

// --- File I/O ---

func (v *FileSystem) Open(ctx context.Context, p string) (fsys.File, error) {
	res, _, err := v.resolve(ctx, p, true)
	if err != nil {
		return nil, err
	}
	return res.Target.Open(ctx, res.RemainingPath)
}

func (v *FileSystem) Create(ctx context.Context, p string, opts fsys.CreateOptions) (fsys.File, error) {
	res, up, err := v.resolve(ctx, p, false)
	if err != nil {
		return nil, err
	}
	f, err := res.Target.Create(ctx, res.RemainingPath, opts)
	if err != nil {
		return nil, unsupported(err, "create", up)
	}
	return f, nil
}

func (v *FileSystem) CreateNonRecursive(ctx context.Context, p string, opts fsys.CreateOptions) (fsys.File, error) {
	res, up, err := v.resolve(ctx, p, false)
	if err != nil {
		return nil, err
	}
	f, err := res.Target.CreateNonRecursive(ctx, res.RemainingPath, opts)
	if err != nil {
		return nil, unsupported(err, "create", up)
	}
	return f, nil
}

func (v *FileSystem) Append(ctx context.Context, p string) (fsys.File, error) {
	res, up, err := v.resolve(ctx, p, true)
	if err != nil {
		return nil, err
	}
	f, err := res.Target.Append(ctx, res.RemainingPath)
	if err != nil {
		return nil, unsupported(err, "append", up)
	}
	return f, nil
}

func (v *FileSystem) Truncate(ctx context.Context, p string, size int64) error {
	res, up, err := v.resolve(ctx, p, true)
	if err != nil {
		return err
	}
	return unsupported(res.Target.Truncate(ctx, res.RemainingPath, size), "truncate", up)
}

// --- Namespace ---

// Delete refuses to remove internal directories and mount points themselves
func (v *FileSystem) Delete(ctx context.Context, p string, recursive bool) error {
	res, up, err := v.resolve(ctx, p, true)
	if err != nil {
		return err
	}
	if res.IsInternalDir() || res.RemainingPath == common.Root {
		return common.ReadOnly("delete", up)
	}
	return unsupported(res.Target.Delete(ctx, res.RemainingPath, recursive), "delete", up)
}

func (v *FileSystem) Mkdirs(ctx context.Context, p string, perm os.FileMode) error {
	res, up, err := v.resolve(ctx, p, false)
	if err != nil {
		return err
	}
	return unsupported(res.Target.Mkdirs(ctx, res.RemainingPath, perm), "mkdirs", up)
}

// --- Status ---

func (v *FileSystem) GetFileStatus(ctx context.Context, p string) (*fsys.FileStatus, error) {
	res, up, err := v.resolve(ctx, p, true)
	if err != nil {
		return nil, err
	}
	st, err := res.Target.GetFileStatus(ctx, res.RemainingPath)
	if err != nil {
		return nil, err
	}
	if res.IsInternalDir() {
		return st, nil
	}
	return st.WithPath(v.qualify(up)), nil
}

func (v *FileSystem) ListStatus(ctx context.Context, p string) ([]*fsys.FileStatus, error) {
	return v.list(ctx, p, false)
}

func (v *FileSystem) ListLocatedStatus(ctx context.Context, p string) ([]*fsys.FileStatus, error) {
	return v.list(ctx, p, true)
}

func (v *FileSystem) list(ctx context.Context, p string, located bool) ([]*fsys.FileStatus, error) {
	res, _, err := v.resolve(ctx, p, true)
	if err != nil {
		return nil, err
	}
	var list []*fsys.FileStatus
	if located {
		list, err = res.Target.ListLocatedStatus(ctx, res.RemainingPath)
	} else {
		list, err = res.Target.ListStatus(ctx, res.RemainingPath)
	}
	if err != nil {
		return nil, err
	}
	if res.IsInternalDir() {
		return list, nil
	}
	out := make([]*fsys.FileStatus, len(list))
	for i, st := range list {
		out[i] = st.WithPath(v.childPath(res, st.Path))
	}
	return out, nil
}

// ResolvePath returns the qualified path inside the backing filesystem, or
// the façade path itself for internal directories
func (v *FileSystem) ResolvePath(ctx context.Context, p string) (string, error) {
	res, up, err := v.resolve(ctx, p, true)
	if err != nil {
		return "", err
	}
	if res.IsInternalDir() {
		return v.qualify(up), nil
	}
	return res.Target.ResolvePath(ctx, res.RemainingPath)
}

func (v *FileSystem) GetFileBlockLocations(ctx context.Context, p string, start, length int64) ([]fsys.BlockLocation, error) {
	res, _, err := v.resolve(ctx, p, true)
	if err != nil {
		return nil, err
	}
	return res.Target.GetFileBlockLocations(ctx, res.RemainingPath, start, length)
}

func (v *FileSystem) Access(ctx context.Context, p string, mode fsys.AccessMode) error {
	res, _, err := v.resolve(ctx, p, true)
	if err != nil {
		return err
	}
	return res.Target.Access(ctx, res.RemainingPath, mode)
}

// GetDefaultBlockSize needs a path: the façade has no block size of its own
func (v *FileSystem) GetDefaultBlockSize(ctx context.Context, p string) (int64, error) {
	if p == "" {
		return 0, common.NotInMountpoint("getDefaultBlockSize", "")
	}
	res, _, err := v.resolve(ctx, p, true)
	if err != nil {
		return 0, err
	}
	return res.Target.GetDefaultBlockSize(ctx, res.RemainingPath)
}

// GetDefaultReplication needs a path: the façade has no replication of its own
func (v *FileSystem) GetDefaultReplication(ctx context.Context, p string) (int16, error) {
	if p == "" {
		return 0, common.NotInMountpoint("getDefaultReplication", "")
	}
	res, _, err := v.resolve(ctx, p, true)
	if err != nil {
		return 0, err
	}
	return res.Target.GetDefaultReplication(ctx, res.RemainingPath)
}

// --- Attributes ---

func (v *FileSystem) SetOwner(ctx context.Context, p, user, group string) error {
	res, up, err := v.resolve(ctx, p, true)
	if err != nil {
		return err
	}
	return unsupported(res.Target.SetOwner(ctx, res.RemainingPath, user, group), "setOwner", up)
}

func (v *FileSystem) SetPermission(ctx context.Context, p string, perm os.FileMode) error {
	res, up, err := v.resolve(ctx, p, true)
	if err != nil {
		return err
	}
	return unsupported(res.Target.SetPermission(ctx, res.RemainingPath, perm), "setPermission", up)
}

func (v *FileSystem) SetReplication(ctx context.Context, p string, replication int16) error {
	res, up, err := v.resolve(ctx, p, true)
	if err != nil {
		return err
	}
	return unsupported(res.Target.SetReplication(ctx, res.RemainingPath, replication), "setReplication", up)
}

func (v *FileSystem) SetTimes(ctx context.Context, p string, mtime, atime time.Time) error {
	res, up, err := v.resolve(ctx, p, true)
	if err != nil {
		return err
	}
	return unsupported(res.Target.SetTimes(ctx, res.RemainingPath, mtime, atime), "setTimes", up)
}

// --- ACLs ---

func (v *FileSystem) ModifyAclEntries(ctx context.Context, p string, spec []fsys.AclEntry) error {
	res, up, err := v.resolve(ctx, p, true)
	if err != nil {
		return err
	}
	return unsupported(res.Target.ModifyAclEntries(ctx, res.RemainingPath, spec), "modifyAclEntries", up)
}

func (v *FileSystem) RemoveAclEntries(ctx context.Context, p string, spec []fsys.AclEntry) error {
	res, up, err := v.resolve(ctx, p, true)
	if err != nil {
		return err
	}
	return unsupported(res.Target.RemoveAclEntries(ctx, res.RemainingPath, spec), "removeAclEntries", up)
}

func (v *FileSystem) RemoveDefaultAcl(ctx context.Context, p string) error {
	res, up, err := v.resolve(ctx, p, true)
	if err != nil {
		return err
	}
	return unsupported(res.Target.RemoveDefaultAcl(ctx, res.RemainingPath), "removeDefaultAcl", up)
}

func (v *FileSystem) RemoveAcl(ctx context.Context, p string) error {
	res, up, err := v.resolve(ctx, p, true)
	if err != nil {
		return err
	}
	return unsupported(res.Target.RemoveAcl(ctx, res.RemainingPath), "removeAcl", up)
}

func (v *FileSystem) SetAcl(ctx context.Context, p string, spec []fsys.AclEntry) error {
	res, up, err := v.resolve(ctx, p, true)
	if err != nil {
		return err
	}
	return unsupported(res.Target.SetAcl(ctx, res.RemainingPath, spec), "setAcl", up)
}

func (v *FileSystem) GetAclStatus(ctx context.Context, p string) (*fsys.AclStatus, error) {
	res, _, err := v.resolve(ctx, p, true)
	if err != nil {
		return nil, err
	}
	return res.Target.GetAclStatus(ctx, res.RemainingPath)
}

// --- Extended attributes ---

func (v *FileSystem) SetXAttr(ctx context.Context, p, name string, value []byte, flag fsys.XAttrSetFlag) error {
	res, up, err := v.resolve(ctx, p, true)
	if err != nil {
		return err
	}
	return unsupported(res.Target.SetXAttr(ctx, res.RemainingPath, name, value, flag), "setXAttr", up)
}

func (v *FileSystem) GetXAttr(ctx context.Context, p, name string) ([]byte, error) {
	res, _, err := v.resolve(ctx, p, true)
	if err != nil {
		return nil, err
	}
	return res.Target.GetXAttr(ctx, res.RemainingPath, name)
}

func (v *FileSystem) GetXAttrs(ctx context.Context, p string, names []string) (map[string][]byte, error) {
	res, _, err := v.resolve(ctx, p, true)
	if err != nil {
		return nil, err
	}
	return res.Target.GetXAttrs(ctx, res.RemainingPath, names)
}

func (v *FileSystem) ListXAttrs(ctx context.Context, p string) ([]string, error) {
	res, _, err := v.resolve(ctx, p, true)
	if err != nil {
		return nil, err
	}
	return res.Target.ListXAttrs(ctx, res.RemainingPath)
}

func (v *FileSystem) RemoveXAttr(ctx context.Context, p, name string) error {
	res, up, err := v.resolve(ctx, p, true)
	if err != nil {
		return err
	}
	return unsupported(res.Target.RemoveXAttr(ctx, res.RemainingPath, name), "removeXAttr", up)
}

// --- Content ---

func (v *FileSystem) GetFileChecksum(ctx context.Context, p string) (*fsys.FileChecksum, error) {
	res, _, err := v.resolve(ctx, p, true)
	if err != nil {
		return nil, err
	}
	return res.Target.GetFileChecksum(ctx, res.RemainingPath)
}

func (v *FileSystem) GetContentSummary(ctx context.Context, p string) (*fsys.ContentSummary, error) {
	res, _, err := v.resolve(ctx, p, true)
	if err != nil {
		return nil, err
	}
	return res.Target.GetContentSummary(ctx, res.RemainingPath)
}

func (v *FileSystem) GetQuotaUsage(ctx context.Context, p string) (*fsys.QuotaUsage, error) {
	res, _, err := v.resolve(ctx, p, true)
	if err != nil {
		return nil, err
	}
	return res.Target.GetQuotaUsage(ctx, res.RemainingPath)
}

// --- Snapshots ---

func (v *FileSystem) CreateSnapshot(ctx context.Context, p, name string) (string, error) {
	res, up, err := v.resolve(ctx, p, true)
	if err != nil {
		return "", err
	}
	snap, err := res.Target.CreateSnapshot(ctx, res.RemainingPath, name)
	if err != nil {
		return "", unsupported(err, "createSnapshot", up)
	}
	return v.childPath(res, snap), nil
}

func (v *FileSystem) RenameSnapshot(ctx context.Context, p, oldName, newName string) error {
	res, up, err := v.resolve(ctx, p, true)
	if err != nil {
		return err
	}
	return unsupported(res.Target.RenameSnapshot(ctx, res.RemainingPath, oldName, newName), "renameSnapshot", up)
}

func (v *FileSystem) DeleteSnapshot(ctx context.Context, p, name string) error {
	res, up, err := v.resolve(ctx, p, true)
	if err != nil {
		return err
	}
	return unsupported(res.Target.DeleteSnapshot(ctx, res.RemainingPath, name), "deleteSnapshot", up)
}
