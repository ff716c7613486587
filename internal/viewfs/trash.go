package viewfs

import (
	"context"
	"errors"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"viewfs/internal/common"
	"viewfs/internal/fsys"
	"viewfs/internal/mounttable"
)

// GetTrashRoot returns the trash root for p.
//
// By default the target filesystem decides. With TrashForceInsideMountPoint
// the trash root is kept inside the mount point: the target's trash root is
// re-expressed under the mount when it lies below the target root, otherwise
// {mount}/.Trash/{user} is used.
func (v *FileSystem) GetTrashRoot(ctx context.Context, p string) (string, error) {
	res, up, err := v.resolve(ctx, p, true)
	if errors.Is(err, common.ErrClosed) {
		return "", err
	}
	if err != nil {
		return "", common.NotInMountpoint("getTrashRoot", p)
	}
	targetTrash, err := res.Target.GetTrashRoot(ctx, res.RemainingPath)
	if err != nil {
		return "", err
	}
	if !v.cfg.TrashForceInsideMountPoint {
		return targetTrash, nil
	}

	_, _, trashPath, err := common.PathKey(targetTrash)
	if err != nil {
		return "", common.NotInMountpoint("getTrashRoot", up)
	}
	mountTarget := common.URIPath(res.Target.URI())
	if !strings.HasSuffix(mountTarget, "/") {
		mountTarget += "/"
	}
	_, _, homePath, _ := common.PathKey(res.Target.GetHomeDirectory())

	// non-fallback mounts at the top of their target never use the target
	// user's home trash
	borrowsHome := mountTarget == common.Root &&
		res.ResolvedPath != common.Root &&
		homePath != "" && strings.HasPrefix(trashPath, homePath)

	if strings.HasPrefix(trashPath, mountTarget) && !borrowsHome {
		rel := strings.TrimPrefix(trashPath, mountTarget)
		return v.qualify(common.JoinPath(res.ResolvedPath, rel)), nil
	}
	return v.qualify(common.JoinPath(res.ResolvedPath, TrashPrefix, v.user)), nil
}

// GetTrashRoots collects the trash roots of every child filesystem and, with
// TrashForceInsideMountPoint, the per-mount trash directories that exist.
// Results are keyed by their location in the backing filesystem.
func (v *FileSystem) GetTrashRoots(ctx context.Context, allUsers bool) ([]*fsys.FileStatus, error) {
	children, err := v.GetChildFileSystems(ctx)
	if err != nil {
		return nil, err
	}

	roots := make(map[string]*fsys.FileStatus)
	for _, fs := range children {
		list, err := fs.GetTrashRoots(ctx, allUsers)
		if err != nil {
			log.Warnf("[ViewFS] trash roots of %s: %v", fs.URI(), err)
			continue
		}
		for _, st := range list {
			roots[st.Path] = st
		}
	}

	if v.cfg.TrashForceInsideMountPoint {
		links := v.tree.Links()
		if fb := v.tree.Fallback(); fb != nil {
			links = append(links, fb)
		}
		for _, l := range links {
			if err := v.mountTrashRoots(ctx, l, allUsers, roots); err != nil {
				log.Warnf("[ViewFS] trash roots for mount point %s: %v", l.FullPath(), err)
			}
		}
	}

	out := make([]*fsys.FileStatus, 0, len(roots))
	for _, st := range roots {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (v *FileSystem) mountTrashRoots(ctx context.Context, l *mounttable.Link, allUsers bool, roots map[string]*fsys.FileStatus) error {
	src := l.FullPath()
	if src == common.Root {
		src = ""
	}
	trashRoot := src + "/" + TrashPrefix
	if _, err := v.GetFileStatus(ctx, trashRoot); err != nil {
		return nil
	}

	target, err := l.Target(ctx)
	if err != nil {
		return err
	}
	targetURI := target.URI()
	targetRoot := common.URIPath(targetURI)

	if !allUsers {
		userTrash := common.JoinPath(trashRoot, v.user)
		st, err := v.GetFileStatus(ctx, userTrash)
		if err != nil {
			return nil
		}
		key := common.Qualify(targetURI, common.JoinPath(targetRoot, TrashPrefix, v.user))
		roots[key] = st
		return nil
	}

	list, err := v.ListStatus(ctx, trashRoot)
	if err != nil {
		return err
	}
	for _, st := range list {
		_, _, p, err := common.PathKey(st.Path)
		if err != nil {
			continue
		}
		rel, _ := common.StripPrefix(p, common.CleanPath(src))
		key := common.Qualify(targetURI, common.JoinPath(targetRoot, rel))
		roots[key] = st
	}
	return nil
}
