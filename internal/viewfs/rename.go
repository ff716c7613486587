package viewfs

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"viewfs/internal/chroot"
	"viewfs/internal/common"
)

// RenameStrategy decides which renames may cross mount points
type RenameStrategy string

const (
	// SameMountpoint allows renames only inside one link
	SameMountpoint RenameStrategy = "SAME_MOUNTPOINT"
	// SameTargetURIAcrossMountpoint allows renames between links with equal target URIs
	SameTargetURIAcrossMountpoint RenameStrategy = "SAME_TARGET_URI_ACROSS_MOUNTPOINT"
	// SameFilesystemAcrossMountpoint allows renames between links on the same scheme and authority
	SameFilesystemAcrossMountpoint RenameStrategy = "SAME_FILESYSTEM_ACROSS_MOUNTPOINT"
)

// Validate rejects unknown strategies
func (s RenameStrategy) Validate() error {
	switch s {
	case SameMountpoint, SameTargetURIAcrossMountpoint, SameFilesystemAcrossMountpoint:
		return nil
	}
	return fmt.Errorf("unknown rename strategy %q", string(s))
}

// ParseRenameStrategy parses a strategy name, case-insensitively. Empty
// selects SameMountpoint.
func ParseRenameStrategy(raw string) (RenameStrategy, error) {
	if raw == "" {
		return SameMountpoint, nil
	}
	s := RenameStrategy(strings.ToUpper(strings.TrimSpace(raw)))
	return s, s.Validate()
}

// verifyRename applies the strategy to the target URIs of both sides
func verifyRename(src, dst *url.URL, sameTarget bool, s RenameStrategy) error {
	switch s {
	case SameFilesystemAcrossMountpoint:
		if !strings.EqualFold(src.Scheme, dst.Scheme) || !strings.EqualFold(src.Host, dst.Host) {
			return common.ErrCrossMountRename
		}
	case SameTargetURIAcrossMountpoint:
		if src.String() != dst.String() {
			return common.ErrCrossMountRename
		}
	case SameMountpoint:
		if !sameTarget {
			return common.ErrCrossMountRename
		}
	default:
		return s.Validate()
	}
	return nil
}

// Rename moves src to dst. Both sides resolve without their last component,
// so renaming a mount point itself hits the read-only internal directory.
func (v *FileSystem) Rename(ctx context.Context, src, dst string) error {
	resSrc, upSrc, err := v.resolve(ctx, src, false)
	if err != nil {
		return err
	}
	if resSrc.IsInternalDir() {
		return common.ReadOnly("rename", upSrc)
	}
	resDst, upDst, err := v.resolve(ctx, dst, false)
	if err != nil {
		return err
	}
	if resDst.IsInternalDir() {
		return common.ReadOnly("rename", upDst)
	}

	sameTarget := resSrc.Target == resDst.Target
	if err := verifyRename(resSrc.Target.URI(), resDst.Target.URI(), sameTarget, v.cfg.RenameStrategy); err != nil {
		return &common.MountError{Op: "rename", Path: upSrc + " -> " + upDst, Err: err}
	}

	if sameTarget {
		return resSrc.Target.Rename(ctx, resSrc.RemainingPath, resDst.RemainingPath)
	}

	// Across links only two chrooted targets share a native namespace.
	// Merge links have no single backing path to rename into.
	srcFS, srcOK := resSrc.Target.(*chroot.FileSystem)
	dstFS, dstOK := resDst.Target.(*chroot.FileSystem)
	if !srcOK || !dstOK {
		return &common.MountError{Op: "rename", Path: upSrc + " -> " + upDst, Err: common.ErrCrossMountRename}
	}
	return srcFS.Underlying().Rename(ctx, srcFS.FullPath(resSrc.RemainingPath), dstFS.FullPath(resDst.RemainingPath))
}
