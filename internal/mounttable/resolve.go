package mounttable

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"viewfs/internal/common"
	"viewfs/internal/fsys"
)

// Kind classifies a resolution result
type Kind int

const (
	// KindInternalDir means the path ended at an internal directory
	KindInternalDir Kind = iota
	// KindLink means a configured link matched
	KindLink
	// KindFallback means no child matched and the fallback link took the path
	KindFallback
)

func (k Kind) String() string {
	switch k {
	case KindInternalDir:
		return "internal"
	case KindLink:
		return "link"
	case KindFallback:
		return "fallback"
	}
	return "unknown"
}

// ResolveResult is the outcome of resolving one path
type ResolveResult struct {
	Kind Kind
	// ResolvedPath is the matched mount table prefix: the link source, the
	// internal directory path, or "/" for the fallback
	ResolvedPath string
	// RemainingPath is the path inside Target, never empty
	RemainingPath string
	Target        fsys.FileSystem
	// Link is the matched link, nil for internal directories
	Link *Link
	// Dir is the matched internal directory, nil otherwise
	Dir *Dir
}

// IsInternalDir reports whether the path resolved to an internal directory
func (r *ResolveResult) IsInternalDir() bool {
	return r.Kind == KindInternalDir
}

// Resolve maps p onto a target filesystem.
//
// With resolveLastComponent false the last path segment is not looked up:
// a create-type operation on "/a/b" resolves "/a" and keeps "/b" as the
// remaining path, unless a fallback exists and "b" is not a child of "/a".
func (t *Tree) Resolve(ctx context.Context, p string, resolveLastComponent bool) (*ResolveResult, error) {
	p = common.CleanPath(p)
	segs := common.SplitPath(p)

	if len(segs) == 0 {
		return t.internalDir(t.root, common.Root), nil
	}

	n := len(segs)
	if !resolveLastComponent {
		n--
	}

	cur := t.root
	for i := 0; i < n; i++ {
		switch child := cur.children[segs[i]].(type) {
		case nil:
			if t.fallback != nil {
				return t.viaFallback(ctx, p)
			}
			return nil, &common.MountError{Op: "resolve", Path: p, Err: common.ErrPathNotFound}
		case *Dir:
			cur = child
		case *Link:
			remaining := "/" + strings.Join(segs[i+1:], "/")
			target, err := child.Target(ctx)
			if err != nil {
				return nil, err
			}
			log.Tracef("[MountTable] %s -> link %s remaining %s", p, child.fullPath, remaining)
			return &ResolveResult{
				Kind:          KindLink,
				ResolvedPath:  child.fullPath,
				RemainingPath: common.CleanPath(remaining),
				Target:        target,
				Link:          child,
			}, nil
		}
	}

	if resolveLastComponent {
		return t.internalDir(cur, common.Root), nil
	}

	last := segs[len(segs)-1]
	if cur.children[last] == nil && t.fallback != nil {
		return t.viaFallback(ctx, p)
	}
	return t.internalDir(cur, "/"+last), nil
}

func (t *Tree) internalDir(d *Dir, remaining string) *ResolveResult {
	return &ResolveResult{
		Kind:          KindInternalDir,
		ResolvedPath:  d.fullPath,
		RemainingPath: remaining,
		Target:        d.view,
		Dir:           d,
	}
}

func (t *Tree) viaFallback(ctx context.Context, p string) (*ResolveResult, error) {
	target, err := t.fallback.Target(ctx)
	if err != nil {
		return nil, err
	}
	log.Tracef("[MountTable] %s -> fallback", p)
	return &ResolveResult{
		Kind:          KindFallback,
		ResolvedPath:  common.Root,
		RemainingPath: p,
		Target:        target,
		Link:          t.fallback,
	}, nil
}
