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

// Package mounttable builds the prefix tree of mount links and resolves
// paths through it.
//
// The tree has two node kinds: internal directories (virtual, read-only) and
// links (leaves pointing at one or more target URIs). A link stops resolution;
// the unmatched suffix becomes the path inside the target. An optional
// fallback link catches every path that no configured child matches.
//
// The tree is immutable after Build. Link targets are created lazily on first
// resolution.
package mounttable

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"viewfs/internal/common"
	"viewfs/internal/fsys"
)

// MountEntry is one configured mount point. An empty or "/" Source declares
// the fallback link.
type MountEntry struct {
	Source        string
	Targets       []string
	MergeSettings string
}

// IsFallback reports whether e declares the fallback link
func (e MountEntry) IsFallback() bool {
	return e.Source == "" || common.CleanPath(e.Source) == common.Root
}

// Node is a tree node: *Dir or *Link
type Node interface {
	FullPath() string
	node()
}

// Dir is an internal directory of the mount table
type Dir struct {
	fullPath string
	children map[string]Node
	view     fsys.FileSystem
}

func (d *Dir) node() {}

// FullPath returns the absolute mount table path of d
func (d *Dir) FullPath() string { return d.fullPath }

// Child returns the named child, or nil
func (d *Dir) Child(name string) Node {
	return d.children[name]
}

// ChildNames returns the child names in sorted order
func (d *Dir) ChildNames() []string {
	names := make([]string, 0, len(d.children))
	for name := range d.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// View returns the read-only filesystem view of d
func (d *Dir) View() fsys.FileSystem { return d.view }

// Link is a leaf pointing at one or more targets
type Link struct {
	fullPath      string
	targets       []*url.URL
	rawTargets    []string
	mergeSettings string

	mu     sync.Mutex
	target fsys.FileSystem
	init   func(ctx context.Context, l *Link) (fsys.FileSystem, error)
}

func (l *Link) node() {}

// FullPath returns the mount source path of l ("/" for the fallback)
func (l *Link) FullPath() string { return l.fullPath }

// Targets returns the configured target URIs as written
func (l *Link) Targets() []string {
	return append([]string(nil), l.rawTargets...)
}

// TargetURIs returns the parsed target URIs
func (l *Link) TargetURIs() []*url.URL {
	out := make([]*url.URL, len(l.targets))
	for i, u := range l.targets {
		c := *u
		out[i] = &c
	}
	return out
}

// MergeSettings returns the nfly settings string, empty for simple links
func (l *Link) MergeSettings() string { return l.mergeSettings }

// IsMerge reports whether l is backed by more than one target
func (l *Link) IsMerge() bool { return len(l.targets) > 1 }

// Target returns the target filesystem of l, creating it on first use.
// A failed creation is not remembered; the next call tries again.
func (l *Link) Target(ctx context.Context) (fsys.FileSystem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.target != nil {
		return l.target, nil
	}
	fs, err := l.init(ctx, l)
	if err != nil {
		return nil, &common.MountError{Op: "mount", Path: l.fullPath, Err: err}
	}
	l.target = fs
	return fs, nil
}

// Initialized reports whether the target has been created
func (l *Link) Initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.target != nil
}

// Builder supplies the constructors the tree uses for its targets
type Builder struct {
	// NewLink wraps the backing filesystem of a single-target link
	NewLink func(ctx context.Context, target *url.URL) (fsys.FileSystem, error)
	// NewMerge builds the filesystem of a multi-target link
	NewMerge func(ctx context.Context, targets []*url.URL, settings string) (fsys.FileSystem, error)
	// NewInternalDir builds the read-only view of an internal directory
	NewInternalDir func(t *Tree, d *Dir) fsys.FileSystem
}

// Tree is the mount table
type Tree struct {
	name          string
	homeDirPrefix string
	root          *Dir
	fallback      *Link
	links         []*Link
}

// Build constructs the tree for entries. Every configuration conflict is
// reported as an error wrapping common.ErrAmbiguousMount.
func Build(name, homeDirPrefix string, entries []MountEntry, b Builder) (*Tree, error) {
	t := &Tree{
		name:          name,
		homeDirPrefix: homeDirPrefix,
		root:          &Dir{fullPath: common.Root, children: make(map[string]Node)},
	}

	for _, e := range entries {
		link, err := newLink(e, b)
		if err != nil {
			return nil, err
		}
		if e.IsFallback() {
			if t.fallback != nil {
				return nil, ambiguous(common.Root, "more than one fallback link")
			}
			t.fallback = link
			continue
		}
		if err := t.insert(link); err != nil {
			return nil, err
		}
		t.links = append(t.links, link)
	}

	sort.Slice(t.links, func(i, j int) bool { return t.links[i].fullPath < t.links[j].fullPath })

	if b.NewInternalDir != nil {
		t.walkDirs(t.root, func(d *Dir) { d.view = b.NewInternalDir(t, d) })
	}

	log.Debugf("[MountTable] built %q: %d links, fallback=%v", name, len(t.links), t.fallback != nil)
	return t, nil
}

func ambiguous(p, reason string) error {
	return &common.MountError{Op: "mount", Path: p, Err: fmt.Errorf("%w: %s", common.ErrAmbiguousMount, reason)}
}

func newLink(e MountEntry, b Builder) (*Link, error) {
	source := common.CleanPath(e.Source)
	if len(e.Targets) == 0 {
		return nil, ambiguous(source, "no targets")
	}

	l := &Link{
		fullPath:      source,
		rawTargets:    append([]string(nil), e.Targets...),
		mergeSettings: e.MergeSettings,
	}
	for _, raw := range e.Targets {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, ambiguous(source, fmt.Sprintf("bad target uri %q: %v", raw, err))
		}
		if u.Scheme == "" {
			return nil, ambiguous(source, fmt.Sprintf("target uri %q has no scheme", raw))
		}
		l.targets = append(l.targets, u)
	}

	if len(l.targets) == 1 {
		if b.NewLink == nil {
			return nil, ambiguous(source, "no link constructor")
		}
		l.init = func(ctx context.Context, l *Link) (fsys.FileSystem, error) {
			return b.NewLink(ctx, l.TargetURIs()[0])
		}
	} else {
		if b.NewMerge == nil {
			return nil, ambiguous(source, "no merge constructor")
		}
		l.init = func(ctx context.Context, l *Link) (fsys.FileSystem, error) {
			return b.NewMerge(ctx, l.TargetURIs(), l.mergeSettings)
		}
	}
	return l, nil
}

func (t *Tree) insert(link *Link) error {
	segs := common.SplitPath(link.fullPath)
	cur := t.root
	for i, seg := range segs[:len(segs)-1] {
		switch child := cur.children[seg].(type) {
		case nil:
			d := &Dir{
				fullPath: "/" + strings.Join(segs[:i+1], "/"),
				children: make(map[string]Node),
			}
			cur.children[seg] = d
			cur = d
		case *Dir:
			cur = child
		case *Link:
			return ambiguous(link.fullPath, "parent "+child.fullPath+" is already a link")
		}
	}

	last := segs[len(segs)-1]
	switch cur.children[last].(type) {
	case nil:
		cur.children[last] = link
		return nil
	case *Link:
		return ambiguous(link.fullPath, "duplicate mount point")
	default:
		return ambiguous(link.fullPath, "path already has nested mount points")
	}
}

func (t *Tree) walkDirs(d *Dir, fn func(*Dir)) {
	fn(d)
	for _, name := range d.ChildNames() {
		if child, ok := d.children[name].(*Dir); ok {
			t.walkDirs(child, fn)
		}
	}
}

// Name returns the mount table name
func (t *Tree) Name() string { return t.name }

// HomeDirPrefix returns the configured home directory prefix, or ""
func (t *Tree) HomeDirPrefix() string { return t.homeDirPrefix }

// Root returns the root internal directory
func (t *Tree) Root() *Dir { return t.root }

// Fallback returns the fallback link, or nil
func (t *Tree) Fallback() *Link { return t.fallback }

// Links returns every non-fallback link sorted by source path
func (t *Tree) Links() []*Link {
	return append([]*Link(nil), t.links...)
}

// MountPoint describes a configured link
type MountPoint struct {
	Source        string
	Targets       []string
	MergeSettings string
}

// MountPoints returns every non-fallback link sorted by source path
func (t *Tree) MountPoints() []MountPoint {
	out := make([]MountPoint, 0, len(t.links))
	for _, l := range t.links {
		out = append(out, MountPoint{Source: l.fullPath, Targets: l.Targets(), MergeSettings: l.mergeSettings})
	}
	return out
}
