package viewfs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/url"
	"path"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewfs/internal/billyfs"
	"viewfs/internal/common"
	"viewfs/internal/fsys"
	"viewfs/internal/mounttable"
)

var created = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func link(source string, targets ...string) mounttable.MountEntry {
	return mounttable.MountEntry{Source: source, Targets: targets}
}

// newView builds a façade whose fsa:// and fsb:// schemes are in-memory
func newView(t *testing.T, cfg Config, links ...mounttable.MountEntry) *FileSystem {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "cluster"
	}
	cfg.User, cfg.Group = "alice", "staff"
	cfg.Links = append(cfg.Links, links...)

	mem := billyfs.NewMemFactory(billyfs.Options{User: "alice", Group: "staff"})
	v, err := New(context.Background(), cfg,
		WithFactory("fsa", mem),
		WithFactory("fsb", mem),
		WithClock(func() time.Time { return created }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })
	return v
}

func dataLogs(t *testing.T, cfg Config) *FileSystem {
	return newView(t, cfg,
		link("/data", "fsA://host1/x"),
		link("/logs", "fsB://host2/y"),
	)
}

func write(t *testing.T, v *FileSystem, p, body string) {
	t.Helper()
	w, err := v.Create(context.Background(), p, fsys.CreateOptions{Overwrite: true})
	require.NoError(t, err)
	_, err = io.WriteString(w, body)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func read(t *testing.T, v *FileSystem, p string) string {
	t.Helper()
	r, err := v.Open(context.Background(), p)
	require.NoError(t, err)
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

func TestEndToEndDataAndLogs(t *testing.T) {
	ctx := context.Background()
	v := dataLogs(t, Config{})

	res, err := v.Tree().Resolve(ctx, "/data/2024/file.csv", true)
	require.NoError(t, err)
	// url.Parse lower-cases the scheme
	assert.Equal(t, "fsa://host1/x", res.Target.URI().String())
	assert.Equal(t, "/2024/file.csv", res.RemainingPath)
	assert.Equal(t, "/data", res.ResolvedPath)

	_, err = v.GetFileStatus(ctx, "/unmounted/z")
	assert.ErrorIs(t, err, common.ErrPathNotFound)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	root, err := v.GetFileStatus(ctx, "/")
	require.NoError(t, err)
	assert.True(t, root.IsDir)
	assert.Equal(t, "viewfs://cluster/", root.Path)

	list, err := v.ListStatus(ctx, "/")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "viewfs://cluster/data", list[0].Path)
	assert.Equal(t, "viewfs://cluster/logs", list[1].Path)
	for _, st := range list {
		assert.True(t, st.IsSymlink)
		assert.Equal(t, InternalDirPermission, st.Permission)
		assert.True(t, created.Equal(st.ModTime))
		assert.Equal(t, "alice", st.Owner)
	}
	assert.Equal(t, "fsA://host1/x", list[0].SymlinkTarget)
}

func TestReadWriteThroughMounts(t *testing.T) {
	ctx := context.Background()
	v := dataLogs(t, Config{})

	write(t, v, "/data/2024/file.csv", "a,b,c")
	assert.Equal(t, "a,b,c", read(t, v, "/data/2024/file.csv"))

	st, err := v.GetFileStatus(ctx, "/data/2024/file.csv")
	require.NoError(t, err)
	assert.Equal(t, "viewfs://cluster/data/2024/file.csv", st.Path)
	assert.Equal(t, int64(5), st.Length)

	list, err := v.ListStatus(ctx, "/data/2024")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "viewfs://cluster/data/2024/file.csv", list[0].Path)

	located, err := v.ListLocatedStatus(ctx, "/data/2024")
	require.NoError(t, err)
	require.Len(t, located, 1)
	assert.NotEmpty(t, located[0].Locations)

	// the write landed under the target root of the backing filesystem
	native, err := v.ResolvePath(ctx, "/data/2024/file.csv")
	require.NoError(t, err)
	assert.Equal(t, "fsa://host1/x/2024/file.csv", strings.ToLower(native))
}

func TestQualifiedAndRelativePaths(t *testing.T) {
	ctx := context.Background()
	v := dataLogs(t, Config{})
	write(t, v, "viewfs://cluster/data/q", "1")

	_, err := v.GetFileStatus(ctx, "VIEWFS://CLUSTER/data/q")
	require.NoError(t, err)

	_, err = v.GetFileStatus(ctx, "viewfs://other/data/q")
	assert.ErrorIs(t, err, common.ErrWrongFS)
	_, err = v.GetFileStatus(ctx, "hdfs://cluster/data/q")
	assert.ErrorIs(t, err, common.ErrWrongFS)

	assert.Equal(t, "viewfs://cluster/user/alice", v.GetWorkingDirectory())
	require.NoError(t, v.SetWorkingDirectory("/data"))
	st, err := v.GetFileStatus(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, "viewfs://cluster/data/q", st.Path)
}

func TestStatusPathsNeverLeakBackingURI(t *testing.T) {
	ctx := context.Background()
	v := newView(t, Config{},
		link("/data", "fsa://host1/x"),
		link("/nested/deep", "fsb://host2/deep"),
		link("", "fsa://fallback/"),
	)
	write(t, v, "/data/a", "1")
	write(t, v, "/nested/deep/b", "2")
	write(t, v, "/elsewhere/c", "3")

	for _, p := range []string{"/", "/data", "/data/a", "/nested", "/nested/deep/b", "/elsewhere", "/elsewhere/c"} {
		st, err := v.GetFileStatus(ctx, p)
		require.NoError(t, err, p)
		assert.True(t, strings.HasPrefix(st.Path, "viewfs://cluster/"), "%s -> %s", p, st.Path)

		list, err := v.ListStatus(ctx, p)
		require.NoError(t, err, p)
		for _, c := range list {
			assert.True(t, strings.HasPrefix(c.Path, "viewfs://cluster/"), "%s -> %s", p, c.Path)
		}
	}
}

func TestFallbackInListingAndWrites(t *testing.T) {
	ctx := context.Background()
	v := newView(t, Config{},
		link("/data", "fsa://host1/x"),
		link("", "fsb://fb/"),
	)

	write(t, v, "/free/file", "fallback")
	assert.Equal(t, "fallback", read(t, v, "/free/file"))
	require.NoError(t, v.Mkdirs(ctx, "/made", 0755))

	// a fallback directory named like a link is shadowed
	fb, err := v.registry.Get(ctx, &url.URL{Scheme: "fsb", Host: "fb"})
	require.NoError(t, err)
	require.NoError(t, fb.Mkdirs(ctx, "/data", 0755))

	list, err := v.ListStatus(ctx, "/")
	require.NoError(t, err)
	var paths []string
	for _, st := range list {
		paths = append(paths, st.Path)
	}
	assert.Equal(t, []string{"viewfs://cluster/data", "viewfs://cluster/free", "viewfs://cluster/made"}, paths)
	assert.True(t, list[0].IsSymlink)
}

func TestInternalDirsAreReadOnly(t *testing.T) {
	ctx := context.Background()
	v := newView(t, Config{},
		link("/a/b", "fsa://host1/ab"),
		link("/a/c", "fsa://host1/ac"),
	)
	before, err := v.ListStatus(ctx, "/a")
	require.NoError(t, err)

	ops := map[string]func() error{
		"create": func() error { _, err := v.Create(ctx, "/a/new", fsys.CreateOptions{}); return err },
		"createNonRecursive": func() error {
			_, err := v.CreateNonRecursive(ctx, "/a/new", fsys.CreateOptions{})
			return err
		},
		"append":        func() error { _, err := v.Append(ctx, "/a"); return err },
		"delete":        func() error { return v.Delete(ctx, "/a", true) },
		"deleteMount":   func() error { return v.Delete(ctx, "/a/b", true) },
		"renameMount":   func() error { return v.Rename(ctx, "/a/b", "/a/c/x") },
		"renameToMount": func() error { return v.Rename(ctx, "/a/c/x", "/a/b") },
		"mkdirs":        func() error { return v.Mkdirs(ctx, "/a/new", 0755) },
		"truncate":      func() error { return v.Truncate(ctx, "/a", 0) },
		"setOwner":      func() error { return v.SetOwner(ctx, "/a", "bob", "") },
		"setPermission": func() error { return v.SetPermission(ctx, "/a", 0777) },
		"setReplication": func() error {
			return v.SetReplication(ctx, "/a", 2)
		},
		"setTimes":         func() error { return v.SetTimes(ctx, "/a", time.Now(), time.Now()) },
		"setAcl":           func() error { return v.SetAcl(ctx, "/a", nil) },
		"modifyAclEntries": func() error { return v.ModifyAclEntries(ctx, "/a", nil) },
		"removeAclEntries": func() error { return v.RemoveAclEntries(ctx, "/a", nil) },
		"removeDefaultAcl": func() error { return v.RemoveDefaultAcl(ctx, "/a") },
		"removeAcl":        func() error { return v.RemoveAcl(ctx, "/a") },
		"setXAttr":         func() error { return v.SetXAttr(ctx, "/a", "user.k", []byte("v"), 0) },
		"removeXAttr":      func() error { return v.RemoveXAttr(ctx, "/a", "user.k") },
		"createSnapshot":   func() error { _, err := v.CreateSnapshot(ctx, "/a", "s"); return err },
		"renameSnapshot":   func() error { return v.RenameSnapshot(ctx, "/a", "s", "t") },
		"deleteSnapshot":   func() error { return v.DeleteSnapshot(ctx, "/a", "s") },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			err := op()
			assert.ErrorIs(t, err, common.ErrReadOnlyMountTable)
			assert.ErrorIs(t, err, fs.ErrPermission)
		})
	}

	after, err := v.ListStatus(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestInternalDirSemantics(t *testing.T) {
	ctx := context.Background()
	v := newView(t, Config{},
		link("/a/b", "fsa://host1/ab"),
		link("/data", "fsa://host1/data"),
	)
	write(t, v, "/a/b/f1", "12345")
	write(t, v, "/data/f2", "123")

	// mkdirs on an existing child succeeds without side effects, on / it reports existence
	assert.NoError(t, v.Mkdirs(ctx, "/a", 0755))
	assert.NoError(t, v.Mkdirs(ctx, "/a/b", 0755))
	assert.ErrorIs(t, v.Mkdirs(ctx, "/", 0755), fs.ErrExist)

	_, err := v.Open(ctx, "/a")
	assert.ErrorIs(t, err, common.ErrNotFile)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	_, err = v.GetFileChecksum(ctx, "/a")
	assert.ErrorIs(t, err, common.ErrNotFile)

	for name, op := range map[string]func() error{
		"getXAttr":   func() error { _, err := v.GetXAttr(ctx, "/a", "user.k"); return err },
		"getXAttrs":  func() error { _, err := v.GetXAttrs(ctx, "/a", nil); return err },
		"listXAttrs": func() error { _, err := v.ListXAttrs(ctx, "/a"); return err },
		"quota":      func() error { _, err := v.GetQuotaUsage(ctx, "/a"); return err },
		"blockSize":  func() error { _, err := v.GetDefaultBlockSize(ctx, "/a"); return err },
		"repl":       func() error { _, err := v.GetDefaultReplication(ctx, "/a"); return err },
		"trashRoot":  func() error { _, err := v.GetTrashRoot(ctx, "/a"); return err },
		"noPathBS":   func() error { _, err := v.GetDefaultBlockSize(ctx, ""); return err },
		"noPathRepl": func() error { _, err := v.GetDefaultReplication(ctx, ""); return err },
	} {
		assert.ErrorIs(t, op(), common.ErrNotInMountpoint, name)
	}

	acl, err := v.GetAclStatus(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, fsys.MinimalAcl(0555), acl.Entries)
	assert.Equal(t, "alice", acl.Owner)

	resolved, err := v.ResolvePath(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, "viewfs://cluster/a", resolved)

	cs, err := v.GetContentSummary(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, int64(8), cs.Length)
	assert.Equal(t, int64(2), cs.FileCount)
	// "/", "/a" and the two link roots
	assert.Equal(t, int64(4), cs.DirectoryCount)

	bs, err := v.GetDefaultBlockSize(ctx, "/data/f2")
	require.NoError(t, err)
	assert.Equal(t, billyfs.DefaultBlockSize, bs)
}

func TestRenameStrategies(t *testing.T) {
	ctx := context.Background()
	mounts := []mounttable.MountEntry{
		link("/x", "fsa://host1/shared"),
		link("/alias", "fsa://host1/shared"),
		link("/y", "fsa://host1/other"),
		link("/z", "fsb://host2/z"),
	}

	tests := []struct {
		strategy RenameStrategy
		src, dst string
		ok       bool
	}{
		{SameMountpoint, "/x/a", "/x/b", true},
		{SameMountpoint, "/x/a", "/y/a", false},
		{SameTargetURIAcrossMountpoint, "/x/a", "/alias/b", true},
		{SameTargetURIAcrossMountpoint, "/x/a", "/y/a", false},
		{SameFilesystemAcrossMountpoint, "/x/a", "/y/a", true},
		{SameFilesystemAcrossMountpoint, "/x/a", "/z/a", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.strategy)+tt.src+tt.dst, func(t *testing.T) {
			v := newView(t, Config{RenameStrategy: tt.strategy}, mounts...)
			write(t, v, tt.src, "payload")
			write(t, v, path.Dir(tt.dst)+"/.keep", "")

			err := v.Rename(ctx, tt.src, tt.dst)
			if !tt.ok {
				assert.ErrorIs(t, err, common.ErrCrossMountRename)
				_, err = v.GetFileStatus(ctx, tt.src)
				assert.NoError(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "payload", read(t, v, tt.dst))
			_, err = v.GetFileStatus(ctx, tt.src)
			assert.ErrorIs(t, err, fs.ErrNotExist)
		})
	}
}

func TestRenameBetweenMergeLinks(t *testing.T) {
	ctx := context.Background()
	v := newView(t, Config{RenameStrategy: SameFilesystemAcrossMountpoint},
		mounttable.MountEntry{Source: "/m1", Targets: []string{"fsa://a/x", "fsa://b/x"}, MergeSettings: "writeTargets=0:1"},
		mounttable.MountEntry{Source: "/m2", Targets: []string{"fsa://c/y", "fsa://d/y"}, MergeSettings: "writeTargets=0:1"},
		link("/plain", "fsa://a/p"),
	)
	write(t, v, "/m1/f", "payload")

	err := v.Rename(ctx, "/m1/f", "/m2/g")
	assert.ErrorIs(t, err, common.ErrCrossMountRename)
	_, err = v.GetFileStatus(ctx, "/m1/g")
	assert.ErrorIs(t, err, fs.ErrNotExist, "nothing lands under the source link")
	assert.Equal(t, "payload", read(t, v, "/m1/f"))

	assert.ErrorIs(t, v.Rename(ctx, "/m1/f", "/plain/f"), common.ErrCrossMountRename)
	assert.ErrorIs(t, v.Rename(ctx, "/plain/f", "/m1/h"), common.ErrCrossMountRename)

	t.Run("inside one merge link", func(t *testing.T) {
		require.NoError(t, v.Rename(ctx, "/m1/f", "/m1/g"))
		assert.Equal(t, "payload", read(t, v, "/m1/g"))
	})
}

func TestCacheIdentity(t *testing.T) {
	ctx := context.Background()
	mounts := []mounttable.MountEntry{
		link("/a", "fsa://host1/a"),
		link("/b", "fsa://host1/b"),
	}

	shared := newView(t, Config{}, mounts...)
	children, err := shared.GetChildFileSystems(ctx)
	require.NoError(t, err)
	assert.Len(t, children, 1)

	fresh := newView(t, Config{DisableInnerCache: true}, mounts...)
	children, err = fresh.GetChildFileSystems(ctx)
	require.NoError(t, err)
	assert.Len(t, children, 2)
	assert.NotSame(t, children[0], children[1])
}

func TestNflyMount(t *testing.T) {
	ctx := context.Background()
	v := newView(t, Config{}, mounttable.MountEntry{
		Source:        "/replicated",
		Targets:       []string{"fsa://r1/rep", "fsb://r2/rep"},
		MergeSettings: "writeTargets=0:1",
	})

	write(t, v, "/replicated/f", "both")
	for _, target := range []string{"fsa://r1/", "fsb://r2/"} {
		u, _ := url.Parse(target)
		fs, err := v.registry.Get(ctx, u)
		require.NoError(t, err)
		st, err := fs.GetFileStatus(ctx, "/rep/f")
		require.NoError(t, err, target)
		assert.Equal(t, int64(4), st.Length)
	}

	list, err := v.ListStatus(ctx, "/replicated")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "viewfs://cluster/replicated/f", list[0].Path)

	children, err := v.GetChildFileSystems(ctx)
	require.NoError(t, err)
	assert.Len(t, children, 2)
}

func TestMergeLinkErrorsNameViewPath(t *testing.T) {
	ctx := context.Background()
	v := newView(t, Config{}, mounttable.MountEntry{
		Source:  "/r",
		Targets: []string{"fsa://r1/rep", "fsb://r2/rep"},
	})

	check := func(t *testing.T, err error, want string) {
		t.Helper()
		require.ErrorIs(t, err, common.ErrUnsupportedOperation)
		var me *common.MountError
		require.ErrorAs(t, err, &me)
		assert.Equal(t, want, me.Path)
	}

	_, err := v.Create(ctx, "/r/f", fsys.CreateOptions{})
	check(t, err, "/r/f")
	_, err = v.Append(ctx, "/r/f")
	check(t, err, "/r/f")
	check(t, v.Mkdirs(ctx, "/r/d", 0755), "/r/d")
	check(t, v.Delete(ctx, "/r/d", true), "/r/d")
	check(t, v.SetOwner(ctx, "/r", "bob", ""), "/r")
	check(t, v.SetXAttr(ctx, "/r/x", "user.k", nil, 0), "/r/x")
	_, err = v.CreateSnapshot(ctx, "/r", "s")
	check(t, err, "/r")
}

func TestAccessAndBlockLocations(t *testing.T) {
	ctx := context.Background()
	v := newView(t, Config{},
		link("/a/b", "fsa://host1/ab"),
		link("/data", "fsa://host1/data"),
	)
	write(t, v, "/data/f", "12345")

	assert.NoError(t, v.Access(ctx, "/data/f", fsys.AccessRead|fsys.AccessWrite))
	require.NoError(t, v.SetPermission(ctx, "/data/f", 0444))
	assert.ErrorIs(t, v.Access(ctx, "/data/f", fsys.AccessWrite), fs.ErrPermission)
	assert.ErrorIs(t, v.Access(ctx, "/data/missing", fsys.AccessRead), fs.ErrNotExist)

	t.Run("internal directories grant read and execute only", func(t *testing.T) {
		for _, p := range []string{"/", "/a"} {
			assert.NoError(t, v.Access(ctx, p, fsys.AccessRead|fsys.AccessExecute), p)
			err := v.Access(ctx, p, fsys.AccessWrite)
			assert.ErrorIs(t, err, common.ErrReadOnlyMountTable, p)
			assert.ErrorIs(t, err, fs.ErrPermission, p)
		}
	})

	locs, err := v.GetFileBlockLocations(ctx, "/data/f", 0, 5)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, int64(5), locs[0].Length)
	assert.Equal(t, []string{"host1"}, locs[0].Hosts)

	locs, err = v.GetFileBlockLocations(ctx, "/a", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, locs)
	_, err = v.GetFileBlockLocations(ctx, "/a", -1, 10)
	assert.ErrorIs(t, err, fs.ErrInvalid)
}

func TestContentSummaryCountsFallback(t *testing.T) {
	ctx := context.Background()
	v := newView(t, Config{},
		link("/data", "fsa://host1/data"),
		link("", "fsb://fb/"),
	)
	write(t, v, "/data/f", "123")
	write(t, v, "/free/g", "4567")

	// shadowed by the /data link
	fb, err := v.registry.Get(ctx, &url.URL{Scheme: "fsb", Host: "fb"})
	require.NoError(t, err)
	w, err := fb.Create(ctx, "/data/hidden", fsys.CreateOptions{})
	require.NoError(t, err)
	_, err = io.WriteString(w, "not counted")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	cs, err := v.GetContentSummary(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, int64(7), cs.Length)
	assert.Equal(t, int64(2), cs.FileCount)
	// "/", the /data link root and the fallback's /free
	assert.Equal(t, int64(3), cs.DirectoryCount)
}

func TestTrashRoots(t *testing.T) {
	ctx := context.Background()

	plain := dataLogs(t, Config{})
	root, err := plain.GetTrashRoot(ctx, "/data/f")
	require.NoError(t, err)
	assert.Equal(t, "fsa://host1/user/alice/.Trash", root)

	forced := newView(t, Config{Name: "forced", TrashForceInsideMountPoint: true},
		link("/data", "fsa://host1/x"),
		link("/home", "fsa://host3/"),
		link("/ufs", "fsa://host4/user"),
	)
	root, err = forced.GetTrashRoot(ctx, "/data/f")
	require.NoError(t, err)
	assert.Equal(t, "viewfs://forced/data/.Trash/alice", root)

	// the target user's home trash is not borrowed by a mount at the top of its target
	root, err = forced.GetTrashRoot(ctx, "/home/f")
	require.NoError(t, err)
	assert.Equal(t, "viewfs://forced/home/.Trash/alice", root)

	// a target rooted above the user's home keeps its trash inside the mount
	root, err = forced.GetTrashRoot(ctx, "/ufs/f")
	require.NoError(t, err)
	assert.Equal(t, "viewfs://forced/ufs/alice/.Trash", root)

	require.NoError(t, forced.Mkdirs(ctx, "/data/.Trash/alice", 0700))
	roots, err := forced.GetTrashRoots(ctx, false)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "viewfs://forced/data/.Trash/alice", roots[0].Path)

	require.NoError(t, forced.Mkdirs(ctx, "/data/.Trash/bob", 0700))
	roots, err = forced.GetTrashRoots(ctx, true)
	require.NoError(t, err)
	assert.Len(t, roots, 2)
}

func TestHomeDirectory(t *testing.T) {
	v := newView(t, Config{HomeDirPrefix: "/home"}, link("/home", "fsa://h/"))
	assert.Equal(t, "viewfs://cluster/home/alice", v.GetHomeDirectory())

	root := newView(t, Config{Name: "r", HomeDirPrefix: "/"}, link("/alice", "fsa://h/"))
	assert.Equal(t, "viewfs://r/alice", root.GetHomeDirectory())
}

func TestMountPoints(t *testing.T) {
	v := dataLogs(t, Config{})
	mps := v.GetMountPoints()
	require.Len(t, mps, 2)
	assert.Equal(t, "/data", mps[0].Source)
	assert.Equal(t, []string{"fsA://host1/x"}, mps[0].Targets)
}

func TestConfigErrorsAbortConstruction(t *testing.T) {
	ctx := context.Background()
	_, err := New(ctx, Config{Name: "c", User: "u", Links: []mounttable.MountEntry{
		link("/a", "fsa://h/"), link("/a/b", "fsa://h/"),
	}})
	assert.ErrorIs(t, err, common.ErrAmbiguousMount)

	_, err = New(ctx, Config{Name: "c", User: "u", RenameStrategy: "SIDEWAYS"})
	assert.Error(t, err)
}

func TestUnknownSchemeFailsOnFirstUse(t *testing.T) {
	ctx := context.Background()
	v := newView(t, Config{}, link("/s3", "s3://bucket/"))
	_, err := v.GetFileStatus(ctx, "/s3/key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no filesystem for scheme")
}

type closeCounter struct {
	fsys.FileSystem
	n *atomic.Int32
}

func (c *closeCounter) Close() error {
	c.n.Add(1)
	return errors.New("close failed")
}

func TestCloseIsIdempotentAndFinal(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	var closes atomic.Int32
	mem := billyfs.NewMemFactory(billyfs.Options{User: "alice"})
	counting := func(ctx context.Context, u *url.URL) (fsys.FileSystem, error) {
		fs, err := mem(ctx, u)
		if err != nil {
			return nil, err
		}
		return &closeCounter{FileSystem: fs, n: &closes}, nil
	}
	v, err := New(ctx, Config{Name: "c", User: "alice", Links: []mounttable.MountEntry{
		link("/a", "fsa://h1/"), link("/b", "fsa://h2/"),
	}}, WithFactory("fsa", counting))
	require.NoError(t, err)

	_, err = v.GetChildFileSystems(ctx)
	require.NoError(t, err)

	g.Expect(v.Close()).To(Succeed())
	g.Expect(v.Close()).To(Succeed())
	g.Expect(closes.Load()).To(Equal(int32(2)))

	_, err = v.GetFileStatus(ctx, "/a")
	g.Expect(err).To(MatchError(common.ErrClosed))
	_, err = v.ListStatus(ctx, "/")
	g.Expect(errors.Is(err, common.ErrClosed)).To(BeTrue())
	g.Expect(v.Rename(ctx, "/a/x", "/a/y")).To(MatchError(common.ErrClosed))
}
