package chroot

import (
	"context"
	"io"
	"io/fs"
	"net/url"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewfs/internal/billyfs"
	"viewfs/internal/fsys"
)

func setup(t *testing.T, target string) (*FileSystem, *billyfs.FileSystem) {
	t.Helper()
	u, err := url.Parse(target)
	require.NoError(t, err)
	backing := billyfs.New(u, memfs.New(), billyfs.Options{User: "alice"})
	return New(backing, u), backing
}

func TestFullPath(t *testing.T) {
	c, _ := setup(t, "mem://nn1/data")

	tests := map[string]string{
		"/":          "/data",
		"/x":         "/data/x",
		"x/y":        "/data/x/y",
		"/../../etc": "/data/etc",
		"/a/../b":    "/data/b",
	}
	for in, want := range tests {
		assert.Equal(t, want, c.FullPath(in), in)
	}
	assert.Equal(t, "/data", c.Root())
	assert.Equal(t, "mem://nn1/data", c.URI().String())
}

func TestStatusPathsAreRootRelative(t *testing.T) {
	ctx := context.Background()
	c, backing := setup(t, "mem://nn1/data")

	w, err := c.Create(ctx, "/dir/f.txt", fsys.CreateOptions{})
	require.NoError(t, err)
	_, err = io.WriteString(w, "payload")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// the write landed under the root
	raw, err := backing.GetFileStatus(ctx, "/data/dir/f.txt")
	require.NoError(t, err)
	assert.Equal(t, "mem://nn1/data/dir/f.txt", raw.Path)

	st, err := c.GetFileStatus(ctx, "/dir/f.txt")
	require.NoError(t, err)
	assert.Equal(t, "/dir/f.txt", st.Path)
	assert.Equal(t, int64(7), st.Length)

	rootSt, err := c.GetFileStatus(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, "/", rootSt.Path)

	list, err := c.ListStatus(ctx, "/dir")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "/dir/f.txt", list[0].Path)
}

func TestNamespaceOpsStayInside(t *testing.T) {
	ctx := context.Background()
	c, backing := setup(t, "mem://nn1/data")

	require.NoError(t, c.Mkdirs(ctx, "/a", 0755))
	require.NoError(t, c.Rename(ctx, "/a", "/b"))
	_, err := backing.GetFileStatus(ctx, "/data/b")
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, "/b", true))
	_, err = backing.GetFileStatus(ctx, "/data/b")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestNativePathsPassThrough(t *testing.T) {
	ctx := context.Background()
	c, _ := setup(t, "mem://nn1/data")

	assert.Equal(t, "mem://nn1/user/alice", c.GetHomeDirectory())

	trash, err := c.GetTrashRoot(ctx, "/x")
	require.NoError(t, err)
	assert.Equal(t, "mem://nn1/user/alice/.Trash", trash)

	require.NoError(t, c.Mkdirs(ctx, "/x", 0755))
	resolved, err := c.ResolvePath(ctx, "/x")
	require.NoError(t, err)
	assert.Equal(t, "mem://nn1/data/x", resolved)
}

func TestAccessAndBlocksUseFullPath(t *testing.T) {
	ctx := context.Background()
	c, backing := setup(t, "mem://nn1/data")
	w, err := backing.Create(ctx, "/data/f", fsys.CreateOptions{})
	require.NoError(t, err)
	_, err = io.WriteString(w, "abc")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, backing.SetPermission(ctx, "/data/f", 0400))

	assert.NoError(t, c.Access(ctx, "/f", fsys.AccessRead))
	assert.ErrorIs(t, c.Access(ctx, "/f", fsys.AccessWrite), fs.ErrPermission)

	locs, err := c.GetFileBlockLocations(ctx, "/f", 0, 3)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, int64(3), locs[0].Length)
}

func TestSnapshotPathStripped(t *testing.T) {
	ctx := context.Background()
	c, _ := setup(t, "mem://nn1/data")
	require.NoError(t, c.Mkdirs(ctx, "/proj", 0755))

	snap, err := c.CreateSnapshot(ctx, "/proj", "s1")
	require.NoError(t, err)
	assert.Equal(t, "/proj/.snapshot/s1", snap)
}

func TestCloseLeavesBackingOpen(t *testing.T) {
	ctx := context.Background()
	c, backing := setup(t, "mem://nn1/")

	require.NoError(t, c.Close())
	_, err := backing.GetFileStatus(ctx, "/")
	assert.NoError(t, err)
	assert.Same(t, backing, c.Underlying())
}
