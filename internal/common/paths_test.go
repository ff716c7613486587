package common

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		// Empty and root
		{"empty", "", "/"},
		{"root", "/", "/"},
		{"double_root", "//", "/"},
		{"dot", ".", "/"},

		// Simple paths
		{"relative", "foo", "/foo"},
		{"leading_slash", "/foo", "/foo"},
		{"trailing_slash", "/foo/", "/foo"},
		{"nested", "/foo/bar/baz", "/foo/bar/baz"},
		{"double_slash", "/foo//bar", "/foo/bar"},

		// Dot-dot never climbs above root
		{"dotdot_inside", "/foo/../bar", "/bar"},
		{"dotdot_above_root", "/../..", "/"},
		{"dotdot_prefix", "../etc", "/etc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CleanPath(tt.input), "CleanPath(%q)", tt.input)
		})
	}
}

func TestSplitPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"root", "/", nil},
		{"simple", "foo", []string{"foo"}},
		{"trailing_slash", "/foo/", []string{"foo"}},
		{"three_parts", "/foo/bar/baz", []string{"foo", "bar", "baz"}},
		{"dot_middle", "foo/./bar", []string{"foo", "bar"}},
		{"double_slash", "foo//bar", []string{"foo", "bar"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SplitPath(tt.input), "SplitPath(%q)", tt.input)
		})
	}
}

func TestJoinParentBase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/", JoinPath())
	assert.Equal(t, "/foo/bar", JoinPath("/foo", "bar"))
	assert.Equal(t, "/foo/bar", JoinPath("foo/", "/bar"))

	assert.Equal(t, "/", ParentPath("/"))
	assert.Equal(t, "/", ParentPath("/foo"))
	assert.Equal(t, "/foo", ParentPath("/foo/bar"))

	assert.Equal(t, "", BaseName("/"))
	assert.Equal(t, "bar.txt", BaseName("/foo/bar.txt"))
}

func TestIsUnderAndStripPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		path   string
		prefix string
		under  bool
		rest   string
	}{
		{"equal", "/data", "/data", true, "/"},
		{"below", "/data/2024/f", "/data", true, "/2024/f"},
		{"sibling_with_shared_prefix", "/database", "/data", false, ""},
		{"root_prefix", "/x/y", "/", true, "/x/y"},
		{"above", "/", "/data", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.under, IsUnder(tt.path, tt.prefix))
			rest, ok := StripPrefix(tt.path, tt.prefix)
			assert.Equal(t, tt.under, ok)
			assert.Equal(t, tt.rest, rest)
		})
	}
}

func TestPathKey(t *testing.T) {
	t.Parallel()

	t.Run("bare path", func(t *testing.T) {
		t.Parallel()
		scheme, authority, p, err := PathKey("data//x/")
		require.NoError(t, err)
		assert.Empty(t, scheme)
		assert.Empty(t, authority)
		assert.Equal(t, "/data/x", p)
	})

	t.Run("uri is lower-cased and authority stripped", func(t *testing.T) {
		t.Parallel()
		scheme, authority, p, err := PathKey("ViewFS://Cluster/data/x")
		require.NoError(t, err)
		assert.Equal(t, "viewfs", scheme)
		assert.Equal(t, "cluster", authority)
		assert.Equal(t, "/data/x", p)
	})
}

func TestQualify(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("viewfs://cluster/")
	require.NoError(t, err)
	assert.Equal(t, "viewfs://cluster/data/x", Qualify(base, "data/x"))

	local, err := url.Parse("file:///")
	require.NoError(t, err)
	assert.Equal(t, "file:///tmp", Qualify(local, "/tmp"))
}
