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

package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStore creates a temporary store for testing.
func testStore(t *testing.T) *MountStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mounts.db")

	s, err := Create(path, 0)
	require.NoError(t, err, "failed to create store")
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndOpen(t *testing.T) {
	t.Parallel()

	t.Run("creates new file", func(t *testing.T) {
		t.Parallel()
		s := testStore(t)
		assert.FileExists(t, s.Path())
	})

	t.Run("fails when file exists", func(t *testing.T) {
		t.Parallel()
		s := testStore(t)
		_, err := Create(s.Path(), 0)
		assert.Error(t, err)
	})

	t.Run("open missing file", func(t *testing.T) {
		t.Parallel()
		_, err := Open(filepath.Join(t.TempDir(), "missing.db"), 0)
		assert.Error(t, err)
	})

	t.Run("open or create", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "mounts.db")
		s, err := OpenOrCreate(path, 0)
		require.NoError(t, err)
		require.NoError(t, s.AddMount(context.Background(), MountRecord{Source: "/data", Targets: []string{"mem://a/data"}}))
		require.NoError(t, s.Close())

		s, err = OpenOrCreate(path, 0)
		require.NoError(t, err)
		defer s.Close()
		mounts, err := s.ListMounts(context.Background())
		require.NoError(t, err)
		require.Len(t, mounts, 1)
		assert.Equal(t, "/data", mounts[0].Source)
	})

	t.Run("rejects a foreign file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "other.db")
		db, err := openDB(path, 0)
		require.NoError(t, err)
		require.NoError(t, execStatements(db, storeSchema))
		db.Close()

		_, err = Open(path, 0)
		assert.ErrorContains(t, err, "not a mount table store")
	})
}

func TestMounts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t)

	require.NoError(t, s.AddMount(ctx, MountRecord{Source: "/logs/", Targets: []string{"file:///var/log"}}))
	require.NoError(t, s.AddMount(ctx, MountRecord{
		Source:  "/data",
		Targets: []string{"mem://a/x", "mem://b/x", "mem://c/x"},
		Nfly:    "writeTargets=0:1:2,minReplication=2",
	}))

	mounts, err := s.ListMounts(ctx)
	require.NoError(t, err)
	require.Len(t, mounts, 2)

	assert.Equal(t, "/data", mounts[0].Source)
	assert.Equal(t, []string{"mem://a/x", "mem://b/x", "mem://c/x"}, mounts[0].Targets, "target order is kept")
	assert.Equal(t, "writeTargets=0:1:2,minReplication=2", mounts[0].Nfly)
	assert.False(t, mounts[0].CreatedAt.IsZero())

	assert.Equal(t, "/logs", mounts[1].Source, "source is normalized")
	assert.Empty(t, mounts[1].Nfly)

	t.Run("add replaces", func(t *testing.T) {
		require.NoError(t, s.AddMount(ctx, MountRecord{Source: "/data", Targets: []string{"mem://z/x"}}))
		rec, err := s.GetMount(ctx, "/data")
		require.NoError(t, err)
		assert.Equal(t, []string{"mem://z/x"}, rec.Targets)
		assert.Empty(t, rec.Nfly)
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, s.RemoveMount(ctx, "/logs"))
		_, err := s.GetMount(ctx, "/logs")
		assert.True(t, IsMountNotFound(err))
		assert.ErrorIs(t, err, os.ErrNotExist)

		err = s.RemoveMount(ctx, "/logs")
		assert.True(t, IsMountNotFound(err))
	})
}

func TestAddMountValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t)

	tests := []struct {
		name string
		rec  MountRecord
	}{
		{"no targets", MountRecord{Source: "/a"}},
		{"target without scheme", MountRecord{Source: "/a", Targets: []string{"/plain/path"}}},
		{"bad uri", MountRecord{Source: "/a", Targets: []string{"mem://a/%zz"}}},
		{"nfly with one target", MountRecord{Source: "/a", Targets: []string{"mem://a/x"}, Nfly: "minReplication=1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, s.AddMount(ctx, tt.rec))
		})
	}

	mounts, err := s.ListMounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, mounts)
}

func TestConfigValues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t)

	v, err := s.GetConfig(ctx, "rename_strategy")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetConfig(ctx, "rename_strategy", "SAME_MOUNTPOINT"))
	require.NoError(t, s.SetConfig(ctx, "rename_strategy", "SAME_FILESYSTEM_ACROSS_MOUNTPOINT"))
	v, err = s.GetConfig(ctx, "rename_strategy")
	require.NoError(t, err)
	assert.Equal(t, "SAME_FILESYSTEM_ACROSS_MOUNTPOINT", v)
}

func TestGetBusyTimeout(t *testing.T) {
	t.Setenv(EnvBusyTimeout, "")
	assert.Equal(t, DefaultBusyTimeout, GetBusyTimeout(0))
	assert.Equal(t, 500, GetBusyTimeout(500))

	t.Setenv(EnvBusyTimeout, "1234")
	assert.Equal(t, 1234, GetBusyTimeout(500))

	t.Setenv(EnvBusyTimeout, "garbage")
	assert.Equal(t, 500, GetBusyTimeout(500))
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements(`
-- comment
CREATE TABLE a (x INTEGER);

INSERT INTO a VALUES (?);
SELECT 1`)
	assert.Equal(t, []string{
		"CREATE TABLE a (x INTEGER);",
		"INSERT INTO a VALUES (?);",
		"SELECT 1",
	}, stmts)
}
