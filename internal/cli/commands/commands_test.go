package commands

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewfs/internal/config"
)

// cliEnv is an isolated config dir whose mount table points /data and /logs
// at directories under backing
type cliEnv struct {
	t       *testing.T
	backing string
}

func newCLIEnv(t *testing.T, extra string) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	configDir := filepath.Join(dir, "config")
	backing := filepath.Join(dir, "backing")
	t.Setenv(config.EnvConfigDir, configDir)
	t.Setenv(config.EnvLogLevel, "")

	for _, d := range []string{configDir, filepath.Join(backing, "data"), filepath.Join(backing, "logs")} {
		require.NoError(t, os.MkdirAll(d, 0755))
	}
	doc := fmt.Sprintf(`mount_table:
  name: test
  links:
    - {source: /data, targets: ["file://%[1]s/data"]}
    - {source: /logs, targets: ["file://%[1]s/logs"]}
user: alice
group: staff
log_level: off
%[2]s
`, backing, extra)
	require.NoError(t, os.WriteFile(config.ConfigPath(), []byte(doc), 0644))
	return &cliEnv{t: t, backing: backing}
}

func (e *cliEnv) runWithInput(ctx context.Context, stdin string, args ...string) (string, error) {
	e.t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func (e *cliEnv) run(args ...string) (string, error) {
	e.t.Helper()
	return e.runWithInput(context.Background(), "", args...)
}

func (e *cliEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	require.NoError(e.t, err, "viewfs %s: %s", strings.Join(args, " "), out)
	return out
}

func TestVersion(t *testing.T) {
	env := newCLIEnv(t, "")
	out := env.mustRun("--version")
	assert.Equal(t, "viewfs version dev (unknown)\n", out)
}

func TestMountsCommand(t *testing.T) {
	env := newCLIEnv(t, "")

	out := env.mustRun("mounts")
	assert.Contains(t, out, "Mount points (2):")
	assert.Contains(t, out, "/data -> file://"+env.backing+"/data")
	assert.Contains(t, out, "/logs -> file://"+env.backing+"/logs")
	assert.NotContains(t, out, "fallback")
}

func TestMountsShowsFallback(t *testing.T) {
	env := newCLIEnv(t, "")
	require.NoError(t, os.WriteFile(config.ConfigPath(), []byte("mount_table:\n  fallback: mem://fb/\n"), 0644))

	out := env.mustRun("mounts")
	assert.Contains(t, out, "(fallback) -> mem://fb/")
}

func TestPutCatAndList(t *testing.T) {
	env := newCLIEnv(t, "")

	out, err := env.runWithInput(context.Background(), "hello", "put", "-", "/data/hello.txt")
	require.NoError(t, err, out)
	assert.Equal(t, "Wrote 5 bytes to /data/hello.txt\n", out)

	data, err := os.ReadFile(filepath.Join(env.backing, "data", "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data), "the write landed in the backing directory")

	assert.Equal(t, "hello", env.mustRun("cat", "/data/hello.txt"))
	assert.Equal(t, "data\nlogs\n", env.mustRun("ls"))
	assert.Equal(t, "hello.txt\n", env.mustRun("ls", "/data"))

	long := env.mustRun("ls", "-l", "/")
	assert.Contains(t, long, "data -> file://"+env.backing+"/data")

	stat := env.mustRun("stat", "/data/hello.txt")
	assert.Contains(t, stat, "Type:        file")
	assert.Contains(t, stat, "Size:        5")

	t.Run("put from a local file", func(t *testing.T) {
		local := filepath.Join(t.TempDir(), "local.txt")
		require.NoError(t, os.WriteFile(local, []byte("local"), 0644))
		env.mustRun("put", local, "/logs/nested/local.txt")
		assert.Equal(t, "local", env.mustRun("cat", "/logs/nested/local.txt"))
	})

	t.Run("overwrite needs the flag", func(t *testing.T) {
		_, err := env.runWithInput(context.Background(), "again", "put", "-", "/data/hello.txt")
		assert.Error(t, err)
		_, err = env.runWithInput(context.Background(), "again", "put", "-", "/data/hello.txt", "--overwrite")
		require.NoError(t, err)
		assert.Equal(t, "again", env.mustRun("cat", "/data/hello.txt"))
	})
}

func TestResolveCommand(t *testing.T) {
	env := newCLIEnv(t, "")
	env.mustRun("mkdir", "/data/x/y")

	out := env.mustRun("resolve", "/data/x/y", "/logs")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "/data/x/y -> file://"+env.backing+"/data/x/y", lines[0])
	assert.Equal(t, "/logs -> file://"+env.backing+"/logs", lines[1])

	_, err := env.run("resolve", "/nowhere")
	assert.Error(t, err, "not under any mount point")
	_, err = env.run("resolve", "/data/missing")
	assert.Error(t, err, "missing in the backing directory")
}

func TestNamespaceCommands(t *testing.T) {
	env := newCLIEnv(t, "")

	env.mustRun("mkdir", "/data/a/b")
	assert.DirExists(t, filepath.Join(env.backing, "data", "a", "b"))

	env.mustRun("mv", "/data/a", "/data/c")
	assert.NoDirExists(t, filepath.Join(env.backing, "data", "a"))
	assert.DirExists(t, filepath.Join(env.backing, "data", "c", "b"))

	_, err := env.run("rm", "/data/c")
	assert.Error(t, err, "non-empty directory needs -r")
	env.mustRun("rm", "-r", "/data/c")
	assert.NoDirExists(t, filepath.Join(env.backing, "data", "c"))

	t.Run("rename across mount points is refused", func(t *testing.T) {
		_, err := env.runWithInput(context.Background(), "x", "put", "-", "/data/x")
		require.NoError(t, err)
		_, err = env.run("mv", "/data/x", "/logs/x")
		assert.Error(t, err)
		assert.FileExists(t, filepath.Join(env.backing, "data", "x"))
	})

	t.Run("synthesized directories are read-only", func(t *testing.T) {
		_, err := env.runWithInput(context.Background(), "x", "put", "-", "/top.txt")
		assert.Error(t, err)
		_, err = env.run("rm", "-r", "/data")
		assert.Error(t, err)
		_, err = env.run("mkdir", "/new")
		assert.Error(t, err)
	})

	t.Run("rm reports every failure", func(t *testing.T) {
		_, err := env.run("rm", "/data/missing1", "/data/missing2")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "2 errors occurred")
	})
}

func TestDuAndChecksum(t *testing.T) {
	env := newCLIEnv(t, "")
	_, err := env.runWithInput(context.Background(), "12345", "put", "-", "/data/f")
	require.NoError(t, err)
	_, err = env.runWithInput(context.Background(), "abc", "put", "-", "/logs/g")
	require.NoError(t, err)

	fields := strings.Fields(env.mustRun("du", "/data"))
	require.Len(t, fields, 4)
	assert.Equal(t, "1", fields[1], "file count")
	assert.Equal(t, "5", fields[2], "length")

	fields = strings.Fields(env.mustRun("du"))
	require.Len(t, fields, 4)
	assert.Equal(t, "2", fields[1], "the root aggregates every mount point")
	assert.Equal(t, "8", fields[2])

	sum := env.mustRun("checksum", "/data/f")
	assert.True(t, strings.HasPrefix(sum, "/data/f\t"), sum)
}

func TestTrashCommands(t *testing.T) {
	env := newCLIEnv(t, "trash_force_inside_mount_point: true")

	out := env.mustRun("trash", "root", "/data/f")
	assert.Equal(t, "viewfs://test/data/.Trash/alice\n", out)

	assert.Equal(t, "No trash roots\n", env.mustRun("trash", "ls"))

	env.mustRun("mkdir", "/data/.Trash/alice")
	out = env.mustRun("trash", "ls")
	assert.Equal(t, "viewfs://test/data/.Trash/alice\n", out)

	_, err := env.run("trash", "root", "/")
	assert.Error(t, err, "the root is not inside a mount point")
}

func TestTableCommands(t *testing.T) {
	env := newCLIEnv(t, "")
	extra := filepath.Join(env.backing, "extra")
	require.NoError(t, os.MkdirAll(extra, 0755))

	assert.Equal(t, "No stored mount points\n", env.mustRun("table", "ls"))

	out := env.mustRun("table", "add", "/extra", "file://"+extra)
	assert.Equal(t, "Mounted /extra -> file://"+extra+"\n", out)
	assert.FileExists(t, config.LockPath())

	out = env.mustRun("table", "ls")
	assert.Contains(t, out, "Stored mount points (1):")
	assert.Contains(t, out, "/extra -> file://"+extra)
	assert.Contains(t, env.mustRun("mounts"), "Mount points (3):")

	_, err := env.runWithInput(context.Background(), "x", "put", "-", "/extra/x")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(extra, "x"))

	t.Run("stored mount replaces a configured link", func(t *testing.T) {
		env.mustRun("table", "add", "/logs", "mem://scratch/logs")
		out := env.mustRun("mounts")
		assert.Contains(t, out, "/logs -> mem://scratch/logs")
		assert.Contains(t, out, "Mount points (3):")
		env.mustRun("table", "rm", "/logs")
		assert.Contains(t, env.mustRun("mounts"), "/logs -> file://")
	})

	t.Run("replicated mount", func(t *testing.T) {
		env.mustRun("table", "add", "/shared", "mem://a/s", "mem://b/s", "--nfly", "writeTargets=0:1,minReplication=1")
		assert.Contains(t, env.mustRun("table", "ls"), "/shared -> mem://a/s, mem://b/s [nfly writeTargets=0:1,minReplication=1]")
		env.mustRun("table", "rm", "/shared")
	})

	t.Run("replicated mount without settings accepts writes", func(t *testing.T) {
		a, b := filepath.Join(env.backing, "rep-a"), filepath.Join(env.backing, "rep-b")
		require.NoError(t, os.MkdirAll(a, 0755))
		require.NoError(t, os.MkdirAll(b, 0755))

		env.mustRun("table", "add", "/rep", "file://"+a, "file://"+b)
		assert.Contains(t, env.mustRun("table", "ls"), "[nfly writeTargets=0:1]")

		_, err := env.runWithInput(context.Background(), "both", "put", "-", "/rep/f")
		require.NoError(t, err)
		for _, dir := range []string{a, b} {
			data, err := os.ReadFile(filepath.Join(dir, "f"))
			require.NoError(t, err)
			assert.Equal(t, "both", string(data), "written to %s", dir)
		}
		assert.Equal(t, "both", env.mustRun("cat", "/rep/f"))
		env.mustRun("table", "rm", "/rep")
	})

	t.Run("minReplication without writeTargets is rejected", func(t *testing.T) {
		_, err := env.run("table", "add", "/bad", "mem://a/s", "mem://b/s", "--nfly", "minReplication=2")
		assert.ErrorContains(t, err, "needs writeTargets")
		assert.NotContains(t, env.mustRun("table", "ls"), "/bad")
	})

	t.Run("conflicting mount points are rejected", func(t *testing.T) {
		_, err := env.run("table", "add", "/data/sub", "mem://x/")
		assert.ErrorContains(t, err, "rejected")
		_, err = env.run("table", "add", "/bad", "not-a-uri")
		assert.Error(t, err)
		assert.NotContains(t, env.mustRun("table", "ls"), "/bad")
	})

	env.mustRun("table", "rm", "/extra")
	_, err = env.run("table", "rm", "/extra")
	assert.ErrorContains(t, err, "no stored mount point")
	assert.Contains(t, env.mustRun("mounts"), "Mount points (2):")
}

func TestServeStopsWithContext(t *testing.T) {
	g := NewWithT(t)
	env := newCLIEnv(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := env.runWithInput(ctx, "", "serve", "--listen", "127.0.0.1:0")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(out).To(ContainSubstring("Serving viewfs://test/ over NFS on 127.0.0.1:"))

	_, err = env.runWithInput(ctx, "", "serve", "--listen", "256.0.0.1:1")
	g.Expect(err).To(HaveOccurred())
}

func TestLogLevelFlag(t *testing.T) {
	env := newCLIEnv(t, "")
	defer config.ConfigureLogging("off")

	_, err := env.run("--log-level", "loud", "mounts")
	assert.ErrorContains(t, err, "unknown log level")
	env.mustRun("--log-level", "debug", "mounts")
}
