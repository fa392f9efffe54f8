package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joaooservit/oserv-cloud-storage/internal"
)

type cliEnv struct {
	home   string
	config string
	store  string
}

func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	env := cliEnv{
		home:   home,
		config: filepath.Join(home, "cli.toml"),
		store:  filepath.Join(home, "store"),
	}
	require.NoError(t, os.MkdirAll(env.store, 0o755))
	return env
}

func (e cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--app-config", e.config}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCreatesConfigOnFirstRun(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, env.config)
	assert.Contains(t, out, "container_policy")
	_, err = os.Stat(env.config)
	assert.NoError(t, err)
}

func TestRootConfigSet(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "config", "set")
	assert.ErrorContains(t, err, "nothing to set")

	_, err = env.run(t, "config", "set", "--set-backend", "localfs", "--localfs-root", env.store, "--chunk-size", "1024", "--show-progress=false")
	require.NoError(t, err)

	cfg, err := internal.LoadAppConfig(env.config)
	require.NoError(t, err)
	assert.Equal(t, "localfs", cfg.Backend)
	assert.Equal(t, env.store, cfg.LocalFSRoot)
	assert.Equal(t, int64(1024), cfg.ChunkSize)
	assert.False(t, cfg.ShowProgress)

	_, err = env.run(t, "config", "set", "--container-policy", "sometimes")
	assert.ErrorContains(t, err, "container_policy")
}

func TestRootRejectsUnknownBackendFlag(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "--backend", "ftp", "config", "show")
	assert.ErrorContains(t, err, "unknown backend")
}

func TestRootCredentialLifecycle(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "credential", "add-token", "--token", "abc")
	assert.ErrorContains(t, err, "credential name")

	_, err = env.run(t, "credential", "add-token", "-n", "dev", "--token", "eyJ0eXAiOiJKV1QifQ.body.signature")
	require.NoError(t, err)
	_, err = env.run(t, "credential", "add-s3", "-n", "minio", "--access-key", "AKIAEXAMPLE", "--secret-key", "s3cr3t")
	require.NoError(t, err)

	out, err := env.run(t, "credential", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "dev")
	assert.Contains(t, out, "minio")
	assert.NotContains(t, out, "s3cr3t")

	out, err = env.run(t, "credential", "list", "--type", "s3")
	require.NoError(t, err)
	assert.NotContains(t, out, "dev")

	_, err = env.run(t, "credential", "delete", "-n", "dev")
	require.NoError(t, err)
	out, err = env.run(t, "credential", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "eyJ0")

	_, err = env.run(t, "credential", "delete")
	assert.Error(t, err)
	_, err = env.run(t, "credential", "delete", "--uuid", "not-a-uuid")
	assert.ErrorContains(t, err, "uuid is not valid")
}

func TestRootUploadListDownloadOnLocalStore(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "config", "set", "--set-backend", "localfs", "--localfs-root", env.store, "--show-progress=false")
	require.NoError(t, err)

	src := writeTree(t, map[string]string{"Q1/summary report.txt": "numbers"})
	_, err = env.run(t, "upload", filepath.Join(src, "Q1"))
	require.NoError(t, err)

	out, err := env.run(t, "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "Q1")

	out, err = env.run(t, "ls", "Q1")
	require.NoError(t, err)
	assert.Contains(t, out, "summary report.txt")

	dest := t.TempDir()
	_, err = env.run(t, "download", "--from", "Q1", "--dest", dest, "summary report.txt")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dest, "summary_report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "numbers", string(data))

	_, err = env.run(t, "download", "--dest", dest, "absent")
	assert.Error(t, err)
}

func TestRootRunScript(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "config", "set", "--set-backend", "localfs", "--localfs-root", env.store, "--show-progress=false")
	require.NoError(t, err)

	src := writeTree(t, map[string]string{"a.txt": "a", "b.txt": "b"})
	script := writeScript(t, "job.yaml", `
steps:
  - upload: [`+filepath.Join(src, "a.txt")+`, `+filepath.Join(src, "b.txt")+`]
  - ls
`)
	out, err := env.run(t, "run", script)
	require.NoError(t, err)
	assert.Contains(t, out, "[3] ls")
	assert.FileExists(t, filepath.Join(env.store, "a.txt"))
	assert.FileExists(t, filepath.Join(env.store, "b.txt"))
}

func TestRootShellReadsStdin(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "config", "set", "--set-backend", "localfs", "--localfs-root", env.store, "--show-progress=false")
	require.NoError(t, err)

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetIn(bytes.NewBufferString("pwd\nquit\n"))
	cmd.SetArgs([]string{"--app-config", env.config, "shell"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "oserv:/> ")
	assert.Contains(t, out.String(), "Bye")
}

func TestDiscoverRoot(t *testing.T) {
	env := newCLIEnv(t)
	require.NoError(t, os.MkdirAll(filepath.Join(env.store, "Shared", "Team Docs"), 0o755))
	_, err := env.run(t, "config", "set", "--set-backend", "localfs", "--localfs-root", env.store, "--show-progress=false")
	require.NoError(t, err)

	out, err := env.run(t, "config", "discover-root", "Shared/Team Docs")
	require.NoError(t, err)
	assert.Contains(t, out, "root_folder_id = Shared/Team Docs")

	cfg, err := internal.LoadAppConfig(env.config)
	require.NoError(t, err)
	assert.Equal(t, "Shared/Team Docs", cfg.RootFolderID)

	_, err = env.run(t, "config", "discover-root", "/")
	assert.ErrorContains(t, err, "names the drive root")
	_, err = env.run(t, "config", "discover-root", "Nope")
	assert.Error(t, err)
}
