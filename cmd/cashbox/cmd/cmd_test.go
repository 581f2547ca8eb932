package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/TravisTheTechie/Cashbox/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags puts every flag back to its default so commands can be run
// repeatedly against the shared rootCmd.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, child := range c.Commands() {
		resetFlags(child)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	container = nil

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

type cliEnv struct {
	configPath string
	dataDir    string
	engine     string
}

func newCLIEnv(t *testing.T, engine string) cliEnv {
	dir := t.TempDir()
	return cliEnv{
		configPath: filepath.Join(dir, "config.yaml"),
		dataDir:    filepath.Join(dir, "data"),
		engine:     engine,
	}
}

func (e cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	full := append([]string{}, args...)
	full = append(full, "--config", e.configPath, "--data-dir", e.dataDir, "--engine", e.engine, "--log-level", "error")
	return run(t, full...)
}

func TestPutGetListDelete(t *testing.T) {
	env := newCLIEnv(t, config.KindLog)

	out, err := env.run(t, "put", "Customer", "1", "hello")
	require.NoError(t, err)
	assert.Contains(t, out, "Stored Customer/1 (5 bytes)")

	_, err = env.run(t, "put", "Customer", "2", "world")
	require.NoError(t, err)

	out, err = env.run(t, "get", "Customer", "1")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)

	out, err = env.run(t, "list", "Customer")
	require.NoError(t, err)
	assert.Equal(t, "1\thello\n2\tworld\n", out)

	out, err = env.run(t, "list", "Customer", "--keys-only")
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n", out)

	out, err = env.run(t, "delete", "Customer", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted Customer/1")

	_, err = env.run(t, "get", "Customer", "1")
	assert.Error(t, err)

	out, err = env.run(t, "list", "Customer")
	require.NoError(t, err)
	assert.Equal(t, "2\tworld\n", out)
}

func TestGetWithDefault(t *testing.T) {
	env := newCLIEnv(t, config.KindLog)

	out, err := env.run(t, "get", "Counter", "missing", "--default", "42")
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)

	// the default was persisted
	out, err = env.run(t, "get", "Counter", "missing")
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)
}

func TestCompactAndExplain(t *testing.T) {
	env := newCLIEnv(t, config.KindLog)

	for _, v := range []string{"a", "b", "c"} {
		_, err := env.run(t, "put", "Test", "k", v)
		require.NoError(t, err)
	}

	out, err := env.run(t, "compact")
	require.NoError(t, err)
	assert.Contains(t, out, "Compacted log store: 1 live keys")

	out, err = env.run(t, "explain", "--samples", "1")
	require.NoError(t, err)

	var res struct {
		Global struct {
			LiveKeys int `json:"live_keys"`
		} `json:"global"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 1, res.Global.LiveKeys)

	out, err = env.run(t, "get", "Test", "k")
	require.NoError(t, err)
	assert.Equal(t, "c\n", out)
}

func TestExplainFallsBackToStats(t *testing.T) {
	env := newCLIEnv(t, config.KindMemory)

	_, err := env.run(t, "put", "Test", "k", "v")
	require.NoError(t, err)

	out, err := env.run(t, "explain")
	require.NoError(t, err)

	var stats struct {
		Backend string         `json:"backend"`
		Keys    int            `json:"keys"`
		Tables  map[string]int `json:"tables"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, "memory", stats.Backend)
	assert.Equal(t, 1, stats.Keys)
	assert.Equal(t, 1, stats.Tables["Test"])
}

func TestInitCommand(t *testing.T) {
	env := newCLIEnv(t, config.KindSQLite)

	out, err := env.run(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote config to "+env.configPath)
	assert.FileExists(t, env.configPath)

	cfg, err := config.LoadConfig(env.configPath)
	require.NoError(t, err)
	assert.Equal(t, config.KindSQLite, cfg.Engine.Kind)
	assert.Equal(t, env.dataDir, cfg.DataDir)

	out, err = env.run(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	out, err = env.run(t, "init", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote config to")
}

func TestConfigFileSelectsEngine(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	dataDir := filepath.Join(dir, "data")

	_, err := config.BootstrapConfig(configPath, dataDir, config.KindMemory)
	require.NoError(t, err)

	_, err = run(t, "put", "Test", "k", "v", "--config", configPath)
	require.NoError(t, err)

	out, err := run(t, "explain", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"backend": "memory"`)
	assert.FileExists(t, filepath.Join(dataDir, "cashbox.snapshot"))
}
