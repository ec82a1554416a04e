package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/hanfu/internal/sqlite"
	"github.com/mesh-intelligence/hanfu/internal/userstates"
	"github.com/mesh-intelligence/hanfu/pkg/types"
)

const legacyStates = `{
	"version": "0.1.0",
	"states": {
		"1": {"scoring_settings": {"use_4_30_mangan": true, "use_honba": false, "use_kazoe_yakuman": true}, "language_key": "en"},
		"-2": {"scoring_settings": {"use_4_30_mangan": false, "use_honba": true, "use_kazoe_yakuman": false}, "language_key": "ru"}
	}
}`

// testEnv isolates one CLI invocation sequence in temp directories.
type testEnv struct {
	t         *testing.T
	configDir string
	dataDir   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	for _, key := range []string{"HANFU_BACKEND", "HANFU_LOG_LEVEL", "HANFU_LOG_FORMAT", "HANFU_CONFIG_DIR", "HANFU_DATA_DIR"} {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	return &testEnv{
		t:         t,
		configDir: filepath.Join(dir, "config"),
		dataDir:   filepath.Join(dir, "data"),
	}
}

type result struct {
	stdout string
	stderr string
	err    error
}

func (e *testEnv) run(args ...string) result {
	e.t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config-dir", e.configDir, "--data-dir", e.dataDir}, args...))
	err := cmd.Execute()
	return result{stdout: out.String(), stderr: errOut.String(), err: err}
}

func (e *testEnv) mustRun(args ...string) string {
	e.t.Helper()
	r := e.run(args...)
	require.NoError(e.t, r.err, "args %v\nstderr: %s", args, r.stderr)
	return r.stdout
}

func (e *testEnv) statesPath() string {
	return filepath.Join(e.dataDir, types.DefaultStatesFile)
}

func (e *testEnv) writeStates(content string) {
	e.t.Helper()
	require.NoError(e.t, os.MkdirAll(e.dataDir, 0o755))
	require.NoError(e.t, os.WriteFile(e.statesPath(), []byte(content), 0o644))
}

func (e *testEnv) readStates() string {
	e.t.Helper()
	data, err := os.ReadFile(e.statesPath())
	require.NoError(e.t, err)
	return string(data)
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t)
	out := env.mustRun("version")
	assert.Contains(t, out, "hanfu "+Version)
	assert.Contains(t, out, "schema: "+userstates.LatestVersion)

	_, err := os.Stat(env.configDir)
	assert.True(t, os.IsNotExist(err), "version must not touch the config dir")
}

func TestInit(t *testing.T) {
	env := newTestEnv(t)
	out := env.mustRun("init")
	assert.Contains(t, out, "hanfu initialized")

	config, err := os.ReadFile(filepath.Join(env.configDir, configFileExt))
	require.NoError(t, err)
	assert.Contains(t, string(config), "backend: json")
	assert.Contains(t, string(config), "log_level: warn")

	assert.Contains(t, env.readStates(), `"version": "0.2.0"`)

	env.mustRun("init")
}

func TestInit_SQLiteFromConfig(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.MkdirAll(env.configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.configDir, configFileExt), []byte("backend: sqlite\n"), 0o644))

	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(env.mustRun("--json", "init")), &report))
	assert.Equal(t, "sqlite", report["backend"])

	_, err := os.Stat(filepath.Join(env.dataDir, sqlite.DatabaseFile))
	assert.NoError(t, err)
}

func TestSetAndShow(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun("init")

	out := env.mustRun("set", "42", "kiriage", "true")
	assert.Contains(t, out, "Kiriage mangan:  true")
	env.mustRun("set", "42", "language", "ru")

	out = env.mustRun("show", "42")
	assert.Contains(t, out, "Language:        ru")
	assert.Contains(t, out, "Kiriage mangan:  true")

	var view map[string]any
	require.NoError(t, json.Unmarshal([]byte(env.mustRun("--json", "show", "42")), &view))
	assert.Equal(t, float64(42), view["chat_id"])
	assert.Equal(t, "ru", view["language_key"])
	scoring := view["scoring_settings"].(map[string]any)
	assert.Equal(t, true, scoring["use_kiriage_mangan"])

	assert.Contains(t, env.readStates(), `"use_kiriage_mangan": true`)
}

func TestSet_NewChatIsStored(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun("set", "-100", "kazoe", "true")
	assert.Contains(t, env.readStates(), `"-100"`)
}

func TestUserErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown setting", args: []string{"set", "1", "dora", "true"}},
		{name: "bad boolean", args: []string{"set", "1", "honba", "maybe"}},
		{name: "empty language", args: []string{"set", "1", "language", " "}},
		{name: "bad chat id", args: []string{"show", "abc"}},
		{name: "unknown chat", args: []string{"show", "7"}},
		{name: "missing args", args: []string{"set", "1"}},
		{name: "unknown backend", args: []string{"--backend", "postgres", "init"}},
		{name: "history on json", args: []string{"history"}},
		{name: "import missing file", args: []string{"import", "/nonexistent/states.json"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.mustRun("init")
			before := env.readStates()

			r := env.run(tt.args...)
			require.Error(t, r.err)
			assert.Equal(t, exitUserError, exitCode(r.err))
			assert.Equal(t, before, env.readStates(), "a rejected command changes nothing")
		})
	}
}

func TestMigrate(t *testing.T) {
	env := newTestEnv(t)
	env.writeStates(legacyStates)

	out := env.mustRun("migrate")
	assert.Contains(t, out, "upgraded 2 user states to 0.2.0")
	content := env.readStates()
	assert.Contains(t, content, "use_kiriage_mangan")
	assert.NotContains(t, content, "use_4_30_mangan")

	out = env.mustRun("migrate")
	assert.Contains(t, out, "already at 0.2.0")
	assert.Equal(t, content, env.readStates())
}

func TestMigrate_UnknownVersionIsSystemError(t *testing.T) {
	env := newTestEnv(t)
	content := `{"version": "9.9.9", "states": {}}`
	env.writeStates(content)

	r := env.run("migrate")
	require.Error(t, r.err)
	assert.Equal(t, exitSysError, exitCode(r.err))
	assert.Contains(t, r.err.Error(), "9.9.9")
	assert.Equal(t, content, env.readStates())
}

func TestExport(t *testing.T) {
	env := newTestEnv(t)
	env.writeStates(legacyStates)

	out := env.mustRun("export")
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, userstates.LatestVersion, doc["version"])
	assert.Len(t, doc["states"], 2)

	out = env.mustRun("export", "--yaml")
	assert.Contains(t, out, "version: 0.2.0")
	assert.Contains(t, out, "use_kiriage_mangan: true")
	assert.Contains(t, out, `"-2":`)
}

func TestImportIntoSQLiteAndHistory(t *testing.T) {
	env := newTestEnv(t)
	src := filepath.Join(t.TempDir(), "old.json")
	require.NoError(t, os.WriteFile(src, []byte(legacyStates), 0o644))

	out := env.mustRun("--backend", "sqlite", "import", src)
	assert.Contains(t, out, "imported 2 user states")

	data, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, legacyStates, string(data), "import leaves its input alone")

	out = env.mustRun("--backend", "sqlite", "show", "1")
	assert.Contains(t, out, "Kiriage mangan:  true")

	out = env.mustRun("--backend", "sqlite", "history")
	assert.Contains(t, out, "no upgrades recorded")

	var log []types.MigrationRecord
	require.NoError(t, json.Unmarshal([]byte(env.mustRun("--backend", "sqlite", "--json", "history")), &log))
	assert.Empty(t, log)
}

func TestCheck(t *testing.T) {
	env := newTestEnv(t)

	out := env.mustRun("check")
	assert.Contains(t, out, "no states file yet")
	assert.Contains(t, out, "0.1.0 -> 0.2.0")
	_, err := os.Stat(env.statesPath())
	assert.True(t, os.IsNotExist(err), "check must not create the states file")

	env.writeStates(legacyStates)
	var report checkReport
	require.NoError(t, json.Unmarshal([]byte(env.mustRun("--json", "check")), &report))
	assert.True(t, report.Upgraded)
	assert.Equal(t, 2, report.Records)
	assert.Equal(t, legacyStates, env.readStates(), "check must not rewrite the json file")

	env.writeStates(`{"version": "0.2.0", "states": {"1": {"scoring_settings": {}, "language_key": "en", "extra": 1}}}`)
	r := env.run("check")
	assert.Equal(t, exitSysError, exitCode(r.err))
}

func TestBackendFromEnvironment(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("HANFU_BACKEND", "badger")

	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(env.mustRun("--json", "init")), &report))
	assert.Equal(t, "badger", report["backend"])
}

func TestInvalidLogFormat(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("HANFU_LOG_FORMAT", "xml")

	r := env.run("init")
	assert.Equal(t, exitUserError, exitCode(r.err))
}
