package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "jugaad-backup/internal/errors"
)

const testConfig = `lock:
  timeout: 2s
  retry_delay: 20ms
logging:
  level: quiet
encryption:
  iterations: 10000
`

// resetFlags restores every flag to its default so runs do not leak into
// each other through the package-level flag variables
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

type cliProject struct {
	root   string
	config string
}

func newCLIProject(t *testing.T) *cliProject {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.py"), []byte("print('hello')\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "util.go"), []byte("package pkg\n"), 0o644))

	cfg := filepath.Join(t.TempDir(), "jugaad.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(testConfig), 0o644))
	return &cliProject{root: root, config: cfg}
}

// run executes the root command in process and returns stdout and stderr
func (p *cliProject) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(append([]string{"--config", p.config, "--project", p.root, "--no-color"}, args...))

	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func decodeJSON(t *testing.T, out string, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(out), v), out)
}

func TestBackupAndList(t *testing.T) {
	p := newCLIProject(t)

	out, _, err := p.run(t, "backup", "--format", "json", "--notes", "first", "--tags", "a, b")
	require.NoError(t, err)

	var build map[string]interface{}
	decodeJSON(t, out, &build)
	assert.Equal(t, "v1", build["label"])
	assert.Equal(t, float64(2), build["files"])
	assert.Equal(t, false, build["incremental"])
	assert.FileExists(t, build["path"].(string))

	out, _, err = p.run(t, "list", "--format", "json")
	require.NoError(t, err)

	var rows []map[string]string
	decodeJSON(t, out, &rows)
	require.Len(t, rows, 1)
	assert.True(t, strings.HasSuffix(rows[0]["Archive"], "_v1.3dev"))
	assert.Equal(t, "Full", rows[0]["Type"])
	assert.Equal(t, "2", rows[0]["Files"])
}

func TestIncrementalBackup(t *testing.T) {
	p := newCLIProject(t)

	_, _, err := p.run(t, "backup")
	require.NoError(t, err)

	t.Run("no changes writes nothing", func(t *testing.T) {
		out, _, err := p.run(t, "backup", "-i", "--format", "json")
		require.NoError(t, err)

		var build map[string]interface{}
		decodeJSON(t, out, &build)
		assert.Equal(t, true, build["no_changes"])
	})

	t.Run("modified file is archived", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(p.root, "app.py"), []byte("print('changed')\n"), 0o644))

		out, _, err := p.run(t, "backup", "--incremental", "--format", "json")
		require.NoError(t, err)

		var build map[string]interface{}
		decodeJSON(t, out, &build)
		assert.Equal(t, "v2-inc", build["label"])
		assert.Equal(t, float64(1), build["modified"])
		assert.Equal(t, float64(1), build["files"])
	})
}

func TestVerifyValidateAndDiff(t *testing.T) {
	p := newCLIProject(t)
	_, _, err := p.run(t, "backup")
	require.NoError(t, err)

	out, _, err := p.run(t, "verify", "latest", "--format", "json")
	require.NoError(t, err)
	var reports []map[string]interface{}
	decodeJSON(t, out, &reports)
	require.Len(t, reports, 1)
	assert.Equal(t, "passed", reports[0]["status"])

	out, _, err = p.run(t, "validate", "--format", "json")
	require.NoError(t, err)
	var validation map[string]interface{}
	decodeJSON(t, out, &validation)
	assert.Equal(t, true, validation["valid"])

	require.NoError(t, os.WriteFile(filepath.Join(p.root, "new.md"), []byte("# new\n"), 0o644))
	out, _, err = p.run(t, "diff", "latest", "--format", "json")
	require.NoError(t, err)
	var d map[string]interface{}
	decodeJSON(t, out, &d)
	assert.Equal(t, []interface{}{"new.md"}, d["added"])
}

func TestVerifyWithoutArchiveNeedsTerminal(t *testing.T) {
	p := newCLIProject(t)
	_, _, err := p.run(t, "backup")
	require.NoError(t, err)

	_, stderr, err := p.run(t, "verify")
	require.Error(t, err)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeValidation))
	assert.Contains(t, stderr, "archive argument is required")
}

func TestRehydrateToOutput(t *testing.T) {
	p := newCLIProject(t)
	_, _, err := p.run(t, "backup")
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "restored")
	_, stderr, err := p.run(t, "rehydrate", "latest", "--output", dest)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Rehydrated 2 files")

	data, err := os.ReadFile(filepath.Join(dest, "pkg", "util.go"))
	require.NoError(t, err)
	assert.Equal(t, "package pkg\n", string(data))
}

func TestSearchAndExport(t *testing.T) {
	p := newCLIProject(t)
	_, _, err := p.run(t, "backup")
	require.NoError(t, err)

	out, _, err := p.run(t, "search", "HELLO")
	require.NoError(t, err)
	assert.Contains(t, out, "app.py")

	exportDir := t.TempDir()
	out, _, err = p.run(t, "export", "latest", "--dir", exportDir, "--format", "json")
	require.NoError(t, err)
	var res map[string]string
	decodeJSON(t, out, &res)
	assert.Equal(t, exportDir, filepath.Dir(res["export"]))
	assert.FileExists(t, res["export"])
}

func TestEncryptThenVerifyDeferred(t *testing.T) {
	p := newCLIProject(t)
	_, _, err := p.run(t, "backup")
	require.NoError(t, err)

	_, _, err = p.run(t, "encrypt", "latest", "--passphrase", "s3cret", "--yes")
	require.NoError(t, err)

	out, _, err := p.run(t, "verify", "latest", "--format", "json")
	require.NoError(t, err)
	var reports []map[string]interface{}
	decodeJSON(t, out, &reports)
	assert.Equal(t, "deferred", reports[0]["status"])

	out, _, err = p.run(t, "verify", "latest", "--decrypt", "--passphrase", "s3cret", "--format", "json")
	require.NoError(t, err)
	decodeJSON(t, out, &reports)
	assert.Equal(t, "passed", reports[0]["status"])

	_, _, err = p.run(t, "encrypt", "latest", "--passphrase", "s3cret", "--yes")
	require.Error(t, err)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeConflict))
}

func TestRotateAndFlush(t *testing.T) {
	p := newCLIProject(t)
	_, _, err := p.run(t, "backup")
	require.NoError(t, err)

	out, _, err := p.run(t, "rotate", "--dry-run", "--format", "json")
	require.NoError(t, err)
	var rot map[string]interface{}
	decodeJSON(t, out, &rot)
	assert.Equal(t, true, rot["dry_run"])
	assert.Len(t, rot["kept"], 1)

	t.Run("declined without input", func(t *testing.T) {
		_, _, err := p.run(t, "flush")
		require.Error(t, err)
		assert.DirExists(t, filepath.Join(p.root, ".JugaadBKP"))
	})

	t.Run("approved", func(t *testing.T) {
		_, _, err := p.run(t, "flush", "--yes")
		require.NoError(t, err)
		assert.NoDirExists(t, filepath.Join(p.root, ".JugaadBKP"))
	})
}

func TestDoctor(t *testing.T) {
	p := newCLIProject(t)

	out, _, err := p.run(t, "doctor", "--format", "json")
	require.NoError(t, err)

	var res map[string]interface{}
	decodeJSON(t, out, &res)
	assert.Equal(t, true, res["success"])
	assert.DirExists(t, filepath.Join(p.root, ".JugaadBKP"))
}

func TestFlagValidation(t *testing.T) {
	p := newCLIProject(t)

	tests := []struct {
		name string
		args []string
	}{
		{"verbose and quiet", []string{"list", "-v", "-q"}},
		{"exclusive encryption flags", []string{"backup", "--encrypt", "--no-encrypt"}},
		{"too many args", []string{"verify", "a", "b"}},
		{"empty search term", []string{"search", " "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := p.run(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestVersionAndConfig(t *testing.T) {
	p := newCLIProject(t)
	SetVersionInfo("1.2.3", "today", "abc123", "go1.25")

	out, _, err := p.run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "jugaad version 1.2.3")
	assert.Contains(t, out, "Commit: abc123")

	out, _, err = p.run(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "retention:")
	assert.Contains(t, out, "keep_count: 10")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Nil(t, splitList(""))
}
