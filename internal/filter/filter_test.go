package filter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGitignore(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(content), 0o644))
}

func TestPathFilter_PruneDir(t *testing.T) {
	root := t.TempDir()
	writeGitignore(t, root, "# generated\n\ngen/\n")

	f, err := New(root, Options{RespectGitignore: true})
	require.NoError(t, err)

	tests := []struct {
		dir    string
		pruned bool
		reason Reason
	}{
		{".git", true, ReasonBuiltin},
		{"node_modules", true, ReasonBuiltin},
		{"src/node_modules", true, ReasonBuiltin},
		{"gen", true, ReasonGitignore},
		{"src", false, ReasonNone},
		{"src/app", false, ReasonNone},
	}

	for _, tt := range tests {
		t.Run(tt.dir, func(t *testing.T) {
			pruned, reason := f.PruneDir(tt.dir)
			assert.Equal(t, tt.pruned, pruned)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestPathFilter_GitignoreDisabled(t *testing.T) {
	root := t.TempDir()
	writeGitignore(t, root, "secret.py\n")

	f, err := New(root, Options{RespectGitignore: false})
	require.NoError(t, err)

	ok, _ := f.Include("secret.py", nil)
	assert.True(t, ok)

	f, err = New(root, Options{RespectGitignore: true})
	require.NoError(t, err)

	ok, reason := f.Include("secret.py", nil)
	assert.False(t, ok)
	assert.Equal(t, ReasonGitignore, reason)
}

func TestPathFilter_Negation(t *testing.T) {
	root := t.TempDir()
	writeGitignore(t, root, "*.json\n!keep.json\n")

	f, err := New(root, Options{RespectGitignore: true})
	require.NoError(t, err)

	ok, _ := f.Include("data.json", nil)
	assert.False(t, ok)

	ok, _ = f.Include("keep.json", nil)
	assert.True(t, ok)
}

func TestPathFilter_Include(t *testing.T) {
	f, err := New(t.TempDir(), Options{})
	require.NoError(t, err)

	tests := []struct {
		path   string
		ok     bool
		reason Reason
	}{
		{"main.go", true, ReasonNone},
		{"src/App.TSX", true, ReasonNone},
		{"Dockerfile", true, ReasonNone},
		{"deploy/Makefile", true, ReasonNone},
		{"README.md", false, ReasonBuiltin},
		{"debug.log", false, ReasonBuiltin},
		{".env", false, ReasonBuiltin},
		{"logo.png", false, ReasonExtension},
		{"notes", false, ReasonExtension},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			ok, reason := f.Include(tt.path, nil)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestPathFilter_ExtraIgnore(t *testing.T) {
	f, err := New(t.TempDir(), Options{ExtraIgnore: []string{"fixtures/", "*.sql"}})
	require.NoError(t, err)

	pruned, _ := f.PruneDir("fixtures")
	assert.True(t, pruned)

	ok, reason := f.Include("schema.sql", nil)
	assert.False(t, ok)
	assert.Equal(t, ReasonBuiltin, reason)
}

type fakeInfo struct {
	os.FileInfo
	size    int64
	modTime time.Time
}

func (f fakeInfo) Size() int64        { return f.size }
func (f fakeInfo) ModTime() time.Time { return f.modTime }

func TestCriteria_Match(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		criteria Criteria
		path     string
		size     int64
		modTime  time.Time
		want     bool
	}{
		{"empty", Criteria{}, "a.go", 10, now, true},
		{"include basename", Criteria{Include: []string{"*.go"}}, "pkg/a.go", 10, now, true},
		{"include miss", Criteria{Include: []string{"*.py"}}, "pkg/a.go", 10, now, false},
		{"exclude path", Criteria{Exclude: []string{"pkg/*"}}, "pkg/a.go", 10, now, false},
		{"too small", Criteria{MinSize: 100}, "a.go", 10, now, false},
		{"too large", Criteria{MaxSize: 5}, "a.go", 10, now, false},
		{"too old", Criteria{ModifiedAfter: now.Add(-time.Hour)}, "a.go", 10, now.Add(-2 * time.Hour), false},
		{"too new", Criteria{ModifiedBefore: now.Add(-time.Hour)}, "a.go", 10, now, false},
		{"in window", Criteria{ModifiedAfter: now.Add(-time.Hour), ModifiedBefore: now.Add(time.Hour)}, "a.go", 10, now, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.criteria.Match(tt.path, tt.size, tt.modTime))
		})
	}
}

func TestPathFilter_Criteria(t *testing.T) {
	f, err := New(t.TempDir(), Options{Criteria: &Criteria{MaxSize: 100}})
	require.NoError(t, err)

	ok, reason := f.Include("big.go", fakeInfo{size: 1000, modTime: time.Now()})
	assert.False(t, ok)
	assert.Equal(t, ReasonCriteria, reason)

	ok, _ = f.Include("small.go", fakeInfo{size: 10, modTime: time.Now()})
	assert.True(t, ok)
}

func TestCriteria_IsZero(t *testing.T) {
	var nilCriteria *Criteria
	assert.True(t, nilCriteria.IsZero())
	assert.True(t, (&Criteria{}).IsZero())
	assert.False(t, (&Criteria{MinSize: 1}).IsZero())
}

func TestAlwaysPruned(t *testing.T) {
	assert.True(t, AlwaysPruned(".JugaadBKP"))
	assert.True(t, AlwaysPruned(".jugaad_venv"))
	assert.False(t, AlwaysPruned("src"))
}

func TestSensitiveEntries(t *testing.T) {
	root := t.TempDir()
	writeGitignore(t, root, "# secrets\n.env.local\nbuild/\ncredentials.json\n*.pem\nprivate_key.txt\n")

	hits, err := SensitiveEntries(root)
	require.NoError(t, err)
	assert.Equal(t, []string{".env.local", "credentials.json", "private_key.txt"}, hits)
}

func TestSensitiveEntries_NoGitignore(t *testing.T) {
	hits, err := SensitiveEntries(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, hits)
}
