package incremental

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jugaad-backup/internal/archive"
	"jugaad-backup/internal/envelope"
	"jugaad-backup/internal/scanner"
)

func writeArchive(t *testing.T, dir, name string, files []scanner.ScannedFile, encrypt bool, age time.Duration) string {
	t.Helper()
	sealer := envelope.NewSealer("machine", 1000)
	m := archive.NewManifest(archive.BuildInfo{ProjectName: "demo", Version: 1, Time: time.Now()}, files)
	data, err := archive.Encode(m, &archive.Body{})
	require.NoError(t, err)

	path := filepath.Join(dir, name)
	_, err = archive.NewWriter(sealer, nil).Write(path, data, archive.WriteOptions{Encrypt: encrypt})
	require.NoError(t, err)

	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestClassify(t *testing.T) {
	base := &Base{Files: map[string]scanner.ScannedFile{
		"same.py":    {Path: "same.py", SHA256: "1"},
		"changed.py": {Path: "changed.py", SHA256: "2"},
		"deleted.py": {Path: "deleted.py", SHA256: "3"},
	}}
	files := []scanner.ScannedFile{
		{Path: "changed.py", SHA256: "22"},
		{Path: "new.py", SHA256: "4"},
		{Path: "same.py", SHA256: "1"},
	}

	sel := Classify(files, base)

	assert.Equal(t, []scanner.ScannedFile{{Path: "new.py", SHA256: "4"}}, sel.Added)
	assert.Equal(t, []scanner.ScannedFile{{Path: "changed.py", SHA256: "22"}}, sel.Modified)
	assert.Equal(t, []scanner.ScannedFile{{Path: "same.py", SHA256: "1"}}, sel.Unchanged)
	assert.Equal(t, []string{"deleted.py"}, sel.Removed)
	assert.True(t, sel.HasChanges())

	var changed []string
	for _, f := range sel.Changed() {
		changed = append(changed, f.Path)
	}
	assert.Equal(t, []string{"changed.py", "new.py"}, changed, "scan order is kept")
}

func TestClassify_NoBase(t *testing.T) {
	files := []scanner.ScannedFile{{Path: "a.py"}, {Path: "b.py"}}
	sel := Classify(files, nil)

	assert.Len(t, sel.Added, 2)
	assert.Empty(t, sel.Modified)
	assert.Empty(t, sel.Removed)
	assert.Nil(t, sel.Base.Ref())
}

func TestClassify_NoChanges(t *testing.T) {
	files := []scanner.ScannedFile{{Path: "a.py", SHA256: "1"}}
	sel := Classify(files, &Base{Files: map[string]scanner.ScannedFile{"a.py": files[0]}})
	assert.False(t, sel.HasChanges())
}

func TestSelector_LoadBase(t *testing.T) {
	dir := t.TempDir()
	s := NewSelector(archive.NewOpener(envelope.NewSealer("machine", 1000)), nil)

	base, err := s.LoadBase(dir)
	require.NoError(t, err)
	assert.Nil(t, base, "empty directory")

	oldFiles := []scanner.ScannedFile{{Path: "old.py", SHA256: "o"}}
	writeArchive(t, dir, "demo_2026-01-01_v1.3dev", oldFiles, false, 3*time.Hour)
	writeArchive(t, dir, "demo_2026-01-01_v2.3dev", []scanner.ScannedFile{{Path: "secret.py"}}, true, time.Hour)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo_2026-01-01_v3.3dev"), []byte("garbage"), 0o644))

	base, err = s.LoadBase(dir)
	require.NoError(t, err)
	require.NotNil(t, base)
	assert.Equal(t, "demo_2026-01-01_v1.3dev", base.Name)
	assert.Equal(t, "v1", base.Version)
	assert.Contains(t, base.Files, "old.py")
	assert.Equal(t, "demo_2026-01-01_v1.3dev", base.Ref().Name)
}

func TestSelector_BaselinePreferred(t *testing.T) {
	dir := t.TempDir()
	sealer := envelope.NewSealer("machine", 1000)

	info := archive.BuildInfo{
		ProjectName: "demo", Version: 2, Incremental: true, Time: time.Now(),
		Baseline: []scanner.ScannedFile{{Path: "a.py", SHA256: "1"}, {Path: "b.py", SHA256: "2"}},
	}
	m := archive.NewManifest(info, []scanner.ScannedFile{{Path: "b.py", SHA256: "2"}})
	data, err := archive.Encode(m, &archive.Body{})
	require.NoError(t, err)
	_, err = archive.NewWriter(sealer, nil).Write(filepath.Join(dir, "demo_2026-01-01_v2-inc.3dev"), data, archive.WriteOptions{})
	require.NoError(t, err)

	sel, err := NewSelector(archive.NewOpener(sealer), nil).Select(dir, []scanner.ScannedFile{
		{Path: "a.py", SHA256: "1"}, {Path: "b.py", SHA256: "2"},
	})
	require.NoError(t, err)
	assert.False(t, sel.HasChanges())
	assert.Equal(t, "v2-inc", sel.Base.Version)
}

func TestSelector_CompressedBase(t *testing.T) {
	dir := t.TempDir()
	sealer := envelope.NewSealer("machine", 1000)
	files := []scanner.ScannedFile{{Path: "a.py", SHA256: "1"}}

	m := archive.NewManifest(archive.BuildInfo{ProjectName: "demo", Version: 1, Time: time.Now()}, files)
	data, err := archive.Encode(m, &archive.Body{})
	require.NoError(t, err)
	_, err = archive.NewWriter(sealer, nil).Write(filepath.Join(dir, "demo_2026-01-01_v1.3dev"), data,
		archive.WriteOptions{Compression: envelope.CompressionTypeZlib})
	require.NoError(t, err)

	sel, err := NewSelector(archive.NewOpener(sealer), nil).Select(dir, files)
	require.NoError(t, err)
	require.NotNil(t, sel.Base)
	assert.Equal(t, "v1", sel.Base.Version)
	assert.Empty(t, sel.Added)
	assert.Len(t, sel.Unchanged, 1)
	assert.False(t, sel.HasChanges())
}
