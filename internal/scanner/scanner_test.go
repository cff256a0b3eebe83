package scanner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jugaad-backup/internal/filter"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func newScanner(t *testing.T, root string, opts filter.Options) *Scanner {
	t.Helper()
	f, err := filter.New(root, opts)
	require.NoError(t, err)
	return New(f, nil)
}

func TestScan_VCSDirectoryPruned(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.py":      "print(1)\n",
		".git/HEAD": "ref: refs/heads/main\n",
	})

	res, err := newScanner(t, root, filter.Options{RespectGitignore: true}).Scan(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, res.Files, 1)
	assert.Equal(t, "a.py", res.Files[0].Path)
	assert.Equal(t, int64(9), res.Files[0].Size)
	assert.Equal(t, HashBytes([]byte("print(1)\n")), res.Files[0].SHA256)
	assert.Contains(t, res.Skipped, ".git/")
	assert.Equal(t, 1, res.TotalScanned)
	assert.Equal(t, 1, res.TotalIncluded)
	assert.Equal(t, 0, res.TotalSkipped)
}

func TestScan_CountersAndOrder(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/b.go":               "package b\n",
		"src/a.go":               "package a\n",
		"main.go":                "package main\n",
		"README.md":              "# readme\n",
		"logo.png":               "\x89PNG",
		"node_modules/x.js":      "x",
		".JugaadBKP/3dev/x.3dev": "archive",
		"build/out.js":           "y",
	})

	res, err := newScanner(t, root, filter.Options{}).Scan(context.Background(), root)
	require.NoError(t, err)

	var paths []string
	for _, f := range res.Files {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"main.go", "src/a.go", "src/b.go"}, paths)

	assert.Equal(t, 5, res.TotalScanned)
	assert.Equal(t, 3, res.TotalIncluded)
	assert.Equal(t, 2, res.TotalSkipped)
	assert.Equal(t, res.TotalScanned, res.TotalIncluded+res.TotalSkipped)

	assert.Contains(t, res.Skipped, "README.md")
	assert.Contains(t, res.Skipped, "logo.png")
	assert.Contains(t, res.Skipped, "node_modules/")
	assert.Contains(t, res.Skipped, "build/")
	for _, s := range res.Skipped {
		assert.NotContains(t, s, ".JugaadBKP")
	}
}

func TestScan_Gitignore(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore":     "generated/\nsecret.py\n",
		"app.py":         "app",
		"secret.py":      "key",
		"generated/g.py": "gen",
	})

	res, err := newScanner(t, root, filter.Options{RespectGitignore: true}).Scan(context.Background(), root)
	require.NoError(t, err)

	var paths []string
	for _, f := range res.Files {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"app.py"}, paths)
	assert.Contains(t, res.Skipped, "generated/")
	assert.Contains(t, res.Skipped, "secret.py")
	assert.Contains(t, res.Skipped, ".gitignore")
}

func TestScan_UnreadableFileDoesNotAbort(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read any file")
	}

	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"ok.py":     "ok",
		"locked.py": "nope",
	})
	require.NoError(t, os.Chmod(filepath.Join(root, "locked.py"), 0o000))
	t.Cleanup(func() { os.Chmod(filepath.Join(root, "locked.py"), 0o644) })

	res, err := newScanner(t, root, filter.Options{}).Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 1, res.TotalIncluded)
	assert.Equal(t, 1, res.TotalSkipped)
	assert.Len(t, res.Errors, 1)
	assert.Contains(t, res.Skipped, "locked.py")
}

func TestScan_LineBreakInPathSkipped(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file names cannot contain line breaks")
	}

	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.py":          "print(1)\n",
		"odd\nname.py":  "print(2)\n",
		"bad\rdir/x.py": "print(3)\n",
	})

	res, err := newScanner(t, root, filter.Options{}).Scan(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, res.Files, 1)
	assert.Equal(t, "a.py", res.Files[0].Path)
	assert.Contains(t, res.Skipped, "odd\nname.py")
	assert.Contains(t, res.Skipped, "bad\rdir/")
	assert.Equal(t, 1, res.TotalSkipped)
	assert.Len(t, res.Errors, 2)
}

func TestFrameable(t *testing.T) {
	assert.True(t, Frameable("src/a --- b.py"))
	assert.False(t, Frameable("odd\nname.py"))
	assert.False(t, Frameable("odd\rname.py"))
}

func TestScan_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.py": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newScanner(t, root, filter.Options{}).Scan(ctx, root)
	assert.Error(t, err)
}

func TestScan_NotADirectory(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "a.py")
	require.NoError(t, os.WriteFile(file, []byte("a"), 0o644))

	_, err := newScanner(t, root, filter.Options{}).Scan(context.Background(), file)
	assert.Error(t, err)
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.txt")
	data := make([]byte, 3*hashChunkSize+17)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))

	sum, size, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)
	assert.Equal(t, HashBytes(data), sum)
}

func TestResult_HashMap(t *testing.T) {
	res := &Result{Files: []ScannedFile{{Path: "a.py", SHA256: "aa"}, {Path: "b.py", SHA256: "bb"}}}
	assert.Equal(t, map[string]string{"a.py": "aa", "b.py": "bb"}, res.HashMap())
}

func TestEstimate(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.go":     "1234567890",
		"b.go":     "12345",
		"c.py":     "123",
		"logo.png": "png",
		"Makefile": "all:",
	})

	est, err := newScanner(t, root, filter.Options{}).Estimate(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 4, est.Files)
	assert.Equal(t, 1, est.Skipped)
	assert.Equal(t, int64(22), est.TotalBytes)
	require.NotEmpty(t, est.ByExtension)
	assert.Equal(t, ".go", est.ByExtension[0].Extension)
	assert.Equal(t, 2, est.ByExtension[0].Files)
	assert.Greater(t, est.EstimatedArchive, est.TotalBytes)
}

func TestDetectProjectRoot(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"go.mod":           "module x\n",
		"pkg/deep/file.go": "package deep\n",
	})

	got, err := DetectProjectRoot(filepath.Join(root, "pkg", "deep"))
	require.NoError(t, err)

	want, _ := filepath.EvalSymlinks(root)
	gotResolved, _ := filepath.EvalSymlinks(got)
	assert.Equal(t, want, gotResolved)
}
