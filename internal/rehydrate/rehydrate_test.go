package rehydrate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jugaad-backup/internal/archive"
	"jugaad-backup/internal/errors"
)

func parsed(t *testing.T, blocks ...archive.FileBlock) *archive.Archive {
	t.Helper()
	body := &archive.Body{Blocks: blocks}
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	m := archive.NewManifest(archive.BuildInfo{ProjectName: "demo", Version: 2, Time: at}, body.Files())
	data, err := archive.Encode(m, body)
	require.NoError(t, err)
	a, err := archive.Parse(data)
	require.NoError(t, err)
	return a
}

func TestRehydrate_TreeRoundTrip(t *testing.T) {
	contents := map[string][]byte{
		"a.py":            []byte("print(1)\n"),
		"pkg/mod/util.go": []byte("package mod"),
		"img.png":         {0x89, 0x50, 0x4e, 0x47, 0x00, 0xff},
		"empty.txt":       {},
	}
	var blocks []archive.FileBlock
	for _, p := range []string{"a.py", "pkg/mod/util.go", "img.png", "empty.txt"} {
		blocks = append(blocks, archive.NewFileBlock(p, contents[p]))
	}

	out := filepath.Join(t.TempDir(), "restore")
	res, err := NewRehydrator(nil).Rehydrate(context.Background(), parsed(t, blocks...), Options{Mode: ModeTree, Output: out})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Written)
	assert.Zero(t, res.Rejected)

	for p, want := range contents {
		got, err := os.ReadFile(filepath.Join(out, filepath.FromSlash(p)))
		require.NoError(t, err, p)
		assert.Equal(t, want, got, p)
	}
}

func TestRehydrate_RejectsTraversal(t *testing.T) {
	base := t.TempDir()
	out := filepath.Join(base, "out")
	a := parsed(t,
		archive.NewFileBlock("../../etc/passwd", []byte("root:x:0:0\n")),
		archive.NewFileBlock("../sibling.txt", []byte("nope\n")),
		archive.NewFileBlock("ok/keep.txt", []byte("fine\n")),
	)

	res, err := NewRehydrator(nil).Rehydrate(context.Background(), a, Options{Output: out})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 2, res.Rejected)
	assert.ElementsMatch(t, []string{"../../etc/passwd", "../sibling.txt"}, res.Paths)

	assert.NoFileExists(t, filepath.Join(base, "sibling.txt"))
	assert.FileExists(t, filepath.Join(out, "ok", "keep.txt"))
}

func TestRehydrate_Subset(t *testing.T) {
	a := parsed(t,
		archive.NewFileBlock("a.py", []byte("a\n")),
		archive.NewFileBlock("b.py", []byte("b\n")),
		archive.NewFileBlock("c/d.py", []byte("d\n")),
	)
	out := t.TempDir()

	res, err := NewRehydrator(nil).Rehydrate(context.Background(), a, Options{Output: out, Only: []string{"c/d.py", "missing.py"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 2, res.Filtered)
	assert.FileExists(t, filepath.Join(out, "c", "d.py"))
	assert.NoFileExists(t, filepath.Join(out, "a.py"))
}

func TestRehydrate_Flat(t *testing.T) {
	a := parsed(t,
		archive.NewFileBlock("a.py", []byte("print(1)\n")),
		archive.NewFileBlock("b.md", []byte("no newline")),
		archive.NewFileBlock("c.bin", []byte{0xff}),
	)
	out := filepath.Join(t.TempDir(), "aio", "dump.txt")

	res, err := NewRehydrator(nil).Rehydrate(context.Background(), a, Options{Mode: ModeFlat, Output: out})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Written)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	want := "\n--- FILE: a.py ---\nprint(1)\n" +
		"\n--- FILE: b.md ---\nno newline\n" +
		"\n--- FILE: c.bin ---\n<BINARY:/w==>\n"
	assert.Equal(t, want, string(data))
}

func TestRehydrate_MalformedWritesNothing(t *testing.T) {
	data := "'::Backup Stats::':\n  Files Included: 2\n--- END MANIFEST ---\n\n" +
		"--- FILE START: a.py ---\nok\n--- FILE END: a.py ---\n\n" +
		"--- FILE START: b.py ---\nnever closed\n"
	a, err := archive.Parse([]byte(data))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "restore")
	_, err = NewRehydrator(nil).Rehydrate(context.Background(), a, Options{Output: out})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFormat))
	assert.NoDirExists(t, out)
}

func TestRehydrate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRehydrator(nil).Rehydrate(ctx, parsed(t, archive.NewFileBlock("a.py", []byte("x\n"))), Options{Output: t.TempDir()})
	assert.Error(t, err)
}

func TestResolveInside(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))

	tests := []struct {
		rel string
		ok  bool
	}{
		{"a.py", true},
		{"deep/nested/file.go", true},
		{"a/../b.py", true},
		{"../x", false},
		{"a/../../x", false},
		{"/etc/passwd", false},
		{".", false},
		{"", false},
		{"escape/evil.sh", false},
		{"escape", false},
	}

	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			got, err := ResolveInside(root, tt.rel)
			if !tt.ok {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrorTypePathTraversal))
				return
			}
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(got, root+string(filepath.Separator)))
		})
	}
}

func TestParseModeAndDefaultOutput(t *testing.T) {
	m, err := ParseMode("aio")
	require.NoError(t, err)
	assert.Equal(t, ModeFlat, m)
	_, err = ParseMode("zip")
	assert.Error(t, err)

	a := parsed(t)
	layout := archive.NewLayout("/proj")
	assert.Equal(t, filepath.Join(layout.RehydratedDir(), "demo_Rehydrated_20260304_050607_v2"), DefaultOutput(layout, a.Manifest, ModeTree))
	assert.Equal(t, filepath.Join(layout.AIODir(), "demo_Rehydrated_20260304_050607_v2.txt"), DefaultOutput(layout, a.Manifest, ModeFlat))
}
