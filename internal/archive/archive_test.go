package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jugaad-backup/internal/envelope"
	"jugaad-backup/internal/errors"
	"jugaad-backup/internal/scanner"
)

var fixedTime = time.Date(2026, 3, 14, 9, 26, 53, 0, time.Local)

func testInfo() BuildInfo {
	return BuildInfo{
		ProjectName: "demo",
		ProjectRoot: "/src/demo",
		Hostname:    "builder",
		CreatedBy:   "tester",
		Version:     1,
		Time:        fixedTime,
		Skipped:     2,
		Notes:       "nightly",
		Tags:        []string{"ci"},
	}
}

func encodeBlocks(t *testing.T, info BuildInfo, blocks ...FileBlock) []byte {
	t.Helper()
	body := &Body{Blocks: blocks}
	data, err := Encode(NewManifest(info, body.Files()), body)
	require.NoError(t, err)
	return data
}

func TestEncodeParse_RoundTrip(t *testing.T) {
	blocks := []FileBlock{
		NewFileBlock("a.py", []byte("print(1)\n")),
		NewFileBlock("no_newline.go", []byte("package x")),
		NewFileBlock("empty.txt", []byte{}),
		NewFileBlock("tricky.md", []byte("--- FILE END: tricky.md ---\n--- FILE START: other ---\n")),
		NewFileBlock("blob.bin", []byte{0xff, 0x00, 0xfe, '\n', 0x80}),
		NewFileBlock("sentinel.txt", []byte("<BINARY:aGVsbG8=>")),
		NewFileBlock("dir/crlf.txt", []byte("one\r\ntwo\r\n")),
	}
	assert.True(t, blocks[4].Binary)

	data := encodeBlocks(t, testInfo(), blocks...)

	a, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, len(blocks), a.Manifest.Stats.FilesIncluded)

	got, err := a.ReadAll()
	require.NoError(t, err)
	require.Len(t, got, len(blocks))

	for i, blk := range got {
		assert.Equal(t, blocks[i].Path, blk.Path)
		assert.Equal(t, blocks[i].Content, blk.Content, blk.Path)
		assert.Equal(t, blocks[i].Binary, blk.Binary, blk.Path)
		assert.Equal(t, scanner.HashBytes(blk.Content), blk.SHA256, blk.Path)
	}
}

func TestEncode_Framing(t *testing.T) {
	data := string(encodeBlocks(t, testInfo(), NewFileBlock("a.py", []byte("print(1)\n"))))

	assert.Contains(t, data, "\n--- END MANIFEST ---\n\n--- FILE START: a.py ---\n")
	assert.Contains(t, data, "SHA256: "+scanner.HashBytes([]byte("print(1)\n"))+"\nSIZE: 9 bytes\nprint(1)\n--- FILE END: a.py ---\n\n")
	assert.Contains(t, data, "  Generated by Jugaad Backup v2.0.0\n")
	assert.Contains(t, data, "  Created by: tester\n")
	assert.True(t, strings.HasSuffix(data, strings.Repeat("=", 70)+"\n"))

	// start and end markers match the declared count
	assert.Equal(t, 1, strings.Count(data, "--- FILE START: "))
	assert.Equal(t, 1, strings.Count(data, "--- FILE END: "))
}

func TestManifest_Sections(t *testing.T) {
	info := testInfo()
	info.Incremental = true
	info.Version = 3
	info.Base = &BaseArchive{Name: "demo_2026-03-14_v2.3dev", Version: "v2"}
	info.Baseline = []scanner.ScannedFile{{Path: "a.py", Size: 1, SHA256: "aa"}, {Path: "b.py", Size: 1, SHA256: "bb"}}

	m := NewManifest(info, []scanner.ScannedFile{{Path: "b.py", Size: 1, SHA256: "bb"}})
	text, err := m.Marshal()
	require.NoError(t, err)

	for _, want := range []string{
		"::Jugaad Backup Metadata Manifest::", "Format Version: 1",
		"::Generation Info::", "Backup Type: Incremental",
		"::Project Info::", "Project Name: demo",
		"::Backup Stats::", "Backup Version: v3-inc", "Files Included: 1",
		"::Base Archive::", "Included Files", "Baseline Files",
	} {
		assert.Contains(t, string(text), want)
	}

	back, err := UnmarshalManifest(text)
	require.NoError(t, err)
	assert.True(t, back.IsIncremental())
	assert.Equal(t, "v2", back.Base.Version)
	assert.Len(t, back.FileMap(), 2, "baseline wins over included files")
	assert.Len(t, back.IncludedMap(), 1)
	assert.Equal(t, []string{"ci"}, back.Stats.Tags)
}

func TestUnmarshalManifest_Legacy(t *testing.T) {
	legacy := `'::Jugaad Backup Metadata Manifest::':
'::Generation Info::':
  Generator: Jugaad Backup
  Backup Type: Full
  Unknown Future Key: 42
'::Backup Stats::':
  Backup Version: v4
  Files Included: 1
Included Files:
- path: a.py
  size: 9
  sha256: abc
`
	m, err := UnmarshalManifest([]byte(legacy))
	require.NoError(t, err)
	assert.Equal(t, 0, m.Header.FormatVersion)
	assert.Equal(t, "v4", m.Stats.BackupVersion)
	assert.Equal(t, "abc", m.FileMap()["a.py"].SHA256)
}

func TestUnmarshalManifest_FutureVersion(t *testing.T) {
	_, err := UnmarshalManifest([]byte("'::Jugaad Backup Metadata Manifest::':\n  Format Version: 9\n"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeFormat))
}

func TestParse_FormatErrors(t *testing.T) {
	valid := string(encodeBlocks(t, testInfo(), NewFileBlock("a.py", []byte("x\n"))))
	manifest := valid[:strings.Index(valid, ManifestTerminator)]

	tests := []struct {
		name    string
		data    string
		atParse bool
	}{
		{"missing terminator", strings.Replace(valid, ManifestTerminator, "--- END ---", 1), true},
		{"invalid manifest yaml", "key: [unclosed\n" + ManifestTerminator + "\n", true},
		{"start without end", manifest + ManifestTerminator + "\n\n--- FILE START: a.py ---\nx\n", false},
		{"nested start", manifest + ManifestTerminator + "\n\n--- FILE START: a.py ---\nx\n--- FILE START: b.py ---\ny\n--- FILE END: b.py ---\n", false},
		{"end without start", manifest + ManifestTerminator + "\n\n--- FILE END: a.py ---\n", false},
		{"stray content", manifest + ManifestTerminator + "\n\nhello\n", false},
		{"invalid size", manifest + ManifestTerminator + "\n\n--- FILE START: a.py ---\nSIZE: many bytes\nx\n--- FILE END: a.py ---\n", false},
		{"unterminated trailer", manifest + ManifestTerminator + "\n\n" + strings.Repeat("=", 70) + "\n  Generated by x\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Parse([]byte(tt.data))
			if tt.atParse {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrorTypeFormat))
				return
			}
			require.NoError(t, err)

			blocks, err := a.ReadAll()
			require.Error(t, err)
			assert.Nil(t, blocks, "no partial results")
			assert.True(t, errors.IsType(err, errors.ErrorTypeFormat))
		})
	}
}

func TestParse_PartialBlocksNotCommitted(t *testing.T) {
	data := string(encodeBlocks(t, testInfo(), NewFileBlock("a.py", []byte("x\n"))))
	broken := strings.Replace(data, "\n"+strings.Repeat("=", 70), "--- FILE START: b.py ---\nnever ends\n", 1)

	a, err := Parse([]byte(broken))
	require.NoError(t, err)

	s := a.Blocks()
	require.True(t, s.Next(), "first block decodes lazily")
	assert.Equal(t, "a.py", s.Block().Path)
	assert.False(t, s.Next())
	assert.Error(t, s.Err())

	blocks, err := a.ReadAll()
	assert.Error(t, err)
	assert.Nil(t, blocks)
}

func TestParse_RejectsEnvelopes(t *testing.T) {
	_, err := Parse([]byte(envelope.Magic + "xxxx"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeEncryptedInput))

	_, err = Parse([]byte(envelope.CompressedPrefix + "\nxxxx"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeFormat))
}

func TestBlockScanner_Restartable(t *testing.T) {
	data := encodeBlocks(t, testInfo(),
		NewFileBlock("a.py", []byte("a\n")),
		NewFileBlock("b.py", []byte("b\n")))

	a, err := Parse(data)
	require.NoError(t, err)

	for round := 0; round < 2; round++ {
		var paths []string
		s := a.Blocks()
		for s.Next() {
			paths = append(paths, s.Block().Path)
		}
		require.NoError(t, s.Err())
		assert.Equal(t, []string{"a.py", "b.py"}, paths)
		require.NotNil(t, s.Trailer())
		assert.Equal(t, "tester", s.Trailer().CreatedBy)
	}
}

func TestBlockScanner_DelimitedWithoutSize(t *testing.T) {
	content := []byte("no trailing newline")
	hash := scanner.HashBytes(content)
	body := "--- FILE START: a.txt ---\nSHA256: " + hash + "\nno trailing newline\n--- FILE END: a.txt ---\n\n" +
		"--- SKIPPED: gone.py ---\n\n" +
		"--- FILE START: b.bin ---\n<BINARY:AAEC>\n--- FILE END: b.bin ---\n\n" +
		"--- FILE START: c.txt ---\nkept newline\n--- FILE END: c.txt ---\n"

	a, err := Parse([]byte("'::Backup Stats::':\n  Files Included: 3\n" + ManifestTerminator + "\n\n" + body))
	require.NoError(t, err)

	s := a.Blocks()
	var blocks []FileBlock
	for s.Next() {
		blocks = append(blocks, s.Block())
	}
	require.NoError(t, s.Err())
	require.Len(t, blocks, 3)

	assert.Equal(t, content, blocks[0].Content)
	assert.True(t, blocks[1].Binary)
	assert.Equal(t, []byte{0, 1, 2}, blocks[1].Content)
	assert.Equal(t, "kept newline\n", string(blocks[2].Content))
	assert.Equal(t, []string{"gone.py"}, s.Skipped())
	assert.Nil(t, s.Trailer(), "trailer is optional")
}

func TestLoadRecords(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("changed after scan\n"), 0o644))

	files := []scanner.ScannedFile{
		{Path: "a.py", Size: 3, SHA256: "stale"},
		{Path: "gone.py", Size: 1, SHA256: "x"},
	}
	body := LoadRecords(root, files)

	require.Len(t, body.Blocks, 1)
	assert.Equal(t, scanner.HashBytes([]byte("changed after scan\n")), body.Blocks[0].SHA256)
	assert.Equal(t, int64(19), body.Blocks[0].Size)
	assert.Equal(t, []string{"gone.py"}, body.Missing)

	m := NewManifest(testInfo(), body.Files())
	data, err := Encode(m, body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "--- SKIPPED: gone.py ---")

	a, err := Parse(data)
	require.NoError(t, err)
	blocks, err := a.ReadAll()
	require.NoError(t, err)
	assert.Len(t, blocks, a.Manifest.Stats.FilesIncluded)
}

func TestEncode_LineBreakPaths(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("a\n"), 0o644))

	body := LoadRecords(root, []scanner.ScannedFile{{Path: "a.py"}, {Path: "odd\nname.py"}})
	require.Len(t, body.Blocks, 1)
	assert.Equal(t, []string{"odd\nname.py"}, body.Missing)

	data, err := Encode(NewManifest(testInfo(), body.Files()), body)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "SKIPPED: odd")
	a, err := Parse(data)
	require.NoError(t, err)
	blocks, err := a.ReadAll()
	require.NoError(t, err)
	assert.Len(t, blocks, 1)

	bad := &Body{Blocks: []FileBlock{NewFileBlock("odd\nname.py", []byte("x"))}}
	_, err = Encode(NewManifest(testInfo(), bad.Files()), bad)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFormat))
}

func TestWriter_Write(t *testing.T) {
	dir := t.TempDir()
	sealer := envelope.NewSealer("machine", 1000)
	w := NewWriter(sealer, nil)
	o := NewOpener(sealer)
	plain := encodeBlocks(t, testInfo(), NewFileBlock("a.py", []byte("print(1)\n")))

	tests := []struct {
		name string
		opts WriteOptions
	}{
		{"plain", WriteOptions{}},
		{"compressed", WriteOptions{Compression: envelope.CompressionTypeZstd}},
		{"encrypted", WriteOptions{Encrypt: true, Passphrase: "secret123"}},
		{"compressed and encrypted", WriteOptions{Compression: envelope.CompressionTypeZlib, Encrypt: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".3dev")
			n, err := w.Write(path, plain, tt.opts)
			require.NoError(t, err)
			assert.Greater(t, n, int64(0))
			assert.Equal(t, tt.opts.Encrypt, envelope.IsEncryptedFile(path))

			a, err := o.Open(path, tt.opts.Passphrase)
			require.NoError(t, err)
			assert.Equal(t, plain, a.Data())
		})
	}
}

func TestWriter_FailureLeavesNoFile(t *testing.T) {
	w := NewWriter(nil, nil)
	path := filepath.Join(t.TempDir(), "missing-dir", "x.3dev")

	_, err := w.Write(path, []byte("data"), WriteOptions{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeWrite))

	_, err = w.Write(filepath.Join(t.TempDir(), "x.3dev"), []byte("data"), WriteOptions{Encrypt: true})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
}

func TestOpener_WrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.3dev")
	sealer := envelope.NewSealer("machine", 1000)
	_, err := NewWriter(sealer, nil).Write(path, []byte("secret text"), WriteOptions{Encrypt: true, Passphrase: "right"})
	require.NoError(t, err)

	o := NewOpener(sealer)
	_, err = o.Open(path, "wrong")
	assert.True(t, errors.IsType(err, errors.ErrorTypeDecryption))

	_, err = o.OpenPlain(path)
	assert.True(t, errors.IsType(err, errors.ErrorTypeEncryptedInput))

	_, err = o.ReadManifest(path)
	assert.True(t, errors.IsType(err, errors.ErrorTypeEncryptedInput))

	_, err = o.Open(filepath.Join(t.TempDir(), "missing.3dev"), "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestOpener_ReadManifestAndList(t *testing.T) {
	dir := t.TempDir()
	sealer := envelope.NewSealer("machine", 1000)
	w := NewWriter(sealer, nil)

	old := encodeBlocks(t, testInfo(), NewFileBlock("a.py", []byte("a\n")))
	oldPath := filepath.Join(dir, "demo_2026-03-14_v1.3dev")
	_, err := w.Write(oldPath, old, WriteOptions{})
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	info2 := testInfo()
	info2.Version = 2
	newPath := filepath.Join(dir, "demo_2026-03-14_v2.3dev")
	_, err = w.Write(newPath, encodeBlocks(t, info2), WriteOptions{Encrypt: true})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	o := NewOpener(sealer)
	m, err := o.ReadManifest(oldPath)
	require.NoError(t, err)
	assert.Equal(t, "v1", m.Stats.BackupVersion)
	assert.Contains(t, string(mustMarshal(t, m)), "Project Name: demo")

	infos, err := o.List(dir)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, newPath, infos[0].Path)
	assert.True(t, infos[0].Encrypted)
	assert.Nil(t, infos[0].Manifest)
	assert.Equal(t, "v2", infos[0].Version())
	assert.False(t, infos[1].Encrypted)
	require.NotNil(t, infos[1].Manifest)
	assert.Equal(t, "v1", infos[1].Version())

	none, err := o.List(filepath.Join(dir, "absent"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOpener_ReadManifestCompressed(t *testing.T) {
	dir := t.TempDir()
	sealer := envelope.NewSealer("machine", 1000)
	w := NewWriter(sealer, nil)
	o := NewOpener(sealer)
	data := encodeBlocks(t, testInfo(), NewFileBlock("a.py", []byte("a\n")))

	algorithms := []envelope.CompressionType{
		envelope.CompressionTypeZlib,
		envelope.CompressionTypeGzip,
		envelope.CompressionTypeLZ4,
		envelope.CompressionTypeZstd,
	}
	for i, algo := range algorithms {
		t.Run(string(algo), func(t *testing.T) {
			path := filepath.Join(dir, fmt.Sprintf("demo_2026-03-14_v%d.3dev", i+1))
			_, err := w.Write(path, data, WriteOptions{Compression: algo})
			require.NoError(t, err)

			m, err := o.ReadManifest(path)
			require.NoError(t, err)
			assert.Equal(t, "v1", m.Stats.BackupVersion)
			require.Len(t, m.Files, 1)
			assert.Equal(t, "a.py", m.Files[0].Path)
		})
	}

	infos, err := o.List(dir)
	require.NoError(t, err)
	require.Len(t, infos, len(algorithms))
	for _, info := range infos {
		assert.True(t, info.Compressed, info.Name)
		assert.NotNil(t, info.Manifest, info.Name)
	}
}

func TestSortNewestFirst_EqualModTimes(t *testing.T) {
	same := time.Now()
	infos := []Info{
		{Name: "demo_2026-03-14_v9.3dev", ModTime: same},
		{Name: "demo_2026-03-13_v12.3dev", ModTime: same},
		{Name: "demo_2026-03-14_v10-inc.3dev", ModTime: same},
		{Name: "demo_2026-03-14_v2.3dev", ModTime: same.Add(time.Second)},
	}

	SortNewestFirst(infos)

	var names []string
	for _, info := range infos {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{
		"demo_2026-03-14_v2.3dev",
		"demo_2026-03-14_v10-inc.3dev",
		"demo_2026-03-14_v9.3dev",
		"demo_2026-03-13_v12.3dev",
	}, names)
}

func mustMarshal(t *testing.T, m *Manifest) []byte {
	t.Helper()
	data, err := m.Marshal()
	require.NoError(t, err)
	return data
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "0.0 B", HumanSize(0))
	assert.Equal(t, "512.0 B", HumanSize(512))
	assert.Equal(t, "1.5 KB", HumanSize(1536))
	assert.Equal(t, "2.0 MB", HumanSize(2*1024*1024))
}
