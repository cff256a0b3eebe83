package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// seed writes one archive per age, in days, and returns their names
func seed(t *testing.T, dir string, ages ...float64) []string {
	t.Helper()
	var names []string
	for i, days := range ages {
		name := fmt.Sprintf("demo_2026-06-01_v%d.3dev", i+1)
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("archive"), 0o644))
		mod := now.Add(-time.Duration(days * float64(24*time.Hour)))
		require.NoError(t, os.Chtimes(path, mod, mod))
		names = append(names, name)
	}
	return names
}

func newTestManager(dir string, p Policy) *Manager {
	m := NewManager(dir, p, nil)
	m.now = func() time.Time { return now }
	return m
}

func names(cs []Candidate) []string {
	out := []string{}
	for _, c := range cs {
		out = append(out, c.Name)
	}
	return out
}

func TestApply_Policy(t *testing.T) {
	tests := []struct {
		name    string
		ages    []float64
		deleted []int // indexes into ages
	}{
		{
			name:    "eleventh within age is kept",
			ages:    []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 25, 35},
			deleted: []int{11},
		},
		{
			name:    "both beyond count and age",
			ages:    []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 31, 35},
			deleted: []int{10, 11},
		},
		{
			name:    "one per day",
			ages:    []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
			deleted: nil,
		},
		{
			name:    "old but within keep_count",
			ages:    []float64{40, 50, 60},
			deleted: nil,
		},
		{
			name:    "exactly at the cutoff is kept",
			ages:    []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 30},
			deleted: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			all := seed(t, dir, tt.ages...)

			res, err := newTestManager(dir, DefaultPolicy()).Apply(context.Background(), false)
			require.NoError(t, err)

			want := []string{}
			for _, i := range tt.deleted {
				want = append(want, all[i])
			}
			assert.ElementsMatch(t, want, names(res.Deleted))
			assert.Equal(t, len(tt.ages), res.Processed)
			assert.Len(t, res.Kept, len(tt.ages)-len(tt.deleted))

			for _, n := range want {
				assert.NoFileExists(t, filepath.Join(dir, n))
			}
			for _, c := range res.Kept {
				assert.FileExists(t, c.Path)
			}
		})
	}
}

func TestApply_DryRun(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir, 1, 40, 50)

	res, err := newTestManager(dir, Policy{KeepCount: 1, KeepDays: 30}).Apply(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Len(t, res.Deleted, 2)
	assert.Equal(t, int64(14), res.Reclaimed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestCandidates_RankAndReason(t *testing.T) {
	dir := t.TempDir()
	all := seed(t, dir, 5, 1, 45)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644))

	toDelete, toKeep, err := newTestManager(dir, Policy{KeepCount: 1, KeepDays: 30}).Candidates()
	require.NoError(t, err)

	require.Len(t, toKeep, 2)
	assert.Equal(t, all[1], toKeep[0].Name)
	assert.Equal(t, 1, toKeep[0].Rank)
	assert.Equal(t, "within keep_count", toKeep[0].Reason)
	assert.Equal(t, "within keep_days", toKeep[1].Reason)

	require.Len(t, toDelete, 1)
	assert.Equal(t, all[2], toDelete[0].Name)
	assert.Equal(t, 3, toDelete[0].Rank)
}

func TestApply_MissingDirAndBadPolicy(t *testing.T) {
	res, err := newTestManager(filepath.Join(t.TempDir(), "none"), DefaultPolicy()).Apply(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)

	_, err = newTestManager(t.TempDir(), Policy{KeepCount: -1}).Apply(context.Background(), false)
	assert.Error(t, err)
}
