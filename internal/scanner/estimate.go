package scanner

import (
	"context"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"jugaad-backup/internal/errors"
	"jugaad-backup/internal/filter"
)

// textCompressionRatio is a rough ratio for source text under zlib
const textCompressionRatio = 0.35

// ExtensionStats aggregates the included files of one extension
type ExtensionStats struct {
	Extension string `json:"extension" yaml:"extension" toml:"extension"`
	Files     int    `json:"files" yaml:"files" toml:"files"`
	Bytes     int64  `json:"bytes" yaml:"bytes" toml:"bytes"`
}

// Estimate predicts the size of a full backup without hashing anything
type Estimate struct {
	Root               string           `json:"root" yaml:"root" toml:"root"`
	Files              int              `json:"files" yaml:"files" toml:"files"`
	Skipped            int              `json:"skipped" yaml:"skipped" toml:"skipped"`
	TotalBytes         int64            `json:"total_bytes" yaml:"total_bytes" toml:"total_bytes"`
	EstimatedArchive   int64            `json:"estimated_archive_bytes" yaml:"estimated_archive_bytes" toml:"estimated_archive_bytes"`
	EstimatedCompacted int64            `json:"estimated_compressed_bytes" yaml:"estimated_compressed_bytes" toml:"estimated_compressed_bytes"`
	ByExtension        []ExtensionStats `json:"by_extension" yaml:"by_extension" toml:"by_extension"`
}

// per-file framing overhead: start/end markers, hash and size lines
const frameOverhead = 160

// Estimate walks root with the same filter as Scan but only stats files
func (s *Scanner) Estimate(ctx context.Context, root string) (*Estimate, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.NewScanError(root, err)
	}

	est := &Estimate{Root: absRoot}
	byExt := make(map[string]*ExtensionStats)

	walkErr := filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if p == absRoot {
				return err
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			est.Skipped++
			return nil
		}
		if p == absRoot {
			return nil
		}

		rel, _ := filepath.Rel(absRoot, p)
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if filter.AlwaysPruned(d.Name()) {
				return fs.SkipDir
			}
			if pruned, _ := s.filter.PruneDir(rel); pruned {
				return fs.SkipDir
			}
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil || !d.Type().IsRegular() {
			est.Skipped++
			return nil
		}
		if ok, _ := s.filter.Include(rel, info); !ok {
			est.Skipped++
			return nil
		}

		ext := strings.ToLower(path.Ext(rel))
		if ext == "" {
			ext = path.Base(rel)
		}
		stats, ok := byExt[ext]
		if !ok {
			stats = &ExtensionStats{Extension: ext}
			byExt[ext] = stats
		}
		stats.Files++
		stats.Bytes += info.Size()

		est.Files++
		est.TotalBytes += info.Size()
		return nil
	})
	if walkErr != nil {
		return nil, errors.NewScanError(absRoot, walkErr)
	}

	est.EstimatedArchive = est.TotalBytes + int64(est.Files)*frameOverhead
	est.EstimatedCompacted = int64(float64(est.EstimatedArchive) * textCompressionRatio)

	for _, st := range byExt {
		est.ByExtension = append(est.ByExtension, *st)
	}
	sort.Slice(est.ByExtension, func(i, j int) bool {
		if est.ByExtension[i].Bytes != est.ByExtension[j].Bytes {
			return est.ByExtension[i].Bytes > est.ByExtension[j].Bytes
		}
		return est.ByExtension[i].Extension < est.ByExtension[j].Extension
	})

	return est, nil
}
