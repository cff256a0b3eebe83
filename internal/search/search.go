// Package search finds text inside the most recent archives of a backup
// directory.
package search

import (
	"context"
	"regexp"
	"strings"

	"jugaad-backup/internal/archive"
	"jugaad-backup/internal/errors"
	"jugaad-backup/internal/logging"
)

const (
	// DefaultArchiveLimit is how many of the newest archives are searched
	DefaultArchiveLimit = 10
	// DefaultShown is how many matches are kept per archive
	DefaultShown = 5
)

// Match is one hit with up to 40 characters of context on each side
type Match struct {
	Path    string `json:"path" yaml:"path" toml:"path"`
	Context string `json:"context" yaml:"context" toml:"context"`
}

// ArchiveHits groups the matches of one archive. Count is the full number
// of matches; Matches holds at most the configured number shown.
type ArchiveHits struct {
	Archive string  `json:"archive" yaml:"archive" toml:"archive"`
	Name    string  `json:"name" yaml:"name" toml:"name"`
	Count   int     `json:"count" yaml:"count" toml:"count"`
	Matches []Match `json:"matches" yaml:"matches" toml:"matches"`
}

// Result is the outcome of a search
type Result struct {
	Term      string        `json:"term" yaml:"term" toml:"term"`
	Searched  int           `json:"searched" yaml:"searched" toml:"searched"`
	Encrypted int           `json:"skipped_encrypted" yaml:"skipped_encrypted" toml:"skipped_encrypted"`
	Failed    int           `json:"failed" yaml:"failed" toml:"failed"`
	Total     int           `json:"total" yaml:"total" toml:"total"`
	Archives  []ArchiveHits `json:"archives" yaml:"archives" toml:"archives"`
}

// Searcher scans archive contents
type Searcher struct {
	opener       *archive.Opener
	logger       *logging.Logger
	ArchiveLimit int
	Shown        int
}

// NewSearcher creates a searcher with the default limits
func NewSearcher(opener *archive.Opener, logger *logging.Logger) *Searcher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Searcher{opener: opener, logger: logger, ArchiveLimit: DefaultArchiveLimit, Shown: DefaultShown}
}

// Pattern returns the case-insensitive context pattern for term
func Pattern(term string) *regexp.Regexp {
	return regexp.MustCompile(`(?i).{0,40}` + regexp.QuoteMeta(term) + `.{0,40}`)
}

// Search looks for term in the text files of the newest archives of dir.
// Encrypted archives are skipped and counted; so are unreadable ones.
func (s *Searcher) Search(ctx context.Context, dir, term string) (*Result, error) {
	if strings.TrimSpace(term) == "" {
		return nil, errors.NewValidationError("search term cannot be empty", nil)
	}

	infos, err := s.opener.List(dir)
	if err != nil {
		return nil, err
	}
	if s.ArchiveLimit > 0 && len(infos) > s.ArchiveLimit {
		infos = infos[:s.ArchiveLimit]
	}

	re := Pattern(term)
	res := &Result{Term: term, Archives: []ArchiveHits{}}

	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return res, errors.NewErrorClassifier().ClassifyError(err)
		}
		if info.Encrypted {
			res.Encrypted++
			continue
		}

		hits, err := s.searchArchive(info, re)
		if err != nil {
			res.Failed++
			s.logger.WithField("archive", info.Name).Warnf("Search skipped archive: %v", err)
			continue
		}
		res.Searched++
		if hits.Count > 0 {
			res.Total += hits.Count
			res.Archives = append(res.Archives, *hits)
		}
	}
	return res, nil
}

func (s *Searcher) searchArchive(info archive.Info, re *regexp.Regexp) (*ArchiveHits, error) {
	a, err := s.opener.OpenPlain(info.Path)
	if err != nil {
		return nil, err
	}

	hits := &ArchiveHits{Archive: info.Path, Name: info.Name, Matches: []Match{}}
	blocks := a.Blocks()
	for blocks.Next() {
		blk := blocks.Block()
		if blk.Binary {
			continue
		}
		for _, loc := range re.FindAllIndex(blk.Content, -1) {
			hits.Count++
			if s.Shown <= 0 || len(hits.Matches) < s.Shown {
				hits.Matches = append(hits.Matches, Match{
					Path:    blk.Path,
					Context: strings.TrimSpace(string(blk.Content[loc[0]:loc[1]])),
				})
			}
		}
	}
	if err := blocks.Err(); err != nil {
		return nil, err
	}
	return hits, nil
}
