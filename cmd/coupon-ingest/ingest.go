package main

import (
	"bufio"
	"context"
	"math/bits"
	"os"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// screener finds promo codes listed in at least quorum of the source files.
//
// Sources are too large to hold in memory, so the first pass only builds a
// bloom filter per file. The second pass re-reads every file and keeps the
// codes that some other file's filter probably contains, tagging each with a
// bit per file it was read from. Merging the tags removes the bloom false
// positives: a code survives only if it was really read from quorum files.
type screener struct {
	lg *zap.Logger

	capacity uint    // expected codes per file
	fpr      float64 // bloom false positive rate
	quorum   int
	minLen   int
	maxLen   int
	every    uint64 // progress log interval in codes
}

func (s *screener) accepts(code string) bool {
	return len(code) >= s.minLen && len(code) <= s.maxLen
}

// Screen returns the codes present in at least quorum of files.
func (s *screener) Screen(ctx context.Context, files []string) ([]string, error) {
	if len(files) > bits.UintSize {
		return nil, errors.Errorf("at most %d source files supported, got %d", bits.UintSize, len(files))
	}
	if s.quorum < 2 || s.quorum > len(files) {
		return nil, errors.Errorf("quorum %d out of range for %d files", s.quorum, len(files))
	}

	s.lg.Info("Indexing sources", zap.Int("files", len(files)))
	filters := make([]*bloom.BloomFilter, len(files))
	if err := s.each(ctx, files, func(ctx context.Context, i int, path string) error {
		f, err := s.index(ctx, path)
		filters[i] = f
		return err
	}); err != nil {
		return nil, errors.Wrap(err, "index")
	}

	s.lg.Info("Matching codes across sources")
	seen := make([]map[string]uint, len(files))
	if err := s.each(ctx, files, func(ctx context.Context, i int, path string) error {
		m, err := s.match(ctx, i, path, filters)
		seen[i] = m
		return err
	}); err != nil {
		return nil, errors.Wrap(err, "match")
	}

	merged := make(map[string]uint)
	for _, m := range seen {
		for code, tag := range m {
			merged[code] |= tag
		}
	}
	var codes []string
	for code, tag := range merged {
		if bits.OnesCount(tag) >= s.quorum {
			codes = append(codes, code)
		}
	}
	return codes, nil
}

// each runs fn for every file concurrently.
func (s *screener) each(ctx context.Context, files []string, fn func(ctx context.Context, i int, path string) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			if err := fn(ctx, i, path); err != nil {
				return errors.Wrap(err, path)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *screener) index(ctx context.Context, path string) (*bloom.BloomFilter, error) {
	filter := bloom.NewWithEstimates(s.capacity, s.fpr)
	n, err := s.read(ctx, path, func(code string) {
		filter.AddString(code)
	})
	if err != nil {
		return nil, err
	}
	s.lg.Info("Source indexed", zap.String("file", path), zap.Uint64("codes", n))
	return filter, nil
}

// match tags codes of file i that another filter probably contains.
func (s *screener) match(ctx context.Context, i int, path string, filters []*bloom.BloomFilter) (map[string]uint, error) {
	tag := uint(1) << i
	found := make(map[string]uint)
	n, err := s.read(ctx, path, func(code string) {
		for j, f := range filters {
			if j != i && f.TestString(code) {
				found[code] = tag
				return
			}
		}
	})
	if err != nil {
		return nil, err
	}
	s.lg.Info("Source matched",
		zap.String("file", path),
		zap.Uint64("codes", n),
		zap.Int("candidates", len(found)),
	)
	return found, nil
}

// read streams the gzip file at path line by line, passing acceptable codes
// to fn. It returns how many codes were passed.
func (s *screener) read(ctx context.Context, path string, fn func(code string)) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return 0, errors.Wrap(err, "gzip")
	}
	defer func() { _ = gz.Close() }()

	var n uint64
	lines := bufio.NewScanner(gz)
	for lines.Scan() {
		code := lines.Text()
		if !s.accepts(code) {
			continue
		}
		fn(code)
		n++
		if s.every > 0 && n%s.every == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
			s.lg.Debug("Reading", zap.String("file", path), zap.Uint64("codes", n))
		}
	}
	if err := lines.Err(); err != nil {
		return n, errors.Wrap(err, "scan")
	}
	return n, ctx.Err()
}
