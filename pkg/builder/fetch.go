package builder

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mwm126/anaconda-recipes/pkg/engine"
)

// CacheFetcher serves recipe sources from a local source cache. Archives are
// looked up by the recipe's source filename, or the last element of its URL.
// Git sources are expected as checkouts named "<name>-<git_tag>".
//
// Nothing is downloaded; populating the cache is left to the caller.
type CacheFetcher struct {
	dir    string
	logger zerolog.Logger
}

var _ engine.Fetcher = (*CacheFetcher)(nil)

// NewCacheFetcher creates a fetcher reading from dir.
func NewCacheFetcher(dir string, logger zerolog.Logger) *CacheFetcher {
	return &CacheFetcher{
		dir:    absPath(dir),
		logger: logger.With().Str("component", "source-cache").Logger(),
	}
}

// Fetch returns the cached archive for r. A missing entry is a FetchError.
// Archive bytes are returned in memory so the runner can verify them.
func (f *CacheFetcher) Fetch(ctx context.Context, r *engine.Recipe) (*engine.SourceArchive, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := r.Source
	if src.URL == "" && src.Filename == "" && src.GitURL != "" {
		return f.fetchCheckout(r)
	}

	name := archiveName(src)
	if name == "" {
		return nil, engine.NewFetchError("recipe declares no source", nil).WithField("source")
	}

	p := filepath.Join(f.dir, name)
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, engine.NewFetchError(fmt.Sprintf("%s is not in the source cache %s", name, f.dir), err).
			WithField("source")
	}

	f.logger.Debug().
		Str("recipe", r.ID().String()).
		Str("archive", p).
		Int("bytes", len(data)).
		Msg("Source archive found")

	return &engine.SourceArchive{Recipe: r.ID(), Path: p, Data: data}, nil
}

func (f *CacheFetcher) fetchCheckout(r *engine.Recipe) (*engine.SourceArchive, error) {
	ref := r.Source.GitTag
	if ref == "" {
		ref = "HEAD"
	}
	p := filepath.Join(f.dir, r.Name+"-"+ref)

	info, err := os.Stat(p)
	if err == nil && !info.IsDir() {
		err = errors.New("not a directory")
	}
	if err != nil {
		return nil, engine.NewFetchError(fmt.Sprintf("checkout of %s at %s is not in the source cache", r.Source.GitURL, ref), err).
			WithField("source.git_url")
	}

	return &engine.SourceArchive{Recipe: r.ID(), Path: p}, nil
}

// archiveName is the cache entry for an archive source.
func archiveName(src engine.Source) string {
	if src.Filename != "" {
		return filepath.Base(src.Filename)
	}
	if src.URL == "" {
		return ""
	}
	if u, err := url.Parse(src.URL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(strings.TrimRight(src.URL, "/"))
}
