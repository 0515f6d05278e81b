package dataset

import (
	"context"
	"strings"

	"go.ngs.io/dsg-ingest/internal/logger"
)

// Opener resolves dataset locations to sources.
type Opener struct {
	Fetcher *Fetcher
	Retry   RetryPolicy
	Logger  logger.Logger
}

// Open returns a source for a local path or an http(s) URL. Remote datasets
// are downloaded once and read from the local cache.
func (o *Opener) Open(ctx context.Context, location string) (Source, error) {
	path := strings.TrimPrefix(location, "file://")
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		f := o.Fetcher
		if f == nil {
			f = NewFetcher(FetcherConfig{Logger: o.Logger})
		}
		local, err := f.Fetch(ctx, location)
		if err != nil {
			return nil, err
		}
		path = local
	}

	src, err := OpenNetCDF(path)
	if err != nil {
		return nil, err
	}
	return WithRetry(src, o.Retry, o.Logger), nil
}
