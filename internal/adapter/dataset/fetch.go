package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"go.ngs.io/dsg-ingest/internal/logger"
)

// Fetcher downloads remote datasets into a local cache directory.
type Fetcher struct {
	client   *retryablehttp.Client
	cacheDir string
	log      logger.Logger
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	CacheDir string
	Timeout  time.Duration
	Retries  int
	Logger   logger.Logger
}

// NewFetcher returns a Fetcher writing into cfg.CacheDir.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Logger == nil {
		cfg.Logger = logger.NopLogger
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(os.TempDir(), "dsg-ingest")
	}
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.Retries
	client.Logger = cfg.Logger.WithPrefix("[fetch]")
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}
	return &Fetcher{client: client, cacheDir: cfg.CacheDir, log: cfg.Logger}
}

// Fetch returns a local path holding the dataset at rawURL, downloading it
// when no cached copy exists.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid dataset URL %q: %w", rawURL, err)
	}

	local := filepath.Join(f.cacheDir, cacheName(u))
	if _, err := os.Stat(local); err == nil {
		f.log.Debugf("using cached %s for %s", local, rawURL)
		return local, nil
	}
	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download %s: status %s", rawURL, resp.Status)
	}

	tmp, err := os.CreateTemp(f.cacheDir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("failed to save %s: %w", rawURL, err)
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		return "", fmt.Errorf("failed to move download into cache: %w", err)
	}
	f.log.Infof("downloaded %s (%d bytes)", rawURL, n)
	return local, nil
}

// cacheName keeps the file's base name for readability and prefixes a hash
// of the full URL so distinct query strings do not collide.
func cacheName(u *url.URL) string {
	sum := sha256.Sum256([]byte(u.String()))
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		base = "dataset.nc"
	}
	return hex.EncodeToString(sum[:8]) + "-" + base
}
