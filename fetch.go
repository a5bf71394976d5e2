package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/openpile/pile/pile"

	"github.com/schollz/progressbar/v3"
)

// fetcher downloads component files into the cache directory. Concurrent
// requests for the same file are coalesced: one goroutine downloads, the
// rest wait for its result.
type fetcher struct {
	logger  *slog.Logger
	baseURL string
	dir     string
	force   bool

	lock      sync.Mutex              // protects downloads
	downloads map[string][]chan error // in-progress downloads by cache path
}

func newFetcher(logger *slog.Logger, baseURL, cacheDir string, force bool) *fetcher {
	return &fetcher{
		logger:    stageLogger(logger, stageFetch),
		baseURL:   baseURL,
		dir:       cacheDir,
		force:     force,
		downloads: make(map[string][]chan error),
	}
}

// fetch ensures the component's raw data is present in the cache and
// returns its local path. Manual sources are never downloaded; they are
// checked for existence and verified only.
func (f *fetcher) fetch(ctx context.Context, c pile.Component) (string, error) {
	dst := c.CachePath(f.dir)

	if c.Source.Manual() {
		if _, err := os.Stat(dst); err != nil {
			return "", fmt.Errorf(
				"component %s requires a manual download at %s: %w",
				c.Name, dst, err,
			)
		}
		if err := f.verifyChecksum(dst, c.Source); err != nil {
			return "", err
		}
		return dst, nil
	}

	if !f.force {
		if _, err := os.Stat(dst); err == nil {
			if err := f.verifyChecksum(dst, c.Source); err != nil {
				return "", err
			}
			f.logger.Debug("component already cached", slog.String("component", c.Name))
			return dst, nil
		}
	}

	if err := f.download(ctx, c, dst); err != nil {
		return "", err
	}
	if err := f.verifyChecksum(dst, c.Source); err != nil {
		return "", err
	}
	return dst, nil
}

func (f *fetcher) download(ctx context.Context, c pile.Component, dst string) error {
	var wait chan error
	f.lock.Lock()
	if _, exists := f.downloads[dst]; !exists {
		f.downloads[dst] = []chan error{} // We're responsible for downloading
	} else {
		wait = make(chan error) // We're waiting for an existing download
		f.downloads[dst] = append(f.downloads[dst], wait)
	}
	f.lock.Unlock()

	if wait != nil {
		return <-wait
	}

	err := f.downloadFile(ctx, c, dst)

	f.lock.Lock()
	waiters := f.downloads[dst]
	delete(f.downloads, dst)
	f.lock.Unlock()
	for _, w := range waiters {
		w <- err
	}

	return err
}

func (f *fetcher) downloadFile(ctx context.Context, c pile.Component, dst string) error {
	start := time.Now()
	url := fmt.Sprintf("%s/%s", f.baseURL, c.Source.Path)
	f.logger.Info(
		"downloading component file",
		slog.String("component", c.Name),
		slog.String("url", url),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request for %s: %w", url, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("fetching %s, got status %d: %s", url, resp.StatusCode, body)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	// Download to a temp name, rename into place once complete, so a
	// cached file is always a whole file.
	tmp := dst + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating cache file: %w", err)
	}

	bar := progressbar.DefaultBytes(resp.ContentLength, "downloading "+c.Name)
	if _, err := io.Copy(io.MultiWriter(out, bar), resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing cache file: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("renaming cache file into place: %w", err)
	}

	f.logger.Info(
		"downloaded component file",
		slog.String("component", c.Name),
		slog.Duration("took", time.Since(start).Round(time.Millisecond)),
	)
	return nil
}

func (f *fetcher) verifyChecksum(path string, src pile.SourceSpec) error {
	if src.Kind == pile.SourceLocalDir {
		return nil
	}
	return pile.VerifySHA256(path, src.SHA256)
}
