package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openpile/pile/pile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		switch r.URL.Path {
		case "/tiny.jsonl":
			time.Sleep(20 * time.Millisecond)
			w.Write([]byte(`{"text": "a doc"}` + "\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func jsonlComponent(name, remotePath string) pile.Component {
	return pile.Component{
		Name:   name,
		Source: pile.SourceSpec{Kind: pile.SourceHTTPJSONL, Path: remotePath},
	}
}

func TestFetcherDownloadsAndCaches(t *testing.T) {
	var hits atomic.Int64
	srv := testServer(t, &hits)
	cacheDir := t.TempDir()
	c := jsonlComponent("Tiny", "tiny.jsonl")

	f := newFetcher(discardLogger(), srv.URL, cacheDir, false)
	path, err := f.fetch(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, c.CachePath(cacheDir), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "a doc")

	// Second fetch is served from cache.
	_, err = f.fetch(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())
}

func TestFetcherForceRefetches(t *testing.T) {
	var hits atomic.Int64
	srv := testServer(t, &hits)
	cacheDir := t.TempDir()
	c := jsonlComponent("Tiny", "tiny.jsonl")

	f := newFetcher(discardLogger(), srv.URL, cacheDir, true)
	_, err := f.fetch(context.Background(), c)
	require.NoError(t, err)
	_, err = f.fetch(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestFetcherNotFound(t *testing.T) {
	srv := testServer(t, nil)
	f := newFetcher(discardLogger(), srv.URL, t.TempDir(), false)

	_, err := f.fetch(context.Background(), jsonlComponent("Gone", "missing.jsonl"))
	assert.ErrorContains(t, err, "status 404")
}

func TestFetcherCoalescesConcurrentDownloads(t *testing.T) {
	var hits atomic.Int64
	srv := testServer(t, &hits)
	cacheDir := t.TempDir()
	c := jsonlComponent("Tiny", "tiny.jsonl")

	f := newFetcher(discardLogger(), srv.URL, cacheDir, true)

	// Start everything before the first download can finish, so the
	// followers attach to the leader's in-flight download.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.fetch(context.Background(), c)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// All eight goroutines raced the same path, so at most a couple of
	// download rounds happened, not one per goroutine.
	assert.Less(t, hits.Load(), int64(8))
}

func TestFetcherChecksumMismatch(t *testing.T) {
	srv := testServer(t, nil)
	c := jsonlComponent("Tiny", "tiny.jsonl")
	c.Source.SHA256 = "deadbeef"

	f := newFetcher(discardLogger(), srv.URL, t.TempDir(), false)
	_, err := f.fetch(context.Background(), c)
	assert.Error(t, err)
}

func TestFetcherManualSourceMissing(t *testing.T) {
	c := pile.Component{
		Name:   "Bibliotik",
		Source: pile.SourceSpec{Kind: pile.SourceLocalTar, Path: "books3.tar.gz"},
	}
	f := newFetcher(discardLogger(), "http://unused.invalid", t.TempDir(), false)
	_, err := f.fetch(context.Background(), c)
	assert.ErrorContains(t, err, "manual download")
}
