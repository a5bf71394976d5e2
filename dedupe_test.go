package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/openpile/pile/pile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/willf/bitset"
)

// sliceSource yields a fixed slice of documents, for tests.
type sliceSource struct {
	docs []pile.Document
	idx  int
}

func (s *sliceSource) Next(ctx context.Context) (pile.Document, error) {
	if err := ctx.Err(); err != nil {
		return pile.Document{}, err
	}
	if s.idx >= len(s.docs) {
		return pile.Document{}, ErrExhausted
	}
	doc := s.docs[s.idx]
	s.idx++
	return doc, nil
}

func (s *sliceSource) Close() error { return nil }

func textDocs(texts ...string) []pile.Document {
	docs := make([]pile.Document, len(texts))
	for i, text := range texts {
		docs[i] = pile.Document{Text: text, SetName: "CommonCrawl"}
	}
	return docs
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const crawlPage = "breaking news from the harbor town today as the annual regatta " +
	"drew record crowds despite the morning fog and the late arrival of several " +
	"boats from the neighboring county whose crews blamed the tide tables"

func TestDeduperFlagsExactDuplicates(t *testing.T) {
	docs := textDocs(
		crawlPage,
		"a completely different page about gardening tips for dry climates and the vegetables that tolerate them best in sandy soil",
		crawlPage,
		"yet another page this one reviewing a noodle restaurant that opened last month near the station and is already drawing long lunch lines",
	)

	d := newDeduper(discardLogger(), t.TempDir(), 2)
	dups, err := d.run(context.Background(), &sliceSource{docs: docs})
	require.NoError(t, err)

	// The later copy is flagged, the first survives.
	assert.False(t, dups.Test(0))
	assert.False(t, dups.Test(1))
	assert.True(t, dups.Test(2))
	assert.False(t, dups.Test(3))
}

func TestDeduperCommitsCheckpoint(t *testing.T) {
	workDir := t.TempDir()
	docs := textDocs(crawlPage, crawlPage)

	d := newDeduper(discardLogger(), workDir, 1)
	_, err := d.run(context.Background(), &sliceSource{docs: docs})
	require.NoError(t, err)

	// Checkpoint and batch output committed, lock released.
	assert.FileExists(t, filepath.Join(workDir, "checkpoint.gob"))
	assert.FileExists(t, filepath.Join(workDir, "duplicates_0.gob"))
	assert.NoFileExists(t, filepath.Join(workDir, ".transaction_lock"))

	var offset int
	require.NoError(t, readGob(filepath.Join(workDir, "checkpoint.gob"), &offset))
	assert.Equal(t, 1, offset)
}

func TestDeduperRecoversFromStaleLock(t *testing.T) {
	// A run died after taking the lock but before writing anything. The
	// rerun clears the lock and completes the pass.
	workDir := t.TempDir()
	require.NoError(t, touchFile(filepath.Join(workDir, ".transaction_lock")))

	d := newDeduper(discardLogger(), workDir, 1)
	dups, err := d.run(context.Background(), &sliceSource{docs: textDocs(crawlPage, crawlPage)})
	require.NoError(t, err)
	assert.True(t, dups.Test(1))
	assert.NoFileExists(t, filepath.Join(workDir, ".transaction_lock"))
}

func TestDeduperRepairsTornCommit(t *testing.T) {
	// A run died mid-commit: the previous checkpoint was moved to the .old
	// backup, the new one was only written to the temp file, and the lock
	// is still held. The rerun restores the backup, recompares the
	// interrupted batch, and finishes.
	workDir := t.TempDir()
	require.NoError(t, writeGob(filepath.Join(workDir, "checkpoint_old.gob"), 0))
	require.NoError(t, writeGob(filepath.Join(workDir, "checkpoint_temp.gob"), 1))
	require.NoError(t, touchFile(filepath.Join(workDir, ".transaction_lock")))

	d := newDeduper(discardLogger(), workDir, 1)
	dups, err := d.run(context.Background(), &sliceSource{docs: textDocs(crawlPage, crawlPage)})
	require.NoError(t, err)
	assert.True(t, dups.Test(1))

	assert.NoFileExists(t, filepath.Join(workDir, ".transaction_lock"))
	assert.NoFileExists(t, filepath.Join(workDir, "checkpoint_temp.gob"))

	// The recompared batch recommitted a whole checkpoint.
	var offset int
	require.NoError(t, readGob(filepath.Join(workDir, "checkpoint.gob"), &offset))
	assert.Equal(t, 1, offset)
}

func TestDeduperResumesFromCheckpoint(t *testing.T) {
	workDir := t.TempDir()
	docs := textDocs(crawlPage, crawlPage)

	// A prior run committed the one and only batch. The rerun must not
	// recompare it, only collect the committed results.
	require.NoError(t, writeGob(filepath.Join(workDir, "checkpoint.gob"), 1))
	require.NoError(t, writeGob(filepath.Join(workDir, "duplicates_0.gob"), []docPair{{A: 0, B: 1}}))

	d := newDeduper(discardLogger(), workDir, 1)
	dups, err := d.run(context.Background(), &sliceSource{docs: docs})
	require.NoError(t, err)
	assert.True(t, dups.Test(1))
}

func TestCandidatePairsAreSortedAndUnique(t *testing.T) {
	docs := textDocs(crawlPage, crawlPage, crawlPage)

	d := newDeduper(discardLogger(), t.TempDir(), 1)
	signatures, err := d.computeSignatures(context.Background(), &sliceSource{docs: docs})
	require.NoError(t, err)

	pairs := candidatePairs(signatures)
	assert.Equal(t, []docPair{{A: 0, B: 1}, {A: 0, B: 2}, {A: 1, B: 2}}, pairs)
}

func TestDedupedSourceSkipsFlagged(t *testing.T) {
	docs := textDocs("a", "b", "c", "d")
	dups := bitset.New(4)
	dups.Set(1)
	dups.Set(3)

	src := newDedupedSource(&sliceSource{docs: docs}, dups)
	got := drainSource(t, src)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Text)
	assert.Equal(t, "c", got[1].Text)
}

func TestDedupedSourceNilSet(t *testing.T) {
	docs := textDocs("a", "b")
	src := newDedupedSource(&sliceSource{docs: docs}, nil)
	assert.Len(t, drainSource(t, src), 2)
}

func TestGobRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairs.gob")
	want := []docPair{{A: 1, B: 2}, {A: 3, B: 4}}
	require.NoError(t, writeGob(path, want))

	var got []docPair
	require.NoError(t, readGob(path, &got))
	assert.Equal(t, want, got)
}
