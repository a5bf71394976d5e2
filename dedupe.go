package main

import (
	"cmp"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"

	"github.com/openpile/pile/pile"
	"github.com/openpile/pile/pkg/minhash"

	"github.com/schollz/progressbar/v3"
	"github.com/willf/bitset"
	"golang.org/x/sync/errgroup"
)

// jaccardThreshold is the estimated similarity above which a candidate
// pair counts as a near duplicate.
const jaccardThreshold = 0.5

// dedupeBatchSize is how many candidate pairs are compared between
// checkpoints.
const dedupeBatchSize = 1000

// lshBands / lshRows band the minhash signature for candidate generation:
// two documents become a candidate pair when any band of their signatures
// matches exactly. 16x8 must multiply out to minhash.NumPerms.
const (
	lshBands = 16
	lshRows  = 8
)

// docPair is a candidate duplicate pair, by document index.
type docPair struct {
	A, B uint
}

// deduper runs the near-duplicate pass over a component's documents.
// All intermediate state lives in workDir so an interrupted pass resumes
// from its last checkpoint rather than starting over.
type deduper struct {
	logger  *slog.Logger
	workDir string
	jobs    int
}

func newDeduper(logger *slog.Logger, workDir string, jobs int) *deduper {
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	return &deduper{
		logger:  stageLogger(logger, stageDedupe),
		workDir: workDir,
		jobs:    jobs,
	}
}

// run signs every document from the source, generates candidate pairs, and
// compares them in checkpointed batches. The returned bitset has a bit set
// for every document index that should be dropped from the build.
func (d *deduper) run(ctx context.Context, src Source[pile.Document]) (*bitset.BitSet, error) {
	if err := os.MkdirAll(d.workDir, 0755); err != nil {
		return nil, fmt.Errorf("creating dedupe work directory: %w", err)
	}

	sigs, err := d.computeSignatures(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("computing signatures: %w", err)
	}
	d.logger.Info("signed documents", slog.Int("count", len(sigs)))

	pairs := candidatePairs(sigs)
	d.logger.Info("generated candidate pairs", slog.Int("count", len(pairs)))

	duplicatePairs, err := d.comparePairs(ctx, sigs, pairs)
	if err != nil {
		return nil, fmt.Errorf("comparing candidate pairs: %w", err)
	}

	// Keep the lower-indexed document of every duplicate pair.
	dups := bitset.New(uint(len(sigs)))
	for _, p := range duplicatePairs {
		hi := p.B
		if p.A > p.B {
			hi = p.A
		}
		dups.Set(hi)
	}
	d.logger.Info(
		"duplicate pass complete",
		slog.Int("pairs", len(duplicatePairs)),
		slog.Uint64("documents flagged", uint64(dups.Count())),
	)
	return dups, nil
}

func (d *deduper) computeSignatures(ctx context.Context, src Source[pile.Document]) ([]minhash.Signature, error) {
	var sigs []minhash.Signature
	bar := progressbar.Default(-1, "signing documents")
	for {
		doc, err := src.Next(ctx)
		if err == ErrExhausted {
			break
		}
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, minhash.Sign(doc.Text))
		bar.Add(1)
	}
	return sigs, nil
}

// candidatePairs buckets signatures by band hash and pairs up documents
// that share a bucket in any band.
func candidatePairs(sigs []minhash.Signature) []docPair {
	seen := make(map[docPair]struct{})
	for band := 0; band < lshBands; band++ {
		buckets := make(map[[lshRows]uint64][]uint, len(sigs))
		for i, sig := range sigs {
			var key [lshRows]uint64
			copy(key[:], sig[band*lshRows:(band+1)*lshRows])
			buckets[key] = append(buckets[key], uint(i))
		}
		for _, members := range buckets {
			for i := 0; i < len(members); i++ {
				for j := i + 1; j < len(members); j++ {
					seen[docPair{A: members[i], B: members[j]}] = struct{}{}
				}
			}
		}
	}

	pairs := make([]docPair, 0, len(seen))
	for p := range seen {
		pairs = append(pairs, p)
	}
	sortPairs(pairs)
	return pairs
}

func sortPairs(pairs []docPair) {
	// Deterministic order so checkpoint offsets stay meaningful across runs.
	slices.SortFunc(pairs, func(a, b docPair) int {
		if a.A != b.A {
			return cmp.Compare(a.A, b.A)
		}
		return cmp.Compare(a.B, b.B)
	})
}

// comparePairs walks the candidate pairs in batches, comparing each pair's
// signatures across a worker pool. After every batch the duplicates found
// so far and the batch offset are committed to disk: the checkpoint is
// written to a temp file and renamed over the previous one (which is kept
// as a .old backup), with a transaction lock file held across the window.
// A rerun resumes from the committed offset.
func (d *deduper) comparePairs(ctx context.Context, sigs []minhash.Signature, pairs []docPair) ([]docPair, error) {
	var (
		checkpointFile     = filepath.Join(d.workDir, "checkpoint.gob")
		checkpointTempFile = filepath.Join(d.workDir, "checkpoint_temp.gob")
		checkpointOldFile  = filepath.Join(d.workDir, "checkpoint_old.gob")
		transactionLock    = filepath.Join(d.workDir, ".transaction_lock")
	)

	// A leftover lock means a previous run died mid-commit. Roll the
	// checkpoint back to the last safe one and resume from there; the
	// interrupted batch just gets recompared.
	if _, err := os.Stat(transactionLock); err == nil {
		d.logger.Info("found a transaction lock from an interrupted run, repairing checkpoint files")
		if _, err := os.Stat(checkpointTempFile); err == nil {
			if _, err := os.Stat(checkpointOldFile); err == nil {
				if err := os.Rename(checkpointOldFile, checkpointFile); err != nil {
					return nil, fmt.Errorf("restoring checkpoint from backup: %w", err)
				}
			}
			if err := os.Remove(checkpointTempFile); err != nil {
				return nil, fmt.Errorf("removing torn checkpoint: %w", err)
			}
		}
		if err := os.Remove(transactionLock); err != nil {
			return nil, fmt.Errorf("removing transaction lock: %w", err)
		}
	}

	startOffset, err := loadCheckpoint(checkpointFile)
	if err != nil {
		return nil, err
	}
	if startOffset > 0 {
		d.logger.Info("resuming from checkpoint", slog.Int("offset", startOffset))
	}

	bar := progressbar.Default(int64(len(pairs)), "comparing pairs")
	bar.Add(startOffset)

	for offset := startOffset; offset < len(pairs); offset += dedupeBatchSize {
		end := offset + dedupeBatchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		batch := pairs[offset:end]

		var (
			mu         sync.Mutex
			duplicates []docPair
			eg, egCtx  = errgroup.WithContext(ctx)
		)
		eg.SetLimit(d.jobs)
		for _, p := range batch {
			eg.Go(func() error {
				if err := egCtx.Err(); err != nil {
					return err
				}
				if minhash.Jaccard(sigs[p.A], sigs[p.B]) > jaccardThreshold {
					mu.Lock()
					duplicates = append(duplicates, p)
					mu.Unlock()
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
		sortPairs(duplicates)

		// Commence transaction.
		if err := touchFile(transactionLock); err != nil {
			return nil, fmt.Errorf("creating transaction lock: %w", err)
		}

		if err := writeGob(filepath.Join(d.workDir, fmt.Sprintf("duplicates_%d.gob", offset)), duplicates); err != nil {
			return nil, fmt.Errorf("writing duplicates batch: %w", err)
		}
		if err := writeGob(checkpointTempFile, end); err != nil {
			return nil, fmt.Errorf("writing checkpoint: %w", err)
		}
		if _, err := os.Stat(checkpointFile); err == nil {
			if err := os.Rename(checkpointFile, checkpointOldFile); err != nil {
				return nil, fmt.Errorf("backing up checkpoint: %w", err)
			}
		}
		if err := os.Rename(checkpointTempFile, checkpointFile); err != nil {
			return nil, fmt.Errorf("committing checkpoint: %w", err)
		}

		// Transaction finished.
		if err := os.Remove(transactionLock); err != nil {
			return nil, fmt.Errorf("removing transaction lock: %w", err)
		}

		bar.Add(len(batch))
	}

	return d.collectDuplicates(len(pairs))
}

// collectDuplicates merges every committed duplicates batch file.
func (d *deduper) collectDuplicates(pairCount int) ([]docPair, error) {
	var all []docPair
	for offset := 0; offset < pairCount; offset += dedupeBatchSize {
		path := filepath.Join(d.workDir, fmt.Sprintf("duplicates_%d.gob", offset))
		var batch []docPair
		if err := readGob(path, &batch); err != nil {
			return nil, fmt.Errorf("reading duplicates batch %s: %w", path, err)
		}
		all = append(all, batch...)
	}
	return all, nil
}

func loadCheckpoint(path string) (int, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, nil
	}
	var offset int
	if err := readGob(path, &offset); err != nil {
		return 0, fmt.Errorf("reading checkpoint %s: %w", path, err)
	}
	return offset, nil
}

func writeGob(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readGob(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewDecoder(f).Decode(v)
}

func touchFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	return f.Close()
}

// dedupedSource wraps a source and drops the documents whose indices are
// flagged in the duplicate set.
type dedupedSource struct {
	inner Source[pile.Document]
	dups  *bitset.BitSet
	idx   uint
}

func newDedupedSource(inner Source[pile.Document], dups *bitset.BitSet) *dedupedSource {
	return &dedupedSource{inner: inner, dups: dups}
}

func (ds *dedupedSource) Next(ctx context.Context) (pile.Document, error) {
	for {
		doc, err := ds.inner.Next(ctx)
		if err != nil {
			return pile.Document{}, err
		}
		idx := ds.idx
		ds.idx++
		if ds.dups != nil && ds.dups.Test(idx) {
			continue
		}
		return doc, nil
	}
}

func (ds *dedupedSource) Close() error {
	return ds.inner.Close()
}
