package main

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/openpile/pile/pile"

	"github.com/jszwec/csvutil"
	"github.com/klauspost/compress/zstd"
)

// shardManifestRow is one row of the build's shard manifest CSV.
type shardManifestRow struct {
	Shard            string `csv:"shard"`
	Documents        int64  `csv:"documents"`
	RawBytes         int64  `csv:"raw_bytes"`
	CompressedBytes  int64  `csv:"compressed_bytes"`
	CompressionRatio string `csv:"compression_ratio"`
	TopComponents    string `csv:"top_components"`
}

// manifestTopComponents is how many components each manifest row names.
const manifestTopComponents = 3

// shardWriter writes documents into zstd-compressed JSONL shards,
// rotating to a new shard whenever the current one has accumulated
// maxRawBytes of uncompressed text.
type shardWriter struct {
	dir         string
	maxRawBytes int64

	seq      int
	file     *os.File
	zw       *zstd.Encoder
	enc      *json.Encoder
	rawBytes int64
	docs     int64
	setDocs  map[string]int64

	manifest []shardManifestRow
}

func newShardWriter(dir string, maxRawBytes int64) (*shardWriter, error) {
	if maxRawBytes <= 0 {
		return nil, fmt.Errorf("shard size must be positive, got %d", maxRawBytes)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating shard directory: %w", err)
	}
	sw := &shardWriter{dir: dir, maxRawBytes: maxRawBytes}
	if err := sw.openNext(); err != nil {
		return nil, err
	}
	return sw, nil
}

func (sw *shardWriter) shardName(seq int) string {
	return fmt.Sprintf("pile-%05d.jsonl.zst", seq)
}

func (sw *shardWriter) openNext() error {
	name := sw.shardName(sw.seq)
	f, err := os.Create(filepath.Join(sw.dir, name))
	if err != nil {
		return fmt.Errorf("creating shard %s: %w", name, err)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("creating zstd writer for shard %s: %w", name, err)
	}
	sw.file = f
	sw.zw = zw
	sw.enc = json.NewEncoder(zw)
	sw.rawBytes = 0
	sw.docs = 0
	sw.setDocs = make(map[string]int64)
	return nil
}

// Write appends a document to the current shard, rotating first if the
// shard is full. Reports the number of uncompressed bytes written.
func (sw *shardWriter) Write(doc pile.Document) (int64, error) {
	if sw.rawBytes >= sw.maxRawBytes {
		if err := sw.rotate(); err != nil {
			return 0, err
		}
	}
	if err := sw.enc.Encode(doc); err != nil {
		return 0, fmt.Errorf("encoding document for shard %s: %w", sw.shardName(sw.seq), err)
	}
	// Count the text plus the framing; close enough for rotation purposes
	// without re-serializing.
	n := int64(len(doc.Text)) + int64(len(doc.SetName)) + 64
	sw.rawBytes += n
	sw.docs++
	sw.setDocs[doc.SetName]++
	return n, nil
}

func (sw *shardWriter) rotate() error {
	if err := sw.finishCurrent(); err != nil {
		return err
	}
	sw.seq++
	return sw.openNext()
}

func (sw *shardWriter) finishCurrent() error {
	name := sw.shardName(sw.seq)
	if err := sw.zw.Close(); err != nil {
		return fmt.Errorf("closing zstd writer for shard %s: %w", name, err)
	}
	info, err := sw.file.Stat()
	if err != nil {
		return fmt.Errorf("statting shard %s: %w", name, err)
	}
	if err := sw.file.Close(); err != nil {
		return fmt.Errorf("closing shard %s: %w", name, err)
	}

	ratio := "n/a"
	if info.Size() > 0 {
		ratio = fmt.Sprintf("%.2f", float64(sw.rawBytes)/float64(info.Size()))
	}
	sw.manifest = append(sw.manifest, shardManifestRow{
		Shard:            name,
		Documents:        sw.docs,
		RawBytes:         sw.rawBytes,
		CompressedBytes:  info.Size(),
		CompressionRatio: ratio,
		TopComponents:    formatTopComponents(sw.setDocs, manifestTopComponents),
	})
	return nil
}

// formatTopComponents renders the n largest contributors to a shard as
// "name:docs" entries, largest first.
func formatTopComponents(setDocs map[string]int64, n int) string {
	type setCount struct {
		name string
		docs int64
	}
	counts := make([]setCount, 0, len(setDocs))
	for name, docs := range setDocs {
		counts = append(counts, setCount{name, docs})
	}
	slices.SortFunc(counts, func(a, b setCount) int {
		if a.docs != b.docs {
			return cmp.Compare(b.docs, a.docs)
		}
		return cmp.Compare(a.name, b.name)
	})
	if len(counts) > n {
		counts = counts[:n]
	}

	parts := make([]string, len(counts))
	for i, sc := range counts {
		parts[i] = fmt.Sprintf("%s:%d", sc.name, sc.docs)
	}
	return strings.Join(parts, ", ")
}

// Close finishes the open shard and writes the manifest CSV next to the
// shards. Returns the manifest rows for reporting.
func (sw *shardWriter) Close() ([]shardManifestRow, error) {
	if err := sw.finishCurrent(); err != nil {
		return nil, err
	}

	data, err := csvutil.Marshal(sw.manifest)
	if err != nil {
		return nil, fmt.Errorf("marshaling shard manifest: %w", err)
	}
	manifestPath := filepath.Join(sw.dir, "manifest.csv")
	if err := os.WriteFile(manifestPath, data, 0644); err != nil {
		return nil, fmt.Errorf("writing shard manifest: %w", err)
	}
	return sw.manifest, nil
}

// readShard decodes every document in a shard file, for spot-checking a
// finished build.
func readShard(path string) ([]pile.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening shard %s: %w", path, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader for %s: %w", path, err)
	}
	defer zr.Close()

	var docs []pile.Document
	dec := json.NewDecoder(zr)
	for dec.More() {
		var doc pile.Document
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding document from %s: %w", path, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
