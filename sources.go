package main

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/openpile/pile/pile"

	"github.com/klauspost/compress/zstd"
	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/reader"
	"golang.org/x/exp/rand"
)

// ErrExhausted is returned by a Source once it has produced every document
// it holds. A caller that wants another epoch reopens the source.
var ErrExhausted = errors.New("source exhausted")

// Source is an interface for a data source that can generate T values.
type Source[T any] interface {
	Next(context.Context) (T, error)
	Close() error
}

// openSource opens a document stream for a component whose raw data is at
// the given local path. Each call starts a fresh pass over the component.
func openSource(c pile.Component, path string, syntheticDocs int) (Source[pile.Document], error) {
	switch c.Source.Kind {
	case pile.SourceHTTPJSONL:
		return openJSONLSource(c.Name, path)
	case pile.SourceHTTPParquet:
		return openParquetSource(c.Name, path, c.Source.TextColumn)
	case pile.SourceLocalTar:
		return openTarSource(c.Name, path)
	case pile.SourceLocalDir:
		return openDirSource(c.Name, path)
	case pile.SourceSynthetic:
		return newSyntheticSource(c, syntheticDocs), nil
	default:
		return nil, fmt.Errorf("component %s: unknown source kind %d", c.Name, c.Source.Kind)
	}
}

// jsonlSource streams documents out of a JSONL file, transparently
// decompressing .gz and .zst.
type jsonlSource struct {
	setName string
	file    *os.File
	closers []io.Closer
	scanner *bufio.Scanner
}

// jsonlScanBuffer is the scanner's maximum token size. Book-length
// documents (Bibliotik, Gutenberg) run to a few MiB of text per line.
const jsonlScanBuffer = 64 << 20

func openJSONLSource(setName, path string) (*jsonlSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	src := &jsonlSource{setName: setName, file: f}

	var r io.Reader = f
	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("creating gzip reader for %s: %w", path, err)
		}
		src.closers = append(src.closers, gz)
		r = gz
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("creating zstd reader for %s: %w", path, err)
		}
		src.closers = append(src.closers, zr.IOReadCloser())
		r = zr
	}

	src.scanner = bufio.NewScanner(r)
	src.scanner.Buffer(make([]byte, 1<<20), jsonlScanBuffer)
	return src, nil
}

func (js *jsonlSource) Next(ctx context.Context) (pile.Document, error) {
	if err := ctx.Err(); err != nil {
		return pile.Document{}, err
	}
	for js.scanner.Scan() {
		line := js.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var doc pile.Document
		if err := json.Unmarshal(line, &doc); err != nil {
			return pile.Document{}, fmt.Errorf("decoding document from %s: %w", js.setName, err)
		}
		doc.Text = pile.CleanText(doc.Text)
		doc.SetName = js.setName
		return doc, nil
	}
	if err := js.scanner.Err(); err != nil {
		return pile.Document{}, fmt.Errorf("scanning %s: %w", js.setName, err)
	}
	return pile.Document{}, ErrExhausted
}

func (js *jsonlSource) Close() error {
	for _, c := range js.closers {
		c.Close()
	}
	return js.file.Close()
}

// parquetSource reads documents out of a parquet file's text column.
// The whole file is read into memory, as parquet column reads need seeking.
type parquetSource struct {
	setName string
	texts   []string
	nextIdx int
}

func openParquetSource(setName, path, textColumn string) (*parquetSource, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	bf := buffer.NewBufferFileFromBytesNoAlloc(contents)
	pr, err := reader.NewParquetColumnReader(bf, 1)
	if err != nil {
		return nil, fmt.Errorf("creating parquet reader for %s: %w", path, err)
	}
	defer pr.ReadStop()

	n := pr.GetNumRows()
	values, _, _, err := pr.ReadColumnByPath(
		fmt.Sprintf("parquet_go_root\x01%s", textColumn),
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("reading column %q from %s: %w", textColumn, path, err)
	}

	texts := make([]string, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("column %q in %s is not a string column", textColumn, path)
		}
		texts = append(texts, s)
	}

	return &parquetSource{setName: setName, texts: texts}, nil
}

func (ps *parquetSource) Next(ctx context.Context) (pile.Document, error) {
	if err := ctx.Err(); err != nil {
		return pile.Document{}, err
	}
	if ps.nextIdx >= len(ps.texts) {
		return pile.Document{}, ErrExhausted
	}
	doc := pile.Document{
		Text:    pile.CleanText(ps.texts[ps.nextIdx]),
		SetName: ps.setName,
	}
	ps.nextIdx++
	return doc, nil
}

func (ps *parquetSource) Close() error {
	ps.texts = nil
	return nil
}

// tarSource streams text files out of a (gzipped) tarball, one document
// per regular file. This is how the hand-placed books3.tar.gz is read.
type tarSource struct {
	setName string
	file    *os.File
	gz      *gzip.Reader
	tr      *tar.Reader
}

func openTarSource(setName, path string) (*tarSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	src := &tarSource{setName: setName, file: f}

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") || strings.HasSuffix(path, ".tgz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("creating gzip reader for %s: %w", path, err)
		}
		src.gz = gz
		r = gz
	}
	src.tr = tar.NewReader(r)
	return src, nil
}

func (ts *tarSource) Next(ctx context.Context) (pile.Document, error) {
	for {
		if err := ctx.Err(); err != nil {
			return pile.Document{}, err
		}
		hdr, err := ts.tr.Next()
		if err == io.EOF {
			return pile.Document{}, ErrExhausted
		}
		if err != nil {
			return pile.Document{}, fmt.Errorf("reading tar entry from %s: %w", ts.setName, err)
		}
		if hdr.Typeflag != tar.TypeReg || !strings.HasSuffix(hdr.Name, ".txt") {
			continue
		}
		text, err := io.ReadAll(ts.tr)
		if err != nil {
			return pile.Document{}, fmt.Errorf("reading tar file %s: %w", hdr.Name, err)
		}
		return pile.Document{
			Text:    pile.CleanText(string(text)),
			SetName: ts.setName,
		}, nil
	}
}

func (ts *tarSource) Close() error {
	if ts.gz != nil {
		ts.gz.Close()
	}
	return ts.file.Close()
}

// dirSource walks a directory of JSON article files, one document per file.
// This is how the hand-placed CORD-19 document_parses directory is read.
type dirSource struct {
	setName string
	files   []string
	nextIdx int
}

func openDirSource(setName, dir string) (*dirSource, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no JSON files under %s", dir)
	}
	return &dirSource{setName: setName, files: files}, nil
}

// articleJSON is the slice of a CORD-19 document parse we care about:
// the title plus the running text of the abstract and body.
type articleJSON struct {
	Metadata struct {
		Title string `json:"title"`
	} `json:"metadata"`
	Abstract []struct {
		Text string `json:"text"`
	} `json:"abstract"`
	BodyText []struct {
		Text string `json:"text"`
	} `json:"body_text"`
}

func (ds *dirSource) Next(ctx context.Context) (pile.Document, error) {
	for {
		if err := ctx.Err(); err != nil {
			return pile.Document{}, err
		}
		if ds.nextIdx >= len(ds.files) {
			return pile.Document{}, ErrExhausted
		}
		path := ds.files[ds.nextIdx]
		ds.nextIdx++

		contents, err := os.ReadFile(path)
		if err != nil {
			return pile.Document{}, fmt.Errorf("reading %s: %w", path, err)
		}
		var article articleJSON
		if err := json.Unmarshal(contents, &article); err != nil {
			return pile.Document{}, fmt.Errorf("decoding article %s: %w", path, err)
		}

		var parts []string
		if article.Metadata.Title != "" {
			parts = append(parts, article.Metadata.Title)
		}
		for _, p := range article.Abstract {
			parts = append(parts, p.Text)
		}
		for _, p := range article.BodyText {
			parts = append(parts, p.Text)
		}
		text := strings.TrimSpace(strings.Join(parts, "\n\n"))
		if text == "" {
			continue // some parses carry no text at all
		}
		return pile.Document{
			Text:    pile.CleanText(text),
			SetName: ds.setName,
		}, nil
	}
}

func (ds *dirSource) Close() error {
	ds.files = nil
	return nil
}

// syntheticSource generates lorem-free synthetic documents whose sizes
// follow a lognormal distribution centered on the component's mean document
// size. Deterministic for a given component, so -dry-run builds are
// reproducible.
type syntheticSource struct {
	setName string
	rng     *rand.Rand
	sizes   []int
	nextIdx int
}

func newSyntheticSource(c pile.Component, docs int) *syntheticSource {
	seed := seedForComponent(c.Name)
	return &syntheticSource{
		setName: c.Name,
		rng:     rand.New(rand.NewSource(seed)),
		sizes:   generateDocSizesLognormal(docs, c.MeanDocSizeBytes(), seed),
	}
}

// seedForComponent derives a stable per-component seed from its name.
func seedForComponent(name string) uint64 {
	var seed uint64
	for _, r := range name {
		seed = seed*31 + uint64(r)
	}
	return seed
}

const syntheticAlphabet = "abcdefghijklmnopqrstuvwxyz      "

func (ss *syntheticSource) Next(ctx context.Context) (pile.Document, error) {
	if err := ctx.Err(); err != nil {
		return pile.Document{}, err
	}
	if ss.nextIdx >= len(ss.sizes) {
		return pile.Document{}, ErrExhausted
	}
	size := ss.sizes[ss.nextIdx]
	ss.nextIdx++

	text := make([]byte, size)
	for i := range text {
		text[i] = syntheticAlphabet[ss.rng.Intn(len(syntheticAlphabet))]
	}
	return pile.Document{Text: string(text), SetName: ss.setName}, nil
}

func (ss *syntheticSource) Close() error {
	return nil
}
