package pile

import (
	"fmt"
	"path/filepath"
)

// SourceKind describes how a component's raw data is obtained.
type SourceKind int

const (
	// SourceHTTPJSONL is a JSONL file (optionally gzip or zstd compressed)
	// fetched from the component mirror.
	SourceHTTPJSONL SourceKind = iota

	// SourceHTTPParquet is a set of parquet files fetched from the component
	// mirror, with documents read out of a named text column.
	SourceHTTPParquet

	// SourceLocalTar is a tarball that must be placed in the cache directory
	// by hand before a build (e.g. books3.tar.gz). We never download these.
	SourceLocalTar

	// SourceLocalDir is a directory of JSON files that must be placed in the
	// cache directory by hand before a build (e.g. CORD-19 document_parses).
	SourceLocalDir

	// SourceSynthetic generates documents locally. Used by -dry-run and tests.
	SourceSynthetic
)

// SourceSpec tells the builder where a component's raw data lives and how
// to turn it into a stream of documents.
type SourceSpec struct {
	Kind SourceKind

	// Path is interpreted relative to the mirror base URL for HTTP kinds,
	// and relative to the cache directory for local kinds.
	Path string

	// SHA256 is the expected checksum of the downloaded (or hand-placed)
	// file. Empty means no verification.
	SHA256 string

	// TextColumn is the parquet column documents are read from.
	// Only meaningful for SourceHTTPParquet.
	TextColumn string
}

// Manual reports whether the source requires a hand-placed download,
// i.e. whether the builder refuses to fetch it itself.
func (s SourceSpec) Manual() bool {
	return s.Kind == SourceLocalTar || s.Kind == SourceLocalDir
}

// Component is a single corpus in the pile: one row of the README table,
// plus enough source information to actually produce its documents.
type Component struct {
	// Name identifies the component, e.g. "Bibliotik" or "ArXiv".
	Name string

	// RawSizeGiB is the size of the component's raw text, in GiB.
	// This is the "Raw Size" column of the table.
	RawSizeGiB float64

	// Epochs is how many passes over the component the pile includes after
	// the fixed token budget is set. Fractional epochs mean a partial final
	// pass. This is the "Epochs" column of the table.
	Epochs float64

	// MeanDocSizeKiB is the average size of a single document, in KiB.
	// This is the "Mean Document Size" column of the table.
	MeanDocSizeKiB float64

	// Source describes where the raw data comes from.
	Source SourceSpec
}

// WeightPercent reports the component's proportional contribution to a pile
// with the given total raw size, as a percentage. This is the "Weight"
// column of the table: weight is by raw size, epochs are not factored in.
func (c Component) WeightPercent(totalGiB float64) float64 {
	return c.RawSizeGiB / totalGiB * 100
}

// EffectiveSizeGiB is the component's raw size scaled by its epoch count,
// i.e. the amount of text the component contributes to a full build.
// The mixture sampler weights components by effective size.
func (c Component) EffectiveSizeGiB() float64 {
	return c.RawSizeGiB * c.Epochs
}

// MeanDocSizeBytes is the mean document size in bytes.
func (c Component) MeanDocSizeBytes() int64 {
	return int64(c.MeanDocSizeKiB * 1024)
}

// EstimatedDocs estimates how many distinct documents the component holds,
// from its raw size and mean document size.
func (c Component) EstimatedDocs() int64 {
	if c.MeanDocSizeKiB <= 0 {
		return 0
	}
	return int64(c.RawSizeGiB * float64(1<<30) / (c.MeanDocSizeKiB * 1024))
}

// CachePath reports where the component's raw data lives under a cache
// directory. For manual sources this is where the operator must place the
// file; for HTTP sources it is where the fetcher writes it.
func (c Component) CachePath(cacheDir string) string {
	return filepath.Join(cacheDir, "pile", filepath.FromSlash(c.Source.Path))
}

func (c Component) validate() error {
	if c.Name == "" {
		return fmt.Errorf("component has no name")
	}
	if c.RawSizeGiB <= 0 {
		return fmt.Errorf("component %s: non-positive raw size %f", c.Name, c.RawSizeGiB)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("component %s: non-positive epochs %f", c.Name, c.Epochs)
	}
	if c.MeanDocSizeKiB <= 0 {
		return fmt.Errorf("component %s: non-positive mean document size %f", c.Name, c.MeanDocSizeKiB)
	}
	if c.Source.Kind != SourceSynthetic && c.Source.Path == "" {
		return fmt.Errorf("component %s: source has no path", c.Name)
	}
	return nil
}
