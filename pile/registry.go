// Package pile holds the component table for the pile and the document
// model shared by the builder and its tools. The table mirrors the README:
// one row per component with its raw size, weight, epoch count and mean
// document size.
package pile

import (
	"fmt"
	"math"
	"os"
	"slices"
	"strings"
)

// TotalRawSizeGiB is the stated total raw size of the pile. The registry
// must sum to exactly this value; Validate checks it.
const TotalRawSizeGiB = 341.15

// weightSumTolerance bounds the float error accepted when checking that
// component weights sum to 100%.
const weightSumTolerance = 1e-9

// Components returns the full component table, in table order (descending
// raw size). Callers get a fresh slice and may reorder or filter it.
func Components() []Component {
	return slices.Clone(registry)
}

var registry = []Component{
	{
		Name:           "Bibliotik",
		RawSizeGiB:     100.96,
		Epochs:         1,
		MeanDocSizeKiB: 538.36,
		Source: SourceSpec{
			Kind: SourceLocalTar,
			Path: "books3.tar.gz",
		},
	},
	{
		Name:           "ArXiv",
		RawSizeGiB:     56.21,
		Epochs:         2,
		MeanDocSizeKiB: 46.61,
		Source: SourceSpec{
			Kind: SourceHTTPJSONL,
			Path: "arxiv.jsonl.zst",
		},
	},
	{
		Name:           "CommonCrawl",
		RawSizeGiB:     53.02,
		Epochs:         1,
		MeanDocSizeKiB: 4.33,
		Source: SourceSpec{
			Kind: SourceHTTPJSONL,
			Path: "common_crawl.jsonl.zst",
		},
	},
	{
		Name:           "OpenWebText",
		RawSizeGiB:     37.03,
		Epochs:         2,
		MeanDocSizeKiB: 3.85,
		Source: SourceSpec{
			Kind: SourceHTTPJSONL,
			Path: "openwebtext.jsonl.zst",
		},
	},
	{
		Name:           "Wikipedia (en)",
		RawSizeGiB:     17.27,
		Epochs:         3,
		MeanDocSizeKiB: 1.11,
		Source: SourceSpec{
			Kind:       SourceHTTPParquet,
			Path:       "wikipedia_en.parquet",
			TextColumn: "text",
		},
	},
	{
		Name:           "OpenSubtitles",
		RawSizeGiB:     12.98,
		Epochs:         2,
		MeanDocSizeKiB: 30.48,
		Source: SourceSpec{
			Kind: SourceHTTPJSONL,
			Path: "opensubtitles.jsonl.gz",
		},
	},
	{
		Name:           "Literotica",
		RawSizeGiB:     11.60,
		Epochs:         1.5,
		MeanDocSizeKiB: 25.69,
		Source: SourceSpec{
			Kind: SourceHTTPJSONL,
			Path: "literotica.jsonl.gz",
		},
	},
	{
		Name:           "Gutenberg (PG-19)",
		RawSizeGiB:     10.88,
		Epochs:         2.5,
		MeanDocSizeKiB: 398.73,
		Source: SourceSpec{
			Kind: SourceHTTPJSONL,
			Path: "gutenberg_pg19.jsonl.gz",
		},
	},
	{
		Name:           "DM Mathematics",
		RawSizeGiB:     7.75,
		Epochs:         2,
		MeanDocSizeKiB: 8.00,
		Source: SourceSpec{
			Kind: SourceHTTPJSONL,
			Path: "dm_mathematics.jsonl.gz",
		},
	},
	{
		Name:           "BookCorpus",
		RawSizeGiB:     6.30,
		Epochs:         1.5,
		MeanDocSizeKiB: 369.87,
		Source: SourceSpec{
			Kind: SourceHTTPJSONL,
			Path: "bookcorpus.jsonl.gz",
		},
	},
	{
		Name:           "Ubuntu IRC",
		RawSizeGiB:     5.52,
		Epochs:         2,
		MeanDocSizeKiB: 545.48,
		Source: SourceSpec{
			Kind: SourceHTTPJSONL,
			Path: "ubuntu_irc.jsonl.gz",
		},
	},
	{
		Name:           "EuroParl",
		RawSizeGiB:     4.59,
		Epochs:         2,
		MeanDocSizeKiB: 68.87,
		Source: SourceSpec{
			Kind: SourceHTTPJSONL,
			Path: "europarl.jsonl.gz",
		},
	},
	{
		Name:           "CORD-19",
		RawSizeGiB:     4.26,
		Epochs:         2,
		MeanDocSizeKiB: 20.55,
		Source: SourceSpec{
			Kind: SourceLocalDir,
			Path: "document_parses",
		},
	},
	{
		Name:           "HackerNews",
		RawSizeGiB:     3.90,
		Epochs:         2,
		MeanDocSizeKiB: 4.92,
		Source: SourceSpec{
			Kind: SourceHTTPJSONL,
			Path: "hackernews.jsonl.gz",
		},
	},
	{
		Name:           "YoutubeSubtitles",
		RawSizeGiB:     3.73,
		Epochs:         2,
		MeanDocSizeKiB: 22.55,
		Source: SourceSpec{
			Kind: SourceHTTPJSONL,
			Path: "youtube_subtitles.jsonl.gz",
		},
	},
	{
		Name:           "PhilPapers",
		RawSizeGiB:     2.38,
		Epochs:         2,
		MeanDocSizeKiB: 73.37,
		Source: SourceSpec{
			Kind: SourceHTTPJSONL,
			Path: "philpapers.jsonl.gz",
		},
	},
	{
		Name:           "NIH ExPorter",
		RawSizeGiB:     1.89,
		Epochs:         2,
		MeanDocSizeKiB: 2.11,
		Source: SourceSpec{
			Kind: SourceHTTPJSONL,
			Path: "nih_exporter.jsonl.gz",
		},
	},
	{
		Name:           "Enron Emails",
		RawSizeGiB:     0.88,
		Epochs:         2,
		MeanDocSizeKiB: 1.78,
		Source: SourceSpec{
			Kind: SourceHTTPJSONL,
			Path: "enron_emails.jsonl.gz",
		},
	},
}

// Lookup finds a component by name. The match is case-insensitive.
func Lookup(name string) (Component, bool) {
	for _, c := range registry {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Component{}, false
}

// Select filters the component table down to a build's working set.
// If only is non-empty, just those components are kept; otherwise all
// components except the ones in skip. Unknown names are an error, so a
// typo doesn't silently build a different pile.
func Select(only, skip []string) ([]Component, error) {
	for _, name := range append(slices.Clone(only), skip...) {
		if _, ok := Lookup(name); !ok {
			return nil, fmt.Errorf("unknown component %q", name)
		}
	}

	var selected []Component
	for _, c := range registry {
		if len(only) > 0 {
			if containsFold(only, c.Name) {
				selected = append(selected, c)
			}
			continue
		}
		if !containsFold(skip, c.Name) {
			selected = append(selected, c)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("component selection is empty")
	}
	return selected, nil
}

func containsFold(names []string, name string) bool {
	return slices.ContainsFunc(names, func(n string) bool {
		return strings.EqualFold(n, name)
	})
}

// Validate checks the registry's internal consistency: every component is
// well-formed, names are unique, the raw sizes sum to the stated total, and
// the derived weights sum to 100%.
func Validate() error {
	seen := make(map[string]struct{}, len(registry))
	for _, c := range registry {
		if err := c.validate(); err != nil {
			return err
		}
		key := strings.ToLower(c.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate component name %q", c.Name)
		}
		seen[key] = struct{}{}
	}

	var totalGiB float64
	for _, c := range registry {
		totalGiB += c.RawSizeGiB
	}
	// Sizes are table cells with two decimal places; compare at that
	// precision so the check matches what a reader of the table would do.
	if math.Round(totalGiB*100) != math.Round(TotalRawSizeGiB*100) {
		return fmt.Errorf(
			"component sizes sum to %.2f GiB, stated total is %.2f GiB",
			totalGiB, TotalRawSizeGiB,
		)
	}

	var weightSum float64
	for _, c := range registry {
		weightSum += c.WeightPercent(totalGiB)
	}
	if math.Abs(weightSum-100) > weightSumTolerance {
		return fmt.Errorf("component weights sum to %v%%, want 100%%", weightSum)
	}

	return nil
}

// MissingManualDownloads reports the manual-download files that are absent
// from the cache directory, for the given components. A build cannot start
// until the returned list is empty (or the affected components are skipped).
func MissingManualDownloads(cacheDir string, components []Component) []string {
	var missing []string
	for _, c := range components {
		if !c.Source.Manual() {
			continue
		}
		p := c.CachePath(cacheDir)
		if _, err := os.Stat(p); err != nil {
			missing = append(missing, fmt.Sprintf("%s (for %s)", p, c.Name))
		}
	}
	return missing
}
