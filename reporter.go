package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/openpile/pile/pile"

	"github.com/narqo/psqr"
)

// Report is a JSON-serializable report of a build run.
type Report map[string]any

// MergeOther merges another report into this one.
func (r Report) MergeOther(other Report) {
	for k, v := range other {
		if _, ok := r[k]; ok {
			panic(fmt.Sprintf("duplicate key in report: %s", k))
		}
		r[k] = v
	}
}

// PrintWithDepth prints a report with the given depth.
// Recursively prints sub-reports.
func (r Report) PrintWithDepth(depth int) {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		v := r[k]
		if sub, ok := v.(Report); ok {
			fmt.Printf("%s%s:\n", strings.Repeat("  ", depth), k)
			sub.PrintWithDepth(depth + 1)
		} else {
			fmt.Printf("%s%s: %v\n", strings.Repeat("  ", depth), k, v)
		}
	}
}

// componentTally accumulates per-component counts for a whole build.
type componentTally struct {
	docs  int64
	bytes int64
	// Streaming doc-size quantiles; a build never holds sizes in memory.
	p50, p90, p99 *psqr.Quantile
}

func newComponentTally() *componentTally {
	return &componentTally{
		p50: psqr.NewQuantile(0.5),
		p90: psqr.NewQuantile(0.9),
		p99: psqr.NewQuantile(0.99),
	}
}

// buildReporter tracks build progress: cumulative per-component tallies
// plus a sliding window used for throughput lines.
type buildReporter struct {
	sync.Mutex

	printInterval   time.Duration
	firstReportTime time.Time
	lastReportTime  time.Time

	components map[string]*componentTally

	// Current window
	windowDocs  int64
	windowBytes int64
}

func newBuildReporter(printInterval time.Duration) *buildReporter {
	return &buildReporter{
		printInterval: printInterval,
		components:    make(map[string]*componentTally),
	}
}

// ReportDocument records one written document.
func (br *buildReporter) ReportDocument(doc pile.Document, rawBytes int64) {
	br.Lock()
	defer br.Unlock()

	tally, ok := br.components[doc.SetName]
	if !ok {
		tally = newComponentTally()
		br.components[doc.SetName] = tally
	}
	tally.docs++
	tally.bytes += rawBytes
	size := float64(len(doc.Text))
	tally.p50.Append(size)
	tally.p90.Append(size)
	tally.p99.Append(size)

	br.windowDocs++
	br.windowBytes += rawBytes

	br.maybePrintWindow()
}

// maybePrintWindow prints a throughput line if the print interval has
// elapsed. Requires the lock to be held.
func (br *buildReporter) maybePrintWindow() {
	if br.printInterval <= 0 {
		return
	}
	now := time.Now()
	if br.firstReportTime.IsZero() {
		br.firstReportTime = now
		br.lastReportTime = now
		return
	}
	elapsed := now.Sub(br.lastReportTime)
	if elapsed < br.printInterval {
		return
	}

	var (
		runtime = now.Sub(br.firstReportTime).Round(time.Second)
		docsSec = float64(br.windowDocs) / elapsed.Seconds()
		mibSec  = float64(br.windowBytes) / elapsed.Seconds() / float64(1<<20)
	)
	fmt.Printf(
		"(%s) wrote %d docs in the last %s: %.0f docs/s, %.1f MiB/s\n",
		runtime, br.windowDocs, elapsed.Round(time.Second), docsSec, mibSec,
	)

	br.windowDocs = 0
	br.windowBytes = 0
	br.lastReportTime = now
}

// Final assembles the cumulative report for the whole build and, if
// outputDir is non-empty, writes it to report.json there.
func (br *buildReporter) Final(outputDir string, extra Report) (Report, error) {
	br.Lock()
	defer br.Unlock()

	var (
		totalDocs  int64
		totalBytes int64
		perSet     = make(Report, len(br.components))
	)
	for name, tally := range br.components {
		totalDocs += tally.docs
		totalBytes += tally.bytes
		perSet[name] = Report{
			"documents":         tally.docs,
			"raw_bytes":         tally.bytes,
			"doc_size_p50":      int64(tally.p50.Value()),
			"doc_size_p90":      int64(tally.p90.Value()),
			"doc_size_p99":      int64(tally.p99.Value()),
			"raw_size_readable": pile.FormatBytes(tally.bytes),
		}
	}

	report := Report{
		"total_documents": totalDocs,
		"total_raw_bytes": totalBytes,
		"total_readable":  pile.FormatBytes(totalBytes),
		"components":      perSet,
	}
	if len(extra) > 0 {
		report.MergeOther(extra)
	}

	if outputDir != "" {
		f, err := os.Create(filepath.Join(outputDir, "report.json"))
		if err != nil {
			return nil, fmt.Errorf("creating report.json: %w", err)
		}
		defer f.Close()
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return nil, fmt.Errorf("writing report.json: %w", err)
		}
	}

	return report, nil
}

// Totals reports cumulative document and byte counts per component, for
// the MySQL recorder.
func (br *buildReporter) Totals() map[string]struct{ Docs, Bytes int64 } {
	br.Lock()
	defer br.Unlock()
	totals := make(map[string]struct{ Docs, Bytes int64 }, len(br.components))
	for name, tally := range br.components {
		totals[name] = struct{ Docs, Bytes int64 }{tally.docs, tally.bytes}
	}
	return totals
}
