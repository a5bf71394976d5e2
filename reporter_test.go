package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openpile/pile/pile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportMergeOther(t *testing.T) {
	r := Report{"a": 1}
	r.MergeOther(Report{"b": 2})
	assert.Equal(t, Report{"a": 1, "b": 2}, r)

	assert.Panics(t, func() { r.MergeOther(Report{"a": 3}) })
}

func TestBuildReporterTotals(t *testing.T) {
	br := newBuildReporter(0)
	br.ReportDocument(pile.Document{Text: "hello", SetName: "ArXiv"}, 100)
	br.ReportDocument(pile.Document{Text: "world!", SetName: "ArXiv"}, 120)
	br.ReportDocument(pile.Document{Text: "hi", SetName: "EuroParl"}, 50)

	totals := br.Totals()
	require.Len(t, totals, 2)
	assert.Equal(t, int64(2), totals["ArXiv"].Docs)
	assert.Equal(t, int64(220), totals["ArXiv"].Bytes)
	assert.Equal(t, int64(1), totals["EuroParl"].Docs)
	assert.Equal(t, int64(50), totals["EuroParl"].Bytes)
}

func TestBuildReporterFinal(t *testing.T) {
	dir := t.TempDir()
	br := newBuildReporter(0)
	doc := pile.Document{Text: strings.Repeat("x", 1000), SetName: "HackerNews"}
	for i := 0; i < 200; i++ {
		br.ReportDocument(doc, 1000)
	}

	report, err := br.Final(dir, Report{"shards": 3})
	require.NoError(t, err)
	assert.Equal(t, int64(200), report["total_documents"])
	assert.Equal(t, int64(200_000), report["total_raw_bytes"])
	assert.Equal(t, 3, report["shards"])

	components, ok := report["components"].(Report)
	require.True(t, ok)
	hn, ok := components["HackerNews"].(Report)
	require.True(t, ok)
	assert.Equal(t, int64(200), hn["documents"])
	// Every document is exactly 1000 bytes of text, so the streaming
	// quantiles should all land there.
	assert.Equal(t, int64(1000), hn["doc_size_p50"])
	assert.Equal(t, int64(1000), hn["doc_size_p99"])

	// And the same report lands on disk.
	data, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	var fromDisk map[string]any
	require.NoError(t, json.Unmarshal(data, &fromDisk))
	assert.EqualValues(t, 200, fromDisk["total_documents"])
}
