package main

import (
	"testing"

	"github.com/openpile/pile/pile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeHistogramStats(t *testing.T) {
	h := sizeHistogram{1, 2, 3, 4, 10}

	assert.Equal(t, 1, h.min())
	assert.Equal(t, 10, h.max())
	assert.Equal(t, int64(20), h.sum())
	assert.InDelta(t, 4.0, h.avg(), 1e-9)

	assert.Equal(t, 1, h.percentile(0))
	assert.Equal(t, 3, h.percentile(50))
	assert.Equal(t, 10, h.percentile(100))

	assert.Panics(t, func() { h.percentile(101) })
}

func TestGenerateDocSizesLognormal(t *testing.T) {
	const (
		n    = 20_000
		mean = 4096
	)
	sizes := generateDocSizesLognormal(n, mean, 42)
	require.Len(t, sizes, n)

	// Sorted ascending, and every size is at least a byte.
	assert.True(t, sizes.min() >= 1)
	for i := 1; i < len(sizes); i++ {
		require.LessOrEqual(t, sizes[i-1], sizes[i])
	}

	// The sample mean should land near the requested mean. The
	// distribution is skewed so leave generous slack.
	assert.InDelta(t, float64(mean), sizes.avg(), float64(mean)/2)

	// Right-skewed: the p99 tail is far above the median.
	assert.Greater(t, sizes.percentile(99), 4*sizes.percentile(50))
}

func TestGenerateDocSizesDeterministic(t *testing.T) {
	a := generateDocSizesLognormal(1000, 8192, 7)
	b := generateDocSizesLognormal(1000, 8192, 7)
	assert.Equal(t, a, b)

	c := generateDocSizesLognormal(1000, 8192, 8)
	assert.NotEqual(t, a, c)
}

func TestGenerateDocSizesEmpty(t *testing.T) {
	assert.Nil(t, generateDocSizesLognormal(0, 4096, 1))
	assert.Nil(t, generateDocSizesLognormal(-5, 4096, 1))
}

func TestSyntheticSizingReport(t *testing.T) {
	c, ok := pile.Lookup("ArXiv")
	require.True(t, ok)

	report := syntheticSizingReport(c, 1000)
	assert.Equal(t, 1000, report["documents"])

	mean := float64(c.MeanDocSizeBytes())
	assert.InDelta(t, mean, float64(report["avg_bytes"].(int64)), mean/2)

	// Ordered quantiles.
	assert.LessOrEqual(t, report["min_bytes"].(int), report["p50_bytes"].(int))
	assert.LessOrEqual(t, report["p50_bytes"].(int), report["p99_bytes"].(int))
	assert.LessOrEqual(t, report["p99_bytes"].(int), report["max_bytes"].(int))

	assert.Nil(t, syntheticSizingReport(c, 0))
}
