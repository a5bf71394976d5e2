package main

import (
	"math"
	"slices"

	"github.com/openpile/pile/pile"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// sizeHistogram is a sorted set of document sizes, in bytes.
type sizeHistogram []int

func (s sizeHistogram) avg() float64 {
	var sum int
	for _, size := range s {
		sum += size
	}
	return float64(sum) / float64(len(s))
}

func (s sizeHistogram) min() int {
	return s[0]
}

func (s sizeHistogram) max() int {
	return s[len(s)-1]
}

func (s sizeHistogram) percentile(p float32) int {
	if p < 0 || p > 100 {
		panic("percentile out of range")
	}
	idx := int(float32(len(s)) * p / 100)
	if idx >= len(s) {
		idx = len(s) - 1
	}
	return s[idx]
}

func (s sizeHistogram) sum() int64 {
	var sum int64
	for _, size := range s {
		sum += int64(size)
	}
	return sum
}

// docSizeSigma is the shape parameter of the synthetic document size
// distribution. Real pile components are heavily right-skewed; 1.0 gives
// a similar spread without producing absurd outliers.
const docSizeSigma = 1.0

// generateDocSizesLognormal draws n document sizes from a lognormal
// distribution whose mean is meanBytes, sorted ascending. Deterministic
// for a given seed.
func generateDocSizesLognormal(n int, meanBytes int64, seed uint64) sizeHistogram {
	if n <= 0 {
		return nil
	}

	// E[lognormal] = exp(mu + sigma^2/2), so pick mu to hit the mean.
	ln := distuv.LogNormal{
		Mu:    math.Log(float64(meanBytes)) - docSizeSigma*docSizeSigma/2,
		Sigma: docSizeSigma,
		Src:   rand.NewSource(seed),
	}

	sizes := make(sizeHistogram, n)
	for i := 0; i < n; i++ {
		size := int(ln.Rand())
		if size < 1 {
			size = 1
		}
		sizes[i] = size
	}

	slices.Sort(sizes)

	return sizes
}

// syntheticSizingReport summarizes the document sizes a dry-run build draws
// for a component. Deterministic, so it describes exactly what the build's
// synthetic source emitted.
func syntheticSizingReport(c pile.Component, docs int) Report {
	sizes := generateDocSizesLognormal(docs, c.MeanDocSizeBytes(), seedForComponent(c.Name))
	if len(sizes) == 0 {
		return nil
	}
	return Report{
		"documents":   len(sizes),
		"total_bytes": sizes.sum(),
		"avg_bytes":   int64(sizes.avg()),
		"min_bytes":   sizes.min(),
		"max_bytes":   sizes.max(),
		"p50_bytes":   sizes.percentile(50),
		"p99_bytes":   sizes.percentile(99),
	}
}
