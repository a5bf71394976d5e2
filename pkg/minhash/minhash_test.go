package minhash

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const loremA = `the quick brown fox jumps over the lazy dog while the
cat watches from the window sill and the birds sing in the garden below
as morning light spreads across the quiet street`

func TestIdenticalDocumentsMatch(t *testing.T) {
	a := Sign(loremA)
	b := Sign(loremA)
	assert.Equal(t, 1.0, Jaccard(a, b))
}

func TestSigningIsDeterministic(t *testing.T) {
	assert.Equal(t, Sign(loremA), Sign(loremA))
}

func TestDisjointDocumentsDontMatch(t *testing.T) {
	b := `entirely different material about compilers and register
allocation with spilling heuristics and liveness ranges that shares no
five word shingle with the other document at all whatsoever`

	sim := Jaccard(Sign(loremA), Sign(b))
	assert.Less(t, sim, 0.2)
}

func TestNearDuplicatesScoreHigh(t *testing.T) {
	// Same text with a couple of words swapped near the end.
	b := strings.Replace(loremA, "quiet street", "silent road", 1)

	sim := Jaccard(Sign(loremA), Sign(b))
	assert.Greater(t, sim, 0.5)
}

func TestShortDocuments(t *testing.T) {
	// Fewer words than a shingle still produces a usable signature.
	assert.Equal(t, 1.0, Jaccard(Sign("tiny doc"), Sign("tiny doc")))
	assert.Less(t, Jaccard(Sign("tiny doc"), Sign("other words")), 0.1)

	// Empty text signs to the empty signature and only matches itself.
	assert.Equal(t, 1.0, Jaccard(Sign(""), Sign("")))
}

func TestCaseInsensitive(t *testing.T) {
	assert.Equal(t, 1.0, Jaccard(Sign(loremA), Sign(strings.ToUpper(loremA))))
}
