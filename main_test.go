package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/openpile/pile/pile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSONL(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docs.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0644))
	return path
}

func TestComponentStreamReopensPastEpochEstimate(t *testing.T) {
	// Two documents on disk but a budget that needs three passes: when the
	// estimated document count overshoots the real corpus, the stream keeps
	// reopening rather than giving up.
	path := writeJSONL(t, `{"text": "one"}`+"\n"+`{"text": "two"}`+"\n")
	cs := &componentStream{
		component: pile.Component{
			Name:   "Tiny",
			Epochs: 1,
			Source: pile.SourceSpec{Kind: pile.SourceHTTPJSONL, Path: "docs.jsonl"},
		},
		path: path,
	}
	defer cs.close()

	var texts []string
	for i := 0; i < 5; i++ {
		doc, err := cs.next(context.Background())
		require.NoError(t, err)
		texts = append(texts, doc.Text)
	}
	assert.Equal(t, []string{"one", "two", "one", "two", "one"}, texts)
	assert.Equal(t, 3, cs.passes)
}

func TestComponentStreamErrorsOnEmptyPass(t *testing.T) {
	path := writeJSONL(t, "")
	cs := &componentStream{
		component: pile.Component{
			Name:   "Empty",
			Epochs: 2,
			Source: pile.SourceSpec{Kind: pile.SourceHTTPJSONL, Path: "docs.jsonl"},
		},
		path: path,
	}

	_, err := cs.next(context.Background())
	assert.ErrorContains(t, err, "produced no documents")
}

func TestSplitNames(t *testing.T) {
	assert.Nil(t, splitNames(""))
	assert.Equal(t, []string{"ArXiv"}, splitNames("ArXiv"))
	assert.Equal(t, []string{"ArXiv", "Enron Emails"}, splitNames("ArXiv, Enron Emails,"))
}
