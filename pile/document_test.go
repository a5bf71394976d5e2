package pile

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentJSONShape(t *testing.T) {
	doc := Document{Text: "hello world", SetName: "ArXiv"}

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(
		t,
		`{"text": "hello world", "meta": {"pile_set_name": "ArXiv"}}`,
		string(data),
	)

	var decoded Document
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, doc, decoded)
}

func TestDocumentDecodeWithoutMeta(t *testing.T) {
	// Upstream dumps frequently carry only a text field.
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(`{"text": "bare"}`), &doc))
	assert.Equal(t, "bare", doc.Text)
	assert.Empty(t, doc.SetName)
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "ab", CleanText("a\x00b"))
	assert.Equal(t, "a\nb", CleanText("a\r\nb"))
	assert.Equal(t, "a\nb", CleanText("a\rb"))
	assert.Equal(t, "tabs\tstay", CleanText("tabs\tstay"))
}
