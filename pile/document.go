package pile

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Document is a single unit of text in the pile, tagged with the component
// it came from. On the wire it is one JSONL line:
//
//	{"text": "...", "meta": {"pile_set_name": "ArXiv"}}
type Document struct {
	Text    string
	SetName string
}

type documentJSON struct {
	Text string       `json:"text"`
	Meta documentMeta `json:"meta"`
}

type documentMeta struct {
	PileSetName string `json:"pile_set_name"`
}

// MarshalJSON renders the document in pile JSONL format.
func (d Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(documentJSON{
		Text: d.Text,
		Meta: documentMeta{PileSetName: d.SetName},
	})
}

// UnmarshalJSON parses a pile JSONL line. Lines without the meta object
// (upstream dumps frequently carry only a "text" field) are accepted and
// leave SetName empty for the reader to fill in.
func (d *Document) UnmarshalJSON(data []byte) error {
	var dj documentJSON
	if err := json.Unmarshal(data, &dj); err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	d.Text = dj.Text
	d.SetName = dj.Meta.PileSetName
	return nil
}

// CleanText normalizes raw component text before it enters a shard:
// null bytes are stripped and carriage returns folded into newlines.
// The text itself is otherwise left alone; the pile preserves whatever
// formatting the upstream corpus had.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}
