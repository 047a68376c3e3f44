package types

import (
	"encoding/json"
	"strings"
)

// Source identifies the object a message was derived from.
type Source struct {
	Bucket string `json:"bucket"`
	Object string `json:"object"`
	ETag   string `json:"etag,omitempty"`
}

// Key returns bucket/object.
func (s Source) Key() string {
	return s.Bucket + "/" + s.Object
}

// TextList is a list of strings that also decodes from a single JSON string.
type TextList []string

// UnmarshalJSON accepts either "a" or ["a", "b"].
func (l *TextList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		if one == "" {
			*l = nil
			return nil
		}
		*l = TextList{one}
		return nil
	}

	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// Clean returns the trimmed, non-empty entries or nil.
func (l TextList) Clean() []string {
	var out []string
	for _, s := range l {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// DocMetadata is the bibliographic information extracted from a document.
type DocMetadata struct {
	Title    string   `json:"title,omitempty"`
	Authors  TextList `json:"authors,omitempty"`
	Keywords TextList `json:"keywords,omitempty"`
	Abstract string   `json:"abstract,omitempty"`
	DOI      string   `json:"doi,omitempty"`
}

// TextMessage is published by the pdf reader, one per document.
type TextMessage struct {
	Schema   int         `json:"schema"`
	Source   Source      `json:"source"`
	Metadata DocMetadata `json:"metadata"`
	Text     string      `json:"text"`
}

// Chunk is a span of a document's text. Start and End are character
// offsets, End exclusive.
type Chunk struct {
	Index    int    `json:"index"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	NumChars int    `json:"num_chars"`
	Text     string `json:"text"`
}

// ChunkMessage is published by the chunker, one per chunk.
type ChunkMessage struct {
	Schema   int         `json:"schema"`
	Source   Source      `json:"source"`
	Metadata DocMetadata `json:"metadata"`
	DocID    string      `json:"doc_id"`
	Chunk    Chunk       `json:"chunk"`
}

// Embedding holds the vector computed for a chunk.
type Embedding struct {
	Model  string    `json:"model"`
	Vector []float32 `json:"vector"`
	Dim    int       `json:"dim"`
}

// EmbeddingMessage is published by the embedder, one per chunk.
type EmbeddingMessage struct {
	ChunkMessage
	Embedding Embedding `json:"embedding"`
}

// DeletionReason explains why a document version left the bucket.
type DeletionReason string

const (
	DeletionRemoved  DeletionReason = "removed"
	DeletionReplaced DeletionReason = "replaced"
)

// DeletionMessage asks the indexer to forget a document. When Source.ETag is
// set only that version is removed.
type DeletionMessage struct {
	Schema int            `json:"schema"`
	Source Source         `json:"source"`
	DocID  string         `json:"doc_id,omitempty"`
	Reason DeletionReason `json:"reason"`
}
