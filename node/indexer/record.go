package indexer

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ragflow/ragflow/api/terrors"
	"github.com/ragflow/ragflow/api/types"
)

// Record is one row of the collection table. Nil pointers and slices are
// stored as NULL.
type Record struct {
	ID            uuid.UUID
	DocID         string
	Bucket        *string
	Object        *string
	ETag          *string
	SchemaVersion int

	Title    *string
	Authors  []string
	Keywords []string
	DOI      *string

	ChunkIndex int
	CharStart  int
	CharEnd    int
	NumChars   int
	Text       string

	EmbeddingModel *string
	Embedding      []float32
}

// RecordID is the stable row id of a chunk: a name-based UUID of
// "doc_id#index" so re-indexing a chunk overwrites the same row.
func RecordID(docID string, index int) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s#%d", docID, index)))
}

// NewRecord maps an EmbeddingMessage to a Record. A dim > 0 is the width of
// the collection's vector column; vectors of any other length are rejected.
func NewRecord(msg *types.EmbeddingMessage, dim int) (*Record, error) {
	if len(msg.Embedding.Vector) == 0 {
		return nil, terrors.New(terrors.MissingVector, nil)
	}
	if dim > 0 && len(msg.Embedding.Vector) != dim {
		return nil, terrors.Errorf(terrors.InvalidPayload, "vector length %d does not match collection dim %d",
			len(msg.Embedding.Vector), dim)
	}
	if msg.Embedding.Dim != 0 && msg.Embedding.Dim != len(msg.Embedding.Vector) {
		return nil, terrors.Errorf(terrors.InvalidPayload, "dim %d does not match vector length %d",
			msg.Embedding.Dim, len(msg.Embedding.Vector))
	}

	docID := strings.TrimSpace(msg.DocID)
	if docID == "" && msg.Source.Object != "" {
		docID = types.DocID(msg.Source, "")
	}
	if docID == "" {
		return nil, terrors.Errorf(terrors.InvalidPayload, "message has neither doc_id nor source object")
	}

	schema := msg.Schema
	if schema == 0 {
		schema = 1
	}

	return &Record{
		ID:            RecordID(docID, msg.Chunk.Index),
		DocID:         docID,
		Bucket:        cleanText(msg.Source.Bucket),
		Object:        cleanText(msg.Source.Object),
		ETag:          cleanText(msg.Source.ETag),
		SchemaVersion: schema,

		Title:    cleanText(msg.Metadata.Title),
		Authors:  msg.Metadata.Authors.Clean(),
		Keywords: msg.Metadata.Keywords.Clean(),
		DOI:      cleanText(msg.Metadata.DOI),

		ChunkIndex: msg.Chunk.Index,
		CharStart:  msg.Chunk.Start,
		CharEnd:    msg.Chunk.End,
		NumChars:   msg.Chunk.NumChars,
		Text:       strings.TrimSpace(msg.Chunk.Text),

		EmbeddingModel: cleanText(msg.Embedding.Model),
		Embedding:      msg.Embedding.Vector,
	}, nil
}

func cleanText(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
