package indexer

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/ragflow/ragflow/api/terrors"
	"github.com/ragflow/ragflow/api/types"
	"github.com/ragflow/ragflow/node/broker"
	"github.com/ragflow/ragflow/node/config"
)

func embeddingMessage() *types.EmbeddingMessage {
	return &types.EmbeddingMessage{
		ChunkMessage: types.ChunkMessage{
			Schema: 1,
			Source: types.Source{Bucket: "papers", Object: "a.pdf", ETag: " e1 "},
			Metadata: types.DocMetadata{
				Title:    "  Vectors  ",
				Authors:  types.TextList{" Ada ", "", "Grace"},
				Keywords: types.TextList{"  "},
				DOI:      "",
			},
			DocID: "papers/a",
			Chunk: types.Chunk{Index: 3, Start: 10, End: 20, NumChars: 10, Text: " some text "},
		},
		Embedding: types.Embedding{Model: "mxbai-embed-large", Vector: []float32{1, 2, 3}, Dim: 3},
	}
}

func TestNewRecord(t *testing.T) {
	r, err := NewRecord(embeddingMessage(), 0)
	require.NoError(t, err)

	require.Equal(t, RecordID("papers/a", 3), r.ID)
	require.Equal(t, uuid.Version(5), r.ID.Version())
	require.Equal(t, "papers/a", r.DocID)
	require.Equal(t, "e1", *r.ETag)
	require.Equal(t, "Vectors", *r.Title)
	require.Equal(t, []string{"Ada", "Grace"}, r.Authors)
	require.Nil(t, r.Keywords)
	require.Nil(t, r.DOI)
	require.Equal(t, "some text", r.Text)
	require.Equal(t, 3, r.ChunkIndex)
	require.Equal(t, 10, r.NumChars)
	require.Equal(t, "mxbai-embed-large", *r.EmbeddingModel)
}

func TestNewRecordRejects(t *testing.T) {
	msg := embeddingMessage()
	msg.Embedding.Vector = nil
	_, err := NewRecord(msg, 0)
	require.Equal(t, terrors.MissingVector, terrors.Code(err))

	msg = embeddingMessage()
	msg.Embedding.Dim = 4
	_, err = NewRecord(msg, 0)
	require.Equal(t, terrors.InvalidPayload, terrors.Code(err))

	_, err = NewRecord(embeddingMessage(), 1024)
	require.Equal(t, terrors.InvalidPayload, terrors.Code(err))

	msg = embeddingMessage()
	msg.DocID = ""
	msg.Source = types.Source{}
	_, err = NewRecord(msg, 0)
	require.Equal(t, terrors.InvalidPayload, terrors.Code(err))

	// doc_id falls back to the source
	msg = embeddingMessage()
	msg.DocID = ""
	r, err := NewRecord(msg, 0)
	require.NoError(t, err)
	require.Equal(t, "papers/a", r.DocID)
}

func TestRecordIDStable(t *testing.T) {
	require.Equal(t, RecordID("d", 1), RecordID("d", 1))
	require.NotEqual(t, RecordID("d", 1), RecordID("d", 2))
	require.Equal(t, uuid.NewSHA1(uuid.NameSpaceURL, []byte("d#1")), RecordID("d", 1))
}

func TestSchemaStatements(t *testing.T) {
	stmts := schemaStatements("rag_chunks", 0)
	require.Len(t, stmts, 4)
	require.Contains(t, stmts[0], `CREATE TABLE IF NOT EXISTS "rag_chunks"`)
	require.Contains(t, stmts[0], "embedding vector NOT NULL")
	require.Contains(t, stmts[0], "tsv tsvector GENERATED ALWAYS AS")
	require.Contains(t, stmts[1], `CREATE UNIQUE INDEX IF NOT EXISTS "rag_chunks_doc_chunk_key" ON "rag_chunks" (doc_id, chunk_index)`)

	stmts = schemaStatements("rag_chunks", 1024)
	require.Len(t, stmts, 5)
	require.Contains(t, stmts[0], "embedding vector(1024) NOT NULL")
	require.Contains(t, stmts[4], "USING hnsw (embedding vector_cosine_ops)")
}

func TestUpsertQuery(t *testing.T) {
	r, err := NewRecord(embeddingMessage(), 0)
	require.NoError(t, err)

	query, args, err := upsertQuery("rag_chunks", r)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(query, `INSERT INTO "rag_chunks" (id,doc_id,bucket,object,etag,`), query)
	require.Contains(t, query, "$17")
	require.NotContains(t, query, "$18")
	require.Contains(t, query, "ON CONFLICT (doc_id, chunk_index) DO UPDATE SET bucket = EXCLUDED.bucket")
	require.Contains(t, query, "embedding = EXCLUDED.embedding, indexed_at = now()")
	require.NotContains(t, query, "doc_id = EXCLUDED")
	require.Len(t, args, 17)
	require.Equal(t, "papers/a", args[1])
}

func TestDeleteQuery(t *testing.T) {
	query, args, err := deleteQuery("rag_chunks", &types.DeletionMessage{
		Source: types.Source{Bucket: "papers", Object: "a.pdf", ETag: "e1"},
	})
	require.NoError(t, err)
	require.Equal(t, `DELETE FROM "rag_chunks" WHERE bucket = $1 AND object = $2 AND etag = $3`, query)
	require.Equal(t, []interface{}{"papers", "a.pdf", "e1"}, args)

	query, args, err = deleteQuery("rag_chunks", &types.DeletionMessage{DocID: "papers/a"})
	require.NoError(t, err)
	require.Equal(t, `DELETE FROM "rag_chunks" WHERE doc_id = $1`, query)
	require.Equal(t, []interface{}{"papers/a"}, args)

	_, _, err = deleteQuery("rag_chunks", &types.DeletionMessage{})
	require.Equal(t, terrors.InvalidPayload, terrors.Code(err))
}

func TestSearchQuery(t *testing.T) {
	query, args, err := searchQuery("rag_chunks", []float32{1, 0}, 5, Filter{DocID: "papers/a", Keyword: "rag"})
	require.NoError(t, err)
	require.Contains(t, query, "1 - (embedding <=> $1) AS score")
	require.Contains(t, query, "WHERE doc_id = $2 AND $3 = ANY(keywords)")
	require.Contains(t, query, "ORDER BY embedding <=> $4")
	require.Contains(t, query, "LIMIT 5")
	require.Len(t, args, 4)

	_, _, err = searchQuery("rag_chunks", nil, 5, Filter{})
	require.Error(t, err)
}

func TestTextSearchQuery(t *testing.T) {
	query, args, err := textSearchQuery("rag_chunks", "vector search", 3)
	require.NoError(t, err)
	require.Contains(t, query, "ts_rank(tsv, plainto_tsquery('english', $1)) AS score")
	require.Contains(t, query, "WHERE tsv @@ plainto_tsquery('english', $2)")
	require.Contains(t, query, "ORDER BY score DESC LIMIT 3")
	require.Equal(t, []interface{}{"vector search", "vector search"}, args)

	_, _, err = textSearchQuery("rag_chunks", "  ", 3)
	require.Error(t, err)
}

func TestNewBackend(t *testing.T) {
	cfg := config.DefaultIndexerCfg()

	b, err := New(cfg)
	require.NoError(t, err)
	require.IsType(t, &PGVector{}, b)

	cfg.DryRun = true
	b, err = New(cfg)
	require.NoError(t, err)
	require.IsType(t, &dryRun{}, b)

	cfg.DryRun = false
	cfg.Collection = "bad-name; drop table"
	_, err = New(cfg)
	require.Error(t, err)

	cfg = config.DefaultIndexerCfg()
	cfg.Backend = "weaviate"
	_, err = New(cfg)
	require.ErrorContains(t, err, "unknown index backend")
}

type fakeBackend struct {
	upserted []*Record
	deleted  []*types.DeletionMessage
	err      error
}

func (f *fakeBackend) Connect(context.Context) error     { return nil }
func (f *fakeBackend) EnsureReady(context.Context) error { return nil }
func (f *fakeBackend) Close() error                      { return nil }

func (f *fakeBackend) Upsert(_ context.Context, r *Record) error {
	if f.err != nil {
		return f.err
	}
	f.upserted = append(f.upserted, r)
	return nil
}

func (f *fakeBackend) Delete(_ context.Context, msg *types.DeletionMessage) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.deleted = append(f.deleted, msg)
	return 2, nil
}

func mustJSON(t *testing.T, v interface{}) []byte {
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestIndexHandler(t *testing.T) {
	fb := &fakeBackend{}
	h := NewIndexHandler(fb, 3, nil)
	ctx := context.Background()

	require.Equal(t, broker.Drop, h.Handle(ctx, []byte("{")))

	noVec := embeddingMessage()
	noVec.Embedding.Vector = nil
	require.Equal(t, broker.Drop, h.Handle(ctx, mustJSON(t, noVec)))

	require.Equal(t, broker.Ack, h.Handle(ctx, mustJSON(t, embeddingMessage())))
	require.Len(t, fb.upserted, 1)
	require.Equal(t, "papers/a", fb.upserted[0].DocID)

	fb.err = terrors.New(terrors.DatabaseErr, xerrors.New("connection refused"))
	require.Equal(t, broker.Requeue, h.Handle(ctx, mustJSON(t, embeddingMessage())))
}

func TestIndexHandlerDropsPermanentFailures(t *testing.T) {
	fb := &fakeBackend{}
	h := NewIndexHandler(fb, 1024, nil)
	ctx := context.Background()

	// a 3-wide vector never fits a vector(1024) column
	require.Equal(t, broker.Drop, h.Handle(ctx, mustJSON(t, embeddingMessage())))
	require.Empty(t, fb.upserted)

	h = NewIndexHandler(fb, 0, nil)
	fb.err = dbError(&pq.Error{Code: "22000", Message: "expected 1024 dimensions, not 3"})
	require.Equal(t, broker.Drop, h.Handle(ctx, mustJSON(t, embeddingMessage())))

	fb.err = dbError(&pq.Error{Code: "23502", Message: "null value in column \"text\""})
	require.Equal(t, broker.Drop, h.Handle(ctx, mustJSON(t, embeddingMessage())))

	fb.err = dbError(&pq.Error{Code: "08006", Message: "connection failure"})
	require.Equal(t, broker.Requeue, h.Handle(ctx, mustJSON(t, embeddingMessage())))
}

func TestIsDataError(t *testing.T) {
	require.True(t, isDataError(&pq.Error{Code: "22P02"}))
	require.True(t, isDataError(xerrors.Errorf("exec: %w", &pq.Error{Code: "23505"})))
	require.False(t, isDataError(&pq.Error{Code: "57P01"}))
	require.False(t, isDataError(xerrors.New("connection refused")))
	require.False(t, isDataError(nil))

	require.Equal(t, terrors.InvalidPayload, terrors.Code(dbError(&pq.Error{Code: "22000"})))
	require.Equal(t, terrors.DatabaseErr, terrors.Code(dbError(xerrors.New("timeout"))))
}

func TestDeleteHandler(t *testing.T) {
	fb := &fakeBackend{}
	h := NewDeleteHandler(fb, nil)
	ctx := context.Background()

	require.Equal(t, broker.Drop, h.Handle(ctx, []byte("nope")))

	msg := types.DeletionMessage{Schema: 1, Source: types.Source{Bucket: "papers", Object: "a.pdf"}, Reason: types.DeletionRemoved}
	require.Equal(t, broker.Ack, h.Handle(ctx, mustJSON(t, msg)))
	require.Len(t, fb.deleted, 1)

	fb.err = terrors.Errorf(terrors.InvalidPayload, "deletion names neither source nor doc_id")
	require.Equal(t, broker.Drop, h.Handle(ctx, mustJSON(t, msg)))

	fb.err = xerrors.New("connection reset")
	require.Equal(t, broker.Requeue, h.Handle(ctx, mustJSON(t, msg)))
}
