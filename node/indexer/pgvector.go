package indexer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/xerrors"

	"github.com/ragflow/ragflow/api/terrors"
	"github.com/ragflow/ragflow/api/types"
	"github.com/ragflow/ragflow/node/sqldb"
)

const (
	upsertAttempts = 3
	upsertDelay    = 300 * time.Millisecond

	textSearchConfig = "english"
)

var (
	identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

	psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

	recordColumns = []string{
		"id", "doc_id", "bucket", "object", "etag", "schema_version",
		"title", "authors", "keywords", "doi",
		"chunk_index", "char_start", "char_end", "num_chars", "text",
		"embedding_model", "embedding",
	}

	hitColumns = []string{"id::text AS id", "doc_id", "object", "title", "chunk_index", "text"}
)

// PGVector is the Postgres/pgvector backend.
type PGVector struct {
	dsn    string
	table  string
	dim    int
	create bool

	db *sqlx.DB
}

// NewPGVector validates the collection name and returns an unconnected
// backend. dim 0 leaves the vector column untyped.
func NewPGVector(dsn, collection string, dim int, createIfMissing bool) (*PGVector, error) {
	if !identRe.MatchString(collection) {
		return nil, xerrors.Errorf("invalid collection name %q", collection)
	}
	if dim < 0 {
		return nil, xerrors.Errorf("invalid embedding dimension %d", dim)
	}
	return &PGVector{dsn: dsn, table: collection, dim: dim, create: createIfMissing}, nil
}

// Connect opens the connection pool.
func (p *PGVector) Connect(ctx context.Context) error {
	db, err := sqldb.NewDB(ctx, p.dsn)
	if err != nil {
		return terrors.New(terrors.DatabaseErr, xerrors.Errorf("connect postgres: %w", err))
	}
	p.db = db
	log.Infof("connected to postgres, collection %s", p.table)
	return nil
}

// EnsureReady enables the vector extension and creates the table and its
// indexes, or checks that the table exists when creation is disabled.
func (p *PGVector) EnsureReady(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return xerrors.Errorf("vector extension unavailable, point POSTGRES_HOST at a pgvector-enabled server: %w", err)
	}

	var exists bool
	if err := p.db.GetContext(ctx, &exists, "SELECT to_regclass($1) IS NOT NULL", p.table); err != nil {
		return xerrors.Errorf("look up collection %s: %w", p.table, err)
	}
	if !exists && !p.create {
		return xerrors.Errorf("collection %s does not exist and CREATE_COLLECTION_IF_MISSING is off", p.table)
	}
	if !exists {
		log.Infof("creating collection %s (dim %d)", p.table, p.dim)
	}

	for _, stmt := range schemaStatements(p.table, p.dim) {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return xerrors.Errorf("prepare collection %s: %w", p.table, err)
		}
	}
	return nil
}

// Upsert writes r, replacing the row for the same doc_id and chunk_index.
func (p *PGVector) Upsert(ctx context.Context, r *Record) error {
	query, args, err := upsertQuery(p.table, r)
	if err != nil {
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = upsertDelay
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0

	err = backoff.RetryNotify(func() error {
		_, err := p.db.ExecContext(ctx, query, args...)
		if isDataError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, upsertAttempts-1), ctx), func(err error, d time.Duration) {
		log.Warnf("upsert %s#%d failed (%s), retrying in %s", r.DocID, r.ChunkIndex, err.Error(), d)
	})
	if err != nil {
		return dbError(err)
	}
	return nil
}

// Delete removes the rows of the document named by msg.
func (p *PGVector) Delete(ctx context.Context, msg *types.DeletionMessage) (int64, error) {
	query, args, err := deleteQuery(p.table, msg)
	if err != nil {
		return 0, err
	}
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, dbError(err)
	}
	return res.RowsAffected()
}

// Search returns the k chunks nearest to vector by cosine distance. Score
// is the cosine similarity.
func (p *PGVector) Search(ctx context.Context, vector []float32, k int, f Filter) ([]Hit, error) {
	query, args, err := searchQuery(p.table, vector, k, f)
	if err != nil {
		return nil, err
	}
	var hits []Hit
	if err := p.db.SelectContext(ctx, &hits, query, args...); err != nil {
		return nil, terrors.New(terrors.DatabaseErr, err)
	}
	return hits, nil
}

// SearchText ranks chunks by full-text match against query.
func (p *PGVector) SearchText(ctx context.Context, query string, k int) ([]Hit, error) {
	q, args, err := textSearchQuery(p.table, query, k)
	if err != nil {
		return nil, err
	}
	var hits []Hit
	if err := p.db.SelectContext(ctx, &hits, q, args...); err != nil {
		return nil, terrors.New(terrors.DatabaseErr, err)
	}
	return hits, nil
}

// Ping checks the connection, for health reporting.
func (p *PGVector) Ping(ctx context.Context) error {
	if p.db == nil {
		return xerrors.New("not connected")
	}
	return p.db.PingContext(ctx)
}

// Close closes the connection pool.
func (p *PGVector) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

// isDataError reports whether Postgres rejected the statement because of the
// values it carried: SQLSTATE class 22 (data exception) or 23 (integrity
// constraint violation). Sending the same row again cannot succeed.
func isDataError(err error) bool {
	var pqErr *pq.Error
	if !xerrors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code.Class() {
	case "22", "23":
		return true
	}
	return false
}

func dbError(err error) error {
	if isDataError(err) {
		return terrors.New(terrors.InvalidPayload, err)
	}
	return terrors.New(terrors.DatabaseErr, err)
}

func schemaStatements(table string, dim int) []string {
	t := pq.QuoteIdentifier(table)

	vecType := "vector"
	if dim > 0 {
		vecType = fmt.Sprintf("vector(%d)", dim)
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id uuid PRIMARY KEY,
	doc_id text NOT NULL,
	bucket text,
	object text,
	etag text,
	schema_version integer NOT NULL DEFAULT 1,
	title text,
	authors text[],
	keywords text[],
	doi text,
	chunk_index integer NOT NULL,
	char_start integer NOT NULL,
	char_end integer NOT NULL,
	num_chars integer NOT NULL,
	text text NOT NULL,
	embedding_model text,
	embedding %s NOT NULL,
	tsv tsvector GENERATED ALWAYS AS (to_tsvector('%s'::regconfig, coalesce(title, '') || ' ' || text)) STORED,
	indexed_at timestamptz NOT NULL DEFAULT now()
)`, t, vecType, textSearchConfig),
		fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (doc_id, chunk_index)", pq.QuoteIdentifier(table+"_doc_chunk_key"), t),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (bucket, object)", pq.QuoteIdentifier(table+"_source_idx"), t),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING gin (tsv)", pq.QuoteIdentifier(table+"_tsv_idx"), t),
	}
	if dim > 0 {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)",
			pq.QuoteIdentifier(table+"_embedding_hnsw"), t))
	}
	return stmts
}

func upsertQuery(table string, r *Record) (string, []interface{}, error) {
	updates := make([]string, 0, len(recordColumns))
	for _, c := range recordColumns {
		switch c {
		case "id", "doc_id", "chunk_index":
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	updates = append(updates, "indexed_at = now()")

	return psql.Insert(pq.QuoteIdentifier(table)).
		Columns(recordColumns...).
		Values(
			r.ID, r.DocID, r.Bucket, r.Object, r.ETag, r.SchemaVersion,
			r.Title, pq.Array(r.Authors), pq.Array(r.Keywords), r.DOI,
			r.ChunkIndex, r.CharStart, r.CharEnd, r.NumChars, r.Text,
			r.EmbeddingModel, pgvector.NewVector(r.Embedding),
		).
		Suffix("ON CONFLICT (doc_id, chunk_index) DO UPDATE SET " + strings.Join(updates, ", ")).
		ToSql()
}

func deleteQuery(table string, msg *types.DeletionMessage) (string, []interface{}, error) {
	q := psql.Delete(pq.QuoteIdentifier(table))

	switch {
	case msg.Source.Bucket != "" && msg.Source.Object != "":
		q = q.Where(sq.Eq{"bucket": msg.Source.Bucket}).Where(sq.Eq{"object": msg.Source.Object})
	case strings.TrimSpace(msg.DocID) != "":
		q = q.Where(sq.Eq{"doc_id": strings.TrimSpace(msg.DocID)})
	default:
		return "", nil, terrors.Errorf(terrors.InvalidPayload, "deletion names neither source nor doc_id")
	}
	if msg.Source.ETag != "" {
		q = q.Where(sq.Eq{"etag": msg.Source.ETag})
	}
	return q.ToSql()
}

func searchQuery(table string, vector []float32, k int, f Filter) (string, []interface{}, error) {
	if len(vector) == 0 {
		return "", nil, terrors.New(terrors.MissingVector, nil)
	}
	if k <= 0 {
		k = 10
	}

	vec := pgvector.NewVector(vector)
	q := psql.Select(hitColumns...).
		Column(sq.Expr("1 - (embedding <=> ?) AS score", vec)).
		From(pq.QuoteIdentifier(table))

	if f.DocID != "" {
		q = q.Where(sq.Eq{"doc_id": f.DocID})
	}
	if f.Bucket != "" {
		q = q.Where(sq.Eq{"bucket": f.Bucket})
	}
	if f.Keyword != "" {
		q = q.Where("? = ANY(keywords)", f.Keyword)
	}
	if f.Author != "" {
		q = q.Where("? = ANY(authors)", f.Author)
	}

	return q.OrderByClause("embedding <=> ?", vec).Limit(uint64(k)).ToSql()
}

func textSearchQuery(table, query string, k int) (string, []interface{}, error) {
	if strings.TrimSpace(query) == "" {
		return "", nil, terrors.Errorf(terrors.ParametersAreWrong, "empty query")
	}
	if k <= 0 {
		k = 10
	}

	tsq := fmt.Sprintf("plainto_tsquery('%s', ?)", textSearchConfig)
	return psql.Select(hitColumns...).
		Column(sq.Expr("ts_rank(tsv, "+tsq+") AS score", query)).
		From(pq.QuoteIdentifier(table)).
		Where("tsv @@ "+tsq, query).
		OrderBy("score DESC").
		Limit(uint64(k)).
		ToSql()
}
