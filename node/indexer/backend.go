package indexer

import (
	"context"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/ragflow/ragflow/api/types"
	"github.com/ragflow/ragflow/node/config"
)

var log = logging.Logger("indexer")

// BackendPGVector stores chunks in a Postgres table with a pgvector column.
const BackendPGVector = "pgvector"

// Backend is a vector store the indexer writes to.
type Backend interface {
	Connect(ctx context.Context) error
	// EnsureReady creates or checks the collection.
	EnsureReady(ctx context.Context) error
	Upsert(ctx context.Context, r *Record) error
	// Delete removes the chunks of a document and returns how many went.
	Delete(ctx context.Context, msg *types.DeletionMessage) (int64, error)
	Close() error
}

// Filter narrows a vector search.
type Filter struct {
	DocID   string
	Bucket  string
	Keyword string
	Author  string
}

// Hit is one search result.
type Hit struct {
	ID         string  `db:"id"`
	DocID      string  `db:"doc_id"`
	Object     *string `db:"object"`
	Title      *string `db:"title"`
	ChunkIndex int     `db:"chunk_index"`
	Text       string  `db:"text"`
	Score      float64 `db:"score"`
}

// Searcher is implemented by backends that can answer queries.
type Searcher interface {
	Search(ctx context.Context, vector []float32, k int, f Filter) ([]Hit, error)
	SearchText(ctx context.Context, query string, k int) ([]Hit, error)
}

// New returns the backend named by cfg.Backend. DryRun returns a backend
// that only logs.
func New(cfg *config.IndexerCfg) (Backend, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if name == "" {
		name = BackendPGVector
	}

	switch name {
	case BackendPGVector:
		if cfg.DryRun {
			return &dryRun{name: name}, nil
		}
		pg, err := NewPGVector(cfg.PostgresCfg.DSN(), cfg.Collection, cfg.EmbeddingDim, cfg.CreateCollectionIfMissing)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return nil, xerrors.Errorf("unknown index backend: %s", cfg.Backend)
	}
}

type dryRun struct {
	name string
}

func (d *dryRun) Connect(context.Context) error {
	log.Infof("[DRY RUN] %s backend, no connection made", d.name)
	return nil
}

func (d *dryRun) EnsureReady(context.Context) error { return nil }

func (d *dryRun) Upsert(_ context.Context, r *Record) error {
	log.Infof("[DRY RUN] upsert %s#%d dim=%d", r.DocID, r.ChunkIndex, len(r.Embedding))
	return nil
}

func (d *dryRun) Delete(_ context.Context, msg *types.DeletionMessage) (int64, error) {
	log.Infof("[DRY RUN] delete %s etag=%q", msg.Source.Key(), msg.Source.ETag)
	return 0, nil
}

func (d *dryRun) Close() error { return nil }
