package embedder

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/ragflow/ragflow/api/terrors"
	"github.com/ragflow/ragflow/api/types"
	"github.com/ragflow/ragflow/node/ollama"
)

var log = logging.Logger("embedder")

// ErrNoEmbeddings is returned when the server answers without vectors.
var ErrNoEmbeddings = xerrors.New("ollama response missing 'embeddings'")

const defaultRetryWait = time.Second

// Client is the part of the Ollama API the embedder needs.
type Client interface {
	Embed(ctx context.Context, req *ollama.EmbedRequest) (*ollama.EmbedResponse, error)
}

// Options configures an Embedder.
type Options struct {
	Model string
	// 0 keeps the model's native size
	Dimensions int
	Truncate   bool
	MaxRetries int
}

// Embedder turns chunk text into vectors.
type Embedder struct {
	client    Client
	opts      Options
	retryWait time.Duration
}

// New returns an Embedder. MaxRetries below 1 means a single attempt.
func New(client Client, opts Options) *Embedder {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	return &Embedder{client: client, opts: opts, retryWait: defaultRetryWait}
}

// Model returns the embedding model name.
func (e *Embedder) Model() string {
	return e.opts.Model
}

// EmbedText returns the vector for text, retrying failed requests after
// 1s, 2s, 3s and so on.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	req := &ollama.EmbedRequest{
		Model:      e.opts.Model,
		Input:      []string{text},
		Truncate:   &e.opts.Truncate,
		Dimensions: e.opts.Dimensions,
	}

	bo := &linearBackOff{step: e.retryWait}

	var (
		vec     []float32
		attempt int
	)
	op := func() error {
		attempt++
		resp, err := e.client.Embed(ctx, req)
		if err == nil && (len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0) {
			err = ErrNoEmbeddings
		}
		if err != nil {
			log.Warnf("embed attempt %d/%d failed: %s", attempt, e.opts.MaxRetries, err.Error())
			return err
		}
		vec = resp.Embeddings[0]
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(e.opts.MaxRetries-1)), ctx))
	if err != nil {
		return nil, terrors.New(terrors.EmbeddingFailed,
			xerrors.Errorf("failed to embed after %d attempt(s): %w", attempt, err))
	}
	return vec, nil
}

// linearBackOff waits step times the number of failures so far, without
// jitter.
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() { b.n = 0 }

// Process embeds the chunk text of msg.
func (e *Embedder) Process(ctx context.Context, msg *types.ChunkMessage) (*types.EmbeddingMessage, error) {
	vec, err := e.EmbedText(ctx, msg.Chunk.Text)
	if err != nil {
		return nil, err
	}

	return &types.EmbeddingMessage{
		ChunkMessage: *msg,
		Embedding: types.Embedding{
			Model:  e.opts.Model,
			Vector: vec,
			Dim:    len(vec),
		},
	}, nil
}

// Puller is the part of the Ollama API used to install models.
type Puller interface {
	Has(ctx context.Context, model string) (bool, error)
	Pull(ctx context.Context, model string, progress func(ollama.PullStatus)) error
}

// EnsureModel pulls model unless the server already lists it.
func EnsureModel(ctx context.Context, p Puller, model string) error {
	ok, err := p.Has(ctx, model)
	if err != nil {
		return xerrors.Errorf("list models: %w", err)
	}
	if ok {
		log.Infof("model %s already present", model)
		return nil
	}

	log.Infof("pulling model %s", model)
	last := ""
	return p.Pull(ctx, model, func(st ollama.PullStatus) {
		if st.Status != last {
			log.Infof("pull %s: %s", model, st.Status)
			last = st.Status
		}
	})
}
