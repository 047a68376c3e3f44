package embedder

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/ragflow/ragflow/api/terrors"
	"github.com/ragflow/ragflow/api/types"
	"github.com/ragflow/ragflow/node/broker"
	"github.com/ragflow/ragflow/node/broker/brokertest"
	"github.com/ragflow/ragflow/node/config"
	"github.com/ragflow/ragflow/node/ollama"
)

type scriptedClient struct {
	mu    sync.Mutex
	errs  []error
	vec   []float32
	calls int
	last  *ollama.EmbedRequest
}

func (c *scriptedClient) Embed(_ context.Context, req *ollama.EmbedRequest) (*ollama.EmbedResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.last = req
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if c.vec == nil {
		return &ollama.EmbedResponse{}, nil
	}
	return &ollama.EmbedResponse{Embeddings: [][]float32{c.vec}}, nil
}

func newTestEmbedder(c Client, retries int) *Embedder {
	e := New(c, Options{Model: "mxbai-embed-large", Dimensions: 3, Truncate: true, MaxRetries: retries})
	e.retryWait = time.Millisecond
	return e
}

func TestEmbedTextRetries(t *testing.T) {
	c := &scriptedClient{
		errs: []error{xerrors.New("connection refused"), &ollama.ResponseError{StatusCode: 500}},
		vec:  []float32{1, 2, 3},
	}
	e := newTestEmbedder(c, 3)

	vec, err := e.EmbedText(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3}, vec)
	require.Equal(t, 3, c.calls)

	require.Equal(t, "mxbai-embed-large", c.last.Model)
	require.Equal(t, []string{"hello"}, c.last.Input)
	require.Equal(t, 3, c.last.Dimensions)
	require.True(t, *c.last.Truncate)
}

func TestEmbedTextGivesUp(t *testing.T) {
	c := &scriptedClient{} // answers without embeddings
	e := newTestEmbedder(c, 3)

	_, err := e.EmbedText(context.Background(), "hello")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrNoEmbeddings)
	require.Equal(t, terrors.EmbeddingFailed, terrors.Code(err))
	require.Equal(t, 3, c.calls)
}

func TestLinearBackOff(t *testing.T) {
	b := &linearBackOff{step: time.Second}
	require.Equal(t, time.Second, b.NextBackOff())
	require.Equal(t, 2*time.Second, b.NextBackOff())
	require.Equal(t, 3*time.Second, b.NextBackOff())

	b.Reset()
	require.Equal(t, time.Second, b.NextBackOff())
}

func TestProcess(t *testing.T) {
	e := newTestEmbedder(&scriptedClient{vec: []float32{0.1, 0.2}}, 1)

	in := &types.ChunkMessage{
		Schema: 1,
		Source: types.Source{Bucket: "b", Object: "o.pdf"},
		DocID:  "b/o",
		Chunk:  types.Chunk{Index: 4, Start: 10, End: 15, NumChars: 5, Text: "hello"},
	}
	out, err := e.Process(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, *in, out.ChunkMessage)
	require.Equal(t, types.Embedding{Model: "mxbai-embed-large", Vector: []float32{0.1, 0.2}, Dim: 2}, out.Embedding)
}

func chunkBody(t *testing.T) []byte {
	b, err := json.Marshal(types.ChunkMessage{
		Schema: 1,
		DocID:  "b/o",
		Chunk:  types.Chunk{Index: 2, Text: "hello"},
	})
	require.NoError(t, err)
	return b
}

func TestHandler(t *testing.T) {
	out := config.Route{Exchange: "events", Queue: "embeddings", RoutingKey: "embeddings"}

	pub := &brokertest.Publisher{}
	h := NewHandler(newTestEmbedder(&scriptedClient{vec: []float32{1, 0}}, 1), pub, out, nil)

	require.Equal(t, broker.Ack, h.Handle(context.Background(), []byte("nope")))
	require.Zero(t, pub.Len())

	require.Equal(t, broker.Ack, h.Handle(context.Background(), chunkBody(t)))
	msgs := pub.All()
	require.Len(t, msgs, 1)
	require.Equal(t, "b/o#2", msgs[0].MessageID)
	require.Equal(t, out, msgs[0].Route)

	var em types.EmbeddingMessage
	require.NoError(t, msgs[0].Decode(&em))
	require.Equal(t, 2, em.Embedding.Dim)
	require.Equal(t, "hello", em.Chunk.Text)
}

func TestHandlerFailures(t *testing.T) {
	out := config.Route{Exchange: "events", RoutingKey: "embeddings"}

	h := NewHandler(newTestEmbedder(&scriptedClient{}, 1), &brokertest.Publisher{}, out, nil)
	require.Equal(t, broker.Drop, h.Handle(context.Background(), chunkBody(t)))

	pub := &brokertest.Publisher{Err: xerrors.New("nacked")}
	h = NewHandler(newTestEmbedder(&scriptedClient{vec: []float32{1}}, 1), pub, out, nil)
	require.Equal(t, broker.Drop, h.Handle(context.Background(), chunkBody(t)))
}

type fakePuller struct {
	models []string
	pulled []string
}

func (p *fakePuller) Has(_ context.Context, model string) (bool, error) {
	for _, m := range p.models {
		if m == model {
			return true, nil
		}
	}
	return false, nil
}

func (p *fakePuller) Pull(_ context.Context, model string, progress func(ollama.PullStatus)) error {
	progress(ollama.PullStatus{Status: "pulling manifest"})
	progress(ollama.PullStatus{Status: "success"})
	p.pulled = append(p.pulled, model)
	return nil
}

func TestEnsureModel(t *testing.T) {
	p := &fakePuller{models: []string{"present"}}
	require.NoError(t, EnsureModel(context.Background(), p, "present"))
	require.Empty(t, p.pulled)

	require.NoError(t, EnsureModel(context.Background(), p, "absent"))
	require.Equal(t, []string{"absent"}, p.pulled)
}
