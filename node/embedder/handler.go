package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ragflow/ragflow/api/terrors"
	"github.com/ragflow/ragflow/api/types"
	"github.com/ragflow/ragflow/node/broker"
	"github.com/ragflow/ragflow/node/config"
	"github.com/ragflow/ragflow/node/metrics"
)

// Handler consumes ChunkMessages and publishes EmbeddingMessages.
type Handler struct {
	embedder *Embedder
	pub      broker.Publisher
	out      config.Route
	metrics  *metrics.Metrics
}

func NewHandler(e *Embedder, pub broker.Publisher, out config.Route, m *metrics.Metrics) *Handler {
	return &Handler{embedder: e, pub: pub, out: out, metrics: m}
}

// Handle implements broker.Handler.
func (h *Handler) Handle(ctx context.Context, body []byte) broker.Outcome {
	started := time.Now()

	var msg types.ChunkMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Errorf("invalid JSON on input: %s", err.Error())
		h.metrics.Observe(broker.Ack.String(), terrors.New(terrors.InvalidPayload, err), started)
		return broker.Ack
	}

	out, err := h.embedder.Process(ctx, &msg)
	if err != nil {
		log.Errorf("embedding %s#%d failed; nacking without requeue: %s", msg.DocID, msg.Chunk.Index, err.Error())
		h.metrics.Observe(broker.Drop.String(), err, started)
		return broker.Drop
	}

	id := fmt.Sprintf("%s#%d", msg.DocID, msg.Chunk.Index)
	if err := h.pub.Publish(ctx, h.out, out, id); err != nil {
		err = terrors.New(terrors.PublishFailed, err)
		log.Errorf("publish %s failed; nacking without requeue: %s", id, err.Error())
		h.metrics.Observe(broker.Drop.String(), err, started)
		return broker.Drop
	}

	log.Debugf("embedded %s (dim %d)", id, out.Embedding.Dim)
	h.metrics.Observe(broker.Ack.String(), nil, started)
	return broker.Ack
}
