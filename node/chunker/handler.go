package chunker

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

// Handler consumes TextMessages and publishes one ChunkMessage per chunk.
type Handler struct {
	chunker *Chunker
	pub     broker.Publisher
	out     config.Route
	metrics *metrics.Metrics
}

// NewHandler returns a broker.Handler publishing chunks to out.
func NewHandler(c *Chunker, pub broker.Publisher, out config.Route, m *metrics.Metrics) *Handler {
	return &Handler{chunker: c, pub: pub, out: out, metrics: m}
}

// Handle implements broker.Handler. Undecodable input and documents without
// text are acked and dropped; a failed publish rejects the message without
// requeueing it.
func (h *Handler) Handle(ctx context.Context, body []byte) broker.Outcome {
	started := time.Now()

	var msg types.TextMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Errorf("invalid JSON on input: %s", err.Error())
		h.metrics.Observe(broker.Ack.String(), terrors.New(terrors.InvalidPayload, err), started)
		return broker.Ack
	}

	out := h.chunker.ChunkPayload(&msg)
	if len(out) == 0 {
		log.Warnf("no chunks produced for %s; acking message", msg.Source.Key())
		h.metrics.Observe(broker.Ack.String(), terrors.New(terrors.EmptyDocument, nil), started)
		return broker.Ack
	}

	for _, m := range out {
		id := fmt.Sprintf("%s#%d", m.DocID, m.Chunk.Index)
		if err := h.pub.Publish(ctx, h.out, m, id); err != nil {
			err = terrors.New(terrors.PublishFailed, err)
			log.Errorf("processing %s failed; nacking without requeue: %s", m.DocID, err.Error())
			h.metrics.Observe(broker.Drop.String(), err, started)
			return broker.Drop
		}
	}

	log.Infof("published %d chunk(s) for %s", len(out), out[0].DocID)
	h.metrics.Add("chunks_published", len(out))
	h.metrics.Observe(broker.Ack.String(), nil, started)
	return broker.Ack
}
