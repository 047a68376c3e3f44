package indexer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ragflow/ragflow/api/terrors"
	"github.com/ragflow/ragflow/api/types"
	"github.com/ragflow/ragflow/node/broker"
	"github.com/ragflow/ragflow/node/metrics"
)

// IndexHandler consumes EmbeddingMessages.
type IndexHandler struct {
	backend Backend
	dim     int
	metrics *metrics.Metrics
}

// NewIndexHandler returns a handler writing to b. dim is the configured
// embedding width, 0 to accept any.
func NewIndexHandler(b Backend, dim int, m *metrics.Metrics) *IndexHandler {
	return &IndexHandler{backend: b, dim: dim, metrics: m}
}

// Handle implements broker.Handler. Messages that can never be indexed are
// rejected without requeue; backend failures are requeued.
func (h *IndexHandler) Handle(ctx context.Context, body []byte) broker.Outcome {
	started := time.Now()

	var msg types.EmbeddingMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		err = terrors.New(terrors.InvalidPayload, err)
		log.Errorf("failed to decode message: %s", err.Error())
		h.metrics.Observe(broker.Drop.String(), err, started)
		return broker.Drop
	}

	rec, err := NewRecord(&msg, h.dim)
	if err != nil {
		log.Errorf("rejecting %s#%d: %s", msg.DocID, msg.Chunk.Index, err.Error())
		h.metrics.Observe(broker.Drop.String(), err, started)
		return broker.Drop
	}

	if err := h.backend.Upsert(ctx, rec); err != nil {
		if terrors.Code(err) == terrors.InvalidPayload {
			log.Errorf("rejecting %s#%d: %s", rec.DocID, rec.ChunkIndex, err.Error())
			h.metrics.Observe(broker.Drop.String(), err, started)
			return broker.Drop
		}
		log.Errorf("failed to index %s#%d, requeueing: %s", rec.DocID, rec.ChunkIndex, err.Error())
		h.metrics.Observe(broker.Requeue.String(), err, started)
		return broker.Requeue
	}

	log.Debugf("indexed %s#%d", rec.DocID, rec.ChunkIndex)
	h.metrics.Observe(broker.Ack.String(), nil, started)
	return broker.Ack
}

// DeleteHandler consumes DeletionMessages.
type DeleteHandler struct {
	backend Backend
	metrics *metrics.Metrics
}

func NewDeleteHandler(b Backend, m *metrics.Metrics) *DeleteHandler {
	return &DeleteHandler{backend: b, metrics: m}
}

// Handle implements broker.Handler.
func (h *DeleteHandler) Handle(ctx context.Context, body []byte) broker.Outcome {
	started := time.Now()

	var msg types.DeletionMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		err = terrors.New(terrors.InvalidPayload, err)
		log.Errorf("failed to decode deletion: %s", err.Error())
		h.metrics.Observe(broker.Drop.String(), err, started)
		return broker.Drop
	}

	n, err := h.backend.Delete(ctx, &msg)
	if err != nil {
		if terrors.Code(err) == terrors.InvalidPayload {
			log.Errorf("rejecting deletion: %s", err.Error())
			h.metrics.Observe(broker.Drop.String(), err, started)
			return broker.Drop
		}
		log.Errorf("failed to delete %s, requeueing: %s", msg.Source.Key(), err.Error())
		h.metrics.Observe(broker.Requeue.String(), err, started)
		return broker.Requeue
	}

	log.Infof("deleted %d chunk(s) of %s (%s)", n, msg.Source.Key(), msg.Reason)
	h.metrics.Add("chunks_deleted", int(n))
	h.metrics.Observe(broker.Ack.String(), nil, started)
	return broker.Ack
}
