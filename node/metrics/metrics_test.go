package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ragflow/ragflow/api/terrors"
)

func TestMetricsEndpoint(t *testing.T) {
	m := New("chunker")
	m.Observe("ack", nil, time.Now())
	m.Observe("drop", terrors.New(terrors.InvalidPayload, errors.New("bad json")), time.Now())
	m.Add("chunks_published", 3)
	m.Add("chunks_published", 0)

	srv := httptest.NewServer(m.Handler(nil))
	defer srv.Close()

	rsp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer rsp.Body.Close()
	require.Equal(t, http.StatusOK, rsp.StatusCode)

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(rsp.Body)
	require.NoError(t, err)
	body := buf.String()

	require.Contains(t, body, `ragflow_messages_total{outcome="ack",worker="chunker"} 1`)
	require.Contains(t, body, `ragflow_message_errors_total{code="invalid_payload",worker="chunker"} 1`)
	require.Contains(t, body, `ragflow_events_total{event="chunks_published",worker="chunker"} 3`)
}

func TestHealthz(t *testing.T) {
	m := New("indexer")
	checks := map[string]Check{
		"postgres": func(context.Context) error { return nil },
		"rabbitmq": func(context.Context) error { return errors.New("connection refused") },
	}

	srv := httptest.NewServer(m.Handler(checks))
	defer srv.Close()

	rsp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer rsp.Body.Close()

	require.Equal(t, http.StatusServiceUnavailable, rsp.StatusCode)

	var report map[string]string
	require.NoError(t, json.NewDecoder(rsp.Body).Decode(&report))
	require.Equal(t, "ok", report["postgres"])
	require.Equal(t, "connection refused", report["rabbitmq"])
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Observe("ack", nil, time.Now())
	m.Add("x", 1)
}

func TestServeDisabled(t *testing.T) {
	require.NoError(t, New("reader").Serve(context.Background(), "", nil))
}
