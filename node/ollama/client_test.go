package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEmbed(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/embed", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"model":"m","embeddings":[[0.5,-1,2]]}`)
	}))
	defer srv.Close()

	truncate := true
	c := NewClient(srv.URL+"/", 5*time.Second)
	resp, err := c.Embed(context.Background(), &EmbedRequest{Model: "m", Input: []string{"hi"}, Truncate: &truncate})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{0.5, -1, 2}}, resp.Embeddings)

	require.Equal(t, "m", got["model"])
	require.Equal(t, []interface{}{"hi"}, got["input"])
	require.Equal(t, true, got["truncate"])
	_, has := got["dimensions"]
	require.False(t, has)
}

func TestResponseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Tags(context.Background())
	require.Error(t, err)

	var re *ResponseError
	require.True(t, errors.As(err, &re))
	require.Equal(t, http.StatusNotFound, re.StatusCode)
	require.Equal(t, "/api/tags", re.Path)
	require.Contains(t, re.Body, "model not found")
}

func TestHas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"mxbai-embed-large:latest","model":"mxbai-embed-large:latest"},{"name":"llama3:8b"}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	for model, want := range map[string]bool{
		"mxbai-embed-large":        true,
		"mxbai-embed-large:latest": true,
		"llama3:8b":                true,
		"llama3":                   false,
	} {
		ok, err := c.Has(context.Background(), model)
		require.NoError(t, err)
		require.Equal(t, want, ok, model)
	}
}

func TestPull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/pull", r.URL.Path)
		fmt.Fprintln(w, `{"status":"pulling manifest"}`)
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `not json`)
		fmt.Fprintln(w, `{"status":"downloading","digest":"sha256:1","total":10,"completed":5}`)
		fmt.Fprintln(w, `{"status":"success"}`)
	}))
	defer srv.Close()

	var seen []string
	err := NewClient(srv.URL, 0).Pull(context.Background(), "m", func(st PullStatus) {
		seen = append(seen, st.Status)
	})
	require.NoError(t, err)
	require.Equal(t, []string{"pulling manifest", "downloading", "success"}, seen)
}

func TestPullErrorLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"status":"pulling manifest"}`)
		fmt.Fprintln(w, `{"error":"pull model manifest: file does not exist"}`)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, 0).Pull(context.Background(), "nope", nil)
	require.ErrorContains(t, err, "file does not exist")
}
