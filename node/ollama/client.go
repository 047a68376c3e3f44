// Package ollama is a small client for the parts of the Ollama HTTP API the
// pipeline uses: /api/embed, /api/tags and /api/pull.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"
)

var log = logging.Logger("ollama")

const maxErrorBody = 4 << 10

// ResponseError is returned for any non-200 answer.
type ResponseError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("ollama %s %s -> %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// EmbedRequest is the body of POST /api/embed.
type EmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Truncate   *bool    `json:"truncate,omitempty"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// EmbedResponse is the answer of POST /api/embed.
type EmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Model is one entry of GET /api/tags.
type Model struct {
	Name       string    `json:"name"`
	Model      string    `json:"model"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest"`
	ModifiedAt time.Time `json:"modified_at"`
}

type tagsResponse struct {
	Models []Model `json:"models"`
}

// PullStatus is one NDJSON line streamed by POST /api/pull.
type PullStatus struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Client talks to one Ollama server.
type Client struct {
	baseURL string
	hc      *http.Client
}

// NewClient returns a client for baseURL. A zero timeout disables it, which
// is what long pulls need.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Embed computes embeddings for req.Input.
func (c *Client) Embed(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error) {
	var out EmbedResponse
	if err := c.do(ctx, http.MethodPost, "/api/embed", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tags lists the installed models. It doubles as a health check.
func (c *Client) Tags(ctx context.Context) ([]Model, error) {
	var out tagsResponse
	if err := c.do(ctx, http.MethodGet, "/api/tags", nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// Has reports whether model is installed. A name without a tag matches
// name:latest.
func (c *Client) Has(ctx context.Context, model string) (bool, error) {
	models, err := c.Tags(ctx)
	if err != nil {
		return false, err
	}
	want := model
	if !strings.Contains(want, ":") {
		want += ":latest"
	}
	for _, m := range models {
		if m.Name == model || m.Name == want || m.Model == model || m.Model == want {
			return true, nil
		}
	}
	return false, nil
}

// Pull downloads model, calling progress for every status line. An error
// line ends the pull with that error.
func (c *Client) Pull(ctx context.Context, model string, progress func(PullStatus)) error {
	resp, err := c.send(ctx, http.MethodPost, "/api/pull", map[string]interface{}{"name": model, "stream": true})
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		var st PullStatus
		if err := json.Unmarshal(line, &st); err != nil {
			log.Warnf("non-JSON pull line: %s", string(line))
			continue
		}
		if st.Error != "" {
			return xerrors.Errorf("pull %s: %s", model, st.Error)
		}
		if progress != nil {
			progress(st)
		}
	}
	return sc.Err()
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	resp, err := c.send(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Errorf("non-JSON response from ollama %s: %w", path, err)
	}
	return nil
}

// send returns the response when the status is 200; the caller closes it.
func (c *Client) send(ctx context.Context, method, path string, in interface{}) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, xerrors.Errorf("http error to ollama: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &ResponseError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(b)),
		}
	}
	return resp, nil
}
