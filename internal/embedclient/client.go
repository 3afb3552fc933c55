// Package embedclient calls an external embedding service over HTTP,
// retrying on rate-limit responses. It requires no authentication beyond
// a base URL and a model identifier; the caller owns network access
// control (e.g. a private network or a reverse-proxy API key header).
package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/latticemem/engine/internal/errs"
)

// TaskType distinguishes the two embedding spaces a query/document model
// typically supports for asymmetric retrieval.
type TaskType string

const (
	TaskTypeDocument TaskType = "RETRIEVAL_DOCUMENT"
	TaskTypeQuery    TaskType = "RETRIEVAL_QUERY"
)

// Client calls a remote embedding service's REST API.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
}

// New builds a Client. baseURL is the embedding service root (e.g.
// "http://localhost:8081"); model is passed through as an opaque
// identifier the service resolves on its own.
func New(baseURL, model string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type embedRequest struct {
	Model     string         `json:"model"`
	Instances []embedInstance `json:"instances"`
}

type embedInstance struct {
	Content  string   `json:"content"`
	TaskType TaskType `json:"taskType"`
}

type embedResponse struct {
	Predictions []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"predictions"`
}

// EmbedDocuments embeds a batch of document texts for storage and search.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embedWithTaskType(ctx, texts, TaskTypeDocument)
}

// EmbedQueries embeds a batch of query texts for retrieval.
func (c *Client) EmbedQueries(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embedWithTaskType(ctx, texts, TaskTypeQuery)
}

// Embed embeds a single query text, the shape the batch embedder and
// retrieval pipeline call through.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	vecs, err := c.EmbedQueries(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, errs.Embedding("embedding service returned no predictions", nil)
	}
	return vecs[0], nil
}

func (c *Client) embedWithTaskType(ctx context.Context, texts []string, taskType TaskType) ([][]float32, error) {
	return withRetry(ctx, "Embed", func() ([][]float32, error) {
		return c.doEmbed(ctx, texts, taskType)
	})
}

func (c *Client) doEmbed(ctx context.Context, texts []string, taskType TaskType) ([][]float32, error) {
	instances := make([]embedInstance, len(texts))
	for i, t := range texts {
		instances[i] = embedInstance{Content: t, TaskType: taskType}
	}

	reqBody, err := json.Marshal(embedRequest{Model: c.model, Instances: instances})
	if err != nil {
		return nil, errs.Embedding("marshal embed request", err)
	}

	url := c.baseURL + "/v1/embed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, errs.Embedding("build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Embedding(fmt.Sprintf("call embedding service at %s", url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, errs.Embedding(fmt.Sprintf("embedding service returned status %d: %s", resp.StatusCode, body), nil)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.Embedding("decode embed response", err)
	}

	results := make([][]float32, len(out.Predictions))
	for i, p := range out.Predictions {
		results[i] = p.Embedding
	}
	return results, nil
}

// documentEmbedder adapts Client to the RETRIEVAL_DOCUMENT task type, so an
// ingest-time embedder and a query-time embedder drawing from the same
// Client land in the two distinct embedding spaces the service exposes for
// asymmetric retrieval.
type documentEmbedder struct {
	c *Client
}

// AsDocumentEmbedder wraps c so its Embed calls use TaskTypeDocument instead
// of the TaskTypeQuery that Client.Embed uses directly.
func (c *Client) AsDocumentEmbedder() *documentEmbedder {
	return &documentEmbedder{c: c}
}

// Embed embeds a single document text, the shape batch.Embedder calls
// through for content accepted at ingest time.
func (d *documentEmbedder) Embed(ctx context.Context, model, text string) ([]float32, error) {
	vecs, err := d.c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, errs.Embedding("embedding service returned no predictions", nil)
	}
	return vecs[0], nil
}

// HealthCheck validates connectivity to the embedding service.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.EmbedQueries(ctx, []string{"health check"})
	if err != nil {
		return errs.Embedding("embedding service health check failed", err)
	}
	return nil
}
