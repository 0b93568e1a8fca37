package embedserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/grovekb/grove/internal/embedding"
)

// runtimeEmbedder computes vectors by delegating to a local
// Ollama-compatible model runtime over HTTP. The daemon holds one warm
// client per process; the runtime keeps the model itself loaded.
type runtimeEmbedder struct {
	model  ModelInfo
	url    string
	client *http.Client
}

var _ embedding.Embedder = (*runtimeEmbedder)(nil)

// runtimeURL returns the model runtime base URL, honoring the
// GROVE_RUNTIME_URL override.
func runtimeURL() string {
	if u := os.Getenv("GROVE_RUNTIME_URL"); u != "" {
		return u
	}
	return "http://localhost:11434"
}

func newRuntimeEmbedder(model ModelInfo) *runtimeEmbedder {
	return &runtimeEmbedder{
		model:  model,
		url:    runtimeURL(),
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (r *runtimeEmbedder) Dimensions() int { return r.model.Dimensions }

func (r *runtimeEmbedder) Model() string { return r.model.Alias }

type runtimeRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type runtimeResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (r *runtimeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(runtimeRequest{Model: r.model.Runtime, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("embedserver: marshal runtime request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedserver: build runtime request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedserver: runtime request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedserver: runtime returned %d: %s", resp.StatusCode, msg)
	}

	var out runtimeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embedserver: decode runtime response: %w", err)
	}
	if len(out.Embedding) != r.model.Dimensions {
		return nil, fmt.Errorf("embedserver: runtime returned %d dimensions, model %s expects %d",
			len(out.Embedding), r.model.Alias, r.model.Dimensions)
	}

	vec := make([]float32, len(out.Embedding))
	for i, v := range out.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (r *runtimeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := r.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
