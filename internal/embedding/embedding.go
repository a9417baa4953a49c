// Package embedding provides the embedding collaborator and vector similarity.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rcliao/memtier/internal/model"
)

// Vector is a fixed-length embedding.
type Vector = []float64

// Provider generates embedding vectors from text.
type Provider interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
}

// CosineSimilarity computes cosine similarity between two vectors. Vectors of
// different length yield model.ErrDimensionMismatch; empty or zero vectors yield 0.
func CosineSimilarity(a, b Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("cosine %d vs %d: %w", len(a), len(b), model.ErrDimensionMismatch)
	}
	if len(a) == 0 {
		return 0, nil
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// --- Ollama Provider ---

// OllamaProvider uses a local Ollama instance for embeddings.
type OllamaProvider struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewOllamaProvider creates a provider using Ollama's API.
// Default model: nomic-embed-text (768 dims), all-minilm (384 dims).
func NewOllamaProvider(model string) *OllamaProvider {
	baseURL := os.Getenv("OLLAMA_HOST")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	dims := 768
	if model == "all-minilm" {
		dims = 384
	}
	return &OllamaProvider{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *OllamaProvider) Embed(ctx context.Context, text string) (Vector, error) {
	body, _ := json.Marshal(ollamaRequest{Model: e.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama error %d: %s", resp.StatusCode, string(b))
	}

	var result ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Embedding, nil
}

func (e *OllamaProvider) Dims() int { return e.dims }

// --- OpenAI-compatible Provider ---

// OpenAIProvider uses any OpenAI-compatible embedding API.
type OpenAIProvider struct {
	client *openai.Client
	model  openai.EmbeddingModel
	dims   int
}

// NewOpenAIProvider creates a provider using an OpenAI-compatible API.
func NewOpenAIProvider(baseURL, apiKey, model string, dims int) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	if dims == 0 {
		dims = 1536
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.EmbeddingModel(model),
		dims:   dims,
	}
}

func (e *OpenAIProvider) Embed(ctx context.Context, text string) (Vector, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	raw := resp.Data[0].Embedding
	vec := make(Vector, len(raw))
	for i, f := range raw {
		vec[i] = float64(f)
	}
	return vec, nil
}

func (e *OpenAIProvider) Dims() int { return e.dims }

// --- Factory ---

// New creates a provider by name. An empty or unknown name disables embeddings.
func New(provider, model, baseURL string) Provider {
	switch provider {
	case "ollama":
		return NewOllamaProvider(model)
	case "openai":
		return NewOpenAIProvider(baseURL, os.Getenv("OPENAI_API_KEY"), model, 0)
	default:
		return nil
	}
}
