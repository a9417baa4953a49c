package embedding

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rcliao/memtier/internal/model"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
		delta    float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0, 0.001},
		{"orthogonal", Vector{1, 0, 0}, Vector{0, 1, 0}, 0.0, 0.001},
		{"opposite", Vector{1, 0, 0}, Vector{-1, 0, 0}, -1.0, 0.001},
		{"similar", Vector{1, 1, 0}, Vector{1, 0, 0}, 0.707, 0.01},
		{"empty", Vector{}, Vector{}, 0.0, 0.001},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 0, 0}, 0.0, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(got-tt.expected) > tt.delta {
				t.Errorf("CosineSimilarity(%v, %v) = %f, want %f (±%f)", tt.a, tt.b, got, tt.expected, tt.delta)
			}
		})
	}
}

func TestCosineSimilarity_DimensionMismatch(t *testing.T) {
	got, err := CosineSimilarity(Vector{1, 0}, Vector{1, 0, 0})
	if !errors.Is(err, model.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if got != 0 {
		t.Errorf("expected 0 similarity, got %f", got)
	}
}

func TestNew_Disabled(t *testing.T) {
	if p := New("", "", ""); p != nil {
		t.Error("expected nil provider when none configured")
	}
}

type countingProvider struct{ calls int }

func (c *countingProvider) Embed(_ context.Context, text string) (Vector, error) {
	c.calls++
	return Vector{float64(len(text)), 1}, nil
}

func (c *countingProvider) Dims() int { return 2 }

func TestCached(t *testing.T) {
	inner := &countingProvider{}
	c, err := NewCached(inner, 2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	c.Embed(ctx, "a")
	c.Embed(ctx, "a")
	c.Embed(ctx, "bb")
	if inner.calls != 2 {
		t.Errorf("expected 2 inner calls, got %d", inner.calls)
	}
	c.Embed(ctx, "ccc")
	if c.Len() != 2 {
		t.Errorf("expected cache bounded at 2, got %d", c.Len())
	}
	if c.Dims() != 2 {
		t.Errorf("expected dims passthrough")
	}
}

func TestOllamaProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"embedding":[0.5,0.25]}`))
	}))
	defer srv.Close()
	t.Setenv("OLLAMA_HOST", srv.URL)

	p := NewOllamaProvider("all-minilm")
	if p.Dims() != 384 {
		t.Errorf("expected 384 dims, got %d", p.Dims())
	}
	v, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 2 || v[0] != 0.5 {
		t.Errorf("unexpected vector %v", v)
	}
}
