// Package provider implements embedding provider clients.
package provider

import (
	"context"
	"strings"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error)
}

// EmbeddingRequest contains parameters for an embedding request.
type EmbeddingRequest struct {
	Input string
	Model string // default: "text-embedding-3-small"
	// Dimensions asks the backend to truncate the vector. Zero leaves it
	// to the model.
	Dimensions int
}

// EmbeddingResponse contains the embedding vector.
type EmbeddingResponse struct {
	Vector []float32
	Usage  Usage
}

// Usage contains token usage information.
type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// WithDefaultModel wraps inner so requests without a model use model.
func WithDefaultModel(inner Embedder, model string) Embedder {
	model = strings.TrimSpace(model)
	if inner == nil || model == "" {
		return inner
	}
	return &defaultModelEmbedder{inner: inner, model: model}
}

type defaultModelEmbedder struct {
	inner Embedder
	model string
}

func (d *defaultModelEmbedder) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	if req == nil {
		req = &EmbeddingRequest{}
	}
	clone := *req
	if strings.TrimSpace(clone.Model) == "" {
		clone.Model = d.model
	}
	return d.inner.Embed(ctx, &clone)
}
