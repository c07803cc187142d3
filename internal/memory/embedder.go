package memory

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/KafClaw/hivemind/internal/provider"
)

// Embedder is the optional embedding capability used by the service.
// Embed returns nil on any failure; it never returns an error.
type Embedder interface {
	Enabled() bool
	Embed(ctx context.Context, text string) []float32
}

// BuildEmbeddingText is the canonical text embedded for an observation.
func BuildEmbeddingText(title, narrative string, concepts []string) string {
	parts := make([]string, 0, 3)
	if t := strings.TrimSpace(title); t != "" {
		parts = append(parts, t)
	}
	if n := strings.TrimSpace(narrative); n != "" {
		parts = append(parts, n)
	}
	if len(concepts) > 0 {
		parts = append(parts, "Concepts: "+strings.Join(concepts, ", "))
	}
	return strings.Join(parts, "\n\n")
}

// ProviderEmbedder adapts a provider.Embedder to the Embedder contract.
// Vectors whose length differs from Dimension are treated as failures.
type ProviderEmbedder struct {
	inner     provider.Embedder
	dimension int
	timeout   time.Duration
}

// NewProviderEmbedder returns an adapter around inner. A nil inner yields a
// disabled embedder.
func NewProviderEmbedder(inner provider.Embedder, dimension int, timeout time.Duration) *ProviderEmbedder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ProviderEmbedder{inner: inner, dimension: dimension, timeout: timeout}
}

func (p *ProviderEmbedder) Enabled() bool {
	return p != nil && p.inner != nil
}

func (p *ProviderEmbedder) Embed(ctx context.Context, text string) []float32 {
	if !p.Enabled() || strings.TrimSpace(text) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.inner.Embed(ctx, &provider.EmbeddingRequest{Input: text, Dimensions: p.dimension})
	if err != nil {
		slog.Warn("Embedding request failed", "error", err)
		return nil
	}
	if resp == nil || len(resp.Vector) == 0 {
		return nil
	}
	if p.dimension > 0 && len(resp.Vector) != p.dimension {
		slog.Warn("Embedding dimension mismatch", "got", len(resp.Vector), "want", p.dimension)
		return nil
	}
	return resp.Vector
}

// disabledEmbedder is used when no provider is configured.
type disabledEmbedder struct{}

func (disabledEmbedder) Enabled() bool                           { return false }
func (disabledEmbedder) Embed(context.Context, string) []float32 { return nil }
