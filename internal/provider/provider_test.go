package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIProvider_DefaultModel(t *testing.T) {
	p := NewOpenAIProvider("test-key", "", "")
	if p.Model() != DefaultEmbeddingModel {
		t.Errorf("expected default model %s, got %s", DefaultEmbeddingModel, p.Model())
	}

	p = NewOpenAIProvider("test-key", "", "nomic-embed-text")
	if p.Model() != "nomic-embed-text" {
		t.Errorf("expected model nomic-embed-text, got %s", p.Model())
	}
}

func TestOpenAIProvider_Embed(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}],"usage":{"prompt_tokens":4,"total_tokens":4}}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("test-key", server.URL+"/", "")
	resp, err := p.Embed(context.Background(), &EmbeddingRequest{Input: "hello", Dimensions: 3})
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	if len(resp.Vector) != 3 || resp.Vector[2] != float32(0.3) {
		t.Errorf("unexpected vector %v", resp.Vector)
	}
	if resp.Usage.PromptTokens != 4 {
		t.Errorf("expected 4 prompt tokens, got %d", resp.Usage.PromptTokens)
	}
	if got["model"] != DefaultEmbeddingModel || got["input"] != "hello" {
		t.Errorf("unexpected request body %v", got)
	}
	if got["dimensions"] != float64(3) {
		t.Errorf("expected dimensions in request, got %v", got["dimensions"])
	}
}

func TestOpenAIProvider_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("k", server.URL, "")
	_, err := p.Embed(context.Background(), &EmbeddingRequest{Input: "x"})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestOpenAIProvider_EmptyData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("k", server.URL, "")
	if _, err := p.Embed(context.Background(), &EmbeddingRequest{Input: "x"}); err == nil {
		t.Fatal("expected error for empty data")
	}
}

type recordingEmbedder struct{ model string }

func (r *recordingEmbedder) Embed(_ context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	r.model = req.Model
	return &EmbeddingResponse{Vector: []float32{1}}, nil
}

func TestWithDefaultModel(t *testing.T) {
	inner := &recordingEmbedder{}
	emb := WithDefaultModel(inner, " bge-m3 ")
	if _, err := emb.Embed(context.Background(), &EmbeddingRequest{Input: "x"}); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if inner.model != "bge-m3" {
		t.Errorf("expected default model applied, got %q", inner.model)
	}
	if _, err := emb.Embed(context.Background(), &EmbeddingRequest{Input: "x", Model: "explicit"}); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if inner.model != "explicit" {
		t.Errorf("explicit model overridden: %q", inner.model)
	}
	if WithDefaultModel(inner, "") != Embedder(inner) {
		t.Errorf("empty model should return inner unchanged")
	}
}
