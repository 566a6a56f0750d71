package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/yvan/internal/config"
	"github.com/hyperjump/yvan/internal/vector"
	"github.com/hyperjump/yvan/pkg/utils"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	e := NewMockEmbedder(64)
	ctx := context.Background()
	a, err := e.Embed(ctx, "Đau đầu do phong hàn")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "Đau đầu do phong hàn")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.InDelta(t, 1.0, utils.Norm(a), 1e-6)
	assert.Equal(t, 384, NewMockEmbedder(0).Dimensions())
}

func TestMockEmbedder_SharedWordsAreSimilar(t *testing.T) {
	e := NewMockEmbedder(256)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "đau đầu")
	related, _ := e.Embed(ctx, "Chữa đau đầu bằng châm cứu.")
	unrelated, _ := e.Embed(ctx, "Mất ngủ kéo dài")
	assert.Greater(t, vector.InnerProduct(q, related), vector.InnerProduct(q, unrelated))
}

func TestMockEmbedder_EmptyTextIsZeroVector(t *testing.T) {
	v, err := NewMockEmbedder(8).Embed(context.Background(), "  ... ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), v)
}

type countingEmbedder struct {
	*MockEmbedder
	batches atomic.Int32
	texts   atomic.Int32
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batches.Add(1)
	c.texts.Add(int32(len(texts)))
	return c.MockEmbedder.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.texts.Add(1)
	return c.MockEmbedder.Embed(ctx, text)
}

func TestCachedEmbedder(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(16)}
	c, err := NewCached(inner, 2)
	require.NoError(t, err)
	ctx := context.Background()

	a1, err := c.Embed(ctx, "a")
	require.NoError(t, err)
	a2, err := c.Embed(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
	assert.Equal(t, int32(1), inner.texts.Load(), "second call is a hit")

	out, err := c.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, a1, out[0])
	assert.Equal(t, int32(3), inner.texts.Load(), "only b and c are embedded")
	assert.Equal(t, 2, c.Len(), "capacity bounds the cache")

	// "a" was evicted by b and c
	_, err = c.Embed(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int32(4), inner.texts.Load())

	assert.Equal(t, 16, c.Dimensions())
	assert.NoError(t, c.Close())
}

func TestNewCached_invalidSize(t *testing.T) {
	_, err := NewCached(NewMockEmbedder(4), 0)
	assert.Error(t, err)
}

func TestOllamaEmbedder_EmbedBatch(t *testing.T) {
	var gotPath string
	var gotReq ollamaEmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := ollamaEmbedResponse{}
		for i := range gotReq.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{float32(i), 1, 0})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL+"/", "bge-m3", 3, 0)
	vecs, err := e.EmbedBatch(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, "/api/embed", gotPath)
	assert.Equal(t, "bge-m3", gotReq.Model)
	assert.Equal(t, []string{"x", "y"}, gotReq.Input)
	assert.Equal(t, [][]float32{{0, 1, 0}, {1, 1, 0}}, vecs)

	v, err := e.Embed(context.Background(), "z")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0}, v)
}

func TestOllamaEmbedder_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantMsg string
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}, "status 404"},
		{"count", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"embeddings":[[1,2,3]]}`))
		}, "1 embeddings for 2 inputs"},
		{"dimension", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"embeddings":[[1,2],[3,4]]}`))
		}, "expected 3"},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{`))
		}, "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			_, err := NewOllamaEmbedder(srv.URL, "m", 3, 0).EmbedBatch(context.Background(), []string{"a", "b"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestNew_factory(t *testing.T) {
	e, err := New(config.EmbeddingConfig{Provider: config.ProviderMock, Dimensions: 32, CacheSize: 10}, nil)
	require.NoError(t, err)
	_, ok := e.(*CachedEmbedder)
	assert.True(t, ok)
	assert.Equal(t, 32, e.Dimensions())

	e, err = New(config.EmbeddingConfig{Provider: config.ProviderOllama, OllamaURL: "http://localhost:1", Dimensions: 8}, nil)
	require.NoError(t, err)
	_, ok = e.(*OllamaEmbedder)
	assert.True(t, ok)

	_, err = New(config.EmbeddingConfig{Provider: "word2vec"}, nil)
	assert.Error(t, err)
}

func TestNew_onnxMissingModelIsError(t *testing.T) {
	_, err := New(config.EmbeddingConfig{
		Provider:   config.ProviderONNX,
		ModelPath:  "/nonexistent/model.onnx",
		Dimensions: 384,
		MaxTokens:  128,
		InputNames: []string{"input_ids", "attention_mask"},
		OutputName: "sentence_embedding",
	}, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(strings.ToLower(err.Error()), "onnx"), "got %v", err)
}
