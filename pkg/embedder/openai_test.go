package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embeddingStub(t *testing.T, vectors [][]float32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		data := make([]map[string]any, len(vectors))
		for i, v := range vectors {
			data[i] = map[string]any{"index": i, "embedding": v}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"data":  data,
			"model": "text-embedding-3-small",
		}))
	}))
}

func TestEmbed(t *testing.T) {
	server := embeddingStub(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}})
	defer server.Close()

	client, err := NewOpenAIEmbedder("key", Config{Dimensions: 2, BaseURL: server.URL})
	require.NoError(t, err)

	vectors, err := client.Embed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.2}, vectors[0])
	assert.Equal(t, []float32{0.3, 0.4}, vectors[1])
	assert.Equal(t, 2, client.Dimensions())
}

func TestEmbedSingle(t *testing.T) {
	server := embeddingStub(t, [][]float32{{0.5, 0.6}})
	defer server.Close()

	client, err := NewOpenAIEmbedder("key", Config{BaseURL: server.URL})
	require.NoError(t, err)

	vector, err := client.EmbedSingle(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.6}, vector)
}

func TestNewOpenAIEmbedderProxyMisconfigured(t *testing.T) {
	t.Setenv("PROXY_USE", "true")
	t.Setenv("OPENAI_PROXY", "")

	_, err := NewOpenAIEmbedder("key", Config{})
	assert.Error(t, err)
}

func TestEmbedHonorsNoProxyBypass(t *testing.T) {
	server := embeddingStub(t, [][]float32{{0.7, 0.8}})
	defer server.Close()

	// The proxy target is unreachable; the request only succeeds because
	// the stub's host is on the NO_PROXY list.
	t.Setenv("PROXY_USE", "true")
	t.Setenv("OPENAI_PROXY", "http://127.0.0.1:1")
	t.Setenv("NO_PROXY", "127.0.0.1")

	client, err := NewOpenAIEmbedder("key", Config{BaseURL: server.URL})
	require.NoError(t, err)

	vector, err := client.EmbedSingle(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.7, 0.8}, vector)
}

func TestEmbedEmptyInput(t *testing.T) {
	client, err := NewOpenAIEmbedder("key", Config{})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedCountMismatch(t *testing.T) {
	server := embeddingStub(t, [][]float32{{0.1}})
	defer server.Close()

	client, err := NewOpenAIEmbedder("key", Config{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), []string{"alpha", "beta"})
	assert.Error(t, err)
}
