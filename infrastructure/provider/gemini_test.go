package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestGeminiProvider_Embed(t *testing.T) {
	var paths []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		var body struct {
			Requests []json.RawMessage `json:"requests"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		embeddings := make([]map[string]any, len(body.Requests))
		for i := range body.Requests {
			embeddings[i] = map[string]any{"values": []float32{float32(i), 0.5}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings})
	}))
	defer ts.Close()

	p, err := NewGeminiProvider(context.Background(), GeminiConfig{
		APIKey:        "test-key",
		Model:         "text-embedding-004",
		ClientOptions: []option.ClientOption{option.WithEndpoint(ts.URL)},
	})
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	vectors, err := p.Embed(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0, 0.5}, vectors[0])
	assert.Equal(t, []float32{1, 0.5}, vectors[1])

	require.Len(t, paths, 1)
	assert.True(t, strings.HasSuffix(paths[0], ":batchEmbedContents"), paths[0])
	assert.Equal(t, "gemini", p.Name())
}

func TestGeminiProvider_EmbedEmpty(t *testing.T) {
	p, err := NewGeminiProvider(context.Background(), GeminiConfig{
		APIKey:        "test-key",
		Model:         "text-embedding-004",
		ClientOptions: []option.ClientOption{option.WithEndpoint("http://127.0.0.1:1")},
	})
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	vectors, err := p.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}
