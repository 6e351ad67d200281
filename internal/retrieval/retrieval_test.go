package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_Query(t *testing.T) {
	var got queryRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query", r.URL.Path)
		assert.Equal(t, "pk", r.Header.Get("Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"matches":[
			{"id":"b","score":0.5,"metadata":{"text":"older"}},
			{"id":"a","score":0.9,"metadata":{"product_title":"Faucet","model_no":"FL-1"}},
			{"id":"c","score":0.7}
		]}`))
	}))
	defer srv.Close()

	idx, err := NewIndex("images", srv.URL, "pk", "ns", ProductSummary, srv.Client())
	require.NoError(t, err)

	hits, err := idx.Query(context.Background(), []float64{0.1, 0.2}, 2, map[string]any{"ticket_id": map[string]any{"$ne": "1"}})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "Product_title: Faucet | Model_no: FL-1", hits[0].Content)
	assert.Equal(t, "c", hits[1].ID)
	assert.NotNil(t, hits[1].Metadata)
	assert.Equal(t, "Product Match", hits[1].Content)

	assert.Equal(t, 2, got.TopK)
	assert.True(t, got.IncludeMetadata)
	assert.Equal(t, "ns", got.Namespace)
	assert.Contains(t, got.Filter, "ticket_id")
}

func TestIndex_QueryErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	idx, err := NewIndex("docs", srv.URL, "pk", "", nil, srv.Client())
	require.NoError(t, err)

	_, err = idx.Query(context.Background(), []float64{1}, 3, nil)
	assert.ErrorContains(t, err, "status 403")

	_, err = idx.Query(context.Background(), nil, 3, nil)
	assert.ErrorContains(t, err, "empty query vector")

	_, err = NewIndex("docs", "", "pk", "", nil, nil)
	assert.Error(t, err)
}

func TestSummaries(t *testing.T) {
	assert.Equal(t, "Past Ticket", TicketSummary(map[string]any{}))
	assert.Equal(t, "resolved by swap", TicketSummary(map[string]any{"summary": "resolved by swap"}))
	assert.Equal(t, "chunk text", DocSummary(map[string]any{"content": "chunk text"}))
	assert.Equal(t, "", DocSummary(map[string]any{"title": "Manual"}))
}

func TestTextEmbedder_OpenAICompatible(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer ek", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embed","data":[{"object":"embedding","index":0,"embedding":[1,0.5]},{"object":"embedding","index":1,"embedding":[2,0.25]}]}`))
	}))
	defer srv.Close()

	e, err := NewTextEmbedder(context.Background(), EmbeddingConfig{BaseURL: srv.URL + "/", APIKey: "ek", Model: "text-embed"}, srv.Client())
	require.NoError(t, err)

	vecs, err := e.EmbedStrings(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0.5}, {2, 0.25}}, vecs)
	assert.Equal(t, "text-embed", body["model"])
	assert.Equal(t, []any{"a", "b"}, body["input"])
}

func TestTextEmbedder_ConfigErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewTextEmbedder(ctx, EmbeddingConfig{BaseURL: "http://x"}, nil)
	assert.ErrorContains(t, err, "model is required")

	_, err = NewTextEmbedder(ctx, EmbeddingConfig{Model: "m"}, nil)
	assert.ErrorContains(t, err, "base url is required")

	_, err = NewTextEmbedder(ctx, EmbeddingConfig{Provider: "cohere", Model: "m"}, nil)
	assert.ErrorContains(t, err, "unknown provider")
}

func TestImageEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["image_url"] == "bad" {
			_, _ = w.Write([]byte(`{"embedding":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"embedding":[0.5,0.5]}`))
	}))
	defer srv.Close()

	e, err := NewImageEmbedder(EmbeddingConfig{ImageURL: srv.URL}, srv.Client())
	require.NoError(t, err)

	v, err := e.EmbedImage(context.Background(), "https://cdn/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5}, v)

	_, err = e.EmbedImage(context.Background(), "bad")
	assert.ErrorContains(t, err, "empty vector")
}
