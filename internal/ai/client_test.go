package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body["model"])
		assert.InDelta(t, 0.3, body["temperature"], 1e-9)
		assert.Equal(t, false, body["stream"])

		fmt.Fprint(w, `{"choices":[{"message":{"content":"resposta"}}]}`)
	}))
	defer srv.Close()

	client := NewClient()
	cfg := ChatConfig{BaseURL: srv.URL + "/v1", APIKey: "test-key", Model: "gpt-4o-mini", Temperature: 0.3}

	answer, err := client.Complete(context.Background(), cfg, []ChatMessage{{Role: "user", Content: "oi"}})
	require.NoError(t, err)
	assert.Equal(t, "resposta", answer)
}

func TestCompleteErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient()
	cfg := ChatConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"}

	_, err := client.Complete(context.Background(), cfg, []ChatMessage{{Role: "user", Content: "oi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	client := NewClient()
	cfg := ChatConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"}

	_, err := client.Complete(context.Background(), cfg, []ChatMessage{{Role: "user", Content: "oi"}})
	assert.Error(t, err)
}

func TestStreamComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Olá\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\", mundo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewClient()
	cfg := ChatConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"}

	var chunks []string
	full, err := client.StreamComplete(context.Background(), cfg, []ChatMessage{{Role: "user", Content: "oi"}}, func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Olá, mundo", full)
	assert.Equal(t, []string{"Olá", ", mundo"}, chunks)
}

func TestStreamCompleteCallbackError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewClient()
	cfg := ChatConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"}

	wantErr := fmt.Errorf("client went away")
	_, err := client.StreamComplete(context.Background(), cfg, nil, func(string) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		fmt.Fprint(w, `{"data":[{"embedding":[0.1,0.2,0.3]}]}`)
	}))
	defer srv.Close()

	client := NewClient()
	cfg := EmbeddingConfig{BaseURL: srv.URL, APIKey: "k", Model: "text-embedding-3-small"}

	vec, err := client.Embed(context.Background(), cfg, "texto")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbedEmptyInput(t *testing.T) {
	client := NewClient()
	_, err := client.Embed(context.Background(), EmbeddingConfig{}, "   ")
	assert.Error(t, err)
}

func TestEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"um", "dois"}, body.Input)

		fmt.Fprint(w, `{"data":[{"embedding":[1,0]},{"embedding":[0,1]}]}`)
	}))
	defer srv.Close()

	client := NewClient()
	cfg := EmbeddingConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"}

	vecs, err := client.EmbedBatch(context.Background(), cfg, []string{"um", " dois "})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1}, vecs[1])
}

func TestEmbedBatchNoTexts(t *testing.T) {
	client := NewClient()

	vecs, err := client.EmbedBatch(context.Background(), EmbeddingConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)

	_, err = client.EmbedBatch(context.Background(), EmbeddingConfig{}, []string{"", "  "})
	assert.Error(t, err)
}
