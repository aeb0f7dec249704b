package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// EmbeddingConfig holds API settings for text embedding (OpenAI-compatible).
type EmbeddingConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Embed returns the embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, cfg EmbeddingConfig, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("embedding input is empty")
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/embeddings"
	raw, err := c.postJSON(ctx, url, cfg.APIKey, map[string]interface{}{
		"model": cfg.Model,
		"input": text,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding %w", err)
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding json failed: %w", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding in response")
	}
	return parsed.Data[0].Embedding, nil
}

// EmbedBatch returns embeddings for multiple texts in one API call. Inputs
// are trimmed; fully empty batches are an error.
func (c *Client) EmbedBatch(ctx context.Context, cfg EmbeddingConfig, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	trimmed := make([]string, 0, len(texts))
	for _, t := range texts {
		if s := strings.TrimSpace(t); s != "" {
			trimmed = append(trimmed, s)
		}
	}
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("no non-empty texts for embedding")
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/embeddings"
	raw, err := c.postJSON(ctx, url, cfg.APIKey, map[string]interface{}{
		"model": cfg.Model,
		"input": trimmed,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding batch %w", err)
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding batch json failed: %w", err)
	}
	result := make([][]float32, len(parsed.Data))
	for i := range parsed.Data {
		result[i] = parsed.Data[i].Embedding
	}
	return result, nil
}
