package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const defaultEmbeddingModel = "text-embedding-3-small"

// Embed implements memory.Embedder against an OpenAI-compatible
// /embeddings endpoint. Used to vectorize Archival Memory content and
// Auto-RAG queries.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body := map[string]interface{}{
		"model": defaultEmbeddingModel,
		"input": text,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal embed request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+"/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create embed request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: embed request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &HTTPError{Status: resp.StatusCode, Body: fmt.Sprintf("%s: %s", p.name, string(respBody))}
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%s: decode embed response: %w", p.name, err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("%s: embed response had no data", p.name)
	}
	return parsed.Data[0].Embedding, nil
}
