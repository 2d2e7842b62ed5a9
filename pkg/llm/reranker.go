package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RerankResult is one scored candidate returned by a reranker.
type RerankResult struct {
	Index int     // index into the original documents slice
	Score float32 // relevance score, higher is more relevant
}

// RerankProvider defines the interface for cross-encoder reranking services,
// the "reranker endpoint" the spec names as an external collaborator invoked
// by the retrieval agent between vector search and the LLM decision loop.
type RerankProvider interface {
	// Rerank scores documents against query and returns results ordered by
	// descending score, truncated to topN (topN <= 0 means return all).
	Rerank(query string, documents []string, topN int) ([]RerankResult, error)

	// Name returns the provider name.
	Name() string
}

// HTTPReranker implements RerankProvider against a Cohere/Jina-shaped
// rerank endpoint (POST {query, documents, top_n, model} -> {results:
// [{index, relevance_score}]}), the de facto wire shape shared by most
// self-hosted cross-encoder servers.
type HTTPReranker struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// RerankerConfig holds the configuration for an HTTP reranker client.
type RerankerConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewHTTPReranker creates a reranker client bound to cfg.BaseURL.
func NewHTTPReranker(cfg RerankerConfig) (*HTTPReranker, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("reranker base URL is required")
	}
	baseURL := cfg.BaseURL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = "rerank-english-v3.0"
	}
	return &HTTPReranker{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float32 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores documents against query via the configured HTTP endpoint.
func (r *HTTPReranker) Rerank(query string, documents []string, topN int) ([]RerankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	body := rerankRequest{Model: r.model, Query: query, Documents: documents, TopN: topN}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("rerank: marshal request: %w", err)
	}

	httpReq, err := http.NewRequest("POST", r.baseURL+"rerank", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("rerank: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	httpResp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rerank: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("rerank: read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank: request failed with status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var resp rerankResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("rerank: parse response: %w", err)
	}

	results := make([]RerankResult, len(resp.Results))
	for i, r := range resp.Results {
		results[i] = RerankResult{Index: r.Index, Score: r.RelevanceScore}
	}
	return results, nil
}

// Name returns the provider name.
func (r *HTTPReranker) Name() string { return "http" }
