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

// OllamaLLMProvider implements LLMProvider against Ollama's /api/chat
// endpoint, mirroring OpenAILLMProvider's shape for the completion side of
// a locally-hosted model.
type OllamaLLMProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaLLMProvider creates a chat-completion client for an Ollama server.
func NewOllamaLLMProvider(cfg OllamaConfig) (*OllamaLLMProvider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = "llama3.2"
	}
	return &OllamaLLMProvider{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done           bool `json:"done"`
	EvalCount      int  `json:"eval_count"`
	PromptEvalCount int `json:"prompt_eval_count"`
}

// GenerateCompletion issues a non-streaming chat completion.
func (p *OllamaLLMProvider) GenerateCompletion(req *CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	body := ollamaChatRequest{
		Model:    model,
		Messages: req.Messages,
		Stream:   false,
		Options:  ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequest("POST", p.baseURL+"api/chat", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama: read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: request failed with status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var resp ollamaChatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("ollama: parse response: %w", err)
	}

	finishReason := ""
	if resp.Done {
		finishReason = "stop"
	}
	return &CompletionResponse{
		Content: resp.Message.Content,
		Model:   resp.Model,
		TokensUsed: &TokenUsage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
		FinishReason: finishReason,
	}, nil
}

// GenerateCompletionStream is not implemented for Ollama in this module; the
// retrieval agent only needs synchronous completions for its decision loop.
func (p *OllamaLLMProvider) GenerateCompletionStream(req *CompletionRequest) (<-chan *CompletionChunk, error) {
	return nil, fmt.Errorf("ollama: streaming completions not supported")
}

// GetAvailableModels returns the known chat models for Ollama.
func (p *OllamaLLMProvider) GetAvailableModels() ([]string, error) {
	return DefaultChatModels["ollama"], nil
}

// GetDefaultModel returns the configured default model.
func (p *OllamaLLMProvider) GetDefaultModel() string { return p.model }

// ValidateConfig checks that a base URL is configured; it does not contact
// the provider.
func (p *OllamaLLMProvider) ValidateConfig() error {
	if p.baseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	return nil
}

// Name returns the provider name.
func (p *OllamaLLMProvider) Name() string { return "ollama" }
