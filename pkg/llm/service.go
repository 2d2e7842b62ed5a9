package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"docindex/pkg/config"
	"docindex/pkg/logger"
)

// Service bundles the three external model capabilities the rest of the
// module needs (embedding, chat completion, reranking) behind one
// provider-agnostic facade, selecting OpenAI- or Ollama-shaped clients
// per config.ModelConfig.Provider. This is the capability-interface pattern:
// callers depend on Embedder/Completer/Reranker, never on a concrete
// provider type.
type Service struct {
	mu sync.RWMutex
	cfg *config.Config

	embedders   map[string]EmbeddingProvider
	completers  map[string]LLMProvider
	reranker    RerankProvider
	provider    string
}

// NewService constructs a Service bound to cfg (the process-wide config if
// nil).
func NewService(cfg *config.Config) *Service {
	if cfg == nil {
		cfg = config.Get()
	}
	return &Service{
		cfg:        cfg,
		embedders:  make(map[string]EmbeddingProvider),
		completers: make(map[string]LLMProvider),
		provider:   cfg.GetModelConfig().Provider,
	}
}

// Initialize constructs provider clients for every configured backend.
func (s *Service) Initialize() error {
	timer := logger.StartTimer()
	s.mu.Lock()
	defer s.mu.Unlock()

	modelCfg := s.cfg.GetModelConfig()
	s.provider = modelCfg.Provider

	if modelCfg.OpenAI.APIKey != "" {
		embedder, err := NewOpenAIProvider(OpenAIConfig{
			APIKey:         modelCfg.OpenAI.APIKey,
			BaseURL:        modelCfg.OpenAI.BaseURL,
			Organization:   modelCfg.OpenAI.Organization,
			Timeout:        30 * time.Second,
			EmbeddingModel: modelCfg.EmbeddingModel,
		})
		if err == nil {
			s.embedders["openai"] = embedder
		} else {
			logger.Warn("openai embedding provider: %v", err)
		}

		completer, err := NewOpenAILLMProvider(modelCfg.OpenAI)
		if err == nil {
			s.completers["openai"] = completer
		} else {
			logger.Warn("openai completion provider: %v", err)
		}
	}

	ollamaEmbedCfg := OllamaConfig{
		BaseURL: modelCfg.Ollama.BaseURL,
		Model:   modelCfg.EmbeddingModel,
		Timeout: time.Duration(modelCfg.Ollama.TimeoutSec) * time.Second,
	}
	if embedder, err := NewOllamaProvider(ollamaEmbedCfg); err == nil {
		s.embedders["ollama"] = embedder
	} else {
		logger.Warn("ollama embedding provider: %v", err)
	}

	ollamaChatCfg := OllamaConfig{
		BaseURL: modelCfg.Ollama.BaseURL,
		Model:   modelCfg.ChatModel,
		Timeout: time.Duration(modelCfg.Ollama.TimeoutSec) * time.Second,
	}
	if completer, err := NewOllamaLLMProvider(ollamaChatCfg); err == nil {
		s.completers["ollama"] = completer
	} else {
		logger.Warn("ollama completion provider: %v", err)
	}

	if modelCfg.RerankEndpoint != "" {
		reranker, err := NewHTTPReranker(RerankerConfig{
			BaseURL: modelCfg.RerankEndpoint,
			Model:   modelCfg.RerankModel,
			Timeout: 30 * time.Second,
		})
		if err == nil {
			s.reranker = reranker
		} else {
			logger.Warn("reranker client: %v", err)
		}
	}

	if len(s.embedders) == 0 {
		return fmt.Errorf("no embedding provider available")
	}
	if _, ok := s.embedders[s.provider]; !ok {
		for name := range s.embedders {
			s.provider = name
			break
		}
	}

	logger.InfoWithDuration(context.Background(), timer(), "llm service initialized with providers %v", s.getProviderNamesLocked())
	return nil
}

func (s *Service) getProviderNamesLocked() []string {
	names := make([]string, 0, len(s.embedders))
	for name := range s.embedders {
		names = append(names, name)
	}
	return names
}

// embedder returns the active embedding provider.
func (s *Service) embedder() (EmbeddingProvider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.embedders[s.provider]
	if !ok {
		return nil, fmt.Errorf("embedding provider %q not available", s.provider)
	}
	return p, nil
}

// completer returns the active completion provider.
func (s *Service) completer() (LLMProvider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.completers[s.provider]
	if !ok {
		return nil, fmt.Errorf("completion provider %q not available", s.provider)
	}
	return p, nil
}

// SetProvider switches the active embedding/completion provider.
func (s *Service) SetProvider(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.embedders[name]; !ok {
		return fmt.Errorf("provider %q not configured", name)
	}
	s.provider = name
	return nil
}

// Embed generates an embedding for a single text with retry.
func (s *Service) Embed(text string) (*EmbeddingResponse, error) {
	provider, err := s.embedder()
	if err != nil {
		return nil, err
	}
	var resp *EmbeddingResponse
	err = retryWithBackoff(func() error {
		var opErr error
		resp, opErr = provider.GenerateEmbedding(&EmbeddingRequest{
			Text:  text,
			Model: s.cfg.GetModelConfig().EmbeddingModel,
		})
		return opErr
	})
	return resp, err
}

// EmbedBatch generates embeddings for multiple texts, splitting into
// provider-sized batches.
func (s *Service) EmbedBatch(texts []string) ([]*EmbeddingResponse, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	provider, err := s.embedder()
	if err != nil {
		return nil, err
	}

	batchSize := s.cfg.GetModelConfig().BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	var all []*EmbeddingResponse
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		var results []*EmbeddingResponse
		err := retryWithBackoff(func() error {
			var opErr error
			results, opErr = provider.GenerateEmbeddingsBatch(batch)
			return opErr
		})
		if err != nil {
			return all, fmt.Errorf("batch %d-%d failed: %w", i, end, err)
		}
		all = append(all, results...)
	}
	return all, nil
}

// Complete issues a chat completion against the active provider.
func (s *Service) Complete(messages []ChatMessage) (*CompletionResponse, error) {
	provider, err := s.completer()
	if err != nil {
		return nil, err
	}
	modelCfg := s.cfg.GetModelConfig()

	var resp *CompletionResponse
	err = retryWithBackoff(func() error {
		var opErr error
		resp, opErr = provider.GenerateCompletion(&CompletionRequest{
			Messages:    messages,
			Model:       modelCfg.ChatModel,
			Temperature: s.cfg.GetRAGConfig().Temperature,
			MaxTokens:   DefaultMaxTokens,
		})
		return opErr
	})
	return resp, err
}

// Rerank scores documents against query, falling back to a no-op passthrough
// (original order, zero scores) if no reranker endpoint is configured —
// the spec treats the reranker as an optional external collaborator.
func (s *Service) Rerank(query string, documents []string, topN int) ([]RerankResult, error) {
	s.mu.RLock()
	reranker := s.reranker
	s.mu.RUnlock()

	if reranker == nil {
		results := make([]RerankResult, len(documents))
		for i := range documents {
			results[i] = RerankResult{Index: i}
		}
		if topN > 0 && topN < len(results) {
			results = results[:topN]
		}
		return results, nil
	}
	return reranker.Rerank(query, documents, topN)
}

// GetModelDimension returns the active embedding provider's output dimension.
func (s *Service) GetModelDimension() (int, error) {
	provider, err := s.embedder()
	if err != nil {
		return 0, err
	}
	model := s.cfg.GetModelConfig().EmbeddingModel
	if model == "" {
		model = provider.GetDefaultModel()
	}
	return provider.GetModelDimension(model)
}

// retryWithBackoff executes an operation with exponential backoff retries.
func retryWithBackoff(operation func() error) error {
	maxRetries := 3
	backoff := 500 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		if err = operation(); err == nil {
			return nil
		}
		if i < maxRetries-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return err
}
