package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config holds the process-wide configuration for a docindex component.
// Every component (oracle, watcher, preprocessor, postprocessor, mailbox,
// retrieval) loads the same shape and reads only the sections it needs.
type Config struct {
	mu         sync.RWMutex
	configPath string

	Watch     WatchConfig     `json:"watch"`
	Transport TransportConfig `json:"transport"`
	Chunking  ChunkingConfig  `json:"chunking"`
	Model     ModelConfig     `json:"model"`
	RAG       RAGConfig       `json:"rag"`
	Mailbox   MailboxConfig   `json:"mailbox"`
}

// WatchConfig controls the watched root and accepted file kinds.
type WatchConfig struct {
	Root              string   `json:"watch_root"`
	AllowedExtensions []string `json:"allowed_extensions"`
	DebounceMS        int      `json:"debounce_ms"`
	Workers           int      `json:"workers"`
	IngestUserID      string   `json:"ingest_user_id"` // OS identity of the watcher process
}

// TransportConfig holds the bus endpoints named in spec section 6.
type TransportConfig struct {
	PushPort      int `json:"push_port"`      // watcher -> preprocessor
	RouterPort    int `json:"router_port"`    // watcher raw-file fetch
	AccessPort    int `json:"access_port"`    // access oracle req/rep
	PreprocessIn  int `json:"preprocess_in"`  // preprocessor -> postprocessor push
	PreprocessReq int `json:"preprocess_req"` // preprocessor on-demand-fetch req/rep
	PreprocessOut int `json:"preprocess_out"` // accepted in config files but not read by any component
	MailboxPort   int `json:"mailbox_port"`   // postprocessor -> mailbox req/rep (HTTP uses Mailbox.HTTPPort)
	RetrievalPort int `json:"retrieval_port"` // retrieval agent HTTP

	IntraClusterDeadlineMS int `json:"intra_cluster_deadline_ms"`
	ModelDeadlineMS        int `json:"model_deadline_ms"`
	ShutdownGraceMS        int `json:"shutdown_grace_ms"`
}

// ChunkingConfig controls the LLM-guided semantic chunking algorithm.
type ChunkingConfig struct {
	WindowSize        int `json:"chunk_window"`
	WindowOverlap     int `json:"chunk_overlap"`
	FallbackGroupSize int `json:"fallback_group_size"`
	FallbackMinGroup  int `json:"fallback_min_group"`
	FallbackMaxGroup  int `json:"fallback_max_group"`
	SummarizeFanOut   int `json:"summarize_fan_out"`
}

// ModelConfig holds the external model endpoints. Out of scope for this
// module's own logic, but every call site threads these through explicitly
// rather than reading process-wide globals (spec section 9 design note).
type ModelConfig struct {
	LLMEndpoint    string `json:"llm_endpoint"`
	EmbedEndpoint  string `json:"embed_endpoint"`
	RerankEndpoint string `json:"rerank_endpoint"`

	Provider       string `json:"provider"` // "openai" or "ollama"
	EmbeddingModel string `json:"embedding_model"`
	ChatModel      string `json:"chat_model"`
	RerankModel    string `json:"rerank_model"`

	OpenAI OpenAIConfig `json:"openai"`
	Ollama OllamaConfig `json:"ollama"`

	BatchSize int `json:"batch_size"`
}

// OpenAIConfig holds OpenAI-shaped provider configuration.
type OpenAIConfig struct {
	APIKey       string `json:"api_key"`
	BaseURL      string `json:"base_url"`
	Organization string `json:"organization"`
}

// OllamaConfig holds Ollama-shaped provider configuration.
type OllamaConfig struct {
	BaseURL    string `json:"base_url"`
	TimeoutSec int    `json:"timeout_seconds"`
}

// RAGConfig controls the retrieval agent's iteration loop.
type RAGConfig struct {
	DefaultMode      string  `json:"mode"`
	TopN             int     `json:"top_n"`
	Temperature      float32 `json:"temperature"`
	SystemPrompt     string  `json:"system_prompt"`
	MaxContextChunks int     `json:"max_context_chunks"`
}

// MailboxConfig controls the notification mailbox.
type MailboxConfig struct {
	HTTPPort int `json:"http_port"`
}

var (
	globalConfig *Config
	once         sync.Once
)

func New() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// Get returns the process-wide configuration instance, initialized with
// defaults on first use.
func Get() *Config {
	once.Do(func() {
		globalConfig = New()
	})
	return globalConfig
}

func (c *Config) setDefaults() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Watch.Root = "./watched"
	c.Watch.AllowedExtensions = []string{".txt", ".docx", ".pdf", ".hwp"}
	c.Watch.DebounceMS = 500
	c.Watch.Workers = 4
	c.Watch.IngestUserID = "watcher"

	c.Transport.PushPort = 5555
	c.Transport.RouterPort = 5556
	c.Transport.AccessPort = 5559
	c.Transport.PreprocessIn = 5557
	c.Transport.PreprocessReq = 5558
	c.Transport.PreprocessOut = 5557
	c.Transport.MailboxPort = 5560
	c.Transport.RetrievalPort = 5561
	c.Transport.IntraClusterDeadlineMS = 5000
	c.Transport.ModelDeadlineMS = 30000
	c.Transport.ShutdownGraceMS = 2000

	c.Chunking.WindowSize = 1000
	c.Chunking.WindowOverlap = 200
	c.Chunking.FallbackGroupSize = 8
	c.Chunking.FallbackMinGroup = 3
	c.Chunking.FallbackMaxGroup = 10
	c.Chunking.SummarizeFanOut = 6

	c.Model.Provider = "ollama"
	c.Model.EmbeddingModel = "nomic-embed-text"
	c.Model.ChatModel = "gpt-4o-mini"
	c.Model.RerankModel = ""
	c.Model.BatchSize = 32
	c.Model.OpenAI.BaseURL = "https://api.openai.com/v1"
	c.Model.Ollama.BaseURL = "http://localhost:11434"
	c.Model.Ollama.TimeoutSec = 30

	c.RAG.DefaultMode = "normal"
	c.RAG.TopN = 5
	c.RAG.Temperature = 0.3
	c.RAG.MaxContextChunks = 10

	c.Mailbox.HTTPPort = 5001
}

// LoadFromFile loads configuration from a JSON file, falling back to
// defaults for any field absent from the file.
func (c *Config) LoadFromFile(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.configPath = path

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	temp := Config{}
	// Fields where 0 is a valid setting start negative, so an absent field
	// can be told apart from an explicit 0 in mergeWithDefaults.
	temp.Chunking.WindowOverlap = -1
	temp.RAG.Temperature = -1
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	c.mergeWithDefaults(&temp)
	return nil
}

// SaveToFile persists the current configuration to a JSON file.
func (c *Config) SaveToFile(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Save persists to the path passed to the last LoadFromFile call.
func (c *Config) Save() error {
	c.mu.RLock()
	path := c.configPath
	c.mu.RUnlock()
	if path == "" {
		return errors.New("no config path set")
	}
	return c.SaveToFile(path)
}

func (c *Config) mergeWithDefaults(loaded *Config) {
	if loaded.Watch.Root != "" {
		c.Watch.Root = loaded.Watch.Root
	}
	if len(loaded.Watch.AllowedExtensions) > 0 {
		c.Watch.AllowedExtensions = loaded.Watch.AllowedExtensions
	}
	if loaded.Watch.DebounceMS > 0 {
		c.Watch.DebounceMS = loaded.Watch.DebounceMS
	}
	if loaded.Watch.Workers > 0 {
		c.Watch.Workers = loaded.Watch.Workers
	}
	if loaded.Watch.IngestUserID != "" {
		c.Watch.IngestUserID = loaded.Watch.IngestUserID
	}

	if loaded.Transport.PushPort > 0 {
		c.Transport.PushPort = loaded.Transport.PushPort
	}
	if loaded.Transport.RouterPort > 0 {
		c.Transport.RouterPort = loaded.Transport.RouterPort
	}
	if loaded.Transport.AccessPort > 0 {
		c.Transport.AccessPort = loaded.Transport.AccessPort
	}
	if loaded.Transport.PreprocessIn > 0 {
		c.Transport.PreprocessIn = loaded.Transport.PreprocessIn
	}
	if loaded.Transport.PreprocessReq > 0 {
		c.Transport.PreprocessReq = loaded.Transport.PreprocessReq
	}
	if loaded.Transport.MailboxPort > 0 {
		c.Transport.MailboxPort = loaded.Transport.MailboxPort
	}
	if loaded.Transport.RetrievalPort > 0 {
		c.Transport.RetrievalPort = loaded.Transport.RetrievalPort
	}
	if loaded.Transport.IntraClusterDeadlineMS > 0 {
		c.Transport.IntraClusterDeadlineMS = loaded.Transport.IntraClusterDeadlineMS
	}
	if loaded.Transport.ModelDeadlineMS > 0 {
		c.Transport.ModelDeadlineMS = loaded.Transport.ModelDeadlineMS
	}
	if loaded.Transport.ShutdownGraceMS > 0 {
		c.Transport.ShutdownGraceMS = loaded.Transport.ShutdownGraceMS
	}

	if loaded.Chunking.WindowSize > 0 {
		c.Chunking.WindowSize = loaded.Chunking.WindowSize
	}
	if loaded.Chunking.WindowOverlap >= 0 {
		c.Chunking.WindowOverlap = loaded.Chunking.WindowOverlap
	}
	if loaded.Chunking.FallbackGroupSize > 0 {
		c.Chunking.FallbackGroupSize = loaded.Chunking.FallbackGroupSize
	}
	if loaded.Chunking.FallbackMinGroup > 0 {
		c.Chunking.FallbackMinGroup = loaded.Chunking.FallbackMinGroup
	}
	if loaded.Chunking.FallbackMaxGroup > 0 {
		c.Chunking.FallbackMaxGroup = loaded.Chunking.FallbackMaxGroup
	}
	if loaded.Chunking.SummarizeFanOut > 0 {
		c.Chunking.SummarizeFanOut = loaded.Chunking.SummarizeFanOut
	}

	if loaded.Model.Provider != "" {
		c.Model.Provider = loaded.Model.Provider
	}
	if loaded.Model.LLMEndpoint != "" {
		c.Model.LLMEndpoint = loaded.Model.LLMEndpoint
	}
	if loaded.Model.EmbedEndpoint != "" {
		c.Model.EmbedEndpoint = loaded.Model.EmbedEndpoint
	}
	if loaded.Model.RerankEndpoint != "" {
		c.Model.RerankEndpoint = loaded.Model.RerankEndpoint
	}
	if loaded.Model.EmbeddingModel != "" {
		c.Model.EmbeddingModel = loaded.Model.EmbeddingModel
	}
	if loaded.Model.ChatModel != "" {
		c.Model.ChatModel = loaded.Model.ChatModel
	}
	if loaded.Model.RerankModel != "" {
		c.Model.RerankModel = loaded.Model.RerankModel
	}
	if loaded.Model.BatchSize > 0 {
		c.Model.BatchSize = loaded.Model.BatchSize
	}
	if loaded.Model.OpenAI.APIKey != "" {
		c.Model.OpenAI.APIKey = loaded.Model.OpenAI.APIKey
	}
	if loaded.Model.OpenAI.BaseURL != "" {
		c.Model.OpenAI.BaseURL = loaded.Model.OpenAI.BaseURL
	}
	if loaded.Model.OpenAI.Organization != "" {
		c.Model.OpenAI.Organization = loaded.Model.OpenAI.Organization
	}
	if loaded.Model.Ollama.BaseURL != "" {
		c.Model.Ollama.BaseURL = loaded.Model.Ollama.BaseURL
	}
	if loaded.Model.Ollama.TimeoutSec > 0 {
		c.Model.Ollama.TimeoutSec = loaded.Model.Ollama.TimeoutSec
	}

	if loaded.RAG.DefaultMode != "" {
		c.RAG.DefaultMode = loaded.RAG.DefaultMode
	}
	if loaded.RAG.TopN > 0 {
		c.RAG.TopN = loaded.RAG.TopN
	}
	if loaded.RAG.Temperature >= 0 {
		c.RAG.Temperature = loaded.RAG.Temperature
	}
	if loaded.RAG.SystemPrompt != "" {
		c.RAG.SystemPrompt = loaded.RAG.SystemPrompt
	}
	if loaded.RAG.MaxContextChunks > 0 {
		c.RAG.MaxContextChunks = loaded.RAG.MaxContextChunks
	}

	if loaded.Mailbox.HTTPPort > 0 {
		c.Mailbox.HTTPPort = loaded.Mailbox.HTTPPort
	}
}

// GetWatchConfig returns a copy of the watch configuration.
func (c *Config) GetWatchConfig() WatchConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Watch
}

// GetTransportConfig returns a copy of the transport configuration.
func (c *Config) GetTransportConfig() TransportConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Transport
}

// GetChunkingConfig returns a copy of the chunking configuration.
func (c *Config) GetChunkingConfig() ChunkingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Chunking
}

// SetChunkingConfig replaces the chunking configuration.
func (c *Config) SetChunkingConfig(cfg ChunkingConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Chunking = cfg
}

// GetModelConfig returns a copy of the model configuration.
func (c *Config) GetModelConfig() ModelConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Model
}

// SetModelConfig replaces the model configuration.
func (c *Config) SetModelConfig(cfg ModelConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Model = cfg
}

// GetRAGConfig returns a copy of the RAG configuration.
func (c *Config) GetRAGConfig() RAGConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RAG
}

// SetRAGConfig replaces the RAG configuration.
func (c *Config) SetRAGConfig(cfg RAGConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RAG = cfg
}

// GetMailboxConfig returns a copy of the mailbox configuration.
func (c *Config) GetMailboxConfig() MailboxConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Mailbox
}

// IsExtensionAllowed reports whether ext (including the leading dot, any
// case) is in the configured allow-list.
func (c *Config) IsExtensionAllowed(ext string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, allowed := range c.Watch.AllowedExtensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}
