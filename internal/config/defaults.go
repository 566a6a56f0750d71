package config

import "time"

// Provider names accepted in embedding.provider and generation.provider.
const (
	ProviderONNX   = "onnx"
	ProviderOllama = "ollama"
	ProviderMock   = "mock"
	ProviderGemini = "gemini"
)

// Default values used by ApplyDefaults.
const (
	DefaultChunkTarget     = 1000
	DefaultChunkOverlap    = 200
	DefaultMinTextChars    = 10
	DefaultTopK            = 5
	DefaultMaxContextChars = 8000
	DefaultGenerationModel = "gemini-2.5-flash"
	DefaultTemperature     = 0.3
	DefaultEmbeddingModel  = "paraphrase-multilingual-MiniLM-L12-v2"
	DefaultDimensions      = 384
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 64 << 20
	}
	if cfg.Storage.DocumentsDir == "" {
		cfg.Storage.DocumentsDir = "./storage/pdfs"
	}
	if cfg.Storage.IndexDir == "" {
		cfg.Storage.IndexDir = "./storage/vector_db"
	}
	if cfg.Storage.LedgerPath == "" {
		cfg.Storage.LedgerPath = "./storage/ledger.db"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderONNX
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = DefaultEmbeddingModel
	}
	if cfg.Embedding.Provider == ProviderONNX && cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "./models/" + cfg.Embedding.Model + ".onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = DefaultDimensions
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 128
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if len(cfg.Embedding.InputNames) == 0 {
		cfg.Embedding.InputNames = []string{"input_ids", "attention_mask", "token_type_ids"}
	}
	if cfg.Embedding.OutputName == "" {
		cfg.Embedding.OutputName = "sentence_embedding"
	}
	if cfg.Embedding.OllamaURL == "" {
		cfg.Embedding.OllamaURL = "http://localhost:11434"
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 60 * time.Second
	}

	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = ProviderGemini
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = DefaultGenerationModel
	}
	// Temperature 0 is valid, so only an unset value gets the default.
	if cfg.Generation.Temperature == nil {
		t := DefaultTemperature
		cfg.Generation.Temperature = &t
	}
	if cfg.Generation.BaseURL == "" {
		switch cfg.Generation.Provider {
		case ProviderOllama:
			cfg.Generation.BaseURL = "http://localhost:11434"
		default:
			cfg.Generation.BaseURL = "https://generativelanguage.googleapis.com"
		}
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 120 * time.Second
	}
	if cfg.Generation.RequestsPerSecond == 0 {
		cfg.Generation.RequestsPerSecond = 1
	}
	if cfg.Generation.Burst == 0 {
		cfg.Generation.Burst = 2
	}

	if cfg.Chunking.TargetSize == 0 {
		cfg.Chunking.TargetSize = DefaultChunkTarget
	}
	// A zero overlap in the file means "unset" unless the target is too small for the default.
	if cfg.Chunking.Overlap == 0 && cfg.Chunking.TargetSize > DefaultChunkOverlap {
		cfg.Chunking.Overlap = DefaultChunkOverlap
	}
	if cfg.Chunking.MinTextChars == 0 {
		cfg.Chunking.MinTextChars = DefaultMinTextChars
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = DefaultTopK
	}
	if cfg.Retrieval.MaxContextChars == 0 {
		cfg.Retrieval.MaxContextChars = DefaultMaxContextChars
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".pdf", ".txt", ".md", ".docx", ".xlsx", ".pptx", ".odp", ".ods", ".odt", ".rtf"}
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
	if cfg.Watch.StableInterval == 0 {
		cfg.Watch.StableInterval = time.Second
	}
	if cfg.Watch.StableChecks == 0 {
		cfg.Watch.StableChecks = 10
	}
}
