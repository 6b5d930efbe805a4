package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	GlobalTimer   GlobalTimerConfig   `mapstructure:"global_timer"`
	Chunking      ChunkingConfig      `mapstructure:"chunking"`
	ChunksToLLM   int                 `mapstructure:"chunks_to_llm"`
	Dynamic       DynamicChunking     `mapstructure:"dynamic_chunking"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding_batch"`
	VectorSearch  VectorSearchConfig  `mapstructure:"vector_search"`
	Extraction    ExtractionConfig    `mapstructure:"text_extraction"`
	Security      SecurityConfig      `mapstructure:"security"`
	Streaming     StreamingConfig     `mapstructure:"streaming"`
	Providers     ProvidersConfig     `mapstructure:"providers"`
	EnableRacing  bool                `mapstructure:"enable_llm_racing"`
	MaxUploadMB   int                 `mapstructure:"max_upload_mb"`
	MaxDownloadMB int                 `mapstructure:"max_download_mb"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateBurst    int           `mapstructure:"rate_burst"`
	LogLevel     string        `mapstructure:"log_level"`
}

type GlobalTimerConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	TimeoutSeconds float64 `mapstructure:"timeout_seconds"`
}

// Timeout returns the configured global deadline, or zero when the
// timer is disabled (zero means "never expires" to the controller).
func (g GlobalTimerConfig) Timeout() time.Duration {
	if !g.Enabled {
		return 0
	}
	return time.Duration(g.TimeoutSeconds * float64(time.Second))
}

type ChunkingConfig struct {
	PageWise      PageWiseConfig      `mapstructure:"page_wise"`
	CharacterWise CharacterWiseConfig `mapstructure:"character_wise"`
	Recursive     RecursiveConfig     `mapstructure:"recursive"`
}

type PageWiseConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	PagesPerChunk int  `mapstructure:"pages_per_chunk"`
}

type CharacterWiseConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	ChunkSize         int     `mapstructure:"chunk_size"`
	Overlap           int     `mapstructure:"overlap"`
	MinChunkSizeRatio float64 `mapstructure:"min_chunk_size_ratio"`
}

type RecursiveConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	ChunkSize    int  `mapstructure:"chunk_size"`
	ChunkOverlap int  `mapstructure:"chunk_overlap"`
}

type DynamicChunking struct {
	PageThreshold            int `mapstructure:"page_threshold"`
	DefaultChunksToLLM       int `mapstructure:"default_chunks_to_llm"`
	LargeDocumentChunksToLLM int `mapstructure:"large_document_chunks_to_llm"`
}

// ChunksForPages selects the retrieval k for a document of the given
// page count.
func (d DynamicChunking) ChunksForPages(totalPages int) int {
	if d.PageThreshold > 0 && totalPages >= d.PageThreshold {
		return d.LargeDocumentChunksToLLM
	}
	return d.DefaultChunksToLLM
}

type EmbeddingConfig struct {
	Enabled                  bool          `mapstructure:"enabled"`
	BatchSize                int           `mapstructure:"batch_size"`
	EmbeddingTimeout         time.Duration `mapstructure:"embedding_timeout"`
	QuestionEmbeddingTimeout time.Duration `mapstructure:"question_embedding_timeout"`
}

type VectorSearchConfig struct {
	UseHNSW       bool `mapstructure:"use_hnsw"`
	HNSWThreshold int  `mapstructure:"hnsw_threshold"`
}

type ExtractionConfig struct {
	PDFMethod       string        `mapstructure:"pdf_method"` // "python-pymupdf" or "native"
	FallbackEnabled bool          `mapstructure:"fallback_enabled"`
	PythonService   SidecarConfig `mapstructure:"python_service"`
	PptxService     SidecarConfig `mapstructure:"pptx_service"`
}

type SidecarConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SecurityConfig struct {
	PromptInjectionProtection InjectionConfig `mapstructure:"prompt_injection_protection"`
}

type InjectionConfig struct {
	Enabled               bool `mapstructure:"enabled"`
	StrictMode            bool `mapstructure:"strict_mode"`
	MaxRiskScore          int  `mapstructure:"max_risk_score"`
	PreserveURLs          bool `mapstructure:"preserve_urls"`
	BlockHighRiskRequests bool `mapstructure:"block_high_risk_requests"`
}

type StreamingConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type ProvidersConfig struct {
	OpenAI OpenAIConfig `mapstructure:"openai"`
	Claude ClaudeConfig `mapstructure:"claude"`
}

type OpenAIConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	LLMModel       string `mapstructure:"llm_model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
}

type ClaudeConfig struct {
	APIKey   string `mapstructure:"api_key"`
	LLMModel string `mapstructure:"llm_model"`
}

func Load(configPath string) (*Config, error) {
	config := &Config{}

	if configPath != "" {
		absPath, _ := filepath.Abs(configPath)
		viper.SetConfigFile(absPath)
	} else {
		// Check order: ./docuquery.toml, then $HOME/.docuquery/docuquery.toml
		if _, err := os.Stat("docuquery.toml"); err == nil {
			abs, _ := filepath.Abs("docuquery.toml")
			viper.SetConfigFile(abs)
		} else if home, err := os.UserHomeDir(); err == nil {
			viper.SetConfigFile(filepath.Join(home, ".docuquery", "docuquery.toml"))
		}
	}

	setDefaults()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		if configPath != "" {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		// Default config is optional; continue with defaults
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "60s")
	viper.SetDefault("server.write_timeout", "60s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.cors_origins", []string{"*"})
	viper.SetDefault("server.rate_limit", 100)
	viper.SetDefault("server.rate_burst", 20)
	viper.SetDefault("server.log_level", "info")

	viper.SetDefault("global_timer.enabled", true)
	viper.SetDefault("global_timer.timeout_seconds", 29.5)

	viper.SetDefault("chunks_to_llm", 10)
	viper.SetDefault("dynamic_chunking.page_threshold", 100)
	viper.SetDefault("dynamic_chunking.default_chunks_to_llm", 10)
	viper.SetDefault("dynamic_chunking.large_document_chunks_to_llm", 15)

	viper.SetDefault("chunking.page_wise.enabled", true)
	viper.SetDefault("chunking.page_wise.pages_per_chunk", 1)
	viper.SetDefault("chunking.character_wise.enabled", false)
	viper.SetDefault("chunking.character_wise.chunk_size", 4000)
	viper.SetDefault("chunking.character_wise.overlap", 200)
	viper.SetDefault("chunking.character_wise.min_chunk_size_ratio", 0.5)
	viper.SetDefault("chunking.recursive.enabled", false)
	viper.SetDefault("chunking.recursive.chunk_size", 2000)
	viper.SetDefault("chunking.recursive.chunk_overlap", 200)

	viper.SetDefault("embedding_batch.enabled", true)
	viper.SetDefault("embedding_batch.batch_size", 250)
	viper.SetDefault("embedding_batch.embedding_timeout", "20s")
	viper.SetDefault("embedding_batch.question_embedding_timeout", "10s")

	viper.SetDefault("vector_search.use_hnsw", false)
	viper.SetDefault("vector_search.hnsw_threshold", 256)

	viper.SetDefault("enable_llm_racing", false)

	viper.SetDefault("text_extraction.pdf_method", "python-pymupdf")
	viper.SetDefault("text_extraction.fallback_enabled", true)
	viper.SetDefault("text_extraction.python_service.url", "http://localhost:8000")
	viper.SetDefault("text_extraction.python_service.timeout", "15s")
	viper.SetDefault("text_extraction.pptx_service.url", "http://localhost:8001")
	viper.SetDefault("text_extraction.pptx_service.timeout", "15s")

	viper.SetDefault("security.prompt_injection_protection.enabled", true)
	viper.SetDefault("security.prompt_injection_protection.strict_mode", false)
	viper.SetDefault("security.prompt_injection_protection.max_risk_score", 40)
	viper.SetDefault("security.prompt_injection_protection.preserve_urls", true)
	viper.SetDefault("security.prompt_injection_protection.block_high_risk_requests", true)

	viper.SetDefault("streaming.buffer_size", 4096)
	viper.SetDefault("streaming.flush_interval", "50ms")

	viper.SetDefault("providers.openai.llm_model", "gpt-4o-mini")
	viper.SetDefault("providers.openai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("providers.claude.llm_model", "claude-3-5-haiku-latest")

	viper.SetDefault("max_upload_mb", 50)
	viper.SetDefault("max_download_mb", 5000)
}

func bindEnvVars() {
	viper.SetEnvPrefix("DOCUQUERY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		"server.host":                       "DOCUQUERY_SERVER_HOST",
		"server.port":                       "DOCUQUERY_SERVER_PORT",
		"global_timer.enabled":              "DOCUQUERY_GLOBAL_TIMER_ENABLED",
		"global_timer.timeout_seconds":      "DOCUQUERY_GLOBAL_TIMER_TIMEOUT_SECONDS",
		"providers.openai.api_key":          "OPENAI_API_KEY",
		"providers.openai.base_url":         "OPENAI_BASE_URL",
		"providers.claude.api_key":          "ANTHROPIC_API_KEY",
		"text_extraction.python_service.url": "DOCUQUERY_PYTHON_SERVICE_URL",
		"text_extraction.pptx_service.url":   "DOCUQUERY_PPTX_SERVICE_URL",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			log.Printf("Warning: failed to bind %s env var: %v", key, err)
		}
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if c.GlobalTimer.Enabled && c.GlobalTimer.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds must be non-negative: %f", c.GlobalTimer.TimeoutSeconds)
	}

	if c.ChunksToLLM <= 0 {
		return fmt.Errorf("chunks_to_llm must be positive: %d", c.ChunksToLLM)
	}

	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding batch size must be positive: %d", c.Embedding.BatchSize)
	}

	if cw := c.Chunking.CharacterWise; cw.Enabled {
		if cw.ChunkSize <= 0 {
			return fmt.Errorf("character-wise chunk size must be positive: %d", cw.ChunkSize)
		}
		if cw.Overlap < 0 || cw.Overlap >= cw.ChunkSize {
			return fmt.Errorf("overlap must be between 0 and chunk size: %d", cw.Overlap)
		}
		if cw.MinChunkSizeRatio < 0 || cw.MinChunkSizeRatio > 1 {
			return fmt.Errorf("min_chunk_size_ratio must be in [0,1]: %f", cw.MinChunkSizeRatio)
		}
	}

	if r := c.Chunking.Recursive; r.Enabled {
		if r.ChunkSize <= 0 {
			return fmt.Errorf("recursive chunk size must be positive: %d", r.ChunkSize)
		}
		if r.ChunkOverlap < 0 || r.ChunkOverlap >= r.ChunkSize {
			return fmt.Errorf("recursive overlap must be between 0 and chunk size: %d", r.ChunkOverlap)
		}
	}

	validMethods := map[string]bool{"python-pymupdf": true, "native": true, "unpdf": true}
	if !validMethods[c.Extraction.PDFMethod] {
		return fmt.Errorf("invalid pdf_method: %s (supported: python-pymupdf, native)", c.Extraction.PDFMethod)
	}

	if sec := c.Security.PromptInjectionProtection; sec.Enabled {
		if sec.MaxRiskScore < 0 || sec.MaxRiskScore > 100 {
			return fmt.Errorf("max_risk_score must be in [0,100]: %d", sec.MaxRiskScore)
		}
	}

	return nil
}
