package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.GlobalTimer.Enabled)
	assert.Equal(t, 29.5, cfg.GlobalTimer.TimeoutSeconds)
	assert.Equal(t, 10, cfg.ChunksToLLM)
	assert.Equal(t, 250, cfg.Embedding.BatchSize)
	assert.Equal(t, 256, cfg.VectorSearch.HNSWThreshold)
	assert.Equal(t, "python-pymupdf", cfg.Extraction.PDFMethod)
	assert.True(t, cfg.Security.PromptInjectionProtection.Enabled)
	assert.True(t, cfg.Security.PromptInjectionProtection.BlockHighRiskRequests)
	assert.Equal(t, 40, cfg.Security.PromptInjectionProtection.MaxRiskScore)
	assert.Equal(t, 50*time.Millisecond, cfg.Streaming.FlushInterval)
	assert.Equal(t, 5000, cfg.MaxDownloadMB)
	assert.False(t, cfg.EnableRacing)
	assert.True(t, cfg.Chunking.PageWise.Enabled)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load("/nonexistent/docuquery.toml")
	require.Error(t, err)
}

func TestGlobalTimerTimeout(t *testing.T) {
	testCases := []struct {
		name string
		cfg  GlobalTimerConfig
		want time.Duration
	}{
		{"disabled", GlobalTimerConfig{Enabled: false, TimeoutSeconds: 29.5}, 0},
		{"enabled", GlobalTimerConfig{Enabled: true, TimeoutSeconds: 29.5}, 29500 * time.Millisecond},
		{"enabled zero", GlobalTimerConfig{Enabled: true, TimeoutSeconds: 0}, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.cfg.Timeout())
		})
	}
}

func TestChunksForPages(t *testing.T) {
	d := DynamicChunking{PageThreshold: 100, DefaultChunksToLLM: 10, LargeDocumentChunksToLLM: 15}

	assert.Equal(t, 10, d.ChunksForPages(1))
	assert.Equal(t, 10, d.ChunksForPages(99))
	assert.Equal(t, 15, d.ChunksForPages(100))
	assert.Equal(t, 15, d.ChunksForPages(5000))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:      ServerConfig{Host: "0.0.0.0", Port: 8080},
			GlobalTimer: GlobalTimerConfig{Enabled: true, TimeoutSeconds: 29.5},
			ChunksToLLM: 10,
			Embedding:   EmbeddingConfig{BatchSize: 250},
			Extraction:  ExtractionConfig{PDFMethod: "native"},
			Security: SecurityConfig{
				PromptInjectionProtection: InjectionConfig{Enabled: true, MaxRiskScore: 40},
			},
		}
	}
	require.NoError(t, valid().Validate())

	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"empty host", func(c *Config) { c.Server.Host = "" }},
		{"negative timeout", func(c *Config) { c.GlobalTimer.TimeoutSeconds = -1 }},
		{"zero chunks", func(c *Config) { c.ChunksToLLM = 0 }},
		{"zero batch", func(c *Config) { c.Embedding.BatchSize = 0 }},
		{"unknown pdf method", func(c *Config) { c.Extraction.PDFMethod = "ghostscript" }},
		{"risk score out of range", func(c *Config) {
			c.Security.PromptInjectionProtection.MaxRiskScore = 150
		}},
		{"character overlap too large", func(c *Config) {
			c.Chunking.CharacterWise = CharacterWiseConfig{Enabled: true, ChunkSize: 100, Overlap: 100}
		}},
		{"recursive overlap too large", func(c *Config) {
			c.Chunking.Recursive = RecursiveConfig{Enabled: true, ChunkSize: 100, ChunkOverlap: 200}
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
