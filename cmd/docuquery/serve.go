package docuquery

import (
	"fmt"

	"github.com/spf13/cobra"

	"docuquery/api"
	"docuquery/pkg/chunker"
	"docuquery/pkg/deadline"
	"docuquery/pkg/domain"
	"docuquery/pkg/embedder"
	"docuquery/pkg/extractor"
	"docuquery/pkg/pipeline"
	"docuquery/pkg/providers"
	"docuquery/pkg/qa"
	"docuquery/pkg/security"
	"docuquery/pkg/webcontext"
)

var (
	port int
	host string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API service",
	Long:  `Start the HTTP server exposing the question-answering endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if port != 0 {
			cfg.Server.Port = port
		}
		if host != "" {
			cfg.Server.Host = host
		}

		set, err := providers.NewSet(cfg.Providers)
		if err != nil {
			return fmt.Errorf("failed to initialize providers: %w", err)
		}

		ocr, err := providers.NewVisionOCR(cfg.Providers.OpenAI)
		if err != nil {
			return fmt.Errorf("failed to initialize OCR: %w", err)
		}

		sanitizer := security.New(cfg.Security.PromptInjectionProtection.Enabled)
		dispatcher := extractor.NewDispatcher(cfg.Extraction, sanitizer, cfg.Security.PromptInjectionProtection, ocr)
		chk := chunker.New(cfg.Chunking)
		emb := embedder.New(set.Embedder, nil, cfg.Embedding)
		web := webcontext.New(nil)
		deadlines := deadline.NewController()

		var secondary domain.Generator
		if set.SecondaryLLM != nil {
			secondary = set.SecondaryLLM
		}
		orchestrator := qa.New(set.LLM, secondary, emb, cfg)

		coordinator := pipeline.New(cfg, deadlines, sanitizer, dispatcher, chk, emb, web, orchestrator)

		server := api.NewServer(cfg, coordinator, deadlines, set)
		return server.Start()
	},
}

func init() {
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "server port (overrides config)")
	serveCmd.Flags().StringVar(&host, "host", "", "server host (overrides config)")
}
