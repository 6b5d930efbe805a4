package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"docuquery/pkg/config"
	"docuquery/pkg/domain"
)

// SidecarClient talks to an extraction sidecar (the PyMuPDF service
// for PDFs, the pptx service for slides). Both expose the same schema
// family: a multipart extraction endpoint plus GET /health.
type SidecarClient struct {
	baseURL string
	client  *http.Client
}

func NewSidecarClient(cfg config.SidecarConfig) *SidecarClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SidecarClient{
		baseURL: cfg.URL,
		client:  &http.Client{Timeout: timeout},
	}
}

// SidecarPage is one extracted page from a sidecar response.
type SidecarPage struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
	CharCount  int    `json:"char_count"`
}

// SidecarResponse is the sidecar extraction payload.
type SidecarResponse struct {
	Success           bool                   `json:"success"`
	Pages             []SidecarPage          `json:"pages"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	ProcessingSeconds float64                `json:"processing_time_seconds"`
	ExtractionMethod  string                 `json:"extraction_method"`
	Error             string                 `json:"error,omitempty"`
}

// Extract posts the file to the given endpoint ("/extract-text" or
// "/process-pptx") and decodes the page list.
func (c *SidecarClient) Extract(ctx context.Context, endpoint string, data []byte, filename string) (*SidecarResponse, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("%w: build multipart: %v", domain.ErrExtractionFailed, err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("%w: write multipart: %v", domain.ErrExtractionFailed, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("%w: close multipart: %v", domain.ErrExtractionFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sidecar request: %v", domain.ErrServiceUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: sidecar status %d: %s", domain.ErrExtractionFailed, resp.StatusCode, payload)
	}

	var parsed SidecarResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode sidecar response: %v", domain.ErrExtractionFailed, err)
	}
	if !parsed.Success {
		return nil, fmt.Errorf("%w: sidecar reported failure: %s", domain.ErrExtractionFailed, parsed.Error)
	}

	return &parsed, nil
}

// Health checks the sidecar's GET /health endpoint.
func (c *SidecarClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", domain.ErrServiceUnavailable, resp.StatusCode)
	}
	return nil
}
