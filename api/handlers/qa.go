// Package handlers implements the question-answering HTTP endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"docuquery/pkg/config"
	"docuquery/pkg/domain"
	"docuquery/pkg/pipeline"
)

// allowedUploadExts is the accepted extension set for uploads.
var allowedUploadExts = map[string]bool{
	".pdf": true, ".docx": true, ".pptx": true, ".xlsx": true,
	".eml": true, ".msg": true,
	".png": true, ".jpg": true, ".jpeg": true,
}

// Handler serves the run and process-pdf endpoints.
type Handler struct {
	coordinator *pipeline.Coordinator
	cfg         *config.Config
}

func NewHandler(coordinator *pipeline.Coordinator, cfg *config.Config) *Handler {
	return &Handler{coordinator: coordinator, cfg: cfg}
}

type runRequest struct {
	Documents string   `json:"documents" binding:"required"`
	Questions []string `json:"questions" binding:"required"`
}

// Run handles POST /api/v1/hackrx/run. The response is 200 even when
// every answer is a timeout placeholder; only validation and download
// failures produce an error status.
func (h *Handler) Run(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.coordinator.Run(pipeline.Request{
		DocumentURL: req.Documents,
		Questions:   req.Questions,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ProcessPDF handles POST /api/v1/process-pdf: a multipart upload
// with an optional questions field holding a JSON array string.
func (h *Handler) ProcessPDF(c *gin.Context) {
	file, header, err := c.Request.FormFile("pdf")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pdf file field is required"})
		return
	}
	defer func() { _ = file.Close() }()

	maxBytes := int64(h.cfg.MaxUploadMB) << 20
	if header.Size > maxBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file exceeds upload size limit"})
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedUploadExts[ext] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type: " + ext})
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
		return
	}

	var questions []string
	if raw := c.PostForm("questions"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &questions); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "questions must be a JSON array of strings"})
			return
		}
	}

	if len(questions) == 0 {
		c.JSON(http.StatusOK, gin.H{
			"message": "Document received. Provide a questions array to get answers.",
		})
		return
	}

	resp, err := h.coordinator.Run(pipeline.Request{
		Upload:     data,
		UploadName: header.Filename,
		Questions:  questions,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrFetchFailed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
