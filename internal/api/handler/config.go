package handler

import (
	"io"
	"net/http"
	"path/filepath"

	"github.com/capreport/capacityreport/internal/domain"
	"github.com/capreport/capacityreport/internal/repository"
	"github.com/gin-gonic/gin"
)

// ConfigHandler handles the field-mapping configuration endpoints.
type ConfigHandler struct {
	store *repository.ConfigStore
}

// NewConfigHandler creates a new configuration handler.
// Parameters:
//   - store: configuration store instance.
// Returns:
//   - *ConfigHandler: initialized handler.
func NewConfigHandler(store *repository.ConfigStore) *ConfigHandler {
	return &ConfigHandler{store: store}
}

// Get handles GET /api/config with the database password masked.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ConfigHandler) Get(c *gin.Context) {
	cfg := h.store.Current()
	c.JSON(http.StatusOK, cfg.Masked())
}

// Full handles GET /api/config/full, including the password. The front
// end needs it to prefill the connection form.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ConfigHandler) Full(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Current())
}

// SaveMySQL handles POST /api/config/mysql.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ConfigHandler) SaveMySQL(c *gin.Context) {
	var req domain.MySQLInfo
	if !bindJSON(c, &req) {
		return
	}
	updated, err := h.store.SaveMySQL(req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated_at": updated})
}

// SaveSheetFilter handles POST /api/config/sheet-filter.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ConfigHandler) SaveSheetFilter(c *gin.Context) {
	var req struct {
		SheetFilter []string `json:"SheetFilter"`
	}
	if !bindJSON(c, &req) {
		return
	}
	updated, err := h.store.SaveSheetFilter(req.SheetFilter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated_at": updated})
}

// SaveExtractFields handles POST /api/config/extract-fields.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ConfigHandler) SaveExtractFields(c *gin.Context) {
	var req struct {
		ExtractFields []domain.FieldMapping `json:"ExtractField" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	updated, err := h.store.SaveExtractFields(req.ExtractFields)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated_at": updated})
}

// Download handles GET /api/config/download, serving the raw document.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes the file as an attachment).
func (h *ConfigHandler) Download(c *gin.Context) {
	path := h.store.Path()
	c.FileAttachment(path, filepath.Base(path))
}

// Upload handles POST /api/config/upload: import an uploaded document,
// merging only the known keys.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ConfigHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No configuration file uploaded"})
		return
	}
	src, err := file.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		respondError(c, err)
		return
	}
	updated, err := h.store.Import(data)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated_at": updated})
}
