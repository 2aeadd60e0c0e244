package handler

import (
	"net/http"

	"github.com/capreport/capacityreport/internal/repository"
	"github.com/gin-gonic/gin"
)

// HistoryHandler handles the processing-history endpoints.
type HistoryHandler struct {
	history *repository.HistoryStore
}

// NewHistoryHandler creates a new history handler.
// Parameters:
//   - history: history store instance.
// Returns:
//   - *HistoryHandler: initialized handler.
func NewHistoryHandler(history *repository.HistoryStore) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// List handles POST /api/history.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *HistoryHandler) List(c *gin.Context) {
	var req struct {
		Limit int `json:"limit"`
	}
	// Empty body means "all records"
	c.ShouldBindJSON(&req)

	records := h.history.List(req.Limit)
	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"total":   len(records),
	})
}

// Detail handles POST /api/history/detail, returning the record plus its
// persisted job log.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *HistoryHandler) Detail(c *gin.Context) {
	var req struct {
		ID string `json:"id" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	rec, err := h.history.Get(req.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"record": rec,
		"logs":   h.history.Logs(req.ID),
	})
}

// Delete handles POST /api/history/delete. Deleting an absent record is
// not an error.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *HistoryHandler) Delete(c *gin.Context) {
	var req struct {
		ID string `json:"id" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	deleted, err := h.history.Delete(req.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// Clear handles POST /api/history/clear, removing every record and the
// whole scratch area.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *HistoryHandler) Clear(c *gin.Context) {
	removed, err := h.history.Clear()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// Size handles POST /api/history/size, reporting one record's disk usage.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *HistoryHandler) Size(c *gin.Context) {
	var req struct {
		ID string `json:"id" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	size, err := h.history.SizeOf(req.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":             req.ID,
		"size":           size,
		"size_formatted": repository.FormatSize(size),
	})
}

// CacheSize handles GET /api/cache/size for the whole scratch area.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *HistoryHandler) CacheSize(c *gin.Context) {
	size, files, dirs := h.history.CacheSize()
	c.JSON(http.StatusOK, gin.H{
		"size":           size,
		"size_formatted": repository.FormatSize(size),
		"file_count":     files,
		"dir_count":      dirs,
	})
}
