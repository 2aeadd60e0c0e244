package handler

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/capreport/capacityreport/internal/domain"
	"github.com/capreport/capacityreport/internal/repository"
	"github.com/capreport/capacityreport/internal/service"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// DatabaseHandler handles the database-browsing endpoints. Connections
// are opened per request because the target database is user-editable at
// runtime; browsing traffic is light enough that pooling across requests
// is not worth stale-config bugs.
type DatabaseHandler struct {
	configStore *repository.ConfigStore
	pool        repository.PoolConfig
	cacheDir    string
}

// NewDatabaseHandler creates a new database handler.
// Parameters:
//   - configStore: source of the current connection parameters.
//   - pool: connection pool limits.
//   - cacheDir: scratch directory for export files.
// Returns:
//   - *DatabaseHandler: initialized handler.
func NewDatabaseHandler(configStore *repository.ConfigStore, pool repository.PoolConfig, cacheDir string) *DatabaseHandler {
	return &DatabaseHandler{configStore: configStore, pool: pool, cacheDir: cacheDir}
}

// connect opens a connection using the current configuration. The caller
// must Close it.
func (h *DatabaseHandler) connect(c *gin.Context) (*gorm.DB, bool) {
	cfg := h.configStore.Current()
	db, err := repository.Connect(cfg.MySQL, h.pool)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if err := repository.Ping(c.Request.Context(), db); err != nil {
		repository.Close(db)
		respondError(c, err)
		return nil, false
	}
	return db, true
}

// Test handles POST /api/database/test: verify connectivity with either
// the stored parameters or ones supplied in the request body.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *DatabaseHandler) Test(c *gin.Context) {
	info := h.configStore.Current().MySQL
	var req domain.MySQLInfo
	if err := c.ShouldBindJSON(&req); err == nil && req.Host != "" {
		info = req
	}

	db, err := repository.Connect(info, h.pool)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"connected": false, "error": err.Error()})
		return
	}
	defer repository.Close(db)

	if err := repository.Ping(c.Request.Context(), db); err != nil {
		c.JSON(http.StatusOK, gin.H{"connected": false, "error": err.Error()})
		return
	}
	serverInfo, _ := repository.GetServerInfo(c.Request.Context(), db)
	c.JSON(http.StatusOK, gin.H{
		"connected": true,
		"server":    serverInfo,
	})
}

// Tables handles GET and POST /api/database/tables.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *DatabaseHandler) Tables(c *gin.Context) {
	db, ok := h.connect(c)
	if !ok {
		return
	}
	defer repository.Close(db)

	tables, err := repository.NewTableRepository(db).Tables(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tables": tables,
		"total":  len(tables),
	})
}

// TableInfo handles POST /api/database/table/info.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *DatabaseHandler) TableInfo(c *gin.Context) {
	var req struct {
		Table string `json:"table" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	db, ok := h.connect(c)
	if !ok {
		return
	}
	defer repository.Close(db)

	info, err := repository.NewTableRepository(db).Info(c.Request.Context(), req.Table)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type tableQueryRequest struct {
	Table    string            `json:"table" binding:"required"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Filters  map[string]string `json:"filters"`
	OrderBy  string            `json:"order_by"`
	OrderDir string            `json:"order_dir"`
}

// TableData handles POST /api/database/table/data and /table/query: one
// page of rows with optional per-column filters and ordering.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *DatabaseHandler) TableData(c *gin.Context) {
	var req tableQueryRequest
	if !bindJSON(c, &req) {
		return
	}
	db, ok := h.connect(c)
	if !ok {
		return
	}
	defer repository.Close(db)

	page, err := repository.NewTableRepository(db).Query(
		c.Request.Context(), req.Table, req.Page, req.PageSize,
		req.Filters, req.OrderBy, req.OrderDir)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Truncate handles POST /api/database/table/truncate.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *DatabaseHandler) Truncate(c *gin.Context) {
	var req struct {
		Table string `json:"table" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	db, ok := h.connect(c)
	if !ok {
		return
	}
	defer repository.Close(db)

	if err := repository.NewTableRepository(db).Truncate(c.Request.Context(), req.Table); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"truncated": req.Table})
}

// Drop handles POST /api/database/table/drop.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *DatabaseHandler) Drop(c *gin.Context) {
	var req struct {
		Table string `json:"table" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	db, ok := h.connect(c)
	if !ok {
		return
	}
	defer repository.Close(db)

	if err := repository.NewTableRepository(db).Drop(c.Request.Context(), req.Table); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dropped": req.Table})
}

// DropAll handles POST /api/database/table/drop-all.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *DatabaseHandler) DropAll(c *gin.Context) {
	db, ok := h.connect(c)
	if !ok {
		return
	}
	defer repository.Close(db)

	dropped, err := repository.NewTableRepository(db).DropAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"dropped": dropped,
		"total":   len(dropped),
	})
}

// Execute handles POST /api/database/execute for ad-hoc statements from
// the admin UI.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *DatabaseHandler) Execute(c *gin.Context) {
	var req struct {
		SQL string `json:"sql" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	db, ok := h.connect(c)
	if !ok {
		return
	}
	defer repository.Close(db)

	result, err := repository.NewTableRepository(db).Execute(c.Request.Context(), req.SQL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// Download handles POST /api/download: dump one table to CSV or xlsx and
// stream the file back.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes the file as an attachment).
func (h *DatabaseHandler) Download(c *gin.Context) {
	var req struct {
		Table  string `json:"table" binding:"required"`
		Format string `json:"format"`
	}
	if !bindJSON(c, &req) {
		return
	}
	db, ok := h.connect(c)
	if !ok {
		return
	}
	defer repository.Close(db)

	exporter := service.NewExporter(repository.NewTableRepository(db), h.cacheDir)
	path, err := exporter.Export(c.Request.Context(), req.Table, req.Format)
	if err != nil {
		if strings.Contains(err.Error(), "unsupported export format") {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		respondError(c, err)
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}
