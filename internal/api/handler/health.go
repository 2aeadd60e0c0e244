package handler

import (
	"net/http"

	"github.com/capreport/capacityreport/internal/repository"
	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	configStore *repository.ConfigStore
	pool        repository.PoolConfig
}

// NewHealthHandler creates a new health handler.
// Parameters:
//   - configStore: source of the database connection parameters.
//   - pool: connection pool limits.
// Returns:
//   - *HealthHandler: initialized handler.
func NewHealthHandler(configStore *repository.ConfigStore, pool repository.PoolConfig) *HealthHandler {
	return &HealthHandler{configStore: configStore, pool: pool}
}

// Health returns the health status of the service, including database
// reachability and LOAD DATA LOCAL INFILE capability.
func (h *HealthHandler) Health(c *gin.Context) {
	resp := gin.H{"status": "ok"}

	cfg := h.configStore.Current()
	db, err := repository.Connect(cfg.MySQL, h.pool)
	if err != nil {
		resp["database"] = gin.H{"connected": false, "error": err.Error()}
		c.JSON(http.StatusOK, resp)
		return
	}
	defer repository.Close(db)

	if err := repository.Ping(c.Request.Context(), db); err != nil {
		resp["database"] = gin.H{"connected": false, "error": err.Error()}
		c.JSON(http.StatusOK, resp)
		return
	}
	info, _ := repository.GetServerInfo(c.Request.Context(), db)
	resp["database"] = gin.H{
		"connected":         true,
		"version":           info.Version,
		"load_data_support": info.LoadDataSupport,
	}
	c.JSON(http.StatusOK, resp)
}
