package api

import (
	"github.com/capreport/capacityreport/internal/api/handler"
	"github.com/capreport/capacityreport/internal/api/middleware"
	"github.com/capreport/capacityreport/internal/config"
	"github.com/capreport/capacityreport/internal/logger"
	"github.com/capreport/capacityreport/internal/repository"
	"github.com/capreport/capacityreport/internal/service"
	"github.com/gin-gonic/gin"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	cfg *config.Config,
	configStore *repository.ConfigStore,
	history *repository.HistoryStore,
	coordinator *service.Coordinator,
	log *logger.Logger,
) *gin.Engine {
	// Set Gin mode
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	}))

	pool := repository.PoolConfig{
		MaxOpenConns:    cfg.Loader.MaxOpenConns,
		MaxIdleConns:    cfg.Loader.MaxIdleConns,
		ConnMaxLifetime: cfg.Loader.ConnMaxLifetime,
	}

	// Create handlers
	healthHandler := handler.NewHealthHandler(configStore, pool)
	jobHandler := handler.NewJobHandler(coordinator)
	historyHandler := handler.NewHistoryHandler(history)
	databaseHandler := handler.NewDatabaseHandler(configStore, pool, cfg.Paths.CacheDir)
	configHandler := handler.NewConfigHandler(configStore)
	scriptHandler := handler.NewScriptHandler(cfg.Paths.ScriptFile, coordinator)
	serviceHandler := handler.NewServiceHandler(Version)

	// Health check
	r.GET("/health", healthHandler.Health)

	api := r.Group("/api")
	{
		api.GET("/health", healthHandler.Health)

		// Upload and job lifecycle
		api.POST("/upload", jobHandler.Upload)
		api.POST("/process/start", jobHandler.Start)
		api.POST("/process/status", jobHandler.Status)
		api.GET("/task/status", jobHandler.Active)
		api.POST("/task/unlock", jobHandler.Unlock)

		// History
		api.POST("/history", historyHandler.List)
		api.POST("/history/detail", historyHandler.Detail)
		api.POST("/history/delete", historyHandler.Delete)
		api.POST("/history/clear", historyHandler.Clear)
		api.POST("/history/size", historyHandler.Size)
		api.GET("/cache/size", historyHandler.CacheSize)

		// Database browsing
		api.POST("/database/test", databaseHandler.Test)
		api.GET("/database/tables", databaseHandler.Tables)
		api.POST("/database/tables", databaseHandler.Tables)
		api.POST("/database/table/info", databaseHandler.TableInfo)
		api.POST("/database/table/data", databaseHandler.TableData)
		api.POST("/database/table/query", databaseHandler.TableData)
		api.POST("/database/table/truncate", databaseHandler.Truncate)
		api.POST("/database/table/drop", databaseHandler.Drop)
		api.POST("/database/table/drop-all", databaseHandler.DropAll)
		api.POST("/database/execute", databaseHandler.Execute)
		api.POST("/download", databaseHandler.Download)

		// Configuration
		api.GET("/config", configHandler.Get)
		api.GET("/config/full", configHandler.Full)
		api.POST("/config/mysql", configHandler.SaveMySQL)
		api.POST("/config/sheet-filter", configHandler.SaveSheetFilter)
		api.POST("/config/extract-fields", configHandler.SaveExtractFields)
		api.GET("/config/download", configHandler.Download)
		api.POST("/config/upload", configHandler.Upload)

		// Report script
		api.GET("/script/content", scriptHandler.Content)
		api.POST("/script/save", scriptHandler.Save)
		api.POST("/script/execute", scriptHandler.Execute)

		// Process control
		api.POST("/service/restart", serviceHandler.Restart)
		api.GET("/service/status", serviceHandler.Status)
	}

	return r
}
