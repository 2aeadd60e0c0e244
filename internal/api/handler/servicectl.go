package handler

import (
	"net/http"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/capreport/capacityreport/internal/api/middleware"
	"github.com/gin-gonic/gin"
)

// ServiceHandler handles process-level endpoints: restart and status.
type ServiceHandler struct {
	startedAt time.Time
	version   string
}

// NewServiceHandler creates a new service handler.
// Parameters:
//   - version: build version string.
// Returns:
//   - *ServiceHandler: initialized handler.
func NewServiceHandler(version string) *ServiceHandler {
	return &ServiceHandler{startedAt: time.Now(), version: version}
}

// Status handles GET /api/service/status.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ServiceHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":        h.version,
		"pid":            os.Getpid(),
		"started_at":     h.startedAt.Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

// Restart handles POST /api/service/restart. Under supervisord the
// process is restarted via supervisorctl; otherwise the process sends
// itself SIGTERM after the response is flushed and relies on the
// supervisor (systemd, Docker restart policy) to bring it back.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ServiceHandler) Restart(c *gin.Context) {
	log := middleware.GetLogger(c)

	if path, err := exec.LookPath("supervisorctl"); err == nil {
		c.JSON(http.StatusOK, gin.H{"restarting": true, "method": "supervisorctl"})
		go func() {
			time.Sleep(500 * time.Millisecond)
			if err := exec.Command(path, "restart", "capacityreport").Run(); err != nil {
				log.WithError(err).Error("supervisorctl restart failed")
			}
		}()
		return
	}

	c.JSON(http.StatusOK, gin.H{"restarting": true, "method": "signal"})
	go func() {
		time.Sleep(500 * time.Millisecond)
		if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
			log.WithError(err).Error("failed to signal self")
		}
	}()
}
