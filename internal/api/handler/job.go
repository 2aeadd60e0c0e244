package handler

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/capreport/capacityreport/internal/api/middleware"
	"github.com/capreport/capacityreport/internal/service"
	"github.com/gin-gonic/gin"
)

// JobHandler handles the upload/process/poll lifecycle endpoints.
type JobHandler struct {
	coordinator *service.Coordinator
}

// NewJobHandler creates a new job handler.
// Parameters:
//   - coordinator: job coordinator instance.
// Returns:
//   - *JobHandler: initialized handler.
func NewJobHandler(coordinator *service.Coordinator) *JobHandler {
	return &JobHandler{coordinator: coordinator}
}

// Upload handles POST /api/upload. Multipart files are saved into the
// job's work dir; an optional session_id field appends to an already
// open upload session instead of opening a new one.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid multipart request: " + err.Error(),
		})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No files uploaded"})
		return
	}

	sessionID := c.PostForm("session_id")
	taskID, workDir, isNew, err := h.coordinator.Submit(sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	saved := 0
	for _, file := range files {
		target, err := safeJoin(workDir, file.Filename)
		if err != nil {
			continue
		}
		if err := c.SaveUploadedFile(file, target); err != nil {
			if isNew && saved == 0 {
				h.coordinator.AbortUpload(taskID)
				respondError(c, fmt.Errorf("failed to save %s: %w", file.Filename, err))
				return
			}
			middleware.GetLogger(c).WithError(err).Errorf("failed to save uploaded file %s", file.Filename)
			continue
		}
		saved++
	}
	h.coordinator.SetFileCount(taskID, countFiles(workDir))

	c.JSON(http.StatusOK, gin.H{
		"task_id":    taskID,
		"file_count": saved,
	})
}

// Start handles POST /api/process/start.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) Start(c *gin.Context) {
	var req struct {
		TaskID string `json:"task_id" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if err := h.coordinator.Start(req.TaskID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"task_id": req.TaskID,
		"status":  "processing",
	})
}

// Status handles POST /api/process/status.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) Status(c *gin.Context) {
	var req struct {
		TaskID string `json:"task_id" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	status, err := h.coordinator.Status(req.TaskID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Active handles GET /api/task/status, the global single-job poll.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) Active(c *gin.Context) {
	c.JSON(http.StatusOK, h.coordinator.Active())
}

// Unlock handles POST /api/task/unlock, force-clearing a stuck lease.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) Unlock(c *gin.Context) {
	var req struct {
		TaskID string `json:"task_id"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if err := h.coordinator.Unlock(req.TaskID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unlocked": true})
}

// safeJoin resolves an uploaded filename inside the work dir, rejecting
// names that escape it. Uploaded folder structures keep their relative
// paths.
func safeJoin(workDir, name string) (string, error) {
	name = filepath.FromSlash(name)
	target := filepath.Join(workDir, name)
	rel, err := filepath.Rel(workDir, target)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return target, nil
}

func countFiles(dir string) int {
	count := 0
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && filepath.Base(path) != "log.txt" {
			count++
		}
		return nil
	})
	return count
}
