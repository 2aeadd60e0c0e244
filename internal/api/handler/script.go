package handler

import (
	"net/http"
	"os"

	"github.com/capreport/capacityreport/internal/service"
	"github.com/gin-gonic/gin"
)

// ScriptHandler handles the editable report-script endpoints.
type ScriptHandler struct {
	scriptPath  string
	coordinator *service.Coordinator
}

// NewScriptHandler creates a new script handler.
// Parameters:
//   - scriptPath: location of the report script file.
//   - coordinator: job coordinator for script-only runs.
// Returns:
//   - *ScriptHandler: initialized handler.
func NewScriptHandler(scriptPath string, coordinator *service.Coordinator) *ScriptHandler {
	return &ScriptHandler{scriptPath: scriptPath, coordinator: coordinator}
}

// Content handles GET /api/script/content. A missing file is served as
// empty content, not an error.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ScriptHandler) Content(c *gin.Context) {
	data, err := os.ReadFile(h.scriptPath)
	if err != nil && !os.IsNotExist(err) {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"content": string(data),
		"path":    h.scriptPath,
	})
}

// Save handles POST /api/script/save, keeping the previous version as a
// .bak file.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ScriptHandler) Save(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if !bindJSON(c, &req) {
		return
	}

	if prev, err := os.ReadFile(h.scriptPath); err == nil {
		if err := os.WriteFile(h.scriptPath+".bak", prev, 0o644); err != nil {
			respondError(c, err)
			return
		}
	}
	if err := os.WriteFile(h.scriptPath, []byte(req.Content), 0o644); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true})
}

// Execute handles POST /api/script/execute: run the script on its own
// under the single-job lease and return the task ID for polling.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ScriptHandler) Execute(c *gin.Context) {
	taskID, err := h.coordinator.RunScript()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"task_id": taskID,
		"status":  "processing",
	})
}
