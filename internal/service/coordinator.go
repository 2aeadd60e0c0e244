package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/capreport/capacityreport/internal/domain"
	"github.com/capreport/capacityreport/internal/logger"
	"github.com/capreport/capacityreport/internal/repository"
	"github.com/google/uuid"
)

// Coordinator serializes the whole pipeline behind one exclusive lease:
// at most one job — uploading or processing — is active system-wide.
// Processing runs in a background goroutine; callers observe progress
// by polling Status.
type Coordinator struct {
	lease lease

	configStore *repository.ConfigStore
	history     *repository.HistoryStore
	pool        repository.PoolConfig
	batchSize   int
	scriptPath  string
	log         *logger.Logger

	mu   sync.Mutex
	jobs map[string]*jobState
}

type jobState struct {
	job domain.Job
	jl  *JobLog
}

// NewCoordinator wires the coordinator with its stores and loader
// settings.
func NewCoordinator(configStore *repository.ConfigStore, history *repository.HistoryStore, pool repository.PoolConfig, batchSize int, scriptPath string, log *logger.Logger) *Coordinator {
	return &Coordinator{
		configStore: configStore,
		history:     history,
		pool:        pool,
		batchSize:   batchSize,
		scriptPath:  scriptPath,
		log:         log,
		jobs:        make(map[string]*jobState),
	}
}

// Submit opens (or resumes) an upload session. A new session acquires
// the lease and fails with ErrBusy while another job is active; an
// existing session ID must match the current lease holder.
// Returns the task ID and the work dir the caller should save files to.
func (c *Coordinator) Submit(sessionID string) (taskID, workDir string, isNew bool, err error) {
	c.mu.Lock()
	existing, known := c.jobs[sessionID]
	c.mu.Unlock()

	if sessionID != "" && known && existing.job.Stage == domain.StageUploading {
		owner, _, _, held := c.lease.Holder()
		if held && owner != sessionID {
			return "", "", false, domain.ErrBusy
		}
		return sessionID, existing.job.WorkDir, false, nil
	}

	taskID = c.newTaskID()
	if err := c.lease.Acquire(taskID, domain.StageUploading); err != nil {
		return "", "", false, err
	}

	workDir = c.history.WorkDir(taskID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		c.lease.Release(taskID)
		return "", "", false, fmt.Errorf("failed to create work dir: %w", err)
	}
	if _, err := c.history.Create(taskID, workDir, 0); err != nil {
		c.lease.Release(taskID)
		return "", "", false, err
	}

	c.mu.Lock()
	c.pruneTerminalLocked()
	c.jobs[taskID] = &jobState{job: domain.Job{
		TaskID:    taskID,
		Stage:     domain.StageUploading,
		Status:    domain.JobStatusRunning,
		StartedAt: time.Now(),
		WorkDir:   workDir,
	}}
	c.mu.Unlock()

	c.log.WithField(logger.FieldTaskID, taskID).Info("upload session opened")
	return taskID, workDir, true, nil
}

// SetFileCount records how many files the session holds so far.
func (c *Coordinator) SetFileCount(taskID string, count int) {
	c.mu.Lock()
	if state, ok := c.jobs[taskID]; ok {
		state.job.FileCount = count
	}
	c.mu.Unlock()
	c.history.Update(taskID, func(rec *domain.HistoryRecord) {
		rec.FileCount = count
	})
}

// AbortUpload rolls back a freshly-opened session whose file save
// failed, releasing the lease.
func (c *Coordinator) AbortUpload(taskID string) {
	c.mu.Lock()
	delete(c.jobs, taskID)
	c.mu.Unlock()
	c.lease.Release(taskID)
}

// Start transitions a submitted job to the processing stage and runs
// the pipeline asynchronously. The call returns immediately.
func (c *Coordinator) Start(taskID string) error {
	rec, err := c.history.Get(taskID)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(rec.WorkDir); statErr != nil {
		return fmt.Errorf("work dir missing for task %s", taskID)
	}

	if err := c.lease.Promote(taskID, domain.StageProcessing); err != nil {
		return err
	}

	jl, err := NewJobLog(filepath.Join(rec.WorkDir, "log.txt"))
	if err != nil {
		c.lease.Release(taskID)
		return err
	}

	c.mu.Lock()
	state, ok := c.jobs[taskID]
	if !ok {
		state = &jobState{job: domain.Job{
			TaskID:    taskID,
			StartedAt: time.Now(),
			FileCount: rec.FileCount,
			WorkDir:   rec.WorkDir,
		}}
		c.jobs[taskID] = state
	}
	state.job.Stage = domain.StageProcessing
	state.job.Status = domain.JobStatusRunning
	state.jl = jl
	c.mu.Unlock()

	c.history.Update(taskID, func(r *domain.HistoryRecord) {
		r.Status = "processing"
	})

	go c.run(taskID, rec.WorkDir, jl)
	return nil
}

// run executes the pipeline for one job and always finishes by writing
// the history record and releasing the lease, on success and failure
// alike.
func (c *Coordinator) run(taskID, workDir string, jl *JobLog) {
	ctx := logger.SetTaskID(context.Background(), taskID)
	defer jl.Close()

	cfg := c.configStore.Current()
	result := c.runPipeline(ctx, cfg, workDir, jl)

	status := domain.JobStatusCompleted
	if !result.Success {
		status = domain.JobStatusFailed
	}

	errText := ""
	if result.Err != nil {
		errText = result.Err.Error()
	}
	if err := c.history.Update(taskID, func(rec *domain.HistoryRecord) {
		rec.Status = string(status)
		rec.ElapsedTime = result.ElapsedTime
		rec.Error = errText
		rec.ResultTables = result.ResultTables
	}); err != nil {
		c.log.WithField(logger.FieldTaskID, taskID).WithError(err).Error("failed to update history")
	}

	c.mu.Lock()
	if state, ok := c.jobs[taskID]; ok {
		state.job.Status = status
	}
	c.mu.Unlock()

	c.lease.Release(taskID)
	c.log.WithFields(logger.Fields{
		logger.FieldTaskID: taskID,
		logger.FieldStatus: string(status),
	}).Info("job finished")
}

func (c *Coordinator) runPipeline(ctx context.Context, cfg domain.ReportConfig, workDir string, jl *JobLog) PipelineResult {
	db, err := repository.Connect(cfg.MySQL, c.pool)
	if err != nil {
		jl.Error("database connection failed: %v", err)
		return PipelineResult{Success: false, Err: err}
	}
	defer repository.Close(db)

	script := c.readScript(jl)
	loader := repository.NewLoader(db, c.batchSize, workDir)
	tables := repository.NewTableRepository(db)
	return NewPipeline(cfg, workDir, db, loader, tables, script, jl).Run(ctx)
}

func (c *Coordinator) readScript(jl *JobLog) string {
	data, err := os.ReadFile(c.scriptPath)
	if err != nil {
		jl.Warn("report script not found at %s, skipping", c.scriptPath)
		return ""
	}
	return string(data)
}

// JobStatus is the polling view of one job.
type JobStatus struct {
	TaskID string   `json:"task_id"`
	Status string   `json:"status"`
	Logs   []string `json:"logs"`
}

// Status returns the live status and log snapshot for a task. Running
// jobs are served from memory; finished jobs fall back to the history
// record and its persisted log file.
func (c *Coordinator) Status(taskID string) (JobStatus, error) {
	c.mu.Lock()
	state, ok := c.jobs[taskID]
	c.mu.Unlock()

	if ok {
		logs := []string{}
		if state.jl != nil {
			logs = state.jl.Snapshot()
		}
		return JobStatus{TaskID: taskID, Status: string(state.job.Status), Logs: logs}, nil
	}

	rec, err := c.history.Get(taskID)
	if err != nil {
		return JobStatus{}, err
	}
	return JobStatus{TaskID: taskID, Status: rec.Status, Logs: c.history.Logs(taskID)}, nil
}

// ActiveInfo is the global task poll response.
type ActiveInfo struct {
	HasActive bool     `json:"has_active"`
	TaskID    string   `json:"task_id,omitempty"`
	Stage     string   `json:"stage,omitempty"`
	StartedAt string   `json:"started_at,omitempty"`
	Logs      []string `json:"logs,omitempty"`
}

// Active reports whether a job currently holds the lease. A lease whose
// job already reached a terminal status is cleared on observation, so a
// crashed poller cannot wedge the service.
func (c *Coordinator) Active() ActiveInfo {
	owner, stage, startedAt, held := c.lease.Holder()
	if !held {
		return ActiveInfo{HasActive: false}
	}

	c.mu.Lock()
	state, ok := c.jobs[owner]
	c.mu.Unlock()
	if ok && state.job.Status.Terminal() {
		c.lease.Release(owner)
		return ActiveInfo{HasActive: false}
	}

	info := ActiveInfo{
		HasActive: true,
		TaskID:    owner,
		Stage:     string(stage),
		StartedAt: startedAt.Format(time.RFC3339),
		Logs:      []string{},
	}
	if ok && state.jl != nil {
		info.Logs = state.jl.Snapshot()
	}
	return info
}

// Unlock force-clears the lease for a caller whose submit failed
// client-side. The task ID must match the holder; in-flight work is not
// stopped.
func (c *Coordinator) Unlock(taskID string) error {
	return c.lease.ForceRelease(taskID)
}

// RunScript executes the report script on its own, without uploading or
// loading data, under the same exclusive lease. Returns the synthetic
// task ID for status polling.
func (c *Coordinator) RunScript() (string, error) {
	taskID := "script_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	if err := c.lease.Acquire(taskID, domain.StageProcessing); err != nil {
		return "", err
	}

	jl, err := NewJobLog("")
	if err != nil {
		c.lease.Release(taskID)
		return "", err
	}

	c.mu.Lock()
	c.pruneTerminalLocked()
	c.jobs[taskID] = &jobState{
		job: domain.Job{
			TaskID:    taskID,
			Stage:     domain.StageProcessing,
			Status:    domain.JobStatusRunning,
			StartedAt: time.Now(),
		},
		jl: jl,
	}
	c.mu.Unlock()

	go func() {
		ctx := logger.SetTaskID(context.Background(), taskID)
		status := domain.JobStatusCompleted

		cfg := c.configStore.Current()
		db, err := repository.Connect(cfg.MySQL, c.pool)
		if err != nil {
			jl.Error("database connection failed: %v", err)
			status = domain.JobStatusFailed
		} else {
			script := c.readScript(jl)
			if strings.TrimSpace(script) == "" {
				jl.Warn("report script is empty")
			} else {
				jl.Info("executing report script...")
				NewScriptRunner(db).Run(ctx, script, jl)
				jl.Success("report script finished")
			}
			repository.Close(db)
		}

		c.mu.Lock()
		if state, ok := c.jobs[taskID]; ok {
			state.job.Status = status
		}
		c.mu.Unlock()
		c.lease.Release(taskID)
	}()

	return taskID, nil
}

// pruneTerminalLocked drops finished jobs from the in-memory registry.
// Their status and logs remain available through the history store.
// Caller holds c.mu.
func (c *Coordinator) pruneTerminalLocked() {
	for id, state := range c.jobs {
		if state.job.Status.Terminal() {
			delete(c.jobs, id)
		}
	}
}

// newTaskID builds the timestamp-based task ID; a collision within one
// second gets a short random suffix.
func (c *Coordinator) newTaskID() string {
	id := time.Now().Format("20060102_150405")
	if _, err := os.Stat(c.history.WorkDir(id)); err == nil {
		id = id + "_" + uuid.New().String()[:4]
	}
	return id
}
