package domain

import "time"

// JobStage represents the phase of the single active job.
type JobStage string

const (
	StageUploading  JobStage = "uploading"
	StageProcessing JobStage = "processing"
)

// JobStatus represents the lifecycle state of a job.
// A job moves running → completed | failed; there are no retries.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status ends the job.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is the in-memory record of one end-to-end pipeline run.
// At most one job is running at any time across the whole service.
type Job struct {
	TaskID    string    `json:"task_id"`
	Stage     JobStage  `json:"stage"`
	Status    JobStatus `json:"status"`
	StartedAt time.Time `json:"started_at"`
	FileCount int       `json:"file_count"`
	WorkDir   string    `json:"-"`
}
