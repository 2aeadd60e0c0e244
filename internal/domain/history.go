package domain

// HistoryRecord is the persisted summary of one completed or failed job.
// Records are immutable once the job reaches a terminal status, except
// for deletion.
type HistoryRecord struct {
	ID           string   `json:"id"`
	Timestamp    string   `json:"timestamp"`
	Status       string   `json:"status"`
	WorkDir      string   `json:"work_dir"`
	FileCount    int      `json:"file_count"`
	ElapsedTime  float64  `json:"elapsed_time"`
	Error        string   `json:"error,omitempty"`
	ResultTables []string `json:"result_tables,omitempty"`
}
