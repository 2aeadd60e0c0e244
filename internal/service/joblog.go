package service

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// JobLog is the append-only narration buffer for one job. Lines are
// strictly append-ordered; pollers read prefix-consistent snapshots.
// When a file path is set, every line is mirrored to log.txt as it is
// appended, so history detail survives a process restart.
type JobLog struct {
	mu    sync.Mutex
	lines []string
	file  *os.File
}

// NewJobLog creates a log buffer. logPath may be empty for memory-only
// logs (script-only runs); otherwise the file is truncated and mirrored.
func NewJobLog(logPath string) (*JobLog, error) {
	jl := &JobLog{}
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return nil, err
		}
		f, err := os.Create(logPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create job log: %w", err)
		}
		jl.file = f
	}
	return jl, nil
}

func (l *JobLog) log(level, format string, args ...interface{}) {
	entry := fmt.Sprintf("[%s] [%s] %s",
		time.Now().Format("15:04:05"), level, fmt.Sprintf(format, args...))

	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, entry)
	if l.file != nil {
		fmt.Fprintln(l.file, entry)
	}
}

// Info appends an untagged informational line.
func (l *JobLog) Info(format string, args ...interface{}) {
	l.log("INFO", format, args...)
}

// Warn appends a [WARN] line.
func (l *JobLog) Warn(format string, args ...interface{}) {
	l.log("WARN", format, args...)
}

// Error appends an [ERROR] line.
func (l *JobLog) Error(format string, args ...interface{}) {
	l.log("ERROR", format, args...)
}

// Success appends a [SUCCESS] line.
func (l *JobLog) Success(format string, args ...interface{}) {
	l.log("SUCCESS", format, args...)
}

// Snapshot returns a copy of all lines appended so far.
func (l *JobLog) Snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

// Close releases the mirrored file, if any.
func (l *JobLog) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
