package repository

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/capreport/capacityreport/internal/domain"
)

const (
	historyFileName = "history.json"
	jobLogFileName  = "log.txt"

	// maxHistoryRecords caps how many records are retained.
	maxHistoryRecords = 100
)

// HistoryStore persists one record per completed or failed job in a JSON
// file under the cache directory, alongside each job's scratch work dir
// (uploaded files plus log.txt).
type HistoryStore struct {
	cacheDir string

	mu sync.Mutex
}

// NewHistoryStore creates the store and ensures the cache directory and
// history file exist.
func NewHistoryStore(cacheDir string) (*HistoryStore, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	s := &HistoryStore{cacheDir: cacheDir}
	path := s.historyPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
			return nil, fmt.Errorf("failed to create history file: %w", err)
		}
	}
	return s, nil
}

// CacheDir returns the root of the scratch area.
func (s *HistoryStore) CacheDir() string {
	return s.cacheDir
}

// WorkDir returns the scratch directory for a task ID.
func (s *HistoryStore) WorkDir(id string) string {
	return filepath.Join(s.cacheDir, id)
}

func (s *HistoryStore) historyPath() string {
	return filepath.Join(s.cacheDir, historyFileName)
}

func (s *HistoryStore) load() []domain.HistoryRecord {
	data, err := os.ReadFile(s.historyPath())
	if err != nil {
		return nil
	}
	var records []domain.HistoryRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil
	}
	return records
}

func (s *HistoryStore) save(records []domain.HistoryRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.historyPath(), data, 0o644)
}

// Create appends a new record at the head of the list, evicting the
// oldest past the retention cap.
func (s *HistoryStore) Create(id string, workDir string, fileCount int) (domain.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := domain.HistoryRecord{
		ID:        id,
		Timestamp: time.Now().Format(time.RFC3339),
		Status:    "pending",
		WorkDir:   workDir,
		FileCount: fileCount,
	}
	records := append([]domain.HistoryRecord{rec}, s.load()...)
	if len(records) > maxHistoryRecords {
		records = records[:maxHistoryRecords]
	}
	if err := s.save(records); err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("failed to save history: %w", err)
	}
	return rec, nil
}

// Update applies fn to the record with the given ID and persists.
func (s *HistoryStore) Update(id string, fn func(rec *domain.HistoryRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.load()
	for i := range records {
		if records[i].ID == id {
			fn(&records[i])
			return s.save(records)
		}
	}
	return domain.ErrNotFound
}

// Get returns a single record by ID.
func (s *HistoryStore) Get(id string) (domain.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.load() {
		if rec.ID == id {
			return rec, nil
		}
	}
	return domain.HistoryRecord{}, domain.ErrNotFound
}

// List returns up to limit records, newest first.
func (s *HistoryStore) List(limit int) []domain.HistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.load()
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	if records == nil {
		records = []domain.HistoryRecord{}
	}
	return records
}

// Logs reads the job log lines from the work dir's log.txt. A missing
// file yields an empty slice.
func (s *HistoryStore) Logs(id string) []string {
	rec, err := s.Get(id)
	if err != nil {
		return []string{}
	}
	data, err := os.ReadFile(filepath.Join(rec.WorkDir, jobLogFileName))
	if err != nil {
		return []string{}
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if lines == nil {
		lines = []string{}
	}
	return lines
}

// Delete removes a record and its work dir. Deleting an absent record is
// a no-op and returns false.
func (s *HistoryStore) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.load()
	var workDir string
	kept := records[:0]
	for _, rec := range records {
		if rec.ID == id {
			workDir = rec.WorkDir
			continue
		}
		kept = append(kept, rec)
	}
	if len(kept) == len(records) {
		return false, nil
	}
	if err := s.save(kept); err != nil {
		return false, err
	}
	if workDir != "" {
		s.removeInsideCache(workDir)
	}
	return true, nil
}

// Clear removes all records and wipes the cache directory, keeping only
// the history file itself. Returns the number of records removed.
func (s *HistoryStore) Clear() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.load()
	if err := s.save([]domain.HistoryRecord{}); err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		return len(records), nil
	}
	for _, entry := range entries {
		if entry.Name() == historyFileName {
			continue
		}
		os.RemoveAll(filepath.Join(s.cacheDir, entry.Name()))
	}
	return len(records), nil
}

// SizeOf walks the record's work dir and returns its total size in bytes.
func (s *HistoryStore) SizeOf(id string) (int64, error) {
	rec, err := s.Get(id)
	if err != nil {
		return 0, err
	}
	if _, err := os.Stat(rec.WorkDir); os.IsNotExist(err) {
		return 0, nil
	}
	return dirSize(rec.WorkDir), nil
}

// CacheSize reports the total size of the scratch area, excluding the
// history file, plus file and directory counts.
func (s *HistoryStore) CacheSize() (size int64, files int, dirs int) {
	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		return 0, 0, 0
	}
	for _, entry := range entries {
		if entry.Name() == historyFileName {
			continue
		}
		path := filepath.Join(s.cacheDir, entry.Name())
		filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if info.IsDir() {
				dirs++
			} else {
				files++
				size += info.Size()
			}
			return nil
		})
	}
	return size, files, dirs
}

// removeInsideCache deletes a directory only if it resolves inside the
// cache dir. Records pointing elsewhere are never followed.
func (s *HistoryStore) removeInsideCache(dir string) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return
	}
	absCache, err := filepath.Abs(s.cacheDir)
	if err != nil {
		return
	}
	rel, err := filepath.Rel(absCache, absDir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	os.RemoveAll(absDir)
}

func dirSize(path string) int64 {
	var total int64
	filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}

// FormatSize renders a byte count in human units, matching the size
// strings the UI expects.
func FormatSize(size int64) string {
	if size == 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB", "TB"}
	val := float64(size)
	for _, unit := range units {
		if val < 1024.0 {
			return fmt.Sprintf("%.2f %s", val, unit)
		}
		val /= 1024.0
	}
	return fmt.Sprintf("%.2f PB", val)
}
