package repository

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/capreport/capacityreport/internal/domain"
)

func newTestHistory(t *testing.T) *HistoryStore {
	t.Helper()
	s, err := NewHistoryStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestHistoryCreateAndGet(t *testing.T) {
	s := newTestHistory(t)

	rec, err := s.Create("20240301_103000", s.WorkDir("20240301_103000"), 3)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if rec.Status != "pending" {
		t.Errorf("status = %q, want pending", rec.Status)
	}

	got, err := s.Get("20240301_103000")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.FileCount != 3 {
		t.Errorf("file count = %d, want 3", got.FileCount)
	}

	if _, err := s.Get("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get missing: got %v, want ErrNotFound", err)
	}
}

func TestHistoryListNewestFirst(t *testing.T) {
	s := newTestHistory(t)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("job-%d", i)
		if _, err := s.Create(id, s.WorkDir(id), 0); err != nil {
			t.Fatal(err)
		}
	}

	records := s.List(0)
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0].ID != "job-2" {
		t.Errorf("first record = %s, want job-2 (newest first)", records[0].ID)
	}

	if limited := s.List(2); len(limited) != 2 {
		t.Errorf("List(2) returned %d records", len(limited))
	}
}

func TestHistoryRetentionCap(t *testing.T) {
	s := newTestHistory(t)
	for i := 0; i < maxHistoryRecords+5; i++ {
		id := fmt.Sprintf("job-%03d", i)
		if _, err := s.Create(id, s.WorkDir(id), 0); err != nil {
			t.Fatal(err)
		}
	}

	records := s.List(0)
	if len(records) != maxHistoryRecords {
		t.Fatalf("got %d records, want cap of %d", len(records), maxHistoryRecords)
	}
	// the oldest entries must be the ones evicted
	if records[len(records)-1].ID != "job-005" {
		t.Errorf("oldest surviving record = %s, want job-005", records[len(records)-1].ID)
	}
}

func TestHistoryUpdate(t *testing.T) {
	s := newTestHistory(t)
	s.Create("job-1", s.WorkDir("job-1"), 0)

	err := s.Update("job-1", func(rec *domain.HistoryRecord) {
		rec.Status = "completed"
		rec.ElapsedTime = 12.34
		rec.ResultTables = []string{"4G_UD"}
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, _ := s.Get("job-1")
	if got.Status != "completed" || got.ElapsedTime != 12.34 {
		t.Errorf("record = %+v, update not persisted", got)
	}

	if err := s.Update("missing", func(*domain.HistoryRecord) {}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Update missing: got %v, want ErrNotFound", err)
	}
}

func TestHistoryDeleteIsIdempotent(t *testing.T) {
	s := newTestHistory(t)
	workDir := s.WorkDir("job-1")
	s.Create("job-1", workDir, 0)
	os.MkdirAll(workDir, 0o755)
	os.WriteFile(filepath.Join(workDir, "data.csv"), []byte("A\n1\n"), 0o644)

	deleted, err := s.Delete("job-1")
	if err != nil || !deleted {
		t.Fatalf("Delete = (%v, %v), want (true, nil)", deleted, err)
	}
	if _, err := os.Stat(workDir); !os.IsNotExist(err) {
		t.Error("work dir survived deletion")
	}

	// deleting again is a no-op, not an error
	deleted, err = s.Delete("job-1")
	if err != nil || deleted {
		t.Errorf("second Delete = (%v, %v), want (false, nil)", deleted, err)
	}
}

func TestHistoryDeleteNeverLeavesCache(t *testing.T) {
	s := newTestHistory(t)
	outside := t.TempDir()
	victim := filepath.Join(outside, "precious.txt")
	os.WriteFile(victim, []byte("keep me"), 0o644)

	s.Create("job-1", outside, 0)
	if _, err := s.Delete("job-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(victim); err != nil {
		t.Error("record pointing outside the cache dir was followed")
	}
}

func TestHistoryClear(t *testing.T) {
	s := newTestHistory(t)
	for _, id := range []string{"a", "b"} {
		workDir := s.WorkDir(id)
		s.Create(id, workDir, 0)
		os.MkdirAll(workDir, 0o755)
	}

	removed, err := s.Clear()
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if got := s.List(0); len(got) != 0 {
		t.Errorf("records after clear = %d, want 0", len(got))
	}

	entries, _ := os.ReadDir(s.CacheDir())
	for _, e := range entries {
		if e.Name() != historyFileName {
			t.Errorf("leftover cache entry %s after clear", e.Name())
		}
	}
}

func TestHistoryLogs(t *testing.T) {
	s := newTestHistory(t)
	workDir := s.WorkDir("job-1")
	s.Create("job-1", workDir, 0)
	os.MkdirAll(workDir, 0o755)
	os.WriteFile(filepath.Join(workDir, jobLogFileName),
		[]byte("[10:00:00] [INFO] started\n[10:00:05] [SUCCESS] done\n"), 0o644)

	logs := s.Logs("job-1")
	if len(logs) != 2 {
		t.Fatalf("got %d log lines, want 2", len(logs))
	}
	if logs[1] != "[10:00:05] [SUCCESS] done" {
		t.Errorf("last line = %q", logs[1])
	}

	if logs := s.Logs("missing"); len(logs) != 0 {
		t.Errorf("logs for missing record = %v, want empty", logs)
	}
}

func TestFormatSize(t *testing.T) {
	testCases := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512.00 B"},
		{1536, "1.50 KB"},
		{5 * 1024 * 1024, "5.00 MB"},
	}
	for _, tc := range testCases {
		if got := FormatSize(tc.in); got != tc.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
