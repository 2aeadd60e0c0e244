package service

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

// buildWorkbook returns xlsx bytes with the given sheets, one header row
// and one data row each.
func buildWorkbook(t *testing.T, sheets ...string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, sheet := range sheets {
		if i == 0 {
			f.SetSheetName("Sheet1", sheet)
		} else {
			if _, err := f.NewSheet(sheet); err != nil {
				t.Fatal(err)
			}
		}
		f.SetSheetRow(sheet, "A1", &[]interface{}{"Name", "Value"})
		f.SetSheetRow(sheet, "A2", &[]interface{}{sheet, 1})
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func buildZip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestNormalizeZipWithFilteredWorkbook(t *testing.T) {
	workDir := t.TempDir()
	book := buildWorkbook(t, "Sheet1", "Summary")
	archive := buildZip(t, map[string][]byte{"a.xlsx": book})
	if err := os.WriteFile(filepath.Join(workDir, "upload.zip"), archive, 0o644); err != nil {
		t.Fatal(err)
	}

	jl, _ := NewJobLog("")
	n := NewNormalizer([]string{"Summary"})
	csvs, err := n.Normalize(context.Background(), workDir, jl)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if len(csvs) != 1 {
		t.Fatalf("got %d CSVs (%v), want exactly 1", len(csvs), csvs)
	}
	if base := filepath.Base(csvs[0]); base != "a_Sheet1.csv" {
		t.Errorf("CSV name = %s, want a_Sheet1.csv", base)
	}

	data, err := os.ReadFile(csvs[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "Name,Value") {
		t.Errorf("CSV content starts with %q, want the header row", string(data)[:20])
	}
}

func TestNormalizeFilterIsCaseSensitiveContainment(t *testing.T) {
	testCases := []struct {
		name     string
		sheet    string
		filters  []string
		filtered bool
	}{
		{"exact match", "Summary", []string{"Summary"}, true},
		{"substring match", "2024 Summary Q1", []string{"Summary"}, true},
		{"case differs", "summary", []string{"Summary"}, false},
		{"no match", "Data", []string{"Summary"}, false},
		{"empty filter entry ignored", "Data", []string{""}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			n := NewNormalizer(tc.filters)
			if got := n.sheetFiltered(tc.sheet); got != tc.filtered {
				t.Errorf("sheetFiltered(%q) = %v, want %v", tc.sheet, got, tc.filtered)
			}
		})
	}
}

func TestNormalizeNestedZip(t *testing.T) {
	workDir := t.TempDir()
	inner := buildZip(t, map[string][]byte{"data/report.csv": []byte("A,B\n1,2\n")})
	outer := buildZip(t, map[string][]byte{"inner.zip": inner})
	if err := os.WriteFile(filepath.Join(workDir, "outer.zip"), outer, 0o644); err != nil {
		t.Fatal(err)
	}

	jl, _ := NewJobLog("")
	csvs, err := NewNormalizer(nil).Normalize(context.Background(), workDir, jl)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(csvs) != 1 {
		t.Fatalf("got %d CSVs, want 1 from the nested archive", len(csvs))
	}
	if !strings.HasSuffix(csvs[0], filepath.Join("data", "report.csv")) {
		t.Errorf("unexpected CSV path %s", csvs[0])
	}
}

func TestNormalizeDirectCSVAndUnsupported(t *testing.T) {
	workDir := t.TempDir()
	os.WriteFile(filepath.Join(workDir, "direct.csv"), []byte("A\n1\n"), 0o644)
	os.WriteFile(filepath.Join(workDir, "notes.docx"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(workDir, "log.txt"), []byte("x"), 0o644)

	jl, _ := NewJobLog("")
	csvs, err := NewNormalizer(nil).Normalize(context.Background(), workDir, jl)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(csvs) != 1 || filepath.Base(csvs[0]) != "direct.csv" {
		t.Fatalf("csvs = %v, want only direct.csv", csvs)
	}

	unsupported := 0
	for _, line := range jl.Snapshot() {
		if strings.Contains(line, "unsupported file type") {
			unsupported++
			if !strings.Contains(line, "notes.docx") {
				t.Errorf("unexpected unsupported file in %q", line)
			}
		}
	}
	if unsupported != 1 {
		t.Errorf("unsupported warnings = %d, want 1 (log.txt must be exempt)", unsupported)
	}
}

func TestNormalizeDeterministicOrder(t *testing.T) {
	build := func() []string {
		workDir := t.TempDir()
		for _, name := range []string{"b.csv", "a.csv", "c.csv"} {
			os.WriteFile(filepath.Join(workDir, name), []byte("X\n1\n"), 0o644)
		}
		jl, _ := NewJobLog("")
		csvs, err := NewNormalizer(nil).Normalize(context.Background(), workDir, jl)
		if err != nil {
			t.Fatal(err)
		}
		names := make([]string, len(csvs))
		for i, p := range csvs {
			names[i] = filepath.Base(p)
		}
		return names
	}

	first := build()
	second := build()
	want := []string{"a.csv", "b.csv", "c.csv"}
	for i := range want {
		if first[i] != want[i] || second[i] != want[i] {
			t.Fatalf("order not deterministic: %v vs %v, want %v", first, second, want)
		}
	}
}

func TestExtractZipRejectsEscapingPaths(t *testing.T) {
	workDir := t.TempDir()
	archive := buildZip(t, map[string][]byte{
		"../escape.csv": []byte("A\n1\n"),
		"safe.csv":      []byte("A\n1\n"),
	})
	path := filepath.Join(workDir, "evil.zip")
	if err := os.WriteFile(path, archive, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := extractZip(path, workDir); err != nil {
		t.Fatalf("extractZip failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(workDir, "safe.csv")); err != nil {
		t.Error("safe entry was not extracted")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(workDir), "escape.csv")); err == nil {
		t.Error("entry escaped the destination directory")
	}
}
