package service

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindDataDirs(t *testing.T) {
	workDir := t.TempDir()
	os.MkdirAll(filepath.Join(workDir, "batch", "4G"), 0o755)
	os.MkdirAll(filepath.Join(workDir, "batch", "5g"), 0o755)

	p := &Pipeline{workDir: workDir}
	dirs := p.findDataDirs()

	if len(dirs) != 2 {
		t.Fatalf("got %d data dirs, want 2", len(dirs))
	}
	// sorted by table name
	if dirs[0].table != "4G_UD" || dirs[1].table != "5G_UD" {
		t.Errorf("tables = [%s %s], want [4G_UD 5G_UD]", dirs[0].table, dirs[1].table)
	}
	if filepath.Base(dirs[1].dir) != "5g" {
		t.Errorf("5G dir = %s, case-insensitive match expected", dirs[1].dir)
	}
}

func TestFindDataDirsFallbackToChildren(t *testing.T) {
	workDir := t.TempDir()
	os.MkdirAll(filepath.Join(workDir, "LTE"), 0o755)
	os.MkdirAll(filepath.Join(workDir, "NR"), 0o755)
	os.WriteFile(filepath.Join(workDir, "stray.csv"), []byte("A\n"), 0o644)

	p := &Pipeline{workDir: workDir}
	dirs := p.findDataDirs()

	if len(dirs) != 2 {
		t.Fatalf("got %d data dirs, want 2", len(dirs))
	}
	if dirs[0].table != "LTE_UD" || dirs[1].table != "NR_UD" {
		t.Errorf("tables = [%s %s], want [LTE_UD NR_UD]", dirs[0].table, dirs[1].table)
	}
}

func TestFindDataDirsEmpty(t *testing.T) {
	p := &Pipeline{workDir: t.TempDir()}
	if dirs := p.findDataDirs(); len(dirs) != 0 {
		t.Errorf("got %v, want none", dirs)
	}
}

func TestFilesUnder(t *testing.T) {
	base := filepath.Join("work", "4G")
	paths := []string{
		filepath.Join("work", "4G", "a.csv"),
		filepath.Join("work", "4G", "sub", "b.csv"),
		filepath.Join("work", "5G", "c.csv"),
		filepath.Join("work", "4G.csv"),
	}
	got := filesUnder(paths, base)
	if len(got) != 2 {
		t.Fatalf("got %v, want the two files under %s", got, base)
	}
}

func TestRound2(t *testing.T) {
	testCases := []struct {
		in   float64
		want float64
	}{
		{1.234, 1.23},
		{1.235, 1.24},
		{0, 0},
		{12.999, 13.0},
	}
	for _, tc := range testCases {
		if got := round2(tc.in); got != tc.want {
			t.Errorf("round2(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
