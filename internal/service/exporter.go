package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/capreport/capacityreport/internal/repository"
	"github.com/xuri/excelize/v2"
)

// Exporter writes table snapshots to downloadable files in the cache
// directory. Export files live under exports/ so cache cleanup can wipe
// them with everything else.
type Exporter struct {
	tables   *repository.TableRepository
	cacheDir string
}

// NewExporter creates an exporter writing under cacheDir.
func NewExporter(tables *repository.TableRepository, cacheDir string) *Exporter {
	return &Exporter{tables: tables, cacheDir: cacheDir}
}

// Export dumps a table to a CSV or xlsx file and returns the file path.
// Format is "csv" or "xlsx"; anything else is rejected.
func (e *Exporter) Export(ctx context.Context, table, format string) (string, error) {
	cols, rows, err := e.tables.Dump(ctx, table)
	if err != nil {
		return "", fmt.Errorf("failed to read table %s: %w", table, err)
	}

	dir := filepath.Join(e.cacheDir, "exports")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	stamp := time.Now().Format("20060102_150405")

	switch strings.ToLower(format) {
	case "csv", "":
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.csv", table, stamp))
		return path, writeCSVExport(path, cols, rows)
	case "xlsx":
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.xlsx", table, stamp))
		return path, writeXLSXExport(path, table, cols, rows)
	default:
		return "", fmt.Errorf("unsupported export format %q", format)
	}
}

// writeCSVExport writes UTF-8 CSV with a BOM so Excel on Windows opens
// Chinese headers correctly.
func writeCSVExport(path string, cols []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(cols); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeXLSXExport(path, sheet string, cols []string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	// sheet names are capped at 31 chars by the format
	if len(sheet) > 31 {
		sheet = sheet[:31]
	}
	f.SetSheetName("Sheet1", sheet)

	header := make([]interface{}, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}
