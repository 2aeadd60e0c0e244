package service

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// Normalizer turns an uploaded batch (ZIP archives, Excel workbooks,
// CSVs) into a flat set of CSV files inside the job's work dir. Archives
// are expanded in place and re-scanned, so nested archives and workbooks
// inside archives are handled. Output is deterministic for a fixed input
// set and filter list.
type Normalizer struct {
	// sheetFilter holds substrings; a worksheet whose name contains any
	// of them (case-sensitive) is skipped.
	sheetFilter []string
}

// NewNormalizer creates a normalizer with the configured worksheet
// filter substrings.
func NewNormalizer(sheetFilter []string) *Normalizer {
	return &Normalizer{sheetFilter: sheetFilter}
}

// Normalize expands archives, exports worksheets and returns the sorted
// set of CSV paths under workDir. Per-file failures are narrated into
// the job log and do not abort the batch.
func (n *Normalizer) Normalize(ctx context.Context, workDir string, jl *JobLog) ([]string, error) {
	if err := n.expandArchives(ctx, workDir, jl); err != nil {
		return nil, err
	}
	if err := n.exportWorkbooks(ctx, workDir, jl); err != nil {
		return nil, err
	}

	var csvs []string
	err := filepath.Walk(workDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".csv":
			csvs = append(csvs, path)
		case ".zip", ".xlsx", ".xls":
			// already expanded/exported above
		default:
			if filepath.Base(path) != "log.txt" {
				jl.Error("unsupported file type: %s", relPath(workDir, path))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(csvs)
	return csvs, nil
}

// expandArchives extracts every ZIP under workDir, repeating until no
// unprocessed archive remains so nested archives are covered.
func (n *Normalizer) expandArchives(ctx context.Context, workDir string, jl *JobLog) error {
	jl.Info("expanding ZIP archives...")
	done := make(map[string]bool)
	extracted := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		archives := findByExt(workDir, ".zip")
		progressed := false
		for _, archive := range archives {
			if done[archive] {
				continue
			}
			done[archive] = true
			progressed = true
			if err := extractZip(archive, filepath.Dir(archive)); err != nil {
				jl.Error("failed to extract %s: %v", relPath(workDir, archive), err)
				continue
			}
			jl.Info("extracted: %s", relPath(workDir, archive))
			extracted++
		}
		if !progressed {
			break
		}
	}
	jl.Info("ZIP expansion finished, %d archive(s)", extracted)
	return nil
}

// exportWorkbooks writes one CSV per unfiltered worksheet of every
// workbook, named <stem>_<sheet>.csv next to the workbook.
func (n *Normalizer) exportWorkbooks(ctx context.Context, workDir string, jl *JobLog) error {
	books := append(findByExt(workDir, ".xlsx"), findByExt(workDir, ".xls")...)
	sort.Strings(books)
	jl.Info("found %d Excel workbook(s)", len(books))

	total := 0
	for _, book := range books {
		if err := ctx.Err(); err != nil {
			return err
		}
		var (
			count int
			err   error
		)
		if strings.EqualFold(filepath.Ext(book), ".xls") {
			count, err = n.exportXLS(book)
		} else {
			count, err = n.exportXLSX(book)
		}
		if err != nil {
			jl.Error("failed to process workbook %s: %v", relPath(workDir, book), err)
			continue
		}
		if count > 0 {
			jl.Info("processed: %s (%d sheet(s))", relPath(workDir, book), count)
		}
		total += count
	}
	jl.Info("Excel processing finished, %d CSV file(s) generated", total)
	return nil
}

func (n *Normalizer) exportXLSX(path string) (int, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	for _, sheet := range f.GetSheetList() {
		if n.sheetFiltered(sheet) {
			continue
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return count, fmt.Errorf("sheet %s: %w", sheet, err)
		}
		if err := writeCSV(sheetCSVPath(path, sheet), rows); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (n *Normalizer) exportXLS(path string) (int, error) {
	wb, err := xls.Open(path, "utf-8")
	if err != nil {
		return 0, err
	}

	count := 0
	for i := 0; i < wb.NumSheets(); i++ {
		sheet := wb.GetSheet(i)
		if sheet == nil || n.sheetFiltered(sheet.Name) {
			continue
		}
		var rows [][]string
		for r := 0; r <= int(sheet.MaxRow); r++ {
			row := sheet.Row(r)
			if row == nil {
				rows = append(rows, nil)
				continue
			}
			var cells []string
			for c := 0; c <= row.LastCol(); c++ {
				cells = append(cells, row.Col(c))
			}
			rows = append(rows, cells)
		}
		if err := writeCSV(sheetCSVPath(path, sheet.Name), rows); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// sheetFiltered reports whether a worksheet name contains any configured
// filter substring (case-sensitive containment).
func (n *Normalizer) sheetFiltered(name string) bool {
	for _, filter := range n.sheetFilter {
		if filter != "" && strings.Contains(name, filter) {
			return true
		}
	}
	return false
}

func sheetCSVPath(bookPath, sheet string) string {
	ext := filepath.Ext(bookPath)
	stem := strings.TrimSuffix(filepath.Base(bookPath), ext)
	return filepath.Join(filepath.Dir(bookPath), stem+"_"+sheet+".csv")
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// extractZip expands an archive into destDir. Entry names flagged as
// non-UTF-8 are decoded as GBK first (archives produced on Chinese
// Windows systems), falling back to the raw bytes.
func extractZip(archive, destDir string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, entry := range zr.File {
		name := entry.Name
		if entry.NonUTF8 {
			if decoded, err := simplifiedchinese.GBK.NewDecoder().String(name); err == nil {
				name = decoded
			}
		}
		target := filepath.Join(destDir, filepath.FromSlash(name))
		// keep extraction inside destDir
		if rel, err := filepath.Rel(destDir, target); err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractZipEntry(entry, target); err != nil {
			return fmt.Errorf("entry %s: %w", name, err)
		}
	}
	return nil
}

func extractZipEntry(entry *zip.File, target string) error {
	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

// findByExt returns all files under root with the given extension,
// sorted for deterministic processing order.
func findByExt(root, ext string) []string {
	var out []string
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ext) {
			out = append(out, path)
		}
		return nil
	})
	sort.Strings(out)
	return out
}

func relPath(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return rel
	}
	return path
}
