package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/capreport/capacityreport/internal/domain"
	"github.com/capreport/capacityreport/internal/repository"
	"gorm.io/gorm"
)

// Pipeline runs the processing stages of one job, strictly in order:
// archive expansion → worksheet export → per-directory clean and load →
// post-load SQL script. No stage starts before the previous one has
// fully finished.
type Pipeline struct {
	cfg     domain.ReportConfig
	workDir string
	db      *gorm.DB
	loader  *repository.Loader
	tables  *repository.TableRepository
	script  string
	jl      *JobLog
}

// PipelineResult summarizes one run for the history record.
type PipelineResult struct {
	Success      bool
	ElapsedTime  float64
	ResultTables []string
	RowsLoaded   int64
	Err          error
}

// NewPipeline assembles a pipeline over an open database connection and
// a configuration snapshot taken at submit time.
func NewPipeline(cfg domain.ReportConfig, workDir string, db *gorm.DB, loader *repository.Loader, tables *repository.TableRepository, script string, jl *JobLog) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		workDir: workDir,
		db:      db,
		loader:  loader,
		tables:  tables,
		script:  script,
		jl:      jl,
	}
}

// Run executes all stages. Per-file and per-statement problems are
// narrated and skipped; only connection-level failures abort the job.
func (p *Pipeline) Run(ctx context.Context) PipelineResult {
	start := time.Now()
	p.jl.Info("processing started, work dir: %s", p.workDir)

	result := PipelineResult{}

	normalizer := NewNormalizer(p.cfg.SheetFilter)
	csvs, err := normalizer.Normalize(ctx, p.workDir, p.jl)
	if err != nil {
		return p.fail(result, start, fmt.Errorf("normalize failed: %w", err))
	}

	tables, err := p.loadAll(ctx, csvs)
	if err != nil {
		return p.fail(result, start, err)
	}
	result.ResultTables = tables

	p.runScript(ctx)

	result.Success = true
	result.ElapsedTime = round2(time.Since(start).Seconds())
	p.jl.Success("processing finished, total %.2fs", result.ElapsedTime)
	return result
}

func (p *Pipeline) fail(result PipelineResult, start time.Time, err error) PipelineResult {
	p.jl.Error("processing failed: %v", err)
	result.Success = false
	result.Err = err
	result.ElapsedTime = round2(time.Since(start).Seconds())
	return result
}

// loadAll groups CSVs by data directory, rebuilds each target table and
// loads every file in the group.
func (p *Pipeline) loadAll(ctx context.Context, csvs []string) ([]string, error) {
	p.jl.Info("loading CSV files into the database...")

	dataDirs := p.findDataDirs()
	if len(dataDirs) == 0 {
		p.jl.Warn("no data directories found")
		return nil, nil
	}

	cleaner := NewCleaner(p.cfg.ExtractFields)
	fields := cleaner.Fields()
	if len(fields) == 0 {
		return nil, fmt.Errorf("no field mappings configured")
	}

	var tableNames []string
	for _, dd := range dataDirs {
		p.jl.Info("directory %s -> table %s", relPath(p.workDir, dd.dir), dd.table)

		// rebuild: the target table is a pure projection of this batch
		if err := p.tables.Drop(ctx, dd.table); err != nil {
			return tableNames, fmt.Errorf("failed to drop %s: %w", dd.table, err)
		}
		if err := p.loader.EnsureTable(ctx, dd.table, fields); err != nil {
			return tableNames, fmt.Errorf("failed to create %s: %w", dd.table, err)
		}

		group := filesUnder(csvs, dd.dir)
		p.jl.Info("found %d CSV file(s)", len(group))

		var total, rejected int64
		dirStart := time.Now()
		for i, path := range group {
			if err := ctx.Err(); err != nil {
				return tableNames, err
			}
			res, err := p.loadFile(ctx, cleaner, dd.table, fields, path)
			if err != nil {
				return tableNames, err
			}
			total += res.Loaded
			rejected += res.Rejected
			if (i+1)%10 == 0 {
				p.jl.Info("progress: %d/%d files, %d rows, %.1fs",
					i+1, len(group), total, time.Since(dirStart).Seconds())
			}
		}
		if rejected > 0 {
			p.jl.Warn("table %s: %d row(s) rejected by the server", dd.table, rejected)
		}
		elapsed := time.Since(dirStart).Seconds()
		p.jl.Success("table %s loaded: %d rows in %.2fs", dd.table, total, elapsed)
		tableNames = append(tableNames, dd.table)
	}
	return tableNames, nil
}

// loadFile cleans one CSV and loads its rows. Files whose headers match
// no configured field are skipped with a warning.
func (p *Pipeline) loadFile(ctx context.Context, cleaner *Cleaner, table string, fields []domain.FieldMapping, path string) (repository.LoadResult, error) {
	rel := relPath(p.workDir, path)
	stream, err := cleaner.Open(path, p.jl)
	if err != nil {
		p.jl.Error("failed to read CSV %s: %v", rel, err)
		return repository.LoadResult{}, nil
	}
	if stream.Matched == 0 {
		p.jl.Warn("skipping %s: no header matches any configured field", rel)
		return repository.LoadResult{}, nil
	}

	var rows [][]interface{}
	for {
		row, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			p.jl.Error("failed while reading %s: %v", rel, err)
			break
		}
		rows = append(rows, row)
	}

	res, err := p.loader.Load(ctx, table, fields, rows)
	if err != nil {
		// loader errors are connection-level and fatal for the job
		return res, fmt.Errorf("load into %s failed: %w", table, err)
	}
	p.jl.Info("loaded %s: %d rows (skipped %d, warnings %d)",
		rel, res.Loaded, stream.Skipped, stream.Warnings)
	return res, nil
}

// runScript executes the post-load report script, best-effort.
func (p *Pipeline) runScript(ctx context.Context) {
	if strings.TrimSpace(p.script) == "" {
		p.jl.Warn("report script is empty, skipping")
		return
	}
	p.jl.Info("executing report script...")
	runner := NewScriptRunner(p.db)
	results := runner.Run(ctx, p.script, p.jl)

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	if failed > 0 {
		p.jl.Warn("report script finished with %d failed statement(s)", failed)
	} else {
		p.jl.Success("report script finished")
	}
}

type dataDir struct {
	table string
	dir   string
}

// findDataDirs locates directories named 4G/5G (any case, recursively)
// and maps each to its target table. When none exist, every direct child
// directory of the work dir becomes a data dir.
func (p *Pipeline) findDataDirs() []dataDir {
	var found []dataDir
	seen := map[string]bool{}

	filepath.Walk(p.workDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() {
			return nil
		}
		name := strings.ToUpper(info.Name())
		if name == "4G" || name == "5G" {
			table := name + "_UD"
			if !seen[table] {
				seen[table] = true
				found = append(found, dataDir{table: table, dir: path})
			}
		}
		return nil
	})

	if len(found) == 0 {
		entries, err := os.ReadDir(p.workDir)
		if err != nil {
			return nil
		}
		for _, entry := range entries {
			if entry.IsDir() {
				found = append(found, dataDir{
					table: entry.Name() + "_UD",
					dir:   filepath.Join(p.workDir, entry.Name()),
				})
			}
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].table < found[j].table })
	return found
}

// filesUnder filters paths to those inside dir.
func filesUnder(paths []string, dir string) []string {
	prefix := dir + string(filepath.Separator)
	var out []string
	for _, p := range paths {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}
