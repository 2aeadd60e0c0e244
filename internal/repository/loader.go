package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/capreport/capacityreport/internal/domain"
	"github.com/capreport/capacityreport/internal/logger"
	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// Loader writes cleaned rows into the target database. It prefers the
// server-side LOAD DATA LOCAL INFILE path (rows staged to a temporary
// tab-delimited file) and falls back to batched multi-row INSERTs when
// the driver or server refuses the bulk path.
type Loader struct {
	db        *gorm.DB
	batchSize int
	stageDir  string
}

// LoadResult reports the outcome of loading one row set.
type LoadResult struct {
	Loaded   int64
	Rejected int64
	Bulk     bool
}

// NewLoader creates a loader over an open connection.
// Parameters:
//   - db: GORM handle to the target database.
//   - batchSize: rows per INSERT statement on the fallback path.
//   - stageDir: directory for staging files; empty uses the OS temp dir.
// Returns:
//   - *Loader: loader instance.
func NewLoader(db *gorm.DB, batchSize int, stageDir string) *Loader {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Loader{db: db, batchSize: batchSize, stageDir: stageDir}
}

// EnsureTable creates the target table if absent, one typed column per
// configured field. Pre-existing tables are left untouched; schema drift
// between configuration and an existing table is not reconciled.
func (l *Loader) EnsureTable(ctx context.Context, table string, fields []domain.FieldMapping) error {
	if len(fields) == 0 {
		return fmt.Errorf("no fields configured for table %s", table)
	}
	defs := make([]string, len(fields))
	for i, f := range fields {
		defs[i] = quoteIdent(f.Field) + " " + f.FieldType().ColumnType()
	}
	stmt := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (%s) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
		quoteIdent(table), strings.Join(defs, ", "),
	)
	return l.db.WithContext(ctx).Exec(stmt).Error
}

// Load writes rows into table, columns aligned with fields. Row values
// are nil (NULL), string, int64, float64 or time.Time.
func (l *Loader) Load(ctx context.Context, table string, fields []domain.FieldMapping, rows [][]interface{}) (LoadResult, error) {
	if len(rows) == 0 {
		return LoadResult{}, nil
	}

	loaded, err := l.loadData(ctx, table, fields, rows)
	if err == nil {
		return LoadResult{Loaded: loaded, Bulk: true}, nil
	}
	logger.CtxWarn(ctx, "bulk load unavailable, falling back to batched inserts: %v", err)

	return l.insertBatches(ctx, table, fields, rows)
}

// loadData stages rows to a temporary TSV and issues LOAD DATA LOCAL
// INFILE. The staging file is registered with the driver so the DSN does
// not have to allow arbitrary local files.
func (l *Loader) loadData(ctx context.Context, table string, fields []domain.FieldMapping, rows [][]interface{}) (int64, error) {
	sqlDB, err := l.db.DB()
	if err != nil {
		return 0, err
	}

	stagePath, err := l.writeStagingFile(rows)
	if err != nil {
		return 0, err
	}
	defer os.Remove(stagePath)

	mysql.RegisterLocalFile(stagePath)
	defer mysql.DeregisterLocalFile(stagePath)

	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = quoteIdent(f.Field)
	}
	stmt := fmt.Sprintf(
		"LOAD DATA LOCAL INFILE '%s' INTO TABLE %s CHARACTER SET utf8mb4 "+
			"FIELDS TERMINATED BY '\\t' ESCAPED BY '\\\\' LINES TERMINATED BY '\\n' (%s)",
		strings.ReplaceAll(stagePath, `\`, `/`), quoteIdent(table), strings.Join(cols, ", "),
	)

	res, err := sqlDB.ExecContext(ctx, stmt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// insertBatches is the fallback path: multi-row parameterized INSERTs,
// batch size bounded to keep single-statement payloads reasonable. A
// server-side rejection of one batch is counted and skipped; a broken
// connection aborts.
func (l *Loader) insertBatches(ctx context.Context, table string, fields []domain.FieldMapping, rows [][]interface{}) (LoadResult, error) {
	var result LoadResult

	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = quoteIdent(f.Field)
	}
	rowHole := "(" + strings.TrimSuffix(strings.Repeat("?,", len(fields)), ",") + ")"

	sqlDB, err := l.db.DB()
	if err != nil {
		return result, err
	}

	for start := 0; start < len(rows); start += l.batchSize {
		end := start + l.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
			quoteIdent(table), strings.Join(cols, ", "),
			strings.TrimSuffix(strings.Repeat(rowHole+",", len(batch)), ","),
		)
		args := make([]interface{}, 0, len(batch)*len(fields))
		for _, row := range batch {
			args = append(args, row...)
		}

		if _, err := sqlDB.ExecContext(ctx, stmt, args...); err != nil {
			var mysqlErr *mysql.MySQLError
			if errors.As(err, &mysqlErr) {
				// Server rejected the batch (constraint/type violation):
				// surface as a warning and keep going.
				result.Rejected += int64(len(batch))
				logger.CtxWarn(ctx, "batch rejected (%d rows): %v", len(batch), err)
				continue
			}
			return result, fmt.Errorf("insert failed: %w", err)
		}
		result.Loaded += int64(len(batch))
	}
	return result, nil
}

func (l *Loader) writeStagingFile(rows [][]interface{}) (string, error) {
	dir := l.stageDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, "stage-*.tsv")
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sb strings.Builder
	for _, row := range rows {
		sb.Reset()
		for i, val := range row {
			if i > 0 {
				sb.WriteByte('\t')
			}
			sb.WriteString(tsvValue(val))
		}
		sb.WriteByte('\n')
		if _, err := f.WriteString(sb.String()); err != nil {
			os.Remove(f.Name())
			return "", err
		}
	}
	return filepath.Abs(f.Name())
}

// tsvValue renders one value for the staging file; nil becomes the
// MySQL NULL marker.
func tsvValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return `\N`
	case string:
		return tsvEscape(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return val.Format("2006-01-02 15:04:05")
	default:
		return tsvEscape(fmt.Sprintf("%v", val))
	}
}

func tsvEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "\t", `\t`, "\n", `\n`, "\r", `\r`)
	return r.Replace(s)
}
