package repository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// TableRepository serves the database-browsing endpoints: listing tables,
// paging through rows, truncating and dropping. Target tables have
// configuration-derived schemas, so everything here works on dynamic
// column sets via raw SQL.
type TableRepository struct {
	db *gorm.DB
}

// NewTableRepository creates a repository bound to an open connection.
func NewTableRepository(db *gorm.DB) *TableRepository {
	return &TableRepository{db: db}
}

// TableInfo describes one table's columns and row count.
type TableInfo struct {
	Name     string                   `json:"name"`
	Columns  []map[string]interface{} `json:"columns"`
	RowCount int64                    `json:"row_count"`
}

// TablePage is one page of table data.
type TablePage struct {
	Data       []map[string]interface{} `json:"data"`
	Total      int64                    `json:"total"`
	Page       int                      `json:"page"`
	PageSize   int                      `json:"page_size"`
	TotalPages int64                    `json:"total_pages"`
}

// Tables lists all table names in the configured database.
func (r *TableRepository) Tables(ctx context.Context) ([]string, error) {
	var tables []string
	if err := r.db.WithContext(ctx).Raw("SHOW TABLES").Scan(&tables).Error; err != nil {
		return nil, err
	}
	if tables == nil {
		tables = []string{}
	}
	return tables, nil
}

// Info returns column metadata and the row count for one table.
func (r *TableRepository) Info(ctx context.Context, table string) (TableInfo, error) {
	info := TableInfo{Name: table}

	columns, err := r.scanRows(ctx, "DESCRIBE "+quoteIdent(table))
	if err != nil {
		return info, err
	}
	info.Columns = columns

	err = r.db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM " + quoteIdent(table)).
		Scan(&info.RowCount).Error
	return info, err
}

// Query pages through table rows with optional per-column LIKE filters
// and ordering.
func (r *TableRepository) Query(ctx context.Context, table string, page, pageSize int, filters map[string]string, orderBy, orderDir string) (TablePage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	result := TablePage{Page: page, PageSize: pageSize}

	var conditions []string
	var args []interface{}
	for col, val := range filters {
		if val == "" {
			continue
		}
		conditions = append(conditions, quoteIdent(col)+" LIKE ?")
		args = append(args, "%"+val+"%")
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	err := r.db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM "+quoteIdent(table)+where, args...).
		Scan(&result.Total).Error
	if err != nil {
		return result, err
	}

	order := ""
	if orderBy != "" {
		dir := "ASC"
		if strings.EqualFold(orderDir, "DESC") {
			dir = "DESC"
		}
		order = " ORDER BY " + quoteIdent(orderBy) + " " + dir
	}

	query := fmt.Sprintf("SELECT * FROM %s%s%s LIMIT ? OFFSET ?", quoteIdent(table), where, order)
	rows, err := r.scanRows(ctx, query, append(args, pageSize, (page-1)*pageSize)...)
	if err != nil {
		return result, err
	}
	result.Data = rows
	result.TotalPages = (result.Total + int64(pageSize) - 1) / int64(pageSize)
	return result, nil
}

// Truncate empties a table.
func (r *TableRepository) Truncate(ctx context.Context, table string) error {
	return r.db.WithContext(ctx).Exec("TRUNCATE TABLE " + quoteIdent(table)).Error
}

// Drop removes a table if it exists.
func (r *TableRepository) Drop(ctx context.Context, table string) error {
	return r.db.WithContext(ctx).Exec("DROP TABLE IF EXISTS " + quoteIdent(table)).Error
}

// DropAll drops every table in the database and returns their names.
func (r *TableRepository) DropAll(ctx context.Context) ([]string, error) {
	tables, err := r.Tables(ctx)
	if err != nil {
		return nil, err
	}
	dropped := make([]string, 0, len(tables))
	for _, table := range tables {
		if err := r.Drop(ctx, table); err != nil {
			return dropped, fmt.Errorf("failed to drop %s: %w", table, err)
		}
		dropped = append(dropped, table)
	}
	return dropped, nil
}

// Execute runs one user-supplied statement. SELECTs return rows; other
// statements return the affected row count.
func (r *TableRepository) Execute(ctx context.Context, stmt string) (interface{}, error) {
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(stmt)), "SELECT") {
		return r.scanRows(ctx, stmt)
	}
	res := r.db.WithContext(ctx).Exec(stmt)
	if res.Error != nil {
		return nil, res.Error
	}
	return map[string]interface{}{"affected_rows": res.RowsAffected}, nil
}

// Dump returns every row of a table as strings, with the column order
// preserved for file export. NULLs become empty strings.
func (r *TableRepository) Dump(ctx context.Context, table string) ([]string, [][]string, error) {
	rows, err := r.db.WithContext(ctx).Raw("SELECT * FROM " + quoteIdent(table)).Rows()
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	out := [][]string{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		record := make([]string, len(cols))
		for i, v := range values {
			switch t := v.(type) {
			case nil:
				record[i] = ""
			case []byte:
				record[i] = string(t)
			default:
				record[i] = fmt.Sprint(t)
			}
		}
		out = append(out, record)
	}
	return cols, out, rows.Err()
}

// scanRows runs a query and materializes every row as a column→value map,
// preserving dynamic schemas.
func (r *TableRepository) scanRows(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := r.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []map[string]interface{}{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		record := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			switch v := values[i].(type) {
			case []byte:
				record[col] = string(v)
			default:
				record[col] = v
			}
		}
		out = append(out, record)
	}
	return out, rows.Err()
}
