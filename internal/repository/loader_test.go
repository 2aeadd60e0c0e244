package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/capreport/capacityreport/internal/domain"
	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	return gdb, mock
}

var testFields = []domain.FieldMapping{
	{Field: "cell_name", Type: "string", Extract: []string{"Cell Name"}},
	{Field: "traffic", Type: "float", Extract: []string{"Traffic"}},
	{Field: "users", Type: "int", Extract: []string{"Users"}},
}

func TestEnsureTableSQL(t *testing.T) {
	gdb, mock := newMockDB(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS `4G_UD` \\(`cell_name` VARCHAR\\(255\\), `traffic` DOUBLE, `users` BIGINT\\) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4").
		WillReturnResult(sqlmock.NewResult(0, 0))

	loader := NewLoader(gdb, 500, t.TempDir())
	if err := loader.EnsureTable(context.Background(), "4G_UD", testFields); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestEnsureTableNoFields(t *testing.T) {
	gdb, _ := newMockDB(t)
	loader := NewLoader(gdb, 500, t.TempDir())
	if err := loader.EnsureTable(context.Background(), "t", nil); err == nil {
		t.Error("expected error for empty field set")
	}
}

func TestLoadPrefersBulkPath(t *testing.T) {
	gdb, mock := newMockDB(t)

	rows := [][]interface{}{
		{"CELL-001", 12.5, int64(100)},
		{"CELL-002", nil, int64(200)},
	}
	mock.ExpectExec("LOAD DATA LOCAL INFILE").
		WillReturnResult(sqlmock.NewResult(0, 2))

	loader := NewLoader(gdb, 500, t.TempDir())
	res, err := loader.Load(context.Background(), "4G_UD", testFields, rows)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !res.Bulk {
		t.Error("expected the bulk path to be used")
	}
	if res.Loaded != 2 {
		t.Errorf("Loaded = %d, want 2", res.Loaded)
	}
}

func TestLoadFallsBackToBatchedInserts(t *testing.T) {
	gdb, mock := newMockDB(t)

	// Server refuses the bulk path; every row must still arrive.
	mock.ExpectExec("LOAD DATA LOCAL INFILE").
		WillReturnError(&mysql.MySQLError{Number: 1148, Message: "command is not allowed"})

	rows := make([][]interface{}, 5)
	for i := range rows {
		rows[i] = []interface{}{fmt.Sprintf("CELL-%03d", i), float64(i), int64(i)}
	}
	// batch size 2 → batches of 2, 2, 1
	mock.ExpectExec("INSERT INTO `4G_UD`").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO `4G_UD`").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO `4G_UD`").WillReturnResult(sqlmock.NewResult(0, 1))

	loader := NewLoader(gdb, 2, t.TempDir())
	res, err := loader.Load(context.Background(), "4G_UD", testFields, rows)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res.Bulk {
		t.Error("expected the fallback path")
	}
	if res.Loaded != int64(len(rows)) {
		t.Errorf("Loaded = %d, want %d (fallback must load the same rows)", res.Loaded, len(rows))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestInsertBatchesSkipsRejectedBatch(t *testing.T) {
	gdb, mock := newMockDB(t)

	mock.ExpectExec("LOAD DATA LOCAL INFILE").
		WillReturnError(&mysql.MySQLError{Number: 1148, Message: "not allowed"})
	mock.ExpectExec("INSERT INTO `t`").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO `t`").
		WillReturnError(&mysql.MySQLError{Number: 1366, Message: "incorrect value"})
	mock.ExpectExec("INSERT INTO `t`").WillReturnResult(sqlmock.NewResult(0, 1))

	rows := [][]interface{}{
		{"a", 1.0, int64(1)},
		{"b", 2.0, int64(2)},
		{"c", 3.0, int64(3)},
		{"d", 4.0, int64(4)},
		{"e", 5.0, int64(5)},
	}
	loader := NewLoader(gdb, 2, t.TempDir())
	res, err := loader.Load(context.Background(), "t", testFields, rows)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res.Loaded != 3 {
		t.Errorf("Loaded = %d, want 3", res.Loaded)
	}
	if res.Rejected != 2 {
		t.Errorf("Rejected = %d, want 2", res.Rejected)
	}
}

func TestLoadEmptyRows(t *testing.T) {
	gdb, _ := newMockDB(t)
	loader := NewLoader(gdb, 500, t.TempDir())
	res, err := loader.Load(context.Background(), "t", testFields, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res.Loaded != 0 || res.Rejected != 0 {
		t.Errorf("result = %+v, want zero", res)
	}
}

func TestTSVValue(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	testCases := []struct {
		name string
		in   interface{}
		want string
	}{
		{"nil is NULL marker", nil, `\N`},
		{"plain string", "abc", "abc"},
		{"tab escaped", "a\tb", `a\tb`},
		{"newline escaped", "a\nb", `a\nb`},
		{"backslash escaped", `a\b`, `a\\b`},
		{"int", int64(42), "42"},
		{"float", 12.5, "12.5"},
		{"datetime", ts, "2024-03-01 10:30:00"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tsvValue(tc.in); got != tc.want {
				t.Errorf("tsvValue(%v) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
