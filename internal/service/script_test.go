package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
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

func TestSplitStatements(t *testing.T) {
	testCases := []struct {
		name   string
		script string
		want   []string
	}{
		{
			name:   "two statements",
			script: "DROP TABLE a;\nCREATE TABLE a (x INT);",
			want:   []string{"DROP TABLE a", "CREATE TABLE a (x INT)"},
		},
		{
			name:   "semicolon inside string literal",
			script: "INSERT INTO t VALUES ('a;b');",
			want:   []string{"INSERT INTO t VALUES ('a;b')"},
		},
		{
			name:   "semicolon inside backtick identifier",
			script: "SELECT `weird;col` FROM t;",
			want:   []string{"SELECT `weird;col` FROM t"},
		},
		{
			name:   "escaped quote in literal",
			script: `INSERT INTO t VALUES ('it\'s; fine');`,
			want:   []string{`INSERT INTO t VALUES ('it\'s; fine')`},
		},
		{
			name:   "line comments stripped",
			script: "-- leading comment\nSELECT 1;\n# another; comment\nSELECT 2;",
			want:   []string{"SELECT 1", "SELECT 2"},
		},
		{
			name:   "block comment with semicolon",
			script: "SELECT 1 /* not; split */ + 2;",
			want:   []string{"SELECT 1  + 2"},
		},
		{
			name:   "trailing statement without terminator",
			script: "SELECT 1; SELECT 2",
			want:   []string{"SELECT 1", "SELECT 2"},
		},
		{
			name:   "comment-only input",
			script: "-- nothing here\n# nor here\n",
			want:   nil,
		},
		{
			name:   "empty statements dropped",
			script: ";;;SELECT 1;;",
			want:   []string{"SELECT 1"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := SplitStatements(tc.script)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d statements %q, want %d %q", len(got), got, len(tc.want), tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("statement %d = %q, want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestScriptRunnerContinuesPastFailure(t *testing.T) {
	gdb, mock := newMockDB(t)

	mock.ExpectExec("DROP TABLE a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE broken").WillReturnError(fmt.Errorf("table exists"))
	mock.ExpectExec("DROP TABLE b").WillReturnResult(sqlmock.NewResult(0, 0))

	jl, _ := NewJobLog("")
	script := "DROP TABLE a;\nCREATE TABLE broken (x INT);\nDROP TABLE b;"
	results := NewScriptRunner(gdb).Run(context.Background(), script, jl)

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if !results[0].Success || results[1].Success || !results[2].Success {
		t.Errorf("success flags = [%v %v %v], want [true false true]",
			results[0].Success, results[1].Success, results[2].Success)
	}
	if results[1].Error == "" {
		t.Error("failed statement has no error text")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}

	failLines := 0
	for _, line := range jl.Snapshot() {
		if strings.Contains(line, "[ERROR]") {
			failLines++
		}
	}
	if failLines != 1 {
		t.Errorf("error log lines = %d, want 1", failLines)
	}
}

func TestStatementPreview(t *testing.T) {
	short := "SELECT 1"
	if got := statementPreview(short); got != short {
		t.Errorf("preview = %q, want unchanged", got)
	}

	long := "SELECT " + strings.Repeat("col, ", 40) + "x FROM t"
	got := statementPreview(long)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("long preview not truncated: %q", got)
	}
	if n := len([]rune(got)); n != 83 {
		t.Errorf("preview length = %d runes, want 83", n)
	}

	multiline := "SELECT\n\t1,\n\t2"
	if got := statementPreview(multiline); got != "SELECT 1, 2" {
		t.Errorf("preview = %q, want collapsed to one line", got)
	}

	wide := strings.Repeat("数", 100)
	if got := statementPreview(wide); []rune(got)[79] != '数' {
		t.Errorf("multibyte preview split a rune: %q", got)
	}
}
