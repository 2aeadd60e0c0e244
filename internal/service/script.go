package service

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ScriptRunner executes the user-editable post-load SQL script: one
// statement at a time, best-effort. A failing statement is logged and
// the next one still runs, so one broken aggregate table does not block
// generation of the others.
type ScriptRunner struct {
	db *gorm.DB
}

// NewScriptRunner creates a runner over an open connection.
func NewScriptRunner(db *gorm.DB) *ScriptRunner {
	return &ScriptRunner{db: db}
}

// StatementResult records the outcome of one script statement.
type StatementResult struct {
	Preview  string `json:"preview"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Duration int64  `json:"duration_ms"`
}

// Run splits the script into statements and executes them sequentially.
func (r *ScriptRunner) Run(ctx context.Context, script string, jl *JobLog) []StatementResult {
	statements := SplitStatements(script)
	results := make([]StatementResult, 0, len(statements))

	for i, stmt := range statements {
		if err := ctx.Err(); err != nil {
			break
		}
		preview := statementPreview(stmt)
		jl.Info("executing SQL (%d/%d): %s", i+1, len(statements), preview)

		start := time.Now()
		err := r.db.WithContext(ctx).Exec(stmt).Error
		elapsed := time.Since(start).Milliseconds()

		res := StatementResult{Preview: preview, Success: err == nil, Duration: elapsed}
		if err != nil {
			res.Error = err.Error()
			jl.Error("SQL statement failed: %v", err)
		} else {
			jl.Info("done in %.2fs", float64(elapsed)/1000)
		}
		results = append(results, res)
	}
	return results
}

// SplitStatements splits SQL text on semicolon terminators, aware of
// string literals, backtick identifiers and comments. It is not a full
// SQL parser and does not need to be: the script is plain DDL/DML.
func SplitStatements(script string) []string {
	var (
		statements []string
		sb         strings.Builder
	)
	flush := func() {
		stmt := strings.TrimSpace(sb.String())
		sb.Reset()
		if stmt != "" && !isCommentOnly(stmt) {
			statements = append(statements, stmt)
		}
	}

	runes := []rune(script)
	var quote rune // active quote char, 0 when outside literals
	for i := 0; i < len(runes); i++ {
		ch := runes[i]

		if quote != 0 {
			sb.WriteRune(ch)
			if ch == '\\' && quote != '`' && i+1 < len(runes) {
				i++
				sb.WriteRune(runes[i])
				continue
			}
			if ch == quote {
				quote = 0
			}
			continue
		}

		switch {
		case ch == '\'' || ch == '"' || ch == '`':
			quote = ch
			sb.WriteRune(ch)
		case ch == '#':
			// line comment
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			sb.WriteRune('\n')
		case ch == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			sb.WriteRune('\n')
		case ch == '/' && i+1 < len(runes) && runes[i+1] == '*':
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i++ // past the closing '/'
		case ch == ';':
			flush()
		default:
			sb.WriteRune(ch)
		}
	}
	flush()
	return statements
}

func isCommentOnly(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "--") {
			continue
		}
		return false
	}
	return true
}

// statementPreview returns the leading identifying text of a statement,
// collapsed to one line.
func statementPreview(stmt string) string {
	oneLine := strings.Join(strings.Fields(stmt), " ")
	if runes := []rune(oneLine); len(runes) > 80 {
		return string(runes[:80]) + "..."
	}
	return oneLine
}
