package domain

import (
	"fmt"
	"strings"
)

// FieldType is the closed set of value types a field mapping may declare.
// Coercion is dispatched by this tag, never by runtime inspection.
type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeInt      FieldType = "int"
	FieldTypeFloat    FieldType = "float"
	FieldTypeDatetime FieldType = "datetime"
	FieldTypeText     FieldType = "text"
)

// NormalizeFieldType maps a configured type tag onto the closed set,
// defaulting unknown or empty tags to string.
func NormalizeFieldType(s string) FieldType {
	switch FieldType(strings.ToLower(strings.TrimSpace(s))) {
	case FieldTypeInt:
		return FieldTypeInt
	case FieldTypeFloat:
		return FieldTypeFloat
	case FieldTypeDatetime:
		return FieldTypeDatetime
	case FieldTypeText:
		return FieldTypeText
	default:
		return FieldTypeString
	}
}

// ColumnType returns the MySQL column type used when a target table is
// created for this field type.
func (t FieldType) ColumnType() string {
	switch t {
	case FieldTypeInt:
		return "BIGINT"
	case FieldTypeFloat:
		return "DOUBLE"
	case FieldTypeDatetime:
		return "DATETIME"
	case FieldTypeText:
		return "TEXT"
	default:
		return "VARCHAR(255)"
	}
}

// FieldMapping binds one target database column to the source-spreadsheet
// column names that may populate it. Extract order defines alias precedence.
// JSON tags follow the Configure.json document format.
type FieldMapping struct {
	Field   string   `json:"Field"`
	Type    string   `json:"Type,omitempty"`
	Extract []string `json:"Extract"`
}

// FieldType returns the normalized value type for this mapping.
func (m FieldMapping) FieldType() FieldType {
	return NormalizeFieldType(m.Type)
}

// MySQLInfo holds the connection parameters of the target database.
type MySQLInfo struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	User   string `json:"user"`
	Passwd string `json:"passwd"`
	DBName string `json:"dbname"`
}

// ReportConfig is the user-editable field-mapping document persisted as
// Configure.json. Every save rewrites the whole document and bumps Update.
type ReportConfig struct {
	Update        string         `json:"Update"`
	MySQL         MySQLInfo      `json:"MySQL_DBInfo"`
	SheetFilter   []string       `json:"SheetFilter"`
	ExtractFields []FieldMapping `json:"ExtractField"`
}

// Validate checks the invariants of the document: required connection
// fields and target-field uniqueness across mapping entries.
func (c *ReportConfig) Validate() error {
	if c.MySQL.Host == "" || c.MySQL.User == "" || c.MySQL.DBName == "" {
		return fmt.Errorf("%w: mysql host, user and dbname are required", ErrConfigValidation)
	}
	seen := make(map[string]struct{}, len(c.ExtractFields))
	for _, m := range c.ExtractFields {
		if m.Field == "" {
			return fmt.Errorf("%w: mapping with empty target field", ErrConfigValidation)
		}
		if _, dup := seen[m.Field]; dup {
			return fmt.Errorf("%w: duplicate target field %q", ErrConfigValidation, m.Field)
		}
		seen[m.Field] = struct{}{}
	}
	return nil
}

// Masked returns a copy safe for display, with the password blanked.
func (c *ReportConfig) Masked() ReportConfig {
	out := *c
	out.MySQL.Passwd = ""
	return out
}

// DefaultReportConfig returns the document used when Configure.json does
// not exist yet.
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		MySQL: MySQLInfo{
			Host:   "localhost",
			Port:   3306,
			User:   "root",
			DBName: "CapacityReport",
		},
		SheetFilter:   []string{},
		ExtractFields: []FieldMapping{},
	}
}
