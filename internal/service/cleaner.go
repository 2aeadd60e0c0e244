package service

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	"github.com/capreport/capacityreport/internal/domain"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// maxStringLen caps string-typed values to the VARCHAR column width.
const maxStringLen = 255

// Cleaner maps source CSV columns onto configured target fields and
// coerces values per the declared field type. One Cleaner is built per
// job from the configuration snapshot taken at submit time.
type Cleaner struct {
	mappings []domain.FieldMapping
}

// NewCleaner creates a cleaner for the configured field mappings.
func NewCleaner(mappings []domain.FieldMapping) *Cleaner {
	return &Cleaner{mappings: mappings}
}

// Fields returns the target fields, in configuration order. Cleaned rows
// are aligned with this slice.
func (c *Cleaner) Fields() []domain.FieldMapping {
	return c.mappings
}

// RowStream is a single forward pass over one CSV file. It is finite and
// not restartable; reopen the file to reread.
type RowStream struct {
	cleaner *Cleaner
	reader  *csv.Reader
	jl      *JobLog
	path    string

	// colIdx[i] is the source column bound to mapping i, or -1 when the
	// file has no matching header.
	colIdx []int

	// Matched is how many target fields found a source column.
	Matched int
	// Skipped counts rows dropped because the line could not be parsed.
	Skipped int
	// Warnings counts values coerced to null because they failed to parse.
	Warnings int
}

// Open reads the header row and builds the header→field index: for each
// mapping, the earliest alias in its Extract list that matches a header
// cell case-insensitively wins. Unmatched headers are ignored; unmatched
// target fields stay null for every row.
func (c *Cleaner) Open(path string, jl *JobLog) (*RowStream, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = decodeToUTF8(data)

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	s := &RowStream{
		cleaner: c,
		reader:  r,
		jl:      jl,
		path:    path,
		colIdx:  make([]int, len(c.mappings)),
	}
	for i, m := range c.mappings {
		s.colIdx[i] = -1
		for _, alias := range m.Extract {
			if idx := findHeader(header, alias); idx >= 0 {
				s.colIdx[i] = idx
				s.Matched++
				break
			}
		}
	}
	return s, nil
}

// Next returns the next cleaned row, aligned with Fields(). io.EOF ends
// the stream. Unparsable lines are skipped and counted, never fatal.
func (s *RowStream) Next() ([]interface{}, error) {
	for {
		record, err := s.reader.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			s.Skipped++
			if s.jl != nil {
				s.jl.Warn("skipped unreadable row in %s: %v", s.path, err)
			}
			// csv.Reader recovers at the next line
			if _, ok := err.(*csv.ParseError); ok {
				continue
			}
			return nil, err
		}

		row := make([]interface{}, len(s.cleaner.mappings))
		for i, m := range s.cleaner.mappings {
			idx := s.colIdx[i]
			if idx < 0 || idx >= len(record) {
				row[i] = nil
				continue
			}
			val, ok := coerce(record[idx], m.FieldType())
			if !ok {
				s.Warnings++
				if s.jl != nil {
					s.jl.Warn("field %s: cannot parse %q as %s, using null",
						m.Field, record[idx], m.FieldType())
				}
			}
			row[i] = val
		}
		return row, nil
	}
}

// findHeader locates a header cell equal to alias, ignoring case and
// surrounding whitespace.
func findHeader(header []string, alias string) int {
	for i, cell := range header {
		if strings.EqualFold(strings.TrimSpace(cell), strings.TrimSpace(alias)) {
			return i
		}
	}
	return -1
}

// coerce converts raw text per the declared type. Empty values become
// null silently; non-empty unparsable values become null with ok=false
// so the caller can emit exactly one warning.
func coerce(raw string, t domain.FieldType) (interface{}, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}

	switch t {
	case domain.FieldTypeInt:
		cleaned := stripNumeric(raw)
		if n, err := strconv.ParseInt(cleaned, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
			return int64(f), true
		}
		return nil, false

	case domain.FieldTypeFloat:
		if f, err := strconv.ParseFloat(stripNumeric(raw), 64); err == nil {
			return f, true
		}
		return nil, false

	case domain.FieldTypeDatetime:
		if ts, err := dateparse.ParseLocal(raw); err == nil {
			return ts, true
		}
		return nil, false

	case domain.FieldTypeText:
		return raw, true

	default: // string
		if utf8.RuneCountInString(raw) > maxStringLen {
			runes := []rune(raw)
			return string(runes[:maxStringLen]), true
		}
		return raw, true
	}
}

// stripNumeric removes thousands separators and percent signs before
// numeric parsing ("1,200" → "1200", "85%" → "85").
func stripNumeric(s string) string {
	s = strings.ReplaceAll(s, ",", "")
	return strings.TrimSuffix(s, "%")
}

// decodeToUTF8 passes valid UTF-8 through and otherwise assumes GBK,
// the common legacy encoding for exports from Chinese Windows systems.
func decodeToUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	}
	if decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(data); err == nil {
		return decoded
	}
	return data
}
