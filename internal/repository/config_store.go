package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/capreport/capacityreport/internal/domain"
)

// ConfigStore loads and persists the user-editable field-mapping document
// (Configure.json). Saves rewrite the whole document and bump the Update
// timestamp. Writes are serialized with a mutex so the file is never torn;
// concurrent editors are still last-writer-wins.
type ConfigStore struct {
	path string

	mu  sync.RWMutex
	cfg *domain.ReportConfig
}

// NewConfigStore creates a store bound to the given document path and
// loads the current document. A missing file yields the default document.
func NewConfigStore(path string) (*ConfigStore, error) {
	s := &ConfigStore{path: path}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ConfigStore) reload() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.cfg = domain.DefaultReportConfig()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	cfg := domain.DefaultReportConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	s.cfg = cfg
	return nil
}

// Current returns a copy of the loaded document.
func (s *ConfigStore) Current() domain.ReportConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyConfig(s.cfg)
}

// Path returns the location of the persisted document.
func (s *ConfigStore) Path() string {
	return s.path
}

// SaveMySQL replaces the database connection parameters and persists.
func (s *ConfigStore) SaveMySQL(info domain.MySQLInfo) (string, error) {
	return s.mutate(func(cfg *domain.ReportConfig) {
		cfg.MySQL = info
	})
}

// SaveSheetFilter replaces the worksheet filter list and persists.
func (s *ConfigStore) SaveSheetFilter(filters []string) (string, error) {
	return s.mutate(func(cfg *domain.ReportConfig) {
		cfg.SheetFilter = append([]string(nil), filters...)
	})
}

// SaveExtractFields replaces the field-mapping rules and persists.
func (s *ConfigStore) SaveExtractFields(fields []domain.FieldMapping) (string, error) {
	return s.mutate(func(cfg *domain.ReportConfig) {
		cfg.ExtractFields = copyMappings(fields)
	})
}

// Import merges an uploaded document into the current one. Only the three
// known keys are taken over; anything the upload omits keeps its current
// value.
func (s *ConfigStore) Import(data []byte) (string, error) {
	var doc struct {
		MySQL         *domain.MySQLInfo     `json:"MySQL_DBInfo"`
		SheetFilter   *[]string             `json:"SheetFilter"`
		ExtractFields []domain.FieldMapping `json:"ExtractField"`
		HasExtract    bool                  `json:"-"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("%w: not a valid JSON document", domain.ErrConfigValidation)
	}
	// Distinguish "absent" from "empty list" for ExtractField
	var probe map[string]json.RawMessage
	_ = json.Unmarshal(data, &probe)
	_, doc.HasExtract = probe["ExtractField"]

	return s.mutate(func(cfg *domain.ReportConfig) {
		if doc.MySQL != nil {
			cfg.MySQL = *doc.MySQL
		}
		if doc.SheetFilter != nil {
			cfg.SheetFilter = append([]string(nil), (*doc.SheetFilter)...)
		}
		if doc.HasExtract {
			cfg.ExtractFields = copyMappings(doc.ExtractFields)
		}
	})
}

// mutate applies fn to a copy of the document, validates it, stamps the
// Update time and persists atomically. Returns the new Update timestamp.
func (s *ConfigStore) mutate(fn func(cfg *domain.ReportConfig)) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := copyConfig(s.cfg)
	fn(&next)
	if err := next.Validate(); err != nil {
		return "", err
	}
	next.Update = time.Now().Format("2006/01/02 15:04:05")

	if err := s.write(&next); err != nil {
		return "", err
	}
	s.cfg = &next
	return next.Update, nil
}

func (s *ConfigStore) write(cfg *domain.ReportConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func copyConfig(cfg *domain.ReportConfig) domain.ReportConfig {
	out := *cfg
	out.SheetFilter = append([]string(nil), cfg.SheetFilter...)
	out.ExtractFields = copyMappings(cfg.ExtractFields)
	return out
}

func copyMappings(in []domain.FieldMapping) []domain.FieldMapping {
	out := make([]domain.FieldMapping, len(in))
	for i, m := range in {
		out[i] = m
		out[i].Extract = append([]string(nil), m.Extract...)
	}
	return out
}
