package repository

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/capreport/capacityreport/internal/domain"
)

func newTestConfigStore(t *testing.T) *ConfigStore {
	t.Helper()
	s, err := NewConfigStore(filepath.Join(t.TempDir(), "Configure.json"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestConfigStoreMissingFileYieldsDefault(t *testing.T) {
	s := newTestConfigStore(t)
	cfg := s.Current()
	if cfg.MySQL.Host != "localhost" || cfg.MySQL.Port != 3306 {
		t.Errorf("default mysql = %+v", cfg.MySQL)
	}
	if cfg.MySQL.DBName != "CapacityReport" {
		t.Errorf("default dbname = %s", cfg.MySQL.DBName)
	}
}

func TestConfigStoreSaveBumpsUpdate(t *testing.T) {
	s := newTestConfigStore(t)
	before := s.Current().Update

	updated, err := s.SaveSheetFilter([]string{"Summary"})
	if err != nil {
		t.Fatalf("SaveSheetFilter failed: %v", err)
	}
	if updated == "" || updated == before {
		t.Errorf("Update = %q, want a fresh timestamp", updated)
	}

	cfg := s.Current()
	if len(cfg.SheetFilter) != 1 || cfg.SheetFilter[0] != "Summary" {
		t.Errorf("sheet filter = %v", cfg.SheetFilter)
	}
	if cfg.Update != updated {
		t.Errorf("document Update = %q, want %q", cfg.Update, updated)
	}
}

func TestConfigStorePersistsDocumentFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Configure.json")
	s, err := NewConfigStore(path)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.SaveMySQL(domain.MySQLInfo{
		Host: "db.internal", Port: 3307, User: "report", Passwd: "x", DBName: "CapacityReport",
	}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"Update", "MySQL_DBInfo", "SheetFilter", "ExtractField"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("persisted document missing key %s", key)
		}
	}

	// a fresh store must read back the same document
	s2, err := NewConfigStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := s2.Current().MySQL.Host; got != "db.internal" {
		t.Errorf("reloaded host = %s", got)
	}
}

func TestConfigStoreValidation(t *testing.T) {
	s := newTestConfigStore(t)

	_, err := s.SaveMySQL(domain.MySQLInfo{Host: "", User: "u", DBName: "d"})
	if !errors.Is(err, domain.ErrConfigValidation) {
		t.Errorf("missing host: got %v, want ErrConfigValidation", err)
	}

	_, err = s.SaveExtractFields([]domain.FieldMapping{
		{Field: "a", Extract: []string{"A"}},
		{Field: "a", Extract: []string{"B"}},
	})
	if !errors.Is(err, domain.ErrConfigValidation) {
		t.Errorf("duplicate field: got %v, want ErrConfigValidation", err)
	}

	// failed saves must not dirty the in-memory document
	if got := s.Current().ExtractFields; len(got) != 0 {
		t.Errorf("rejected save leaked into current config: %v", got)
	}
}

func TestConfigStoreImportMergesKnownKeys(t *testing.T) {
	s := newTestConfigStore(t)
	if _, err := s.SaveSheetFilter([]string{"keep-me"}); err != nil {
		t.Fatal(err)
	}

	// upload carries only connection info; the filter must survive
	upload := []byte(`{"MySQL_DBInfo":{"host":"imported","port":3306,"user":"u","passwd":"p","dbname":"d"}}`)
	if _, err := s.Import(upload); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	cfg := s.Current()
	if cfg.MySQL.Host != "imported" {
		t.Errorf("host = %s, want imported", cfg.MySQL.Host)
	}
	if len(cfg.SheetFilter) != 1 || cfg.SheetFilter[0] != "keep-me" {
		t.Errorf("sheet filter clobbered: %v", cfg.SheetFilter)
	}
}

func TestConfigStoreImportEmptyExtractList(t *testing.T) {
	s := newTestConfigStore(t)
	s.SaveExtractFields([]domain.FieldMapping{{Field: "a", Extract: []string{"A"}}})

	// explicit empty list clears the mappings; absence keeps them
	if _, err := s.Import([]byte(`{"ExtractField":[]}`)); err != nil {
		t.Fatal(err)
	}
	if got := s.Current().ExtractFields; len(got) != 0 {
		t.Errorf("explicit empty list not applied: %v", got)
	}
}

func TestConfigStoreImportRejectsGarbage(t *testing.T) {
	s := newTestConfigStore(t)
	if _, err := s.Import([]byte("not json")); !errors.Is(err, domain.ErrConfigValidation) {
		t.Errorf("got %v, want ErrConfigValidation", err)
	}
}

func TestMaskedHidesPassword(t *testing.T) {
	cfg := domain.ReportConfig{MySQL: domain.MySQLInfo{Host: "h", Passwd: "secret"}}
	masked := cfg.Masked()
	if masked.MySQL.Passwd != "" {
		t.Error("password not masked")
	}
	if cfg.MySQL.Passwd != "secret" {
		t.Error("Masked mutated the original")
	}
}
