package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadDatasources_YAML(t *testing.T) {
	cfg := `
datasources:
  - id: sales
    kind: postgres
    database_url: postgres://localhost/sales
  - id: crm
    kind: rpc
    endpoint: http://crm:8000/rpc
`
	path := writeTempConfig(t, "datasources.yaml", cfg)

	cat, err := LoadDatasources(path)
	if err != nil {
		t.Fatalf("LoadDatasources: %v", err)
	}
	if len(cat.Datasources) != 2 {
		t.Fatalf("got %d datasources, want 2", len(cat.Datasources))
	}
	if cat.Datasources[0].ID != "sales" || cat.Datasources[0].Kind != KindPostgres {
		t.Errorf("first datasource: %+v", cat.Datasources[0])
	}
	if cat.Datasources[1].Endpoint != "http://crm:8000/rpc" {
		t.Errorf("endpoint: got %q", cat.Datasources[1].Endpoint)
	}
}

func TestLoadDatasources_JSON(t *testing.T) {
	cfg := `{"datasources": [{"id": "sales", "kind": "postgres", "database_url": "postgres://localhost/sales"}]}`
	path := writeTempConfig(t, "datasources.json", cfg)

	cat, err := LoadDatasources(path)
	if err != nil {
		t.Fatalf("LoadDatasources: %v", err)
	}
	if len(cat.Datasources) != 1 || cat.Datasources[0].DatabaseURL != "postgres://localhost/sales" {
		t.Errorf("unexpected catalog: %+v", cat.Datasources)
	}
}

func TestLoadDatasources_FileNotFound(t *testing.T) {
	_, err := LoadDatasources("/nonexistent/datasources.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadDatasources_InvalidSyntax(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"json", "ds.json", `{not json`},
		{"yaml", "ds.yml", "datasources: [unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadDatasources(writeTempConfig(t, tt.file, tt.content))
			if err == nil || !strings.Contains(err.Error(), "parse") {
				t.Errorf("expected parse error, got %v", err)
			}
		})
	}
}

func TestDatasourceCatalog_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cat     DatasourceCatalog
		wantErr string
	}{
		{
			name:    "empty",
			cat:     DatasourceCatalog{},
			wantErr: "no datasources",
		},
		{
			name:    "empty id",
			cat:     DatasourceCatalog{Datasources: []DatasourceConfig{{Kind: KindRPC, Endpoint: "http://x"}}},
			wantErr: "empty id",
		},
		{
			name: "duplicate id",
			cat: DatasourceCatalog{Datasources: []DatasourceConfig{
				{ID: "a", Kind: KindRPC, Endpoint: "http://x"},
				{ID: "a", Kind: KindRPC, Endpoint: "http://y"},
			}},
			wantErr: "duplicate",
		},
		{
			name:    "unknown kind",
			cat:     DatasourceCatalog{Datasources: []DatasourceConfig{{ID: "a", Kind: "mysql"}}},
			wantErr: "unknown kind",
		},
		{
			name:    "postgres without url",
			cat:     DatasourceCatalog{Datasources: []DatasourceConfig{{ID: "a", Kind: KindPostgres}}},
			wantErr: "database_url",
		},
		{
			name:    "rpc without endpoint",
			cat:     DatasourceCatalog{Datasources: []DatasourceConfig{{ID: "a", Kind: KindRPC}}},
			wantErr: "endpoint",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cat.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}
}
