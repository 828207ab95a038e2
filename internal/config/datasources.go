package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Datasource kinds.
const (
	KindPostgres = "postgres"
	KindRPC      = "rpc"
)

// DatasourceConfig describes one query target widgets can reference by id.
type DatasourceConfig struct {
	ID          string `json:"id" yaml:"id"`
	Kind        string `json:"kind" yaml:"kind"`
	DatabaseURL string `json:"database_url,omitempty" yaml:"database_url,omitempty"`
	Endpoint    string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
}

// DatasourceCatalog is the set of datasources known to the service.
type DatasourceCatalog struct {
	Datasources []DatasourceConfig `json:"datasources" yaml:"datasources"`
}

// LoadDatasources reads a datasource catalog. Files ending in .yaml or .yml
// are parsed as YAML, everything else as JSON.
func LoadDatasources(path string) (*DatasourceCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read datasource config: %w", err)
	}

	var cat DatasourceCatalog
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cat)
	default:
		err = json.Unmarshal(data, &cat)
	}
	if err != nil {
		return nil, fmt.Errorf("parse datasource config: %w", err)
	}

	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Validate checks ids are present and unique and that each entry carries the
// fields its kind needs.
func (c *DatasourceCatalog) Validate() error {
	if len(c.Datasources) == 0 {
		return fmt.Errorf("datasource config: no datasources defined")
	}

	seen := make(map[string]bool, len(c.Datasources))
	for i, ds := range c.Datasources {
		if ds.ID == "" {
			return fmt.Errorf("datasource config: datasource #%d has empty id", i)
		}
		if seen[ds.ID] {
			return fmt.Errorf("datasource config: duplicate datasource id %q", ds.ID)
		}
		seen[ds.ID] = true

		switch ds.Kind {
		case KindPostgres:
			if ds.DatabaseURL == "" {
				return fmt.Errorf("datasource config: datasource %q has empty database_url", ds.ID)
			}
		case KindRPC:
			if ds.Endpoint == "" {
				return fmt.Errorf("datasource config: datasource %q has empty endpoint", ds.ID)
			}
		default:
			return fmt.Errorf("datasource config: datasource %q has unknown kind %q", ds.ID, ds.Kind)
		}
	}
	return nil
}
