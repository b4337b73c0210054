// Package project locates and parses the trellis.yaml project file.
package project

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/fathomdata/trellis/internal/types"
)

// FileName is the project manifest written by `trellis init`.
const FileName = "trellis.yaml"

// Manifest describes one transformation project.
type Manifest struct {
	// Name identifies the project in logs and audit entries.
	Name string `yaml:"name"`
	// Tenant scopes all state rows for this project.
	Tenant string `yaml:"tenant"`
	// Environment is the default target environment.
	Environment string `yaml:"environment"`
	// ModelsDir holds the *.sql model files, relative to the manifest.
	ModelsDir string `yaml:"models_dir"`
	// Dialect is the default SQL dialect for parsing and planning.
	Dialect string `yaml:"dialect"`
	// Warehouse configures the remote compute backend. Empty URL means
	// the local sandbox executor.
	Warehouse WarehouseConfig `yaml:"warehouse,omitempty"`
	// Clusters maps cluster size to USD per runtime second.
	Clusters ClusterConfig `yaml:"clusters,omitempty"`

	// Root is the directory containing the manifest. Not serialized.
	Root string `yaml:"-"`
}

// WarehouseConfig points at the warehouse statement API.
type WarehouseConfig struct {
	URL   string `yaml:"url,omitempty"`
	Token string `yaml:"token,omitempty"`
}

// ClusterConfig carries the cost model used by the planner and the
// orchestrator.
type ClusterConfig struct {
	Default string             `yaml:"default,omitempty"`
	Rates   map[string]float64 `yaml:"rates,omitempty"`
}

// Default returns a manifest with the values `trellis init` writes.
func Default(name string) *Manifest {
	return &Manifest{
		Name:        name,
		Tenant:      "default",
		Environment: "dev",
		ModelsDir:   "models",
		Dialect:     "mysql",
		Clusters: ClusterConfig{
			Default: "standard",
			Rates:   map[string]float64{"standard": 0.05, "large": 0.20},
		},
	}
}

// Find walks up from startDir looking for trellis.yaml and parses the
// first one found.
func Find(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", startDir, err)
	}
	for ; ; dir = filepath.Dir(dir) {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
		if dir == filepath.Dir(dir) {
			break
		}
	}
	return nil, &types.NotFoundError{Entity: "project file", ID: FileName}
}

// Load parses a manifest from an explicit path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project file: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	m.Root, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}
	return &m, nil
}

// Save writes the manifest to dir/trellis.yaml. Fails if one already
// exists.
func (m *Manifest) Save(dir string) error {
	if err := m.validate(); err != nil {
		return err
	}
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil {
		return &types.ConflictError{Reason: fmt.Sprintf("%s already exists", path)}
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode project file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write project file: %w", err)
	}
	return nil
}

// ModelsPath returns the absolute model directory.
func (m *Manifest) ModelsPath() string {
	if filepath.IsAbs(m.ModelsDir) {
		return m.ModelsDir
	}
	return filepath.Join(m.Root, m.ModelsDir)
}

// StatePath returns the project-local state database path.
func (m *Manifest) StatePath() string {
	return filepath.Join(m.Root, ".trellis", "state.db")
}

func (m *Manifest) validate() error {
	if m.Name == "" {
		return &types.ValidationError{Field: "name", Reason: "project name is required"}
	}
	if m.ModelsDir == "" {
		return &types.ValidationError{Field: "models_dir", Reason: "models directory is required"}
	}
	if m.Tenant == "" {
		return &types.ValidationError{Field: "tenant", Reason: "tenant is required"}
	}
	return nil
}
