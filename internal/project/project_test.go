package project

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fathomdata/trellis/internal/types"
)

func TestSaveAndFind(t *testing.T) {
	root := t.TempDir()
	m := Default("orders-warehouse")
	if err := m.Save(root); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Find from a nested directory walks up to the manifest.
	nested := filepath.Join(root, "models", "staging")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	found, err := Find(nested)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if found.Name != "orders-warehouse" || found.Root != root {
		t.Errorf("found = %+v", found)
	}
	if found.ModelsPath() != filepath.Join(root, "models") {
		t.Errorf("models path = %s", found.ModelsPath())
	}
}

func TestSaveRejectsOverwrite(t *testing.T) {
	root := t.TempDir()
	m := Default("p")
	if err := m.Save(root); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	var conflict *types.ConflictError
	if err := m.Save(root); !errors.As(err, &conflict) {
		t.Errorf("second save = %v, want ConflictError", err)
	}
}

func TestFindMissing(t *testing.T) {
	_, err := Find(t.TempDir())
	var notFound *types.NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("Find in empty dir = %v, want NotFoundError", err)
	}
}

func TestLoadValidates(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, FileName)
	if err := os.WriteFile(path, []byte("name: p\ntenant: acme\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	var validation *types.ValidationError
	if !errors.As(err, &validation) {
		t.Errorf("manifest without models_dir = %v, want ValidationError", err)
	}
}

func TestLoadParsesWarehouseAndRates(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, FileName)
	manifest := `name: p
tenant: acme
environment: prod
models_dir: sql
dialect: mysql
warehouse:
  url: https://wh.example.com
  token: secret
clusters:
  default: large
  rates:
    standard: 0.05
    large: 0.2
`
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Warehouse.URL != "https://wh.example.com" || m.Clusters.Default != "large" {
		t.Errorf("manifest = %+v", m)
	}
	if m.Clusters.Rates["large"] != 0.2 {
		t.Errorf("rates = %v", m.Clusters.Rates)
	}
}
