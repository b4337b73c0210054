// Package loader reads SQL model files with metadata headers and
// produces canonical ModelDefinitions.
package loader

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/fathomdata/trellis/internal/sqlkit"
	"github.com/fathomdata/trellis/internal/types"
)

// refPattern matches {{ ref('model.name') }} macros in model bodies.
var refPattern = regexp.MustCompile(`\{\{\s*ref\(\s*'([^']+)'\s*\)\s*\}\}`)

var recognizedKeys = map[string]struct{}{
	"name":                 {},
	"kind":                 {},
	"materialization":      {},
	"time_column":          {},
	"unique_key":           {},
	"partition_by":         {},
	"incremental_strategy": {},
	"owner":                {},
	"tags":                 {},
	"dependencies":         {},
	"contract_mode":        {},
	"contract_columns":     {},
}

// Loader parses model directories through the SQL toolkit.
type Loader struct {
	kit     sqlkit.Toolkit
	dialect string
}

// New constructs a Loader for the given dialect.
func New(kit sqlkit.Toolkit, dialect string) *Loader {
	return &Loader{kit: kit, dialect: dialect}
}

// rawModel is the first-pass parse of one file, before refs are
// resolved and dependencies discovered.
type rawModel struct {
	def          *types.ModelDefinition
	declaredDeps []string
	path         string
}

// LoadDir walks dir for .sql files and returns canonical model
// definitions plus non-fatal warnings. The load is two-pass: headers
// and raw SQL first, then ref() resolution, dependency discovery, and
// content hashing once every model name is known.
func (l *Loader) LoadDir(dir string) ([]*types.ModelDefinition, []string, error) {
	var (
		raws     []*rawModel
		warnings []string
	)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".sql") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read model file %s: %w", path, err)
		}
		raw, warns, err := l.parseFile(path, string(data))
		if err != nil {
			return err
		}
		warnings = append(warnings, warns...)
		raws = append(raws, raw)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	byName := make(map[string]*rawModel, len(raws))
	for _, raw := range raws {
		if prior, dup := byName[raw.def.Name]; dup {
			return nil, nil, &types.ValidationError{
				Field:  "name",
				Reason: fmt.Sprintf("duplicate model name %s (%s and %s)", raw.def.Name, prior.path, raw.path),
			}
		}
		byName[raw.def.Name] = raw
	}

	models := make([]*types.ModelDefinition, 0, len(raws))
	for _, raw := range raws {
		if err := l.finish(raw, byName); err != nil {
			return nil, nil, err
		}
		models = append(models, raw.def)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	return models, warnings, nil
}

// parseFile splits one file into its `-- key: value` header and SQL
// body. Unknown keys and malformed header lines are skipped with a
// warning, never an error.
func (l *Loader) parseFile(path, content string) (*rawModel, []string, error) {
	var warnings []string
	def := &types.ModelDefinition{
		Kind:         types.KindFullRefresh,
		ContractMode: types.ContractDisabled,
		LoadedAt:     time.Now().UTC(),
	}
	raw := &rawModel{def: def, path: path}

	lines := strings.Split(content, "\n")
	bodyStart := 0
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "--") {
			bodyStart = i
			break
		}
		bodyStart = i + 1
		header := strings.TrimSpace(strings.TrimPrefix(trimmed, "--"))
		if header == "" {
			continue
		}
		key, value, ok := strings.Cut(header, ":")
		if !ok {
			warnings = append(warnings, fmt.Sprintf("%s: ignoring malformed header line %q", path, trimmed))
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if _, known := recognizedKeys[key]; !known {
			warnings = append(warnings, fmt.Sprintf("%s: ignoring unknown header key %q", path, key))
			continue
		}
		applyHeader(def, raw, key, value)
	}

	def.RawSQL = strings.TrimSpace(strings.Join(lines[bodyStart:], "\n"))
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), ".sql")
	}
	if def.RawSQL == "" {
		return nil, nil, &types.ValidationError{
			Field:  "sql",
			Reason: fmt.Sprintf("model file %s has no SQL body", path),
		}
	}
	return raw, warnings, nil
}

func applyHeader(def *types.ModelDefinition, raw *rawModel, key, value string) {
	switch key {
	case "name":
		def.Name = value
	case "kind":
		def.Kind = types.ModelKind(strings.ToUpper(value))
	case "materialization":
		def.Materialization = types.Materialization(strings.ToUpper(value))
	case "time_column":
		def.TimeColumn = value
	case "unique_key":
		def.UniqueKey = value
	case "partition_by":
		def.PartitionBy = value
	case "incremental_strategy":
		def.IncrementalStrategy = value
	case "owner":
		def.Owner = value
	case "tags":
		def.Tags = splitList(value)
	case "dependencies":
		raw.declaredDeps = splitList(value)
	case "contract_mode":
		def.ContractMode = types.ContractMode(strings.ToUpper(value))
	case "contract_columns":
		for _, col := range splitList(value) {
			name, dataType, _ := strings.Cut(col, " ")
			def.ContractColumns = append(def.ContractColumns, types.ContractColumn{
				Name:     name,
				DataType: dataType,
				Required: true,
			})
		}
	}
}

// finish runs pass two for one model: resolve ref() macros, discover
// dependencies via scope-aware parsing, and compute the content hash.
func (l *Loader) finish(raw *rawModel, byName map[string]*rawModel) error {
	def := raw.def

	var refErr error
	def.CleanSQL = refPattern.ReplaceAllStringFunc(def.RawSQL, func(m string) string {
		name := refPattern.FindStringSubmatch(m)[1]
		if _, ok := byName[name]; !ok && refErr == nil {
			refErr = &types.ValidationError{
				Field:  "ref",
				Reason: fmt.Sprintf("model %s references unknown model %q", def.Name, name),
			}
		}
		return name
	})
	if refErr != nil {
		return refErr
	}

	deps := map[string]struct{}{}
	set, err := l.kit.ExtractTables(def.CleanSQL, l.dialect)
	if err != nil {
		return fmt.Errorf("failed to analyze SQL for model %s: %w", def.Name, err)
	}
	for _, table := range set.Tables {
		if _, isModel := byName[table]; isModel && table != def.Name {
			deps[table] = struct{}{}
		}
	}
	for _, dep := range raw.declaredDeps {
		if _, ok := byName[dep]; !ok {
			return &types.ValidationError{
				Field:  "dependencies",
				Reason: fmt.Sprintf("model %s declares unknown dependency %q", def.Name, dep),
			}
		}
		if dep != def.Name {
			deps[dep] = struct{}{}
		}
	}
	def.Dependencies = make([]string, 0, len(deps))
	for dep := range deps {
		def.Dependencies = append(def.Dependencies, dep)
	}
	sort.Strings(def.Dependencies)

	normalized, err := l.kit.Normalize(def.CleanSQL, l.dialect)
	if err != nil {
		return fmt.Errorf("failed to normalize SQL for model %s: %w", def.Name, err)
	}
	sum := sha256.Sum256([]byte(normalized))
	def.ContentHash = hex.EncodeToString(sum[:])

	return def.Validate()
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
