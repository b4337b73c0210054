package contracts

import (
	"errors"
	"testing"

	"github.com/fathomdata/trellis/internal/sqlkit/tidbkit"
	"github.com/fathomdata/trellis/internal/types"
)

func contractModel(mode types.ContractMode, sql string, cols ...types.ContractColumn) *types.ModelDefinition {
	return &types.ModelDefinition{
		Name:            "analytics.orders_daily",
		Kind:            types.KindFullRefresh,
		RawSQL:          sql,
		CleanSQL:        sql,
		ContractMode:    mode,
		ContractColumns: cols,
	}
}

func TestCheckMissingRequiredColumnIsBreaking(t *testing.T) {
	def := contractModel(types.ContractStrict,
		"SELECT order_id, amount FROM orders",
		types.ContractColumn{Name: "order_id", Required: true},
		types.ContractColumn{Name: "currency", Required: true},
	)
	models := map[string]*types.ModelDefinition{def.Name: def}

	violations := Check(tidbkit.New(), "mysql", models)
	list := violations[def.Name]
	var breaking *types.ContractViolation
	for i := range list {
		if list[i].Severity == types.SeverityBreaking {
			breaking = &list[i]
		}
	}
	if breaking == nil || breaking.Column != "currency" {
		t.Fatalf("violations = %+v, want BREAKING on currency", list)
	}

	err := Enforce(models, violations)
	var integrity *types.IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("Enforce = %v, want IntegrityError", err)
	}
	if len(integrity.Violations) != 1 {
		t.Errorf("structured violations = %+v", integrity.Violations)
	}
}

func TestCheckMissingOptionalColumnWarns(t *testing.T) {
	def := contractModel(types.ContractWarn,
		"SELECT order_id FROM orders",
		types.ContractColumn{Name: "order_id", Required: true},
		types.ContractColumn{Name: "note"},
	)
	models := map[string]*types.ModelDefinition{def.Name: def}

	violations := Check(tidbkit.New(), "mysql", models)
	list := violations[def.Name]
	if len(list) != 1 || list[0].Severity != types.SeverityWarning || list[0].Column != "note" {
		t.Errorf("violations = %+v, want one WARNING on note", list)
	}
	if err := Enforce(models, violations); err != nil {
		t.Errorf("WARN mode enforced as error: %v", err)
	}
}

func TestCheckUndeclaredColumnIsInfo(t *testing.T) {
	def := contractModel(types.ContractWarn,
		"SELECT order_id, amount FROM orders",
		types.ContractColumn{Name: "order_id", Required: true},
	)
	violations := Check(tidbkit.New(), "mysql",
		map[string]*types.ModelDefinition{def.Name: def})
	list := violations[def.Name]
	if len(list) != 1 || list[0].Severity != types.SeverityInfo || list[0].Column != "amount" {
		t.Errorf("violations = %+v, want one INFO on amount", list)
	}
}

func TestCheckStarProjectionNotVerifiable(t *testing.T) {
	def := contractModel(types.ContractStrict,
		"SELECT * FROM orders",
		types.ContractColumn{Name: "order_id", Required: true},
	)
	models := map[string]*types.ModelDefinition{def.Name: def}
	violations := Check(tidbkit.New(), "mysql", models)
	list := violations[def.Name]
	if len(list) != 1 || list[0].Severity != types.SeverityWarning {
		t.Errorf("violations = %+v, want one not-verifiable WARNING", list)
	}
	// Not verifiable is never breaking, even in STRICT mode.
	if err := Enforce(models, violations); err != nil {
		t.Errorf("Enforce = %v", err)
	}
}

func TestCheckSkipsDisabledContracts(t *testing.T) {
	def := contractModel(types.ContractDisabled,
		"SELECT order_id FROM orders",
		types.ContractColumn{Name: "missing", Required: true},
	)
	violations := Check(tidbkit.New(), "mysql",
		map[string]*types.ModelDefinition{def.Name: def})
	if len(violations) != 0 {
		t.Errorf("violations = %+v, want none for disabled contract", violations)
	}
}
