// Package contracts compares a model's declared output contract
// against the columns its SQL actually produces.
package contracts

import (
	"fmt"
	"strings"

	"github.com/fathomdata/trellis/internal/sqlkit"
	"github.com/fathomdata/trellis/internal/types"
)

// Check evaluates every model with an enabled contract and returns the
// violations keyed by model name. Models without contracts, or whose
// SQL cannot be analysed, produce no entries beyond an INFO note.
func Check(kit sqlkit.Toolkit, dialect string, models map[string]*types.ModelDefinition) map[string][]types.ContractViolation {
	out := make(map[string][]types.ContractViolation)
	for name, def := range models {
		if def.ContractMode == "" || def.ContractMode == types.ContractDisabled || len(def.ContractColumns) == 0 {
			continue
		}
		violations := checkModel(kit, dialect, def)
		if len(violations) > 0 {
			out[name] = violations
		}
	}
	return out
}

func checkModel(kit sqlkit.Toolkit, dialect string, def *types.ModelDefinition) []types.ContractViolation {
	info, err := kit.ExtractColumns(def.CleanSQL, dialect)
	if err != nil {
		return []types.ContractViolation{{
			Model:    def.Name,
			Severity: types.SeverityInfo,
			Message:  fmt.Sprintf("contract not verifiable: %v", err),
		}}
	}
	// A star projection hides the real output surface; the contract
	// cannot be confirmed or refuted.
	if info.HasStar {
		return []types.ContractViolation{{
			Model:    def.Name,
			Severity: types.SeverityWarning,
			Message:  "contract not verifiable: SELECT * hides the output column list",
		}}
	}

	produced := make(map[string]bool, len(info.OutputColumns))
	for _, col := range info.OutputColumns {
		produced[strings.ToLower(col)] = true
	}

	var violations []types.ContractViolation
	declared := make(map[string]bool, len(def.ContractColumns))
	for _, col := range def.ContractColumns {
		declared[strings.ToLower(col.Name)] = true
		if produced[strings.ToLower(col.Name)] {
			continue
		}
		severity := types.SeverityWarning
		if col.Required {
			severity = types.SeverityBreaking
		}
		violations = append(violations, types.ContractViolation{
			Model:    def.Name,
			Column:   col.Name,
			Severity: severity,
			Message:  fmt.Sprintf("contract column %s is not produced by the model SQL", col.Name),
		})
	}
	for _, col := range info.OutputColumns {
		if declared[strings.ToLower(col)] {
			continue
		}
		violations = append(violations, types.ContractViolation{
			Model:    def.Name,
			Column:   col,
			Severity: types.SeverityInfo,
			Message:  fmt.Sprintf("column %s is produced but not declared in the contract", col),
		})
	}
	return violations
}

// Enforce fails with an IntegrityError when a STRICT-mode model has a
// BREAKING violation. WARN-mode models never block.
func Enforce(models map[string]*types.ModelDefinition, violations map[string][]types.ContractViolation) error {
	var breaking []types.ContractViolation
	for name, list := range violations {
		def, ok := models[name]
		if !ok || def.ContractMode != types.ContractStrict {
			continue
		}
		for _, v := range list {
			if v.Severity == types.SeverityBreaking {
				breaking = append(breaking, v)
			}
		}
	}
	if len(breaking) == 0 {
		return nil
	}
	return &types.IntegrityError{
		Reason:     fmt.Sprintf("%d breaking contract violation(s) on STRICT models", len(breaking)),
		Violations: breaking,
	}
}
