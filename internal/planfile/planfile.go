// Package planfile encodes plans as canonical JSON: UTF-8, keys sorted
// at every nesting level, dates as ISO-8601 strings, enums as their
// string names. Canonical form makes file-level hashes stable, so
// serialize(deserialize(s)) == s for any file this package produced.
package planfile

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fathomdata/trellis/internal/types"
)

var topLevelKeys = map[string]struct{}{
	"plan_id":    {},
	"base":       {},
	"target":     {},
	"created_at": {},
	"summary":    {},
	"steps":      {},
}

// Encode renders a plan as canonical JSON. Maps are used throughout so
// the JSON encoder's sorted-key output applies at every level.
func Encode(plan *types.Plan) ([]byte, error) {
	if plan == nil {
		return nil, &types.ValidationError{Field: "plan", Reason: "plan is nil"}
	}
	doc := map[string]any{
		"plan_id":    plan.PlanID,
		"base":       plan.Base,
		"target":     plan.Target,
		"created_at": plan.CreatedAt.UTC().Truncate(time.Second).Format(time.RFC3339),
		"summary": map[string]any{
			"total_steps":                  plan.Summary.TotalSteps,
			"estimated_cost_usd":           plan.Summary.EstimatedCostUSD,
			"models_changed":               stringSlice(plan.Summary.ModelsChanged),
			"contract_violations_count":    plan.Summary.ContractViolationsCount,
			"breaking_contract_violations": plan.Summary.BreakingContractViolations,
		},
		"steps": encodeSteps(plan.Steps),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan: %w", err)
	}
	return append(data, '\n'), nil
}

func encodeSteps(steps []types.PlanStep) []any {
	out := make([]any, 0, len(steps))
	for _, step := range steps {
		doc := map[string]any{
			"step_id":                   step.StepID,
			"model":                     step.Model,
			"run_type":                  string(step.RunType),
			"depends_on":                stringSlice(step.DependsOn),
			"parallel_group":            step.ParallelGroup,
			"reason":                    step.Reason,
			"estimated_compute_seconds": step.EstimatedComputeSeconds,
			"estimated_cost_usd":        step.EstimatedCostUSD,
			"contract_violations":       encodeViolations(step.ContractViolations),
		}
		if step.InputRange != nil {
			doc["input_range"] = map[string]any{
				"start": step.InputRange.Start.Format(types.DateFormat),
				"end":   step.InputRange.End.Format(types.DateFormat),
			}
		}
		out = append(out, doc)
	}
	return out
}

func encodeViolations(violations []types.ContractViolation) []any {
	out := make([]any, 0, len(violations))
	for _, v := range violations {
		out = append(out, map[string]any{
			"model":    v.Model,
			"column":   v.Column,
			"severity": string(v.Severity),
			"message":  v.Message,
		})
	}
	return out
}

func stringSlice(in []string) []any {
	out := make([]any, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}

// Decode parses and validates plan JSON, collecting every schema
// problem into one error so corrupted files fail with a usable list.
func Decode(data []byte) (*types.Plan, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &types.ValidationError{Field: "plan", Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	var problems []string
	for key := range doc {
		if _, known := topLevelKeys[key]; !known {
			problems = append(problems, fmt.Sprintf("unknown top-level key %q", key))
		}
	}
	for key := range topLevelKeys {
		if _, present := doc[key]; !present {
			problems = append(problems, fmt.Sprintf("missing required key %q", key))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, &types.ValidationError{Field: "plan", Reason: strings.Join(problems, "; ")}
	}

	plan := &types.Plan{}
	problems = append(problems, decodeString(doc, "plan_id", &plan.PlanID)...)
	problems = append(problems, decodeString(doc, "base", &plan.Base)...)
	problems = append(problems, decodeString(doc, "target", &plan.Target)...)

	var createdAt string
	problems = append(problems, decodeString(doc, "created_at", &createdAt)...)
	if createdAt != "" {
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			problems = append(problems, fmt.Sprintf("created_at %q is not an RFC3339 timestamp", createdAt))
		} else {
			plan.CreatedAt = t.UTC()
		}
	}

	var summary struct {
		TotalSteps                 int      `json:"total_steps"`
		EstimatedCostUSD           float64  `json:"estimated_cost_usd"`
		ModelsChanged              []string `json:"models_changed"`
		ContractViolationsCount    int      `json:"contract_violations_count"`
		BreakingContractViolations int      `json:"breaking_contract_violations"`
	}
	if err := json.Unmarshal(doc["summary"], &summary); err != nil {
		problems = append(problems, fmt.Sprintf("summary: %v", err))
	} else {
		plan.Summary = types.PlanSummary{
			TotalSteps:                 summary.TotalSteps,
			EstimatedCostUSD:           summary.EstimatedCostUSD,
			ModelsChanged:              summary.ModelsChanged,
			ContractViolationsCount:    summary.ContractViolationsCount,
			BreakingContractViolations: summary.BreakingContractViolations,
		}
		if plan.Summary.ModelsChanged == nil {
			plan.Summary.ModelsChanged = []string{}
		}
	}

	steps, stepProblems := decodeSteps(doc["steps"])
	problems = append(problems, stepProblems...)
	plan.Steps = steps

	if len(problems) > 0 {
		return nil, &types.ValidationError{Field: "plan", Reason: strings.Join(problems, "; ")}
	}
	return plan, nil
}

func decodeString(doc map[string]json.RawMessage, key string, into *string) []string {
	if err := json.Unmarshal(doc[key], into); err != nil {
		return []string{fmt.Sprintf("%s: %v", key, err)}
	}
	return nil
}

func decodeSteps(raw json.RawMessage) ([]types.PlanStep, []string) {
	var docs []struct {
		StepID     string `json:"step_id"`
		Model      string `json:"model"`
		RunType    string `json:"run_type"`
		InputRange *struct {
			Start string `json:"start"`
			End   string `json:"end"`
		} `json:"input_range"`
		DependsOn               []string                  `json:"depends_on"`
		ParallelGroup           int                       `json:"parallel_group"`
		Reason                  string                    `json:"reason"`
		EstimatedComputeSeconds float64                   `json:"estimated_compute_seconds"`
		EstimatedCostUSD        float64                   `json:"estimated_cost_usd"`
		ContractViolations      []types.ContractViolation `json:"contract_violations"`
	}
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, []string{fmt.Sprintf("steps: %v", err)}
	}

	var problems []string
	steps := make([]types.PlanStep, 0, len(docs))
	for i, doc := range docs {
		step := types.PlanStep{
			StepID:                  doc.StepID,
			Model:                   doc.Model,
			RunType:                 types.RunType(doc.RunType),
			DependsOn:               doc.DependsOn,
			ParallelGroup:           doc.ParallelGroup,
			Reason:                  doc.Reason,
			EstimatedComputeSeconds: doc.EstimatedComputeSeconds,
			EstimatedCostUSD:        doc.EstimatedCostUSD,
			ContractViolations:      doc.ContractViolations,
		}
		if step.DependsOn == nil {
			step.DependsOn = []string{}
		}
		if step.StepID == "" {
			problems = append(problems, fmt.Sprintf("steps[%d]: missing step_id", i))
		}
		if step.Model == "" {
			problems = append(problems, fmt.Sprintf("steps[%d]: missing model", i))
		}
		switch step.RunType {
		case types.RunFullRefresh, types.RunIncremental:
		default:
			problems = append(problems, fmt.Sprintf("steps[%d]: unknown run_type %q", i, doc.RunType))
		}
		if doc.InputRange != nil {
			start, err := types.ParseDate(doc.InputRange.Start)
			if err != nil {
				problems = append(problems, fmt.Sprintf("steps[%d]: input_range.start %q is not YYYY-MM-DD", i, doc.InputRange.Start))
			}
			end, err := types.ParseDate(doc.InputRange.End)
			if err != nil {
				problems = append(problems, fmt.Sprintf("steps[%d]: input_range.end %q is not YYYY-MM-DD", i, doc.InputRange.End))
			}
			if !start.IsZero() && !end.IsZero() {
				step.InputRange = &types.DateRange{Start: start, End: end}
			}
		}
		steps = append(steps, step)
	}
	return steps, problems
}
