// Package planner turns a snapshot diff into a deterministic, totally
// ordered execution plan with incremental date ranges computed from
// watermarks.
package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/fathomdata/trellis/internal/dag"
	"github.com/fathomdata/trellis/internal/types"
)

// DefaultLookbackDays is the incremental window used for models with
// no watermark.
const DefaultLookbackDays = 30

// Config tunes plan generation.
type Config struct {
	DefaultLookbackDays int
}

// Inputs collects everything GeneratePlan needs.
type Inputs struct {
	Models     map[string]*types.ModelDefinition
	Diff       *types.DiffResult
	Graph      *dag.Graph
	Watermarks map[string]*types.Watermark
	RunStats   map[string]*types.RunStats
	Contracts  map[string][]types.ContractViolation

	// Base and Target identify the snapshots (or refs) the plan moves
	// between.
	Base   string
	Target string

	// AsOf bounds incremental ranges; zero means today (UTC).
	AsOf time.Time

	Config Config
}

// GeneratePlan builds the plan. It is a pure function of its inputs:
// the same inputs always produce the same plan id and step sequence.
func GeneratePlan(in Inputs) (*types.Plan, error) {
	if in.Diff == nil {
		return nil, &types.ValidationError{Field: "diff", Reason: "diff result is required"}
	}
	if in.Graph == nil {
		return nil, &types.ValidationError{Field: "graph", Reason: "dependency graph is required"}
	}
	lookback := in.Config.DefaultLookbackDays
	if lookback <= 0 {
		lookback = DefaultLookbackDays
	}
	asOf := in.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC().Truncate(24 * time.Hour)
	}

	affected, reasons := affectedSet(in)

	stepIDByModel := make(map[string]string, len(affected))
	var steps []types.PlanStep
	for _, model := range in.Graph.TopologicalOrder() {
		if _, hit := affected[model]; !hit {
			continue
		}
		def, known := in.Models[model]
		if !known {
			return nil, &types.NotFoundError{Entity: "model", ID: model}
		}

		step := types.PlanStep{
			Model:         model,
			RunType:       types.RunFullRefresh,
			ParallelGroup: in.Graph.Depth(model),
			Reason:        reasons[model],
		}
		if def.Kind == types.KindIncrementalByTime {
			step.RunType = types.RunIncremental
			step.InputRange = incrementalRange(in.Watermarks[model], asOf, lookback)
		}
		for _, upstream := range in.Graph.Upstream(model) {
			if id, inPlan := stepIDByModel[upstream]; inPlan {
				// Only direct-or-transitive upstreams that are
				// themselves in the plan contribute edges; the rest are
				// assumed already materialised.
				step.DependsOn = append(step.DependsOn, id)
			}
		}
		sort.Strings(step.DependsOn)

		if stats := in.RunStats[model]; stats != nil {
			step.EstimatedComputeSeconds = stats.AvgRuntimeSeconds
			step.EstimatedCostUSD = stats.AvgCostUSD
		}
		step.ContractViolations = in.Contracts[model]
		step.StepID = computeStepID(model, in.Base, in.Target, step.RunType, step.InputRange)
		stepIDByModel[model] = step.StepID
		steps = append(steps, step)
	}

	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].ParallelGroup != steps[j].ParallelGroup {
			return steps[i].ParallelGroup < steps[j].ParallelGroup
		}
		return steps[i].Model < steps[j].Model
	})

	plan := &types.Plan{
		Base:      in.Base,
		Target:    in.Target,
		CreatedAt: time.Now().UTC(),
		Steps:     steps,
	}
	plan.PlanID = ComputePlanID(in.Base, in.Target, steps)
	plan.Summary = summarize(affected, steps)
	return plan, nil
}

// affectedSet is added + modified models, their transitive downstream,
// and any model carrying a contract violation. Removed models never
// generate steps.
func affectedSet(in Inputs) (map[string]struct{}, map[string]string) {
	affected := map[string]struct{}{}
	reasons := map[string]string{}

	add := func(model, reason string) {
		if _, seen := affected[model]; seen {
			return
		}
		affected[model] = struct{}{}
		reasons[model] = reason
	}

	for _, model := range in.Diff.Added {
		add(model, "new model added")
	}
	for _, model := range in.Diff.Modified {
		add(model, "model SQL changed")
	}
	for _, model := range in.Diff.Changed() {
		for _, downstream := range in.Graph.Downstream(model) {
			add(downstream, "upstream changed")
		}
	}
	for model, violations := range in.Contracts {
		if len(violations) > 0 && in.Graph.Has(model) {
			add(model, "contract violation")
		}
	}
	return affected, reasons
}

// incrementalRange computes the inclusive date window for one
// incremental step: from the watermark end (or as-of minus lookback)
// through as-of, never reversed.
func incrementalRange(wm *types.Watermark, asOf time.Time, lookbackDays int) *types.DateRange {
	end := asOf
	var start time.Time
	if wm != nil {
		start = wm.PartitionEnd
	} else {
		start = end.AddDate(0, 0, -lookbackDays)
	}
	if start.After(end) {
		// A watermark ahead of as-of collapses to a single-day
		// reprocess; the range never reverses.
		start = end
	}
	return &types.DateRange{Start: start, End: end}
}

func computeStepID(model, base, target string, runType types.RunType, rng *types.DateRange) string {
	payload := model + "|" + base + "|" + target + "|" + string(runType)
	if rng != nil {
		payload += "|" + rng.Start.Format(types.DateFormat) + ".." + rng.End.Format(types.DateFormat)
	}
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// ComputePlanID derives the plan id from base, target, and the sorted
// step ids.
func ComputePlanID(base, target string, steps []types.PlanStep) string {
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.StepID
	}
	sort.Strings(ids)
	payload := base + "|" + target
	for _, id := range ids {
		payload += "|" + id
	}
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func summarize(affected map[string]struct{}, steps []types.PlanStep) types.PlanSummary {
	summary := types.PlanSummary{TotalSteps: len(steps)}
	for model := range affected {
		summary.ModelsChanged = append(summary.ModelsChanged, model)
	}
	sort.Strings(summary.ModelsChanged)
	for _, step := range steps {
		summary.EstimatedCostUSD += step.EstimatedCostUSD
		summary.ContractViolationsCount += len(step.ContractViolations)
		for _, v := range step.ContractViolations {
			if v.Severity == types.SeverityBreaking {
				summary.BreakingContractViolations++
			}
		}
	}
	return summary
}

// Validate checks a plan's internal invariants: every depends_on id is
// present, and every dependency edge crosses to a strictly smaller
// parallel group.
func Validate(plan *types.Plan) error {
	byID := make(map[string]*types.PlanStep, len(plan.Steps))
	for i := range plan.Steps {
		byID[plan.Steps[i].StepID] = &plan.Steps[i]
	}
	for i := range plan.Steps {
		step := &plan.Steps[i]
		for _, dep := range step.DependsOn {
			upstream, ok := byID[dep]
			if !ok {
				return &types.IntegrityError{
					Reason: fmt.Sprintf("step %s depends on %s, which is not in the plan", step.StepID, dep),
				}
			}
			if upstream.ParallelGroup >= step.ParallelGroup {
				return &types.IntegrityError{
					Reason: fmt.Sprintf("step %s (group %d) depends on %s (group %d)",
						step.Model, step.ParallelGroup, upstream.Model, upstream.ParallelGroup),
				}
			}
		}
	}
	return nil
}
