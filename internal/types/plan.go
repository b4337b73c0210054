package types

import (
	"fmt"
	"time"
)

// RunType distinguishes a full rebuild from an incremental date-range run.
type RunType string

const (
	RunFullRefresh RunType = "FULL_REFRESH"
	RunIncremental RunType = "INCREMENTAL"
)

// DateFormat is the wire format for plan dates.
const DateFormat = "2006-01-02"

// DateRange is an inclusive day range.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Days returns the inclusive day count of the range.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", r.Start.Format(DateFormat), r.End.Format(DateFormat))
}

// ParseDate parses a YYYY-MM-DD date in UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateFormat, s, time.UTC)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date", Reason: fmt.Sprintf("invalid date %q, want YYYY-MM-DD", s)}
	}
	return t, nil
}

// PlanStep is one unit of work in a plan.
type PlanStep struct {
	StepID        string
	Model         string
	RunType       RunType
	InputRange    *DateRange
	DependsOn     []string
	ParallelGroup int
	Reason        string

	EstimatedComputeSeconds float64
	EstimatedCostUSD        float64

	ContractViolations []ContractViolation
}

// PlanSummary is the reviewer-facing rollup of a plan.
type PlanSummary struct {
	TotalSteps                 int
	EstimatedCostUSD           float64
	ModelsChanged              []string
	ContractViolationsCount    int
	BreakingContractViolations int
}

// Plan is the complete instruction set to move one snapshot to another.
// Steps are ordered by (parallel_group, model name) and the plan id is a
// pure function of (base, target, sorted step ids).
type Plan struct {
	PlanID    string
	Base      string
	Target    string
	CreatedAt time.Time
	Summary   PlanSummary
	Steps     []PlanStep
}

// Step returns the step with the given id, or nil.
func (p *Plan) Step(stepID string) *PlanStep {
	for i := range p.Steps {
		if p.Steps[i].StepID == stepID {
			return &p.Steps[i]
		}
	}
	return nil
}

// PlanApproval is one approval record attached to a stored plan.
type PlanApproval struct {
	ApprovedBy string    `json:"approved_by"`
	ApprovedAt time.Time `json:"approved_at"`
}
