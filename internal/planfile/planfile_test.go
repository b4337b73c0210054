package planfile

import (
	"strings"
	"testing"
	"time"

	"github.com/fathomdata/trellis/internal/types"
)

func samplePlan() *types.Plan {
	start, _ := types.ParseDate("2025-06-10")
	end, _ := types.ParseDate("2025-06-15")
	return &types.Plan{
		PlanID:    "plan-abc",
		Base:      "s1",
		Target:    "s2",
		CreatedAt: time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC),
		Summary: types.PlanSummary{
			TotalSteps:       2,
			EstimatedCostUSD: 4.5,
			ModelsChanged:    []string{"analytics.orders_daily", "staging.events_clean"},
		},
		Steps: []types.PlanStep{
			{
				StepID:        "step-1",
				Model:         "staging.events_clean",
				RunType:       types.RunFullRefresh,
				DependsOn:     []string{},
				ParallelGroup: 1,
				Reason:        "model SQL changed",
			},
			{
				StepID:                  "step-2",
				Model:                   "analytics.orders_daily",
				RunType:                 types.RunIncremental,
				InputRange:              &types.DateRange{Start: start, End: end},
				DependsOn:               []string{"step-1"},
				ParallelGroup:           2,
				Reason:                  "upstream changed",
				EstimatedComputeSeconds: 120,
				EstimatedCostUSD:        4.5,
				ContractViolations: []types.ContractViolation{{
					Model:    "analytics.orders_daily",
					Column:   "day",
					Severity: types.SeverityWarning,
					Message:  "type widened",
				}},
			},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	data, err := Encode(samplePlan())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	plan, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	again, err := Encode(plan)
	if err != nil {
		t.Fatalf("re-Encode failed: %v", err)
	}
	if string(data) != string(again) {
		t.Errorf("round trip not stable:\n%s\nvs\n%s", data, again)
	}
}

func TestEncodeSortsKeys(t *testing.T) {
	data, err := Encode(samplePlan())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	text := string(data)
	if strings.Index(text, `"base"`) > strings.Index(text, `"created_at"`) {
		t.Error("top-level keys not sorted")
	}
	if strings.Index(text, `"depends_on"`) > strings.Index(text, `"model"`) {
		t.Error("step keys not sorted")
	}
}

func TestDecodePreservesFields(t *testing.T) {
	data, err := Encode(samplePlan())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	plan, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if plan.PlanID != "plan-abc" || plan.Base != "s1" || plan.Target != "s2" {
		t.Errorf("header fields = %s/%s/%s", plan.PlanID, plan.Base, plan.Target)
	}
	step := plan.Step("step-2")
	if step == nil {
		t.Fatal("step-2 missing after decode")
	}
	if step.InputRange == nil || step.InputRange.String() != "2025-06-10..2025-06-15" {
		t.Errorf("input range = %v", step.InputRange)
	}
	if len(step.ContractViolations) != 1 || step.ContractViolations[0].Severity != types.SeverityWarning {
		t.Errorf("violations = %+v", step.ContractViolations)
	}
}

func TestDecodeRejectsUnknownKey(t *testing.T) {
	data, err := Encode(samplePlan())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	corrupted := strings.Replace(string(data), `"plan_id"`, `"plan_identifier"`, 1)

	_, err = Decode([]byte(corrupted))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "plan_identifier") || !strings.Contains(err.Error(), "plan_id") {
		t.Errorf("error should name both the unknown and the missing key: %v", err)
	}
}

func TestDecodeRejectsMalformedDate(t *testing.T) {
	data, err := Encode(samplePlan())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	corrupted := strings.Replace(string(data), "2025-06-10", "June 10 2025", 1)

	_, err = Decode([]byte(corrupted))
	if err == nil {
		t.Fatal("expected error for malformed date")
	}
	if !strings.Contains(err.Error(), "YYYY-MM-DD") {
		t.Errorf("error = %v", err)
	}
}

func TestDecodeRejectsBadRunType(t *testing.T) {
	data, err := Encode(samplePlan())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	corrupted := strings.Replace(string(data), "FULL_REFRESH", "PARTIAL_REFRESH", 1)

	_, err = Decode([]byte(corrupted))
	if err == nil || !strings.Contains(err.Error(), "PARTIAL_REFRESH") {
		t.Errorf("expected run_type error, got %v", err)
	}
}

func TestDecodeRejectsNonJSON(t *testing.T) {
	if _, err := Decode([]byte("not json at all")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
