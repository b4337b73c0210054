package advisor

import (
	"errors"
	"strings"
	"testing"

	"github.com/fathomdata/trellis/internal/types"
)

func TestNewClientRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewClient("", "")
	if !errors.Is(err, ErrAPIKeyRequired) {
		t.Errorf("NewClient without key = %v, want ErrAPIKeyRequired", err)
	}
}

func TestPlanPromptMentionsSteps(t *testing.T) {
	start, _ := types.ParseDate("2025-06-01")
	end, _ := types.ParseDate("2025-06-15")
	plan := &types.Plan{
		PlanID: "plan-1",
		Base:   "snap-a",
		Target: "snap-b",
		Summary: types.PlanSummary{
			TotalSteps:       1,
			EstimatedCostUSD: 12.5,
			ModelsChanged:    []string{"analytics.orders_daily"},
		},
		Steps: []types.PlanStep{{
			StepID:     "step-1",
			Model:      "analytics.orders_daily",
			RunType:    types.RunIncremental,
			InputRange: &types.DateRange{Start: start, End: end},
			Reason:     "definition changed",
		}},
	}

	prompt := planPrompt(plan)
	for _, want := range []string{"analytics.orders_daily", "2025-06-01..2025-06-15", "$12.50", "definition changed", "1 models changed"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "%!") {
		t.Errorf("prompt contains a formatting artifact:\n%s", prompt)
	}
}
