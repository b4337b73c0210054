package dag

import (
	"errors"
	"reflect"
	"testing"

	"github.com/fathomdata/trellis/internal/types"
)

func modelSet(deps map[string][]string) map[string]*types.ModelDefinition {
	out := make(map[string]*types.ModelDefinition, len(deps))
	for name, d := range deps {
		out[name] = &types.ModelDefinition{Name: name, Kind: types.KindFullRefresh, Dependencies: d}
	}
	return out
}

// pipeline is the five-model tree used across planner tests:
// raw.events -> staging.events_clean -> analytics.{orders_daily,user_metrics}
// and analytics.revenue_summary on top of orders_daily.
func pipeline() map[string]*types.ModelDefinition {
	return modelSet(map[string][]string{
		"raw.events":                {},
		"staging.events_clean":      {"raw.events"},
		"analytics.orders_daily":    {"staging.events_clean"},
		"analytics.user_metrics":    {"staging.events_clean"},
		"analytics.revenue_summary": {"analytics.orders_daily"},
	})
}

func TestBuildTopologicalOrderDeterministic(t *testing.T) {
	g, err := Build(pipeline())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	want := []string{
		"raw.events",
		"staging.events_clean",
		"analytics.orders_daily",
		"analytics.revenue_summary",
		"analytics.user_metrics",
	}
	got := g.TopologicalOrder()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TopologicalOrder = %v, want %v", got, want)
	}

	// A second build over the same inputs must give the same order.
	g2, err := Build(pipeline())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !reflect.DeepEqual(g2.TopologicalOrder(), got) {
		t.Error("topological order is not reproducible")
	}
}

func TestDepth(t *testing.T) {
	g, err := Build(pipeline())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	cases := map[string]int{
		"raw.events":                0,
		"staging.events_clean":      1,
		"analytics.orders_daily":    2,
		"analytics.user_metrics":    2,
		"analytics.revenue_summary": 3,
	}
	for name, want := range cases {
		if got := g.Depth(name); got != want {
			t.Errorf("Depth(%s) = %d, want %d", name, got, want)
		}
	}
}

func TestUpstreamDownstreamTransitive(t *testing.T) {
	g, err := Build(pipeline())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	up := g.Upstream("analytics.revenue_summary")
	wantUp := []string{"analytics.orders_daily", "raw.events", "staging.events_clean"}
	if !reflect.DeepEqual(up, wantUp) {
		t.Errorf("Upstream = %v, want %v", up, wantUp)
	}

	down := g.Downstream("raw.events")
	wantDown := []string{
		"analytics.orders_daily",
		"analytics.revenue_summary",
		"analytics.user_metrics",
		"staging.events_clean",
	}
	if !reflect.DeepEqual(down, wantDown) {
		t.Errorf("Downstream = %v, want %v", down, wantDown)
	}
}

func TestBuildRejectsCycles(t *testing.T) {
	_, err := Build(modelSet(map[string][]string{
		"a": {"c"},
		"b": {"a"},
		"c": {"b"},
	}))
	if err == nil {
		t.Fatal("expected cycle error")
	}
	var cerr *CycleError
	if !errors.As(err, &cerr) {
		t.Fatalf("error type = %T, want *CycleError", err)
	}
	if len(cerr.Cycle) < 3 {
		t.Errorf("cycle = %v, want at least three nodes", cerr.Cycle)
	}
}

func TestBuildRejectsUnknownDependency(t *testing.T) {
	_, err := Build(modelSet(map[string][]string{
		"a": {"ghost"},
	}))
	if err == nil {
		t.Fatal("expected unknown dependency error")
	}
}
