package differ

import (
	"reflect"
	"testing"
)

func TestDiff(t *testing.T) {
	previous := map[string]string{"a": "h1", "b": "h2", "c": "h3"}
	current := map[string]string{"b": "h2", "c": "h9", "d": "h4"}

	result := Diff(previous, current)
	if !reflect.DeepEqual(result.Added, []string{"d"}) {
		t.Errorf("Added = %v", result.Added)
	}
	if !reflect.DeepEqual(result.Removed, []string{"a"}) {
		t.Errorf("Removed = %v", result.Removed)
	}
	if !reflect.DeepEqual(result.Modified, []string{"c"}) {
		t.Errorf("Modified = %v", result.Modified)
	}
}

func TestDiffIdentical(t *testing.T) {
	m := map[string]string{"a": "h1", "b": "h2"}
	result := Diff(m, m)
	if !result.Empty() {
		t.Errorf("diff of identical snapshots not empty: %+v", result)
	}
}
