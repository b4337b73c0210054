package main

import (
	"errors"
	"testing"
	"time"
)

func TestParseDateISO(t *testing.T) {
	d, err := parseDate("2025-06-01")
	if err != nil {
		t.Fatalf("parseDate failed: %v", err)
	}
	want := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if !d.Equal(want) {
		t.Errorf("parsed = %s, want %s", d, want)
	}
}

func TestParseDateNaturalLanguage(t *testing.T) {
	d, err := parseDate("yesterday")
	if err != nil {
		t.Fatalf("parseDate failed: %v", err)
	}
	if d.Hour() != 0 || d.Minute() != 0 || d.Location() != time.UTC {
		t.Errorf("natural-language date not truncated: %s", d)
	}
}

func TestParseDateRejectsGarbage(t *testing.T) {
	_, err := parseDate("not a date at all xyzzy")
	var usage usageError
	if !errors.As(err, &usage) {
		t.Errorf("parseDate garbage = %v, want usage error", err)
	}
}

func TestExactArgs(t *testing.T) {
	check := exactArgs(1, "a plan id")
	if err := check(nil, []string{"plan-1"}); err != nil {
		t.Errorf("one arg rejected: %v", err)
	}
	err := check(nil, nil)
	var usage usageError
	if !errors.As(err, &usage) {
		t.Errorf("zero args = %v, want usage error", err)
	}
}
