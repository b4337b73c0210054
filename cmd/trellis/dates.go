package main

import (
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/fathomdata/trellis/internal/types"
)

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDate accepts YYYY-MM-DD or natural language ("yesterday",
// "last monday"), truncated to a UTC date.
func parseDate(s string) (time.Time, error) {
	if d, err := types.ParseDate(s); err == nil {
		return d, nil
	}
	r, err := dateParser.Parse(s, time.Now())
	if err == nil && r != nil {
		t := r.Time.UTC()
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, usagef("cannot parse date %q: use YYYY-MM-DD or natural language like \"yesterday\"", s)
}
