package tidbkit

import (
	"strings"
	"testing"

	"github.com/fathomdata/trellis/internal/sqlkit"
)

func newKit(t *testing.T) *Kit {
	t.Helper()
	return New()
}

func TestNormalizeIgnoresCosmetics(t *testing.T) {
	k := newKit(t)

	a, err := k.Normalize("select   a, b from raw.events where a > 1", "mysql")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	b, err := k.Normalize("SELECT a, b\n-- trailing comment\nFROM raw.events WHERE a > 1", "mysql")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if a != b {
		t.Errorf("cosmetic variants normalized differently:\n%q\n%q", a, b)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	k := newKit(t)

	once, err := k.Normalize("select a from t where b = 'x'", "mysql")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	twice, err := k.Normalize(once, "mysql")
	if err != nil {
		t.Fatalf("Normalize(normalized) failed: %v", err)
	}
	if once != twice {
		t.Errorf("normalize is not idempotent:\n%q\n%q", once, twice)
	}
}

func TestNormalizeReordersIndependentCTEs(t *testing.T) {
	k := newKit(t)

	a, err := k.Normalize("WITH zeta AS (SELECT 1 AS x), alpha AS (SELECT 2 AS y) SELECT * FROM zeta, alpha", "mysql")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	b, err := k.Normalize("WITH alpha AS (SELECT 2 AS y), zeta AS (SELECT 1 AS x) SELECT * FROM zeta, alpha", "mysql")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if a != b {
		t.Errorf("independent CTE order changed the canonical form:\n%q\n%q", a, b)
	}
}

func TestNormalizeKeepsDependentCTEOrder(t *testing.T) {
	k := newKit(t)

	sql := "WITH zeta AS (SELECT 1 AS x), alpha AS (SELECT x FROM zeta) SELECT * FROM alpha"
	got, err := k.Normalize(sql, "mysql")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if strings.Index(got, "zeta") > strings.Index(got, "alpha") {
		t.Errorf("dependent CTEs were reordered: %q", got)
	}
}

func TestExtractTablesExcludesCTEs(t *testing.T) {
	k := newKit(t)

	sql := `WITH recent AS (SELECT * FROM raw.events WHERE day > '2025-01-01')
		SELECT r.user_id, u.name FROM recent r JOIN core.users u ON r.user_id = u.id`
	set, err := k.ExtractTables(sql, "mysql")
	if err != nil {
		t.Fatalf("ExtractTables failed: %v", err)
	}
	wantTables := []string{"core.users", "raw.events"}
	if len(set.Tables) != len(wantTables) {
		t.Fatalf("tables = %v, want %v", set.Tables, wantTables)
	}
	for i, want := range wantTables {
		if set.Tables[i] != want {
			t.Errorf("tables[%d] = %q, want %q", i, set.Tables[i], want)
		}
	}
	if len(set.CTEs) != 1 || set.CTEs[0] != "recent" {
		t.Errorf("ctes = %v, want [recent]", set.CTEs)
	}
}

func TestExtractColumns(t *testing.T) {
	k := newKit(t)

	info, err := k.ExtractColumns("SELECT user_id, COUNT(*) AS orders FROM raw.orders GROUP BY user_id", "mysql")
	if err != nil {
		t.Fatalf("ExtractColumns failed: %v", err)
	}
	if !info.HasAggregation {
		t.Error("expected HasAggregation")
	}
	if info.HasStar {
		t.Error("did not expect HasStar")
	}
	if len(info.OutputColumns) != 2 || info.OutputColumns[0] != "user_id" || info.OutputColumns[1] != "orders" {
		t.Errorf("output columns = %v", info.OutputColumns)
	}
}

func TestCheckSafetyErrors(t *testing.T) {
	k := newKit(t)

	cases := []struct {
		sql  string
		kind sqlkit.SafetyKind
	}{
		{"DROP TABLE raw.events", sqlkit.SafetyDropTable},
		{"TRUNCATE TABLE raw.events", sqlkit.SafetyTruncate},
		{"DELETE FROM raw.events", sqlkit.SafetyDeleteNoWhere},
		{"GRANT SELECT ON db.* TO 'user'@'%'", sqlkit.SafetyGrantRevoke},
	}
	for _, tc := range cases {
		violations, err := k.CheckSafety(tc.sql, "mysql", sqlkit.SafetyOptions{AllowInsert: true})
		if err != nil {
			t.Fatalf("CheckSafety(%q) failed: %v", tc.sql, err)
		}
		found := false
		for _, v := range violations {
			if v.Kind == tc.kind && v.Severity == sqlkit.SafetyError {
				found = true
			}
		}
		if !found {
			t.Errorf("CheckSafety(%q) = %v, want kind %s", tc.sql, violations, tc.kind)
		}
	}
}

func TestCheckSafetyDeleteWithWhereIsClean(t *testing.T) {
	k := newKit(t)

	violations, err := k.CheckSafety("DELETE FROM raw.events WHERE day < '2020-01-01'", "mysql", sqlkit.SafetyOptions{AllowInsert: true})
	if err != nil {
		t.Fatalf("CheckSafety failed: %v", err)
	}
	if len(violations) != 0 {
		t.Errorf("unexpected violations: %v", violations)
	}
}

func TestCheckSafetyFallbackInsertOverwrite(t *testing.T) {
	k := newKit(t)

	// INSERT OVERWRITE is not parseable in this dialect and exercises
	// the fallback keyword scan.
	violations, err := k.CheckSafety("INSERT OVERWRITE raw.events SELECT * FROM staging.events", "databricks", sqlkit.SafetyOptions{AllowInsert: true})
	if err != nil {
		t.Fatalf("CheckSafety failed: %v", err)
	}
	found := false
	for _, v := range violations {
		if v.Kind == sqlkit.SafetyInsertOverwrite && v.Severity == sqlkit.SafetyWarning {
			found = true
		}
	}
	if !found {
		t.Errorf("expected INSERT OVERWRITE warning, got %v", violations)
	}
}

func TestDiffCosmeticOnly(t *testing.T) {
	k := newKit(t)

	script, err := k.Diff(
		"SELECT a, b FROM t WHERE a > 1",
		"select a,   b from t  where a > 1 -- comment",
		"mysql",
	)
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if !script.CosmeticOnly {
		t.Error("expected cosmetic-only diff")
	}
	if len(script.Edits) != 0 {
		t.Errorf("cosmetic diff carried edits: %v", script.Edits)
	}
}

func TestDiffStructuralEdits(t *testing.T) {
	k := newKit(t)

	script, err := k.Diff(
		"SELECT a, b FROM t WHERE a > 1",
		"SELECT a, c FROM t WHERE a > 2",
		"mysql",
	)
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if script.CosmeticOnly {
		t.Fatal("expected structural diff")
	}
	kinds := map[sqlkit.EditKind]int{}
	paths := map[string]bool{}
	for _, e := range script.Edits {
		kinds[e.Kind]++
		paths[e.Path] = true
	}
	if kinds[sqlkit.EditRemove] == 0 || kinds[sqlkit.EditInsert] == 0 {
		t.Errorf("expected remove of b and insert of c, got %v", script.Edits)
	}
	if !paths["where"] {
		t.Errorf("expected a where-clause edit, got %v", script.Edits)
	}
}

func TestTranspileFallback(t *testing.T) {
	k := newKit(t)

	res := k.Transpile("INSERT OVERWRITE t PARTITION (day) SELECT * FROM s", "databricks", "duckdb")
	if !res.FallbackUsed {
		t.Error("expected fallback for unparseable dialect construct")
	}
	if res.SQL == "" {
		t.Error("fallback must return the original SQL")
	}

	res = k.Transpile("SELECT a FROM t", "databricks", "duckdb")
	if res.FallbackUsed {
		t.Error("plain SELECT should transpile without fallback")
	}
}

func TestRewriteQualifiers(t *testing.T) {
	k := newKit(t)

	got, err := k.Rewrite("SELECT a FROM raw.events", "mysql", []sqlkit.RewriteRule{
		{MatchSchema: "raw", SetSchema: "dev_raw"},
	})
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	if !strings.Contains(got, "dev_raw") {
		t.Errorf("Rewrite = %q, want dev_raw qualifier", got)
	}
	if strings.Contains(got, "`raw`") {
		t.Errorf("Rewrite = %q, old qualifier still present", got)
	}
}

func TestRewriteLeavesCTEsAlone(t *testing.T) {
	k := newKit(t)

	got, err := k.Rewrite("WITH raw_cte AS (SELECT 1 AS a) SELECT a FROM raw_cte", "mysql", []sqlkit.RewriteRule{
		{SetSchema: "dev"},
	})
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	if strings.Contains(got, "dev") {
		t.Errorf("Rewrite touched a CTE reference: %q", got)
	}
}

func TestLineageDirectAndAggregate(t *testing.T) {
	k := newKit(t)

	res, err := k.Lineage(
		"SELECT user_id, SUM(amount) AS revenue FROM raw.orders GROUP BY user_id",
		"mysql", nil,
	)
	if err != nil {
		t.Fatalf("Lineage failed: %v", err)
	}
	if len(res.Columns) != 2 {
		t.Fatalf("columns = %v", res.Columns)
	}
	if res.Columns[0].Transform != sqlkit.TransformDirect {
		t.Errorf("user_id transform = %s, want direct", res.Columns[0].Transform)
	}
	if res.Columns[1].Transform != sqlkit.TransformAggregation {
		t.Errorf("revenue transform = %s, want aggregation", res.Columns[1].Transform)
	}
	if len(res.Columns[1].Sources) != 1 || res.Columns[1].Sources[0].Column != "amount" {
		t.Errorf("revenue sources = %v", res.Columns[1].Sources)
	}
}

func TestLineageThroughCTE(t *testing.T) {
	k := newKit(t)

	res, err := k.Lineage(
		"WITH base AS (SELECT user_id AS uid FROM raw.orders) SELECT uid FROM base",
		"mysql", nil,
	)
	if err != nil {
		t.Fatalf("Lineage failed: %v", err)
	}
	if len(res.Columns) != 1 {
		t.Fatalf("columns = %v", res.Columns)
	}
	src := res.Columns[0].Sources
	if len(src) != 1 || src[0].Table != "raw.orders" || src[0].Column != "user_id" {
		t.Errorf("uid sources = %v, want raw.orders.user_id", src)
	}
}

func TestLineageStarWithoutSchemaIsUnresolved(t *testing.T) {
	k := newKit(t)

	res, err := k.Lineage("SELECT * FROM raw.orders", "mysql", nil)
	if err != nil {
		t.Fatalf("Lineage failed: %v", err)
	}
	if len(res.Unresolved) == 0 {
		t.Error("expected unresolved star without schema")
	}
}

func TestLineageStarWithSchemaExpands(t *testing.T) {
	k := newKit(t)

	res, err := k.Lineage("SELECT * FROM raw.orders", "mysql", map[string][]string{
		"raw.orders": {"user_id", "amount"},
	})
	if err != nil {
		t.Fatalf("Lineage failed: %v", err)
	}
	if len(res.Unresolved) != 0 {
		t.Errorf("unexpected unresolved: %v", res.Unresolved)
	}
	if len(res.Columns) != 2 {
		t.Errorf("columns = %v, want amount and user_id", res.Columns)
	}
}

func TestParseMultiPermissive(t *testing.T) {
	k := newKit(t)

	stmts, warnings, err := k.ParseMulti("SELECT 1; VACUUM SHINY THINGS; SELECT 2", "mysql", false)
	if err != nil {
		t.Fatalf("ParseMulti failed: %v", err)
	}
	if len(stmts) != 3 {
		t.Fatalf("stmts = %d, want 3", len(stmts))
	}
	if !stmts[1].IsFallback() {
		t.Error("middle statement should be a fallback")
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %v, want one", warnings)
	}
}

func TestParseMultiStrict(t *testing.T) {
	k := newKit(t)

	_, _, err := k.ParseMulti("SELECT 1; VACUUM SHINY THINGS", "mysql", true)
	if err == nil {
		t.Fatal("expected strict parse error")
	}
	if _, ok := err.(*sqlkit.ParseError); !ok {
		t.Errorf("error type = %T, want *sqlkit.ParseError", err)
	}
}
