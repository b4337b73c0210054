package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fathomdata/trellis/internal/sqlkit"
	"github.com/fathomdata/trellis/internal/ui"
)

var sqlCmd = &cobra.Command{
	Use:   "sql",
	Short: "SQL toolkit utilities (normalize, transpile, diff, lint, lineage)",
}

// readSQLArg returns the statement from the argument, or stdin when
// the argument is "-".
func readSQLArg(arg string) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}

var sqlNormalizeCmd = &cobra.Command{
	Use:   "normalize <sql|->",
	Short: "Print the canonical form used for content hashing",
	Args:  exactArgs(1, "a SQL statement or -"),
	RunE: func(cmd *cobra.Command, args []string) error {
		sql, err := readSQLArg(args[0])
		if err != nil {
			return err
		}
		kit, err := toolkit()
		if err != nil {
			return err
		}
		normalized, err := kit.Normalize(sql, dialect())
		if err != nil {
			return err
		}
		fmt.Println(normalized)
		return nil
	},
}

var sqlTranspileCmd = &cobra.Command{
	Use:   "transpile <sql|->",
	Short: "Convert SQL between dialects",
	Args:  exactArgs(1, "a SQL statement or -"),
	RunE: func(cmd *cobra.Command, args []string) error {
		to, _ := cmd.Flags().GetString("to")
		if to == "" {
			return usagef("--to is required")
		}
		sql, err := readSQLArg(args[0])
		if err != nil {
			return err
		}
		kit, err := toolkit()
		if err != nil {
			return err
		}
		result := kit.Transpile(sql, dialect(), to)
		if result.FallbackUsed {
			fmt.Fprintf(os.Stderr, "%s transpilation fell back to the original text\n", ui.RenderWarn("warning:"))
		}
		fmt.Println(result.SQL)
		return nil
	},
}

var sqlDiffCmd = &cobra.Command{
	Use:   "diff <before> <after>",
	Short: "Structurally compare two statements",
	Args:  exactArgs(2, "two SQL statements"),
	RunE: func(cmd *cobra.Command, args []string) error {
		kit, err := toolkit()
		if err != nil {
			return err
		}
		script, err := kit.Diff(args[0], args[1], dialect())
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(script)
			return nil
		}
		if script.CosmeticOnly {
			fmt.Println("Cosmetic change only: normalized forms are identical.")
			return nil
		}
		for _, edit := range script.Edits {
			fmt.Printf("%s %s", ui.RenderAccent(string(edit.Kind)), edit.Path)
			if edit.Before != "" {
				fmt.Printf("\n  - %s", edit.Before)
			}
			if edit.After != "" {
				fmt.Printf("\n  + %s", edit.After)
			}
			fmt.Println()
		}
		return nil
	},
}

var sqlLintCmd = &cobra.Command{
	Use:   "lint <sql|->",
	Short: "Check a statement for destructive operations",
	Args:  exactArgs(1, "a SQL statement or -"),
	RunE: func(cmd *cobra.Command, args []string) error {
		allowInsert, _ := cmd.Flags().GetBool("allow-insert")
		sql, err := readSQLArg(args[0])
		if err != nil {
			return err
		}
		kit, err := toolkit()
		if err != nil {
			return err
		}
		violations, err := kit.CheckSafety(sql, dialect(), sqlkit.SafetyOptions{AllowInsert: allowInsert})
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(violations)
			return nil
		}
		if len(violations) == 0 {
			fmt.Printf("%s no safety violations\n", ui.RenderPass("✓"))
			return nil
		}
		errorCount := 0
		for _, v := range violations {
			marker := ui.RenderWarn(string(v.Severity))
			if v.Severity == sqlkit.SafetyError {
				marker = ui.RenderFail(string(v.Severity))
				errorCount++
			}
			fmt.Printf("%s %s: %s\n", marker, v.Kind, v.Message)
		}
		if errorCount > 0 {
			return fmt.Errorf("%d error-severity violation(s)", errorCount)
		}
		return nil
	},
}

var sqlLineageCmd = &cobra.Command{
	Use:   "lineage <sql|->",
	Short: "Trace output columns to their source columns",
	Args:  exactArgs(1, "a SQL statement or -"),
	RunE: func(cmd *cobra.Command, args []string) error {
		sql, err := readSQLArg(args[0])
		if err != nil {
			return err
		}
		kit, err := toolkit()
		if err != nil {
			return err
		}
		result, err := kit.Lineage(sql, dialect(), nil)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(result)
			return nil
		}
		for _, col := range result.Columns {
			sources := make([]string, 0, len(col.Sources))
			for _, src := range col.Sources {
				if src.Table != "" {
					sources = append(sources, src.Table+"."+src.Column)
				} else {
					sources = append(sources, src.Column)
				}
			}
			fmt.Printf("%s <- %s (%s)\n", ui.RenderAccent(col.Column),
				strings.Join(sources, ", "), col.Transform)
		}
		for _, unresolved := range result.Unresolved {
			fmt.Printf("%s %s unresolved\n", ui.RenderWarn("?"), unresolved)
		}
		return nil
	},
}

var sqlRewriteCmd = &cobra.Command{
	Use:   "rewrite <sql|->",
	Short: "Requalify table references via AST mutation",
	Args:  exactArgs(1, "a SQL statement or -"),
	RunE: func(cmd *cobra.Command, args []string) error {
		matchSchema, _ := cmd.Flags().GetString("match-schema")
		setSchema, _ := cmd.Flags().GetString("set-schema")
		setCatalog, _ := cmd.Flags().GetString("set-catalog")
		if setSchema == "" && setCatalog == "" {
			return usagef("at least one of --set-schema or --set-catalog is required")
		}
		sql, err := readSQLArg(args[0])
		if err != nil {
			return err
		}
		kit, err := toolkit()
		if err != nil {
			return err
		}
		rewritten, err := kit.Rewrite(sql, dialect(), []sqlkit.RewriteRule{{
			MatchSchema: matchSchema,
			SetSchema:   setSchema,
			SetCatalog:  setCatalog,
		}})
		if err != nil {
			return err
		}
		fmt.Println(rewritten)
		return nil
	},
}

func init() {
	sqlTranspileCmd.Flags().String("to", "", "Target dialect")
	sqlLintCmd.Flags().Bool("allow-insert", true, "Permit INSERT statements")
	sqlRewriteCmd.Flags().String("match-schema", "", "Only rewrite tables in this schema")
	sqlRewriteCmd.Flags().String("set-schema", "", "Schema to set on matching tables")
	sqlRewriteCmd.Flags().String("set-catalog", "", "Catalog to set on matching tables")
	sqlCmd.AddCommand(sqlNormalizeCmd)
	sqlCmd.AddCommand(sqlTranspileCmd)
	sqlCmd.AddCommand(sqlDiffCmd)
	sqlCmd.AddCommand(sqlLintCmd)
	sqlCmd.AddCommand(sqlLineageCmd)
	sqlCmd.AddCommand(sqlRewriteCmd)
	rootCmd.AddCommand(sqlCmd)
}
