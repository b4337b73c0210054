// Command trellis is the CLI surface of the transformation control
// plane: load models, plan, apply, backfill, and audit.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fathomdata/trellis/internal/config"
	"github.com/fathomdata/trellis/internal/logging"
	"github.com/fathomdata/trellis/internal/project"
	"github.com/fathomdata/trellis/internal/sqlkit"
	"github.com/fathomdata/trellis/internal/sqlkit/tidbkit"
	"github.com/fathomdata/trellis/internal/state/sqlite"
	"github.com/fathomdata/trellis/internal/types"
)

var (
	rootCtx = context.Background()

	jsonOutput bool

	// proj is nil for commands that run outside a project (init).
	proj *project.Manifest
)

var rootCmd = &cobra.Command{
	Use:           "trellis",
	Short:         "SQL transformation control plane",
	Long:          "trellis loads a SQL model catalogue, diffs it against snapshots,\nplans DAG-aware runs, and applies them with locking, idempotency,\nand a hash-chained audit trail.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return err
		}
		// Flags outrank config file and environment.
		for _, name := range []string{"db", "tenant", "actor", "role", "dialect", "environment"} {
			if flag := cmd.Flags().Lookup(name); flag != nil && flag.Changed {
				config.Set(name, flag.Value.String())
			}
		}
		if jsonOutput {
			config.Set("json", true)
		}
		logging.Setup(logging.Options{
			FilePath:   config.GetString("log.file"),
			MaxSizeMB:  config.GetInt("log.max-size-mb"),
			MaxBackups: config.GetInt("log.max-backups"),
			MaxAgeDays: config.GetInt("log.max-age-days"),
		})

		if m, err := project.Find("."); err == nil {
			proj = m
		}
		return nil
	},
}

// usageError marks bad invocations so main can exit 2 instead of 3.
type usageError struct{ error }

func usagef(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

func exactArgs(n int, hint string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usagef("expected %s, got %d argument(s)", hint, len(args))
		}
		return nil
	}
}

func maxArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) > n {
			return usagef("too many arguments")
		}
		return nil
	}
}

// requireProject fails commands that need a trellis.yaml.
func requireProject() (*project.Manifest, error) {
	if proj == nil {
		return nil, usagef("no trellis.yaml found; run `trellis init` first")
	}
	return proj, nil
}

// openStore opens the state database, preferring --db / TRELLIS_DB over
// the project-local path.
func openStore(ctx context.Context) (*sqlite.Store, error) {
	path := config.GetString("db")
	if path == "" {
		m, err := requireProject()
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(m.Root+"/.trellis", 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
		path = m.StatePath()
	}
	return sqlite.New(ctx, path)
}

func toolkit() (sqlkit.Toolkit, error) {
	return sqlkit.Get()
}

// tenantName resolves flag/env > project file > "default".
func tenantName() string {
	if t := config.GetString("tenant"); t != "" {
		return t
	}
	if proj != nil && proj.Tenant != "" {
		return proj.Tenant
	}
	return "default"
}

func environment() string {
	if e := config.GetString("environment"); e != "" {
		return e
	}
	if proj != nil && proj.Environment != "" {
		return proj.Environment
	}
	return "dev"
}

func dialect() string {
	if d := config.GetString("dialect"); d != "" {
		return d
	}
	if proj != nil && proj.Dialect != "" {
		return proj.Dialect
	}
	return "mysql"
}

func actorName() string {
	if a := config.GetString("actor"); a != "" {
		return a
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

func defaultCluster() string {
	if c := config.GetString("clusters.default"); c != "" {
		return c
	}
	if proj != nil && proj.Clusters.Default != "" {
		return proj.Clusters.Default
	}
	return "standard"
}

// clusterRates merges project rates with config overrides.
func clusterRates() map[string]float64 {
	rates := make(map[string]float64)
	if proj != nil {
		for cluster, rate := range proj.Clusters.Rates {
			rates[cluster] = rate
		}
	}
	for cluster, raw := range config.GetStringMapString("clusters.rates") {
		if rate, err := strconv.ParseFloat(raw, 64); err == nil {
			rates[cluster] = rate
		}
	}
	return rates
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
	}
}

func main() {
	tidbkit.RegisterDefault()

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output JSON instead of tables")
	rootCmd.PersistentFlags().String("db", "", "State database path (default: <project>/.trellis/state.db)")
	rootCmd.PersistentFlags().String("tenant", "", "Tenant id (default: project file)")
	rootCmd.PersistentFlags().String("actor", "", "Actor recorded in runs and audit entries")
	rootCmd.PersistentFlags().String("role", "", "Caller role (admin required for --auto-approve)")
	rootCmd.PersistentFlags().String("dialect", "", "SQL dialect (default: project file)")
	rootCmd.PersistentFlags().String("environment", "", "Target environment (default: project file)")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})

	err := rootCmd.Execute()
	_ = logging.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var usage usageError
		var validation *types.ValidationError
		if errors.As(err, &usage) || errors.As(err, &validation) {
			os.Exit(2)
		}
		os.Exit(3)
	}
}
