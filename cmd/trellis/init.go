package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fathomdata/trellis/internal/config"
	"github.com/fathomdata/trellis/internal/project"
	"github.com/fathomdata/trellis/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Create a trellis project in the current directory",
	Long: `Write a trellis.yaml manifest, the models directory, and the
.trellis state directory. The project name defaults to the current
directory name.`,
	Args: maxArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		name := filepath.Base(cwd)
		if len(args) == 1 {
			name = args[0]
		}

		m := project.Default(name)
		if t := config.GetString("tenant"); t != "" {
			m.Tenant = t
		}
		if d := config.GetString("dialect"); d != "" {
			m.Dialect = d
		}
		if e := config.GetString("environment"); e != "" {
			m.Environment = e
		}

		if err := m.Save(cwd); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Join(cwd, m.ModelsDir), 0o755); err != nil {
			return fmt.Errorf("failed to create models directory: %w", err)
		}
		if err := os.MkdirAll(filepath.Join(cwd, ".trellis"), 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}

		if jsonOutput {
			outputJSON(m)
			return nil
		}
		fmt.Printf("%s Initialized project %s\n", ui.RenderPass("✓"), ui.RenderAccent(name))
		fmt.Printf("  manifest:  %s\n", project.FileName)
		fmt.Printf("  models:    %s/\n", m.ModelsDir)
		fmt.Printf("  state:     .trellis/state.db\n")
		fmt.Printf("\nAdd .sql model files under %s/ and run 'trellis load'.\n", m.ModelsDir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
