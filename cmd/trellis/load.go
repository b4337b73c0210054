package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fathomdata/trellis/internal/loader"
	"github.com/fathomdata/trellis/internal/ui"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Parse the model directory and save the catalogue",
	Long: `Parse every .sql file under the project's models directory, resolve
ref() macros and dependencies, compute content hashes, and persist the
catalogue to the state database.`,
	Args: exactArgs(0, "no arguments"),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := requireProject()
		if err != nil {
			return err
		}
		kit, err := toolkit()
		if err != nil {
			return err
		}
		store, err := openStore(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		models, warnings, err := loader.New(kit, dialect()).LoadDir(m.ModelsPath())
		if err != nil {
			return err
		}
		if err := store.SaveModels(rootCtx, tenantName(), models); err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(map[string]any{"models": models, "warnings": warnings})
			return nil
		}
		for _, w := range warnings {
			fmt.Printf("%s %s\n", ui.RenderWarn("warning:"), w)
		}
		t := ui.NewTable("MODEL", "KIND", "DEPS", "HASH")
		for _, def := range models {
			t.Row(def.Name, string(def.Kind), fmt.Sprintf("%d", len(def.Dependencies)), shortHash(def.ContentHash))
		}
		fmt.Println(t.Render())
		fmt.Printf("Loaded %d model(s) into tenant %s.\n", len(models), tenantName())
		return nil
	},
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func init() {
	rootCmd.AddCommand(loadCmd)
}
