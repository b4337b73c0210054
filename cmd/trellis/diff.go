package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fathomdata/trellis/internal/differ"
	"github.com/fathomdata/trellis/internal/loader"
	"github.com/fathomdata/trellis/internal/state"
	"github.com/fathomdata/trellis/internal/types"
	"github.com/fathomdata/trellis/internal/ui"
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Compare the model directory against a snapshot",
	Long: `Load the model directory and compare its content hashes against a
base snapshot (latest for the environment unless --base is given).`,
	Args: exactArgs(0, "no arguments"),
	RunE: func(cmd *cobra.Command, args []string) error {
		baseID, _ := cmd.Flags().GetString("base")

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

		models, _, err := loader.New(kit, dialect()).LoadDir(m.ModelsPath())
		if err != nil {
			return err
		}
		current := make(map[string]string, len(models))
		for _, def := range models {
			current[def.Name] = def.ContentHash
		}

		base, err := baseHashes(store, baseID)
		if err != nil {
			return err
		}

		result := differ.Diff(base, current)
		if jsonOutput {
			outputJSON(result)
			return nil
		}
		if result.Empty() {
			fmt.Println("No changes.")
			return nil
		}
		for _, name := range result.Added {
			fmt.Printf("%s %s\n", ui.RenderPass("+"), name)
		}
		for _, name := range result.Modified {
			fmt.Printf("%s %s\n", ui.RenderWarn("~"), name)
		}
		for _, name := range result.Removed {
			fmt.Printf("%s %s\n", ui.RenderFail("-"), name)
		}
		fmt.Printf("\n%d added, %d modified, %d removed\n",
			len(result.Added), len(result.Modified), len(result.Removed))
		return nil
	},
}

// baseHashes loads the base snapshot's hash map. No snapshot yet means
// an empty base, so everything shows as added.
func baseHashes(store state.Store, baseID string) (map[string]string, error) {
	if baseID != "" {
		snap, err := store.GetSnapshot(rootCtx, tenantName(), baseID)
		if err != nil {
			return nil, err
		}
		return snap.Models, nil
	}
	snap, err := store.LatestSnapshot(rootCtx, tenantName(), environment())
	var notFound *types.NotFoundError
	if errors.As(err, &notFound) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return snap.Models, nil
}

func init() {
	diffCmd.Flags().String("base", "", "Base snapshot id (default: latest for the environment)")
	rootCmd.AddCommand(diffCmd)
}
