package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fathomdata/trellis/internal/types"
	"github.com/fathomdata/trellis/internal/ui"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [name]",
	Short: "Capture the loaded catalogue as an immutable snapshot",
	Args:  maxArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		models, err := store.ListModels(rootCtx, tenantName())
		if err != nil {
			return err
		}
		if len(models) == 0 {
			return usagef("catalogue is empty; run 'trellis load' first")
		}

		hashes := make(map[string]string, len(models))
		for _, def := range models {
			hashes[def.Name] = def.ContentHash
		}

		name := time.Now().UTC().Format("20060102-150405")
		if len(args) == 1 {
			name = args[0]
		}
		snap := &types.Snapshot{
			ID:          types.ComputeSnapshotID(tenantName(), environment(), hashes),
			Name:        name,
			Environment: environment(),
			Models:      hashes,
			CreatedAt:   time.Now().UTC(),
		}
		if err := store.SaveSnapshot(rootCtx, tenantName(), snap); err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(snap)
			return nil
		}
		fmt.Printf("%s Snapshot %s (%s, %d models)\n",
			ui.RenderPass("✓"), ui.RenderAccent(shortHash(snap.ID)), snap.Name, len(snap.Models))
		fmt.Printf("  id: %s\n", snap.ID)
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots for the current environment",
	Args:  exactArgs(0, "no arguments"),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		snaps, err := store.ListSnapshots(rootCtx, tenantName(), environment())
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(snaps)
			return nil
		}
		t := ui.NewTable("ID", "NAME", "ENV", "CREATED")
		for _, s := range snaps {
			t.Row(shortHash(s.ID), s.Name, s.Environment, s.CreatedAt.Format(time.RFC3339))
		}
		fmt.Println(t.Render())
		return nil
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotListCmd)
	rootCmd.AddCommand(snapshotCmd)
}
