package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fathomdata/trellis/internal/auditlog"
	"github.com/fathomdata/trellis/internal/locks"
	"github.com/fathomdata/trellis/internal/types"
	"github.com/fathomdata/trellis/internal/ui"
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "List advisory partition locks",
	Args:  exactArgs(0, "no arguments"),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		held, err := locks.NewManager(store, auditlog.New(store)).List(rootCtx, tenantName())
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(held)
			return nil
		}
		if len(held) == 0 {
			fmt.Println("No locks held.")
			return nil
		}
		now := time.Now()
		t := ui.NewTable("MODEL", "RANGE", "OWNER", "EXPIRES")
		for _, lock := range held {
			expires := lock.ExpiresAt().Format(time.RFC3339)
			if lock.Expired(now) {
				expires = ui.RenderFail("expired")
			}
			t.Row(lock.ModelName,
				fmt.Sprintf("%s..%s", lock.RangeStart.Format(types.DateFormat), lock.RangeEnd.Format(types.DateFormat)),
				lock.Owner, expires)
		}
		fmt.Println(t.Render())
		return nil
	},
}

var locksReleaseCmd = &cobra.Command{
	Use:   "release <model>",
	Short: "Release a partition lock",
	Long: `Release the lock on (model, range). With --owner only that owner's
lock is released; --force releases regardless of owner and records the
original owner in the audit log.`,
	Args: exactArgs(1, "a model name"),
	RunE: func(cmd *cobra.Command, args []string) error {
		startRaw, _ := cmd.Flags().GetString("start")
		endRaw, _ := cmd.Flags().GetString("end")
		owner, _ := cmd.Flags().GetString("owner")
		force, _ := cmd.Flags().GetBool("force")

		if startRaw == "" || endRaw == "" {
			return usagef("--start and --end are required")
		}
		start, err := parseDate(startRaw)
		if err != nil {
			return err
		}
		end, err := parseDate(endRaw)
		if err != nil {
			return err
		}

		store, err := openStore(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		manager := locks.NewManager(store, auditlog.New(store))

		if force {
			if err := manager.ForceRelease(rootCtx, tenantName(), args[0], start, end, actorName()); err != nil {
				return err
			}
			fmt.Printf("%s Force-released lock on %s %s..%s\n", ui.RenderPass("✓"),
				args[0], startRaw, endRaw)
			return nil
		}

		if owner == "" {
			return usagef("--owner is required unless --force is set")
		}
		released, err := manager.Release(rootCtx, tenantName(), args[0], start, end, owner)
		if err != nil {
			return err
		}
		if !released {
			return fmt.Errorf("no lock on %s %s..%s held by %s", args[0], startRaw, endRaw, owner)
		}
		fmt.Printf("%s Released lock on %s %s..%s\n", ui.RenderPass("✓"), args[0], startRaw, endRaw)
		return nil
	},
}

func init() {
	locksReleaseCmd.Flags().String("start", "", "Range start (inclusive)")
	locksReleaseCmd.Flags().String("end", "", "Range end (inclusive)")
	locksReleaseCmd.Flags().String("owner", "", "Owner whose lock to release")
	locksReleaseCmd.Flags().Bool("force", false, "Release regardless of owner (audited)")
	locksCmd.AddCommand(locksReleaseCmd)
	rootCmd.AddCommand(locksCmd)
}
