package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fathomdata/trellis/internal/auditlog"
	"github.com/fathomdata/trellis/internal/ui"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the tenant's audit log",
	Args:  exactArgs(0, "no arguments"),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := openStore(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		entries, err := auditlog.New(store).Entries(rootCtx, tenantName(), limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(entries)
			return nil
		}
		t := ui.NewTable("ID", "TIME", "ACTOR", "ACTION", "ENTITY")
		for _, e := range entries {
			t.Row(fmt.Sprintf("%d", e.ID), e.CreatedAt.Format(time.RFC3339), e.Actor,
				e.Action, fmt.Sprintf("%s %s", e.EntityType, shortHash(e.EntityID)))
		}
		fmt.Println(t.Render())
		return nil
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the tenant's audit hash chain",
	Long: `Walk the audit log oldest first, recomputing every entry hash and
checking each previous-hash link. Any tampered or missing entry breaks
the chain from that point onward.`,
	Args: exactArgs(0, "no arguments"),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(rootCtx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		ok, checked, err := auditlog.New(store).VerifyChain(rootCtx, tenantName(), 0)
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(map[string]any{"ok": ok, "entries_checked": checked})
		}
		if !ok {
			if !jsonOutput {
				fmt.Printf("%s chain broken after %d intact entries\n", ui.RenderFail("✗"), checked)
			}
			return fmt.Errorf("audit chain broken after %d intact entries", checked)
		}
		if !jsonOutput {
			fmt.Printf("%s %d entries verified\n", ui.RenderPass("✓"), checked)
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().Int("limit", 50, "Maximum entries to show (0 for all)")
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}
