package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stitchtrace/stitch/internal/dedup"
	"github.com/stitchtrace/stitch/internal/scan"
)

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Collapse duplicate test records",
	Long: `Collapse duplicate test records in five phases: exact duplicate
detection, survivor scoring, orphaned-file removal, epic consolidation,
and path separator normalization. Phases run in order and each later
phase sees the earlier phases' effects.

The default run is a dry run that reports the full plan. A live run
(--live --confirm) applies each phase in its own transaction; a failed
phase rolls back alone, keeping completed phases.`,
	Run: func(cmd *cobra.Command, args []string) {
		live, _ := cmd.Flags().GetBool("live")
		confirm, _ := cmd.Flags().GetBool("confirm")
		verify, _ := cmd.Flags().GetBool("verify")
		verbose, _ := cmd.Flags().GetBool("verbose")
		root, _ := cmd.Flags().GetString("root")

		if live && !confirm {
			fmt.Fprintf(os.Stderr, "Error: --live deletes rows; add --confirm to proceed\n")
			os.Exit(1)
		}

		engine := dedup.NewEngine(store)
		engine.Actor = actor

		runID := ""
		if live {
			lock := acquireRunLock("dedup")
			defer func() { _ = lock.Release() }()

			log := newRunLogger()
			defer func() { _ = log.Close() }()
			engine.Log = log
			runID = log.RunID()
		}

		ctx := context.Background()
		result, err := engine.Run(ctx, dedup.Options{DryRun: !live})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		var scanned *int
		if verify {
			count, err := scan.NewScanner().CountTestFunctions(ctx, root)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: scan failed: %v\n", err)
				os.Exit(1)
			}
			scanned = &count
		}

		if jsonOutput {
			out := map[string]interface{}{
				"run_id": runID,
				"result": result,
			}
			if scanned != nil {
				out["discovered_functions"] = *scanned
			}
			outputJSON(out)
			return
		}

		if result.DryRun {
			fmt.Println("Deduplication plan (dry run):")
		} else {
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s Deduplication complete", green("✓"))
			if runID != "" {
				fmt.Printf(" (run %s)", runID)
			}
			fmt.Println()
		}

		for _, phase := range result.Phases {
			fmt.Printf("  %-25s %d groups, %d removed, %d updated\n",
				phase.Name+":", phase.Groups, phase.Removed, phase.Updated)
			if verbose {
				for _, d := range phase.Details {
					fmt.Printf("    %s\n", d)
				}
			}
		}
		fmt.Printf("Tests: %d -> %d (%d removed)\n", result.InitialCount, result.FinalCount, result.Removed)

		if scanned != nil {
			fmt.Printf("Verification: %d test functions on disk, %d database rows\n", *scanned, result.FinalCount)
			if result.FinalCount != *scanned {
				yellow := color.New(color.FgYellow).SprintFunc()
				fmt.Printf("%s counts differ; re-scan the tree or re-run dedup\n", yellow("⚠"))
			}
		}

		if result.DryRun && result.Removed > 0 {
			fmt.Println("\nRun 'st dedup --live --confirm' to apply.")
		}
	},
}

func init() {
	dedupCmd.Flags().Bool("live", false, "Apply the plan (default is a dry run)")
	dedupCmd.Flags().Bool("confirm", false, "Required with --live")
	dedupCmd.Flags().Bool("verify", false, "Compare row count against test functions discovered on disk")
	dedupCmd.Flags().Bool("verbose", false, "Print per-group phase details")
	dedupCmd.Flags().String("root", ".", "Source root for --verify")
	rootCmd.AddCommand(dedupCmd)
}
