package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stitchtrace/stitch/internal/inherit"
)

var inheritCmd = &cobra.Command{
	Use:   "inherit",
	Short: "Propagate component tags down the hierarchy",
	Long: `Propagate component tags down the traceability hierarchy: epics
inherit from capabilities, user stories from epics, tests and defects
from their user story (falling back to the epic, then the capability).
Only the first tag of a comma-separated component list is inherited.

The default run is a dry run that reports what would change. Use
--execute to write, and --force to re-resolve entities that already
have a component.`,
	Run: func(cmd *cobra.Command, args []string) {
		execute, _ := cmd.Flags().GetBool("execute")
		force, _ := cmd.Flags().GetBool("force")

		resolver := inherit.NewResolver(store)
		resolver.Actor = actor
		resolver.DryRun = !execute

		runID := ""
		if execute {
			lock := acquireRunLock("inherit")
			defer func() { _ = lock.Release() }()

			log := newRunLogger()
			defer func() { _ = log.Close() }()
			resolver.Log = log
			runID = log.RunID()
			log.Printf("inherit start: force=%v actor=%s", force, actor)
		}

		ctx := context.Background()
		passes := []struct {
			name string
			run  func(context.Context, bool) (*inherit.BatchStats, error)
		}{
			{"epics", resolver.ProcessAllEpicInheritance},
			{"user_stories", resolver.ProcessAllStoryInheritance},
			{"tests", resolver.ProcessAllTestInheritance},
			{"defects", resolver.ProcessAllDefectInheritance},
		}

		combined := inherit.BatchStats{}
		results := make(map[string]*inherit.BatchStats, len(passes))
		for _, pass := range passes {
			stats, err := pass.run(ctx, force)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			results[pass.name] = stats
			combined.Add(*stats)
			if resolver.Log != nil {
				resolver.Log.Printf("inherit %s: %d/%d updated, %d errors",
					pass.name, stats.Updated, stats.Processed, stats.Errors)
			}
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{
				"dry_run":  !execute,
				"force":    force,
				"run_id":   runID,
				"passes":   results,
				"combined": combined,
			})
			return
		}

		if execute {
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s Component inheritance complete", green("✓"))
			if runID != "" {
				fmt.Printf(" (run %s)", runID)
			}
			fmt.Println()
		} else {
			fmt.Println("Component inheritance plan (dry run):")
		}
		for _, pass := range passes {
			stats := results[pass.name]
			fmt.Printf("  %-13s %d candidates, %d updated\n", pass.name+":", stats.Total, stats.Updated)
		}
		fmt.Printf("Combined: %d updated of %d processed", combined.Updated, combined.Processed)
		if combined.Errors > 0 {
			yellow := color.New(color.FgYellow).SprintFunc()
			fmt.Printf(" (%s)", yellow(fmt.Sprintf("%d errors", combined.Errors)))
		}
		fmt.Println()

		if !execute && combined.Updated > 0 {
			fmt.Println("\nRun 'st inherit --execute' to apply.")
		}
	},
}

func init() {
	inheritCmd.Flags().Bool("execute", false, "Apply changes (default is a dry run)")
	inheritCmd.Flags().Bool("force", false, "Re-resolve entities that already have a component")
	rootCmd.AddCommand(inheritCmd)
}
