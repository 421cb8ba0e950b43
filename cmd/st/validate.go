package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stitchtrace/stitch/internal/inherit"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check component consistency",
	Long: `Check that every test and defect linked to a user story carries the
same component as that story. Read-only: mismatches are reported, never
repaired. Re-run 'st inherit --execute --force' to overwrite drifted
components from the hierarchy.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		report, err := inherit.NewValidator(store).Validate(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(report)
			return
		}

		if report.Total == 0 {
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s No component mismatches found\n", green("✓"))
			return
		}

		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("%s %d component mismatches found\n", yellow("⚠"), report.Total)

		if len(report.TestMismatches) > 0 {
			fmt.Printf("\nTests (%d):\n", len(report.TestMismatches))
			for _, m := range report.TestMismatches {
				fmt.Printf("  test %d has %q, story %d has %q\n",
					m.ChildID, m.ChildComponent, m.ParentID, m.ParentComponent)
			}
		}
		if len(report.DefectMismatches) > 0 {
			fmt.Printf("\nDefects (%d):\n", len(report.DefectMismatches))
			for _, m := range report.DefectMismatches {
				fmt.Printf("  defect %d has %q, story %d has %q\n",
					m.ChildID, m.ChildComponent, m.ParentID, m.ParentComponent)
			}
		}

		fmt.Println("\nRun 'st inherit --execute --force' to re-derive components from the hierarchy.")
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
