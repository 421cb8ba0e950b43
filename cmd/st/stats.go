package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show graph statistics",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		stats, err := store.GetStatistics(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(stats)
			return
		}

		cyan := color.New(color.FgCyan).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()

		fmt.Printf("\n%s Traceability Graph:\n\n", cyan("▣"))
		fmt.Printf("Capabilities:        %d\n", stats.Capabilities)
		fmt.Printf("Epics:               %d\n", stats.Epics)
		fmt.Printf("User Stories:        %d\n", stats.UserStories)
		fmt.Printf("Tests:               %d\n", stats.Tests)
		fmt.Printf("Defects:             %d\n", stats.Defects)
		fmt.Printf("Dependencies:        %d\n", stats.Dependencies)

		fmt.Println()
		if stats.DuplicateTestKeys > 0 {
			fmt.Printf("Duplicate test keys: %s\n", yellow(fmt.Sprintf("%d", stats.DuplicateTestKeys)))
		} else {
			fmt.Printf("Duplicate test keys: %s\n", green("0"))
		}
		if stats.MissingComponents > 0 {
			fmt.Printf("Missing components:  %s\n", yellow(fmt.Sprintf("%d", stats.MissingComponents)))
		} else {
			fmt.Printf("Missing components:  %s\n", green("0"))
		}
		fmt.Printf("Tests without epic:  %d\n", stats.TestsWithoutEpic)
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
