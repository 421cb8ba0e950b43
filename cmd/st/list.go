package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stitchtrace/stitch/internal/types"
)

var listCmd = &cobra.Command{
	Use:   "list [kind]",
	Short: "List entities of one kind",
	Long: `List entities of one kind: capabilities, epics, stories, tests, or
defects. Filters apply where they make sense for the kind.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"capabilities", "epics", "stories", "tests", "defects"},
	Run: func(cmd *cobra.Command, args []string) {
		status, _ := cmd.Flags().GetString("status")
		component, _ := cmd.Flags().GetString("component")
		epicKey, _ := cmd.Flags().GetString("epic")
		severity, _ := cmd.Flags().GetString("severity")
		missing, _ := cmd.Flags().GetBool("missing-component")
		limit, _ := cmd.Flags().GetInt("limit")

		ctx := context.Background()

		var epicID *int64
		if epicKey != "" {
			epic, err := store.GetEpicByKey(ctx, epicKey)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error resolving epic %s: %v\n", epicKey, err)
				os.Exit(1)
			}
			epicID = &epic.ID
		}

		switch args[0] {
		case "capabilities":
			listCapabilities(ctx)
		case "epics":
			listEpics(ctx, status, missing, limit)
		case "stories":
			listStories(ctx, epicID)
		case "tests":
			listTests(ctx, component, epicID, missing, limit)
		case "defects":
			listDefects(ctx, status, severity, missing, limit)
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown kind %q (capabilities, epics, stories, tests, defects)\n", args[0])
			os.Exit(1)
		}
	},
}

func listCapabilities(ctx context.Context) {
	capabilities, err := store.ListCapabilities(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if jsonOutput {
		outputJSON(capabilities)
		return
	}
	fmt.Printf("\nFound %d capabilities:\n\n", len(capabilities))
	for _, c := range capabilities {
		fmt.Printf("%s %s\n", c.CapabilityID, c.Name)
		if c.Component != "" {
			fmt.Printf("  Component: %s\n", c.Component)
		}
		if c.StrategicTheme != "" {
			fmt.Printf("  Theme: %s\n", c.StrategicTheme)
		}
	}
	fmt.Println()
}

func listEpics(ctx context.Context, status string, missing bool, limit int) {
	filter := types.EpicFilter{Limit: limit}
	if status != "" {
		s := types.Status(status)
		filter.Status = &s
	}
	if missing {
		hasComponent := false
		filter.HasComponent = &hasComponent
	}

	epics, err := store.ListEpics(ctx, filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if jsonOutput {
		outputJSON(epics)
		return
	}
	fmt.Printf("\nFound %d epics:\n\n", len(epics))
	for _, e := range epics {
		fmt.Printf("%s [%s] [%s] %s\n", e.EpicID, e.Status, e.Priority, e.Title)
		if e.Component != "" {
			fmt.Printf("  Component: %s\n", e.Component)
		}
		if e.EstimatedImpactDays > 0 {
			fmt.Printf("  Impact: %.1f days\n", e.EstimatedImpactDays)
		}
	}
	fmt.Println()
}

func listStories(ctx context.Context, epicID *int64) {
	stories, err := store.ListUserStories(ctx, epicID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if jsonOutput {
		outputJSON(stories)
		return
	}
	fmt.Printf("\nFound %d user stories:\n\n", len(stories))
	for _, s := range stories {
		fmt.Printf("%s [%s] %s\n", s.UserStoryID, s.Status, s.Title)
		if s.IssueNumber != nil {
			fmt.Printf("  Issue: #%d\n", *s.IssueNumber)
		}
		if s.Component != "" {
			fmt.Printf("  Component: %s\n", s.Component)
		}
	}
	fmt.Println()
}

func listTests(ctx context.Context, component string, epicID *int64, missing bool, limit int) {
	filter := types.TestFilter{EpicID: epicID, Limit: limit}
	if component != "" {
		filter.Component = &component
	}
	if missing {
		hasComponent := false
		filter.HasComponent = &hasComponent
	}

	tests, err := store.ListTests(ctx, filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if jsonOutput {
		outputJSON(tests)
		return
	}
	fmt.Printf("\nFound %d tests:\n\n", len(tests))
	for _, t := range tests {
		fmt.Printf("#%d %s\n", t.ID, t.FunctionName)
		fmt.Printf("  Path: %s\n", t.FilePath)
		if t.Component != "" {
			fmt.Printf("  Component: %s\n", t.Component)
		}
		if t.LastExecutionStatus != "" {
			fmt.Printf("  Last run: %s\n", t.LastExecutionStatus)
		}
	}
	fmt.Println()
}

func listDefects(ctx context.Context, status, severity string, missing bool, limit int) {
	filter := types.DefectFilter{Limit: limit}
	if status != "" {
		s := types.DefectStatus(status)
		filter.Status = &s
	}
	if severity != "" {
		sv := types.Severity(severity)
		filter.Severity = &sv
	}
	if missing {
		hasComponent := false
		filter.HasComponent = &hasComponent
	}

	defects, err := store.ListDefects(ctx, filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if jsonOutput {
		outputJSON(defects)
		return
	}
	fmt.Printf("\nFound %d defects:\n\n", len(defects))
	for _, d := range defects {
		fmt.Printf("%s [%s] [%s] %s\n", d.DefectID, d.Status, d.Severity, d.Title)
		if d.Component != "" {
			fmt.Printf("  Component: %s\n", d.Component)
		}
	}
	fmt.Println()
}

func init() {
	listCmd.Flags().StringP("status", "s", "", "Filter by status")
	listCmd.Flags().StringP("component", "c", "", "Filter tests by component")
	listCmd.Flags().StringP("epic", "e", "", "Filter tests/stories by epic key")
	listCmd.Flags().String("severity", "", "Filter defects by severity")
	listCmd.Flags().Bool("missing-component", false, "Only entities without a component")
	listCmd.Flags().IntP("limit", "n", 0, "Limit results")
	rootCmd.AddCommand(listCmd)
}
