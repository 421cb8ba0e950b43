// Epic dependency management commands: add and resolve edges, list the
// graph, detect cycles, and compute the critical path.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stitchtrace/stitch/internal/graph"
	"github.com/stitchtrace/stitch/internal/types"
)

var depsCmd = &cobra.Command{
	Use:   "deps",
	Short: "Manage epic dependencies",
}

var depsAddCmd = &cobra.Command{
	Use:   "add [parent-epic] [dependent-epic]",
	Short: "Add a dependency edge (dependent waits on parent)",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		depType, _ := cmd.Flags().GetString("type")
		priority, _ := cmd.Flags().GetString("priority")
		days, _ := cmd.Flags().GetFloat64("days")

		ctx := context.Background()
		parent, err := store.GetEpicByKey(ctx, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resolving epic %s: %v\n", args[0], err)
			os.Exit(1)
		}
		dependent, err := store.GetEpicByKey(ctx, args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resolving epic %s: %v\n", args[1], err)
			os.Exit(1)
		}

		dep := &types.EpicDependency{
			ParentEpicID:        parent.ID,
			DependentEpicID:     dependent.ID,
			DependencyType:      types.DependencyType(depType),
			Priority:            types.Priority(priority),
			EstimatedImpactDays: days,
			IsActive:            true,
		}
		if err := store.AddEpicDependency(ctx, dep, actor); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(dep)
			return
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Added dependency: %s waits on %s (%s)\n",
			green("✓"), args[1], args[0], depType)
	},
}

var depsResolveCmd = &cobra.Command{
	Use:   "resolve [parent-epic] [dependent-epic]",
	Short: "Resolve the active edges between two epics",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		parent, err := store.GetEpicByKey(ctx, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resolving epic %s: %v\n", args[0], err)
			os.Exit(1)
		}
		dependent, err := store.GetEpicByKey(ctx, args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resolving epic %s: %v\n", args[1], err)
			os.Exit(1)
		}

		deps, err := store.ListEpicDependencies(ctx, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		resolved := 0
		for _, dep := range deps {
			if dep.ParentEpicID != parent.ID || dep.DependentEpicID != dependent.ID {
				continue
			}
			if err := store.ResolveEpicDependency(ctx, dep.ID, actor); err != nil {
				fmt.Fprintf(os.Stderr, "Error resolving edge %d: %v\n", dep.ID, err)
				os.Exit(1)
			}
			resolved++
		}

		if resolved == 0 {
			fmt.Fprintf(os.Stderr, "Error: no active dependency from %s to %s\n", args[1], args[0])
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{
				"parent":    args[0],
				"dependent": args[1],
				"resolved":  resolved,
			})
			return
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Resolved %d edge(s): %s no longer waits on %s\n",
			green("✓"), resolved, args[1], args[0])
	},
}

var depsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dependency edges",
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")

		ctx := context.Background()
		deps, err := store.ListEpicDependencies(ctx, !all)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			if deps == nil {
				deps = []*types.EpicDependency{}
			}
			outputJSON(deps)
			return
		}

		if len(deps) == 0 {
			fmt.Println("No dependencies")
			return
		}

		keys, err := epicKeysByID(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\nFound %d dependencies:\n\n", len(deps))
		for _, dep := range deps {
			state := ""
			if dep.IsResolved {
				state = " [resolved]"
			}
			fmt.Printf("%s -> %s [%s] %.1f days%s\n",
				keys[dep.ParentEpicID], keys[dep.DependentEpicID],
				dep.DependencyType, dep.EstimatedImpactDays, state)
		}
		fmt.Println()
	},
}

var depsCyclesCmd = &cobra.Command{
	Use:   "cycles",
	Short: "Detect dependency cycles",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		analyzer, err := graph.Load(ctx, store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		cycles := analyzer.DetectCycles()

		if jsonOutput {
			if cycles == nil {
				cycles = [][]string{}
			}
			outputJSON(cycles)
			return
		}

		if len(cycles) == 0 {
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("\n%s No dependency cycles detected\n\n", green("✓"))
			return
		}

		red := color.New(color.FgRed).SprintFunc()
		fmt.Printf("\n%s Found %d dependency cycles:\n\n", red("⚠"), len(cycles))
		for i, cycle := range cycles {
			fmt.Printf("%d. %s\n", i+1, strings.Join(cycle, " -> "))
		}
		fmt.Println()
	},
}

var depsCriticalPathCmd = &cobra.Command{
	Use:   "critical-path",
	Short: "Compute the longest dependency chain by impact days",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		analyzer, err := graph.Load(ctx, store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		path, err := analyzer.CriticalPath()
		if err != nil {
			// A cyclic graph has no critical path; this is the one
			// analysis failure that is fatal.
			var cycleErr *graph.CycleError
			if errors.As(err, &cycleErr) {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				fmt.Fprintf(os.Stderr, "Hint: run 'st deps cycles' to see every cycle, then resolve an edge\n")
			} else {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(path)
			return
		}

		if len(path.Path) == 0 {
			fmt.Println("No active dependencies; critical path is empty")
			return
		}

		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Printf("\nCritical path (%s):\n\n", cyan(fmt.Sprintf("%.1f days", path.TotalImpactDays)))
		fmt.Printf("  %s\n\n", strings.Join(path.Path, " -> "))
	},
}

// epicKeysByID maps epic row ids to business keys for display.
func epicKeysByID(ctx context.Context) (map[int64]string, error) {
	epics, err := store.ListEpics(ctx, types.EpicFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list epics: %w", err)
	}
	keys := make(map[int64]string, len(epics))
	for _, e := range epics {
		keys[e.ID] = e.EpicID
	}
	return keys, nil
}

func init() {
	depsAddCmd.Flags().StringP("type", "t", "prerequisite", "Dependency type (prerequisite, blocking, technical)")
	depsAddCmd.Flags().StringP("priority", "p", "medium", "Priority (low, medium, high, critical)")
	depsAddCmd.Flags().Float64("days", 0, "Estimated impact in days")
	depsListCmd.Flags().Bool("all", false, "Include resolved edges")

	depsCmd.AddCommand(depsAddCmd)
	depsCmd.AddCommand(depsResolveCmd)
	depsCmd.AddCommand(depsListCmd)
	depsCmd.AddCommand(depsCyclesCmd)
	depsCmd.AddCommand(depsCriticalPathCmd)
	rootCmd.AddCommand(depsCmd)
}
