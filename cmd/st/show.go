package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stitchtrace/stitch/internal/storage"
	"github.com/stitchtrace/stitch/internal/types"
)

var showCmd = &cobra.Command{
	Use:   "show [key]",
	Short: "Show entity details",
	Long: `Show one entity with its audit trail. Keyed entities (capabilities,
epics, user stories, defects) are looked up by business key; tests by
numeric row id.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		kind, entity, id, err := findEntity(ctx, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if entity == nil {
			fmt.Fprintf(os.Stderr, "Error: no entity found for %q\n", args[0])
			os.Exit(1)
		}

		events, err := store.GetEvents(ctx, kind, id, 10)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{
				"kind":   kind,
				"entity": entity,
				"events": events,
			})
			return
		}

		printEntity(ctx, kind, entity)

		if len(events) > 0 {
			fmt.Printf("\nRecent events:\n")
			for _, e := range events {
				fmt.Printf("  %s %s by %s", e.CreatedAt.Format("2006-01-02 15:04"), e.EventType, e.Actor)
				if e.NewValue != nil {
					fmt.Printf(": %s", *e.NewValue)
				}
				fmt.Println()
			}
		}
		fmt.Println()
	},
}

// findEntity resolves a CLI reference: business keys first, then numeric
// test row ids.
func findEntity(ctx context.Context, ref string) (types.EntityKind, interface{}, int64, error) {
	if c, err := store.GetCapabilityByKey(ctx, ref); err == nil {
		return types.KindCapability, c, c.ID, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", nil, 0, err
	}
	if e, err := store.GetEpicByKey(ctx, ref); err == nil {
		return types.KindEpic, e, e.ID, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", nil, 0, err
	}
	if s, err := store.GetUserStoryByKey(ctx, ref); err == nil {
		return types.KindUserStory, s, s.ID, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", nil, 0, err
	}
	if d, err := store.GetDefectByKey(ctx, ref); err == nil {
		return types.KindDefect, d, d.ID, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", nil, 0, err
	}

	if id, convErr := strconv.ParseInt(ref, 10, 64); convErr == nil {
		if t, err := store.GetTest(ctx, id); err == nil {
			return types.KindTest, t, t.ID, nil
		} else if !errors.Is(err, storage.ErrNotFound) {
			return "", nil, 0, err
		}
	}

	return "", nil, 0, nil
}

func printEntity(ctx context.Context, kind types.EntityKind, entity interface{}) {
	cyan := color.New(color.FgCyan).SprintFunc()

	switch v := entity.(type) {
	case *types.Capability:
		fmt.Printf("\n%s: %s\n", cyan(v.CapabilityID), v.Name)
		if v.Component != "" {
			fmt.Printf("Component: %s\n", v.Component)
		}
		if v.StrategicTheme != "" {
			fmt.Printf("Theme: %s\n", v.StrategicTheme)
		}
		if v.BusinessValue != "" {
			fmt.Printf("Value: %s\n", v.BusinessValue)
		}
		fmt.Printf("Created: %s\n", v.CreatedAt.Format("2006-01-02 15:04"))
	case *types.Epic:
		fmt.Printf("\n%s: %s\n", cyan(v.EpicID), v.Title)
		fmt.Printf("Status: %s\n", v.Status)
		fmt.Printf("Priority: %s\n", v.Priority)
		if v.Component != "" {
			fmt.Printf("Component: %s\n", v.Component)
		}
		if v.EstimatedImpactDays > 0 {
			fmt.Printf("Impact: %.1f days\n", v.EstimatedImpactDays)
		}
		fmt.Printf("Created: %s\n", v.CreatedAt.Format("2006-01-02 15:04"))
		printEpicEdges(ctx, v)
	case *types.UserStory:
		fmt.Printf("\n%s: %s\n", cyan(v.UserStoryID), v.Title)
		fmt.Printf("Status: %s\n", v.Status)
		if v.IssueNumber != nil {
			fmt.Printf("Issue: #%d\n", *v.IssueNumber)
		}
		if v.Component != "" {
			fmt.Printf("Component: %s\n", v.Component)
		}
		fmt.Printf("Created: %s\n", v.CreatedAt.Format("2006-01-02 15:04"))
	case *types.Defect:
		fmt.Printf("\n%s: %s\n", cyan(v.DefectID), v.Title)
		fmt.Printf("Status: %s\n", v.Status)
		fmt.Printf("Severity: %s\n", v.Severity)
		if v.Component != "" {
			fmt.Printf("Component: %s\n", v.Component)
		}
		fmt.Printf("Created: %s\n", v.CreatedAt.Format("2006-01-02 15:04"))
	case *types.Test:
		fmt.Printf("\n%s: %s\n", cyan(fmt.Sprintf("#%d", v.ID)), v.FunctionName)
		fmt.Printf("Path: %s\n", v.FilePath)
		if v.Component != "" {
			fmt.Printf("Component: %s\n", v.Component)
		}
		if v.TestCategory != "" {
			fmt.Printf("Category: %s\n", v.TestCategory)
		}
		fmt.Printf("Priority: %s", v.Priority)
		if v.PriorityExplicit {
			fmt.Printf(" (explicit)")
		}
		fmt.Println()
		if v.LastExecutionTime != nil {
			fmt.Printf("Last run: %s (%s)\n", v.LastExecutionTime.Format("2006-01-02 15:04"), v.LastExecutionStatus)
		}
		fmt.Printf("Created: %s\n", v.CreatedAt.Format("2006-01-02 15:04"))
	}
}

func printEpicEdges(ctx context.Context, epic *types.Epic) {
	deps, err := store.GetEpicDependenciesFor(ctx, epic.ID)
	if err != nil || len(deps) == 0 {
		return
	}
	keys, err := epicKeysByID(ctx)
	if err != nil {
		return
	}

	var waitsOn, blocks []string
	for _, dep := range deps {
		if dep.DependentEpicID == epic.ID {
			waitsOn = append(waitsOn, keys[dep.ParentEpicID])
		} else {
			blocks = append(blocks, keys[dep.DependentEpicID])
		}
	}
	if len(waitsOn) > 0 {
		fmt.Printf("Waits on: %v\n", waitsOn)
	}
	if len(blocks) > 0 {
		fmt.Printf("Blocks: %v\n", blocks)
	}
}

func init() {
	rootCmd.AddCommand(showCmd)
}
