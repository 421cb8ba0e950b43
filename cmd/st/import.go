package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stitchtrace/stitch/internal/types"
)

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import records from JSONL",
	Long: `Import traceability records from a JSONL file (or stdin with "-").

Each line is one record tagged with a kind: capability, epic, user_story,
test, defect, or epic_dependency. Keyed kinds upsert by business key;
test records always insert new rows (run 'st dedup' afterwards to
collapse the accumulated duplicates). Rows that fail validation or break
an integrity constraint are skipped and counted, never fatal.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var in io.Reader
		if args[0] == "-" {
			in = os.Stdin
		} else {
			f, err := os.Open(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to open %s: %v\n", args[0], err)
				os.Exit(1)
			}
			defer func() { _ = f.Close() }()
			in = f
		}

		batch, lines, err := readRecords(in)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx := context.Background()
		sum, err := importRecords(ctx, store, batch, lines, actor)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(sum)
			return
		}

		for _, msg := range sum.Errors {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", msg)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Imported %d lines\n", green("✓"), sum.Lines)

		kinds := make([]string, 0, len(sum.Counts))
		for kind := range sum.Counts {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			c := sum.Counts[kind]
			fmt.Printf("  %-16s %d created, %d updated, %d skipped\n", kind+":", c.Created, c.Updated, c.Skipped)
		}

		if c, ok := sum.Counts[string(types.KindTest)]; ok && c.Created > 0 {
			fmt.Printf("\nRun 'st dedup' to collapse duplicate test rows.\n")
		}
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
