package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stitchtrace/stitch/internal/types"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export records as JSONL",
	Long: `Export the traceability graph as JSONL to stdout (or a file with -o).

Output is deterministic: kinds in a fixed order, records in business-key
order, so identical databases produce identical files. The file can be
re-imported with 'st import'.`,
	Run: func(cmd *cobra.Command, args []string) {
		kindFlag, _ := cmd.Flags().GetString("kind")
		outPath, _ := cmd.Flags().GetString("output")

		var only types.EntityKind
		if kindFlag != "" {
			only = types.EntityKind(kindFlag)
			if !only.IsValid() {
				fmt.Fprintf(os.Stderr, "Error: unknown kind %q (capability, epic, user_story, test, defect, epic_dependency)\n", kindFlag)
				os.Exit(1)
			}
		}

		out := os.Stdout
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to create %s: %v\n", outPath, err)
				os.Exit(1)
			}
			defer func() { _ = f.Close() }()
			out = f
		}

		ctx := context.Background()
		if err := exportRecords(ctx, store, out, only); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")
	exportCmd.Flags().String("kind", "", "Export only one kind")
	rootCmd.AddCommand(exportCmd)
}
