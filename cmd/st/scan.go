package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stitchtrace/stitch/internal/scan"
)

var scanCmd = &cobra.Command{
	Use:   "scan [root]",
	Short: "Discover test functions in a source tree",
	Long: `Walk a source tree and list the test functions a test-management
importer would record. Matches ` + "`**/test_*.py`" + ` and ` + "`**/*_test.py`" + `
by default; vendor and VCS directories are skipped. Works without a
database.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		countOnly, _ := cmd.Flags().GetBool("count")
		patterns, _ := cmd.Flags().GetStringSlice("pattern")

		root := "."
		if len(args) == 1 {
			root = args[0]
		}

		ctx := context.Background()
		scanner := scan.NewScanner(patterns...)

		if countOnly {
			count, err := scanner.CountTestFunctions(ctx, root)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if jsonOutput {
				outputJSON(map[string]int{"count": count})
			} else {
				fmt.Println(count)
			}
			return
		}

		findings, err := scanner.Discover(ctx, root)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			if findings == nil {
				findings = []scan.Finding{}
			}
			outputJSON(findings)
			return
		}

		for _, f := range findings {
			fmt.Printf("%s::%s\n", f.FilePath, f.FunctionName)
		}
		fmt.Printf("\n%d test functions in %d files\n", len(findings), countFiles(findings))
	},
}

func countFiles(findings []scan.Finding) int {
	files := make(map[string]bool, len(findings))
	for _, f := range findings {
		files[f.FilePath] = true
	}
	return len(files)
}

func init() {
	scanCmd.Flags().Bool("count", false, "Print only the function count")
	scanCmd.Flags().StringSlice("pattern", nil, "Glob pattern for test files (repeatable; default **/test_*.py, **/*_test.py)")
	rootCmd.AddCommand(scanCmd)
}
