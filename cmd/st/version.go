package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stitchtrace/stitch"
	"github.com/stitchtrace/stitch/internal/storage/sqlite"
	"golang.org/x/mod/semver"
)

const (
	// Version is the current version of st
	Version = "0.3.0"
	// Build can be set via ldflags at compile time
	Build = "dev"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		checkCompat, _ := cmd.Flags().GetBool("check-compat")
		if checkCompat {
			runCompatCheck()
			return
		}

		if jsonOutput {
			outputJSON(map[string]string{
				"version":        Version,
				"build":          Build,
				"schema_version": sqlite.SchemaVersion,
			})
		} else {
			fmt.Printf("st version %s (%s)\n", Version, Build)
		}
	},
}

// runCompatCheck compares this binary's schema version against the one
// recorded in the database. A major-version divergence is a hard failure;
// anything else is at most a warning.
func runCompatCheck() {
	path := dbPath
	if path == "" {
		path = stitch.FindDatabasePath()
	}
	if path == "" {
		fmt.Fprintf(os.Stderr, "Error: no stitch database found\n")
		fmt.Fprintf(os.Stderr, "Hint: run 'st init' to create a database in the current directory\n")
		os.Exit(1)
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(os.Stderr, "Error: database %s does not exist\n", path)
		os.Exit(1)
	}

	s, err := sqlite.New(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	dbSchema, err := s.GetMetadata(ctx, "schema_version")
	if err != nil || dbSchema == "" {
		fmt.Fprintf(os.Stderr, "Error: database has no recorded schema version\n")
		os.Exit(1)
	}
	dbVersion, _ := s.GetMetadata(ctx, "st_version")

	compatible := schemaCompatible(sqlite.SchemaVersion, dbSchema)

	if jsonOutput {
		outputJSON(map[string]interface{}{
			"version":           Version,
			"schema_version":    sqlite.SchemaVersion,
			"db_schema_version": dbSchema,
			"db_st_version":     dbVersion,
			"compatible":        compatible,
		})
	} else {
		fmt.Printf("st version %s (%s)\n", Version, Build)
		fmt.Printf("Binary schema:   %s\n", sqlite.SchemaVersion)
		fmt.Printf("Database schema: %s\n", dbSchema)
		if dbVersion != "" {
			fmt.Printf("Last written by: st %s\n", dbVersion)
		}
		if compatible {
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s Compatible\n", green("✓"))
		} else {
			red := color.New(color.FgRed).SprintFunc()
			fmt.Printf("%s Incompatible: major schema versions differ\n", red("✗"))
		}
	}

	if !compatible {
		os.Exit(1)
	}
}

// schemaCompatible reports whether a binary carrying schema version bin can
// operate on a database stamped with schema version db. Only a major-version
// divergence counts as incompatible.
func schemaCompatible(bin, db string) bool {
	return semver.Major("v"+bin) == semver.Major("v"+db)
}

func init() {
	versionCmd.Flags().Bool("check-compat", false, "Check schema compatibility against the database")
	rootCmd.AddCommand(versionCmd)
}
