// Command st maintains a traceability graph database: capabilities,
// epics, user stories, tests, and defects, plus the epic dependency
// edges between them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stitchtrace/stitch"
	"github.com/stitchtrace/stitch/internal/config"
	"github.com/stitchtrace/stitch/internal/debug"
	"github.com/stitchtrace/stitch/internal/storage"
	"github.com/stitchtrace/stitch/internal/storage/sqlite"
	"golang.org/x/mod/semver"
)

var (
	dbPath     string
	actor      string
	store      storage.Storage
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "st",
	Short: "st - Traceability graph engine",
	Long: `Stitch maintains the traceability graph between capabilities, epics,
user stories, tests, and defects. It repairs missing component tags by
inheritance, collapses duplicate test records, and analyzes the epic
dependency graph for cycles and the critical path.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Apply viper configuration if flags weren't explicitly set
		// Priority: flags > viper (config file + env vars) > defaults
		if !cmd.Flags().Changed("json") {
			jsonOutput = config.GetBool("json")
		}
		if !cmd.Flags().Changed("db") && dbPath == "" {
			dbPath = config.GetString("db")
		}
		if !cmd.Flags().Changed("actor") && actor == "" {
			actor = config.GetString("actor")
		}

		// Skip database initialization for commands that don't need one
		switch cmd.Name() {
		case "init", "help", "version", "completion", "scan":
			return
		}

		if dbPath == "" {
			if foundDB := stitch.FindDatabasePath(); foundDB != "" {
				dbPath = foundDB
			} else {
				fmt.Fprintf(os.Stderr, "Error: no stitch database found\n")
				fmt.Fprintf(os.Stderr, "Hint: run 'st init' to create a database in the current directory\n")
				fmt.Fprintf(os.Stderr, "      or set ST_DB environment variable to specify a database\n")
				os.Exit(1)
			}
		}

		// Set actor from flag, viper (config + ST_ACTOR env), USER env, or default
		if actor == "" {
			if user := os.Getenv("USER"); user != "" {
				actor = user
			} else {
				actor = "unknown"
			}
		}

		var err error
		store, err = sqlite.New(dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
			os.Exit(1)
		}

		// Warn if the binary and database versions have drifted apart
		checkVersionMismatch()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
		}
	},
}

func outputJSON(v interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

// checkVersionMismatch compares the binary version against the version
// that last wrote to the database and warns when they differ.
func checkVersionMismatch() {
	ctx := context.Background()

	dbVersion, err := store.GetMetadata(ctx, "st_version")
	if err != nil {
		debug.Logf("version check skipped, metadata error: %v\n", err)
		return
	}

	// If no version stored, this database predates the check - stamp and move on
	if dbVersion == "" {
		_ = store.SetMetadata(ctx, "st_version", Version)
		return
	}

	if dbVersion != Version {
		yellow := color.New(color.FgYellow, color.Bold).SprintFunc()
		fmt.Fprintf(os.Stderr, "%s\n", yellow(fmt.Sprintf("Warning: st binary (v%s) differs from the database version (v%s)", Version, dbVersion)))

		// semver.Compare requires the v prefix
		if semver.Compare("v"+Version, "v"+dbVersion) < 0 {
			fmt.Fprintf(os.Stderr, "%s\n", yellow("Warning: your binary appears OUTDATED; rebuild: go build -o st ./cmd/st"))
		}
	}

	// Track the last-used version; idempotent when nothing changed
	_ = store.SetMetadata(ctx, "st_version", Version)
}

func init() {
	// Initialize viper configuration
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: auto-discover .stitch/*.db or ~/.stitch/default.db)")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "", "Actor name for audit trail (default: $ST_ACTOR or $USER)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
}

func main() {
	// Handle --version flag (in addition to 'version' subcommand)
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-v" {
			fmt.Printf("st version %s (%s)\n", Version, Build)
			return
		}
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
