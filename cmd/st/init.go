package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stitchtrace/stitch"
	"github.com/stitchtrace/stitch/internal/storage/sqlite"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize st in the current directory",
	Long: `Initialize st in the current directory by creating a .stitch/ directory
and database file. The database carries the full traceability schema and
a freshly minted database id.`,
	Run: func(cmd *cobra.Command, _ []string) {
		quiet, _ := cmd.Flags().GetBool("quiet")

		// Check ST_DB environment variable if --db flag not set
		// (PersistentPreRun returns early for init)
		if dbPath == "" {
			if envDB := os.Getenv("ST_DB"); envDB != "" {
				dbPath = envDB
			}
		}

		initDBPath := dbPath
		if initDBPath == "" {
			initDBPath = filepath.Join(".stitch", stitch.CanonicalDatabaseName)
		}
		initDBDir := filepath.Dir(initDBPath)

		if err := os.MkdirAll(initDBDir, 0750); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create database directory %s: %v\n", initDBDir, err)
			os.Exit(1)
		}

		// Keep generated runtime files out of version control
		if filepath.Base(initDBDir) == ".stitch" {
			writeGitignore(initDBDir)
			writeStarterConfig(initDBDir)
		}

		store, err := sqlite.New(initDBPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create database: %v\n", err)
			os.Exit(1)
		}

		ctx := context.Background()
		if err := store.SetMetadata(ctx, "st_version", Version); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to store version metadata: %v\n", err)
		}
		databaseID, _ := store.GetMetadata(ctx, "database_id")
		schemaVersion, _ := store.GetMetadata(ctx, "schema_version")

		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to close database: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(map[string]string{
				"db_path":        initDBPath,
				"database_id":    databaseID,
				"schema_version": schemaVersion,
			})
			return
		}

		if !quiet {
			green := color.New(color.FgGreen).SprintFunc()
			cyan := color.New(color.FgCyan).SprintFunc()
			fmt.Printf("\n%s st initialized successfully!\n\n", green("✓"))
			fmt.Printf("  Database: %s\n", cyan(initDBPath))
			if len(databaseID) >= 8 {
				fmt.Printf("  Database ID: %s\n", cyan(databaseID[:8]))
			}
			fmt.Printf("  Schema: %s\n\n", cyan(schemaVersion))
			fmt.Printf("Run %s to load records, or %s for an overview.\n\n",
				cyan("st import <file.jsonl>"), cyan("st stats"))
		}
	},
}

func writeGitignore(dir string) {
	gitignorePath := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(gitignorePath); err == nil {
		return
	}
	gitignoreContent := `# SQLite databases
*.db
*.db-journal
*.db-wal
*.db-shm

# Run artifacts
run.lock
runs.log*

# Keep config (version-control-friendly)
!config.yaml
`
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to create .gitignore: %v\n", err)
	}
}

func writeStarterConfig(dir string) {
	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return
	}
	configContent := `# st configuration. Flags take precedence, then ST_* environment
# variables, then this file.
#
# json: false
# actor: ""
# lock-timeout: 10s
# run-log: ""
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to create config.yaml: %v\n", err)
	}
}

func init() {
	initCmd.Flags().BoolP("quiet", "q", false, "Suppress output")
	rootCmd.AddCommand(initCmd)
}
