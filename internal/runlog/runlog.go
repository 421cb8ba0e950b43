// Package runlog appends mutation-run records to a rotating log file
// under the data directory. Every live inherit, dedup, or import run gets
// a unique run ID so log lines from concurrent-looking output can be tied
// back to the run that produced them.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultFileName is the log file created under the data directory.
const DefaultFileName = "runs.log"

// Logger writes timestamped run records. Safe to use after Close; writes
// become no-ops.
type Logger struct {
	runID  string
	out    *lumberjack.Logger
	closed bool
}

// Open creates a rotating run log at path. An empty path disables logging;
// the returned Logger swallows writes.
func Open(path string) *Logger {
	if path == "" {
		return &Logger{runID: uuid.New().String()}
	}

	maxSizeMB := getEnvInt("STITCH_RUN_LOG_MAX_SIZE", 10)
	maxBackups := getEnvInt("STITCH_RUN_LOG_MAX_BACKUPS", 3)
	maxAgeDays := getEnvInt("STITCH_RUN_LOG_MAX_AGE", 30)
	compress := getEnvBool("STITCH_RUN_LOG_COMPRESS", true)

	return &Logger{
		runID: uuid.New().String(),
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   compress,
		},
	}
}

// OpenInDir opens the default run log inside a data directory.
func OpenInDir(dir string) *Logger {
	return Open(filepath.Join(dir, DefaultFileName))
}

// RunID returns the unique id minted for this run.
func (l *Logger) RunID() string {
	return l.runID
}

// Printf appends one formatted record, tagged with the run ID.
func (l *Logger) Printf(format string, args ...interface{}) {
	if l.out == nil || l.closed {
		return
	}
	msg := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	_, _ = fmt.Fprintf(l.out, "[%s] [run %s] %s\n", timestamp, l.runID, msg)
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	if l.out == nil || l.closed {
		return nil
	}
	l.closed = true
	return l.out.Close()
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultValue
}
