package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stitchtrace/stitch/internal/config"
	"github.com/stitchtrace/stitch/internal/lockfile"
	"github.com/stitchtrace/stitch/internal/runlog"
)

// acquireRunLock takes the single-writer lock for a live maintenance run,
// retrying until the configured lock-timeout elapses. On contention past
// the deadline it prints the holder and exits.
func acquireRunLock(holder string) *lockfile.RunLock {
	dir := filepath.Dir(dbPath)
	timeout := config.GetDuration("lock-timeout")
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)

	for {
		lock, err := lockfile.Acquire(dir, holder)
		if err == nil {
			return lock
		}
		if !errors.Is(err, lockfile.ErrLocked) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if time.Now().After(deadline) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintf(os.Stderr, "Hint: wait for the other run to finish, or remove a stale %s\n",
				filepath.Join(dir, lockfile.LockFileName))
			os.Exit(1)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// newRunLogger opens the rotating run log. The config key run-log names
// an explicit file; by default the log lives next to the database.
func newRunLogger() *runlog.Logger {
	if path := config.GetString("run-log"); path != "" {
		return runlog.Open(path)
	}
	return runlog.OpenInDir(filepath.Dir(dbPath))
}
