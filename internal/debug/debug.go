// Package debug gates diagnostic trace output behind the STITCH_DEBUG
// environment variable. The flag is read once at startup.
package debug

import (
	"fmt"
	"os"
)

var enabled = os.Getenv("STITCH_DEBUG") != ""

// Enabled reports whether tracing was requested.
func Enabled() bool { return enabled }

// Logf writes a trace line to stderr, where it cannot mix with command
// output being piped.
func Logf(format string, args ...interface{}) {
	if !enabled {
		return
	}
	fmt.Fprintf(os.Stderr, format, args...)
}

// Printf writes trace output to stdout for the few spots where it
// should interleave with regular command output.
func Printf(format string, args ...interface{}) {
	if !enabled {
		return
	}
	fmt.Printf(format, args...)
}
