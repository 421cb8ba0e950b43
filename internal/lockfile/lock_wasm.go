//go:build js && wasm

package lockfile

import (
	"errors"
	"os"
)

var errLockHeld = errors.New("run lock already held by another process")

// No file locking under wasm; live runs are refused rather than run
// unguarded.
func flockExclusive(f *os.File) error {
	return errors.New("file locking not supported on this platform")
}
