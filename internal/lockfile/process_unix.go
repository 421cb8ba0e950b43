//go:build unix

package lockfile

import "syscall"

// processAlive reports whether pid exists, probed with the null signal.
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
