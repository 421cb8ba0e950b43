//go:build js && wasm

package lockfile

// processAlive always reports false; wasm has no process table to ask.
func processAlive(pid int) bool {
	return false
}
