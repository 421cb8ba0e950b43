// Package lockfile enforces single-writer access for live maintenance runs.
//
// Live deduplication and inheritance runs mutate the store in per-phase
// transactions; two concurrent live runs against the same database are not
// supported. Acquire takes a non-blocking flock on <dir>/run.lock and
// records holder metadata so a contended lock can name its owner.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LockFileName is the lock file created under the data directory.
const LockFileName = "run.lock"

// ErrLocked is returned when another live run already holds the lock.
var ErrLocked = errors.New("another live run holds the lock")

// Info is the holder metadata written into the lock file so operators can
// see who owns a contended lock.
type Info struct {
	Holder    string    `json:"holder"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
}

// RunLock is a held single-writer lock. Release when the run finishes.
type RunLock struct {
	path string
	file *os.File
}

// Acquire takes the exclusive run lock under dir. It fails fast with an
// error wrapping ErrLocked when another process holds it; it never blocks.
func Acquire(dir, holder string) (*RunLock, error) {
	path := filepath.Join(dir, LockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := flockExclusive(f); err != nil {
		prev := readInfo(f)
		_ = f.Close()
		if errors.Is(err, errLockHeld) {
			return nil, describeHolder(prev)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	info := Info{
		Holder:    holder,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
	}
	if err := writeInfo(f, info); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to record lock holder: %w", err)
	}

	return &RunLock{path: path, file: f}, nil
}

// Release drops the lock and removes the lock file. Safe to call once.
func (l *RunLock) Release() error {
	if l.file == nil {
		return nil
	}
	// Closing the descriptor releases the flock.
	err := l.file.Close()
	l.file = nil
	_ = os.Remove(l.path)
	return err
}

// describeHolder builds the contention error, noting whether the recorded
// holder process is still running on this host.
func describeHolder(prev *Info) error {
	if prev == nil {
		return ErrLocked
	}
	state := "possibly stale"
	hostname, err := os.Hostname()
	if err == nil && prev.Hostname == hostname {
		if processAlive(prev.PID) {
			state = "running"
		} else {
			state = "not running"
		}
	}
	return fmt.Errorf("%w: held by %s (pid %d on %s, %s) since %s",
		ErrLocked, prev.Holder, prev.PID, prev.Hostname, state,
		prev.StartedAt.Format(time.RFC3339))
}

func readInfo(f *os.File) *Info {
	if _, err := f.Seek(0, 0); err != nil {
		return nil
	}
	var info Info
	if err := json.NewDecoder(f).Decode(&info); err != nil {
		return nil
	}
	if info.Holder == "" || info.PID <= 0 {
		return nil
	}
	return &info
}

func writeInfo(f *os.File, info Info) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&info); err != nil {
		return err
	}
	return f.Sync()
}
