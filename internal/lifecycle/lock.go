// Package lifecycle owns the daemon's single-instance lock file and signal
// driven shutdown, the process-wide analogue of the teacher's per-plan lock.
package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const lockFileName = ".taskd.lock"

// Lock manages the process-wide pid lock file at dataDir/.taskd.lock.
type Lock struct {
	path string
}

// NewLock creates a lock manager rooted at dataDir.
func NewLock(dataDir string) *Lock {
	return &Lock{path: filepath.Join(dataDir, lockFileName)}
}

// Acquire refuses to start if the lock file names a live pid; otherwise it
// creates (or overwrites a stale) lock file with this process's pid.
func (l *Lock) Acquire() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err == nil {
		return l.writePid(f)
	}
	if !os.IsExist(err) {
		return fmt.Errorf("create lock file: %w", err)
	}

	pid, readErr := l.readPid()
	if readErr != nil {
		return fmt.Errorf("read existing lock file: %w", readErr)
	}
	if pid > 0 && processExists(pid) {
		return fmt.Errorf("taskd is already running (pid %d)", pid)
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale lock file: %w", err)
	}
	f, err = os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("lock acquired by another process during startup")
		}
		return fmt.Errorf("create lock file after stale removal: %w", err)
	}
	return l.writePid(f)
}

func (l *Lock) writePid(f *os.File) error {
	_, err := fmt.Fprintf(f, "%d", os.Getpid())
	f.Close()
	if err != nil {
		os.Remove(l.path)
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}

// Release removes the lock file. Idempotent.
func (l *Lock) Release() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// Status reports the pid recorded in the lock file (0 if absent) and
// whether that pid currently names a live process. Used by the
// lock-status CLI command.
func (l *Lock) Status() (pid int, live bool, err error) {
	pid, err = l.readPid()
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if pid <= 0 {
		return 0, false, nil
	}
	return pid, processExists(pid), nil
}

func (l *Lock) readPid() (int, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, err
	}
	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, nil
	}
	return pid, nil
}

func processExists(pid int) bool {
	if pid == os.Getpid() {
		return true
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
