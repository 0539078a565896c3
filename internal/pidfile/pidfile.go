// Package pidfile implements the daemon's single-instance guard: on
// startup, read any existing PID file, signal-probe the PID it names, and
// if that process is still alive, kill it and wait before writing the
// current process's PID over it. Grounded directly on
// original_source/project/src/utils/pid_file.rs, ported from its
// libc::kill probe/kill calls to syscall.Kill.
package pidfile

import (
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"synnergychain/pkg/utils"
)

// killWaitTimeout bounds how long Acquire waits for a stale process to
// exit after sending SIGKILL before giving up and overwriting the file
// anyway.
const killWaitTimeout = 2 * time.Second

// Acquire takes ownership of the PID file at path: if it names a process
// that is still running, that process is killed and waited for, then the
// file is rewritten with the current process's PID.
func Acquire(path string) error {
	if raw, err := os.ReadFile(path); err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(raw))); perr == nil && pid > 0 {
			if alive(pid) {
				_ = syscall.Kill(pid, syscall.SIGKILL)
				waitForExit(pid, killWaitTimeout)
			}
		}
	} else if !os.IsNotExist(err) {
		return utils.Wrap(err, "pidfile: read "+path)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return utils.Wrap(err, "pidfile: write "+path)
	}
	return nil
}

// Release removes the PID file. Called on clean shutdown.
func Release(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return utils.Wrap(err, "pidfile: remove "+path)
	}
	return nil
}

// alive reports whether pid names a running process, using signal 0 which
// performs error checking without actually delivering a signal.
func alive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func waitForExit(pid int, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !alive(pid) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
