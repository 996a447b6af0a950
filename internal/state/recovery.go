package state

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"
)

// RecoveryManager finds and cleans up sessions whose process died without
// marking them finished.
type RecoveryManager struct {
	db     *DB
	alive  func(pid int) bool
	logger *slog.Logger
}

// NewRecoveryManager creates a RecoveryManager with the given database.
func NewRecoveryManager(db *DB, logger *slog.Logger) *RecoveryManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryManager{db: db, alive: isProcessAlive, logger: logger.With("component", "recovery")}
}

// FindStale returns active sessions whose leader process is gone.
func (rm *RecoveryManager) FindStale() ([]Session, error) {
	status := SessionActive
	sessions, err := rm.db.ListSessions(&status)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var stale []Session
	for _, s := range sessions {
		if !rm.alive(s.PID) {
			stale = append(stale, s)
		}
	}
	return stale, nil
}

// Clean kills an orphaned router, removes the session's socket file and
// working directory, and marks it failed. Missing files are not errors.
func (rm *RecoveryManager) Clean(s Session) error {
	if s.RouterPID > 0 && rm.alive(s.RouterPID) {
		if p, err := os.FindProcess(s.RouterPID); err == nil {
			if err := p.Kill(); err != nil {
				rm.logger.Warn("kill orphaned router", "pid", s.RouterPID, "error", err)
			}
		}
	}

	if sock := socketPath(s.IPCAddress); sock != "" {
		if err := os.Remove(sock); err != nil && !os.IsNotExist(err) {
			rm.logger.Warn("remove stale socket", "path", sock, "error", err)
		}
	}
	if s.Workdir != "" {
		if err := os.RemoveAll(s.Workdir); err != nil {
			return fmt.Errorf("remove workdir %s: %w", s.Workdir, err)
		}
	}
	if err := rm.db.EndSession(s.ID, SessionFailed); err != nil {
		return err
	}
	rm.logger.Info("cleaned stale session", "session", s.ID)
	return nil
}

func socketPath(address string) string {
	if rest, ok := strings.CutPrefix(address, "unix:"); ok {
		return rest
	}
	if strings.ContainsRune(address, '/') {
		return address
	}
	return ""
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Send signal 0 to check if process exists
	return process.Signal(syscall.Signal(0)) == nil
}
