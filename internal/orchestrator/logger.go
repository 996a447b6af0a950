package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// maxDebugLogSize is the size above which an existing debug log is rotated
// to <path>.1 when a new logger opens it.
const maxDebugLogSize = 10 << 20

// DebugLogger appends a plain-text trace of session decisions to a file in
// the session working directory. Each line carries a topic such as
// "router" or "follower" so the trace can be grepped.
type DebugLogger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewDebugLogger creates a logger writing to the specified path.
// If the path is empty, returns a no-op logger.
func NewDebugLogger(logPath string) (*DebugLogger, error) {
	if logPath == "" {
		return &DebugLogger{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if info, err := os.Stat(logPath); err == nil && info.Size() > maxDebugLogSize {
		if err := os.Rename(logPath, logPath+".1"); err != nil {
			return nil, fmt.Errorf("rotate log file: %w", err)
		}
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logger := &DebugLogger{file: f, path: logPath}
	logger.Trace("log", "=== Session Debug Log Started at %s ===", time.Now().Format(time.RFC3339))
	return logger, nil
}

// NewDebugLoggerForWorkdir creates a debug logger at
// <workdir>/logs/orchestrator-debug.log, or a no-op logger when the file
// cannot be opened.
func NewDebugLoggerForWorkdir(workdir string) *DebugLogger {
	logger, err := NewDebugLogger(filepath.Join(workdir, "logs", "orchestrator-debug.log"))
	if err != nil {
		return &DebugLogger{}
	}
	return logger
}

// NopLogger returns a logger that discards everything.
func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

// Path is the file being written, or "" for a no-op logger.
func (l *DebugLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Trace writes one timestamped line under topic. Nil and no-op loggers
// ignore it.
func (l *DebugLogger) Trace(topic, format string, args ...any) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}

	fmt.Fprintf(l.file, "[%s] %-8s %s\n", time.Now().Format("15:04:05.000"), topic, fmt.Sprintf(format, args...))
}

// Close closes the log file. Later Trace calls are dropped.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
