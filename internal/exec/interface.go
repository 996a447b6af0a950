// Package exec provides an interface for command execution.
package exec

import (
	"context"
)

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command and returns its stdout. On a non-zero exit the
	// error is a *RunError carrying stderr.
	// The working directory is set to workDir if non-empty.
	Run(ctx context.Context, workDir string, name string, args ...string) (stdout []byte, err error)

	// LookPath resolves name against $PATH.
	LookPath(name string) (string, error)
}
