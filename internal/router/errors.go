package router

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrStateConsumed is returned when a lifecycle state is used after it
	// has already transitioned.
	ErrStateConsumed = errors.New("router lifecycle state already consumed")
	// ErrHealthCheckFailed means the router did not report healthy in time.
	ErrHealthCheckFailed = errors.New("router health check failed")
	// ErrInstallFailed means no router binary could be located or fetched.
	ErrInstallFailed = errors.New("router install failed")
	// ErrProcessExited means the router exited while it was being watched.
	ErrProcessExited = errors.New("router process exited")
)

// Stage names a lifecycle state.
type Stage string

const (
	StageInstall          Stage = "install"
	StageLoadLocalConfig  Stage = "load_local_config"
	StageLoadRemoteConfig Stage = "load_remote_config"
	StageRun              Stage = "run"
	StageWatch            Stage = "watch"
	StageAbort            Stage = "abort"
)

// LifecycleError is a failure attributed to a lifecycle stage.
type LifecycleError struct {
	Stage Stage
	Err   error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("router %s: %v", e.Stage, e.Err)
}

func (e *LifecycleError) Unwrap() error { return e.Err }

// linear marks a state value as single-use.
type linear struct {
	used atomic.Bool
}

func (l *linear) consume() error {
	if l.used.Swap(true) {
		return ErrStateConsumed
	}
	return nil
}
