// Package router drives the router child process through its lifecycle:
// Install, LoadLocalConfig, LoadRemoteConfig, Run, Watch and Abort. Each
// state is a distinct type whose transition method consumes it, so a state
// value cannot be reused once the lifecycle has moved on.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ShayCichocki/graphdev/internal/hotreload"
	"github.com/ShayCichocki/graphdev/internal/registry"
)

// Settings configure one router session.
type Settings struct {
	// Listen overrides supergraph.listen in every config written.
	Listen string
	// ConfigPath is an optional static router config to load and watch.
	ConfigPath string
	// WorkDir holds the hot-reload files.
	WorkDir string
	// GraphRef selects the remote identity to tag the router with.
	GraphRef       string
	HealthTimeout  time.Duration
	HealthInterval time.Duration
}

// BinaryLocator resolves the router binary.
type BinaryLocator interface {
	Install(ctx context.Context) (string, error)
}

var _ BinaryLocator = (*Installer)(nil)

type env struct {
	settings Settings
	locator  BinaryLocator
	spawner  Spawner
	registry registry.Client
	logger   *slog.Logger
	onLine   func(Line)
	onStage  func(Stage)
	onReport func(hotreload.Report)
	onHealth func(error)
}

// Option configures the lifecycle.
type Option func(*env)

// WithSpawner replaces the process spawner.
func WithSpawner(s Spawner) Option { return func(e *env) { e.spawner = s } }

// WithRegistry sets the registry used by LoadRemoteConfig.
func WithRegistry(c registry.Client) Option { return func(e *env) { e.registry = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *env) { e.logger = l } }

// WithLineHandler receives every router output line.
func WithLineHandler(fn func(Line)) Option { return func(e *env) { e.onLine = fn } }

// WithStageHook is called when a state starts its work.
func WithStageHook(fn func(Stage)) Option { return func(e *env) { e.onStage = fn } }

// WithReportHook receives hot-reload write reports.
func WithReportHook(fn func(hotreload.Report)) Option { return func(e *env) { e.onReport = fn } }

// WithHealthHook receives every failed health check while watching.
func WithHealthHook(fn func(error)) Option { return func(e *env) { e.onHealth = fn } }

// New returns the initial lifecycle state.
func New(settings Settings, locator BinaryLocator, opts ...Option) *InstallState {
	e := &env{
		settings: settings,
		locator:  locator,
		spawner:  ExecSpawner{},
		logger:   slog.Default(),
		onLine:   func(Line) {},
		onStage:  func(Stage) {},
		onReport: func(hotreload.Report) {},
		onHealth: func(error) {},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "router")
	return &InstallState{env: e}
}

func (e *env) enter(stage Stage) {
	e.logger.Debug("entering stage", "stage", string(stage))
	e.onStage(stage)
}

// InstallState resolves the router binary.
type InstallState struct {
	linear
	env *env
}

// Install locates or downloads the router. Failure is fatal to the session.
func (s *InstallState) Install(ctx context.Context) (*LocalConfigState, error) {
	if err := s.consume(); err != nil {
		return nil, err
	}
	s.env.enter(StageInstall)
	bin, err := s.env.locator.Install(ctx)
	if err != nil {
		return nil, &LifecycleError{Stage: StageInstall, Err: err}
	}
	s.env.logger.Info("router binary ready", "path", bin)
	return &LocalConfigState{env: s.env, binary: bin}, nil
}

// LocalConfigState holds the binary and loads the static config.
type LocalConfigState struct {
	linear
	env    *env
	binary string
}

// LoadLocalConfig reads the optional static config and applies the listen
// override.
func (s *LocalConfigState) LoadLocalConfig() (*RemoteConfigState, error) {
	if err := s.consume(); err != nil {
		return nil, err
	}
	s.env.enter(StageLoadLocalConfig)

	fail := func(err error) (*RemoteConfigState, error) {
		return nil, &LifecycleError{Stage: StageLoadLocalConfig, Err: err}
	}

	var doc string
	if path := s.env.settings.ConfigPath; path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fail(&hotreload.ConfigError{Path: path, Err: err})
		}
		doc = string(data)
	}
	merged, err := hotreload.ApplyOverrides(doc, hotreload.Overrides{Listen: s.env.settings.Listen})
	if err != nil {
		return fail(&hotreload.ConfigError{Path: s.env.settings.ConfigPath, Err: err})
	}
	healthURL, err := HealthEndpoint(merged)
	if err != nil {
		return fail(err)
	}
	return &RemoteConfigState{env: s.env, binary: s.binary, config: merged, healthURL: healthURL}, nil
}

// RemoteConfigState optionally fetches the registry identity.
type RemoteConfigState struct {
	linear
	env       *env
	binary    string
	config    string
	healthURL string
}

// LoadRemoteConfig fetches the identity for the configured graph ref. A
// failed fetch is logged and the router runs without remote context.
func (s *RemoteConfigState) LoadRemoteConfig(ctx context.Context) (*RunState, error) {
	if err := s.consume(); err != nil {
		return nil, err
	}
	s.env.enter(StageLoadRemoteConfig)

	next := &RunState{env: s.env, binary: s.binary, config: s.config, healthURL: s.healthURL}
	ref := s.env.settings.GraphRef
	if ref == "" {
		return next, nil
	}
	if s.env.registry == nil {
		s.env.logger.Warn("graph ref set but no registry credentials; running without remote context", "graph_ref", ref)
		return next, nil
	}
	id, err := s.env.registry.FetchIdentity(ctx, ref)
	if err != nil {
		s.env.logger.Warn("could not load remote context; running without it", "graph_ref", ref, "error", err)
		return next, nil
	}
	next.identity = id
	return next, nil
}

// RunState is ready to spawn the router.
type RunState struct {
	linear
	env       *env
	binary    string
	config    string
	healthURL string
	identity  *registry.Identity
}

// Run writes the hot-reload files, spawns the router and waits for it to
// report healthy. On failure the process is killed before returning.
func (s *RunState) Run(ctx context.Context, schema string) (*WatchState, error) {
	if err := s.consume(); err != nil {
		return nil, err
	}
	s.env.enter(StageRun)
	fail := func(err error) (*WatchState, error) {
		return nil, &LifecycleError{Stage: StageRun, Err: err}
	}

	settings := s.env.settings
	if err := os.MkdirAll(settings.WorkDir, 0755); err != nil {
		return fail(fmt.Errorf("create workdir: %w", err))
	}
	writer := hotreload.NewWriter(
		filepath.Join(settings.WorkDir, "router.yaml"),
		filepath.Join(settings.WorkDir, "supergraph.graphql"),
		hotreload.Overrides{Listen: settings.Listen},
		s.env.logger,
	)
	writer.OnReport(s.env.onReport)
	if err := writer.Apply(hotreload.Event{Kind: hotreload.ConfigChanged, Document: s.config}); err != nil {
		return fail(err)
	}
	if err := writer.Apply(hotreload.Event{Kind: hotreload.SchemaChanged, Document: schema}); err != nil {
		return fail(err)
	}

	proc, err := s.env.spawner.Spawn(s.binary, nil, routerEnv(writer, s.identity))
	if err != nil {
		return fail(err)
	}
	s.env.logger.Info("router started", "pid", proc.PID(), "health", s.healthURL)

	h := &handle{
		env:      s.env,
		proc:     proc,
		writer:   writer,
		health:   NewHealthChecker(s.healthURL, settings.HealthInterval, settings.HealthTimeout),
		aborting: make(chan struct{}),
	}
	h.logs = startTask(h.streamLogs)

	if err := waitHealthy(ctx, h.health, proc); err != nil {
		h.teardown()
		return fail(err)
	}
	s.env.logger.Info("router healthy", "url", s.healthURL)
	return &WatchState{env: s.env, handle: h}, nil
}

// waitHealthy waits for health but gives up as soon as proc exits.
func waitHealthy(ctx context.Context, health *HealthChecker, proc Process) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-proc.Exited():
			cancel()
		case <-ctx.Done():
		}
	}()

	err := health.WaitHealthy(ctx)
	if err == nil {
		return nil
	}
	select {
	case <-proc.Exited():
		return fmt.Errorf("%w: %v", ErrProcessExited, proc.Wait())
	default:
		return err
	}
}

func routerEnv(w *hotreload.Writer, id *registry.Identity) []string {
	vars := []string{
		"APOLLO_ROUTER_SUPERGRAPH_PATH=" + w.SchemaPath(),
		"APOLLO_ROUTER_CONFIG_PATH=" + w.ConfigPath(),
		"APOLLO_ROUTER_HOT_RELOAD=true",
		"APOLLO_ROUTER_DEV=true",
	}
	if id != nil {
		vars = append(vars, "APOLLO_GRAPH_REF="+id.GraphRef)
		if id.APIKey != "" {
			vars = append(vars, "APOLLO_KEY="+id.APIKey)
		}
	}
	return vars
}

// WatchState owns a healthy router process.
type WatchState struct {
	linear
	env    *env
	handle *handle
}

// PID returns the router process id.
func (s *WatchState) PID() int { return s.handle.proc.PID() }

// ConfigPath returns the hot-reload config file path.
func (s *WatchState) ConfigPath() string { return s.handle.writer.ConfigPath() }

// SchemaPath returns the hot-reload schema file path.
func (s *WatchState) SchemaPath() string { return s.handle.writer.SchemaPath() }

// HealthURL returns the polled health endpoint.
func (s *WatchState) HealthURL() string { return s.handle.health.URL }

// Watch runs the background tasks until ctx is done or the router fails,
// then aborts. Each value received on schemas is written as the new
// supergraph. A nil error means the session ended normally.
func (s *WatchState) Watch(ctx context.Context, schemas <-chan string) (*AbortState, error) {
	if err := s.consume(); err != nil {
		return nil, err
	}
	s.env.enter(StageWatch)
	h := s.handle

	failed := make(chan error, 1)
	fail := func(err error) {
		select {
		case failed <- err:
		default:
		}
	}
	events := make(chan hotreload.Event, 16)
	recheck := make(chan struct{}, 1)
	h.writer.OnReport(func(r hotreload.Report) {
		s.env.onReport(r)
		if r.Err == nil {
			select {
			case recheck <- struct{}{}:
			default:
			}
		}
	})

	h.mu.Lock()
	if !h.aborted {
		if path := s.env.settings.ConfigPath; path != "" {
			h.configWatch = startTask(func(ctx context.Context) { h.watchConfig(ctx, path, events) })
		}
		h.healthLoop = startTask(func(ctx context.Context) { h.pollHealth(ctx, recheck, fail) })
		h.schemas = startTask(func(ctx context.Context) { forwardSchemas(ctx, schemas, events) })
		h.reload = startTask(func(ctx context.Context) { _ = h.writer.Run(ctx, events) })
		h.exit = startTask(func(ctx context.Context) {
			select {
			case <-ctx.Done():
			case <-h.proc.Exited():
				fail(fmt.Errorf("%w: %v", ErrProcessExited, h.proc.Wait()))
			}
		})
	}
	h.mu.Unlock()

	var cause error
	select {
	case <-ctx.Done():
	case err := <-failed:
		cause = &LifecycleError{Stage: StageWatch, Err: err}
		s.env.logger.Error("router failed", "error", err)
	case <-h.aborting:
	}
	return s.Abort(), cause
}

// Abort tears the router down. It may be called instead of, or after,
// Watch and is idempotent.
func (s *WatchState) Abort() *AbortState {
	s.handle.teardown()
	return &AbortState{handle: s.handle}
}

// AbortState is terminal.
type AbortState struct {
	handle *handle
}

// Abort is a no-op once the router has been torn down.
func (s *AbortState) Abort() { s.handle.teardown() }

func forwardSchemas(ctx context.Context, schemas <-chan string, events chan<- hotreload.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case sdl, ok := <-schemas:
			if !ok {
				return
			}
			select {
			case events <- hotreload.Event{Kind: hotreload.SchemaChanged, Document: sdl}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// task is a cancellable background goroutine.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startTask(fn func(ctx context.Context)) *task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		fn(ctx)
	}()
	return t
}

func (t *task) stop() {
	if t == nil {
		return
	}
	t.cancel()
	<-t.done
}

// handle owns the router process and its background tasks.
type handle struct {
	env    *env
	proc   Process
	writer *hotreload.Writer
	health *HealthChecker

	mu          sync.Mutex
	aborted     bool
	aborting    chan struct{}
	once        sync.Once
	logs        *task
	configWatch *task
	healthLoop  *task
	schemas     *task
	reload      *task
	exit        *task
}

// teardown stops log streaming, config watching and health polling, in
// that order, then the reload writer, and finally kills the process.
func (h *handle) teardown() {
	h.once.Do(func() {
		h.mu.Lock()
		h.aborted = true
		close(h.aborting)
		h.mu.Unlock()

		h.env.enter(StageAbort)
		h.logs.stop()
		h.configWatch.stop()
		h.healthLoop.stop()
		h.schemas.stop()
		h.reload.stop()
		h.exit.stop()

		if err := h.proc.Kill(); err != nil {
			h.env.logger.Warn("kill router", "error", err)
		}
		_ = h.proc.Wait()
		h.env.logger.Info("router stopped", "pid", h.proc.PID())
	})
}

func (h *handle) streamLogs(ctx context.Context) {
	lines := h.proc.Lines()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			h.env.onLine(line)
		}
	}
}

// pollHealth fails once the endpoint has been failing for longer than the
// health timeout.
func (h *handle) pollHealth(ctx context.Context, recheck <-chan struct{}, fail func(error)) {
	ticker := time.NewTicker(h.health.Interval)
	defer ticker.Stop()

	var failingSince time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-recheck:
		}
		err := h.health.Check(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			failingSince = time.Time{}
			continue
		}
		h.env.onHealth(err)
		if failingSince.IsZero() {
			failingSince = time.Now()
		}
		if time.Since(failingSince) >= h.health.Timeout {
			fail(fmt.Errorf("%w: %s failing for %s: %v", ErrHealthCheckFailed, h.health.URL, h.health.Timeout, err))
			return
		}
	}
}
