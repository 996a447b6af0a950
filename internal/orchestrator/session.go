package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/graphdev/internal/compose"
	"github.com/ShayCichocki/graphdev/internal/hotreload"
	"github.com/ShayCichocki/graphdev/internal/ipc"
	"github.com/ShayCichocki/graphdev/internal/manifest"
	"github.com/ShayCichocki/graphdev/internal/metrics"
	"github.com/ShayCichocki/graphdev/internal/router"
	"github.com/ShayCichocki/graphdev/internal/state"
	"github.com/ShayCichocki/graphdev/internal/subgraph"
	"github.com/ShayCichocki/graphdev/internal/watchset"
	"github.com/ShayCichocki/graphdev/pkg/models"
)

var (
	// ErrNoSubgraphs is returned by New when the manifest declares nothing
	// and the session accepts no followers.
	ErrNoSubgraphs = errors.New("no subgraphs declared and no follower address configured")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("session already running")
)

// Session is one leader dev session.
type Session struct {
	id      string
	cfg     RequiredConfig
	opts    sessionOptions
	logger  *slog.Logger
	debug   *DebugLogger
	emitter *EventEmitter
	leader  *ipc.Leader
	coord   *compose.Coordinator

	// msgs is the only way into the coordinator.
	msgs chan compose.Message
	// schemas holds the latest composed supergraph not yet taken by the
	// router.
	schemas chan string

	started   atomic.Bool
	routerPID atomic.Int64

	mu        sync.Mutex
	watchers  *watchset.Set
	subgraphs map[string]models.SubgraphSnapshot
	// manifest holds the declared entries by name. It changes when the
	// manifest file is rewritten.
	manifest map[string]manifest.Entry
}

// New creates a session. When an IPC address is configured the leader
// socket is bound here, so a second leader fails before anything starts.
func New(cfg RequiredConfig, opts ...Option) (*Session, error) {
	if cfg.Manifest == nil {
		return nil, fmt.Errorf("create session: manifest is required")
	}
	if cfg.Composer == nil {
		return nil, fmt.Errorf("create session: %w", compose.ErrNoRunner)
	}
	if cfg.Locator == nil {
		return nil, fmt.Errorf("create session: router locator is required")
	}
	if cfg.Router.WorkDir == "" {
		return nil, fmt.Errorf("create session: working directory is required")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if len(cfg.Manifest.Entries) == 0 && o.ipcAddress == "" {
		return nil, ErrNoSubgraphs
	}

	id := uuid.NewString()
	s := &Session{
		id:        id,
		cfg:       cfg,
		opts:      o,
		logger:    o.logger.With("component", "session", "session", id[:8]),
		debug:     o.debug,
		msgs:      make(chan compose.Message, 64),
		schemas:   make(chan string, 1),
		subgraphs: make(map[string]models.SubgraphSnapshot),
		manifest:  make(map[string]manifest.Entry),
	}
	if s.debug == nil {
		s.debug = NewDebugLoggerForWorkdir(cfg.Router.WorkDir)
	}
	if s.opts.resolver == nil {
		s.opts.resolver = &subgraph.Resolver{Registry: o.registry}
	}
	s.emitter = NewEventEmitter(o.eventBufferSize, s.logger)

	names := cfg.Manifest.Names()
	for _, e := range cfg.Manifest.Entries {
		s.manifest[e.Name] = e
	}

	coord, err := compose.New(timedRunner{cfg.Composer},
		compose.WithRetryBudget(o.retryBudget),
		compose.WithTarget(names),
		compose.WithFederationOverride(o.federation),
		compose.WithManifestVersion(cfg.Manifest.FederationVersion),
		compose.WithNotify(s.onNotice),
		compose.WithLogger(o.logger),
	)
	if err != nil {
		s.debug.Close()
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.coord = coord

	if o.ipcAddress != "" {
		leader, err := ipc.Listen(o.ipcAddress, o.logger)
		if err != nil {
			s.debug.Close()
			return nil, err
		}
		s.leader = leader
	}

	s.debug.Trace("session", "%s created: %d manifest subgraphs, workdir %s", id, len(names), cfg.Router.WorkDir)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Events returns the session event stream. It is closed when Run returns.
func (s *Session) Events() <-chan Event { return s.emitter.Events() }

// Addr returns the leader address, or "" when the session takes no
// followers.
func (s *Session) Addr() string {
	if s.leader == nil {
		return ""
	}
	return s.leader.Addr()
}

// RouterPID returns the router process id once the router is healthy.
func (s *Session) RouterPID() int { return int(s.routerPID.Load()) }

// Watching returns the number of running manifest watchers.
func (s *Session) Watching() int {
	s.mu.Lock()
	ws := s.watchers
	s.mu.Unlock()
	if ws == nil {
		return 0
	}
	return ws.Active()
}

// Subgraphs returns the subgraphs currently in composition, sorted by name.
func (s *Session) Subgraphs() []models.SubgraphSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SubgraphSnapshot, 0, len(s.subgraphs))
	for _, snap := range s.subgraphs {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Name < out[j].Key.Name })
	return out
}

// Close releases the leader socket of a session whose Run was never
// called. Run releases everything itself.
func (s *Session) Close() error {
	if s.started.Load() {
		return nil
	}
	s.emitter.Close()
	s.debug.Close()
	if s.leader != nil {
		return s.leader.Close()
	}
	return nil
}

// Run watches every manifest subgraph, composes on change and keeps the
// router serving the latest good supergraph. It returns nil when ctx is
// cancelled and a *router.LifecycleError when the router fails. Every
// watcher is stopped before Run returns.
func (s *Session) Run(ctx context.Context) (err error) {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.createSessionState()
	defer func() {
		status := state.SessionCompleted
		if err != nil {
			status = state.SessionFailed
		}
		s.endSessionState(status)
		s.emitter.Emit(Event{Type: EventSessionDone, Error: err})
		s.emitter.Close()
		s.debug.Trace("session", "ended: %v", err)
		s.debug.Close()
	}()

	ws := watchset.New(ctx, s.opts.resolver, s.logger)
	s.mu.Lock()
	s.watchers = ws
	s.mu.Unlock()
	for _, e := range s.cfg.Manifest.Entries {
		if err := ws.Add(e.Key(), e.Source); err != nil {
			ws.Close()
			if s.leader != nil {
				s.leader.Close()
			}
			return fmt.Errorf("watch subgraph %s: %w", e.Name, err)
		}
		s.recordSubgraph(e.Name, e.RoutingURL, state.SubgraphLoading, "")
	}

	coordDone := make(chan struct{})
	go func() {
		defer close(coordDone)
		_ = s.coord.Run(ctx, s.msgs)
	}()

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		s.pump(ctx, ws.Events())
	}()

	var serveWG sync.WaitGroup
	if s.leader != nil {
		serveWG.Add(1)
		go func() {
			defer serveWG.Done()
			if err := s.leader.Serve(ctx, s); err != nil {
				s.logger.Warn("follower socket stopped", "error", err)
			}
		}()
	}

	manifestDone := make(chan struct{})
	go func() {
		defer close(manifestDone)
		if s.opts.manifestPath != "" {
			s.watchManifest(ctx, ws)
		}
	}()

	routerDone := make(chan error, 1)
	go func() { routerDone <- s.driveRouter(ctx) }()

	s.emitter.Emit(Event{
		Type:    EventSessionStarted,
		Message: fmt.Sprintf("watching %d subgraphs", len(s.cfg.Manifest.Entries)),
	})
	s.logger.Info("session started", "subgraphs", len(s.cfg.Manifest.Entries), "workdir", s.cfg.Router.WorkDir, "ipc", s.Addr())

	err = <-routerDone
	cancel()
	<-manifestDone
	ws.Close()
	<-pumpDone
	<-coordDone
	serveWG.Wait()
	return err
}

// driveRouter starts the router on the first composed schema and watches it
// until ctx is done or it fails.
func (s *Session) driveRouter(ctx context.Context) error {
	var first string
	select {
	case <-ctx.Done():
		return nil
	case first = <-s.schemas:
	}

	opts := []router.Option{
		router.WithLogger(s.opts.logger),
		router.WithStageHook(s.onStage),
		router.WithReportHook(s.onReport),
		router.WithHealthHook(s.onHealthFailure),
		router.WithLineHandler(s.onRouterLine),
	}
	if s.opts.spawner != nil {
		opts = append(opts, router.WithSpawner(s.opts.spawner))
	}
	if s.opts.registry != nil {
		opts = append(opts, router.WithRegistry(s.opts.registry))
	}

	stopped := func(err error) error {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	local, err := router.New(s.cfg.Router, s.cfg.Locator, opts...).Install(ctx)
	if err != nil {
		return stopped(err)
	}
	remote, err := local.LoadLocalConfig()
	if err != nil {
		return stopped(err)
	}
	run, err := remote.LoadRemoteConfig(ctx)
	if err != nil {
		return stopped(err)
	}
	watch, err := run.Run(ctx, first)
	if err != nil {
		return stopped(err)
	}

	s.routerPID.Store(int64(watch.PID()))
	s.updateRouterPID(watch.PID())
	s.emitter.Emit(Event{Type: EventRouterHealthy, Message: watch.HealthURL(), Path: watch.SchemaPath()})
	s.debug.Trace("router", "healthy: pid %d, config %s", watch.PID(), watch.ConfigPath())

	_, err = watch.Watch(ctx, s.schemas)
	return err
}

// pump turns watcher events into coordinator messages until the watcher
// set is closed.
func (s *Session) pump(ctx context.Context, events <-chan watchset.Event) {
	for ev := range events {
		name := ev.Key.Name
		var m compose.Message
		switch ev.Kind {
		case watchset.EventAdded, watchset.EventUpdated:
			snap := *ev.Snapshot
			op := compose.OpUpdate
			if ev.Kind == watchset.EventAdded {
				op = compose.OpAdd
			}
			m = compose.Message{Op: op, Snapshot: snap}
			s.track(snap)
		case watchset.EventFetchFailed:
			metrics.SubgraphFetchFailuresTotal.WithLabelValues(name).Inc()
			s.recordSubgraph(name, ev.Key.RoutingURL, state.SubgraphStale, ev.Err.Error())
			m = compose.Message{Op: compose.OpFailure, Name: name, Err: ev.Err}
		case watchset.EventRemoved:
			if ctx.Err() != nil {
				continue
			}
			s.untrack(name)
			if !s.declared(name) {
				s.deleteSubgraphState(name)
			}
			m = compose.Message{Op: compose.OpRemove, Name: name}
			s.emitter.Emit(Event{Type: EventSubgraphRemoved, Subgraph: name})
		default:
			continue
		}
		s.send(ctx, m)
	}
}

// track records snap in the session view and announces loads and schema
// changes.
func (s *Session) track(snap models.SubgraphSnapshot) {
	name := snap.Key.Name
	s.mu.Lock()
	prev, existed := s.subgraphs[name]
	s.subgraphs[name] = snap
	s.mu.Unlock()

	switch {
	case !existed:
		s.emitter.Emit(Event{Type: EventSubgraphLoaded, Subgraph: name, Message: snap.EffectiveRoutingURL()})
	case prev.SDL != snap.SDL:
		s.emitter.Emit(Event{Type: EventSubgraphUpdated, Subgraph: name})
	default:
		return
	}
	s.recordSubgraph(name, snap.EffectiveRoutingURL(), state.SubgraphHealthy, "")
}

func (s *Session) untrack(name string) models.SubgraphSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.subgraphs[name]
	delete(s.subgraphs, name)
	return prev
}

// send queues m for the coordinator. It reports false once the session is
// shutting down.
func (s *Session) send(ctx context.Context, m compose.Message) bool {
	select {
	case s.msgs <- m:
		return true
	case <-ctx.Done():
		return false
	}
}

// offerSchema replaces any schema the router has not taken yet.
func (s *Session) offerSchema(sdl string) {
	for {
		select {
		case s.schemas <- sdl:
			return
		default:
		}
		select {
		case <-s.schemas:
		default:
		}
	}
}

// onNotice runs on the coordinator goroutine.
func (s *Session) onNotice(n compose.Notice) {
	s.debug.Trace("compose", "%s subgraph=%q: %s", n.Kind, n.Subgraph, n.Message)

	switch n.Kind {
	case compose.NoticeComposed:
		metrics.CompositionsTotal.WithLabelValues(string(models.OutcomeSuccess)).Inc()
		metrics.LoadedSubgraphs.Set(float64(len(s.coord.Names())))
		s.offerSchema(n.Outcome.Schema.SDL)
		s.recordComposition(n.Outcome)
		s.logger.Info("supergraph composed", "subgraphs", len(s.coord.Names()), "federation_version", n.Outcome.Schema.FederationVersion.String())
		s.emitter.Emit(Event{Type: EventCompositionSucceeded, Outcome: n.Outcome, Message: n.Message})
		for _, hint := range n.Outcome.Schema.Hints {
			s.emitter.Emit(Event{Type: EventCompositionHint, Message: hint})
		}

	case compose.NoticeCompositionFailed:
		metrics.CompositionsTotal.WithLabelValues(string(models.OutcomePartialFailure)).Inc()
		s.recordComposition(n.Outcome)
		s.logger.Warn("composition failed; router keeps serving the previous supergraph", "errors", len(n.Outcome.Errors))
		for _, be := range n.Outcome.Errors {
			s.logger.Warn("composition error", "subgraph", be.Subgraph, "code", be.Code, "message", be.Message)
		}
		s.emitter.Emit(Event{Type: EventCompositionFailed, Outcome: n.Outcome, Message: n.Message, Error: n.Err})

	case compose.NoticeDeferred:
		metrics.CompositionsTotal.WithLabelValues(string(models.OutcomeDeferred)).Inc()
		s.logger.Info(n.Message)
		s.emitter.Emit(Event{Type: EventCompositionDeferred, Outcome: n.Outcome, Message: n.Message})

	case compose.NoticeFetchWarning:
		s.logger.Warn("subgraph fetch failed", "subgraph", n.Subgraph, "detail", n.Message, "error", n.Err)
		s.emitter.Emit(Event{Type: EventSubgraphFetchFailed, Subgraph: n.Subgraph, Message: n.Message, Error: n.Err})

	case compose.NoticeEvicted:
		metrics.SubgraphEvictionsTotal.WithLabelValues(n.Subgraph).Inc()
		metrics.LoadedSubgraphs.Set(float64(len(s.coord.Names())))
		prev := s.untrack(n.Subgraph)
		lastErr := ""
		if n.Err != nil {
			lastErr = n.Err.Error()
		}
		s.recordSubgraph(n.Subgraph, prev.EffectiveRoutingURL(), state.SubgraphEvicted, lastErr)
		s.logger.Error("subgraph removed from composition", "subgraph", n.Subgraph, "error", n.Err)
		s.emitter.Emit(Event{Type: EventSubgraphEvicted, Subgraph: n.Subgraph, Message: n.Message, Error: n.Err})

	case compose.NoticeRoutingURLChanged:
		s.logger.Info("routing url changed", "subgraph", n.Subgraph, "detail", n.Message)
		s.emitter.Emit(Event{Type: EventRoutingURLChanged, Subgraph: n.Subgraph, Message: n.Message})

	case compose.NoticeVersionWarning:
		s.logger.Warn(n.Message)
		s.emitter.Emit(Event{Type: EventFederationVersion, Message: n.Message})
	}
}

func (s *Session) onStage(stage router.Stage) {
	s.debug.Trace("router", "stage %s", stage)
	s.emitter.Emit(Event{Type: EventRouterStage, Stage: stage})
}

func (s *Session) onReport(r hotreload.Report) {
	result := "ok"
	if r.Err != nil {
		result = "error"
		s.logger.Warn("hot reload write skipped", "file", string(r.File), "error", r.Err)
	}
	metrics.HotReloadWritesTotal.WithLabelValues(string(r.File), result).Inc()
	s.debug.Trace("reload", "%s %s: %s", r.File, r.Path, result)
	s.emitter.Emit(Event{Type: EventHotReload, Path: r.Path, Message: string(r.File), Error: r.Err})
}

func (s *Session) onHealthFailure(err error) {
	metrics.RouterHealthFailuresTotal.Inc()
	s.logger.Debug("router health check failed", "error", err)
}

func (s *Session) onRouterLine(line router.Line) {
	if line.Stream == router.Stderr {
		s.logger.Warn(line.Text, "source", "router")
	} else {
		s.logger.Info(line.Text, "source", "router")
	}
	if s.opts.routerLogsToEvent {
		s.emitter.Emit(Event{Type: EventRouterLog, Stream: line.Stream, Message: line.Text})
	}
}

// timedRunner observes composition latency.
type timedRunner struct {
	compose.Runner
}

func (r timedRunner) Compose(ctx context.Context, req compose.Request) (compose.Result, error) {
	start := time.Now()
	defer func() { metrics.CompositionDuration.Observe(time.Since(start).Seconds()) }()
	return r.Runner.Compose(ctx, req)
}

func (s *Session) createSessionState() {
	if s.opts.store == nil {
		return
	}
	sess := &state.Session{
		ID:           s.id,
		Workdir:      s.cfg.Router.WorkDir,
		IPCAddress:   s.Addr(),
		RouterListen: s.cfg.Router.Listen,
		PID:          os.Getpid(),
		Status:       state.SessionActive,
		StartedAt:    time.Now(),
	}
	if err := s.opts.store.CreateSession(sess); err != nil {
		s.logger.Warn("failed to persist session", "error", err)
	}
}

func (s *Session) endSessionState(status state.SessionStatus) {
	if s.opts.store == nil {
		return
	}
	if err := s.opts.store.EndSession(s.id, status); err != nil {
		s.logger.Warn("failed to update session status", "error", err)
	}
}

func (s *Session) updateRouterPID(pid int) {
	if s.opts.store == nil {
		return
	}
	sess, err := s.opts.store.GetSession(s.id)
	if err != nil || sess == nil {
		s.logger.Warn("failed to load session", "error", err)
		return
	}
	sess.RouterPID = pid
	if err := s.opts.store.UpdateSession(sess); err != nil {
		s.logger.Warn("failed to record router pid", "error", err)
	}
}

func (s *Session) recordSubgraph(name, routingURL string, st state.SubgraphState, lastErr string) {
	if s.opts.store == nil {
		return
	}
	err := s.opts.store.UpsertSubgraph(&state.SubgraphStatus{
		SessionID:  s.id,
		Name:       name,
		RoutingURL: routingURL,
		State:      st,
		LastError:  lastErr,
		UpdatedAt:  time.Now(),
	})
	if err != nil {
		s.logger.Warn("failed to record subgraph status", "subgraph", name, "error", err)
	}
}

func (s *Session) recordComposition(out *models.CompositionOutcome) {
	if s.opts.store == nil || out == nil {
		return
	}
	c := &state.Composition{
		SessionID:     s.id,
		Outcome:       string(out.Kind),
		SubgraphCount: len(s.coord.Names()),
		ErrorCount:    len(out.Errors),
		CreatedAt:     time.Now(),
	}
	if res, ok := s.coord.FederationVersion(); ok {
		c.FederationVersion = res.Version.String()
	}
	if err := s.opts.store.RecordComposition(c); err != nil {
		s.logger.Warn("failed to record composition", "error", err)
	}
}
