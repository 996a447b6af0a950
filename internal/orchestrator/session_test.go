package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/graphdev/internal/compose"
	"github.com/ShayCichocki/graphdev/internal/ipc"
	"github.com/ShayCichocki/graphdev/internal/logging"
	"github.com/ShayCichocki/graphdev/internal/manifest"
	"github.com/ShayCichocki/graphdev/internal/router"
	"github.com/ShayCichocki/graphdev/internal/state"
	"github.com/ShayCichocki/graphdev/internal/subgraph"
	"github.com/ShayCichocki/graphdev/pkg/models"
)

type fakeComposer struct {
	mu    sync.Mutex
	calls int
	fail  []models.BuildError
}

func (f *fakeComposer) Compose(ctx context.Context, req compose.Request) (compose.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.fail) > 0 {
		return compose.Result{Errors: f.fail}, nil
	}
	parts := make([]string, 0, len(req.Subgraphs))
	for _, sg := range req.Subgraphs {
		parts = append(parts, "# "+sg.Name+"\n"+sg.SDL)
	}
	return compose.Result{SDL: strings.Join(parts, "\n")}, nil
}

func (f *fakeComposer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeIntrospector struct {
	sdl   string
	err   atomic.Pointer[error]
	calls atomic.Int64
}

func (f *fakeIntrospector) fail(err error) { f.err.Store(&err) }

func (f *fakeIntrospector) FetchSDL(ctx context.Context, url string, headers map[string]string) (string, error) {
	f.calls.Add(1)
	if err := f.err.Load(); err != nil {
		return "", *err
	}
	return f.sdl, nil
}

type fakeProcess struct {
	lines  chan router.Line
	exited chan struct{}
	once   sync.Once
	killed atomic.Bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{lines: make(chan router.Line, 16), exited: make(chan struct{})}
}

func (p *fakeProcess) Lines() <-chan router.Line { return p.lines }
func (p *fakeProcess) Exited() <-chan struct{}   { return p.exited }
func (p *fakeProcess) Wait() error               { <-p.exited; return nil }
func (p *fakeProcess) PID() int                  { return 5150 }

func (p *fakeProcess) Kill() error {
	p.killed.Store(true)
	p.once.Do(func() {
		close(p.lines)
		close(p.exited)
	})
	return nil
}

type fakeSpawner struct{ proc *fakeProcess }

func (s *fakeSpawner) Spawn(binary string, args, env []string) (router.Process, error) {
	return s.proc, nil
}

type staticLocator string

func (l staticLocator) Install(ctx context.Context) (string, error) { return string(l), nil }

type healthServer struct {
	*httptest.Server
	healthy atomic.Bool
}

func newHealthServer(t *testing.T) *healthServer {
	t.Helper()
	hs := &healthServer{}
	hs.healthy.Store(true)
	hs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !hs.healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"UP"}`))
	}))
	t.Cleanup(hs.Close)
	return hs
}

// eventLog drains a session's events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
}

func collect(ch <-chan Event) *eventLog {
	l := &eventLog{done: make(chan struct{})}
	go func() {
		defer close(l.done)
		for ev := range ch {
			l.mu.Lock()
			l.events = append(l.events, ev)
			l.mu.Unlock()
		}
	}()
	return l
}

func (l *eventLog) count(match func(Event) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if match(ev) {
			n++
		}
	}
	return n
}

func ofType(t EventType) func(Event) bool {
	return func(ev Event) bool { return ev.Type == t }
}

func schemaWrite(ev Event) bool {
	return ev.Type == EventHotReload && ev.Message == "schema" && ev.Error == nil
}

type fixture struct {
	composer *fakeComposer
	intro    *fakeIntrospector
	proc     *fakeProcess
	health   *healthServer
	store    *state.DB
	settings router.Settings
	resolver *subgraph.Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		composer: &fakeComposer{},
		intro:    &fakeIntrospector{sdl: "type Query { b: Int }"},
		proc:     newFakeProcess(),
		health:   newHealthServer(t),
	}
	f.resolver = &subgraph.Resolver{Introspector: f.intro, PollInterval: 20 * time.Millisecond}

	cfgPath := filepath.Join(t.TempDir(), "router.yaml")
	doc := "health_check:\n  listen: " + strings.TrimPrefix(f.health.URL, "http://") + "\n  path: /health\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0644))
	f.settings = router.Settings{
		Listen:         "127.0.0.1:4000",
		ConfigPath:     cfgPath,
		WorkDir:        t.TempDir(),
		HealthTimeout:  300 * time.Millisecond,
		HealthInterval: 20 * time.Millisecond,
	}

	db, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	f.store = db
	return f
}

func (f *fixture) session(t *testing.T, m *manifest.Manifest, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{
		WithLogger(logging.Nop()),
		WithDebugLogger(NopLogger()),
		WithResolver(f.resolver),
		WithSpawner(&fakeSpawner{proc: f.proc}),
		WithStore(f.store),
	}, opts...)
	s, err := New(RequiredConfig{
		Manifest: m,
		Composer: f.composer,
		Router:   f.settings,
		Locator:  staticLocator("/usr/local/bin/router"),
	}, opts...)
	require.NoError(t, err)
	return s
}

// writeFile replaces path atomically so watchers never see it empty.
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0644))
	require.NoError(t, os.Rename(tmp, path))
}

func TestSessionEndToEnd(t *testing.T) {
	f := newFixture(t)
	schemaA := filepath.Join(t.TempDir(), "a.graphql")
	writeFile(t, schemaA, "type Query { a: Int }")

	m := &manifest.Manifest{Entries: []manifest.Entry{
		{Name: "a", RoutingURL: "http://localhost:4001", Source: models.FileSource{Path: schemaA}},
		{Name: "b", RoutingURL: "http://localhost:4002", Source: models.IntrospectSource{URL: "http://localhost:4002/graphql"}},
		{Name: "c", RoutingURL: "http://localhost:4003", Source: models.InlineSource{SDL: "type Query { c: Int }"}},
	}}
	s := f.session(t, m)
	events := collect(s.Events())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()

	require.Eventually(t, func() bool { return s.RouterPID() == 5150 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.composer.Calls(), "composition waits for all three subgraphs")
	assert.Equal(t, 3, s.Watching())
	require.Eventually(t, func() bool { return events.count(schemaWrite) == 1 }, time.Second, 10*time.Millisecond)

	writeFile(t, schemaA, "type Query { a: Int, a2: String }")

	require.Eventually(t, func() bool {
		return f.composer.Calls() == 2 && events.count(schemaWrite) == 2
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 2, f.composer.Calls(), "one change composes once")
	assert.Equal(t, 2, events.count(schemaWrite), "one composition writes the schema once")

	written, err := os.ReadFile(filepath.Join(f.settings.WorkDir, "supergraph.graphql"))
	require.NoError(t, err)
	assert.Contains(t, string(written), "a2: String")

	f.health.healthy.Store(false)

	var runErr error
	select {
	case runErr = <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not abort after the router became unhealthy")
	}

	var lerr *router.LifecycleError
	require.ErrorAs(t, runErr, &lerr)
	assert.Equal(t, router.StageWatch, lerr.Stage)
	assert.True(t, errors.Is(runErr, router.ErrHealthCheckFailed))
	assert.True(t, f.proc.killed.Load())
	assert.Equal(t, 0, s.Watching())

	calls := f.intro.calls.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, calls, f.intro.calls.Load(), "introspection polling stopped")

	<-events.done
	assert.Equal(t, 1, events.count(func(ev Event) bool { return ev.Type == EventRouterStage && ev.Stage == router.StageAbort }))
	assert.Equal(t, 1, events.count(ofType(EventSessionDone)))

	sess, err := f.store.GetSession(s.ID())
	require.NoError(t, err)
	assert.Equal(t, state.SessionFailed, sess.Status)
	assert.Equal(t, 5150, sess.RouterPID)

	last, err := f.store.LastComposition(s.ID())
	require.NoError(t, err)
	assert.Equal(t, string(models.OutcomeSuccess), last.Outcome)
	assert.Equal(t, 3, last.SubgraphCount)
}

func TestSessionDefersUntilManifestLoaded(t *testing.T) {
	f := newFixture(t)
	f.intro.fail(errors.New("connection refused"))

	m := &manifest.Manifest{Entries: []manifest.Entry{
		{Name: "a", RoutingURL: "http://localhost:4001", Source: models.InlineSource{SDL: "type Query { a: Int }"}},
		{Name: "b", RoutingURL: "http://localhost:4002", Source: models.IntrospectSource{URL: "http://localhost:4002/graphql"}},
	}}
	s := f.session(t, m)
	events := collect(s.Events())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return events.count(ofType(EventCompositionDeferred)) >= 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return events.count(ofType(EventSubgraphFetchFailed)) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
	<-events.done

	assert.Equal(t, 0, f.composer.Calls())
	assert.Equal(t, 0, s.RouterPID())

	events.mu.Lock()
	var deferred Event
	for _, ev := range events.events {
		if ev.Type == EventCompositionDeferred {
			deferred = ev
			break
		}
	}
	events.mu.Unlock()
	assert.Contains(t, deferred.Message, "waiting for 1 of 2")

	sess, err := f.store.GetSession(s.ID())
	require.NoError(t, err)
	assert.Equal(t, state.SessionCompleted, sess.Status)

	statuses, err := f.store.ListSubgraphs(s.ID())
	require.NoError(t, err)
	byName := map[string]state.SubgraphState{}
	for _, st := range statuses {
		byName[st.Name] = st.State
	}
	assert.Equal(t, state.SubgraphHealthy, byName["a"])
	assert.Equal(t, state.SubgraphStale, byName["b"])
}

func TestSessionFollowsManifestEdits(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "supergraph.yaml")
	entryA := "  a:\n    routing_url: http://localhost:4001\n    schema:\n      sdl: \"type Query { a: Int }\"\n"
	entryB := "  b:\n    routing_url: http://localhost:4002\n    schema:\n      subgraph_url: http://localhost:4002/graphql\n"
	writeFile(t, path, "subgraphs:\n"+entryA+entryB)

	m, err := manifest.Load(path)
	require.NoError(t, err)
	s := f.session(t, m, WithManifestPath(path))
	events := collect(s.Events())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.RouterPID() == 5150 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, s.Watching())
	assert.True(t, s.declared("b"))

	writeFile(t, path, "subgraphs:\n"+entryA)

	require.Eventually(t, func() bool { return s.Watching() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.False(t, s.declared("b"))
	require.Eventually(t, func() bool {
		return events.count(ofType(EventManifestReloaded)) == 1
	}, time.Second, 10*time.Millisecond)

	calls := f.intro.calls.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, calls, f.intro.calls.Load(), "introspection polling of b stopped")

	supergraph := filepath.Join(f.settings.WorkDir, "supergraph.graphql")
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(supergraph)
		return err == nil && !strings.Contains(string(data), "# b")
	}, 5*time.Second, 10*time.Millisecond)
	written, err := os.ReadFile(supergraph)
	require.NoError(t, err)
	assert.Contains(t, string(written), "# a")

	require.Eventually(t, func() bool {
		return events.count(func(ev Event) bool { return ev.Type == EventSubgraphRemoved && ev.Subgraph == "b" }) == 1
	}, time.Second, 10*time.Millisecond)
	names := make([]string, 0, 1)
	for _, snap := range s.Subgraphs() {
		names = append(names, snap.Key.Name)
	}
	assert.Equal(t, []string{"a"}, names)

	cancel()
	require.NoError(t, <-errCh)
	<-events.done

	statuses, err := f.store.ListSubgraphs(s.ID())
	require.NoError(t, err)
	for _, st := range statuses {
		assert.NotEqual(t, "b", st.Name)
	}
}

func TestSessionManifestReloadRestartsChangedEntries(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "supergraph.yaml")
	writeFile(t, path, "subgraphs:\n  a:\n    routing_url: http://localhost:4001\n    schema:\n      sdl: \"type Query { a: Int }\"\n")

	m, err := manifest.Load(path)
	require.NoError(t, err)
	s := f.session(t, m, WithManifestPath(path))
	events := collect(s.Events())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	require.Eventually(t, func() bool { return s.RouterPID() == 5150 }, 5*time.Second, 10*time.Millisecond)

	writeFile(t, path, "subgraphs:\n"+
		"  a:\n    routing_url: http://localhost:4101\n    schema:\n      sdl: \"type Query { a: Int }\"\n"+
		"  c:\n    routing_url: http://localhost:4003\n    schema:\n      sdl: \"type Query { c: Int }\"\n")

	require.Eventually(t, func() bool {
		subgraphs := s.Subgraphs()
		return len(subgraphs) == 2 &&
			subgraphs[0].Key.RoutingURL == "http://localhost:4101" &&
			subgraphs[1].Key.Name == "c"
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, s.Watching())

	writeFile(t, path, "subgraphs: [\n")
	require.Eventually(t, func() bool {
		return events.count(func(ev Event) bool { return ev.Type == EventManifestReloaded && ev.Error != nil }) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, s.Watching(), "a broken manifest keeps the current subgraphs")

	cancel()
	require.NoError(t, <-errCh)
	<-events.done
}

func TestSessionEvictsAfterRetryBudget(t *testing.T) {
	f := newFixture(t)
	schemaA := filepath.Join(t.TempDir(), "a.graphql")
	writeFile(t, schemaA, "type Query { a: Int }")

	m := &manifest.Manifest{Entries: []manifest.Entry{
		{Name: "a", RoutingURL: "http://localhost:4001", Source: models.FileSource{Path: schemaA}},
		{Name: "b", RoutingURL: "http://localhost:4002", Source: models.IntrospectSource{URL: "http://localhost:4002/graphql"}},
	}}
	s := f.session(t, m, WithRetryBudget(2))
	events := collect(s.Events())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.RouterPID() != 0 }, 5*time.Second, 10*time.Millisecond)

	f.intro.fail(errors.New("connection refused"))
	require.Eventually(t, func() bool {
		return events.count(ofType(EventSubgraphEvicted)) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return f.composer.Calls() == 2 }, time.Second, 10*time.Millisecond)

	names := make([]string, 0)
	for _, snap := range s.Subgraphs() {
		names = append(names, snap.Key.Name)
	}
	assert.Equal(t, []string{"a"}, names)

	cancel()
	require.NoError(t, <-errCh)
}

func TestNewValidation(t *testing.T) {
	f := newFixture(t)
	m := &manifest.Manifest{}
	tests := []struct {
		name string
		cfg  RequiredConfig
		want error
	}{
		{"no manifest", RequiredConfig{Composer: f.composer, Router: f.settings, Locator: staticLocator("r")}, nil},
		{"no composer", RequiredConfig{Manifest: m, Router: f.settings, Locator: staticLocator("r")}, compose.ErrNoRunner},
		{"no subgraphs", RequiredConfig{Manifest: m, Composer: f.composer, Router: f.settings, Locator: staticLocator("r")}, ErrNoSubgraphs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, WithLogger(logging.Nop()), WithDebugLogger(NopLogger()))
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestLeaderHandlesFollowers(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, &manifest.Manifest{}, WithIPCAddress("127.0.0.1:0"))
	collect(s.Events())

	_, err := New(RequiredConfig{
		Manifest: &manifest.Manifest{},
		Composer: f.composer,
		Router:   f.settings,
		Locator:  staticLocator("r"),
	}, WithLogger(logging.Nop()), WithDebugLogger(NopLogger()), WithIPCAddress(s.Addr()))
	var topo *ipc.TopologyError
	require.ErrorAs(t, err, &topo)
	assert.ErrorIs(t, err, ipc.ErrLeaderExists)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	client, err := ipc.Dial(ctx, s.Addr())
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.AddSubgraph(ctx, ipc.Subgraph{Name: "reviews", RoutingURL: "http://localhost:4005", SDL: "type Query { r: Int }"})
	require.NoError(t, err)
	assert.Equal(t, ipc.CompositionSuccess, resp.Type)
	assert.Equal(t, "added subgraph reviews", resp.Action)

	resp, err = client.UpdateSubgraph(ctx, ipc.Subgraph{Name: "reviews", RoutingURL: "http://localhost:4005", SDL: "type Query { r: Int }"})
	require.NoError(t, err)
	assert.Equal(t, ipc.MessageReceived, resp.Type, "identical schema is not recomposed")

	list, err := client.GetSubgraphs(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "reviews", list[0].Name)
	assert.Equal(t, "http://localhost:4005", list[0].RoutingURL)

	require.Eventually(t, func() bool { return s.RouterPID() != 0 }, 5*time.Second, 10*time.Millisecond)

	f.composer.mu.Lock()
	f.composer.fail = []models.BuildError{{Subgraph: "reviews", Message: "bad field", Code: "INVALID_GRAPHQL"}}
	f.composer.mu.Unlock()
	resp, err = client.UpdateSubgraph(ctx, ipc.Subgraph{Name: "reviews", RoutingURL: "http://localhost:4005", SDL: "type Query { r: Boolean }"})
	require.Error(t, err)
	assert.Equal(t, ipc.ErrorNotification, resp.Type)
	assert.Contains(t, resp.Error, "bad field")

	resp, err = client.RemoveSubgraph(ctx, "reviews")
	require.NoError(t, err)
	assert.Equal(t, ipc.MessageReceived, resp.Type)
	assert.Empty(t, s.Subgraphs())

	cancel()
	require.NoError(t, <-errCh)
}

func TestResponseFor(t *testing.T) {
	ok := models.Succeeded(models.ComposedSchema{SDL: "x"})
	bad := models.Failed([]models.BuildError{{Subgraph: "a", Message: "m1"}, {Message: "m2"}})
	wait := models.Deferred(1, 3)

	tests := []struct {
		name string
		out  *models.CompositionOutcome
		want ipc.Response
	}{
		{"no decision", nil, ipc.Response{Type: ipc.MessageReceived, Action: "act"}},
		{"success", &ok, ipc.Response{Type: ipc.CompositionSuccess, Action: "act"}},
		{"failure", &bad, ipc.Response{Type: ipc.ErrorNotification, Action: "act", Error: "a: m1\nm2"}},
		{"deferred", &wait, ipc.Response{Type: ipc.MessageReceived, Action: "act; composition deferred: waiting for 2 of 3 subgraphs"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, responseFor("act", tt.out))
		})
	}
}

func TestFollowerForwardsChanges(t *testing.T) {
	var (
		mu   sync.Mutex
		reqs []ipc.Request
	)
	leader, err := ipc.Listen("127.0.0.1:0", logging.Nop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go leader.Serve(ctx, ipc.HandlerFunc(func(ctx context.Context, req ipc.Request) ipc.Response {
		mu.Lock()
		reqs = append(reqs, req)
		mu.Unlock()
		return ipc.Response{Type: ipc.MessageReceived, Action: string(req.Type)}
	}))

	client, err := ipc.Dial(ctx, leader.Addr())
	require.NoError(t, err)
	defer client.Close()

	path := filepath.Join(t.TempDir(), "products.graphql")
	writeFile(t, path, "type Query { p: Int }")
	key := models.SubgraphKey{Name: "products", RoutingURL: "http://localhost:4010"}
	fol := NewFollower(client, key, models.FileSource{Path: path}, &subgraph.Resolver{PollInterval: 20 * time.Millisecond}, logging.Nop())
	collect(fol.Events())

	folCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- fol.Run(folCtx) }()

	types := func() []ipc.RequestType {
		mu.Lock()
		defer mu.Unlock()
		out := make([]ipc.RequestType, 0, len(reqs))
		for _, r := range reqs {
			out = append(out, r.Type)
		}
		return out
	}

	require.Eventually(t, func() bool { return len(types()) == 1 }, 2*time.Second, 10*time.Millisecond)
	writeFile(t, path, "type Query { p: Int, q: Int }")
	require.Eventually(t, func() bool { return len(types()) == 2 }, 5*time.Second, 10*time.Millisecond)

	stop()
	require.NoError(t, <-done)

	assert.Equal(t, []ipc.RequestType{ipc.AddSubgraph, ipc.UpdateSubgraph, ipc.RemoveSubgraph}, types())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "type Query { p: Int, q: Int }", reqs[1].Subgraph.SDL)
	assert.Equal(t, "products", reqs[2].Name)
	assert.Equal(t, client.ID(), reqs[0].Follower)
}

func TestEventEmitterDropsWhenFull(t *testing.T) {
	e := NewEventEmitter(1, logging.Nop())
	e.Emit(Event{Type: EventSessionStarted})
	e.Emit(Event{Type: EventSessionDone})

	assert.Equal(t, uint64(1), e.DroppedCount())
	ev := <-e.Events()
	assert.Equal(t, EventSessionStarted, ev.Type)
	assert.False(t, ev.Timestamp.IsZero())

	e.Close()
	e.Close()
	e.Emit(Event{Type: EventSessionDone})
	_, open := <-e.Events()
	assert.False(t, open)
}

func TestDebugLogger(t *testing.T) {
	dir := t.TempDir()
	l := NewDebugLoggerForWorkdir(dir)
	assert.Equal(t, filepath.Join(dir, "logs", "orchestrator-debug.log"), l.Path())
	l.Trace("compose", "composed %d subgraphs", 3)
	require.NoError(t, l.Close())
	l.Trace("compose", "after close")

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "compose")
	assert.Contains(t, lines[1], "composed 3 subgraphs")

	var nop *DebugLogger
	nop.Trace("x", "ignored")
	assert.NoError(t, nop.Close())
	assert.NoError(t, NopLogger().Close())
	assert.Empty(t, NopLogger().Path())
}

func TestDebugLoggerRotatesLargeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")
	require.NoError(t, os.WriteFile(path, make([]byte, maxDebugLogSize+1), 0644))

	l, err := NewDebugLogger(path)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	old, err := os.Stat(path + ".1")
	require.NoError(t, err)
	assert.Equal(t, int64(maxDebugLogSize+1), old.Size())

	cur, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, cur.Size(), int64(1024))
}

func TestSubgraphsSorted(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, &manifest.Manifest{Entries: []manifest.Entry{
		{Name: "x", Source: models.InlineSource{SDL: "type Query { x: Int }"}},
	}})
	defer s.Close()
	for _, n := range []string{"zeta", "alpha", "mid"} {
		s.subgraphs[n] = models.SubgraphSnapshot{Key: models.SubgraphKey{Name: n}}
	}
	var names []string
	for _, snap := range s.Subgraphs() {
		names = append(names, snap.Key.Name)
	}
	assert.True(t, sort.StringsAreSorted(names))
	assert.Len(t, names, 3)
}
