package orchestrator

import (
	"log/slog"

	"github.com/ShayCichocki/graphdev/internal/compose"
	"github.com/ShayCichocki/graphdev/internal/manifest"
	"github.com/ShayCichocki/graphdev/internal/registry"
	"github.com/ShayCichocki/graphdev/internal/router"
	"github.com/ShayCichocki/graphdev/internal/state"
	"github.com/ShayCichocki/graphdev/internal/watchset"
	"github.com/ShayCichocki/graphdev/pkg/models"
)

// RequiredConfig contains the minimal required configuration for a Session.
// All fields are required and have no defaults.
type RequiredConfig struct {
	// Manifest declares the subgraphs to watch. It may have no entries when
	// every subgraph is supplied by followers.
	Manifest *manifest.Manifest
	// Composer runs composition.
	Composer compose.Runner
	// Router configures the router process. Router.WorkDir is also the
	// session working directory.
	Router router.Settings
	// Locator resolves the router binary.
	Locator router.BinaryLocator
}

// Option configures a Session. Use With* functions to create Options.
type Option func(*sessionOptions)

type sessionOptions struct {
	logger            *slog.Logger
	debug             *DebugLogger
	store             state.StateStore
	resolver          watchset.Resolver
	registry          registry.Client
	spawner           router.Spawner
	ipcAddress        string
	manifestPath      string
	retryBudget       int
	federation        models.FederationVersion
	eventBufferSize   int
	routerLogsToEvent bool
}

func defaultOptions() sessionOptions {
	return sessionOptions{
		logger:            slog.Default(),
		retryBudget:       compose.DefaultRetryBudget,
		eventBufferSize:   256,
		routerLogsToEvent: true,
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *sessionOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDebugLogger sets the file debug logger. By default one is created in
// the session working directory.
func WithDebugLogger(l *DebugLogger) Option {
	return func(o *sessionOptions) { o.debug = l }
}

// WithStore persists the session, subgraph status and compositions.
func WithStore(s state.StateStore) Option {
	return func(o *sessionOptions) { o.store = s }
}

// WithResolver sets the source resolver used for manifest subgraphs.
func WithResolver(r watchset.Resolver) Option {
	return func(o *sessionOptions) { o.resolver = r }
}

// WithRegistry sets the registry client used for registry sources and the
// router's remote context.
func WithRegistry(c registry.Client) Option {
	return func(o *sessionOptions) { o.registry = c }
}

// WithSpawner replaces the router process spawner (mainly for testing).
func WithSpawner(s router.Spawner) Option {
	return func(o *sessionOptions) { o.spawner = s }
}

// WithIPCAddress makes the session a leader accepting followers on address.
func WithIPCAddress(address string) Option {
	return func(o *sessionOptions) { o.ipcAddress = address }
}

// WithManifestPath sets the file the manifest was loaded from. When set,
// Run re-reads it on every write and starts or stops watchers to match.
func WithManifestPath(path string) Option {
	return func(o *sessionOptions) { o.manifestPath = path }
}

// WithRetryBudget sets the consecutive fetch failure budget per subgraph.
func WithRetryBudget(n int) Option {
	return func(o *sessionOptions) {
		if n > 0 {
			o.retryBudget = n
		}
	}
}

// WithFederationVersion forces the federation version.
func WithFederationVersion(v models.FederationVersion) Option {
	return func(o *sessionOptions) { o.federation = v }
}

// WithEventBufferSize sets the event channel capacity.
func WithEventBufferSize(n int) Option {
	return func(o *sessionOptions) {
		if n > 0 {
			o.eventBufferSize = n
		}
	}
}

// WithoutRouterLogEvents stops router output from being emitted as events.
// Lines are still logged.
func WithoutRouterLogEvents() Option {
	return func(o *sessionOptions) { o.routerLogsToEvent = false }
}
