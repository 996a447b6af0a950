package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/graphdev/internal/compose"
	"github.com/ShayCichocki/graphdev/internal/config"
	"github.com/ShayCichocki/graphdev/internal/exec"
	"github.com/ShayCichocki/graphdev/internal/introspect"
	"github.com/ShayCichocki/graphdev/internal/ipc"
	"github.com/ShayCichocki/graphdev/internal/logging"
	"github.com/ShayCichocki/graphdev/internal/manifest"
	"github.com/ShayCichocki/graphdev/internal/metrics"
	"github.com/ShayCichocki/graphdev/internal/orchestrator"
	"github.com/ShayCichocki/graphdev/internal/registry"
	"github.com/ShayCichocki/graphdev/internal/router"
	"github.com/ShayCichocki/graphdev/internal/state"
	"github.com/ShayCichocki/graphdev/internal/subgraph"
	"github.com/ShayCichocki/graphdev/internal/tui"
	"github.com/ShayCichocki/graphdev/pkg/models"
)

var (
	devManifest     string
	devRouterConfig string
	devListen       string
	devIPCAddress   string
	devFederation   string
	devGraphRef     string
	devMetricsAddr  string
	devAttach       bool
	devName         string
	devURL          string
	devSchema       string
	devTUI          bool
)

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Run a local supergraph with hot reload",
	Long: `Start a dev session: watch every subgraph in the supergraph manifest,
compose on change and run a router against the latest good supergraph.

The first session becomes the leader. Run with --attach in another terminal
to add a single subgraph to the running leader.

Examples:
  graphdev dev -c supergraph.yaml
  graphdev dev -c supergraph.yaml --listen 127.0.0.1:4000 --router-config router.yaml
  graphdev dev --attach --name reviews --url http://localhost:4002/graphql
  graphdev dev --attach --name reviews --url http://localhost:4002 --schema reviews.graphql`,
	RunE: runDev,
}

func init() {
	devCmd.Flags().StringVarP(&devManifest, "supergraph-config", "c", "supergraph.yaml", "Supergraph manifest listing the subgraphs to compose")
	devCmd.Flags().StringVar(&devRouterConfig, "router-config", "", "Static router config file to merge and watch")
	devCmd.Flags().StringVar(&devListen, "listen", "", "Router listen address (overrides supergraph.listen)")
	devCmd.Flags().StringVar(&devIPCAddress, "ipc-address", "", "Leader socket: a path for a Unix socket or host:port for TCP")
	devCmd.Flags().StringVar(&devFederation, "federation-version", "", "Force the federation version, e.g. 2 or =2.5.1")
	devCmd.Flags().StringVar(&devGraphRef, "graph-ref", "", "Graph ref (graph@variant) to give the router remote context")
	devCmd.Flags().StringVar(&devMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	devCmd.Flags().BoolVar(&devAttach, "attach", false, "Join a running leader session instead of starting one")
	devCmd.Flags().StringVar(&devName, "name", "", "Subgraph name (with --attach)")
	devCmd.Flags().StringVar(&devURL, "url", "", "Subgraph routing URL (with --attach)")
	devCmd.Flags().StringVar(&devSchema, "schema", "", "Subgraph schema file (with --attach); introspects --url when omitted")
	devCmd.Flags().BoolVar(&devTUI, "tui", false, "Show a live dashboard instead of line output (leader only)")
}

func runDev(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyDevFlags(cfg)
	logger := newLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, shutting down...")
		cancel()
	}()

	if cfg.Metrics.Listen != "" {
		srv := metrics.NewServer(cfg.Metrics.Listen)
		srv.Start()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			srv.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", "addr", cfg.Metrics.Listen)
	}

	resolver := &subgraph.Resolver{
		Introspector: introspect.NewClient(10 * time.Second),
		Registry:     registryClient(cfg, logger),
		PollInterval: cfg.Watch.PollInterval,
	}

	if devAttach {
		return runFollower(ctx, cfg, resolver, logger)
	}
	return runLeader(ctx, cfg, resolver, logger)
}

// applyDevFlags lets command-line flags override configuration.
func applyDevFlags(cfg *config.Config) {
	if devListen != "" {
		cfg.Router.Listen = devListen
	}
	if devRouterConfig != "" {
		cfg.Router.ConfigPath = devRouterConfig
	}
	if devIPCAddress != "" {
		cfg.Session.IPCAddress = devIPCAddress
	}
	if devFederation != "" {
		cfg.Composition.FederationVersion = devFederation
	}
	if devMetricsAddr != "" {
		cfg.Metrics.Listen = devMetricsAddr
	}
}

// registryClient returns nil when no credentials are configured; registry
// sources then fail with registry.ErrNoCredentials.
func registryClient(cfg *config.Config, logger *slog.Logger) registry.Client {
	key, err := config.GetAPIKey(cfg)
	if err != nil {
		return nil
	}
	if err := config.ValidateAPIKey(key); err != nil {
		logger.Warn("registry API key looks malformed", "source", string(config.GetAPIKeySource(cfg)), "error", err)
	}
	logger.Debug("using registry credentials", "key", config.MaskAPIKey(key), "source", string(config.GetAPIKeySource(cfg)))
	return registry.NewHTTPClient(cfg.Registry.Endpoint, key)
}

func runLeader(ctx context.Context, cfg *config.Config, resolver *subgraph.Resolver, logger *slog.Logger) error {
	m, err := manifest.Load(devManifest)
	if err != nil {
		return err
	}

	var fed models.FederationVersion
	if cfg.Composition.FederationVersion != "" {
		fed, err = models.ParseFederationVersion(cfg.Composition.FederationVersion)
		if err != nil {
			return fmt.Errorf("federation version: %w", err)
		}
	}

	workdir, err := sessionWorkdir(cfg)
	if err != nil {
		return err
	}

	cmdRunner := exec.NewRunner()
	installer := router.NewInstaller(cfg.Router.Binary, cfg.Router.Version, config.DefaultCacheDir(), cfg.Router.DownloadURL, cmdRunner, logger)

	if devTUI {
		// The dashboard owns the terminal; logs go to the session directory.
		logFile, err := openSessionLog(workdir)
		if err != nil {
			return err
		}
		defer logFile.Close()
		logger = logging.NewWithWriter(logFile, cfg.Logging.Level, "text")
	}

	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithDebugLogger(orchestrator.NewDebugLoggerForWorkdir(workdir)),
		orchestrator.WithResolver(resolver),
		orchestrator.WithIPCAddress(cfg.Session.IPCAddress),
		orchestrator.WithRetryBudget(cfg.Watch.RetryBudget),
		orchestrator.WithFederationVersion(fed),
		orchestrator.WithManifestPath(devManifest),
	}
	if !devTUI {
		opts = append(opts, orchestrator.WithoutRouterLogEvents())
	}
	if resolver.Registry != nil {
		opts = append(opts, orchestrator.WithRegistry(resolver.Registry))
	}
	if store, err := state.OpenDefault(); err != nil {
		logger.Warn("session store unavailable; status and cleanup will not see this session", "error", err)
	} else {
		defer store.Close()
		opts = append(opts, orchestrator.WithStore(store))
	}

	s, err := orchestrator.New(orchestrator.RequiredConfig{
		Manifest: m,
		Composer: compose.NewBinaryRunner(cfg.Composition.Binary, workdir, cmdRunner),
		Router: router.Settings{
			Listen:         cfg.Router.Listen,
			ConfigPath:     cfg.Router.ConfigPath,
			WorkDir:        workdir,
			GraphRef:       devGraphRef,
			HealthTimeout:  cfg.Router.HealthTimeout,
			HealthInterval: cfg.Router.HealthInterval,
		},
		Locator: installer,
	}, opts...)
	if err != nil {
		var topo *ipc.TopologyError
		if errors.As(err, &topo) {
			printStatus("✗", topo.Error(), colorError)
			fmt.Println("  " + topo.Suggestion())
		}
		return err
	}

	if devTUI {
		err = runDashboard(ctx, s, devManifest)
	} else {
		rendered := make(chan struct{})
		go func() {
			defer close(rendered)
			render(os.Stdout, s.Events(), cfg.Router.Listen)
		}()

		printStatus("●", fmt.Sprintf("session %s: %d subgraphs, leader on %s", s.ID()[:8], len(m.Entries), s.Addr()), colorInfo)
		err = s.Run(ctx)
		<-rendered
	}

	var lerr *router.LifecycleError
	if errors.As(err, &lerr) {
		printStatus("✗", fmt.Sprintf("router failed during %s: %v", lerr.Stage, lerr.Err), colorError)
	}
	return err
}

func runFollower(ctx context.Context, cfg *config.Config, resolver *subgraph.Resolver, logger *slog.Logger) error {
	if devName == "" {
		return fmt.Errorf("--attach requires --name")
	}
	var source models.SubgraphSource
	switch {
	case devSchema != "":
		abs, err := filepath.Abs(devSchema)
		if err != nil {
			return fmt.Errorf("resolve schema path: %w", err)
		}
		source = models.FileSource{Path: abs}
	case devURL != "":
		source = models.IntrospectSource{URL: devURL}
	default:
		return fmt.Errorf("--attach requires --schema or --url")
	}
	if err := source.Validate(); err != nil {
		return err
	}

	client, err := ipc.Dial(ctx, cfg.Session.IPCAddress)
	if err != nil {
		return fmt.Errorf("no leader session on %s (start one with `graphdev dev`): %w", cfg.Session.IPCAddress, err)
	}
	defer client.Close()

	key := models.SubgraphKey{Name: devName, RoutingURL: devURL}
	f := orchestrator.NewFollower(client, key, source, resolver, logger)

	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		render(os.Stdout, f.Events(), "")
	}()

	printStatus("●", fmt.Sprintf("forwarding subgraph %s to %s", devName, cfg.Session.IPCAddress), colorInfo)
	err = f.Run(ctx)
	<-rendered
	return err
}

// runDashboard runs the session behind the terminal dashboard. Quitting the
// dashboard stops the session.
func runDashboard(ctx context.Context, s *orchestrator.Session, title string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program, _ := tui.NewDashboardProgram(title)
	go tui.Forward(program, s.Events())

	runErr := make(chan error, 1)
	go func() {
		err := s.Run(ctx)
		runErr <- err
		if ctx.Err() != nil {
			program.Quit()
		}
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		<-runErr
		return fmt.Errorf("dashboard: %w", err)
	}
	cancel()
	return <-runErr
}

func openSessionLog(workdir string) (*os.File, error) {
	dir := filepath.Join(workdir, "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "graphdev.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	return f, nil
}

// sessionWorkdir returns a fresh directory for this session's router and
// composition files.
func sessionWorkdir(cfg *config.Config) (string, error) {
	base := cfg.Session.Workdir
	if base == "" {
		base = filepath.Join(config.DefaultCacheDir(), "sessions")
	}
	if err := os.MkdirAll(base, 0755); err != nil {
		return "", fmt.Errorf("create session directory: %w", err)
	}
	dir, err := os.MkdirTemp(base, "dev-")
	if err != nil {
		return "", fmt.Errorf("create session directory: %w", err)
	}
	return dir, nil
}
