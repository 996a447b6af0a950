package compose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ShayCichocki/graphdev/pkg/models"
)

// DefaultRetryBudget is the number of consecutive fetch failures tolerated
// before a subgraph is evicted.
const DefaultRetryBudget = 3

// ErrNoRunner is returned by New when no composition runner is supplied.
var ErrNoRunner = errors.New("composition runner is required")

// NoticeKind identifies an operator-facing coordinator notice.
type NoticeKind string

const (
	NoticeComposed          NoticeKind = "composed"
	NoticeCompositionFailed NoticeKind = "composition_failed"
	NoticeDeferred          NoticeKind = "deferred"
	NoticeFetchWarning      NoticeKind = "fetch_warning"
	NoticeEvicted           NoticeKind = "evicted"
	NoticeRoutingURLChanged NoticeKind = "routing_url_changed"
	NoticeVersionWarning    NoticeKind = "version_warning"
)

// Notice is emitted for every state change worth telling the operator.
type Notice struct {
	Kind     NoticeKind
	Subgraph string
	Message  string
	Outcome  *models.CompositionOutcome
	Err      error
}

type entry struct {
	snapshot models.SubgraphSnapshot
	budget   int
}

// Coordinator owns the subgraph map and decides when to compose. Its
// methods are not safe for concurrent use; Run serializes access when the
// coordinator is driven by messages.
type Coordinator struct {
	runner   Runner
	budget   int
	override models.FederationVersion
	declared models.FederationVersion
	notify   func(Notice)
	logger   *slog.Logger

	target     map[string]struct{}
	loadedOnce map[string]struct{}
	gateOpen   bool

	subgraphs map[string]*entry
	resolved  *VersionResolution
	current   *models.ComposedSchema
	attempts  int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRetryBudget sets the consecutive failure budget per subgraph.
func WithRetryBudget(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.budget = n
		}
	}
}

// WithTarget declares the manifest subgraph names. Composition is deferred
// until each of them has loaded once.
func WithTarget(names []string) Option {
	return func(c *Coordinator) {
		for _, n := range names {
			c.target[n] = struct{}{}
		}
	}
}

// WithFederationOverride sets an explicit federation version.
func WithFederationOverride(v models.FederationVersion) Option {
	return func(c *Coordinator) { c.override = v }
}

// WithManifestVersion sets the federation version declared by the manifest.
func WithManifestVersion(v models.FederationVersion) Option {
	return func(c *Coordinator) { c.declared = v }
}

// WithNotify sets the notice sink. It is called synchronously.
func WithNotify(fn func(Notice)) Option {
	return func(c *Coordinator) { c.notify = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New creates a Coordinator backed by runner.
func New(runner Runner, opts ...Option) (*Coordinator, error) {
	if runner == nil {
		return nil, ErrNoRunner
	}
	c := &Coordinator{
		runner:     runner,
		budget:     DefaultRetryBudget,
		notify:     func(Notice) {},
		logger:     slog.Default(),
		target:     make(map[string]struct{}),
		loadedOnce: make(map[string]struct{}),
		subgraphs:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "compose")
	return c, nil
}

// Add registers the first successful snapshot of a subgraph and attempts
// composition. It returns nil when no decision was made.
func (c *Coordinator) Add(ctx context.Context, snap models.SubgraphSnapshot) *models.CompositionOutcome {
	if !c.applyAdd(snap) {
		return nil
	}
	return c.attempt(ctx)
}

// Update replaces a subgraph's snapshot when its schema text or routing URL
// changed and attempts composition.
func (c *Coordinator) Update(ctx context.Context, snap models.SubgraphSnapshot) *models.CompositionOutcome {
	if !c.applyUpdate(snap) {
		return nil
	}
	return c.attempt(ctx)
}

// Remove evicts a subgraph and composes the reduced set. A removed
// manifest subgraph is no longer waited for.
func (c *Coordinator) Remove(ctx context.Context, name string) *models.CompositionOutcome {
	if !c.applyRemove(name) {
		return nil
	}
	return c.attempt(ctx)
}

// OnFetchFailure spends one unit of the subgraph's retry budget. The
// subgraph is evicted when the budget reaches zero.
func (c *Coordinator) OnFetchFailure(ctx context.Context, name string, err error) *models.CompositionOutcome {
	if !c.applyFailure(name, err) {
		return nil
	}
	return c.attempt(ctx)
}

// Names returns the subgraphs currently in the map, sorted.
func (c *Coordinator) Names() []string {
	names := make([]string, 0, len(c.subgraphs))
	for n := range c.subgraphs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns the stored snapshot for name.
func (c *Coordinator) Snapshot(name string) (models.SubgraphSnapshot, bool) {
	e, ok := c.subgraphs[name]
	if !ok {
		return models.SubgraphSnapshot{}, false
	}
	return e.snapshot, true
}

// Budget returns the remaining retry budget for name.
func (c *Coordinator) Budget(name string) int {
	if e, ok := c.subgraphs[name]; ok {
		return e.budget
	}
	return 0
}

// Current returns the last successfully composed schema, if any.
func (c *Coordinator) Current() *models.ComposedSchema { return c.current }

// Attempts returns how many times the runner has been invoked.
func (c *Coordinator) Attempts() int { return c.attempts }

// FederationVersion returns the resolved version once composition has run.
func (c *Coordinator) FederationVersion() (VersionResolution, bool) {
	if c.resolved == nil {
		return VersionResolution{}, false
	}
	return *c.resolved, true
}

func (c *Coordinator) applyAdd(snap models.SubgraphSnapshot) bool {
	name := snap.Key.Name
	if _, ok := c.subgraphs[name]; ok {
		return c.applyUpdate(snap)
	}
	c.subgraphs[name] = &entry{snapshot: snap, budget: c.budget}
	c.loadedOnce[name] = struct{}{}
	c.logger.Debug("subgraph added", "subgraph", name)
	return true
}

func (c *Coordinator) applyUpdate(snap models.SubgraphSnapshot) bool {
	name := snap.Key.Name
	e, ok := c.subgraphs[name]
	if !ok {
		return c.applyAdd(snap)
	}
	e.budget = c.budget

	prev := e.snapshot
	urlChanged := prev.EffectiveRoutingURL() != snap.EffectiveRoutingURL()
	if prev.SDL == snap.SDL && !urlChanged {
		return false
	}
	if urlChanged {
		c.notify(Notice{
			Kind:     NoticeRoutingURLChanged,
			Subgraph: name,
			Message:  fmt.Sprintf("routing url changed from %q to %q", prev.EffectiveRoutingURL(), snap.EffectiveRoutingURL()),
		})
	}
	e.snapshot = snap
	return true
}

func (c *Coordinator) applyRemove(name string) bool {
	_, targeted := c.target[name]
	delete(c.target, name)
	if _, ok := c.subgraphs[name]; !ok {
		// Dropping a target that never loaded may open the gate.
		return targeted && !c.gateOpen
	}
	delete(c.subgraphs, name)
	c.logger.Debug("subgraph removed", "subgraph", name)
	return true
}

func (c *Coordinator) applyFailure(name string, err error) bool {
	e, ok := c.subgraphs[name]
	if !ok {
		c.notify(Notice{Kind: NoticeFetchWarning, Subgraph: name, Err: err,
			Message: "subgraph has not loaded yet"})
		return false
	}
	e.budget--
	if e.budget > 0 {
		c.notify(Notice{Kind: NoticeFetchWarning, Subgraph: name, Err: err,
			Message: fmt.Sprintf("serving last good schema, %d retries left", e.budget)})
		return false
	}
	delete(c.subgraphs, name)
	c.notify(Notice{Kind: NoticeEvicted, Subgraph: name, Err: err,
		Message: "retry budget exhausted, removed from composition"})
	return true
}

// attempt composes the current map, or records why it did not.
func (c *Coordinator) attempt(ctx context.Context) *models.CompositionOutcome {
	if len(c.subgraphs) == 0 {
		c.logger.Debug("no subgraphs to compose")
		return nil
	}

	if !c.gateOpen {
		loaded := 0
		for name := range c.target {
			if _, ok := c.loadedOnce[name]; ok {
				loaded++
			}
		}
		if loaded < len(c.target) {
			out := models.Deferred(loaded, len(c.target))
			c.notify(Notice{Kind: NoticeDeferred, Outcome: &out, Message: out.String()})
			return &out
		}
		c.gateOpen = true
	}

	sdls := make(map[string]string, len(c.subgraphs))
	for name, e := range c.subgraphs {
		sdls[name] = e.snapshot.SDL
	}
	if c.resolved == nil {
		res, err := ResolveFederationVersion(c.override, c.declared, sdls)
		if err != nil {
			out := models.Failed([]models.BuildError{{Message: err.Error(), Code: "FEDERATION_VERSION_MISMATCH"}})
			c.notify(Notice{Kind: NoticeCompositionFailed, Outcome: &out, Err: err, Message: out.String()})
			return &out
		}
		c.resolved = &res
		if res.Warning != "" {
			c.notify(Notice{Kind: NoticeVersionWarning, Message: res.Warning})
		}
	}

	req := Request{FederationVersion: c.resolved.Version}
	for _, name := range c.Names() {
		e := c.subgraphs[name]
		req.Subgraphs = append(req.Subgraphs, Input{
			Name:       name,
			RoutingURL: e.snapshot.EffectiveRoutingURL(),
			SDL:        e.snapshot.SDL,
		})
	}

	c.attempts++
	c.logger.Info("composing supergraph", "subgraphs", len(req.Subgraphs), "federation_version", req.FederationVersion.String())
	result, err := c.runner.Compose(ctx, req)
	if err != nil {
		out := models.Failed([]models.BuildError{{Message: err.Error(), Code: "COMPOSER_UNAVAILABLE"}})
		c.notify(Notice{Kind: NoticeCompositionFailed, Outcome: &out, Err: err, Message: out.String()})
		return &out
	}
	if len(result.Errors) > 0 {
		out := models.Failed(result.Errors)
		c.notify(Notice{Kind: NoticeCompositionFailed, Outcome: &out, Message: out.String()})
		return &out
	}

	schema := models.ComposedSchema{
		SDL:               result.SDL,
		FederationVersion: c.resolved.Version,
		Hints:             result.Hints,
	}
	c.current = &schema
	out := models.Succeeded(schema)
	c.notify(Notice{Kind: NoticeComposed, Outcome: &out, Message: out.String()})
	return &out
}
