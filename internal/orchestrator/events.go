package orchestrator

import (
	"time"

	"github.com/ShayCichocki/graphdev/internal/router"
	"github.com/ShayCichocki/graphdev/pkg/models"
)

// EventType represents the type of session event.
type EventType string

const (
	// EventSessionStarted indicates the session is watching its subgraphs.
	EventSessionStarted EventType = "session_started"
	// EventSubgraphLoaded indicates the first successful fetch of a subgraph.
	EventSubgraphLoaded EventType = "subgraph_loaded"
	// EventSubgraphUpdated indicates a later successful fetch.
	EventSubgraphUpdated EventType = "subgraph_updated"
	// EventSubgraphFetchFailed indicates a failed fetch; the last good schema
	// is still being served.
	EventSubgraphFetchFailed EventType = "subgraph_fetch_failed"
	// EventSubgraphEvicted indicates a subgraph exhausted its retry budget.
	EventSubgraphEvicted EventType = "subgraph_evicted"
	// EventSubgraphRemoved indicates a subgraph was removed on request.
	EventSubgraphRemoved EventType = "subgraph_removed"
	// EventManifestReloaded indicates the manifest file changed and the
	// watched subgraphs were brought in line with it.
	EventManifestReloaded EventType = "manifest_reloaded"
	// EventRoutingURLChanged indicates a subgraph moved to a new routing URL.
	EventRoutingURLChanged EventType = "routing_url_changed"
	// EventCompositionSucceeded indicates a new supergraph was composed.
	EventCompositionSucceeded EventType = "composition_succeeded"
	// EventCompositionFailed indicates the composer rejected the subgraph set.
	EventCompositionFailed EventType = "composition_failed"
	// EventCompositionDeferred indicates composition waits for more subgraphs.
	EventCompositionDeferred EventType = "composition_deferred"
	// EventCompositionHint carries a non-fatal composition hint.
	EventCompositionHint EventType = "composition_hint"
	// EventFederationVersion reports an inferred or defaulted version.
	EventFederationVersion EventType = "federation_version"
	// EventRouterStage indicates the router lifecycle entered a stage.
	EventRouterStage EventType = "router_stage"
	// EventRouterHealthy indicates the router passed its first health check.
	EventRouterHealthy EventType = "router_healthy"
	// EventRouterLog carries one line of router output.
	EventRouterLog EventType = "router_log"
	// EventHotReload indicates a hot-reload file was written (or failed to be).
	EventHotReload EventType = "hot_reload"
	// EventFollowerMessage indicates a follower request was handled.
	EventFollowerMessage EventType = "follower_message"
	// EventSessionDone indicates the session has shut down.
	EventSessionDone EventType = "session_done"
)

// Event represents an event emitted by a session.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// Subgraph is the related subgraph, if applicable.
	Subgraph string
	// Stage is the router stage for router events.
	Stage router.Stage
	// Stream is set for router log lines.
	Stream router.Stream
	// Path is the written file for hot-reload events.
	Path string
	// Message provides additional context about the event.
	Message string
	// Outcome is set for composition events.
	Outcome *models.CompositionOutcome
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
