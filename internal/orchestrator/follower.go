package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ShayCichocki/graphdev/internal/ipc"
	"github.com/ShayCichocki/graphdev/internal/subgraph"
	"github.com/ShayCichocki/graphdev/internal/watchset"
	"github.com/ShayCichocki/graphdev/pkg/models"
)

// LeaderClient is the follower's view of a leader session.
type LeaderClient interface {
	AddSubgraph(ctx context.Context, sg ipc.Subgraph) (ipc.Response, error)
	UpdateSubgraph(ctx context.Context, sg ipc.Subgraph) (ipc.Response, error)
	RemoveSubgraph(ctx context.Context, name string) (ipc.Response, error)
}

var _ LeaderClient = (*ipc.Client)(nil)

// Follower watches a single subgraph and forwards every change to a leader.
type Follower struct {
	client   LeaderClient
	key      models.SubgraphKey
	source   models.SubgraphSource
	resolver watchset.Resolver
	logger   *slog.Logger
	emitter  *EventEmitter
}

// NewFollower creates a follower for key. A nil resolver uses a default
// subgraph.Resolver; a nil logger uses slog.Default.
func NewFollower(client LeaderClient, key models.SubgraphKey, source models.SubgraphSource, resolver watchset.Resolver, logger *slog.Logger) *Follower {
	if resolver == nil {
		resolver = &subgraph.Resolver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "follower", "subgraph", key.Name)
	return &Follower{
		client:   client,
		key:      key,
		source:   source,
		resolver: resolver,
		logger:   logger,
		emitter:  NewEventEmitter(64, logger),
	}
}

// Events returns the follower event stream. It is closed when Run returns.
func (f *Follower) Events() <-chan Event { return f.emitter.Events() }

// Run forwards the subgraph until ctx is done, then asks the leader to
// remove it. A leader that stops answering ends Run with an error.
func (f *Follower) Run(ctx context.Context) error {
	defer f.emitter.Close()

	ws := watchset.New(ctx, f.resolver, f.logger)
	defer ws.Close()
	if err := ws.Add(f.key, f.source); err != nil {
		return err
	}

	var last *ipc.Subgraph
	defer func() {
		if last != nil {
			f.remove()
		}
	}()

	events := ws.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case watchset.EventAdded, watchset.EventUpdated:
				sg := ipc.Subgraph{
					Name:       ev.Snapshot.Key.Name,
					RoutingURL: ev.Snapshot.EffectiveRoutingURL(),
					SDL:        ev.Snapshot.SDL,
				}
				if last != nil && *last == sg {
					continue
				}
				if err := f.forward(ctx, sg, last == nil); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				last = &sg
			case watchset.EventFetchFailed:
				f.logger.Warn("subgraph fetch failed; leader keeps the last schema", "error", ev.Err)
				f.emitter.Emit(Event{Type: EventSubgraphFetchFailed, Subgraph: f.key.Name, Error: ev.Err})
			}
		}
	}
}

func (f *Follower) forward(ctx context.Context, sg ipc.Subgraph, first bool) error {
	var (
		resp ipc.Response
		err  error
	)
	if first {
		resp, err = f.client.AddSubgraph(ctx, sg)
	} else {
		resp, err = f.client.UpdateSubgraph(ctx, sg)
	}
	if err != nil && resp.Type != ipc.ErrorNotification {
		return fmt.Errorf("forward subgraph %s: %w", sg.Name, err)
	}

	switch resp.Type {
	case ipc.CompositionSuccess:
		f.logger.Info("leader composed supergraph", "action", resp.Action)
		f.emitter.Emit(Event{Type: EventCompositionSucceeded, Subgraph: sg.Name, Message: resp.Action})
	case ipc.ErrorNotification:
		f.logger.Warn("leader reported an error", "action", resp.Action, "error", resp.Error)
		f.emitter.Emit(Event{Type: EventCompositionFailed, Subgraph: sg.Name, Message: resp.Error, Error: err})
	default:
		f.logger.Info("leader received subgraph", "action", resp.Action)
		f.emitter.Emit(Event{Type: EventFollowerMessage, Subgraph: sg.Name, Message: resp.Action})
	}
	return nil
}

func (f *Follower) remove() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := f.client.RemoveSubgraph(ctx, f.key.Name); err != nil {
		f.logger.Warn("could not remove subgraph from leader", "error", err)
		return
	}
	f.logger.Info("removed subgraph from leader")
}
