package subgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ShayCichocki/graphdev/pkg/models"
)

// FetchError is a failed fetch of one subgraph.
type FetchError struct {
	Subgraph string
	Kind     models.SourceKind
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("subgraph %s (%s): %v", e.Subgraph, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Update is one emission of a watcher: either a snapshot or a fetch error.
type Update struct {
	Key      models.SubgraphKey
	Snapshot *models.SubgraphSnapshot
	Err      *FetchError
}

// Failed reports whether the update is a fetch failure.
func (u Update) Failed() bool { return u.Err != nil }

// Watcher produces the snapshot sequence for one subgraph.
type Watcher struct {
	key      models.SubgraphKey
	strategy Strategy
	logger   *slog.Logger
}

// NewWatcher creates a watcher for key using strategy.
func NewWatcher(key models.SubgraphKey, strategy Strategy, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		key:      key,
		strategy: strategy,
		logger:   logger.With("component", "watcher", "subgraph", key.Name, "kind", string(strategy.Kind())),
	}
}

// Key returns the subgraph the watcher serves.
func (w *Watcher) Key() models.SubgraphKey { return w.key }

// Kind returns the strategy kind.
func (w *Watcher) Kind() models.SourceKind { return w.strategy.Kind() }

// Run fetches immediately and then once per change until ctx is done or the
// strategy is exhausted. Updates are sent to out in emission order. Run
// returns nil on exhaustion and ctx.Err() on cancellation.
func (w *Watcher) Run(ctx context.Context, out chan<- Update) error {
	defer w.strategy.Close()

	for {
		update := w.fetch(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case out <- update:
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := w.strategy.NextChange(ctx); err != nil {
			switch {
			case errors.Is(err, ErrExhausted):
				w.logger.Debug("source exhausted")
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				// A broken change feed must not stop the subgraph; refetch.
				w.logger.Warn("change notification failed", "error", err)
			}
		}
	}
}

func (w *Watcher) fetch(ctx context.Context) Update {
	fetched, err := w.strategy.FetchOnce(ctx)
	if err != nil {
		return Update{
			Key: w.key,
			Err: &FetchError{Subgraph: w.key.Name, Kind: w.strategy.Kind(), Err: err},
		}
	}
	return Update{
		Key: w.key,
		Snapshot: &models.SubgraphSnapshot{
			Key:        w.key,
			SDL:        fetched.SDL,
			RoutingURL: fetched.RoutingURL,
		},
	}
}
