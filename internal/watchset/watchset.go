// Package watchset runs one subgraph watcher per configured subgraph and
// multiplexes their updates into a single event stream.
package watchset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ShayCichocki/graphdev/internal/subgraph"
	"github.com/ShayCichocki/graphdev/pkg/models"
)

var (
	// ErrDuplicate is returned when a subgraph name is already watched.
	ErrDuplicate = errors.New("subgraph already watched")
	// ErrClosed is returned by Add after Close.
	ErrClosed = errors.New("watcher set closed")
)

// EventKind identifies a watcher set event.
type EventKind string

const (
	// EventAdded is the first successful snapshot of a subgraph.
	EventAdded EventKind = "added"
	// EventUpdated is any later successful snapshot.
	EventUpdated EventKind = "updated"
	// EventFetchFailed is a failed fetch.
	EventFetchFailed EventKind = "fetch_failed"
	// EventRemoved is the last event for a subgraph whose watcher was stopped.
	EventRemoved EventKind = "removed"
)

// Event is one subgraph-level event. Events of the same subgraph arrive in
// emission order.
type Event struct {
	Kind     EventKind
	Key      models.SubgraphKey
	Snapshot *models.SubgraphSnapshot
	Err      *subgraph.FetchError
}

// Resolver turns a declarative source into a watch strategy.
type Resolver interface {
	Resolve(source models.SubgraphSource) (subgraph.Strategy, error)
}

var _ Resolver = (*subgraph.Resolver)(nil)

type member struct {
	key    models.SubgraphKey
	cancel context.CancelFunc
	done   chan struct{}
}

// Set owns the running watchers.
type Set struct {
	resolver Resolver
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	out    chan Event

	mu      sync.Mutex
	members map[string]*member
	closed  bool
	wg      sync.WaitGroup
}

// New creates a Set whose watchers live until ctx is done or Close is called.
func New(ctx context.Context, resolver Resolver, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Set{
		resolver: resolver,
		logger:   logger.With("component", "watchset"),
		ctx:      ctx,
		cancel:   cancel,
		out:      make(chan Event, 64),
		members:  make(map[string]*member),
	}
}

// Events returns the multiplexed stream. It is closed by Close.
func (s *Set) Events() <-chan Event { return s.out }

// Add resolves source and starts a watcher for key.
func (s *Set) Add(key models.SubgraphKey, source models.SubgraphSource) error {
	strategy, err := s.resolver.Resolve(source)
	if err != nil {
		return fmt.Errorf("add subgraph %s: %w", key.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		strategy.Close()
		return ErrClosed
	}
	if _, ok := s.members[key.Name]; ok {
		strategy.Close()
		return fmt.Errorf("add subgraph %s: %w", key.Name, ErrDuplicate)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	m := &member{key: key, cancel: cancel, done: make(chan struct{})}
	s.members[key.Name] = m

	w := subgraph.NewWatcher(key, strategy, s.logger)
	s.wg.Add(1)
	go s.run(ctx, m, w)

	s.logger.Info("watching subgraph", "subgraph", key.Name, "kind", string(strategy.Kind()))
	return nil
}

// Remove stops the watcher for name. It reports whether one was running.
// The subgraph's final event is EventRemoved.
func (s *Set) Remove(name string) bool {
	s.mu.Lock()
	m, ok := s.members[name]
	if ok {
		delete(s.members, name)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	m.cancel()
	<-m.done
	return true
}

// Names returns the watched subgraph names, sorted.
func (s *Set) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.members))
	for name := range s.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Active returns the number of running watchers.
func (s *Set) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// Close cancels every watcher, waits for them and closes the event stream.
func (s *Set) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.members = make(map[string]*member)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	close(s.out)
}

func (s *Set) run(ctx context.Context, m *member, w *subgraph.Watcher) {
	defer s.wg.Done()
	defer close(m.done)

	updates := make(chan subgraph.Update)
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx, updates) }()

	seen := false
	for {
		select {
		case u := <-updates:
			ev := Event{Key: m.key, Snapshot: u.Snapshot, Err: u.Err}
			switch {
			case u.Failed():
				ev.Kind = EventFetchFailed
			case !seen:
				ev.Kind = EventAdded
				seen = true
			default:
				ev.Kind = EventUpdated
			}
			if !s.emit(ev) {
				<-runDone
				return
			}
		case err := <-runDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("watcher stopped", "subgraph", m.key.Name, "error", err)
			}
			if ctx.Err() == nil {
				// Exhausted one-shot sources stay registered until removed.
				<-ctx.Done()
			}
			s.emit(Event{Kind: EventRemoved, Key: m.key})
			return
		}
	}
}

// emit sends ev unless the whole set is shutting down.
func (s *Set) emit(ev Event) bool {
	select {
	case s.out <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}
