package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/go-cmp/cmp"

	"github.com/ShayCichocki/graphdev/internal/manifest"
	"github.com/ShayCichocki/graphdev/internal/state"
	"github.com/ShayCichocki/graphdev/internal/watchset"
)

const manifestSettle = 100 * time.Millisecond

// declared reports whether name is a manifest subgraph.
func (s *Session) declared(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.manifest[name]
	return ok
}

// watchManifest reloads the manifest file on every write and brings ws in
// line with it. It returns when ctx is done.
func (s *Session) watchManifest(ctx context.Context, ws *watchset.Set) {
	path, err := filepath.Abs(s.opts.manifestPath)
	if err != nil {
		path = filepath.Clean(s.opts.manifestPath)
	}
	logger := s.logger.With("manifest", path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("manifest watch unavailable", "error", err)
		return
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(path)); err != nil {
		logger.Warn("manifest watch unavailable", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("manifest watch error", "error", err)
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			quiesce(ctx, w.Events, manifestSettle)
			if ctx.Err() != nil {
				return
			}

			m, err := manifest.Load(path)
			if err != nil {
				logger.Warn("manifest reload failed, keeping current subgraphs", "error", err)
				s.emitter.Emit(Event{Type: EventManifestReloaded, Message: "manifest reload failed, keeping current subgraphs", Error: err})
				continue
			}
			s.reconcile(ws, m)
		}
	}
}

// reconcile starts watchers for new entries, stops watchers for dropped
// ones and restarts those whose source or routing URL changed. Dropped
// subgraphs leave composition through the watcher set's removal events.
func (s *Session) reconcile(ws *watchset.Set, m *manifest.Manifest) {
	next := make(map[string]manifest.Entry, len(m.Entries))
	for _, e := range m.Entries {
		next[e.Name] = e
	}

	s.mu.Lock()
	prev := s.manifest
	s.manifest = next
	s.mu.Unlock()

	var added, removed, changed []string
	for name, old := range prev {
		e, ok := next[name]
		switch {
		case !ok:
			removed = append(removed, name)
		case old.RoutingURL != e.RoutingURL || !cmp.Equal(old.Source, e.Source):
			changed = append(changed, name)
		}
	}
	for name := range next {
		if _, ok := prev[name]; !ok {
			added = append(added, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(changed)

	if len(added)+len(removed)+len(changed) == 0 {
		s.debug.Trace("manifest", "reloaded without subgraph changes")
		return
	}
	if m.FederationVersion != s.cfg.Manifest.FederationVersion {
		s.logger.Warn("federation version changes apply on the next session",
			"declared", m.FederationVersion.String())
	}

	for _, name := range append(removed, changed...) {
		ws.Remove(name)
	}
	for _, name := range append(changed, added...) {
		e := next[name]
		if err := ws.Add(e.Key(), e.Source); err != nil {
			s.logger.Warn("failed to watch subgraph", "subgraph", name, "error", err)
			continue
		}
		s.recordSubgraph(e.Name, e.RoutingURL, state.SubgraphLoading, "")
	}

	s.debug.Trace("manifest", "added %v removed %v changed %v", added, removed, changed)
	s.logger.Info("manifest reloaded", "added", added, "removed", removed, "changed", changed)
	s.emitter.Emit(Event{
		Type:    EventManifestReloaded,
		Message: fmt.Sprintf("manifest reloaded: %d added, %d removed, %d changed", len(added), len(removed), len(changed)),
	})
}

// quiesce discards events until the stream is quiet for d.
func quiesce(ctx context.Context, events <-chan fsnotify.Event, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(d)
		}
	}
}
