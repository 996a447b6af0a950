package subgraph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/ShayCichocki/graphdev/internal/introspect"
	"github.com/ShayCichocki/graphdev/internal/registry"
	"github.com/ShayCichocki/graphdev/pkg/models"
)

// ErrExhausted is returned by NextChange for strategies that emit only once.
var ErrExhausted = errors.New("source emits no further changes")

// Fetched is the result of one successful fetch.
type Fetched struct {
	SDL string
	// RoutingURL is set when the source discovered a routing URL.
	RoutingURL string
}

// Strategy is the capability set shared by every watcher kind.
type Strategy interface {
	Kind() models.SourceKind
	// FetchOnce reads the current schema.
	FetchOnce(ctx context.Context) (Fetched, error)
	// NextChange blocks until the source may have changed, ctx is done, or
	// the strategy has nothing more to emit (ErrExhausted).
	NextChange(ctx context.Context) error
	// Close releases resources held by the strategy.
	Close() error
}

// fileStrategy watches a schema file.
type fileStrategy struct {
	path         string
	pollInterval time.Duration
	debounce     time.Duration

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	polling  bool
	lastMod  time.Time
	lastSize int64
}

func newFileStrategy(path string, pollInterval time.Duration) *fileStrategy {
	return &fileStrategy{
		path:         filepath.Clean(path),
		pollInterval: pollInterval,
		debounce:     25 * time.Millisecond,
	}
}

func (s *fileStrategy) Kind() models.SourceKind { return models.SourceFile }

func (s *fileStrategy) FetchOnce(ctx context.Context) (Fetched, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Fetched{}, fmt.Errorf("read %s: %w", s.path, err)
	}
	if info, err := os.Stat(s.path); err == nil {
		s.mu.Lock()
		s.lastMod, s.lastSize = info.ModTime(), info.Size()
		s.mu.Unlock()
	}
	if strings.TrimSpace(string(data)) == "" {
		return Fetched{}, fmt.Errorf("%s is empty", s.path)
	}
	return Fetched{SDL: string(data)}, nil
}

func (s *fileStrategy) NextChange(ctx context.Context) error {
	s.mu.Lock()
	if s.watcher == nil && !s.polling {
		if err := s.startWatcher(); err != nil {
			// Fall back to stat polling when the directory cannot be watched.
			s.polling = true
		}
	}
	w, polling := s.watcher, s.polling
	s.mu.Unlock()

	if polling {
		return s.pollChange(ctx)
	}
	err := s.waitEvent(ctx, w)
	if err != nil && ctx.Err() == nil {
		s.mu.Lock()
		if s.watcher != nil {
			s.watcher.Close()
			s.watcher = nil
		}
		s.polling = true
		s.mu.Unlock()
	}
	return err
}

func (s *fileStrategy) startWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory so editors that replace the file still notify.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return err
	}
	s.watcher = w
	return nil
}

func (s *fileStrategy) waitEvent(ctx context.Context, w *fsnotify.Watcher) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("file watcher closed")
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			s.drain(ctx, w)
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("file watcher closed")
			}
			return fmt.Errorf("watch %s: %w", s.path, err)
		}
	}
}

// drain swallows the burst of events editors produce for a single save.
func (s *fileStrategy) drain(ctx context.Context, w *fsnotify.Watcher) {
	timer := time.NewTimer(s.debounce)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case _, ok := <-w.Events:
			if !ok {
				return
			}
		}
	}
}

func (s *fileStrategy) pollChange(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			info, err := os.Stat(s.path)
			if err != nil {
				return nil
			}
			s.mu.Lock()
			changed := !info.ModTime().Equal(s.lastMod) || info.Size() != s.lastSize
			s.mu.Unlock()
			if changed {
				return nil
			}
		}
	}
}

func (s *fileStrategy) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		err := s.watcher.Close()
		s.watcher = nil
		return err
	}
	return nil
}

// introspectStrategy polls a running subgraph.
type introspectStrategy struct {
	url          string
	headers      map[string]string
	fetcher      introspect.Fetcher
	pollInterval time.Duration

	// unverified is true until the URL has answered as a subgraph once.
	mu         sync.Mutex
	unverified bool
}

func (s *introspectStrategy) Kind() models.SourceKind { return models.SourceIntrospect }

func (s *introspectStrategy) FetchOnce(ctx context.Context) (Fetched, error) {
	sdl, err := s.fetcher.FetchSDL(ctx, s.url, s.headers)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if s.unverified && errors.Is(err, introspect.ErrNotSubgraph) {
			return Fetched{}, fmt.Errorf("%s does not answer subgraph introspection; declare a schema source for it: %w", s.url, err)
		}
		return Fetched{}, err
	}
	s.unverified = false
	return Fetched{SDL: sdl}, nil
}

// Classified reports whether the URL has been confirmed to serve a subgraph.
func (s *introspectStrategy) Classified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.unverified
}

func (s *introspectStrategy) NextChange(ctx context.Context) error {
	timer := time.NewTimer(s.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *introspectStrategy) Close() error { return nil }

// registryStrategy fetches a published subgraph once.
type registryStrategy struct {
	graphRef string
	subgraph string
	client   registry.Client
}

func (s *registryStrategy) Kind() models.SourceKind { return models.SourceRemoteRegistry }

func (s *registryStrategy) FetchOnce(ctx context.Context) (Fetched, error) {
	if s.client == nil {
		return Fetched{}, registry.ErrNoCredentials
	}
	sg, err := s.client.FetchSubgraph(ctx, s.graphRef, s.subgraph)
	if err != nil {
		return Fetched{}, err
	}
	return Fetched{SDL: sg.SDL, RoutingURL: sg.RoutingURL}, nil
}

func (s *registryStrategy) NextChange(ctx context.Context) error { return ErrExhausted }
func (s *registryStrategy) Close() error                         { return nil }

// inlineStrategy serves an SDL document from the manifest.
type inlineStrategy struct {
	sdl string
}

func (s *inlineStrategy) Kind() models.SourceKind { return models.SourceInline }

func (s *inlineStrategy) FetchOnce(ctx context.Context) (Fetched, error) {
	if _, err := parser.ParseSchema(&ast.Source{Name: "inline", Input: s.sdl}); err != nil {
		return Fetched{}, fmt.Errorf("parse inline sdl: %w", err)
	}
	return Fetched{SDL: s.sdl}, nil
}

func (s *inlineStrategy) NextChange(ctx context.Context) error { return ErrExhausted }
func (s *inlineStrategy) Close() error                         { return nil }
