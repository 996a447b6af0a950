package subgraph

import (
	"fmt"
	"time"

	"github.com/ShayCichocki/graphdev/internal/introspect"
	"github.com/ShayCichocki/graphdev/internal/registry"
	"github.com/ShayCichocki/graphdev/pkg/models"
)

// DefaultPollInterval is used when a Resolver has no poll interval.
const DefaultPollInterval = time.Second

// Resolver converts declarative sources into strategies. It performs no I/O.
type Resolver struct {
	Introspector introspect.Fetcher
	Registry     registry.Client
	PollInterval time.Duration
}

// Resolve returns the strategy for source.
func (r *Resolver) Resolve(source models.SubgraphSource) (Strategy, error) {
	if source == nil {
		return nil, fmt.Errorf("resolve source: source is nil")
	}
	if err := source.Validate(); err != nil {
		return nil, fmt.Errorf("resolve source: %w", err)
	}

	interval := r.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	switch s := source.(type) {
	case models.FileSource:
		return newFileStrategy(s.Path, interval), nil
	case models.IntrospectSource:
		fetcher := r.Introspector
		if fetcher == nil {
			fetcher = introspect.NewClient(10 * time.Second)
		}
		return &introspectStrategy{
			url:          s.URL,
			headers:      s.Headers,
			fetcher:      fetcher,
			pollInterval: interval,
			unverified:   s.Unverified,
		}, nil
	case models.RemoteRegistrySource:
		return &registryStrategy{graphRef: s.GraphRef, subgraph: s.Subgraph, client: r.Registry}, nil
	case models.InlineSource:
		return &inlineStrategy{sdl: s.SDL}, nil
	default:
		return nil, fmt.Errorf("resolve source: unsupported source kind %q", source.Kind())
	}
}
