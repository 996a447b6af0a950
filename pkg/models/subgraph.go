package models

import (
	"fmt"
	"net/url"
	"strings"
)

// SubgraphKey identifies a subgraph within one dev session.
type SubgraphKey struct {
	// Name is the subgraph name as declared in the manifest.
	Name string `json:"name"`
	// RoutingURL is where the router sends queries for this subgraph.
	RoutingURL string `json:"routing_url,omitempty"`
}

// String returns the subgraph name, which is unique per session.
func (k SubgraphKey) String() string {
	return k.Name
}

// SourceKind names the concrete fetch strategy behind a subgraph.
type SourceKind string

const (
	// SourceFile reads SDL from a local file and follows its writes.
	SourceFile SourceKind = "file"
	// SourceIntrospect polls a running subgraph for its SDL.
	SourceIntrospect SourceKind = "introspect"
	// SourceRemoteRegistry fetches SDL once from the schema registry.
	SourceRemoteRegistry SourceKind = "registry"
	// SourceInline uses an SDL document supplied in the manifest.
	SourceInline SourceKind = "sdl"
)

// Valid returns true if the kind is a known value.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceFile, SourceIntrospect, SourceRemoteRegistry, SourceInline:
		return true
	default:
		return false
	}
}

// SubgraphSource is the declarative origin of a subgraph schema. The set of
// implementations is closed: FileSource, IntrospectSource,
// RemoteRegistrySource and InlineSource.
type SubgraphSource interface {
	// Kind reports which strategy the source resolves to.
	Kind() SourceKind
	// Validate checks that the source carries everything its strategy needs.
	Validate() error

	sealed()
}

// FileSource reads the schema from a file on disk.
type FileSource struct {
	Path string `json:"file"`
}

func (FileSource) Kind() SourceKind { return SourceFile }
func (FileSource) sealed()          {}

// Validate implements SubgraphSource.
func (s FileSource) Validate() error {
	if strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("file source: path is empty")
	}
	return nil
}

// IntrospectSource introspects a running subgraph server.
type IntrospectSource struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	// Unverified is set when the source was derived from a bare routing URL
	// and it is not yet known whether the URL serves a subgraph.
	Unverified bool `json:"-"`
}

func (IntrospectSource) Kind() SourceKind { return SourceIntrospect }
func (IntrospectSource) sealed()          {}

// Validate implements SubgraphSource.
func (s IntrospectSource) Validate() error {
	return validateURL("introspection source", s.URL)
}

// RemoteRegistrySource fetches a published subgraph from the registry.
type RemoteRegistrySource struct {
	GraphRef string `json:"graph_ref"`
	Subgraph string `json:"subgraph"`
}

func (RemoteRegistrySource) Kind() SourceKind { return SourceRemoteRegistry }
func (RemoteRegistrySource) sealed()          {}

// Validate implements SubgraphSource.
func (s RemoteRegistrySource) Validate() error {
	if s.GraphRef == "" {
		return fmt.Errorf("registry source: graph_ref is empty")
	}
	if !strings.Contains(s.GraphRef, "@") {
		return fmt.Errorf("registry source: graph_ref %q must be of the form graph@variant", s.GraphRef)
	}
	if s.Subgraph == "" {
		return fmt.Errorf("registry source: subgraph name is empty")
	}
	return nil
}

// InlineSource is an SDL document embedded in the manifest.
type InlineSource struct {
	SDL string `json:"sdl"`
}

func (InlineSource) Kind() SourceKind { return SourceInline }
func (InlineSource) sealed()          {}

// Validate implements SubgraphSource.
func (s InlineSource) Validate() error {
	if strings.TrimSpace(s.SDL) == "" {
		return fmt.Errorf("inline source: sdl is empty")
	}
	return nil
}

func validateURL(what, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s: url is empty", what)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: parse url: %w", what, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: url %q must be http or https", what, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: url %q has no host", what, raw)
	}
	return nil
}

// SubgraphSnapshot is the latest known-good state of one subgraph. Snapshots
// are values: an update replaces the whole snapshot.
type SubgraphSnapshot struct {
	Key SubgraphKey `json:"key"`
	// SDL is the subgraph schema document.
	SDL string `json:"sdl"`
	// RoutingURL overrides Key.RoutingURL when the source discovered one
	// during its first fetch (e.g. from the registry).
	RoutingURL string `json:"routing_url,omitempty"`
}

// EffectiveRoutingURL returns the discovered routing URL if present, else the
// routing URL the key was declared with.
func (s SubgraphSnapshot) EffectiveRoutingURL() string {
	if s.RoutingURL != "" {
		return s.RoutingURL
	}
	return s.Key.RoutingURL
}
