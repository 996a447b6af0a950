// Package manifest loads the supergraph manifest: the declarative list of
// subgraphs a dev session composes, plus an optional federation version.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/graphdev/pkg/models"
)

// Entry is one declared subgraph.
type Entry struct {
	Name       string
	RoutingURL string
	Source     models.SubgraphSource
}

// Key returns the session identity of the entry.
func (e Entry) Key() models.SubgraphKey {
	return models.SubgraphKey{Name: e.Name, RoutingURL: e.RoutingURL}
}

// Manifest is a parsed supergraph manifest.
type Manifest struct {
	// FederationVersion is zero when the manifest does not declare one.
	FederationVersion models.FederationVersion
	// Entries are sorted by name.
	Entries []Entry
}

// Names returns the declared subgraph names.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Entries))
	for _, e := range m.Entries {
		names = append(names, e.Name)
	}
	return names
}

type rawManifest struct {
	FederationVersion string                 `yaml:"federation_version"`
	Subgraphs         map[string]rawSubgraph `yaml:"subgraphs"`
}

type rawSubgraph struct {
	RoutingURL string    `yaml:"routing_url"`
	Schema     rawSchema `yaml:"schema"`
}

type rawSchema struct {
	File                 string            `yaml:"file"`
	SubgraphURL          string            `yaml:"subgraph_url"`
	IntrospectionHeaders map[string]string `yaml:"introspection_headers"`
	GraphRef             string            `yaml:"graphref"`
	Subgraph             string            `yaml:"subgraph"`
	SDL                  string            `yaml:"sdl"`
}

// Load reads and parses a manifest file. Relative file sources are resolved
// against the manifest's directory.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}
	return Parse(data, filepath.Dir(abs))
}

// Parse parses manifest YAML.
func Parse(data []byte, baseDir string) (*Manifest, error) {
	var raw rawManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	m := &Manifest{}
	if raw.FederationVersion != "" {
		v, err := models.ParseFederationVersion(raw.FederationVersion)
		if err != nil {
			return nil, fmt.Errorf("parse manifest: %w", err)
		}
		m.FederationVersion = v
	}

	for name, sg := range raw.Subgraphs {
		source, err := sg.Schema.toSource(name, sg.RoutingURL, baseDir)
		if err != nil {
			return nil, fmt.Errorf("subgraph %q: %w", name, err)
		}
		if err := source.Validate(); err != nil {
			return nil, fmt.Errorf("subgraph %q: %w", name, err)
		}
		m.Entries = append(m.Entries, Entry{
			Name:       name,
			RoutingURL: sg.RoutingURL,
			Source:     source,
		})
	}

	sort.Slice(m.Entries, func(i, j int) bool { return m.Entries[i].Name < m.Entries[j].Name })
	return m, nil
}

func (s rawSchema) toSource(name, routingURL, baseDir string) (models.SubgraphSource, error) {
	set := 0
	for _, present := range []bool{s.File != "", s.SubgraphURL != "", s.GraphRef != "", s.SDL != ""} {
		if present {
			set++
		}
	}
	if set > 1 {
		return nil, fmt.Errorf("schema must declare exactly one of file, subgraph_url, graphref or sdl")
	}

	switch {
	case s.File != "":
		path := s.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		return models.FileSource{Path: path}, nil
	case s.SubgraphURL != "":
		return models.IntrospectSource{URL: s.SubgraphURL, Headers: expandHeaders(s.IntrospectionHeaders)}, nil
	case s.GraphRef != "":
		subgraph := s.Subgraph
		if subgraph == "" {
			subgraph = name
		}
		return models.RemoteRegistrySource{GraphRef: s.GraphRef, Subgraph: subgraph}, nil
	case s.SDL != "":
		return models.InlineSource{SDL: s.SDL}, nil
	case routingURL != "":
		// Only a routing URL: whether it serves a subgraph is decided on the
		// watcher's first run.
		return models.IntrospectSource{URL: routingURL, Unverified: true}, nil
	default:
		return nil, fmt.Errorf("no schema source and no routing_url")
	}
}

func expandHeaders(h map[string]string) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = os.ExpandEnv(v)
	}
	return out
}
