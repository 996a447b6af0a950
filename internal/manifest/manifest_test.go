package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/graphdev/pkg/models"
)

const sampleManifest = `
federation_version: =2.3.4
subgraphs:
  products:
    routing_url: http://localhost:4001/graphql
    schema:
      file: ./products.graphql
  reviews:
    routing_url: http://localhost:4002/graphql
    schema:
      subgraph_url: http://localhost:4002/graphql
      introspection_headers:
        Authorization: Bearer ${MANIFEST_TEST_TOKEN}
  inventory:
    schema:
      graphref: shop@current
      subgraph: inventory
  users:
    routing_url: http://localhost:4004/graphql
    schema:
      sdl: |
        type Query { me: String }
  legacy:
    routing_url: http://localhost:4005/graphql
`

func TestParse(t *testing.T) {
	t.Setenv("MANIFEST_TEST_TOKEN", "t0k")

	m, err := Parse([]byte(sampleManifest), "/work")
	require.NoError(t, err)

	assert.Equal(t, models.FederationVersion{Major: 2, Exact: "2.3.4"}, m.FederationVersion)
	assert.Equal(t, []string{"inventory", "legacy", "products", "reviews", "users"}, m.Names())

	byName := map[string]Entry{}
	for _, e := range m.Entries {
		byName[e.Name] = e
	}

	assert.Equal(t, models.FileSource{Path: "/work/products.graphql"}, byName["products"].Source)
	assert.Equal(t, models.IntrospectSource{
		URL:     "http://localhost:4002/graphql",
		Headers: map[string]string{"Authorization": "Bearer t0k"},
	}, byName["reviews"].Source)
	assert.Equal(t, models.RemoteRegistrySource{GraphRef: "shop@current", Subgraph: "inventory"}, byName["inventory"].Source)
	assert.Equal(t, models.InlineSource{SDL: "type Query { me: String }\n"}, byName["users"].Source)
	assert.Equal(t, models.IntrospectSource{URL: "http://localhost:4005/graphql", Unverified: true}, byName["legacy"].Source)
	assert.Equal(t, models.SubgraphKey{Name: "users", RoutingURL: "http://localhost:4004/graphql"}, byName["users"].Key())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad yaml", "subgraphs: [\n"},
		{"bad federation version", "federation_version: 7\nsubgraphs: {}\n"},
		{"no source", "subgraphs:\n  a:\n    schema: {}\n"},
		{"two sources", "subgraphs:\n  a:\n    schema:\n      file: a.graphql\n      sdl: type Query { a: Int }\n"},
		{"invalid registry ref", "subgraphs:\n  a:\n    schema:\n      graphref: shop\n      subgraph: a\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), "/")
			assert.Error(t, err)
		})
	}
}

func TestParse_GraphRefDefaultsSubgraphToEntryName(t *testing.T) {
	doc := "subgraphs:\n  reviews:\n    routing_url: http://localhost:4003/graphql\n    schema:\n      graphref: shop@current\n"

	m, err := Parse([]byte(doc), "/")
	require.NoError(t, err)
	require.Len(t, m.Entries, 1)
	assert.Equal(t, models.RemoteRegistrySource{GraphRef: "shop@current", Subgraph: "reviews"}, m.Entries[0].Source)
}

func TestLoad_ResolvesRelativeToManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "supergraph.yaml")
	doc := "subgraphs:\n  a:\n    routing_url: http://localhost:4001\n    schema:\n      file: schemas/a.graphql\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	m, err := Load(path)
	require.NoError(t, err)
	require.Len(t, m.Entries, 1)
	assert.Equal(t, models.FileSource{Path: filepath.Join(dir, "schemas", "a.graphql")}, m.Entries[0].Source)
	assert.True(t, m.FederationVersion.IsZero())
}
