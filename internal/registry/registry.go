// Package registry talks to the remote schema registry: it fetches published
// subgraph schemas and resolves the identity a router should report as.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNoCredentials is returned by operations that need an API key when none
// is configured.
var ErrNoCredentials = errors.New("no registry credentials configured")

// ErrNotFound is returned when the graph variant or subgraph does not exist.
var ErrNotFound = errors.New("not found in registry")

// Subgraph is a published subgraph.
type Subgraph struct {
	Name       string
	SDL        string
	RoutingURL string
}

// Identity is the remote context a dev router runs under.
type Identity struct {
	GraphRef string
	GraphID  string
	Variant  string
	APIKey   string
}

// Client is the remote registry collaborator.
type Client interface {
	FetchSubgraph(ctx context.Context, graphRef, subgraph string) (*Subgraph, error)
	FetchIdentity(ctx context.Context, graphRef string) (*Identity, error)
}

// SplitGraphRef splits "graph@variant". A missing variant means "current".
func SplitGraphRef(ref string) (graph, variant string, err error) {
	graph, variant, found := strings.Cut(ref, "@")
	if graph == "" {
		return "", "", fmt.Errorf("invalid graph ref %q", ref)
	}
	if !found || variant == "" {
		variant = "current"
	}
	return graph, variant, nil
}

// HTTPClient is a Client backed by the registry's GraphQL API.
type HTTPClient struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewHTTPClient creates a registry client. An empty apiKey yields a client
// whose calls fail with ErrNoCredentials.
func NewHTTPClient(endpoint, apiKey string) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

const subgraphFetchQuery = `query SubgraphFetchQuery($graph_ref: ID!, $subgraph_name: ID!) {
  variant(ref: $graph_ref) {
    __typename
    ... on GraphVariant {
      subgraph(name: $subgraph_name) {
        url
        activePartialSchema { sdl }
      }
    }
  }
}`

const identityQuery = `query GraphVariantIdentity($graph_ref: ID!) {
  variant(ref: $graph_ref) {
    __typename
    ... on GraphVariant { id name graph { id } }
  }
}`

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FetchSubgraph implements Client.
func (c *HTTPClient) FetchSubgraph(ctx context.Context, graphRef, subgraph string) (*Subgraph, error) {
	var data struct {
		Variant *struct {
			Typename string `json:"__typename"`
			Subgraph *struct {
				URL                 string `json:"url"`
				ActivePartialSchema struct {
					SDL string `json:"sdl"`
				} `json:"activePartialSchema"`
			} `json:"subgraph"`
		} `json:"variant"`
	}
	vars := map[string]any{"graph_ref": graphRef, "subgraph_name": subgraph}
	if err := c.do(ctx, subgraphFetchQuery, vars, &data); err != nil {
		return nil, err
	}
	if data.Variant == nil || data.Variant.Typename != "GraphVariant" {
		return nil, fmt.Errorf("graph ref %s: %w", graphRef, ErrNotFound)
	}
	if data.Variant.Subgraph == nil {
		return nil, fmt.Errorf("subgraph %s in %s: %w", subgraph, graphRef, ErrNotFound)
	}
	return &Subgraph{
		Name:       subgraph,
		SDL:        data.Variant.Subgraph.ActivePartialSchema.SDL,
		RoutingURL: data.Variant.Subgraph.URL,
	}, nil
}

// FetchIdentity implements Client.
func (c *HTTPClient) FetchIdentity(ctx context.Context, graphRef string) (*Identity, error) {
	graph, variant, err := SplitGraphRef(graphRef)
	if err != nil {
		return nil, err
	}
	var data struct {
		Variant *struct {
			Typename string `json:"__typename"`
			Name     string `json:"name"`
			Graph    struct {
				ID string `json:"id"`
			} `json:"graph"`
		} `json:"variant"`
	}
	if err := c.do(ctx, identityQuery, map[string]any{"graph_ref": graph + "@" + variant}, &data); err != nil {
		return nil, err
	}
	if data.Variant == nil || data.Variant.Typename != "GraphVariant" {
		return nil, fmt.Errorf("graph ref %s: %w", graphRef, ErrNotFound)
	}
	id := &Identity{
		GraphRef: graph + "@" + variant,
		GraphID:  data.Variant.Graph.ID,
		Variant:  data.Variant.Name,
		APIKey:   c.apiKey,
	}
	if id.GraphID == "" {
		id.GraphID = graph
	}
	if id.Variant == "" {
		id.Variant = variant
	}
	return id, nil
}

func (c *HTTPClient) do(ctx context.Context, query string, vars map[string]any, out any) error {
	if c.apiKey == "" {
		return ErrNoCredentials
	}

	body, err := json.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("apollographql-client-name", "graphdev")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("registry request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("read registry response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("registry rejected credentials (status %d)", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("registry request: unexpected status %d", resp.StatusCode)
	}

	var parsed gqlResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("decode registry response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		msgs := make([]string, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("registry: %s", strings.Join(msgs, "; "))
	}
	if err := json.Unmarshal(parsed.Data, out); err != nil {
		return fmt.Errorf("decode registry data: %w", err)
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)
