// Package introspect fetches subgraph schemas from running GraphQL servers.
package introspect

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

// subgraphQuery asks a federated subgraph for its own SDL.
const subgraphQuery = "query SubgraphIntrospectQuery { _service { sdl } }"

// ErrNotSubgraph is returned when the endpoint answers GraphQL but does not
// expose the subgraph _service field.
var ErrNotSubgraph = errors.New("endpoint is not a federated subgraph")

// Fetcher fetches SDL from a URL.
type Fetcher interface {
	FetchSDL(ctx context.Context, url string, headers map[string]string) (string, error)
}

// Client is an HTTP Fetcher.
type Client struct {
	http *http.Client
}

// NewClient creates a client with the given request timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{http: &http.Client{Timeout: timeout}}
}

type graphQLRequest struct {
	Query string `json:"query"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type subgraphResponse struct {
	Data *struct {
		Service *struct {
			SDL string `json:"sdl"`
		} `json:"_service"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// FetchSDL runs the subgraph introspection query against url.
func (c *Client) FetchSDL(ctx context.Context, url string, headers map[string]string) (string, error) {
	body, err := json.Marshal(graphQLRequest{Query: subgraphQuery})
	if err != nil {
		return "", fmt.Errorf("encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	// Routers and gateways reject requests without this header in some CSRF modes.
	req.Header.Set("apollographql-client-name", "graphdev")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("introspect %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("introspect %s: unexpected status %d", url, resp.StatusCode)
	}

	var parsed subgraphResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if parsed.Data == nil || parsed.Data.Service == nil {
		if len(parsed.Errors) > 0 {
			return "", fmt.Errorf("%w: %s", ErrNotSubgraph, joinErrors(parsed.Errors))
		}
		return "", ErrNotSubgraph
	}
	if len(parsed.Errors) > 0 {
		return "", fmt.Errorf("introspect %s: %s", url, joinErrors(parsed.Errors))
	}
	return parsed.Data.Service.SDL, nil
}

func joinErrors(errs []graphQLError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

var _ Fetcher = (*Client)(nil)
