// Package ipc is the local-socket transport between a leader dev session
// and follower processes. Messages are line-delimited JSON.
package ipc

import (
	"encoding/json"
	"fmt"
)

// RequestType names a follower request.
type RequestType string

const (
	AddSubgraph    RequestType = "AddSubgraph"
	UpdateSubgraph RequestType = "UpdateSubgraph"
	RemoveSubgraph RequestType = "RemoveSubgraph"
	GetSubgraphs   RequestType = "GetSubgraphs"
)

// ResponseType names a leader reply.
type ResponseType string

const (
	CompositionSuccess ResponseType = "CompositionSuccess"
	ErrorNotification  ResponseType = "ErrorNotification"
	MessageReceived    ResponseType = "MessageReceived"
	SubgraphList       ResponseType = "Subgraphs"
)

// Subgraph is the wire form of a subgraph.
type Subgraph struct {
	Name       string `json:"name"`
	RoutingURL string `json:"routing_url,omitempty"`
	SDL        string `json:"sdl,omitempty"`
}

// Request is sent by a follower.
type Request struct {
	Type     RequestType `json:"type"`
	Follower string      `json:"follower,omitempty"`
	Subgraph *Subgraph   `json:"subgraph,omitempty"`
	Name     string      `json:"name,omitempty"`
}

// Response is sent by the leader for every request.
type Response struct {
	Type      ResponseType `json:"type"`
	Action    string       `json:"action,omitempty"`
	Error     string       `json:"error,omitempty"`
	Subgraphs []Subgraph   `json:"subgraphs,omitempty"`
}

// Validate checks that the request carries what its type needs.
func (r Request) Validate() error {
	switch r.Type {
	case AddSubgraph, UpdateSubgraph:
		if r.Subgraph == nil || r.Subgraph.Name == "" {
			return fmt.Errorf("%s requires a subgraph with a name", r.Type)
		}
		if r.Subgraph.SDL == "" {
			return fmt.Errorf("%s for %s requires sdl", r.Type, r.Subgraph.Name)
		}
	case RemoveSubgraph:
		if r.Name == "" {
			return fmt.Errorf("%s requires a name", r.Type)
		}
	case GetSubgraphs:
	default:
		return fmt.Errorf("unknown request type %q", r.Type)
	}
	return nil
}

func encodeLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
