package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/graphdev/internal/compose"
	"github.com/ShayCichocki/graphdev/internal/ipc"
	"github.com/ShayCichocki/graphdev/pkg/models"
)

var _ ipc.Handler = (*Session)(nil)

// Handle answers a follower request. Follower subgraphs go through the same
// coordinator channel as manifest watchers, so a follower update is
// composed exactly like a local file change.
func (s *Session) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	if err := req.Validate(); err != nil {
		return ipc.Response{Type: ipc.ErrorNotification, Error: err.Error()}
	}

	var (
		m      compose.Message
		name   string
		action string
	)
	switch req.Type {
	case ipc.GetSubgraphs:
		return ipc.Response{Type: ipc.SubgraphList, Subgraphs: s.wireSubgraphs()}

	case ipc.AddSubgraph, ipc.UpdateSubgraph:
		sg := req.Subgraph
		name = sg.Name
		if s.declared(sg.Name) {
			return ipc.Response{
				Type:  ipc.ErrorNotification,
				Error: fmt.Sprintf("subgraph %s is declared in the manifest and cannot be supplied by a follower", sg.Name),
			}
		}
		snap := models.SubgraphSnapshot{
			Key: models.SubgraphKey{Name: sg.Name, RoutingURL: sg.RoutingURL},
			SDL: sg.SDL,
		}
		m = compose.Message{Op: compose.OpUpdate, Snapshot: snap}
		action = "updated subgraph " + sg.Name
		if req.Type == ipc.AddSubgraph {
			m.Op = compose.OpAdd
			action = "added subgraph " + sg.Name
		}
		s.track(snap)

	case ipc.RemoveSubgraph:
		name = req.Name
		if s.declared(req.Name) {
			return ipc.Response{
				Type:  ipc.ErrorNotification,
				Error: fmt.Sprintf("subgraph %s is declared in the manifest and cannot be removed by a follower", req.Name),
			}
		}
		s.untrack(req.Name)
		s.deleteSubgraphState(req.Name)
		m = compose.Message{Op: compose.OpRemove, Name: req.Name}
		action = "removed subgraph " + req.Name
	}

	reply := make(chan *models.CompositionOutcome, 1)
	m.Reply = reply
	if !s.send(ctx, m) {
		return ipc.Response{Type: ipc.ErrorNotification, Error: "session is shutting down"}
	}

	var out *models.CompositionOutcome
	select {
	case out = <-reply:
	case <-ctx.Done():
		return ipc.Response{Type: ipc.ErrorNotification, Error: "session is shutting down"}
	}

	s.debug.Trace("follower", "%s: %s -> %v", req.Follower, action, out)
	s.emitter.Emit(Event{Type: EventFollowerMessage, Subgraph: name, Message: action})
	return responseFor(action, out)
}

// responseFor maps a composition decision onto the legacy reply types.
func responseFor(action string, out *models.CompositionOutcome) ipc.Response {
	if out == nil {
		return ipc.Response{Type: ipc.MessageReceived, Action: action}
	}
	switch out.Kind {
	case models.OutcomeSuccess:
		return ipc.Response{Type: ipc.CompositionSuccess, Action: action}
	case models.OutcomePartialFailure:
		msgs := make([]string, 0, len(out.Errors))
		for _, be := range out.Errors {
			msgs = append(msgs, be.Error())
		}
		return ipc.Response{Type: ipc.ErrorNotification, Action: action, Error: strings.Join(msgs, "\n")}
	default:
		return ipc.Response{Type: ipc.MessageReceived, Action: action + "; " + out.String()}
	}
}

func (s *Session) wireSubgraphs() []ipc.Subgraph {
	snaps := s.Subgraphs()
	out := make([]ipc.Subgraph, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, ipc.Subgraph{
			Name:       snap.Key.Name,
			RoutingURL: snap.EffectiveRoutingURL(),
			SDL:        snap.SDL,
		})
	}
	return out
}

func (s *Session) deleteSubgraphState(name string) {
	if s.opts.store == nil {
		return
	}
	if err := s.opts.store.DeleteSubgraph(s.id, name); err != nil {
		s.logger.Warn("failed to delete subgraph status", "subgraph", name, "error", err)
	}
}
