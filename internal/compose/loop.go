package compose

import (
	"context"

	"github.com/ShayCichocki/graphdev/pkg/models"
)

// Op is a coordinator message operation.
type Op string

const (
	OpAdd     Op = "add"
	OpUpdate  Op = "update"
	OpRemove  Op = "remove"
	OpFailure Op = "failure"
)

// Message is a request to mutate the subgraph map.
type Message struct {
	Op       Op
	Snapshot models.SubgraphSnapshot
	// Name is used by OpRemove and OpFailure.
	Name string
	Err  error
	// Reply, when set, receives the outcome of the composition decision that
	// covered this message. A nil outcome means nothing changed. Reply must
	// be buffered.
	Reply chan<- *models.CompositionOutcome
}

func (m Message) subgraph() string {
	if m.Name != "" {
		return m.Name
	}
	return m.Snapshot.Key.Name
}

// Run applies messages from in until ctx is done or in is closed. Messages
// already queued when one arrives are applied together and composed once.
func (c *Coordinator) Run(ctx context.Context, in <-chan Message) error {
	for {
		var first Message
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-in:
			if !ok {
				return nil
			}
			first = m
		}

		batch := []Message{first}
		dirty := c.apply(first)
		closed := false
	drain:
		for {
			select {
			case m, ok := <-in:
				if !ok {
					closed = true
					break drain
				}
				batch = append(batch, m)
				if c.apply(m) {
					dirty = true
				}
			default:
				break drain
			}
		}

		var out *models.CompositionOutcome
		if dirty {
			out = c.attempt(ctx)
		}
		if len(batch) > 1 {
			c.logger.Debug("coalesced subgraph changes", "messages", len(batch))
		}
		for _, m := range batch {
			if m.Reply != nil {
				select {
				case m.Reply <- out:
				default:
				}
			}
		}
		if closed {
			return nil
		}
	}
}

func (c *Coordinator) apply(m Message) bool {
	switch m.Op {
	case OpAdd:
		return c.applyAdd(m.Snapshot)
	case OpUpdate:
		return c.applyUpdate(m.Snapshot)
	case OpRemove:
		return c.applyRemove(m.subgraph())
	case OpFailure:
		return c.applyFailure(m.subgraph(), m.Err)
	default:
		c.logger.Warn("unknown coordinator message", "op", string(m.Op))
		return false
	}
}
