package state

import "io"

// SessionStore handles session-related persistence operations.
type SessionStore interface {
	CreateSession(s *Session) error
	GetSession(id string) (*Session, error)
	UpdateSession(s *Session) error
	EndSession(id string, status SessionStatus) error
	GetActiveSession() (*Session, error)
}

// SubgraphStore records per-subgraph status for a session.
type SubgraphStore interface {
	UpsertSubgraph(s *SubgraphStatus) error
	DeleteSubgraph(sessionID, name string) error
	ListSubgraphs(sessionID string) ([]SubgraphStatus, error)
}

// CompositionStore records composition attempts.
type CompositionStore interface {
	RecordComposition(c *Composition) error
	LastComposition(sessionID string) (*Composition, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore defines the interface for session persistence.
type StateStore interface {
	io.Closer
	Migrator
	SessionStore
	SubgraphStore
	CompositionStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore       = (*DB)(nil)
	_ Migrator         = (*DB)(nil)
	_ SessionStore     = (*DB)(nil)
	_ SubgraphStore    = (*DB)(nil)
	_ CompositionStore = (*DB)(nil)
)
