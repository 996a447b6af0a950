package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SessionStatus represents the status of a dev session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// SubgraphState is the last known state of one subgraph.
type SubgraphState string

const (
	SubgraphLoading SubgraphState = "loading"
	SubgraphHealthy SubgraphState = "healthy"
	SubgraphStale   SubgraphState = "stale"
	SubgraphEvicted SubgraphState = "evicted"
)

// Session is one `graphdev dev` leader process.
type Session struct {
	ID           string        `json:"id"`
	Workdir      string        `json:"workdir"`
	IPCAddress   string        `json:"ipc_address"`
	RouterListen string        `json:"router_listen"`
	PID          int           `json:"pid"`
	RouterPID    int           `json:"router_pid"`
	Status       SessionStatus `json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	EndedAt      *time.Time    `json:"ended_at"`
}

// SubgraphStatus is the persisted view of one subgraph in a session.
type SubgraphStatus struct {
	SessionID  string        `json:"session_id"`
	Name       string        `json:"name"`
	RoutingURL string        `json:"routing_url"`
	State      SubgraphState `json:"state"`
	LastError  string        `json:"last_error"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Composition is one recorded composition decision.
type Composition struct {
	ID                int64     `json:"id"`
	SessionID         string    `json:"session_id"`
	Outcome           string    `json:"outcome"`
	FederationVersion string    `json:"federation_version"`
	SubgraphCount     int       `json:"subgraph_count"`
	ErrorCount        int       `json:"error_count"`
	CreatedAt         time.Time `json:"created_at"`
}

const sessionColumns = `id, workdir, ipc_address, router_listen, pid, router_pid, status, started_at, ended_at`

// CreateSession creates a new session.
func (db *DB) CreateSession(s *Session) error {
	_, err := db.Exec(`
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Workdir, s.IPCAddress, s.RouterListen, s.PID, s.RouterPID, string(s.Status),
		formatTime(s.StartedAt), nullableTime(s.EndedAt))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID. It returns nil when none exists.
func (db *DB) GetSession(id string) (*Session, error) {
	row := db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// UpdateSession updates a session.
func (db *DB) UpdateSession(s *Session) error {
	_, err := db.Exec(`
		UPDATE sessions SET workdir = ?, ipc_address = ?, router_listen = ?, pid = ?, router_pid = ?,
			status = ?, ended_at = ?
		WHERE id = ?
	`, s.Workdir, s.IPCAddress, s.RouterListen, s.PID, s.RouterPID, string(s.Status), nullableTime(s.EndedAt), s.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// EndSession marks a session finished with status.
func (db *DB) EndSession(id string, status SessionStatus) error {
	_, err := db.Exec(`UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// DeleteSession deletes a session and its subgraph and composition rows.
func (db *DB) DeleteSession(id string) error {
	_, err := db.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListSessions lists sessions, newest first, optionally filtered by status.
func (db *DB) ListSessions(status *SessionStatus) ([]Session, error) {
	var rows *sql.Rows
	var err error
	if status != nil {
		rows, err = db.Query(`SELECT `+sessionColumns+` FROM sessions WHERE status = ? ORDER BY started_at DESC`, string(*status))
	} else {
		rows, err = db.Query(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY started_at DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// GetActiveSession returns the newest active session, if any.
func (db *DB) GetActiveSession() (*Session, error) {
	status := SessionActive
	sessions, err := db.ListSessions(&status)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var s Session
	var startedAt string
	var endedAt sql.NullString
	if err := row.Scan(&s.ID, &s.Workdir, &s.IPCAddress, &s.RouterListen, &s.PID, &s.RouterPID,
		&s.Status, &startedAt, &endedAt); err != nil {
		return nil, err
	}
	s.StartedAt, _ = parseTime(startedAt)
	s.EndedAt = parseNullableTime(endedAt)
	return &s, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// UpsertSubgraph inserts or replaces a subgraph status row.
func (db *DB) UpsertSubgraph(s *SubgraphStatus) error {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO subgraph_status (session_id, name, routing_url, state, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, name) DO UPDATE SET
			routing_url = excluded.routing_url,
			state = excluded.state,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`, s.SessionID, s.Name, s.RoutingURL, string(s.State), s.LastError, formatTime(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert subgraph %s: %w", s.Name, err)
	}
	return nil
}

// DeleteSubgraph removes a subgraph status row.
func (db *DB) DeleteSubgraph(sessionID, name string) error {
	_, err := db.Exec(`DELETE FROM subgraph_status WHERE session_id = ? AND name = ?`, sessionID, name)
	if err != nil {
		return fmt.Errorf("delete subgraph %s: %w", name, err)
	}
	return nil
}

// ListSubgraphs returns the subgraphs of a session ordered by name.
func (db *DB) ListSubgraphs(sessionID string) ([]SubgraphStatus, error) {
	rows, err := db.Query(`
		SELECT session_id, name, routing_url, state, last_error, updated_at
		FROM subgraph_status WHERE session_id = ? ORDER BY name
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list subgraphs: %w", err)
	}
	defer rows.Close()

	var out []SubgraphStatus
	for rows.Next() {
		var s SubgraphStatus
		var updatedAt string
		if err := rows.Scan(&s.SessionID, &s.Name, &s.RoutingURL, &s.State, &s.LastError, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan subgraph: %w", err)
		}
		s.UpdatedAt, _ = parseTime(updatedAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecordComposition stores a composition decision and sets c.ID.
func (db *DB) RecordComposition(c *Composition) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	res, err := db.Exec(`
		INSERT INTO compositions (session_id, outcome, federation_version, subgraph_count, error_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.SessionID, c.Outcome, c.FederationVersion, c.SubgraphCount, c.ErrorCount, formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("record composition: %w", err)
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

// LastComposition returns the newest composition of a session, or nil.
func (db *DB) LastComposition(sessionID string) (*Composition, error) {
	row := db.QueryRow(`
		SELECT id, session_id, outcome, federation_version, subgraph_count, error_count, created_at
		FROM compositions WHERE session_id = ? ORDER BY id DESC LIMIT 1
	`, sessionID)

	var c Composition
	var createdAt string
	err := row.Scan(&c.ID, &c.SessionID, &c.Outcome, &c.FederationVersion, &c.SubgraphCount, &c.ErrorCount, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last composition: %w", err)
	}
	c.CreatedAt, _ = parseTime(createdAt)
	return &c, nil
}
