package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/revharvest/revharvest/internal/apperr"
)

// SessionState is the lifecycle state of a harvest session.
type SessionState string

// Session lifecycle states. Pending and running sessions may still change;
// completed, failed and cancelled are terminal.
const (
	StatePending   SessionState = "pending"
	StateRunning   SessionState = "running"
	StatePaused    SessionState = "paused"
	StateCompleted SessionState = "completed"
	StateFailed    SessionState = "failed"
	StateCancelled SessionState = "cancelled"
)

// Terminal reports whether no further transitions are possible from s.
func (s SessionState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// ParseState validates a user-supplied session state.
func ParseState(s string) (SessionState, error) {
	switch SessionState(strings.ToLower(s)) {
	case StatePending, StateRunning, StatePaused, StateCompleted, StateFailed, StateCancelled:
		return SessionState(strings.ToLower(s)), nil
	default:
		return "", fmt.Errorf("%w: unknown session state %q", apperr.ErrInvalidInput, s)
	}
}

// Session is the durable state of one harvest run. Cursor and the counters are
// persisted after every page so an interrupted session resumes where it left
// off, re-fetching at most one page.
type Session struct {
	ID             string       `db:"id" json:"id"`
	LookupKey      string       `db:"lookup_key" json:"lookup_key"`
	LookupKind     Kind         `db:"lookup_kind" json:"lookup_kind"`
	Provider       string       `db:"provider" json:"provider"`
	State          SessionState `db:"state" json:"state"`
	Cursor         string       `db:"cursor" json:"cursor,omitempty"`
	RecordsFetched int64        `db:"records_fetched" json:"records_fetched"`
	RecordsNew     int64        `db:"records_new" json:"records_new"`
	RecordsDropped int64        `db:"records_dropped" json:"records_dropped"`
	PagesFetched   int64        `db:"pages_fetched" json:"pages_fetched"`
	LastError      string       `db:"last_error" json:"last_error,omitempty"`
	StartedAt      time.Time    `db:"started_at" json:"started_at"`
	UpdatedAt      time.Time    `db:"updated_at" json:"updated_at"`
	FinishedAt     *time.Time   `db:"finished_at" json:"finished_at,omitempty"`
}

// Clone returns a deep copy of sess.
func (sess *Session) Clone() *Session {
	cp := *sess
	if sess.FinishedAt != nil {
		t := *sess.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}

// SessionFilter narrows session listings. Zero fields match everything.
type SessionFilter struct {
	LookupKey  string
	LookupKind Kind
	Provider   string
	State      SessionState
}

// CreateSession persists a new session row. StartedAt and UpdatedAt are
// stamped when unset.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	now := time.Now().UTC()
	if sess.StartedAt.IsZero() {
		sess.StartedAt = now
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, lookup_key, lookup_kind, provider, state, cursor,
			records_fetched, records_new, records_dropped, pages_fetched, last_error,
			started_at, updated_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.LookupKey, sess.LookupKind, sess.Provider, sess.State, sess.Cursor,
		sess.RecordsFetched, sess.RecordsNew, sess.RecordsDropped, sess.PagesFetched, sess.LastError,
		sess.StartedAt.UTC(), sess.UpdatedAt.UTC(), sess.FinishedAt)
	if err != nil {
		return fmt.Errorf("creating session %s: %w", sess.ID, err)
	}
	return nil
}

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.GetContext(ctx, &sess, "SELECT * FROM sessions WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: session %s", apperr.ErrNotFound, id)
		}
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	return &sess, nil
}

// ListSessions returns up to limit sessions matching f, most recently started
// first. limit <= 0 means no limit.
func (s *Store) ListSessions(ctx context.Context, f SessionFilter, limit int) ([]*Session, error) {
	var conds []string
	var args []any
	if f.LookupKey != "" {
		conds = append(conds, "lookup_key = ?")
		args = append(args, f.LookupKey)
	}
	if f.LookupKind != "" {
		conds = append(conds, "lookup_kind = ?")
		args = append(args, f.LookupKind)
	}
	if f.Provider != "" {
		conds = append(conds, "provider = ?")
		args = append(args, f.Provider)
	}
	if f.State != "" {
		conds = append(conds, "state = ?")
		args = append(args, f.State)
	}

	query := "SELECT * FROM sessions"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var sessions []*Session
	if err := s.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// SaveProgress writes all mutable session fields back to the row and stamps
// UpdatedAt on both the row and sess.
func (s *Store) SaveProgress(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET state = ?, cursor = ?, records_fetched = ?, records_new = ?,
			records_dropped = ?, pages_fetched = ?, last_error = ?,
			updated_at = ?, finished_at = ?
		WHERE id = ?`,
		sess.State, sess.Cursor, sess.RecordsFetched, sess.RecordsNew,
		sess.RecordsDropped, sess.PagesFetched, sess.LastError,
		sess.UpdatedAt, sess.FinishedAt, sess.ID)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", sess.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("saving session %s: %w", sess.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: session %s", apperr.ErrNotFound, sess.ID)
	}
	return nil
}

// RecoverInterrupted marks every running or pending session as paused and
// returns how many were touched. Called once at startup: such rows can only be
// leftovers of a process that died mid-harvest, and a paused session is
// resumable while a phantom running one would block new harvests forever.
func (s *Store) RecoverInterrupted(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET state = ?, updated_at = ? WHERE state IN (?, ?)",
		StatePaused, time.Now().UTC(), StateRunning, StatePending)
	if err != nil {
		return 0, fmt.Errorf("recovering interrupted sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recovering interrupted sessions: %w", err)
	}
	return int(n), nil
}
