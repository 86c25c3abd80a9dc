package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/revharvest/revharvest/internal/apperr"
)

// Kind classifies a reverse lookup: which DNS role the lookup key plays.
type Kind string

// Lookup kinds.
const (
	KindMX Kind = "mx"
	KindNS Kind = "ns"
)

// ParseKind validates a user-supplied lookup kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(s)) {
	case KindMX:
		return KindMX, nil
	case KindNS:
		return KindNS, nil
	default:
		return "", fmt.Errorf("%w: unknown lookup kind %q (want mx or ns)", apperr.ErrInvalidInput, s)
	}
}

// Record is one harvested reverse-lookup hit: subject_domain uses lookup_key
// as its MX or NS host. The (subject_domain, lookup_key, lookup_kind) triple
// is unique across all providers and sessions.
type Record struct {
	ID            int64     `db:"id" json:"id"`
	SubjectDomain string    `db:"subject_domain" json:"subject_domain"`
	LookupKey     string    `db:"lookup_key" json:"lookup_key"`
	LookupKind    Kind      `db:"lookup_kind" json:"lookup_kind"`
	Provider      string    `db:"provider" json:"provider"`
	SessionID     string    `db:"session_id" json:"session_id"`
	FetchedAt     time.Time `db:"fetched_at" json:"fetched_at"`
}

// Filter narrows record queries. Zero fields match everything.
type Filter struct {
	LookupKey  string
	LookupKind Kind
	Provider   string
	SessionID  string
}

func (f Filter) where() (string, []any) {
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
	if f.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return strings.Join(conds, " AND "), args
}

// UpsertResult reports how a batch landed.
type UpsertResult struct {
	Inserted  int64 `json:"inserted"`
	Duplicate int64 `json:"duplicate"`
}

// PageCursor is a keyset cursor over the (fetched_at, id) stream order.
// The zero value starts from the beginning.
type PageCursor struct {
	FetchedAt time.Time
	ID        int64
}

// IsZero reports whether the cursor points at the start of the stream.
func (c PageCursor) IsZero() bool {
	return c.ID == 0 && c.FetchedAt.IsZero()
}

const upsertRecordSQL = `
INSERT INTO records (subject_domain, lookup_key, lookup_kind, provider, session_id, fetched_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (subject_domain, lookup_key, lookup_kind) DO NOTHING`

const refreshRecordSQL = `
INSERT INTO records (subject_domain, lookup_key, lookup_kind, provider, session_id, fetched_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (subject_domain, lookup_key, lookup_kind)
DO UPDATE SET provider = excluded.provider, session_id = excluded.session_id, fetched_at = excluded.fetched_at`

// UpsertBatch inserts recs in one transaction, silently skipping rows whose
// uniqueness triple already exists. Existing rows are left untouched; use
// RefreshBatch to update their metadata instead. Either the whole batch lands
// or none of it does.
func (s *Store) UpsertBatch(ctx context.Context, recs []Record) (UpsertResult, error) {
	var res UpsertResult
	if len(recs) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("beginning record batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertRecordSQL)
	if err != nil {
		return res, fmt.Errorf("preparing record insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range recs {
		result, err := stmt.ExecContext(ctx,
			r.SubjectDomain, r.LookupKey, r.LookupKind, r.Provider, r.SessionID, r.FetchedAt.UTC())
		if err != nil {
			return UpsertResult{}, fmt.Errorf("inserting record %q: %w", r.SubjectDomain, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return UpsertResult{}, fmt.Errorf("counting inserted rows: %w", err)
		}
		res.Inserted += n
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("committing record batch: %w", err)
	}

	res.Duplicate = int64(len(recs)) - res.Inserted
	return res, nil
}

// RefreshBatch behaves like UpsertBatch but refreshes provider, session_id and
// fetched_at on rows that already exist. This is the only write path that
// touches metadata of existing records. Refreshed rows count as Duplicate.
func (s *Store) RefreshBatch(ctx context.Context, recs []Record) (UpsertResult, error) {
	var res UpsertResult
	if len(recs) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("beginning record batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The DO UPDATE branch reports affected rows just like a plain insert, so
	// new rows are told apart by checking existence up front.
	existsStmt, err := tx.PrepareContext(ctx,
		"SELECT COUNT(*) FROM records WHERE subject_domain = ? AND lookup_key = ? AND lookup_kind = ?")
	if err != nil {
		return res, fmt.Errorf("preparing existence check: %w", err)
	}
	defer func() { _ = existsStmt.Close() }()

	stmt, err := tx.PrepareContext(ctx, refreshRecordSQL)
	if err != nil {
		return res, fmt.Errorf("preparing record refresh: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range recs {
		var n int
		if err := existsStmt.QueryRowContext(ctx, r.SubjectDomain, r.LookupKey, r.LookupKind).Scan(&n); err != nil {
			return UpsertResult{}, fmt.Errorf("checking record %q: %w", r.SubjectDomain, err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.SubjectDomain, r.LookupKey, r.LookupKind, r.Provider, r.SessionID, r.FetchedAt.UTC()); err != nil {
			return UpsertResult{}, fmt.Errorf("refreshing record %q: %w", r.SubjectDomain, err)
		}
		if n == 0 {
			res.Inserted++
		} else {
			res.Duplicate++
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("committing record batch: %w", err)
	}

	return res, nil
}

// Exists reports whether the uniqueness triple is already stored.
func (s *Store) Exists(ctx context.Context, subjectDomain, lookupKey string, kind Kind) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM records WHERE subject_domain = ? AND lookup_key = ? AND lookup_kind = ?",
		subjectDomain, lookupKey, kind)
	if err != nil {
		return false, fmt.Errorf("checking record existence: %w", err)
	}
	return n > 0, nil
}

// QueryPage returns up to limit records matching f, in (fetched_at, id) order,
// starting after cur. Pass the returned cursor back in to continue the stream;
// callers stop when fewer than limit rows come back.
func (s *Store) QueryPage(ctx context.Context, f Filter, cur PageCursor, limit int) ([]Record, PageCursor, error) {
	where, args := f.where()

	var sb strings.Builder
	sb.WriteString("SELECT id, subject_domain, lookup_key, lookup_kind, provider, session_id, fetched_at FROM records")
	conds := where
	if !cur.IsZero() {
		keyset := "(fetched_at > ? OR (fetched_at = ? AND id > ?))"
		if conds != "" {
			conds += " AND " + keyset
		} else {
			conds = keyset
		}
		args = append(args, cur.FetchedAt.UTC(), cur.FetchedAt.UTC(), cur.ID)
	}
	if conds != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(conds)
	}
	sb.WriteString(" ORDER BY fetched_at ASC, id ASC LIMIT ?")
	args = append(args, limit)

	var recs []Record
	if err := s.db.SelectContext(ctx, &recs, sb.String(), args...); err != nil {
		return nil, cur, fmt.Errorf("querying records: %w", err)
	}

	next := cur
	if len(recs) > 0 {
		last := recs[len(recs)-1]
		next = PageCursor{FetchedAt: last.FetchedAt, ID: last.ID}
	}
	return recs, next, nil
}

// CountMatching returns the number of records matching f.
func (s *Store) CountMatching(ctx context.Context, f Filter) (int64, error) {
	where, args := f.where()
	query := "SELECT COUNT(*) FROM records"
	if where != "" {
		query += " WHERE " + where
	}

	var n int64
	if err := s.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}
