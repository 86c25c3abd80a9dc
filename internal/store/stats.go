package store

import (
	"context"
	"fmt"
)

// topKeyLimit caps the per-kind "most harvested" listings in Stats.
const topKeyLimit = 10

// KeyCount is one lookup key with its harvested record count.
type KeyCount struct {
	LookupKey  string `db:"lookup_key" json:"lookup_key"`
	LookupKind Kind   `db:"lookup_kind" json:"lookup_kind"`
	Count      int64  `db:"n" json:"count"`
}

// Stats aggregates the database for the stats command.
type Stats struct {
	TotalRecords   int64            `json:"total_records"`
	ByKind         map[Kind]int64   `json:"by_kind"`
	ByProvider     map[string]int64 `json:"by_provider"`
	DistinctKeys   map[Kind]int64   `json:"distinct_keys"`
	TopKeys        []KeyCount       `json:"top_keys"`
	RecentSessions []*Session       `json:"recent_sessions"`
}

// Stats gathers record totals, per-kind and per-provider breakdowns, the most
// harvested lookup keys of each kind, and the most recent sessions.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByKind:       map[Kind]int64{},
		ByProvider:   map[string]int64{},
		DistinctKeys: map[Kind]int64{},
	}

	if err := s.db.GetContext(ctx, &stats.TotalRecords, "SELECT COUNT(*) FROM records"); err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}

	type kindCount struct {
		Kind Kind  `db:"lookup_kind"`
		N    int64 `db:"n"`
	}
	var kinds []kindCount
	if err := s.db.SelectContext(ctx, &kinds,
		"SELECT lookup_kind, COUNT(*) AS n FROM records GROUP BY lookup_kind"); err != nil {
		return nil, fmt.Errorf("counting records by kind: %w", err)
	}
	for _, kc := range kinds {
		stats.ByKind[kc.Kind] = kc.N
	}

	type providerCount struct {
		Provider string `db:"provider"`
		N        int64  `db:"n"`
	}
	var providers []providerCount
	if err := s.db.SelectContext(ctx, &providers,
		"SELECT provider, COUNT(*) AS n FROM records GROUP BY provider"); err != nil {
		return nil, fmt.Errorf("counting records by provider: %w", err)
	}
	for _, pc := range providers {
		stats.ByProvider[pc.Provider] = pc.N
	}

	var distinct []kindCount
	if err := s.db.SelectContext(ctx, &distinct,
		"SELECT lookup_kind, COUNT(DISTINCT lookup_key) AS n FROM records GROUP BY lookup_kind"); err != nil {
		return nil, fmt.Errorf("counting distinct lookup keys: %w", err)
	}
	for _, kc := range distinct {
		stats.DistinctKeys[kc.Kind] = kc.N
	}

	for _, kind := range []Kind{KindMX, KindNS} {
		var top []KeyCount
		err := s.db.SelectContext(ctx, &top, `
			SELECT lookup_key, lookup_kind, COUNT(*) AS n FROM records
			WHERE lookup_kind = ?
			GROUP BY lookup_key ORDER BY n DESC, lookup_key ASC LIMIT ?`,
			kind, topKeyLimit)
		if err != nil {
			return nil, fmt.Errorf("listing top %s keys: %w", kind, err)
		}
		stats.TopKeys = append(stats.TopKeys, top...)
	}

	recent, err := s.ListSessions(ctx, SessionFilter{}, topKeyLimit)
	if err != nil {
		return nil, err
	}
	stats.RecentSessions = recent

	return stats, nil
}

// PurgeResult reports what Purge removed.
type PurgeResult struct {
	Records  int64 `json:"records"`
	Sessions int64 `json:"sessions"`
}

// Purge deletes every record and session. There is no undo; callers own the
// confirmation step.
func (s *Store) Purge(ctx context.Context) (PurgeResult, error) {
	var res PurgeResult

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("beginning purge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	recs, err := tx.ExecContext(ctx, "DELETE FROM records")
	if err != nil {
		return res, fmt.Errorf("purging records: %w", err)
	}
	res.Records, _ = recs.RowsAffected()

	sessions, err := tx.ExecContext(ctx, "DELETE FROM sessions")
	if err != nil {
		return res, fmt.Errorf("purging sessions: %w", err)
	}
	res.Sessions, _ = sessions.RowsAffected()

	if err := tx.Commit(); err != nil {
		return PurgeResult{}, fmt.Errorf("committing purge: %w", err)
	}
	return res, nil
}
