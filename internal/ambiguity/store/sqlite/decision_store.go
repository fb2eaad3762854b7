package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/store"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/types"
	dbpkg "github.com/BrandonDHaskell/ambiguity-detection/internal/db"
)

type DecisionStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewDecisionStore(db *sql.DB, writer *dbpkg.Worker) *DecisionStore {
	return &DecisionStore{db: db, writer: writer}
}

func (s *DecisionStore) RecordDecision(ctx context.Context, rec store.DecisionRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("RecordDecision: empty decision id")
	}
	if len(rec.Records) == 0 {
		return fmt.Errorf("RecordDecision %s: no events", rec.ID)
	}
	if rec.EmittedAt.IsZero() {
		rec.EmittedAt = time.Now().UTC()
	}

	payload, err := types.FlushDecision{Kind: rec.Kind, Records: rec.Records}.Payload()
	if err != nil {
		return fmt.Errorf("RecordDecision %s payload: %w", rec.ID, err)
	}

	var delivered int
	if rec.Delivered {
		delivered = 1
	}
	var failure any
	if rec.Failure != "" {
		failure = rec.Failure
	}

	attrs := make([]any, len(rec.Records))
	for i, r := range rec.Records {
		if len(r.Attributes) == 0 {
			continue
		}
		b, err := json.Marshal(r.Attributes)
		if err != nil {
			return fmt.Errorf("RecordDecision %s attributes: %w", rec.ID, err)
		}
		attrs[i] = string(b)
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO decisions(
  decision_id, kind, event_count, emitted_at_ms, delivered, failure, payload_json
) VALUES (?, ?, ?, ?, ?, ?, ?);
`,
			rec.ID, string(rec.Kind), len(rec.Records), rec.EmittedAt.UTC().UnixMilli(),
			delivered, failure, string(payload),
		); err != nil {
			return fmt.Errorf("RecordDecision insert decision: %w", err)
		}

		for i, r := range rec.Records {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO decision_events(
  decision_id, seq, activity, event_time_ms, attributes_json
) VALUES (?, ?, ?, ?, ?);
`, rec.ID, i, r.Activity, r.Timestamp.UTC().UnixMilli(), attrs[i]); err != nil {
				return fmt.Errorf("RecordDecision insert event %d: %w", i, err)
			}
		}
		return nil
	})
}

// Recent returns up to limit decisions, newest first, each with its events in
// arrival order. A non-positive limit returns everything.
func (s *DecisionStore) Recent(ctx context.Context, limit int) ([]store.DecisionRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT d.decision_id, d.kind, d.emitted_at_ms, d.delivered, COALESCE(d.failure, ''),
       e.activity, e.event_time_ms, e.attributes_json
FROM (
  SELECT rowid AS rid, decision_id, kind, emitted_at_ms, delivered, failure
  FROM decisions
  ORDER BY emitted_at_ms DESC, rowid DESC
  LIMIT ?
) d
JOIN decision_events e ON e.decision_id = d.decision_id
ORDER BY d.emitted_at_ms DESC, d.rid DESC, e.seq ASC;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("Recent query: %w", err)
	}
	defer rows.Close()

	var out []store.DecisionRecord
	for rows.Next() {
		var (
			id, kind, failure string
			emittedMs, evMs   int64
			delivered         int
			activity          string
			attrsJSON         sql.NullString
		)
		if err := rows.Scan(&id, &kind, &emittedMs, &delivered, &failure, &activity, &evMs, &attrsJSON); err != nil {
			return nil, fmt.Errorf("Recent scan: %w", err)
		}

		if len(out) == 0 || out[len(out)-1].ID != id {
			out = append(out, store.DecisionRecord{
				ID:        id,
				Kind:      types.DecisionKind(kind),
				EmittedAt: time.UnixMilli(emittedMs).UTC(),
				Delivered: delivered != 0,
				Failure:   failure,
			})
		}

		ev := types.EventRecord{
			Activity:  activity,
			Timestamp: time.UnixMilli(evMs).UTC(),
		}
		if attrsJSON.Valid && attrsJSON.String != "" {
			if err := json.Unmarshal([]byte(attrsJSON.String), &ev.Attributes); err != nil {
				return nil, fmt.Errorf("Recent decode attributes for %s: %w", id, err)
			}
		}
		last := &out[len(out)-1]
		last.Records = append(last.Records, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Recent rows: %w", err)
	}
	return out, nil
}

// PruneOlderThan deletes decisions emitted before cutoff; their events go
// with them through ON DELETE CASCADE. Returns the number of decisions deleted.
//
// Uses the idx_decisions_emitted index for the range scan.
func (s *DecisionStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM decisions
WHERE emitted_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneOlderThan: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
