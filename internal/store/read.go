package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ReadRun returns all events for a run id in dispatch order.
// Returns an empty slice (not nil) when the run has no events.
func (s *Store) ReadRun(ctx context.Context, runID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, run_id, type, node_id, outcome, failure_kind, message, elapsed_ms, payload
		FROM events
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

// RunIDs returns the distinct run ids present in the log, ordered by the
// seq of their first event.
func (s *Store) RunIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id
		FROM events
		GROUP BY run_id
		ORDER BY MIN(rowid) ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query run ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run ids: %w", err)
	}
	return ids, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec         Record
		nodeID      sql.NullInt64
		outcome     sql.NullString
		failureKind sql.NullString
		message     sql.NullString
	)
	err := rows.Scan(
		&rec.Seq,
		&rec.RunID,
		&rec.Type,
		&nodeID,
		&outcome,
		&failureKind,
		&message,
		&rec.ElapsedMs,
		&rec.Payload,
	)
	if err != nil {
		return Record{}, fmt.Errorf("scan event: %w", err)
	}
	rec.NodeID = nodeID.Int64
	rec.Outcome = outcome.String
	rec.FailureKind = failureKind.String
	rec.Message = message.String
	return rec, nil
}
