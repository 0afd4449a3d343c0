package index

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"opowatch-engine/internal/domain"
)

// SaveRun persists a finalized run summary and returns its id.
func (ix *Index) SaveRun(ctx context.Context, s domain.RunSummary) (int64, error) {
	warnings, _ := json.Marshal(s.Warnings)
	failures, _ := json.Marshal(s.Failures)

	res, err := ix.db.ExecContext(ctx, `
INSERT INTO ingestion_runs
  (from_date, to_date, state, started_at, finished_at,
   docs_fetched, candidates, inserted, updated, unchanged, warnings, failures)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		s.Range.From.String(), s.Range.To.String(), s.State,
		s.StartedAt.UTC().Format(time.RFC3339), s.FinishedAt.UTC().Format(time.RFC3339),
		s.DocsFetched, s.Candidates, s.Inserted, s.Updated, s.Unchanged,
		string(warnings), string(failures),
	)
	if err != nil {
		return 0, fmt.Errorf("save run: %w", err)
	}
	return res.LastInsertId()
}

// ListRuns returns the most recent run summaries, newest first.
func (ix *Index) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	rows, err := ix.db.QueryContext(ctx, `
SELECT id, from_date, to_date, state, started_at, finished_at,
       docs_fetched, candidates, inserted, updated, unchanged, warnings, failures
FROM ingestion_runs
ORDER BY id DESC
LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []domain.RunSummary
	for rows.Next() {
		var s domain.RunSummary
		var from, to, started, finished, warnings, failures string
		if err := rows.Scan(
			&s.ID, &from, &to, &s.State, &started, &finished,
			&s.DocsFetched, &s.Candidates, &s.Inserted, &s.Updated, &s.Unchanged,
			&warnings, &failures,
		); err != nil {
			return nil, err
		}
		s.Range.From, _ = domain.ParseDate(from)
		s.Range.To, _ = domain.ParseDate(to)
		s.StartedAt, _ = time.Parse(time.RFC3339, started)
		s.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		_ = json.Unmarshal([]byte(warnings), &s.Warnings)
		_ = json.Unmarshal([]byte(failures), &s.Failures)
		out = append(out, s)
	}
	return out, rows.Err()
}
