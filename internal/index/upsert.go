package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"opowatch-engine/internal/dedup"
	"opowatch-engine/internal/domain"
	"opowatch-engine/internal/extract"
)

// Upsert applies a deduplication decision in one transaction, so readers
// either see the state from before the call or the state after it, never
// a half-applied version.
func (ix *Index) Upsert(ctx context.Context, c domain.Candidate, fingerprint string, decision dedup.Decision, now time.Time) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := now.UTC().Format(time.RFC3339)

	switch decision {
	case dedup.New:
		if err := insertVersion(ctx, tx, c, fingerprint, 1, ts, ts); err != nil {
			return err
		}

	case dedup.Unchanged:
		if _, err := tx.ExecContext(ctx, `
UPDATE announcements
SET last_seen_at = ?
WHERE fingerprint = ? AND status = 'active';`,
			ts, fingerprint,
		); err != nil {
			return fmt.Errorf("refresh last_seen_at: %w", err)
		}

	case dedup.Updated:
		var prevVersion int
		var firstSeen, prevBody string
		err := tx.QueryRowContext(ctx, `
SELECT version, first_seen_at, body
FROM announcements
WHERE fingerprint = ? AND status = 'active';`,
			fingerprint,
		).Scan(&prevVersion, &firstSeen, &prevBody)
		if errors.Is(err, sql.ErrNoRows) {
			// active version vanished between classify and apply;
			// degrade to a plain insert
			if err := insertVersion(ctx, tx, c, fingerprint, 1, ts, ts); err != nil {
				return err
			}
			return tx.Commit()
		}
		if err != nil {
			return fmt.Errorf("load active version: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE announcements
SET status = 'superseded'
WHERE fingerprint = ? AND status = 'active';`,
			fingerprint,
		); err != nil {
			return fmt.Errorf("supersede: %w", err)
		}

		// a revision without hydrated body keeps the text we already have
		if c.Body == "" {
			c.Body = prevBody
		}
		if err := insertVersion(ctx, tx, c, fingerprint, prevVersion+1, firstSeen, ts); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertVersion(ctx context.Context, tx *sql.Tx, c domain.Candidate, fingerprint string, version int, firstSeen, lastSeen string) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO announcements
  (fingerprint, version, source_ref, control, category, category_key,
   organism, organism_key, title, body, url_html, url_pdf, published_at,
   status, first_seen_at, last_seen_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'active', ?, ?);`,
		fingerprint, version, c.SourceRef, c.Control,
		c.Category, extract.FoldKey(c.Category),
		c.Organism, extract.FoldKey(c.Organism),
		c.Title, c.Body, c.URLHTML, c.URLPDF, c.PublishedAt.String(),
		firstSeen, lastSeen,
	)
	if err != nil {
		return fmt.Errorf("insert announcement version %d: %w", version, err)
	}
	return nil
}
