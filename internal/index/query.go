package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"opowatch-engine/internal/domain"
	"opowatch-engine/internal/extract"
)

// ErrNotFound is returned when no active version carries a fingerprint.
var ErrNotFound = errors.New("announcement not found")

// QueryOpts is a conjunction of filters plus pagination. Zero values mean
// "no constraint".
type QueryOpts struct {
	Categories     []string
	Organisms      []string
	From           domain.Date
	To             domain.Date
	Text           string // case-insensitive substring over title and body
	Limit          int
	Offset         int
	IncludeHistory bool
}

const announcementCols = `
id, fingerprint, version, source_ref, control, category, organism,
title, body, url_html, url_pdf, published_at, status, first_seen_at, last_seen_at`

// Query returns one page of matching announcements plus the total match
// count. Order is publication date descending, ties broken by source_ref
// ascending, so paging is deterministic.
func (ix *Index) Query(ctx context.Context, opts QueryOpts) ([]domain.Announcement, int, error) {
	if opts.Limit <= 0 || opts.Limit > 500 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	var conds []string
	var args []any

	if !opts.IncludeHistory {
		conds = append(conds, "status = 'active'")
	}
	if len(opts.Categories) > 0 {
		conds = append(conds, inClause("category_key", len(opts.Categories)))
		for _, c := range opts.Categories {
			args = append(args, extract.FoldKey(c))
		}
	}
	if len(opts.Organisms) > 0 {
		conds = append(conds, inClause("organism_key", len(opts.Organisms)))
		for _, o := range opts.Organisms {
			args = append(args, extract.FoldKey(o))
		}
	}
	if !opts.From.IsZero() {
		conds = append(conds, "published_at >= ?")
		args = append(args, opts.From.String())
	}
	if !opts.To.IsZero() {
		conds = append(conds, "published_at <= ?")
		args = append(args, opts.To.String())
	}
	if t := strings.TrimSpace(opts.Text); t != "" {
		// LIKE is ASCII case-insensitive in sqlite, which matches how the
		// gazette writes titles
		conds = append(conds, `(title LIKE ? ESCAPE '\' OR body LIKE ? ESCAPE '\')`)
		pat := "%" + escapeLike(t) + "%"
		args = append(args, pat, pat)
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	countQ := fmt.Sprintf(`SELECT COUNT(*) FROM announcements %s;`, where)
	if err := ix.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count announcements: %w", err)
	}

	pageQ := fmt.Sprintf(`
SELECT %s
FROM announcements
%s
ORDER BY published_at DESC, source_ref ASC, version DESC
LIMIT ? OFFSET ?;`, announcementCols, where)

	rows, err := ix.db.QueryContext(ctx, pageQ, append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query announcements: %w", err)
	}
	defer rows.Close()

	out, err := scanAnnouncements(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// GetByFingerprint returns the current (non-superseded) version.
func (ix *Index) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.Announcement, error) {
	q := fmt.Sprintf(`
SELECT %s
FROM announcements
WHERE fingerprint = ? AND status = 'active';`, announcementCols)

	row := ix.db.QueryRowContext(ctx, q, fingerprint)
	a, err := scanAnnouncement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get by fingerprint: %w", err)
	}
	return a, nil
}

// History returns every stored version of a fingerprint, oldest first.
func (ix *Index) History(ctx context.Context, fingerprint string) ([]domain.Announcement, error) {
	q := fmt.Sprintf(`
SELECT %s
FROM announcements
WHERE fingerprint = ?
ORDER BY version ASC;`, announcementCols)

	rows, err := ix.db.QueryContext(ctx, q, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()
	return scanAnnouncements(rows)
}

// Organisms lists distinct organisms with active notices, alphabetically.
func (ix *Index) Organisms(ctx context.Context) ([]string, error) {
	return ix.distinct(ctx, "organism")
}

// Categories lists distinct categories with active notices, alphabetically.
func (ix *Index) Categories(ctx context.Context) ([]string, error) {
	return ix.distinct(ctx, "category")
}

func (ix *Index) distinct(ctx context.Context, col string) ([]string, error) {
	q := fmt.Sprintf(`
SELECT DISTINCT %s
FROM announcements
WHERE status = 'active'
ORDER BY %s ASC;`, col, col)

	rows, err := ix.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", col, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func inClause(col string, n int) string {
	return col + " IN (?" + strings.Repeat(",?", n-1) + ")"
}

// escapeLike makes user text match literally inside a LIKE pattern.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnnouncement(r rowScanner) (*domain.Announcement, error) {
	var a domain.Announcement
	var published, firstSeen, lastSeen string
	if err := r.Scan(
		&a.ID, &a.Fingerprint, &a.Version, &a.SourceRef, &a.Control,
		&a.Category, &a.Organism, &a.Title, &a.Body, &a.URLHTML, &a.URLPDF,
		&published, &a.Status, &firstSeen, &lastSeen,
	); err != nil {
		return nil, err
	}
	var err error
	if a.PublishedAt, err = domain.ParseDate(published); err != nil {
		return nil, err
	}
	if a.FirstSeenAt, err = time.Parse(time.RFC3339, firstSeen); err != nil {
		return nil, fmt.Errorf("parse first_seen_at %q: %w", firstSeen, err)
	}
	if a.LastSeenAt, err = time.Parse(time.RFC3339, lastSeen); err != nil {
		return nil, fmt.Errorf("parse last_seen_at %q: %w", lastSeen, err)
	}
	return &a, nil
}

func scanAnnouncements(rows *sql.Rows) ([]domain.Announcement, error) {
	var out []domain.Announcement
	for rows.Next() {
		a, err := scanAnnouncement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
