// Package ingest drives the pipeline: fetch each date's summary, extract
// candidates, resolve them against the index, and record a run summary.
// It is the only component that schedules or retries anything.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"opowatch-engine/internal/dedup"
	"opowatch-engine/internal/domain"
	"opowatch-engine/internal/events"
	"opowatch-engine/internal/extract"
	"opowatch-engine/internal/fetch"
	"opowatch-engine/internal/index"
)

// Fetcher is what the runner needs from the network layer.
type Fetcher interface {
	Summary(ctx context.Context, date domain.Date) ([]byte, error)
	Body(ctx context.Context, urlHTML string) (string, error)
}

// Store is what the runner needs from the index.
type Store interface {
	GetByFingerprint(ctx context.Context, fingerprint string) (*domain.Announcement, error)
	Upsert(ctx context.Context, c domain.Candidate, fingerprint string, decision dedup.Decision, now time.Time) error
	SaveRun(ctx context.Context, s domain.RunSummary) (int64, error)
}

type Options struct {
	SectionCode   string
	Workers       int
	HydrateBodies bool
}

type Runner struct {
	Fetcher Fetcher
	Index   Store
	Locks   *dedup.KeyedLock
	Hub     *events.Hub
	Opts    Options
}

// collector accumulates run results from concurrent date workers.
type collector struct {
	mu sync.Mutex
	s  domain.RunSummary
}

// setState tracks the coarse phase of the run; date workers move through
// phases independently, so this is observability, not control flow.
func (c *collector) setState(state string) {
	c.mu.Lock()
	c.s.State = state
	c.mu.Unlock()
}

func (c *collector) warn(w ...domain.Warning) {
	c.mu.Lock()
	c.s.Warnings = append(c.s.Warnings, w...)
	c.mu.Unlock()
}

func (c *collector) fail(date domain.Date, reason string) {
	c.mu.Lock()
	c.s.Failures = append(c.s.Failures, domain.Failure{Date: date.String(), Reason: reason})
	c.mu.Unlock()
}

func (c *collector) add(docs, candidates, inserted, updated, unchanged int) {
	c.mu.Lock()
	c.s.DocsFetched += docs
	c.s.Candidates += candidates
	c.s.Inserted += inserted
	c.s.Updated += updated
	c.s.Unchanged += unchanged
	c.mu.Unlock()
}

// Run ingests every date in the range and returns the finalized summary.
// Re-running an already ingested range is safe: deduplication resolves the
// repeats as Unchanged.
func (r *Runner) Run(ctx context.Context, rng domain.Range) domain.RunSummary {
	col := &collector{s: domain.RunSummary{
		Range:     rng,
		State:     domain.RunScheduled,
		StartedAt: time.Now().UTC(),
	}}

	dates := rng.Days()
	log.Printf("[ingest] run start range=%s..%s dates=%d", rng.From, rng.To, len(dates))
	r.publish(events.TypeRunStarted, map[string]any{"from": rng.From.String(), "to": rng.To.String()})

	workers := r.Opts.Workers
	if workers <= 0 {
		workers = 1
	}

	var fetchFailures sync.Map // date string -> true

	col.setState(domain.RunFetching)

	var g errgroup.Group
	g.SetLimit(workers)
	for _, date := range dates {
		g.Go(func() error {
			if err := r.ingestDate(ctx, date, col); err != nil {
				var fe *fetch.Error
				if errors.As(err, &fe) && errors.Is(err, fetch.ErrNoSummary) {
					// weekend or holiday: nothing published, nothing to do
					log.Printf("[ingest] %s: no summary published", date)
					return nil
				}
				log.Printf("[ingest] %s: %v", date, err)
				col.fail(date, err.Error())
				if fe != nil {
					fetchFailures.Store(date.String(), true)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	col.setState(domain.RunFinalizing)
	col.s.FinishedAt = time.Now().UTC()
	col.s.State = r.terminalState(col.s, dates, &fetchFailures)

	if r.Index != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		id, err := r.Index.SaveRun(saveCtx, col.s)
		if err != nil {
			log.Printf("[ingest] save run summary: %v", err)
		} else {
			col.s.ID = id
		}
	}

	log.Printf("[ingest] run done state=%s docs=%d candidates=%d inserted=%d updated=%d unchanged=%d warnings=%d failures=%d",
		col.s.State, col.s.DocsFetched, col.s.Candidates,
		col.s.Inserted, col.s.Updated, col.s.Unchanged,
		len(col.s.Warnings), len(col.s.Failures))
	r.publish(events.TypeRunFinished, col.s)

	return col.s
}

// terminalState: Failed only when every target date exhausted its fetch
// retries and nothing at all was extracted. Partial trouble degrades to
// CompletedWithWarnings, never aborts.
func (r *Runner) terminalState(s domain.RunSummary, dates []domain.Date, fetchFailures *sync.Map) string {
	failed := 0
	for _, d := range dates {
		if _, ok := fetchFailures.Load(d.String()); ok {
			failed++
		}
	}
	if len(dates) > 0 && failed == len(dates) && s.Candidates == 0 {
		return domain.RunFailed
	}
	if len(s.Warnings) > 0 || len(s.Failures) > 0 {
		return domain.RunWithWarnings
	}
	return domain.RunCompleted
}

func (r *Runner) ingestDate(ctx context.Context, date domain.Date, col *collector) error {
	raw, err := r.Fetcher.Summary(ctx, date)
	if err != nil {
		return err
	}

	col.setState(domain.RunExtracting)
	res, err := extract.Announcements(raw, date, r.Opts.SectionCode)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	col.add(1, len(res.Candidates), 0, 0, 0)
	col.warn(res.Warnings...)

	col.setState(domain.RunResolving)
	for _, c := range res.Candidates {
		// cancellation point between units of work; applied upserts stay
		if ctx.Err() != nil {
			col.fail(date, "run cancelled")
			return nil
		}
		if err := r.resolve(ctx, c, col); err != nil {
			log.Printf("[ingest] %s %s: %v", date, c.SourceRef, err)
			col.fail(date, fmt.Sprintf("%s: %v", c.SourceRef, err))
		}
	}
	return nil
}

// resolve classifies one candidate under its fingerprint lock and applies
// the decision. The lock is the single serialization point between
// concurrent date workers (and concurrent runs).
func (r *Runner) resolve(ctx context.Context, c domain.Candidate, col *collector) error {
	fp := dedup.Fingerprint(c)

	unlock := r.Locks.Lock(fp)
	defer unlock()

	current, err := r.Index.GetByFingerprint(ctx, fp)
	if err != nil && !errors.Is(err, index.ErrNotFound) {
		return fmt.Errorf("lookup: %w", err)
	}

	decision := dedup.Classify(c, current)

	if decision != dedup.Unchanged && r.Opts.HydrateBodies {
		body, herr := r.Fetcher.Body(ctx, c.URLHTML)
		if herr != nil {
			log.Printf("[ingest] hydrate %s: %v", c.SourceRef, herr)
		} else if body != "" {
			c.Body = body
			// the hydrated body may reveal the notice is identical after all
			decision = dedup.Classify(c, current)
		}
	}

	now := time.Now().UTC()
	if err := r.Index.Upsert(ctx, c, fp, decision, now); err != nil {
		// one retry at record granularity; storage hiccups are usually
		// lock contention
		if err = r.Index.Upsert(ctx, c, fp, decision, now); err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
	}

	switch decision {
	case dedup.New:
		col.add(0, 0, 1, 0, 0)
		r.publish(events.TypeIngested, map[string]any{"fingerprint": fp, "sourceRef": c.SourceRef})
	case dedup.Updated:
		col.add(0, 0, 0, 1, 0)
	default:
		col.add(0, 0, 0, 0, 1)
	}
	return nil
}

func (r *Runner) publish(typ string, data any) {
	if r.Hub == nil {
		return
	}
	r.Hub.Publish(events.MakeEvent("", typ, 1, data))
}
