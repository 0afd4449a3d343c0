package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opowatch-engine/internal/dedup"
	"opowatch-engine/internal/domain"
	"opowatch-engine/internal/events"
	"opowatch-engine/internal/fetch"
	"opowatch-engine/internal/index"
)

type fakeFetcher struct {
	summaries map[string]string // compact date -> xml
	errs      map[string]error
	bodies    map[string]string // url_html -> text
	bodyErr   error
}

func (f *fakeFetcher) Summary(_ context.Context, date domain.Date) ([]byte, error) {
	if err, ok := f.errs[date.Compact()]; ok {
		return nil, err
	}
	if xml, ok := f.summaries[date.Compact()]; ok {
		return []byte(xml), nil
	}
	return nil, &fetch.Error{Kind: fetch.Permanent, Date: date, Err: fetch.ErrNoSummary}
}

func (f *fakeFetcher) Body(_ context.Context, urlHTML string) (string, error) {
	if f.bodyErr != nil {
		return "", f.bodyErr
	}
	return f.bodies[urlHTML], nil
}

func summaryXML(items string) string {
	return `<?xml version="1.0" encoding="utf-8"?>
<response><data><sumario><diario numero="5">
<seccion codigo="2B" nombre="II. Autoridades y personal. - B. Oposiciones y concursos">
` + items + `
</seccion>
</diario></sumario></data></response>`
}

func item(id, title, urlHTML string) string {
	return fmt.Sprintf(`<item><identificador>%s</identificador><control>c-%s</control><titulo>%s</titulo><url_html>%s</url_html></item>`, id, id, title, urlHTML)
}

func dept(name, inner string) string {
	return fmt.Sprintf(`<departamento nombre="%s">%s</departamento>`, name, inner)
}

func epig(name, inner string) string {
	return fmt.Sprintf(`<epigrafe nombre="%s">%s</epigrafe>`, name, inner)
}

func newTestRunner(t *testing.T, f Fetcher, hydrate bool) (*Runner, *index.Index) {
	t.Helper()
	ix, err := index.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	require.NoError(t, ix.Migrate())

	return &Runner{
		Fetcher: f,
		Index:   ix,
		Locks:   dedup.NewKeyedLock(),
		Opts: Options{
			SectionCode:   "2B",
			Workers:       2,
			HydrateBodies: hydrate,
		},
	}, ix
}

func oneDay(y int, m time.Month, d int) domain.Range {
	day := domain.NewDate(y, m, d)
	return domain.Range{From: day, To: day}
}

func TestRunIngestsTwoNotices(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{summaries: map[string]string{
		"20240105": summaryXML(
			dept("A", epig("X", item("BOE-A-2024-00001", "Convocatoria uno", ""))) +
				dept("B", epig("Y", item("BOE-A-2024-00002", "Convocatoria dos", ""))),
		),
	}}
	r, ix := newTestRunner(t, f, false)

	s := r.Run(context.Background(), oneDay(2024, time.January, 5))
	assert.Equal(t, domain.RunCompleted, s.State)
	assert.Equal(t, 1, s.DocsFetched)
	assert.Equal(t, 2, s.Candidates)
	assert.Equal(t, 2, s.Inserted)
	assert.Empty(t, s.Warnings)
	assert.Empty(t, s.Failures)

	ctx := context.Background()
	byCat, total, err := ix.Query(ctx, index.QueryOpts{Categories: []string{"X"}})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "BOE-A-2024-00001", byCat[0].SourceRef)

	byOrg, total, err := ix.Query(ctx, index.QueryOpts{Organisms: []string{"B"}})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "BOE-A-2024-00002", byOrg[0].SourceRef)

	all, total, err := ix.Query(ctx, index.QueryOpts{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "BOE-A-2024-00001", all[0].SourceRef)
	assert.Equal(t, "BOE-A-2024-00002", all[1].SourceRef)
}

func TestRunMalformedEntryYieldsWarning(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{summaries: map[string]string{
		"20240105": summaryXML(dept("A",
			item("BOE-A-2024-00001", "Buena", "")+
				item("", "Sin identificador", "")+
				item("BOE-A-2024-00003", "También buena", ""),
		)),
	}}
	r, ix := newTestRunner(t, f, false)

	s := r.Run(context.Background(), oneDay(2024, time.January, 5))
	assert.Equal(t, domain.RunWithWarnings, s.State)
	assert.Equal(t, 2, s.Candidates, "N-1 sections still extract")
	assert.Equal(t, 2, s.Inserted)
	require.Len(t, s.Warnings, 1)
	assert.Contains(t, s.Warnings[0].Reason, "no identifier")

	_, total, err := ix.Query(context.Background(), index.QueryOpts{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestRunPartialFetchFailure(t *testing.T) {
	t.Parallel()

	bad := domain.NewDate(2024, time.January, 4)
	f := &fakeFetcher{
		summaries: map[string]string{
			"20240105": summaryXML(dept("A", item("BOE-A-2024-00001", "Convocatoria", ""))),
		},
		errs: map[string]error{
			"20240104": &fetch.Error{Kind: fetch.Transient, Date: bad, Err: errors.New("status 502")},
		},
	}
	r, ix := newTestRunner(t, f, false)

	s := r.Run(context.Background(), domain.Range{
		From: domain.NewDate(2024, time.January, 4),
		To:   domain.NewDate(2024, time.January, 5),
	})
	assert.Equal(t, domain.RunWithWarnings, s.State, "partial failure degrades, never aborts")
	assert.Equal(t, 1, s.Inserted)
	require.Len(t, s.Failures, 1)
	assert.Equal(t, "2024-01-04", s.Failures[0].Date)

	// the good date's records are searchable despite the degraded run
	_, total, err := ix.Query(context.Background(), index.QueryOpts{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestRunFailsOnlyWhenEveryDateFails(t *testing.T) {
	t.Parallel()

	mkErr := func(d domain.Date) error {
		return &fetch.Error{Kind: fetch.Transient, Date: d, Err: errors.New("status 500")}
	}
	f := &fakeFetcher{errs: map[string]error{
		"20240104": mkErr(domain.NewDate(2024, time.January, 4)),
		"20240105": mkErr(domain.NewDate(2024, time.January, 5)),
	}}
	r, _ := newTestRunner(t, f, false)

	s := r.Run(context.Background(), domain.Range{
		From: domain.NewDate(2024, time.January, 4),
		To:   domain.NewDate(2024, time.January, 5),
	})
	assert.Equal(t, domain.RunFailed, s.State)
	assert.Zero(t, s.Candidates)
}

func TestRunNoSummaryDaysAreQuiet(t *testing.T) {
	t.Parallel()

	// fakeFetcher returns ErrNoSummary for unknown dates: a weekend range
	f := &fakeFetcher{}
	r, _ := newTestRunner(t, f, false)

	s := r.Run(context.Background(), domain.Range{
		From: domain.NewDate(2024, time.January, 6),
		To:   domain.NewDate(2024, time.January, 7),
	})
	assert.Equal(t, domain.RunCompleted, s.State, "unpublished days are not failures")
	assert.Zero(t, s.DocsFetched)
	assert.Empty(t, s.Failures)
}

func TestRunIdempotent(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{summaries: map[string]string{
		"20240105": summaryXML(
			dept("A", epig("X", item("BOE-A-2024-00001", "Convocatoria uno", ""))) +
				dept("B", epig("Y", item("BOE-A-2024-00002", "Convocatoria dos", ""))),
		),
	}}
	r, ix := newTestRunner(t, f, false)
	rng := oneDay(2024, time.January, 5)

	first := r.Run(context.Background(), rng)
	require.Equal(t, 2, first.Inserted)

	second := r.Run(context.Background(), rng)
	assert.Equal(t, domain.RunCompleted, second.State)
	assert.Zero(t, second.Inserted)
	assert.Zero(t, second.Updated)
	assert.Equal(t, 2, second.Unchanged)

	// no extra versions appeared
	all, total, err := ix.Query(context.Background(), index.QueryOpts{IncludeHistory: true})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, a := range all {
		assert.Equal(t, 1, a.Version)
	}
}

func TestRunTitleCorrectionSupersedes(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{summaries: map[string]string{
		"20240105": summaryXML(dept("A", epig("X",
			item("BOE-A-2024-00001", "convocatoria de   PRUEBAS selectivas", "")))),
	}}
	r, ix := newTestRunner(t, f, false)
	rng := oneDay(2024, time.January, 5)

	first := r.Run(context.Background(), rng)
	require.Equal(t, 1, first.Inserted)

	orig, _, err := ix.Query(context.Background(), index.QueryOpts{})
	require.NoError(t, err)
	fp := orig[0].Fingerprint
	firstSeen := orig[0].FirstSeenAt

	// upstream corrects casing: normalized identity is unchanged, so the
	// fingerprint holds and the record is revised in place
	f.summaries["20240105"] = summaryXML(dept("A", epig("X",
		item("BOE-A-2024-00001", "Convocatoria de Pruebas Selectivas", ""))))

	second := r.Run(context.Background(), rng)
	assert.Equal(t, 1, second.Updated)
	assert.Zero(t, second.Inserted)

	current, err := ix.GetByFingerprint(context.Background(), fp)
	require.NoError(t, err)
	assert.Equal(t, "Convocatoria de Pruebas Selectivas", current.Title)
	assert.True(t, current.FirstSeenAt.Equal(firstSeen), "first_seen_at survives revisions")

	history, err := ix.History(context.Background(), fp)
	require.NoError(t, err)
	require.Len(t, history, 2)
	superseded := 0
	for _, v := range history {
		if v.Status == domain.StatusSuperseded {
			superseded++
		}
	}
	assert.Equal(t, 1, superseded, "exactly one superseded version retrievable via history")
}

func TestRunHydratesBodies(t *testing.T) {
	t.Parallel()

	url := "https://www.boe.es/diario_boe/txt.php?id=BOE-A-2024-00001"
	f := &fakeFetcher{
		summaries: map[string]string{
			"20240105": summaryXML(dept("A", item("BOE-A-2024-00001", "Convocatoria", url))),
		},
		bodies: map[string]string{url: "Texto completo de la convocatoria."},
	}
	r, ix := newTestRunner(t, f, true)
	rng := oneDay(2024, time.January, 5)

	s := r.Run(context.Background(), rng)
	require.Equal(t, 1, s.Inserted)

	got, _, err := ix.Query(context.Background(), index.QueryOpts{Text: "texto completo"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Texto completo de la convocatoria.", got[0].Body)

	// unchanged notices are recognized before hydration, so the rerun
	// stays a no-op
	second := r.Run(context.Background(), rng)
	assert.Equal(t, 1, second.Unchanged)
	assert.Zero(t, second.Updated)
}

func TestRunPublishesLifecycleEvents(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{summaries: map[string]string{
		"20240105": summaryXML(dept("A", item("BOE-A-2024-00001", "Convocatoria", ""))),
	}}
	r, _ := newTestRunner(t, f, false)
	hub := events.NewHub()
	r.Hub = hub
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	r.Run(context.Background(), oneDay(2024, time.January, 5))

	var types []string
	for len(ch) > 0 {
		var e events.Event
		require.NoError(t, json.Unmarshal([]byte(<-ch), &e))
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{events.TypeRunStarted, events.TypeIngested, events.TypeRunFinished}, types)
}

// cancellingFetcher cancels the run context right after serving the
// summary for one chosen date.
type cancellingFetcher struct {
	*fakeFetcher
	cancelOn string // compact date
	cancel   context.CancelFunc
}

func (f *cancellingFetcher) Summary(ctx context.Context, date domain.Date) ([]byte, error) {
	raw, err := f.fakeFetcher.Summary(ctx, date)
	if date.Compact() == f.cancelOn {
		f.cancel()
	}
	return raw, err
}

func TestRunCancelledBetweenCandidates(t *testing.T) {
	t.Parallel()

	inner := &fakeFetcher{summaries: map[string]string{
		"20240104": summaryXML(dept("A", item("BOE-A-2024-00001", "Convocatoria uno", ""))),
		"20240105": summaryXML(dept("B", item("BOE-A-2024-00002", "Convocatoria dos", ""))),
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := &cancellingFetcher{fakeFetcher: inner, cancelOn: "20240105", cancel: cancel}

	r, ix := newTestRunner(t, f, false)
	r.Opts.Workers = 1 // dates run in order, so the first date's work lands

	s := r.Run(ctx, domain.Range{
		From: domain.NewDate(2024, time.January, 4),
		To:   domain.NewDate(2024, time.January, 5),
	})
	assert.Equal(t, domain.RunWithWarnings, s.State, "a cancelled run is degraded, not failed")
	assert.Equal(t, 1, s.Inserted)
	require.Len(t, s.Failures, 1)
	assert.Equal(t, "2024-01-05", s.Failures[0].Date)
	assert.Contains(t, s.Failures[0].Reason, "cancelled")

	// upserts applied before the cancel stay applied
	got, total, err := ix.Query(context.Background(), index.QueryOpts{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "BOE-A-2024-00001", got[0].SourceRef)
}

// flakyStore fails Upsert for one source ref a set number of times, then
// delegates to the real index.
type flakyStore struct {
	*index.Index
	failRef string
	fails   atomic.Int32
}

func (f *flakyStore) Upsert(ctx context.Context, c domain.Candidate, fingerprint string, decision dedup.Decision, now time.Time) error {
	if c.SourceRef == f.failRef && f.fails.Add(-1) >= 0 {
		return errors.New("disk I/O error")
	}
	return f.Index.Upsert(ctx, c, fingerprint, decision, now)
}

func TestRunRetriesUpsertOnce(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{summaries: map[string]string{
		"20240105": summaryXML(dept("A", item("BOE-A-2024-00001", "Convocatoria", ""))),
	}}
	r, ix := newTestRunner(t, f, false)
	fs := &flakyStore{Index: ix, failRef: "BOE-A-2024-00001"}
	fs.fails.Store(1)
	r.Index = fs

	s := r.Run(context.Background(), oneDay(2024, time.January, 5))
	assert.Equal(t, domain.RunCompleted, s.State, "a single storage hiccup is absorbed by the retry")
	assert.Equal(t, 1, s.Inserted)
	assert.Empty(t, s.Failures)

	_, total, err := ix.Query(context.Background(), index.QueryOpts{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestRunUpsertFailureAbortsOnlyThatRecord(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{summaries: map[string]string{
		"20240105": summaryXML(dept("A",
			item("BOE-A-2024-00001", "Convocatoria uno", "")+
				item("BOE-A-2024-00002", "Convocatoria dos", ""),
		)),
	}}
	r, ix := newTestRunner(t, f, false)
	fs := &flakyStore{Index: ix, failRef: "BOE-A-2024-00001"}
	fs.fails.Store(10) // outlasts the retry
	r.Index = fs

	s := r.Run(context.Background(), oneDay(2024, time.January, 5))
	assert.Equal(t, domain.RunWithWarnings, s.State)
	assert.Equal(t, 1, s.Inserted)
	require.Len(t, s.Failures, 1)
	assert.Contains(t, s.Failures[0].Reason, "BOE-A-2024-00001")

	// the sibling record committed regardless
	got, total, err := ix.Query(context.Background(), index.QueryOpts{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "BOE-A-2024-00002", got[0].SourceRef)
}

func TestManagerRefusesConcurrentRuns(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	f := &blockingFetcher{block: block, started: make(chan struct{})}
	r, _ := newTestRunner(t, f, false)
	m := NewManager(r)

	done := make(chan domain.RunSummary, 1)
	go func() {
		s, _ := m.TryRun(context.Background(), oneDay(2024, time.January, 5))
		done <- s
	}()

	<-f.started
	_, ok := m.TryRun(context.Background(), oneDay(2024, time.January, 5))
	assert.False(t, ok, "second run must be refused while one is in flight")
	assert.True(t, m.Status().Running)

	close(block)
	<-done
	assert.False(t, m.Status().Running)
	assert.NotNil(t, m.Status().LastRun)
}

type blockingFetcher struct {
	block   chan struct{}
	started chan struct{}
	once    sync.Once
}

func (b *blockingFetcher) Summary(_ context.Context, date domain.Date) ([]byte, error) {
	b.once.Do(func() { close(b.started) })
	<-b.block
	return nil, &fetch.Error{Kind: fetch.Permanent, Date: date, Err: fetch.ErrNoSummary}
}

func (b *blockingFetcher) Body(context.Context, string) (string, error) { return "", nil }
