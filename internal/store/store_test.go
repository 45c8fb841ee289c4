package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiny-errors/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db))
	return New(db)
}

func occurrence(id, fp string, at int64) *model.ErrorData {
	return &model.ErrorData{
		ID:          id,
		ProjectID:   "p1",
		Message:     "x is null",
		ErrorType:   "TypeError",
		URL:         "https://shop.example.com/",
		Fingerprint: fp,
		OccurredAt:  at,
	}
}

func TestRecordOccurrenceCreatesThenUpdatesGroup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inserted, err := s.RecordOccurrence(ctx, occurrence("e1", "123", 1000))
	require.NoError(t, err)
	assert.True(t, inserted)

	g, err := s.Groups.Find(ctx, "p1", "123")
	require.NoError(t, err)
	assert.EqualValues(t, 1, g.Count)
	assert.EqualValues(t, 1000, g.FirstSeen)
	assert.EqualValues(t, 1000, g.LastSeen)
	assert.Equal(t, "TypeError", g.ErrorType)

	_, err = s.RecordOccurrence(ctx, occurrence("e2", "123", 5000))
	require.NoError(t, err)
	// out-of-order arrival widens first_seen without moving last_seen back.
	_, err = s.RecordOccurrence(ctx, occurrence("e3", "123", 500))
	require.NoError(t, err)

	g, err = s.Groups.Find(ctx, "p1", "123")
	require.NoError(t, err)
	assert.EqualValues(t, 3, g.Count)
	assert.EqualValues(t, 500, g.FirstSeen)
	assert.EqualValues(t, 5000, g.LastSeen)
}

func TestRecordOccurrenceIsIdempotentOnID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inserted, err := s.RecordOccurrence(ctx, occurrence("evt-1", "123", 1000))
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = s.RecordOccurrence(ctx, occurrence("evt-1", "123", 2000))
	require.NoError(t, err)
	assert.False(t, inserted)

	g, err := s.Groups.Find(ctx, "p1", "123")
	require.NoError(t, err)
	assert.EqualValues(t, 1, g.Count)
	assert.EqualValues(t, 1000, g.LastSeen)

	total, err := s.Occurrences.CountByProject(ctx, "p1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestConcurrentRecordsCountEveryOccurrence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 40
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.RecordOccurrence(ctx, occurrence(fmt.Sprintf("c%d", i), "999", int64(1000+i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	g, err := s.Groups.Find(ctx, "p1", "999")
	require.NoError(t, err)
	assert.EqualValues(t, n, g.Count)
	assert.EqualValues(t, 1000, g.FirstSeen)
	assert.EqualValues(t, 1000+n-1, g.LastSeen)

	groups, err := s.Groups.CountByProject(ctx, "p1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, groups)
}

func TestOccurrenceReads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, at := range []int64{100, 300, 200, 400} {
		occ := occurrence(fmt.Sprintf("o%d", i), "fp-a", at)
		occ.Breadcrumbs = fmt.Sprintf(`[{"n":%d}]`, i)
		_, err := s.RecordOccurrence(ctx, occ)
		require.NoError(t, err)
	}
	_, err := s.RecordOccurrence(ctx, occurrence("other", "fp-b", 50))
	require.NoError(t, err)

	page, err := s.Occurrences.ListByProject(ctx, "p1", 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.EqualValues(t, 300, page[0].OccurredAt)
	assert.EqualValues(t, 200, page[1].OccurredAt)

	recent, err := s.Occurrences.FindByFingerprint(ctx, "p1", "fp-a", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.EqualValues(t, 400, recent[0].OccurredAt)

	times, err := s.Occurrences.OccurrenceTimes(ctx, "p1", "fp-a", 200, 400)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{200, 300}, times)

	times, err = s.Occurrences.OccurrenceTimes(ctx, "p1", "fp-a", 100, 401)
	require.NoError(t, err)
	assert.Len(t, times, 4)

	crumbs, err := s.Occurrences.RecentBreadcrumbs(ctx, "p1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{`[{"n":3}]`, `[{"n":1}]`}, crumbs)

	got, err := s.Occurrences.FindByID(ctx, "o2")
	require.NoError(t, err)
	assert.EqualValues(t, 200, got.OccurredAt)

	_, err = s.Occurrences.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGroupReads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RecordOccurrence(ctx, occurrence("a", "old", 100))
	require.NoError(t, err)
	_, err = s.RecordOccurrence(ctx, occurrence("b", "new", 900))
	require.NoError(t, err)

	all, err := s.Groups.AllByProject(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "new", all[0].Fingerprint)

	page, err := s.Groups.ListByProject(ctx, "p1", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "old", page[0].Fingerprint)

	_, err = s.Groups.Find(ctx, "p1", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Groups.Find(ctx, "p2", "old")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProjectUpsertAndLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Projects.Upsert(ctx, &model.Project{ID: "demo", Name: "Demo", APIKey: "k1"}))
	require.NoError(t, s.Projects.Upsert(ctx, &model.Project{ID: "demo", Name: "Demo 2", APIKey: "k2", HMACSecret: "s"}))

	p, err := s.Projects.FindByAPIKey(ctx, "k2")
	require.NoError(t, err)
	assert.Equal(t, "Demo 2", p.Name)
	assert.Equal(t, "s", p.HMACSecret)

	_, err = s.Projects.FindByAPIKey(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)

	p, err = s.Projects.FindByID(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, "k2", p.APIKey)
}

func TestBootstrapSeedsProjects(t *testing.T) {
	ctx := context.Background()
	s, stale, err := Bootstrap(ctx, DriverSQLite, ":memory:", []model.Project{
		{ID: "demo-project", Name: "Demo", APIKey: "demo-key-12345"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"demo-key-12345"}, stale)
	t.Cleanup(func() { _ = Close(s.DB) })
	require.NoError(t, Ping(ctx, s.DB))

	p, err := s.Projects.FindByAPIKey(ctx, "demo-key-12345")
	require.NoError(t, err)
	assert.Equal(t, "demo-project", p.ID)
}

func TestSeedReportsReplacedKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	replaced, err := s.Projects.Seed(ctx, &model.Project{ID: "demo", Name: "Demo", APIKey: "k1"})
	require.NoError(t, err)
	assert.Empty(t, replaced)

	replaced, err = s.Projects.Seed(ctx, &model.Project{ID: "demo", Name: "Demo", APIKey: "k1", HMACSecret: "s"})
	require.NoError(t, err)
	assert.Empty(t, replaced)

	replaced, err = s.Projects.Seed(ctx, &model.Project{ID: "demo", Name: "Demo", APIKey: "k2"})
	require.NoError(t, err)
	assert.Equal(t, "k1", replaced)

	_, err = s.Projects.FindByAPIKey(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("oracle", "")
	assert.Error(t, err)
}
