package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/casetrace/internal/storage"
	"github.com/scrypster/casetrace/pkg/types"
)

func mustRecord(t *testing.T, data types.CanonicalData, confidence float64, source string) types.Record {
	t.Helper()
	rec, ok := types.NewRecord(data, confidence, source)
	require.True(t, ok, "record for %v should be valid", data)
	return rec
}

func ref(id string) types.ReportRef {
	return types.ReportRef{ID: id, Username: "user-" + id, CreatedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
}

func TestStoreEntities_CanonicalIdentityAcrossReports(t *testing.T) {
	ctx := context.Background()
	store := NewEntityStore()

	email1 := mustRecord(t, types.Email{Address: "Maria@Example.com"}, 0.8, "r1 bio")
	email2 := mustRecord(t, types.Email{Address: "maria@example.com "}, 1.0, "r2 contact")
	require.Equal(t, email1.EntityID, email2.EntityID, "same normalized address must share an entity ID")

	require.NoError(t, store.StoreEntities(ctx, ref("r1"), []types.Record{email1}))
	require.NoError(t, store.StoreEntities(ctx, ref("r2"), []types.Record{email2}))

	reports, err := store.EntityReports(ctx, email1.EntityID)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "r1", reports[0].Report.ID)
	assert.Equal(t, "r2", reports[1].Report.ID)
	assert.Equal(t, 0.8, reports[0].Record.Confidence)
	assert.Equal(t, 1.0, reports[1].Record.Confidence)
}

func TestStoreEntities_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := NewEntityStore()

	records := []types.Record{
		mustRecord(t, types.Email{Address: "maria@example.com"}, 0.8, "bio"),
		mustRecord(t, types.SocialHandle{Platform: "twitter", Username: "mlopezgarcia"}, 1.0, "profile"),
	}

	require.NoError(t, store.StoreEntities(ctx, ref("r1"), records))
	first := snapshot(t, store)

	require.NoError(t, store.StoreEntities(ctx, ref("r1"), records))
	second := snapshot(t, store)

	assert.Equal(t, first, second, "identical re-store must leave the store observably unchanged")
}

// snapshot captures the observable state: statistics, report entities, and
// the per-entity state incl. last_updated (which drives search ordering).
func snapshot(t *testing.T, store *EntityStore) string {
	t.Helper()
	ctx := context.Background()

	stats, err := store.Statistics(ctx)
	require.NoError(t, err)
	ents, err := store.ReportEntities(ctx, "r1", "")
	require.NoError(t, err)

	out := fmt.Sprintf("%+v\n", stats)
	for _, cat := range types.AllCategories {
		for _, rec := range ents[cat] {
			e, err := store.Entity(ctx, rec.EntityID)
			require.NoError(t, err)
			out += fmt.Sprintf("%+v\n%+v\n", rec, e)
		}
	}
	return out
}

func TestStoreEntities_ReconcilesChangedEntitySet(t *testing.T) {
	ctx := context.Background()
	store := NewEntityStore()

	email := mustRecord(t, types.Email{Address: "old@example.com"}, 0.8, "bio")
	domain := mustRecord(t, types.Domain{Name: "example.com"}, 0.8, "url")
	require.NoError(t, store.StoreEntities(ctx, ref("r1"), []types.Record{email, domain}))

	// Re-extraction no longer finds the email.
	require.NoError(t, store.StoreEntities(ctx, ref("r1"), []types.Record{domain}))

	_, err := store.Entity(ctx, email.EntityID)
	assert.ErrorIs(t, err, storage.ErrNotFound, "orphaned entity must be garbage-collected")

	stats, err := store.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalEntities)
}

func TestDeleteReport_GarbageCollection(t *testing.T) {
	ctx := context.Background()
	store := NewEntityStore()

	shared := mustRecord(t, types.Email{Address: "maria@example.com"}, 0.8, "bio")
	only := mustRecord(t, types.Domain{Name: "r1-only.example"}, 0.8, "url")

	require.NoError(t, store.StoreEntities(ctx, ref("r1"), []types.Record{shared, only}))
	require.NoError(t, store.StoreEntities(ctx, ref("r2"), []types.Record{shared}))

	require.NoError(t, store.DeleteReport(ctx, "r1"))

	// The shared entity survives with a smaller report set.
	e, err := store.Entity(ctx, shared.EntityID)
	require.NoError(t, err)
	assert.Equal(t, []string{"r2"}, e.ReportIDs)

	// The r1-only entity is gone from every index.
	_, err = store.Entity(ctx, only.EntityID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	hits, err := store.Search(ctx, types.CategoryDomains, "r1-only", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// Deleting the last referencing report removes the entity entirely.
	require.NoError(t, store.DeleteReport(ctx, "r2"))
	_, err = store.Entity(ctx, shared.EntityID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	stats, err := store.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalEntities)
	assert.Equal(t, 0, stats.ReportsWithEntities)
}

func TestDeleteReport_NeverSeen(t *testing.T) {
	store := NewEntityStore()
	err := store.DeleteReport(context.Background(), "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReportEntities_UnknownReportIsEmpty(t *testing.T) {
	store := NewEntityStore()
	ents, err := store.ReportEntities(context.Background(), "ghost", "")
	require.NoError(t, err)
	assert.Empty(t, ents)
}

func TestReportEntities_CategoryFilter(t *testing.T) {
	ctx := context.Background()
	store := NewEntityStore()

	records := []types.Record{
		mustRecord(t, types.Email{Address: "maria@example.com"}, 0.8, "bio"),
		mustRecord(t, types.Domain{Name: "example.com"}, 0.8, "url"),
	}
	require.NoError(t, store.StoreEntities(ctx, ref("r1"), records))

	ents, err := store.ReportEntities(ctx, "r1", types.CategoryEmails)
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Len(t, ents[types.CategoryEmails], 1)

	_, err = store.ReportEntities(ctx, "r1", types.Category("bogus"))
	assert.ErrorIs(t, err, storage.ErrInvalidArgument)
}

func TestSearch_OrderingAndLimit(t *testing.T) {
	ctx := context.Background()
	store := NewEntityStore()

	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	clock := base
	store.now = func() time.Time { return clock }

	older := mustRecord(t, types.Domain{Name: "alpha.example.com"}, 0.8, "url")
	require.NoError(t, store.StoreEntities(ctx, ref("r1"), []types.Record{older}))

	clock = base.Add(time.Minute)
	newer := mustRecord(t, types.Domain{Name: "beta.example.com"}, 0.8, "url")
	require.NoError(t, store.StoreEntities(ctx, ref("r2"), []types.Record{newer}))

	hits, err := store.Search(ctx, types.CategoryDomains, "example.com", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, newer.EntityID, hits[0].Entity.ID, "last_updated desc")
	assert.Equal(t, older.EntityID, hits[1].Entity.ID)

	hits, err = store.Search(ctx, types.CategoryDomains, "example.com", 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	_, err = store.Search(ctx, types.Category("bogus"), "x", 10)
	assert.ErrorIs(t, err, storage.ErrInvalidArgument)
}

func TestSearch_TieBreakByEntityID(t *testing.T) {
	ctx := context.Background()
	store := NewEntityStore()

	fixed := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	a := mustRecord(t, types.Domain{Name: "a.example.com"}, 0.8, "url")
	b := mustRecord(t, types.Domain{Name: "b.example.com"}, 0.8, "url")
	require.NoError(t, store.StoreEntities(ctx, ref("r1"), []types.Record{a, b}))

	hits, err := store.Search(ctx, types.CategoryDomains, "example.com", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Less(t, hits[0].Entity.ID, hits[1].Entity.ID, "equal timestamps break ties by entity ID ascending")
}

func TestStatistics_PerCategory(t *testing.T) {
	ctx := context.Background()
	store := NewEntityStore()

	records := []types.Record{
		mustRecord(t, types.Email{Address: "a@example.com"}, 0.8, "bio"),
		mustRecord(t, types.Email{Address: "b@example.com"}, 0.8, "bio"),
		mustRecord(t, types.Domain{Name: "example.com"}, 0.8, "url"),
	}
	require.NoError(t, store.StoreEntities(ctx, ref("r1"), records))

	stats, err := store.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalEntities)
	assert.Equal(t, 1, stats.ReportsWithEntities)
	assert.Equal(t, 2, stats.EntitiesByCategory[types.CategoryEmails])
	assert.Equal(t, 1, stats.EntitiesByCategory[types.CategoryDomains])
}

// TestConcurrentWriters_SharedEntity exercises the atomicity contract: many
// concurrent writers all touching the same shared entity must never lose a
// reverse-index update.
func TestConcurrentWriters_SharedEntity(t *testing.T) {
	ctx := context.Background()
	store := NewEntityStore()

	shared := mustRecord(t, types.Domain{Name: "shared.example.com"}, 0.8, "url")

	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("r%02d", i)
			own := mustRecord(t, types.Email{Address: fmt.Sprintf("u%02d@example.com", i)}, 0.8, "bio")
			if err := store.StoreEntities(ctx, ref(id), []types.Record{shared, own}); err != nil {
				t.Errorf("store %s: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	e, err := store.Entity(ctx, shared.EntityID)
	require.NoError(t, err)
	assert.Len(t, e.ReportIDs, writers, "no reverse-index update may be lost")
}

// TestConcurrentReadersAndWriters runs queries against in-flight mutations;
// the race detector plus the consistency assertions cover the torn-write
// contract.
func TestConcurrentReadersAndWriters(t *testing.T) {
	ctx := context.Background()
	store := NewEntityStore()

	shared := mustRecord(t, types.Email{Address: "pivot@example.com"}, 0.8, "bio")
	require.NoError(t, store.StoreEntities(ctx, ref("seed"), []types.Record{shared}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("w%d", i)
			_ = store.StoreEntities(ctx, ref(id), []types.Record{shared})
			_ = store.DeleteReport(ctx, id)
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				reports, err := store.EntityReports(ctx, shared.EntityID)
				if err != nil {
					t.Errorf("entity reports: %v", err)
					return
				}
				// Every report in the entity's set must have a matching
				// forward-index record.
				for _, er := range reports {
					ents, err := store.ReportEntities(ctx, er.Report.ID, "")
					if err != nil {
						t.Errorf("report entities: %v", err)
						return
					}
					if len(ents) == 0 {
						// Deleted between the two reads; not a torn write.
						continue
					}
					found := false
					for _, recs := range ents {
						for _, rec := range recs {
							if rec.EntityID == shared.EntityID {
								found = true
							}
						}
					}
					if !found {
						t.Errorf("report %s visible in reverse index without forward record", er.Report.ID)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}

func TestStoreEntities_InvalidInput(t *testing.T) {
	ctx := context.Background()
	store := NewEntityStore()

	err := store.StoreEntities(ctx, types.ReportRef{}, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	err = store.StoreEntities(ctx, ref("r1"), []types.Record{{EntityID: "", Category: types.CategoryEmails}})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestFailureIsolationBetweenReports(t *testing.T) {
	ctx := context.Background()
	store := NewEntityStore()

	good := mustRecord(t, types.Email{Address: "ok@example.com"}, 0.8, "bio")
	require.NoError(t, store.StoreEntities(ctx, ref("r1"), []types.Record{good}))

	// A failing store for another report must not disturb r1's state.
	err := store.StoreEntities(ctx, ref("r2"), []types.Record{{EntityID: "", Category: "bogus"}})
	require.Error(t, err)
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected invalid input kind, got %v", err)
	}

	ents, err := store.ReportEntities(ctx, "r1", "")
	require.NoError(t, err)
	assert.Len(t, ents[types.CategoryEmails], 1)
}
