// Package memory provides an in-memory EntityStore. It is the reference
// implementation of the index semantics and the default backend for tests
// and single-process use.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/scrypster/casetrace/internal/storage"
	"github.com/scrypster/casetrace/pkg/types"
)

// entityRow holds one canonical entity plus its per-report records. The
// records map is the reverse index: its key set is the entity's report set.
type entityRow struct {
	id          string
	category    types.Category
	key         string
	fields      map[string]string
	records     map[string]types.Record
	firstSeen   time.Time
	lastUpdated time.Time
}

// reportRow is the forward index entry for one report.
type reportRow struct {
	ref         types.ReportRef
	byCategory  map[types.Category][]types.Record
	extractedAt time.Time
}

// EntityStore implements storage.EntityStore with maps guarded by a single
// RWMutex. Mutations update the forward index, reverse index, and category
// index inside one critical section, so readers always see the two
// directions in agreement.
type EntityStore struct {
	mu         sync.RWMutex
	entities   map[string]*entityRow
	reports    map[string]*reportRow
	byCategory map[types.Category]map[string]struct{}

	now func() time.Time
}

// NewEntityStore creates an empty in-memory store.
func NewEntityStore() *EntityStore {
	return &EntityStore{
		entities:   make(map[string]*entityRow),
		reports:    make(map[string]*reportRow),
		byCategory: make(map[types.Category]map[string]struct{}),
		now:        time.Now,
	}
}

// StoreEntities indexes the extraction output of one report.
func (s *EntityStore) StoreEntities(ctx context.Context, ref types.ReportRef, records []types.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ref.ID == "" {
		return fmt.Errorf("%w: report ID is required", storage.ErrInvalidInput)
	}
	for _, rec := range records {
		if rec.EntityID == "" || !rec.Category.Valid() {
			return fmt.Errorf("%w: record with empty entity ID or unknown category", storage.ErrInvalidInput)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	// Collapse duplicate entity IDs within the incoming batch; the last
	// record wins. The extractor already deduplicates, so this only guards
	// against hand-built input.
	incoming := make(map[string]types.Record, len(records))
	for _, rec := range records {
		incoming[rec.EntityID] = rec
	}

	// Reconcile a previous store of the same report: drop the report from
	// entities it no longer references so the reverse index never disagrees
	// with the forward index.
	if prev, ok := s.reports[ref.ID]; ok {
		for _, recs := range prev.byCategory {
			for _, old := range recs {
				if _, stillPresent := incoming[old.EntityID]; !stillPresent {
					s.dropMembership(old.EntityID, ref.ID)
				}
			}
		}
	}

	byCategory := make(map[types.Category][]types.Record)
	for _, rec := range incoming {
		row, ok := s.entities[rec.EntityID]
		if !ok {
			row = &entityRow{
				id:        rec.EntityID,
				category:  rec.Category,
				key:       rec.Key,
				fields:    copyFields(rec.Fields),
				records:   make(map[string]types.Record),
				firstSeen: now,
				// lastUpdated set below on first membership.
			}
			s.entities[rec.EntityID] = row
			if s.byCategory[rec.Category] == nil {
				s.byCategory[rec.Category] = make(map[string]struct{})
			}
			s.byCategory[rec.Category][rec.EntityID] = struct{}{}
		}

		// Only touch last_updated when membership or the record actually
		// changes; identical re-stores must be observably idempotent.
		if old, member := row.records[ref.ID]; !member || !reflect.DeepEqual(old, rec) {
			row.records[ref.ID] = rec
			row.lastUpdated = now
		}

		byCategory[rec.Category] = append(byCategory[rec.Category], rec)
	}

	for cat := range byCategory {
		sortRecords(byCategory[cat])
	}

	s.reports[ref.ID] = &reportRow{
		ref:         ref,
		byCategory:  byCategory,
		extractedAt: now,
	}

	return nil
}

// dropMembership removes a report from an entity's report set and discards
// the entity when the set becomes empty. Caller holds the write lock.
func (s *EntityStore) dropMembership(entityID, reportID string) {
	row, ok := s.entities[entityID]
	if !ok {
		return
	}
	delete(row.records, reportID)
	if len(row.records) == 0 {
		delete(s.entities, entityID)
		if set, ok := s.byCategory[row.category]; ok {
			delete(set, entityID)
			if len(set) == 0 {
				delete(s.byCategory, row.category)
			}
		}
	}
}

// ReportEntities returns the per-report records grouped by category.
func (s *EntityStore) ReportEntities(ctx context.Context, reportID string, category types.Category) (map[types.Category][]types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if category != "" && !category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", storage.ErrInvalidArgument, category)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[types.Category][]types.Record)
	row, ok := s.reports[reportID]
	if !ok {
		return result, nil
	}

	for cat, recs := range row.byCategory {
		if category != "" && cat != category {
			continue
		}
		result[cat] = append([]types.Record(nil), recs...)
	}
	return result, nil
}

// Entity returns the canonical entity for an ID.
func (s *EntityStore) Entity(ctx context.Context, entityID string) (*types.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.entities[entityID]
	if !ok {
		return nil, fmt.Errorf("%w: entity %s", storage.ErrNotFound, entityID)
	}
	return row.toEntity(), nil
}

// EntityReports returns every report referencing the entity with its record.
func (s *EntityStore) EntityReports(ctx context.Context, entityID string) ([]storage.EntityReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.entities[entityID]
	if !ok {
		return []storage.EntityReport{}, nil
	}

	out := make([]storage.EntityReport, 0, len(row.records))
	for reportID, rec := range row.records {
		ref := types.ReportRef{ID: reportID}
		if rep, ok := s.reports[reportID]; ok {
			ref = rep.ref
		}
		out = append(out, storage.EntityReport{Report: ref, Record: rec})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Report.ID < out[j].Report.ID
	})
	return out, nil
}

// ReportRef returns the stored reference for a report.
func (s *EntityStore) ReportRef(ctx context.Context, reportID string) (types.ReportRef, error) {
	if err := ctx.Err(); err != nil {
		return types.ReportRef{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.reports[reportID]
	if !ok {
		return types.ReportRef{}, fmt.Errorf("%w: report %s", storage.ErrNotFound, reportID)
	}
	return row.ref, nil
}

// Search scans one category's index for matching entities.
func (s *EntityStore) Search(ctx context.Context, category types.Category, term string, limit int) ([]storage.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", storage.ErrInvalidArgument, category)
	}
	limit = storage.NormalizeSearchLimit(limit)
	term = strings.ToLower(strings.TrimSpace(term))

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []storage.SearchHit
	for entityID := range s.byCategory[category] {
		row := s.entities[entityID]
		if row == nil || !row.matches(term) {
			continue
		}
		hits = append(hits, storage.SearchHit{
			Entity:      row.toEntity(),
			ReportCount: len(row.records),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i].Entity, hits[j].Entity
		if !a.LastUpdated.Equal(b.LastUpdated) {
			return a.LastUpdated.After(b.LastUpdated)
		}
		return a.ID < b.ID
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// DeleteReport removes the report from every index, garbage-collecting
// entities that lose their last reference.
func (s *EntityStore) DeleteReport(ctx context.Context, reportID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.reports[reportID]
	if !ok {
		return fmt.Errorf("%w: report %s", storage.ErrNotFound, reportID)
	}

	for _, recs := range row.byCategory {
		for _, rec := range recs {
			s.dropMembership(rec.EntityID, reportID)
		}
	}
	delete(s.reports, reportID)
	return nil
}

// Statistics returns index totals and per-category entity counts.
func (s *EntityStore) Statistics(ctx context.Context) (*types.Statistics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &types.Statistics{
		TotalEntities:       len(s.entities),
		ReportsWithEntities: 0,
		EntitiesByCategory:  make(map[types.Category]int),
	}
	for _, row := range s.reports {
		if len(row.byCategory) > 0 {
			stats.ReportsWithEntities++
		}
	}
	for cat, set := range s.byCategory {
		stats.EntitiesByCategory[cat] = len(set)
	}
	return stats, nil
}

// Close is a no-op for the in-memory store.
func (s *EntityStore) Close() error { return nil }

func (r *entityRow) toEntity() *types.Entity {
	reportIDs := make([]string, 0, len(r.records))
	for id := range r.records {
		reportIDs = append(reportIDs, id)
	}
	sort.Strings(reportIDs)
	return &types.Entity{
		ID:          r.id,
		Category:    r.category,
		Key:         r.key,
		Fields:      copyFields(r.fields),
		ReportIDs:   reportIDs,
		FirstSeen:   r.firstSeen,
		LastUpdated: r.lastUpdated,
	}
}

// matches reports whether the entity's canonical key or any raw field value
// contains the lowercased term. An empty term matches everything.
func (r *entityRow) matches(term string) bool {
	if term == "" {
		return true
	}
	if strings.Contains(r.key, term) {
		return true
	}
	for _, v := range r.fields {
		if strings.Contains(strings.ToLower(v), term) {
			return true
		}
	}
	for _, rec := range r.records {
		for _, v := range rec.Fields {
			if strings.Contains(strings.ToLower(v), term) {
				return true
			}
		}
	}
	return false
}

func copyFields(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortRecords(recs []types.Record) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].EntityID < recs[j].EntityID
	})
}
