// Package storage defines the entity index contract shared by all backends.
//
// The index is bidirectional: entity→reports (reverse), report→category→records
// (forward), and category→entities (search). Backends must keep the two
// directions mutually consistent under concurrent use: a reader never observes
// a report in an entity's report set without the matching per-report record,
// or vice versa.
package storage

import (
	"context"
	"errors"

	"github.com/scrypster/casetrace/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input payload is absent or
	// structurally unreadable.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidArgument indicates a malformed query argument, such as an
	// unrecognized category.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrBackendUnavailable indicates that a remote backend is currently
	// rejecting requests (circuit open).
	ErrBackendUnavailable = errors.New("storage backend unavailable")
)

// EntityStore is the durable bidirectional index over extracted entities.
//
// StoreEntities and DeleteReport must be safe under arbitrary interleaving
// for different report IDs, and reverse-index updates for a shared entity
// must be atomic so concurrent writers never lose an update. Reads may run
// concurrently with writes and observe a consistent (not necessarily latest)
// snapshot.
type EntityStore interface {
	// StoreEntities indexes the extraction output of one report. Re-running
	// with identical records leaves the store observably unchanged. When the
	// record set differs from a previous store of the same report, entities
	// the report no longer references drop the report from their report set
	// (and are garbage-collected when that set becomes empty).
	StoreEntities(ctx context.Context, ref types.ReportRef, records []types.Record) error

	// ReportEntities returns the per-report records grouped by category,
	// optionally filtered to a single category. An unknown report ID yields
	// an empty result, not an error. An unrecognized non-empty category
	// yields ErrInvalidArgument.
	ReportEntities(ctx context.Context, reportID string, category types.Category) (map[types.Category][]types.Record, error)

	// Entity returns the canonical entity for an ID, or ErrNotFound.
	Entity(ctx context.Context, entityID string) (*types.Entity, error)

	// EntityReports returns every report referencing the entity together
	// with each report's per-report record. An unknown entity yields an
	// empty slice.
	EntityReports(ctx context.Context, entityID string) ([]EntityReport, error)

	// ReportRef returns the stored reference for a report, or ErrNotFound.
	ReportRef(ctx context.Context, reportID string) (types.ReportRef, error)

	// Search scans one category's index for entities whose canonical key or
	// raw field values contain the term (case-insensitive). Results are
	// ordered by last_updated descending, ties broken by entity ID
	// ascending, and bounded by limit. An unrecognized category yields
	// ErrInvalidArgument.
	Search(ctx context.Context, category types.Category, term string, limit int) ([]SearchHit, error)

	// DeleteReport removes the report from every index. Entities whose
	// report set becomes empty are discarded entirely. A never-seen report
	// ID yields ErrNotFound.
	DeleteReport(ctx context.Context, reportID string) error

	// Statistics returns index totals and per-category entity counts.
	Statistics(ctx context.Context) (*types.Statistics, error)

	// Close releases any resources held by the store.
	Close() error
}
