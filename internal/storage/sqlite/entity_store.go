// Package sqlite provides a SQLite-backed EntityStore. Writes are
// serialised over a single connection and applied in one transaction per
// operation, which gives the atomic reverse-index update the index contract
// requires.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/casetrace/internal/storage"
	"github.com/scrypster/casetrace/pkg/types"
)

// EntityStore implements storage.EntityStore using SQLite.
type EntityStore struct {
	db *sql.DB
}

// NewEntityStore opens a SQLite database, configures WAL mode, and creates
// the schema.
func NewEntityStore(dsn string) (*EntityStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load;
	// WAL mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &EntityStore{db: db}, nil
}

// StoreEntities indexes the extraction output of one report in a single
// transaction.
func (s *EntityStore) StoreEntities(ctx context.Context, ref types.ReportRef, records []types.Record) error {
	if ref.ID == "" {
		return fmt.Errorf("%w: report ID is required", storage.ErrInvalidInput)
	}
	for _, rec := range records {
		if rec.EntityID == "" || !rec.Category.Valid() {
			return fmt.Errorf("%w: record with empty entity ID or unknown category", storage.ErrInvalidInput)
		}
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin store: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO reports (report_id, username, created_at, extracted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(report_id) DO UPDATE SET
			username = excluded.username,
			created_at = excluded.created_at,
			extracted_at = excluded.extracted_at
	`, ref.ID, ref.Username, formatTime(ref.CreatedAt), formatTime(now)); err != nil {
		return fmt.Errorf("sqlite: upsert report: %w", err)
	}

	incoming := make(map[string]types.Record, len(records))
	for _, rec := range records {
		incoming[rec.EntityID] = rec
	}

	// Reconcile a previous store of the same report.
	previous, err := s.reportEntityIDs(ctx, tx, ref.ID)
	if err != nil {
		return err
	}
	for _, entityID := range previous {
		if _, stillPresent := incoming[entityID]; stillPresent {
			continue
		}
		if err := dropMembership(ctx, tx, entityID, ref.ID); err != nil {
			return err
		}
	}

	for _, rec := range incoming {
		var existingJSON string
		err := tx.QueryRowContext(ctx,
			`SELECT record_json FROM entity_reports WHERE entity_id = ? AND report_id = ?`,
			rec.EntityID, ref.ID).Scan(&existingJSON)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("sqlite: read existing record: %w", err)
		}

		recordJSON, merr := json.Marshal(rec)
		if merr != nil {
			return fmt.Errorf("sqlite: marshal record: %w", merr)
		}

		// Identical re-stores must not bump last_updated.
		if err == nil && existingJSON == string(recordJSON) {
			continue
		}

		fieldsJSON, merr := json.Marshal(rec.Fields)
		if merr != nil {
			return fmt.Errorf("sqlite: marshal fields: %w", merr)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entities (entity_id, category, entity_key, fields_json, first_seen, last_updated)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(entity_id) DO UPDATE SET last_updated = excluded.last_updated
		`, rec.EntityID, string(rec.Category), rec.Key, string(fieldsJSON),
			formatTime(now), formatTime(now)); err != nil {
			return fmt.Errorf("sqlite: upsert entity: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entity_reports (entity_id, report_id, category, record_json)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(entity_id, report_id) DO UPDATE SET
				category = excluded.category,
				record_json = excluded.record_json
		`, rec.EntityID, ref.ID, string(rec.Category), string(recordJSON)); err != nil {
			return fmt.Errorf("sqlite: upsert membership: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit store: %w", err)
	}
	return nil
}

func (s *EntityStore) reportEntityIDs(ctx context.Context, tx *sql.Tx, reportID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT entity_id FROM entity_reports WHERE report_id = ?`, reportID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list report entities: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan entity id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// dropMembership removes one report from one entity and garbage-collects the
// entity when its report set becomes empty.
func dropMembership(ctx context.Context, tx *sql.Tx, entityID, reportID string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entity_reports WHERE entity_id = ? AND report_id = ?`,
		entityID, reportID); err != nil {
		return fmt.Errorf("sqlite: drop membership: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM entities
		WHERE entity_id = ?
		  AND NOT EXISTS (SELECT 1 FROM entity_reports WHERE entity_id = ?)
	`, entityID, entityID); err != nil {
		return fmt.Errorf("sqlite: garbage-collect entity: %w", err)
	}
	return nil
}

// ReportEntities returns the per-report records grouped by category.
func (s *EntityStore) ReportEntities(ctx context.Context, reportID string, category types.Category) (map[types.Category][]types.Record, error) {
	if category != "" && !category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", storage.ErrInvalidArgument, category)
	}

	query := `SELECT record_json FROM entity_reports WHERE report_id = ?`
	args := []interface{}{reportID}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, string(category))
	}
	query += ` ORDER BY entity_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query report entities: %w", err)
	}
	defer rows.Close()

	result := make(map[types.Category][]types.Record)
	for rows.Next() {
		var recordJSON string
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, fmt.Errorf("sqlite: scan record: %w", err)
		}
		var rec types.Record
		if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal record: %w", err)
		}
		result[rec.Category] = append(result[rec.Category], rec)
	}
	return result, rows.Err()
}

// Entity returns the canonical entity for an ID.
func (s *EntityStore) Entity(ctx context.Context, entityID string) (*types.Entity, error) {
	var (
		category, key, fieldsJSON string
		firstSeen, lastUpdated    string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT category, entity_key, fields_json, first_seen, last_updated
		FROM entities WHERE entity_id = ?
	`, entityID).Scan(&category, &key, &fieldsJSON, &firstSeen, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: entity %s", storage.ErrNotFound, entityID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: query entity: %w", err)
	}

	entity := &types.Entity{
		ID:          entityID,
		Category:    types.Category(category),
		Key:         key,
		FirstSeen:   parseTime(firstSeen),
		LastUpdated: parseTime(lastUpdated),
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &entity.Fields); err != nil {
		return nil, fmt.Errorf("sqlite: unmarshal fields: %w", err)
	}

	entity.ReportIDs, err = s.entityReportIDs(ctx, entityID)
	if err != nil {
		return nil, err
	}
	return entity, nil
}

func (s *EntityStore) entityReportIDs(ctx context.Context, entityID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT report_id FROM entity_reports WHERE entity_id = ? ORDER BY report_id ASC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query entity reports: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 4)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan report id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EntityReports returns every report referencing the entity with its record.
func (s *EntityStore) EntityReports(ctx context.Context, entityID string) ([]storage.EntityReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT er.report_id, er.record_json,
		       COALESCE(r.username, ''), COALESCE(r.created_at, '')
		FROM entity_reports er
		LEFT JOIN reports r ON r.report_id = er.report_id
		WHERE er.entity_id = ?
		ORDER BY er.report_id ASC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query entity reports: %w", err)
	}
	defer rows.Close()

	out := []storage.EntityReport{}
	for rows.Next() {
		var reportID, recordJSON, username, createdAt string
		if err := rows.Scan(&reportID, &recordJSON, &username, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan entity report: %w", err)
		}
		var rec types.Record
		if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal record: %w", err)
		}
		out = append(out, storage.EntityReport{
			Report: types.ReportRef{ID: reportID, Username: username, CreatedAt: parseTime(createdAt)},
			Record: rec,
		})
	}
	return out, rows.Err()
}

// ReportRef returns the stored reference for a report.
func (s *EntityStore) ReportRef(ctx context.Context, reportID string) (types.ReportRef, error) {
	var username, createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT username, created_at FROM reports WHERE report_id = ?`, reportID).
		Scan(&username, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ReportRef{}, fmt.Errorf("%w: report %s", storage.ErrNotFound, reportID)
	}
	if err != nil {
		return types.ReportRef{}, fmt.Errorf("sqlite: query report: %w", err)
	}
	return types.ReportRef{ID: reportID, Username: username, CreatedAt: parseTime(createdAt)}, nil
}

// Search scans one category's index for matching entities.
func (s *EntityStore) Search(ctx context.Context, category types.Category, term string, limit int) ([]storage.SearchHit, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", storage.ErrInvalidArgument, category)
	}
	limit = storage.NormalizeSearchLimit(limit)
	pattern := "%" + strings.ToLower(strings.TrimSpace(term)) + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.entity_id, e.entity_key, e.fields_json, e.first_seen, e.last_updated,
		       (SELECT COUNT(*) FROM entity_reports er WHERE er.entity_id = e.entity_id)
		FROM entities e
		WHERE e.category = ?
		  AND (lower(e.entity_key) LIKE ?
		       OR lower(e.fields_json) LIKE ?
		       OR EXISTS (SELECT 1 FROM entity_reports er
		                  WHERE er.entity_id = e.entity_id
		                    AND lower(er.record_json) LIKE ?))
		ORDER BY e.last_updated DESC, e.entity_id ASC
		LIMIT ?
	`, string(category), pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search: %w", err)
	}
	defer rows.Close()

	hits := []storage.SearchHit{}
	for rows.Next() {
		var (
			entityID, key, fieldsJSON string
			firstSeen, lastUpdated    string
			reportCount               int
		)
		if err := rows.Scan(&entityID, &key, &fieldsJSON, &firstSeen, &lastUpdated, &reportCount); err != nil {
			return nil, fmt.Errorf("sqlite: scan hit: %w", err)
		}
		entity := &types.Entity{
			ID:          entityID,
			Category:    category,
			Key:         key,
			FirstSeen:   parseTime(firstSeen),
			LastUpdated: parseTime(lastUpdated),
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &entity.Fields); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal fields: %w", err)
		}
		hits = append(hits, storage.SearchHit{Entity: entity, ReportCount: reportCount})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, hit := range hits {
		hit.Entity.ReportIDs, err = s.entityReportIDs(ctx, hit.Entity.ID)
		if err != nil {
			return nil, err
		}
	}
	return hits, nil
}

// DeleteReport removes the report from every index, garbage-collecting
// entities that lose their last reference.
func (s *EntityStore) DeleteReport(ctx context.Context, reportID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM reports WHERE report_id = ?`, reportID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: report %s", storage.ErrNotFound, reportID)
	}
	if err != nil {
		return fmt.Errorf("sqlite: check report: %w", err)
	}

	entityIDs, err := s.reportEntityIDs(ctx, tx, reportID)
	if err != nil {
		return err
	}
	for _, entityID := range entityIDs {
		if err := dropMembership(ctx, tx, entityID, reportID); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM reports WHERE report_id = ?`, reportID); err != nil {
		return fmt.Errorf("sqlite: delete report: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit delete: %w", err)
	}
	return nil
}

// Statistics returns index totals and per-category entity counts.
func (s *EntityStore) Statistics(ctx context.Context) (*types.Statistics, error) {
	stats := &types.Statistics{EntitiesByCategory: make(map[types.Category]int)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM entities GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: statistics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("sqlite: scan statistics: %w", err)
		}
		stats.EntitiesByCategory[types.Category(category)] = count
		stats.TotalEntities += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT report_id) FROM entity_reports`).
		Scan(&stats.ReportsWithEntities)
	if err != nil {
		return nil, fmt.Errorf("sqlite: count reports: %w", err)
	}
	return stats, nil
}

// Close releases the database handle.
func (s *EntityStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
