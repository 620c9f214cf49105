// Package postgres provides a PostgreSQL-backed EntityStore for shared
// multi-process deployments. The index semantics match the memory and
// sqlite backends; callers should wrap it in storage.NewBreakerStore so a
// lost database does not cascade.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/scrypster/casetrace/internal/storage"
	"github.com/scrypster/casetrace/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS reports (
	report_id    TEXT PRIMARY KEY,
	username     TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	extracted_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS entities (
	entity_id    TEXT PRIMARY KEY,
	category     TEXT NOT NULL,
	entity_key   TEXT NOT NULL,
	fields_json  TEXT NOT NULL,
	first_seen   TIMESTAMPTZ NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_category ON entities(category);

CREATE TABLE IF NOT EXISTS entity_reports (
	entity_id   TEXT NOT NULL REFERENCES entities(entity_id) ON DELETE CASCADE,
	report_id   TEXT NOT NULL REFERENCES reports(report_id) ON DELETE CASCADE,
	category    TEXT NOT NULL,
	record_json TEXT NOT NULL,
	PRIMARY KEY (entity_id, report_id)
);

CREATE INDEX IF NOT EXISTS idx_entity_reports_report ON entity_reports(report_id);
`

// EntityStore implements storage.EntityStore on PostgreSQL.
type EntityStore struct {
	db *sql.DB
}

// NewEntityStore connects to PostgreSQL, verifies the connection, and
// creates the schema.
func NewEntityStore(dsn string) (*EntityStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping failed: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to create schema: %w", err)
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
		return fmt.Errorf("postgres: begin store: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO reports (report_id, username, created_at, extracted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (report_id) DO UPDATE SET
			username = EXCLUDED.username,
			created_at = EXCLUDED.created_at,
			extracted_at = EXCLUDED.extracted_at
	`, ref.ID, ref.Username, ref.CreatedAt.UTC(), now); err != nil {
		return fmt.Errorf("postgres: upsert report: %w", err)
	}

	incoming := make(map[string]types.Record, len(records))
	for _, rec := range records {
		incoming[rec.EntityID] = rec
	}

	previous, err := reportEntityIDs(ctx, tx, ref.ID)
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
			`SELECT record_json FROM entity_reports WHERE entity_id = $1 AND report_id = $2`,
			rec.EntityID, ref.ID).Scan(&existingJSON)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("postgres: read existing record: %w", err)
		}

		recordJSON, merr := json.Marshal(rec)
		if merr != nil {
			return fmt.Errorf("postgres: marshal record: %w", merr)
		}

		// Identical re-stores must not bump last_updated.
		if err == nil && existingJSON == string(recordJSON) {
			continue
		}

		fieldsJSON, merr := json.Marshal(rec.Fields)
		if merr != nil {
			return fmt.Errorf("postgres: marshal fields: %w", merr)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entities (entity_id, category, entity_key, fields_json, first_seen, last_updated)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (entity_id) DO UPDATE SET last_updated = EXCLUDED.last_updated
		`, rec.EntityID, string(rec.Category), rec.Key, string(fieldsJSON), now, now); err != nil {
			return fmt.Errorf("postgres: upsert entity: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entity_reports (entity_id, report_id, category, record_json)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (entity_id, report_id) DO UPDATE SET
				category = EXCLUDED.category,
				record_json = EXCLUDED.record_json
		`, rec.EntityID, ref.ID, string(rec.Category), string(recordJSON)); err != nil {
			return fmt.Errorf("postgres: upsert membership: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit store: %w", err)
	}
	return nil
}

func reportEntityIDs(ctx context.Context, tx *sql.Tx, reportID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT entity_id FROM entity_reports WHERE report_id = $1`, reportID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list report entities: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan entity id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func dropMembership(ctx context.Context, tx *sql.Tx, entityID, reportID string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entity_reports WHERE entity_id = $1 AND report_id = $2`,
		entityID, reportID); err != nil {
		return fmt.Errorf("postgres: drop membership: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM entities
		WHERE entity_id = $1
		  AND NOT EXISTS (SELECT 1 FROM entity_reports WHERE entity_id = $1)
	`, entityID); err != nil {
		return fmt.Errorf("postgres: garbage-collect entity: %w", err)
	}
	return nil
}

// ReportEntities returns the per-report records grouped by category.
func (s *EntityStore) ReportEntities(ctx context.Context, reportID string, category types.Category) (map[types.Category][]types.Record, error) {
	if category != "" && !category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", storage.ErrInvalidArgument, category)
	}

	query := `SELECT record_json FROM entity_reports WHERE report_id = $1`
	args := []interface{}{reportID}
	if category != "" {
		query += ` AND category = $2`
		args = append(args, string(category))
	}
	query += ` ORDER BY entity_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query report entities: %w", err)
	}
	defer rows.Close()

	result := make(map[types.Category][]types.Record)
	for rows.Next() {
		var recordJSON string
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, fmt.Errorf("postgres: scan record: %w", err)
		}
		var rec types.Record
		if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal record: %w", err)
		}
		result[rec.Category] = append(result[rec.Category], rec)
	}
	return result, rows.Err()
}

// Entity returns the canonical entity for an ID.
func (s *EntityStore) Entity(ctx context.Context, entityID string) (*types.Entity, error) {
	var (
		category, key, fieldsJSON string
		firstSeen, lastUpdated    time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT category, entity_key, fields_json, first_seen, last_updated
		FROM entities WHERE entity_id = $1
	`, entityID).Scan(&category, &key, &fieldsJSON, &firstSeen, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: entity %s", storage.ErrNotFound, entityID)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: query entity: %w", err)
	}

	entity := &types.Entity{
		ID:          entityID,
		Category:    types.Category(category),
		Key:         key,
		FirstSeen:   firstSeen.UTC(),
		LastUpdated: lastUpdated.UTC(),
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &entity.Fields); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal fields: %w", err)
	}

	entity.ReportIDs, err = s.entityReportIDs(ctx, entityID)
	if err != nil {
		return nil, err
	}
	return entity, nil
}

func (s *EntityStore) entityReportIDs(ctx context.Context, entityID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT report_id FROM entity_reports WHERE entity_id = $1 ORDER BY report_id ASC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query entity reports: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 4)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan report id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EntityReports returns every report referencing the entity with its record.
func (s *EntityStore) EntityReports(ctx context.Context, entityID string) ([]storage.EntityReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT er.report_id, er.record_json,
		       COALESCE(r.username, ''), COALESCE(r.created_at, 'epoch'::timestamptz)
		FROM entity_reports er
		LEFT JOIN reports r ON r.report_id = er.report_id
		WHERE er.entity_id = $1
		ORDER BY er.report_id ASC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query entity reports: %w", err)
	}
	defer rows.Close()

	out := []storage.EntityReport{}
	for rows.Next() {
		var (
			reportID, recordJSON, username string
			createdAt                      time.Time
		)
		if err := rows.Scan(&reportID, &recordJSON, &username, &createdAt); err != nil {
			return nil, fmt.Errorf("postgres: scan entity report: %w", err)
		}
		var rec types.Record
		if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal record: %w", err)
		}
		out = append(out, storage.EntityReport{
			Report: types.ReportRef{ID: reportID, Username: username, CreatedAt: createdAt.UTC()},
			Record: rec,
		})
	}
	return out, rows.Err()
}

// ReportRef returns the stored reference for a report.
func (s *EntityStore) ReportRef(ctx context.Context, reportID string) (types.ReportRef, error) {
	var (
		username  string
		createdAt time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT username, created_at FROM reports WHERE report_id = $1`, reportID).
		Scan(&username, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ReportRef{}, fmt.Errorf("%w: report %s", storage.ErrNotFound, reportID)
	}
	if err != nil {
		return types.ReportRef{}, fmt.Errorf("postgres: query report: %w", err)
	}
	return types.ReportRef{ID: reportID, Username: username, CreatedAt: createdAt.UTC()}, nil
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
		WHERE e.category = $1
		  AND (lower(e.entity_key) LIKE $2
		       OR lower(e.fields_json) LIKE $2
		       OR EXISTS (SELECT 1 FROM entity_reports er
		                  WHERE er.entity_id = e.entity_id
		                    AND lower(er.record_json) LIKE $2))
		ORDER BY e.last_updated DESC, e.entity_id ASC
		LIMIT $3
	`, string(category), pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: search: %w", err)
	}
	defer rows.Close()

	hits := []storage.SearchHit{}
	for rows.Next() {
		var (
			entityID, key, fieldsJSON string
			firstSeen, lastUpdated    time.Time
			reportCount               int
		)
		if err := rows.Scan(&entityID, &key, &fieldsJSON, &firstSeen, &lastUpdated, &reportCount); err != nil {
			return nil, fmt.Errorf("postgres: scan hit: %w", err)
		}
		entity := &types.Entity{
			ID:          entityID,
			Category:    category,
			Key:         key,
			FirstSeen:   firstSeen.UTC(),
			LastUpdated: lastUpdated.UTC(),
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &entity.Fields); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal fields: %w", err)
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
		return fmt.Errorf("postgres: begin delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM reports WHERE report_id = $1`, reportID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: report %s", storage.ErrNotFound, reportID)
	}
	if err != nil {
		return fmt.Errorf("postgres: check report: %w", err)
	}

	entityIDs, err := reportEntityIDs(ctx, tx, reportID)
	if err != nil {
		return err
	}
	for _, entityID := range entityIDs {
		if err := dropMembership(ctx, tx, entityID, reportID); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM reports WHERE report_id = $1`, reportID); err != nil {
		return fmt.Errorf("postgres: delete report: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit delete: %w", err)
	}
	return nil
}

// Statistics returns index totals and per-category entity counts.
func (s *EntityStore) Statistics(ctx context.Context) (*types.Statistics, error) {
	stats := &types.Statistics{EntitiesByCategory: make(map[types.Category]int)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM entities GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("postgres: statistics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("postgres: scan statistics: %w", err)
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
		return nil, fmt.Errorf("postgres: count reports: %w", err)
	}
	return stats, nil
}

// Close releases the database handle.
func (s *EntityStore) Close() error {
	return s.db.Close()
}
