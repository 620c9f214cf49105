package sqlite

// Schema creates the entity index tables. entity_reports serves both index
// directions: grouped by report_id it is the forward index, grouped by
// entity_id it is the reverse index, so one transactional write keeps the
// two in agreement.
const Schema = `
CREATE TABLE IF NOT EXISTS reports (
	report_id    TEXT PRIMARY KEY,
	username     TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	extracted_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entities (
	entity_id    TEXT PRIMARY KEY,
	category     TEXT NOT NULL,
	entity_key   TEXT NOT NULL,
	fields_json  TEXT NOT NULL,
	first_seen   TEXT NOT NULL,
	last_updated TEXT NOT NULL
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
