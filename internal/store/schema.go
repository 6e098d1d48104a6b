package store

// schemaVersion is the current archive schema.
const schemaVersion = 1

var schema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS analyses (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	repo              TEXT NOT NULL,
	date              TEXT NOT NULL,
	total_runs        INTEGER NOT NULL,
	flake_runs        INTEGER NOT NULL,
	real_failure_runs INTEGER NOT NULL,
	unclear_runs      INTEGER NOT NULL,
	total_jobs        INTEGER NOT NULL,
	created_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS categories (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id     INTEGER NOT NULL REFERENCES analyses(id),
	name            TEXT NOT NULL,
	is_flake        INTEGER NOT NULL,
	run_count       INTEGER NOT NULL,
	job_count       INTEGER NOT NULL,
	test_ids        TEXT,
	last_seen       TEXT,
	example_error   TEXT,
	example_summary TEXT
);
CREATE INDEX IF NOT EXISTS idx_categories_name ON categories(name);

CREATE TABLE IF NOT EXISTS fix_candidates (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	category_id INTEGER NOT NULL REFERENCES categories(id),
	type        TEXT NOT NULL,
	ref         TEXT NOT NULL,
	sha         TEXT,
	url         TEXT,
	title       TEXT,
	date        TEXT,
	confidence  TEXT
);
`
