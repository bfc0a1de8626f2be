package catalog

// schema is applied directly at startup rather than through the migration
// file glob in internal/db — the catalog's tables are small and fixed, and
// shipping them as compiled-in DDL avoids a migrations directory that would
// otherwise only ever hold one file.
const schema = `
CREATE TABLE IF NOT EXISTS libraries (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS library_paths (
	library_id TEXT NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
	path TEXT NOT NULL,
	sort_position INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (library_id, path)
);

CREATE TABLE IF NOT EXISTS items (
	id TEXT PRIMARY KEY,
	library_id TEXT NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
	parent_id TEXT REFERENCES items(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	title TEXT NOT NULL,
	sort_title TEXT,
	year INTEGER,
	overview TEXT,
	genres_csv TEXT NOT NULL DEFAULT '',
	studios_csv TEXT NOT NULL DEFAULT '',
	runtime_minutes INTEGER,
	edition TEXT NOT NULL DEFAULT '',
	season_number INTEGER,
	episode_number INTEGER,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_items_library ON items(library_id);
CREATE INDEX IF NOT EXISTS idx_items_parent ON items(parent_id);

CREATE TABLE IF NOT EXISTS media_files (
	id TEXT PRIMARY KEY,
	library_id TEXT NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
	path TEXT NOT NULL UNIQUE,
	size INTEGER NOT NULL,
	mtime TIMESTAMP NOT NULL,
	container TEXT NOT NULL DEFAULT '',
	duration_seconds REAL,
	stream_info_json TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS episode_file_map (
	id TEXT PRIMARY KEY,
	item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	file_id TEXT NOT NULL REFERENCES media_files(id) ON DELETE CASCADE,
	part_index INTEGER NOT NULL DEFAULT 0,
	UNIQUE(item_id, file_id)
);
CREATE INDEX IF NOT EXISTS idx_efm_item ON episode_file_map(item_id);

CREATE TABLE IF NOT EXISTS provider_ids (
	id TEXT PRIMARY KEY,
	item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	provider TEXT NOT NULL,
	external_id TEXT NOT NULL,
	locked INTEGER NOT NULL DEFAULT 0,
	UNIQUE(item_id, provider)
);

CREATE TABLE IF NOT EXISTS field_locks (
	item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	field TEXT NOT NULL,
	locked INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (item_id, field)
);

CREATE TABLE IF NOT EXISTS expected_episodes (
	id TEXT PRIMARY KEY,
	series_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	season_number INTEGER NOT NULL,
	episode_number INTEGER NOT NULL,
	title TEXT,
	air_date TIMESTAMP,
	UNIQUE(series_id, season_number, episode_number)
);
CREATE INDEX IF NOT EXISTS idx_expected_series ON expected_episodes(series_id);

CREATE TABLE IF NOT EXISTS user_item_state (
	user_id TEXT NOT NULL,
	item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	position_seconds REAL NOT NULL DEFAULT 0,
	played INTEGER NOT NULL DEFAULT 0,
	favorite INTEGER NOT NULL DEFAULT 0,
	last_played_at TIMESTAMP,
	PRIMARY KEY (user_id, item_id)
);

CREATE TABLE IF NOT EXISTS duplicate_groups (
	id TEXT PRIMARY KEY,
	dedup_key TEXT NOT NULL,
	winner_file_id TEXT NOT NULL,
	loser_path TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	progress REAL NOT NULL DEFAULT 0,
	payload TEXT NOT NULL DEFAULT '',
	error_message TEXT,
	started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	completed_at TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// EnsureSchema creates the catalog's tables if they don't already exist.
// Safe to call on every startup.
func (s *Store) EnsureSchema() error {
	_, err := s.db.Exec(schema)
	return err
}
