// Package catalog implements the Catalog Store (§4.A): the durable home for
// libraries, items, media files and their relationships. Every mutation that
// touches more than one row runs inside a single transaction, and every
// storage-layer failure is wrapped with coreerr.Storage so callers never see
// a raw *sql.DB error.
package catalog

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rustfin/rustfin/internal/catalogmodel"
	"github.com/rustfin/rustfin/internal/coreerr"
)

// Store is the catalog's repository, backed by the shared *sql.DB opened by
// internal/db.Connect.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// ──────────────────── Libraries ────────────────────

// UpsertLibrary creates or updates a library and replaces its path list.
// Runs as a single transaction so a library is never observed with a stale
// path set.
func (s *Store) UpsertLibrary(lib *catalogmodel.Library) error {
	tx, err := s.db.Begin()
	if err != nil {
		return coreerr.Storage(err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.Exec(`
		INSERT INTO libraries (id, name, kind, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, kind = excluded.kind, updated_at = excluded.updated_at
	`, lib.ID.String(), lib.Name, string(lib.Kind), now, now)
	if err != nil {
		return coreerr.Storage(fmt.Errorf("upsert library: %w", err))
	}

	if _, err := tx.Exec(`DELETE FROM library_paths WHERE library_id = ?`, lib.ID.String()); err != nil {
		return coreerr.Storage(fmt.Errorf("clear library paths: %w", err))
	}
	for i, p := range lib.Paths {
		if p == "" {
			continue
		}
		if _, err := tx.Exec(`INSERT INTO library_paths (library_id, path, sort_position) VALUES (?, ?, ?)`,
			lib.ID.String(), p, i); err != nil {
			return coreerr.Storage(fmt.Errorf("insert library path: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return coreerr.Storage(err)
	}
	return nil
}

func (s *Store) GetLibrary(id uuid.UUID) (*catalogmodel.Library, error) {
	lib := &catalogmodel.Library{}
	var kind string
	err := s.db.QueryRow(`SELECT id, name, kind, created_at, updated_at FROM libraries WHERE id = ?`, id.String()).
		Scan(&lib.ID, &lib.Name, &kind, &lib.CreatedAt, &lib.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, coreerr.NotFound("library not found")
	}
	if err != nil {
		return nil, coreerr.Storage(err)
	}
	lib.Kind = catalogmodel.LibraryKind(kind)

	paths, err := s.libraryPaths(id)
	if err != nil {
		return nil, err
	}
	lib.Paths = paths
	return lib, nil
}

func (s *Store) ListLibraries() ([]*catalogmodel.Library, error) {
	rows, err := s.db.Query(`SELECT id, name, kind, created_at, updated_at FROM libraries ORDER BY created_at`)
	if err != nil {
		return nil, coreerr.Storage(err)
	}
	defer rows.Close()

	var out []*catalogmodel.Library
	for rows.Next() {
		lib := &catalogmodel.Library{}
		var kind string
		if err := rows.Scan(&lib.ID, &lib.Name, &kind, &lib.CreatedAt, &lib.UpdatedAt); err != nil {
			return nil, coreerr.Storage(err)
		}
		lib.Kind = catalogmodel.LibraryKind(kind)
		paths, err := s.libraryPaths(lib.ID)
		if err != nil {
			return nil, err
		}
		lib.Paths = paths
		out = append(out, lib)
	}
	return out, rows.Err()
}

func (s *Store) libraryPaths(id uuid.UUID) ([]string, error) {
	rows, err := s.db.Query(`SELECT path FROM library_paths WHERE library_id = ? ORDER BY sort_position`, id.String())
	if err != nil {
		return nil, coreerr.Storage(err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, coreerr.Storage(err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// ──────────────────── Items ────────────────────

// UpsertItem inserts or updates an item, keyed by ID. Callers that need to
// locate an item by (library, parent, season/episode) before deciding
// whether to insert should use FindItem first.
func (s *Store) UpsertItem(item *catalogmodel.Item) error {
	now := time.Now().UTC()
	item.UpdatedAt = now
	var parentID interface{}
	if item.ParentID != nil {
		parentID = item.ParentID.String()
	}

	_, err := s.db.Exec(`
		INSERT INTO items (id, library_id, parent_id, kind, title, sort_title, year, overview,
			genres_csv, studios_csv, runtime_minutes, edition, season_number, episode_number, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title, sort_title = excluded.sort_title, year = excluded.year,
			overview = excluded.overview, genres_csv = excluded.genres_csv, studios_csv = excluded.studios_csv,
			runtime_minutes = excluded.runtime_minutes, edition = excluded.edition,
			season_number = excluded.season_number, episode_number = excluded.episode_number,
			updated_at = excluded.updated_at
	`, item.ID.String(), item.LibraryID.String(), parentID, string(item.Kind), item.Title, item.SortTitle,
		item.Year, item.Overview, joinCSV(item.Genres), joinCSV(item.Studios), item.RuntimeMinutes,
		item.Edition, item.SeasonNum, item.EpisodeNum, now, now)
	if err != nil {
		return coreerr.Storage(fmt.Errorf("upsert item: %w", err))
	}
	return nil
}

func joinCSV(vals []string) string { return strings.Join(vals, ",") }

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// FindItem locates an existing item by its natural key within a library —
// used by the scanner to decide insert vs. update without minting a new ID
// for something it has already seen.
func (s *Store) FindItem(libraryID uuid.UUID, parentID *uuid.UUID, kind catalogmodel.ItemKind, seasonNum, episodeNum *int, title string) (*catalogmodel.Item, error) {
	query := `SELECT id, library_id, parent_id, kind, title, sort_title, year, overview,
		genres_csv, studios_csv, runtime_minutes, edition, season_number, episode_number, created_at, updated_at
		FROM items WHERE library_id = ? AND kind = ?`
	args := []interface{}{libraryID.String(), string(kind)}

	if parentID != nil {
		query += ` AND parent_id = ?`
		args = append(args, parentID.String())
	} else {
		query += ` AND parent_id IS NULL`
	}
	if seasonNum != nil {
		query += ` AND season_number = ?`
		args = append(args, *seasonNum)
	}
	if episodeNum != nil {
		query += ` AND episode_number = ?`
		args = append(args, *episodeNum)
	}
	if seasonNum == nil && episodeNum == nil {
		query += ` AND title = ?`
		args = append(args, title)
	}
	query += ` LIMIT 1`

	row := s.db.QueryRow(query, args...)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, coreerr.Storage(err)
	}
	return item, nil
}

func (s *Store) GetItem(id uuid.UUID) (*catalogmodel.Item, error) {
	row := s.db.QueryRow(`SELECT id, library_id, parent_id, kind, title, sort_title, year, overview,
		genres_csv, studios_csv, runtime_minutes, edition, season_number, episode_number, created_at, updated_at
		FROM items WHERE id = ?`, id.String())
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, coreerr.NotFound("item not found")
	}
	if err != nil {
		return nil, coreerr.Storage(err)
	}
	return item, nil
}

// GetChildren returns the direct children of an item (or library roots if
// parentID is nil), ordered for display: season/episode number then title.
func (s *Store) GetChildren(libraryID uuid.UUID, parentID *uuid.UUID) ([]*catalogmodel.Item, error) {
	query := `SELECT id, library_id, parent_id, kind, title, sort_title, year, overview,
		genres_csv, studios_csv, runtime_minutes, edition, season_number, episode_number, created_at, updated_at
		FROM items WHERE library_id = ?`
	args := []interface{}{libraryID.String()}
	if parentID != nil {
		query += ` AND parent_id = ?`
		args = append(args, parentID.String())
	} else {
		query += ` AND parent_id IS NULL`
	}
	query += ` ORDER BY season_number, episode_number, sort_title, title`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, coreerr.Storage(err)
	}
	defer rows.Close()

	var out []*catalogmodel.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, coreerr.Storage(err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func scanItem(row interface{ Scan(dest ...interface{}) error }) (*catalogmodel.Item, error) {
	item := &catalogmodel.Item{}
	var kind string
	var parentID *string
	var genresCSV, studiosCSV string
	if err := row.Scan(&item.ID, &item.LibraryID, &parentID, &kind, &item.Title, &item.SortTitle,
		&item.Year, &item.Overview, &genresCSV, &studiosCSV, &item.RuntimeMinutes, &item.Edition,
		&item.SeasonNum, &item.EpisodeNum, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	item.Kind = catalogmodel.ItemKind(kind)
	item.Genres = splitCSV(genresCSV)
	item.Studios = splitCSV(studiosCSV)
	if parentID != nil {
		pid, err := uuid.Parse(*parentID)
		if err != nil {
			return nil, err
		}
		item.ParentID = &pid
	}
	return item, nil
}

// ──────────────────── Media files ────────────────────

func (s *Store) UpsertFile(f *catalogmodel.MediaFile) error {
	now := time.Now().UTC()
	f.UpdatedAt = now
	_, err := s.db.Exec(`
		INSERT INTO media_files (id, library_id, path, size, mtime, container, duration_seconds,
			stream_info_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			size = excluded.size, mtime = excluded.mtime, container = excluded.container,
			duration_seconds = excluded.duration_seconds, stream_info_json = excluded.stream_info_json,
			updated_at = excluded.updated_at
	`, f.ID.String(), f.LibraryID.String(), f.Path, f.Size, f.ModTime, f.Container, f.DurationSec,
		f.StreamInfoJSON, now, now)
	if err != nil {
		return coreerr.Storage(fmt.Errorf("upsert file: %w", err))
	}
	return nil
}

func (s *Store) GetFileByPath(path string) (*catalogmodel.MediaFile, error) {
	f := &catalogmodel.MediaFile{}
	err := s.db.QueryRow(`SELECT id, library_id, path, size, mtime, container, duration_seconds,
		stream_info_json, created_at, updated_at FROM media_files WHERE path = ?`, path).
		Scan(&f.ID, &f.LibraryID, &f.Path, &f.Size, &f.ModTime, &f.Container, &f.DurationSec,
			&f.StreamInfoJSON, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, coreerr.Storage(err)
	}
	return f, nil
}

func (s *Store) GetFile(id uuid.UUID) (*catalogmodel.MediaFile, error) {
	f := &catalogmodel.MediaFile{}
	err := s.db.QueryRow(`SELECT id, library_id, path, size, mtime, container, duration_seconds,
		stream_info_json, created_at, updated_at FROM media_files WHERE id = ?`, id.String()).
		Scan(&f.ID, &f.LibraryID, &f.Path, &f.Size, &f.ModTime, &f.Container, &f.DurationSec,
			&f.StreamInfoJSON, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, coreerr.NotFound("file not found")
	}
	if err != nil {
		return nil, coreerr.Storage(err)
	}
	return f, nil
}

// DeleteFilesNotIn removes media_files rows under libraryID whose path is
// not present in keepPaths — the scanner calls this after a full walk to
// prune files that vanished from disk.
func (s *Store) DeleteFilesNotIn(libraryID uuid.UUID, keepPaths map[string]bool) (int64, error) {
	rows, err := s.db.Query(`SELECT id, path FROM media_files WHERE library_id = ?`, libraryID.String())
	if err != nil {
		return 0, coreerr.Storage(err)
	}
	var stale []string
	for rows.Next() {
		var id, path string
		if err := rows.Scan(&id, &path); err != nil {
			rows.Close()
			return 0, coreerr.Storage(err)
		}
		if !keepPaths[path] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, coreerr.Storage(err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, coreerr.Storage(err)
	}
	defer tx.Rollback()
	for _, id := range stale {
		if _, err := tx.Exec(`DELETE FROM media_files WHERE id = ?`, id); err != nil {
			return 0, coreerr.Storage(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, coreerr.Storage(err)
	}
	return int64(len(stale)), nil
}

// ──────────────────── Episode/file mapping ────────────────────

func (s *Store) UpsertEpisodeFileMap(m *catalogmodel.EpisodeFileMap) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := s.db.Exec(`
		INSERT INTO episode_file_map (id, item_id, file_id, part_index)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(item_id, file_id) DO UPDATE SET part_index = excluded.part_index
	`, m.ID.String(), m.ItemID.String(), m.FileID.String(), m.PartIndex)
	if err != nil {
		return coreerr.Storage(fmt.Errorf("upsert episode file map: %w", err))
	}
	return nil
}

// GetFilesForItem returns the files backing an item, ordered by part index —
// a single-file item has exactly one row, a multi-part item has several.
func (s *Store) GetFilesForItem(itemID uuid.UUID) ([]*catalogmodel.MediaFile, error) {
	rows, err := s.db.Query(`
		SELECT f.id, f.library_id, f.path, f.size, f.mtime, f.container, f.duration_seconds,
			f.stream_info_json, f.created_at, f.updated_at
		FROM media_files f
		JOIN episode_file_map m ON m.file_id = f.id
		WHERE m.item_id = ?
		ORDER BY m.part_index
	`, itemID.String())
	if err != nil {
		return nil, coreerr.Storage(err)
	}
	defer rows.Close()

	var out []*catalogmodel.MediaFile
	for rows.Next() {
		f := &catalogmodel.MediaFile{}
		if err := rows.Scan(&f.ID, &f.LibraryID, &f.Path, &f.Size, &f.ModTime, &f.Container,
			&f.DurationSec, &f.StreamInfoJSON, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, coreerr.Storage(err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ──────────────────── Provider ids & field locks ────────────────────

func (s *Store) SetProviderID(p *catalogmodel.ProviderID) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := s.db.Exec(`
		INSERT INTO provider_ids (id, item_id, provider, external_id, locked)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(item_id, provider) DO UPDATE SET external_id = excluded.external_id, locked = excluded.locked
	`, p.ID.String(), p.ItemID.String(), p.Provider, p.ExternalID, p.Locked)
	if err != nil {
		return coreerr.Storage(fmt.Errorf("set provider id: %w", err))
	}
	return nil
}

func (s *Store) GetProviderIDs(itemID uuid.UUID) ([]catalogmodel.ProviderID, error) {
	rows, err := s.db.Query(`SELECT id, item_id, provider, external_id, locked FROM provider_ids WHERE item_id = ?`, itemID.String())
	if err != nil {
		return nil, coreerr.Storage(err)
	}
	defer rows.Close()

	var out []catalogmodel.ProviderID
	for rows.Next() {
		var p catalogmodel.ProviderID
		if err := rows.Scan(&p.ID, &p.ItemID, &p.Provider, &p.ExternalID, &p.Locked); err != nil {
			return nil, coreerr.Storage(err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetFieldLock marks (or clears) a single field as locked against merge
// overwrites. Field "*" locks every field on the item.
func (s *Store) SetFieldLock(itemID uuid.UUID, field string, locked bool) error {
	_, err := s.db.Exec(`
		INSERT INTO field_locks (item_id, field, locked) VALUES (?, ?, ?)
		ON CONFLICT(item_id, field) DO UPDATE SET locked = excluded.locked
	`, itemID.String(), field, locked)
	if err != nil {
		return coreerr.Storage(fmt.Errorf("set field lock: %w", err))
	}
	return nil
}

// LockedFields returns the set of fields locked on an item. A "*" entry
// means every field is locked; callers should check for it explicitly.
func (s *Store) LockedFields(itemID uuid.UUID) (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT field FROM field_locks WHERE item_id = ? AND locked = 1`, itemID.String())
	if err != nil {
		return nil, coreerr.Storage(err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var field string
		if err := rows.Scan(&field); err != nil {
			return nil, coreerr.Storage(err)
		}
		out[field] = true
	}
	return out, rows.Err()
}

// ──────────────────── Expected episodes ────────────────────

func (s *Store) UpsertExpectedEpisode(e *catalogmodel.ExpectedEpisode) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := s.db.Exec(`
		INSERT INTO expected_episodes (id, series_id, season_number, episode_number, title, air_date)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(series_id, season_number, episode_number) DO UPDATE SET
			title = excluded.title, air_date = excluded.air_date
	`, e.ID.String(), e.SeriesID.String(), e.SeasonNumber, e.EpisodeNumber, e.Title, e.AirDate)
	if err != nil {
		return coreerr.Storage(fmt.Errorf("upsert expected episode: %w", err))
	}
	return nil
}

// GetExpectedEpisodes returns every expected episode recorded for a series,
// regardless of whether a file has been matched to it yet.
func (s *Store) GetExpectedEpisodes(seriesID uuid.UUID) ([]catalogmodel.ExpectedEpisode, error) {
	rows, err := s.db.Query(`
		SELECT id, series_id, season_number, episode_number, title, air_date
		FROM expected_episodes
		WHERE series_id = ?
		ORDER BY season_number, episode_number
	`, seriesID.String())
	if err != nil {
		return nil, coreerr.Storage(err)
	}
	defer rows.Close()

	var out []catalogmodel.ExpectedEpisode
	for rows.Next() {
		var e catalogmodel.ExpectedEpisode
		if err := rows.Scan(&e.ID, &e.SeriesID, &e.SeasonNumber, &e.EpisodeNumber, &e.Title, &e.AirDate); err != nil {
			return nil, coreerr.Storage(err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetMissingEpisodes returns expected episodes for a series that have no
// corresponding item with a file mapped to it — i.e. known-but-not-owned.
func (s *Store) GetMissingEpisodes(seriesID uuid.UUID) ([]catalogmodel.ExpectedEpisode, error) {
	rows, err := s.db.Query(`
		SELECT e.id, e.series_id, e.season_number, e.episode_number, e.title, e.air_date
		FROM expected_episodes e
		WHERE e.series_id = ?
		AND NOT EXISTS (
			SELECT 1 FROM items i
			JOIN episode_file_map m ON m.item_id = i.id
			WHERE i.parent_id IN (SELECT id FROM items WHERE parent_id = e.series_id AND season_number = e.season_number)
			AND i.episode_number = e.episode_number
		)
		ORDER BY e.season_number, e.episode_number
	`, seriesID.String())
	if err != nil {
		return nil, coreerr.Storage(err)
	}
	defer rows.Close()

	var out []catalogmodel.ExpectedEpisode
	for rows.Next() {
		var e catalogmodel.ExpectedEpisode
		if err := rows.Scan(&e.ID, &e.SeriesID, &e.SeasonNumber, &e.EpisodeNumber, &e.Title, &e.AirDate); err != nil {
			return nil, coreerr.Storage(err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ──────────────────── User playback state ────────────────────

func (s *Store) UpdateProgress(st *catalogmodel.UserItemState) error {
	_, err := s.db.Exec(`
		INSERT INTO user_item_state (user_id, item_id, position_seconds, played, favorite, last_played_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, item_id) DO UPDATE SET
			position_seconds = excluded.position_seconds, played = excluded.played,
			favorite = excluded.favorite, last_played_at = excluded.last_played_at
	`, st.UserID.String(), st.ItemID.String(), st.PositionSec, st.Played, st.Favorite, st.LastPlayedAt)
	if err != nil {
		return coreerr.Storage(fmt.Errorf("update progress: %w", err))
	}
	return nil
}

func (s *Store) GetProgress(userID, itemID uuid.UUID) (*catalogmodel.UserItemState, error) {
	st := &catalogmodel.UserItemState{}
	err := s.db.QueryRow(`SELECT user_id, item_id, position_seconds, played, favorite, last_played_at
		FROM user_item_state WHERE user_id = ? AND item_id = ?`, userID.String(), itemID.String()).
		Scan(&st.UserID, &st.ItemID, &st.PositionSec, &st.Played, &st.Favorite, &st.LastPlayedAt)
	if err == sql.ErrNoRows {
		return &catalogmodel.UserItemState{UserID: userID, ItemID: itemID}, nil
	}
	if err != nil {
		return nil, coreerr.Storage(err)
	}
	return st, nil
}

// ──────────────────── Duplicate groups ────────────────────

// RecordDuplicate logs a multi-part tie-break: winnerID is the file kept as
// canonical, loserPath is the losing path. Only the duplicate_groups row
// is written; the loser's own file row and mapping stay in the catalog.
func (s *Store) RecordDuplicate(key string, winnerID uuid.UUID, loserPath string) error {
	_, err := s.db.Exec(`
		INSERT INTO duplicate_groups (id, dedup_key, winner_file_id, loser_path, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.New().String(), key, winnerID.String(), loserPath, time.Now().UTC())
	if err != nil {
		return coreerr.Storage(fmt.Errorf("record duplicate: %w", err))
	}
	return nil
}
