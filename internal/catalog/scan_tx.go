package catalog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rustfin/rustfin/internal/catalogmodel"
	"github.com/rustfin/rustfin/internal/coreerr"
)

// ScannedFile is everything the scanner has resolved about one on-disk file:
// the item hierarchy it belongs to (ancestors first; a movie has exactly
// one entry, an episode has series+season+episode), the file itself, its
// position within a multi-part episode, and any provider ids parsed from
// the filename or folder.
type ScannedFile struct {
	Hierarchy   []*catalogmodel.Item
	File        *catalogmodel.MediaFile
	PartIndex   int
	ProviderIDs []catalogmodel.ProviderID
}

// ApplyScan persists one scanned file — its item hierarchy, the file row,
// the episode/file mapping and any provider ids — as a single transaction,
// satisfying §4.A's "all multi-row mutations occur inside a single
// transaction" rule and §4.B step 4's "all upserts in a single transaction
// per file".
func (s *Store) ApplyScan(sf ScannedFile) error {
	tx, err := s.db.Begin()
	if err != nil {
		return coreerr.Storage(err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	for _, item := range sf.Hierarchy {
		var parentID interface{}
		if item.ParentID != nil {
			parentID = item.ParentID.String()
		}
		item.UpdatedAt = now
		_, err := tx.Exec(`
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
			return coreerr.Storage(fmt.Errorf("upsert hierarchy item: %w", err))
		}
	}

	f := sf.File
	f.UpdatedAt = now
	_, err = tx.Exec(`
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

	// The leaf item (episode or movie) owns the file mapping.
	leaf := sf.Hierarchy[len(sf.Hierarchy)-1]
	mapID := uuid.New()
	_, err = tx.Exec(`
		INSERT INTO episode_file_map (id, item_id, file_id, part_index)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(item_id, file_id) DO UPDATE SET part_index = excluded.part_index
	`, mapID.String(), leaf.ID.String(), f.ID.String(), sf.PartIndex)
	if err != nil {
		return coreerr.Storage(fmt.Errorf("upsert episode file map: %w", err))
	}

	for _, p := range sf.ProviderIDs {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		_, err := tx.Exec(`
			INSERT INTO provider_ids (id, item_id, provider, external_id, locked)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(item_id, provider) DO UPDATE SET
				external_id = CASE WHEN provider_ids.locked THEN provider_ids.external_id ELSE excluded.external_id END
		`, p.ID.String(), p.ItemID.String(), p.Provider, p.ExternalID, p.Locked)
		if err != nil {
			return coreerr.Storage(fmt.Errorf("upsert provider id: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return coreerr.Storage(err)
	}
	return nil
}

// FindItemTx is a convenience read used by the scanner before deciding
// whether ApplyScan needs to mint a new item id for an ancestor it has
// already created earlier in the same scan.
func (s *Store) FindItemTx(libraryID uuid.UUID, parentID *uuid.UUID, kind catalogmodel.ItemKind, title string, seasonNum, episodeNum *int) (*catalogmodel.Item, error) {
	return s.FindItem(libraryID, parentID, kind, seasonNum, episodeNum, title)
}
