package catalog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rustfin/rustfin/internal/catalogmodel"
	"github.com/rustfin/rustfin/internal/coreerr"
)

// ApplyMerge persists a metadata-engine refresh as a single transaction
// (§4.G step 4): the item's mergeable fields, its provider id, and any
// newly-known expected episodes.
func (s *Store) ApplyMerge(item *catalogmodel.Item, providerID *catalogmodel.ProviderID, expected []catalogmodel.ExpectedEpisode) error {
	tx, err := s.db.Begin()
	if err != nil {
		return coreerr.Storage(err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.Exec(`
		UPDATE items SET title = ?, sort_title = ?, year = ?, overview = ?,
			genres_csv = ?, studios_csv = ?, runtime_minutes = ?, updated_at = ?
		WHERE id = ?
	`, item.Title, item.SortTitle, item.Year, item.Overview, joinCSV(item.Genres), joinCSV(item.Studios),
		item.RuntimeMinutes, now, item.ID.String())
	if err != nil {
		return coreerr.Storage(fmt.Errorf("apply merged fields: %w", err))
	}

	if providerID != nil {
		if providerID.ID == uuid.Nil {
			providerID.ID = uuid.New()
		}
		_, err = tx.Exec(`
			INSERT INTO provider_ids (id, item_id, provider, external_id, locked)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(item_id, provider) DO UPDATE SET
				external_id = CASE WHEN provider_ids.locked THEN provider_ids.external_id ELSE excluded.external_id END
		`, providerID.ID.String(), providerID.ItemID.String(), providerID.Provider, providerID.ExternalID, providerID.Locked)
		if err != nil {
			return coreerr.Storage(fmt.Errorf("apply provider id: %w", err))
		}
	}

	for _, e := range expected {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		_, err = tx.Exec(`
			INSERT INTO expected_episodes (id, series_id, season_number, episode_number, title, air_date)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(series_id, season_number, episode_number) DO UPDATE SET
				title = excluded.title, air_date = excluded.air_date
		`, e.ID.String(), e.SeriesID.String(), e.SeasonNumber, e.EpisodeNumber, e.Title, e.AirDate)
		if err != nil {
			return coreerr.Storage(fmt.Errorf("upsert expected episode: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return coreerr.Storage(err)
	}
	return nil
}
