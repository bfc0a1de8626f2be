package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rustfin/rustfin/internal/catalog"
	"github.com/rustfin/rustfin/internal/catalogmodel"
	"github.com/rustfin/rustfin/internal/metadata"
)

// MetadataRefreshPayload is the asynq task body for TaskMetadataRefresh.
type MetadataRefreshPayload struct {
	LibraryID string `json:"library_id"`
}

// MetadataRefreshHandler runs the merge engine (§4.G) unattended over every
// top-level item (movie or series) in a library, skipping locked items.
// Grounded on the teacher's MetadataScrapeHandler loop shape, narrowed to
// the single MetadataProvider capability instead of a scraper slice.
type MetadataRefreshHandler struct {
	store    *catalog.Store
	engine   *metadata.Engine
	provider metadata.MetadataProvider
}

func NewMetadataRefreshHandler(store *catalog.Store, engine *metadata.Engine, provider metadata.MetadataProvider) *MetadataRefreshHandler {
	return &MetadataRefreshHandler{store: store, engine: engine, provider: provider}
}

func (h *MetadataRefreshHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p MetadataRefreshPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}

	libID, err := uuid.Parse(p.LibraryID)
	if err != nil {
		return fmt.Errorf("parse library id: %w", err)
	}
	lib, err := h.store.GetLibrary(libID)
	if err != nil {
		return fmt.Errorf("get library: %w", err)
	}

	items, err := h.store.GetChildren(libID, nil)
	if err != nil {
		return fmt.Errorf("list library items: %w", err)
	}

	refreshed := 0
	ambiguous := 0
	for _, item := range items {
		select {
		case <-ctx.Done():
			log.Printf("Job: metadata refresh cancelled after %d/%d items in %q", refreshed, len(items), lib.Name)
			return ctx.Err()
		default:
		}
		if item.Kind != catalogmodel.ItemMovie && item.Kind != catalogmodel.ItemSeries {
			continue
		}

		locked, err := h.store.LockedFields(item.ID)
		if err != nil {
			log.Printf("Job: metadata refresh: locked-field lookup failed for %s: %v", item.Title, err)
			continue
		}
		if locked["*"] {
			continue
		}

		report, err := h.engine.Refresh(item.ID, h.provider, false)
		if err != nil {
			log.Printf("Job: metadata refresh failed for %q: %v", item.Title, err)
			continue
		}
		if report.Ambiguous {
			ambiguous++
			continue
		}
		refreshed++
	}

	log.Printf("Job: metadata refresh complete for %q — refreshed %d, ambiguous %d, total %d",
		lib.Name, refreshed, ambiguous, len(items))
	return nil
}
