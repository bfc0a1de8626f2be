package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rustfin/rustfin/internal/catalog"
	"github.com/rustfin/rustfin/internal/scanner"
)

// ScanPayload is the asynq task body for TaskScanLibrary.
type ScanPayload struct {
	LibraryID string `json:"library_id"`
}

// ScanHandler runs one library scan per task. Progress and completion are
// broadcast by the scanner itself over the shared event bus (§4.H) — the
// handler's only extra responsibility is chaining the follow-up metadata
// refresh job, the teacher's enqueue-after-scan idiom.
type ScanHandler struct {
	scanner *scanner.Scanner
	store   *catalog.Store
	queue   *Queue
}

func NewScanHandler(sc *scanner.Scanner, store *catalog.Store, queue *Queue) *ScanHandler {
	return &ScanHandler{scanner: sc, store: store, queue: queue}
}

func (h *ScanHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p ScanPayload
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

	log.Printf("Job: scanning library %q", lib.Name)

	report, err := h.scanner.ScanLibrary(ctx, lib)
	if err != nil && report == nil {
		return fmt.Errorf("scan: %w", err)
	}

	log.Printf("Job: scan complete for %q — seen %d, added %d, skipped %d, errors %d",
		lib.Name, report.FilesSeen, report.FilesAdded, report.FilesSkipped, len(report.Errors))

	// Queue a metadata refresh pass over the library's top-level items when
	// the scan persisted at least one file, the same follow-up-job chaining
	// idiom the teacher uses after a scan.
	if h.queue != nil && report.FilesAdded > 0 {
		uniqueID := "metadata:" + p.LibraryID
		if _, err := h.queue.EnqueueUnique(TaskMetadataRefresh, MetadataRefreshPayload{LibraryID: p.LibraryID}, uniqueID,
			asynq.Timeout(2*time.Hour), asynq.Retention(1*time.Hour)); err != nil {
			log.Printf("Job: failed to enqueue metadata refresh for library %s: %v", p.LibraryID, err)
		}
	}

	return err
}
