// Package scheduler drives periodic rescans. The teacher polled a
// next_scan_at column every 60s with a hand-rolled ticker; rustfin instead
// parses a real cron expression with robfig/cron/v3 (declared but unused in
// the teacher's go.mod) and re-scans every known library on each firing.
package scheduler

import (
	"log"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rustfin/rustfin/internal/catalog"
)

// OnScanDue is invoked once per library when the cron schedule fires.
type OnScanDue func(libraryID uuid.UUID)

type Scheduler struct {
	store    *catalog.Store
	callback OnScanDue
	cron     *cron.Cron
	entryID  cron.EntryID
}

// New builds a scheduler that fires expr (standard 5-field cron syntax)
// against every library currently in the catalog.
func New(store *catalog.Store, expr string, cb OnScanDue) (*Scheduler, error) {
	c := cron.New()
	s := &Scheduler{store: store, callback: cb, cron: c}
	id, err := c.AddFunc(expr, s.fire)
	if err != nil {
		return nil, err
	}
	s.entryID = id
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Printf("[scheduler] cron scan schedule active, entry %d", s.entryID)
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Println("[scheduler] stopped")
}

func (s *Scheduler) fire() {
	libs, err := s.store.ListLibraries()
	if err != nil {
		log.Printf("[scheduler] list libraries: %v", err)
		return
	}
	for _, lib := range libs {
		log.Printf("[scheduler] firing scheduled scan for library %q", lib.Name)
		s.callback(lib.ID)
	}
}
