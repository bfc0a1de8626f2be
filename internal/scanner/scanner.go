// Package scanner implements the catalog Scanner (§4.B): a breadth-first
// walk of a library's filesystem roots that parses movie and episode
// filenames, resolves multi-part groupings, and upserts the results into
// the catalog store inside one transaction per file. Grounded on the
// teacher's internal/scanner/scanner.go — the mount-hang guard (8B) and
// worker-pool shape (8C) are kept; the walk itself is rewritten
// breadth-first and narrowed to movies and tv_shows.
package scanner

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rustfin/rustfin/internal/catalog"
	"github.com/rustfin/rustfin/internal/catalogmodel"
	"github.com/rustfin/rustfin/internal/events"
	"github.com/rustfin/rustfin/internal/probe"
)

// validExtensions is the fixed allowlist of media container extensions the
// scanner will consider. Anything else is ignored.
var validExtensions = map[string]bool{
	".mp4": true, ".m4v": true, ".mov": true, ".mkv": true, ".webm": true,
	".avi": true, ".mpg": true, ".mpeg": true, ".mpe": true, ".mpv": true,
	".ts": true, ".m2ts": true, ".mts": true, ".wmv": true, ".asf": true,
	".flv": true, ".f4v": true, ".3gp": true, ".3g2": true, ".ogv": true,
	".vob": true, ".mxf": true,
}

// ignoredDirNames are skipped outright during the walk.
var ignoredDirNames = map[string]bool{
	"@eaDir": true, "$RECYCLE.BIN": true, "System Volume Information": true,
}

const mountStatTimeout = 10 * time.Second
const numWorkers = 8

// Report summarizes one ScanLibrary run, mirroring §4.B's ScanReport.
type Report struct {
	FilesSeen    int
	FilesAdded   int
	FilesSkipped int
	Errors       []string
}

// scanFile is one candidate file discovered during the walk.
type scanFile struct {
	path string
	info os.FileInfo
}

// probeTimeout bounds each ffprobe invocation issued during a scan so a
// single corrupt or unreadable file can't stall the whole worker pool.
const probeTimeout = 20 * time.Second

// Scanner walks a library's roots and populates the catalog store.
type Scanner struct {
	store      *catalog.Store
	bus        *events.Bus
	prober     *probe.Prober
	ancestorMu keyedMutex
}

func New(store *catalog.Store, bus *events.Bus, prober *probe.Prober) *Scanner {
	return &Scanner{store: store, bus: bus, prober: prober, ancestorMu: newKeyedMutex()}
}

// keyedMutex serializes work sharing a key without serializing unrelated
// keys — used to close the find-then-insert race on ancestor item creation
// (series/season) when the worker pool processes several files of the same
// new series concurrently.
type keyedMutex struct {
	mu    *sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() keyedMutex {
	return keyedMutex{mu: &sync.Mutex{}, locks: map[string]*sync.Mutex{}}
}

func (k keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// ScanLibrary performs a breadth-first scan of every root path configured
// for lib, upserting discovered movies and episodes into the catalog and
// pruning files that have disappeared. It honors ctx cancellation between
// files — a canceled scan stops cleanly without leaving partial per-file
// writes (each file's mutation is already transactional via ApplyScan).
func (s *Scanner) ScanLibrary(ctx context.Context, lib *catalogmodel.Library) (*Report, error) {
	report := &Report{}
	var filesSeen, filesAdded, filesSkipped int64
	var errMu sync.Mutex

	addErr := func(format string, args ...interface{}) {
		errMu.Lock()
		report.Errors = append(report.Errors, fmt.Sprintf(format, args...))
		errMu.Unlock()
	}

	keepPaths := map[string]bool{}
	var keepMu sync.Mutex

	pendingParts := map[string][]partCandidate{}
	var partsMu sync.Mutex

	for _, root := range lib.Paths {
		if err := s.statWithMountTimeout(root); err != nil {
			addErr("mount timeout or stat failure for %s: %v", root, err)
			continue
		}

		fileCh := make(chan scanFile, numWorkers*4)
		var wg sync.WaitGroup
		for w := 0; w < numWorkers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for f := range fileCh {
					select {
					case <-ctx.Done():
						continue
					default:
					}
					atomic.AddInt64(&filesSeen, 1)

					added, err := s.processFile(lib, f, pendingParts, &partsMu)
					if err != nil {
						addErr("%s: %v", f.path, err)
						atomic.AddInt64(&filesSkipped, 1)
						continue
					}
					if added {
						atomic.AddInt64(&filesAdded, 1)
						keepMu.Lock()
						keepPaths[f.path] = true
						keepMu.Unlock()
					} else {
						atomic.AddInt64(&filesSkipped, 1)
					}

					if s.bus != nil {
						s.bus.Publish(events.KindScanProgress, events.ScanProgressData{
							LibraryID:  lib.ID.String(),
							FilesSeen:  int(atomic.LoadInt64(&filesSeen)),
							FilesAdded: int(atomic.LoadInt64(&filesAdded)),
						})
					}
				}
			}()
		}

		if err := breadthFirstWalk(ctx, root, fileCh); err != nil {
			addErr("walk error for %s: %v", root, err)
		}
		close(fileCh)
		wg.Wait()

		if ctx.Err() != nil {
			break
		}
	}

	resolveMultiParts(pendingParts, s.store, addErr)

	if ctx.Err() == nil {
		if removed, err := s.store.DeleteFilesNotIn(lib.ID, keepPaths); err != nil {
			addErr("prune stale files: %v", err)
		} else if removed > 0 {
			log.Printf("scan: pruned %d stale file(s) from library %s", removed, lib.Name)
		}
	}

	report.FilesSeen = int(filesSeen)
	report.FilesAdded = int(filesAdded)
	report.FilesSkipped = int(filesSkipped)

	if s.bus != nil {
		s.bus.Publish(events.KindScanComplete, events.ScanCompleteData{
			LibraryID: lib.ID.String(),
			Errors:    report.Errors,
		})
	}

	return report, ctx.Err()
}

// statWithMountTimeout guards against a hung network mount blocking the
// whole scan — a stat that hasn't returned within mountStatTimeout is
// treated as a failure and the root is skipped.
func (s *Scanner) statWithMountTimeout(path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), mountStatTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := os.Stat(path)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("timed out after %s", mountStatTimeout)
	case err := <-done:
		return err
	}
}

// breadthFirstWalk visits dirQueue level by level — siblings before
// children — pushing every eligible file onto fileCh as it's found. This is
// the required deviation from filepath.WalkDir's depth-first order.
func breadthFirstWalk(ctx context.Context, root string, fileCh chan<- scanFile) error {
	visited := map[string]bool{}
	queue := []string{root}

	for len(queue) > 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		dir := queue[0]
		queue = queue[1:]

		realDir, err := filepath.EvalSymlinks(dir)
		if err != nil {
			continue
		}
		if visited[realDir] {
			continue
		}
		visited[realDir] = true

		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}

		var subdirs []string
		for _, e := range entries {
			name := e.Name()
			if strings.HasPrefix(name, ".") || ignoredDirNames[name] {
				continue
			}
			full := filepath.Join(dir, name)

			if e.IsDir() {
				subdirs = append(subdirs, full)
				continue
			}

			ext := strings.ToLower(filepath.Ext(name))
			if !validExtensions[ext] {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			fileCh <- scanFile{path: full, info: info}
		}

		// Deterministic sibling order keeps scans reproducible.
		sort.Strings(subdirs)
		queue = append(queue, subdirs...)
	}
	return nil
}

// partCandidate is a multi-part file awaiting tie-break resolution once the
// whole scan has finished.
type partCandidate struct {
	itemID uuid.UUID
	fileID uuid.UUID
	path   string
}

// resolveMultiParts handles the shortest-path-wins tie-break for files that
// shared a base title but carried no explicit .partN/.cdN marker: the
// shortest path is the winner, and each loser is recorded in duplicate_groups
// and reported in the scan's error list. No file is removed from the catalog.
func resolveMultiParts(pending map[string][]partCandidate, store *catalog.Store, addErr func(string, ...interface{})) {
	for key, parts := range pending {
		if len(parts) < 2 {
			continue
		}
		sort.Slice(parts, func(i, j int) bool { return len(parts[i].path) < len(parts[j].path) })
		winner := parts[0]
		for _, loser := range parts[1:] {
			addErr("%s: duplicate of %s (shortest path wins)", loser.path, winner.path)
			if err := store.RecordDuplicate(key, winner.fileID, loser.path); err != nil {
				addErr("record duplicate for %s: %v", loser.path, err)
			}
		}
	}
}
