package catalog

import (
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/rustfin/rustfin/internal/catalogmodel"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	sqldb, err := sql.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { sqldb.Close() })

	s := New(sqldb)
	if err := s.EnsureSchema(); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

func TestUpsertLibraryRoundTrip(t *testing.T) {
	s := newTestStore(t)

	lib := &catalogmodel.Library{
		ID:   uuid.New(),
		Name: "Movies",
		Kind: catalogmodel.LibraryMovies,
		Paths: []string{"/media/movies", "/media/movies2"},
	}
	if err := s.UpsertLibrary(lib); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetLibrary(lib.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Movies" || len(got.Paths) != 2 {
		t.Fatalf("unexpected library: %+v", got)
	}

	// Re-upsert with a shrunk path list must replace, not append.
	lib.Paths = []string{"/media/movies"}
	if err := s.UpsertLibrary(lib); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	got, err = s.GetLibrary(lib.ID)
	if err != nil {
		t.Fatalf("get after re-upsert: %v", err)
	}
	if len(got.Paths) != 1 {
		t.Fatalf("expected path list to be replaced, got %v", got.Paths)
	}
}

func TestSetFieldLockReportedByLockedFields(t *testing.T) {
	s := newTestStore(t)

	lib := &catalogmodel.Library{ID: uuid.New(), Name: "Movies", Kind: catalogmodel.LibraryMovies}
	if err := s.UpsertLibrary(lib); err != nil {
		t.Fatalf("upsert library: %v", err)
	}

	item := &catalogmodel.Item{ID: uuid.New(), LibraryID: lib.ID, Kind: catalogmodel.ItemMovie, Title: "Original Title"}
	if err := s.UpsertItem(item); err != nil {
		t.Fatalf("upsert item: %v", err)
	}

	if err := s.SetFieldLock(item.ID, "title", true); err != nil {
		t.Fatalf("set field lock: %v", err)
	}

	locked, err := s.LockedFields(item.ID)
	if err != nil {
		t.Fatalf("locked fields: %v", err)
	}
	if !locked["title"] {
		t.Fatalf("expected title to be locked, got %v", locked)
	}
}

func TestGetMissingEpisodesExcludesOwnedOnes(t *testing.T) {
	s := newTestStore(t)

	lib := &catalogmodel.Library{ID: uuid.New(), Name: "Shows", Kind: catalogmodel.LibraryTVShows}
	if err := s.UpsertLibrary(lib); err != nil {
		t.Fatalf("upsert library: %v", err)
	}
	series := &catalogmodel.Item{ID: uuid.New(), LibraryID: lib.ID, Kind: catalogmodel.ItemSeries, Title: "Show"}
	if err := s.UpsertItem(series); err != nil {
		t.Fatalf("upsert series: %v", err)
	}
	season := 1
	seasonItem := &catalogmodel.Item{ID: uuid.New(), LibraryID: lib.ID, ParentID: &series.ID, Kind: catalogmodel.ItemSeason, Title: "Season 1", SeasonNum: &season}
	if err := s.UpsertItem(seasonItem); err != nil {
		t.Fatalf("upsert season: %v", err)
	}

	ep1, ep2 := 1, 2
	for _, e := range []*catalogmodel.ExpectedEpisode{
		{SeriesID: series.ID, SeasonNumber: 1, EpisodeNumber: 1},
		{SeriesID: series.ID, SeasonNumber: 1, EpisodeNumber: 2},
	} {
		if err := s.UpsertExpectedEpisode(e); err != nil {
			t.Fatalf("upsert expected episode: %v", err)
		}
	}

	// Only episode 1 has a file; episode 2 should remain "missing".
	epItem := &catalogmodel.Item{ID: uuid.New(), LibraryID: lib.ID, ParentID: &seasonItem.ID, Kind: catalogmodel.ItemEpisode, Title: "E1", SeasonNum: &season, EpisodeNum: &ep1}
	if err := s.UpsertItem(epItem); err != nil {
		t.Fatalf("upsert episode item: %v", err)
	}
	file := &catalogmodel.MediaFile{ID: uuid.New(), LibraryID: lib.ID, Path: "/media/shows/s01e01.mkv", Size: 100}
	if err := s.UpsertFile(file); err != nil {
		t.Fatalf("upsert file: %v", err)
	}
	if err := s.UpsertEpisodeFileMap(&catalogmodel.EpisodeFileMap{ItemID: epItem.ID, FileID: file.ID}); err != nil {
		t.Fatalf("upsert episode file map: %v", err)
	}
	_ = ep2

	missing, err := s.GetMissingEpisodes(series.ID)
	if err != nil {
		t.Fatalf("get missing episodes: %v", err)
	}
	if len(missing) != 1 || missing[0].EpisodeNumber != 2 {
		t.Fatalf("expected only episode 2 missing, got %+v", missing)
	}
}
