package metadata

import (
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/rustfin/rustfin/internal/catalog"
	"github.com/rustfin/rustfin/internal/catalogmodel"
	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *catalog.Store {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := catalog.New(db)
	if err := store.EnsureSchema(); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return store
}

type fakeProvider struct {
	name       string
	candidates []Candidate
	episodes   []EpisodeCandidate
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Search(title string, year *int, kind catalogmodel.ItemKind) ([]Candidate, error) {
	return f.candidates, nil
}
func (f *fakeProvider) FetchByID(externalID string, kind catalogmodel.ItemKind) (*Candidate, error) {
	for _, c := range f.candidates {
		if c.ExternalID == externalID {
			return &c, nil
		}
	}
	return nil, nil
}
func (f *fakeProvider) FetchEpisodes(seriesExternalID string) ([]EpisodeCandidate, error) {
	return f.episodes, nil
}

func TestRefreshAppliesUnlockedFields(t *testing.T) {
	store := newTestStore(t)
	lib := &catalogmodel.Library{ID: uuid.New(), Name: "Movies", Kind: catalogmodel.LibraryMovies}
	if err := store.UpsertLibrary(lib); err != nil {
		t.Fatalf("upsert library: %v", err)
	}
	item := &catalogmodel.Item{ID: uuid.New(), LibraryID: lib.ID, Kind: catalogmodel.ItemMovie, Title: "aliens", Edition: "Theatrical"}
	if err := store.UpsertItem(item); err != nil {
		t.Fatalf("upsert item: %v", err)
	}

	provider := &fakeProvider{name: "tmdb", candidates: []Candidate{
		{ExternalID: "679", Title: "Aliens", Overview: "Ripley returns.", Confidence: 0.99},
	}}

	engine := NewEngine(store, nil)
	report, err := engine.Refresh(item.ID, provider, false)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if report.Ambiguous {
		t.Fatal("expected a confident match, got ambiguous")
	}
	if !contains(report.Applied, "title") || !contains(report.Applied, "overview") {
		t.Fatalf("expected title and overview applied, got %v", report.Applied)
	}

	updated, err := store.GetItem(item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if updated.Title != "Aliens" {
		t.Fatalf("expected title Aliens, got %q", updated.Title)
	}
}

func TestRefreshSkipsLockedField(t *testing.T) {
	store := newTestStore(t)
	lib := &catalogmodel.Library{ID: uuid.New(), Name: "Movies", Kind: catalogmodel.LibraryMovies}
	if err := store.UpsertLibrary(lib); err != nil {
		t.Fatalf("upsert library: %v", err)
	}
	item := &catalogmodel.Item{ID: uuid.New(), LibraryID: lib.ID, Kind: catalogmodel.ItemMovie, Title: "My Custom Title", Edition: "Theatrical"}
	if err := store.UpsertItem(item); err != nil {
		t.Fatalf("upsert item: %v", err)
	}
	if err := store.SetFieldLock(item.ID, "title", true); err != nil {
		t.Fatalf("set field lock: %v", err)
	}

	provider := &fakeProvider{name: "tmdb", candidates: []Candidate{
		{ExternalID: "679", Title: "Aliens", Confidence: 0.99},
	}}

	engine := NewEngine(store, nil)
	report, err := engine.Refresh(item.ID, provider, false)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !contains(report.Skipped, "title") {
		t.Fatalf("expected title to be skipped, got %v", report.Skipped)
	}

	updated, err := store.GetItem(item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if updated.Title != "My Custom Title" {
		t.Fatalf("expected locked title to survive merge, got %q", updated.Title)
	}
}

func TestRefreshRecordsAmbiguousBelowThreshold(t *testing.T) {
	store := newTestStore(t)
	lib := &catalogmodel.Library{ID: uuid.New(), Name: "Movies", Kind: catalogmodel.LibraryMovies}
	if err := store.UpsertLibrary(lib); err != nil {
		t.Fatalf("upsert library: %v", err)
	}
	item := &catalogmodel.Item{ID: uuid.New(), LibraryID: lib.ID, Kind: catalogmodel.ItemMovie, Title: "Obscure Film", Edition: "Theatrical"}
	if err := store.UpsertItem(item); err != nil {
		t.Fatalf("upsert item: %v", err)
	}

	provider := &fakeProvider{name: "tmdb", candidates: []Candidate{
		{ExternalID: "1", Title: "Obscure Film (maybe)", Confidence: 0.40},
	}}

	engine := NewEngine(store, nil)
	report, err := engine.Refresh(item.ID, provider, false)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !report.Ambiguous {
		t.Fatal("expected ambiguous result for low-confidence candidate")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
