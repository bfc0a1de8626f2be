// Package metadata implements the Metadata Merge Engine (§4.G): it
// integrates provider search results into the catalog without clobbering
// fields a user has locked. Grounded on the teacher's automatch.go for the
// confidence-threshold and scraper-fan-out idiom, generalized behind a
// single MetadataProvider capability interface instead of the teacher's
// concrete per-source scrapers (scraper_tmdb.go, scraper_tvdb.go, ...).
package metadata

import (
	"time"

	"github.com/rustfin/rustfin/internal/catalogmodel"
)

// Candidate is one provider search result or fetched detail record.
type Candidate struct {
	ExternalID     string
	Title          string
	SortTitle      string
	Year           *int
	Overview       string
	Genres         []string
	Studios        []string
	RuntimeMinutes *int
	Confidence     float64
}

// EpisodeCandidate is one entry from a provider's episode list for a
// series, independent of whether a file exists for it.
type EpisodeCandidate struct {
	Season  int
	Episode int
	Title   string
	AirDate *time.Time
}

// MetadataProvider is the capability interface a concrete source (TMDB,
// TVDB, ...) implements. The merge engine never knows which one it's
// talking to.
type MetadataProvider interface {
	Name() string
	Search(title string, year *int, kind catalogmodel.ItemKind) ([]Candidate, error)
	FetchByID(externalID string, kind catalogmodel.ItemKind) (*Candidate, error)
	FetchEpisodes(seriesExternalID string) ([]EpisodeCandidate, error)
}
