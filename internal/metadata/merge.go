package metadata

import (
	"github.com/google/uuid"
	"github.com/rustfin/rustfin/internal/catalog"
	"github.com/rustfin/rustfin/internal/catalogmodel"
	"github.com/rustfin/rustfin/internal/coreerr"
	"github.com/rustfin/rustfin/internal/events"
)

// Default confidence thresholds, mirroring the teacher's
// DefaultAutoMinMatch/DefaultManualMinMatch split between unattended and
// user-initiated refreshes.
const (
	DefaultAutoMinConfidence   = 0.95
	DefaultManualMinConfidence = 0.75
)

// MergeReport summarizes one refresh (§4.G).
type MergeReport struct {
	ItemID                   uuid.UUID
	Applied                  []string
	Skipped                  []string
	Ambiguous                bool
	ExpectedEpisodesUpserted int
}

// Engine applies provider candidates to catalog items, respecting field
// locks, and persists the result transactionally.
type Engine struct {
	store               *catalog.Store
	bus                 *events.Bus
	autoMinConfidence   float64
	manualMinConfidence float64
}

func NewEngine(store *catalog.Store, bus *events.Bus) *Engine {
	return &Engine{
		store:               store,
		bus:                 bus,
		autoMinConfidence:   DefaultAutoMinConfidence,
		manualMinConfidence: DefaultManualMinConfidence,
	}
}

// Refresh implements refresh(item_id, provider) → MergeReport (§4.G).
// manual relaxes the confidence threshold the way a user-triggered match
// does in the teacher's scraper flow.
func (e *Engine) Refresh(itemID uuid.UUID, provider MetadataProvider, manual bool) (*MergeReport, error) {
	item, err := e.store.GetItem(itemID)
	if err != nil {
		return nil, err
	}

	candidate, err := e.resolveCandidate(item, provider)
	if err != nil {
		return nil, err
	}

	threshold := e.autoMinConfidence
	if manual {
		threshold = e.manualMinConfidence
	}
	report := &MergeReport{ItemID: itemID}
	if candidate == nil || candidate.Confidence < threshold {
		report.Ambiguous = true
		return report, nil
	}

	locked, err := e.store.LockedFields(itemID)
	if err != nil {
		return nil, err
	}
	applyField := func(field string) bool {
		return !locked["*"] && !locked[field]
	}

	if applyField("title") && candidate.Title != "" {
		item.Title = candidate.Title
		report.Applied = append(report.Applied, "title")
	} else if candidate.Title != "" {
		report.Skipped = append(report.Skipped, "title")
	}
	if applyField("sort_title") && candidate.SortTitle != "" {
		item.SortTitle = &candidate.SortTitle
		report.Applied = append(report.Applied, "sort_title")
	} else if candidate.SortTitle != "" {
		report.Skipped = append(report.Skipped, "sort_title")
	}
	if applyField("year") && candidate.Year != nil {
		item.Year = candidate.Year
		report.Applied = append(report.Applied, "year")
	} else if candidate.Year != nil {
		report.Skipped = append(report.Skipped, "year")
	}
	if applyField("overview") && candidate.Overview != "" {
		item.Overview = &candidate.Overview
		report.Applied = append(report.Applied, "overview")
	} else if candidate.Overview != "" {
		report.Skipped = append(report.Skipped, "overview")
	}
	if applyField("genres") && len(candidate.Genres) > 0 {
		item.Genres = candidate.Genres
		report.Applied = append(report.Applied, "genres")
	} else if len(candidate.Genres) > 0 {
		report.Skipped = append(report.Skipped, "genres")
	}
	if applyField("studios") && len(candidate.Studios) > 0 {
		item.Studios = candidate.Studios
		report.Applied = append(report.Applied, "studios")
	} else if len(candidate.Studios) > 0 {
		report.Skipped = append(report.Skipped, "studios")
	}
	if applyField("runtime") && candidate.RuntimeMinutes != nil {
		item.RuntimeMinutes = candidate.RuntimeMinutes
		report.Applied = append(report.Applied, "runtime")
	} else if candidate.RuntimeMinutes != nil {
		report.Skipped = append(report.Skipped, "runtime")
	}

	var providerIDRow *catalogmodel.ProviderID
	if applyField("provider_ids") {
		providerIDRow = &catalogmodel.ProviderID{ItemID: itemID, Provider: provider.Name(), ExternalID: candidate.ExternalID}
		report.Applied = append(report.Applied, "provider_ids")
	} else {
		report.Skipped = append(report.Skipped, "provider_ids")
	}

	var expected []catalogmodel.ExpectedEpisode
	if item.Kind == catalogmodel.ItemSeries {
		episodes, err := provider.FetchEpisodes(candidate.ExternalID)
		if err != nil {
			return nil, coreerr.Wrap(coreerr.KindProviderError, "fetch episodes failed", err)
		}
		for _, ep := range episodes {
			expected = append(expected, catalogmodel.ExpectedEpisode{
				SeriesID: itemID, SeasonNumber: ep.Season, EpisodeNumber: ep.Episode,
				Title: strPtr(ep.Title), AirDate: ep.AirDate,
			})
		}
		report.ExpectedEpisodesUpserted = len(expected)
	}

	if err := e.store.ApplyMerge(item, providerIDRow, expected); err != nil {
		return nil, err
	}

	if e.bus != nil {
		e.bus.Publish(events.KindMetadataRefreshed, events.MetadataRefreshedData{ItemID: itemID.String()})
	}

	return report, nil
}

// resolveCandidate follows §4.G step 1: prefer a known provider id over a
// title/year search.
func (e *Engine) resolveCandidate(item *catalogmodel.Item, provider MetadataProvider) (*Candidate, error) {
	providerIDs, err := e.store.GetProviderIDs(item.ID)
	if err != nil {
		return nil, err
	}
	for _, p := range providerIDs {
		if p.Provider == provider.Name() {
			c, err := provider.FetchByID(p.ExternalID, item.Kind)
			if err != nil {
				return nil, coreerr.Wrap(coreerr.KindProviderError, "fetch by provider id failed", err)
			}
			if c != nil {
				c.Confidence = 1.0
			}
			return c, nil
		}
	}

	candidates, err := provider.Search(item.Title, item.Year, item.Kind)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.KindProviderError, "search failed", err)
	}
	return bestCandidate(candidates), nil
}

func bestCandidate(candidates []Candidate) *Candidate {
	var best *Candidate
	for i := range candidates {
		if best == nil || candidates[i].Confidence > best.Confidence {
			best = &candidates[i]
		}
	}
	return best
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
