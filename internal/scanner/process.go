package scanner

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rustfin/rustfin/internal/catalog"
	"github.com/rustfin/rustfin/internal/catalogmodel"
)

var seasonFolderPattern = regexp.MustCompile(`(?i)^season\s*0*(\d+)$`)
var specialsFolderPattern = regexp.MustCompile(`(?i)^specials$`)
var seriesYearSuffixPattern = regexp.MustCompile(`^(.+?)\s*\(\d{4}\)\s*$`)

// specialLeadingNumberPattern pulls a leading "01 - Title" style number out
// of a specials filename that carries no SxxEyy/NxYY marker of its own.
var specialLeadingNumberPattern = regexp.MustCompile(`^0*(\d{1,3})\b`)

// processFile resolves one discovered file against the catalog: it builds
// (or finds) the item hierarchy the file belongs to, then persists the
// file and its mapping in a single transaction via catalog.ApplyScan.
// Returns added=true whenever the file was persisted, whether it was new to
// the catalog or already known.
func (s *Scanner) processFile(lib *catalogmodel.Library, f scanFile, pendingParts map[string][]partCandidate, partsMu *sync.Mutex) (bool, error) {
	switch lib.Kind {
	case catalogmodel.LibraryMovies:
		return s.processMovieFile(lib, f, pendingParts, partsMu)
	case catalogmodel.LibraryTVShows:
		return s.processEpisodeFile(lib, f)
	default:
		return false, fmt.Errorf("unsupported library kind %q", lib.Kind)
	}
}

func (s *Scanner) processMovieFile(lib *catalogmodel.Library, f scanFile, pendingParts map[string][]partCandidate, partsMu *sync.Mutex) (bool, error) {
	name := filepath.Base(f.path)
	parsed := parseFilename(name, kindMovie)
	if parsed.Title == "" {
		return false, fmt.Errorf("could not parse a title from %q", name)
	}

	existing, err := s.store.FindItem(lib.ID, nil, catalogmodel.ItemMovie, nil, nil, parsed.Title)
	if err != nil {
		return false, err
	}

	item := existing
	if item == nil {
		item = &catalogmodel.Item{
			ID:        uuid.New(),
			LibraryID: lib.ID,
			Kind:      catalogmodel.ItemMovie,
			Title:     parsed.Title,
			Year:      parsed.Year,
			Edition:   parsed.Edition,
		}
	}

	mediaFile, err := s.buildMediaFile(lib, f, existing)
	if err != nil {
		return false, err
	}

	partIndex := 0
	if parsed.PartNumber != nil {
		partIndex = *parsed.PartNumber
	} else {
		// No explicit marker: files sharing library+title+year are
		// candidate true duplicates, resolved by shortest-path-wins
		// after the whole scan completes.
		key := dedupKey(lib.ID, parsed.Title, parsed.Year)
		partsMu.Lock()
		pendingParts[key] = append(pendingParts[key], partCandidate{
			itemID: item.ID, fileID: mediaFile.ID, path: f.path,
		})
		partsMu.Unlock()
	}

	providerIDs := providerIDsFor(item.ID, parsed)

	if err := s.store.ApplyScan(catalog.ScannedFile{
		Hierarchy:   []*catalogmodel.Item{item},
		File:        mediaFile,
		PartIndex:   partIndex,
		ProviderIDs: providerIDs,
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Scanner) processEpisodeFile(lib *catalogmodel.Library, f scanFile) (bool, error) {
	rel, err := filepath.Rel(findRoot(lib, f.path), f.path)
	if err != nil || rel == "." {
		rel = filepath.Base(f.path)
	}
	segments := strings.Split(filepath.ToSlash(rel), "/")
	if len(segments) == 0 {
		return false, fmt.Errorf("could not determine show folder for %q", f.path)
	}

	seriesFolder := segments[0]
	seriesTitle, seriesProvider := parseSeriesFolder(seriesFolder)

	fileName := filepath.Base(f.path)
	parsed := parseFilename(fileName, kindEpisode)

	// A "Season NN" or "Specials" folder between the series and the file,
	// if present, is authoritative over a season number implied solely by
	// the filename (e.g. specials stored under "Season 00" or "Specials/").
	seasonNum := 0
	inSpecials := false
	if parsed.Season != nil {
		seasonNum = *parsed.Season
	}
	for _, seg := range segments[1 : len(segments)-1] {
		if m := seasonFolderPattern.FindStringSubmatch(seg); len(m) == 2 {
			if n, err := strconv.Atoi(m[1]); err == nil {
				seasonNum = n
			}
		} else if specialsFolderPattern.MatchString(seg) {
			seasonNum = 0
			inSpecials = true
		}
	}

	if parsed.Episode == nil && inSpecials {
		// A specials file need not carry its own SxxEyy/NxYY marker; fall
		// back to a leading "01 - Title" style number as the episode number.
		ext := filepath.Ext(fileName)
		if m := specialLeadingNumberPattern.FindStringSubmatch(strings.TrimSuffix(fileName, ext)); len(m) == 2 {
			if n, err := strconv.Atoi(m[1]); err == nil {
				parsed.Episode = &n
			}
		}
	}
	if parsed.Episode == nil {
		return false, fmt.Errorf("could not parse season/episode from %q", fileName)
	}

	mediaFile, err := s.buildMediaFile(lib, f, nil)
	if err != nil {
		return false, err
	}

	partIndex := 0
	if parsed.PartNumber != nil {
		partIndex = *parsed.PartNumber
	}

	// The worker pool fans files across numWorkers goroutines; two episodes
	// of the same brand-new series can land on different workers and both
	// miss the series/season FindItem lookup before either has persisted a
	// row. Serialize ancestor resolution plus its persist per series so
	// only one goroutine at a time can mint a series/season for a given
	// (library, title), closing the duplicate-series race (§3, §8
	// scenario 2).
	unlock := s.ancestorMu.lock(lib.ID.String() + "|series|" + strings.ToLower(seriesTitle))
	defer unlock()

	series, err := s.findOrCreateSeries(lib, seriesTitle)
	if err != nil {
		return false, err
	}
	season, err := s.findOrCreateSeason(lib, series.ID, seasonNum)
	if err != nil {
		return false, err
	}

	existing, err := s.store.FindItem(lib.ID, &season.ID, catalogmodel.ItemEpisode, &seasonNum, parsed.Episode, "")
	if err != nil {
		return false, err
	}
	episode := existing
	if episode == nil {
		episode = &catalogmodel.Item{
			ID:         uuid.New(),
			LibraryID:  lib.ID,
			ParentID:   &season.ID,
			Kind:       catalogmodel.ItemEpisode,
			Title:      fmt.Sprintf("%s S%02dE%02d", seriesTitle, seasonNum, *parsed.Episode),
			SeasonNum:  &seasonNum,
			EpisodeNum: parsed.Episode,
			Edition:    "Theatrical",
		}
	}

	providerIDs := providerIDsFor(series.ID, ParsedFilename{TMDBID: seriesProvider.tmdb, TVDBID: seriesProvider.tvdb, IMDBID: seriesProvider.imdb})

	if err := s.store.ApplyScan(catalog.ScannedFile{
		Hierarchy:   []*catalogmodel.Item{series, season, episode},
		File:        mediaFile,
		PartIndex:   partIndex,
		ProviderIDs: providerIDs,
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Scanner) findOrCreateSeries(lib *catalogmodel.Library, title string) (*catalogmodel.Item, error) {
	existing, err := s.store.FindItem(lib.ID, nil, catalogmodel.ItemSeries, nil, nil, title)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return &catalogmodel.Item{
		ID:        uuid.New(),
		LibraryID: lib.ID,
		Kind:      catalogmodel.ItemSeries,
		Title:     title,
		Edition:   "Theatrical",
	}, nil
}

func (s *Scanner) findOrCreateSeason(lib *catalogmodel.Library, seriesID uuid.UUID, seasonNum int) (*catalogmodel.Item, error) {
	existing, err := s.store.FindItem(lib.ID, &seriesID, catalogmodel.ItemSeason, &seasonNum, nil, "")
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return &catalogmodel.Item{
		ID:        uuid.New(),
		LibraryID: lib.ID,
		ParentID:  &seriesID,
		Kind:      catalogmodel.ItemSeason,
		Title:     fmt.Sprintf("Season %02d", seasonNum),
		SeasonNum: &seasonNum,
		Edition:   "Theatrical",
	}, nil
}

// buildMediaFile looks up an existing row by path (to preserve its id and
// any previously-probed stream info) or mints a new one, probing the file
// with ffprobe to populate duration and stream info for the decision engine.
func (s *Scanner) buildMediaFile(lib *catalogmodel.Library, f scanFile, hint *catalogmodel.Item) (*catalogmodel.MediaFile, error) {
	existing, err := s.store.GetFileByPath(f.path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.Size = f.info.Size()
		existing.ModTime = f.info.ModTime()
		return existing, nil
	}

	mf := &catalogmodel.MediaFile{
		ID:        uuid.New(),
		LibraryID: lib.ID,
		Path:      f.path,
		Size:      f.info.Size(),
		ModTime:   f.info.ModTime(),
		Container: strings.TrimPrefix(strings.ToLower(filepath.Ext(f.path)), "."),
	}

	if s.prober != nil {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		result, err := s.prober.Probe(ctx, f.path)
		cancel()
		if err != nil {
			log.Printf("scan: probe failed for %s: %v", f.path, err)
		} else {
			dur := result.DurationSeconds()
			mf.DurationSec = &dur
			if j, err := result.AsJSON(); err == nil {
				mf.StreamInfoJSON = &j
			}
		}
	}

	return mf, nil
}

type seriesProviderTags struct{ tmdb, tvdb, imdb string }

func parseSeriesFolder(folder string) (string, seriesProviderTags) {
	var tags seriesProviderTags
	var p ParsedFilename
	extractProviderTags(folder, &p)
	tags.tmdb, tags.tvdb, tags.imdb = p.TMDBID, p.TVDBID, p.IMDBID

	title := tmdbTagPattern.ReplaceAllString(folder, "")
	title = tvdbTagPattern.ReplaceAllString(title, "")
	title = imdbTagPattern.ReplaceAllString(title, "")
	title = strings.TrimSpace(title)
	// Drop a trailing (YYYY) on the series folder, if present.
	if m := seriesYearSuffixPattern.FindStringSubmatch(title); len(m) == 2 {
		title = strings.TrimSpace(m[1])
	}
	return title, tags
}

func providerIDsFor(itemID uuid.UUID, p ParsedFilename) []catalogmodel.ProviderID {
	var out []catalogmodel.ProviderID
	if p.TMDBID != "" {
		out = append(out, catalogmodel.ProviderID{ItemID: itemID, Provider: "tmdb", ExternalID: p.TMDBID})
	}
	if p.TVDBID != "" {
		out = append(out, catalogmodel.ProviderID{ItemID: itemID, Provider: "tvdb", ExternalID: p.TVDBID})
	}
	if p.IMDBID != "" {
		out = append(out, catalogmodel.ProviderID{ItemID: itemID, Provider: "imdb", ExternalID: p.IMDBID})
	}
	return out
}

// findRoot picks the configured library root that contains path — needed
// because the scanner walks multiple roots per library.
func findRoot(lib *catalogmodel.Library, path string) string {
	for _, root := range lib.Paths {
		if strings.HasPrefix(path, root) {
			return root
		}
	}
	if len(lib.Paths) > 0 {
		return lib.Paths[0]
	}
	return filepath.Dir(path)
}

func dedupKey(libraryID uuid.UUID, title string, year *int) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s|%s|%v", libraryID.String(), strings.ToLower(title), year)
	return hex.EncodeToString(h.Sum(nil))
}
