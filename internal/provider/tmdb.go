// Package provider implements concrete metadata.MetadataProvider sources.
// TMDBProvider is grounded on the teacher's internal/metadata/scraper_tmdb.go,
// narrowed to the single Candidate/EpisodeCandidate shape the merge engine
// consumes instead of the teacher's models.MetadataMatch.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rustfin/rustfin/internal/catalogmodel"
	"github.com/rustfin/rustfin/internal/metadata"
)

// tmdbRateLimit keeps requests well under TMDB's per-IP throttling so a
// library with thousands of unmatched items doesn't get the whole
// deployment rate-limited mid-scan.
const tmdbRateLimit = 4 // requests per second

const tmdbBaseURL = "https://api.themoviedb.org/3"

// tmdbGenreMap maps TMDB genre IDs to display names, movies and TV combined.
var tmdbGenreMap = map[int]string{
	28: "Action", 12: "Adventure", 16: "Animation", 35: "Comedy", 80: "Crime",
	99: "Documentary", 18: "Drama", 10751: "Family", 14: "Fantasy", 36: "History",
	27: "Horror", 10402: "Music", 9648: "Mystery", 10749: "Romance",
	878: "Science Fiction", 10770: "TV Movie", 53: "Thriller", 10752: "War", 37: "Western",
	10759: "Action & Adventure", 10762: "Kids", 10763: "News", 10764: "Reality",
	10765: "Sci-Fi & Fantasy", 10766: "Soap", 10767: "Talk", 10768: "War & Politics",
}

// TMDBProvider implements metadata.MetadataProvider against the TMDB API.
type TMDBProvider struct {
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

func NewTMDBProvider(apiKey string) *TMDBProvider {
	return &TMDBProvider{
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(tmdbRateLimit), tmdbRateLimit),
	}
}

func (p *TMDBProvider) Name() string { return "tmdb" }

type tmdbSearchResult struct {
	Results []tmdbSearchHit `json:"results"`
}

type tmdbSearchHit struct {
	ID            int     `json:"id"`
	Title         string  `json:"title"`
	Name          string  `json:"name"`
	OriginalTitle string  `json:"original_title"`
	OriginalName  string  `json:"original_name"`
	Overview      string  `json:"overview"`
	ReleaseDate   string  `json:"release_date"`
	FirstAirDate  string  `json:"first_air_date"`
	Popularity    float64 `json:"popularity"`
	GenreIDs      []int   `json:"genre_ids"`
}

func (p *TMDBProvider) searchKind(kind catalogmodel.ItemKind) string {
	if kind == catalogmodel.ItemSeries {
		return "tv"
	}
	return "movie"
}

func (p *TMDBProvider) Search(title string, year *int, kind catalogmodel.ItemKind) ([]metadata.Candidate, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("tmdb: no api key configured")
	}

	searchType := p.searchKind(kind)
	reqURL := fmt.Sprintf("%s/search/%s?api_key=%s&query=%s", tmdbBaseURL, searchType, p.apiKey, url.QueryEscape(title))
	if year != nil && *year > 0 {
		if searchType == "tv" {
			reqURL += fmt.Sprintf("&first_air_date_year=%d", *year)
		} else {
			reqURL += fmt.Sprintf("&year=%d", *year)
		}
	}

	var result tmdbSearchResult
	if err := p.getJSON(reqURL, &result); err != nil {
		return nil, err
	}

	candidates := make([]metadata.Candidate, 0, len(result.Results))
	for i, hit := range result.Results {
		candidates = append(candidates, hitToCandidate(hit, i, len(result.Results)))
	}
	return candidates, nil
}

// hitToCandidate derives a confidence score from search-result rank — the
// first hit gets the highest score, decaying toward the threshold the merge
// engine applies for unattended refreshes.
func hitToCandidate(hit tmdbSearchHit, rank, total int) metadata.Candidate {
	title := hit.Title
	if title == "" {
		title = hit.Name
	}
	dateStr := hit.ReleaseDate
	if dateStr == "" {
		dateStr = hit.FirstAirDate
	}
	var year *int
	if len(dateStr) >= 4 {
		if y, err := strconv.Atoi(dateStr[:4]); err == nil {
			year = &y
		}
	}

	confidence := 1.0 - float64(rank)*0.12
	if confidence < 0.1 {
		confidence = 0.1
	}
	if rank == 0 && total == 1 {
		confidence = 1.0
	}

	genres := make([]string, 0, len(hit.GenreIDs))
	for _, id := range hit.GenreIDs {
		if name, ok := tmdbGenreMap[id]; ok {
			genres = append(genres, name)
		}
	}

	return metadata.Candidate{
		ExternalID: strconv.Itoa(hit.ID),
		Title:      title,
		Year:       year,
		Overview:   hit.Overview,
		Genres:     genres,
		Confidence: confidence,
	}
}

type tmdbDetails struct {
	ID            int     `json:"id"`
	Title         string  `json:"title"`
	Name          string  `json:"name"`
	Overview      string  `json:"overview"`
	ReleaseDate   string  `json:"release_date"`
	FirstAirDate  string  `json:"first_air_date"`
	Runtime       *int    `json:"runtime"`
	EpisodeRunTime []int  `json:"episode_run_time"`
	Genres        []struct {
		Name string `json:"name"`
	} `json:"genres"`
	ProductionCompanies []struct {
		Name string `json:"name"`
	} `json:"production_companies"`
}

func (p *TMDBProvider) FetchByID(externalID string, kind catalogmodel.ItemKind) (*metadata.Candidate, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("tmdb: no api key configured")
	}

	searchType := p.searchKind(kind)
	reqURL := fmt.Sprintf("%s/%s/%s?api_key=%s", tmdbBaseURL, searchType, externalID, p.apiKey)

	var d tmdbDetails
	if err := p.getJSON(reqURL, &d); err != nil {
		return nil, err
	}

	title := d.Title
	if title == "" {
		title = d.Name
	}
	dateStr := d.ReleaseDate
	if dateStr == "" {
		dateStr = d.FirstAirDate
	}
	var year *int
	if len(dateStr) >= 4 {
		if y, err := strconv.Atoi(dateStr[:4]); err == nil {
			year = &y
		}
	}

	var runtime *int
	if d.Runtime != nil {
		runtime = d.Runtime
	} else if len(d.EpisodeRunTime) > 0 {
		runtime = &d.EpisodeRunTime[0]
	}

	genres := make([]string, 0, len(d.Genres))
	for _, g := range d.Genres {
		genres = append(genres, g.Name)
	}
	studios := make([]string, 0, len(d.ProductionCompanies))
	for _, c := range d.ProductionCompanies {
		studios = append(studios, c.Name)
	}

	return &metadata.Candidate{
		ExternalID:     strconv.Itoa(d.ID),
		Title:          title,
		Year:           year,
		Overview:       d.Overview,
		Genres:         genres,
		Studios:        studios,
		RuntimeMinutes: runtime,
		Confidence:     1.0,
	}, nil
}

type tmdbSeason struct {
	Episodes []struct {
		EpisodeNumber int    `json:"episode_number"`
		SeasonNumber  int    `json:"season_number"`
		Name          string `json:"name"`
		AirDate       string `json:"air_date"`
	} `json:"episodes"`
}

type tmdbTVDetails struct {
	Seasons []struct {
		SeasonNumber int `json:"season_number"`
	} `json:"seasons"`
}

// FetchEpisodes walks every season of the TMDB show and flattens their
// episode lists, the same season-by-season fan-out the teacher's
// GetTVSeasonDetails call performed for automatic episode matching.
func (p *TMDBProvider) FetchEpisodes(seriesExternalID string) ([]metadata.EpisodeCandidate, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("tmdb: no api key configured")
	}

	var tv tmdbTVDetails
	reqURL := fmt.Sprintf("%s/tv/%s?api_key=%s", tmdbBaseURL, seriesExternalID, p.apiKey)
	if err := p.getJSON(reqURL, &tv); err != nil {
		return nil, err
	}

	var out []metadata.EpisodeCandidate
	for _, season := range tv.Seasons {
		seasonURL := fmt.Sprintf("%s/tv/%s/season/%d?api_key=%s", tmdbBaseURL, seriesExternalID, season.SeasonNumber, p.apiKey)
		var sd tmdbSeason
		if err := p.getJSON(seasonURL, &sd); err != nil {
			continue
		}
		for _, ep := range sd.Episodes {
			var airDate *time.Time
			if t, err := time.Parse("2006-01-02", ep.AirDate); err == nil {
				airDate = &t
			}
			out = append(out, metadata.EpisodeCandidate{
				Season:  ep.SeasonNumber,
				Episode: ep.EpisodeNumber,
				Title:   ep.Name,
				AirDate: airDate,
			})
		}
	}
	return out, nil
}

func (p *TMDBProvider) getJSON(reqURL string, v interface{}) error {
	if err := p.limiter.Wait(context.Background()); err != nil {
		return err
	}
	resp, err := p.client.Get(reqURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("tmdb: %s returned %d", strings.SplitN(reqURL, "?", 2)[0], resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
