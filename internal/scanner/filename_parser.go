package scanner

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// ParsedFilename holds the metadata extracted from one media filename.
// Narrowed from the teacher's version to the movie and tv_shows fields
// this catalog needs.
type ParsedFilename struct {
	Title      string
	Year       *int
	Edition    string
	Season     *int
	Episode    *int
	PartNumber *int
	PartType   string
	BaseTitle  string

	TMDBID string
	TVDBID string
	IMDBID string
}

// Movie: name (year) {edition}
// Example: Aliens (1989) {Director's Cut}
var movieFilenamePattern = regexp.MustCompile(
	`(?i)^(.+?)\s*\((\d{4})\)\s*(?:\{([^}]+)\})?\s*$`)

// TV show episode grammars (§4.B step 2 names four): SxxEyy, NxYY, and
// "Season X Episode Y". A bare S00/Specials folder is handled separately
// in processEpisodeFile since it carries no episode number of its own.
//
// Example: The Big Bang Theory - S01E01
var tvShowFilenamePattern = regexp.MustCompile(
	`(?i)^(.+?)\s+-?\s*S(\d{1,3})E(\d{1,3})\s*$`)

// Example: The Big Bang Theory - 1x02
var tvShowNxYYPattern = regexp.MustCompile(
	`(?i)^(.+?)\s+-?\s*(\d{1,3})[x×](\d{1,3})\s*$`)

// Example: The Big Bang Theory - Season 1 Episode 2
var tvShowSeasonEpisodeWordsPattern = regexp.MustCompile(
	`(?i)^(.+?)\s+-?\s*Season\s+(\d{1,3})\s+Episode\s+(\d{1,3})\s*$`)

// tvShowEpisodePatterns is tried in order; the first to match wins.
var tvShowEpisodePatterns = []*regexp.Regexp{
	tvShowFilenamePattern,
	tvShowSeasonEpisodeWordsPattern,
	tvShowNxYYPattern,
}

// Multi-part indicator at the end of the base name: CDx, DISCx or PARTx
// (optionally CD-x etc.), separated by a space, dot, underscore or hyphen,
// so ".part1" and ".cd2" match too.
var multiPartPattern = regexp.MustCompile(`(?i)[\s._-]+(CD|DISC|PART)-?(\d+)\s*$`)

// Edition prefix stripped from Radarr/Sonarr convention ("edition-...").
var editionPrefixPattern = regexp.MustCompile(`(?i)^edition-`)

// Provider tags embedded in filenames or folder names: [tmdb=603],
// [tvdb=121361], [imdb=tt0133093].
var tmdbTagPattern = regexp.MustCompile(`(?i)\[tmdb[=-](\d+)\]`)
var tvdbTagPattern = regexp.MustCompile(`(?i)\[tvdb[=-](\d+)\]`)
var imdbTagPattern = regexp.MustCompile(`(?i)\[imdb[=-](tt\d+)\]`)

// parseFilename extracts title, year/season/episode and edition from a
// filename, dispatching on mediaKind.
func parseFilename(filename string, mediaKind catalogKind) ParsedFilename {
	result := ParsedFilename{Edition: "Theatrical"}

	ext := filepath.Ext(filename)
	baseName := strings.TrimSuffix(filename, ext)

	if matches := multiPartPattern.FindStringSubmatch(baseName); len(matches) >= 3 {
		partNum, _ := strconv.Atoi(matches[2])
		result.PartNumber = &partNum
		result.PartType = strings.ToUpper(matches[1])
		baseName = strings.TrimSpace(multiPartPattern.ReplaceAllString(baseName, ""))
	}

	switch mediaKind {
	case kindMovie:
		parseMovieFilename(baseName, &result)
	case kindEpisode:
		parseTVShowFilename(baseName, &result)
	}

	if result.PartNumber != nil {
		result.BaseTitle = baseName
	}

	extractProviderTags(filename, &result)
	return result
}

// catalogKind distinguishes which filename grammar to apply; kept separate
// from catalogmodel.ItemKind since a filename alone can't say "series" or
// "season" — only whether it names a movie or a single episode.
type catalogKind int

const (
	kindMovie catalogKind = iota
	kindEpisode
)

func parseMovieFilename(baseName string, result *ParsedFilename) {
	matches := movieFilenamePattern.FindStringSubmatch(baseName)
	if len(matches) < 3 {
		result.Title = strings.TrimSpace(baseName)
		return
	}
	result.Title = strings.TrimSpace(matches[1])
	if year, err := strconv.Atoi(matches[2]); err == nil && year >= 1900 && year <= 2100 {
		result.Year = &year
	}
	if len(matches) >= 4 && matches[3] != "" {
		result.Edition = cleanEditionName(matches[3])
	}
}

func parseTVShowFilename(baseName string, result *ParsedFilename) {
	for _, pattern := range tvShowEpisodePatterns {
		matches := pattern.FindStringSubmatch(baseName)
		if len(matches) < 4 {
			continue
		}
		result.Title = strings.TrimSpace(matches[1])
		season, _ := strconv.Atoi(matches[2])
		episode, _ := strconv.Atoi(matches[3])
		result.Season = &season
		result.Episode = &episode
		return
	}
	result.Title = strings.TrimSpace(baseName)
}

func cleanEditionName(raw string) string {
	name := strings.TrimSpace(raw)
	if editionPrefixPattern.MatchString(name) {
		name = strings.TrimSpace(editionPrefixPattern.ReplaceAllString(name, ""))
	}
	if name == "" {
		return "Theatrical"
	}
	return name
}

// extractProviderTags pulls [tmdb=N]/[tvdb=N]/[imdb=ttN] tags out of a
// filename or folder name, as produced by Radarr/Sonarr-style naming.
func extractProviderTags(name string, result *ParsedFilename) {
	if m := tmdbTagPattern.FindStringSubmatch(name); len(m) == 2 {
		result.TMDBID = m[1]
	}
	if m := tvdbTagPattern.FindStringSubmatch(name); len(m) == 2 {
		result.TVDBID = m[1]
	}
	if m := imdbTagPattern.FindStringSubmatch(name); len(m) == 2 {
		result.IMDBID = m[1]
	}
}
