package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestParseMovieFilenameExtractsTitleYearEdition(t *testing.T) {
	p := parseFilename("Aliens (1986) {Director's Cut}.mkv", kindMovie)
	if p.Title != "Aliens" {
		t.Fatalf("expected title Aliens, got %q", p.Title)
	}
	if p.Year == nil || *p.Year != 1986 {
		t.Fatalf("expected year 1986, got %v", p.Year)
	}
	if p.Edition != "Director's Cut" {
		t.Fatalf("expected edition Director's Cut, got %q", p.Edition)
	}
}

func TestParseMovieFilenameDetectsMultiPartMarker(t *testing.T) {
	p := parseFilename("Kill Bill (2003) PART-1.mkv", kindMovie)
	if p.PartNumber == nil || *p.PartNumber != 1 {
		t.Fatalf("expected part number 1, got %v", p.PartNumber)
	}
	if p.PartType != "PART" {
		t.Fatalf("expected part type PART, got %q", p.PartType)
	}
	if p.Title != "Kill Bill" {
		t.Fatalf("expected title Kill Bill, got %q", p.Title)
	}
}

func TestParseTVShowFilenameExtractsSeasonEpisode(t *testing.T) {
	p := parseFilename("Breaking Bad - S05E14.mkv", kindEpisode)
	if p.Title != "Breaking Bad" {
		t.Fatalf("expected title Breaking Bad, got %q", p.Title)
	}
	if p.Season == nil || *p.Season != 5 {
		t.Fatalf("expected season 5, got %v", p.Season)
	}
	if p.Episode == nil || *p.Episode != 14 {
		t.Fatalf("expected episode 14, got %v", p.Episode)
	}
}

func TestParseTVShowFilenameExtractsNxYY(t *testing.T) {
	p := parseFilename("The Big Bang Theory - 1x02.mkv", kindEpisode)
	if p.Title != "The Big Bang Theory" {
		t.Fatalf("expected title The Big Bang Theory, got %q", p.Title)
	}
	if p.Season == nil || *p.Season != 1 {
		t.Fatalf("expected season 1, got %v", p.Season)
	}
	if p.Episode == nil || *p.Episode != 2 {
		t.Fatalf("expected episode 2, got %v", p.Episode)
	}
}

func TestParseTVShowFilenameExtractsSeasonEpisodeWords(t *testing.T) {
	p := parseFilename("The Big Bang Theory - Season 1 Episode 2.mkv", kindEpisode)
	if p.Title != "The Big Bang Theory" {
		t.Fatalf("expected title The Big Bang Theory, got %q", p.Title)
	}
	if p.Season == nil || *p.Season != 1 {
		t.Fatalf("expected season 1, got %v", p.Season)
	}
	if p.Episode == nil || *p.Episode != 2 {
		t.Fatalf("expected episode 2, got %v", p.Episode)
	}
}

func TestExtractProviderTags(t *testing.T) {
	p := parseFilename("Interstellar (2014) [tmdb=157336].mkv", kindMovie)
	if p.TMDBID != "157336" {
		t.Fatalf("expected tmdb id 157336, got %q", p.TMDBID)
	}
}

func TestSpecialsFolderPatternMatchesSpecialsFolder(t *testing.T) {
	if !specialsFolderPattern.MatchString("Specials") {
		t.Fatalf("expected Specials to match specialsFolderPattern")
	}
	if specialsFolderPattern.MatchString("Season 00") {
		t.Fatalf("did not expect Season 00 to match specialsFolderPattern")
	}
}

func TestSpecialLeadingNumberPatternExtractsEpisodeNumber(t *testing.T) {
	m := specialLeadingNumberPattern.FindStringSubmatch("01 - Deleted Scene")
	if len(m) != 2 || m[1] != "01" {
		t.Fatalf("expected to extract leading number 01, got %v", m)
	}
}

func TestParseSeriesFolderStripsTagsAndYear(t *testing.T) {
	title, tags := parseSeriesFolder("Breaking Bad (2008) [tvdb=81189]")
	if title != "Breaking Bad" {
		t.Fatalf("expected title Breaking Bad, got %q", title)
	}
	if tags.tvdb != "81189" {
		t.Fatalf("expected tvdb 81189, got %q", tags.tvdb)
	}
}

// TestBreadthFirstWalkVisitsSiblingsBeforeChildren builds:
//
//	root/a.mkv
//	root/sub/b.mkv
//	root/sub/subsub/c.mkv
//
// and asserts a.mkv and b.mkv are both discovered before c.mkv.
func TestBreadthFirstWalkVisitsSiblingsBeforeChildren(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.mkv"))
	mustWriteFile(t, filepath.Join(root, "sub", "b.mkv"))
	mustWriteFile(t, filepath.Join(root, "sub", "subsub", "c.mkv"))

	fileCh := make(chan scanFile, 16)
	if err := breadthFirstWalk(context.Background(), root, fileCh); err != nil {
		t.Fatalf("walk error: %v", err)
	}
	close(fileCh)

	var order []string
	for f := range fileCh {
		order = append(order, filepath.Base(f.path))
	}

	indexOf := func(name string) int {
		for i, n := range order {
			if n == name {
				return i
			}
		}
		return -1
	}
	if indexOf("a.mkv") == -1 || indexOf("b.mkv") == -1 || indexOf("c.mkv") == -1 {
		t.Fatalf("expected all three files discovered, got %v", order)
	}
	if indexOf("c.mkv") < indexOf("a.mkv") || indexOf("c.mkv") < indexOf("b.mkv") {
		t.Fatalf("expected c.mkv (depth 2) after a.mkv and b.mkv (depth 0/1), got %v", order)
	}
}

func TestBreadthFirstWalkSkipsHiddenAndIgnoredDirs(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, ".hidden", "skip.mkv"))
	mustWriteFile(t, filepath.Join(root, "@eaDir", "skip.mkv"))
	mustWriteFile(t, filepath.Join(root, "keep.mkv"))

	fileCh := make(chan scanFile, 16)
	if err := breadthFirstWalk(context.Background(), root, fileCh); err != nil {
		t.Fatalf("walk error: %v", err)
	}
	close(fileCh)

	var names []string
	for f := range fileCh {
		names = append(names, filepath.Base(f.path))
	}
	if len(names) != 1 || names[0] != "keep.mkv" {
		t.Fatalf("expected only keep.mkv, got %v", names)
	}
}

func mustWriteFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}
