// Package catalogmodel defines the durable entities of the catalog (§3):
// libraries, items, media files, episode/file mappings, provider ids, field
// locks, expected episodes, user playback state and job records.
package catalogmodel

import (
	"time"

	"github.com/google/uuid"
)

// ──────────────────── Enums ────────────────────

// LibraryKind is the media kind a library's roots hold.
type LibraryKind string

const (
	LibraryMovies LibraryKind = "movies"
	LibraryTVShows LibraryKind = "tv_shows"
)

// ItemKind is a node kind in the catalog hierarchy.
type ItemKind string

const (
	ItemMovie   ItemKind = "movie"
	ItemSeries  ItemKind = "series"
	ItemSeason  ItemKind = "season"
	ItemEpisode ItemKind = "episode"
)

// JobKind identifies the type of work a JobRecord tracks.
type JobKind string

const (
	JobScan            JobKind = "scan"
	JobMetadataRefresh JobKind = "metadata_refresh"
)

// JobStatus is the lifecycle state of a JobRecord.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobDone      JobStatus = "done"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// ──────────────────── Library ────────────────────

// Library is a named collection of filesystem roots of one kind.
type Library struct {
	ID        uuid.UUID   `json:"id" db:"id"`
	Name      string      `json:"name" db:"name"`
	Kind      LibraryKind `json:"kind" db:"kind"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" db:"updated_at"`

	// Paths is not a DB column; it's populated from library_paths on read.
	Paths []string `json:"paths" db:"-"`
}

// ──────────────────── Item ────────────────────

// Item is a node in the catalog hierarchy: movie, series, season or episode.
type Item struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	LibraryID      uuid.UUID  `json:"library_id" db:"library_id"`
	ParentID       *uuid.UUID `json:"parent_id,omitempty" db:"parent_id"`
	Kind           ItemKind   `json:"kind" db:"kind"`
	Title          string     `json:"title" db:"title"`
	SortTitle      *string    `json:"sort_title,omitempty" db:"sort_title"`
	Year           *int       `json:"year,omitempty" db:"year"`
	Overview       *string    `json:"overview,omitempty" db:"overview"`
	Genres         []string   `json:"genres,omitempty" db:"-"`
	Studios        []string   `json:"studios,omitempty" db:"-"`
	RuntimeMinutes *int       `json:"runtime_minutes,omitempty" db:"runtime_minutes"`
	Edition        string     `json:"edition" db:"edition"`
	SeasonNum      *int       `json:"season_number,omitempty" db:"season_number"`
	EpisodeNum     *int       `json:"episode_number,omitempty" db:"episode_number"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// ──────────────────── MediaFile ────────────────────

// MediaFile is a physical file on disk, keyed by canonical absolute path.
type MediaFile struct {
	ID             uuid.UUID `json:"id" db:"id"`
	LibraryID      uuid.UUID `json:"library_id" db:"library_id"`
	Path           string    `json:"path" db:"path"`
	Size           int64     `json:"size" db:"size"`
	ModTime        time.Time `json:"mtime" db:"mtime"`
	Container      string    `json:"container" db:"container"`
	DurationSec    *float64  `json:"duration_seconds,omitempty" db:"duration_seconds"`
	StreamInfoJSON *string   `json:"stream_info_json,omitempty" db:"stream_info_json"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// ──────────────────── EpisodeFileMap ────────────────────

// EpisodeFileMap links an episode-kind item to one of its media files.
// PartIndex orders multi-part episodes (.part1, .cd2, ...).
type EpisodeFileMap struct {
	ID        uuid.UUID `json:"id" db:"id"`
	ItemID    uuid.UUID `json:"item_id" db:"item_id"`
	FileID    uuid.UUID `json:"file_id" db:"file_id"`
	PartIndex int       `json:"part_index" db:"part_index"`
}

// ──────────────────── ProviderId ────────────────────

// ProviderID is a per-item (provider, external id) pair. Locked ids survive
// scan and merge overwrites.
type ProviderID struct {
	ID       uuid.UUID `json:"id" db:"id"`
	ItemID   uuid.UUID `json:"item_id" db:"item_id"`
	Provider string    `json:"provider" db:"provider"`
	ExternalID string  `json:"external_id" db:"external_id"`
	Locked   bool      `json:"locked" db:"locked"`
}

// ──────────────────── FieldLock ────────────────────

// FieldLock marks an (item, field) pair the merge engine must never
// overwrite from provider data.
type FieldLock struct {
	ItemID uuid.UUID `json:"item_id" db:"item_id"`
	Field  string    `json:"field" db:"field"`
	Locked bool      `json:"locked" db:"locked"`
}

// ──────────────────── ExpectedEpisode ────────────────────

// ExpectedEpisode is a (season, episode) tuple known from providers,
// independent of whether a file is present. Drives missing-episode views.
type ExpectedEpisode struct {
	ID            uuid.UUID `json:"id" db:"id"`
	SeriesID      uuid.UUID `json:"series_id" db:"series_id"`
	SeasonNumber  int       `json:"season_number" db:"season_number"`
	EpisodeNumber int       `json:"episode_number" db:"episode_number"`
	Title         *string   `json:"title,omitempty" db:"title"`
	AirDate       *time.Time `json:"air_date,omitempty" db:"air_date"`
}

// ──────────────────── UserItemState ────────────────────

// UserItemState is per-(user, item) playback progress and flags.
type UserItemState struct {
	UserID       uuid.UUID  `json:"user_id" db:"user_id"`
	ItemID       uuid.UUID  `json:"item_id" db:"item_id"`
	PositionSec  float64    `json:"position_seconds" db:"position_seconds"`
	Played       bool       `json:"played" db:"played"`
	Favorite     bool       `json:"favorite" db:"favorite"`
	LastPlayedAt *time.Time `json:"last_played_at,omitempty" db:"last_played_at"`
}

// ──────────────────── DuplicateGroup ────────────────────

// DuplicateGroup records multi-part-without-markers scan tie-breaks: the
// shortest path wins as canonical and the rest are recorded as losers for
// the job error log (§4.B tie-break rule).
type DuplicateGroup struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Key       string    `json:"key" db:"key"`
	WinnerID  uuid.UUID `json:"winner_file_id" db:"winner_file_id"`
	LoserPath string    `json:"loser_path" db:"loser_path"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ──────────────────── JobRecord ────────────────────

// JobRecord is a durable queue entry for scans and metadata refreshes.
type JobRecord struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Kind         JobKind    `json:"kind" db:"kind"`
	Status       JobStatus  `json:"status" db:"status"`
	Progress     float64    `json:"progress" db:"progress"`
	Payload      string     `json:"payload" db:"payload"`
	ErrorMessage *string    `json:"error_message,omitempty" db:"error_message"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}
