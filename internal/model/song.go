package model

import (
	"strconv"
	"strings"
	"time"
)

// Song is one row of the catalog. BaseTitle and Version are derived from
// Title once, when the row is written.
type Song struct {
	ID        string    `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	Artist    string    `json:"artist" db:"artist"`
	MidiKey   string    `json:"midiKey" db:"midi_key"`
	TokenKey  *string   `json:"tokenKey,omitempty" db:"token_key"`
	BaseTitle string    `json:"baseTitle" db:"base_title"`
	Version   *int      `json:"version,omitempty" db:"version"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// TitleVariant is a title split into the song it belongs to and its
// rendition number.
type TitleVariant struct {
	Base    string
	Version int
	// Versioned is false when the title carries no numeric suffix.
	Versioned bool
}

// VersionDelimiter separates a base title from its rendition number, as in "Fugue.2".
const VersionDelimiter = "."

// ParseTitle splits a trailing ".<digits>" suffix off title.
func ParseTitle(title string) TitleVariant {
	title = strings.TrimSpace(title)
	idx := strings.LastIndex(title, VersionDelimiter)
	if idx <= 0 || idx == len(title)-1 {
		return TitleVariant{Base: title}
	}

	suffix := title[idx+1:]
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return TitleVariant{Base: title}
		}
	}
	version, err := strconv.Atoi(suffix)
	if err != nil {
		return TitleVariant{Base: title}
	}

	base := strings.TrimSpace(title[:idx])
	if base == "" {
		return TitleVariant{Base: title}
	}
	return TitleVariant{Base: base, Version: version, Versioned: true}
}

// NewSong builds a catalog row with its title variant filled in.
func NewSong(id, title, artist, midiKey string, tokenKey *string) Song {
	variant := ParseTitle(title)
	song := Song{
		ID:        id,
		Title:     strings.TrimSpace(title),
		Artist:    strings.TrimSpace(artist),
		MidiKey:   midiKey,
		TokenKey:  tokenKey,
		BaseTitle: variant.Base,
	}
	if variant.Versioned {
		v := variant.Version
		song.Version = &v
	}
	return song
}

// Label is the display form used by the song picker.
func (s Song) Label() string {
	base := s.BaseTitle
	if base == "" {
		base = ParseTitle(s.Title).Base
	}
	if s.Artist == "" {
		return base
	}
	return base + " - " + s.Artist
}

// Match ranks, best first.
const (
	RankBaseTitle = iota
	RankTitleArtist
	RankTitle
	RankOther
)

// MatchRank ranks how well s answers a free-text query. Lower is better.
// It mirrors the ORDER BY used by the Postgres catalog.
func MatchRank(s Song, query string) int {
	q := strings.ToLower(strings.TrimSpace(query))
	title := strings.ToLower(s.Title)
	base := strings.ToLower(s.BaseTitle)
	if base == "" {
		base = strings.ToLower(ParseTitle(s.Title).Base)
	}

	switch {
	case base == q:
		return RankBaseTitle
	case title+" - "+strings.ToLower(s.Artist) == q:
		return RankTitleArtist
	case strings.Contains(title, q):
		return RankTitle
	default:
		return RankOther
	}
}

// Matches reports whether query is contained in the title, the artist or
// "title - artist", ignoring case.
func Matches(s Song, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return false
	}
	title := strings.ToLower(s.Title)
	artist := strings.ToLower(s.Artist)
	return strings.Contains(title, q) ||
		strings.Contains(artist, q) ||
		strings.Contains(title+" - "+artist, q)
}
