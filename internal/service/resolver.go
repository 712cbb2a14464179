package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/songblend/api/internal/cache"
	"github.com/songblend/api/internal/logging"
	"github.com/songblend/api/internal/model"
)

const (
	// maxFuzzyMatches bounds how many fuzzy candidates a title expands to.
	maxFuzzyMatches = 3

	minSearchLength    = 2
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// Resolver maps requested titles onto catalog songs.
type Resolver struct {
	catalog SongCatalog
	cache   SearchCache
	logger  *zap.Logger
}

func NewResolver(catalog SongCatalog, searchCache SearchCache, logger *zap.Logger) *Resolver {
	return &Resolver{
		catalog: catalog,
		cache:   searchCache,
		logger:  logging.OrNop(logger).Named("resolver"),
	}
}

// Resolve returns every song matching any of the titles, with all versions
// of each matched base title, deduplicated by id. It may return more or
// fewer songs than titles.
func (r *Resolver) Resolve(ctx context.Context, titles []string) ([]model.Song, error) {
	var out []model.Song
	seen := make(map[string]struct{})
	add := func(songs []model.Song) {
		for _, s := range songs {
			if _, ok := seen[s.ID]; ok {
				continue
			}
			seen[s.ID] = struct{}{}
			out = append(out, s)
		}
	}

	for _, title := range titles {
		title = strings.TrimSpace(title)
		if title == "" {
			continue
		}

		matches, err := r.catalog.FindByTitle(ctx, title)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			matches, err = r.fuzzy(ctx, title)
			if err != nil {
				return nil, err
			}
		}
		if len(matches) == 0 {
			r.logger.Debug("no match for title", zap.String("title", title))
			continue
		}

		for _, m := range matches {
			add([]model.Song{m})
			versions, err := r.catalog.FindVersions(ctx, baseTitle(m))
			if err != nil {
				return nil, err
			}
			add(versions)
		}
	}
	return out, nil
}

func (r *Resolver) fuzzy(ctx context.Context, title string) ([]model.Song, error) {
	candidates, err := r.catalog.SearchCandidates(ctx, title, maxFuzzyMatches)
	if err != nil {
		return nil, err
	}
	rankSongs(candidates, title)
	if len(candidates) > maxFuzzyMatches {
		candidates = candidates[:maxFuzzyMatches]
	}
	return candidates, nil
}

// Search serves the autocomplete list: one song per base title. Queries
// shorter than two characters return nothing.
func (r *Resolver) Search(ctx context.Context, query string, limit int) ([]model.Song, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < minSearchLength {
		return []model.Song{}, nil
	}
	limit = clampSearchLimit(limit)

	if r.cache != nil {
		cached, err := r.cache.Get(ctx, query, limit)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			r.logger.Warn("search cache read failed", zap.String("query", query), zap.Error(err))
		}
	}

	songs, err := r.catalog.SearchDistinct(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if songs == nil {
		songs = []model.Song{}
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, query, limit, songs); err != nil {
			r.logger.Warn("search cache write failed", zap.String("query", query), zap.Error(err))
		}
	}
	return songs, nil
}

// ListSongs returns the whole catalog as picker options sorted by label.
func (r *Resolver) ListSongs(ctx context.Context) ([]model.SongOption, error) {
	songs, err := r.catalog.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	options := make([]model.SongOption, 0, len(songs))
	for _, s := range songs {
		options = append(options, model.NewSongOption(s))
	}
	sort.SliceStable(options, func(i, j int) bool {
		li, lj := strings.ToLower(options[i].Label), strings.ToLower(options[j].Label)
		if li != lj {
			return li < lj
		}
		return options[i].ID < options[j].ID
	})
	return options, nil
}

// rankSongs orders songs by match rank, then title.
func rankSongs(songs []model.Song, query string) {
	sort.SliceStable(songs, func(i, j int) bool {
		ri, rj := model.MatchRank(songs[i], query), model.MatchRank(songs[j], query)
		if ri != rj {
			return ri < rj
		}
		return songs[i].Title < songs[j].Title
	})
}

func clampSearchLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultSearchLimit
	case limit > MaxSearchLimit:
		return MaxSearchLimit
	default:
		return limit
	}
}

func baseTitle(s model.Song) string {
	if s.BaseTitle != "" {
		return s.BaseTitle
	}
	return model.ParseTitle(s.Title).Base
}
