package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/songblend/api/internal/model"
)

const songColumns = `id, title, artist, midi_key, token_key, base_title, version, created_at, updated_at`

// matchClause filters rows whose title, artist or "title - artist" contain
// the pattern in $2. rankExpr orders them the same way model.MatchRank does,
// with the raw query in $1.
const (
	matchClause = `(title ILIKE $2 OR artist ILIKE $2 OR (title || ' - ' || artist) ILIKE $2)`
	rankExpr    = `CASE
			WHEN lower(base_title) = lower($1) THEN 0
			WHEN lower(title || ' - ' || artist) = lower($1) THEN 1
			WHEN title ILIKE $2 THEN 2
			ELSE 3
		END`
)

// SongRepository reads and writes the song catalog.
type SongRepository struct {
	db *sqlx.DB
}

func NewSongRepository(db *sqlx.DB) *SongRepository {
	return &SongRepository{db: db}
}

// FindByTitle returns every song whose title equals title, ignoring case.
func (r *SongRepository) FindByTitle(ctx context.Context, title string) ([]model.Song, error) {
	query := `SELECT ` + songColumns + ` FROM songs WHERE lower(title) = lower($1) ORDER BY title, id`

	songs := []model.Song{}
	if err := r.db.SelectContext(ctx, &songs, query, strings.TrimSpace(title)); err != nil {
		return nil, fmt.Errorf("find songs by title %q: %w", title, err)
	}
	return songs, nil
}

// FindVersions returns every rendition sharing baseTitle.
func (r *SongRepository) FindVersions(ctx context.Context, baseTitle string) ([]model.Song, error) {
	query := `SELECT ` + songColumns + ` FROM songs WHERE lower(base_title) = lower($1) ORDER BY version NULLS FIRST, title, id`

	songs := []model.Song{}
	if err := r.db.SelectContext(ctx, &songs, query, baseTitle); err != nil {
		return nil, fmt.Errorf("find versions of %q: %w", baseTitle, err)
	}
	return songs, nil
}

// SearchCandidates returns up to limit fuzzy matches for query, best rank first.
func (r *SongRepository) SearchCandidates(ctx context.Context, query string, limit int) ([]model.Song, error) {
	q := strings.TrimSpace(query)
	stmt := `
		SELECT ` + songColumns + `
		FROM songs
		WHERE ` + matchClause + `
		ORDER BY ` + rankExpr + `, title, id
		LIMIT $3`

	songs := []model.Song{}
	if err := r.db.SelectContext(ctx, &songs, stmt, q, containsPattern(q), limit); err != nil {
		return nil, fmt.Errorf("search songs %q: %w", query, err)
	}
	return songs, nil
}

type rankedSong struct {
	model.Song
	Rank int `db:"match_rank"`
}

// SearchDistinct returns one representative per base title, picking the
// best ranked row of each, ordered by base title, rank and title.
func (r *SongRepository) SearchDistinct(ctx context.Context, query string, limit int) ([]model.Song, error) {
	q := strings.TrimSpace(query)
	stmt := `
		SELECT DISTINCT ON (base_title) ` + songColumns + `, ` + rankExpr + ` AS match_rank
		FROM songs
		WHERE ` + matchClause + `
		ORDER BY base_title, match_rank, title
		LIMIT $3`

	rows := []rankedSong{}
	if err := r.db.SelectContext(ctx, &rows, stmt, q, containsPattern(q), limit); err != nil {
		return nil, fmt.Errorf("search distinct songs %q: %w", query, err)
	}

	songs := make([]model.Song, len(rows))
	for i, row := range rows {
		songs[i] = row.Song
	}
	return songs, nil
}

// ListAll returns the whole catalog.
func (r *SongRepository) ListAll(ctx context.Context) ([]model.Song, error) {
	query := `SELECT ` + songColumns + ` FROM songs ORDER BY base_title, artist, title`

	songs := []model.Song{}
	if err := r.db.SelectContext(ctx, &songs, query); err != nil {
		return nil, fmt.Errorf("list songs: %w", err)
	}
	return songs, nil
}

// Upsert inserts or replaces a catalog row keyed by id. Title variant
// columns are recomputed from the title.
func (r *SongRepository) Upsert(ctx context.Context, song model.Song) error {
	song = model.NewSong(song.ID, song.Title, song.Artist, song.MidiKey, song.TokenKey)
	query := `
		INSERT INTO songs (id, title, artist, midi_key, token_key, base_title, version)
		VALUES (:id, :title, :artist, :midi_key, :token_key, :base_title, :version)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			artist = EXCLUDED.artist,
			midi_key = EXCLUDED.midi_key,
			token_key = EXCLUDED.token_key,
			base_title = EXCLUDED.base_title,
			version = EXCLUDED.version,
			updated_at = NOW()`

	if _, err := r.db.NamedExecContext(ctx, query, song); err != nil {
		return fmt.Errorf("upsert song %s: %w", song.ID, err)
	}
	return nil
}

// containsPattern builds an ILIKE pattern matching q anywhere, with LIKE
// metacharacters escaped.
func containsPattern(q string) string {
	escaper := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + escaper.Replace(q) + "%"
}
