package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/songblend/api/internal/model"
	"github.com/songblend/api/internal/store"
)

// catalogNamespace seeds ids for imported songs that carry none, so
// re-importing a file updates rows instead of duplicating them.
var catalogNamespace = uuid.MustParse("6f1b2c1e-5d8a-4f4e-9a57-0c1f3b8e2d40")

type catalogEntry struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	MidiKey  string  `json:"midiKey"`
	TokenKey *string `json:"tokenKey"`
}

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the song catalog",
	}

	catalogCmd.AddCommand(newCatalogImportCommand(ctx))
	catalogCmd.AddCommand(newCatalogListCommand(ctx))

	return catalogCmd
}

func newCatalogImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json>",
		Short: "Upsert songs from a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			songs, err := parseCatalog(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			db, err := ctx.database(cmd)
			if err != nil {
				return err
			}
			repo := store.NewSongRepository(db)
			for _, s := range songs {
				if err := repo.Upsert(cmd.Context(), s); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d songs\n", len(songs))
			return nil
		},
	}
}

func newCatalogListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every song in the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := ctx.database(cmd)
			if err != nil {
				return err
			}
			songs, err := store.NewSongRepository(db).ListAll(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, songs)
			}
			if len(songs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Catalog is empty")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSongTable(songs))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

// parseCatalog decodes and validates an import file.
func parseCatalog(r io.Reader) ([]model.Song, error) {
	var entries []catalogEntry
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	songs := make([]model.Song, 0, len(entries))
	for i, e := range entries {
		title := strings.TrimSpace(e.Title)
		artist := strings.TrimSpace(e.Artist)
		if title == "" || strings.TrimSpace(e.MidiKey) == "" {
			return nil, fmt.Errorf("entry %d: title and midiKey are required", i)
		}
		id := strings.TrimSpace(e.ID)
		if id == "" {
			id = uuid.NewSHA1(catalogNamespace, []byte(strings.ToLower(title)+"\x00"+strings.ToLower(artist))).String()
		}
		songs = append(songs, model.NewSong(id, title, artist, e.MidiKey, e.TokenKey))
	}
	return songs, nil
}

func renderSongTable(songs []model.Song) string {
	rows := make([][]string, 0, len(songs))
	for _, s := range songs {
		version := ""
		if s.Version != nil {
			version = fmt.Sprintf("%d", *s.Version)
		}
		tokens := "no"
		if s.TokenKey != nil && *s.TokenKey != "" {
			tokens = "yes"
		}
		rows = append(rows, []string{s.ID, s.BaseTitle, version, s.Artist, s.MidiKey, tokens})
	}
	return renderTable(
		[]string{"ID", "Base title", "Ver", "Artist", "MIDI", "Tokens"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
	)
}
