package main

import (
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/songblend/api/internal/config"
	"github.com/songblend/api/internal/store"
)

type commandContext struct {
	databaseURL *string

	dbOnce sync.Once
	db     *sqlx.DB
	dbErr  error
}

func newRootCommand() *cobra.Command {
	var databaseURL string
	ctx := &commandContext{databaseURL: &databaseURL}

	rootCmd := &cobra.Command{
		Use:           "blendctl",
		Short:         "Administer the songblend catalog and jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres URL (defaults to DATABASE_URL / config)")

	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newCatalogCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))

	return rootCmd
}

// database opens the pool on first use.
func (c *commandContext) database(cmd *cobra.Command) (*sqlx.DB, error) {
	c.dbOnce.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.dbErr = err
			return
		}
		if url := strings.TrimSpace(*c.databaseURL); url != "" {
			cfg.Database.URL = url
		}
		c.db, c.dbErr = store.Open(cmd.Context(), cfg.Database)
	})
	return c.db, c.dbErr
}

func (c *commandContext) close() {
	if c.db != nil {
		_ = c.db.Close()
	}
}
