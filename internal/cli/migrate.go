package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"es-schedule/internal/jobs"
	"es-schedule/internal/platform/database"
)

func (a *app) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <source|target|all>",
		Short: "Apply the bundled schema migrations to a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.code = a.migrate(cmd.Context(), args[0])
			return nil
		},
	}
}

func (a *app) migrate(ctx context.Context, store string) int {
	sets := []string{store}
	if store == "all" {
		sets = database.MigrationSets
	} else if !slices.Contains(database.MigrationSets, store) {
		fmt.Fprintf(a.opts.Stderr, "unknown store %q, want one of %v or all\n", store, database.MigrationSets)
		return jobs.ExitParameterError
	}

	cfg, logger, closer, code := a.bootstrap()
	if code != jobs.ExitSuccess {
		return code
	}
	defer closer.Close()

	open := a.opts.Env.OpenDB
	if open == nil {
		open = jobs.OpenStores(cfg)
	}
	for _, set := range sets {
		if _, err := cfg.Database(set); err != nil && a.opts.Env.OpenDB == nil {
			logger.Error().Err(err).Str("store", set).Msg("configuration invalid")
			return jobs.ExitConfigError
		}
		db, err := open(ctx, set)
		if err != nil {
			logger.Error().Err(err).Str("store", set).Msg("open store")
			return jobs.ExitExecutionError
		}
		err = database.Migrate(ctx, db, set)
		_ = db.Close()
		if err != nil {
			logger.Error().Err(err).Str("store", set).Msg("migrate")
			return jobs.ExitExecutionError
		}
		logger.Info().Str("store", set).Str("dialect", string(db.Dialect)).Msg("migrations applied")
	}
	return jobs.ExitSuccess
}
