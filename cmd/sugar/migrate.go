package sugar

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"cashlink/internal/common"
	"cashlink/internal/services/exchange/store"
)

type MigrateCmd struct {
	cmd *cobra.Command
}

func newMigrateCmd(loggerInstance *zerolog.Logger) *MigrateCmd {
	root := &MigrateCmd{}
	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply the postgres schema",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			cfg, err := common.LoadConfig()
			if err != nil {
				return err
			}

			pool, err := common.NewPostgresPool(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := store.NewPostgres(pool).Migrate(ctx); err != nil {
				return err
			}

			loggerInstance.Info().Msg("schema is up to date")

			return nil
		},
	}

	root.cmd = cmd
	return root
}
