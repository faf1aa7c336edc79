package sugar

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"cashlink/internal/common"
	"cashlink/internal/services/exchange/engine"
	"cashlink/internal/services/janitor"
)

type JanitorCmd struct {
	cmd *cobra.Command
}

func newJanitorCmd(loggerInstance *zerolog.Logger) *JanitorCmd {
	root := &JanitorCmd{}
	cmd := &cobra.Command{
		Use:           "janitor-service",
		Short:         "Run stale request janitor",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MinimumNArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := common.LoadConfig()
			if err != nil {
				return err
			}

			if cfg.RequestTTL <= 0 {
				loggerInstance.Warn().Msg("REQUEST_TTL not set, janitor has nothing to expire")
			}

			backend, err := openBackend(ctx, cfg, loggerInstance)
			if err != nil {
				return err
			}
			defer backend.close()

			eng, err := engine.New(backend.store, nil, loggerInstance, engineConfig(cfg))
			if err != nil {
				return err
			}

			server := janitor.NewServer(":"+cfg.JanitorPort, eng, cfg.JanitorInterval, loggerInstance)

			return server.Run(ctx)
		},
	}

	root.cmd = cmd
	return root
}
