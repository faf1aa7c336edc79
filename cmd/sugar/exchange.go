package sugar

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"cashlink/internal/common"
	"cashlink/internal/services/exchange"
	"cashlink/internal/services/exchange/engine"
	"cashlink/internal/services/exchange/handlers"
	"cashlink/internal/services/janitor"
	"cashlink/internal/services/relay"
)

type ExchangeCmd struct {
	cmd *cobra.Command
}

func newExchangeCmd(loggerInstance *zerolog.Logger) *ExchangeCmd {
	root := &ExchangeCmd{}
	cmd := &cobra.Command{
		Use:           "exchange-service",
		Short:         "Run exchange service",
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

			backend, err := openBackend(ctx, cfg, loggerInstance)
			if err != nil {
				return err
			}
			defer backend.close()

			hub := relay.NewHub(loggerInstance)

			var (
				notifier      engine.Notifier = hub
				redisNotifier *relay.RedisNotifier
			)

			if backend.redis != nil {
				redisNotifier = relay.NewRedisNotifier(backend.redis, loggerInstance)
				notifier = redisNotifier
			}

			if cfg.CodeKey == "" {
				loggerInstance.Warn().Msg("CODE_KEY not set, pending codes cannot be recovered after a restart")
			}

			eng, err := engine.New(backend.store, notifier, loggerInstance, engineConfig(cfg))
			if err != nil {
				return err
			}

			serverInstance := echo.New()
			serverInstance.HideBanner = true
			serverInstance.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
				LogURI:    true,
				LogStatus: true,
				LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
					loggerInstance.Info().
						Str("URI", v.URI).
						Int("status", v.Status).
						Msg("request")

					return nil
				},
			}))
			serverInstance.Use(middleware.Recover())
			serverInstance.Use(echoprometheus.NewMiddleware("exchange_service"))

			sessionKey := []byte(cfg.SessionKey)
			if len(sessionKey) == 0 {
				loggerInstance.Warn().Msg("SESSION_KEY not set, sessions will not survive a restart")
				sessionKey = securecookie.GenerateRandomKey(32)
			}

			handle := &handlers.ServerHandle{
				Engine:       eng,
				Hub:          hub,
				SessionStore: sessions.NewCookieStore(sessionKey),
				Logger:       loggerInstance,
				Ctx:          ctx,
				ClientBuffer: cfg.ClientBuffer,
				Secure:       cfg.SecureFlag,
			}

			server := exchange.NewServer(":"+cfg.ServicePort, serverInstance, handle, cfg.VerifyIPRate)
			sweeper := janitor.NewServer("", eng, cfg.JanitorInterval, loggerInstance)

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				if err := server.Run(); err != nil {
					loggerInstance.Err(err).Msg("failed to start the server")
					return err
				}

				return nil
			})

			g.Go(func() error {
				return sweeper.Run(gctx)
			})

			if redisNotifier != nil {
				g.Go(func() error {
					return redisNotifier.Listen(gctx, hub, eng)
				})
			}

			g.Go(func() error {
				<-gctx.Done()

				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := serverInstance.Shutdown(ctx); err != nil {
					loggerInstance.Err(err).Msg("failed to gracefully shutdown the server")
					return err
				}

				return nil
			})

			return g.Wait()
		},
	}

	root.cmd = cmd
	return root
}
