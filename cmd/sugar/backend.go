package sugar

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"cashlink/internal/common"
	"cashlink/internal/services/exchange/engine"
	"cashlink/internal/services/exchange/store"
)

// backend is the store selected by STORE_BACKEND plus the connections it
// holds. redis is set whenever a Redis client was opened.
type backend struct {
	store store.Store
	redis *redis.Client
	close func()
}

func openBackend(ctx context.Context, cfg *common.Config, loggerInstance *zerolog.Logger) (*backend, error) {
	switch cfg.StoreBackend {
	case common.BackendMemory:
		loggerInstance.Warn().Msg("using in-memory store, state is lost on restart")
		return &backend{store: store.NewMemory(), close: func() {}}, nil

	case common.BackendRedis:
		redisConn, err := common.NewRedisStore(cfg.RedisURI)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		if err := redisConn.Ping(ctx).Err(); err != nil {
			_ = redisConn.Close()
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}

		return &backend{
			store: store.NewRedis(redisConn),
			redis: redisConn,
			close: func() {
				if err := redisConn.Close(); err != nil {
					loggerInstance.Err(err).Msg("unable to close redis connection")
				}
			},
		}, nil

	case common.BackendPostgres:
		pool, err := common.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}

		return &backend{store: store.NewPostgres(pool), close: pool.Close}, nil
	}

	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func engineConfig(cfg *common.Config) engine.Config {
	return engine.Config{
		RadiusMeters:        cfg.RadiusMeters,
		MatchRetries:        cfg.MatchRetries,
		RequestTTL:          cfg.RequestTTL,
		RequireBothVerified: cfg.RequireBothVerified,
		CodeHashCost:        cfg.OTPHashCost,
		CodeKey:             []byte(cfg.CodeKey),
		VerifyRate:          cfg.VerifyAttemptsPerMinute / 60,
		VerifyBurst:         cfg.VerifyBurst,
	}
}
