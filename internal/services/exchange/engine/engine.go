// Package engine pairs cash and online exchange requests by proximity, reserves
// each pair into a match and gates the pair's channel behind a one-time code.
package engine

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"cashlink/internal/models"
	"cashlink/internal/services/exchange/store"
)

var (
	requestsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_requests_submitted_total",
		Help: "number of exchange requests accepted",
	})

	matchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_matches_created_total",
		Help: "number of matches reserved",
	})

	matchConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_match_conflicts_total",
		Help: "number of reservations lost to a concurrent match",
	})

	verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_verifications_total",
		Help: "verification attempts by result",
	}, []string{"result"})
)

type Config struct {
	// RadiusMeters is the largest distance at which two requests are paired.
	RadiusMeters float64

	// MatchRetries bounds how often a lost reservation is retried.
	MatchRetries int

	// RequestTTL hides unmatched requests older than this from the matcher.
	// Zero keeps them eligible forever.
	RequestTTL time.Duration

	// RequireBothVerified keeps the channel closed until both sides verified.
	RequireBothVerified bool

	CodeHashCost int

	// CodeKey seals codes for redelivery. Sealed codes only survive a restart
	// when the key does; an empty key is replaced by a random one.
	CodeKey []byte

	// VerifyRate is attempts per second allowed per match.
	VerifyRate  float64
	VerifyBurst int
}

func DefaultConfig() Config {
	return Config{
		RadiusMeters:        3000,
		MatchRetries:        3,
		RequireBothVerified: true,
		CodeHashCost:        bcrypt.DefaultCost,
		VerifyRate:          5.0 / 60,
		VerifyBurst:         5,
	}
}

// Notifier delivers match notifications to the sessions that own the matched
// requests.
type Notifier interface {
	MatchFound(context.Context, models.MatchFound) error
}

type Engine struct {
	store    store.Store
	notifier Notifier
	logger   *zerolog.Logger
	cfg      Config
	limiters *limiterSet
	sealer   *sealer

	now func() time.Time
}

func New(s store.Store, notifier Notifier, logger *zerolog.Logger, cfg Config) (*Engine, error) {
	if cfg.MatchRetries < 0 {
		cfg.MatchRetries = 0
	}

	if cfg.CodeHashCost == 0 {
		cfg.CodeHashCost = bcrypt.DefaultCost
	}

	sealer, err := newSealer(cfg.CodeKey)
	if err != nil {
		return nil, err
	}

	return &Engine{
		store:    s,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		limiters: newLimiterSet(cfg.VerifyRate, cfg.VerifyBurst),
		sealer:   sealer,
		now:      time.Now,
	}, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// ExpireStale deletes unmatched requests older than the configured TTL.
func (e *Engine) ExpireStale(ctx context.Context) (int, error) {
	if e.cfg.RequestTTL <= 0 {
		return 0, nil
	}

	removed, err := e.store.ExpireStale(ctx, e.now().Add(-e.cfg.RequestTTL))
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		e.logger.Info().Int("removed", removed).Msg("expired stale requests")
	}

	return removed, nil
}
