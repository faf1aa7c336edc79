package store

import (
	"context"
	"time"

	"cashlink/internal/models"
)

// Store persists exchange requests and matches. Every mutation is
// compare-and-set: it only applies if the state it depends on still holds.
type Store interface {
	// Requests

	CreateRequest(context.Context, *models.ExchangeRequest) error
	GetRequest(context.Context, string) (*models.ExchangeRequest, error)
	MarkMatched(context.Context, string) error

	// Nearby returns unmatched requests of the given mode within at least
	// radius meters of the center. Backends may return extra candidates
	// slightly outside the radius; callers apply the exact bound.
	Nearby(ctx context.Context, mode models.Mode, center models.Location, radius float64) ([]*models.ExchangeRequest, error)

	// ExpireStale deletes unmatched requests created before the cutoff.
	ExpireStale(context.Context, time.Time) (int, error)

	// Matches

	// Reserve flips both requests of the match to matched and persists the
	// match in one atomic unit. It fails with models.ErrConflict if either
	// request is already matched and nothing is written.
	Reserve(context.Context, *models.Match) error
	GetMatch(context.Context, string) (*models.Match, error)
	MatchForRequest(context.Context, string) (*models.Match, error)
	MarkVerified(context.Context, string, models.Side) (*models.Match, error)
}
