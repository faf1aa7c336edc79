package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"cashlink/internal/models"
)

type VerifyResult struct {
	Granted bool

	// ChannelOpen reports whether the caller may join the match channel now.
	ChannelOpen bool
}

func validMatchID(matchID string) error {
	if _, err := uuid.Parse(matchID); err != nil {
		return &models.ValidationError{Fields: []models.FieldError{{Field: "matchId", Msg: "malformed"}}}
	}

	return nil
}

// Verify checks code against the match and marks the caller's side verified.
// A wrong code, a caller outside the match or an exhausted attempt budget all
// answer granted=false without changing the match.
func (e *Engine) Verify(ctx context.Context, matchID, requestID, code string) (*VerifyResult, error) {
	if err := validMatchID(matchID); err != nil {
		return nil, err
	}

	match, err := e.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}

	// outsiders never draw on the participants' attempt budget
	side, ok := match.SideOf(requestID)
	if !ok {
		verifications.WithLabelValues("outsider").Inc()
		return &VerifyResult{}, nil
	}

	if !e.limiters.allow(matchID) {
		verifications.WithLabelValues("limited").Inc()
		e.logger.Warn().Str("match", matchID).Msg("verification attempts exhausted")
		return &VerifyResult{}, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(match.CodeHash), []byte(code)); err != nil {
		verifications.WithLabelValues("rejected").Inc()
		return &VerifyResult{}, nil
	}

	updated, err := e.store.MarkVerified(ctx, matchID, side)
	if err != nil {
		return nil, err
	}

	verifications.WithLabelValues("granted").Inc()
	e.logger.Info().Str("match", matchID).Str("side", side.String()).Msg("side verified")

	return &VerifyResult{Granted: true, ChannelOpen: e.channelOpen(updated, side)}, nil
}

func (e *Engine) channelOpen(m *models.Match, side models.Side) bool {
	if e.cfg.RequireBothVerified {
		return m.BothVerified()
	}

	return m.Verified(side)
}

// CanJoin reports whether the owner of requestID may enter the match channel.
func (e *Engine) CanJoin(ctx context.Context, matchID, requestID string) (bool, error) {
	if err := validMatchID(matchID); err != nil {
		return false, err
	}

	match, err := e.store.GetMatch(ctx, matchID)
	if err != nil {
		return false, err
	}

	side, ok := match.SideOf(requestID)
	if !ok {
		return false, nil
	}

	return e.channelOpen(match, side), nil
}

// Participants returns the match and both of its requests, side A first.
func (e *Engine) Participants(ctx context.Context, matchID string) (*models.Match, []*models.ExchangeRequest, error) {
	if err := validMatchID(matchID); err != nil {
		return nil, nil, err
	}

	match, err := e.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}

	out := make([]*models.ExchangeRequest, 0, 2)
	for _, id := range []string{match.RequestA, match.RequestB} {
		req, err := e.store.GetRequest(ctx, id)
		if err != nil {
			return nil, nil, err
		}

		out = append(out, req)
	}

	return match, out, nil
}

const (
	limiterIdle     = 10 * time.Minute
	limiterPruneLen = 1024
)

type limiterEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

// limiterSet holds one token bucket per match id.
type limiterSet struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[string]*limiterEntry
}

func newLimiterSet(perSecond float64, burst int) *limiterSet {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}

	if burst <= 0 {
		burst = 1
	}

	return &limiterSet{
		limit:   limit,
		burst:   burst,
		entries: make(map[string]*limiterEntry),
	}
}

func (s *limiterSet) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	if len(s.entries) >= limiterPruneLen {
		for k, entry := range s.entries {
			if now.Sub(entry.seen) > limiterIdle {
				delete(s.entries, k)
			}
		}
	}

	entry, ok := s.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.entries[key] = entry
	}

	entry.seen = now

	return entry.limiter.AllowN(now, 1)
}
