package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cashlink/internal/geo"
	"cashlink/internal/models"
)

type Status string

const (
	StatusMatched   Status = "matched"
	StatusSearching Status = "searching"
)

type SubmitInput struct {
	Mode   string
	Amount string
	Phone  string
	Lat    float64
	Lng    float64
}

type Outcome struct {
	Status  Status
	Request *models.ExchangeRequest
	Match   *models.Match

	// Code is the plaintext verification code, set whenever Status is
	// matched.
	Code string
}

func (in SubmitInput) validate() (*models.ExchangeRequest, error) {
	verr := &models.ValidationError{}

	mode, ok := models.ParseMode(in.Mode)
	if !ok {
		verr.Add("mode", "must be cashtoonline or onlinetocash")
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(in.Amount))
	switch {
	case err != nil:
		verr.Add("amount", "must be a number")
	case !amount.IsPositive():
		verr.Add("amount", "must be positive")
	}

	phone := strings.TrimSpace(in.Phone)
	if phone == "" {
		verr.Add("phone", "is required")
	}

	if !geo.ValidCoordinates(in.Lng, in.Lat) {
		verr.Add("location", "lng must be within [-180,180] and lat within [-90,90]")
	}

	if err := verr.Err(); err != nil {
		return nil, err
	}

	return &models.ExchangeRequest{
		Mode:     mode,
		Amount:   amount,
		Phone:    phone,
		Location: models.Location{Lng: in.Lng, Lat: in.Lat},
	}, nil
}

// Submit stores a new request and tries to pair it with the nearest
// counterpart. Lost reservations are retried; when no counterpart can be
// reserved the request stays unmatched and the outcome is searching.
func (e *Engine) Submit(ctx context.Context, in SubmitInput) (*Outcome, error) {
	req, err := in.validate()
	if err != nil {
		return nil, err
	}

	req.ID = uuid.NewString()
	req.CreatedAt = e.now().UTC()

	if err := e.store.CreateRequest(ctx, req); err != nil {
		e.logger.Err(err).Msg("unable to store exchange request")
		return nil, err
	}

	requestsSubmitted.Inc()
	e.logger.Info().Str("request", req.ID).Str("mode", string(req.Mode)).Msg("request submitted")

	for attempt := 0; attempt <= e.cfg.MatchRetries; attempt++ {
		counterpart, err := e.FindCounterpart(ctx, req)
		if err != nil {
			return nil, err
		}

		if counterpart == nil {
			break
		}

		match, code, err := e.CreateMatch(ctx, req, counterpart)
		if err == nil {
			req.Matched = true
			return &Outcome{Status: StatusMatched, Request: req, Match: match, Code: code}, nil
		}

		// a vanished counterpart was expired between search and reserve
		if !errors.Is(err, models.ErrConflict) && !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}

		matchConflicts.Inc()
		e.logger.Debug().Str("request", req.ID).Int("attempt", attempt).Msg("reservation lost, retrying")

		out, err := e.claimed(ctx, req)
		if err != nil || out != nil {
			return out, err
		}
	}

	// a concurrent submission may have claimed this request itself
	out, err := e.claimed(ctx, req)
	if err != nil || out != nil {
		return out, err
	}

	return &Outcome{Status: StatusSearching, Request: req}, nil
}

// claimed returns the outcome of the match that already holds req, code
// included, or nil while req is unmatched.
func (e *Engine) claimed(ctx context.Context, req *models.ExchangeRequest) (*Outcome, error) {
	found, err := e.PendingMatch(ctx, req.ID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	match, err := e.store.GetMatch(ctx, found.MatchID)
	if err != nil {
		return nil, err
	}

	req.Matched = true
	return &Outcome{Status: StatusMatched, Request: req, Match: match, Code: found.OTP}, nil
}

// FindCounterpart returns the nearest unmatched request of the opposite mode
// within the configured radius, or nil. Equal distances go to the request
// stored first.
func (e *Engine) FindCounterpart(ctx context.Context, req *models.ExchangeRequest) (*models.ExchangeRequest, error) {
	want := req.Mode.Opposite()

	candidates, err := e.store.Nearby(ctx, want, req.Location, e.cfg.RadiusMeters)
	if err != nil {
		return nil, err
	}

	var (
		best     *models.ExchangeRequest
		bestDist float64
	)

	for _, c := range candidates {
		if c.ID == req.ID || c.Matched || c.Mode != want || e.stale(c) {
			continue
		}

		d := geo.Distance(req.Location.Lat, req.Location.Lng, c.Location.Lat, c.Location.Lng)
		if !geo.Within(d, e.cfg.RadiusMeters) {
			continue
		}

		if best == nil || d < bestDist || (d == bestDist && c.Before(best)) {
			best, bestDist = c, d
		}
	}

	return best, nil
}

func (e *Engine) stale(req *models.ExchangeRequest) bool {
	if e.cfg.RequestTTL <= 0 {
		return false
	}

	return req.CreatedAt.Before(e.now().Add(-e.cfg.RequestTTL))
}

// MarkMatched flips a single request to matched. Repeated calls are no-ops.
func (e *Engine) MarkMatched(ctx context.Context, requestID string) error {
	return e.store.MarkMatched(ctx, requestID)
}

func (e *Engine) GetRequest(ctx context.Context, requestID string) (*models.ExchangeRequest, error) {
	return e.store.GetRequest(ctx, requestID)
}
