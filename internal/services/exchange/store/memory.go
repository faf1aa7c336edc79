package store

import (
	"context"
	"sync"
	"time"

	"cashlink/internal/geo"
	"cashlink/internal/models"
)

// Memory is a single-process Store. One mutex serializes every mutation, which
// makes Reserve trivially atomic.
type Memory struct {
	mu        sync.Mutex
	seq       int64
	requests  map[string]*models.ExchangeRequest
	matches   map[string]*models.Match
	byRequest map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		requests:  make(map[string]*models.ExchangeRequest),
		matches:   make(map[string]*models.Match),
		byRequest: make(map[string]string),
	}
}

func (s *Memory) CreateRequest(_ context.Context, req *models.ExchangeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[req.ID]; ok {
		return models.ErrConflict
	}

	s.seq++
	req.Seq = s.seq

	stored := *req
	s.requests[req.ID] = &stored

	return nil
}

func (s *Memory) GetRequest(_ context.Context, id string) (*models.ExchangeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, models.ErrNotFound
	}

	out := *req
	return &out, nil
}

func (s *Memory) MarkMatched(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return models.ErrNotFound
	}

	req.Matched = true
	return nil
}

func (s *Memory) Nearby(_ context.Context, mode models.Mode, center models.Location, radius float64) ([]*models.ExchangeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.ExchangeRequest
	for _, req := range s.requests {
		if req.Matched || req.Mode != mode {
			continue
		}

		if !geo.Within(geo.Distance(center.Lat, center.Lng, req.Location.Lat, req.Location.Lng), radius) {
			continue
		}

		cp := *req
		out = append(out, &cp)
	}

	return out, nil
}

func (s *Memory) ExpireStale(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, req := range s.requests {
		if !req.Matched && req.CreatedAt.Before(cutoff) {
			delete(s.requests, id)
			removed++
		}
	}

	return removed, nil
}

func (s *Memory) Reserve(_ context.Context, match *models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, okA := s.requests[match.RequestA]
	b, okB := s.requests[match.RequestB]
	if !okA || !okB {
		return models.ErrNotFound
	}

	if a.Matched || b.Matched {
		return models.ErrConflict
	}

	a.Matched = true
	b.Matched = true

	stored := *match
	s.matches[match.ID] = &stored
	s.byRequest[a.ID] = match.ID
	s.byRequest[b.ID] = match.ID

	return nil
}

func (s *Memory) GetMatch(_ context.Context, id string) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getMatch(id)
}

func (s *Memory) getMatch(id string) (*models.Match, error) {
	m, ok := s.matches[id]
	if !ok {
		return nil, models.ErrNotFound
	}

	out := *m
	return &out, nil
}

func (s *Memory) MatchForRequest(_ context.Context, requestID string) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matchID, ok := s.byRequest[requestID]
	if !ok {
		return nil, models.ErrNotFound
	}

	return s.getMatch(matchID)
}

func (s *Memory) MarkVerified(_ context.Context, matchID string, side models.Side) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[matchID]
	if !ok {
		return nil, models.ErrNotFound
	}

	switch side {
	case models.SideA:
		m.VerifiedA = true
	case models.SideB:
		m.VerifiedB = true
	default:
		return nil, models.ErrNotFound
	}

	out := *m
	return &out, nil
}
