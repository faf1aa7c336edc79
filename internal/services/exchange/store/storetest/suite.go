// Package storetest is a behavioural suite every store backend has to pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cashlink/internal/models"
	"cashlink/internal/services/exchange/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store.
type Factory func(t *testing.T) store.Store

func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("Nearby", func(t *testing.T) { testNearby(t, newStore(t)) })
	t.Run("Reserve", func(t *testing.T) { testReserve(t, newStore(t)) })
	t.Run("ReserveMissingRequest", func(t *testing.T) { testReserveMissing(t, newStore(t)) })
	t.Run("ConcurrentReserve", func(t *testing.T) { testConcurrentReserve(t, newStore(t)) })
	t.Run("MarkMatched", func(t *testing.T) { testMarkMatched(t, newStore(t)) })
	t.Run("MarkVerified", func(t *testing.T) { testMarkVerified(t, newStore(t)) })
	t.Run("ExpireStale", func(t *testing.T) { testExpireStale(t, newStore(t)) })
}

func NewRequest(mode models.Mode, lat, lng float64) *models.ExchangeRequest {
	return &models.ExchangeRequest{
		ID:        uuid.NewString(),
		Mode:      mode,
		Amount:    decimal.NewFromInt(500),
		Phone:     "+910000000000",
		Location:  models.Location{Lng: lng, Lat: lat},
		CreatedAt: time.Now().UTC(),
	}
}

func NewMatch(a, b *models.ExchangeRequest) *models.Match {
	return &models.Match{
		ID:         uuid.NewString(),
		RequestA:   a.ID,
		RequestB:   b.ID,
		CodeHash:   "hash",
		SealedCode: "sealed",
		CreatedAt:  time.Now().UTC(),
	}
}

func create(t *testing.T, s store.Store, reqs ...*models.ExchangeRequest) {
	t.Helper()

	for _, req := range reqs {
		require.NoError(t, s.CreateRequest(context.Background(), req))
	}
}

func ids(reqs []*models.ExchangeRequest) []string {
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.ID)
	}

	return out
}

func testCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewRequest(models.CashToOnline, 12.9, 77.0)
	a.Amount = decimal.RequireFromString("512.25")
	b := NewRequest(models.OnlineToCash, 12.9, 77.0)

	create(t, s, a, b)
	assert.Positive(t, a.Seq)
	assert.Greater(t, b.Seq, a.Seq)

	got, err := s.GetRequest(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, a.Mode, got.Mode)
	assert.True(t, a.Amount.Equal(got.Amount))
	assert.Equal(t, a.Phone, got.Phone)
	assert.InDelta(t, a.Location.Lat, got.Location.Lat, 1e-9)
	assert.InDelta(t, a.Location.Lng, got.Location.Lng, 1e-9)
	assert.False(t, got.Matched)
	assert.Equal(t, a.Seq, got.Seq)
	assert.WithinDuration(t, a.CreatedAt, got.CreatedAt, time.Millisecond)

	_, err = s.GetRequest(ctx, uuid.NewString())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func testNearby(t *testing.T, s store.Store) {
	ctx := context.Background()
	center := models.Location{Lng: 77.0, Lat: 12.9}

	near := NewRequest(models.CashToOnline, 12.901, 77.001)
	other := NewRequest(models.OnlineToCash, 12.901, 77.001)
	far := NewRequest(models.CashToOnline, 13.0, 77.1)
	matched := NewRequest(models.CashToOnline, 12.9005, 77.0005)

	create(t, s, near, other, far, matched)
	require.NoError(t, s.MarkMatched(ctx, matched.ID))

	got, err := s.Nearby(ctx, models.CashToOnline, center, 3000)
	require.NoError(t, err)

	assert.Equal(t, []string{near.ID}, ids(got))
}

func testReserve(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewRequest(models.CashToOnline, 12.9, 77.0)
	b := NewRequest(models.OnlineToCash, 12.901, 77.001)
	c := NewRequest(models.OnlineToCash, 12.902, 77.002)
	create(t, s, a, b, c)

	match := NewMatch(a, b)
	require.NoError(t, s.Reserve(ctx, match))

	for _, id := range []string{a.ID, b.ID} {
		req, err := s.GetRequest(ctx, id)
		require.NoError(t, err)
		assert.True(t, req.Matched)

		m, err := s.MatchForRequest(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, match.ID, m.ID)
	}

	got, err := s.GetMatch(ctx, match.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.RequestA)
	assert.Equal(t, b.ID, got.RequestB)
	assert.Equal(t, "hash", got.CodeHash)
	assert.Equal(t, "sealed", got.SealedCode)
	assert.False(t, got.VerifiedA)
	assert.False(t, got.VerifiedB)

	// a is taken, so nothing of the second match may be written
	second := NewMatch(a, c)
	assert.ErrorIs(t, s.Reserve(ctx, second), models.ErrConflict)

	req, err := s.GetRequest(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, req.Matched)

	_, err = s.GetMatch(ctx, second.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = s.MatchForRequest(ctx, c.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	near, err := s.Nearby(ctx, models.CashToOnline, a.Location, 3000)
	require.NoError(t, err)
	assert.Empty(t, near)
}

func testReserveMissing(t *testing.T, s store.Store) {
	a := NewRequest(models.CashToOnline, 12.9, 77.0)
	create(t, s, a)

	ghost := NewRequest(models.OnlineToCash, 12.9, 77.0)
	assert.ErrorIs(t, s.Reserve(context.Background(), NewMatch(a, ghost)), models.ErrNotFound)

	req, err := s.GetRequest(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, req.Matched)
}

func testConcurrentReserve(t *testing.T, s store.Store) {
	const n = 16

	a := NewRequest(models.CashToOnline, 12.9, 77.0)
	create(t, s, a)

	counterparts := make([]*models.ExchangeRequest, n)
	for i := range counterparts {
		counterparts[i] = NewRequest(models.OnlineToCash, 12.9, 77.0)
		create(t, s, counterparts[i])
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		won       int
		conflicts int
	)

	for _, b := range counterparts {
		wg.Add(1)
		go func(b *models.ExchangeRequest) {
			defer wg.Done()

			err := s.Reserve(context.Background(), NewMatch(b, a))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, models.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(b)
	}

	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, n-1, conflicts)
}

func testMarkMatched(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewRequest(models.CashToOnline, 12.9, 77.0)
	create(t, s, a)

	require.NoError(t, s.MarkMatched(ctx, a.ID))
	require.NoError(t, s.MarkMatched(ctx, a.ID))

	req, err := s.GetRequest(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, req.Matched)

	assert.ErrorIs(t, s.MarkMatched(ctx, uuid.NewString()), models.ErrNotFound)
}

func testMarkVerified(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewRequest(models.CashToOnline, 12.9, 77.0)
	b := NewRequest(models.OnlineToCash, 12.9, 77.0)
	create(t, s, a, b)

	match := NewMatch(a, b)
	require.NoError(t, s.Reserve(ctx, match))

	got, err := s.MarkVerified(ctx, match.ID, models.SideA)
	require.NoError(t, err)
	assert.True(t, got.VerifiedA)
	assert.False(t, got.VerifiedB)

	got, err = s.MarkVerified(ctx, match.ID, models.SideA)
	require.NoError(t, err)
	assert.True(t, got.VerifiedA)

	got, err = s.MarkVerified(ctx, match.ID, models.SideB)
	require.NoError(t, err)
	assert.True(t, got.BothVerified())

	_, err = s.MarkVerified(ctx, uuid.NewString(), models.SideA)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func testExpireStale(t *testing.T, s store.Store) {
	ctx := context.Background()
	old := time.Now().UTC().Add(-2 * time.Hour)

	stale := NewRequest(models.CashToOnline, 12.9, 77.0)
	stale.CreatedAt = old
	fresh := NewRequest(models.CashToOnline, 12.9, 77.0)
	oldA := NewRequest(models.CashToOnline, 12.9, 77.0)
	oldA.CreatedAt = old
	oldB := NewRequest(models.OnlineToCash, 12.9, 77.0)
	oldB.CreatedAt = old

	create(t, s, stale, fresh, oldA, oldB)
	require.NoError(t, s.Reserve(ctx, NewMatch(oldA, oldB)))

	removed, err := s.ExpireStale(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.GetRequest(ctx, stale.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	for _, id := range []string{fresh.ID, oldA.ID, oldB.ID} {
		_, err := s.GetRequest(ctx, id)
		assert.NoError(t, err)
	}

	near, err := s.Nearby(ctx, models.CashToOnline, stale.Location, 3000)
	require.NoError(t, err)
	assert.Equal(t, []string{fresh.ID}, ids(near))
}
