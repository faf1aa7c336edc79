package store_test

import (
	"context"
	"os"
	"testing"

	"cashlink/internal/common"
	"cashlink/internal/services/exchange/store"
	"cashlink/internal/services/exchange/store/storetest"

	"github.com/stretchr/testify/require"
)

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()

	pool, err := common.NewPostgresPool(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	pg := store.NewPostgres(pool)
	require.NoError(t, pg.Migrate(ctx))
	// a second run is a no-op
	require.NoError(t, pg.Migrate(ctx))

	storetest.Run(t, func(t *testing.T) store.Store {
		_, err := pool.Exec(ctx, `TRUNCATE matches, exchange_requests`)
		require.NoError(t, err)

		return pg
	})
}
