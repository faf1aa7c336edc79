package store_test

import (
	"context"
	"os"
	"testing"

	"cashlink/internal/common"
	"cashlink/internal/services/exchange/store"
	"cashlink/internal/services/exchange/store/storetest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	uri := os.Getenv("TEST_REDIS_URI")
	if uri == "" {
		t.Skip("TEST_REDIS_URI not set")
	}

	client, err := common.NewRedisStore(uri)
	require.NoError(t, err)
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })

	storetest.Run(t, func(t *testing.T) store.Store {
		s := store.NewRedis(client)
		s.Prefix = "test:" + uuid.NewString() + ":"

		t.Cleanup(func() {
			keys, err := client.Keys(context.Background(), s.Prefix+"*").Result()
			if err == nil && len(keys) > 0 {
				client.Del(context.Background(), keys...)
			}
		})

		return s
	})
}
