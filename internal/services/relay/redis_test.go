package relay

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cashlink/internal/common"
	"cashlink/internal/models"
)

type staticLookup map[string]models.MatchFound

func (l staticLookup) PendingMatch(_ context.Context, requestID string) (*models.MatchFound, error) {
	found, ok := l[requestID]
	if !ok {
		return nil, models.ErrNotFound
	}

	return &found, nil
}

func testRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	uri := os.Getenv("TEST_REDIS_URI")
	if uri == "" {
		t.Skip("TEST_REDIS_URI not set")
	}

	client, err := common.NewRedisStore(uri)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestRedisNotifierOmitsCode(t *testing.T) {
	client := testRedisClient(t)

	logger := zerolog.Nop()
	notifier := NewRedisNotifier(client, &logger)
	notifier.Channel = "match_found_test_" + uuid.NewString()

	ctx := context.Background()
	sub := client.Subscribe(ctx, notifier.Channel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, notifier.MatchFound(ctx, models.MatchFound{MatchID: "m1", RequestID: "r1", OTP: "654321"}))

	msg, err := sub.ReceiveTimeout(ctx, 5*time.Second)
	require.NoError(t, err)

	payload := msg.(*redis.Message).Payload
	assert.NotContains(t, payload, "654321")
	assert.JSONEq(t, `{"matchId":"m1","requestId":"r1"}`, payload)
}

func TestRedisNotifierRoundTrip(t *testing.T) {
	client := testRedisClient(t)

	logger := zerolog.Nop()
	notifier := NewRedisNotifier(client, &logger)
	notifier.Channel = "match_found_test_" + uuid.NewString()

	hub := NewHub(&logger)
	watcher := NewClient("r1", 4)
	hub.Watch(watcher)

	event := models.MatchFound{MatchID: "m1", RequestID: "r1", OTP: "654321"}
	lookup := staticLookup{"r1": event}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- notifier.Listen(ctx, hub, lookup) }()

	// the subscription may not be live yet; publish until delivered
	var raw []byte
	require.Eventually(t, func() bool {
		if err := notifier.MatchFound(context.Background(), event); err != nil {
			return false
		}

		select {
		case raw = <-watcher.Send():
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	var msg models.Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, models.EventMatchFound, msg.Event)

	var got models.MatchFound
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, event, got)

	cancel()
	assert.NoError(t, <-done)
}
