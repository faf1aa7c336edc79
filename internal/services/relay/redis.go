package relay

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"cashlink/internal/models"
)

const MatchFoundChannel = "match_found_channel"

// MatchLookup resolves the pending match of a request, code included.
type MatchLookup interface {
	PendingMatch(ctx context.Context, requestID string) (*models.MatchFound, error)
}

// RedisNotifier publishes match notifications so that whichever instance holds
// the request's connection can deliver them. Codes never travel over the
// channel; the receiving instance looks them up.
type RedisNotifier struct {
	Redis   *redis.Client
	Logger  *zerolog.Logger
	Channel string
}

func NewRedisNotifier(client *redis.Client, logger *zerolog.Logger) *RedisNotifier {
	return &RedisNotifier{
		Redis:   client,
		Logger:  logger,
		Channel: MatchFoundChannel,
	}
}

func (n *RedisNotifier) MatchFound(ctx context.Context, event models.MatchFound) error {
	payload, err := encodeNotification(event)
	if err != nil {
		return err
	}

	return n.Redis.Publish(ctx, n.Channel, payload).Err()
}

// Listen hands every published notification to hub until ctx is done.
func (n *RedisNotifier) Listen(ctx context.Context, hub *Hub, lookup MatchLookup) error {
	listener := n.Redis.Subscribe(ctx, n.Channel)
	defer func(listener *redis.PubSub) {
		err := listener.Close()
		if err != nil {
			n.Logger.Err(err).Msg("failed to properly remove subscription for " + n.Channel)
			return
		}
	}(listener)

	if _, err := listener.Receive(ctx); err != nil {
		return err
	}

	messages := listener.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				n.Logger.Info().Msg("notification channel " + n.Channel + " closed unexpectedly")
				return nil
			}

			var event models.MatchFound
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				n.Logger.Err(err).Msg("unable to unmarshal match notification")
				continue
			}

			if lookup != nil {
				found, err := lookup.PendingMatch(ctx, event.RequestID)
				switch {
				case err != nil:
					n.Logger.Err(err).Msg("unable to look up match for " + event.RequestID)
				case found.MatchID == event.MatchID:
					event = *found
				}
			}

			if err := hub.MatchFound(ctx, event); err != nil {
				n.Logger.Err(err).Msg("unable to deliver match notification for " + event.RequestID)
			}
		}
	}
}

// encodeNotification strips the code before the event leaves the process.
func encodeNotification(event models.MatchFound) ([]byte, error) {
	event.OTP = ""
	return json.Marshal(event)
}
