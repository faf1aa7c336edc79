package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"cashlink/internal/models"
)

// redis geo indexes only accept latitudes within the web mercator range
const maxGeoLat = 85.05112878

var reserveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 or redis.call('EXISTS', KEYS[2]) == 0 then
	return -1
end
if redis.call('HGET', KEYS[1], 'matched') ~= '0' or redis.call('HGET', KEYS[2], 'matched') ~= '0' then
	return 0
end
redis.call('HSET', KEYS[1], 'matched', '1', 'match_id', ARGV[3])
redis.call('HSET', KEYS[2], 'matched', '1', 'match_id', ARGV[3])
redis.call('ZREM', KEYS[4], ARGV[1], ARGV[2])
redis.call('ZREM', KEYS[5], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[3], 'request_a', ARGV[1], 'request_b', ARGV[2], 'code_hash', ARGV[4],
	'sealed_code', ARGV[6], 'verified_a', '0', 'verified_b', '0', 'created_at', ARGV[5])
return 1
`)

var markMatchedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'matched', '1')
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
return 1
`)

var markVerifiedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], '1')
return 1
`)

var expireScript = redis.NewScript(`
local matched = redis.call('HGET', KEYS[1], 'matched')
if matched == '1' then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
if matched == false then
	return 0
end
return 1
`)

// Redis keeps each request in a hash and every unmatched request id in a
// per-mode geo set, so a proximity search is a single GEOSEARCH.
type Redis struct {
	Client *redis.Client
	Prefix string
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{Client: client}
}

func (s *Redis) requestKey(id string) string {
	return fmt.Sprintf("%srequest_entry:%s", s.Prefix, id)
}

func (s *Redis) matchKey(id string) string {
	return fmt.Sprintf("%smatch_entry:%s", s.Prefix, id)
}

func (s *Redis) poolKey(mode models.Mode) string {
	return fmt.Sprintf("%sunmatched_pool:%s", s.Prefix, mode)
}

func (s *Redis) seqKey() string {
	return s.Prefix + "request_seq"
}

// Requests

func (s *Redis) CreateRequest(ctx context.Context, req *models.ExchangeRequest) error {
	seq, err := s.Client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return storageErr(err)
	}

	req.Seq = seq

	_, err = s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.requestKey(req.ID),
			"mode", string(req.Mode),
			"amount", req.Amount.String(),
			"phone", req.Phone,
			"lng", formatFloat(req.Location.Lng),
			"lat", formatFloat(req.Location.Lat),
			"matched", "0",
			"match_id", "",
			"created_at", req.CreatedAt.UnixNano(),
			"seq", seq)

		pipe.GeoAdd(ctx, s.poolKey(req.Mode), &redis.GeoLocation{
			Name:      req.ID,
			Longitude: req.Location.Lng,
			Latitude:  clampLat(req.Location.Lat),
		})

		return nil
	})
	if err != nil {
		return storageErr(err)
	}

	return nil
}

func (s *Redis) GetRequest(ctx context.Context, id string) (*models.ExchangeRequest, error) {
	fields, err := s.Client.HGetAll(ctx, s.requestKey(id)).Result()
	if err != nil {
		return nil, storageErr(err)
	}

	if len(fields) == 0 {
		return nil, models.ErrNotFound
	}

	return parseRequest(id, fields)
}

func (s *Redis) MarkMatched(ctx context.Context, id string) error {
	ok, err := markMatchedScript.Run(ctx, s.Client,
		[]string{s.requestKey(id), s.poolKey(models.CashToOnline), s.poolKey(models.OnlineToCash)},
		id).Int()
	if err != nil {
		return storageErr(err)
	}

	if ok == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (s *Redis) Nearby(ctx context.Context, mode models.Mode, center models.Location, radius float64) ([]*models.ExchangeRequest, error) {
	// widen the search to absorb geohash precision and redis' own earth radius
	locations, err := s.Client.GeoSearchLocation(ctx, s.poolKey(mode), &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lng,
			Latitude:   clampLat(center.Lat),
			Radius:     radius*1.01 + 10,
			RadiusUnit: "m",
			Sort:       "ASC",
		},
	}).Result()
	if err != nil {
		return nil, storageErr(err)
	}

	if len(locations) == 0 {
		return nil, nil
	}

	pipe := s.Client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(locations))
	for i, loc := range locations {
		cmds[i] = pipe.HGetAll(ctx, s.requestKey(loc.Name))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, storageErr(err)
	}

	out := make([]*models.ExchangeRequest, 0, len(locations))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}

		req, err := parseRequest(locations[i].Name, fields)
		if err != nil {
			return nil, err
		}

		if req.Matched || req.Mode != mode {
			continue
		}

		out = append(out, req)
	}

	return out, nil
}

func (s *Redis) ExpireStale(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0

	for _, mode := range []models.Mode{models.CashToOnline, models.OnlineToCash} {
		ids, err := s.Client.ZRange(ctx, s.poolKey(mode), 0, -1).Result()
		if err != nil {
			return removed, storageErr(err)
		}

		if len(ids) == 0 {
			continue
		}

		pipe := s.Client.Pipeline()
		cmds := make([]*redis.StringCmd, len(ids))
		for i, id := range ids {
			cmds[i] = pipe.HGet(ctx, s.requestKey(id), "created_at")
		}

		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return removed, storageErr(err)
		}

		for i, id := range ids {
			createdAt, err := cmds[i].Int64()
			if err != nil && !errors.Is(err, redis.Nil) {
				return removed, storageErr(err)
			}

			// orphaned pool members are dropped as well
			if err == nil && !time.Unix(0, createdAt).Before(cutoff) {
				continue
			}

			n, err := expireScript.Run(ctx, s.Client, []string{s.requestKey(id), s.poolKey(mode)}, id).Int()
			if err != nil {
				return removed, storageErr(err)
			}

			removed += n
		}
	}

	return removed, nil
}

// Matches

func (s *Redis) Reserve(ctx context.Context, match *models.Match) error {
	res, err := reserveScript.Run(ctx, s.Client,
		[]string{
			s.requestKey(match.RequestA),
			s.requestKey(match.RequestB),
			s.matchKey(match.ID),
			s.poolKey(models.CashToOnline),
			s.poolKey(models.OnlineToCash),
		},
		match.RequestA, match.RequestB, match.ID, match.CodeHash, match.CreatedAt.UnixNano(), match.SealedCode).Int()
	if err != nil {
		return storageErr(err)
	}

	switch res {
	case -1:
		return models.ErrNotFound
	case 0:
		return models.ErrConflict
	}

	return nil
}

func (s *Redis) GetMatch(ctx context.Context, id string) (*models.Match, error) {
	fields, err := s.Client.HGetAll(ctx, s.matchKey(id)).Result()
	if err != nil {
		return nil, storageErr(err)
	}

	if len(fields) == 0 {
		return nil, models.ErrNotFound
	}

	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, storageErr(err)
	}

	return &models.Match{
		ID:         id,
		RequestA:   fields["request_a"],
		RequestB:   fields["request_b"],
		CodeHash:   fields["code_hash"],
		SealedCode: fields["sealed_code"],
		VerifiedA:  fields["verified_a"] == "1",
		VerifiedB:  fields["verified_b"] == "1",
		CreatedAt:  time.Unix(0, createdAt).UTC(),
	}, nil
}

func (s *Redis) MatchForRequest(ctx context.Context, requestID string) (*models.Match, error) {
	matchID, err := s.Client.HGet(ctx, s.requestKey(requestID), "match_id").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrNotFound
		}
		return nil, storageErr(err)
	}

	if matchID == "" {
		return nil, models.ErrNotFound
	}

	return s.GetMatch(ctx, matchID)
}

func (s *Redis) MarkVerified(ctx context.Context, matchID string, side models.Side) (*models.Match, error) {
	var field string
	switch side {
	case models.SideA:
		field = "verified_a"
	case models.SideB:
		field = "verified_b"
	default:
		return nil, models.ErrNotFound
	}

	ok, err := markVerifiedScript.Run(ctx, s.Client, []string{s.matchKey(matchID)}, field).Int()
	if err != nil {
		return nil, storageErr(err)
	}

	if ok == 0 {
		return nil, models.ErrNotFound
	}

	return s.GetMatch(ctx, matchID)
}

func parseRequest(id string, fields map[string]string) (*models.ExchangeRequest, error) {
	amount, err := decimal.NewFromString(fields["amount"])
	if err != nil {
		return nil, storageErr(err)
	}

	lng, err := strconv.ParseFloat(fields["lng"], 64)
	if err != nil {
		return nil, storageErr(err)
	}

	lat, err := strconv.ParseFloat(fields["lat"], 64)
	if err != nil {
		return nil, storageErr(err)
	}

	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, storageErr(err)
	}

	seq, err := strconv.ParseInt(fields["seq"], 10, 64)
	if err != nil {
		return nil, storageErr(err)
	}

	return &models.ExchangeRequest{
		ID:        id,
		Mode:      models.Mode(fields["mode"]),
		Amount:    amount,
		Phone:     fields["phone"],
		Location:  models.Location{Lng: lng, Lat: lat},
		Matched:   fields["matched"] == "1",
		CreatedAt: time.Unix(0, createdAt).UTC(),
		Seq:       seq,
	}, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func clampLat(lat float64) float64 {
	if lat > maxGeoLat {
		return maxGeoLat
	}
	if lat < -maxGeoLat {
		return -maxGeoLat
	}

	return lat
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %w", models.ErrStorage, err)
}
