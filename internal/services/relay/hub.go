// Package relay fans chat messages and location updates out to the members of
// a match channel, and match notifications out to the connections of the
// request they concern.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"cashlink/internal/geo"
	"cashlink/internal/models"
)

var ErrNotMember = errors.New("not a member of this channel")

var (
	channelGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_channels_gauge",
		Help: "number of match channels with at least one member",
	})

	droppedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_dropped_clients_total",
		Help: "number of clients dropped for falling behind",
	})
)

type clientSet map[*Client]struct{}

type Hub struct {
	mu       sync.Mutex
	channels map[string]clientSet
	watchers map[string]clientSet
	logger   *zerolog.Logger
}

func NewHub(logger *zerolog.Logger) *Hub {
	return &Hub{
		channels: make(map[string]clientSet),
		watchers: make(map[string]clientSet),
		logger:   logger,
	}
}

// Watch registers c to receive match notifications for its request.
func (h *Hub) Watch(c *Client) {
	if c.RequestID == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	add(h.watchers, c.RequestID, c)
}

// Join admits c to the channel of matchID. Whether c may join is decided
// before calling.
func (h *Hub) Join(matchID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if add(h.channels, matchID, c) {
		channelGauge.Inc()
	}

	h.logger.Info().Str("match", matchID).Str("request", c.RequestID).Msg("joined channel")
}

func (h *Hub) Leave(matchID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leave(matchID, c)
}

func (h *Hub) leave(matchID string, c *Client) {
	if _, ok := h.channels[matchID][c]; !ok {
		return
	}

	if remove(h.channels, matchID, c) {
		channelGauge.Dec()
	}

	h.logger.Info().Str("match", matchID).Str("request", c.RequestID).Msg("left channel")
}

// Disconnect removes c from every channel and watch list and closes it.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.disconnect(c)
}

func (h *Hub) disconnect(c *Client) {
	for matchID, members := range h.channels {
		if _, ok := members[c]; ok {
			h.leave(matchID, c)
		}
	}

	if c.RequestID != "" {
		remove(h.watchers, c.RequestID, c)
	}

	c.close()
}

func (h *Hub) Members(matchID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.channels[matchID])
}

// SendMessage delivers payload to every member of the channel except sender.
func (h *Hub) SendMessage(matchID string, sender *Client, payload json.RawMessage) error {
	return h.broadcast(matchID, sender, models.EventReceiveMessage, payload)
}

// SendLocationUpdate delivers the sender's new position to the rest of the
// channel.
func (h *Hub) SendLocationUpdate(matchID string, sender *Client, lat, lng float64) error {
	if !geo.ValidCoordinates(lng, lat) {
		return &models.ValidationError{Fields: []models.FieldError{{Field: "location", Msg: "out of range"}}}
	}

	data, err := json.Marshal(models.LocationUpdate{MatchID: matchID, Lat: lat, Lng: lng})
	if err != nil {
		return err
	}

	return h.broadcast(matchID, sender, models.EventUserMoved, data)
}

// MatchFound implements the engine notifier for connections in this process.
func (h *Hub) MatchFound(_ context.Context, event models.MatchFound) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg, err := Encode(models.EventMatchFound, data)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.deliver(h.watchers[event.RequestID], nil, msg)

	return nil
}

// Reply delivers an event to c alone.
func (h *Hub) Reply(c *Client, event string, data json.RawMessage) error {
	msg, err := Encode(event, data)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.deliver(clientSet{c: {}}, nil, msg)

	return nil
}

func (h *Hub) broadcast(matchID string, sender *Client, event string, data json.RawMessage) error {
	msg, err := Encode(event, data)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.channels[matchID]
	if _, ok := members[sender]; !ok {
		return ErrNotMember
	}

	h.deliver(members, sender, msg)

	return nil
}

// deliver never blocks. A client whose buffer is full is dropped.
func (h *Hub) deliver(targets clientSet, skip *Client, msg []byte) {
	var lagging []*Client

	for c := range targets {
		if c == skip || c.closed {
			continue
		}

		select {
		case c.send <- msg:
		default:
			lagging = append(lagging, c)
		}
	}

	for _, c := range lagging {
		droppedClients.Inc()
		h.logger.Warn().Str("request", c.RequestID).Msg("dropping backlogged client")
		h.disconnect(c)
	}
}

func Encode(event string, data json.RawMessage) ([]byte, error) {
	return json.Marshal(models.Message{Event: event, Data: data})
}

// add reports whether key gained its first member.
func add(m map[string]clientSet, key string, c *Client) bool {
	set, ok := m[key]
	if !ok {
		set = make(clientSet)
		m[key] = set
	}

	set[c] = struct{}{}

	return !ok
}

// remove reports whether key lost its last member.
func remove(m map[string]clientSet, key string, c *Client) bool {
	set, ok := m[key]
	if !ok {
		return false
	}

	delete(set, c)
	if len(set) == 0 {
		delete(m, key)
		return true
	}

	return false
}
