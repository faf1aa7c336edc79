package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"cashlink/internal/models"
	"cashlink/internal/services/relay"
)

var Upgrade = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type roomRequest struct {
	MatchID string `json:"matchId"`
}

// matchIDOf accepts either {"matchId": "..."} or a bare string.
func matchIDOf(data json.RawMessage) string {
	var room roomRequest
	if err := json.Unmarshal(data, &room); err == nil && room.MatchID != "" {
		return room.MatchID
	}

	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return id
	}

	return ""
}

func (h *ServerHandle) Connection(c echo.Context) error {
	requestID := h.requestID(c)

	// watch first so a match found during the handshake is not missed
	client := relay.NewClient(requestID, h.ClientBuffer)
	h.Hub.Watch(client)

	ws, err := Upgrade.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.Hub.Disconnect(client)
		h.Logger.Err(err).Msg("unable to upgrade to websocket")
		return nil
	}

	defer func(ws *websocket.Conn) {
		err := ws.Close()
		if err != nil && !errors.Is(err, net.ErrClosed) {
			h.Logger.Err(err).Msg("unable to close websocket properly: " + requestID)
			return
		}
	}(ws)

	h.Logger.Info().Msg("established websocket conn " + requestID)

	h.replayMatch(c, client)

	var wg sync.WaitGroup

	// hub -> websocket
	wg.Add(1)
	go func() {
		defer wg.Done()

		for msg := range client.Send() {
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.Logger.Err(err).Msg("unable to write to websocket")
				break
			}
		}

		// unblocks the reader once the hub let go of the client
		_ = ws.Close()
	}()

	// shutdown
	done := make(chan struct{})
	if h.Ctx != nil {
		go func() {
			select {
			case <-h.Ctx.Done():
				_ = ws.Close()
			case <-done:
			}
		}()
	}

	// websocket -> hub
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.Logger.Err(err).Msg("unable to read from websocket")
			}
			break
		}

		var msg models.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.replyError(client, "malformed message")
			continue
		}

		h.dispatch(c, client, msg)
	}

	close(done)
	h.Hub.Disconnect(client)
	wg.Wait()

	h.Logger.Info().Msg("closed websocket conn " + requestID)

	return nil
}

func (h *ServerHandle) dispatch(c echo.Context, client *relay.Client, msg models.Message) {
	switch msg.Event {
	case models.EventJoinRoom:
		matchID := matchIDOf(msg.Data)

		open, err := h.Engine.CanJoin(c.Request().Context(), matchID, client.RequestID)
		if err != nil || !open {
			h.replyError(client, "unable to join room")
			return
		}

		h.Hub.Join(matchID, client)

		data, _ := json.Marshal(roomRequest{MatchID: matchID})
		if err := h.Hub.Reply(client, models.EventJoined, data); err != nil {
			h.Logger.Err(err).Msg("unable to acknowledge join")
		}

	case models.EventSendMessage:
		if err := h.Hub.SendMessage(matchIDOf(msg.Data), client, msg.Data); err != nil {
			h.replyError(client, "unable to send message")
		}

	case models.EventLocationUpdate:
		var update models.LocationUpdate
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			h.replyError(client, "malformed location update")
			return
		}

		if err := h.Hub.SendLocationUpdate(update.MatchID, client, update.Lat, update.Lng); err != nil {
			h.replyError(client, "unable to send location update")
		}

	default:
		h.replyError(client, "unknown event")
	}
}

// replayMatch resends matchFound to a session that connects after its request
// was matched. A push racing with this lookup may arrive twice.
func (h *ServerHandle) replayMatch(c echo.Context, client *relay.Client) {
	found, err := h.Engine.PendingMatch(c.Request().Context(), client.RequestID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			h.Logger.Err(err).Msg("unable to look up match for " + client.RequestID)
		}
		return
	}

	data, err := json.Marshal(found)
	if err != nil {
		return
	}

	if err := h.Hub.Reply(client, models.EventMatchFound, data); err != nil {
		h.Logger.Err(err).Msg("unable to replay match notification")
	}
}

func (h *ServerHandle) replyError(client *relay.Client, message string) {
	data, err := json.Marshal(models.Notice{Message: message})
	if err != nil {
		return
	}

	if err := h.Hub.Reply(client, models.EventError, data); err != nil {
		h.Logger.Err(err).Msg("unable to reply to websocket client")
	}
}
