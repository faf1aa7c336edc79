package models

import "encoding/json"

// relay events
const (
	EventJoinRoom       = "joinRoom"
	EventSendMessage    = "sendMessage"
	EventReceiveMessage = "receiveMessage"
	EventLocationUpdate = "locationUpdate"
	EventUserMoved      = "userMoved"
	EventMatchFound     = "matchFound"
	EventJoined         = "joined"
	EventError          = "error"
)

type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type LocationUpdate struct {
	MatchID string  `json:"matchId"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

type Notice struct {
	Message string `json:"message"`
}
