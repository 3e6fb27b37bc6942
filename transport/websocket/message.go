package websocket

import "encoding/json"

// Inbound actions.
const (
	actionCreateRoom  = "create-room"
	actionDeleteRoom  = "delete-room"
	actionJoinRoom    = "join-room"
	actionLeaveRoom   = "leave-room"
	actionPlay        = "play"
	actionRestartGame = "restart-game"
	actionReconnect   = "reconnect"
)

// Message is the envelope used in both directions.
type Message struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outbound struct {
	Action  string `json:"action"`
	Payload any    `json:"payload"`
}

type roomRequest struct {
	RoomID string `json:"roomId" validate:"required,alphanum,max=32"`
}

type joinRequest struct {
	RoomID     string `json:"roomId" validate:"required,alphanum,max=32"`
	PlayerName string `json:"playerName" validate:"max=32"`
}

type playRequest struct {
	RoomID string `json:"roomId" validate:"required,alphanum,max=32"`
	Tile   string `json:"tile" validate:"required,max=8"`
}

type reconnectRequest struct {
	ConnID string `json:"connId" validate:"required,uuid"`
}
