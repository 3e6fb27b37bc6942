package usecase

import "github.com/rocketscienceinc/tictactoe-rooms/internal/entity"

// Outbound actions.
const (
	ActionConnected    = "connected"
	ActionRoomCreated  = "room-created"
	ActionRoomDeleted  = "room-deleted"
	ActionPlayerJoined = "player-joined"
	ActionPlayerLeft   = "player-left"
	ActionGameStart    = "game-start"
	ActionValidPlay    = "valid-play"
	ActionGameOver     = "gameover"
	ActionError        = "error"
)

type ConnectedPayload struct {
	ConnID string `json:"connId"`
}

type RoomCreatedPayload struct {
	RoomID string `json:"roomId"`
	ConnID string `json:"connId"`
}

type RoomDeletedPayload struct{}

type PlayerPayload struct {
	RoomID     string `json:"roomId"`
	PlayerName string `json:"playerName"`
	ConnID     string `json:"connId"`
}

type GameStartPayload struct {
	Room *entity.Room `json:"room"`
}

type ValidPlayPayload struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// GameOverPayload carries the winner's connection id or "tie".
type GameOverPayload struct {
	Winner string `json:"winner"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
