package entity

import "errors"

type GameState int

const (
	StateTie        GameState = -1
	StateWin        GameState = 0
	StateInProgress GameState = 1
)

const (
	TurnX = 0
	TurnO = 1
)

var ErrInvalidBoard = errors.New("invalid board")

// Room is a single match. Turn 0 means X moves next, 1 means O.
type Room struct {
	ID        string    `json:"id"`
	Board     Board     `json:"board"`
	GameState GameState `json:"gameState"`
	Turn      int       `json:"turn"`
	Full      bool      `json:"full"`
}

func NewRoom(id string) *Room {
	return &Room{
		ID:        id,
		Board:     NewBoard(),
		GameState: StateInProgress,
		Turn:      TurnX,
		Full:      false,
	}
}

func (that *Room) IsInProgress() bool {
	return that.GameState == StateInProgress
}

func (that *Room) IsFinished() bool {
	return that.GameState == StateWin || that.GameState == StateTie
}

// Reset starts a new match on the same room, keeping membership.
func (that *Room) Reset() {
	that.Board = NewBoard()
	that.GameState = StateInProgress
	that.Turn = TurnX
}

func (that GameState) String() string {
	switch that {
	case StateWin:
		return "win"
	case StateTie:
		return "tie"
	case StateInProgress:
		return "in_progress"
	default:
		return "unknown"
	}
}
