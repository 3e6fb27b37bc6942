package apperror

import "errors"

var (
	ErrRoomNotFound     = errors.New("this room does not exist")
	ErrRoomFull         = errors.New("this room is already full")
	ErrPlayerNotFound   = errors.New("this player does not exist")
	ErrInvalidMove      = errors.New("invalid move")
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrNotYourTurn       = errors.New("it's not your turn")
	ErrGameIsNotStarted  = errors.New("game is not started")
	ErrGameFinished      = errors.New("game is already finished")
	ErrGameIsNotFinished = errors.New("game is not finished")
)

var ErrAlreadyInRoom = errors.New("you are already in this room")
