package entity

import (
	"encoding/json"
	"fmt"
)

type Symbol byte

const (
	Empty   Symbol = '0'
	PlayerX Symbol = 'X'
	PlayerO Symbol = 'O'
)

const BoardSize = 9

// Board is the 3x3 grid, row by row. It is persisted as a 9-char string over '0', 'X', 'O'.
type Board [BoardSize]Symbol

func NewBoard() Board {
	var board Board
	for i := range board {
		board[i] = Empty
	}

	return board
}

func ParseBoard(raw string) (Board, error) {
	var board Board

	if len(raw) != BoardSize {
		return board, fmt.Errorf("%w: length %d", ErrInvalidBoard, len(raw))
	}

	for i := 0; i < BoardSize; i++ {
		switch s := Symbol(raw[i]); s {
		case Empty, PlayerX, PlayerO:
			board[i] = s
		default:
			return board, fmt.Errorf("%w: symbol %q at %d", ErrInvalidBoard, raw[i], i)
		}
	}

	return board, nil
}

func (that Board) String() string {
	return string(that[:])
}

func (that Board) MarshalJSON() ([]byte, error) {
	return json.Marshal(that.String())
}

func (that *Board) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal board: %w", err)
	}

	board, err := ParseBoard(raw)
	if err != nil {
		return err
	}

	*that = board

	return nil
}

func (that Symbol) String() string {
	return string(that)
}
