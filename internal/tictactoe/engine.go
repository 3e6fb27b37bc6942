package tictactoe

import (
	"fmt"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
)

// TieMarker is reported as the winner of a drawn game.
const TieMarker = "tie"

var WinCombos = [8][3]int{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{2, 4, 6},
}

// ValidateMove - reports whether position is on the board and still empty.
func ValidateMove(board entity.Board, position int) bool {
	if position < 0 || position >= entity.BoardSize {
		return false
	}

	return board[position] == entity.Empty
}

// ApplyMove - returns a copy of board with symbol placed at position.
func ApplyMove(board entity.Board, position int, symbol entity.Symbol) (entity.Board, error) {
	if !ValidateMove(board, position) {
		return board, fmt.Errorf("%w: cell %d", apperror.ErrInvalidMove, position)
	}

	if symbol != entity.PlayerX && symbol != entity.PlayerO {
		return board, fmt.Errorf("%w: symbol %q", apperror.ErrInvalidMove, symbol)
	}

	next := board
	next[position] = symbol

	return next, nil
}

// Evaluate - checks every line, then falls back to tie when no empty cell is left.
func Evaluate(board entity.Board) entity.GameState {
	if Winner(board) != entity.Empty {
		return entity.StateWin
	}

	for _, cell := range board {
		if cell == entity.Empty {
			return entity.StateInProgress
		}
	}

	return entity.StateTie
}

// Winner - returns the symbol owning a completed line, or entity.Empty.
func Winner(board entity.Board) entity.Symbol {
	winner := entity.Empty

	for _, combo := range WinCombos {
		a, b, c := board[combo[0]], board[combo[1]], board[combo[2]]
		if a != entity.Empty && a == b && b == c && winner == entity.Empty {
			winner = a
		}
	}

	return winner
}

func SymbolForTurn(turn int) entity.Symbol {
	if turn == entity.TurnX {
		return entity.PlayerX
	}

	return entity.PlayerO
}

func NextTurn(turn int) int {
	return (turn + 1) % 2
}
