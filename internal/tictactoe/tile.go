package tictactoe

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
)

// tilePrefix matches the cell element ids of the browser client.
const tilePrefix = "tic"

// ParseTile - turns a cell id like "tic5" (or plain "5") into a 0-based board position.
func ParseTile(tile string) (int, error) {
	digits := strings.TrimPrefix(tile, tilePrefix)
	if digits == "" || strings.ContainsFunc(digits, func(r rune) bool { return r < '0' || r > '9' }) {
		return 0, fmt.Errorf("%w: tile %q", apperror.ErrInvalidMove, tile)
	}

	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("%w: tile %q", apperror.ErrInvalidMove, tile)
	}

	if n < 1 || n > entity.BoardSize {
		return 0, fmt.Errorf("%w: tile %q out of range", apperror.ErrInvalidMove, tile)
	}

	return n - 1, nil
}

// TileID - is the inverse of ParseTile.
func TileID(position int) string {
	return tilePrefix + strconv.Itoa(position+1)
}
