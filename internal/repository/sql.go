package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
)

type roomRow struct {
	ID        string `db:"id"`
	Board     string `db:"board"`
	GameState int    `db:"game_state"`
	Turn      int    `db:"turn"`
	Full      bool   `db:"is_full"`
}

type playerRow struct {
	ID     string `db:"id"`
	Name   string `db:"name"`
	RoomID string `db:"room_id"`
	Online bool   `db:"online"`
	Turn   int    `db:"turn"`
	Score  int    `db:"score"`
}

// sqlRoom works for every dialect sqlx can rebind: the queries use '?' and ON CONFLICT upserts.
type sqlRoom struct {
	db *sqlx.DB
}

func NewSQLRoomRepository(db *sqlx.DB) RoomRepository {
	return &sqlRoom{db: db}
}

func (that *sqlRoom) CreateOrUpdate(ctx context.Context, room *entity.Room) error {
	const q = `INSERT INTO room (id, board, game_state, turn, is_full)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			board = excluded.board,
			game_state = excluded.game_state,
			turn = excluded.turn,
			is_full = excluded.is_full`

	_, err := that.db.ExecContext(ctx, that.db.Rebind(q),
		room.ID,
		room.Board.String(),
		int(room.GameState),
		room.Turn,
		room.Full,
	)
	if err != nil {
		return fmt.Errorf("%w: can't upsert room: %w", apperror.ErrStoreUnavailable, err)
	}

	return nil
}

func (that *sqlRoom) GetByID(ctx context.Context, id string) (*entity.Room, error) {
	const q = `SELECT id, board, game_state, turn, is_full FROM room WHERE id = ?`

	var row roomRow

	err := that.db.GetContext(ctx, &row, that.db.Rebind(q), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: can't find room: %w", apperror.ErrStoreUnavailable, err)
	}

	board, err := entity.ParseBoard(row.Board)
	if err != nil {
		return nil, fmt.Errorf("room %s: %w", id, err)
	}

	return &entity.Room{
		ID:        row.ID,
		Board:     board,
		GameState: entity.GameState(row.GameState),
		Turn:      row.Turn,
		Full:      row.Full,
	}, nil
}

func (that *sqlRoom) DeleteByID(ctx context.Context, id string) error {
	const q = `DELETE FROM room WHERE id = ?`

	if _, err := that.db.ExecContext(ctx, that.db.Rebind(q), id); err != nil {
		return fmt.Errorf("%w: can't delete room: %w", apperror.ErrStoreUnavailable, err)
	}

	return nil
}

type sqlPlayer struct {
	db *sqlx.DB
}

func NewSQLPlayerRepository(db *sqlx.DB) PlayerRepository {
	return &sqlPlayer{db: db}
}

func (that *sqlPlayer) CreateOrUpdate(ctx context.Context, player *entity.Player) error {
	const q = `INSERT INTO player (id, name, room_id, online, turn, score)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			room_id = excluded.room_id,
			online = excluded.online,
			turn = excluded.turn,
			score = excluded.score`

	_, err := that.db.ExecContext(ctx, that.db.Rebind(q),
		player.ID,
		player.Name,
		player.RoomID,
		player.Online,
		player.Turn,
		player.Score,
	)
	if err != nil {
		return fmt.Errorf("%w: can't upsert player: %w", apperror.ErrStoreUnavailable, err)
	}

	return nil
}

func (that *sqlPlayer) GetByID(ctx context.Context, id string) (*entity.Player, error) {
	const q = `SELECT id, name, room_id, online, turn, score FROM player WHERE id = ?`

	var row playerRow

	err := that.db.GetContext(ctx, &row, that.db.Rebind(q), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: can't find player: %w", apperror.ErrStoreUnavailable, err)
	}

	return row.toEntity(), nil
}

func (that *sqlPlayer) GetByRoomID(ctx context.Context, roomID string) ([]*entity.Player, error) {
	const q = `SELECT id, name, room_id, online, turn, score FROM player WHERE room_id = ? ORDER BY turn`

	var rows []playerRow

	if err := that.db.SelectContext(ctx, &rows, that.db.Rebind(q), roomID); err != nil {
		return nil, fmt.Errorf("%w: can't list room players: %w", apperror.ErrStoreUnavailable, err)
	}

	players := make([]*entity.Player, 0, len(rows))
	for i := range rows {
		players = append(players, rows[i].toEntity())
	}

	return players, nil
}

func (that *sqlPlayer) DeleteByID(ctx context.Context, id string) error {
	const q = `DELETE FROM player WHERE id = ?`

	if _, err := that.db.ExecContext(ctx, that.db.Rebind(q), id); err != nil {
		return fmt.Errorf("%w: can't delete player: %w", apperror.ErrStoreUnavailable, err)
	}

	return nil
}

func (that *playerRow) toEntity() *entity.Player {
	return &entity.Player{
		ID:     that.ID,
		Name:   that.Name,
		RoomID: that.RoomID,
		Online: that.Online,
		Turn:   that.Turn,
		Score:  that.Score,
	}
}
